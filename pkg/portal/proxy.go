package portal

import (
	"context"
	"sync"
	"time"

	"github.com/darlean-io/darlean-go/pkg/actor"
	"github.com/darlean-io/darlean-go/pkg/actorerror"
	"github.com/darlean-io/darlean-go/pkg/backoff"
	"github.com/darlean-io/darlean-go/pkg/metrics"
	"github.com/darlean-io/darlean-go/pkg/registry"
	"github.com/darlean-io/darlean-go/pkg/transport"
)

// Proxy is a stateless handle to one (actorType, id); every Call
// synthesizes a fresh ActorCallRequest, per spec §4.6.
type Proxy struct {
	portal    *Portal
	actorType string
	id        actor.ID

	mu       sync.Mutex
	abortCh  chan struct{}
	aborted  bool
}

// Abort cancels the single next in-flight Call on this proxy, per spec
// §4.6's one-shot IAbortable handle.
func (p *Proxy) Abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.abortCh != nil && !p.aborted {
		p.aborted = true
		close(p.abortCh)
	}
}

func (p *Proxy) armAbort() (chan struct{}, func()) {
	p.mu.Lock()
	ch := make(chan struct{})
	p.abortCh = ch
	p.aborted = false
	p.mu.Unlock()
	return ch, func() {
		p.mu.Lock()
		if p.abortCh == ch {
			p.abortCh = nil
		}
		p.mu.Unlock()
	}
}

// Attempt records one invocation attempt for the INVOKE_ERROR surfaced on
// deadline exhaustion, per spec §8 scenario 6.
type Attempt struct {
	Destination string
	Error       *actorerror.ActionError
	RequestTime time.Time
}

// Call invokes action on this proxy's actor, implementing the full
// protocol of spec §4.6 steps 1-6.
func (p *Proxy) Call(ctx context.Context, action string, args []any) (result any, actionErr *actorerror.ActionError) {
	start := time.Now()
	normalizedAction := normalizeAction(action)
	defer func() {
		metrics.InvokeDurations.WithLabelValues(p.actorType, normalizedAction).Observe(time.Since(start).Seconds())
		if actionErr != nil {
			metrics.InvokeErrors.WithLabelValues(p.actorType, normalizedAction, string(actionErr.Code)).Inc()
		}
	}()

	abortCh, disarm := p.armAbort()
	defer disarm()

	idKey := p.id.Key()
	info, ok := p.portal.resolver.Snapshot(p.actorType)
	if !ok || len(info.Applications) == 0 {
		return nil, actorerror.NoReceiversAvailable(p.actorType)
	}

	lastUsed := p.portal.resolver.LastUsed(p.actorType, idKey)
	if cached, ok := p.portal.cachedDestination(p.actorType, idKey); ok {
		lastUsed = cached
	}
	destination, rerr := registry.Resolve(info, p.id.Parts, lastUsed)
	if rerr != nil {
		return nil, rerr
	}

	deadline := time.Now().Add(p.portal.opts.Deadline)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	session := backoff.NewSession(backoff.Options{
		InitialInterval: p.portal.opts.Backoff.InitialInterval,
		Multiplier:      p.portal.opts.Backoff.Multiplier,
		MaxInterval:     p.portal.opts.Backoff.MaxInterval,
		Deadline:        deadline,
	})

	req := transport.InvokeRequest{
		ActorType:  p.actorType,
		ActorID:    p.id.Parts,
		ActionName: normalizedAction,
		Arguments:  args,
	}

	var attempts []Attempt
	redirects := 0

	for {
		if time.Now().After(deadline) {
			return nil, actorerror.InvokeError(toErrorAttempts(attempts))
		}

		metrics.InvokeAttempts.WithLabelValues(p.actorType, normalizedAction).Inc()
		attemptCtx, cancel := context.WithTimeout(ctx, p.portal.opts.AttemptTimeout)
		type invokeResult struct {
			resp transport.InvokeResponse
			err  error
		}
		resultCh := make(chan invokeResult, 1)
		go func() {
			resp, err := p.portal.transport.Invoke(attemptCtx, destination, req)
			resultCh <- invokeResult{resp, err}
		}()

		var resp transport.InvokeResponse
		var transportErr error
		select {
		case r := <-resultCh:
			resp, transportErr = r.resp, r.err
		case <-abortCh:
			cancel()
			return nil, actorerror.New(actorerror.CodeFrameworkError, "Call aborted", nil)
		}
		cancel()

		requestTime := time.Now()

		if transportErr != nil {
			attempts = append(attempts, Attempt{Destination: destination, Error: actorerror.New(actorerror.CodeFrameworkError, transportErr.Error(), nil), RequestTime: requestTime})
			if !session.Wait(ctx) {
				return nil, actorerror.InvokeError(toErrorAttempts(attempts))
			}
			continue
		}

		if resp.Error == nil {
			p.portal.cacheDestination(p.actorType, idKey, destination)
			p.portal.resolver.RecordUsed(p.actorType, idKey, destination)
			return resp.Result, nil
		}

		attempts = append(attempts, Attempt{Destination: destination, Error: resp.Error, RequestTime: requestTime})

		switch resp.Error.Kind {
		case actorerror.KindApplication:
			return nil, resp.Error
		}

		switch resp.Error.Code {
		case actorerror.CodeRedirectDestination:
			redirects++
			if redirects > redirectCap {
				return nil, actorerror.InvokeError(toErrorAttempts(attempts))
			}
			dest, ok := resp.Error.Parameters["destination"].(string)
			if !ok || dest == "" {
				return nil, actorerror.InvokeError(toErrorAttempts(attempts))
			}
			destination = dest
			continue

		case actorerror.CodeFinalizing, actorerror.CodeActorLockFailed, actorerror.CodeUnknownActorType:
			p.portal.invalidateDestination(p.actorType, idKey)
			if !session.Wait(ctx) {
				return nil, actorerror.InvokeError(toErrorAttempts(attempts))
			}
			// re-resolve in case placement changed under us
			if newInfo, ok := p.portal.resolver.Snapshot(p.actorType); ok {
				if newDest, rerr := registry.Resolve(newInfo, p.id.Parts, ""); rerr == nil {
					destination = newDest
				}
			}
			continue

		default:
			return nil, resp.Error
		}
	}
}

func toErrorAttempts(attempts []Attempt) []actorerror.Attempt {
	out := make([]actorerror.Attempt, len(attempts))
	for i, a := range attempts {
		out[i] = actorerror.Attempt{Destination: a.Destination, Error: a.Error, RequestTime: a.RequestTime.UnixNano()}
	}
	return out
}
