// Package wrapper implements the per-instance envelope described in spec
// §4.1: the activation protocol, FIFO-fair shared/exclusive action
// locking with reentrant bypass, deactivation draining, and the proxy
// handle containers and callers use to talk to an instance.
//
// There is no equivalent type in the teacher — nola's activations.go
// inlines a much simpler "is it activated, call Invoke" check under a
// single RWMutex (see activations.invoke) because nola's actors don't have
// per-action locking modes or reentrancy. Wrapper generalizes that same
// "check under read lock, upgrade to write lock, recheck" pattern
// (activations.go lines 58-84) into a full per-action lock with FIFO
// fairness, which spec §4.1 requires and nola's simpler model does not
// need.
package wrapper

import (
	"context"
	"sync"
	"time"

	"github.com/darlean-io/darlean-go/pkg/actor"
	"github.com/darlean-io/darlean-go/pkg/actorerror"
	"github.com/darlean-io/darlean-go/pkg/dlog"
	"github.com/darlean-io/darlean-go/pkg/metrics"
	"github.com/darlean-io/darlean-go/pkg/timers"
	"go.uber.org/zap"
)

// State is the activation-state machine of spec §3: New -> Activating ->
// Active -> Deactivating -> Dead. Once Dead, never reused.
type State int

const (
	StateNew State = iota
	StateActivating
	StateActive
	StateDeactivating
	StateDead
)

// Instance is the interface application actor objects must implement to be
// wrapped. Activatable/Deactivatable are optional capabilities the wrapper
// detects via type assertion (spec §9: "duck-typed optional capabilities...
// represent as an interface with optional hooks... the wrapper checks
// presence of the function pointer, not object shape").
type Instance interface {
	Invoke(ctx context.Context, action string, args []any) (any, error)
}

// Activatable is implemented by instances that need to run setup logic
// before their first non-activator call is served.
type Activatable interface {
	Activate(ctx context.Context) error
}

// Deactivatable is implemented by instances that need to run teardown logic
// as the last step of deactivation.
type Deactivatable interface {
	Deactivate(ctx context.Context) error
}

// TimersAware is implemented by instances that want to schedule volatile
// per-instance timers (spec §4.10). The wrapper hands over this
// instance's own timers.Registry right after construction, and cancels
// every timer it scheduled when the wrapper deactivates.
type TimersAware interface {
	SetTimers(r *timers.Registry)
}

// Registration is the explicit, reflection-free action table built at
// application startup (spec §9), replacing decorator-annotated classes.
type Registration struct {
	ActorType   string
	Kind        actor.Kind
	Actions     map[string]actor.ActionDescriptor
	Constructor func(id actor.ID) (Instance, error)
	// LockTimeout bounds how long invoke waits to acquire the per-wrapper
	// lock before failing with ACTOR_LOCK_FAILED.
	LockTimeout time.Duration
}

func (r *Registration) lockTimeout() time.Duration {
	if r.LockTimeout <= 0 {
		return 30 * time.Second
	}
	return r.LockTimeout
}

// ctxChainKey is the context key under which the caller chain (the set of
// wrappers already entered by this inbound call) is tracked, implementing
// the reentrancy detection of spec §4.1/§5.
type ctxChainKey struct{}

func chainOf(ctx context.Context) []*Wrapper {
	chain, _ := ctx.Value(ctxChainKey{}).([]*Wrapper)
	return chain
}

func withChainEntry(ctx context.Context, w *Wrapper) context.Context {
	chain := chainOf(ctx)
	next := make([]*Wrapper, len(chain)+1)
	copy(next, chain)
	next[len(chain)] = w
	return context.WithValue(ctx, ctxChainKey{}, next)
}

func inChain(ctx context.Context, w *Wrapper) bool {
	for _, c := range chainOf(ctx) {
		if c == w {
			return true
		}
	}
	return false
}

// Wrapper wraps one actor instance with activation state and a per-action
// lock. It is owned by exactly one container entry (spec §9 "parent-owns-
// child ownership"); the wrapper never holds a strong pointer back to its
// container, only the id+type needed to ask for finalization.
type Wrapper struct {
	id  actor.ID
	reg *Registration
	log *dlog.Logger

	mu       sync.Mutex
	state    State
	instance Instance
	timers   *timers.Registry

	lock listeners

	deactivatedOnce sync.Once
	deactivatedCh   chan struct{}
}

type listeners struct {
	mu        sync.Mutex
	exclusive bool
	shared    int
	queue     []*waiter
	onDeact   []func()
}

type waiter struct {
	mode actor.LockMode
	ch   chan struct{}
}

// New constructs a Wrapper for id in state New; the underlying instance is
// not created until the first invoke (lazy activation, mirroring nola's
// lazy module/actor instantiation in activations.go).
func New(id actor.ID, reg *Registration, log *dlog.Logger) *Wrapper {
	if log == nil {
		log = dlog.Nop()
	}
	return &Wrapper{
		id:            id,
		reg:           reg,
		log:           log.WithActor(id.Type, id.Key()),
		state:         StateNew,
		deactivatedCh: make(chan struct{}),
	}
}

// State returns the wrapper's current activation state.
func (w *Wrapper) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Invoke dispatches action with args under the locking rules of spec §4.1.
// ctx carries the caller chain used for reentrancy detection; callers
// starting a fresh inbound call should pass a ctx that has not previously
// passed through withChainEntry for this wrapper (i.e. a context from a
// different invocation).
func (w *Wrapper) Invoke(ctx context.Context, action string, args []any) (result any, actionErr *actorerror.ActionError) {
	desc, ok := w.reg.Actions[action]
	if !ok {
		return nil, actorerror.New(actorerror.CodeUnknownAction, "Unknown action [action] on actor type [type]",
			map[string]any{"action": action, "type": w.reg.ActorType})
	}

	mode := desc.Locking
	if desc.Kind == actor.KindActivator || desc.Kind == actor.KindDeactivator {
		mode = actor.LockExclusive
	} else {
		w.mu.Lock()
		stillNew := w.state == StateNew
		w.mu.Unlock()
		if stillNew {
			// Activation runs inside this call (below), so the first call to
			// reach a fresh wrapper must hold the lock exclusively no matter
			// what the action itself declares — otherwise a second
			// shared-locked caller races in alongside it, observes
			// StateNew too, and finds activate() a no-op with no instance
			// yet constructed.
			mode = actor.LockExclusive
		}
	}

	reentrant := inChain(ctx, w)
	var release func()
	if !reentrant {
		lockCtx, cancel := context.WithTimeout(ctx, w.reg.lockTimeout())
		defer cancel()
		var err error
		release, err = w.lock.acquire(lockCtx, mode)
		if err != nil {
			return nil, actorerror.New(actorerror.CodeActorLockFailed, "Could not acquire wrapper lock for action [action] within deadline",
				map[string]any{"action": action})
		}
		defer release()
	}

	w.mu.Lock()
	state := w.state
	w.mu.Unlock()
	if state == StateDead || state == StateDeactivating {
		return nil, actorerror.New(actorerror.CodeDeactivated, "Actor [type]/[id] has been deactivated",
			map[string]any{"type": w.reg.ActorType, "id": w.id.String()})
	}

	if state == StateNew && desc.Kind != actor.KindActivator {
		if err := w.activate(ctx); err != nil {
			return nil, err
		}
	}

	innerCtx := withChainEntry(ctx, w)
	return w.callInstance(innerCtx, action, args)
}

// activate runs the actor's Activatable hook exactly once, transitioning
// New -> Activating -> Active. A failure is fatal: the wrapper moves
// straight to Dead and the triggering call fails with ACTIVATION_FAILED.
func (w *Wrapper) activate(ctx context.Context) *actorerror.ActionError {
	w.mu.Lock()
	if w.state != StateNew {
		w.mu.Unlock()
		return nil
	}
	w.state = StateActivating
	w.mu.Unlock()

	start := time.Now()
	defer func() { metrics.ActivationDurations.WithLabelValues(w.reg.ActorType).Observe(time.Since(start).Seconds()) }()

	instance, err := w.reg.Constructor(w.id)
	if err != nil {
		w.mu.Lock()
		w.state = StateDead
		w.mu.Unlock()
		return actorerror.New(actorerror.CodeActivationFailed, "Activation failed for [type]/[id]: [error]",
			map[string]any{"type": w.reg.ActorType, "id": w.id.String(), "error": err.Error()})
	}

	instanceTimers := timers.New()
	if t, ok := instance.(TimersAware); ok {
		t.SetTimers(instanceTimers)
	}

	if a, ok := instance.(Activatable); ok {
		if err := a.Activate(ctx); err != nil {
			w.mu.Lock()
			w.state = StateDead
			w.mu.Unlock()
			instanceTimers.CancelAll()
			return actorerror.New(actorerror.CodeActivationFailed, "Activation failed for [type]/[id]: [error]",
				map[string]any{"type": w.reg.ActorType, "id": w.id.String(), "error": err.Error()})
		}
	}

	w.mu.Lock()
	w.instance = instance
	w.timers = instanceTimers
	w.state = StateActive
	w.mu.Unlock()
	return nil
}

// callInstance dispatches to the instance's Invoke, converting panics into
// application errors so a misbehaving action never brings down the
// process (spec §7 "local recovery").
func (w *Wrapper) callInstance(ctx context.Context, action string, args []any) (result any, actionErr *actorerror.ActionError) {
	defer func() {
		if r := recover(); r != nil {
			actionErr = actorerror.FromPanic(r)
		}
	}()

	w.mu.Lock()
	instance := w.instance
	w.mu.Unlock()
	if instance == nil {
		return nil, actorerror.New(actorerror.CodeDeactivated, "Actor [type]/[id] has no live instance",
			map[string]any{"type": w.reg.ActorType, "id": w.id.String()})
	}

	v, err := instance.Invoke(ctx, action, args)
	if err != nil {
		if ae, ok := err.(*actorerror.ActionError); ok {
			return nil, ae
		}
		return nil, actorerror.Application("ACTION_ERROR", err.Error(), nil, nil)
	}
	return v, nil
}

// Deactivate is idempotent; it waits for in-flight calls to drain (by
// acquiring the lock exclusively), runs the Deactivatable hook if present,
// flips state to Dead and notifies listeners registered via On.
func (w *Wrapper) Deactivate(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateDead || w.state == StateDeactivating {
		w.mu.Unlock()
		return nil
	}
	w.state = StateDeactivating
	instance := w.instance
	instanceTimers := w.timers
	w.mu.Unlock()

	release, err := w.lock.acquire(ctx, actor.LockExclusive)
	if err == nil {
		defer release()
	}

	if instanceTimers != nil {
		instanceTimers.CancelAll()
	}

	if instance != nil {
		if d, ok := instance.(Deactivatable); ok {
			if derr := d.Deactivate(ctx); derr != nil {
				w.log.Warn("deactivate hook failed", zap.Error(derr))
			}
		}
	}

	w.mu.Lock()
	w.state = StateDead
	w.mu.Unlock()

	w.deactivatedOnce.Do(func() { close(w.deactivatedCh) })
	w.lock.mu.Lock()
	cbs := append([]func(){}, w.lock.onDeact...)
	w.lock.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
	return nil
}

// On registers a listener invoked once, after Deactivate completes. It
// mirrors how a container learns a wrapper has finished finalizing.
func (w *Wrapper) On(event string, listener func()) {
	if event != "deactivated" {
		return
	}
	w.lock.mu.Lock()
	w.lock.onDeact = append(w.lock.onDeact, listener)
	w.lock.mu.Unlock()
}

// Deactivated returns a channel closed once Deactivate has completed.
func (w *Wrapper) Deactivated() <-chan struct{} { return w.deactivatedCh }

// ID returns the wrapped actor's identity.
func (w *Wrapper) ID() actor.ID { return w.id }

// Proxy is the stable handle returned by GetProxy: each method call is
// synthesized into an Invoke. After deactivation the proxy rejects all
// calls with DEACTIVATED (Invoke itself already enforces this).
type Proxy struct {
	w *Wrapper
}

// GetProxy returns a stable handle forwarding each call as an invoke.
func (w *Wrapper) GetProxy() *Proxy { return &Proxy{w: w} }

// Call invokes action on the proxy's wrapper.
func (p *Proxy) Call(ctx context.Context, action string, args []any) (any, *actorerror.ActionError) {
	return p.w.Invoke(ctx, action, args)
}

