// Package backoff implements the stateful, deadline-aware retry-delay
// sequence from spec §4.6/§5: delays of base*factor^k+jitter, capped and
// clipped to whatever remains of an overall deadline, refusing to produce
// further delays once the deadline has passed.
//
// Grounded on github.com/cenkalti/backoff/v4 (AKJUS-bsc-erigon's dependency
// list), which already implements the exponential-with-jitter sequence;
// this package adds the deadline-clipping Next() call and the
// context/Aborter-aware Wait(ctx) that spec §5 requires and the raw
// library does not provide on its
// own (the library's WithContext only cancels, it does not clip the next
// delay to "whatever time remains").
package backoff

import (
	"context"
	"time"

	cenkalti "github.com/cenkalti/backoff/v4"
)

// Session is a single retry attempt's worth of backoff state: one Session
// is created per logical invocation attempt sequence (e.g. one portal
// Invoke call) and is not reused across unrelated operations.
type Session struct {
	b        *cenkalti.ExponentialBackOff
	deadline time.Time
	attempt  int
}

// Options configures a Session. Zero values fall back to sensible defaults
// matching cenkalti/backoff's own ExponentialBackOff defaults.
type Options struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	// Deadline is the absolute time after which Next refuses to produce
	// further delays. Zero means no deadline.
	Deadline time.Time
}

// NewSession constructs a Session bounded by opts.Deadline.
func NewSession(opts Options) *Session {
	b := cenkalti.NewExponentialBackOff()
	if opts.InitialInterval > 0 {
		b.InitialInterval = opts.InitialInterval
	}
	if opts.Multiplier > 0 {
		b.Multiplier = opts.Multiplier
	}
	b.MaxElapsedTime = 0 // we do our own deadline accounting below
	if opts.MaxInterval > 0 {
		b.MaxInterval = opts.MaxInterval
	}
	b.Reset()
	return &Session{b: b, deadline: opts.Deadline}
}

// Next returns the delay to wait before the next retry, or ok=false if the
// session's deadline has already passed (or will pass before any useful
// delay could elapse) and the caller should give up instead of retrying.
// The returned delay is clipped so that waiting it out never overshoots
// the deadline.
func (s *Session) Next() (delay time.Duration, ok bool) {
	s.attempt++
	if !s.deadline.IsZero() && !time.Now().Before(s.deadline) {
		return 0, false
	}
	next := s.b.NextBackOff()
	if next == cenkalti.Stop {
		return 0, false
	}
	if !s.deadline.IsZero() {
		remaining := time.Until(s.deadline)
		if remaining <= 0 {
			return 0, false
		}
		if next > remaining {
			next = remaining
		}
	}
	return next, true
}

// Wait sleeps for the Session's next delay, returning early with ok=false
// if the deadline has passed or ctx is cancelled (the Aborter case: an
// application-level Aborter is modeled as a context whose Done() channel
// closes when the one-shot signal fires, per spec §5).
func (s *Session) Wait(ctx context.Context) (ok bool) {
	delay, ok := s.Next()
	if !ok {
		return false
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Attempt returns how many times Next has been called on this session.
func (s *Session) Attempt() int { return s.attempt }
