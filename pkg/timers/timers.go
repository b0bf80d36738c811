// Package timers implements spec §4.10: per-instance, volatile,
// fire-and-forget scheduled callbacks tied to wrapper lifetime. Not
// persistent — a timer never survives the instance being deactivated or
// reincarnated.
//
// Grounded on the host's delayed self-invocation pattern
// (virtual/activations.go's hostCapabilities.ScheduleInvokeActor, which
// schedules a single delayed callback via time.AfterFunc), generalized
// here to repeating timers with pause/resume and a per-instance registry
// that cancels everything outstanding on deactivation — closing the gap
// that pattern's own TODO names ("when the actor gets GC'd... this timer
// won't get GC'd with it").
package timers

import (
	"sync"
	"time"
)

// Handler is invoked when a timer fires. args are the values supplied at
// scheduling time.
type Handler func(args []any)

// Handle lets the scheduler cancel, pause or resume one outstanding timer.
type Handle interface {
	Cancel()
	Pause(duration time.Duration)
	Resume(delay time.Duration)
}

// Registry owns every timer scheduled by one actor instance. The zero
// value is not usable; construct with New.
type Registry struct {
	mu      sync.Mutex
	timers  map[*timer]struct{}
	stopped bool
}

// New constructs an empty timer registry for one instance.
func New() *Registry {
	return &Registry{timers: make(map[*timer]struct{})}
}

// Once schedules handler to run once after delay, carrying args.
func (r *Registry) Once(handler Handler, delay time.Duration, args ...any) Handle {
	return r.schedule(handler, delay, 0, 1, args)
}

// Repeat schedules handler to run every interval, starting after
// firstDelay (defaulting to interval if firstDelay <= 0). nrRepeats <= 0
// means unbounded.
func (r *Registry) Repeat(handler Handler, interval, firstDelay time.Duration, nrRepeats int, args ...any) Handle {
	if firstDelay <= 0 {
		firstDelay = interval
	}
	return r.schedule(handler, firstDelay, interval, nrRepeats, args)
}

// CancelAll stops every outstanding timer for this instance. Called by
// the wrapper when it deactivates (spec §4.10: "All timers for an
// instance are cancelled when the wrapper deactivates").
func (r *Registry) CancelAll() {
	r.mu.Lock()
	r.stopped = true
	timers := make([]*timer, 0, len(r.timers))
	for t := range r.timers {
		timers = append(timers, t)
	}
	r.timers = make(map[*timer]struct{})
	r.mu.Unlock()

	for _, t := range timers {
		t.stopLocked()
	}
}

func (r *Registry) schedule(handler Handler, delay, interval time.Duration, nrRepeats int, args []any) Handle {
	t := &timer{
		registry:  r,
		handler:   handler,
		interval:  interval,
		remaining: nrRepeats,
		unbounded: nrRepeats <= 0,
		args:      args,
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return t
	}
	r.timers[t] = struct{}{}
	r.mu.Unlock()

	t.arm(delay)
	return t
}

func (r *Registry) forget(t *timer) {
	r.mu.Lock()
	delete(r.timers, t)
	r.mu.Unlock()
}

// timer is one scheduled callback. interval == 0 means a one-shot.
type timer struct {
	registry *Registry
	handler  Handler
	args     []any
	interval time.Duration // 0 for a one-shot

	mu        sync.Mutex
	underlying *time.Timer
	cancelled bool

	// remaining counts fires left when !unbounded.
	remaining int
	unbounded bool
	// pausedRemaining holds the full length of the current wait (or the
	// duration passed to Pause), set by Pause and consumed by Resume.
	pausedRemaining time.Duration
	paused          bool
	nextDelay       time.Duration
}

func (t *timer) arm(delay time.Duration) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.nextDelay = delay
	t.underlying = time.AfterFunc(delay, t.fire)
	t.mu.Unlock()
}

func (t *timer) fire() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	handler := t.handler
	args := t.args
	repeating := t.interval > 0
	done := false
	if repeating && !t.unbounded {
		t.remaining--
		done = t.remaining <= 0
	}
	t.mu.Unlock()

	handler(args)

	if !repeating || done {
		t.mu.Lock()
		t.cancelled = true
		t.mu.Unlock()
		t.registry.forget(t)
		return
	}

	t.mu.Lock()
	cancelled := t.cancelled
	if !cancelled {
		t.nextDelay = t.interval
		t.underlying = time.AfterFunc(t.interval, t.fire)
	}
	t.mu.Unlock()
	if cancelled {
		t.registry.forget(t)
	}
}

func (t *timer) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	u := t.underlying
	t.mu.Unlock()
	if u != nil {
		u.Stop()
	}
	t.registry.forget(t)
}

func (t *timer) stopLocked() {
	t.mu.Lock()
	t.cancelled = true
	u := t.underlying
	t.mu.Unlock()
	if u != nil {
		u.Stop()
	}
}

// Pause stops the current wait, remembering its full length for Resume's
// default (time already elapsed before the pause is not deducted); a
// positive duration replaces that remembered length. Pausing an
// already-finished/cancelled timer is a no-op.
func (t *timer) Pause(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled || t.paused {
		return
	}
	if t.underlying != nil {
		t.underlying.Stop()
	}
	if duration > 0 {
		t.pausedRemaining = duration
	} else {
		t.pausedRemaining = t.nextDelay
	}
	t.paused = true
}

// Resume re-arms a paused timer after delay (defaulting to the length
// captured by Pause).
func (t *timer) Resume(delay time.Duration) {
	t.mu.Lock()
	if t.cancelled || !t.paused {
		t.mu.Unlock()
		return
	}
	t.paused = false
	if delay <= 0 {
		delay = t.pausedRemaining
	}
	t.mu.Unlock()
	t.arm(delay)
}
