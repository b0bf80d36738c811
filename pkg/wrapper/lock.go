package wrapper

import (
	"context"

	"github.com/darlean-io/darlean-go/pkg/actor"
)

// acquire blocks until mode can be granted, honoring ctx cancellation/
// deadline (used for the internal LOCK_FAILED timeout of spec §4.1), and
// returns a release function. The ordering rule from spec §4.1 is:
// waiting calls are served FIFO per lock mode, with a pending exclusive
// starving no shared calls that began before it, but no shared call is
// allowed to overtake a pending exclusive that is ahead of it in the
// queue.
func (l *listeners) acquire(ctx context.Context, mode actor.LockMode) (func(), error) {
	if mode == actor.LockNone {
		return func() {}, nil
	}

	l.mu.Lock()
	w := &waiter{mode: mode, ch: make(chan struct{})}
	l.queue = append(l.queue, w)
	l.tryGrantLocked()
	l.mu.Unlock()

	select {
	case <-w.ch:
		return l.releaseFunc(mode), nil
	case <-ctx.Done():
		l.mu.Lock()
		removed := l.removeWaiterLocked(w)
		l.mu.Unlock()
		if removed {
			return nil, ctx.Err()
		}
		// Lost the race: w was granted concurrently with cancellation.
		<-w.ch
		return l.releaseFunc(mode), nil
	}
}

func (l *listeners) releaseFunc(mode actor.LockMode) func() {
	var once bool
	return func() {
		if once {
			return
		}
		once = true
		l.release(mode)
	}
}

func (l *listeners) release(mode actor.LockMode) {
	if mode == actor.LockNone {
		return
	}
	l.mu.Lock()
	if mode == actor.LockExclusive {
		l.exclusive = false
	} else {
		l.shared--
	}
	l.tryGrantLocked()
	l.mu.Unlock()
}

// tryGrantLocked drains the front of the queue as far as current state
// allows. Must be called with l.mu held.
func (l *listeners) tryGrantLocked() {
	for len(l.queue) > 0 {
		front := l.queue[0]
		if front.mode == actor.LockExclusive {
			if l.exclusive || l.shared > 0 {
				return
			}
			l.exclusive = true
			l.queue = l.queue[1:]
			close(front.ch)
			// An exclusive holder alone; nothing else can be granted
			// until it releases, regardless of what follows in the
			// queue.
			return
		}
		// Shared waiter.
		if l.exclusive {
			return
		}
		l.shared++
		l.queue = l.queue[1:]
		close(front.ch)
		// Continue: more shared waiters immediately behind this one (but
		// still in front of any exclusive waiter) can be granted too.
	}
}

func (l *listeners) removeWaiterLocked(w *waiter) bool {
	for i, q := range l.queue {
		if q == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return true
		}
	}
	return false
}
