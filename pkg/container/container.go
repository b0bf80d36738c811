// Package container implements the per-type instance container and the
// multi-type router on top of it (spec §4.2/§4.3): lazy obtain, LRU
// capacity eviction, max-age recycling, explicit self-eviction, and
// parallel drain-on-finalize.
//
// Grounded on nola's activations struct (virtual/activations.go), which
// keeps a map[types.NamespacedID]activatedActor guarded by a single
// RWMutex and does the identical "read-lock fast path, write-lock slow
// path, recheck after releasing the lock to fetch module bytes" dance
// (activations.invoke, lines 58-192) that Container.Obtain below reuses
// for the "is this id already being evicted, wait for it" case. The
// LRU ordering itself is grounded on github.com/hashicorp/golang-lru/v2
// (an AKJUS-bsc-erigon dependency), used here as a plain ordering
// structure (MoveToFront/Oldest) rather than through its own eviction
// callback, because spec's eviction must wait for Wrapper.Deactivate to
// signal completion before the entry is actually removed — something the
// library's synchronous OnEvict callback cannot express.
package container

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/darlean-io/darlean-go/pkg/actor"
	"github.com/darlean-io/darlean-go/pkg/actorerror"
	"github.com/darlean-io/darlean-go/pkg/dlog"
	"github.com/darlean-io/darlean-go/pkg/metrics"
	"github.com/darlean-io/darlean-go/pkg/parallel"
	"github.com/darlean-io/darlean-go/pkg/wrapper"
)

// Options configures a Container's eviction policies. Both are optional
// and composable per spec §4.2.
type Options struct {
	// Capacity is the maximum number of Active entries before LRU
	// eviction kicks in. Zero disables capacity eviction.
	Capacity int
	// MaxAge is the age after which an entry is proactively deactivated
	// by the background sweep. Zero disables max-age eviction.
	MaxAge time.Duration
	// SweepInterval controls how often the max-age sweep runs.
	SweepInterval time.Duration
}

type entry struct {
	id         actor.ID
	w          *wrapper.Wrapper
	createdAt  time.Time
	lastUsedAt time.Time
}

// Container is the per-type id->wrapper map from spec §4.2.
type Container struct {
	reg  *wrapper.Registration
	opts Options
	log  *dlog.Logger
	actorType string

	mu      sync.Mutex
	entries map[string]*entry
	order   *lru.LRU[string, struct{}]
	evicting map[string]chan struct{}

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Container for one actor type.
func New(reg *wrapper.Registration, opts Options, log *dlog.Logger) *Container {
	if log == nil {
		log = dlog.Nop()
	}
	// order only tracks recency; the actual capacity decision is made by
	// evictForCapacity below (which needs to wait for Deactivate to signal
	// completion before counting an entry as gone, something simplelru's
	// synchronous OnEvict callback cannot express). Its own bound is sized
	// one larger than opts.Capacity so it never auto-evicts before
	// evictForCapacity has had a chance to run synchronously after every
	// insert; when capacity eviction is disabled (opts.Capacity <= 0) a
	// generous fixed bound is used since GetOldest is then never consulted.
	orderCap := opts.Capacity + 1
	if opts.Capacity <= 0 {
		orderCap = 4096
	}
	order, _ := lru.NewLRU[string, struct{}](orderCap, nil)

	c := &Container{
		reg:       reg,
		opts:      opts,
		log:       log,
		actorType: reg.ActorType,
		entries:   make(map[string]*entry),
		order:     order,
		evicting:  make(map[string]chan struct{}),
		closeCh:   make(chan struct{}),
	}
	if opts.MaxAge > 0 {
		c.wg.Add(1)
		go c.maxAgeSweepLoop()
	}
	return c
}

// Obtain returns the wrapper for id, creating it lazily unless lazy is
// true, in which case an absent id fails with UNKNOWN_INSTANCE. A second
// Obtain for an id currently being evicted waits for the eviction to
// finish and then creates a fresh wrapper, per spec §4.2 concurrency
// rules.
func (c *Container) Obtain(ctx context.Context, id actor.ID, lazy bool) (*wrapper.Wrapper, *actorerror.ActionError) {
	key := id.Key()

	for {
		c.mu.Lock()
		if ch, ok := c.evicting[key]; ok {
			c.mu.Unlock()
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return nil, actorerror.New(actorerror.CodeFinalizing, "Container is finalizing instance [id]", map[string]any{"id": id.String()})
			}
		}
		if e, ok := c.entries[key]; ok {
			e.lastUsedAt = time.Now()
			c.order.Add(key, struct{}{})
			c.mu.Unlock()
			return e.w, nil
		}
		if lazy {
			c.mu.Unlock()
			return nil, actorerror.New(actorerror.CodeUnknownInstance, "No instance exists for id [id]", map[string]any{"id": id.String()})
		}

		w := wrapper.New(id, c.reg, c.log)
		now := time.Now()
		e := &entry{id: id, w: w, createdAt: now, lastUsedAt: now}
		c.entries[key] = e
		c.order.Add(key, struct{}{})
		c.mu.Unlock()

		metrics.ActiveInstances.WithLabelValues(c.actorType).Inc()
		c.evictForCapacity()
		return w, nil
	}
}

// evictForCapacity deactivates least-recently-used entries until the
// container's size is back within Capacity, per spec §4.2.
func (c *Container) evictForCapacity() {
	if c.opts.Capacity <= 0 {
		return
	}
	for {
		c.mu.Lock()
		if len(c.entries) <= c.opts.Capacity {
			c.mu.Unlock()
			return
		}
		key, _, ok := c.order.GetOldest()
		if !ok {
			c.mu.Unlock()
			return
		}
		if _, already := c.evicting[key]; already {
			c.mu.Unlock()
			return
		}
		e := c.entries[key]
		c.order.Remove(key)
		delete(c.entries, key)
		ch := make(chan struct{})
		c.evicting[key] = ch
		c.mu.Unlock()

		c.startEviction(key, e, ch, "capacity")
	}
}

func (c *Container) startEviction(key string, e *entry, done chan struct{}, reason string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = e.w.Deactivate(context.Background())
		c.mu.Lock()
		delete(c.evicting, key)
		c.mu.Unlock()
		metrics.ActiveInstances.WithLabelValues(c.actorType).Dec()
		metrics.Evictions.WithLabelValues(c.actorType, reason).Inc()
		close(done)
	}()
}

// PerformFinalization lets an actor request its own eviction, e.g. to
// commit state and exit cleanly (spec §4.2).
func (c *Container) PerformFinalization(ctx context.Context, id actor.ID) error {
	key := id.Key()
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	c.order.Remove(key)
	delete(c.entries, key)
	ch := make(chan struct{})
	c.evicting[key] = ch
	c.mu.Unlock()

	c.startEviction(key, e, ch, "self")
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Container) maxAgeSweepLoop() {
	defer c.wg.Done()
	interval := c.opts.SweepInterval
	if interval <= 0 {
		interval = c.opts.MaxAge / 4
		if interval <= 0 {
			interval = time.Second
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweepOnce()
		case <-c.closeCh:
			return
		}
	}
}

func (c *Container) sweepOnce() {
	now := time.Now()
	var stale []string
	c.mu.Lock()
	for key, e := range c.entries {
		if _, evicting := c.evicting[key]; evicting {
			continue
		}
		if now.Sub(e.createdAt) >= c.opts.MaxAge {
			stale = append(stale, key)
		}
	}
	c.mu.Unlock()

	for _, key := range stale {
		c.mu.Lock()
		e, ok := c.entries[key]
		if !ok {
			c.mu.Unlock()
			continue
		}
		c.order.Remove(key)
		delete(c.entries, key)
		ch := make(chan struct{})
		c.evicting[key] = ch
		c.mu.Unlock()
		c.startEviction(key, e, ch, "max_age")
	}
}

// Size reports the number of entries currently tracked (Active plus
// entries mid-eviction).
func (c *Container) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries) + len(c.evicting)
}

// Finalize drains all live wrappers in parallel and waits for all of them
// to reach Dead, then stops the background sweep goroutine.
func (c *Container) Finalize(ctx context.Context) {
	c.mu.Lock()
	wrappers := make([]*wrapper.Wrapper, 0, len(c.entries))
	for _, e := range c.entries {
		wrappers = append(wrappers, e.w)
	}
	c.mu.Unlock()

	tasks := make([]parallel.Task[struct{}], len(wrappers))
	for i, w := range wrappers {
		w := w
		tasks[i] = func(ctx context.Context) (struct{}, error) {
			return struct{}{}, w.Deactivate(ctx)
		}
	}
	parallel.Run(ctx, 0, tasks)

	close(c.closeCh)
	c.wg.Wait()
}
