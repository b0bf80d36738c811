// Package lock implements the cluster-wide mutual-exclusion primitive from
// spec §4.4: a replica actor whose state is an in-memory lease map, and a
// quorum-voting client that hashes an actor id to a deterministic subset of
// replicas and requires agreement from a majority of that subset.
//
// Grounded on the teacher's per-server in-memory state pattern: nola's
// registry keeps a serverState per server with a LastHeartbeatedAt
// computed against the registry's own versionstamp clock
// (virtual/registry/kv_registry.go, serverState/versionSince) — the
// replica's lease expiry check below (now vs expiresAt) is the same
// "compare against a monotonic clock, no external TTL store" idea, scaled
// down to a plain wall clock since the lock replica is intentionally
// volatile (spec §9 Open Question: restart == all leases expired).
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/darlean-io/darlean-go/pkg/metrics"
)

// Lease is the state held by one replica for one actor id.
type Lease struct {
	Holder    string
	AcquireID string
	ExpiresAt time.Time
}

// Replica is one node's in-memory lease map: the unit that is replicated
// across the configured set of lock-replica applications.
type Replica struct {
	mu     sync.Mutex
	leases map[string]Lease
	clock  func() time.Time
}

// NewReplica constructs an empty Replica.
func NewReplica() *Replica {
	return &Replica{leases: make(map[string]Lease), clock: time.Now}
}

// AcquireResult is what a replica answers to an acquire request.
type AcquireResult struct {
	Granted  bool
	Holder   string
	Duration time.Duration
}

// Acquire grants a lease on id to requester for ttl if the replica has no
// lease, the existing lease has expired, or the existing holder already
// equals requester (re-acquire/renewal), per spec §4.4 step 3. Granting
// (re)sets expiresAt = now + ttl.
func (r *Replica) Acquire(id, requester, acquireID string, ttl time.Duration) AcquireResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	lease, ok := r.leases[id]
	if ok && lease.Holder != requester && now.Before(lease.ExpiresAt) {
		metrics.LockConflicts.Inc()
		return AcquireResult{Granted: false, Holder: lease.Holder}
	}

	r.leases[id] = Lease{Holder: requester, AcquireID: acquireID, ExpiresAt: now.Add(ttl)}
	return AcquireResult{Granted: true, Holder: requester, Duration: ttl}
}

// Release undoes a lease if the current lease matches both requester and
// acquireID (or acquireID is empty, meaning "don't check"). A mismatched
// release is a no-op, per spec §4.4.
func (r *Replica) Release(id, requester, acquireID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lease, ok := r.leases[id]
	if !ok || lease.Holder != requester {
		return
	}
	if acquireID != "" && lease.AcquireID != acquireID {
		return
	}
	delete(r.leases, id)
}

// Holder reports the current live holder of id, if any.
func (r *Replica) Holder(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lease, ok := r.leases[id]
	if !ok || !r.clock().Before(lease.ExpiresAt) {
		return "", false
	}
	return lease.Holder, true
}

// sweepExpired drops any lease whose expiry is more than maxAge in the
// past, the local cleanup scheduled by a grant per spec §4.4 step 3. ttl
// isn't tracked per-lease so this sweep is driven externally, on a fixed
// interval, by RunCleanupLoop below.
func (r *Replica) sweepExpired(now time.Time, maxAge time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, lease := range r.leases {
		if now.Sub(lease.ExpiresAt) >= maxAge {
			delete(r.leases, id)
		}
	}
}

// RunCleanupLoop periodically drops leases that expired more than 2*ttl
// ago (spec §4.4 step 3: "each replica additionally schedules a local
// cleanup of the lease at 2*ttl, in case the holder never releases it").
// It blocks until ctx is cancelled, so callers run it in its own
// goroutine.
func (r *Replica) RunCleanupLoop(ctx context.Context, interval, ttl time.Duration) {
	maxAge := 2 * ttl
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.sweepExpired(now, maxAge)
		}
	}
}
