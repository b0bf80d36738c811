// Package registry implements the distributed actor registry of spec §4.5:
// a map from actor type to the set of hosting applications and their
// placement rule, pushed by hosting nodes and pulled (long-poll) by
// clients that need to resolve a destination.
//
// Grounded directly on nola's registry.Registry (virtual/registry/types.go,
// kv_registry.go): push/obtain here play the same role as nola's
// Heartbeat/EnsureActivation pair (a hosting node reports liveness, a
// client resolves a destination), and the nonce-driven long-poll below
// generalizes nola's versionstamp-driven EnsureActivation caching
// (environment.go's activationCache, TTL-bounded) into an explicit
// long-poll protocol since spec §4.5 calls for the server itself to hold
// the request open, not just a client-side cache with a TTL.
package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/darlean-io/darlean-go/pkg/actorerror"
	"github.com/darlean-io/darlean-go/pkg/metrics"
)

// Placement is the routing rule for one actor type (spec §3).
type Placement struct {
	Version string
	// BindIdx, if non-nil, names the id-part index (negative counts from
	// the end) whose value must be the hosting application.
	BindIdx *int
	Sticky  bool
}

// ActorInfo is per-type registry content.
type ActorInfo struct {
	Applications []string
	Placement    Placement
}

// Snapshot is the registry content returned by Obtain.
type Snapshot struct {
	Nonce     string
	ActorInfo map[string]ActorInfo
}

// Registry is the server-side distributed map from spec §4.5.
type Registry struct {
	mu         sync.Mutex
	nonce      string
	actorInfo  map[string]ActorInfo
	generation map[string]uint64 // per actor id (type/id.Key()), spec §4.5 supplement

	waitersMu sync.Mutex
	waiters   []chan struct{}

	longPollTimeout time.Duration
}

// New constructs an empty Registry.
func New(longPollTimeout time.Duration) *Registry {
	if longPollTimeout <= 0 {
		longPollTimeout = 30 * time.Second
	}
	return &Registry{
		nonce:           uuid.NewString(),
		actorInfo:       make(map[string]ActorInfo),
		generation:      make(map[string]uint64),
		longPollTimeout: longPollTimeout,
	}
}

// Push reports that application currently hosts the given actor types.
// Placement with a newer (lexicographically greater) Version supersedes
// older placement info even when otherwise compatible, per spec §4.5.
func (r *Registry) Push(application string, info map[string]ActorInfo) {
	metrics.RegistryPushes.Inc()
	r.mu.Lock()
	changed := false
	for actorType, incoming := range info {
		existing, ok := r.actorInfo[actorType]
		if !ok {
			existing = ActorInfo{}
		}
		apps := addApp(existing.Applications, application)
		placement := existing.Placement
		if !ok || incoming.Placement.Version > placement.Version {
			placement = incoming.Placement
			changed = true
		}
		if !stringSliceEqual(apps, existing.Applications) {
			changed = true
		}
		r.actorInfo[actorType] = ActorInfo{Applications: apps, Placement: placement}
	}
	if changed {
		r.nonce = uuid.NewString()
	}
	r.mu.Unlock()

	if changed {
		r.wakeWaiters()
	}
}

// IncGeneration increments the generation counter for one actor id, used to
// force-invalidate cached placement/activation info cluster-wide (spec
// §4.5 supplement, grounded on nola's registry.IncGeneration).
func (r *Registry) IncGeneration(actorType, idKey string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := actorType + "\x00" + idKey
	r.generation[key]++
	return r.generation[key]
}

// Generation returns the current generation for an actor id.
func (r *Registry) Generation(actorType, idKey string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation[actorType+"\x00"+idKey]
}

// Obtain returns the current snapshot, restricted to actorTypes if
// non-empty. If nonce equals the current snapshot's nonce, Obtain holds
// the request (long-poll) until the snapshot changes or its internal
// timeout elapses, per spec §4.5.
func (r *Registry) Obtain(ctx context.Context, actorTypes []string, nonce string) Snapshot {
	r.mu.Lock()
	current := r.nonce
	r.mu.Unlock()

	if nonce != "" && nonce == current {
		metrics.RegistryObtainWaits.Inc()
		ch := r.addWaiter()
		timeout := time.NewTimer(r.longPollTimeout)
		defer timeout.Stop()
		select {
		case <-ch:
		case <-timeout.C:
		case <-ctx.Done():
		}
	}

	return r.snapshot(actorTypes)
}

func (r *Registry) snapshot(actorTypes []string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := r.actorInfo
	if len(actorTypes) > 0 {
		filtered := make(map[string]ActorInfo, len(actorTypes))
		for _, t := range actorTypes {
			if v, ok := r.actorInfo[t]; ok {
				filtered[t] = v
			}
		}
		info = filtered
	}
	out := make(map[string]ActorInfo, len(info))
	for k, v := range info {
		out[k] = v
	}
	return Snapshot{Nonce: r.nonce, ActorInfo: out}
}

func (r *Registry) addWaiter() chan struct{} {
	ch := make(chan struct{})
	r.waitersMu.Lock()
	r.waiters = append(r.waiters, ch)
	r.waitersMu.Unlock()
	return ch
}

func (r *Registry) wakeWaiters() {
	r.waitersMu.Lock()
	waiters := r.waiters
	r.waiters = nil
	r.waitersMu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

func addApp(apps []string, app string) []string {
	for _, a := range apps {
		if a == app {
			return apps
		}
	}
	out := append(append([]string(nil), apps...), app)
	sort.Strings(out)
	return out
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Resolve implements the placement rules of spec §4.5 for a client that
// already has a Snapshot: if Placement.BindIdx is set, the id-part at that
// index must be the hosting application; otherwise any hosting application
// is eligible, with sticky biasing to lastUsed when set.
func Resolve(info ActorInfo, idParts []string, lastUsed string) (string, *actorerror.ActionError) {
	if info.Placement.BindIdx != nil {
		idx := *info.Placement.BindIdx
		n := len(idParts)
		if idx < 0 {
			idx = n + idx
		}
		if idx < 0 || idx >= n {
			return "", actorerror.NoReceiversAvailable(idParts[0])
		}
		app := idParts[idx]
		if !contains(info.Applications, app) {
			return "", actorerror.NoReceiversAvailable(strings.Join(idParts, "/"))
		}
		return app, nil
	}

	if len(info.Applications) == 0 {
		return "", actorerror.NoReceiversAvailable(strings.Join(idParts, "/"))
	}

	if info.Placement.Sticky && lastUsed != "" && contains(info.Applications, lastUsed) {
		return lastUsed, nil
	}

	return info.Applications[0], nil
}

func contains(apps []string, app string) bool {
	for _, a := range apps {
		if a == app {
			return true
		}
	}
	return false
}
