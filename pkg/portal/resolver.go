package portal

import (
	"sync"

	"github.com/darlean-io/darlean-go/pkg/registry"
)

// RegistryResolver adapts a *registry.Registry into the Resolver a Portal
// needs, caching the last snapshot it has seen per actor type (refreshed
// by the caller driving a long-poll loop against Obtain) and tracking
// last-used destinations for sticky placement in memory.
type RegistryResolver struct {
	mu        sync.RWMutex
	snapshots map[string]registry.ActorInfo
	lastUsed  map[string]string
}

// NewRegistryResolver constructs an empty RegistryResolver.
func NewRegistryResolver() *RegistryResolver {
	return &RegistryResolver{
		snapshots: make(map[string]registry.ActorInfo),
		lastUsed:  make(map[string]string),
	}
}

// Update installs the latest registry.Snapshot content, typically called
// after each Obtain long-poll round-trip completes.
func (r *RegistryResolver) Update(snap registry.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for actorType, info := range snap.ActorInfo {
		r.snapshots[actorType] = info
	}
}

func (r *RegistryResolver) Snapshot(actorType string) (registry.ActorInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.snapshots[actorType]
	return info, ok
}

func (r *RegistryResolver) LastUsed(actorType, idKey string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastUsed[actorType+"\x00"+idKey]
}

func (r *RegistryResolver) RecordUsed(actorType, idKey, app string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastUsed[actorType+"\x00"+idKey] = app
}
