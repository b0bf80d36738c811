package container

import (
	"context"
	"sync"

	"github.com/darlean-io/darlean-go/pkg/actor"
	"github.com/darlean-io/darlean-go/pkg/actorerror"
	"github.com/darlean-io/darlean-go/pkg/dlog"
	"github.com/darlean-io/darlean-go/pkg/wrapper"
)

// MultiType routes obtain calls by actor type to the right per-type
// Container, mirroring the registration-order bookkeeping nola's
// environment keeps implicitly via its single activations map — here made
// explicit because spec §4.3 requires reverse-registration-order teardown,
// which needs the order recorded somewhere.
type MultiType struct {
	mu    sync.RWMutex
	order []string
	byType map[string]*Container
	log   *dlog.Logger
}

// NewMultiType constructs an empty router.
func NewMultiType(log *dlog.Logger) *MultiType {
	if log == nil {
		log = dlog.Nop()
	}
	return &MultiType{byType: make(map[string]*Container), log: log}
}

// Register adds a per-type Container for reg.ActorType, built with opts.
func (m *MultiType) Register(reg *wrapper.Registration, opts Options) *Container {
	c := New(reg, opts, m.log)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byType[reg.ActorType]; !exists {
		m.order = append(m.order, reg.ActorType)
	}
	m.byType[reg.ActorType] = c
	return c
}

// Obtain routes to the Container for actorType, failing with
// UNKNOWN_ACTOR_TYPE if no such type was registered.
func (m *MultiType) Obtain(ctx context.Context, actorType string, id actor.ID, lazy bool) (*wrapper.Wrapper, *actorerror.ActionError) {
	m.mu.RLock()
	c, ok := m.byType[actorType]
	m.mu.RUnlock()
	if !ok {
		return nil, actorerror.New(actorerror.CodeUnknownActorType, "Unknown actor type [type]", map[string]any{"type": actorType})
	}
	return c.Obtain(ctx, id, lazy)
}

// Finalize deactivates types in reverse registration order so higher-layer
// actors are torn down before their dependencies, per spec §4.3.
func (m *MultiType) Finalize(ctx context.Context) {
	m.mu.RLock()
	order := append([]string(nil), m.order...)
	m.mu.RUnlock()

	for i := len(order) - 1; i >= 0; i-- {
		m.mu.RLock()
		c := m.byType[order[i]]
		m.mu.RUnlock()
		c.Finalize(ctx)
	}
}
