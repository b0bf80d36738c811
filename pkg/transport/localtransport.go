package transport

import (
	"context"
	"sync"

	"github.com/darlean-io/darlean-go/pkg/actorerror"
)

// Handler is what an application registers to receive invocations for its
// own appId through a Local router.
type Handler func(ctx context.Context, req InvokeRequest) InvokeResponse

// Local is an in-process Transport that dispatches directly to registered
// handlers by destination application id, skipping the network entirely.
// Grounded on nola's localEnvironmentsRouter (virtual/environment.go), used
// there to let multiple environment instances in the same test process
// address each other without sockets; this plays the same role for
// same-process multi-application tests and for the default single-node
// run mode.
type Local struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewLocal constructs an empty Local router.
func NewLocal() *Local {
	return &Local{handlers: make(map[string]Handler)}
}

// Register binds appId to handler. Registering the same appId twice
// replaces the previous handler (e.g. after a redeploy-in-place in tests).
func (l *Local) Register(appID string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[appID] = h
}

// Unregister removes appId's handler.
func (l *Local) Unregister(appID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, appID)
}

func (l *Local) Invoke(ctx context.Context, destination string, req InvokeRequest) (InvokeResponse, error) {
	l.mu.RLock()
	h, ok := l.handlers[destination]
	l.mu.RUnlock()
	if !ok {
		return InvokeResponse{Error: actorerror.New(actorerror.CodeFrameworkError,
			"Unknown local destination application [destination]", map[string]any{"destination": destination})}, nil
	}
	return h(ctx, req), nil
}
