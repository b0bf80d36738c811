package portal

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/darlean-io/darlean-go/pkg/actor"
	"github.com/darlean-io/darlean-go/pkg/actorerror"
	"github.com/darlean-io/darlean-go/pkg/backoff"
	"github.com/darlean-io/darlean-go/pkg/registry"
	"github.com/darlean-io/darlean-go/pkg/transport"
)

func newTestPortal(t *testing.T, local *transport.Local, resolver *RegistryResolver) *Portal {
	t.Helper()
	p, err := New(local, resolver, Options{
		AttemptTimeout: time.Second,
		Deadline:       500 * time.Millisecond,
		Backoff:        backoff.Options{InitialInterval: time.Millisecond},
	})
	require.NoError(t, err)
	return p
}

func TestCallSucceedsOnFirstAttempt(t *testing.T) {
	local := transport.NewLocal()
	local.Register("app-a", func(ctx context.Context, req transport.InvokeRequest) transport.InvokeResponse {
		return transport.InvokeResponse{Result: "pong"}
	})
	resolver := NewRegistryResolver()
	resolver.Update(registry.Snapshot{ActorInfo: map[string]registry.ActorInfo{
		"greeter": {Applications: []string{"app-a"}},
	}})

	p := newTestPortal(t, local, resolver)
	proxy := p.Retrieve("greeter", actor.NewID("greeter", "42"))
	result, err := proxy.Call(context.Background(), "Ping", nil)
	require.Nil(t, err)
	require.Equal(t, "pong", result)
}

func TestCallNoReceiversAvailable(t *testing.T) {
	local := transport.NewLocal()
	resolver := NewRegistryResolver()
	p := newTestPortal(t, local, resolver)
	proxy := p.Retrieve("greeter", actor.NewID("greeter", "42"))
	_, err := proxy.Call(context.Background(), "Ping", nil)
	require.NotNil(t, err)
	require.Equal(t, actorerror.CodeNoReceiversAvailable, err.Code)
}

func TestCallApplicationErrorNotRetried(t *testing.T) {
	var calls int32
	local := transport.NewLocal()
	local.Register("app-a", func(ctx context.Context, req transport.InvokeRequest) transport.InvokeResponse {
		atomic.AddInt32(&calls, 1)
		return transport.InvokeResponse{Error: actorerror.Application("BOOM", "boom", nil, nil)}
	})
	resolver := NewRegistryResolver()
	resolver.Update(registry.Snapshot{ActorInfo: map[string]registry.ActorInfo{
		"greeter": {Applications: []string{"app-a"}},
	}})
	p := newTestPortal(t, local, resolver)
	proxy := p.Retrieve("greeter", actor.NewID("greeter", "42"))
	_, err := proxy.Call(context.Background(), "Ping", nil)
	require.NotNil(t, err)
	require.Equal(t, actorerror.KindApplication, err.Kind)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCallRetriesOnActorLockFailedThenSucceeds(t *testing.T) {
	var calls int32
	local := transport.NewLocal()
	local.Register("app-a", func(ctx context.Context, req transport.InvokeRequest) transport.InvokeResponse {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return transport.InvokeResponse{Error: actorerror.New(actorerror.CodeActorLockFailed, "locked", nil)}
		}
		return transport.InvokeResponse{Result: "ok"}
	})
	resolver := NewRegistryResolver()
	resolver.Update(registry.Snapshot{ActorInfo: map[string]registry.ActorInfo{
		"greeter": {Applications: []string{"app-a"}},
	}})
	p := newTestPortal(t, local, resolver)
	proxy := p.Retrieve("greeter", actor.NewID("greeter", "42"))
	result, err := proxy.Call(context.Background(), "Ping", nil)
	require.Nil(t, err)
	require.Equal(t, "ok", result)
	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
}

func TestCallRedirectsToNewDestination(t *testing.T) {
	local := transport.NewLocal()
	local.Register("app-a", func(ctx context.Context, req transport.InvokeRequest) transport.InvokeResponse {
		return transport.InvokeResponse{Error: actorerror.Redirect("app-b")}
	})
	local.Register("app-b", func(ctx context.Context, req transport.InvokeRequest) transport.InvokeResponse {
		return transport.InvokeResponse{Result: "from-b"}
	})
	resolver := NewRegistryResolver()
	resolver.Update(registry.Snapshot{ActorInfo: map[string]registry.ActorInfo{
		"greeter": {Applications: []string{"app-a"}},
	}})
	p := newTestPortal(t, local, resolver)
	proxy := p.Retrieve("greeter", actor.NewID("greeter", "42"))
	result, err := proxy.Call(context.Background(), "Ping", nil)
	require.Nil(t, err)
	require.Equal(t, "from-b", result)
}

func TestCallDeadlineExceededReturnsInvokeErrorWithAttempts(t *testing.T) {
	local := transport.NewLocal()
	local.Register("app-a", func(ctx context.Context, req transport.InvokeRequest) transport.InvokeResponse {
		return transport.InvokeResponse{Error: actorerror.New(actorerror.CodeActorLockFailed, "locked", nil)}
	})
	resolver := NewRegistryResolver()
	resolver.Update(registry.Snapshot{ActorInfo: map[string]registry.ActorInfo{
		"greeter": {Applications: []string{"app-a"}},
	}})
	p, err := New(local, resolver, Options{
		AttemptTimeout: 20 * time.Millisecond,
		Deadline:       60 * time.Millisecond,
		Backoff:        backoff.Options{InitialInterval: time.Millisecond},
	})
	require.NoError(t, err)
	proxy := p.Retrieve("greeter", actor.NewID("greeter", "42"))
	_, callErr := proxy.Call(context.Background(), "Ping", nil)
	require.NotNil(t, callErr)
	require.Equal(t, actorerror.CodeInvokeError, callErr.Code)
	attempts, ok := callErr.Parameters["attempts"].([]actorerror.Attempt)
	require.True(t, ok)
	require.NotEmpty(t, attempts)
	for i := 1; i < len(attempts); i++ {
		require.GreaterOrEqual(t, attempts[i].RequestTime, attempts[i-1].RequestTime)
	}
}
