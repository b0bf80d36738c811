package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/darlean-io/darlean-go/pkg/actor"
	"github.com/darlean-io/darlean-go/pkg/container"
	"github.com/darlean-io/darlean-go/pkg/lock"
	"github.com/darlean-io/darlean-go/pkg/tables"
	"github.com/darlean-io/darlean-go/pkg/wrapper"
)

type echoActor struct{}

func (e *echoActor) Invoke(ctx context.Context, action string, args []any) (any, error) {
	return args, nil
}

func standaloneConfig() Config {
	return Config{
		AppID: "app-a",
		Runtime: RuntimeConfig{
			Enabled: true,
			ActorRegistry: RegistryConfig{Enabled: true},
			ActorLock:     ActorLockConfig{Enabled: true, Apps: []string{"app-a"}},
			Persistence: PersistenceConfig{
				Enabled: true,
				Specifiers: []SpecifierRule{{Specifier: "*", Compartment: "default"}},
				Handlers:   []HandlerRule{{Compartment: "*", ActorType: "mem"}},
			},
		},
	}
}

func TestStandaloneNodeServesRegisteredActor(t *testing.T) {
	n, err := New(standaloneConfig(), "")
	require.NoError(t, err)

	reg := &wrapper.Registration{
		ActorType: "echo",
		Kind:      actor.Multiplar,
		Actions: map[string]actor.ActionDescriptor{
			"say": {Name: "say", Locking: actor.LockShared, Kind: actor.KindAction},
		},
		Constructor: func(id actor.ID) (wrapper.Instance, error) { return &echoActor{}, nil },
	}
	n.RegisterActor(reg, container.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	time.Sleep(20 * time.Millisecond)
	proxy := n.Portal.Retrieve("echo", actor.NewID("echo", "x"))
	result, actionErr := proxy.Call(context.Background(), "say", []any{"hi"})
	require.Nil(t, actionErr)
	require.Equal(t, []any{"hi"}, result)
}

func TestStandaloneNodeLockServiceGrantsAcquire(t *testing.T) {
	n, err := New(standaloneConfig(), "")
	require.NoError(t, err)
	require.NotNil(t, n.LockService)

	res, actionErr := n.LockService.Acquire(context.Background(), []string{"res-1"}, "requester-a", lock.AcquireOptions{TTL: time.Second})
	require.Nil(t, actionErr)
	require.NotEmpty(t, res.AcquireID)
}

func TestStandaloneNodeTablesPutGet(t *testing.T) {
	n, err := New(standaloneConfig(), "")
	require.NoError(t, err)
	require.NotNil(t, n.Tables)

	_, actionErr := n.Tables.Put(context.Background(), tables.PutRequest{
		ID:      []string{"row-1"},
		Version: "0001",
		Data:    map[string]any{"k": "v"},
	})
	require.Nil(t, actionErr)

	got, getErr := n.Tables.Get(context.Background(), "", []string{"row-1"})
	require.Nil(t, getErr)
	require.NotNil(t, got)
	require.Equal(t, map[string]any{"k": "v"}, got.Data)
}
