package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/darlean-io/darlean-go/pkg/transport"
)

func TestClientPushObtainRoundTrip(t *testing.T) {
	tr := transport.NewLocal()
	reg := New(0)
	tr.Register("app-registry", Handler(reg))

	client := NewClient(tr, "app-registry")
	err := client.Push(context.Background(), "app-a", map[string]ActorInfo{
		"widget": {Applications: []string{"app-a"}},
	})
	require.NoError(t, err)

	snap, err := client.Obtain(context.Background(), nil, "")
	require.NoError(t, err)
	require.Contains(t, snap.ActorInfo, "widget")
	require.Equal(t, []string{"app-a"}, snap.ActorInfo["widget"].Applications)
}

func TestClientObtainUnchangedNonceLongPolls(t *testing.T) {
	tr := transport.NewLocal()
	reg := New(0)
	tr.Register("app-registry", Handler(reg))
	client := NewClient(tr, "app-registry")

	first, err := client.Obtain(context.Background(), nil, "")
	require.NoError(t, err)

	done := make(chan Snapshot, 1)
	go func() {
		snap, _ := client.Obtain(context.Background(), nil, first.Nonce)
		done <- snap
	}()

	require.NoError(t, client.Push(context.Background(), "app-b", map[string]ActorInfo{
		"gadget": {Applications: []string{"app-b"}},
	}))

	snap := <-done
	require.NotEqual(t, first.Nonce, snap.Nonce)
	require.Contains(t, snap.ActorInfo, "gadget")
}
