package lock

import (
	"context"
	"testing"
	"time"

	"github.com/darlean-io/darlean-go/pkg/transport"
	"github.com/stretchr/testify/require"
)

func TestRemoteReplicaClientAcquireRoundTrips(t *testing.T) {
	tr := transport.NewLocal()
	replica := NewReplica()
	tr.Register("app-b", Handler(replica))

	client := &RemoteReplicaClient{Transport: tr, Destination: "app-b"}
	res, err := client.Acquire(context.Background(), "lock-1", "app-a", "acq-1", time.Second)
	require.NoError(t, err)
	require.True(t, res.Granted)

	holder, found, err := client.Holder(context.Background(), "lock-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "app-a", holder)

	require.NoError(t, client.Release(context.Background(), "lock-1", "app-a", "acq-1"))

	_, found, err = client.Holder(context.Background(), "lock-1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRemoteReplicaClientConflictDenies(t *testing.T) {
	tr := transport.NewLocal()
	replica := NewReplica()
	tr.Register("app-b", Handler(replica))

	client := &RemoteReplicaClient{Transport: tr, Destination: "app-b"}
	_, err := client.Acquire(context.Background(), "lock-1", "app-a", "acq-1", time.Second)
	require.NoError(t, err)

	res, err := client.Acquire(context.Background(), "lock-1", "app-c", "acq-2", time.Second)
	require.NoError(t, err)
	require.False(t, res.Granted)
}

func TestHandlerRejectsUnknownAction(t *testing.T) {
	replica := NewReplica()
	h := Handler(replica)
	resp := h(context.Background(), transport.InvokeRequest{ActionName: "bogus"})
	require.NotNil(t, resp.Error)
}
