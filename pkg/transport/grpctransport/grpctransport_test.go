package grpctransport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/darlean-io/darlean-go/pkg/dlog"
	"github.com/darlean-io/darlean-go/pkg/transport"
)

func TestInvokeRoundTripsOverLoopback(t *testing.T) {
	srv := NewServer(DefaultServerConfig("127.0.0.1:0"), func(ctx context.Context, req transport.InvokeRequest) transport.InvokeResponse {
		return transport.InvokeResponse{Result: req.ActionName}
	}, dlog.Nop())
	require.NoError(t, srv.Start())
	defer srv.Stop()

	addr := srv.listener.Addr().String()
	client := NewClient(func(appID string) (string, bool) {
		if appID == "peer" {
			return addr, true
		}
		return "", false
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Invoke(ctx, "peer", transport.InvokeRequest{ActionName: "hello"})
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Result)
}

func TestInvokeUnknownDestinationReturnsFrameworkError(t *testing.T) {
	client := NewClient(func(appID string) (string, bool) { return "", false })
	resp, err := client.Invoke(context.Background(), "ghost", transport.InvokeRequest{})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
}
