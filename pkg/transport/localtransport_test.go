package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalInvokeDispatchesToRegisteredHandler(t *testing.T) {
	l := NewLocal()
	l.Register("app-a", func(ctx context.Context, req InvokeRequest) InvokeResponse {
		return InvokeResponse{Result: req.ActionName}
	})

	resp, err := l.Invoke(context.Background(), "app-a", InvokeRequest{ActionName: "greet"})
	require.NoError(t, err)
	require.Equal(t, "greet", resp.Result)
}

func TestLocalInvokeUnknownDestination(t *testing.T) {
	l := NewLocal()
	resp, err := l.Invoke(context.Background(), "app-missing", InvokeRequest{})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
}

func TestLocalUnregisterRemovesHandler(t *testing.T) {
	l := NewLocal()
	l.Register("app-a", func(ctx context.Context, req InvokeRequest) InvokeResponse {
		return InvokeResponse{}
	})
	l.Unregister("app-a")
	resp, _ := l.Invoke(context.Background(), "app-a", InvokeRequest{})
	require.NotNil(t, resp.Error)
}
