package grpctransport

import (
	"context"
	"errors"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/darlean-io/darlean-go/pkg/actorerror"
	"github.com/darlean-io/darlean-go/pkg/transport"
)

// Client implements transport.Transport by dialing one gRPC connection per
// destination application and caching it, the same one-conn-per-peer shape
// substrate's mailclient.Client uses against its generated stubs.
type Client struct {
	mu      sync.Mutex
	conns   map[string]*grpc.ClientConn
	addrOf  func(appID string) (string, bool)
	dialOpt []grpc.DialOption
}

// NewClient constructs a Client. addrOf resolves an application id to a
// dial address (host:port); it typically wraps a static config map or a
// service-discovery lookup.
func NewClient(addrOf func(appID string) (string, bool)) *Client {
	return &Client{
		conns:  make(map[string]*grpc.ClientConn),
		addrOf: addrOf,
		dialOpt: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.CallContentSubtype(contentSubtype)),
		},
	}
}

func (c *Client) connFor(destination string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[destination]; ok {
		return conn, nil
	}
	addr, ok := c.addrOf(destination)
	if !ok {
		return nil, errUnknownDestination
	}
	conn, err := grpc.Dial(addr, c.dialOpt...)
	if err != nil {
		return nil, err
	}
	c.conns[destination] = conn
	return conn, nil
}

// Invoke dials (or reuses a dial to) destination and performs the unary
// Invoke RPC. A dial or RPC-transport failure is reported as a framework
// ActionError inside the returned InvokeResponse, never as the Go error
// return, so pkg/portal's retry logic only has to look at one place; the
// error return here is reserved for a cancelled/expired ctx.
func (c *Client) Invoke(ctx context.Context, destination string, req transport.InvokeRequest) (transport.InvokeResponse, error) {
	conn, err := c.connFor(destination)
	if err != nil {
		return transport.InvokeResponse{Error: actorerror.New(actorerror.CodeFrameworkError,
			"Could not reach application [destination]: [error]",
			map[string]any{"destination": destination, "error": err.Error()})}, nil
	}

	env := &transport.Envelope{Destination: destination, Content: req}
	out := new(transport.InvokeResponse)
	if err := conn.Invoke(ctx, invokeMethod, env, out); err != nil {
		if ctx.Err() != nil {
			return transport.InvokeResponse{}, ctx.Err()
		}
		return transport.InvokeResponse{Error: actorerror.New(actorerror.CodeFrameworkError,
			"Transport error calling [destination]: [error]",
			map[string]any{"destination": destination, "error": err.Error()})}, nil
	}
	return *out, nil
}

// Close tears down every cached connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conn := range c.conns {
		_ = conn.Close()
	}
	c.conns = make(map[string]*grpc.ClientConn)
}

var errUnknownDestination = errors.New("unknown destination application")
