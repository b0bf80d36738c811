// client.go is the network-facing half of the registry of spec §4.5: a
// thin client that reaches a remote node's Registry over the same
// transport.Transport portal invocation uses, plus a long-poll loop that
// feeds a portal.Resolver-shaped sink. Concurrent Obtain callers waiting
// on the same nonce are coalesced into a single in-flight long-poll via
// golang.org/x/sync/singleflight, the same role nola's kvRegistry plays
// for its own GetVersionStamp callers.
package registry

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/darlean-io/darlean-go/pkg/actorerror"
	"github.com/darlean-io/darlean-go/pkg/transport"
)

const actorType = "darlean.registry"

// Client reaches a registry hosted by a remote application over tp.
type Client struct {
	Transport   transport.Transport
	Destination string

	group singleflight.Group
}

// NewClient constructs a Client for the registry hosted at destination.
func NewClient(tp transport.Transport, destination string) *Client {
	return &Client{Transport: tp, Destination: destination}
}

// Push reports this application's hosted actor types to the remote
// registry.
func (c *Client) Push(ctx context.Context, application string, info map[string]ActorInfo) error {
	resp, err := c.Transport.Invoke(ctx, c.Destination, transport.InvokeRequest{
		ActorType:  actorType,
		ActionName: "push",
		Arguments:  []any{application, info},
	})
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

// Obtain performs one long-poll round-trip, coalescing concurrent callers
// sharing the same (actorTypes, nonce) key into a single in-flight call.
func (c *Client) Obtain(ctx context.Context, actorTypes []string, nonce string) (Snapshot, error) {
	key := nonce
	for _, t := range actorTypes {
		key += "\x00" + t
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		resp, err := c.Transport.Invoke(ctx, c.Destination, transport.InvokeRequest{
			ActorType:  actorType,
			ActionName: "obtain",
			Arguments:  []any{actorTypes, nonce},
		})
		if err != nil {
			return Snapshot{}, err
		}
		if resp.Error != nil {
			return Snapshot{}, resp.Error
		}
		snap, _ := resp.Result.(Snapshot)
		return snap, nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

// PollLoop repeatedly calls Obtain and hands each resulting Snapshot to
// onUpdate, until ctx is cancelled. A failed round-trip backs off briefly
// before retrying rather than busy-looping against an unreachable
// destination.
func (c *Client) PollLoop(ctx context.Context, actorTypes []string, onUpdate func(Snapshot)) {
	nonce := ""
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		snap, err := c.Obtain(ctx, actorTypes, nonce)
		if err != nil {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		nonce = snap.Nonce
		onUpdate(snap)
	}
}

// Handler returns a transport.Handler serving r's push/obtain actions, to
// be registered under this application's own id.
func Handler(r *Registry) transport.Handler {
	return func(ctx context.Context, req transport.InvokeRequest) transport.InvokeResponse {
		switch req.ActionName {
		case "push":
			if len(req.Arguments) != 2 {
				return errResp(actorerror.New(actorerror.CodeFrameworkError, "push expects 2 arguments", nil))
			}
			application, _ := req.Arguments[0].(string)
			info, _ := req.Arguments[1].(map[string]ActorInfo)
			r.Push(application, info)
			return transport.InvokeResponse{}
		case "obtain":
			if len(req.Arguments) != 2 {
				return errResp(actorerror.New(actorerror.CodeFrameworkError, "obtain expects 2 arguments", nil))
			}
			actorTypes, _ := req.Arguments[0].([]string)
			nonce, _ := req.Arguments[1].(string)
			snap := r.Obtain(ctx, actorTypes, nonce)
			return transport.InvokeResponse{Result: snap}
		default:
			return errResp(actorerror.New(actorerror.CodeUnknownAction, "Unknown action [action] on actor type [type]",
				map[string]any{"action": req.ActionName, "type": actorType}))
		}
	}
}

func errResp(e *actorerror.ActionError) transport.InvokeResponse {
	return transport.InvokeResponse{Error: e}
}
