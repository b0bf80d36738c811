// remote.go wires a Replica onto a transport.Transport, reached by its
// application id directly (spec §4.4's `actorLock.apps` names destination
// applications, not registry-resolved actor instances) rather than
// through pkg/portal/pkg/registry placement.
package lock

import (
	"context"
	"time"

	"github.com/darlean-io/darlean-go/pkg/actorerror"
	"github.com/darlean-io/darlean-go/pkg/transport"
)

const replicaActorType = "darlean.lockreplica"

// RemoteReplicaClient reaches one replica application over a transport.
type RemoteReplicaClient struct {
	Transport   transport.Transport
	Destination string
}

func (c *RemoteReplicaClient) invoke(ctx context.Context, action string, args []any) (transport.InvokeResponse, error) {
	return c.Transport.Invoke(ctx, c.Destination, transport.InvokeRequest{
		ActorType:  replicaActorType,
		ActorID:    []string{c.Destination},
		ActionName: action,
		Arguments:  args,
	})
}

func (c *RemoteReplicaClient) Acquire(ctx context.Context, id, requester, acquireID string, ttl time.Duration) (AcquireResult, error) {
	resp, err := c.invoke(ctx, "acquire", []any{id, requester, acquireID, ttl.Milliseconds()})
	if err != nil {
		return AcquireResult{}, err
	}
	if resp.Error != nil {
		return AcquireResult{}, resp.Error
	}
	res, _ := resp.Result.(AcquireResult)
	return res, nil
}

func (c *RemoteReplicaClient) Release(ctx context.Context, id, requester, acquireID string) error {
	resp, err := c.invoke(ctx, "release", []any{id, requester, acquireID})
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

func (c *RemoteReplicaClient) Holder(ctx context.Context, id string) (string, bool, error) {
	resp, err := c.invoke(ctx, "holder", []any{id})
	if err != nil {
		return "", false, err
	}
	if resp.Error != nil {
		return "", false, resp.Error
	}
	holder, _ := resp.Result.(string)
	return holder, holder != "", nil
}

// Handler returns a transport.Handler that serves r's acquire/release/
// holder actions for this node's own replica, to be registered under this
// application's id.
func Handler(r *Replica) transport.Handler {
	return func(ctx context.Context, req transport.InvokeRequest) transport.InvokeResponse {
		switch req.ActionName {
		case "acquire":
			if len(req.Arguments) != 4 {
				return errResp(actorerror.New(actorerror.CodeFrameworkError, "acquire expects 4 arguments", nil))
			}
			id, _ := req.Arguments[0].(string)
			requester, _ := req.Arguments[1].(string)
			acquireID, _ := req.Arguments[2].(string)
			ttlMillis, _ := toInt64(req.Arguments[3])
			res := r.Acquire(id, requester, acquireID, time.Duration(ttlMillis)*time.Millisecond)
			return transport.InvokeResponse{Result: res}
		case "release":
			if len(req.Arguments) != 3 {
				return errResp(actorerror.New(actorerror.CodeFrameworkError, "release expects 3 arguments", nil))
			}
			id, _ := req.Arguments[0].(string)
			requester, _ := req.Arguments[1].(string)
			acquireID, _ := req.Arguments[2].(string)
			r.Release(id, requester, acquireID)
			return transport.InvokeResponse{}
		case "holder":
			if len(req.Arguments) != 1 {
				return errResp(actorerror.New(actorerror.CodeFrameworkError, "holder expects 1 argument", nil))
			}
			id, _ := req.Arguments[0].(string)
			holder, _ := r.Holder(id)
			return transport.InvokeResponse{Result: holder}
		default:
			return errResp(actorerror.New(actorerror.CodeUnknownAction, "Unknown action [action] on actor type [type]",
				map[string]any{"action": req.ActionName, "type": replicaActorType}))
		}
	}
}

func errResp(e *actorerror.ActionError) transport.InvokeResponse {
	return transport.InvokeResponse{Error: e}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
