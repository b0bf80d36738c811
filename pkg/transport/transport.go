// Package transport defines the wire messages of spec §6 and the
// Transport interface that pkg/portal invokes against: a destination
// application id plus an envelope, implemented concretely by
// pkg/transport/grpctransport.
package transport

import (
	"context"

	"github.com/darlean-io/darlean-go/pkg/actorerror"
)

// InvokeRequest is the wire invocation request of spec §6.
type InvokeRequest struct {
	ActorType  string `json:"actorType"`
	ActorID    []string `json:"actorId"`
	ActionName string   `json:"actionName"`
	Arguments  []any    `json:"arguments,omitempty"`
}

// InvokeResponse is the wire invocation response of spec §6.
type InvokeResponse struct {
	Result any                      `json:"result,omitempty"`
	Error  *actorerror.ActionError `json:"error,omitempty"`
}

// Envelope is the transport-level wrapper of spec §6. The transports in
// this module (Local, grpctransport) do not fill ErrorCode/ErrorParameters:
// they report transport errors (connection refused, no such application,
// etc.) as a framework ActionError in InvokeResponse.Error, never thrown,
// so a Transport.Invoke call only returns a Go error for truly
// unrecoverable local conditions (e.g. a cancelled context).
type Envelope struct {
	Destination     string                 `json:"destination"`
	Content         InvokeRequest          `json:"content"`
	ErrorCode       string                 `json:"errorCode,omitempty"`
	ErrorParameters map[string]any `json:"errorParameters,omitempty"`
}

// Transport is what pkg/portal invokes against. Implementations never
// panic and never return a framework ActionError as the Go error; a
// non-nil Go error means the call could not even be attempted (e.g.
// ctx cancelled before dialing).
type Transport interface {
	Invoke(ctx context.Context, destination string, req InvokeRequest) (InvokeResponse, error)
}
