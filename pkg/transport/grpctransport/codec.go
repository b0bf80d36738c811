// Package grpctransport binds pkg/transport onto gRPC. The transport
// envelope and its payloads are plain Go structs (pkg/transport.Envelope),
// not protobuf messages, so rather than generating stubs with protoc this
// package registers a JSON grpc.Codec under its own content-subtype and
// hand-writes a single unary grpc.ServiceDesc for it — the same "gRPC
// server hosting a small, explicit set of RPCs" shape as substrate's
// internal/api/grpc package, minus the protoc-generated marshalling.
package grpctransport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const contentSubtype = "darleanjson"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements encoding.Codec by marshalling with encoding/json.
// grpc.Codec historically required a Name() consulted via the
// "application/grpc+<name>" content-subtype negotiated by CallContentSubtype.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return contentSubtype
}

func callContentSubtype() string {
	return contentSubtype
}
