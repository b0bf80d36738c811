package grpctransport

import (
	"context"

	"google.golang.org/grpc"

	"github.com/darlean-io/darlean-go/pkg/transport"
)

const (
	serviceName  = "darlean.Transport"
	invokeMethod = "/" + serviceName + "/Invoke"
)

// envelopeServer is the Invoke method a grpc.ServiceDesc handler dispatches
// to; Server implements it by delegating to a transport.Handler for this
// node's own appId. The request is the spec §6 transport envelope; the
// response is the plain invocation response, since a unary RPC needs no
// envelope of its own on the way back.
type envelopeServer interface {
	Invoke(ctx context.Context, req *transport.Envelope) (*transport.InvokeResponse, error)
}

func invokeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(transport.Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(envelopeServer).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: invokeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(envelopeServer).Invoke(ctx, req.(*transport.Envelope))
	}
	return interceptor(ctx, in, info, handler)
}

// serviceDesc is the hand-written equivalent of a protoc-generated
// grpc.ServiceDesc for a single unary RPC, since the envelope is carried
// as a JSON-coded Go struct rather than a protobuf message.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*envelopeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Invoke",
			Handler:    invokeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "darlean/transport.proto",
}
