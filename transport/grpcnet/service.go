package grpcnet

import (
	"context"

	"google.golang.org/grpc"

	"github.com/scootdev/grid/domain"
	"github.com/scootdev/grid/transport"
)

const serviceName = "grid.Node"

const (
	invokeMethod = "/" + serviceName + "/Invoke"
	sendMethod   = "/" + serviceName + "/Send"
	advertMethod = "/" + serviceName + "/Advert"
)

type advertMessage struct {
	From   domain.Endpoint `json:"from"`
	Advert domain.Advert   `json:"advert"`
}

type empty struct{}

// nodeServer is what serviceDesc dispatches to.
type nodeServer interface {
	invoke(ctx context.Context, req *transport.Request) (*transport.Reply, error)
	send(ctx context.Context, req *transport.Request) (*empty, error)
	advert(ctx context.Context, msg *advertMessage) (*empty, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*nodeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: invokeHandler},
		{MethodName: "Send", Handler: sendHandler},
		{MethodName: "Advert", Handler: advertHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "grid/node",
}

func invokeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.Request)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(nodeServer).invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: invokeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(nodeServer).invoke(ctx, req.(*transport.Request))
	}
	return interceptor(ctx, in, info, handler)
}

func sendHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.Request)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(nodeServer).send(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: sendMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(nodeServer).send(ctx, req.(*transport.Request))
	}
	return interceptor(ctx, in, info, handler)
}

func advertHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(advertMessage)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(nodeServer).advert(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: advertMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(nodeServer).advert(ctx, req.(*advertMessage))
	}
	return interceptor(ctx, in, info, handler)
}
