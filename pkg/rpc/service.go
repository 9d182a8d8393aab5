// Package rpc 通过 gRPC 暴露定位服务
//
// 请求与响应均为 google.protobuf.Struct：
//
//	请求: {"reference": "ref.png", "query": "icon.png", "region": "0,0,800,600"}
//	响应: {"status": 0, "top_left": [x, y], "bottom_right": [x, y], "scale": 1.0}
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName 服务全名
	ServiceName = "keylefinder.v1.Locator"
	// LocateMethod Locate 方法全路径
	LocateMethod = "/" + ServiceName + "/Locate"
)

// LocatorServer 定位服务接口
type LocatorServer interface {
	Locate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterLocatorServer 注册定位服务
func RegisterLocatorServer(s grpc.ServiceRegistrar, srv LocatorServer) {
	s.RegisterService(&LocatorServiceDesc, srv)
}

func locateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LocatorServer).Locate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: LocateMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LocatorServer).Locate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// LocatorServiceDesc 定位服务描述
var LocatorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LocatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Locate",
			Handler:    locateHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "keylefinder/v1/locator.proto",
}
