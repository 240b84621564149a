package broker

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "pkgbroker.v1.PrivilegedService"

// Full method names.
const (
	HasPrivilegedPermissionsMethod = "/" + ServiceName + "/HasPrivilegedPermissions"
	InstallPackageMethod           = "/" + ServiceName + "/InstallPackage"
	DeletePackageMethod            = "/" + ServiceName + "/DeletePackage"
	GetInstalledPackagesMethod     = "/" + ServiceName + "/GetInstalledPackages"
	ConfirmSessionMethod           = "/" + ServiceName + "/ConfirmSession"
)

// PrivilegedServiceServer is the server API of the broker.
type PrivilegedServiceServer interface {
	HasPrivilegedPermissions(ctx context.Context, req *PermissionsRequest) (*PermissionsResponse, error)
	InstallPackage(req *InstallRequest, stream grpc.ServerStreamingServer[Event]) error
	DeletePackage(req *DeleteRequest, stream grpc.ServerStreamingServer[Event]) error
	GetInstalledPackages(ctx context.Context, req *InstalledPackagesRequest) (*InstalledPackagesResponse, error)
	ConfirmSession(ctx context.Context, req *ConfirmRequest) (*ConfirmResponse, error)
}

// RegisterPrivilegedServiceServer registers srv on s.
func RegisterPrivilegedServiceServer(s grpc.ServiceRegistrar, srv PrivilegedServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the broker service.
//
//nolint:gochecknoglobals // gRPC registration needs an addressable descriptor.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PrivilegedServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "HasPrivilegedPermissions",
			Handler:    hasPrivilegedPermissionsHandler,
		},
		{
			MethodName: "GetInstalledPackages",
			Handler:    getInstalledPackagesHandler,
		},
		{
			MethodName: "ConfirmSession",
			Handler:    confirmSessionHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "InstallPackage",
			Handler:       installPackageHandler,
			ServerStreams: true,
		},
		{
			StreamName:    "DeletePackage",
			Handler:       deletePackageHandler,
			ServerStreams: true,
		},
	},
	Metadata: "pkgbroker/v1",
}

func hasPrivilegedPermissionsHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(PermissionsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(PrivilegedServiceServer).HasPrivilegedPermissions(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: HasPrivilegedPermissionsMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PrivilegedServiceServer).HasPrivilegedPermissions(ctx, req.(*PermissionsRequest))
	}

	return interceptor(ctx, in, info, handler)
}

func getInstalledPackagesHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(InstalledPackagesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(PrivilegedServiceServer).GetInstalledPackages(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetInstalledPackagesMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PrivilegedServiceServer).GetInstalledPackages(ctx, req.(*InstalledPackagesRequest))
	}

	return interceptor(ctx, in, info, handler)
}

func confirmSessionHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(ConfirmRequest)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(PrivilegedServiceServer).ConfirmSession(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ConfirmSessionMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PrivilegedServiceServer).ConfirmSession(ctx, req.(*ConfirmRequest))
	}

	return interceptor(ctx, in, info, handler)
}

func installPackageHandler(srv any, stream grpc.ServerStream) error {
	in := new(InstallRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	return srv.(PrivilegedServiceServer).InstallPackage(in, &grpc.GenericServerStream[InstallRequest, Event]{ServerStream: stream})
}

func deletePackageHandler(srv any, stream grpc.ServerStream) error {
	in := new(DeleteRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	return srv.(PrivilegedServiceServer).DeletePackage(in, &grpc.GenericServerStream[DeleteRequest, Event]{ServerStream: stream})
}
