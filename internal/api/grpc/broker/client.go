package broker

import (
	"context"

	"google.golang.org/grpc"
)

// Client is the client API of the broker.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection to the broker.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// HasPrivilegedPermissions reports whether the calling process is trusted.
func (c *Client) HasPrivilegedPermissions(
	ctx context.Context,
	in *PermissionsRequest,
	opts ...grpc.CallOption,
) (*PermissionsResponse, error) {
	out := new(PermissionsResponse)
	if err := c.cc.Invoke(ctx, HasPrivilegedPermissionsMethod, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}

	return out, nil
}

// GetInstalledPackages lists installed packages.
func (c *Client) GetInstalledPackages(
	ctx context.Context,
	in *InstalledPackagesRequest,
	opts ...grpc.CallOption,
) (*InstalledPackagesResponse, error) {
	out := new(InstalledPackagesResponse)
	if err := c.cc.Invoke(ctx, GetInstalledPackagesMethod, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}

	return out, nil
}

// ConfirmSession approves or rejects a commit waiting for the user.
func (c *Client) ConfirmSession(
	ctx context.Context,
	in *ConfirmRequest,
	opts ...grpc.CallOption,
) (*ConfirmResponse, error) {
	out := new(ConfirmResponse)
	if err := c.cc.Invoke(ctx, ConfirmSessionMethod, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}

	return out, nil
}

// InstallPackage starts an install and returns its event stream.
func (c *Client) InstallPackage(
	ctx context.Context,
	in *InstallRequest,
	opts ...grpc.CallOption,
) (grpc.ServerStreamingClient[Event], error) {
	return openStream[InstallRequest](ctx, c.cc, &ServiceDesc.Streams[0], InstallPackageMethod, in, opts)
}

// DeletePackage starts an uninstall and returns its event stream.
func (c *Client) DeletePackage(
	ctx context.Context,
	in *DeleteRequest,
	opts ...grpc.CallOption,
) (grpc.ServerStreamingClient[Event], error) {
	return openStream[DeleteRequest](ctx, c.cc, &ServiceDesc.Streams[1], DeletePackageMethod, in, opts)
}

func openStream[Req any](
	ctx context.Context,
	cc grpc.ClientConnInterface,
	desc *grpc.StreamDesc,
	method string,
	in *Req,
	opts []grpc.CallOption,
) (grpc.ServerStreamingClient[Event], error) {
	stream, err := cc.NewStream(ctx, desc, method, callOptions(opts)...)
	if err != nil {
		return nil, err
	}

	x := &grpc.GenericClientStream[Req, Event]{ClientStream: stream}
	if err = x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}

	if err = x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}

	return x, nil
}

// callOptions selects the CBOR codec ahead of caller options.
func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
