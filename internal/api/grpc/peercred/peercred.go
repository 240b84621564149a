package peercred

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
)

// AuthType is reported by AuthInfo.
const AuthType = "peercred"

var (
	errNotSyscallConn = errors.New("connection does not expose a file descriptor")
	errNoPeer         = errors.New("no peer in context")
	errNoCredentials  = errors.New("peer has no process credentials")
	errInvalidPID     = errors.New("invalid peer pid")
)

// AuthInfo holds the credentials of the peer process.
type AuthInfo struct {
	credentials.CommonAuthInfo

	PID int32
	UID uint32
	GID uint32
}

// AuthType implements credentials.AuthInfo.
func (AuthInfo) AuthType() string {
	return AuthType
}

// TransportCredentials reads the peer credentials of every connection during the
// handshake. The connection itself is left untouched.
type TransportCredentials struct {
	// lookup reads the credentials of a connection.
	lookup func(conn syscall.Conn) (AuthInfo, error)
}

// New returns credentials for both ends of a unix socket.
func New() *TransportCredentials {
	return &TransportCredentials{lookup: lookupPeer}
}

// ClientHandshake records the credentials of the server process.
func (c *TransportCredentials) ClientHandshake(
	_ context.Context,
	_ string,
	conn net.Conn,
) (net.Conn, credentials.AuthInfo, error) {
	return c.handshake(conn)
}

// ServerHandshake records the credentials of the client process.
func (c *TransportCredentials) ServerHandshake(conn net.Conn) (net.Conn, credentials.AuthInfo, error) {
	return c.handshake(conn)
}

func (c *TransportCredentials) handshake(conn net.Conn) (net.Conn, credentials.AuthInfo, error) {
	raw, ok := conn.(syscall.Conn)
	if !ok {
		return nil, nil, fmt.Errorf("%T: %w", conn, errNotSyscallConn)
	}

	info, err := c.lookup(raw)
	if err != nil {
		return nil, nil, err
	}

	info.CommonAuthInfo = credentials.CommonAuthInfo{SecurityLevel: credentials.NoSecurity}

	return conn, info, nil
}

// Info implements credentials.TransportCredentials.
func (*TransportCredentials) Info() credentials.ProtocolInfo {
	return credentials.ProtocolInfo{SecurityProtocol: AuthType}
}

// Clone implements credentials.TransportCredentials.
func (c *TransportCredentials) Clone() credentials.TransportCredentials {
	return &TransportCredentials{lookup: c.lookup}
}

// OverrideServerName implements credentials.TransportCredentials.
func (*TransportCredentials) OverrideServerName(string) error {
	return nil
}

// FromContext returns the peer credentials of the RPC in ctx.
func FromContext(ctx context.Context) (AuthInfo, error) {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return AuthInfo{}, errNoPeer
	}

	info, ok := p.AuthInfo.(AuthInfo)
	if !ok {
		return AuthInfo{}, fmt.Errorf("%T: %w", p.AuthInfo, errNoCredentials)
	}

	return info, nil
}
