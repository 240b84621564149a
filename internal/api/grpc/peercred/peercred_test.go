package peercred

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
)

// socketPair returns both ends of a connected unix socket.
func socketPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	listener, err := net.Listen("unix", filepath.Join(t.TempDir(), "s.sock"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	accepted := make(chan net.Conn, 1)

	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			close(accepted)
			return
		}

		accepted <- conn
	}()

	client, err := net.Dial("unix", listener.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	server, ok := <-accepted
	require.True(t, ok)
	t.Cleanup(func() { _ = server.Close() })

	return client, server
}

// TestServerHandshake_ReadsPeerCredentials checks the kernel reports this process.
func TestServerHandshake_ReadsPeerCredentials(t *testing.T) {
	t.Parallel()

	if runtime.GOOS != "linux" {
		t.Skip("SO_PEERCRED is Linux only")
	}

	client, server := socketPair(t)

	conn, authInfo, err := New().ServerHandshake(server)
	require.NoError(t, err)
	require.Same(t, server, conn)

	info, ok := authInfo.(AuthInfo)
	require.True(t, ok)
	require.Equal(t, AuthType, info.AuthType())
	require.EqualValues(t, os.Getuid(), info.UID)
	require.EqualValues(t, os.Getgid(), info.GID)
	require.EqualValues(t, os.Getpid(), info.PID)
	require.Equal(t, credentials.NoSecurity, info.SecurityLevel)

	_, _, err = New().ClientHandshake(context.Background(), "broker", client)
	require.NoError(t, err)
}

// TestHandshake_RejectsForeignConn verifies connections without a descriptor fail.
func TestHandshake_RejectsForeignConn(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})

	_, _, err := New().ServerHandshake(a)
	require.ErrorIs(t, err, errNotSyscallConn)
}

// TestFromContext covers peers with and without credentials.
func TestFromContext(t *testing.T) {
	t.Parallel()

	_, err := FromContext(context.Background())
	require.ErrorIs(t, err, errNoPeer)

	ctx := peer.NewContext(context.Background(), &peer.Peer{})
	_, err = FromContext(ctx)
	require.ErrorIs(t, err, errNoCredentials)

	want := AuthInfo{PID: 10, UID: 10042, GID: 10042}
	ctx = peer.NewContext(context.Background(), &peer.Peer{AuthInfo: want})

	got, err := FromContext(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

// TestClone keeps the lookup.
func TestClone(t *testing.T) {
	t.Parallel()

	creds := New()
	cloned, ok := creds.Clone().(*TransportCredentials)
	require.True(t, ok)
	require.NotNil(t, cloned.lookup)
	require.Equal(t, AuthType, cloned.Info().SecurityProtocol)
	require.NoError(t, cloned.OverrideServerName("ignored"))
}
