//go:build linux

package peercred

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// lookupPeer reads SO_PEERCRED from the socket.
func lookupPeer(conn syscall.Conn) (AuthInfo, error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return AuthInfo{}, fmt.Errorf("raw connection: %w", err)
	}

	var (
		ucred   *unix.Ucred
		credErr error
	)

	controlErr := rawConn.Control(func(fd uintptr) {
		ucred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})

	if controlErr != nil {
		return AuthInfo{}, fmt.Errorf("access socket: %w", controlErr)
	}

	if credErr != nil {
		return AuthInfo{}, fmt.Errorf("get SO_PEERCRED: %w", credErr)
	}

	if ucred.Pid <= 0 {
		return AuthInfo{}, fmt.Errorf("%d: %w", ucred.Pid, errInvalidPID)
	}

	return AuthInfo{PID: ucred.Pid, UID: ucred.Uid, GID: ucred.Gid}, nil
}
