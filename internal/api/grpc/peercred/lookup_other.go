//go:build !linux

package peercred

import (
	"errors"
	"fmt"
	"runtime"
	"syscall"
)

var errUnsupportedPlatform = errors.New("peer credentials are not supported")

// lookupPeer fails: only Linux exposes SO_PEERCRED.
func lookupPeer(syscall.Conn) (AuthInfo, error) {
	return AuthInfo{}, fmt.Errorf("%s: %w", runtime.GOOS, errUnsupportedPlatform)
}
