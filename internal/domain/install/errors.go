package install

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorizedCaller is returned when the caller fails the allow-list check.
	ErrUnauthorizedCaller = errors.New("caller is not allowed")
	// ErrIdentityResolution means the host knows no package for the caller.
	ErrIdentityResolution = errors.New("no packages associated with caller")
	// ErrSessionCreateOrOpen marks a terminal failure to create or open a session.
	ErrSessionCreateOrOpen = errors.New("unable to create or open session")
	// ErrStreamCopy marks a failure while streaming package bytes into a session.
	ErrStreamCopy = errors.New("unable to stream package into session")
	// ErrStaleSession means a recorded session could not be reopened.
	ErrStaleSession = errors.New("stale session")
	// ErrSessionNotFound is returned by hosts for unknown or finished sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned by session handles used after Close.
	ErrSessionClosed = errors.New("session is closed")
	// ErrPackageNotFound is returned by hosts for packages they do not know.
	ErrPackageNotFound = errors.New("package not found")
)

// HostStatusError is a non-success status delivered by the host.
type HostStatusError struct {
	Status  Status
	Message string
}

// Error implements error.
func (e *HostStatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("host status %s", e.Status)
	}

	return fmt.Sprintf("host status %s: %s", e.Status, e.Message)
}
