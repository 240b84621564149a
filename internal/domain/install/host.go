package install

import (
	"context"
	"io"
)

// ResultSender delivers a host outcome to whoever is waiting for it.
type ResultSender interface {
	Send(ctx context.Context, result Result) error
}

// Session is an open handle to a host installation session.
type Session interface {
	// Names lists the files written to the session. It fails once the handle is stale.
	Names() ([]string, error)
	// OpenWrite opens a writer for name starting at offset; length -1 means unknown.
	OpenWrite(name string, offset, length int64) (io.WriteCloser, error)
	// Fsync makes everything written to w durable.
	Fsync(w io.Writer) error
	// Commit finalizes the session; the outcome is delivered through sender.
	Commit(sender ResultSender) error
	// Close releases the local handle; it does not abandon the session.
	Close() error
}

// Installer is the host package installer service.
type Installer interface {
	CreateSession(ctx context.Context, params SessionParams) (int, error)
	SessionInfo(ctx context.Context, sessionID int) (*SessionInfo, error)
	OpenSession(ctx context.Context, sessionID int) (Session, error)
	// AbandonSession destroys a session. ErrSessionNotFound means it is already gone.
	AbandonSession(ctx context.Context, sessionID int) error
	Uninstall(ctx context.Context, packageName string, sender ResultSender) error
	// ActiveSessions lists sessions owned by the broker that the host still tracks.
	ActiveSessions(ctx context.Context) ([]*SessionInfo, error)
	InstalledPackages(ctx context.Context, flags int) ([]PackageInfo, error)
	// SetInstallerOfRecord marks installerName as the installer of packageName.
	SetInstallerOfRecord(ctx context.Context, packageName, installerName string) error
}

// IdentityService resolves callers to packages and packages to certificates.
type IdentityService interface {
	PackagesForCaller(ctx context.Context, caller CallerID) ([]string, error)
	// Certificates returns the raw certificate blobs of a package in host order.
	Certificates(ctx context.Context, packageName string) ([][]byte, error)
}

// ContentResolver opens the byte stream behind a package URI.
type ContentResolver interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// UserActionSink surfaces follow-up actions to the user.
type UserActionSink interface {
	Forward(ctx context.Context, action *FollowUpAction)
}

// Callback receives the caller-facing result of an install or uninstall.
type Callback interface {
	HandleResult(packageName string, code int)
}

// CallbackFunc adapts a function to Callback.
type CallbackFunc func(packageName string, code int)

// HandleResult implements Callback.
func (f CallbackFunc) HandleResult(packageName string, code int) {
	f(packageName, code)
}
