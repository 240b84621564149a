package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oshokin/pkgbroker/internal/broadcast"
	"github.com/oshokin/pkgbroker/internal/domain/install"
	"github.com/oshokin/pkgbroker/internal/logger"
)

const (
	// DefaultInstallerName is the installer of record set on installed packages.
	DefaultInstallerName = "org.oshokin.pkgbroker"

	// DefaultBufferSize is the copy buffer used when streaming packages into a session.
	DefaultBufferSize = 1024 * 1024

	// Action namespaces of the one-shot result receivers.
	actionInstallCommit   = "org.oshokin.pkgbroker.INSTALL_COMMIT"
	actionUninstallCommit = "org.oshokin.pkgbroker.UNINSTALL_COMMIT"
)

// InstallAction returns the receiver key for the commit of packageName.
func InstallAction(packageName string) string {
	return actionInstallCommit + "." + packageName
}

// UninstallAction returns the receiver key for the uninstall of packageName.
func UninstallAction(packageName string) string {
	return actionUninstallCommit + "." + packageName
}

// Coordinator owns the per-package session state.
type Coordinator struct {
	installer  install.Installer
	content    install.ContentResolver
	dispatcher *broadcast.Dispatcher

	// userActions receives follow-up actions of callers that cannot take them.
	userActions   install.UserActionSink
	installerName string
	bufferSize    int

	// mu protects sessionInfos and openSessions. It is never held across host calls.
	mu sync.Mutex
	// sessionInfos holds the install session record per package.
	sessionInfos map[string]*install.SessionInfo
	// openSessions holds the open session handle per package.
	openSessions map[string]install.Session

	// locksMu protects locks.
	locksMu sync.Mutex
	// locks serializes Install and Uninstall calls for the same package.
	locks map[string]*packageLock
}

// packageLock is a reference-counted per-package mutex.
type packageLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures the coordinator.
type Option func(*Coordinator)

// WithInstallerName sets the installer of record.
func WithInstallerName(name string) Option {
	return func(c *Coordinator) {
		if name != "" {
			c.installerName = name
		}
	}
}

// WithBufferSize sets the copy buffer size.
func WithBufferSize(size int) Option {
	return func(c *Coordinator) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// WithUserActionSink sets where follow-up actions go when the caller's
// callback does not accept them itself.
func WithUserActionSink(sink install.UserActionSink) Option {
	return func(c *Coordinator) {
		if sink != nil {
			c.userActions = sink
		}
	}
}

// NewCoordinator creates a coordinator. The dispatcher must be running for
// commit and uninstall results to arrive.
func NewCoordinator(
	installer install.Installer,
	content install.ContentResolver,
	dispatcher *broadcast.Dispatcher,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		installer:     installer,
		content:       content,
		dispatcher:    dispatcher,
		userActions:   logSink{},
		installerName: DefaultInstallerName,
		bufferSize:    DefaultBufferSize,
		sessionInfos:  make(map[string]*install.SessionInfo),
		openSessions:  make(map[string]install.Session),
		locks:         make(map[string]*packageLock),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Recover records the sessions the host still tracks for the broker, so a
// restarted broker reuses them instead of creating new ones.
func (c *Coordinator) Recover(ctx context.Context) error {
	sessions, err := c.installer.ActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, info := range sessions {
		if info == nil || info.PackageName == "" {
			continue
		}

		if old, ok := c.sessionInfos[info.PackageName]; ok {
			logger.WarnKV(ctx, "Multiple sessions found, keeping the latest",
				"package", info.PackageName, "removed_session_id", old.SessionID, "kept_session_id", info.SessionID)
		}

		c.sessionInfos[info.PackageName] = info.Clone()
	}

	logger.InfoKV(ctx, "Recovered host sessions", "count", len(c.sessionInfos))

	return nil
}

// Install installs packageName from sources and reports the result through
// callback exactly once, unless the host keeps the commit pending on a user action.
// It blocks on host I/O and must not run on the dispatcher goroutine.
func (c *Coordinator) Install(ctx context.Context, packageName string, sources []string, callback install.Callback) {
	ctx = logger.WithKV(ctx, "package", packageName)
	// Cleanup must finish even when the request goes away.
	cleanupCtx := context.WithoutCancel(ctx)

	unlock := c.lockPackage(packageName)
	defer unlock()

	c.claimPackage(ctx, packageName)

	session, info, err := c.acquireSession(ctx, packageName)
	if err != nil {
		logger.ErrorKV(ctx, "Can't create or open session", "error", err)
		callback.HandleResult(packageName, install.InstallFailedInternalError)

		return
	}

	ctx = logger.WithKV(ctx, "session_id", info.SessionID)

	written, err := c.writeSession(ctx, packageName, session, sources)
	if err != nil {
		logger.ErrorKV(ctx, "Exception while installing", "error", err)
		c.cancelSession(cleanupCtx, info.SessionID, packageName)
		callback.HandleResult(packageName, install.InstallFailedInternalError)

		return
	}

	logger.InfoKV(ctx, "Package streamed into session", "bytes", written, "sources", len(sources))

	// Subscribe before commit so the result cannot arrive unobserved.
	var sub *broadcast.Subscription

	sub = c.dispatcher.Subscribe(InstallAction(packageName), func(resultCtx context.Context, result install.Result) {
		c.handleCommitResult(resultCtx, sub, packageName, info.SessionID, result, callback)
	})

	if err = session.Commit(sub.Sender()); err != nil {
		logger.ErrorKV(ctx, "Commit failed", "error", err)

		if sub.Cancel() {
			c.cancelSession(cleanupCtx, info.SessionID, packageName)
			callback.HandleResult(packageName, install.InstallFailedInternalError)
		}

		return
	}

	// The record stays until the commit result arrives.
	c.closeSession(ctx, packageName)
}

// Uninstall removes packageName and reports the result through callback.
// It waits for an install of the same package to reach its commit first.
func (c *Coordinator) Uninstall(ctx context.Context, packageName string, callback install.Callback) {
	ctx = logger.WithKV(ctx, "package", packageName)

	unlock := c.lockPackage(packageName)
	defer unlock()

	c.claimPackage(ctx, packageName)

	sub := c.dispatcher.Subscribe(UninstallAction(packageName), func(resultCtx context.Context, result install.Result) {
		c.handleUninstallResult(resultCtx, packageName, result, callback)
	})

	if err := c.installer.Uninstall(ctx, packageName, sub.Sender()); err != nil {
		logger.ErrorKV(ctx, "Uninstall request failed", "error", err)

		if sub.Cancel() {
			callback.HandleResult(packageName, install.DeleteFailedInternalError)
		}
	}
}

// InstalledPackages lists installed packages, static shared libraries included.
func (c *Coordinator) InstalledPackages(ctx context.Context, flags int) ([]install.PackageInfo, error) {
	packages, err := c.installer.InstalledPackages(ctx, flags|install.MatchStaticSharedLibraries)
	if err != nil {
		return nil, fmt.Errorf("list installed packages: %w", err)
	}

	return packages, nil
}

// Tracked returns a copy of the session record of packageName and whether a
// handle is held open for it.
func (c *Coordinator) Tracked(packageName string) (*install.SessionInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, open := c.openSessions[packageName]

	return c.sessionInfos[packageName].Clone(), open
}

// claimPackage makes the broker the installer of record. Packages that are
// not installed yet have no installer to set.
func (c *Coordinator) claimPackage(ctx context.Context, packageName string) {
	err := c.installer.SetInstallerOfRecord(ctx, packageName, c.installerName)
	switch {
	case err == nil:
	case errors.Is(err, install.ErrPackageNotFound):
		logger.DebugKV(ctx, "Package is not installed yet")
	default:
		logger.WarnKV(ctx, "Unable to set installer of record", "error", err)
	}
}

// acquireSession recovers the recorded session of packageName or creates a new one.
func (c *Coordinator) acquireSession(ctx context.Context, packageName string) (install.Session, *install.SessionInfo, error) {
	if info := c.record(packageName); info != nil {
		session, err := c.recoverSession(ctx, packageName)
		if err == nil {
			logger.InfoKV(ctx, "Reusing existing session", "session_id", info.SessionID)
			return session, info, nil
		}

		logger.WarnKV(ctx, "Discarded stale session", "session_id", info.SessionID, "error", err)
	}

	info, err := c.createSession(ctx, packageName)
	if err != nil {
		c.dropRecord(packageName, 0)
		return nil, nil, fmt.Errorf("%w: %w", install.ErrSessionCreateOrOpen, err)
	}

	session, err := c.installer.OpenSession(ctx, info.SessionID)
	if err != nil {
		c.dropRecord(packageName, info.SessionID)
		c.abandon(context.WithoutCancel(ctx), info.SessionID)

		return nil, nil, fmt.Errorf("%w: open session %d: %w", install.ErrSessionCreateOrOpen, info.SessionID, err)
	}

	c.mu.Lock()
	c.openSessions[packageName] = session
	c.mu.Unlock()

	return session, info, nil
}

// recoverSession returns the open handle of packageName if it still answers,
// otherwise opens the recorded session. A session that cannot be opened is
// stale and its record is dropped.
func (c *Coordinator) recoverSession(ctx context.Context, packageName string) (install.Session, error) {
	c.mu.Lock()
	session := c.openSessions[packageName]
	c.mu.Unlock()

	if session != nil {
		// Probing the file list is the only reliable liveness check.
		_, err := session.Names()
		if err == nil {
			return session, nil
		}

		logger.WarnKV(ctx, "Stale open session", "error", err)

		c.mu.Lock()
		if c.openSessions[packageName] == session {
			delete(c.openSessions, packageName)
		}
		c.mu.Unlock()

		closeQuietly(ctx, session)
	}

	info := c.record(packageName)
	if info == nil {
		return nil, install.ErrStaleSession
	}

	session, err := c.installer.OpenSession(ctx, info.SessionID)
	if err != nil {
		logger.WarnKV(ctx, "Session record was stale, deleting it", "session_id", info.SessionID)
		c.dropRecord(packageName, info.SessionID)

		return nil, fmt.Errorf("%w: %w", install.ErrStaleSession, err)
	}

	c.mu.Lock()
	c.openSessions[packageName] = session
	c.mu.Unlock()

	return session, nil
}

// createSession asks the host for a new full-install session bound to packageName
// and records it.
func (c *Coordinator) createSession(ctx context.Context, packageName string) (*install.SessionInfo, error) {
	if info := c.record(packageName); info != nil {
		logger.WarnKV(ctx, "Creating session when one already exists", "session_id", info.SessionID)
		return info, nil
	}

	params := install.SessionParams{
		Mode:          install.ModeFullInstall,
		UserAction:    install.UserActionNotRequired,
		PackageName:   packageName,
		InstallerName: c.installerName,
	}

	sessionID, err := c.installer.CreateSession(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	info, err := c.installer.SessionInfo(ctx, sessionID)
	if err != nil {
		c.abandon(context.WithoutCancel(ctx), sessionID)
		return nil, fmt.Errorf("session info %d: %w", sessionID, err)
	}

	c.mu.Lock()
	c.sessionInfos[packageName] = info.Clone()
	c.mu.Unlock()

	logger.InfoKV(ctx, "Session created", "session_id", sessionID)

	return info.Clone(), nil
}

// record returns a copy of the session record of packageName.
func (c *Coordinator) record(packageName string) *install.SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sessionInfos[packageName].Clone()
}

// dropRecord removes the record of packageName. A non-zero sessionID only
// removes the record if it still points at that session.
func (c *Coordinator) dropRecord(packageName string, sessionID int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, ok := c.sessionInfos[packageName]
	if !ok {
		return
	}

	if sessionID != 0 && info.SessionID != sessionID {
		return
	}

	delete(c.sessionInfos, packageName)
}

// closeSession closes the handle held open for packageName, if any.
func (c *Coordinator) closeSession(ctx context.Context, packageName string) {
	c.mu.Lock()
	session, ok := c.openSessions[packageName]
	delete(c.openSessions, packageName)
	c.mu.Unlock()

	if ok {
		closeQuietly(ctx, session)
	}
}

// cancelSession closes the handle of packageName, drops its record and
// abandons sessionID on the host. State belonging to a newer session of the
// same package is left alone.
func (c *Coordinator) cancelSession(ctx context.Context, sessionID int, packageName string) {
	c.mu.Lock()

	var session install.Session

	if info, ok := c.sessionInfos[packageName]; ok && info.SessionID == sessionID {
		delete(c.sessionInfos, packageName)

		session = c.openSessions[packageName]
		delete(c.openSessions, packageName)
	}

	c.mu.Unlock()

	if session != nil {
		closeQuietly(ctx, session)
	}

	c.abandon(ctx, sessionID)
}

// abandon destroys sessionID on the host. A session that is already gone is fine.
func (c *Coordinator) abandon(ctx context.Context, sessionID int) {
	err := c.installer.AbandonSession(ctx, sessionID)
	switch {
	case err == nil:
	case errors.Is(err, install.ErrSessionNotFound):
		logger.DebugKV(ctx, "Session already gone", "session_id", sessionID)
	default:
		logger.WarnKV(ctx, "Unable to abandon session", "session_id", sessionID, "error", err)
	}
}

// lockPackage serializes work on packageName and returns the unlock function.
func (c *Coordinator) lockPackage(packageName string) func() {
	c.locksMu.Lock()

	lock, ok := c.locks[packageName]
	if !ok {
		lock = new(packageLock)
		c.locks[packageName] = lock
	}

	lock.refs++
	c.locksMu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		c.locksMu.Lock()
		lock.refs--

		if lock.refs == 0 {
			delete(c.locks, packageName)
		}

		c.locksMu.Unlock()
	}
}

// closeQuietly closes a session handle; closing twice is not an error here.
func closeQuietly(ctx context.Context, session install.Session) {
	if err := session.Close(); err != nil && !errors.Is(err, install.ErrSessionClosed) {
		logger.WarnKV(ctx, "Unexpected error closing session", "error", err)
	}
}

// logSink reports follow-up actions in the log only.
type logSink struct{}

// Forward implements install.UserActionSink.
func (logSink) Forward(ctx context.Context, action *install.FollowUpAction) {
	logger.WarnKV(ctx, "User action required", "kind", action.Kind, "session_id", action.SessionID, "target", action.Target)
}
