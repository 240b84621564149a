package dirinstaller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oshokin/pkgbroker/internal/domain/install"
	"github.com/oshokin/pkgbroker/internal/logger"
	"github.com/oshokin/pkgbroker/internal/repository/session"
)

const (
	// dirPermissions is used for the staging, session and install directories.
	dirPermissions = 0o750
	// packagePermissions is the mode of installed package files.
	packagePermissions = 0o755
)

var (
	errBadPackageName   = errors.New("package name is not a valid file name")
	errAlreadyCommitted = errors.New("session is already committed")
	errNotPending       = errors.New("session is not waiting for confirmation")
)

// Installer implements install.Installer on top of two directories.
type Installer struct {
	// ctx is the lifetime context used to deliver asynchronous results.
	ctx context.Context //nolint:containedctx // Results outlive the calls that start them.

	stagingDir string
	installDir string
	repo       session.Repository
	terminate  func(ctx context.Context, packageName string) error
	now        func() time.Time
	// confirmAll makes every commit wait for the user.
	confirmAll bool

	// mu guards state, sealed and pending.
	mu    sync.Mutex
	state *session.State
	// sealed holds the ids of committed sessions.
	sealed map[int]struct{}
	// pending holds the senders of commits waiting for user confirmation.
	pending map[int]install.ResultSender

	wg sync.WaitGroup
}

// Option configures the installer.
type Option func(*Installer)

// WithProcessTerminator replaces how running processes of a package are stopped on uninstall.
func WithProcessTerminator(terminate func(ctx context.Context, packageName string) error) Option {
	return func(i *Installer) {
		if terminate != nil {
			i.terminate = terminate
		}
	}
}

// WithConfirmation makes every commit wait for Confirm, whatever the session asked for.
func WithConfirmation(always bool) Option {
	return func(i *Installer) {
		i.confirmAll = always
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Installer) {
		if now != nil {
			i.now = now
		}
	}
}

// New creates the directories and loads the persisted state.
func New(ctx context.Context, stagingDir, installDir string, repo session.Repository, opts ...Option) (*Installer, error) {
	for _, dir := range []string{stagingDir, installDir} {
		if err := os.MkdirAll(dir, dirPermissions); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	state, err := repo.Load(ctx)

	switch {
	case errors.Is(err, session.ErrNotFound):
		state = new(session.State)
	case err != nil:
		return nil, fmt.Errorf("load installer state: %w", err)
	}

	i := &Installer{
		ctx:        context.WithoutCancel(logger.WithName(ctx, "dirinstaller")),
		stagingDir: filepath.Clean(stagingDir),
		installDir: filepath.Clean(installDir),
		repo:       repo,
		terminate:  terminateProcesses,
		now:        time.Now,
		state:      state,
		sealed:     make(map[int]struct{}),
		pending:    make(map[int]install.ResultSender),
	}

	for _, opt := range opts {
		opt(i)
	}

	return i, nil
}

// Wait blocks until every asynchronous commit and uninstall has delivered its result.
func (i *Installer) Wait() {
	i.wg.Wait()
}

// CreateSession allocates a new session and its staging directory.
func (i *Installer) CreateSession(ctx context.Context, params install.SessionParams) (int, error) {
	if !validName(params.PackageName) {
		return 0, fmt.Errorf("%q: %w", params.PackageName, errBadPackageName)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	sessionID := i.state.LastSessionID + 1

	if err := os.MkdirAll(i.sessionDir(sessionID), dirPermissions); err != nil {
		return 0, fmt.Errorf("create session directory: %w", err)
	}

	i.state.LastSessionID = sessionID
	i.state.Sessions = append(i.state.Sessions, &install.SessionInfo{
		SessionID:     sessionID,
		PackageName:   params.PackageName,
		Mode:          params.Mode,
		UserAction:    params.UserAction,
		InstallerName: params.InstallerName,
		CreatedAt:     i.now(),
	})

	if err := i.saveLocked(ctx); err != nil {
		return 0, err
	}

	logger.DebugKV(ctx, "Session created", "session_id", sessionID, "package", params.PackageName)

	return sessionID, nil
}

// SessionInfo returns a copy of the session metadata.
func (i *Installer) SessionInfo(_ context.Context, sessionID int) (*install.SessionInfo, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	info, ok := i.state.Session(sessionID)
	if !ok {
		return nil, fmt.Errorf("session %d: %w", sessionID, install.ErrSessionNotFound)
	}

	return info.Clone(), nil
}

// OpenSession returns a handle to a session that has not been committed.
func (i *Installer) OpenSession(_ context.Context, sessionID int) (install.Session, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, ok := i.state.Session(sessionID); !ok {
		return nil, fmt.Errorf("session %d: %w", sessionID, install.ErrSessionNotFound)
	}

	if _, ok := i.sealed[sessionID]; ok {
		return nil, fmt.Errorf("session %d: %w", sessionID, errAlreadyCommitted)
	}

	return &handle{
		installer: i,
		sessionID: sessionID,
		dir:       i.sessionDir(sessionID),
	}, nil
}

// AbandonSession destroys a session and everything staged in it.
func (i *Installer) AbandonSession(ctx context.Context, sessionID int) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, ok := i.sealed[sessionID]; ok {
		if _, waiting := i.pending[sessionID]; !waiting {
			return fmt.Errorf("session %d: %w", sessionID, errAlreadyCommitted)
		}
	}

	if !i.state.RemoveSession(sessionID) {
		return fmt.Errorf("session %d: %w", sessionID, install.ErrSessionNotFound)
	}

	delete(i.sealed, sessionID)
	delete(i.pending, sessionID)

	if err := os.RemoveAll(i.sessionDir(sessionID)); err != nil {
		logger.WarnKV(ctx, "Unable to remove session directory", "session_id", sessionID, "error", err)
	}

	logger.DebugKV(ctx, "Session abandoned", "session_id", sessionID)

	return i.saveLocked(ctx)
}

// ActiveSessions lists sessions that were created and not finished, including sealed ones.
func (i *Installer) ActiveSessions(_ context.Context) ([]*install.SessionInfo, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	sessions := make([]*install.SessionInfo, 0, len(i.state.Sessions))
	for _, info := range i.state.Sessions {
		sessions = append(sessions, info.Clone())
	}

	return sessions, nil
}

// InstalledPackages lists installed packages sorted by name.
// Static shared libraries are listed only when flags carry MatchStaticSharedLibraries.
func (i *Installer) InstalledPackages(_ context.Context, flags int) ([]install.PackageInfo, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	withLibraries := flags&install.MatchStaticSharedLibraries != 0

	packages := make([]install.PackageInfo, 0, len(i.state.Packages))
	for _, record := range i.state.Packages {
		if record.StaticSharedLibrary && !withLibraries {
			continue
		}

		packages = append(packages, record)
	}

	slices.SortFunc(packages, func(a, b install.PackageInfo) int {
		return strings.Compare(a.Name, b.Name)
	})

	return packages, nil
}

// SetInstallerOfRecord marks installerName as the installer of an installed package.
func (i *Installer) SetInstallerOfRecord(ctx context.Context, packageName, installerName string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	record, ok := i.state.Package(packageName)
	if !ok {
		return fmt.Errorf("%s: %w", packageName, install.ErrPackageNotFound)
	}

	if record.InstallerName == installerName {
		return nil
	}

	record.InstallerName = installerName

	return i.saveLocked(ctx)
}

// hasSession reports whether a session still exists.
func (i *Installer) hasSession(sessionID int) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	_, ok := i.state.Session(sessionID)

	return ok
}

// validName accepts plain file names only.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." && filepath.Base(name) == name && !strings.ContainsRune(name, os.PathSeparator)
}

func (i *Installer) sessionDir(sessionID int) string {
	return filepath.Join(i.stagingDir, strconv.Itoa(sessionID))
}

func (i *Installer) packagePath(packageName string) string {
	return filepath.Join(i.installDir, packageName)
}

// saveLocked persists the state; i.mu must be held.
func (i *Installer) saveLocked(ctx context.Context) error {
	if err := i.repo.Save(ctx, i.state); err != nil {
		return fmt.Errorf("save installer state: %w", err)
	}

	return nil
}
