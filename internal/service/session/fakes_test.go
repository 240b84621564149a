package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oshokin/pkgbroker/internal/domain/install"
)

var (
	errTestCreate    = errors.New("installer refused to create session")
	errTestCommit    = errors.New("installer refused to commit")
	errTestUninstall = errors.New("installer refused to uninstall")
	errTestRead      = errors.New("content provider crashed")
	errTestWrite     = errors.New("no space left in session")
)

// hostSession is the fake host's view of one installation session.
type hostSession struct {
	info      install.SessionInfo
	data      bytes.Buffer
	fsyncs    int
	committed bool
	sender    install.ResultSender
}

// fakeInstaller is an in-memory install.Installer.
type fakeInstaller struct {
	mu sync.Mutex

	nextID   int
	sessions map[int]*hostSession

	createErr    error
	openErr      error
	commitErr    error
	writeErr     error
	uninstallErr error

	created        int
	opened         int
	maxInFlight    int
	abandonCalls   []int
	uninstalls     []string
	uninstallSends map[string]install.ResultSender
	installerOf    map[string]string
	active         []*install.SessionInfo
	listFlags      int
}

func newFakeInstaller() *fakeInstaller {
	return &fakeInstaller{
		nextID:         1,
		sessions:       make(map[int]*hostSession),
		uninstallSends: make(map[string]install.ResultSender),
		installerOf:    make(map[string]string),
	}
}

// addSession registers a session the host already tracks, as after a broker restart.
func (f *fakeInstaller) addSession(id int, packageName string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sessions[id] = &hostSession{info: install.SessionInfo{SessionID: id, PackageName: packageName}}
	f.active = append(f.active, &install.SessionInfo{SessionID: id, PackageName: packageName})
}

func (f *fakeInstaller) CreateSession(_ context.Context, params install.SessionParams) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return 0, f.createErr
	}

	id := f.nextID
	f.nextID++
	f.created++
	f.sessions[id] = &hostSession{info: install.SessionInfo{
		SessionID:     id,
		PackageName:   params.PackageName,
		Mode:          params.Mode,
		UserAction:    params.UserAction,
		InstallerName: params.InstallerName,
		CreatedAt:     time.Now(),
	}}

	inFlight := 0

	for _, s := range f.sessions {
		if s.info.PackageName == params.PackageName && !s.committed {
			inFlight++
		}
	}

	f.maxInFlight = max(f.maxInFlight, inFlight)

	return id, nil
}

func (f *fakeInstaller) SessionInfo(_ context.Context, sessionID int) (*install.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, install.ErrSessionNotFound
	}

	return s.info.Clone(), nil
}

func (f *fakeInstaller) OpenSession(_ context.Context, sessionID int) (install.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.openErr != nil {
		return nil, f.openErr
	}

	s, ok := f.sessions[sessionID]
	if !ok || s.committed {
		return nil, fmt.Errorf("open %d: %w", sessionID, install.ErrSessionNotFound)
	}

	f.opened++

	return &fakeHandle{installer: f, session: s}, nil
}

func (f *fakeInstaller) AbandonSession(_ context.Context, sessionID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.abandonCalls = append(f.abandonCalls, sessionID)

	s, ok := f.sessions[sessionID]
	if !ok || s.committed {
		return install.ErrSessionNotFound
	}

	delete(f.sessions, sessionID)

	return nil
}

func (f *fakeInstaller) Uninstall(_ context.Context, packageName string, sender install.ResultSender) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.uninstallErr != nil {
		return f.uninstallErr
	}

	f.uninstalls = append(f.uninstalls, packageName)
	f.uninstallSends[packageName] = sender

	return nil
}

func (f *fakeInstaller) ActiveSessions(context.Context) ([]*install.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.active), nil
}

func (f *fakeInstaller) InstalledPackages(_ context.Context, flags int) ([]install.PackageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listFlags = flags

	return []install.PackageInfo{{Name: "org.fdroid.fdroid"}}, nil
}

func (f *fakeInstaller) SetInstallerOfRecord(_ context.Context, packageName, installerName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.installerOf[packageName]; !ok {
		return install.ErrPackageNotFound
	}

	f.installerOf[packageName] = installerName

	return nil
}

// commitSender returns the sender passed to the last commit of packageName.
func (f *fakeInstaller) commitSender(packageName string) install.ResultSender {
	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		sender install.ResultSender
		lastID int
	)

	for id, s := range f.sessions {
		if s.info.PackageName == packageName && s.committed && id > lastID {
			sender, lastID = s.sender, id
		}
	}

	return sender
}

// committedData returns the bytes of the last committed session of packageName.
func (f *fakeInstaller) committedData(packageName string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		data   string
		lastID int
	)

	for id, s := range f.sessions {
		if s.info.PackageName == packageName && s.committed && id > lastID {
			data, lastID = s.data.String(), id
		}
	}

	return data
}

// fakeHandle is an open handle to a hostSession. Close is not idempotent.
type fakeHandle struct {
	installer *fakeInstaller
	session   *hostSession
	closed    bool
	closes    int
}

func (h *fakeHandle) Names() ([]string, error) {
	h.installer.mu.Lock()
	defer h.installer.mu.Unlock()

	if h.closed {
		return nil, install.ErrSessionClosed
	}

	return []string{h.session.info.PackageName}, nil
}

func (h *fakeHandle) OpenWrite(string, int64, int64) (io.WriteCloser, error) {
	h.installer.mu.Lock()
	defer h.installer.mu.Unlock()

	if h.closed {
		return nil, install.ErrSessionClosed
	}

	return &sessionWriter{handle: h}, nil
}

func (h *fakeHandle) Fsync(io.Writer) error {
	h.installer.mu.Lock()
	defer h.installer.mu.Unlock()

	h.session.fsyncs++

	return nil
}

func (h *fakeHandle) Commit(sender install.ResultSender) error {
	h.installer.mu.Lock()
	defer h.installer.mu.Unlock()

	if h.installer.commitErr != nil {
		return h.installer.commitErr
	}

	h.session.committed = true
	h.session.sender = sender

	return nil
}

func (h *fakeHandle) Close() error {
	h.installer.mu.Lock()
	defer h.installer.mu.Unlock()

	h.closes++

	if h.closed {
		return install.ErrSessionClosed
	}

	h.closed = true

	return nil
}

// sessionWriter appends into the host session.
type sessionWriter struct {
	handle *fakeHandle
}

func (w *sessionWriter) Write(p []byte) (int, error) {
	f := w.handle.installer

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return 0, f.writeErr
	}

	return w.handle.session.data.Write(p)
}

func (w *sessionWriter) Close() error { return nil }

// fakeContent resolves URIs from an in-memory map.
type fakeContent struct {
	files map[string]string
	// failing lists URIs whose reader breaks after the first chunk.
	failing map[string]bool
}

func (c *fakeContent) Open(_ context.Context, uri string) (io.ReadCloser, error) {
	data, ok := c.files[uri]
	if !ok {
		return nil, fmt.Errorf("%s: %w", uri, install.ErrPackageNotFound)
	}

	if c.failing[uri] {
		return io.NopCloser(io.MultiReader(strings.NewReader(data), &errReader{})), nil
	}

	return io.NopCloser(strings.NewReader(data)), nil
}

type errReader struct{}

func (*errReader) Read([]byte) (int, error) { return 0, errTestRead }

// result is one callback invocation.
type result struct {
	packageName string
	code        int
}

// recorder is a callback that also accepts follow-up actions.
type recorder struct {
	mu      sync.Mutex
	results []result
	actions []*install.FollowUpAction
}

func (r *recorder) HandleResult(packageName string, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.results = append(r.results, result{packageName: packageName, code: code})
}

func (r *recorder) Forward(_ context.Context, action *install.FollowUpAction) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.actions = append(r.actions, action)
}

func (r *recorder) snapshot() ([]result, []*install.FollowUpAction) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.results), slices.Clone(r.actions)
}
