package session

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/pkgbroker/internal/broadcast"
	"github.com/oshokin/pkgbroker/internal/domain/install"
	"github.com/oshokin/pkgbroker/internal/host/dirinstaller"
	repository "github.com/oshokin/pkgbroker/internal/repository/session"
)

const (
	firstURI  = "file:///data/local/tmp/first.apk"
	secondURI = "file:///data/local/tmp/second.apk"
)

// hostSetup is a coordinator driving the directory installer.
type hostSetup struct {
	root      string
	installer *dirinstaller.Installer
	content   *fakeContent
	coord     *Coordinator
}

func newHostSetup(t *testing.T, opts ...dirinstaller.Option) *hostSetup {
	t.Helper()

	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	opts = append(opts, dirinstaller.WithProcessTerminator(func(context.Context, string) error { return nil }))

	installer, err := dirinstaller.New(
		ctx,
		filepath.Join(root, "staging"),
		filepath.Join(root, "packages"),
		repository.NewFileRepository(filepath.Join(root, "state.yaml")),
		opts...,
	)
	require.NoError(t, err)

	d := broadcast.New(0)
	done := make(chan struct{})

	go func() {
		defer close(done)

		_ = d.Run(ctx)
	}()

	t.Cleanup(func() {
		installer.Wait()
		cancel()
		<-done
	})

	content := &fakeContent{
		files: map[string]string{
			firstURI:  "AAA",
			secondURI: "BBB",
		},
		failing: map[string]bool{},
	}

	return &hostSetup{
		root:      root,
		installer: installer,
		content:   content,
		coord:     NewCoordinator(installer, content, d),
	}
}

func (s *hostSetup) installed(t *testing.T) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(s.root, "packages", testPkg))
	require.NoError(t, err)

	return string(data)
}

func waitResults(t *testing.T, cb *recorder, n int) []result {
	t.Helper()

	require.Eventually(t, func() bool {
		results, _ := cb.snapshot()
		return len(results) >= n
	}, 5*time.Second, 5*time.Millisecond)

	results, _ := cb.snapshot()

	return results
}

func waitActions(t *testing.T, cb *recorder, n int) []*install.FollowUpAction {
	t.Helper()

	require.Eventually(t, func() bool {
		_, actions := cb.snapshot()
		return len(actions) >= n
	}, 5*time.Second, 5*time.Millisecond)

	_, actions := cb.snapshot()

	return actions
}

// TestInstall_RecoveredSessionDropsStaleBytes verifies a recovered session that
// holds a longer partial write from a crashed run installs only the new stream.
func TestInstall_RecoveredSessionDropsStaleBytes(t *testing.T) {
	t.Parallel()

	s := newHostSetup(t)
	ctx := context.Background()

	sessionID, err := s.installer.CreateSession(ctx, install.SessionParams{
		Mode:          install.ModeFullInstall,
		UserAction:    install.UserActionNotRequired,
		PackageName:   testPkg,
		InstallerName: DefaultInstallerName,
	})
	require.NoError(t, err)

	handle, err := s.installer.OpenSession(ctx, sessionID)
	require.NoError(t, err)

	w, err := handle.OpenWrite(testPkg, 0, -1)
	require.NoError(t, err)

	_, err = io.WriteString(w, "OLD-PARTIAL-CONTENT-FROM-CRASHED-RUN")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, handle.Close())

	require.NoError(t, s.coord.Recover(ctx))

	info, _ := s.coord.Tracked(testPkg)
	require.NotNil(t, info)
	require.Equal(t, sessionID, info.SessionID)

	cb := new(recorder)
	s.coord.Install(ctx, testPkg, []string{firstURI}, cb)

	require.Equal(t, []result{{testPkg, install.InstallSucceeded}}, waitResults(t, cb, 1))
	require.Equal(t, "AAA", s.installed(t))
}

// TestInstall_SecondInstallWhilePending verifies a caller whose commit waits for
// the user still gets its result after another install of the package started.
func TestInstall_SecondInstallWhilePending(t *testing.T) {
	t.Parallel()

	s := newHostSetup(t, dirinstaller.WithConfirmation(true))
	ctx := context.Background()

	first := new(recorder)
	s.coord.Install(ctx, testPkg, []string{firstURI}, first)
	firstAction := waitActions(t, first, 1)[0]

	second := new(recorder)
	s.coord.Install(ctx, testPkg, []string{secondURI}, second)
	secondAction := waitActions(t, second, 1)[0]

	require.NotEqual(t, firstAction.SessionID, secondAction.SessionID)

	require.NoError(t, s.installer.Confirm(ctx, firstAction.SessionID, true))
	require.Equal(t, []result{{testPkg, install.InstallSucceeded}}, waitResults(t, first, 1))
	require.Equal(t, "AAA", s.installed(t))

	info, _ := s.coord.Tracked(testPkg)
	require.NotNil(t, info)
	require.Equal(t, secondAction.SessionID, info.SessionID)

	require.NoError(t, s.installer.Confirm(ctx, secondAction.SessionID, false))
	require.Equal(t, []result{
		{testPkg, install.InstallResultCode(install.StatusFailureAborted)},
	}, waitResults(t, second, 1))
	require.Equal(t, "AAA", s.installed(t))

	results, _ := first.snapshot()
	require.Len(t, results, 1)
}
