package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/pkgbroker/internal/config"
)

// shortDir returns a temporary directory short enough for unix socket paths.
func shortDir(t *testing.T) string {
	t.Helper()

	dir, err := os.MkdirTemp("", "pkgb")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	return dir
}

// TestRemoveStaleSocket covers missing, stale, live and foreign paths.
func TestRemoveStaleSocket(t *testing.T) {
	t.Parallel()

	dir := shortDir(t)

	require.NoError(t, removeStaleSocket(filepath.Join(dir, "missing.sock")))

	regular := filepath.Join(dir, "regular")
	require.NoError(t, os.WriteFile(regular, nil, 0o600))
	require.ErrorIs(t, removeStaleSocket(regular), ErrSocketInUse)

	live := filepath.Join(dir, "live.sock")
	lis, err := net.Listen("unix", live)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lis.Close() })
	require.ErrorIs(t, removeStaleSocket(live), ErrSocketInUse)

	stale := filepath.Join(dir, "stale.sock")
	unixLis, err := net.ListenUnix("unix", &net.UnixAddr{Name: stale, Net: "unix"})
	require.NoError(t, err)
	unixLis.SetUnlinkOnClose(false)
	require.NoError(t, unixLis.Close())

	require.NoError(t, removeStaleSocket(stale))

	_, err = os.Stat(stale)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestListen applies the configured mode and creates the directory.
func TestListen(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(shortDir(t), "run", "b.sock")

	lis, err := listen(context.Background(), socketPath, 0o660)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lis.Close() })

	info, err := os.Stat(socketPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o660), info.Mode().Perm())
}

// TestLoadSettings_Overrides verifies command line values win over the file.
func TestLoadSettings_Overrides(t *testing.T) {
	t.Parallel()

	dir := shortDir(t)
	path := filepath.Join(dir, "pkgbroker.yaml")
	require.NoError(t, config.Save(path, &config.Config{
		SocketPath: filepath.Join(dir, "file.sock"),
		LogLevel:   "info",
	}))

	settings, err := loadSettings(&Options{
		ConfigPath: path,
		SocketPath: filepath.Join(dir, "flag.sock"),
		LogLevel:   "debug",
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "flag.sock"), settings.SocketPath)
	require.Equal(t, "debug", settings.LogLevel)

	_, err = loadSettings(&Options{ConfigPath: path, LogLevel: "loud"})
	require.Error(t, err)
}

// TestRun_Errors verifies startup failures are returned.
func TestRun_Errors(t *testing.T) {
	t.Parallel()

	dir := shortDir(t)

	err := Run(context.Background(), &Options{ConfigPath: filepath.Join(dir, "missing.yaml")})
	require.ErrorContains(t, err, "load settings")

	path := filepath.Join(dir, "pkgbroker.yaml")
	require.NoError(t, config.Save(path, &config.Config{
		SocketPath:   filepath.Join(dir, "b.sock"),
		RegistryFile: filepath.Join(dir, "missing-registry.yaml"),
	}))

	err = Run(context.Background(), &Options{ConfigPath: path})
	require.ErrorContains(t, err, "load registry")
}
