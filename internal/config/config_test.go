package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/pkgbroker/internal/domain/install"
)

const fdroidFingerprint = "43238d512c1e5eb2d6569f4a3afbf5523418b82e0a3ed1552770abb9a9c9ccab"

// TestValidate_Defaults checks that an empty config gets every default.
func TestValidate_Defaults(t *testing.T) {
	t.Parallel()

	settings := new(Config)
	require.NoError(t, Validate(settings))

	require.Equal(t, DefaultSocketPath, settings.SocketPath)
	require.Equal(t, DefaultSocketMode, settings.SocketMode)
	require.Equal(t, DefaultTimeout, settings.Timeout)
	require.Equal(t, DefaultRegistryFilename, settings.RegistryFile)
	require.Equal(t, DefaultStagingDir, settings.StagingDir)
	require.Equal(t, DefaultInstallDir, settings.InstallDir)
	require.Equal(t, DefaultStateFile, settings.StateFile)
	require.Equal(t, DefaultAllowList(), settings.AllowList)
}

// TestValidate_Errors checks rejected settings.
func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	require.Error(t, Validate(nil))
	require.Error(t, Validate(&Config{SocketPath: "relative.sock"}))
	require.Error(t, Validate(&Config{LogLevel: "chatty"}))

	// Explicitly empty allow-list is allowed: nobody is trusted.
	require.NoError(t, Validate(&Config{AllowList: []install.AllowListEntry{}}))

	require.Error(t, Validate(&Config{AllowList: []install.AllowListEntry{
		{PackageName: " ", Fingerprint: fdroidFingerprint},
	}}))
	require.Error(t, Validate(&Config{AllowList: []install.AllowListEntry{
		{PackageName: "org.fdroid.fdroid", Fingerprint: "abcd"},
	}}))
	require.Error(t, Validate(&Config{AllowList: []install.AllowListEntry{
		{PackageName: "org.fdroid.fdroid", Fingerprint: fdroidFingerprint + "0"},
	}}))
}

// TestValidate_NormalizesFingerprint verifies colon separated upper case fingerprints are accepted.
func TestValidate_NormalizesFingerprint(t *testing.T) {
	t.Parallel()

	colon := "43:23:8D:51:2C:1E:5E:B2:D6:56:9F:4A:3A:FB:F5:52:34:18:B8:2E:0A:3E:D1:55:27:70:AB:B9:A9:C9:CC:AB"

	settings := &Config{AllowList: []install.AllowListEntry{
		{PackageName: "org.fdroid.fdroid", Fingerprint: colon},
	}}
	require.NoError(t, Validate(settings))
	require.Equal(t, fdroidFingerprint, settings.AllowList[0].Fingerprint)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "pkgbroker.yaml")

	settings := &Config{
		SocketPath:   filepath.Join(dir, "broker.sock"),
		LogLevel:     "debug",
		RegistryFile: filepath.Join(dir, "packages.yaml"),
		AllowList: []install.AllowListEntry{
			{PackageName: "org.fdroid.basic", Fingerprint: fdroidFingerprint},
		},
	}

	require.NoError(t, Save(path, settings))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, settings.SocketPath, loaded.SocketPath)
	require.Equal(t, settings.LogLevel, loaded.LogLevel)
	require.Equal(t, settings.AllowList, loaded.AllowList)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(DefaultFilePermissions), info.Mode().Perm())
}

// TestLoad_Missing verifies a missing file is an error.
func TestLoad_Missing(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
