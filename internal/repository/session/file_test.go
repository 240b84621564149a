package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/pkgbroker/internal/domain/install"
)

// TestFileRepository_NotFound verifies Load returns ErrNotFound for missing file.
func TestFileRepository_NotFound(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "missing.yaml"))
	s, err := repo.Load(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, s)
}

// TestFileRepository_SaveLoad_Roundtrip ensures Save followed by Load returns equal state.
func TestFileRepository_SaveLoad_Roundtrip(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "nested", "sessions.yaml")
	repo := NewFileRepository(file)

	ts := time.Now().UTC().Truncate(time.Second)
	want := &State{
		LastSessionID: 7,
		Sessions: []*install.SessionInfo{{
			SessionID:     7,
			PackageName:   "org.fdroid.basic",
			Mode:          install.ModeFullInstall,
			UserAction:    install.UserActionNotRequired,
			InstallerName: "org.oshokin.pkgbroker",
			CreatedAt:     ts,
		}},
		Packages: []install.PackageInfo{{
			Name:        "org.fdroid.fdroid",
			Version:     "0123456789ab",
			Size:        42,
			InstalledAt: ts,
		}},
	}

	require.NoError(t, repo.Save(context.Background(), want))

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, want.LastSessionID, got.LastSessionID)
	require.Len(t, got.Sessions, 1)
	require.Equal(t, want.Sessions[0].PackageName, got.Sessions[0].PackageName)
	require.True(t, want.Sessions[0].CreatedAt.Equal(got.Sessions[0].CreatedAt))
	require.Equal(t, want.Packages[0].Name, got.Packages[0].Name)
	require.Equal(t, want.Packages[0].Size, got.Packages[0].Size)

	_, err = os.Stat(file + ".tmp")
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestFileRepository_Corrupt verifies a broken file is reported.
func TestFileRepository_Corrupt(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "sessions.yaml")
	require.NoError(t, os.WriteFile(file, []byte("sessions: [oops"), 0o600))

	_, err := NewFileRepository(file).Load(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
}

// TestState_Helpers checks session and package bookkeeping.
func TestState_Helpers(t *testing.T) {
	t.Parallel()

	state := &State{
		Sessions: []*install.SessionInfo{{SessionID: 1}, {SessionID: 2}},
	}

	info, ok := state.Session(2)
	require.True(t, ok)
	require.Equal(t, 2, info.SessionID)

	cloned := state.Clone()
	cloned.Sessions[0].SessionID = 100

	require.True(t, state.RemoveSession(1))
	require.False(t, state.RemoveSession(1))
	require.Len(t, state.Sessions, 1)
	require.Equal(t, 100, cloned.Sessions[0].SessionID)

	state.PutPackage(install.PackageInfo{Name: "a", Size: 1})
	state.PutPackage(install.PackageInfo{Name: "a", Size: 2})
	require.Len(t, state.Packages, 1)

	record, ok := state.Package("a")
	require.True(t, ok)
	require.EqualValues(t, 2, record.Size)

	require.True(t, state.RemovePackage("a"))
	require.False(t, state.RemovePackage("a"))
}
