package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestVersionStrings ensures Short and Full return non-empty consistent information.
func TestVersionStrings(t *testing.T) {
	t.Parallel()

	require.NotEmpty(t, Short())
	require.Contains(t, Full(), Short())
}

// TestFromBuildInfo verifies the VCS stamp fills unset fields only.
func TestFromBuildInfo(t *testing.T) {
	t.Parallel()

	info := fromBuildInfo(&debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.time", Value: "2026-10-15T10:00:00Z"},
		{Key: "vcs.modified", Value: "true"},
	}})

	require.Equal(t, "0123456789ab", info.Commit)
	require.Equal(t, "2026-10-15T10:00:00Z", info.BuildTime)
	require.Contains(t, info.String(), "0123456789ab-dirty")

	info = fromBuildInfo(nil)
	require.Equal(t, Commit, info.Commit)
	require.NotEmpty(t, info.GoVersion)
}
