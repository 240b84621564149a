package install

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestResultCodes verifies the fixed caller-facing code space.
func TestResultCodes(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, InstallResultCode(StatusSuccess))
	require.Equal(t, -110, InstallResultCode(StatusFailure))
	require.Equal(t, 0, InstallResultCode(StatusFailureConflict))
	require.Equal(t, 0, InstallResultCode(StatusUnknown))

	require.Equal(t, 1, DeleteResultCode(StatusSuccess))
	require.Equal(t, -1, DeleteResultCode(StatusFailure))
	require.Equal(t, 0, DeleteResultCode(StatusFailureBlocked))
}

// TestStatusString checks names of known and unknown statuses.
func TestStatusString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "PENDING_USER_ACTION", StatusPendingUserAction.String())
	require.Equal(t, "SUCCESS", StatusSuccess.String())
	require.Equal(t, "STATUS(42)", Status(42).String())
}

// TestSessionInfoClone verifies that Clone copies the record and handles nil safely.
func TestSessionInfoClone(t *testing.T) {
	t.Parallel()
	require.Nil(t, (*SessionInfo)(nil).Clone())

	a := &SessionInfo{
		SessionID:   3,
		PackageName: "org.fdroid.fdroid",
		Mode:        ModeFullInstall,
	}

	b := a.Clone()

	require.Equal(t, a, b)
	require.NotSame(t, a, b)
}

// TestHostStatusError covers messages with and without host text.
func TestHostStatusError(t *testing.T) {
	t.Parallel()

	require.Equal(t, "host status FAILURE", (&HostStatusError{Status: StatusFailure}).Error())
	require.Equal(t,
		"host status FAILURE_STORAGE: disk full",
		(&HostStatusError{Status: StatusFailureStorage, Message: "disk full"}).Error(),
	)
}
