package install

import (
	"fmt"
	"math"
)

// Status is a result status reported by the host installer.
type Status int

// Host statuses.
const (
	StatusPendingUserAction Status = -1
	StatusSuccess           Status = 0
	StatusFailure           Status = 1
	StatusFailureBlocked    Status = 2
	StatusFailureAborted    Status = 3
	StatusFailureInvalid    Status = 4
	StatusFailureConflict   Status = 5
	StatusFailureStorage    Status = 6
	StatusIncompatible      Status = 7
	// StatusUnknown is used when a delivered result carries no status.
	StatusUnknown Status = math.MinInt32
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusPendingUserAction:
		return "PENDING_USER_ACTION"
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailure:
		return "FAILURE"
	case StatusFailureBlocked:
		return "FAILURE_BLOCKED"
	case StatusFailureAborted:
		return "FAILURE_ABORTED"
	case StatusFailureInvalid:
		return "FAILURE_INVALID"
	case StatusFailureConflict:
		return "FAILURE_CONFLICT"
	case StatusFailureStorage:
		return "FAILURE_STORAGE"
	case StatusIncompatible:
		return "FAILURE_INCOMPATIBLE"
	case StatusUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("STATUS(%d)", int(s))
	}
}

// Result is an asynchronous outcome delivered by the host.
type Result struct {
	// Status is the host status.
	Status Status
	// Message is an optional human-readable explanation.
	Message string
	// FollowUp is set for StatusPendingUserAction.
	FollowUp *FollowUpAction
	// Extras holds any additional host-specific values, logged at debug level.
	Extras map[string]string
}

// Caller-facing result codes.
const (
	InstallSucceeded           = 1
	InstallFailedInternalError = -110
	DeleteSucceeded            = 1
	DeleteFailedInternalError  = -1
	// UnmappedResult is reported for host statuses with no caller-facing code.
	UnmappedResult = 0
)

// InstallResultCode maps a host status to the code reported for an install.
func InstallResultCode(s Status) int {
	switch s {
	case StatusSuccess:
		return InstallSucceeded
	case StatusFailure:
		return InstallFailedInternalError
	default:
		return UnmappedResult
	}
}

// DeleteResultCode maps a host status to the code reported for an uninstall.
func DeleteResultCode(s Status) int {
	switch s {
	case StatusSuccess:
		return DeleteSucceeded
	case StatusFailure:
		return DeleteFailedInternalError
	default:
		return UnmappedResult
	}
}

// MatchStaticSharedLibraries is ORed into installed-package queries so static
// shared libraries are listed too.
const MatchStaticSharedLibraries = 0x04000000
