package install

import "time"

// CallerID is the numeric identity of the process calling the broker (its uid).
type CallerID uint32

// AllowListEntry names a trusted package and the SHA-256 fingerprint of its certificates.
type AllowListEntry struct {
	// PackageName must equal the caller's first resolved package name.
	PackageName string `yaml:"package"`
	// Fingerprint is the hex-encoded SHA-256 digest of the concatenated certificates.
	Fingerprint string `yaml:"fingerprint"`
}

// SessionMode selects what a session installs.
type SessionMode int

const (
	// ModeFullInstall replaces the whole package.
	ModeFullInstall SessionMode = 1
	// ModeInheritExisting adds split parts to an installed package.
	ModeInheritExisting SessionMode = 2
)

// UserActionPolicy controls whether the host may ask the user to confirm a commit.
type UserActionPolicy int

const (
	// UserActionUnspecified leaves the decision to the host.
	UserActionUnspecified UserActionPolicy = 0
	// UserActionRequired always asks the user.
	UserActionRequired UserActionPolicy = 1
	// UserActionNotRequired commits without asking when the host allows it.
	UserActionNotRequired UserActionPolicy = 2
)

// SessionParams describe a session to create.
type SessionParams struct {
	// Mode is the install mode.
	Mode SessionMode `yaml:"mode"`
	// UserAction is the confirmation policy.
	UserAction UserActionPolicy `yaml:"user_action"`
	// PackageName is the package the session is bound to.
	PackageName string `yaml:"package"`
	// InstallerName is the installer of record for the package.
	InstallerName string `yaml:"installer,omitempty"`
}

// SessionInfo is the install session record kept per package.
type SessionInfo struct {
	// SessionID is the host-assigned session identifier.
	SessionID int `yaml:"id"`
	// PackageName is the package the session is bound to.
	PackageName string `yaml:"package"`
	// Mode is the install mode the session was created with.
	Mode SessionMode `yaml:"mode"`
	// UserAction is the confirmation policy the session was created with.
	UserAction UserActionPolicy `yaml:"user_action"`
	// InstallerName is the installer of record requested for the package.
	InstallerName string `yaml:"installer,omitempty"`
	// CreatedAt is when the host created the session.
	CreatedAt time.Time `yaml:"created_at"`
}

// Clone returns a copy of the record.
func (s *SessionInfo) Clone() *SessionInfo {
	if s == nil {
		return nil
	}

	cloned := *s

	return &cloned
}

// PackageInfo describes an installed package.
type PackageInfo struct {
	// Name is the package name.
	Name string `cbor:"name" yaml:"name"`
	// Version is the version label of the installed artifact.
	Version string `cbor:"version,omitempty" yaml:"version,omitempty"`
	// InstallerName is the installer of record.
	InstallerName string `cbor:"installer,omitempty" yaml:"installer,omitempty"`
	// StaticSharedLibrary marks packages hidden unless explicitly requested.
	StaticSharedLibrary bool `cbor:"static_shared_library,omitempty" yaml:"static_shared_library,omitempty"`
	// Size is the size of the installed artifact in bytes.
	Size int64 `cbor:"size" yaml:"size"`
	// InstalledAt is when the package was last installed.
	InstalledAt time.Time `cbor:"installed_at" yaml:"installed_at"`
}

// FollowUpConfirmInstall asks the user to approve or reject a pending commit.
const FollowUpConfirmInstall = "confirm-install"

// FollowUpAction is something the user must do before a pending commit can finish.
type FollowUpAction struct {
	// Kind names the action, e.g. "confirm-install".
	Kind string `cbor:"kind"`
	// PackageName is the package the action belongs to.
	PackageName string `cbor:"package_name"`
	// SessionID is the session waiting for the action.
	SessionID int `cbor:"session_id"`
	// Target is a host-specific reference the user interface can act on.
	Target string `cbor:"target,omitempty"`
}
