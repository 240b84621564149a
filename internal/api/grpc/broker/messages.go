package broker

import "github.com/oshokin/pkgbroker/internal/domain/install"

// PermissionsRequest asks whether the caller may use the broker.
type PermissionsRequest struct{}

// PermissionsResponse answers PermissionsRequest.
type PermissionsResponse struct {
	Allowed bool `cbor:"allowed"`
}

// InstallRequest installs a package from one or more sources, concatenated in order.
type InstallRequest struct {
	SourceURIs  []string `cbor:"source_uris"`
	Flags       int      `cbor:"flags,omitempty"`
	PackageName string   `cbor:"package_name"`
}

// DeleteRequest removes an installed package.
type DeleteRequest struct {
	PackageName string `cbor:"package_name"`
	Flags       int    `cbor:"flags,omitempty"`
}

// InstalledPackagesRequest lists installed packages.
type InstalledPackagesRequest struct {
	Flags int `cbor:"flags,omitempty"`
}

// InstalledPackagesResponse answers InstalledPackagesRequest.
type InstalledPackagesResponse struct {
	Packages []install.PackageInfo `cbor:"packages"`
}

// ConfirmRequest answers a pending confirm-install follow-up.
type ConfirmRequest struct {
	SessionID int  `cbor:"session_id"`
	Approved  bool `cbor:"approved"`
}

// ConfirmResponse answers ConfirmRequest.
type ConfirmResponse struct{}

// Event is one message of an install or delete stream. Exactly one field is set.
type Event struct {
	UserAction *install.FollowUpAction `cbor:"user_action,omitempty"`
	Result     *ResultEvent            `cbor:"result,omitempty"`
}

// ResultEvent is the final outcome of an operation.
type ResultEvent struct {
	PackageName string `cbor:"package_name"`
	Code        int    `cbor:"code"`
}
