package authz

import (
	"bytes"
	"context"
	"fmt"

	"github.com/oshokin/pkgbroker/internal/domain/install"
	"github.com/oshokin/pkgbroker/internal/logger"
)

// entry is an allow-list entry with its fingerprint decoded once.
type entry struct {
	packageName string
	fingerprint []byte
}

// Authorizer checks callers against a static allow-list.
type Authorizer struct {
	// identity resolves callers and certificates.
	identity install.IdentityService
	// entries is immutable after construction.
	entries []entry
}

// NewAuthorizer builds an Authorizer. Entries whose fingerprint cannot be
// decoded are kept out of the list and reported in the log; they could never match.
func NewAuthorizer(ctx context.Context, identity install.IdentityService, allowList []install.AllowListEntry) *Authorizer {
	a := &Authorizer{
		identity: identity,
		entries:  make([]entry, 0, len(allowList)),
	}

	for _, e := range allowList {
		fingerprint, err := DecodeFingerprint(e.Fingerprint)
		if err != nil {
			logger.ErrorKV(ctx, "Ignoring allow-list entry", "package", e.PackageName, "error", err)
			continue
		}

		a.entries = append(a.entries, entry{
			packageName: e.PackageName,
			fingerprint: fingerprint,
		})
	}

	return a
}

// IsCallerAllowed reports whether caller's first package is on the allow-list.
// Failures to resolve the caller or to read certificates are returned as errors.
//
// Multiple packages sharing one uid are not supported: only the first
// resolved package name is checked.
func (a *Authorizer) IsCallerAllowed(ctx context.Context, caller install.CallerID) (bool, error) {
	packages, err := a.identity.PackagesForCaller(ctx, caller)
	if err != nil {
		return false, fmt.Errorf("resolve caller %d: %w", caller, err)
	}

	if len(packages) == 0 {
		return false, fmt.Errorf("caller %d: %w", caller, install.ErrIdentityResolution)
	}

	return a.IsPackageAllowed(ctx, packages[0])
}

// IsPackageAllowed reports whether packageName with its current certificates
// matches an allow-list entry.
func (a *Authorizer) IsPackageAllowed(ctx context.Context, packageName string) (bool, error) {
	ctx = logger.WithKV(ctx, "package", packageName)

	logger.DebugKV(ctx, "Checking if package is allowed to use the broker")

	certificates, err := a.identity.Certificates(ctx, packageName)
	if err != nil {
		return false, fmt.Errorf("certificates of %s: %w", packageName, err)
	}

	digest := Fingerprint(certificates)

	logger.DebugKV(ctx, "Package certificate fingerprint", "fingerprint", FormatFingerprint(digest[:]))

	for _, e := range a.entries {
		logger.DebugKV(ctx, "Allowed certificate fingerprint", "fingerprint", FormatFingerprint(e.fingerprint))

		if e.packageName == packageName && bytes.Equal(e.fingerprint, digest[:]) {
			logger.InfoKV(ctx, "Package is allowed to use the broker")
			return true, nil
		}
	}

	logger.ErrorKV(ctx, "Package is NOT allowed to use the broker")

	return false, nil
}
