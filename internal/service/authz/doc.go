// Package authz decides whether a caller may use the privileged broker.
//
// A caller uid is resolved to its first package name, the package's
// certificates are concatenated and hashed with SHA-256, and the pair
// (package name, digest) must exactly match an allow-list entry.
package authz
