// Package session persists the installer host state: open installation
// sessions and the installed package records.
//
// The FileRepository stores the state as YAML on disk and exposes a
// Repository interface that the directory installer depends on.
package session
