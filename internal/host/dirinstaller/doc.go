// Package dirinstaller is a directory-backed installer host.
//
// Sessions are staged as directories under the staging root and committed by
// atomically replacing the package file under the install root. Session and
// package metadata is persisted through the session repository so sessions
// survive a daemon restart. Results are delivered asynchronously.
package dirinstaller
