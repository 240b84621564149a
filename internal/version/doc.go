// Package version exposes build metadata for the broker binaries.
//
// Version, Commit and BuildTime are injected through ldflags; when they are
// left at their defaults the VCS stamp recorded by the Go toolchain is used.
package version
