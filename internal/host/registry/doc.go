// Package registry is an identity host backed by a YAML package registry.
//
// Each entry binds a package name to the uid its processes run as and to the
// PEM files holding its signing certificates.
package registry
