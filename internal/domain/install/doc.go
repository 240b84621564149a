// Package install contains the core domain types of the package broker.
//
// It defines installation session records and parameters, host result
// statuses and the caller-facing result codes, the interfaces of the host
// collaborators (installer, identity service, content resolver) and the
// error taxonomy shared by the authorizer and the session coordinator.
package install
