// Package client talks to the broker over its unix socket and implements the
// pkgbroker-client commands.
package client
