// Package integration holds end-to-end tests that run the broker daemon on a
// real unix socket and drive it through the client.
package integration
