// Package server runs the broker daemon: it assembles the host adapters, the
// authorizer and the session coordinator, and serves them over gRPC on a unix
// socket until the context is canceled.
package server
