// Package peercred provides gRPC transport credentials for unix sockets that
// identify the process on the other end through kernel-verified peer
// credentials (SO_PEERCRED).
package peercred
