// Package logger wraps zap for the broker binaries:
//   - a global sugared logger writing console-formatted lines to stderr,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing and runtime level switching,
//   - leveled shortcuts (Infof, ErrorKV, etc.) that log through the context.
//
// Services receive a context and log through it, so the daemon name and
// per-request fields (caller uid, package name) follow every message.
package logger
