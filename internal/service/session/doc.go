// Package session drives package installations through host installer sessions.
//
// The Coordinator owns, per package name, the install session record and the
// open session handle. Install creates or recovers a session, streams the
// package bytes into it and commits it; the commit outcome arrives later
// through a one-shot receiver of the broadcast dispatcher. Uninstall asks the
// host to remove a package and reports its asynchronous outcome the same way.
package session
