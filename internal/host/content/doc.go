// Package content opens the byte streams behind package URIs.
package content
