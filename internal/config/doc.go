// Package config defines the broker settings and helpers to load, validate
// and save them in YAML format.
//
// Settings cover the unix socket the broker serves on, the allow-list of
// trusted callers and the locations used by the bundled host adapters.
package config
