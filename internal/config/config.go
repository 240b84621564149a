package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/pkgbroker/internal/domain/install"
	"github.com/oshokin/pkgbroker/internal/logger"
	"github.com/oshokin/pkgbroker/internal/service/authz"
)

// Config holds the settings shared by the broker binaries.
type Config struct {
	// SocketPath is the unix socket the broker serves gRPC on.
	SocketPath string `yaml:"socket_path"`
	// SocketMode is the permission mode applied to the socket file.
	SocketMode os.FileMode `yaml:"socket_mode"`
	// LogLevel is the minimum level logged by the daemon.
	LogLevel string `yaml:"log_level"`
	// Timeout bounds client RPCs that do not wait for an installation result.
	Timeout time.Duration `yaml:"timeout"`
	// RegistryFile is the YAML package registry used to identify callers.
	RegistryFile string `yaml:"registry_file"`
	// StagingDir holds the installation sessions of the directory installer.
	StagingDir string `yaml:"staging_dir"`
	// InstallDir holds installed packages.
	InstallDir string `yaml:"install_dir"`
	// StateFile persists the metadata of open installation sessions.
	StateFile string `yaml:"state_file"`
	// RequireConfirmation makes every installation wait for confirm-install.
	RequireConfirmation bool `yaml:"require_confirmation"`
	// AllowList lists the callers trusted to use the broker.
	AllowList []install.AllowListEntry `yaml:"allow_list"`
}

const (
	// DefaultConfigFilename is the default filename for broker settings.
	DefaultConfigFilename = "pkgbroker.yaml"

	// DefaultSocketPath is where the broker listens when nothing else is configured.
	DefaultSocketPath = "/run/pkgbroker/pkgbroker.sock"

	// DefaultSocketMode lets every local user connect; the allow-list decides.
	DefaultSocketMode os.FileMode = 0o666

	// DefaultRegistryFilename is the default package registry file.
	DefaultRegistryFilename = "packages.yaml"

	// DefaultStagingDir is the default session staging directory.
	DefaultStagingDir = "/var/lib/pkgbroker/sessions"

	// DefaultInstallDir is the default directory of installed packages.
	DefaultInstallDir = "/var/lib/pkgbroker/packages"

	// DefaultStateFile is the default session metadata file.
	DefaultStateFile = "/var/lib/pkgbroker/sessions.yaml"

	// DefaultTimeout is the default duration for short RPCs.
	DefaultTimeout = 5 * time.Second

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

// DefaultAllowList trusts the F-Droid client signed with the f-droid.org key.
func DefaultAllowList() []install.AllowListEntry {
	return []install.AllowListEntry{
		{
			PackageName: "org.fdroid.fdroid",
			Fingerprint: "43238d512c1e5eb2d6569f4a3afbf5523418b82e0a3ed1552770abb9a9c9ccab",
		},
	}
}

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errSocketPathRelative is returned for socket paths that are not absolute.
	errSocketPathRelative = errors.New("socket path must be absolute")
	// errBadLogLevel is returned for unknown log levels.
	errBadLogLevel = errors.New("unknown log level")
	// errEmptyPackageName is returned for allow-list entries without a package.
	errEmptyPackageName = errors.New("allow-list entry has no package name")
	// errBadFingerprintSize is returned for fingerprints that are not SHA-256 digests.
	errBadFingerprintSize = errors.New("fingerprint is not a SHA-256 digest")
)

// Load reads configuration from the provided path and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the settings, fills defaults and normalizes fingerprints.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.SocketPath == "" {
		settings.SocketPath = DefaultSocketPath
	}

	if !filepath.IsAbs(settings.SocketPath) {
		return fmt.Errorf("%q: %w", settings.SocketPath, errSocketPathRelative)
	}

	if settings.SocketMode == 0 {
		settings.SocketMode = DefaultSocketMode
	}

	if _, ok := logger.ParseLogLevel(settings.LogLevel); !ok {
		return fmt.Errorf("%q: %w", settings.LogLevel, errBadLogLevel)
	}

	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if settings.RegistryFile == "" {
		settings.RegistryFile = DefaultRegistryFilename
	}

	if settings.StagingDir == "" {
		settings.StagingDir = DefaultStagingDir
	}

	if settings.InstallDir == "" {
		settings.InstallDir = DefaultInstallDir
	}

	if settings.StateFile == "" {
		settings.StateFile = DefaultStateFile
	}

	if settings.AllowList == nil {
		settings.AllowList = DefaultAllowList()
	}

	for i := range settings.AllowList {
		if err := validateEntry(&settings.AllowList[i]); err != nil {
			return fmt.Errorf("allow-list entry %d: %w", i, err)
		}
	}

	return nil
}

// validateEntry normalizes an allow-list fingerprint and checks it decodes to a digest.
func validateEntry(entry *install.AllowListEntry) error {
	entry.PackageName = strings.TrimSpace(entry.PackageName)
	if entry.PackageName == "" {
		return errEmptyPackageName
	}

	decoded, err := authz.DecodeFingerprint(entry.Fingerprint)
	if err != nil {
		return err
	}

	if len(decoded) != authz.FingerprintSize {
		return fmt.Errorf("%d bytes: %w", len(decoded), errBadFingerprintSize)
	}

	entry.Fingerprint = authz.NormalizeFingerprint(entry.Fingerprint)

	return nil
}
