package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/pkgbroker/internal/config"
	"github.com/oshokin/pkgbroker/internal/domain/install"
)

// State is everything the installer host keeps between restarts.
type State struct {
	// LastSessionID is the highest session id handed out so far.
	LastSessionID int `yaml:"last_session_id"`
	// Sessions are the sessions that were created and not yet finished.
	Sessions []*install.SessionInfo `yaml:"sessions"`
	// Packages are the installed package records.
	Packages []install.PackageInfo `yaml:"packages"`
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}

	cloned := &State{
		LastSessionID: s.LastSessionID,
		Sessions:      make([]*install.SessionInfo, 0, len(s.Sessions)),
		Packages:      slices.Clone(s.Packages),
	}

	for _, info := range s.Sessions {
		cloned.Sessions = append(cloned.Sessions, info.Clone())
	}

	return cloned
}

// Session returns the session with the given id.
func (s *State) Session(sessionID int) (*install.SessionInfo, bool) {
	for _, info := range s.Sessions {
		if info.SessionID == sessionID {
			return info, true
		}
	}

	return nil, false
}

// RemoveSession drops the session with the given id and reports whether it existed.
func (s *State) RemoveSession(sessionID int) bool {
	before := len(s.Sessions)

	s.Sessions = slices.DeleteFunc(s.Sessions, func(info *install.SessionInfo) bool {
		return info.SessionID == sessionID
	})

	return len(s.Sessions) != before
}

// Package returns the record of an installed package.
func (s *State) Package(name string) (*install.PackageInfo, bool) {
	for i := range s.Packages {
		if s.Packages[i].Name == name {
			return &s.Packages[i], true
		}
	}

	return nil, false
}

// PutPackage inserts or replaces a package record.
func (s *State) PutPackage(record install.PackageInfo) {
	if existing, ok := s.Package(record.Name); ok {
		*existing = record
		return
	}

	s.Packages = append(s.Packages, record)
}

// RemovePackage drops a package record and reports whether it existed.
func (s *State) RemovePackage(name string) bool {
	before := len(s.Packages)

	s.Packages = slices.DeleteFunc(s.Packages, func(record install.PackageInfo) bool {
		return record.Name == name
	})

	return len(s.Packages) != before
}

// Repository defines persistence operations for the installer state.
type Repository interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
}

// FileRepository persists the installer state to a YAML file on disk.
type FileRepository struct {
	// path is the filesystem location of the state file.
	path string
	// mu protects concurrent access to the state file.
	mu sync.Mutex
}

// ErrNotFound is returned when the state file does not exist yet.
var ErrNotFound = errors.New("state not found")

// NewFileRepository creates a repository that reads/writes YAML at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the state from disk.
func (r *FileRepository) Load(_ context.Context) (*State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read state file: %w", err)
	}

	var state State
	if err = yaml.Unmarshal(contents, &state); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	return &state, nil
}

// Save writes the state to disk. The file is replaced atomically.
func (r *FileRepository) Save(_ context.Context, state *State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(r.path), 0o750); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	temporary := r.path + ".tmp"
	if err = os.WriteFile(temporary, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	if err = os.Rename(temporary, r.path); err != nil {
		_ = os.Remove(temporary)
		return fmt.Errorf("replace state file: %w", err)
	}

	return nil
}
