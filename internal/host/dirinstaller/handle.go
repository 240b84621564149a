package dirinstaller

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/oshokin/pkgbroker/internal/domain/install"
)

const stagedFilePermissions = 0o600

var errForeignWriter = errors.New("writer was not opened by this session")

// handle is an open session. It is not safe for concurrent use.
type handle struct {
	installer *Installer
	sessionID int
	dir       string
	closed    atomic.Bool
}

// Names lists the staged files in name order.
func (h *handle) Names() ([]string, error) {
	if err := h.usable(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return nil, fmt.Errorf("list session %d: %w", h.sessionID, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}

	return names, nil
}

// OpenWrite opens a staged file for writing at offset. Anything staged past
// offset is discarded. The length is only a hint.
func (h *handle) OpenWrite(name string, offset, _ int64) (io.WriteCloser, error) {
	if err := h.usable(); err != nil {
		return nil, err
	}

	if !validName(name) {
		return nil, fmt.Errorf("%q: %w", name, errBadPackageName)
	}

	file, err := os.OpenFile(filepath.Join(h.dir, name), os.O_WRONLY|os.O_CREATE, stagedFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("open staged file: %w", err)
	}

	if err = file.Truncate(offset); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("truncate staged file: %w", err)
	}

	if _, err = file.Seek(offset, io.SeekStart); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("seek staged file: %w", err)
	}

	return file, nil
}

// Fsync flushes a writer returned by OpenWrite to disk.
func (h *handle) Fsync(w io.Writer) error {
	file, ok := w.(*os.File)
	if !ok || filepath.Dir(file.Name()) != h.dir {
		return errForeignWriter
	}

	return file.Sync()
}

// Commit seals the session; the result is delivered through sender.
func (h *handle) Commit(sender install.ResultSender) error {
	if err := h.usable(); err != nil {
		return err
	}

	return h.installer.commit(h.sessionID, sender)
}

// Close releases the handle. A second Close reports ErrSessionClosed.
func (h *handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return install.ErrSessionClosed
	}

	return nil
}

func (h *handle) usable() error {
	if h.closed.Load() {
		return install.ErrSessionClosed
	}

	if !h.installer.hasSession(h.sessionID) {
		return fmt.Errorf("session %d: %w", h.sessionID, install.ErrSessionNotFound)
	}

	return nil
}
