package dirinstaller

import (
	"bytes"
	"context"
	"crypto"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/pkgbroker/internal/domain/install"
	"github.com/oshokin/pkgbroker/internal/logger"
)

// versionLength is the number of checksum bytes used as version label.
const versionLength = 6

// commit seals a session and schedules its installation.
func (i *Installer) commit(sessionID int, sender install.ResultSender) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	info, ok := i.state.Session(sessionID)
	if !ok {
		return fmt.Errorf("session %d: %w", sessionID, install.ErrSessionNotFound)
	}

	if _, ok = i.sealed[sessionID]; ok {
		return fmt.Errorf("session %d: %w", sessionID, errAlreadyCommitted)
	}

	i.sealed[sessionID] = struct{}{}

	if !i.needsConfirmationLocked(info) {
		i.wg.Go(func() { i.finish(sessionID, sender) })
		return nil
	}

	i.pending[sessionID] = sender

	followUp := &install.FollowUpAction{
		Kind:        install.FollowUpConfirmInstall,
		PackageName: info.PackageName,
		SessionID:   sessionID,
		Target:      i.sessionDir(sessionID),
	}

	i.wg.Go(func() {
		i.deliver(sender, install.Result{
			Status:   install.StatusPendingUserAction,
			Message:  "installation needs user confirmation",
			FollowUp: followUp,
		})
	})

	return nil
}

// needsConfirmationLocked asks the user when the host or the session requires it,
// or when the package belongs to another installer.
func (i *Installer) needsConfirmationLocked(info *install.SessionInfo) bool {
	if i.confirmAll || info.UserAction == install.UserActionRequired {
		return true
	}

	record, ok := i.state.Package(info.PackageName)

	return ok && record.InstallerName != "" && record.InstallerName != info.InstallerName
}

// Confirm resolves a commit that is waiting for the user.
func (i *Installer) Confirm(ctx context.Context, sessionID int, approved bool) error {
	i.mu.Lock()

	sender, ok := i.pending[sessionID]
	if !ok {
		i.mu.Unlock()
		return fmt.Errorf("session %d: %w", sessionID, errNotPending)
	}

	delete(i.pending, sessionID)
	i.mu.Unlock()

	if approved {
		logger.InfoKV(ctx, "Installation approved", "session_id", sessionID)
		i.wg.Go(func() { i.finish(sessionID, sender) })

		return nil
	}

	logger.InfoKV(ctx, "Installation rejected", "session_id", sessionID)

	i.wg.Go(func() {
		i.discard(sessionID)
		i.deliver(sender, install.Result{
			Status:  install.StatusFailureAborted,
			Message: "installation rejected by the user",
		})
	})

	return nil
}

// finish installs the staged artifact and reports the outcome.
func (i *Installer) finish(sessionID int, sender install.ResultSender) {
	result := i.apply(sessionID)
	if result.Status != install.StatusSuccess {
		i.discard(sessionID)
	}

	i.deliver(sender, result)
}

// apply replaces the package file with the single staged artifact.
func (i *Installer) apply(sessionID int) install.Result {
	info, err := i.SessionInfo(i.ctx, sessionID)
	if err != nil {
		return install.Result{Status: install.StatusFailureAborted, Message: err.Error()}
	}

	h := &handle{installer: i, sessionID: sessionID, dir: i.sessionDir(sessionID)}

	names, err := h.Names()
	if err != nil {
		return install.Result{Status: install.StatusFailureStorage, Message: err.Error()}
	}

	if len(names) != 1 {
		return install.Result{
			Status:  install.StatusFailureInvalid,
			Message: fmt.Sprintf("session must stage exactly one artifact, found %d", len(names)),
		}
	}

	data, err := os.ReadFile(filepath.Join(h.dir, names[0]))
	if err != nil {
		return install.Result{Status: install.StatusFailureStorage, Message: err.Error()}
	}

	if len(data) == 0 {
		return install.Result{Status: install.StatusFailureInvalid, Message: "staged artifact is empty"}
	}

	checksum := sha256.Sum256(data)
	target := i.packagePath(info.PackageName)

	if err = writePackage(target, data, checksum[:]); err != nil {
		return install.Result{Status: install.StatusFailureStorage, Message: err.Error()}
	}

	record := install.PackageInfo{
		Name:          info.PackageName,
		Version:       hex.EncodeToString(checksum[:versionLength]),
		InstallerName: info.InstallerName,
		Size:          int64(len(data)),
		InstalledAt:   i.now(),
	}

	i.mu.Lock()

	if existing, ok := i.state.Package(info.PackageName); ok {
		record.StaticSharedLibrary = existing.StaticSharedLibrary
	}

	i.state.PutPackage(record)
	i.state.RemoveSession(sessionID)
	delete(i.sealed, sessionID)
	err = i.saveLocked(i.ctx)

	i.mu.Unlock()

	if err != nil {
		logger.ErrorKV(i.ctx, "Unable to persist installed package", "package", info.PackageName, "error", err)
	}

	_ = os.RemoveAll(h.dir)

	logger.InfoKV(i.ctx, "Package installed", "package", info.PackageName, "version", record.Version, "size", record.Size)

	return install.Result{
		Status: install.StatusSuccess,
		Extras: map[string]string{
			"path":    target,
			"version": record.Version,
			"size":    strconv.FormatInt(record.Size, 10),
		},
	}
}

// writePackage atomically replaces target with data after verifying the checksum.
func writePackage(target string, data, checksum []byte) error {
	// The update swaps an existing file, so first installs start from an empty one.
	if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
		file, createErr := os.OpenFile(target, os.O_CREATE|os.O_WRONLY, packagePermissions)
		if createErr != nil {
			return fmt.Errorf("create package file: %w", createErr)
		}

		_ = file.Close()
	}

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: packagePermissions,
		Checksum:   checksum,
		Hash:       crypto.SHA256,
	}

	if err := goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return fmt.Errorf("apply package: %w", err)
	}

	return nil
}

// discard drops a finished session that did not install anything.
func (i *Installer) discard(sessionID int) {
	i.mu.Lock()
	defer i.mu.Unlock()

	delete(i.sealed, sessionID)
	delete(i.pending, sessionID)

	if !i.state.RemoveSession(sessionID) {
		return
	}

	_ = os.RemoveAll(i.sessionDir(sessionID))

	if err := i.saveLocked(i.ctx); err != nil {
		logger.ErrorKV(i.ctx, "Unable to persist discarded session", "session_id", sessionID, "error", err)
	}
}

// deliver sends a result, logging delivery failures.
func (i *Installer) deliver(sender install.ResultSender, result install.Result) {
	if err := sender.Send(i.ctx, result); err != nil {
		logger.WarnKV(i.ctx, "Unable to deliver result", "status", result.Status.String(), "error", err)
	}
}
