package dirinstaller

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/oshokin/pkgbroker/internal/domain/install"
	"github.com/oshokin/pkgbroker/internal/logger"
)

// Uninstall stops the package processes and removes the package; the result is
// delivered through sender. Unknown packages fail synchronously.
func (i *Installer) Uninstall(ctx context.Context, packageName string, sender install.ResultSender) error {
	i.mu.Lock()
	_, ok := i.state.Package(packageName)
	i.mu.Unlock()

	if !ok {
		return fmt.Errorf("%s: %w", packageName, install.ErrPackageNotFound)
	}

	logger.InfoKV(ctx, "Uninstalling package", "package", packageName)

	i.wg.Go(func() {
		i.deliver(sender, i.remove(packageName))
	})

	return nil
}

func (i *Installer) remove(packageName string) install.Result {
	if err := i.terminate(i.ctx, packageName); err != nil {
		return install.Result{
			Status:  install.StatusFailureBlocked,
			Message: fmt.Sprintf("stop running processes: %v", err),
		}
	}

	err := os.Remove(i.packagePath(packageName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return install.Result{Status: install.StatusFailureStorage, Message: err.Error()}
	}

	i.mu.Lock()
	removed := i.state.RemovePackage(packageName)

	if removed {
		err = i.saveLocked(i.ctx)
	}
	i.mu.Unlock()

	if !removed {
		return install.Result{Status: install.StatusFailure, Message: packageName + " is not installed"}
	}

	if err != nil {
		return install.Result{Status: install.StatusFailureStorage, Message: err.Error()}
	}

	logger.InfoKV(i.ctx, "Package removed", "package", packageName)

	return install.Result{Status: install.StatusSuccess}
}
