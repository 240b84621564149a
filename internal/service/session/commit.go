package session

import (
	"context"

	"github.com/oshokin/pkgbroker/internal/broadcast"
	"github.com/oshokin/pkgbroker/internal/domain/install"
	"github.com/oshokin/pkgbroker/internal/logger"
)

// handleCommitResult decodes the commit outcome of sessionID and reports it.
// It runs on the dispatcher goroutine.
func (c *Coordinator) handleCommitResult(
	ctx context.Context,
	sub *broadcast.Subscription,
	packageName string,
	sessionID int,
	result install.Result,
	callback install.Callback,
) {
	ctx = logger.WithFields(ctx, "package", packageName, "session_id", sessionID)

	logger.DebugKV(ctx, "Installation finished",
		"status", result.Status, "message", result.Message, "extras", result.Extras)

	switch result.Status {
	case install.StatusSuccess:
		c.cancelSession(ctx, sessionID, packageName)
		callback.HandleResult(packageName, install.InstallResultCode(result.Status))
	case install.StatusPendingUserAction:
		if result.FollowUp == nil {
			logger.ErrorKV(ctx, "Pending user action without a follow-up action")
			c.cancelSession(ctx, sessionID, packageName)
			callback.HandleResult(packageName, install.InstallFailedInternalError)

			return
		}

		// The session stays committed-but-pending; the host reports the final
		// status through the same sender once the user acts.
		sub.Rearm()

		c.forwardUserAction(ctx, result.FollowUp, callback)
	default:
		c.cancelSession(ctx, sessionID, packageName)
		logger.ErrorKV(ctx, "Error while installing",
			"error", &install.HostStatusError{Status: result.Status, Message: result.Message})
		callback.HandleResult(packageName, install.InstallResultCode(result.Status))
	}
}

// handleUninstallResult reports the uninstall outcome of packageName.
func (c *Coordinator) handleUninstallResult(
	ctx context.Context,
	packageName string,
	result install.Result,
	callback install.Callback,
) {
	ctx = logger.WithKV(ctx, "package", packageName)

	if result.Status != install.StatusSuccess {
		logger.ErrorKV(ctx, "Error while uninstalling",
			"error", &install.HostStatusError{Status: result.Status, Message: result.Message})
	} else {
		logger.InfoKV(ctx, "Package uninstalled")
	}

	callback.HandleResult(packageName, install.DeleteResultCode(result.Status))
}

// forwardUserAction hands the follow-up to the callback when it can surface
// it to the user, otherwise to the coordinator's sink.
func (c *Coordinator) forwardUserAction(ctx context.Context, action *install.FollowUpAction, callback install.Callback) {
	if sink, ok := callback.(install.UserActionSink); ok {
		sink.Forward(ctx, action)
		return
	}

	c.userActions.Forward(ctx, action)
}
