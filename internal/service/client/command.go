package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	"github.com/oshokin/pkgbroker/internal/config"
	"github.com/oshokin/pkgbroker/internal/domain/install"
	"github.com/oshokin/pkgbroker/internal/logger"
)

// Options configures the client commands.
type Options struct {
	// ConfigPath to YAML settings file; a missing default file means built-in defaults.
	ConfigPath string
	// SocketPath overrides the socket path from the settings.
	SocketPath string
	// Output receives command output, stdout when nil.
	Output io.Writer
	// AutoConfirm approves confirm-install requests of the running install.
	AutoConfirm bool
}

var (
	// ErrNotAllowed is returned by Check when the broker does not trust the caller.
	ErrNotAllowed = errors.New("caller is not allowed by the broker")
	// ErrOperationFailed is returned when the broker reports a failure code.
	ErrOperationFailed = errors.New("operation failed")
)

// Check reports whether the broker is healthy and trusts this process.
func Check(ctx context.Context, opts *Options) error {
	return withClient(ctx, opts, func(ctx context.Context, client *Client, out io.Writer) error {
		if err := client.Ping(ctx); err != nil {
			return err
		}

		allowed, err := client.HasPrivilegedPermissions(ctx)
		if err != nil {
			return err
		}

		if !allowed {
			return ErrNotAllowed
		}

		_, _ = fmt.Fprintln(out, "allowed")

		return nil
	})
}

// Install installs a package from the given sources.
func Install(ctx context.Context, opts *Options, packageName string, sources []string) error {
	return withClient(ctx, opts, func(ctx context.Context, client *Client, out io.Writer) error {
		code, err := client.Install(ctx, packageName, sources, func(action *install.FollowUpAction) {
			_, _ = fmt.Fprintf(out, "action required: %s (session %d) %s\n", action.Kind, action.SessionID, action.Target)

			if !opts.AutoConfirm || action.Kind != install.FollowUpConfirmInstall {
				return
			}

			if err := client.Confirm(ctx, action.SessionID, true); err != nil {
				logger.ErrorKV(ctx, "Unable to confirm installation", "session_id", action.SessionID, "error", err)
			}
		})
		if err != nil {
			return err
		}

		if code != install.InstallSucceeded {
			return fmt.Errorf("install %s: code %d: %w", packageName, code, ErrOperationFailed)
		}

		_, _ = fmt.Fprintf(out, "installed %s\n", packageName)

		return nil
	})
}

// Confirm answers a pending installation.
func Confirm(ctx context.Context, opts *Options, sessionID int, approved bool) error {
	return withClient(ctx, opts, func(ctx context.Context, client *Client, out io.Writer) error {
		if err := client.Confirm(ctx, sessionID, approved); err != nil {
			return err
		}

		verdict := "rejected"
		if approved {
			verdict = "approved"
		}

		_, _ = fmt.Fprintf(out, "session %d %s\n", sessionID, verdict)

		return nil
	})
}

// Delete uninstalls a package.
func Delete(ctx context.Context, opts *Options, packageName string) error {
	return withClient(ctx, opts, func(ctx context.Context, client *Client, out io.Writer) error {
		code, err := client.Delete(ctx, packageName, 0)
		if err != nil {
			return err
		}

		if code != install.DeleteSucceeded {
			return fmt.Errorf("delete %s: code %d: %w", packageName, code, ErrOperationFailed)
		}

		_, _ = fmt.Fprintf(out, "deleted %s\n", packageName)

		return nil
	})
}

// List prints installed packages as a table.
func List(ctx context.Context, opts *Options, flags int) error {
	return withClient(ctx, opts, func(ctx context.Context, client *Client, out io.Writer) error {
		packages, err := client.InstalledPackages(ctx, flags)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "NAME\tVERSION\tINSTALLER\tSIZE\tINSTALLED")

		for _, pkg := range packages {
			installedAt := "-"
			if !pkg.InstalledAt.IsZero() {
				installedAt = pkg.InstalledAt.Format(time.RFC3339)
			}

			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", pkg.Name, pkg.Version, pkg.InstallerName, pkg.Size, installedAt)
		}

		return w.Flush()
	})
}

// withClient loads the settings, dials the broker and runs fn.
func withClient(
	ctx context.Context,
	opts *Options,
	fn func(ctx context.Context, client *Client, out io.Writer) error,
) error {
	ctx = logger.WithName(ctx, "pkgbroker-client")

	settings, err := loadSettings(opts)
	if err != nil {
		return err
	}

	client, err := Dial(ctx, settings.SocketPath, WithCallTimeout(settings.Timeout))
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	logger.DebugKV(ctx, "Connected to broker", "socket", settings.SocketPath)

	return fn(ctx, client, out)
}

// loadSettings loads the configuration, falling back to defaults when the default file is absent.
func loadSettings(opts *Options) (*config.Config, error) {
	settings, err := config.Load(opts.ConfigPath)

	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist) && (opts.ConfigPath == "" || opts.ConfigPath == config.DefaultConfigFilename):
		settings = new(config.Config)
	default:
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if opts.SocketPath != "" {
		settings.SocketPath = opts.SocketPath
	}

	if err = config.Validate(settings); err != nil {
		return nil, fmt.Errorf("validate settings: %w", err)
	}

	return settings, nil
}
