package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/pkgbroker/internal/config"
	"github.com/oshokin/pkgbroker/internal/service/client"
	"github.com/oshokin/pkgbroker/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// socketPath overrides the socket from the configuration.
	socketPath string
	// autoConfirm approves confirmation requests of an install.
	autoConfirm bool
	// reject turns confirm into a rejection.
	reject bool

	// rootCmd represents the base command of the client.
	rootCmd = &cobra.Command{
		Use:          "pkgbroker-client",
		Short:        "Install and remove packages through pkgbroker.",
		SilenceUsage: true,
	}

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Check that the broker is up and trusts this process.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(ctx context.Context, opts *client.Options) error {
				return client.Check(ctx, opts)
			})
		},
	}

	installCmd = &cobra.Command{
		Use:   "install <package> <uri>...",
		Short: "Install a package from one or more file:// or http(s):// sources.",
		Long: `Streams the sources, in order, into an installation session and waits for the result.
If the broker asks for a user action, it is printed and the command keeps waiting;
answer it with "confirm <session-id>" or pass --yes to approve it right away.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, opts *client.Options) error {
				return client.Install(ctx, opts, args[0], args[1:])
			})
		},
	}

	confirmCmd = &cobra.Command{
		Use:   "confirm <session-id>",
		Short: "Approve, or with --reject refuse, an installation waiting for the user.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("parse session id %q: %w", args[0], err)
			}

			return run(cmd, func(ctx context.Context, opts *client.Options) error {
				return client.Confirm(ctx, opts, sessionID, !reject)
			})
		},
	}

	deleteCmd = &cobra.Command{
		Use:   "delete <package>",
		Short: "Uninstall a package.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, opts *client.Options) error {
				return client.Delete(ctx, opts, args[0])
			})
		},
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List installed packages, static shared libraries included.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(ctx context.Context, opts *client.Options) error {
				return client.List(ctx, opts, 0)
			})
		},
	}
)

// run wires signal handling and shared options into a subcommand.
func run(cmd *cobra.Command, fn func(ctx context.Context, opts *client.Options) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return fn(ctx, &client.Options{
		ConfigPath:  configPath,
		SocketPath:  socketPath,
		Output:      cmd.OutOrStdout(),
		AutoConfirm: autoConfirm,
	})
}

// Execute runs the pkgbroker-client CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "", "unix socket of the broker")

	installCmd.Flags().BoolVarP(&autoConfirm, "yes", "y", false, "approve confirmation requests of this install")
	confirmCmd.Flags().BoolVar(&reject, "reject", false, "reject the installation instead")

	rootCmd.AddCommand(checkCmd, installCmd, confirmCmd, deleteCmd, listCmd)
}
