package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/pkgbroker/internal/config"
	"github.com/oshokin/pkgbroker/internal/service/server"
	"github.com/oshokin/pkgbroker/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// socketPath overrides the socket from the configuration.
	socketPath string
	// logLevel overrides the log level from the configuration.
	logLevel string

	// rootCmd represents the base command for running the broker.
	rootCmd = &cobra.Command{
		Use:   "pkgbroker",
		Short: "Run the privileged package installation broker.",
		Long: `Starts the broker daemon that installs and removes packages on behalf of trusted callers.

Callers connect over a unix socket and are identified by the kernel-reported uid of
their process. A caller is trusted when the first package registered for its uid is on
the allow-list and the SHA-256 fingerprint of its certificates matches.
Installation sessions are staged on disk and recovered after a restart.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &server.Options{
				ConfigPath: configPath,
				SocketPath: socketPath,
				LogLevel:   logLevel,
			}

			return server.Run(ctx, options)
		},
	}
)

// Execute runs the pkgbroker CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&socketPath, "socket", "s", "", "unix socket to listen on")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "log level: debug, info, warn, error")
}
