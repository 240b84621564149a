package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oshokin/pkgbroker/internal/api/grpc/broker"
	"github.com/oshokin/pkgbroker/internal/api/grpc/peercred"
	"github.com/oshokin/pkgbroker/internal/config"
	"github.com/oshokin/pkgbroker/internal/domain/install"
	"github.com/oshokin/pkgbroker/internal/logger"
	"github.com/oshokin/pkgbroker/internal/version"
)

const (
	// socketDirPermissions is the mode of a socket directory created by the daemon.
	socketDirPermissions = 0o755
	// shutdownTimeout bounds how long streams waiting for results delay shutdown.
	shutdownTimeout = 5 * time.Second
)

// Options controls the pkgbroker process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// SocketPath overrides the socket path from the settings.
	SocketPath string
	// LogLevel overrides the log level from the settings.
	LogLevel string
}

// ErrSocketInUse indicates the socket path belongs to something that is not a stale socket.
var ErrSocketInUse = errors.New("socket path is in use")

// Run starts the broker and blocks until ctx is canceled or the server stops.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "pkgbroker")

	settings, err := loadSettings(opts)
	if err != nil {
		return err
	}

	level, _ := logger.ParseLogLevel(settings.LogLevel)
	logger.SetLevel(level)

	logger.InfoKV(ctx, "Starting broker", "build", version.Full())

	identity, err := loadIdentity(settings)
	if err != nil {
		return err
	}

	return serve(ctx, settings, identity)
}

// loadSettings loads the configuration and applies command line overrides.
func loadSettings(opts *Options) (*config.Config, error) {
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if opts.SocketPath != "" {
		settings.SocketPath = opts.SocketPath
	}

	if opts.LogLevel != "" {
		settings.LogLevel = opts.LogLevel
	}

	if err = config.Validate(settings); err != nil {
		return nil, fmt.Errorf("validate settings: %w", err)
	}

	return settings, nil
}

// serve runs the broker on the configured socket until ctx is canceled.
func serve(ctx context.Context, settings *config.Config, identity install.IdentityService) error {
	svc, err := newService(ctx, settings, identity)
	if err != nil {
		return err
	}

	dispatcherCtx, stopDispatcher := context.WithCancel(context.WithoutCancel(ctx))
	dispatcherDone := make(chan struct{})

	go func() {
		defer close(dispatcherDone)

		svc.dispatcher.Run(dispatcherCtx)
	}()

	defer func() {
		svc.installer.Wait()
		stopDispatcher()
		<-dispatcherDone
	}()

	if err = svc.coordinator.Recover(ctx); err != nil {
		logger.ErrorKV(ctx, "Unable to recover sessions", "error", err)
	}

	lis, err := listen(ctx, settings.SocketPath, settings.SocketMode)
	if err != nil {
		return err
	}

	grpcServer := grpc.NewServer(grpc.Creds(peercred.New()))
	broker.RegisterPrivilegedServiceServer(grpcServer, broker.NewServer(
		svc.authorizer,
		svc.coordinator,
		broker.WithConfirmer(svc.installer),
	))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(broker.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	logger.InfoKV(ctx, "Broker listening",
		"socket", settings.SocketPath,
		"install_dir", settings.InstallDir,
		"allow_list", len(settings.AllowList),
	)

	// Done channel is closed after GracefulStop finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down gRPC server")
		healthServer.Shutdown()
		stop(grpcServer)
		close(done)
	}()

	if err = grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done
	logger.Info(ctx, "GRPC server stopped")

	return nil
}

// stop drains the server gracefully and cancels the streams still waiting after shutdownTimeout.
func stop(grpcServer *grpc.Server) {
	stopped := make(chan struct{})

	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	timer := time.NewTimer(shutdownTimeout)
	defer timer.Stop()

	select {
	case <-stopped:
	case <-timer.C:
		grpcServer.Stop()
		<-stopped
	}
}

// listen binds the unix socket, replacing a stale socket left by a previous run.
func listen(ctx context.Context, socketPath string, mode os.FileMode) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), socketDirPermissions); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}

	if err := removeStaleSocket(socketPath); err != nil {
		return nil, err
	}

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", socketPath, err)
	}

	if err = os.Chmod(socketPath, mode); err != nil {
		_ = lis.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	return lis, nil
}

// removeStaleSocket removes a socket file nobody accepts connections on.
func removeStaleSocket(socketPath string) error {
	info, err := os.Lstat(socketPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("inspect socket: %w", err)
	}

	if info.Mode().Type() != fs.ModeSocket {
		return fmt.Errorf("%s: %w", socketPath, ErrSocketInUse)
	}

	if conn, dialErr := net.Dial("unix", socketPath); dialErr == nil {
		_ = conn.Close()
		return fmt.Errorf("%s: %w", socketPath, ErrSocketInUse)
	}

	if err = os.Remove(socketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	return nil
}
