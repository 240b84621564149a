package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oshokin/pkgbroker/internal/api/grpc/broker"
	"github.com/oshokin/pkgbroker/internal/api/grpc/peercred"
	"github.com/oshokin/pkgbroker/internal/config"
	"github.com/oshokin/pkgbroker/internal/domain/install"
)

// Client wraps the broker gRPC client with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the broker.
	conn *grpc.ClientConn
	// api is the broker service client.
	api *broker.Client
	// health is the standard health service client.
	health healthpb.HealthClient

	// callTimeout bounds calls that do not wait for an installation result.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for short calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

var (
	// errSocketRequired is returned when no socket path is given.
	errSocketRequired = errors.New("socket path must be provided")
	// ErrNoResult is returned when the broker closes a stream without a result,
	// which is what untrusted callers see.
	ErrNoResult = errors.New("broker finished without a result, the caller may not be allowed")
	// errNotServing is returned by Ping for brokers reporting a non-serving status.
	errNotServing = errors.New("broker is not serving")
)

// Dial creates a connection to the broker listening on socketPath.
func Dial(_ context.Context, socketPath string, opts ...Option) (*Client, error) {
	if socketPath == "" {
		return nil, errSocketRequired
	}

	conn, err := grpc.NewClient("unix://"+socketPath, grpc.WithTransportCredentials(peercred.New()))
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	client := &Client{
		conn:        conn,
		api:         broker.NewClient(conn),
		health:      healthpb.NewHealthClient(conn),
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// Ping checks the broker health service.
func (c *Client) Ping(ctx context.Context) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.health.Check(callCtx, &healthpb.HealthCheckRequest{Service: broker.ServiceName})
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}

	if response.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%s: %w", response.GetStatus(), errNotServing)
	}

	return nil
}

// HasPrivilegedPermissions reports whether this process is trusted by the broker.
func (c *Client) HasPrivilegedPermissions(ctx context.Context) (bool, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.HasPrivilegedPermissions(callCtx, new(broker.PermissionsRequest))
	if err != nil {
		return false, fmt.Errorf("check permissions: %w", err)
	}

	return response.Allowed, nil
}

// InstalledPackages lists installed packages.
func (c *Client) InstalledPackages(ctx context.Context, flags int) ([]install.PackageInfo, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.GetInstalledPackages(callCtx, &broker.InstalledPackagesRequest{Flags: flags})
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}

	return response.Packages, nil
}

// Confirm approves or rejects an installation waiting for the user.
func (c *Client) Confirm(ctx context.Context, sessionID int, approved bool) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	_, err := c.api.ConfirmSession(callCtx, &broker.ConfirmRequest{SessionID: sessionID, Approved: approved})
	if err != nil {
		return fmt.Errorf("confirm session %d: %w", sessionID, err)
	}

	return nil
}

// Install installs a package and waits for the result code. Follow-up actions
// are passed to onAction while waiting.
func (c *Client) Install(
	ctx context.Context,
	packageName string,
	sources []string,
	onAction func(*install.FollowUpAction),
) (int, error) {
	stream, err := c.api.InstallPackage(ctx, &broker.InstallRequest{
		SourceURIs:  sources,
		PackageName: packageName,
	})
	if err != nil {
		return 0, fmt.Errorf("install package: %w", err)
	}

	return waitResult(stream, onAction)
}

// Delete uninstalls a package and waits for the result code.
func (c *Client) Delete(ctx context.Context, packageName string, flags int) (int, error) {
	stream, err := c.api.DeletePackage(ctx, &broker.DeleteRequest{
		PackageName: packageName,
		Flags:       flags,
	})
	if err != nil {
		return 0, fmt.Errorf("delete package: %w", err)
	}

	return waitResult(stream, nil)
}

// waitResult reads events until the result arrives.
func waitResult(stream grpc.ServerStreamingClient[broker.Event], onAction func(*install.FollowUpAction)) (int, error) {
	for {
		event, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return 0, ErrNoResult
		}

		if err != nil {
			return 0, fmt.Errorf("receive event: %w", err)
		}

		if event.UserAction != nil && onAction != nil {
			onAction(event.UserAction)
		}

		if event.Result != nil {
			return event.Result.Code, nil
		}
	}
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
