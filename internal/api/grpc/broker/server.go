package broker

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oshokin/pkgbroker/internal/api/grpc/peercred"
	"github.com/oshokin/pkgbroker/internal/domain/install"
	"github.com/oshokin/pkgbroker/internal/logger"
)

// eventBuffer is how many events a stream queues before the result delivery waits for the client.
const eventBuffer = 8

// Authorizer checks callers against the allow-list.
type Authorizer interface {
	IsCallerAllowed(ctx context.Context, caller install.CallerID) (bool, error)
}

// Coordinator runs installs and uninstalls.
type Coordinator interface {
	Install(ctx context.Context, packageName string, sources []string, callback install.Callback)
	Uninstall(ctx context.Context, packageName string, callback install.Callback)
	InstalledPackages(ctx context.Context, flags int) ([]install.PackageInfo, error)
}

// Confirmer resolves commits waiting for the user.
type Confirmer interface {
	Confirm(ctx context.Context, sessionID int, approved bool) error
}

// Server implements PrivilegedServiceServer.
type Server struct {
	authorizer  Authorizer
	coordinator Coordinator
	confirmer   Confirmer
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithConfirmer enables ConfirmSession.
func WithConfirmer(confirmer Confirmer) ServerOption {
	return func(s *Server) {
		s.confirmer = confirmer
	}
}

// NewServer wires the authorizer and coordinator into a gRPC handler.
func NewServer(authorizer Authorizer, coordinator Coordinator, opts ...ServerOption) *Server {
	s := &Server{
		authorizer:  authorizer,
		coordinator: coordinator,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// HasPrivilegedPermissions reports whether the caller passes the allow-list.
func (s *Server) HasPrivilegedPermissions(ctx context.Context, _ *PermissionsRequest) (*PermissionsResponse, error) {
	info, err := peercred.FromContext(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "peer credentials are required")
	}

	ctx = logger.WithKV(ctx, "uid", info.UID)

	allowed, err := s.authorizer.IsCallerAllowed(ctx, install.CallerID(info.UID))
	if err != nil {
		logger.ErrorKV(ctx, "Unable to check caller", "error", err)
		return nil, status.Error(codes.Internal, "unable to resolve caller")
	}

	return &PermissionsResponse{Allowed: allowed}, nil
}

// InstallPackage installs a package for a trusted caller and streams its events.
// Untrusted callers get an empty stream.
func (s *Server) InstallPackage(req *InstallRequest, stream grpc.ServerStreamingServer[Event]) error {
	ctx := logger.WithFields(stream.Context(), "rpc", "InstallPackage", "package", req.PackageName)
	if !s.authorize(ctx) {
		return nil
	}

	logger.DebugKV(ctx, "Install requested", "sources", req.SourceURIs, "flags", req.Flags)

	relay := newEventRelay(ctx)
	s.coordinator.Install(ctx, req.PackageName, req.SourceURIs, relay)

	return relay.drain(ctx, stream)
}

// DeletePackage uninstalls a package for a trusted caller and streams its result.
// Untrusted callers get an empty stream.
func (s *Server) DeletePackage(req *DeleteRequest, stream grpc.ServerStreamingServer[Event]) error {
	ctx := logger.WithFields(stream.Context(), "rpc", "DeletePackage", "package", req.PackageName)
	if !s.authorize(ctx) {
		return nil
	}

	logger.DebugKV(ctx, "Delete requested", "flags", req.Flags)

	relay := newEventRelay(ctx)
	s.coordinator.Uninstall(ctx, req.PackageName, relay)

	return relay.drain(ctx, stream)
}

// GetInstalledPackages lists installed packages, static shared libraries included.
func (s *Server) GetInstalledPackages(ctx context.Context, req *InstalledPackagesRequest) (*InstalledPackagesResponse, error) {
	packages, err := s.coordinator.InstalledPackages(ctx, req.Flags)
	if err != nil {
		logger.ErrorKV(ctx, "Unable to list installed packages", "error", err)
		return nil, status.Error(codes.Internal, "unable to list installed packages")
	}

	return &InstalledPackagesResponse{Packages: packages}, nil
}

// ConfirmSession approves or rejects a pending commit for a trusted caller.
func (s *Server) ConfirmSession(ctx context.Context, req *ConfirmRequest) (*ConfirmResponse, error) {
	ctx = logger.WithFields(ctx, "rpc", "ConfirmSession", "session_id", req.SessionID)
	if !s.authorize(ctx) {
		return nil, status.Error(codes.PermissionDenied, "caller is not allowed")
	}

	if s.confirmer == nil {
		return nil, status.Error(codes.Unimplemented, "installer does not ask for confirmation")
	}

	if err := s.confirmer.Confirm(ctx, req.SessionID, req.Approved); err != nil {
		logger.WarnKV(ctx, "Unable to confirm session", "error", err)
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}

	return new(ConfirmResponse), nil
}

// authorize reports whether the peer of ctx is trusted. Failures are logged, never returned.
func (s *Server) authorize(ctx context.Context) bool {
	info, err := peercred.FromContext(ctx)
	if err != nil {
		logger.ErrorKV(ctx, "Caller has no peer credentials", "error", err)
		return false
	}

	ctx = logger.WithKV(ctx, "uid", info.UID)

	allowed, err := s.authorizer.IsCallerAllowed(ctx, install.CallerID(info.UID))
	if err != nil {
		logger.ErrorKV(ctx, "Unable to check caller", "error", err)
		return false
	}

	return allowed
}

// eventRelay turns coordinator callbacks into stream events.
type eventRelay struct {
	events chan *Event
	done   <-chan struct{}
}

func newEventRelay(ctx context.Context) *eventRelay {
	return &eventRelay{
		events: make(chan *Event, eventBuffer),
		done:   ctx.Done(),
	}
}

// HandleResult implements install.Callback.
func (r *eventRelay) HandleResult(packageName string, code int) {
	r.push(&Event{Result: &ResultEvent{PackageName: packageName, Code: code}})
}

// Forward implements install.UserActionSink.
func (r *eventRelay) Forward(_ context.Context, action *install.FollowUpAction) {
	r.push(&Event{UserAction: action})
}

func (r *eventRelay) push(event *Event) {
	select {
	case r.events <- event:
	case <-r.done:
	}
}

// drain sends events until the result went out or the client went away.
func (r *eventRelay) drain(ctx context.Context, stream grpc.ServerStreamingServer[Event]) error {
	for {
		select {
		case event := <-r.events:
			if err := stream.Send(event); err != nil {
				logger.WarnKV(ctx, "Unable to send event", "error", err)
				return err
			}

			if event.Result != nil {
				return nil
			}
		case <-ctx.Done():
			logger.InfoKV(ctx, "Client left before the result", "error", ctx.Err())
			return status.FromContextError(ctx.Err()).Err()
		}
	}
}
