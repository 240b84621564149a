package server

import (
	"context"
	"fmt"

	"github.com/oshokin/pkgbroker/internal/broadcast"
	"github.com/oshokin/pkgbroker/internal/config"
	"github.com/oshokin/pkgbroker/internal/domain/install"
	"github.com/oshokin/pkgbroker/internal/host/content"
	"github.com/oshokin/pkgbroker/internal/host/dirinstaller"
	"github.com/oshokin/pkgbroker/internal/host/registry"
	repository "github.com/oshokin/pkgbroker/internal/repository/session"
	"github.com/oshokin/pkgbroker/internal/service/authz"
	"github.com/oshokin/pkgbroker/internal/service/session"
)

// service holds the assembled broker components.
type service struct {
	installer   *dirinstaller.Installer
	dispatcher  *broadcast.Dispatcher
	authorizer  *authz.Authorizer
	coordinator *session.Coordinator
}

// newService builds the host adapters and the broker services on top of them.
func newService(ctx context.Context, settings *config.Config, identity install.IdentityService) (*service, error) {
	installer, err := dirinstaller.New(
		ctx,
		settings.StagingDir,
		settings.InstallDir,
		repository.NewFileRepository(settings.StateFile),
		dirinstaller.WithConfirmation(settings.RequireConfirmation),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise installer: %w", err)
	}

	dispatcher := broadcast.New(0)

	return &service{
		installer:   installer,
		dispatcher:  dispatcher,
		authorizer:  authz.NewAuthorizer(ctx, identity, settings.AllowList),
		coordinator: session.NewCoordinator(installer, content.NewResolver(), dispatcher),
	}, nil
}

// loadIdentity reads the package registry named by the settings.
func loadIdentity(settings *config.Config) (install.IdentityService, error) {
	reg, err := registry.Load(settings.RegistryFile)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}

	return reg, nil
}
