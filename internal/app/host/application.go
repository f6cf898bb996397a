// Package host wires the platform service host: the worker supervisor and
// its local status API.
package host

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/rewstapp/rewst_remote_agent/internal/adapter/httpserver"
	"github.com/rewstapp/rewst_remote_agent/internal/checksum"
	"github.com/rewstapp/rewst_remote_agent/internal/config"
	"github.com/rewstapp/rewst_remote_agent/internal/infra/paths"
	"github.com/rewstapp/rewst_remote_agent/internal/infra/system"
	"github.com/rewstapp/rewst_remote_agent/internal/platform"
	"github.com/rewstapp/rewst_remote_agent/internal/supervisor"
)

type Application struct {
	orgID      string
	supervisor *supervisor.Supervisor
	server     *httpserver.Server
	logger     *slog.Logger
}

func NewApplication(settings *config.Settings, layout paths.Layout, orgID string, logger *slog.Logger) *Application {
	verifier := checksum.NewVerifier(checksum.Options{
		APIBase: settings.ReleaseAPI,
		Repo:    settings.ReleaseRepo,
		Version: config.Version,
	}, logger)

	sup := supervisor.New(supervisor.Options{
		Executable: layout.AgentExecutablePath(orgID),
		Args:       []string{"--config-file", layout.ConfigFilePath(orgID)},
	}, verifier, system.NewProcessTable(), platform.NewReporter(logger), logger)

	app := &Application{orgID: orgID, supervisor: sup, logger: logger}
	if settings.StatusAddr != "" {
		api := httpserver.NewAPI(config.Version, orgID, sup, system.NewStatsCollector(logger))
		app.server = httpserver.NewServer(settings.StatusAddr, api, logger)
	}
	return app
}

// Run hands the supervisor to the OS service manager and serves the
// status API alongside it until ctx is cancelled or the service stops.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return platform.Run(ctx, platform.ServiceName(a.orgID), a.supervisor, a.logger)
	})
	if a.server != nil {
		g.Go(func() error {
			return a.server.Run(ctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
