// Package agent wires the worker process: the hub connection loop, the
// command executor and the host probe.
package agent

import (
	"context"
	"log/slog"

	"github.com/rewstapp/rewst_remote_agent/internal/config"
	"github.com/rewstapp/rewst_remote_agent/internal/connection"
	"github.com/rewstapp/rewst_remote_agent/internal/domain"
	"github.com/rewstapp/rewst_remote_agent/internal/executor"
	"github.com/rewstapp/rewst_remote_agent/internal/impls"
	"github.com/rewstapp/rewst_remote_agent/internal/infra/paths"
	"github.com/rewstapp/rewst_remote_agent/internal/infra/system"
	"github.com/rewstapp/rewst_remote_agent/internal/iothub"
)

// Agent is the top-level worker that keeps the device online.
type Agent struct {
	cfg    domain.AgentConfiguration
	logger *slog.Logger

	executor *executor.Executor
	probe    *system.Probe
	stop     *connection.StopSignal
	loop     *connection.Loop
}

// New creates and wires the worker subsystems for cfg.
func New(settings *config.Settings, layout paths.Layout, cfg domain.AgentConfiguration, logger *slog.Logger) *Agent {
	scripts := settings.ScriptsDir
	if scripts == "" {
		scripts = layout.ScriptsDir()
	}

	exec := executor.New(executor.Options{ScriptsDir: scripts}, logger)
	probe := system.NewProbe(layout, config.Version, logger)
	stop := connection.NewStopSignal()
	loop := connection.NewLoop(cfg, TransportFactory(logger), exec, probe, stop, logger)

	return &Agent{
		cfg:      cfg,
		logger:   logger,
		executor: exec,
		probe:    probe,
		stop:     stop,
		loop:     loop,
	}
}

// TransportFactory builds IoT Hub clients.
func TransportFactory(logger *slog.Logger) connection.TransportFactory {
	return func(cfg domain.AgentConfiguration) impls.Transport {
		return iothub.NewClient(cfg, logger)
	}
}

// Run serves the hub until ctx is cancelled or SIGINT/SIGTERM arrives.
func (a *Agent) Run(ctx context.Context) error {
	restore := connection.InstallSignalHandlers(a.stop, a.logger)
	defer restore()

	a.logger.Info("running for org", "org_id", a.cfg.OrgID, "version", config.Version)
	return a.loop.Run(ctx)
}

// Stop asks Run to return. It is safe to call more than once.
func (a *Agent) Stop() {
	a.stop.Set()
}

// Connect opens a single managed connection with message handling, used
// while a fresh installation waits for its binaries.
func (a *Agent) Connect(ctx context.Context) (*connection.Manager, error) {
	m := connection.NewManager(a.cfg, TransportFactory(a.logger)(a.cfg), a.executor, a.probe, a.logger)
	if err := m.Connect(ctx); err != nil {
		return nil, err
	}
	m.SetMessageHandler()
	return m, nil
}
