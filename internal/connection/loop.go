package connection

import (
	"context"
	"log/slog"
	"time"

	"github.com/rewstapp/rewst_remote_agent/internal/domain"
	"github.com/rewstapp/rewst_remote_agent/internal/impls"
)

const (
	defaultPollInterval      = time.Second
	defaultReconnectInterval = 10 * time.Second
	disconnectTimeout        = 10 * time.Second
	dedupeTTL                = 10 * time.Minute
)

// TransportFactory builds a fresh transport for every connection attempt.
type TransportFactory func(cfg domain.AgentConfiguration) impls.Transport

// Loop keeps one Manager connected at a time until stopped.
type Loop struct {
	cfg          domain.AgentConfiguration
	newTransport TransportFactory
	executor     impls.CommandExecutor
	installation impls.InstallationSource
	stop         *StopSignal
	logger       *slog.Logger

	PollInterval      time.Duration
	ReconnectInterval time.Duration
	Options           []Option

	// OnManager, when set, sees every manager the loop creates.
	OnManager func(*Manager)
}

func NewLoop(
	cfg domain.AgentConfiguration,
	newTransport TransportFactory,
	executor impls.CommandExecutor,
	installation impls.InstallationSource,
	stop *StopSignal,
	logger *slog.Logger,
) *Loop {
	return &Loop{
		cfg:               cfg,
		newTransport:      newTransport,
		executor:          executor,
		installation:      installation,
		stop:              stop,
		logger:            logger,
		PollInterval:      defaultPollInterval,
		ReconnectInterval: defaultReconnectInterval,
	}
}

// Run connects, serves and reconnects until the stop signal is raised or
// ctx is cancelled. A stop while connected reports the device offline
// before returning.
func (l *Loop) Run(ctx context.Context) error {
	stopOnCancel := context.AfterFunc(ctx, func() { l.stop.Set() })
	defer stopOnCancel()

	dedupe := NewDeduper(dedupeTTL)
	defer dedupe.Stop()
	opts := append([]Option{WithDeduper(dedupe)}, l.Options...)

	for !l.stop.IsSet() {
		if l.runOnce(ctx, opts) {
			return nil
		}
		if l.stop.IsSet() {
			break
		}

		l.logger.Info("reconnecting", "in", l.ReconnectInterval.String())
		timer := time.NewTimer(l.ReconnectInterval)
		select {
		case <-timer.C:
		case <-l.stop.Done():
		}
		timer.Stop()
	}
	return nil
}

// runOnce serves one connection. It reports true when it shut down on
// request.
func (l *Loop) runOnce(ctx context.Context, opts []Option) (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("exception caught during iot hub loop", "panic", r)
			stopped = false
		}
	}()

	m := NewManager(l.cfg, l.newTransport(l.cfg), l.executor, l.installation, l.logger, opts...)
	if l.OnManager != nil {
		l.OnManager(m)
	}

	l.logger.Info("connecting to iot hub")
	if err := m.Connect(ctx); err != nil {
		return false
	}

	l.logger.Info("setting up message handler")
	m.SetMessageHandler()

	ticker := time.NewTicker(l.PollInterval)
	defer ticker.Stop()

	for !l.stop.IsSet() && m.Connected() {
		select {
		case <-ticker.C:
		case <-l.stop.Done():
		}
	}

	if !l.stop.IsSet() {
		l.logger.Info("client disconnected")
		return false
	}

	if m.Connected() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
		defer cancel()
		m.Disconnect(shutdownCtx)
	}
	return true
}
