//go:build linux

package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/coreos/go-systemd/v22/daemon"
	sddbus "github.com/coreos/go-systemd/v22/dbus"
	"github.com/coreos/go-systemd/v22/unit"

	"github.com/rewstapp/rewst_remote_agent/internal/domain"
	"github.com/rewstapp/rewst_remote_agent/internal/impls"
	"github.com/rewstapp/rewst_remote_agent/internal/infra/paths"
)

const systemdUnitDir = "/etc/systemd/system"

// Systemd implements impls.ServiceManager over the system bus.
type Systemd struct {
	unit   Unit
	dir    string
	logger *slog.Logger
}

func NewManager(layout paths.Layout, orgID string, logger *slog.Logger) impls.ServiceManager {
	return &Systemd{unit: NewUnit(layout, orgID), dir: systemdUnitDir, logger: logger}
}

func (s *Systemd) unitName() string {
	return s.unit.Name + ".service"
}

func (s *Systemd) unitPath() string {
	return filepath.Join(s.dir, s.unitName())
}

func (s *Systemd) IsInstalled(context.Context) bool {
	_, err := os.Stat(s.unitPath())
	return err == nil
}

func (s *Systemd) Install(ctx context.Context) error {
	if s.IsInstalled(ctx) {
		s.logger.Info("service is already installed", "unit", s.unitName())
		return nil
	}

	if err := s.writeUnit(); err != nil {
		return err
	}

	conn, err := sddbus.NewWithContext(ctx)
	if err != nil {
		return fmt.Errorf("systemd connect: %w", err)
	}
	defer conn.Close()

	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("systemd daemon-reload: %w", err)
	}
	if _, _, err := conn.EnableUnitFilesContext(ctx, []string{s.unitPath()}, false, true); err != nil {
		return fmt.Errorf("systemd enable %s: %w", s.unitName(), err)
	}
	s.logger.Info("service installed", "unit", s.unitName())
	return nil
}

func (s *Systemd) writeUnit() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("systemd write-unit: create dir: %w", err)
	}
	f, err := os.OpenFile(s.unitPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("systemd write-unit: %w", err)
	}
	if _, err := io.Copy(f, unit.Serialize(SystemdOptions(s.unit))); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("systemd write-unit: %w", err)
	}
	return f.Close()
}

func (s *Systemd) Uninstall(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		s.logger.Warn("unable to stop service", "err", err)
	}

	conn, err := sddbus.NewWithContext(ctx)
	if err != nil {
		return fmt.Errorf("systemd connect: %w", err)
	}
	defer conn.Close()

	if _, err := conn.DisableUnitFilesContext(ctx, []string{s.unitName()}, false); err != nil {
		s.logger.Warn("systemd disable", "unit", s.unitName(), "err", err)
	}
	if err := os.Remove(s.unitPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove unit file: %w", err)
	}
	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("systemd daemon-reload: %w", err)
	}
	s.logger.Info("service uninstalled", "unit", s.unitName())
	return nil
}

func (s *Systemd) Start(ctx context.Context) error {
	return s.job(ctx, "start", func(conn *sddbus.Conn, ch chan<- string) (int, error) {
		return conn.StartUnitContext(ctx, s.unitName(), "replace", ch)
	})
}

func (s *Systemd) Stop(ctx context.Context) error {
	return s.job(ctx, "stop", func(conn *sddbus.Conn, ch chan<- string) (int, error) {
		return conn.StopUnitContext(ctx, s.unitName(), "replace", ch)
	})
}

func (s *Systemd) job(ctx context.Context, verb string, run func(*sddbus.Conn, chan<- string) (int, error)) error {
	conn, err := sddbus.NewWithContext(ctx)
	if err != nil {
		return fmt.Errorf("systemd connect: %w", err)
	}
	defer conn.Close()

	s.logger.Info("sending job to systemd", "verb", verb, "unit", s.unitName())
	ch := make(chan string, 1)
	if _, err := run(conn, ch); err != nil {
		return fmt.Errorf("systemd %s %s: %w", verb, s.unitName(), err)
	}

	select {
	case result := <-ch:
		if result != "done" {
			return fmt.Errorf("systemd %s %s: job %s", verb, s.unitName(), result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Systemd) Status(ctx context.Context) (domain.ServiceStatus, error) {
	conn, err := sddbus.NewWithContext(ctx)
	if err != nil {
		return domain.ServiceStopped, fmt.Errorf("systemd connect: %w", err)
	}
	defer conn.Close()

	prop, err := conn.GetUnitPropertyContext(ctx, s.unitName(), "ActiveState")
	if err != nil {
		return domain.ServiceStopped, fmt.Errorf("unable to query service unit: %w", err)
	}
	state, ok := prop.Value.Value().(string)
	if !ok {
		return domain.ServiceStopped, fmt.Errorf("unable to handle queried property: %q", prop.Value.String())
	}
	return SystemdStatus(state), nil
}

// Notifier reports service state to systemd over the notify socket.
type Notifier struct {
	logger *slog.Logger
}

func NewReporter(logger *slog.Logger) impls.StatusReporter {
	return &Notifier{logger: logger}
}

func (n *Notifier) ReportStatus(status domain.ServiceStatus) {
	n.logger.Info("service status", "status", string(status))

	var state string
	switch status {
	case domain.ServiceRunning:
		state = daemon.SdNotifyReady
	case domain.ServiceStopping:
		state = daemon.SdNotifyStopping
	default:
		return
	}
	if _, err := daemon.SdNotify(false, state); err != nil {
		n.logger.Warn("sd_notify", "state", state, "err", err)
	}
}

// Run serves svc until ctx is cancelled. systemd stops services with
// SIGTERM, which the caller turns into ctx cancellation. READY is sent
// again once the host is up so a rejected worker does not fail the
// Type=notify start.
func Run(ctx context.Context, _ string, svc impls.Service, logger *slog.Logger) error {
	return runInteractive(ctx, svc, logger, func() {
		if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			logger.Warn("sd_notify", "state", daemon.SdNotifyReady, "err", err)
		}
	})
}
