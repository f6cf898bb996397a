//go:build darwin

package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rewstapp/rewst_remote_agent/internal/domain"
	"github.com/rewstapp/rewst_remote_agent/internal/impls"
	"github.com/rewstapp/rewst_remote_agent/internal/infra/paths"
)

// Launchd implements impls.ServiceManager with launchctl.
type Launchd struct {
	unit   Unit
	dir    string
	logger *slog.Logger
}

func NewManager(layout paths.Layout, orgID string, logger *slog.Logger) impls.ServiceManager {
	return &Launchd{
		unit:   NewUnit(layout, orgID),
		dir:    filepath.Join(layout.Home, "Library", "LaunchAgents"),
		logger: logger,
	}
}

func (l *Launchd) plistPath() string {
	return filepath.Join(l.dir, l.unit.Name+".plist")
}

func (l *Launchd) IsInstalled(context.Context) bool {
	_, err := os.Stat(l.plistPath())
	return err == nil
}

func (l *Launchd) Install(ctx context.Context) error {
	if l.IsInstalled(ctx) {
		l.logger.Info("service is already installed", "label", l.unit.Name)
		return nil
	}

	data, err := LaunchdPlist(l.unit)
	if err != nil {
		return fmt.Errorf("render plist: %w", err)
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create launch agents dir: %w", err)
	}
	if err := os.WriteFile(l.plistPath(), data, 0o644); err != nil {
		return fmt.Errorf("write plist: %w", err)
	}
	return l.launchctl(ctx, "load", "-w", l.plistPath())
}

func (l *Launchd) Uninstall(ctx context.Context) error {
	if err := l.Stop(ctx); err != nil {
		l.logger.Warn("unable to stop service", "err", err)
	}
	if err := l.launchctl(ctx, "unload", l.plistPath()); err != nil {
		l.logger.Warn("unable to unload service", "err", err)
	}
	if err := os.Remove(l.plistPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove plist: %w", err)
	}
	return nil
}

func (l *Launchd) Start(ctx context.Context) error {
	return l.launchctl(ctx, "start", l.unit.Name)
}

func (l *Launchd) Stop(ctx context.Context) error {
	return l.launchctl(ctx, "stop", l.unit.Name)
}

func (l *Launchd) Status(ctx context.Context) (domain.ServiceStatus, error) {
	out, err := exec.CommandContext(ctx, "launchctl", "list", l.unit.Name).Output()
	if err != nil {
		return domain.ServiceStopped, nil
	}
	return LaunchdStatus(string(out)), nil
}

func (l *Launchd) launchctl(ctx context.Context, args ...string) error {
	l.logger.Info("running launchctl", "args", args)
	if out, err := exec.CommandContext(ctx, "launchctl", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("launchctl %s: %w: %s", args[0], err, out)
	}
	return nil
}

func NewReporter(logger *slog.Logger) impls.StatusReporter {
	return LogReporter{Logger: logger}
}

// Run serves svc until ctx is cancelled.
func Run(ctx context.Context, _ string, svc impls.Service, logger *slog.Logger) error {
	return runInteractive(ctx, svc, logger, nil)
}
