//go:build !linux && !darwin && !windows

package platform

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rewstapp/rewst_remote_agent/internal/domain"
	"github.com/rewstapp/rewst_remote_agent/internal/impls"
	"github.com/rewstapp/rewst_remote_agent/internal/infra/paths"
)

type unsupported struct{}

func NewManager(paths.Layout, string, *slog.Logger) impls.ServiceManager {
	return unsupported{}
}

func (unsupported) Install(context.Context) error   { return errors.ErrUnsupported }
func (unsupported) Uninstall(context.Context) error { return errors.ErrUnsupported }
func (unsupported) Start(context.Context) error     { return errors.ErrUnsupported }
func (unsupported) Stop(context.Context) error      { return errors.ErrUnsupported }
func (unsupported) IsInstalled(context.Context) bool { return false }

func (unsupported) Status(context.Context) (domain.ServiceStatus, error) {
	return domain.ServiceStopped, errors.ErrUnsupported
}

func NewReporter(logger *slog.Logger) impls.StatusReporter {
	return LogReporter{Logger: logger}
}

func Run(ctx context.Context, _ string, svc impls.Service, logger *slog.Logger) error {
	return runInteractive(ctx, svc, logger, nil)
}
