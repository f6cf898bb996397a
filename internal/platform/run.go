package platform

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rewstapp/rewst_remote_agent/internal/domain"
	"github.com/rewstapp/rewst_remote_agent/internal/impls"
)

// StopTimeout bounds how long a stop request may take.
const StopTimeout = 30 * time.Second

// startHost starts svc. A worker that failed verification leaves the host up
// with the worker stopped, so the OS restart policy does not re-run the
// gate in a loop; only other start errors are returned.
func startHost(ctx context.Context, svc impls.Service, logger *slog.Logger) error {
	err := svc.Start(ctx)
	var integrity *domain.ErrIntegrity
	if errors.As(err, &integrity) {
		logger.Error("worker binary failed verification, staying up with the worker stopped", "err", err)
		return nil
	}
	return err
}

// runInteractive starts svc, waits for ctx and stops it. ready, when set,
// runs once the host is up.
func runInteractive(ctx context.Context, svc impls.Service, logger *slog.Logger, ready func()) error {
	if err := startHost(ctx, svc, logger); err != nil {
		return err
	}
	if ready != nil {
		ready()
	}
	<-ctx.Done()
	logger.Info("stop requested")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), StopTimeout)
	defer cancel()
	return svc.Stop(stopCtx)
}

// LogReporter logs status transitions.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) ReportStatus(status domain.ServiceStatus) {
	r.Logger.Info("service status", "status", string(status))
}
