package impls

import (
	"context"

	"github.com/rewstapp/rewst_remote_agent/internal/domain"
)

// Service is what a platform service host drives.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// StatusReporter tells the OS service manager about state changes.
type StatusReporter interface {
	ReportStatus(status domain.ServiceStatus)
}

// ServiceManager installs and controls the agent's OS service.
type ServiceManager interface {
	Install(ctx context.Context) error
	Uninstall(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) (domain.ServiceStatus, error)
	IsInstalled(ctx context.Context) bool
}
