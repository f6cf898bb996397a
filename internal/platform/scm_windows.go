//go:build windows

package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"

	"github.com/rewstapp/rewst_remote_agent/internal/domain"
	"github.com/rewstapp/rewst_remote_agent/internal/impls"
	"github.com/rewstapp/rewst_remote_agent/internal/infra/paths"
)

// SCM implements impls.ServiceManager with the service control manager.
type SCM struct {
	unit   Unit
	logger *slog.Logger
}

func NewManager(layout paths.Layout, orgID string, logger *slog.Logger) impls.ServiceManager {
	return &SCM{unit: NewUnit(layout, orgID), logger: logger}
}

func (m *SCM) open() (*mgr.Mgr, *mgr.Service, error) {
	sm, err := mgr.Connect()
	if err != nil {
		return nil, nil, fmt.Errorf("connect to service manager: %w", err)
	}
	s, err := sm.OpenService(m.unit.Name)
	if err != nil {
		sm.Disconnect()
		return nil, nil, fmt.Errorf("open service %s: %w", m.unit.Name, err)
	}
	return sm, s, nil
}

func (m *SCM) IsInstalled(context.Context) bool {
	sm, s, err := m.open()
	if err != nil {
		return false
	}
	s.Close()
	sm.Disconnect()
	return true
}

func (m *SCM) Install(ctx context.Context) error {
	if m.IsInstalled(ctx) {
		m.logger.Info("service is already installed", "service", m.unit.Name)
		return nil
	}

	sm, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connect to service manager: %w", err)
	}
	defer sm.Disconnect()

	s, err := sm.CreateService(m.unit.Name, m.unit.Executable, mgr.Config{
		DisplayName: m.unit.Description,
		Description: m.unit.Description,
		StartType:   mgr.StartAutomatic,
	}, m.unit.Args...)
	if err != nil {
		return fmt.Errorf("create service %s: %w", m.unit.Name, err)
	}
	defer s.Close()

	actions := []mgr.RecoveryAction{
		{Type: mgr.ServiceRestart, Delay: 10 * time.Second},
		{Type: mgr.ServiceRestart, Delay: time.Minute},
	}
	if err := s.SetRecoveryActions(actions, uint32((24 * time.Hour).Seconds())); err != nil {
		m.logger.Warn("set recovery actions", "err", err)
	}
	m.logger.Info("service installed", "service", m.unit.Name)
	return nil
}

func (m *SCM) Uninstall(ctx context.Context) error {
	if err := m.Stop(ctx); err != nil {
		m.logger.Warn("unable to stop service", "err", err)
	}

	sm, s, err := m.open()
	if err != nil {
		return err
	}
	defer sm.Disconnect()
	defer s.Close()

	if err := s.Delete(); err != nil {
		return fmt.Errorf("delete service %s: %w", m.unit.Name, err)
	}
	return nil
}

func (m *SCM) Start(context.Context) error {
	sm, s, err := m.open()
	if err != nil {
		return err
	}
	defer sm.Disconnect()
	defer s.Close()

	if err := s.Start(); err != nil && !errors.Is(err, windows.ERROR_SERVICE_ALREADY_RUNNING) {
		return fmt.Errorf("start service %s: %w", m.unit.Name, err)
	}
	return nil
}

func (m *SCM) Stop(ctx context.Context) error {
	sm, s, err := m.open()
	if err != nil {
		return err
	}
	defer sm.Disconnect()
	defer s.Close()

	status, err := s.Control(svc.Stop)
	if err != nil {
		if errors.Is(err, windows.ERROR_SERVICE_NOT_ACTIVE) {
			return nil
		}
		return fmt.Errorf("stop service %s: %w", m.unit.Name, err)
	}

	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()
	for status.State != svc.Stopped {
		select {
		case <-ctx.Done():
			return fmt.Errorf("stop service %s: %w", m.unit.Name, ctx.Err())
		case <-ticker.C:
		}
		if status, err = s.Query(); err != nil {
			return fmt.Errorf("query service %s: %w", m.unit.Name, err)
		}
	}
	return nil
}

func (m *SCM) Status(context.Context) (domain.ServiceStatus, error) {
	sm, s, err := m.open()
	if err != nil {
		return domain.ServiceStopped, err
	}
	defer sm.Disconnect()
	defer s.Close()

	status, err := s.Query()
	if err != nil {
		return domain.ServiceStopped, fmt.Errorf("query service %s: %w", m.unit.Name, err)
	}
	switch status.State {
	case svc.Running:
		return domain.ServiceRunning, nil
	case svc.StartPending, svc.ContinuePending:
		return domain.ServiceStarting, nil
	case svc.StopPending, svc.PausePending:
		return domain.ServiceStopping, nil
	default:
		return domain.ServiceStopped, nil
	}
}

// The service handler reports state to the SCM itself.
func NewReporter(logger *slog.Logger) impls.StatusReporter {
	return LogReporter{Logger: logger}
}

type handler struct {
	svc    impls.Service
	logger *slog.Logger
}

func (h *handler) Execute(_ []string, requests <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	const accepts = svc.AcceptStop | svc.AcceptShutdown

	changes <- svc.Status{State: svc.StartPending}
	if err := startHost(context.Background(), h.svc, h.logger); err != nil {
		h.logger.Error("service start failed", "err", err)
		return true, 1
	}
	changes <- svc.Status{State: svc.Running, Accepts: accepts}

	for req := range requests {
		switch req.Cmd {
		case svc.Interrogate:
			changes <- req.CurrentStatus
		case svc.Stop, svc.Shutdown:
			changes <- svc.Status{State: svc.StopPending}
			ctx, cancel := context.WithTimeout(context.Background(), StopTimeout)
			if err := h.svc.Stop(ctx); err != nil {
				h.logger.Error("service stop failed", "err", err)
			}
			cancel()
			return false, 0
		default:
			h.logger.Warn("unexpected service control request", "cmd", req.Cmd)
		}
	}
	return false, 0
}

// Run hands svc to the SCM when started as a service, otherwise serves it
// until ctx is cancelled.
func Run(ctx context.Context, name string, s impls.Service, logger *slog.Logger) error {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return fmt.Errorf("detect service session: %w", err)
	}
	if !isService {
		return runInteractive(ctx, s, logger, nil)
	}
	return svc.Run(name, &handler{svc: s, logger: logger})
}
