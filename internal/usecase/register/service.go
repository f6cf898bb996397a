// Package register turns a one-time configuration URL and secret into an
// installed, running agent service.
package register

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rewstapp/rewst_remote_agent/internal/domain"
	"github.com/rewstapp/rewst_remote_agent/internal/impls"
	"github.com/rewstapp/rewst_remote_agent/internal/infra/paths"
	"github.com/rewstapp/rewst_remote_agent/internal/retry"
)

var (
	ErrInvalidRequest      = errors.New("invalid registration request")
	ErrRegistrationPending = errors.New("registration still pending")
	ErrFilesTimeout        = errors.New("timed out waiting for agent files")
)

var base64Secret = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

const oldVersionSuffix = "_oldver"

// Request holds the arguments of one registration.
type Request struct {
	ConfigURL string
	Secret    string
	OrgID     string
}

// Validate checks the URL is absolute and the secret is base64.
func (r Request) Validate() error {
	u, err := url.Parse(r.ConfigURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: config url %q is not valid", ErrInvalidRequest, r.ConfigURL)
	}
	if !base64Secret.MatchString(strings.TrimSpace(r.Secret)) {
		return fmt.Errorf("%w: config secret is not a valid base64 string", ErrInvalidRequest)
	}
	if r.OrgID == "" {
		return fmt.Errorf("%w: org id is required", ErrInvalidRequest)
	}
	return nil
}

// Session is a live hub connection that receives the agent binaries.
type Session interface {
	Disconnect(ctx context.Context)
}

// Connector joins the hub with a freshly fetched configuration.
type Connector func(ctx context.Context, cfg domain.AgentConfiguration) (Session, error)

// ServiceManagers returns the service manager for an org.
type ServiceManagers func(orgID string) impls.ServiceManager

type Service struct {
	fetcher  impls.ConfigurationFetcher
	store    impls.ConfigurationStore
	services ServiceManagers
	connect  Connector
	layout   paths.Layout
	logger   *slog.Logger

	FilePoll        time.Duration
	FileTimeout     time.Duration
	FileSettle      time.Duration
	DisconnectGrace time.Duration
	StatusPoll      time.Duration
}

func NewService(
	fetcher impls.ConfigurationFetcher,
	store impls.ConfigurationStore,
	services ServiceManagers,
	connect Connector,
	layout paths.Layout,
	logger *slog.Logger,
) *Service {
	return &Service{
		fetcher:         fetcher,
		store:           store,
		services:        services,
		connect:         connect,
		layout:          layout,
		logger:          logger,
		FilePoll:        5 * time.Second,
		FileTimeout:     time.Hour,
		FileSettle:      5 * time.Second,
		DisconnectGrace: 4 * time.Second,
		StatusPoll:      5 * time.Second,
	}
}

// Register fetches the configuration, replaces any previous installation
// and returns once the new service reports running.
func (s *Service) Register(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	s.logger.Info("fetching configuration from rewst", "url", req.ConfigURL, "org_id", req.OrgID)
	cfg, err := s.fetcher.FetchConfiguration(ctx, req.ConfigURL, strings.TrimSpace(req.Secret), req.OrgID)
	if err != nil {
		return fmt.Errorf("fetch configuration: %w", err)
	}
	if cfg == nil {
		return ErrRegistrationPending
	}

	s.removeService(ctx, req.OrgID)

	path, err := s.store.Save(cfg)
	if err != nil {
		return fmt.Errorf("save configuration: %w", err)
	}
	s.logger.Info("configuration saved", "path", path, "org_id", cfg.OrgID, "device_id", cfg.DeviceID)

	orgID := cfg.OrgID
	session, err := s.connect(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("connect to iot hub: %w", err)
	}

	s.RetireOldFiles(orgID)
	filesOK := s.WaitForFiles(ctx, orgID)

	s.logger.Info("disconnecting from iot hub")
	disconnectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	session.Disconnect(disconnectCtx)
	cancel()
	if err := retry.Sleep(ctx, s.DisconnectGrace); err != nil {
		return err
	}

	if !filesOK {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrFilesTimeout
	}

	return s.startService(ctx, orgID)
}

func (s *Service) removeService(ctx context.Context, orgID string) {
	mgr := s.services(orgID)
	if !mgr.IsInstalled(ctx) {
		return
	}
	s.logger.Info("stopping existing service", "org_id", orgID)
	if err := mgr.Stop(ctx); err != nil {
		s.logger.Warn("unable to stop service", "err", err)
	}
	if err := mgr.Uninstall(ctx); err != nil {
		s.logger.Warn("unable to uninstall service", "err", err)
	}
}

func (s *Service) startService(ctx context.Context, orgID string) error {
	mgr := s.services(orgID)
	if !mgr.IsInstalled(ctx) {
		if err := mgr.Install(ctx); err != nil {
			return fmt.Errorf("install service: %w", err)
		}
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("start service: %w", err)
		}
	}

	for {
		status, err := mgr.Status(ctx)
		if err != nil {
			s.logger.Warn("check service status", "err", err)
		}
		if status == domain.ServiceRunning {
			s.logger.Info("service is running", "org_id", orgID)
			return nil
		}
		s.logger.Info("waiting for the service to start", "status", string(status))
		if err := retry.Sleep(ctx, s.StatusPoll); err != nil {
			return err
		}
	}
}

// Files are the binaries an installation consists of.
func (s *Service) Files(orgID string) []string {
	return []string{
		s.layout.ServiceManagerPath(orgID),
		s.layout.AgentExecutablePath(orgID),
		s.layout.ServiceExecutablePath(orgID),
	}
}

// RetireOldFiles renames existing binaries with an _oldver suffix,
// replacing older retired copies.
func (s *Service) RetireOldFiles(orgID string) {
	for _, path := range s.Files(orgID) {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		old := path + oldVersionSuffix
		if err := os.Remove(old); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Error("remove old version", "path", old, "err", err)
			continue
		}
		if err := os.Rename(path, old); err != nil {
			s.logger.Error("rename file", "path", path, "err", err)
			continue
		}
		s.logger.Info("renamed file", "from", path, "to", old)
	}
}

// WaitForFiles reports whether every installation file appeared before
// FileTimeout.
func (s *Service) WaitForFiles(ctx context.Context, orgID string) bool {
	files := s.Files(orgID)
	for _, f := range files {
		s.logger.Info("awaiting file", "path", f)
	}

	deadline := time.Now().Add(s.FileTimeout)
	for {
		if allExist(files) {
			if err := retry.Sleep(ctx, s.FileSettle); err != nil {
				return false
			}
			s.logger.Info("all files have been written")
			return true
		}
		if time.Now().After(deadline) {
			s.logger.Warn("timeout reached while waiting for files")
			return false
		}
		if err := retry.Sleep(ctx, s.FilePoll); err != nil {
			return false
		}
	}
}

func allExist(files []string) bool {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return false
		}
	}
	return true
}
