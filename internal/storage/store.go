package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rewstapp/rewst_remote_agent/internal/domain"
)

// PathFunc maps an organization id to its config file path.
type PathFunc func(orgID string) string

// ConfigStore persists AgentConfiguration as JSON, one file per org.
type ConfigStore struct {
	path PathFunc
	mu   sync.RWMutex
}

// NewConfigStore creates a store that resolves file locations with path.
func NewConfigStore(path PathFunc) *ConfigStore {
	return &ConfigStore{path: path}
}

// Path returns the config file location for orgID.
func (s *ConfigStore) Path(orgID string) string {
	return s.path(orgID)
}

// Save replaces the stored configuration for cfg.OrgID as a whole.
func (s *ConfigStore) Save(cfg *domain.AgentConfiguration) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(cfg.OrgID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return "", fmt.Errorf("marshal configuration: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(path), ".config-"+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("write configuration: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("replace configuration: %w", err)
	}
	return path, nil
}

// Load reads the configuration stored for orgID.
func (s *ConfigStore) Load(orgID string) (*domain.AgentConfiguration, error) {
	return s.LoadFile(s.path(orgID))
}

// LoadFile reads a configuration from an explicit path. A missing file or
// one lacking required keys yields domain.ErrConfigurationMissing.
func (s *ConfigStore) LoadFile(path string) (*domain.AgentConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &domain.ErrConfiguration{Op: "load", Err: fmt.Errorf("%w: %s", domain.ErrConfigurationMissing, path)}
		}
		return nil, &domain.ErrConfiguration{Op: "load", Err: err}
	}

	var cfg domain.AgentConfiguration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &domain.ErrConfiguration{Op: "load", Err: fmt.Errorf("decode %s: %w", path, err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
