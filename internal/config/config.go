package config

import (
	"os"
	"strings"
)

// Build-time variables injected via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Settings holds process-level knobs read from the environment. The device
// identity itself lives in the persisted AgentConfiguration.
type Settings struct {
	// Debug enables debug level logging.
	Debug bool

	// LogDir overrides the platform log directory.
	LogDir string

	// ScriptsDir overrides where command scripts are staged.
	ScriptsDir string

	// ReleaseAPI is the base URL of the release registry.
	ReleaseAPI string

	// ReleaseRepo is the owner/name of the repository whose releases
	// publish binary digests.
	ReleaseRepo string

	// StatusAddr is the listen address of the service host status API.
	// Empty disables it.
	StatusAddr string
}

// DefaultSettings returns Settings populated with production defaults.
func DefaultSettings() *Settings {
	return &Settings{
		ReleaseAPI:  "https://api.github.com",
		ReleaseRepo: "rewstapp/rewst_remote_agent",
	}
}

// Load reads settings from environment variables, applying defaults for
// anything not explicitly set.
func Load() *Settings {
	s := DefaultSettings()

	s.Debug = strings.EqualFold(os.Getenv("REWST_AGENT_DEBUG"), "true")

	if v := strings.TrimSpace(os.Getenv("REWST_LOG_DIR")); v != "" {
		s.LogDir = v
	}

	if v := strings.TrimSpace(os.Getenv("REWST_SCRIPTS_DIR")); v != "" {
		s.ScriptsDir = v
	}

	if v := strings.TrimSpace(os.Getenv("REWST_RELEASE_API")); v != "" {
		s.ReleaseAPI = strings.TrimRight(v, "/")
	}

	if v := strings.TrimSpace(os.Getenv("REWST_RELEASE_REPO")); v != "" {
		s.ReleaseRepo = v
	}

	if v := strings.TrimSpace(os.Getenv("REWST_STATUS_ADDR")); v != "" {
		s.StatusAddr = v
	}

	return s
}
