// Package paths holds the on-disk layout of an agent installation. Every
// path is keyed by organization id so several orgs can coexist on one host.
package paths

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

const appDir = "RewstRemoteAgent"

var orgFromExe = regexp.MustCompile(`rewst_.*_(.+?)\.`)

// Layout resolves installation paths for one operating system. The fields
// are explicit so layouts for other systems can be computed anywhere.
type Layout struct {
	GOOS         string
	ProgramFiles string
	ProgramData  string
	Home         string
}

// Default returns the layout of the running host.
func Default() Layout {
	l := Layout{
		GOOS:         runtime.GOOS,
		ProgramFiles: os.Getenv("ProgramFiles"),
		ProgramData:  os.Getenv("ProgramData"),
	}
	if l.ProgramFiles == "" {
		l.ProgramFiles = `C:\Program Files`
	}
	if l.ProgramData == "" {
		l.ProgramData = `C:\ProgramData`
	}
	if home, err := os.UserHomeDir(); err == nil {
		l.Home = home
	}
	return l
}

func (l Layout) join(parts ...string) string {
	if l.GOOS == "windows" {
		return strings.Join(parts, `\`)
	}
	return strings.Join(parts, "/")
}

// ExecutableDir is where the agent binaries for orgID are installed.
func (l Layout) ExecutableDir(orgID string) string {
	switch l.GOOS {
	case "windows":
		return l.join(l.ProgramFiles, appDir, orgID)
	case "darwin":
		return l.join(l.Home, "Library", "Application Support", appDir, orgID)
	default:
		return "/usr/local/bin"
	}
}

func (l Layout) platformTag() string {
	switch l.GOOS {
	case "windows":
		return "win"
	case "darwin":
		return "macos"
	default:
		return "linux"
	}
}

func (l Layout) suffix() string {
	if l.GOOS == "windows" {
		return "exe"
	}
	return "bin"
}

func (l Layout) AgentExecutablePath(orgID string) string {
	name := "rewst_remote_agent_" + orgID + "." + l.platformTag() + "." + l.suffix()
	return l.join(l.ExecutableDir(orgID), name)
}

// ServiceExecutablePath is the service host binary that supervises the agent.
func (l Layout) ServiceExecutablePath(orgID string) string {
	var name string
	if l.GOOS == "windows" {
		name = "rewst_windows_service_" + orgID + ".win.exe"
	} else {
		name = "rewst_service_host_" + orgID + "." + l.platformTag() + ".bin"
	}
	return l.join(l.ExecutableDir(orgID), name)
}

func (l Layout) ServiceManagerPath(orgID string) string {
	name := "rewst_service_manager." + l.platformTag() + "_" + orgID + "." + l.suffix()
	return l.join(l.ExecutableDir(orgID), name)
}

func (l Layout) ConfigDir(orgID string) string {
	switch l.GOOS {
	case "windows":
		return l.join(l.ProgramData, appDir, orgID)
	case "darwin":
		return l.join(l.Home, "Library", "Application Support", appDir, orgID)
	default:
		return l.join("/etc", "rewst_remote_agent", orgID)
	}
}

func (l Layout) ConfigFilePath(orgID string) string {
	return l.join(l.ConfigDir(orgID), "config.json")
}

func (l Layout) LogDir(orgID string) string {
	if l.GOOS == "windows" {
		return l.join(l.ProgramData, appDir, orgID, "logs")
	}
	return l.join("/var/log", "rewst_remote_agent", orgID)
}

// ScriptsDir is where command scripts are staged before execution.
func (l Layout) ScriptsDir() string {
	if l.GOOS == "windows" {
		return l.join(l.ProgramData, appDir, "scripts")
	}
	return os.TempDir()
}

// OrgIDFromExecutable extracts the organization id embedded in an
// installed binary name such as rewst_remote_agent_<org>.linux.bin.
func OrgIDFromExecutable(path string) (string, bool) {
	base := path
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	m := orgFromExe.FindStringSubmatch(base)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Resolve returns preferred when its directory can be created. Otherwise it
// falls back to ~/.rewst_remote_agent/<fallbackRel>.
func Resolve(preferred, fallbackRel string, logger *slog.Logger) string {
	if err := os.MkdirAll(filepath.Dir(preferred), 0o755); err == nil {
		return preferred
	}

	fallbackDir := "."
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		fallbackDir = filepath.Join(home, ".rewst_remote_agent")
	} else {
		logger.Warn("home dir unavailable, using current directory for fallback storage")
	}

	fallbackPath := filepath.Join(fallbackDir, fallbackRel)
	if err := os.MkdirAll(filepath.Dir(fallbackPath), 0o755); err != nil {
		logger.Error("failed to create fallback dir", "dir", filepath.Dir(fallbackPath), "err", err)
		return preferred
	}

	logger.Warn("using fallback path", "path", fallbackPath, "preferred", preferred)
	return fallbackPath
}
