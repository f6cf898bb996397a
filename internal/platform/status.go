package platform

import (
	"regexp"

	"github.com/rewstapp/rewst_remote_agent/internal/domain"
)

// SystemdStatus maps a unit ActiveState to a service status.
func SystemdStatus(activeState string) domain.ServiceStatus {
	switch activeState {
	case "active", "reloading":
		return domain.ServiceRunning
	case "activating":
		return domain.ServiceStarting
	case "deactivating":
		return domain.ServiceStopping
	default:
		return domain.ServiceStopped
	}
}

var launchdPID = regexp.MustCompile(`"PID"\s*=\s*\d+;`)

// LaunchdStatus reads `launchctl list <label>` output. A job without a PID
// is loaded but not running.
func LaunchdStatus(out string) domain.ServiceStatus {
	if launchdPID.MatchString(out) {
		return domain.ServiceRunning
	}
	return domain.ServiceStopped
}
