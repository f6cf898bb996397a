package system

import (
	"strings"
)

// entraConnectServices are service names installed by Entra Connect sync.
var entraConnectServices = []string{"ADSync", "Azure AD Sync", "EntraConnectSync"}

type directoryFacts struct {
	adDomain         *string
	domainController bool
	entraConnect     bool
	entraDomain      *string
}

// IsEntraConnectService reports whether name belongs to Entra Connect sync.
func IsEntraConnectService(name string) bool {
	for _, s := range entraConnectServices {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// ParseADDomain reads the domain printed by Win32_ComputerSystem. An empty
// answer or a workgroup means the host is not joined.
func ParseADDomain(out string) *string {
	d := strings.TrimSpace(out)
	if d == "" || strings.EqualFold(d, "WORKGROUP") {
		return nil
	}
	return &d
}

// ParseEntraDomain reads `dsregcmd /status` output. The domain is only
// reported for hosts that are Azure AD joined.
func ParseEntraDomain(out string) *string {
	lines := strings.Split(out, "\n")

	joined := false
	for _, line := range lines {
		if strings.Contains(line, "AzureAdJoined") && strings.Contains(line, "YES") {
			joined = true
			break
		}
	}
	if !joined {
		return nil
	}

	for _, line := range lines {
		if !strings.Contains(line, "DomainName") {
			continue
		}
		_, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		d := strings.TrimSpace(value)
		if d != "" {
			return &d
		}
	}
	return nil
}
