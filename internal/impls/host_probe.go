package impls

import (
	"context"

	"github.com/rewstapp/rewst_remote_agent/internal/domain"
)

// HostProbe collects facts about this machine.
type HostProbe interface {
	HostInfo(ctx context.Context, orgID string) domain.HostInfo
}

// InstallationSource describes where the agent for an org is installed.
type InstallationSource interface {
	Installation(ctx context.Context, orgID string) domain.InstallationInfo
}
