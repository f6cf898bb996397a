package impls

import (
	"context"

	"github.com/rewstapp/rewst_remote_agent/internal/domain"
)

// ConfigurationFetcher performs the registration handshake.
type ConfigurationFetcher interface {
	FetchConfiguration(ctx context.Context, configURL, secret, orgID string) (*domain.AgentConfiguration, error)
}

// ConfigurationStore persists AgentConfiguration.
type ConfigurationStore interface {
	Save(cfg *domain.AgentConfiguration) (string, error)
	Load(orgID string) (*domain.AgentConfiguration, error)
}
