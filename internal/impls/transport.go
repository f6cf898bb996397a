package impls

import (
	"context"

	"github.com/rewstapp/rewst_remote_agent/internal/domain"
)

// Transport is the device messaging channel to the cloud hub.
type Transport interface {
	Connect(ctx context.Context, kind domain.TransportKind) error
	Disconnect(ctx context.Context) error
	Send(ctx context.Context, payload []byte) error
	UpdateReportedProperties(ctx context.Context, patch map[string]any) error
	// OnMessage sets the single receiver of cloud-to-device messages.
	OnMessage(handler func(domain.InboundMessage))
	IsConnected() bool
}
