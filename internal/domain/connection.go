package domain

// TransportKind selects how the device channel is carried.
type TransportKind string

const (
	TransportMQTT          TransportKind = "mqtt"
	TransportMQTTWebSocket TransportKind = "mqtt-ws"
)

type ConnectionState string

const (
	StateDisconnected       ConnectionState = "disconnected"
	StateConnectingPrimary  ConnectionState = "connecting_primary"
	StateConnectingFallback ConnectionState = "connecting_fallback"
	StateConnected          ConnectionState = "connected"
	StateDisconnecting      ConnectionState = "disconnecting"
)

// InboundMessage is a cloud-to-device message as delivered by the transport.
// ID is the broker message id when one was attached.
type InboundMessage struct {
	ID      string
	Payload []byte
}
