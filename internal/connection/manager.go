// Package connection keeps the device channel to the hub alive and turns
// inbound cloud messages into command executions.
package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rewstapp/rewst_remote_agent/internal/domain"
	"github.com/rewstapp/rewst_remote_agent/internal/impls"
)

// Option adjusts a Manager.
type Option func(*Manager)

// WithCallbackScheme sets the scheme of callback URLs. The default is https.
func WithCallbackScheme(scheme string) Option {
	return func(m *Manager) { m.scheme = scheme }
}

// WithDeduper drops messages whose id was already handled.
func WithDeduper(d *Deduper) Option {
	return func(m *Manager) { m.dedupe = d }
}

// Manager owns one transport for the lifetime of one connection attempt.
type Manager struct {
	cfg          domain.AgentConfiguration
	transport    impls.Transport
	executor     impls.CommandExecutor
	installation impls.InstallationSource
	logger       *slog.Logger

	scheme string
	dedupe *Deduper
	http   *http.Client

	// work outlives the connection: in-flight commands are not cancelled
	// when the manager disconnects.
	work     context.Context
	inflight sync.WaitGroup

	mu    sync.Mutex
	state domain.ConnectionState
	kind  domain.TransportKind
}

func NewManager(
	cfg domain.AgentConfiguration,
	transport impls.Transport,
	executor impls.CommandExecutor,
	installation impls.InstallationSource,
	logger *slog.Logger,
	opts ...Option,
) *Manager {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 0
	retryClient.Logger = nil
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.HTTPClient.Timeout = 30 * time.Second

	m := &Manager{
		cfg:          cfg,
		transport:    transport,
		executor:     executor,
		installation: installation,
		logger:       logger,
		scheme:       "https",
		http:         retryClient.StandardClient(),
		work:         context.Background(),
		state:        domain.StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transport returns the kind of the established transport, empty when not
// connected.
func (m *Manager) Transport() domain.TransportKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != domain.StateConnected {
		return ""
	}
	return m.kind
}

func (m *Manager) setState(s domain.ConnectionState, kind domain.TransportKind) {
	m.mu.Lock()
	m.state = s
	m.kind = kind
	m.mu.Unlock()
}

func (m *Manager) Connected() bool {
	return m.State() == domain.StateConnected && m.transport.IsConnected()
}

// Connect establishes the channel, falling back once from MQTT to MQTT over
// WebSocket when the hub cannot be reached, then reports the device online.
func (m *Manager) Connect(ctx context.Context) error {
	m.setState(domain.StateConnectingPrimary, "")
	kind := domain.TransportMQTT
	err := m.transport.Connect(ctx, kind)

	if err != nil && (errors.Is(err, domain.ErrConnectionFailed) || errors.Is(err, domain.ErrConnectionDropped)) {
		m.logger.Warn("primary transport failed, connecting over websockets", "err", err)
		m.setState(domain.StateConnectingFallback, "")
		kind = domain.TransportMQTTWebSocket
		err = m.transport.Connect(ctx, kind)
	}
	if err != nil {
		m.logger.Error("exception in connection to the iot hub", "err", err)
		m.setState(domain.StateDisconnected, "")
		return err
	}

	m.setState(domain.StateConnected, kind)
	m.logger.Info("updating device status to online", "transport", string(kind))
	if err := m.reportConnectivity(ctx, "online"); err != nil {
		m.logger.Error("failed to report device online", "err", err)
		_ = m.transport.Disconnect(ctx)
		m.setState(domain.StateDisconnected, "")
		return err
	}
	return nil
}

// Disconnect reports the device offline and closes the transport. Failures
// are logged only.
func (m *Manager) Disconnect(ctx context.Context) {
	m.setState(domain.StateDisconnecting, "")

	m.logger.Info("updating device status to offline")
	if err := m.reportConnectivity(ctx, "offline"); err != nil {
		m.logger.Error("failed to report device offline", "err", err)
	}
	if err := m.transport.Disconnect(ctx); err != nil {
		m.logger.Error("exception in disconnecting from the iot hub", "err", err)
	}

	m.setState(domain.StateDisconnected, "")
}

func (m *Manager) reportConnectivity(ctx context.Context, status string) error {
	return m.transport.UpdateReportedProperties(ctx, map[string]any{
		"connectivity": map[string]any{"status": status},
	})
}

// SendMessage publishes payload as JSON to the hub.
func (m *Manager) SendMessage(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return m.transport.Send(ctx, data)
}

// SetMessageHandler makes this manager the receiver of inbound messages.
func (m *Manager) SetMessageHandler() {
	m.transport.OnMessage(m.dispatch)
}

func (m *Manager) dispatch(msg domain.InboundMessage) {
	if m.dedupe.Seen(msg.ID) {
		m.logger.Info("dropping redelivered message", "message_id", msg.ID)
		return
	}
	m.HandleMessage(msg.Payload)
}

// Wait blocks until work started by HandleMessage has finished.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// HandleMessage decodes one inbound message and starts the work it asks
// for. It never panics and never blocks on that work.
func (m *Manager) HandleMessage(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("an unexpected error occurred handling message", "panic", r)
		}
	}()

	m.logger.Info("received iot hub message")

	msg, err := decodeMessage(raw)
	if err != nil {
		m.logger.Error("error decoding message data as JSON", "err", &domain.ErrProtocol{Op: "decode message", Err: err})
		return
	}

	var callbackURL string
	if msg.PostID != "" {
		callbackURL = m.CallbackURL(msg.PostID)
		m.logger.Info("will POST results", "url", callbackURL)
	}

	if msg.Commands != "" {
		m.logger.Info("received commands in message")
		req := domain.CommandRequest{
			Commands:            msg.Commands,
			PostID:              msg.PostID,
			InterpreterOverride: msg.InterpreterOverride,
		}
		m.spawn("running commands", func() {
			m.executor.Execute(m.work, req, callbackURL)
		})
	}

	if msg.GetInstallation {
		m.logger.Info("received request for installation paths")
		if callbackURL == "" {
			m.logger.Warn("get_installation requested without post_id, nothing to reply to")
		} else {
			m.spawn("getting installation info", func() {
				m.GetInstallation(m.work, callbackURL)
			})
		}
	}
}

func (m *Manager) spawn(what string, fn func()) {
	m.inflight.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("exception "+what, "panic", r)
			}
		}()
		fn()
	})
}

// CallbackURL maps a post id such as "a:b" to the engine webhook a/b.
func (m *Manager) CallbackURL(postID string) string {
	return fmt.Sprintf("%s://%s/webhooks/custom/action/%s", m.scheme, m.cfg.EngineHost, strings.ReplaceAll(postID, ":", "/"))
}

// GetInstallation posts where this agent is installed to callbackURL.
func (m *Manager) GetInstallation(ctx context.Context, callbackURL string) {
	info := m.installation.Installation(ctx, m.cfg.OrgID)

	body, err := json.Marshal(info)
	if err != nil {
		m.logger.Error("failed to marshal installation info", "err", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		m.logger.Error("failed to build installation request", "url", callbackURL, "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		m.logger.Error("installation request failed", "url", callbackURL, "err", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		m.logger.Error("error response while posting installation info",
			"url", callbackURL,
			"status", resp.StatusCode,
			"body", string(respBody),
		)
	}
}

type inboundMessage struct {
	Commands            string
	GetInstallation     bool
	PostID              string
	InterpreterOverride string
}

// decodeMessage reads the known fields of a message. A field of the wrong
// type is ignored rather than failing the whole message.
func decodeMessage(raw []byte) (inboundMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return inboundMessage{}, err
	}

	var msg inboundMessage
	msg.Commands = stringField(fields["commands"])
	msg.PostID = stringField(fields["post_id"])
	msg.InterpreterOverride = stringField(fields["interpreter_override"])
	msg.GetInstallation = truthy(fields["get_installation"])
	return msg, nil
}

func stringField(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func truthy(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return false
	}
}
