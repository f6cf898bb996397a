// Package iothub is a device-side Azure IoT Hub client over MQTT, with an
// MQTT-over-WebSocket variant for networks that block port 8883.
package iothub

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/rewstapp/rewst_remote_agent/internal/domain"
)

const (
	defaultTokenTTL     = 24 * time.Hour
	defaultConnectWait  = 30 * time.Second
	defaultTwinWait     = 30 * time.Second
	disconnectQuiesceMs = 250
)

// Client implements impls.Transport for one device identity.
type Client struct {
	host     string
	deviceID string
	key      string
	logger   *slog.Logger

	tokenTTL    time.Duration
	connectWait time.Duration
	twinWait    time.Duration
	now         func() time.Time
	newMQTT     func(*mqtt.ClientOptions) mqtt.Client

	mu      sync.Mutex
	conn    mqtt.Client
	handler func(domain.InboundMessage)
	pending map[string]chan int

	rid atomic.Uint64
}

func NewClient(cfg domain.AgentConfiguration, logger *slog.Logger) *Client {
	return &Client{
		host:        cfg.IoTHubHost,
		deviceID:    cfg.DeviceID,
		key:         cfg.SharedAccessKey,
		logger:      logger,
		tokenTTL:    defaultTokenTTL,
		connectWait: defaultConnectWait,
		twinWait:    defaultTwinWait,
		now:         time.Now,
		newMQTT:     mqtt.NewClient,
		pending:     make(map[string]chan int),
	}
}

// WithMQTTFactory replaces the paho client constructor. It exists for tests.
func (c *Client) WithMQTTFactory(f func(*mqtt.ClientOptions) mqtt.Client) *Client {
	c.newMQTT = f
	return c
}

// BrokerURL returns the broker address used for kind.
func (c *Client) BrokerURL(kind domain.TransportKind) string {
	if kind == domain.TransportMQTTWebSocket {
		return "wss://" + c.host + ":443/$iothub/websocket"
	}
	return "ssl://" + c.host + ":8883"
}

func (c *Client) options(kind domain.TransportKind) (*mqtt.ClientOptions, error) {
	token, err := SASToken(c.host, c.deviceID, c.key, c.now().Add(c.tokenTTL))
	if err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.BrokerURL(kind))
	opts.SetClientID(c.deviceID)
	opts.SetUsername(username(c.host, c.deviceID))
	opts.SetPassword(token)
	opts.SetProtocolVersion(4)
	opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12, ServerName: c.host})
	opts.SetCleanSession(false)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetConnectTimeout(c.connectWait)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn("iot hub connection lost", "err", err)
		c.failPending()
	})
	return opts, nil
}

// Connect opens the channel and subscribes to cloud-to-device messages and
// twin responses. Network level failures wrap domain.ErrConnectionFailed.
func (c *Client) Connect(ctx context.Context, kind domain.TransportKind) error {
	opts, err := c.options(kind)
	if err != nil {
		return &domain.ErrTransport{Op: "connect", Err: err}
	}

	c.logger.Info("connecting to iot hub", "broker", c.BrokerURL(kind), "device_id", c.deviceID)

	conn := c.newMQTT(opts)
	if err := await(ctx, conn.Connect()); err != nil {
		return &domain.ErrTransport{Op: "connect", Err: classify(err)}
	}

	subs := []struct {
		topic   string
		qos     byte
		handler mqtt.MessageHandler
	}{
		{topic: cloudToDeviceFilter(c.deviceID), qos: 1, handler: c.route},
		{topic: twinResponseFilter, qos: 0, handler: c.twinResponse},
	}
	for _, s := range subs {
		if err := await(ctx, conn.Subscribe(s.topic, s.qos, s.handler)); err != nil {
			conn.Disconnect(disconnectQuiesceMs)
			return &domain.ErrTransport{Op: "subscribe " + s.topic, Err: err}
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("connected to iot hub", "transport", string(kind))
	return nil
}

func (c *Client) Disconnect(_ context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	conn.Disconnect(disconnectQuiesceMs)
	c.failPending()
	return nil
}

// Send publishes a device-to-cloud message.
func (c *Client) Send(ctx context.Context, payload []byte) error {
	conn, err := c.connection("send")
	if err != nil {
		return err
	}
	if err := await(ctx, conn.Publish(eventsTopic(c.deviceID), 1, false, payload)); err != nil {
		return &domain.ErrTransport{Op: "send", Err: err}
	}
	return nil
}

// UpdateReportedProperties patches the device twin and waits for the hub
// to acknowledge the patch.
func (c *Client) UpdateReportedProperties(ctx context.Context, patch map[string]any) error {
	conn, err := c.connection("twin patch")
	if err != nil {
		return err
	}

	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal twin patch: %w", err)
	}

	rid := strconv.FormatUint(c.rid.Add(1), 10)
	ch := make(chan int, 1)
	c.mu.Lock()
	c.pending[rid] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, rid)
		c.mu.Unlock()
	}()

	if err := await(ctx, conn.Publish(twinPatchPrefix+rid, 0, false, body)); err != nil {
		return &domain.ErrTransport{Op: "twin patch", Err: err}
	}

	timer := time.NewTimer(c.twinWait)
	defer timer.Stop()

	select {
	case status, ok := <-ch:
		if !ok {
			return &domain.ErrTransport{Op: "twin patch", Err: domain.ErrConnectionDropped}
		}
		if status < 200 || status >= 300 {
			return &domain.ErrTransport{Op: "twin patch", Err: fmt.Errorf("hub returned status %d", status)}
		}
		return nil
	case <-timer.C:
		return &domain.ErrTransport{Op: "twin patch", Err: errors.New("timed out waiting for twin response")}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) OnMessage(handler func(domain.InboundMessage)) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	return conn != nil && conn.IsConnectionOpen()
}

func (c *Client) connection(op string) (mqtt.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, &domain.ErrTransport{Op: op, Err: domain.ErrConnectionDropped}
	}
	return c.conn, nil
}

func (c *Client) route(_ mqtt.Client, msg mqtt.Message) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()

	if handler == nil {
		c.logger.Warn("dropping cloud message, no handler set", "topic", msg.Topic())
		return
	}
	handler(domain.InboundMessage{
		ID:      messageID(msg.Topic()),
		Payload: append([]byte(nil), msg.Payload()...),
	})
}

func (c *Client) twinResponse(_ mqtt.Client, msg mqtt.Message) {
	status, rid, ok := parseTwinResponse(msg.Topic())
	if !ok {
		c.logger.Debug("ignoring twin response", "topic", msg.Topic())
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, found := c.pending[rid]; found {
		select {
		case ch <- status:
		default:
		}
	}
}

// failPending releases twin patches waiting on a connection that is gone.
func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for rid, ch := range c.pending {
		close(ch)
		delete(c.pending, rid)
	}
}

func await(ctx context.Context, t mqtt.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classify marks failures where the broker could not be reached. Refusals
// by a reachable broker are left as is so the caller does not retry them
// over another transport.
func classify(err error) error {
	switch {
	case errors.Is(err, packets.ErrorRefusedNotAuthorised),
		errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword),
		errors.Is(err, packets.ErrorRefusedIDRejected),
		errors.Is(err, packets.ErrorRefusedBadProtocolVersion),
		errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", domain.ErrConnectionFailed, err)
	}
}
