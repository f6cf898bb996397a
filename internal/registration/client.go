// Package registration exchanges host facts for the device identity that
// lets this agent join the hub.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rewstapp/rewst_remote_agent/internal/domain"
	"github.com/rewstapp/rewst_remote_agent/internal/impls"
	"github.com/rewstapp/rewst_remote_agent/internal/retry"
)

// SecretHeader carries the organization's registration secret.
const SecretHeader = "x-rewst-secret"

// Client implements impls.ConfigurationFetcher.
type Client struct {
	policy retry.Policy
	probe  impls.HostProbe
	http   *http.Client
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewClient creates a registration client retrying on policy.
func NewClient(policy retry.Policy, probe impls.HostProbe, logger *slog.Logger) *Client {
	// Attempts are paced by policy, so the transport itself never retries.
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 0
	retryClient.Logger = nil
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		policy: policy,
		probe:  probe,
		http:   retryClient.StandardClient(),
		logger: logger,
		sleep:  retry.Sleep,
	}
}

// WithSleeper replaces the wait between attempts.
// This function exists for unit testing only.
func (c *Client) WithSleeper(sleep func(ctx context.Context, d time.Duration) error) *Client {
	c.sleep = sleep
	return c
}

type configurationEnvelope struct {
	Configuration map[string]json.RawMessage `json:"configuration"`
}

// FetchConfiguration posts host facts to configURL until it answers with a
// complete configuration. It returns (nil, nil) when the policy runs out,
// meaning registration is still pending on the backend.
func (c *Client) FetchConfiguration(ctx context.Context, configURL, secret, orgID string) (*domain.AgentConfiguration, error) {
	info := c.probe.HostInfo(ctx, orgID)
	body, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshal host info: %w", err)
	}

	c.logger.Info("sending host information", "url", configURL, "hostname", info.Hostname, "org_id", orgID)

	for attempt := range c.policy.Attempts() {
		cfg, ok := c.try(ctx, attempt, configURL, secret, body)
		if ok {
			return cfg, nil
		}

		c.logger.Info("waiting before retrying", "attempt", attempt.Number, "phase", attempt.Phase, "interval", attempt.Interval.String())
		if err := c.sleep(ctx, attempt.Interval); err != nil {
			return nil, err
		}
	}

	c.logger.Info("this process will end when the service is installed")
	return nil, nil
}

func (c *Client) try(ctx context.Context, attempt retry.Attempt, url, secret string, body []byte) (*domain.AgentConfiguration, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.logger.Error("create request", "err", err)
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(SecretHeader, secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("network error, retrying", "attempt", attempt.Number, "err", err)
		return nil, false
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warn("read response body", "attempt", attempt.Number, "err", err)
		return nil, false
	}

	switch resp.StatusCode {
	case http.StatusSeeOther:
		c.logger.Info("waiting while rewst processes agent registration", "attempt", attempt.Number)
	case http.StatusOK:
		cfg, err := decodeConfiguration(respBody)
		if err == nil {
			return cfg, true
		}
		c.logger.Warn("missing required keys in configuration data, retrying", "attempt", attempt.Number, "err", err)
	case http.StatusBadRequest, http.StatusUnauthorized:
		c.logger.Error("not authorized, check your config secret", "attempt", attempt.Number, "status", resp.StatusCode)
	default:
		c.logger.Warn("unexpected status, retrying", "attempt", attempt.Number, "status", resp.StatusCode)
	}
	return nil, false
}

func decodeConfiguration(body []byte) (*domain.AgentConfiguration, error) {
	var env configurationEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &domain.ErrProtocol{Op: "decode configuration", Err: err}
	}
	if env.Configuration == nil {
		return nil, &domain.ErrProtocol{Op: "decode configuration", Err: fmt.Errorf("%w: no configuration object", domain.ErrConfigurationMissing)}
	}
	if missing := domain.MissingKeys(env.Configuration); len(missing) > 0 {
		return nil, &domain.ErrProtocol{Op: "decode configuration", Err: fmt.Errorf("%w: %v", domain.ErrConfigurationMissing, missing)}
	}

	raw, err := json.Marshal(env.Configuration)
	if err != nil {
		return nil, err
	}
	var cfg domain.AgentConfiguration
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, &domain.ErrProtocol{Op: "decode configuration", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
