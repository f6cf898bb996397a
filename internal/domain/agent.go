package domain

import (
	"encoding/json"
	"fmt"
)

// Configuration keys that a registration response must carry.
const (
	KeyIoTHubHost      = "azure_iot_hub_host"
	KeyDeviceID        = "device_id"
	KeySharedAccessKey = "shared_access_key"
	KeyEngineHost      = "rewst_engine_host"
	KeyOrgID           = "rewst_org_id"
)

// RequiredConfigKeys lists every key a usable AgentConfiguration must have.
var RequiredConfigKeys = []string{
	KeyIoTHubHost,
	KeyDeviceID,
	KeySharedAccessKey,
	KeyEngineHost,
	KeyOrgID,
}

// AgentConfiguration is the identity and connection material issued to this
// device during registration. Keys the agent does not interpret are kept in
// Extra and written back unchanged.
type AgentConfiguration struct {
	OrgID           string `json:"rewst_org_id"`
	IoTHubHost      string `json:"azure_iot_hub_host"`
	DeviceID        string `json:"device_id"`
	SharedAccessKey string `json:"shared_access_key"`
	EngineHost      string `json:"rewst_engine_host"`

	Extra map[string]any `json:"-"`
}

// Validate reports the first required field that is empty.
func (c *AgentConfiguration) Validate() error {
	fields := map[string]string{
		KeyIoTHubHost:      c.IoTHubHost,
		KeyDeviceID:        c.DeviceID,
		KeySharedAccessKey: c.SharedAccessKey,
		KeyEngineHost:      c.EngineHost,
		KeyOrgID:           c.OrgID,
	}
	for _, key := range RequiredConfigKeys {
		if fields[key] == "" {
			return &ErrConfiguration{Op: "validate", Err: fmt.Errorf("%w: %s is empty", ErrConfigurationMissing, key)}
		}
	}
	return nil
}

func (c *AgentConfiguration) UnmarshalJSON(data []byte) error {
	type plain AgentConfiguration
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, key := range RequiredConfigKeys {
		delete(raw, key)
	}
	if len(raw) > 0 {
		p.Extra = raw
	} else {
		p.Extra = nil
	}

	*c = AgentConfiguration(p)
	return nil
}

func (c AgentConfiguration) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+len(RequiredConfigKeys))
	for k, v := range c.Extra {
		out[k] = v
	}
	out[KeyIoTHubHost] = c.IoTHubHost
	out[KeyDeviceID] = c.DeviceID
	out[KeySharedAccessKey] = c.SharedAccessKey
	out[KeyEngineHost] = c.EngineHost
	out[KeyOrgID] = c.OrgID
	return json.Marshal(out)
}

// MissingKeys returns the required keys absent from a decoded JSON object.
func MissingKeys(raw map[string]json.RawMessage) []string {
	var missing []string
	for _, key := range RequiredConfigKeys {
		if _, ok := raw[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}
