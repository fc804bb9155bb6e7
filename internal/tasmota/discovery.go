package tasmota

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PanelModule is the discovery "md" value of an NSPanel.
const PanelModule = "nspanel"

// DiscoveryConfig is the retained tasmota/discovery/{id}/config payload.
// Only the fields the bridge uses are decoded; the rest end up in
// Discovery.Attributes under their long names.
type DiscoveryConfig struct {
	IP            string    `json:"ip"`
	DeviceName    string    `json:"dn"`
	FriendlyNames []*string `json:"fn"`
	HostName      string    `json:"hn"`
	MAC           string    `json:"mac"`
	Module        string    `json:"md"`
	Firmware      string    `json:"sw"`
	Topic         string    `json:"t"`
	FullTopic     string    `json:"ft"`
	Prefixes      []string  `json:"tp"`
	Relays        []int     `json:"rl"`
	Version       int       `json:"ver"`
}

// FriendlyName returns the first friendly name, if any.
func (c DiscoveryConfig) FriendlyName() string {
	if len(c.FriendlyNames) > 0 && c.FriendlyNames[0] != nil {
		return *c.FriendlyNames[0]
	}
	return ""
}

// IsPanel reports whether the discovered module is an NSPanel.
func (c DiscoveryConfig) IsPanel() bool {
	return strings.EqualFold(c.Module, PanelModule)
}

// discoveryKeys maps the abbreviated discovery keys to readable names.
var discoveryKeys = map[string]string{
	"ip":    "IP",
	"dn":    "DeviceName",
	"fn":    "FriendlyNames",
	"hn":    "HostName",
	"mac":   "MAC",
	"md":    "Module",
	"ty":    "Tuya",
	"if":    "ifan",
	"ofln":  "LWT-offline",
	"onln":  "LWT-online",
	"state": "StateText",
	"sw":    "FirmwareVersion",
	"t":     "Topic",
	"ft":    "FullTopic",
	"tp":    "Prefix",
	"rl":    "Relays",
	"swc":   "SwitchMode",
	"swn":   "SwitchName",
	"btn":   "Buttons",
	"so":    "SetOption",
	"lk":    "ctrgb",
	"lt_st": "LightSubtype",
	"sho":   "sho",
	"sht":   "sht",
	"ver":   "ProtocolVersion",
}

// renameDiscoveryKeys keeps known keys under their long names and drops the rest.
func renameDiscoveryKeys(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		if long, ok := discoveryKeys[k]; ok {
			out[long] = v
		}
	}
	return out
}

// MACFromDeviceID formats a 12 hex digit discovery id as aa:bb:cc:dd:ee:ff.
func MACFromDeviceID(id string) string {
	if len(id) != 12 {
		return id
	}
	parts := make([]string, 0, 6)
	for i := 0; i < 12; i += 2 {
		parts = append(parts, id[i:i+2])
	}
	return strings.Join(parts, ":")
}

// decodeDiscovery handles tasmota/discovery/{id}/{config|sensors}. A config for
// a device that is not a panel yields no events and no error.
func decodeDiscovery(topic string, payload []byte) ([]Event, error) {
	id, kind, err := SplitDiscoveryTopic(topic)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "config":
		var cfg DiscoveryConfig
		if err := json.Unmarshal(payload, &cfg); err != nil {
			return nil, fmt.Errorf("discovery config %s: %w", id, err)
		}
		if !cfg.IsPanel() {
			return nil, nil
		}
		if cfg.Topic == "" {
			return nil, fmt.Errorf("discovery config %s: no topic: %w", id, ErrUnhandledPayload)
		}
		var raw map[string]any
		if err := json.Unmarshal(payload, &raw); err != nil {
			return nil, fmt.Errorf("discovery config %s: %w", id, err)
		}
		return []Event{Discovery{
			DeviceID:   id,
			MAC:        MACFromDeviceID(id),
			Config:     cfg,
			Attributes: renameDiscoveryKeys(raw),
		}}, nil
	case "sensors":
		var msg struct {
			SN map[string]json.RawMessage `json:"sn"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("discovery sensors %s: %w", id, err)
		}
		groups := sensorGroups(msg.SN)
		if len(groups) == 0 {
			return nil, fmt.Errorf("discovery sensors %s: %w", id, ErrUnhandledPayload)
		}
		return []Event{DiscoverySensors{DeviceID: id, Groups: groups}}, nil
	}
	return nil, fmt.Errorf("discovery kind %q: %w", kind, ErrMalformedTopic)
}
