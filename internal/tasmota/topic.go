// Package tasmota understands the Tasmota MQTT topic grammar and turns raw
// device messages into typed events.
package tasmota

import (
	"errors"
	"fmt"
	"strings"
)

// Topic prefixes used by Tasmota.
const (
	PrefixCmnd = "cmnd"
	PrefixStat = "stat"
	PrefixTele = "tele"
)

// DefaultFullTopic is the Tasmota factory FullTopic template.
const DefaultFullTopic = "%prefix%/%topic%/"

// DetailCustomSend is the command the panel driver listens on.
const DetailCustomSend = "CustomSend"

const discoveryRoot = "tasmota/discovery/"

var (
	// ErrMalformedTopic is returned when a topic does not match the grammar.
	ErrMalformedTopic = errors.New("malformed topic")
	// ErrUnhandledPayload is returned for payload shapes no event covers.
	ErrUnhandledPayload = errors.New("unhandled payload")
)

// Topic is a parsed device-scoped topic.
type Topic struct {
	Prefix string
	Device string
	Detail string
}

func (t Topic) String() string {
	return BuildTopic(t.Prefix, t.Device, t.Detail)
}

// FullTopic is a Tasmota FullTopic template containing %prefix% and %topic%.
type FullTopic string

// NormalizeFullTopic lowercases the template, falls back to the default when
// a placeholder is missing, and guarantees a trailing slash.
func NormalizeFullTopic(s string) FullTopic {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.Contains(s, "%prefix%") || !strings.Contains(s, "%topic%") {
		s = DefaultFullTopic
	}
	if !strings.HasSuffix(s, "/") {
		s += "/"
	}
	return FullTopic(s)
}

// Build expands the template and appends detail.
func (ft FullTopic) Build(prefix, device, detail string) string {
	s := strings.Replace(string(ft), "%prefix%", prefix, 1)
	s = strings.Replace(s, "%topic%", device, 1)
	return s + detail
}

// Split is the inverse of Build. The segment count must match the template
// exactly and literal segments must be equal.
func (ft FullTopic) Split(topic string) (Topic, error) {
	tmpl := strings.Split(string(ft), "/")
	parts := strings.Split(topic, "/")
	if len(parts) != len(tmpl) {
		return Topic{}, fmt.Errorf("%q: %d segments, want %d: %w", topic, len(parts), len(tmpl), ErrMalformedTopic)
	}
	var t Topic
	for i, seg := range tmpl {
		p := parts[i]
		switch {
		case i == len(tmpl)-1:
			t.Detail = p
		case seg == "%prefix%":
			t.Prefix = p
		case seg == "%topic%":
			t.Device = p
		case seg != p:
			return Topic{}, fmt.Errorf("%q: segment %d is %q, want %q: %w", topic, i, p, seg, ErrMalformedTopic)
		}
	}
	if t.Prefix == "" || t.Device == "" || t.Detail == "" {
		return Topic{}, fmt.Errorf("%q: empty segment: %w", topic, ErrMalformedTopic)
	}
	return t, nil
}

// BuildTopic builds a topic with the default template.
func BuildTopic(prefix, device, detail string) string {
	return FullTopic(DefaultFullTopic).Build(prefix, device, detail)
}

// SplitTopic splits a topic with the default template.
func SplitTopic(topic string) (Topic, error) {
	return FullTopic(DefaultFullTopic).Split(topic)
}

// IsDiscoveryTopic reports whether the topic belongs to Tasmota discovery.
func IsDiscoveryTopic(topic string) bool {
	return strings.HasPrefix(topic, discoveryRoot)
}

// SplitDiscoveryTopic parses tasmota/discovery/{deviceID}/{kind}.
func SplitDiscoveryTopic(topic string) (deviceID, kind string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "tasmota" || parts[1] != "discovery" || parts[2] == "" {
		return "", "", fmt.Errorf("%q: %w", topic, ErrMalformedTopic)
	}
	return parts[2], parts[3], nil
}

// DiscoveryTopic builds tasmota/discovery/{deviceID}/{kind}.
func DiscoveryTopic(deviceID, kind string) string {
	return discoveryRoot + deviceID + "/" + kind
}

// Subscriptions lists the topic filters the bridge subscribes to. With no
// configured devices a single-level wildcard is used for the device segment.
func Subscriptions(ft FullTopic, devices []string) []string {
	if len(devices) == 0 {
		devices = []string{"+"}
	}
	subs := []string{
		DiscoveryTopic("+", "config"),
		DiscoveryTopic("+", "sensors"),
	}
	for _, d := range devices {
		for _, detail := range []string{"LWT", "STATE", "SENSOR", "RESULT", "INFO1", "INFO2", "INFO3"} {
			subs = append(subs, ft.Build(PrefixTele, d, detail))
		}
		for _, detail := range []string{"RESULT", "STATUS0", "POWER", "POWER1", "POWER2"} {
			subs = append(subs, ft.Build(PrefixStat, d, detail))
		}
	}
	return subs
}
