package tasmota

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SensorGroups are the temperature sensor groups an NSPanel reports.
var SensorGroups = []string{"ANALOG", "ESP32"}

// Decoder turns (topic, payload) pairs into events.
type Decoder struct {
	fullTopic FullTopic
	customLog *RingBuffer
}

// NewDecoder creates a decoder for devices using the given FullTopic template.
func NewDecoder(ft FullTopic) *Decoder {
	return &Decoder{
		fullTopic: NormalizeFullTopic(string(ft)),
		customLog: NewRingBuffer(CustomLogSize),
	}
}

// FullTopic returns the template the decoder splits topics with.
func (d *Decoder) FullTopic() FullTopic { return d.fullTopic }

// CustomLog returns the last raw panel messages, oldest first.
func (d *Decoder) CustomLog() []string { return d.customLog.Snapshot() }

// Decode parses one message. A nil slice with a nil error means the message
// was recognised but intentionally ignored (e.g. a non-panel discovery).
func (d *Decoder) Decode(topic string, payload []byte, retained bool) ([]Event, error) {
	if IsDiscoveryTopic(topic) {
		return decodeDiscovery(topic, payload)
	}

	t, err := d.fullTopic.Split(topic)
	if err != nil {
		return nil, err
	}
	origin := Origin{Device: t.Device, Detail: t.Detail}

	switch {
	case t.Detail == "LWT":
		online, ok := parseOnline(string(payload))
		if !ok {
			return nil, fmt.Errorf("%s: LWT payload %q: %w", topic, payload, ErrUnhandledPayload)
		}
		return []Event{LWT{Origin: origin, Online: online}}, nil
	case isPowerKey(t.Detail) && !looksLikeJSON(payload):
		idx, _ := relayIndex(t.Detail)
		on, ok := parseSwitch(string(payload))
		if !ok {
			return nil, fmt.Errorf("%s: power payload %q: %w", topic, payload, ErrUnhandledPayload)
		}
		return []Event{Power{Origin: origin, Relays: map[int]bool{idx: on}, Retained: retained}}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
		return nil, fmt.Errorf("%s: payload is not a JSON object: %w", topic, ErrUnhandledPayload)
	}

	if strings.HasPrefix(t.Detail, "INFO") {
		return decodeInfo(origin, obj)
	}
	if isStatus0(obj) {
		return decodeStatus0(origin, obj)
	}

	var events []Event
	switch {
	case has(obj, "CustomRecv"):
		var raw string
		if err := json.Unmarshal(obj["CustomRecv"], &raw); err != nil {
			return nil, fmt.Errorf("%s: CustomRecv: %w", topic, err)
		}
		d.customLog.Push(raw)
		events = append(events, CustomPanelEvent{Origin: origin, Raw: raw})
	case has(obj, "TelePeriod"):
		secs, ok := rawInt(obj["TelePeriod"])
		if !ok {
			return nil, fmt.Errorf("%s: TelePeriod: %w", topic, ErrUnhandledPayload)
		}
		events = append(events, TelePeriod{Origin: origin, Seconds: secs})
	case hasPowerKey(obj):
		events = append(events, Power{Origin: origin, Relays: powerRelays(obj), Retained: retained})
	default:
		if groups := sensorGroups(obj); len(groups) > 0 {
			events = append(events, Sensor{Origin: origin, Groups: groups})
		}
	}
	events = append(events, ancillary(origin, obj)...)

	if len(events) == 0 {
		return nil, fmt.Errorf("%s: %w", topic, ErrUnhandledPayload)
	}
	return events, nil
}

// ancillary extracts Wifi, Uptime and UptimeSec, each independently.
func ancillary(origin Origin, obj map[string]json.RawMessage) []Event {
	var events []Event
	if raw, ok := obj["Wifi"]; ok {
		var w map[string]json.RawMessage
		if json.Unmarshal(raw, &w) == nil {
			if sig, ok := rawInt(w["Signal"]); ok {
				rssi, _ := rawInt(w["RSSI"])
				events = append(events, Wifi{Origin: origin, Signal: sig, RSSI: rssi})
			}
		}
	}
	if raw, ok := obj["Uptime"]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			events = append(events, Uptime{Origin: origin, Value: s})
		}
	}
	if raw, ok := obj["UptimeSec"]; ok {
		if secs, ok := rawInt(raw); ok {
			events = append(events, UptimeSec{Origin: origin, Seconds: secs})
		}
	}
	return events
}

type status0Payload struct {
	Status struct {
		Module       int       `json:"Module"`
		DeviceName   string    `json:"DeviceName"`
		FriendlyName []*string `json:"FriendlyName"`
	} `json:"Status"`
	StatusFWR struct {
		Version string `json:"Version"`
	} `json:"StatusFWR"`
	StatusLOG *struct {
		TelePeriod *int `json:"TelePeriod"`
	} `json:"StatusLOG"`
	StatusNET struct {
		IPAddress string `json:"IPAddress"`
		Mac       string `json:"Mac"`
		Ethernet  *struct {
			IPAddress string `json:"IPAddress"`
		} `json:"Ethernet"`
	} `json:"StatusNET"`
	StatusSTS map[string]json.RawMessage `json:"StatusSTS"`
}

func isStatus0(obj map[string]json.RawMessage) bool {
	return has(obj, "Status") && has(obj, "StatusNET") && has(obj, "StatusFWR") && has(obj, "StatusSTS")
}

func decodeStatus0(origin Origin, obj map[string]json.RawMessage) ([]Event, error) {
	data, _ := json.Marshal(obj)
	var p status0Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("status0 %s: %w", origin.Device, err)
	}

	st := Status0{
		Origin:     origin,
		DeviceName: p.Status.DeviceName,
		IP:         p.StatusNET.IPAddress,
		MAC:        p.StatusNET.Mac,
		Firmware:   firmwareVersion(p.StatusFWR.Version),
		Module:     p.Status.Module,
	}
	if len(p.Status.FriendlyName) > 0 && p.Status.FriendlyName[0] != nil {
		st.FriendlyName = *p.Status.FriendlyName[0]
	}
	if st.IP == "0.0.0.0" && p.StatusNET.Ethernet != nil {
		st.IP = p.StatusNET.Ethernet.IPAddress
	}

	events := []Event{st}
	if p.StatusLOG != nil && p.StatusLOG.TelePeriod != nil {
		events = append(events, TelePeriod{Origin: origin, Seconds: *p.StatusLOG.TelePeriod})
	}
	if hasPowerKey(p.StatusSTS) {
		events = append(events, Power{Origin: origin, Relays: powerRelays(p.StatusSTS)})
	}
	events = append(events, ancillary(origin, p.StatusSTS)...)
	return events, nil
}

func decodeInfo(origin Origin, obj map[string]json.RawMessage) ([]Event, error) {
	idx, err := strconv.Atoi(strings.TrimPrefix(origin.Detail, "INFO"))
	if err != nil || idx < 1 || idx > 3 {
		return nil, fmt.Errorf("info topic %q: %w", origin.Detail, ErrUnhandledPayload)
	}
	var body struct {
		Module        any    `json:"Module"`
		Version       string `json:"Version"`
		IPAddress     string `json:"IPAddress"`
		RestartReason string `json:"RestartReason"`
	}
	raw, ok := obj["Info"+strconv.Itoa(idx)]
	if !ok {
		return nil, fmt.Errorf("info%d %s: missing body: %w", idx, origin.Device, ErrUnhandledPayload)
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("info%d %s: %w", idx, origin.Device, err)
	}
	info := Info{
		Origin:        origin,
		Index:         idx,
		Firmware:      firmwareVersion(body.Version),
		IP:            body.IPAddress,
		RestartReason: body.RestartReason,
	}
	if body.Module != nil {
		info.Module = fmt.Sprint(body.Module)
	}
	return []Event{info}, nil
}

// sensorGroups extracts numeric readings of the known temperature groups.
func sensorGroups(obj map[string]json.RawMessage) map[string]map[string]float64 {
	var groups map[string]map[string]float64
	for _, g := range SensorGroups {
		raw, ok := obj[g]
		if !ok {
			continue
		}
		var fields map[string]any
		if json.Unmarshal(raw, &fields) != nil {
			continue
		}
		vals := make(map[string]float64)
		for k, v := range fields {
			if f, ok := v.(float64); ok {
				vals[k] = f
			}
		}
		if len(vals) == 0 {
			continue
		}
		if groups == nil {
			groups = make(map[string]map[string]float64)
		}
		groups[g] = vals
	}
	return groups
}

func powerRelays(obj map[string]json.RawMessage) map[int]bool {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	relays := make(map[int]bool)
	for _, k := range keys {
		idx, ok := relayIndex(k)
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(obj[k], &s) != nil {
			continue
		}
		if on, ok := parseSwitch(s); ok {
			relays[idx] = on
		}
	}
	return relays
}

func hasPowerKey(obj map[string]json.RawMessage) bool {
	for k := range obj {
		if isPowerKey(k) {
			return true
		}
	}
	return false
}

func isPowerKey(k string) bool {
	_, ok := relayIndex(k)
	return ok
}

// relayIndex parses POWER or POWER<N>; no suffix means relay 1.
func relayIndex(k string) (int, bool) {
	if !strings.HasPrefix(k, "POWER") {
		return 0, false
	}
	suffix := k[len("POWER"):]
	if suffix == "" {
		return 1, true
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func parseOnline(s string) (online, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "online", "true", "1":
		return true, true
	case "offline", "false", "0":
		return false, true
	}
	return false, false
}

func parseSwitch(s string) (on, ok bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ON", "1":
		return true, true
	case "OFF", "0":
		return false, true
	}
	return false, false
}

func firmwareVersion(v string) string {
	if i := strings.IndexByte(v, '('); i >= 0 {
		return v[:i]
	}
	return v
}

func has(obj map[string]json.RawMessage, key string) bool {
	_, ok := obj[key]
	return ok
}

func looksLikeJSON(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '{'
}

// rawInt accepts JSON numbers and numeric strings.
func rawInt(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n, true
		}
	}
	return 0, false
}
