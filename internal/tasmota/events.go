package tasmota

// Event is one decoded device message. The set of implementations is closed:
// LWT, Status0, CustomPanelEvent, TelePeriod, Power, Wifi, Uptime, UptimeSec,
// Sensor, Info, Discovery and DiscoverySensors.
type Event interface {
	// Kind is a short stable name used for logging and metrics.
	Kind() string
	event()
}

// Origin identifies the device topic and info topic an event came from.
type Origin struct {
	Device string
	Detail string
}

// Source is the traceability tag attached to item writes: "device:detail".
func (o Origin) Source() string {
	if o.Detail == "" {
		return o.Device
	}
	return o.Device + ":" + o.Detail
}

// LWT is the broker-side presence signal.
type LWT struct {
	Origin
	Online bool
}

// Status0 is the answer to the interview command.
type Status0 struct {
	Origin
	FriendlyName string
	DeviceName   string
	IP           string
	MAC          string
	Firmware     string
	Module       int
}

// CustomPanelEvent carries a raw comma separated string from the panel driver.
type CustomPanelEvent struct {
	Origin
	Raw string
}

// TelePeriod reports the device's telemetry interval in seconds.
type TelePeriod struct {
	Origin
	Seconds int
}

// Power reports relay states keyed by relay index (1-based).
type Power struct {
	Origin
	Relays   map[int]bool
	Retained bool
}

// Wifi reports the signal strength in dBm.
type Wifi struct {
	Origin
	Signal int
	RSSI   int
}

// Uptime is the textual uptime ("1T02:03:04").
type Uptime struct {
	Origin
	Value string
}

// UptimeSec is the uptime in seconds.
type UptimeSec struct {
	Origin
	Seconds int
}

// Sensor carries temperature sensor readings grouped by sensor (ANALOG, ESP32).
type Sensor struct {
	Origin
	Groups map[string]map[string]float64
}

// Info is one of the INFO1..INFO3 startup messages.
type Info struct {
	Origin
	Index         int
	Firmware      string
	Module        string
	IP            string
	RestartReason string
}

// Discovery is a Tasmota discovery config for a panel.
type Discovery struct {
	DeviceID   string
	MAC        string
	Config     DiscoveryConfig
	Attributes map[string]any
}

// DiscoverySensors is a discovery sensors payload. The device is identified by
// its discovery id only; the state store resolves the topic.
type DiscoverySensors struct {
	DeviceID string
	Groups   map[string]map[string]float64
}

func (LWT) Kind() string              { return "lwt" }
func (Status0) Kind() string          { return "status0" }
func (CustomPanelEvent) Kind() string { return "custom" }
func (TelePeriod) Kind() string       { return "teleperiod" }
func (Power) Kind() string            { return "power" }
func (Wifi) Kind() string             { return "wifi" }
func (Uptime) Kind() string           { return "uptime" }
func (UptimeSec) Kind() string        { return "uptime_sec" }
func (Sensor) Kind() string           { return "sensor" }
func (Info) Kind() string             { return "info" }
func (Discovery) Kind() string        { return "discovery" }
func (DiscoverySensors) Kind() string { return "discovery_sensors" }

func (LWT) event()              {}
func (Status0) event()          {}
func (CustomPanelEvent) event() {}
func (TelePeriod) event()       {}
func (Power) event()            {}
func (Wifi) event()             {}
func (Uptime) event()           {}
func (UptimeSec) event()        {}
func (Sensor) event()           {}
func (Info) event()             {}
func (Discovery) event()        {}
func (DiscoverySensors) event() {}
