// Package panel owns the per-device state of every known NSPanel: presence,
// telemetry, UI position and the de-duplication cache of rendered commands.
package panel

import (
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"nspanel-bridge/internal/items"
	"nspanel-bridge/internal/tasmota"
)

// Origin is the identity the bridge uses for its item writes.
const Origin = "nspanel"

// Grace is added to the telemetry period to form the online deadline.
const Grace = 5 * time.Second

// Status is the lifecycle stage of a device record.
type Status string

const (
	StatusNew         Status = "new"
	StatusDiscovered  Status = "discovered"
	StatusInterviewed Status = "interviewed"
	StatusOffline     Status = "offline"
)

// Virtual page indices for pages outside the card list. PagePopup is
// reported in page_changed events while a detail popup is open; the card
// underneath stays the current page.
const (
	PageSubpage = -1
	PagePopup   = -2
)

// Popup is the detail popup open on a panel.
type Popup struct {
	Kind     string `json:"kind"`
	Entity   string `json:"entity"`
	Rendered string `json:"-"`
}

// Mapping binds device telemetry to item paths. Empty fields are not written.
type Mapping struct {
	Online     string         `yaml:"online"`
	Relays     map[int]string `yaml:"relays"`
	TempAnalog string         `yaml:"temp_analog"`
	TempESP32  string         `yaml:"temp_esp32"`
	WifiSignal string         `yaml:"wifi_signal"`
	Uptime     string         `yaml:"uptime"`
}

// Record is the state of one panel.
type Record struct {
	Topic          string    `json:"topic"`
	Status         Status    `json:"status"`
	Online         bool      `json:"online"`
	OnlineDeadline time.Time `json:"online_deadline"`
	LastSeen       time.Time `json:"last_seen"`

	Sensors    map[string]map[string]float64 `json:"sensors,omitempty"`
	Relays     map[int]bool                  `json:"relays,omitempty"`
	WifiSignal *int                          `json:"wifi_signal,omitempty"`
	Uptime     string                        `json:"uptime,omitempty"`
	UptimeSec  int                           `json:"uptime_sec,omitempty"`
	TelePeriod int                           `json:"tele_period,omitempty"`

	FirmwareVersion string         `json:"firmware_version,omitempty"`
	DriverVersion   string         `json:"driver_version,omitempty"`
	PanelModel      string         `json:"panel_model,omitempty"`
	FriendlyName    string         `json:"friendly_name,omitempty"`
	DeviceID        string         `json:"device_id,omitempty"`
	Module          string         `json:"module,omitempty"`
	IP              string         `json:"ip,omitempty"`
	MAC             string         `json:"mac,omitempty"`
	Discovery       map[string]any `json:"discovery,omitempty"`

	CurrentPage       int      `json:"current_page"`
	ParentPage        int      `json:"parent_page"`
	Subpage           string   `json:"subpage,omitempty"`
	ScreensaverActive bool     `json:"screensaver_active"`
	Popup             *Popup   `json:"popup,omitempty"`
	LastRendered      []string `json:"last_rendered,omitempty"`
}

func newRecord(topic string) *Record {
	return &Record{
		Topic:   topic,
		Status:  StatusNew,
		Sensors: make(map[string]map[string]float64),
		Relays:  make(map[int]bool),
	}
}

func (r *Record) clone() Record {
	c := *r
	c.Sensors = make(map[string]map[string]float64, len(r.Sensors))
	for g, vals := range r.Sensors {
		m := make(map[string]float64, len(vals))
		for k, v := range vals {
			m[k] = v
		}
		c.Sensors[g] = m
	}
	c.Relays = make(map[int]bool, len(r.Relays))
	for k, v := range r.Relays {
		c.Relays[k] = v
	}
	if r.WifiSignal != nil {
		w := *r.WifiSignal
		c.WifiSignal = &w
	}
	if r.Popup != nil {
		p := *r.Popup
		c.Popup = &p
	}
	c.LastRendered = append([]string(nil), r.LastRendered...)
	return c
}

// Store holds all panel records. Records are created on first contact and
// never removed.
type Store struct {
	mu       sync.Mutex
	records  map[string]*Record
	mappings map[string]Mapping

	telePeriod time.Duration
	items      items.Store
	bus        *EventBus
	logger     *slog.Logger
	now        func() time.Time
}

// NewStore creates a store. itemStore may be nil when no telemetry items are
// mapped.
func NewStore(telePeriod time.Duration, mappings map[string]Mapping, itemStore items.Store, bus *EventBus, logger *slog.Logger) *Store {
	if mappings == nil {
		mappings = make(map[string]Mapping)
	}
	return &Store{
		records:    make(map[string]*Record),
		mappings:   mappings,
		telePeriod: telePeriod,
		items:      itemStore,
		bus:        bus,
		logger:     logger.With("component", "panel"),
		now:        time.Now,
	}
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// TelePeriod returns the configured telemetry period.
func (s *Store) TelePeriod() time.Duration { return s.telePeriod }

// record returns the record for topic, creating it if needed. Caller holds mu.
func (s *Store) record(topic string) *Record {
	r, ok := s.records[topic]
	if !ok {
		r = newRecord(topic)
		s.records[topic] = r
		s.logger.Info("new panel", "topic", topic)
	}
	return r
}

// Get returns a copy of the record.
func (s *Store) Get(topic string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[topic]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

// Topics returns all known topics, sorted.
func (s *Store) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for t := range s.records {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// OnlineTopics returns topics of online panels, sorted.
func (s *Store) OnlineTopics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for t, r := range s.records {
		if r.Online {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// ApplyOnline records presence. Going online re-arms the deadline; the
// transition emits EventOnline or EventOffline. Offline for an unknown topic
// is ignored.
func (s *Store) ApplyOnline(origin tasmota.Origin, online bool) bool {
	s.mu.Lock()
	if !online {
		r, ok := s.records[origin.Device]
		if !ok || !r.Online {
			s.mu.Unlock()
			return false
		}
		s.setOffline(r)
		s.mu.Unlock()
		s.writeItem(origin, s.mapping(origin.Device).Online, false)
		s.bus.Emit(Event{Type: EventOffline, Topic: origin.Device})
		return true
	}

	r := s.record(origin.Device)
	now := s.now()
	r.LastSeen = now
	r.OnlineDeadline = now.Add(s.telePeriod + Grace)
	changed := !r.Online
	if changed {
		r.Online = true
		if r.Status == StatusNew || r.Status == StatusOffline {
			r.Status = StatusDiscovered
		}
	}
	s.mu.Unlock()

	s.writeItem(origin, s.mapping(origin.Device).Online, true)
	if changed {
		s.logger.Info("panel online", "topic", origin.Device)
		s.bus.Emit(Event{Type: EventOnline, Topic: origin.Device})
	}
	return changed
}

// setOffline clears everything but identity. Caller holds mu.
func (s *Store) setOffline(r *Record) {
	s.logger.Info("panel offline", "topic", r.Topic, "deadline", r.OnlineDeadline)
	r.Online = false
	r.Status = StatusOffline
	r.Sensors = make(map[string]map[string]float64)
	r.Relays = make(map[int]bool)
	r.WifiSignal = nil
	r.ScreensaverActive = false
	r.CurrentPage = 0
	r.Subpage = ""
	r.Popup = nil
	r.LastRendered = nil
}

// ExpireStale sets every online record whose deadline passed offline and
// returns their topics.
func (s *Store) ExpireStale(now time.Time) []string {
	s.mu.Lock()
	var expired []string
	for topic, r := range s.records {
		if r.Online && r.OnlineDeadline.Before(now) {
			s.setOffline(r)
			expired = append(expired, topic)
		}
	}
	s.mu.Unlock()

	sort.Strings(expired)
	for _, topic := range expired {
		s.writeItem(tasmota.Origin{Device: topic, Detail: "check_online_status"}, s.mapping(topic).Online, false)
		s.bus.Emit(Event{Type: EventOffline, Topic: topic})
	}
	return expired
}

// ApplySensor merges sensor readings.
func (s *Store) ApplySensor(origin tasmota.Origin, groups map[string]map[string]float64) {
	s.mu.Lock()
	r := s.record(origin.Device)
	for g, vals := range groups {
		if r.Sensors[g] == nil {
			r.Sensors[g] = make(map[string]float64)
		}
		for k, v := range vals {
			r.Sensors[g][k] = v
		}
	}
	s.mu.Unlock()

	m := s.mapping(origin.Device)
	if v, ok := groups["ANALOG"]["Temperature1"]; ok {
		s.writeItem(origin, m.TempAnalog, v)
	}
	if v, ok := groups["ESP32"]["Temperature"]; ok {
		s.writeItem(origin, m.TempESP32, v)
	}
}

// ApplyRelay merges relay states.
func (s *Store) ApplyRelay(origin tasmota.Origin, relays map[int]bool) {
	s.mu.Lock()
	r := s.record(origin.Device)
	for idx, on := range relays {
		r.Relays[idx] = on
	}
	s.mu.Unlock()

	m := s.mapping(origin.Device)
	for idx, on := range relays {
		s.writeItem(origin, m.Relays[idx], on)
	}
}

// ApplyWifi records the wifi signal.
func (s *Store) ApplyWifi(origin tasmota.Origin, signal int) {
	s.mu.Lock()
	r := s.record(origin.Device)
	r.WifiSignal = &signal
	s.mu.Unlock()
	s.writeItem(origin, s.mapping(origin.Device).WifiSignal, signal)
}

// ApplyUptime records the textual uptime.
func (s *Store) ApplyUptime(origin tasmota.Origin, uptime string) {
	s.mu.Lock()
	s.record(origin.Device).Uptime = uptime
	s.mu.Unlock()
	s.writeItem(origin, s.mapping(origin.Device).Uptime, uptime)
}

// ApplyUptimeSec records the uptime in seconds.
func (s *Store) ApplyUptimeSec(origin tasmota.Origin, secs int) {
	s.mu.Lock()
	s.record(origin.Device).UptimeSec = secs
	s.mu.Unlock()
}

// ApplyTelePeriod records the device's telemetry period and reports whether
// it differs from the configured one.
func (s *Store) ApplyTelePeriod(origin tasmota.Origin, secs int) bool {
	s.mu.Lock()
	s.record(origin.Device).TelePeriod = secs
	s.mu.Unlock()
	return time.Duration(secs)*time.Second != s.telePeriod
}

// ApplyDiscovery records a discovery config and returns the panel topic.
// Applying the same payload twice yields the same record.
func (s *Store) ApplyDiscovery(d tasmota.Discovery) string {
	topic := d.Config.Topic
	s.mu.Lock()
	r := s.record(topic)
	r.IP = d.Config.IP
	r.FriendlyName = d.Config.FriendlyName()
	r.FirmwareVersion = d.Config.Firmware
	r.DeviceID = d.DeviceID
	r.Module = d.Config.Module
	r.MAC = d.MAC
	r.Discovery = d.Attributes
	if r.Status != StatusInterviewed {
		r.Status = StatusDiscovered
	}
	s.mu.Unlock()

	s.bus.Emit(Event{Type: EventDiscovered, Topic: topic, Data: d.DeviceID})
	return topic
}

// ApplyDiscoverySensors resolves the device by discovery id and merges the
// readings. Unknown ids are ignored.
func (s *Store) ApplyDiscoverySensors(d tasmota.DiscoverySensors) (string, bool) {
	s.mu.Lock()
	var topic string
	for t, r := range s.records {
		if r.DeviceID == d.DeviceID {
			topic = t
			break
		}
	}
	s.mu.Unlock()
	if topic == "" {
		return "", false
	}
	s.ApplySensor(tasmota.Origin{Device: topic, Detail: "discovery"}, d.Groups)
	return topic, true
}

// ApplyStatus0 records the interview answer.
func (s *Store) ApplyStatus0(st tasmota.Status0) {
	s.mu.Lock()
	r := s.record(st.Device)
	r.Status = StatusInterviewed
	setIf(&r.FriendlyName, st.FriendlyName)
	setIf(&r.IP, st.IP)
	setIf(&r.MAC, st.MAC)
	setIf(&r.FirmwareVersion, st.Firmware)
	if st.Module != 0 {
		r.Module = strconv.Itoa(st.Module)
	}
	s.mu.Unlock()
	s.bus.Emit(Event{Type: EventInterviewed, Topic: st.Device})
}

// ApplyInfo records INFO1..INFO3.
func (s *Store) ApplyInfo(info tasmota.Info) {
	s.mu.Lock()
	r := s.record(info.Device)
	setIf(&r.FirmwareVersion, info.Firmware)
	setIf(&r.Module, info.Module)
	setIf(&r.IP, info.IP)
	ip := r.IP
	s.mu.Unlock()
	if info.Index == 3 {
		s.logger.Warn("panel restarted", "topic", info.Device, "ip", ip, "reason", info.RestartReason)
		s.bus.Emit(Event{Type: EventRestarted, Topic: info.Device, Data: info.RestartReason})
	}
}

// ApplyStartup records the panel driver version and model reported at boot.
func (s *Store) ApplyStartup(topic, version, model string) {
	s.mu.Lock()
	r := s.record(topic)
	r.DriverVersion = version
	r.PanelModel = model
	r.CurrentPage = 0
	r.Subpage = ""
	r.ScreensaverActive = false
	r.Popup = nil
	r.LastRendered = nil
	s.mu.Unlock()
	s.bus.Emit(Event{Type: EventStartup, Topic: topic, Data: model})
}

// SetScreensaver sets the screensaver flag. Entering the screensaver resets
// the page to the first card and closes any popup.
func (s *Store) SetScreensaver(topic string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.record(topic)
	r.ScreensaverActive = active
	if active {
		r.CurrentPage = 0
		r.Subpage = ""
		r.Popup = nil
		r.LastRendered = nil
	}
}

// OpenPopup records the detail popup shown on top of the current card along
// with the command that rendered it.
func (s *Store) OpenPopup(topic, kind, entity, rendered string) {
	s.mu.Lock()
	r := s.record(topic)
	r.Popup = &Popup{Kind: kind, Entity: entity, Rendered: rendered}
	r.ScreensaverActive = false
	s.mu.Unlock()
	s.bus.Emit(Event{Type: EventPageChanged, Topic: topic, Data: PagePopup})
}

// ActivePopup returns the open popup, if any.
func (s *Store) ActivePopup(topic string) (Popup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[topic]
	if !ok || r.Popup == nil {
		return Popup{}, false
	}
	return *r.Popup, true
}

// ClosePopup forgets the open popup and reports whether there was one.
func (s *Store) ClosePopup(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[topic]
	if !ok || r.Popup == nil {
		return false
	}
	r.Popup = nil
	return true
}

// DedupPopup reports whether cmd differs from what the open popup last
// showed and remembers it. It is false when no popup is open.
func (s *Store) DedupPopup(topic, cmd string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[topic]
	if !ok || r.Popup == nil || r.Popup.Rendered == cmd {
		return false
	}
	r.Popup.Rendered = cmd
	return true
}

// Page returns the current page index and, for virtual pages, the sub-page key.
func (s *Store) Page(topic string) (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.record(topic)
	return r.CurrentPage, r.Subpage
}

// SetPage moves to card idx. Virtual pages remember the card they were
// opened from.
func (s *Store) SetPage(topic string, idx int, subpage string) {
	s.mu.Lock()
	r := s.record(topic)
	if idx < 0 && r.CurrentPage >= 0 {
		r.ParentPage = r.CurrentPage
	}
	r.CurrentPage = idx
	r.Subpage = subpage
	r.ScreensaverActive = false
	r.Popup = nil
	s.mu.Unlock()
	s.bus.Emit(Event{Type: EventPageChanged, Topic: topic, Data: idx})
}

// ParentPage returns the card a virtual page was opened from.
func (s *Store) ParentPage(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record(topic).ParentPage
}

// NextPage advances to the next card, wrapping modulo cards.
func (s *Store) NextPage(topic string, cards int) int {
	return s.stepPage(topic, cards, 1)
}

// PrevPage goes back one card, wrapping modulo cards.
func (s *Store) PrevPage(topic string, cards int) int {
	return s.stepPage(topic, cards, -1)
}

func (s *Store) stepPage(topic string, cards, delta int) int {
	if cards <= 0 {
		return 0
	}
	s.mu.Lock()
	r := s.record(topic)
	cur := r.CurrentPage
	if cur < 0 {
		cur = r.ParentPage
	}
	next := ((cur+delta)%cards + cards) % cards
	s.mu.Unlock()
	s.SetPage(topic, next, "")
	return next
}

// Dedup filters cmds against the last sequence sent to topic, dropping every
// command equal to the one at the same position, then remembers cmds. force
// clears the cache first so everything is returned.
func (s *Store) Dedup(topic string, cmds []string, force bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.record(topic)
	if force {
		r.LastRendered = nil
	}
	out := make([]string, 0, len(cmds))
	for i, c := range cmds {
		if i < len(r.LastRendered) && r.LastRendered[i] == c {
			continue
		}
		out = append(out, c)
	}
	r.LastRendered = append(r.LastRendered[:0:0], cmds...)
	return out
}

// ClearDedup forgets the last rendered sequence.
func (s *Store) ClearDedup(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[topic]; ok {
		r.LastRendered = nil
	}
}

func (s *Store) mapping(topic string) Mapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mappings[topic]
}

func (s *Store) writeItem(origin tasmota.Origin, path string, value any) {
	if path == "" || s.items == nil {
		return
	}
	if err := s.items.Set(path, value, Origin, origin.Source()); err != nil {
		s.logger.Warn("item write failed", "item", path, "source", origin.Source(), "error", err)
		return
	}
	s.logger.Debug("item set", "item", path, "value", value, "source", origin.Source())
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Button announces a panel button press to event listeners.
func (s *Store) Button(topic string, data ButtonData) {
	s.bus.Emit(Event{Type: EventButton, Topic: topic, Data: data})
}
