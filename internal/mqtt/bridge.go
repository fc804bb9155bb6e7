// Package mqtt connects NSPanels to the rest of the bridge over MQTT: inbound
// messages are decoded, applied to the panel store and dispatched; rendered
// commands go back out as CustomSend.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"nspanel-bridge/internal/dispatch"
	"nspanel-bridge/internal/items"
	"nspanel-bridge/internal/metrics"
	"nspanel-bridge/internal/panel"
	"nspanel-bridge/internal/render"
	"nspanel-bridge/internal/scheduler"
	"nspanel-bridge/internal/tasmota"
)

// MessageHandler receives one inbound message.
type MessageHandler func(topic string, payload []byte, retained bool)

// Transport is the broker connection the bridge talks through.
type Transport interface {
	Publish(topic string, payload []byte, retained bool)
	Subscribe(filters []string, handler MessageHandler) error
}

// Timer names.
const (
	timerClock    = "clock"
	timerDate     = "date"
	timerWatchdog = "watchdog"
)

const (
	clockInterval = 60 * time.Second
	clockFirst    = 20 * time.Second
	dateSpec      = "1 0 0 * * *"
	// watchdogLead is how far before the first possible deadline the
	// watchdog starts.
	watchdogLead = 3 * time.Second
)

// BridgeConfig holds the Tasmota side settings.
type BridgeConfig struct {
	FullTopic  string
	Devices    []string
	TelePeriod time.Duration
}

// Components are the collaborators the bridge wires together.
type Components struct {
	Store     *panel.Store
	Bus       *panel.EventBus
	Renderer  *render.Renderer
	Items     items.Store
	Scheduler *scheduler.Scheduler
	Metrics   *metrics.Metrics
}

// Bridge owns the message-processing path. Inbound messages, timer callbacks
// and item-change refreshes all run on one goroutine.
type Bridge struct {
	transport Transport
	fullTopic tasmota.FullTopic
	devices   []string
	decoder   *tasmota.Decoder
	store     *panel.Store
	bus       *panel.EventBus
	renderer  *render.Renderer
	dispatch  *dispatch.Dispatcher
	items     items.Store
	sched     *scheduler.Scheduler
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	watched   map[string]bool

	work chan func()
	done chan struct{}

	mu       sync.Mutex
	closed   bool
	started  bool
	cancel   context.CancelFunc
	unsubs   []func()
	retained map[string]bool
}

// NewBridge creates a bridge. Start begins processing.
func NewBridge(t Transport, cfg BridgeConfig, c Components, logger *slog.Logger) (*Bridge, error) {
	if cfg.TelePeriod <= 0 {
		return nil, fmt.Errorf("telemetry period must be positive, got %s", cfg.TelePeriod)
	}
	ft := tasmota.NormalizeFullTopic(cfg.FullTopic)
	b := &Bridge{
		transport: t,
		fullTopic: ft,
		devices:   cfg.Devices,
		decoder:   tasmota.NewDecoder(ft),
		store:     c.Store,
		bus:       c.Bus,
		renderer:  c.Renderer,
		items:     c.Items,
		sched:     c.Scheduler,
		metrics:   c.Metrics,
		logger:    logger.With("component", "bridge"),
		now:       time.Now,
		watched:   make(map[string]bool),
		work:      make(chan func(), 256),
		done:      make(chan struct{}),
		retained:  make(map[string]bool),
	}
	d, err := dispatch.New(c.Store, c.Renderer, c.Items, b, c.Metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}
	b.dispatch = d
	for _, p := range c.Renderer.Document().ItemPaths() {
		b.watched[p] = true
	}
	return b, nil
}

// Dispatcher returns the panel event dispatcher.
func (b *Bridge) Dispatcher() *dispatch.Dispatcher { return b.dispatch }

// Start subscribes to the panel topics, arms the timers and runs the
// processing loop until ctx is done or Stop is called.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return fmt.Errorf("bridge already started")
	}
	b.started = true
	ctx, b.cancel = context.WithCancel(ctx)
	b.mu.Unlock()

	go b.loop(ctx)

	b.addUnsub(b.bus.On(panel.EventOnline, b.onPanelOnline))
	b.addUnsub(b.bus.On(panel.EventOffline, b.onPanelOffline))
	b.addUnsub(b.bus.On(panel.EventDiscovered, func(e panel.Event) { b.interview(e.Topic) }))
	if b.items != nil {
		b.addUnsub(b.items.Subscribe(b.onItemChange))
	}

	if err := b.armTimers(); err != nil {
		return err
	}

	subs := tasmota.Subscriptions(b.fullTopic, b.devices)
	if err := b.transport.Subscribe(subs, b.HandleMessage); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	b.logger.Info("bridge started", "full_topic", b.fullTopic, "devices", len(b.devices), "subscriptions", len(subs))
	return nil
}

// Stop cancels the timers and the processing loop. Later publishes are
// dropped.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	unsubs := b.unsubs
	b.unsubs = nil
	cancel := b.cancel
	started := b.started
	b.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	b.sched.Cancel(timerClock)
	b.sched.Cancel(timerDate)
	b.sched.Cancel(timerWatchdog)
	b.sched.CancelPrefix("panel:")
	if cancel != nil {
		cancel()
	}
	if started {
		<-b.done
	}
	b.logger.Info("bridge stopped")
}

func (b *Bridge) addUnsub(u func()) {
	b.mu.Lock()
	b.unsubs = append(b.unsubs, u)
	b.mu.Unlock()
}

func (b *Bridge) loop(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case fn := <-b.work:
			b.run(fn)
		case <-ctx.Done():
			return
		}
	}
}

// run executes fn, keeping a panic inside one message from stopping the loop.
func (b *Bridge) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic in message processing", "panic", r)
		}
	}()
	fn()
}

func (b *Bridge) enqueue(fn func()) {
	select {
	case b.work <- fn:
	case <-b.done:
	}
}

// HandleMessage queues one inbound message for processing.
func (b *Bridge) HandleMessage(topic string, payload []byte, retained bool) {
	payload = append([]byte(nil), payload...)
	b.enqueue(func() { b.process(topic, payload, retained) })
}

func (b *Bridge) process(topic string, payload []byte, retained bool) {
	events, err := b.decoder.Decode(topic, payload, retained)
	switch {
	case errors.Is(err, tasmota.ErrMalformedTopic):
		b.metrics.IncDropped("malformed_topic")
		b.logger.Warn("dropping message", "topic", topic, "err", err)
		return
	case err != nil:
		b.metrics.IncDropped("unhandled_payload")
		b.logger.Warn("dropping message", "topic", topic, "err", err)
		return
	case len(events) == 0:
		b.metrics.IncDropped("ignored")
		b.logger.Debug("message ignored", "topic", topic)
		return
	}

	for _, ev := range events {
		b.metrics.IncDecoded(ev.Kind())
		b.logger.Debug("decoded", "topic", topic, "kind", ev.Kind())
		b.apply(ev)
	}

	if t, err := b.fullTopic.Split(topic); err == nil && t.Prefix == tasmota.PrefixTele && t.Detail != "LWT" {
		b.store.ApplyOnline(tasmota.Origin{Device: t.Device, Detail: t.Detail}, true)
	}
}

func (b *Bridge) apply(ev tasmota.Event) {
	switch e := ev.(type) {
	case tasmota.LWT:
		b.store.ApplyOnline(e.Origin, e.Online)
	case tasmota.Status0:
		b.store.ApplyStatus0(e)
	case tasmota.CustomPanelEvent:
		b.dispatch.Handle(e.Origin, e.Raw)
	case tasmota.TelePeriod:
		if b.store.ApplyTelePeriod(e.Origin, e.Seconds) {
			want := int(b.store.TelePeriod() / time.Second)
			b.logger.Info("correcting telemetry period", "topic", e.Device, "reported", e.Seconds, "want", want)
			b.publishCommand(e.Device, "teleperiod", strconv.Itoa(want))
		}
	case tasmota.Power:
		b.store.ApplyRelay(e.Origin, e.Relays)
		if e.Retained {
			b.mu.Lock()
			b.retained[b.fullTopic.Build(tasmota.PrefixStat, e.Device, e.Detail)] = true
			b.mu.Unlock()
		}
	case tasmota.Wifi:
		b.store.ApplyWifi(e.Origin, e.Signal)
	case tasmota.Uptime:
		b.store.ApplyUptime(e.Origin, e.Value)
	case tasmota.UptimeSec:
		b.store.ApplyUptimeSec(e.Origin, e.Seconds)
	case tasmota.Sensor:
		b.store.ApplySensor(e.Origin, e.Groups)
	case tasmota.Info:
		b.store.ApplyInfo(e)
	case tasmota.Discovery:
		if ft := tasmota.NormalizeFullTopic(e.Config.FullTopic); ft != b.fullTopic {
			b.logger.Warn("panel uses a different full topic", "device", e.Config.Topic, "full_topic", e.Config.FullTopic, "configured", b.fullTopic)
		}
		b.store.ApplyDiscovery(e)
	case tasmota.DiscoverySensors:
		if _, ok := b.store.ApplyDiscoverySensors(e); !ok {
			b.logger.Debug("sensors for unknown discovery id", "device_id", e.DeviceID)
		}
	default:
		b.logger.Warn("unhandled event", "kind", ev.Kind())
	}
}

// Send publishes each command to the panel's CustomSend topic in order.
func (b *Bridge) Send(topic string, cmds ...string) {
	t := b.fullTopic.Build(tasmota.PrefixCmnd, topic, tasmota.DetailCustomSend)
	for _, c := range cmds {
		if b.publish(t, []byte(c), false) {
			b.metrics.IncPublished(tasmota.DetailCustomSend)
		}
	}
}

func (b *Bridge) publishCommand(device, detail, payload string) {
	if b.publish(b.fullTopic.Build(tasmota.PrefixCmnd, device, detail), []byte(payload), false) {
		b.metrics.IncPublished(detail)
	}
}

// publish drops messages once the bridge is stopped.
func (b *Bridge) publish(topic string, payload []byte, retained bool) bool {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		b.logger.Debug("publish after stop dropped", "topic", topic)
		return false
	}
	b.transport.Publish(topic, payload, retained)
	return true
}

// interview asks the device for its full status.
func (b *Bridge) interview(topic string) {
	b.logger.Debug("interviewing panel", "topic", topic)
	b.publishCommand(topic, "Status0", "")
}

// RetainedTopics lists the POWER topics a retained message arrived on.
func (b *Bridge) RetainedTopics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.retained))
	for t := range b.retained {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// CustomLog returns the last raw panel messages.
func (b *Bridge) CustomLog() []string { return b.decoder.CustomLog() }

// Simulate publishes a canned device message to the broker, as if device had
// sent it.
func (b *Bridge) Simulate(device, which string) error {
	return simulate(b.fullTopic, device, which, b.logger, func(m tasmota.Message) {
		b.publish(m.Topic, []byte(m.Payload), m.Retain)
	})
}

// Simulate publishes canned message which for device straight to t, without
// a bridge.
func Simulate(t Transport, fullTopic, device, which string, logger *slog.Logger) error {
	return simulate(tasmota.NormalizeFullTopic(fullTopic), device, which, logger.With("component", "simulate"), func(m tasmota.Message) {
		t.Publish(m.Topic, []byte(m.Payload), m.Retain)
	})
}

func simulate(ft tasmota.FullTopic, device, which string, logger *slog.Logger, publish func(tasmota.Message)) error {
	msgs, err := tasmota.SimulatedMessage(ft, device, which)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		logger.Info("simulating message", "topic", m.Topic, "payload", m.Payload)
		publish(m)
	}
	return nil
}

// RefreshPanel re-renders the panel's current page on the processing loop.
func (b *Bridge) RefreshPanel(topic string) {
	b.enqueue(func() { b.dispatch.Refresh(topic) })
}

// Timers lists the scheduled timer names.
func (b *Bridge) Timers() []string { return b.sched.Names() }
