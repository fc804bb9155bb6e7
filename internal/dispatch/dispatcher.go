// Package dispatch interprets panel events and turns them into item writes,
// navigation and re-renders.
package dispatch

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"nspanel-bridge/internal/items"
	"nspanel-bridge/internal/metrics"
	"nspanel-bridge/internal/pageconfig"
	"nspanel-bridge/internal/panel"
	"nspanel-bridge/internal/render"
	"nspanel-bridge/internal/tasmota"
)

// Sender publishes commands to a panel in order.
type Sender interface {
	Send(topic string, cmds ...string)
}

// Dispatcher handles CustomRecv events of all panels. Calls for one panel
// must not run concurrently.
type Dispatcher struct {
	store    *panel.Store
	renderer *render.Renderer
	items    items.Store
	out      Sender
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a dispatcher and checks its action table.
func New(store *panel.Store, renderer *render.Renderer, itemStore items.Store, out Sender, m *metrics.Metrics, logger *slog.Logger) (*Dispatcher, error) {
	if err := validateActions(); err != nil {
		return nil, err
	}
	return &Dispatcher{
		store:    store,
		renderer: renderer,
		items:    itemStore,
		out:      out,
		metrics:  m,
		logger:   logger.With("component", "dispatch"),
		now:      time.Now,
	}, nil
}

// SetClock replaces the time source.
func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }

// Handle processes one raw CustomRecv string such as
// "event,buttonPress2,licht.eg,OnOff,1". Malformed input is logged and
// ignored.
func (d *Dispatcher) Handle(origin tasmota.Origin, raw string) {
	words := strings.Split(strings.TrimSpace(raw), ",")
	if len(words) < 2 || words[0] != "event" {
		d.logger.Warn("unexpected panel message", "topic", origin.Device, "payload", raw)
		return
	}
	topic := origin.Device
	d.logger.Debug("panel event", "topic", topic, "words", words)

	switch method := words[1]; method {
	case "startup":
		if len(words) < 4 {
			d.logger.Warn("startup without version and model", "topic", topic, "payload", raw)
			return
		}
		d.store.ApplyStartup(topic, words[2], words[3])
		d.logger.Info("panel startup", "topic", topic, "version", words[2], "model", words[3])
		d.out.Send(topic, d.renderer.RenderStartup(d.now())...)
		d.ShowScreensaver(topic)

	case "sleepReached":
		d.ShowScreensaver(topic)

	case "screensaverOpen":
		d.store.SetScreensaver(topic, true)
		d.sendDeduped(topic, d.renderer.RenderScreensaver(), true)

	case "pageOpenDetail":
		if len(words) < 4 {
			d.logger.Warn("pageOpenDetail without entity", "topic", topic, "payload", raw)
			return
		}
		d.openDetail(topic, words[2], words[3])

	case "buttonPress2":
		if len(words) < 4 {
			d.logger.Warn("buttonPress2 without action", "topic", topic, "payload", raw)
			return
		}
		d.buttonPress(origin, words[2], words[3], words[4:])

	case "button1", "button2":
		d.store.SetScreensaver(topic, false)
		d.ShowPage(topic)

	default:
		d.logger.Warn("unknown panel event", "topic", topic, "event", method)
	}
}

// ShowPage switches the panel to its current page and sends it in full.
// An open popup is closed by this.
func (d *Dispatcher) ShowPage(topic string) {
	d.store.ClosePopup(topic)
	rec, _ := d.store.Get(topic)
	page, err := d.renderer.RenderPage(rec.CurrentPage, rec.Subpage, rec.PanelModel)
	if err != nil {
		d.logger.Warn("render page", "topic", topic, "page", rec.CurrentPage, "error", err)
		return
	}
	d.out.Send(topic, page.PageTypeCommand())
	d.sendDeduped(topic, page.Body, true)
}

// Refresh re-sends whatever changed on the panel's current screen: the
// screensaver, the open popup or the current page.
func (d *Dispatcher) Refresh(topic string) {
	rec, ok := d.store.Get(topic)
	if !ok {
		return
	}
	if rec.ScreensaverActive {
		d.sendDeduped(topic, d.renderer.RenderScreensaver(), false)
		return
	}
	if rec.Popup != nil {
		d.refreshPopup(topic, *rec.Popup)
		return
	}
	page, err := d.renderer.RenderPage(rec.CurrentPage, rec.Subpage, rec.PanelModel)
	if err != nil {
		d.logger.Warn("render page", "topic", topic, "page", rec.CurrentPage, "error", err)
		return
	}
	d.sendDeduped(topic, page.Body, false)
}

// ShowScreensaver enters the screensaver and sends its content in full.
func (d *Dispatcher) ShowScreensaver(topic string) {
	d.store.SetScreensaver(topic, true)
	d.out.Send(topic, render.ScreensaverPageType)
	d.sendDeduped(topic, d.renderer.RenderScreensaver(), true)
}

func (d *Dispatcher) sendDeduped(topic string, cmds []string, force bool) {
	out := d.store.Dedup(topic, cmds, force)
	d.metrics.AddDeduped(len(cmds) - len(out))
	if len(out) > 0 {
		d.out.Send(topic, out...)
	}
}

// goTo moves to a page and shows it.
func (d *Dispatcher) goTo(topic string, idx int, subpage string) {
	d.store.SetPage(topic, idx, subpage)
	d.ShowPage(topic)
}

func (d *Dispatcher) currentCard(topic string) (*pageconfig.Card, error) {
	idx, subpage := d.store.Page(topic)
	return d.renderer.Card(idx, subpage)
}

func (d *Dispatcher) openDetail(topic, kind, id string) {
	card, err := d.currentCard(topic)
	if err != nil {
		d.logger.Warn("detail on unknown page", "topic", topic, "error", err)
		return
	}
	e, ok := render.FindEntity(card, id)
	if !ok {
		d.logger.Warn("detail for unknown entity", "topic", topic, "entity", id)
		return
	}
	cmd, err := d.renderer.RenderDetail(kind, e)
	if err != nil {
		d.logger.Warn("render detail", "topic", topic, "entity", id, "error", err)
		return
	}
	d.store.OpenPopup(topic, kind, id, cmd)
	// The popup covers the card; its body is resent in full afterwards.
	d.store.ClearDedup(topic)
	d.out.Send(topic, cmd)
}

func (d *Dispatcher) refreshPopup(topic string, pop panel.Popup) {
	card, err := d.currentCard(topic)
	if err != nil {
		d.logger.Warn("popup on unknown page", "topic", topic, "error", err)
		return
	}
	e, ok := render.FindEntity(card, pop.Entity)
	if !ok {
		d.logger.Warn("popup entity gone", "topic", topic, "entity", pop.Entity)
		return
	}
	cmd, err := d.renderer.RenderDetail(pop.Kind, e)
	if err != nil {
		d.logger.Warn("render detail", "topic", topic, "entity", pop.Entity, "error", err)
		return
	}
	if d.store.DedupPopup(topic, cmd) {
		d.out.Send(topic, cmd)
		return
	}
	d.metrics.AddDeduped(1)
}

// navigate handles navigate.{key} targets: sub-pages first, then card keys.
func (d *Dispatcher) navigate(topic, key string) {
	if _, ok := d.renderer.Document().Subpages[key]; ok {
		d.goTo(topic, panel.PageSubpage, key)
		return
	}
	if idx := d.renderer.Document().CardIndex(key); idx >= 0 {
		d.goTo(topic, idx, "")
		return
	}
	d.logger.Warn("navigate to unknown page", "topic", topic, "target", key)
}

// write sets an item on behalf of a panel. Missing bindings are skipped.
func (d *Dispatcher) write(origin tasmota.Origin, action, path string, value any) bool {
	if path == "" {
		d.logger.Warn("no item bound, write skipped", "topic", origin.Device, "action", action)
		return false
	}
	if d.items == nil {
		return false
	}
	if err := d.items.Set(path, value, panel.Origin, origin.Source()); err != nil {
		d.logger.Warn("item write failed", "item", path, "action", action, "error", err)
		return false
	}
	d.metrics.IncItemWrite(action)
	d.logger.Debug("item written", "item", path, "value", value, "action", action)
	return true
}

func (d *Dispatcher) get(path string) (any, bool) {
	if path == "" || d.items == nil {
		return nil, false
	}
	return d.items.Get(path)
}

func errorf(format string, args ...any) error {
	return fmt.Errorf("dispatch: "+format, args...)
}
