package mqtt

import (
	"time"

	"nspanel-bridge/internal/items"
	"nspanel-bridge/internal/panel"
)

// armTimers registers the global clock, date and watchdog timers. Callbacks
// are queued onto the processing loop.
func (b *Bridge) armTimers() error {
	if err := b.sched.Every(timerClock, clockInterval, clockFirst, func() { b.enqueue(b.sendTime) }); err != nil {
		return err
	}
	if err := b.sched.Cron(timerDate, dateSpec, func() { b.enqueue(b.sendDate) }); err != nil {
		return err
	}
	period := b.store.TelePeriod()
	first := period + panel.Grace - watchdogLead
	if first <= 0 {
		first = period
	}
	return b.sched.Every(timerWatchdog, period, first, func() { b.enqueue(b.watchdog) })
}

// watchdog sets panels offline whose telemetry deadline passed.
func (b *Bridge) watchdog() {
	if expired := b.store.ExpireStale(b.now()); len(expired) > 0 {
		b.logger.Info("panels timed out", "topics", expired)
	}
}

func (b *Bridge) sendTime() {
	cmd := b.renderer.Time(b.now())
	for _, topic := range b.store.OnlineTopics() {
		b.Send(topic, cmd)
	}
}

func (b *Bridge) sendDate() {
	cmd := b.renderer.Date(b.now())
	for _, topic := range b.store.OnlineTopics() {
		b.Send(topic, cmd)
	}
}

func panelTimer(topic, name string) string {
	return "panel:" + topic + ":" + name
}

// onPanelOnline interviews the panel and arms its weather refresh.
func (b *Bridge) onPanelOnline(e panel.Event) {
	b.interview(e.Topic)
	w := b.renderer.Document().Screensaver.Weather
	if w == nil {
		return
	}
	every := time.Duration(w.RefreshSeconds) * time.Second
	topic := e.Topic
	err := b.sched.Every(panelTimer(topic, "weather"), every, every, func() {
		b.enqueue(func() { b.refreshWeather(topic) })
	})
	if err != nil {
		b.logger.Warn("weather timer", "topic", topic, "err", err)
	}
}

// onPanelOffline cancels every timer of the panel.
func (b *Bridge) onPanelOffline(e panel.Event) {
	if n := b.sched.CancelPrefix(panelTimer(e.Topic, "")); n > 0 {
		b.logger.Debug("panel timers cancelled", "topic", e.Topic, "count", n)
	}
}

// refreshWeather pushes the weather line to a panel showing the screensaver.
func (b *Bridge) refreshWeather(topic string) {
	rec, ok := b.store.Get(topic)
	if !ok || !rec.Online || !rec.ScreensaverActive {
		return
	}
	if w, ok := b.renderer.RenderWeather(); ok {
		b.Send(topic, w)
	}
}

// onItemChange re-renders online panels when an item shown on a page
// changes. The bridge's own writes are skipped.
func (b *Bridge) onItemChange(c items.Change) {
	if c.Origin == panel.Origin || !b.watched[c.Path] {
		return
	}
	b.enqueue(func() {
		for _, topic := range b.store.OnlineTopics() {
			b.dispatch.Refresh(topic)
		}
	})
}
