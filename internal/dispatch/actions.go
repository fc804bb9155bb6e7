package dispatch

import (
	"fmt"
	"strconv"
	"strings"

	"nspanel-bridge/internal/codec"
	"nspanel-bridge/internal/items"
	"nspanel-bridge/internal/pageconfig"
	"nspanel-bridge/internal/panel"
	"nspanel-bridge/internal/render"
	"nspanel-bridge/internal/tasmota"
)

// press is one buttonPress2 event resolved against the current page.
type press struct {
	origin tasmota.Origin
	target string
	action string
	args   []string
	card   *pageconfig.Card
	entity *pageconfig.Entity
}

func (p *press) topic() string { return p.origin.Device }

// arg returns the i-th optional value or "".
func (p *press) arg(i int) string {
	if i < len(p.args) {
		return p.args[i]
	}
	return ""
}

// actionFunc performs an action and reports whether the page should be
// re-rendered afterwards.
type actionFunc func(d *Dispatcher, p *press) bool

type action struct {
	fn     actionFunc
	entity bool // target must be an entity of the current page
}

var actions = map[string]action{
	"bNext": {fn: (*Dispatcher).next},
	"bPrev": {fn: (*Dispatcher).prev},
	"bHome": {fn: (*Dispatcher).home},
	"bUp":   {fn: (*Dispatcher).up},
	"bExit": {fn: (*Dispatcher).exit},

	"OnOff":  {fn: (*Dispatcher).onOff, entity: true},
	"button": {fn: (*Dispatcher).button, entity: true},

	"up":        {fn: (*Dispatcher).shutter, entity: true},
	"down":      {fn: (*Dispatcher).shutter, entity: true},
	"stop":      {fn: (*Dispatcher).shutter, entity: true},
	"tiltOpen":  {fn: (*Dispatcher).tilt, entity: true},
	"tiltClose": {fn: (*Dispatcher).tilt, entity: true},
	"tiltStop":  {fn: (*Dispatcher).tilt, entity: true},

	"brightnessSlider": {fn: (*Dispatcher).brightnessSlider, entity: true},
	"colorTempSlider":  {fn: (*Dispatcher).colorTempSlider, entity: true},
	"colorWheel":       {fn: (*Dispatcher).colorWheel, entity: true},
	"positionSlider":   {fn: (*Dispatcher).positionSlider, entity: true},
	"tiltSlider":       {fn: (*Dispatcher).tiltSlider, entity: true},
	"volumeSlider":     {fn: (*Dispatcher).volumeSlider, entity: true},
	"number-set":       {fn: (*Dispatcher).numberSet, entity: true},

	"tempUpd":     {fn: (*Dispatcher).tempUpd, entity: true},
	"hvac_action": {fn: (*Dispatcher).hvacAction, entity: true},

	"media-back":    {fn: (*Dispatcher).media, entity: true},
	"media-next":    {fn: (*Dispatcher).media, entity: true},
	"media-pause":   {fn: (*Dispatcher).media, entity: true},
	"media-shuffle": {fn: (*Dispatcher).media, entity: true},

	"timer-start":  {fn: (*Dispatcher).timer, entity: true},
	"timer-cancel": {fn: (*Dispatcher).timer, entity: true},
	"timer-finish": {fn: (*Dispatcher).timer, entity: true},
}

// prefixActions carry a parameter in the action tag itself.
var prefixActions = []struct {
	prefix string
	action action
}{
	{"alarm-mode", action{fn: (*Dispatcher).alarmMode}},
	{"mode-", action{fn: (*Dispatcher).mode, entity: true}},
}

// Vocabulary is every action tag the panel driver sends.
var Vocabulary = []string{
	"bNext", "bPrev", "bHome", "bUp", "bExit",
	"OnOff", "button", "up", "down", "stop", "tiltOpen", "tiltClose", "tiltStop",
	"brightnessSlider", "colorTempSlider", "colorWheel", "positionSlider", "tiltSlider", "volumeSlider", "number-set",
	"tempUpd", "hvac_action", "mode-1", "mode-input_sel", "alarm-mode1",
	"media-back", "media-next", "media-pause", "media-shuffle",
	"timer-start", "timer-cancel", "timer-finish",
}

func lookupAction(tag string) (action, bool) {
	if a, ok := actions[tag]; ok {
		return a, true
	}
	for _, pa := range prefixActions {
		if strings.HasPrefix(tag, pa.prefix) && len(tag) > len(pa.prefix) {
			return pa.action, true
		}
	}
	return action{}, false
}

func validateActions() error {
	for _, tag := range Vocabulary {
		a, ok := lookupAction(tag)
		if !ok || a.fn == nil {
			return errorf("no handler for action %q", tag)
		}
	}
	return nil
}

func (d *Dispatcher) buttonPress(origin tasmota.Origin, target, tag string, args []string) {
	topic := origin.Device
	d.store.Button(topic, panel.ButtonData{Target: target, Action: tag, Value: strings.Join(args, ",")})
	if key, ok := strings.CutPrefix(target, "navigate."); ok {
		d.navigate(topic, key)
		return
	}

	a, ok := lookupAction(tag)
	if !ok {
		d.logger.Warn("unknown action", "topic", topic, "target", target, "action", tag)
		return
	}
	p := &press{origin: origin, target: target, action: tag, args: args}
	if card, err := d.currentCard(topic); err == nil {
		p.card = card
	}
	if a.entity {
		if p.card == nil {
			d.logger.Warn("action on unknown page", "topic", topic, "action", tag)
			return
		}
		e, ok := render.FindEntity(p.card, target)
		if !ok {
			d.logger.Warn("entity not on current page", "topic", topic, "entity", target, "action", tag)
			return
		}
		p.entity = e
	}
	if target != "screensaver" {
		d.store.SetScreensaver(topic, false)
	}
	if a.fn(d, p) {
		d.Refresh(topic)
	}
}

// Navigation.

func (d *Dispatcher) next(p *press) bool {
	d.store.NextPage(p.topic(), d.renderer.Cards())
	d.ShowPage(p.topic())
	return false
}

func (d *Dispatcher) prev(p *press) bool {
	d.store.PrevPage(p.topic(), d.renderer.Cards())
	d.ShowPage(p.topic())
	return false
}

func (d *Dispatcher) home(p *press) bool {
	d.goTo(p.topic(), 0, "")
	return false
}

func (d *Dispatcher) up(p *press) bool {
	d.goTo(p.topic(), d.store.ParentPage(p.topic()), "")
	return false
}

func (d *Dispatcher) exit(p *press) bool {
	topic := p.topic()
	if p.target == "screensaver" {
		d.store.SetScreensaver(topic, false)
		d.ShowPage(topic)
		return false
	}
	// Leaving a popup returns to the card underneath.
	if _, ok := d.store.ActivePopup(topic); ok {
		d.ShowPage(topic)
		return false
	}
	if idx, _ := d.store.Page(topic); idx < 0 {
		return d.up(p)
	}
	d.goTo(topic, 0, "")
	return false
}

// Switching.

func (d *Dispatcher) onOff(p *press) bool {
	d.write(p.origin, p.action, p.entity.ItemPath(), p.arg(0) == "1")
	return true
}

func (d *Dispatcher) button(p *press) bool {
	e := p.entity
	switch e.Type {
	case "light", "switch", "fan", "input_boolean":
		cur, _ := d.get(e.ItemPath())
		d.write(p.origin, p.action, e.ItemPath(), !items.Bool(cur))
	default:
		d.write(p.origin, p.action, e.ItemPath(), true)
	}
	return true
}

func (d *Dispatcher) shutter(p *press) bool {
	e := p.entity
	if e.CommandItem != "" {
		d.write(p.origin, p.action, e.CommandItem, p.action)
		return true
	}
	rng := e.Range(codec.Percent)
	switch p.action {
	case "up":
		d.write(p.origin, p.action, e.ItemPath(), rng.Hi)
	case "down":
		d.write(p.origin, p.action, e.ItemPath(), rng.Lo)
	default:
		d.logger.Warn("stop needs a command item", "entity", e.ID)
	}
	return true
}

func (d *Dispatcher) tilt(p *press) bool {
	e := p.entity
	switch p.action {
	case "tiltOpen":
		d.write(p.origin, p.action, e.TiltItem, 100)
	case "tiltClose":
		d.write(p.origin, p.action, e.TiltItem, 0)
	default:
		if e.CommandItem == "" {
			d.logger.Warn("tiltStop needs a command item", "entity", e.ID)
			break
		}
		d.write(p.origin, p.action, e.CommandItem, p.action)
	}
	return true
}

// Sliders stream values while dragged and do not re-render.

// slider scales the 0..100 slider position into dst.
func (d *Dispatcher) slider(p *press, dst codec.Range) (int, bool) {
	v, err := strconv.ParseFloat(p.arg(0), 64)
	if err != nil {
		d.logger.Warn("bad slider value", "action", p.action, "value", p.arg(0))
		return 0, false
	}
	out, err := codec.Scale(v, codec.Percent, dst)
	if err != nil {
		d.logger.Warn("cannot scale slider", "action", p.action, "error", err)
		return 0, false
	}
	return out, true
}

func (d *Dispatcher) brightnessSlider(p *press) bool {
	if v, ok := d.slider(p, p.entity.Range(codec.Percent)); ok {
		d.write(p.origin, p.action, p.entity.BrightnessItem, v)
	}
	return false
}

func (d *Dispatcher) colorTempSlider(p *press) bool {
	ct := p.entity.ColorTempRange()
	if v, ok := d.slider(p, codec.Range{Lo: ct.Hi, Hi: ct.Lo}); ok {
		d.write(p.origin, p.action, p.entity.ColorTempItem, v)
	}
	return false
}

func (d *Dispatcher) colorWheel(p *press) bool {
	parts := strings.Split(p.arg(0), "|")
	if len(parts) != 3 {
		d.logger.Warn("bad color wheel value", "value", p.arg(0))
		return false
	}
	var xyw [3]float64
	for i, s := range parts {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			d.logger.Warn("bad color wheel value", "value", p.arg(0))
			return false
		}
		xyw[i] = f
	}
	c := codec.ColorWheelPosition(xyw[0], xyw[1], xyw[2]/2)
	d.write(p.origin, p.action, p.entity.ColorItem, fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B))
	return false
}

func (d *Dispatcher) positionSlider(p *press) bool {
	if v, ok := d.slider(p, p.entity.Range(codec.Percent)); ok {
		d.write(p.origin, p.action, p.entity.ItemPath(), v)
	}
	return false
}

func (d *Dispatcher) tiltSlider(p *press) bool {
	if v, ok := d.slider(p, codec.Percent); ok {
		d.write(p.origin, p.action, p.entity.TiltItem, v)
	}
	return false
}

func (d *Dispatcher) volumeSlider(p *press) bool {
	if v, ok := d.slider(p, p.entity.Range(codec.Percent)); ok {
		d.write(p.origin, p.action, p.entity.VolumeItem, v)
	}
	return false
}

// numberSet receives a value already inside the entity's range.
func (d *Dispatcher) numberSet(p *press) bool {
	v, err := strconv.ParseFloat(p.arg(0), 64)
	if err != nil {
		d.logger.Warn("bad number value", "entity", p.entity.ID, "value", p.arg(0))
		return false
	}
	d.write(p.origin, p.action, p.entity.ItemPath(), v)
	return false
}

// Thermostat.

// tempUpd carries the target temperature in tenths of a degree.
func (d *Dispatcher) tempUpd(p *press) bool {
	v, err := strconv.Atoi(p.arg(0))
	if err != nil {
		d.logger.Warn("bad temperature", "entity", p.entity.ID, "value", p.arg(0))
		return false
	}
	d.write(p.origin, p.action, p.entity.ItemPath(), float64(v)/10)
	return true
}

func (d *Dispatcher) hvacAction(p *press) bool {
	d.write(p.origin, p.action, p.entity.ModeItem, p.arg(0))
	return true
}

// mode handles mode-{n} thermostat buttons and mode-{kind},{index} option
// selects.
func (d *Dispatcher) mode(p *press) bool {
	e := p.entity
	suffix := strings.TrimPrefix(p.action, "mode-")
	if n, err := strconv.Atoi(suffix); err == nil {
		d.write(p.origin, p.action, e.ModeItem, render.ThermoModeIndex(n))
		return true
	}

	idx, err := strconv.Atoi(p.arg(0))
	if err != nil || idx < 0 || idx >= len(e.Options) {
		d.logger.Warn("option out of range", "entity", e.ID, "value", p.arg(0), "options", len(e.Options))
		return false
	}
	path := e.ModeItem
	if path == "" {
		path = e.ItemPath()
	}
	d.write(p.origin, p.action, path, e.Options[idx])
	return true
}

// Media.

func (d *Dispatcher) media(p *press) bool {
	e := p.entity
	switch p.action {
	case "media-pause":
		cur, _ := d.get(e.ItemPath())
		d.write(p.origin, p.action, e.ItemPath(), !items.Bool(cur))
	case "media-shuffle":
		cur, _ := d.get(e.ShuffleItem)
		d.write(p.origin, p.action, e.ShuffleItem, !items.Bool(cur))
	default:
		d.write(p.origin, p.action, e.CommandItem, strings.TrimPrefix(p.action, "media-"))
	}
	return true
}

// Timer.

func (d *Dispatcher) timer(p *press) bool {
	if p.action != "timer-start" {
		d.write(p.origin, p.action, p.entity.ItemPath(), 0)
		return true
	}
	secs, err := parseDuration(p.arg(0))
	if err != nil {
		d.logger.Warn("bad timer value", "entity", p.entity.ID, "value", p.arg(0))
		return false
	}
	d.write(p.origin, p.action, p.entity.ItemPath(), secs)
	return true
}

// parseDuration accepts "mm:ss" or plain seconds.
func parseDuration(s string) (int, error) {
	if m, sec, ok := strings.Cut(s, ":"); ok {
		mi, err := strconv.Atoi(m)
		if err != nil {
			return 0, err
		}
		si, err := strconv.Atoi(sec)
		if err != nil {
			return 0, err
		}
		return mi*60 + si, nil
	}
	return strconv.Atoi(s)
}

// Alarm.

// alarmMode activates mode N of an alarm card. Exactly one mode is active
// afterwards. A protected mode needs the matching code.
func (d *Dispatcher) alarmMode(p *press) bool {
	topic := p.topic()
	if p.card == nil || p.card.PageType != pageconfig.CardAlarm {
		d.logger.Warn("alarm action outside alarm card", "topic", topic, "action", p.action)
		return false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(p.action, "alarm-mode"))
	if err != nil || n < 1 || n > len(p.card.Entities) {
		d.logger.Warn("alarm mode out of range", "topic", topic, "action", p.action)
		return false
	}
	mode := &p.card.Entities[n-1]
	if mode.Password != "" && !passwordMatches(p.arg(0), mode.Password) {
		d.logger.Warn("alarm code mismatch", "topic", topic, "mode", mode.ID)
		d.ShowPage(topic)
		return false
	}
	for i := range p.card.Entities {
		d.write(p.origin, p.action, p.card.Entities[i].ItemPath(), i == n-1)
	}
	return true
}

// passwordMatches compares as strings and, failing that, as numbers so
// "0042" matches a stored 42.
func passwordMatches(code, secret string) bool {
	if code == secret {
		return true
	}
	a, errA := strconv.ParseFloat(strings.TrimSpace(code), 64)
	b, errB := strconv.ParseFloat(strings.TrimSpace(secret), 64)
	return errA == nil && errB == nil && a == b
}
