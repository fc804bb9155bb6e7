package render

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"nspanel-bridge/internal/codec"
	"nspanel-bridge/internal/history"
	"nspanel-bridge/internal/icons"
	"nspanel-bridge/internal/items"
	"nspanel-bridge/internal/pageconfig"
)

// ThermoMode is one of the fixed thermostat operating modes.
type ThermoMode struct {
	Name  string
	Icon  string
	Color string
}

// ThermoModes are indexed by mode value minus one.
var ThermoModes = [4]ThermoMode{
	{"Comfort", "fire", "comfort"},
	{"Standby", "leaf", "standby"},
	{"Night", "bed", "night"},
	{"Frost", "snowflake", "frost"},
}

// ThermoModeIndex clamps a mode item value to 1..4.
func ThermoModeIndex(v any) int {
	f, ok := items.Float(v)
	n := int(f)
	if !ok || n < 1 || n > len(ThermoModes) {
		return 1
	}
	return n
}

var defaultThermoRange = codec.Range{Lo: 5, Hi: 30}

const defaultThermoStep = 0.5

func (r *Renderer) thermo(head string, entities []pageconfig.Entity) string {
	if len(entities) == 0 {
		r.logger.Warn("thermostat card without entity")
		return head
	}
	e := &entities[0]
	unit := e.Unit
	if unit == "" {
		unit = "°C"
	}
	step := e.Step
	if step <= 0 {
		step = defaultThermoStep
	}
	rng := e.Range(defaultThermoRange)

	target, _ := r.value(e)
	targetF, _ := items.Float(target)
	current, _ := r.get(e.CurrentItem)
	modeVal, _ := r.get(e.ModeItem)
	mode := ThermoModeIndex(modeVal)

	fields := []string{
		head,
		e.ID,
		sanitize(items.String(current)) + unit,
		strconv.Itoa(codec.Tenths(targetF)),
		r.locale.Label(ThermoModes[mode-1].Name),
		strconv.Itoa(codec.Tenths(rng.Lo)),
		strconv.Itoa(codec.Tenths(rng.Hi)),
		strconv.Itoa(codec.Tenths(step)),
	}
	for i, m := range ThermoModes {
		active := i+1 == mode
		color := r.colorName("", "disabled")
		if active {
			color = r.colorName("", m.Color)
		}
		fields = append(fields, icons.Icon(m.Icon), color, boolString(active), fmt.Sprintf("mode-%d", i+1))
	}
	fields = append(fields, r.locale.Label("Current"), r.locale.Label("State"), "", unit)
	return join(fields...)
}

// mediaPresets is the number of preset slots on the media card.
const mediaPresets = 6

func (r *Renderer) media(head string, entities []pageconfig.Entity) string {
	if len(entities) == 0 {
		r.logger.Warn("media card without entity")
		return head
	}
	e := &entities[0]
	v, _ := r.value(e)
	playing := items.Bool(v)
	title, _ := r.get(e.TitleItem)
	author, _ := r.get(e.AuthorItem)
	volume, _ := r.get(e.VolumeItem)

	playIcon := "play"
	if playing {
		playIcon = "pause"
	}
	shuffle := "disable"
	if e.ShuffleItem != "" {
		sv, _ := r.get(e.ShuffleItem)
		shuffle = r.colorName("", "off")
		if items.Bool(sv) {
			shuffle = r.colorName("", "on")
		}
	}

	fields := []string{
		head,
		e.ID,
		sanitize(items.String(title)),
		r.color(e.Color, white),
		sanitize(items.String(author)),
		r.color(e.Color, white),
		strconv.Itoa(r.percent(e, volume)),
		icons.Icon(playIcon),
		icons.Icon("shuffle"),
		shuffle,
	}
	presets := entities[1:]
	for i := 0; i < mediaPresets; i++ {
		if i < len(presets) {
			fields = append(fields, r.entitySegment(pageconfig.CardMedia, &presets[i]))
		} else {
			fields = append(fields, Delete)
		}
	}
	return join(fields...)
}

// alarmModes is the number of arm buttons on the alarm card.
const alarmModes = 4

// AlarmID is the target id of an alarm card.
func AlarmID(card *pageconfig.Card) string {
	if card.Key != "" {
		return card.Key
	}
	return "alarm"
}

// ActiveAlarmMode returns the 1-based index of the active mode, or 0.
func (r *Renderer) ActiveAlarmMode(entities []pageconfig.Entity) int {
	for i := range entities {
		if v, _ := r.value(&entities[i]); items.Bool(v) {
			return i + 1
		}
	}
	return 0
}

func (r *Renderer) alarm(head string, card *pageconfig.Card, entities []pageconfig.Entity) string {
	fields := []string{head, AlarmID(card)}
	numpad := "disable"
	for i := 0; i < alarmModes; i++ {
		if i < len(entities) {
			fields = append(fields, displayName(&entities[i]), fmt.Sprintf("alarm-mode%d", i+1))
			if entities[i].Password != "" {
				numpad = "enable"
			}
		} else {
			fields = append(fields, "", "")
		}
	}

	icon, color := "shield-off", r.colorName("", "disarmed")
	if n := r.ActiveAlarmMode(entities); n > 0 {
		icon = entities[n-1].Icon
		if icon == "" {
			icon = "shield-lock"
		}
		color = r.colorName(entities[n-1].Color, "armed")
	}
	fields = append(fields, icons.Icon(icon), color, numpad, "disable")
	return join(fields...)
}

// WifiQR is the payload of a WiFi credential QR code.
func WifiQR(ssid, password string) string {
	return fmt.Sprintf("WIFI:S:%s;T:WPA;P:%s;;", ssid, password)
}

func (r *Renderer) qr(head string, card *pageconfig.Card) string {
	ssid := join("text", "ssid", icons.Icon("wifi"), r.color("", white), r.locale.Label("SSID"), sanitize(card.SSID))
	pass := Delete
	if !card.HidePassword {
		pass = join("text", "password", icons.Icon("key"), r.color("", white), r.locale.Label("Password"), sanitize(card.Password))
	}
	return join(head, sanitize(WifiQR(card.SSID, card.Password)), ssid, pass)
}

func (r *Renderer) power(head string, entities []pageconfig.Entity) string {
	fields := []string{head}
	for i := range entities {
		e := &entities[i]
		v, _ := r.value(e)
		f, _ := items.Float(v)
		speed := 0
		if e.Max != nil && *e.Max > 0 {
			s, err := codec.Scale(math.Abs(f), codec.Range{Hi: *e.Max}, codec.Range{Hi: 10})
			if err == nil {
				speed = min(s, 10)
				if f < 0 {
					speed = -speed
				}
			}
		}
		icon := e.Icon
		if icon == "" {
			icon = "flash"
		}
		fields = append(fields, icons.Icon(icon), r.color(e.Color, white), displayName(e), sanitize(items.String(v)+e.Unit), strconv.Itoa(speed))
	}
	return join(fields...)
}

// chartTicks is the number of y-axis intervals and labeled x positions.
const chartTicks = 5

func (r *Renderer) chart(head string, entities []pageconfig.Entity) string {
	if len(entities) == 0 {
		r.logger.Warn("chart card without entity")
		return head
	}
	e := &entities[0]
	limit := e.Points
	if limit <= 0 || limit > history.MaxPoints {
		limit = history.MaxPoints
	}

	var points []history.Point
	if r.series != nil {
		var err error
		points, err = r.series.Series(e.ItemPath(), limit)
		if err != nil {
			r.logger.Warn("chart series", "item", e.ItemPath(), "error", err)
		}
	} else {
		r.logger.Debug("no history for chart", "item", e.ItemPath())
	}

	label := e.Name
	if label == "" {
		label = e.Unit
	}
	return join(head, r.color(e.Color, white), sanitize(label), r.ChartTicks(points), r.ChartValues(e.ID, points))
}

func seriesMax(points []history.Point) float64 {
	m := 0.0
	for _, p := range points {
		m = math.Max(m, p.Value)
	}
	return m
}

// ChartTicks renders the y-axis labels from zero to the series maximum.
func (r *Renderer) ChartTicks(points []history.Point) string {
	m := seriesMax(points)
	ticks := make([]string, 0, chartTicks+1)
	for i := 0; i <= chartTicks; i++ {
		ticks = append(ticks, strconv.FormatFloat(m*float64(i)/chartTicks, 'f', -1, 64))
	}
	return strings.Join(ticks, ":")
}

// ChartValues normalizes points onto 0..10 and labels every ceil(N/5)th
// point with its time. The label avoids ':' which separates points.
func (r *Renderer) ChartValues(entity string, points []history.Point) string {
	m := seriesMax(points)
	every := int(math.Ceil(float64(len(points)) / chartTicks))
	out := make([]string, 0, len(points))
	warned := false
	for i, p := range points {
		v := p.Value
		if v < 0 {
			if !warned {
				r.logger.Warn("negative chart value clamped to zero", "entity", entity, "value", v)
				warned = true
			}
			v = 0
		}
		scaled := 0
		if m > 0 {
			scaled, _ = codec.Scale(v, codec.Range{Hi: m}, codec.Range{Hi: 10})
		}
		s := strconv.Itoa(scaled)
		if every > 0 && i%every == 0 {
			s += "^" + r.locale.Format("%H.%M", p.Time)
		}
		out = append(out, s)
	}
	return strings.Join(out, ":")
}
