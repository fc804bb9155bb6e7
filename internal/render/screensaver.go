package render

import (
	"strings"

	"nspanel-bridge/internal/codec"
	"nspanel-bridge/internal/icons"
	"nspanel-bridge/internal/items"
	"nspanel-bridge/internal/pageconfig"
)

// ScreensaverPageType switches the panel to the screensaver.
const ScreensaverPageType = "pageType~screensaver"

// screensaverColors is the order of the color~ command fields.
var screensaverColors = []struct {
	key string
	def string
}{
	{"background", "black"},
	{"time", "white"},
	{"date", "white"},
	{"weather_icon", "white"},
	{"main_text", "white"},
	{"forecast_text", "white"},
	{"status", "white"},
}

// RenderScreensaver renders the screensaver content without the pageType
// switch: notification, weather, status icons and colors.
func (r *Renderer) RenderScreensaver() []string {
	ss := r.doc.Screensaver
	out := []string{join("notify", ss.Heading, ss.Text)}
	if w, ok := r.RenderWeather(); ok {
		out = append(out, w)
	}
	out = append(out, r.RenderStatus(), r.RenderColors())
	return out
}

// RenderWeather renders weatherUpdate from the configured weather items.
func (r *Renderer) RenderWeather() (string, bool) {
	w := r.doc.Screensaver.Weather
	if w == nil {
		return "", false
	}
	isDay := true
	if v, ok := r.get(w.IsDayItem); ok {
		isDay = items.Bool(v)
	}
	color := r.colorName(r.doc.Screensaver.Colors["weather_icon"], "white")

	cond, _ := r.get(w.ConditionItem)
	temp, _ := r.get(w.TemperatureItem)
	fields := []string{
		"weatherUpdate",
		icons.Icon(icons.ConditionIcon(condition(cond, isDay))),
		color,
		sanitize(items.String(temp) + w.Unit),
	}
	for _, f := range w.Forecast {
		fc, _ := r.get(f.ConditionItem)
		fv, _ := r.get(f.ValueItem)
		fields = append(fields,
			icons.Icon(icons.ConditionIcon(condition(fc, true))),
			color,
			sanitize(f.Label),
			sanitize(items.String(fv)+f.Unit),
		)
	}
	return join(fields...), true
}

// condition accepts a numeric weather code or a condition name.
func condition(v any, isDay bool) codec.Condition {
	if v == nil {
		return ""
	}
	if f, ok := items.Float(v); ok {
		return codec.WeatherCondition(int(f), isDay)
	}
	return codec.Condition(strings.ToLower(items.String(v)))
}

// RenderStatus renders the two screensaver status icons.
func (r *Renderer) RenderStatus() string {
	fields := []string{"statusUpdate"}
	for i := 0; i < 2; i++ {
		if i >= len(r.doc.Screensaver.StatusIcons) {
			fields = append(fields, "", "")
			continue
		}
		fields = append(fields, r.statusIcon(&r.doc.Screensaver.StatusIcons[i])...)
	}
	return join(fields...)
}

func (r *Renderer) statusIcon(s *pageconfig.StatusIcon) []string {
	v, _ := r.get(s.Item)
	if items.Bool(v) {
		return []string{icons.Icon(s.Icon), r.colorName(s.Color, "on")}
	}
	if s.IconOff == "" {
		return []string{"", r.colorName(s.ColorOff, "off")}
	}
	return []string{icons.Icon(s.IconOff), r.colorName(s.ColorOff, "off")}
}

// RenderColors renders the screensaver color scheme.
func (r *Renderer) RenderColors() string {
	fields := []string{"color"}
	for _, c := range screensaverColors {
		fields = append(fields, r.colorName(r.doc.Screensaver.Colors[c.key], c.def))
	}
	return join(fields...)
}
