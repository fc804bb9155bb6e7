package render

import (
	"fmt"
	"strconv"
	"strings"

	"nspanel-bridge/internal/codec"
	"nspanel-bridge/internal/icons"
	"nspanel-bridge/internal/items"
	"nspanel-bridge/internal/pageconfig"
)

// Popup kinds the panel requests with pageOpenDetail.
const (
	PopupLight   = "popupLight"
	PopupShutter = "popupShutter"
	PopupThermo  = "popupThermo"
	PopupInSel   = "popupInSel"
	PopupTimer   = "popupTimer"
	PopupFan     = "popupFan"
)

// RenderDetail renders the detail overlay of entity e.
func (r *Renderer) RenderDetail(kind string, e *pageconfig.Entity) (string, error) {
	switch kind {
	case PopupLight:
		return r.lightDetail(e), nil
	case PopupShutter:
		return r.shutterDetail(e), nil
	case PopupThermo:
		return r.thermoDetail(e), nil
	case PopupInSel:
		return r.inputSelectDetail(e), nil
	case PopupTimer:
		return r.timerDetail(e), nil
	case PopupFan:
		return r.fanDetail(e), nil
	}
	return "", fmt.Errorf("unknown popup %q", kind)
}

func (r *Renderer) lightDetail(e *pageconfig.Entity) string {
	v, _ := r.value(e)
	on := items.Bool(v)

	brightness := "disable"
	if bv, ok := r.get(e.BrightnessItem); ok {
		brightness = strconv.Itoa(r.percent(e, bv))
	}

	colorTemp := "disable"
	if cv, ok := r.get(e.ColorTempItem); ok {
		if f, ok := items.Float(cv); ok {
			ct := e.ColorTempRange()
			if p, err := codec.Scale(f, codec.Range{Lo: ct.Hi, Hi: ct.Lo}, codec.Percent); err == nil {
				colorTemp = strconv.Itoa(p)
			}
		}
	}

	colorMode := "disable"
	iconColor := r.toggleColor(e, on)
	if e.ColorItem != "" {
		colorMode = "enable"
		if cv, ok := r.get(e.ColorItem); ok && on {
			if c, ok := icons.Color(items.String(cv)); ok {
				iconColor = strconv.Itoa(int(codec.RGB565(c)))
			}
		}
	}

	return join("entityUpdateDetail", e.ID, "", iconColor, boolString(on), brightness, colorTemp, colorMode,
		r.locale.Label("Color"), r.locale.Label("Temperature"), r.locale.Label("Brightness"))
}

func (r *Renderer) shutterDetail(e *pageconfig.Entity) string {
	v, _ := r.value(e)
	pos := r.percent(e, v)
	buttons := strings.Split(r.shutterButtons(e, v), "|")

	tilt := "disable"
	if tv, ok := r.get(e.TiltItem); ok {
		if f, ok := items.Float(tv); ok {
			tilt = strconv.Itoa(int(f))
		}
	}
	fields := []string{"entityUpdateDetail", e.ID, strconv.Itoa(pos), fmt.Sprintf("%s: %d%%", r.locale.Label("Position"), pos), r.locale.Label("Position")}
	fields = append(fields, buttons...)
	fields = append(fields, r.locale.Label("Tilt"), tilt)
	return join(fields...)
}

func (r *Renderer) thermoDetail(e *pageconfig.Entity) string {
	mv, _ := r.get(e.ModeItem)
	current := items.String(mv)
	if len(e.Options) > 0 {
		if f, ok := items.Float(mv); ok {
			if n := int(f); n >= 1 && n <= len(e.Options) {
				current = e.Options[n-1]
			}
		}
	} else {
		n := ThermoModeIndex(mv)
		current = r.locale.Label(ThermoModes[n-1].Name)
	}
	options := e.Options
	if len(options) == 0 {
		for _, m := range ThermoModes {
			options = append(options, r.locale.Label(m.Name))
		}
	}
	icon := e.Icon
	if icon == "" {
		icon = "thermometer"
	}
	return join("entityUpdateDetail", e.ID, icons.Icon(icon), r.color(e.Color, white),
		r.locale.Label("Mode"), sanitize(current), optionList(options))
}

func (r *Renderer) inputSelectDetail(e *pageconfig.Entity) string {
	v, _ := r.value(e)
	return join("entityUpdateDetail", e.ID, "", r.color(e.Color, white), "input_sel", sanitize(items.String(v)), optionList(e.Options))
}

func (r *Renderer) timerDetail(e *pageconfig.Entity) string {
	v, _ := r.value(e)
	secs, _ := items.Float(v)
	remaining := max(int(secs), 0)
	editable := "0"
	if remaining == 0 {
		editable = "1"
	}
	return join("entityUpdateDetail", e.ID, "", r.color(e.Color, white), e.ID,
		fmt.Sprintf("%02d:%02d", remaining/60, remaining%60), editable,
		r.locale.Label("Start"), r.locale.Label("Cancel"), r.locale.Label("Finish"))
}

func (r *Renderer) fanDetail(e *pageconfig.Entity) string {
	v, _ := r.value(e)
	on := items.Bool(v)
	rng := e.Range(codec.Range{Lo: 0, Hi: 4})
	speed := 0
	if sv, ok := r.get(e.SpeedItem); ok {
		if f, ok := items.Float(sv); ok {
			speed = int(f)
		}
	}
	preset, _ := r.get(e.ModeItem)
	return join("entityUpdateDetail", e.ID, "", r.toggleColor(e, on), boolString(on),
		strconv.Itoa(speed), formatNumber(rng.Hi), r.locale.Label("Speed"), sanitize(items.String(preset)), optionList(e.Options))
}

// optionList joins select options with the panel's '?' separator.
func optionList(options []string) string {
	out := make([]string, 0, len(options))
	for _, o := range options {
		out = append(out, sanitize(strings.ReplaceAll(o, "?", "")))
	}
	return strings.Join(out, "?")
}
