// Package icons maps icon and color names to the glyphs and colors the panel
// font and firmware understand.
package icons

import (
	"strconv"
	"strings"

	"nspanel-bridge/internal/codec"
)

// Fallback is the glyph name used when a lookup misses.
const Fallback = "help-circle-outline"

// mdi holds Material Design Icons codepoints. The panel font packs them into
// the BMP private use area starting at U+E000.
var mdi = map[string]rune{
	"alert-circle-outline":    0xF05D6,
	"arrow-down-bold":         0xF072E,
	"arrow-left-bold":         0xF0731,
	"arrow-right-bold":        0xF0734,
	"arrow-up-bold":           0xF0737,
	"bed":                     0xF02E3,
	"chart-bar":               0xF0128,
	"checkbox-blank-circle":   0xF0130,
	"fan":                     0xF0210,
	"fan-off":                 0xF081D,
	"fire":                    0xF0238,
	"flash":                   0xF0241,
	"gesture-tap-button":      0xF12A8,
	"help-circle-outline":     0xF0625,
	"home":                    0xF02DC,
	"key":                     0xF0306,
	"leaf":                    0xF032A,
	"lightbulb":               0xF0335,
	"lightbulb-outline":       0xF0336,
	"pause":                   0xF03E4,
	"play":                    0xF040A,
	"power":                   0xF0425,
	"qrcode":                  0xF0432,
	"shield-home":             0xF068A,
	"shield-lock":             0xF099D,
	"shield-off":              0xF099E,
	"shield-airplane":         0xF06BB,
	"shuffle":                 0xF049D,
	"skip-next":               0xF04AD,
	"skip-previous":           0xF04AE,
	"snowflake":               0xF0717,
	"sofa":                    0xF04B9,
	"speaker":                 0xF04C3,
	"stop":                    0xF04DB,
	"thermometer":             0xF050F,
	"timer-outline":           0xF051B,
	"toggle-switch":           0xF0521,
	"toggle-switch-off":       0xF0A19,
	"water-percent":           0xF058E,
	"weather-cloudy":          0xF0590,
	"weather-fog":             0xF0591,
	"weather-hail":            0xF0592,
	"weather-lightning":       0xF0593,
	"weather-lightning-rainy": 0xF067E,
	"weather-night":           0xF0594,
	"weather-partly-cloudy":   0xF0595,
	"weather-pouring":         0xF0596,
	"weather-rainy":           0xF0597,
	"weather-snowy":           0xF0598,
	"weather-snowy-rainy":     0xF067F,
	"weather-sunny":           0xF0599,
	"weather-windy":           0xF059D,
	"weather-windy-variant":   0xF059E,
	"wifi":                    0xF05A9,
	"window-shutter":          0xF111B,
	"window-shutter-open":     0xF111C,
}

// Lookup returns the panel glyph for an icon name. A name that is already a
// single glyph is passed through.
func Lookup(name string) (string, bool) {
	name = strings.TrimPrefix(name, "mdi:")
	if cp, ok := mdi[name]; ok {
		return string(cp - 0xF0001 + 0xE000), true
	}
	if r := []rune(name); len(r) == 1 && r[0] >= 0xE000 && r[0] <= 0xF8FF {
		return name, true
	}
	return "", false
}

// Icon is Lookup with the fallback glyph on a miss.
func Icon(name string) string {
	if g, ok := Lookup(name); ok {
		return g
	}
	g, _ := Lookup(Fallback)
	return g
}

// ConditionIcon returns the icon name for a weather condition.
func ConditionIcon(c codec.Condition) string {
	switch c {
	case codec.ConditionClearNight:
		return "weather-night"
	case codec.ConditionPartlyCloudy:
		return "weather-partly-cloudy"
	case codec.ConditionExceptional:
		return "alert-circle-outline"
	case "":
		return Fallback
	}
	return "weather-" + string(c)
}

var colors = map[string]codec.RGB{
	"black":    {R: 0, G: 0, B: 0},
	"white":    {R: 255, G: 255, B: 255},
	"red":      {R: 255, G: 0, B: 0},
	"green":    {R: 0, G: 255, B: 0},
	"blue":     {R: 0, G: 0, B: 255},
	"yellow":   {R: 255, G: 255, B: 0},
	"orange":   {R: 255, G: 165, B: 0},
	"grey":     {R: 128, G: 128, B: 128},
	"on":       {R: 253, G: 216, B: 53},
	"off":      {R: 68, G: 115, B: 158},
	"disabled": {R: 117, G: 117, B: 117},
	"comfort":  {R: 255, G: 167, B: 38},
	"standby":  {R: 100, G: 181, B: 246},
	"night":    {R: 126, G: 87, B: 194},
	"frost":    {R: 0, G: 188, B: 212},
	"armed":    {R: 223, G: 76, B: 30},
	"disarmed": {R: 13, G: 160, B: 53},
}

// Color resolves a color name or a #rrggbb literal.
func Color(name string) (codec.RGB, bool) {
	if c, ok := colors[strings.ToLower(name)]; ok {
		return c, true
	}
	if len(name) == 7 && name[0] == '#' {
		v, err := strconv.ParseUint(name[1:], 16, 32)
		if err != nil {
			return codec.RGB{}, false
		}
		return codec.RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, true
	}
	return codec.RGB{}, false
}

// Color565 resolves a color name to its 565 value, falling back to def.
func Color565(name string, def codec.RGB) uint16 {
	if c, ok := Color(name); ok {
		return codec.RGB565(c)
	}
	return codec.RGB565(def)
}
