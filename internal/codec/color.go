// Package codec holds the pure numeric encodings of the panel wire protocol.
package codec

import (
	"math"
)

// RGB is an 8-bit per channel color.
type RGB struct {
	R uint8 `yaml:"r" json:"r"`
	G uint8 `yaml:"g" json:"g"`
	B uint8 `yaml:"b" json:"b"`
}

// RGB565 packs a color into the 16-bit layout the panel firmware expects:
// 5 bits red, 6 bits green, 5 bits blue.
func RGB565(c RGB) uint16 {
	return uint16(c.R>>3)<<11 | uint16(c.G>>2)<<5 | uint16(c.B>>3)
}

// HSVToRGB converts hue (degrees), saturation and value (both 0..1) to RGB.
// Each channel is rounded to the nearest integer.
func HSVToRGB(h, s, v float64) RGB {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	s = clamp01(s)
	v = clamp01(v)

	sector := math.Floor(h / 60)
	f := h/60 - sector
	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)

	var r, g, b float64
	switch int(sector) % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return RGB{R: channel(r), G: channel(g), B: channel(b)}
}

// ColorWheelPosition maps a touch position on the panel's color wheel to a
// color. The wheel is a disk of the given radius centered at (radius, radius)
// in screen coordinates (y grows downwards).
func ColorWheelPosition(x, y, radius float64) RGB {
	if radius <= 0 {
		return RGB{R: 255, G: 255, B: 255}
	}
	nx := (x - radius) / radius
	ny := (radius - y) / radius
	sat := math.Min(math.Hypot(nx, ny), 1)
	hue := math.Atan2(ny, nx) * 180 / math.Pi
	if hue < 0 {
		hue += 360
	}
	return HSVToRGB(hue, sat, 1)
}

func channel(f float64) uint8 {
	return uint8(math.Round(clamp01(f) * 255))
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
