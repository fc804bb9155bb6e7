package codec

import (
	"errors"
	"testing"
)

func TestRGB565(t *testing.T) {
	tests := []struct {
		name string
		in   RGB
		want uint16
	}{
		{"red", RGB{255, 0, 0}, 0xF800},
		{"green", RGB{0, 255, 0}, 0x07E0},
		{"blue", RGB{0, 0, 255}, 0x001F},
		{"white", RGB{255, 255, 255}, 0xFFFF},
		{"black", RGB{0, 0, 0}, 0},
		{"panel background", RGB{24, 28, 24}, 6371},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RGB565(tt.in); got != tt.want {
				t.Errorf("RGB565(%v) = %#04x, want %#04x", tt.in, got, tt.want)
			}
		})
	}
}

func TestScale(t *testing.T) {
	tests := []struct {
		name     string
		v        float64
		src, dst Range
		want     int
	}{
		{"identity", 29, Percent, Percent, 29},
		{"percent to byte", 50, Percent, Range{0, 255}, 127},
		{"top", 100, Percent, Range{0, 255}, 255},
		{"offset dst", 0, Percent, Range{10, 30}, 10},
		{"inverted dst", 100, Percent, Range{500, 153}, 153},
		{"inverted dst mid", 50, Percent, Range{500, 153}, 326},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Scale(tt.v, tt.src, tt.dst)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Scale(%v) = %d, want %d", tt.v, got, tt.want)
			}
		})
	}
}

func TestScaleDegenerate(t *testing.T) {
	_, err := Scale(5, Range{3, 3}, Percent)
	if !errors.Is(err, ErrDegenerateRange) {
		t.Fatalf("err = %v, want ErrDegenerateRange", err)
	}
}

func TestScaleRoundTrip(t *testing.T) {
	a := Percent
	b := Range{0, 255}
	for v := 0; v <= 100; v++ {
		fwd, err := Scale(float64(v), a, b)
		if err != nil {
			t.Fatal(err)
		}
		back, err := Scale(float64(fwd), b, a)
		if err != nil {
			t.Fatal(err)
		}
		if d := back - v; d < -1 || d > 1 {
			t.Errorf("round trip %d -> %d -> %d", v, fwd, back)
		}
	}
}

func TestTenths(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{21.5, 215},
		{21.55, 215},
		{0.3, 3},
		{7, 70},
		{-5.5, -55},
	}
	for _, tt := range tests {
		if got := Tenths(tt.in); got != tt.want {
			t.Errorf("Tenths(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestHSVToRGB(t *testing.T) {
	tests := []struct {
		h, s, v float64
		want    RGB
	}{
		{0, 1, 1, RGB{255, 0, 0}},
		{120, 1, 1, RGB{0, 255, 0}},
		{240, 1, 1, RGB{0, 0, 255}},
		{90, 1, 1, RGB{128, 255, 0}},
		{360, 1, 1, RGB{255, 0, 0}},
		{0, 0, 1, RGB{255, 255, 255}},
		{200, 0.5, 0, RGB{0, 0, 0}},
	}
	for _, tt := range tests {
		if got := HSVToRGB(tt.h, tt.s, tt.v); got != tt.want {
			t.Errorf("HSVToRGB(%v,%v,%v) = %v, want %v", tt.h, tt.s, tt.v, got, tt.want)
		}
	}
}

func TestColorWheelPosition(t *testing.T) {
	const r = 160
	tests := []struct {
		name string
		x, y float64
		want RGB
	}{
		{"center is white", r, r, RGB{255, 255, 255}},
		{"right edge is red", 2 * r, r, RGB{255, 0, 0}},
		{"left edge is cyan", 0, r, RGB{0, 255, 255}},
		{"outside clamps saturation", 3 * r, r, RGB{255, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ColorWheelPosition(tt.x, tt.y, r); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWeatherCondition(t *testing.T) {
	tests := []struct {
		code  int
		isDay bool
		want  Condition
	}{
		{800, true, ConditionSunny},
		{800, false, ConditionClearNight},
		{201, true, ConditionLightningRainy},
		{211, true, ConditionLightning},
		{310, true, ConditionRainy},
		{522, true, ConditionPouring},
		{511, false, ConditionSnowyRainy},
		{601, true, ConditionSnowy},
		{741, true, ConditionFog},
		{802, true, ConditionPartlyCloudy},
		{804, false, ConditionCloudy},
		{906, true, ConditionHail},
		{1234, true, ConditionExceptional},
	}
	for _, tt := range tests {
		if got := WeatherCondition(tt.code, tt.isDay); got != tt.want {
			t.Errorf("WeatherCondition(%d, %v) = %q, want %q", tt.code, tt.isDay, got, tt.want)
		}
	}
}
