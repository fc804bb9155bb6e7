package codec

import (
	"errors"
	"fmt"
	"math"
)

// ErrDegenerateRange is returned when a source range has zero width.
var ErrDegenerateRange = errors.New("degenerate range")

// floorEpsilon absorbs float noise such as 0.29*100 == 28.999999999999996.
const floorEpsilon = 1e-9

// Range is a closed numeric interval. Lo may be greater than Hi for
// inverted scales (e.g. color temperature).
type Range struct {
	Lo float64 `yaml:"lo" json:"lo"`
	Hi float64 `yaml:"hi" json:"hi"`
}

// Width returns Hi - Lo.
func (r Range) Width() float64 { return r.Hi - r.Lo }

// Degenerate reports whether the range has zero width.
func (r Range) Degenerate() bool { return r.Hi == r.Lo }

// Percent is the 0..100 range sliders on the panel report in.
var Percent = Range{Lo: 0, Hi: 100}

// Scale maps value linearly from src onto dst, truncating toward the lower
// end: dst.Lo + floor((value-src.Lo)/(src.Hi-src.Lo) * (dst.Hi-dst.Lo)).
func Scale(value float64, src, dst Range) (int, error) {
	if src.Degenerate() {
		return 0, fmt.Errorf("scale %v from [%v,%v]: %w", value, src.Lo, src.Hi, ErrDegenerateRange)
	}
	offset := (value - src.Lo) / src.Width() * dst.Width()
	return int(dst.Lo) + int(math.Floor(offset+floorEpsilon)), nil
}

// Tenths converts a temperature to the integer tenths the thermostat page
// transmits: multiply by 10 and truncate.
func Tenths(v float64) int {
	return int(math.Trunc(v*10 + math.Copysign(floorEpsilon, v)))
}
