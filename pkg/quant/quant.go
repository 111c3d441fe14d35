package quant

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Levels is the largest 8-bit code.
const Levels = 255

// Range is the closed interval a channel's scalars are mapped onto.
type Range struct {
	Min float32 `yaml:"min"`
	Max float32 `yaml:"max"`
}

// Validate reports whether the range can be used for quantization.
func (r Range) Validate() error {
	if math32.IsNaN(r.Min) || math32.IsNaN(r.Max) {
		return fmt.Errorf("range bounds must be numbers")
	}
	if r.Max <= r.Min {
		return fmt.Errorf("range max (%g) must be greater than min (%g)", r.Max, r.Min)
	}
	return nil
}

// Step is the value difference between two adjacent codes.
func (r Range) Step() float32 {
	return (r.Max - r.Min) / Levels
}

// Encode quantizes v into this range.
func (r Range) Encode(v float32) uint8 {
	return Encode(v, r.Min, r.Max)
}

// Decode maps code back into this range.
func (r Range) Decode(code uint8) float32 {
	return Decode(code, r.Min, r.Max)
}

// Encode maps v linearly from [min, max] onto 0..255, rounding to the nearest code.
// Values outside the range saturate at 0 or 255 and NaN encodes as 0.
func Encode(v, min, max float32) uint8 {
	if math32.IsNaN(v) || v <= min {
		return 0
	}
	if v >= max {
		return Levels
	}
	code := math32.Round((v - min) / (max - min) * Levels)
	// float32 rounding near max can still land one past the top code
	if code > Levels {
		code = Levels
	}
	return uint8(code)
}

// Decode is the inverse linear mapping of Encode.
func Decode(code uint8, min, max float32) float32 {
	return float32(code)/Levels*(max-min) + min
}
