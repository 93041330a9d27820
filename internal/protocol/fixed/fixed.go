// Package fixed converts between float64 and signed 16.16 fixed point.
package fixed

import "math"

const scale = 65536.0

// FromFloat converts v to 16.16 fixed point, rounding toward zero.
// Values outside the representable range saturate.
func FromFloat(v float64) int32 {
	if v >= 32768.0 {
		return math.MaxInt32
	}
	if v < -32768.0 {
		return math.MinInt32
	}
	return int32(v * scale)
}

// ToFloat converts a 16.16 fixed point value back to float64.
func ToFloat(v int32) float64 {
	return float64(v) / scale
}
