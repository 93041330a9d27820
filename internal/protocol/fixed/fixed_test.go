package fixed

import (
	"math"
	"testing"
)

func TestRoundTripPrecision(t *testing.T) {
	for _, v := range []float64{0, 1, -1, 99.99, -99.99, 0.5, 12345.678, -12345.678} {
		got := ToFloat(FromFloat(v))
		if math.Abs(got-v) > 1.0/65536 {
			t.Fatalf("round trip %v -> %v", v, got)
		}
	}
}

func TestSaturation(t *testing.T) {
	if got := FromFloat(32768.0); got != math.MaxInt32 {
		t.Fatalf("positive saturation: %d", got)
	}
	if got := FromFloat(1e9); got != math.MaxInt32 {
		t.Fatalf("positive saturation: %d", got)
	}
	if got := FromFloat(-32768.5); got != math.MinInt32 {
		t.Fatalf("negative saturation: %d", got)
	}
	if got := FromFloat(-32768.0); got != math.MinInt32 {
		t.Fatalf("-32768 is exactly representable: %d", got)
	}
}

func TestTruncatesTowardZero(t *testing.T) {
	// 1.00002*65536 = 65537.31..., truncates to 65537.
	if got := FromFloat(1.00002); got != 65537 {
		t.Fatalf("positive truncation: %d", got)
	}
	if got := FromFloat(-1.00002); got != -65537 {
		t.Fatalf("negative truncation: %d", got)
	}
}
