package crash

import "math"

const (
	MIN_MULTIPLIER = 1.00

	// DEFAULT_CURVE_K is the number of seconds the curve needs to reach 2.00x.
	DEFAULT_CURVE_K = 10.0
)

// Curve maps elapsed round time to the live multiplier: m(t) = 1 + (t/K)^2.
type Curve struct {
	K float64
}

func NewCurve(k float64) Curve {
	if !(k > 0) || math.IsInf(k, 0) {
		k = DEFAULT_CURVE_K
	}
	return Curve{K: k}
}

// MultiplierAt returns the raw curve value. Negative elapsed time is clamped to zero.
func (c Curve) MultiplierAt(elapsedSeconds float64) float64 {
	if elapsedSeconds < 0 {
		elapsedSeconds = 0
	}
	x := elapsedSeconds / c.K
	return MIN_MULTIPLIER + x*x
}

// ElapsedFor is the inverse of MultiplierAt. Multipliers below 1.00 map to zero.
func (c Curve) ElapsedFor(multiplier float64) float64 {
	if multiplier <= MIN_MULTIPLIER {
		return 0
	}
	return c.K * math.Sqrt(multiplier-MIN_MULTIPLIER)
}

// FloorCents truncates a multiplier to two decimals. The guard keeps values
// like 1.7999999999999998 on the cent they were computed for.
func FloorCents(v float64) float64 {
	return math.Floor(v*100+1e-6) / 100
}
