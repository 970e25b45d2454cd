package bloom

import "math"

// DefaultFPRate is used when a caller passes an out-of-range false-positive rate.
const DefaultFPRate = 0.01

// Size computes filter parameters from capacity (n) and target FP rate (p) using
//
//	m = - (n * ln p) / (ln 2)^2
//	k = (m / n) * ln 2
//
// n is clamped to at least 1, invalid p falls back to DefaultFPRate, m and k are at least 1.
func Size(n uint64, p float64) (m uint64, k uint8) {
	if n == 0 {
		n = 1
	}
	p = normalizeFPRate(p)
	ln2 := math.Ln2
	m = uint64(math.Ceil(-float64(n) * math.Log(p) / (ln2 * ln2)))
	if m == 0 {
		m = 1
	}
	k = uint8(math.Max(1, math.Round((float64(m)/float64(n))*ln2)))
	return m, k
}

func normalizeFPRate(p float64) float64 {
	if !(p > 0 && p < 1) {
		return DefaultFPRate
	}
	return p
}
