package scrollsync

import "math"

// MaxOffsetRatio bounds the magnitude of a persisted manual offset.
const MaxOffsetRatio = 0.5

// ScrollRatio returns pos as a fraction of the scrollable range. A document
// with no scrollable range reports 0.
func ScrollRatio(pos, total, client float64) float64 {
	maxScroll := total - client
	if maxScroll <= 0 || math.IsNaN(maxScroll) || math.IsInf(maxScroll, 0) {
		return 0
	}
	r := pos / maxScroll
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

// Clamp restricts v to [lo, hi]; NaN becomes lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampOffset restricts an offset ratio to ±MaxOffsetRatio and reports
// whether the value had to be changed.
func ClampOffset(v float64) (float64, bool) {
	c := Clamp(v, -MaxOffsetRatio, MaxOffsetRatio)
	return c, c != v
}
