// Package mathx holds small integer helpers for the fade engine and the
// battery curve.
package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// LerpFrac returns a + (b-a)*num/den computed with signed 64-bit
// intermediates, truncating toward zero. den must be non-zero; the result
// is clamped to [min(a,b), max(a,b)].
func LerpFrac[T constraints.Integer](a, b T, num, den int64) T {
	ia, ib := int64(a), int64(b)
	v := ia + (ib-ia)*num/den
	return T(Clamp(v, ia, ib))
}
