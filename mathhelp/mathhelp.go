package mathhelp

import "math"

func Pow2(n uint) uint {
	return 1 << n
}

// Frac returns the fractional part of f, in [0, 1).
func Frac(f float64) float64 {
	return f - math.Floor(f)
}

// CeilDiv returns d divided by m, rounded up. m must be positive.
func CeilDiv(d, m int) int {
	return (d + m - 1) / m
}
