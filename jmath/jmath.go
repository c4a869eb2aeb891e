package jmath

import (
	"math"

	"golang.org/x/exp/constraints"
)

func Abs32(f float32) float32 {
	return float32(math.Abs(float64(f)))
}

func Floor32(f float32) float32 {
	return float32(math.Floor(float64(f)))
}

func Ceil32(f float32) float32 {
	return float32(math.Ceil(float64(f)))
}

func Round32(f float32) float32 {
	return float32(math.Round(float64(f)))
}

func Sqrt32(f float32) float32 {
	return float32(math.Sqrt(float64(f)))
}

func Hypot32(x, y float32) float32 {
	return float32(math.Hypot(float64(x), float64(y)))
}

func Copysign32(f, sign float32) float32 {
	return float32(math.Copysign(float64(f), float64(sign)))
}

func Pow32(x, y float32) float32 {
	return float32(math.Pow(float64(x), float64(y)))
}

// Sign32 matches GLSL sign; in particular it returns 0 for 0.
func Sign32(f float32) float32 {
	switch {
	case f > 0:
		return 1
	case f < 0:
		return -1
	default:
		return 0
	}
}

// Mix linearly interpolates between x and y.
func Mix(x, y, t float32) float32 {
	return x + (y-x)*t
}

func Clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	return min(max(v, lo), hi)
}

func AlignUp[T constraints.Integer](len, alignment T) T {
	return (len + alignment - 1) & -alignment
}

func NextMultipleOf[T constraints.Integer](x, y T) T {
	r := x % y
	if r == 0 {
		return x
	} else {
		return x + y - r
	}
}
