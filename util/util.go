package util

import (
	"fmt"
	"math"
)

var suffixes = []string{"", "k", "M", "G", "T", "P", "E"}

// SuffixString formats v with an SI suffix, 1234567 -> "1.23 M".
func SuffixString(v float64) string {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Sprintf("%.2f", v)
	}

	idx := 0
	for math.Abs(v) >= 1000 && idx < len(suffixes)-1 {
		v /= 1000
		idx++
	}
	if idx == 0 {
		return fmt.Sprintf("%.2f", v)
	}
	return fmt.Sprintf("%.2f %s", v, suffixes[idx])
}

// HashrateString formats a GH/s value as a H/s figure, 500 -> "500.00 GH/s".
func HashrateString(ghs float64) string {
	return SuffixString(ghs*1e9) + "H/s"
}

func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
