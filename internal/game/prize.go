package game

import "math"

// SplitPrize divides the pool evenly across winners, rounded to two decimals
// with banker's rounding. A zero winner count is treated as one so the pool
// amount still renders sensibly in announcements.
func SplitPrize(pool float64, winners int) float64 {
	if winners < 1 {
		winners = 1
	}
	return math.RoundToEven(pool/float64(winners)*100) / 100
}
