package service

import "math"

// flatCeiling caps payouts under the degraded flat formula.
const flatCeiling = 0.15

// Calculator derives the payout amount from a claimed level. The tiered
// table is canonical; Flat selects the degraded capped variant instead.
type Calculator struct {
	Flat bool
}

// Reward returns the native-unit amount for level, rounded to three
// decimal places. Tier bonuses use the highest applicable threshold
// only; they do not stack.
func (c Calculator) Reward(level int) float64 {
	base := float64(level) * 0.002
	if c.Flat {
		return round3(math.Min(base, flatCeiling))
	}

	switch {
	case level >= 20:
		base += 5
	case level >= 10:
		base += 1
	case level >= 8:
		base += 0.1
	case level >= 5:
		base += 0.05
	}
	return round3(base)
}

// Nanos converts a three-decimal native amount to the ledger's smallest
// unit without floating point loss: milli-units first, then scaled.
func Nanos(amount float64) int64 {
	millis := int64(math.Round(amount * 1000))
	return millis * 1_000_000
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
