package models

import "math"

// Buffs are persistent percentage modifiers an account earns through
// external progression systems. All rates are fractions (0.10 = 10%) and
// default to zero for accounts with no buffs.
type Buffs struct {
	IncomeIntervalReduction    float64 `json:"incomeIntervalReduction"`
	IncomeAmountBonus          float64 `json:"incomeAmountBonus"`
	IncomeCapacityBonus        float64 `json:"incomeCapacityBonus"`
	TaxReduction               float64 `json:"taxReduction"`
	ExtraOwnershipSlots        int     `json:"extraOwnershipSlots"`
	AuctionFeeReduction        float64 `json:"auctionFeeReduction"`
	AuctionCommissionReduction float64 `json:"auctionCommissionReduction"`
}

// Scale multiplies a currency amount by a factor, rounding to the nearest
// whole unit. Factors below zero clamp to zero so a buff can never turn a
// charge into a credit.
func Scale(amount int64, factor float64) int64 {
	if factor < 0 {
		return 0
	}
	return int64(math.Round(float64(amount) * factor))
}

// Reduced applies a fractional reduction to an amount. The reduction is
// clamped to [0, 1].
func Reduced(amount int64, reduction float64) int64 {
	return Scale(amount, 1-Clamp01(reduction))
}

// Clamp01 clamps a rate to the [0, 1] range.
func Clamp01(rate float64) float64 {
	if rate < 0 {
		return 0
	}
	if rate > 1 {
		return 1
	}
	return rate
}
