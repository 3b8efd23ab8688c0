// Package payout holds the pure money computations used when a guarantee or
// campaign enrollment is resolved with a payout.
package payout

import (
	"fmt"
	"math"
)

// Type is the form a payout takes for the client.
type Type string

const (
	Refund             Type = "refund"
	Credit             Type = "credit"
	RolloverUpsell     Type = "rollover_upsell"
	RolloverContinuity Type = "rollover_continuity"
)

var types = map[Type]bool{
	Refund:             true,
	Credit:             true,
	RolloverUpsell:     true,
	RolloverContinuity: true,
}

func (t Type) Valid() bool {
	return types[t]
}

func (t Type) IsRollover() bool {
	return t == RolloverUpsell || t == RolloverContinuity
}

// ParseType returns an error for anything outside the four payout types.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("invalid payout type %q", s)
	}
	return t, nil
}

// AmountType selects how the payout amount is derived from spend.
type AmountType string

const (
	AmountFull       AmountType = "full"
	AmountPercentage AmountType = "percentage"
	AmountFixed      AmountType = "fixed"
)

func (t AmountType) Valid() bool {
	switch t {
	case AmountFull, AmountPercentage, AmountFixed:
		return true
	}
	return false
}

type Terms struct {
	Type  AmountType
	Value *float64
}

// Amount computes the payout owed for spend under terms. A fixed amount pays
// its value regardless of spend. A percentage without a value pays in full.
func Amount(spend float64, terms Terms) (float64, error) {
	switch terms.Type {
	case AmountFull, "":
		return roundCents(spend), nil
	case AmountPercentage:
		pct := 100.0
		if terms.Value != nil {
			pct = *terms.Value
		}
		if pct < 0 {
			return 0, fmt.Errorf("percentage must not be negative")
		}
		return roundCents(spend * pct / 100), nil
	case AmountFixed:
		if terms.Value == nil {
			return 0, fmt.Errorf("fixed payout requires a value")
		}
		if *terms.Value < 0 {
			return 0, fmt.Errorf("fixed payout must not be negative")
		}
		return roundCents(*terms.Value), nil
	default:
		return 0, fmt.Errorf("unknown payout amount type %q", terms.Type)
	}
}

// RolloverCredit is the payout amount scaled by the template's bonus
// multiplier. Non-positive multipliers count as 1.
func RolloverCredit(amount, multiplier float64) float64 {
	if multiplier <= 0 {
		multiplier = 1
	}
	return roundCents(amount * multiplier)
}

// CyclesCovered returns how many whole billing cycles a credit pays for and
// the residual left over. A non-positive cycle price covers nothing.
func CyclesCovered(credit, perCycle float64) (int, float64) {
	if perCycle <= 0 || credit <= 0 {
		return 0, math.Max(credit, 0)
	}
	creditCents := toCents(credit)
	cycleCents := toCents(perCycle)
	if cycleCents == 0 {
		return 0, credit
	}
	cycles := creditCents / cycleCents
	residual := creditCents - cycles*cycleCents
	return int(cycles), float64(residual) / 100
}

func toCents(v float64) int64 {
	return int64(math.Round(v * 100))
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
