// Package payout computes potential wins and settled payouts for bets.
//
// The multi-leg win condition is a policy parameter, not a hard-coded
// rule: Parlay pays the full potential win only when every leg hits,
// Proportional pays the stake's doubled value scaled by the hit ratio.
// A single-leg bet pays 2x the stake under either policy.
//
// All monetary values use shopspring/decimal — never float64 for money.
package payout

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Mode selects the multi-leg win condition.
type Mode string

const (
	// ModeParlay: all predictions must be correct; the payout is the
	// odds-weighted potential win (base^legs x stake).
	ModeParlay Mode = "parlay"

	// ModeProportional: the payout scales with the fraction of correct
	// predictions (base x stake x hits/legs).
	ModeProportional Mode = "proportional"
)

// ErrNoLegs is returned when a bet carries zero predictions.
var ErrNoLegs = errors.New("payout: bet has no predictions")

// payoutScale is the number of decimal places payouts are rounded to
// (currency minor units).
const payoutScale int32 = 2

// Policy computes potential wins and payouts.
type Policy struct {
	Mode Mode

	// Base is the single-outcome multiplier. 2 reproduces the classic
	// double-or-nothing bet.
	Base decimal.Decimal
}

// Default is the product's standard policy: all-or-nothing parlay at 2x.
func Default() Policy {
	return Policy{Mode: ModeParlay, Base: decimal.NewFromInt(2)}
}

// PotentialWin is the amount credited if the bet fully wins, fixed at
// placement time and stored on the bet.
func (p Policy) PotentialWin(amount decimal.Decimal, legs int) (decimal.Decimal, error) {
	if legs < 1 {
		return decimal.Zero, ErrNoLegs
	}
	switch p.Mode {
	case ModeProportional:
		return amount.Mul(p.Base).Round(payoutScale), nil
	default:
		// Each leg compounds the base multiplier.
		return amount.Mul(p.Base.Pow(decimal.NewFromInt(int64(legs)))).Round(payoutScale), nil
	}
}

// Payout is the amount actually credited at settlement given how many
// legs hit. A zero payout means the bet is Lost.
func (p Policy) Payout(amount, potentialWin decimal.Decimal, hits, legs int) (decimal.Decimal, error) {
	if legs < 1 {
		return decimal.Zero, ErrNoLegs
	}
	if hits < 0 || hits > legs {
		return decimal.Zero, errors.New("payout: hits out of range")
	}
	switch p.Mode {
	case ModeProportional:
		if hits == 0 {
			return decimal.Zero, nil
		}
		ratio := decimal.NewFromInt(int64(hits)).Div(decimal.NewFromInt(int64(legs)))
		return amount.Mul(p.Base).Mul(ratio).Round(payoutScale), nil
	default:
		if hits == legs {
			return potentialWin, nil
		}
		return decimal.Zero, nil
	}
}
