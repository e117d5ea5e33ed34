// Package stake enforces the admin-configured stake tiers: a bet amount
// must be exactly one of the allowed tiers for the match's sport.
package stake

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInvalidStake is returned when an amount is not an allowed tier for
// the sport.
var ErrInvalidStake = errors.New("stake: amount is not an allowed tier")

// DefaultTiers apply to any sport without an explicit override.
var DefaultTiers = []decimal.Decimal{
	decimal.NewFromInt(9),
	decimal.NewFromInt(19),
	decimal.NewFromInt(29),
}

// Tiers holds the allowed stake amounts, with per-sport overrides.
type Tiers struct {
	defaults []decimal.Decimal
	bySport  map[string][]decimal.Decimal
}

// NewTiers creates a tier table. A nil defaults slice falls back to
// DefaultTiers; overrides may be nil.
func NewTiers(defaults []decimal.Decimal, overrides map[string][]decimal.Decimal) *Tiers {
	if len(defaults) == 0 {
		defaults = DefaultTiers
	}
	return &Tiers{defaults: defaults, bySport: overrides}
}

// ForSport returns the allowed tiers for a sport.
func (t *Tiers) ForSport(sport string) []decimal.Decimal {
	if tiers, ok := t.bySport[sport]; ok {
		return tiers
	}
	return t.defaults
}

// Validate checks that amount is exactly one of the sport's tiers.
func (t *Tiers) Validate(sport string, amount decimal.Decimal) error {
	for _, tier := range t.ForSport(sport) {
		if tier.Equal(amount) {
			return nil
		}
	}
	return ErrInvalidStake
}
