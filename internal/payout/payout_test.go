package payout_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/betpitch/wallet-engine/internal/payout"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestPotentialWin_SingleLeg(t *testing.T) {
	p := payout.Default()

	win, err := p.PotentialWin(d(29), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !win.Equal(d(58)) {
		t.Errorf("expected potential win 58, got %s", win)
	}
}

func TestPotentialWin_ParlayCompounds(t *testing.T) {
	p := payout.Default()

	// 3 legs at base 2 → 8x the stake.
	win, err := p.PotentialWin(d(10), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !win.Equal(d(80)) {
		t.Errorf("expected potential win 80, got %s", win)
	}
}

func TestPotentialWin_ProportionalIsFlat(t *testing.T) {
	p := payout.Policy{Mode: payout.ModeProportional, Base: d(2)}

	// Proportional mode caps at base x stake regardless of leg count.
	win, err := p.PotentialWin(d(10), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !win.Equal(d(20)) {
		t.Errorf("expected potential win 20, got %s", win)
	}
}

func TestPotentialWin_NoLegs(t *testing.T) {
	p := payout.Default()

	if _, err := p.PotentialWin(d(29), 0); err != payout.ErrNoLegs {
		t.Errorf("expected ErrNoLegs, got %v", err)
	}
}

func TestPayout_ParlayAllOrNothing(t *testing.T) {
	p := payout.Default()
	stake := d(29)
	win, _ := p.PotentialWin(stake, 3)

	full, err := p.Payout(stake, win, 3, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !full.Equal(win) {
		t.Errorf("all legs hit should pay potential win %s, got %s", win, full)
	}

	for hits := 0; hits < 3; hits++ {
		pay, err := p.Payout(stake, win, hits, 3)
		if err != nil {
			t.Fatalf("unexpected error at %d hits: %v", hits, err)
		}
		if !pay.IsZero() {
			t.Errorf("parlay with %d/3 hits should pay zero, got %s", hits, pay)
		}
	}
}

func TestPayout_ProportionalScales(t *testing.T) {
	p := payout.Policy{Mode: payout.ModeProportional, Base: d(2)}
	stake := d(10)
	win, _ := p.PotentialWin(stake, 4)

	// 2x stake scaled by hit ratio: 10 * 2 * 2/4 = 10.
	pay, err := p.Payout(stake, win, 2, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pay.Equal(d(10)) {
		t.Errorf("expected 10, got %s", pay)
	}

	full, _ := p.Payout(stake, win, 4, 4)
	if !full.Equal(d(20)) {
		t.Errorf("expected 20 for full hit, got %s", full)
	}

	zero, _ := p.Payout(stake, win, 0, 4)
	if !zero.IsZero() {
		t.Errorf("expected zero for no hits, got %s", zero)
	}
}

func TestPayout_SingleLegDoublesUnderBothModes(t *testing.T) {
	for _, mode := range []payout.Mode{payout.ModeParlay, payout.ModeProportional} {
		p := payout.Policy{Mode: mode, Base: d(2)}
		win, _ := p.PotentialWin(d(29), 1)
		pay, err := p.Payout(d(29), win, 1, 1)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", mode, err)
		}
		if !pay.Equal(d(58)) {
			t.Errorf("%s: single winning leg should pay 58, got %s", mode, pay)
		}
	}
}

func TestPayout_HitsOutOfRange(t *testing.T) {
	p := payout.Default()
	if _, err := p.Payout(d(10), d(20), 2, 1); err == nil {
		t.Error("expected error for hits > legs")
	}
	if _, err := p.Payout(d(10), d(20), -1, 1); err == nil {
		t.Error("expected error for negative hits")
	}
}
