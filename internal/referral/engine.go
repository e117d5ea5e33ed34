// Package referral implements the referral bonus engine: a one-time
// signup bonus for users who join with a valid code, and a one-time
// referrer bonus paid once the referred user has put the bonus to work.
//
// Evaluate is designed to run after every bet the referred user places.
// Every unmet precondition is a silent no-op, and completion flips the
// Referral off the pending state, so repeated evaluation is idempotent.
package referral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/betpitch/wallet-engine/internal/metrics"
	"github.com/betpitch/wallet-engine/internal/model"
	"github.com/betpitch/wallet-engine/internal/push"
	"github.com/betpitch/wallet-engine/internal/refcode"
	"github.com/betpitch/wallet-engine/internal/store"
)

// ErrUnknownReferralCode is returned at signup when the supplied code
// does not belong to any account.
var ErrUnknownReferralCode = errors.New("referral: unknown referral code")

// Config holds the program parameters.
type Config struct {
	// Enabled gates the referrer bonus; signup still works when off,
	// it just pays nothing.
	Enabled bool

	// SignupBonus is credited once to the referred user at signup.
	SignupBonus decimal.Decimal

	// ReferrerBonus is credited once to the referrer when the referred
	// user completes the deposit-and-wager threshold.
	ReferrerBonus decimal.Decimal
}

// DefaultConfig matches the product defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		SignupBonus:   decimal.NewFromInt(50),
		ReferrerBonus: decimal.NewFromInt(100),
	}
}

// Engine evaluates and credits referral bonuses.
type Engine struct {
	store store.Store
	cfg   Config
	hub   *push.Hub // optional
}

// NewEngine creates a referral engine.
func NewEngine(st store.Store, cfg Config, hub *push.Hub) *Engine {
	return &Engine{store: st, cfg: cfg, hub: hub}
}

// Signup creates a new account. When a valid referral code is supplied,
// the new user is credited the signup bonus and a pending Referral row is
// written for the (referrer, referred) pair, both in one transaction. The
// bonus is guarded by account creation itself happening once.
func (e *Engine) Signup(ctx context.Context, name, code string) (*model.User, error) {
	var referrer *model.User
	if code != "" {
		if err := refcode.Validate(code); err != nil {
			return nil, err
		}
		ref, err := e.store.GetUserByReferralCode(ctx, code)
		if err != nil {
			if errors.Is(err, model.ErrUserNotFound) {
				return nil, ErrUnknownReferralCode
			}
			return nil, err
		}
		referrer = ref
	}

	ownCode, err := refcode.Generate()
	if err != nil {
		return nil, err
	}
	u := &model.User{
		ID:            uuid.New().String(),
		Name:          name,
		WalletBalance: decimal.Zero,
		ReferralCode:  ownCode,
		Role:          "user",
		CreatedAt:     time.Now().UTC(),
	}
	if referrer != nil {
		u.ReferredBy = referrer.ID
	}
	if err := e.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	if referrer == nil {
		return u, nil
	}

	// The bonus credit and the pending Referral row commit together: a
	// bonus without the row would silently lose the referrer's claim.
	payBonus := e.cfg.Enabled && e.cfg.SignupBonus.IsPositive()
	err = e.store.Atomic(ctx, func(tx store.Tx) error {
		if payBonus {
			user, err := tx.GetUser(u.ID)
			if err != nil {
				return err
			}
			if err := tx.UpdateUserBalance(user.ID, user.WalletBalance.Add(e.cfg.SignupBonus)); err != nil {
				return err
			}
			if err := tx.InsertTransaction(&model.Transaction{
				ID:          uuid.New().String(),
				UserID:      user.ID,
				Amount:      e.cfg.SignupBonus,
				Type:        model.TxnSignupBonus,
				Description: fmt.Sprintf("signup bonus via %s", code),
				CreatedAt:   time.Now().UTC(),
			}); err != nil {
				return err
			}
		}
		return tx.CreateReferral(&model.Referral{
			ID:         uuid.New().String(),
			ReferrerID: referrer.ID,
			ReferredID: u.ID,
			Status:     model.ReferralPending,
			CreatedAt:  time.Now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}
	if payBonus {
		u.WalletBalance = e.cfg.SignupBonus
	}

	slog.Info("user signed up with referral",
		"user", u.ID,
		"referrer", referrer.ID,
		"signup_bonus", e.cfg.SignupBonus.String(),
	)
	return u, nil
}

// Evaluate checks the referrer-bonus preconditions for a referred user
// and pays the bonus when all hold. Unmet preconditions return nil: the
// caller re-runs this after every bet and must not treat "not yet" as a
// failure. The entire credit — referrer balance, ledger entry, awarded
// flag, referral completion — commits atomically or not at all.
func (e *Engine) Evaluate(ctx context.Context, referredID string) error {
	if !e.cfg.Enabled {
		return nil
	}

	var credited bool
	var referrerID string

	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		credited = false

		ref, err := tx.GetPendingReferral(referredID)
		if err != nil {
			return err
		}
		if ref == nil {
			return nil // no pending referral: nothing to do
		}
		user, err := tx.GetUser(referredID)
		if err != nil {
			return err
		}
		if user.ReferralBonusAwarded {
			return nil
		}
		deposits, count, err := tx.SumApprovedDeposits(referredID)
		if err != nil {
			return err
		}
		if count == 0 {
			return nil // must have at least one approved deposit
		}
		wagered, err := tx.SumBetStakes(referredID)
		if err != nil {
			return err
		}
		// The referred user must have wagered at least their deposits
		// plus the signup bonus before the referrer is paid.
		if wagered.LessThan(deposits.Add(e.cfg.SignupBonus)) {
			return nil
		}
		referrer, err := tx.GetUser(ref.ReferrerID)
		if err != nil {
			return err
		}

		if err := tx.UpdateUserBalance(referrer.ID, referrer.WalletBalance.Add(e.cfg.ReferrerBonus)); err != nil {
			return err
		}
		if err := tx.InsertTransaction(&model.Transaction{
			ID:          uuid.New().String(),
			UserID:      referrer.ID,
			Amount:      e.cfg.ReferrerBonus,
			Type:        model.TxnReferralBonus,
			Description: fmt.Sprintf("referral bonus for %s", user.Name),
			CreatedAt:   time.Now().UTC(),
		}); err != nil {
			return err
		}
		if err := tx.MarkReferralBonusAwarded(referredID); err != nil {
			return err
		}
		if err := tx.CompleteReferral(ref.ID); err != nil {
			return err
		}
		credited = true
		referrerID = referrer.ID
		return nil
	})
	if err != nil {
		return err
	}

	if credited {
		slog.Info("referral bonus credited",
			"referrer", referrerID,
			"referred", referredID,
			"amount", e.cfg.ReferrerBonus.String(),
		)
		metrics.ReferralBonuses.Inc()
		if e.hub != nil {
			e.hub.Broadcast(push.Event{
				Type:   "referral_bonus",
				UserID: referrerID,
				Amount: e.cfg.ReferrerBonus.String(),
			})
		}
	}
	return nil
}
