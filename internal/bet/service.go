// Package bet implements bet placement: the atomic debit of a user's
// balance paired with the creation of a Pending bet record.
package bet

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
	"github.com/betpitch/wallet-engine/internal/payout"
	"github.com/betpitch/wallet-engine/internal/push"
	"github.com/betpitch/wallet-engine/internal/referral"
	"github.com/betpitch/wallet-engine/internal/stake"
	"github.com/betpitch/wallet-engine/internal/store"
)

// Validation errors rejected before any transaction opens.
var (
	ErrNoPredictions     = errors.New("bet: at least one prediction is required")
	ErrAmountNotPositive = errors.New("bet: amount must be positive")
)

// Service places bets. Referral evaluation runs asynchronously after each
// accepted bet; its failure never rolls the bet back.
type Service struct {
	store     store.Store
	tiers     *stake.Tiers
	policy    payout.Policy
	referrals *referral.Engine // optional
	hub       *push.Hub        // optional
}

// NewService creates a bet placement service. Pass nil for referrals or
// hub if those collaborators are not wired.
func NewService(st store.Store, tiers *stake.Tiers, policy payout.Policy, referrals *referral.Engine, hub *push.Hub) *Service {
	return &Service{
		store:     st,
		tiers:     tiers,
		policy:    policy,
		referrals: referrals,
		hub:       hub,
	}
}

// PlaceRequest is the input for one bet.
type PlaceRequest struct {
	UserID      string             `json:"user_id"`
	MatchID     string             `json:"match_id"`
	Predictions []model.Prediction `json:"predictions"`
	Amount      decimal.Decimal    `json:"amount"`
}

// Place debits the stake and creates the bet in one atomic mutation.
// Either the bet exists and the balance is lower by exactly the stake, or
// nothing changed.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (*model.Bet, error) {
	if len(req.Predictions) == 0 {
		return nil, ErrNoPredictions
	}
	if !req.Amount.IsPositive() {
		return nil, ErrAmountNotPositive
	}

	potentialWin, err := s.policy.PotentialWin(req.Amount, len(req.Predictions))
	if err != nil {
		return nil, err
	}

	b := &model.Bet{
		ID:           uuid.New().String(),
		UserID:       req.UserID,
		MatchID:      req.MatchID,
		Amount:       req.Amount,
		PotentialWin: potentialWin,
		Status:       model.BetPending,
		Predictions:  req.Predictions,
		CreatedAt:    time.Now().UTC(),
	}

	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		// Reads first; no document is read after the first write.
		user, err := tx.GetUser(req.UserID)
		if err != nil {
			return err
		}
		if user.Disabled {
			return model.ErrUserDisabled
		}
		match, err := tx.GetMatch(req.MatchID)
		if err != nil {
			return err
		}
		if !match.Status.Open() {
			return model.ErrMatchClosed
		}
		if err := s.tiers.Validate(match.Sport, req.Amount); err != nil {
			return err
		}
		if req.Amount.GreaterThan(user.WalletBalance) {
			return model.ErrInsufficientFunds
		}
		if err := validatePredictions(tx, match, req.Predictions); err != nil {
			return err
		}

		if err := tx.UpdateUserBalance(user.ID, user.WalletBalance.Sub(req.Amount)); err != nil {
			return err
		}
		if err := tx.CreateBet(b); err != nil {
			return err
		}
		if err := tx.InsertTransaction(&model.Transaction{
			ID:          uuid.New().String(),
			UserID:      user.ID,
			Amount:      req.Amount.Neg(),
			Type:        model.TxnBetStake,
			Description: fmt.Sprintf("stake on match %s", match.ID),
			CreatedAt:   b.CreatedAt,
		}); err != nil {
			return err
		}
		if !user.IsFirstBetPlaced {
			if err := tx.MarkFirstBetPlaced(user.ID); err != nil {
				return err
			}
		}
		return tx.AddToSummary(decimal.Zero, decimal.Zero, req.Amount, decimal.Zero)
	})
	if err != nil {
		if errors.Is(err, model.ErrInsufficientFunds) {
			metrics.InsufficientFundsRejections.Inc()
		}
		return nil, err
	}

	slog.Info("bet placed",
		"bet_id", b.ID,
		"user", b.UserID,
		"match", b.MatchID,
		"amount", b.Amount.String(),
		"potential_win", b.PotentialWin.String(),
	)
	metrics.BetsPlaced.WithLabelValues(betSport(ctx, s.store, b.MatchID)).Inc()

	// Referral evaluation is fire-and-forget; it re-runs after every bet
	// and is a safe no-op when conditions are not met.
	if s.referrals != nil {
		userID := b.UserID
		go func() {
			if err := s.referrals.Evaluate(context.Background(), userID); err != nil {
				slog.Error("referral evaluation failed", "user", userID, "err", err)
			}
		}()
	}

	if s.hub != nil {
		s.hub.Broadcast(push.Event{
			Type:    "bet_placed",
			UserID:  b.UserID,
			MatchID: b.MatchID,
			Amount:  b.Amount.String(),
		})
	}

	return b, nil
}

// validatePredictions checks every leg against the match's questions:
// the question must exist, belong to the match, still be active, and the
// answer must be one of its two options. Player-scoped legs are only
// valid on special matches for roster players with betting enabled.
func validatePredictions(tx store.Tx, match *model.Match, predictions []model.Prediction) error {
	for _, p := range predictions {
		q, err := tx.GetQuestion(p.QuestionID)
		if err != nil {
			return err
		}
		if q.MatchID != match.ID {
			return fmt.Errorf("question %s does not belong to match %s: %w",
				q.ID, match.ID, model.ErrQuestionNotFound)
		}
		if q.Status != model.QuestionActive {
			return fmt.Errorf("question %s: %w", q.ID, model.ErrAlreadySettled)
		}
		if !q.HasOption(p.Answer) {
			return fmt.Errorf("answer %q is not an option of question %s", p.Answer, q.ID)
		}
		if p.PlayerID != "" {
			if !match.IsSpecialMatch {
				return fmt.Errorf("player predictions require a special match")
			}
			if !playerBettable(match, p.PlayerID) {
				return fmt.Errorf("betting is not enabled for player %s", p.PlayerID)
			}
		}
	}
	return nil
}

func playerBettable(match *model.Match, playerID string) bool {
	for _, team := range []model.Team{match.TeamA, match.TeamB} {
		for _, pl := range team.Players {
			if pl.ID == playerID {
				return pl.BettingEnabled
			}
		}
	}
	return false
}

// betSport resolves the sport label for metrics; "unknown" on a read miss
// rather than failing the caller.
func betSport(ctx context.Context, st store.Store, matchID string) string {
	m, err := st.GetMatch(ctx, matchID)
	if err != nil {
		return "unknown"
	}
	return m.Sport
}
