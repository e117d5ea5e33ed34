// Package settle implements the match settlement and payout engine: it
// records question results, resolves every pending bet on a finished
// match into Won or Lost with the corresponding payout, and handles the
// cancellation side-exit that refunds pending stakes instead.
//
// Settlement fans out across many bets and balances, which a document
// store cannot commit as one unit. The pass is therefore staged as an
// idempotent, resumable job: the match is marked settlement-in-progress
// first, bets are processed in small atomic chunks guarded by "only touch
// Pending bets", and the match flips to Finished only after the last
// chunk. A resumed run skips already-settled bets for free.
package settle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/betpitch/wallet-engine/internal/metrics"
	"github.com/betpitch/wallet-engine/internal/model"
	"github.com/betpitch/wallet-engine/internal/payout"
	"github.com/betpitch/wallet-engine/internal/push"
	"github.com/betpitch/wallet-engine/internal/store"
)

// DefaultChunkSize bounds how many bets one settlement transaction touches.
const DefaultChunkSize = 25

// Engine settles and cancels matches.
type Engine struct {
	store     store.Store
	policy    payout.Policy
	chunkSize int
	hub       *push.Hub // optional
}

// NewEngine creates a settlement engine. chunkSize <= 0 falls back to
// DefaultChunkSize.
func NewEngine(st store.Store, policy payout.Policy, chunkSize int, hub *push.Hub) *Engine {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Engine{store: st, policy: policy, chunkSize: chunkSize, hub: hub}
}

// Winner is one payout line reported back to the admin UI.
type Winner struct {
	BetID  string          `json:"bet_id"`
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// Result summarizes a completed settlement pass.
type Result struct {
	Winners       []Winner `json:"winners"`
	BetsProcessed int      `json:"bets_processed"`
}

// CancelResult summarizes a cancellation refund pass.
type CancelResult struct {
	Refunded int `json:"refunded"`
}

// SettleQuestion records the final answer for one question. A question
// settles exactly once; a re-submission fails with ErrAlreadySettled and
// writes nothing.
func (e *Engine) SettleQuestion(ctx context.Context, questionID string, res model.QuestionResult) error {
	return e.store.Atomic(ctx, func(tx store.Tx) error {
		q, err := tx.GetQuestion(questionID)
		if err != nil {
			return err
		}
		if err := validateResult(q, res); err != nil {
			return err
		}
		return tx.SettleQuestion(questionID, res)
	})
}

func validateResult(q *model.Question, res model.QuestionResult) error {
	if !q.HasOption(res.Answer) {
		return fmt.Errorf("answer %q is not an option of question %s", res.Answer, q.ID)
	}
	if res.Kind == model.ResultPlayer && res.PlayerID == "" {
		return fmt.Errorf("player result for question %s names no player", q.ID)
	}
	return nil
}

// Request carries the admin's inputs for a full match settlement.
type Request struct {
	MatchID string `json:"match_id"`

	// Results maps question ID to its final outcome. Questions already
	// settled (by a prior partial run) may be omitted or repeated;
	// repeats are skipped.
	Results map[string]model.QuestionResult `json:"results"`

	// Optional display fields recorded on the match.
	Winner     string `json:"winner,omitempty"`
	FinalScore string `json:"final_score,omitempty"`
}

// SettleMatch runs the full settlement pass. Calling it on a Finished
// match fails with ErrAlreadySettled before anything is written, so a
// double payout is impossible. Calling it again after a crash resumes:
// settled questions and non-Pending bets are skipped.
func (e *Engine) SettleMatch(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	// Re-entrancy guard plus in-progress marker, checked before any write.
	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		m, err := tx.GetMatch(req.MatchID)
		if err != nil {
			return err
		}
		if m.Status == model.MatchFinished || m.Status == model.MatchCancelled {
			return model.ErrAlreadySettled
		}
		return tx.SetSettlementInProgress(req.MatchID, true)
	})
	if err != nil {
		return nil, err
	}

	if err := e.applyResults(ctx, req.MatchID, req.Results); err != nil {
		return nil, err
	}

	// Every question must have an outcome before any bet is resolved.
	questions, err := e.store.ListQuestionsByMatch(ctx, req.MatchID)
	if err != nil {
		return nil, err
	}
	resultByQ := make(map[string]*model.QuestionResult, len(questions))
	for _, q := range questions {
		if q.Status != model.QuestionSettled || q.Result == nil {
			e.clearMarker(ctx, req.MatchID)
			return nil, fmt.Errorf("question %s: %w", q.ID, model.ErrQuestionsIncomplete)
		}
		resultByQ[q.ID] = q.Result
	}

	res, err := e.payoutPass(ctx, req.MatchID, resultByQ)
	if err != nil {
		return nil, err
	}

	err = e.store.Atomic(ctx, func(tx store.Tx) error {
		if req.Winner != "" || req.FinalScore != "" {
			if err := tx.SetMatchResult(req.MatchID, req.Winner, req.FinalScore); err != nil {
				return err
			}
		}
		if err := tx.UpdateMatchStatus(req.MatchID, model.MatchFinished); err != nil {
			return err
		}
		return tx.SetSettlementInProgress(req.MatchID, false)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("match settled",
		"match", req.MatchID,
		"bets", res.BetsProcessed,
		"winners", len(res.Winners),
		"took", time.Since(start).String(),
	)
	metrics.SettlementDuration.Observe(time.Since(start).Seconds())
	if e.hub != nil {
		e.hub.Broadcast(push.Event{Type: "match_settled", MatchID: req.MatchID})
	}
	return res, nil
}

// applyResults settles the supplied questions one transaction each.
// Already-settled questions are skipped so a resumed run is a no-op for
// them.
func (e *Engine) applyResults(ctx context.Context, matchID string, results map[string]model.QuestionResult) error {
	for qid, res := range results {
		err := e.store.Atomic(ctx, func(tx store.Tx) error {
			q, err := tx.GetQuestion(qid)
			if err != nil {
				return err
			}
			if q.MatchID != matchID {
				return fmt.Errorf("question %s does not belong to match %s: %w",
					qid, matchID, model.ErrQuestionNotFound)
			}
			if q.Status == model.QuestionSettled {
				return nil // prior run got here already
			}
			if err := validateResult(q, res); err != nil {
				return err
			}
			return tx.SettleQuestion(qid, res)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// payoutPass resolves pending bets in chunks. Each chunk is one atomic
// mutation: reads (bets, then each affected user once) strictly precede
// writes (bet statuses, balances, ledger entries, summary).
func (e *Engine) payoutPass(ctx context.Context, matchID string, resultByQ map[string]*model.QuestionResult) (*Result, error) {
	res := &Result{}
	for {
		var processed int
		var chunkWinners []Winner
		var wonCount, lostCount int

		err := e.store.Atomic(ctx, func(tx store.Tx) error {
			processed = 0
			chunkWinners = nil
			wonCount, lostCount = 0, 0

			bets, err := tx.ListPendingBetsByMatch(matchID, e.chunkSize)
			if err != nil {
				return err
			}
			if len(bets) == 0 {
				return nil
			}

			type outcome struct {
				bet    model.Bet
				payout decimal.Decimal
			}
			outcomes := make([]outcome, 0, len(bets))
			credit := make(map[string]decimal.Decimal) // userID -> total payout
			for _, b := range bets {
				hits := countHits(b, resultByQ)
				pay, err := e.policy.Payout(b.Amount, b.PotentialWin, hits, len(b.Predictions))
				if err != nil {
					return fmt.Errorf("bet %s: %w", b.ID, err)
				}
				outcomes = append(outcomes, outcome{bet: b, payout: pay})
				if pay.IsPositive() {
					credit[b.UserID] = credit[b.UserID].Add(pay)
				}
			}

			// One balance read per credited user, before any write.
			balances := make(map[string]decimal.Decimal, len(credit))
			for userID := range credit {
				u, err := tx.GetUser(userID)
				if err != nil {
					return err
				}
				balances[userID] = u.WalletBalance
			}

			totalPaid := decimal.Zero
			for _, o := range outcomes {
				status := model.BetLost
				if o.payout.IsPositive() {
					status = model.BetWon
				}
				if err := tx.UpdateBetStatus(o.bet.ID, status); err != nil {
					return err
				}
				if status == model.BetWon {
					wonCount++
					totalPaid = totalPaid.Add(o.payout)
					chunkWinners = append(chunkWinners, Winner{
						BetID:  o.bet.ID,
						UserID: o.bet.UserID,
						Amount: o.payout,
					})
					if err := tx.InsertTransaction(&model.Transaction{
						ID:          uuid.New().String(),
						UserID:      o.bet.UserID,
						Amount:      o.payout,
						Type:        model.TxnBetPayout,
						Description: fmt.Sprintf("payout for bet %s", o.bet.ID),
						CreatedAt:   time.Now().UTC(),
					}); err != nil {
						return err
					}
				} else {
					lostCount++
				}
			}
			for userID, total := range credit {
				if err := tx.UpdateUserBalance(userID, balances[userID].Add(total)); err != nil {
					return err
				}
			}
			if totalPaid.IsPositive() {
				if err := tx.AddToSummary(decimal.Zero, decimal.Zero, decimal.Zero, totalPaid); err != nil {
					return err
				}
			}
			processed = len(bets)
			return nil
		})
		if err != nil {
			return nil, err
		}
		if processed == 0 {
			break
		}
		res.BetsProcessed += processed
		res.Winners = append(res.Winners, chunkWinners...)
		metrics.BetsSettled.WithLabelValues("won").Add(float64(wonCount))
		metrics.BetsSettled.WithLabelValues("lost").Add(float64(lostCount))
	}
	if res.Winners == nil {
		res.Winners = []Winner{}
	}
	return res, nil
}

func countHits(b model.Bet, resultByQ map[string]*model.QuestionResult) int {
	hits := 0
	for _, p := range b.Predictions {
		if resultByQ[p.QuestionID].Matches(p) {
			hits++
		}
	}
	return hits
}

// CancelMatch is the Upcoming/Live -> Cancelled side-exit: every Pending
// bet on the match gets its exact stake credited back and flips to
// Refunded. Bets already in a terminal state are untouched. Re-running a
// partially-cancelled match refunds only what is still Pending. A match
// whose settlement is underway cannot be cancelled.
func (e *Engine) CancelMatch(ctx context.Context, matchID string) (*CancelResult, error) {
	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		m, err := tx.GetMatch(matchID)
		if err != nil {
			return err
		}
		if m.Status == model.MatchFinished {
			return model.ErrAlreadyFinished
		}
		if m.SettlementInProgress {
			return model.ErrSettlementInProgress
		}
		if m.Status == model.MatchCancelled {
			return nil // resume a partial refund pass
		}
		return tx.UpdateMatchStatus(matchID, model.MatchCancelled)
	})
	if err != nil {
		return nil, err
	}

	res := &CancelResult{}
	for {
		var processed int
		err := e.store.Atomic(ctx, func(tx store.Tx) error {
			processed = 0

			bets, err := tx.ListPendingBetsByMatch(matchID, e.chunkSize)
			if err != nil {
				return err
			}
			if len(bets) == 0 {
				return nil
			}

			refund := make(map[string]decimal.Decimal)
			for _, b := range bets {
				refund[b.UserID] = refund[b.UserID].Add(b.Amount)
			}
			balances := make(map[string]decimal.Decimal, len(refund))
			for userID := range refund {
				u, err := tx.GetUser(userID)
				if err != nil {
					return err
				}
				balances[userID] = u.WalletBalance
			}

			for _, b := range bets {
				if err := tx.UpdateBetStatus(b.ID, model.BetRefunded); err != nil {
					return err
				}
				if err := tx.InsertTransaction(&model.Transaction{
					ID:          uuid.New().String(),
					UserID:      b.UserID,
					Amount:      b.Amount,
					Type:        model.TxnBetRefund,
					Description: fmt.Sprintf("refund for bet %s, match %s cancelled", b.ID, matchID),
					CreatedAt:   time.Now().UTC(),
				}); err != nil {
					return err
				}
			}
			for userID, total := range refund {
				if err := tx.UpdateUserBalance(userID, balances[userID].Add(total)); err != nil {
					return err
				}
			}
			processed = len(bets)
			return nil
		})
		if err != nil {
			return nil, err
		}
		if processed == 0 {
			break
		}
		res.Refunded += processed
	}

	slog.Info("match cancelled", "match", matchID, "refunded", res.Refunded)
	if e.hub != nil {
		e.hub.Broadcast(push.Event{Type: "match_cancelled", MatchID: matchID})
	}
	return res, nil
}

// clearMarker best-effort resets the in-progress flag after a failed
// settlement precondition. The next run re-sets it anyway.
func (e *Engine) clearMarker(ctx context.Context, matchID string) {
	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		return tx.SetSettlementInProgress(matchID, false)
	})
	if err != nil {
		slog.Error("failed to clear settlement marker", "match", matchID, "err", err)
	}
}
