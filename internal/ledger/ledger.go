// Package ledger provides read-side views over the immutable transaction
// log: per-user history, balance reconciliation, and rebuilding the
// materialized financial summary.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betpitch/wallet-engine/internal/model"
	"github.com/betpitch/wallet-engine/internal/store"
)

// Service answers questions about the transaction log.
type Service struct {
	store store.Store
}

// NewService creates a ledger service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// History returns a user's ledger entries, newest first.
func (s *Service) History(ctx context.Context, userID string) ([]model.Transaction, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListTransactionsByUser(ctx, userID)
}

// Reconciliation compares a user's stored balance against the signed sum
// of their ledger entries. The two are equal unless a writer bypassed the
// transaction log.
type Reconciliation struct {
	UserID     string          `json:"user_id"`
	Balance    decimal.Decimal `json:"balance"`
	LedgerSum  decimal.Decimal `json:"ledger_sum"`
	Difference decimal.Decimal `json:"difference"`
	Consistent bool            `json:"consistent"`
}

// Reconcile recomputes a user's balance from their transaction log and
// reports any drift. It never mutates anything.
func (s *Service) Reconcile(ctx context.Context, userID string) (*Reconciliation, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	txns, err := s.store.ListTransactionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	sum := decimal.Zero
	for _, t := range txns {
		sum = sum.Add(t.Amount)
	}
	diff := user.WalletBalance.Sub(sum)
	rec := &Reconciliation{
		UserID:     userID,
		Balance:    user.WalletBalance,
		LedgerSum:  sum,
		Difference: diff,
		Consistent: diff.IsZero(),
	}
	if !rec.Consistent {
		slog.Warn("ledger drift detected",
			"user", userID,
			"balance", user.WalletBalance.String(),
			"ledger_sum", sum.String(),
		)
	}
	return rec, nil
}

// Summary returns the materialized all-time aggregate.
func (s *Service) Summary(ctx context.Context) (*model.Summary, error) {
	return s.store.GetSummary(ctx)
}

// RecomputeSummary rebuilds the materialized aggregate from the full
// transaction log and stores it. The summary is derived state, so this is
// always safe to run; it repairs any drift left by a partial failure.
func (s *Service) RecomputeSummary(ctx context.Context) (*model.Summary, error) {
	txns, err := s.store.ListTransactions(ctx)
	if err != nil {
		return nil, err
	}

	sum := &model.Summary{
		TotalDeposits:    decimal.Zero,
		TotalWithdrawals: decimal.Zero,
		TotalStaked:      decimal.Zero,
		TotalPaidOut:     decimal.Zero,
		UpdatedAt:        time.Now().UTC(),
	}
	for _, t := range txns {
		switch t.Type {
		case model.TxnDeposit:
			sum.TotalDeposits = sum.TotalDeposits.Add(t.Amount)
		case model.TxnBetStake:
			sum.TotalStaked = sum.TotalStaked.Add(t.Amount.Neg())
		case model.TxnBetPayout:
			sum.TotalPaidOut = sum.TotalPaidOut.Add(t.Amount)
		}
	}

	// Withdrawals count only once approved; a still-pending reservation
	// has a ledger entry but is not yet a withdrawal. Sum the approved
	// requests rather than the reserve/refund pairs.
	approved, err := s.store.ListWithdrawalRequests(ctx, model.RequestApproved)
	if err != nil {
		return nil, err
	}
	for _, w := range approved {
		sum.TotalWithdrawals = sum.TotalWithdrawals.Add(w.Amount)
	}
	if err := s.store.PutSummary(ctx, sum); err != nil {
		return nil, err
	}
	slog.Info("summary recomputed", "transactions", len(txns))
	return sum, nil
}
