// Package store defines the persistence interface for the wallet engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache for match and question reads), and in-memory (for testing).
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/betpitch/wallet-engine/internal/model"
)

// Store is the persistence interface. Plain methods are single-document
// reads and writes; every ledger-affecting operation goes through Atomic.
type Store interface {
	// Atomic is the mutation primitive every balance writer must use.
	// It executes fn against a transactional view: all reads see one
	// snapshot, all writes commit together or not at all, and if the
	// snapshot goes stale before commit the whole callback is retried
	// transparently. If fn returns an error the transaction aborts and
	// no partial write is visible.
	//
	// Callbacks must do all reads before the first write and must not
	// read back their own writes.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	// --- Users ---

	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*model.User, error)

	// PurgeUser hard-deletes a user and every financial document they
	// own, in batches. Admin-only escape hatch; there is no cross-batch
	// consistency guarantee.
	PurgeUser(ctx context.Context, id string) error

	// --- Matches and questions ---

	CreateMatch(ctx context.Context, m *model.Match) error
	GetMatch(ctx context.Context, id string) (*model.Match, error)
	ListMatches(ctx context.Context) ([]model.Match, error)
	CreateQuestion(ctx context.Context, q *model.Question) error
	GetQuestion(ctx context.Context, id string) (*model.Question, error)
	ListQuestionsByMatch(ctx context.Context, matchID string) ([]model.Question, error)

	// --- Bets ---

	GetBet(ctx context.Context, id string) (*model.Bet, error)
	ListBetsByUser(ctx context.Context, userID string) ([]model.Bet, error)
	ListBetsByMatch(ctx context.Context, matchID string) ([]model.Bet, error)

	// --- Deposit / withdrawal requests ---

	// CreateDepositRequest records the claim with status Processing.
	// No balance change happens here.
	CreateDepositRequest(ctx context.Context, r *model.DepositRequest) error
	GetDepositRequest(ctx context.Context, id string) (*model.DepositRequest, error)
	ListDepositRequests(ctx context.Context, status model.RequestStatus) ([]model.DepositRequest, error)

	// UpdateDepositStatus is the non-transactional rejection flip.
	// Transition-validated; approval must go through Atomic instead.
	UpdateDepositStatus(ctx context.Context, id string, to model.RequestStatus) error

	GetWithdrawalRequest(ctx context.Context, id string) (*model.WithdrawalRequest, error)
	ListWithdrawalRequests(ctx context.Context, status model.RequestStatus) ([]model.WithdrawalRequest, error)

	// --- Immutable ledger ---

	ListTransactionsByUser(ctx context.Context, userID string) ([]model.Transaction, error)
	ListTransactions(ctx context.Context) ([]model.Transaction, error)

	// --- Financial summary ---

	GetSummary(ctx context.Context) (*model.Summary, error)
	PutSummary(ctx context.Context, s *model.Summary) error
}

// Tx is the transactional view handed to Atomic callbacks. Reads return
// snapshot state; writes are staged and committed together. Status flips
// are validated against the model transition tables and fail with
// model.ErrInvalidTransition, aborting the transaction.
type Tx interface {
	GetUser(id string) (*model.User, error)
	UpdateUserBalance(id string, balance decimal.Decimal) error
	MarkFirstBetPlaced(id string) error
	MarkReferralBonusAwarded(id string) error

	GetMatch(id string) (*model.Match, error)
	UpdateMatchStatus(id string, to model.MatchStatus) error
	SetMatchResult(id, winner, finalScore string) error
	SetSettlementInProgress(id string, inProgress bool) error

	CreateBet(b *model.Bet) error
	ListPendingBetsByMatch(matchID string, limit int) ([]model.Bet, error)
	UpdateBetStatus(id string, to model.BetStatus) error

	GetQuestion(id string) (*model.Question, error)
	ListQuestionsByMatch(matchID string) ([]model.Question, error)
	SettleQuestion(id string, res model.QuestionResult) error

	GetDepositRequest(id string) (*model.DepositRequest, error)
	// ApproveDepositRequest flips Processing → Approved and records the
	// possibly admin-corrected amount.
	ApproveDepositRequest(id string, amount decimal.Decimal) error

	CreateWithdrawalRequest(r *model.WithdrawalRequest) error
	GetWithdrawalRequest(id string) (*model.WithdrawalRequest, error)
	UpdateWithdrawalStatus(id string, to model.RequestStatus) error

	// CreateReferral records the pending (referrer, referred) pair; each
	// pair may exist at most once.
	CreateReferral(r *model.Referral) error
	GetPendingReferral(referredID string) (*model.Referral, error)
	CompleteReferral(id string) error

	InsertTransaction(t *model.Transaction) error
	SumApprovedDeposits(userID string) (decimal.Decimal, int, error)
	SumBetStakes(userID string) (decimal.Decimal, error)

	// AddToSummary bumps the materialized aggregate. Deltas may be zero.
	AddToSummary(deposits, withdrawals, staked, paidOut decimal.Decimal) error
}
