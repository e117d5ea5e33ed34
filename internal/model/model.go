// Package model defines the core domain types shared across the wallet
// engine. All monetary values use shopspring/decimal — never float64 for
// money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a betting account. WalletBalance is the single source of truth
// for spendable funds and is only ever mutated through store.Tx.
type User struct {
	ID                   string          `json:"id" db:"id"`
	Name                 string          `json:"name" db:"name"`
	WalletBalance        decimal.Decimal `json:"wallet_balance" db:"wallet_balance"`
	BankDetails          *BankDetails    `json:"bank_details,omitempty" db:"bank_details"`
	ReferralCode         string          `json:"referral_code" db:"referral_code"`
	ReferredBy           string          `json:"referred_by,omitempty" db:"referred_by"` // referrer user ID
	IsFirstBetPlaced     bool            `json:"is_first_bet_placed" db:"is_first_bet_placed"`
	ReferralBonusAwarded bool            `json:"referral_bonus_awarded" db:"referral_bonus_awarded"`
	Disabled             bool            `json:"disabled" db:"disabled"`
	Role                 string          `json:"role" db:"role"` // "user" or "admin"; admin surface only
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
}

// BankDetails are payout coordinates for withdrawals. A frozen copy is
// embedded in each WithdrawalRequest at request time for audit.
type BankDetails struct {
	AccountHolder string `json:"account_holder"`
	AccountNumber string `json:"account_number"`
	BankName      string `json:"bank_name"`
	IFSC          string `json:"ifsc,omitempty"`
}

// Prediction is one leg of a bet: an answer to one question, optionally
// scoped to a player for special matches.
type Prediction struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
	PlayerID   string `json:"player_id,omitempty"` // set only for player-level questions
}

// Bet is a wager against a match. The amount is debited from the user's
// balance in the same transaction that creates the bet, and the status
// moves exactly once from Pending to a terminal state, only via the
// settlement engine.
type Bet struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	MatchID      string          `json:"match_id" db:"match_id"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	PotentialWin decimal.Decimal `json:"potential_win" db:"potential_win"`
	Status       BetStatus       `json:"status" db:"status"`
	Predictions  []Prediction    `json:"predictions" db:"predictions"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// DepositRequest is the user's claim that funds were paid in externally.
// No balance change happens at creation; the credit happens exactly once,
// inside the transaction that flips the status to Approved.
type DepositRequest struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	ProofRef  string          `json:"proof_ref" db:"proof_ref"` // blob-storage URL, opaque to the engine
	TxnRef    string          `json:"txn_ref" db:"txn_ref"`
	Status    RequestStatus   `json:"status" db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// WithdrawalRequest reserves funds at request time: the amount is debited
// inside the transaction that creates the request. Approval never debits
// again; rejection credits the reserved amount back.
type WithdrawalRequest struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	BankDetails BankDetails     `json:"bank_details" db:"bank_details"` // snapshot, frozen at request time
	Status      RequestStatus   `json:"status" db:"status"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Referral links a referrer to a referred user. At most one completed
// referral exists per pair; completion pays the referrer bonus.
type Referral struct {
	ID          string         `json:"id" db:"id"`
	ReferrerID  string         `json:"referrer_id" db:"referrer_id"`
	ReferredID  string         `json:"referred_id" db:"referred_id"`
	Status      ReferralStatus `json:"status" db:"status"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// Transaction is an immutable ledger entry. Once created, these are never
// modified or deleted. Every balance change writes one, so a user's
// balance always equals the signed sum of their transaction amounts.
type Transaction struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"` // signed: +credit, -debit
	Type        TxnType         `json:"type" db:"type"`
	Description string          `json:"description" db:"description"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Player belongs to a team roster. Player-level questions are only offered
// when BettingEnabled is set and the match is flagged special.
type Player struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	BettingEnabled bool   `json:"betting_enabled"`
}

// Team is one side of a match.
type Team struct {
	Name    string   `json:"name"`
	Logo    string   `json:"logo,omitempty"`
	Players []Player `json:"players,omitempty"`
}

// Match is the event users bet on.
type Match struct {
	ID                   string      `json:"id" db:"id"`
	Sport                string      `json:"sport" db:"sport"`
	TeamA                Team        `json:"team_a" db:"team_a"`
	TeamB                Team        `json:"team_b" db:"team_b"`
	Status               MatchStatus `json:"status" db:"status"`
	StartsAt             time.Time   `json:"starts_at" db:"starts_at"`
	FinalScore           string      `json:"final_score,omitempty" db:"final_score"`
	Winner               string      `json:"winner,omitempty" db:"winner"`
	IsSpecialMatch       bool        `json:"is_special_match" db:"is_special_match"`
	AllowOneSidedBets    bool        `json:"allow_one_sided_bets" db:"allow_one_sided_bets"`
	SettlementInProgress bool        `json:"settlement_in_progress" db:"settlement_in_progress"`
	CreatedAt            time.Time   `json:"created_at" db:"created_at"`
}

// Question is a binary market on a match: two labeled options, settled at
// most once. MatchID is empty for reusable template-bank questions.
type Question struct {
	ID      string          `json:"id" db:"id"`
	MatchID string          `json:"match_id,omitempty" db:"match_id"`
	Text    string          `json:"text" db:"text"`
	OptionA string          `json:"option_a" db:"option_a"`
	OptionB string          `json:"option_b" db:"option_b"`
	Status  QuestionStatus  `json:"status" db:"status"`
	Result  *QuestionResult `json:"result,omitempty" db:"result"`
}

// HasOption reports whether answer is one of the question's two labels.
func (q *Question) HasOption(answer string) bool {
	return answer == q.OptionA || answer == q.OptionB
}

// ResultKind discriminates the QuestionResult union.
type ResultKind string

const (
	ResultTeam   ResultKind = "team"
	ResultPlayer ResultKind = "player"
)

// QuestionResult is the settled outcome of a question. Team results carry
// only the winning answer; player results also name the player.
type QuestionResult struct {
	Kind     ResultKind `json:"kind"`
	Answer   string     `json:"answer"`
	PlayerID string     `json:"player_id,omitempty"` // set when Kind == ResultPlayer
}

// Matches reports whether a prediction hits this result.
func (r *QuestionResult) Matches(p Prediction) bool {
	if r == nil {
		return false
	}
	if p.Answer != r.Answer {
		return false
	}
	if r.Kind == ResultPlayer {
		return p.PlayerID == r.PlayerID
	}
	return true
}

// Summary is the materialized all-time financial aggregate. It is derived
// from the transaction log and can be recomputed from it at any time, so a
// partial failure never leaves it permanently wrong.
type Summary struct {
	TotalDeposits    decimal.Decimal `json:"total_deposits"`
	TotalWithdrawals decimal.Decimal `json:"total_withdrawals"`
	TotalStaked      decimal.Decimal `json:"total_staked"`
	TotalPaidOut     decimal.Decimal `json:"total_paid_out"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
