package model

// Status fields are enumerated types with explicit transition tables.
// Store implementations validate transitions at the mutation boundary, so
// an illegal flip (settling a bet twice, approving a rejected request)
// fails inside the transaction and nothing is written.

// BetStatus is the lifecycle state of a bet.
type BetStatus string

const (
	BetPending  BetStatus = "Pending"
	BetWon      BetStatus = "Won"
	BetLost     BetStatus = "Lost"
	BetRefunded BetStatus = "Refunded" // match cancelled, stake returned
)

var betTransitions = map[BetStatus][]BetStatus{
	BetPending: {BetWon, BetLost, BetRefunded},
}

// CanTransition reports whether s → to is a legal bet transition.
func (s BetStatus) CanTransition(to BetStatus) bool {
	return contains(betTransitions[s], to)
}

// Terminal reports whether the bet can no longer change state.
func (s BetStatus) Terminal() bool { return len(betTransitions[s]) == 0 }

// RequestStatus is shared by deposit and withdrawal requests.
// Approved and Rejected are terminal.
type RequestStatus string

const (
	RequestProcessing RequestStatus = "Processing"
	RequestApproved   RequestStatus = "Approved"
	RequestRejected   RequestStatus = "Rejected"
)

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestProcessing: {RequestApproved, RequestRejected},
}

// CanTransition reports whether s → to is a legal request transition.
func (s RequestStatus) CanTransition(to RequestStatus) bool {
	return contains(requestTransitions[s], to)
}

// ReferralStatus is the lifecycle state of a referral pair.
type ReferralStatus string

const (
	ReferralPending   ReferralStatus = "pending"
	ReferralCompleted ReferralStatus = "completed"
)

// MatchStatus is the lifecycle state of a match.
// Upcoming → Live → Finished, with a Cancelled side-exit that refunds
// every pending bet instead of settling it.
type MatchStatus string

const (
	MatchUpcoming  MatchStatus = "Upcoming"
	MatchLive      MatchStatus = "Live"
	MatchFinished  MatchStatus = "Finished"
	MatchCancelled MatchStatus = "Cancelled"
)

var matchTransitions = map[MatchStatus][]MatchStatus{
	MatchUpcoming: {MatchLive, MatchFinished, MatchCancelled},
	MatchLive:     {MatchFinished, MatchCancelled},
}

// CanTransition reports whether s → to is a legal match transition.
func (s MatchStatus) CanTransition(to MatchStatus) bool {
	return contains(matchTransitions[s], to)
}

// Open reports whether the match still accepts bets.
func (s MatchStatus) Open() bool { return s == MatchUpcoming || s == MatchLive }

// QuestionStatus is the lifecycle state of a question.
type QuestionStatus string

const (
	QuestionActive  QuestionStatus = "active"
	QuestionSettled QuestionStatus = "settled"
)

// TxnType classifies ledger entries. Every balance change is logged with
// one of these, signed from the affected user's point of view.
type TxnType string

const (
	TxnDeposit           TxnType = "deposit"            // + approved deposit
	TxnWithdrawalReserve TxnType = "withdrawal_reserve" // - reserved at request time
	TxnWithdrawalRefund  TxnType = "withdrawal_refund"  // + reservation returned on rejection
	TxnBetStake          TxnType = "bet_stake"          // - stake at placement
	TxnBetPayout         TxnType = "bet_payout"         // + potential win on a won bet
	TxnBetRefund         TxnType = "bet_refund"         // + stake returned on match cancellation
	TxnSignupBonus       TxnType = "signup_bonus"       // + credited once at signup
	TxnReferralBonus     TxnType = "referral_bonus"     // + credited once to the referrer
)

func contains[T comparable](xs []T, x T) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
