package model

import "errors"

// Precondition errors detected inside an atomic mutation. The transaction
// aborts cleanly when one of these is returned from the callback, so no
// partial write is ever visible. The HTTP layer maps them to status codes
// and the message is rendered verbatim by UI collaborators.
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrUserDisabled     = errors.New("user account is disabled")
	ErrMatchNotFound    = errors.New("match not found")
	ErrMatchClosed      = errors.New("match is not open for betting")
	ErrBetNotFound      = errors.New("bet not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrRequestNotFound  = errors.New("request not found")

	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoBankDetails     = errors.New("no bank details on file")
	ErrBelowMinimum      = errors.New("amount is below the minimum")
	ErrMissingProof      = errors.New("payment proof is required")

	ErrAlreadySettled       = errors.New("already settled")
	ErrAlreadyFinished      = errors.New("match already finished")
	ErrSettlementInProgress = errors.New("settlement is in progress")
	ErrQuestionsIncomplete  = errors.New("not all questions have results")

	// ErrInvalidTransition is returned by store implementations when a
	// status flip violates the transition tables in status.go.
	ErrInvalidTransition = errors.New("invalid status transition")
)
