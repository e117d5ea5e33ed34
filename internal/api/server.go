// Package api provides the HTTP surface of the wallet engine: user
// signup and queries, bet placement, the deposit/withdrawal workflows,
// and the admin settlement endpoints.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/betpitch/wallet-engine/internal/bet"
	"github.com/betpitch/wallet-engine/internal/funds"
	"github.com/betpitch/wallet-engine/internal/ledger"
	"github.com/betpitch/wallet-engine/internal/model"
	"github.com/betpitch/wallet-engine/internal/referral"
	"github.com/betpitch/wallet-engine/internal/settle"
	"github.com/betpitch/wallet-engine/internal/stake"
	"github.com/betpitch/wallet-engine/internal/store"
)

// Server wires the engine's services to HTTP routes.
type Server struct {
	store     store.Store
	bets      *bet.Service
	funds     *funds.Service
	referrals *referral.Engine
	settler   *settle.Engine
	ledger    *ledger.Service
}

// NewServer creates the HTTP server facade.
func NewServer(st store.Store, bets *bet.Service, fn *funds.Service, refs *referral.Engine, settler *settle.Engine, led *ledger.Service) *Server {
	return &Server{
		store:     st,
		bets:      bets,
		funds:     fn,
		referrals: refs,
		settler:   settler,
		ledger:    led,
	}
}

// Routes registers every endpoint under the given router.
func (s *Server) Routes(r chi.Router) {
	// Users.
	r.Post("/signup", s.Signup)
	r.Get("/users/{userID}", s.GetUser)
	r.Get("/users/{userID}/balance", s.GetBalance)
	r.Get("/users/{userID}/transactions", s.GetTransactions)
	r.Get("/users/{userID}/reconcile", s.Reconcile)
	r.Get("/users/{userID}/bets", s.ListUserBets)
	r.Delete("/users/{userID}", s.PurgeUser)

	// Matches and questions.
	r.Post("/matches", s.CreateMatch)
	r.Get("/matches", s.ListMatches)
	r.Get("/matches/{matchID}", s.GetMatch)
	r.Get("/matches/{matchID}/questions", s.ListQuestions)
	r.Get("/matches/{matchID}/bets", s.ListMatchBets)
	r.Post("/questions", s.CreateQuestion)

	// Betting.
	r.Post("/bets", s.PlaceBet)
	r.Get("/bets/{betID}", s.GetBet)

	// Deposits.
	r.Post("/deposits", s.CreateDeposit)
	r.Get("/deposits", s.ListDeposits)
	r.Post("/deposits/{requestID}/approve", s.ApproveDeposit)
	r.Post("/deposits/{requestID}/reject", s.RejectDeposit)

	// Withdrawals.
	r.Post("/withdrawals", s.CreateWithdrawal)
	r.Get("/withdrawals", s.ListWithdrawals)
	r.Post("/withdrawals/{requestID}/approve", s.ApproveWithdrawal)
	r.Post("/withdrawals/{requestID}/reject", s.RejectWithdrawal)

	// Settlement.
	r.Post("/questions/{questionID}/settle", s.SettleQuestion)
	r.Post("/matches/{matchID}/settle", s.SettleMatch)
	r.Post("/matches/{matchID}/cancel", s.CancelMatch)

	// Financial summary.
	r.Get("/summary", s.GetSummary)
	r.Post("/summary/recompute", s.RecomputeSummary)
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleError maps domain errors to HTTP statuses.
func handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrUserNotFound),
		errors.Is(err, model.ErrMatchNotFound),
		errors.Is(err, model.ErrBetNotFound),
		errors.Is(err, model.ErrQuestionNotFound),
		errors.Is(err, model.ErrRequestNotFound):
		writeError(w, err.Error(), http.StatusNotFound)

	case errors.Is(err, model.ErrInsufficientFunds),
		errors.Is(err, model.ErrMatchClosed),
		errors.Is(err, model.ErrAlreadySettled),
		errors.Is(err, model.ErrAlreadyFinished),
		errors.Is(err, model.ErrSettlementInProgress),
		errors.Is(err, model.ErrQuestionsIncomplete),
		errors.Is(err, model.ErrInvalidTransition):
		writeError(w, err.Error(), http.StatusConflict)

	case errors.Is(err, model.ErrUserDisabled):
		writeError(w, err.Error(), http.StatusForbidden)

	case errors.Is(err, model.ErrBelowMinimum),
		errors.Is(err, model.ErrMissingProof),
		errors.Is(err, model.ErrNoBankDetails),
		errors.Is(err, stake.ErrInvalidStake),
		errors.Is(err, bet.ErrNoPredictions),
		errors.Is(err, bet.ErrAmountNotPositive),
		errors.Is(err, referral.ErrUnknownReferralCode):
		writeError(w, err.Error(), http.StatusBadRequest)

	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}
