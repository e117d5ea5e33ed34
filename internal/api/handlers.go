package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/betpitch/wallet-engine/internal/bet"
	"github.com/betpitch/wallet-engine/internal/model"
	"github.com/betpitch/wallet-engine/internal/settle"
)

// --- Users ---

// SignupRequest is the JSON body for POST /api/v1/signup.
type SignupRequest struct {
	Name         string `json:"name"`
	ReferralCode string `json:"referral_code,omitempty"`
}

// Signup handles POST /api/v1/signup.
func (s *Server) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	user, err := s.referrals.Signup(r.Context(), req.Name, req.ReferralCode)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// GetUser handles GET /api/v1/users/{userID}.
func (s *Server) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// GetBalance handles GET /api/v1/users/{userID}/balance.
func (s *Server) GetBalance(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": user.WalletBalance})
}

// GetTransactions handles GET /api/v1/users/{userID}/transactions.
func (s *Server) GetTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := s.ledger.History(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		handleError(w, err)
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

// Reconcile handles GET /api/v1/users/{userID}/reconcile.
func (s *Server) Reconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := s.ledger.Reconcile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListUserBets handles GET /api/v1/users/{userID}/bets.
func (s *Server) ListUserBets(w http.ResponseWriter, r *http.Request) {
	bets, err := s.store.ListBetsByUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		handleError(w, err)
		return
	}
	if bets == nil {
		bets = []model.Bet{}
	}
	writeJSON(w, http.StatusOK, bets)
}

// PurgeUser handles DELETE /api/v1/users/{userID}. Admin escape hatch:
// removes the user and every financial document they own.
func (s *Server) PurgeUser(w http.ResponseWriter, r *http.Request) {
	if err := s.store.PurgeUser(r.Context(), chi.URLParam(r, "userID")); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Matches and questions ---

// CreateMatchRequest is the JSON body for POST /api/v1/matches.
type CreateMatchRequest struct {
	Sport             string     `json:"sport"`
	TeamA             model.Team `json:"team_a"`
	TeamB             model.Team `json:"team_b"`
	StartsAt          time.Time  `json:"starts_at"`
	IsSpecialMatch    bool       `json:"is_special_match"`
	AllowOneSidedBets bool       `json:"allow_one_sided_bets"`
}

// CreateMatch handles POST /api/v1/matches.
func (s *Server) CreateMatch(w http.ResponseWriter, r *http.Request) {
	var req CreateMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Sport == "" || req.TeamA.Name == "" || req.TeamB.Name == "" {
		writeError(w, "sport and both team names are required", http.StatusBadRequest)
		return
	}

	m := &model.Match{
		ID:                uuid.New().String(),
		Sport:             req.Sport,
		TeamA:             req.TeamA,
		TeamB:             req.TeamB,
		Status:            model.MatchUpcoming,
		StartsAt:          req.StartsAt,
		IsSpecialMatch:    req.IsSpecialMatch,
		AllowOneSidedBets: req.AllowOneSidedBets,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.store.CreateMatch(r.Context(), m); err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// ListMatches handles GET /api/v1/matches.
func (s *Server) ListMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := s.store.ListMatches(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	if matches == nil {
		matches = []model.Match{}
	}
	writeJSON(w, http.StatusOK, matches)
}

// GetMatch handles GET /api/v1/matches/{matchID}.
func (s *Server) GetMatch(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMatch(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ListQuestions handles GET /api/v1/matches/{matchID}/questions.
func (s *Server) ListQuestions(w http.ResponseWriter, r *http.Request) {
	qs, err := s.store.ListQuestionsByMatch(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		handleError(w, err)
		return
	}
	if qs == nil {
		qs = []model.Question{}
	}
	writeJSON(w, http.StatusOK, qs)
}

// ListMatchBets handles GET /api/v1/matches/{matchID}/bets.
func (s *Server) ListMatchBets(w http.ResponseWriter, r *http.Request) {
	bets, err := s.store.ListBetsByMatch(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		handleError(w, err)
		return
	}
	if bets == nil {
		bets = []model.Bet{}
	}
	writeJSON(w, http.StatusOK, bets)
}

// CreateQuestionRequest is the JSON body for POST /api/v1/questions.
// MatchID may be empty for reusable template-bank questions.
type CreateQuestionRequest struct {
	MatchID string `json:"match_id,omitempty"`
	Text    string `json:"text"`
	OptionA string `json:"option_a"`
	OptionB string `json:"option_b"`
}

// CreateQuestion handles POST /api/v1/questions.
func (s *Server) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	var req CreateQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Text == "" || req.OptionA == "" || req.OptionB == "" {
		writeError(w, "text and both options are required", http.StatusBadRequest)
		return
	}
	if req.MatchID != "" {
		if _, err := s.store.GetMatch(r.Context(), req.MatchID); err != nil {
			handleError(w, err)
			return
		}
	}

	q := &model.Question{
		ID:      uuid.New().String(),
		MatchID: req.MatchID,
		Text:    req.Text,
		OptionA: req.OptionA,
		OptionB: req.OptionB,
		Status:  model.QuestionActive,
	}
	if err := s.store.CreateQuestion(r.Context(), q); err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

// --- Betting ---

// PlaceBet handles POST /api/v1/bets.
func (s *Server) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req bet.PlaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.MatchID == "" {
		writeError(w, "user_id and match_id are required", http.StatusBadRequest)
		return
	}

	b, err := s.bets.Place(r.Context(), req)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// GetBet handles GET /api/v1/bets/{betID}.
func (s *Server) GetBet(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.GetBet(r.Context(), chi.URLParam(r, "betID"))
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// --- Deposits ---

// CreateDepositRequest is the JSON body for POST /api/v1/deposits.
type CreateDepositRequest struct {
	UserID   string          `json:"user_id"`
	Amount   decimal.Decimal `json:"amount"`
	ProofRef string          `json:"proof_ref"` // blob-storage URL of the payment proof
	TxnRef   string          `json:"txn_ref,omitempty"`
}

// CreateDeposit handles POST /api/v1/deposits.
func (s *Server) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	var req CreateDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	dep, err := s.funds.CreateDeposit(r.Context(), req.UserID, req.Amount, req.ProofRef, req.TxnRef)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dep)
}

// ListDeposits handles GET /api/v1/deposits?status=processing.
func (s *Server) ListDeposits(w http.ResponseWriter, r *http.Request) {
	status := model.RequestStatus(r.URL.Query().Get("status"))
	deps, err := s.store.ListDepositRequests(r.Context(), status)
	if err != nil {
		handleError(w, err)
		return
	}
	if deps == nil {
		deps = []model.DepositRequest{}
	}
	writeJSON(w, http.StatusOK, deps)
}

// ApproveDepositRequest is the JSON body for deposit approval. Amount is
// the verified figure from the payment proof and may correct the claim.
type ApproveDepositRequest struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// ApproveDeposit handles POST /api/v1/deposits/{requestID}/approve.
func (s *Server) ApproveDeposit(w http.ResponseWriter, r *http.Request) {
	var req ApproveDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	requestID := chi.URLParam(r, "requestID")
	if err := s.funds.ApproveDeposit(r.Context(), requestID, req.UserID, req.Amount); err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// RejectDeposit handles POST /api/v1/deposits/{requestID}/reject.
func (s *Server) RejectDeposit(w http.ResponseWriter, r *http.Request) {
	if err := s.funds.RejectDeposit(r.Context(), chi.URLParam(r, "requestID")); err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// --- Withdrawals ---

// CreateWithdrawalRequest is the JSON body for POST /api/v1/withdrawals.
type CreateWithdrawalRequest struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// CreateWithdrawal handles POST /api/v1/withdrawals.
func (s *Server) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req CreateWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	wr, err := s.funds.CreateWithdrawal(r.Context(), req.UserID, req.Amount)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wr)
}

// ListWithdrawals handles GET /api/v1/withdrawals?status=processing.
func (s *Server) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	status := model.RequestStatus(r.URL.Query().Get("status"))
	wrs, err := s.store.ListWithdrawalRequests(r.Context(), status)
	if err != nil {
		handleError(w, err)
		return
	}
	if wrs == nil {
		wrs = []model.WithdrawalRequest{}
	}
	writeJSON(w, http.StatusOK, wrs)
}

// ApproveWithdrawal handles POST /api/v1/withdrawals/{requestID}/approve.
func (s *Server) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	if err := s.funds.ApproveWithdrawal(r.Context(), chi.URLParam(r, "requestID")); err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// RejectWithdrawal handles POST /api/v1/withdrawals/{requestID}/reject.
func (s *Server) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	if err := s.funds.RejectWithdrawal(r.Context(), chi.URLParam(r, "requestID")); err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// --- Settlement ---

// SettleQuestion handles POST /api/v1/questions/{questionID}/settle.
func (s *Server) SettleQuestion(w http.ResponseWriter, r *http.Request) {
	var res model.QuestionResult
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if res.Kind == "" {
		res.Kind = model.ResultTeam
	}

	questionID := chi.URLParam(r, "questionID")
	if err := s.settler.SettleQuestion(r.Context(), questionID, res); err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

// SettleMatchRequest is the JSON body for POST /api/v1/matches/{matchID}/settle.
type SettleMatchRequest struct {
	Results    map[string]model.QuestionResult `json:"results"`
	Winner     string                          `json:"winner,omitempty"`
	FinalScore string                          `json:"final_score,omitempty"`
}

// SettleMatch handles POST /api/v1/matches/{matchID}/settle.
func (s *Server) SettleMatch(w http.ResponseWriter, r *http.Request) {
	var req SettleMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.settler.SettleMatch(r.Context(), settle.Request{
		MatchID:    chi.URLParam(r, "matchID"),
		Results:    req.Results,
		Winner:     req.Winner,
		FinalScore: req.FinalScore,
	})
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelMatch handles POST /api/v1/matches/{matchID}/cancel.
func (s *Server) CancelMatch(w http.ResponseWriter, r *http.Request) {
	res, err := s.settler.CancelMatch(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Financial summary ---

// GetSummary handles GET /api/v1/summary.
func (s *Server) GetSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.ledger.Summary(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// RecomputeSummary handles POST /api/v1/summary/recompute. Rebuilds the
// materialized aggregate from the transaction log.
func (s *Server) RecomputeSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.ledger.RecomputeSummary(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
