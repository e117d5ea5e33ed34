package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betpitch/wallet-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Atomic serializes callbacks under one mutex and restores a
// snapshot if the callback fails, so aborts leave no partial writes —
// the same contract the Postgres implementation provides via transactions.
type MemoryStore struct {
	mu          sync.Mutex
	users       map[string]*model.User
	matches     map[string]*model.Match
	questions   map[string]*model.Question
	bets        map[string]*model.Bet
	deposits    map[string]*model.DepositRequest
	withdrawals map[string]*model.WithdrawalRequest
	referrals   map[string]*model.Referral
	txns        []model.Transaction
	summary     model.Summary
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*model.User),
		matches:     make(map[string]*model.Match),
		questions:   make(map[string]*model.Question),
		bets:        make(map[string]*model.Bet),
		deposits:    make(map[string]*model.DepositRequest),
		withdrawals: make(map[string]*model.WithdrawalRequest),
		referrals:   make(map[string]*model.Referral),
	}
}

// snapshot captures a copy of all mutable state for rollback.
type memSnapshot struct {
	users       map[string]*model.User
	matches     map[string]*model.Match
	questions   map[string]*model.Question
	bets        map[string]*model.Bet
	deposits    map[string]*model.DepositRequest
	withdrawals map[string]*model.WithdrawalRequest
	referrals   map[string]*model.Referral
	txns        []model.Transaction
	summary     model.Summary
}

func copyMap[T any](src map[string]*T) map[string]*T {
	dst := make(map[string]*T, len(src))
	for k, v := range src {
		cp := *v
		dst[k] = &cp
	}
	return dst
}

func (s *MemoryStore) take() memSnapshot {
	return memSnapshot{
		users:       copyMap(s.users),
		matches:     copyMap(s.matches),
		questions:   copyMap(s.questions),
		bets:        copyMap(s.bets),
		deposits:    copyMap(s.deposits),
		withdrawals: copyMap(s.withdrawals),
		referrals:   copyMap(s.referrals),
		txns:        append([]model.Transaction(nil), s.txns...),
		summary:     s.summary,
	}
}

func (s *MemoryStore) restore(snap memSnapshot) {
	s.users = snap.users
	s.matches = snap.matches
	s.questions = snap.questions
	s.bets = snap.bets
	s.deposits = snap.deposits
	s.withdrawals = snap.withdrawals
	s.referrals = snap.referrals
	s.txns = snap.txns
	s.summary = snap.summary
}

// Atomic runs fn under the store mutex. Writers never interleave, so the
// snapshot can never go stale and no retry is needed here.
func (s *MemoryStore) Atomic(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.take()
	if err := fn(&memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// --- Plain Store methods ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("user %s already exists", u.ID)
	}
	for _, existing := range s.users {
		if existing.ReferralCode == u.ReferralCode {
			return fmt.Errorf("referral code %s already taken", u.ReferralCode)
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getCopy(s.users, id, model.ErrUserNotFound)
}

func (s *MemoryStore) GetUserByReferralCode(_ context.Context, code string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.ReferralCode == code {
			cp := *u
			return &cp, nil
		}
	}
	return nil, model.ErrUserNotFound
}

func (s *MemoryStore) PurgeUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return model.ErrUserNotFound
	}
	delete(s.users, id)
	for k, b := range s.bets {
		if b.UserID == id {
			delete(s.bets, k)
		}
	}
	for k, d := range s.deposits {
		if d.UserID == id {
			delete(s.deposits, k)
		}
	}
	for k, w := range s.withdrawals {
		if w.UserID == id {
			delete(s.withdrawals, k)
		}
	}
	for k, r := range s.referrals {
		if r.ReferredID == id || r.ReferrerID == id {
			delete(s.referrals, k)
		}
	}
	kept := s.txns[:0]
	for _, t := range s.txns {
		if t.UserID != id {
			kept = append(kept, t)
		}
	}
	s.txns = kept
	return nil
}

func (s *MemoryStore) CreateMatch(_ context.Context, m *model.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.matches[m.ID]; ok {
		return fmt.Errorf("match %s already exists", m.ID)
	}
	cp := *m
	s.matches[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMatch(_ context.Context, id string) (*model.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getCopy(s.matches, id, model.ErrMatchNotFound)
}

func (s *MemoryStore) ListMatches(_ context.Context) ([]model.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches := make([]model.Match, 0, len(s.matches))
	for _, m := range s.matches {
		matches = append(matches, *m)
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	return matches, nil
}

func (s *MemoryStore) CreateQuestion(_ context.Context, q *model.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.questions[q.ID]; ok {
		return fmt.Errorf("question %s already exists", q.ID)
	}
	cp := *q
	s.questions[q.ID] = &cp
	return nil
}

func (s *MemoryStore) GetQuestion(_ context.Context, id string) (*model.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getCopy(s.questions, id, model.ErrQuestionNotFound)
}

func (s *MemoryStore) ListQuestionsByMatch(_ context.Context, matchID string) ([]model.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.questionsByMatch(matchID), nil
}

func (s *MemoryStore) questionsByMatch(matchID string) []model.Question {
	var qs []model.Question
	for _, q := range s.questions {
		if q.MatchID == matchID {
			qs = append(qs, *q)
		}
	}
	sort.Slice(qs, func(i, j int) bool { return qs[i].ID < qs[j].ID })
	return qs
}

func (s *MemoryStore) GetBet(_ context.Context, id string) (*model.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getCopy(s.bets, id, model.ErrBetNotFound)
}

func (s *MemoryStore) ListBetsByUser(_ context.Context, userID string) ([]model.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bets []model.Bet
	for _, b := range s.bets {
		if b.UserID == userID {
			bets = append(bets, *b)
		}
	}
	sortBets(bets)
	return bets, nil
}

func (s *MemoryStore) ListBetsByMatch(_ context.Context, matchID string) ([]model.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bets []model.Bet
	for _, b := range s.bets {
		if b.MatchID == matchID {
			bets = append(bets, *b)
		}
	}
	sortBets(bets)
	return bets, nil
}

func (s *MemoryStore) CreateDepositRequest(_ context.Context, r *model.DepositRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deposits[r.ID]; ok {
		return fmt.Errorf("deposit request %s already exists", r.ID)
	}
	cp := *r
	s.deposits[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetDepositRequest(_ context.Context, id string) (*model.DepositRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getCopy(s.deposits, id, model.ErrRequestNotFound)
}

func (s *MemoryStore) ListDepositRequests(_ context.Context, status model.RequestStatus) ([]model.DepositRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reqs []model.DepositRequest
	for _, r := range s.deposits {
		if status == "" || r.Status == status {
			reqs = append(reqs, *r)
		}
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].CreatedAt.Before(reqs[j].CreatedAt) })
	return reqs, nil
}

func (s *MemoryStore) UpdateDepositStatus(_ context.Context, id string, to model.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.deposits[id]
	if !ok {
		return model.ErrRequestNotFound
	}
	if !r.Status.CanTransition(to) {
		return fmt.Errorf("deposit %s: %s -> %s: %w", id, r.Status, to, model.ErrInvalidTransition)
	}
	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) GetWithdrawalRequest(_ context.Context, id string) (*model.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getCopy(s.withdrawals, id, model.ErrRequestNotFound)
}

func (s *MemoryStore) ListWithdrawalRequests(_ context.Context, status model.RequestStatus) ([]model.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reqs []model.WithdrawalRequest
	for _, r := range s.withdrawals {
		if status == "" || r.Status == status {
			reqs = append(reqs, *r)
		}
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].CreatedAt.Before(reqs[j].CreatedAt) })
	return reqs, nil
}

func (s *MemoryStore) ListTransactionsByUser(_ context.Context, userID string) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var txns []model.Transaction
	for _, t := range s.txns {
		if t.UserID == userID {
			txns = append(txns, t)
		}
	}
	// Newest first, matching the SQL ordering.
	sort.SliceStable(txns, func(i, j int) bool {
		return txns[i].CreatedAt.After(txns[j].CreatedAt)
	})
	return txns, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Transaction(nil), s.txns...), nil
}

func (s *MemoryStore) GetSummary(_ context.Context) (*model.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := s.summary
	return &cp, nil
}

func (s *MemoryStore) PutSummary(_ context.Context, sum *model.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summary = *sum
	return nil
}

func getCopy[T any](m map[string]*T, id string, notFound error) (*T, error) {
	v, ok := m[id]
	if !ok {
		return nil, notFound
	}
	cp := *v
	return &cp, nil
}

func sortBets(bets []model.Bet) {
	sort.Slice(bets, func(i, j int) bool {
		if bets[i].CreatedAt.Equal(bets[j].CreatedAt) {
			return bets[i].ID < bets[j].ID
		}
		return bets[i].CreatedAt.Before(bets[j].CreatedAt)
	})
}

// --- Transactional view ---

// memTx mutates the store directly; Atomic holds the lock and rolls the
// whole store back if the callback fails.
type memTx struct {
	s *MemoryStore
}

func (tx *memTx) GetUser(id string) (*model.User, error) {
	return getCopy(tx.s.users, id, model.ErrUserNotFound)
}

func (tx *memTx) UpdateUserBalance(id string, balance decimal.Decimal) error {
	u, ok := tx.s.users[id]
	if !ok {
		return model.ErrUserNotFound
	}
	if balance.IsNegative() {
		return fmt.Errorf("user %s: balance would go negative: %w", id, model.ErrInsufficientFunds)
	}
	u.WalletBalance = balance
	return nil
}

func (tx *memTx) MarkFirstBetPlaced(id string) error {
	u, ok := tx.s.users[id]
	if !ok {
		return model.ErrUserNotFound
	}
	u.IsFirstBetPlaced = true
	return nil
}

func (tx *memTx) MarkReferralBonusAwarded(id string) error {
	u, ok := tx.s.users[id]
	if !ok {
		return model.ErrUserNotFound
	}
	u.ReferralBonusAwarded = true
	return nil
}

func (tx *memTx) GetMatch(id string) (*model.Match, error) {
	return getCopy(tx.s.matches, id, model.ErrMatchNotFound)
}

func (tx *memTx) UpdateMatchStatus(id string, to model.MatchStatus) error {
	m, ok := tx.s.matches[id]
	if !ok {
		return model.ErrMatchNotFound
	}
	if !m.Status.CanTransition(to) {
		return fmt.Errorf("match %s: %s -> %s: %w", id, m.Status, to, model.ErrInvalidTransition)
	}
	m.Status = to
	return nil
}

func (tx *memTx) SetMatchResult(id, winner, finalScore string) error {
	m, ok := tx.s.matches[id]
	if !ok {
		return model.ErrMatchNotFound
	}
	m.Winner = winner
	m.FinalScore = finalScore
	return nil
}

func (tx *memTx) SetSettlementInProgress(id string, inProgress bool) error {
	m, ok := tx.s.matches[id]
	if !ok {
		return model.ErrMatchNotFound
	}
	m.SettlementInProgress = inProgress
	return nil
}

func (tx *memTx) CreateBet(b *model.Bet) error {
	if _, ok := tx.s.bets[b.ID]; ok {
		return fmt.Errorf("bet %s already exists", b.ID)
	}
	cp := *b
	tx.s.bets[b.ID] = &cp
	return nil
}

func (tx *memTx) ListPendingBetsByMatch(matchID string, limit int) ([]model.Bet, error) {
	var bets []model.Bet
	for _, b := range tx.s.bets {
		if b.MatchID == matchID && b.Status == model.BetPending {
			bets = append(bets, *b)
		}
	}
	sortBets(bets)
	if limit > 0 && len(bets) > limit {
		bets = bets[:limit]
	}
	return bets, nil
}

func (tx *memTx) UpdateBetStatus(id string, to model.BetStatus) error {
	b, ok := tx.s.bets[id]
	if !ok {
		return model.ErrBetNotFound
	}
	if !b.Status.CanTransition(to) {
		return fmt.Errorf("bet %s: %s -> %s: %w", id, b.Status, to, model.ErrInvalidTransition)
	}
	b.Status = to
	return nil
}

func (tx *memTx) GetQuestion(id string) (*model.Question, error) {
	return getCopy(tx.s.questions, id, model.ErrQuestionNotFound)
}

func (tx *memTx) ListQuestionsByMatch(matchID string) ([]model.Question, error) {
	return tx.s.questionsByMatch(matchID), nil
}

func (tx *memTx) SettleQuestion(id string, res model.QuestionResult) error {
	q, ok := tx.s.questions[id]
	if !ok {
		return model.ErrQuestionNotFound
	}
	if q.Status == model.QuestionSettled {
		return fmt.Errorf("question %s: %w", id, model.ErrAlreadySettled)
	}
	q.Status = model.QuestionSettled
	cp := res
	q.Result = &cp
	return nil
}

func (tx *memTx) GetDepositRequest(id string) (*model.DepositRequest, error) {
	return getCopy(tx.s.deposits, id, model.ErrRequestNotFound)
}

func (tx *memTx) ApproveDepositRequest(id string, amount decimal.Decimal) error {
	r, ok := tx.s.deposits[id]
	if !ok {
		return model.ErrRequestNotFound
	}
	if !r.Status.CanTransition(model.RequestApproved) {
		return fmt.Errorf("deposit %s: %s -> %s: %w", id, r.Status, model.RequestApproved, model.ErrInvalidTransition)
	}
	r.Status = model.RequestApproved
	r.Amount = amount
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (tx *memTx) CreateWithdrawalRequest(r *model.WithdrawalRequest) error {
	if _, ok := tx.s.withdrawals[r.ID]; ok {
		return fmt.Errorf("withdrawal request %s already exists", r.ID)
	}
	cp := *r
	tx.s.withdrawals[r.ID] = &cp
	return nil
}

func (tx *memTx) GetWithdrawalRequest(id string) (*model.WithdrawalRequest, error) {
	return getCopy(tx.s.withdrawals, id, model.ErrRequestNotFound)
}

func (tx *memTx) UpdateWithdrawalStatus(id string, to model.RequestStatus) error {
	r, ok := tx.s.withdrawals[id]
	if !ok {
		return model.ErrRequestNotFound
	}
	if !r.Status.CanTransition(to) {
		return fmt.Errorf("withdrawal %s: %s -> %s: %w", id, r.Status, to, model.ErrInvalidTransition)
	}
	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (tx *memTx) CreateReferral(r *model.Referral) error {
	for _, existing := range tx.s.referrals {
		if existing.ReferrerID == r.ReferrerID && existing.ReferredID == r.ReferredID {
			return fmt.Errorf("referral for pair (%s, %s) already exists", r.ReferrerID, r.ReferredID)
		}
	}
	cp := *r
	tx.s.referrals[r.ID] = &cp
	return nil
}

func (tx *memTx) GetPendingReferral(referredID string) (*model.Referral, error) {
	for _, r := range tx.s.referrals {
		if r.ReferredID == referredID && r.Status == model.ReferralPending {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (tx *memTx) CompleteReferral(id string) error {
	r, ok := tx.s.referrals[id]
	if !ok {
		return fmt.Errorf("referral %s not found", id)
	}
	if r.Status != model.ReferralPending {
		return fmt.Errorf("referral %s: %s -> %s: %w", id, r.Status, model.ReferralCompleted, model.ErrInvalidTransition)
	}
	now := time.Now().UTC()
	r.Status = model.ReferralCompleted
	r.CompletedAt = &now
	return nil
}

func (tx *memTx) InsertTransaction(t *model.Transaction) error {
	tx.s.txns = append(tx.s.txns, *t)
	return nil
}

func (tx *memTx) SumApprovedDeposits(userID string) (decimal.Decimal, int, error) {
	sum := decimal.Zero
	count := 0
	for _, r := range tx.s.deposits {
		if r.UserID == userID && r.Status == model.RequestApproved {
			sum = sum.Add(r.Amount)
			count++
		}
	}
	return sum, count, nil
}

func (tx *memTx) SumBetStakes(userID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, b := range tx.s.bets {
		if b.UserID == userID && b.Status != model.BetRefunded {
			sum = sum.Add(b.Amount)
		}
	}
	return sum, nil
}

func (tx *memTx) AddToSummary(deposits, withdrawals, staked, paidOut decimal.Decimal) error {
	s := &tx.s.summary
	s.TotalDeposits = s.TotalDeposits.Add(deposits)
	s.TotalWithdrawals = s.TotalWithdrawals.Add(withdrawals)
	s.TotalStaked = s.TotalStaked.Add(staked)
	s.TotalPaidOut = s.TotalPaidOut.Add(paidOut)
	s.UpdatedAt = time.Now().UTC()
	return nil
}
