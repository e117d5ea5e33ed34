package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/betpitch/wallet-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for match and question reads — the hot path of bet placement.
// Balance and request state are never cached: money reads always hit the
// primary. Writes go to the primary and invalidate affected keys, and
// Atomic callbacks have their match/question writes tracked so the keys
// are dropped after commit.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func matchKey(id string) string        { return "match:" + id }
func questionKey(id string) string     { return "question:" + id }
func matchQsKey(matchID string) string { return "match_questions:" + matchID }

// Atomic wraps the callback's Tx so match and question mutations are
// recorded, then invalidates those keys once the primary commits.
func (s *CachedStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	inv := &invalidationSet{}
	err := s.primary.Atomic(ctx, func(tx Tx) error {
		return fn(&cachedTx{Tx: tx, inv: inv})
	})
	if err != nil {
		return err
	}
	if len(inv.keys) > 0 {
		s.rdb.Del(ctx, inv.keys...)
	}
	return nil
}

type invalidationSet struct {
	keys []string
}

func (i *invalidationSet) add(keys ...string) {
	i.keys = append(i.keys, keys...)
}

// cachedTx passes every call through and records cache keys to drop.
type cachedTx struct {
	Tx
	inv *invalidationSet
}

func (t *cachedTx) UpdateMatchStatus(id string, to model.MatchStatus) error {
	t.inv.add(matchKey(id))
	return t.Tx.UpdateMatchStatus(id, to)
}

func (t *cachedTx) SetMatchResult(id, winner, finalScore string) error {
	t.inv.add(matchKey(id))
	return t.Tx.SetMatchResult(id, winner, finalScore)
}

func (t *cachedTx) SetSettlementInProgress(id string, inProgress bool) error {
	t.inv.add(matchKey(id))
	return t.Tx.SetSettlementInProgress(id, inProgress)
}

func (t *cachedTx) SettleQuestion(id string, res model.QuestionResult) error {
	q, err := t.Tx.GetQuestion(id)
	if err == nil && q.MatchID != "" {
		t.inv.add(matchQsKey(q.MatchID))
	}
	t.inv.add(questionKey(id))
	return t.Tx.SettleQuestion(id, res)
}

// --- Cached reads ---

func (s *CachedStore) GetMatch(ctx context.Context, id string) (*model.Match, error) {
	var m model.Match
	if ok := s.cacheGet(ctx, matchKey(id), &m); ok {
		return &m, nil
	}
	match, err := s.primary.GetMatch(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, matchKey(id), match)
	return match, nil
}

func (s *CachedStore) GetQuestion(ctx context.Context, id string) (*model.Question, error) {
	var q model.Question
	if ok := s.cacheGet(ctx, questionKey(id), &q); ok {
		return &q, nil
	}
	question, err := s.primary.GetQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, questionKey(id), question)
	return question, nil
}

func (s *CachedStore) ListQuestionsByMatch(ctx context.Context, matchID string) ([]model.Question, error) {
	var qs []model.Question
	if ok := s.cacheGet(ctx, matchQsKey(matchID), &qs); ok {
		return qs, nil
	}
	qs, err := s.primary.ListQuestionsByMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, matchQsKey(matchID), qs)
	return qs, nil
}

func (s *CachedStore) cacheGet(ctx context.Context, key string, dest any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dest) == nil
}

func (s *CachedStore) cacheSet(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.rdb.Set(ctx, key, data, s.ttl)
}

// --- Write-through with invalidation ---

func (s *CachedStore) CreateMatch(ctx context.Context, m *model.Match) error {
	if err := s.primary.CreateMatch(ctx, m); err != nil {
		return err
	}
	s.cacheSet(ctx, matchKey(m.ID), m)
	return nil
}

func (s *CachedStore) CreateQuestion(ctx context.Context, q *model.Question) error {
	if err := s.primary.CreateQuestion(ctx, q); err != nil {
		return err
	}
	s.rdb.Del(ctx, questionKey(q.ID))
	if q.MatchID != "" {
		s.rdb.Del(ctx, matchQsKey(q.MatchID))
	}
	return nil
}

// --- Pass-through (uncached: money state must always be fresh) ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.primary.GetUser(ctx, id)
}

func (s *CachedStore) GetUserByReferralCode(ctx context.Context, code string) (*model.User, error) {
	return s.primary.GetUserByReferralCode(ctx, code)
}

func (s *CachedStore) PurgeUser(ctx context.Context, id string) error {
	return s.primary.PurgeUser(ctx, id)
}

func (s *CachedStore) ListMatches(ctx context.Context) ([]model.Match, error) {
	return s.primary.ListMatches(ctx)
}

func (s *CachedStore) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	return s.primary.GetBet(ctx, id)
}

func (s *CachedStore) ListBetsByUser(ctx context.Context, userID string) ([]model.Bet, error) {
	return s.primary.ListBetsByUser(ctx, userID)
}

func (s *CachedStore) ListBetsByMatch(ctx context.Context, matchID string) ([]model.Bet, error) {
	return s.primary.ListBetsByMatch(ctx, matchID)
}

func (s *CachedStore) CreateDepositRequest(ctx context.Context, r *model.DepositRequest) error {
	return s.primary.CreateDepositRequest(ctx, r)
}

func (s *CachedStore) GetDepositRequest(ctx context.Context, id string) (*model.DepositRequest, error) {
	return s.primary.GetDepositRequest(ctx, id)
}

func (s *CachedStore) ListDepositRequests(ctx context.Context, status model.RequestStatus) ([]model.DepositRequest, error) {
	return s.primary.ListDepositRequests(ctx, status)
}

func (s *CachedStore) UpdateDepositStatus(ctx context.Context, id string, to model.RequestStatus) error {
	return s.primary.UpdateDepositStatus(ctx, id, to)
}

func (s *CachedStore) GetWithdrawalRequest(ctx context.Context, id string) (*model.WithdrawalRequest, error) {
	return s.primary.GetWithdrawalRequest(ctx, id)
}

func (s *CachedStore) ListWithdrawalRequests(ctx context.Context, status model.RequestStatus) ([]model.WithdrawalRequest, error) {
	return s.primary.ListWithdrawalRequests(ctx, status)
}

func (s *CachedStore) ListTransactionsByUser(ctx context.Context, userID string) ([]model.Transaction, error) {
	return s.primary.ListTransactionsByUser(ctx, userID)
}

func (s *CachedStore) ListTransactions(ctx context.Context) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx)
}

func (s *CachedStore) GetSummary(ctx context.Context) (*model.Summary, error) {
	return s.primary.GetSummary(ctx)
}

func (s *CachedStore) PutSummary(ctx context.Context, sum *model.Summary) error {
	return s.primary.PutSummary(ctx, sum)
}
