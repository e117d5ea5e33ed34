package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betpitch/wallet-engine/internal/bet"
	"github.com/betpitch/wallet-engine/internal/funds"
	"github.com/betpitch/wallet-engine/internal/ledger"
	"github.com/betpitch/wallet-engine/internal/model"
	"github.com/betpitch/wallet-engine/internal/payout"
	"github.com/betpitch/wallet-engine/internal/settle"
	"github.com/betpitch/wallet-engine/internal/stake"
	"github.com/betpitch/wallet-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// env bundles every service against one shared store so a full user
// journey can be replayed and then audited.
type env struct {
	ms      *store.MemoryStore
	bets    *bet.Service
	funds   *funds.Service
	settler *settle.Engine
	ledger  *ledger.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ms := store.NewMemoryStore()
	policy := payout.Default()
	return &env{
		ms:      ms,
		bets:    bet.NewService(ms, stake.NewTiers(nil, nil), policy, nil, nil),
		funds:   funds.NewService(ms, funds.DefaultConfig(), nil),
		settler: settle.NewEngine(ms, policy, 0, nil),
		ledger:  ledger.NewService(ms),
	}
}

func (e *env) seedUser(t *testing.T, id string, balance float64) {
	t.Helper()
	u := &model.User{
		ID:            id,
		Name:          "user " + id,
		WalletBalance: d(balance),
		BankDetails: &model.BankDetails{
			AccountHolder: "user " + id,
			AccountNumber: "000" + id,
			BankName:      "Test Bank",
		},
		ReferralCode: "REF-TEST" + id + id + id,
		Role:         "user",
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.ms.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func (e *env) seedMatchWithQuestion(t *testing.T) {
	t.Helper()
	m := &model.Match{
		ID:     "m1",
		Sport:  "cricket",
		TeamA:  model.Team{Name: "Alpha"},
		TeamB:  model.Team{Name: "Bravo"},
		Status: model.MatchUpcoming,
	}
	if err := e.ms.CreateMatch(context.Background(), m); err != nil {
		t.Fatalf("seed match: %v", err)
	}
	q := &model.Question{ID: "q1", MatchID: "m1", Text: "toss?", OptionA: "Alpha", OptionB: "Bravo", Status: model.QuestionActive}
	if err := e.ms.CreateQuestion(context.Background(), q); err != nil {
		t.Fatalf("seed question: %v", err)
	}
}

func TestReconcile_ConsistentAfterFullJourney(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "u1", 0)
	e.seedMatchWithQuestion(t)
	ctx := context.Background()

	// Deposit 500, bet 29 (wins 58), withdraw 150, withdrawal rejected.
	dep, err := e.funds.CreateDeposit(ctx, "u1", d(500), "https://blob/proof.png", "")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := e.funds.ApproveDeposit(ctx, dep.ID, "u1", d(500)); err != nil {
		t.Fatalf("approve deposit: %v", err)
	}
	if _, err := e.bets.Place(ctx, bet.PlaceRequest{
		UserID:      "u1",
		MatchID:     "m1",
		Predictions: []model.Prediction{{QuestionID: "q1", Answer: "Alpha"}},
		Amount:      d(29),
	}); err != nil {
		t.Fatalf("place: %v", err)
	}
	wr, err := e.funds.CreateWithdrawal(ctx, "u1", d(150))
	if err != nil {
		t.Fatalf("withdrawal: %v", err)
	}
	if err := e.funds.RejectWithdrawal(ctx, wr.ID); err != nil {
		t.Fatalf("reject withdrawal: %v", err)
	}
	if _, err := e.settler.SettleMatch(ctx, settle.Request{
		MatchID: "m1",
		Results: map[string]model.QuestionResult{"q1": {Kind: model.ResultTeam, Answer: "Alpha"}},
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	rec, err := e.ledger.Reconcile(ctx, "u1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !rec.Consistent {
		t.Errorf("balance %s must equal ledger sum %s", rec.Balance, rec.LedgerSum)
	}
	// 500 - 29 - 150 + 150 + 58 = 529.
	if !rec.Balance.Equal(d(529)) {
		t.Errorf("expected final balance 529, got %s", rec.Balance)
	}
}

func TestReconcile_DetectsDrift(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "u1", 0)
	ctx := context.Background()

	// A balance write without a matching ledger entry is exactly the bug
	// reconciliation exists to catch.
	if err := e.ms.Atomic(ctx, func(tx store.Tx) error {
		return tx.UpdateUserBalance("u1", d(777))
	}); err != nil {
		t.Fatalf("atomic: %v", err)
	}

	rec, err := e.ledger.Reconcile(ctx, "u1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if rec.Consistent {
		t.Error("drift should be reported")
	}
	if !rec.Difference.Equal(d(777)) {
		t.Errorf("expected difference 777, got %s", rec.Difference)
	}
}

func TestReconcile_UnknownUser(t *testing.T) {
	e := newEnv(t)
	if _, err := e.ledger.Reconcile(context.Background(), "ghost"); !errors.Is(err, model.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestHistory_NewestFirst(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "u1", 0)
	ctx := context.Background()

	dep, _ := e.funds.CreateDeposit(ctx, "u1", d(200), "https://blob/proof.png", "")
	if err := e.funds.ApproveDeposit(ctx, dep.ID, "u1", d(200)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := e.funds.CreateWithdrawal(ctx, "u1", d(100)); err != nil {
		t.Fatalf("withdrawal: %v", err)
	}

	txns, err := e.ledger.History(ctx, "u1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(txns))
	}
	if txns[0].CreatedAt.Before(txns[1].CreatedAt) {
		t.Error("history should be newest first")
	}
}

func TestRecomputeSummary_MatchesIncremental(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, "u1", 0)
	e.seedMatchWithQuestion(t)
	ctx := context.Background()

	dep, _ := e.funds.CreateDeposit(ctx, "u1", d(500), "https://blob/proof.png", "")
	if err := e.funds.ApproveDeposit(ctx, dep.ID, "u1", d(500)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := e.bets.Place(ctx, bet.PlaceRequest{
		UserID:      "u1",
		MatchID:     "m1",
		Predictions: []model.Prediction{{QuestionID: "q1", Answer: "Alpha"}},
		Amount:      d(29),
	}); err != nil {
		t.Fatalf("place: %v", err)
	}
	wr, err := e.funds.CreateWithdrawal(ctx, "u1", d(100))
	if err != nil {
		t.Fatalf("withdrawal: %v", err)
	}
	if err := e.funds.ApproveWithdrawal(ctx, wr.ID); err != nil {
		t.Fatalf("approve withdrawal: %v", err)
	}
	if _, err := e.settler.SettleMatch(ctx, settle.Request{
		MatchID: "m1",
		Results: map[string]model.QuestionResult{"q1": {Kind: model.ResultTeam, Answer: "Alpha"}},
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	incremental, err := e.ledger.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	recomputed, err := e.ledger.RecomputeSummary(ctx)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}

	if !recomputed.TotalDeposits.Equal(incremental.TotalDeposits) {
		t.Errorf("deposits: recomputed %s != incremental %s", recomputed.TotalDeposits, incremental.TotalDeposits)
	}
	if !recomputed.TotalWithdrawals.Equal(incremental.TotalWithdrawals) {
		t.Errorf("withdrawals: recomputed %s != incremental %s", recomputed.TotalWithdrawals, incremental.TotalWithdrawals)
	}
	if !recomputed.TotalStaked.Equal(incremental.TotalStaked) {
		t.Errorf("staked: recomputed %s != incremental %s", recomputed.TotalStaked, incremental.TotalStaked)
	}
	if !recomputed.TotalPaidOut.Equal(incremental.TotalPaidOut) {
		t.Errorf("paid out: recomputed %s != incremental %s", recomputed.TotalPaidOut, incremental.TotalPaidOut)
	}

	if !recomputed.TotalDeposits.Equal(d(500)) {
		t.Errorf("expected deposits 500, got %s", recomputed.TotalDeposits)
	}
	if !recomputed.TotalWithdrawals.Equal(d(100)) {
		t.Errorf("expected withdrawals 100, got %s", recomputed.TotalWithdrawals)
	}
	if !recomputed.TotalStaked.Equal(d(29)) {
		t.Errorf("expected staked 29, got %s", recomputed.TotalStaked)
	}
	if !recomputed.TotalPaidOut.Equal(d(58)) {
		t.Errorf("expected paid out 58, got %s", recomputed.TotalPaidOut)
	}
}
