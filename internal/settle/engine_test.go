package settle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betpitch/wallet-engine/internal/bet"
	"github.com/betpitch/wallet-engine/internal/model"
	"github.com/betpitch/wallet-engine/internal/payout"
	"github.com/betpitch/wallet-engine/internal/settle"
	"github.com/betpitch/wallet-engine/internal/stake"
	"github.com/betpitch/wallet-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestEnv(t *testing.T) (*settle.Engine, *bet.Service, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	policy := payout.Default()
	eng := settle.NewEngine(ms, policy, 0, nil)
	bets := bet.NewService(ms, stake.NewTiers(nil, nil), policy, nil, nil)
	return eng, bets, ms
}

func seedUser(t *testing.T, ms *store.MemoryStore, id string, balance float64) {
	t.Helper()
	u := &model.User{
		ID:            id,
		Name:          "user " + id,
		WalletBalance: d(balance),
		ReferralCode:  "REF-" + id + id + id + id, // unique enough per test
		Role:          "user",
		CreatedAt:     time.Now().UTC(),
	}
	if err := ms.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
}

func seedMatch(t *testing.T, ms *store.MemoryStore, id string) {
	t.Helper()
	m := &model.Match{
		ID:        id,
		Sport:     "cricket",
		TeamA:     model.Team{Name: "Alpha"},
		TeamB:     model.Team{Name: "Bravo"},
		Status:    model.MatchUpcoming,
		StartsAt:  time.Now().UTC(),
		CreatedAt: time.Now().UTC(),
	}
	if err := ms.CreateMatch(context.Background(), m); err != nil {
		t.Fatalf("failed to seed match: %v", err)
	}
}

func seedQuestion(t *testing.T, ms *store.MemoryStore, id, matchID string) {
	t.Helper()
	q := &model.Question{
		ID:      id,
		MatchID: matchID,
		Text:    "Who wins?",
		OptionA: "Alpha",
		OptionB: "Bravo",
		Status:  model.QuestionActive,
	}
	if err := ms.CreateQuestion(context.Background(), q); err != nil {
		t.Fatalf("failed to seed question: %v", err)
	}
}

func place(t *testing.T, bets *bet.Service, userID, matchID string, amount float64, preds ...model.Prediction) *model.Bet {
	t.Helper()
	b, err := bets.Place(context.Background(), bet.PlaceRequest{
		UserID:      userID,
		MatchID:     matchID,
		Predictions: preds,
		Amount:      d(amount),
	})
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}
	return b
}

func teamResult(answer string) model.QuestionResult {
	return model.QuestionResult{Kind: model.ResultTeam, Answer: answer}
}

func TestSettleQuestion_Once(t *testing.T) {
	eng, _, ms := newTestEnv(t)
	seedMatch(t, ms, "m1")
	seedQuestion(t, ms, "q1", "m1")

	if err := eng.SettleQuestion(context.Background(), "q1", teamResult("Alpha")); err != nil {
		t.Fatalf("settle question: %v", err)
	}

	q, _ := ms.GetQuestion(context.Background(), "q1")
	if q.Status != model.QuestionSettled {
		t.Errorf("expected settled, got %s", q.Status)
	}
	if q.Result == nil || q.Result.Answer != "Alpha" {
		t.Errorf("result not recorded: %+v", q.Result)
	}

	// Second settlement must fail and change nothing.
	err := eng.SettleQuestion(context.Background(), "q1", teamResult("Bravo"))
	if !errors.Is(err, model.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
	q, _ = ms.GetQuestion(context.Background(), "q1")
	if q.Result.Answer != "Alpha" {
		t.Errorf("result must be immutable, got %s", q.Result.Answer)
	}
}

func TestSettleQuestion_RejectsUnknownAnswer(t *testing.T) {
	eng, _, ms := newTestEnv(t)
	seedMatch(t, ms, "m1")
	seedQuestion(t, ms, "q1", "m1")

	if err := eng.SettleQuestion(context.Background(), "q1", teamResult("Charlie")); err == nil {
		t.Fatal("expected error for answer outside the options")
	}
}

func TestSettleMatch_PaysWinnersMarksLosers(t *testing.T) {
	eng, bets, ms := newTestEnv(t)
	seedUser(t, ms, "u1", 500)
	seedUser(t, ms, "u2", 500)
	seedMatch(t, ms, "m1")
	seedQuestion(t, ms, "q1", "m1")

	winning := place(t, bets, "u1", "m1", 29, model.Prediction{QuestionID: "q1", Answer: "Alpha"})
	losing := place(t, bets, "u2", "m1", 29, model.Prediction{QuestionID: "q1", Answer: "Bravo"})

	res, err := eng.SettleMatch(context.Background(), settle.Request{
		MatchID: "m1",
		Results: map[string]model.QuestionResult{"q1": teamResult("Alpha")},
		Winner:  "Alpha",
	})
	if err != nil {
		t.Fatalf("settle match: %v", err)
	}

	if res.BetsProcessed != 2 {
		t.Errorf("expected 2 bets processed, got %d", res.BetsProcessed)
	}
	if len(res.Winners) != 1 {
		t.Fatalf("expected 1 winner, got %d", len(res.Winners))
	}
	if res.Winners[0].BetID != winning.ID || !res.Winners[0].Amount.Equal(d(58)) {
		t.Errorf("unexpected winner line: %+v", res.Winners[0])
	}

	u1, _ := ms.GetUser(context.Background(), "u1")
	if !u1.WalletBalance.Equal(d(529)) { // 500 - 29 + 58
		t.Errorf("winner balance should be 529, got %s", u1.WalletBalance)
	}
	u2, _ := ms.GetUser(context.Background(), "u2")
	if !u2.WalletBalance.Equal(d(471)) { // 500 - 29
		t.Errorf("loser balance should be 471, got %s", u2.WalletBalance)
	}

	wb, _ := ms.GetBet(context.Background(), winning.ID)
	if wb.Status != model.BetWon {
		t.Errorf("expected won, got %s", wb.Status)
	}
	lb, _ := ms.GetBet(context.Background(), losing.ID)
	if lb.Status != model.BetLost {
		t.Errorf("expected lost, got %s", lb.Status)
	}

	m, _ := ms.GetMatch(context.Background(), "m1")
	if m.Status != model.MatchFinished {
		t.Errorf("match should be finished, got %s", m.Status)
	}
	if m.SettlementInProgress {
		t.Error("settlement marker should be cleared")
	}
	if m.Winner != "Alpha" {
		t.Errorf("winner should be recorded, got %q", m.Winner)
	}

	// Payout leaves a ledger entry for the winner only.
	txns, _ := ms.ListTransactionsByUser(context.Background(), "u1")
	var payouts int
	for _, tx := range txns {
		if tx.Type == model.TxnBetPayout {
			payouts++
			if !tx.Amount.Equal(d(58)) {
				t.Errorf("payout entry should be +58, got %s", tx.Amount)
			}
		}
	}
	if payouts != 1 {
		t.Errorf("expected 1 payout entry, got %d", payouts)
	}
}

func TestSettleMatch_ParlayNeedsAllLegs(t *testing.T) {
	eng, bets, ms := newTestEnv(t)
	seedUser(t, ms, "u1", 500)
	seedMatch(t, ms, "m1")
	seedQuestion(t, ms, "q1", "m1")
	seedQuestion(t, ms, "q2", "m1")

	b := place(t, bets, "u1", "m1", 9,
		model.Prediction{QuestionID: "q1", Answer: "Alpha"},
		model.Prediction{QuestionID: "q2", Answer: "Alpha"},
	)

	// One leg hits, one misses: parlay pays nothing.
	_, err := eng.SettleMatch(context.Background(), settle.Request{
		MatchID: "m1",
		Results: map[string]model.QuestionResult{
			"q1": teamResult("Alpha"),
			"q2": teamResult("Bravo"),
		},
	})
	if err != nil {
		t.Fatalf("settle match: %v", err)
	}

	got, _ := ms.GetBet(context.Background(), b.ID)
	if got.Status != model.BetLost {
		t.Errorf("partial parlay should lose, got %s", got.Status)
	}
	u, _ := ms.GetUser(context.Background(), "u1")
	if !u.WalletBalance.Equal(d(491)) { // 500 - 9
		t.Errorf("expected 491, got %s", u.WalletBalance)
	}
}

func TestSettleMatch_ProportionalPolicy(t *testing.T) {
	ms := store.NewMemoryStore()
	policy := payout.Policy{Mode: payout.ModeProportional, Base: d(2)}
	eng := settle.NewEngine(ms, policy, 0, nil)
	bets := bet.NewService(ms, stake.NewTiers(nil, nil), policy, nil, nil)

	seedUser(t, ms, "u1", 500)
	seedMatch(t, ms, "m1")
	seedQuestion(t, ms, "q1", "m1")
	seedQuestion(t, ms, "q2", "m1")

	b := place(t, bets, "u1", "m1", 9,
		model.Prediction{QuestionID: "q1", Answer: "Alpha"},
		model.Prediction{QuestionID: "q2", Answer: "Alpha"},
	)

	_, err := eng.SettleMatch(context.Background(), settle.Request{
		MatchID: "m1",
		Results: map[string]model.QuestionResult{
			"q1": teamResult("Alpha"),
			"q2": teamResult("Bravo"),
		},
	})
	if err != nil {
		t.Fatalf("settle match: %v", err)
	}

	// 1 of 2 legs hit: 9 * 2 * 1/2 = 9.
	got, _ := ms.GetBet(context.Background(), b.ID)
	if got.Status != model.BetWon {
		t.Errorf("proportional partial hit should win, got %s", got.Status)
	}
	u, _ := ms.GetUser(context.Background(), "u1")
	if !u.WalletBalance.Equal(d(500)) { // 500 - 9 + 9
		t.Errorf("expected 500, got %s", u.WalletBalance)
	}
}

func TestSettleMatch_Reentry(t *testing.T) {
	eng, bets, ms := newTestEnv(t)
	seedUser(t, ms, "u1", 500)
	seedMatch(t, ms, "m1")
	seedQuestion(t, ms, "q1", "m1")
	place(t, bets, "u1", "m1", 29, model.Prediction{QuestionID: "q1", Answer: "Alpha"})

	req := settle.Request{
		MatchID: "m1",
		Results: map[string]model.QuestionResult{"q1": teamResult("Alpha")},
	}
	if _, err := eng.SettleMatch(context.Background(), req); err != nil {
		t.Fatalf("first settlement: %v", err)
	}

	// Second run must refuse before any write: no double payout.
	if _, err := eng.SettleMatch(context.Background(), req); !errors.Is(err, model.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
	u, _ := ms.GetUser(context.Background(), "u1")
	if !u.WalletBalance.Equal(d(529)) {
		t.Errorf("double settlement must not pay twice, got %s", u.WalletBalance)
	}
}

func TestSettleMatch_IncompleteQuestions(t *testing.T) {
	eng, bets, ms := newTestEnv(t)
	seedUser(t, ms, "u1", 500)
	seedMatch(t, ms, "m1")
	seedQuestion(t, ms, "q1", "m1")
	seedQuestion(t, ms, "q2", "m1")
	place(t, bets, "u1", "m1", 29, model.Prediction{QuestionID: "q1", Answer: "Alpha"})

	// Only one of two questions has a result.
	_, err := eng.SettleMatch(context.Background(), settle.Request{
		MatchID: "m1",
		Results: map[string]model.QuestionResult{"q1": teamResult("Alpha")},
	})
	if !errors.Is(err, model.ErrQuestionsIncomplete) {
		t.Fatalf("expected ErrQuestionsIncomplete, got %v", err)
	}

	// Nothing paid, match still open, bet still pending.
	m, _ := ms.GetMatch(context.Background(), "m1")
	if m.Status == model.MatchFinished {
		t.Error("match must not finish with unsettled questions")
	}
	if m.SettlementInProgress {
		t.Error("marker should be cleared after the failed precondition")
	}
	bets1, _ := ms.ListBetsByUser(context.Background(), "u1")
	if bets1[0].Status != model.BetPending {
		t.Errorf("bet must stay pending, got %s", bets1[0].Status)
	}

	// Supplying the missing result lets settlement resume; the
	// already-settled question is skipped, not re-settled.
	if _, err := eng.SettleMatch(context.Background(), settle.Request{
		MatchID: "m1",
		Results: map[string]model.QuestionResult{
			"q1": teamResult("Alpha"),
			"q2": teamResult("Bravo"),
		},
	}); err != nil {
		t.Fatalf("resumed settlement: %v", err)
	}
	m, _ = ms.GetMatch(context.Background(), "m1")
	if m.Status != model.MatchFinished {
		t.Errorf("match should finish after resume, got %s", m.Status)
	}
}

func TestSettleMatch_ChunkedAcrossManyBets(t *testing.T) {
	ms := store.NewMemoryStore()
	policy := payout.Default()
	eng := settle.NewEngine(ms, policy, 3, nil) // force multiple chunks
	bets := bet.NewService(ms, stake.NewTiers(nil, nil), policy, nil, nil)

	seedMatch(t, ms, "m1")
	seedQuestion(t, ms, "q1", "m1")

	// 10 users, one winning bet each.
	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		seedUser(t, ms, id, 100)
		place(t, bets, id, "m1", 9, model.Prediction{QuestionID: "q1", Answer: "Alpha"})
	}

	res, err := eng.SettleMatch(context.Background(), settle.Request{
		MatchID: "m1",
		Results: map[string]model.QuestionResult{"q1": teamResult("Alpha")},
	})
	if err != nil {
		t.Fatalf("settle match: %v", err)
	}
	if res.BetsProcessed != 10 {
		t.Errorf("expected 10 bets processed, got %d", res.BetsProcessed)
	}
	if len(res.Winners) != 10 {
		t.Errorf("expected 10 winners, got %d", len(res.Winners))
	}

	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		u, _ := ms.GetUser(context.Background(), id)
		if !u.WalletBalance.Equal(d(109)) { // 100 - 9 + 18
			t.Errorf("user %s: expected 109, got %s", id, u.WalletBalance)
		}
	}
}

func TestSettleMatch_MultipleWinningBetsSameUser(t *testing.T) {
	eng, bets, ms := newTestEnv(t)
	seedUser(t, ms, "u1", 500)
	seedMatch(t, ms, "m1")
	seedQuestion(t, ms, "q1", "m1")

	// Two winning bets in the same chunk must both credit.
	place(t, bets, "u1", "m1", 29, model.Prediction{QuestionID: "q1", Answer: "Alpha"})
	place(t, bets, "u1", "m1", 29, model.Prediction{QuestionID: "q1", Answer: "Alpha"})

	if _, err := eng.SettleMatch(context.Background(), settle.Request{
		MatchID: "m1",
		Results: map[string]model.QuestionResult{"q1": teamResult("Alpha")},
	}); err != nil {
		t.Fatalf("settle match: %v", err)
	}

	u, _ := ms.GetUser(context.Background(), "u1")
	if !u.WalletBalance.Equal(d(558)) { // 500 - 58 + 116
		t.Errorf("expected 558, got %s", u.WalletBalance)
	}
}

func TestCancelMatch_RefundsPendingBets(t *testing.T) {
	eng, bets, ms := newTestEnv(t)
	seedUser(t, ms, "u1", 500)
	seedMatch(t, ms, "m1")
	seedQuestion(t, ms, "q1", "m1")
	b := place(t, bets, "u1", "m1", 29, model.Prediction{QuestionID: "q1", Answer: "Alpha"})

	res, err := eng.CancelMatch(context.Background(), "m1")
	if err != nil {
		t.Fatalf("cancel match: %v", err)
	}
	if res.Refunded != 1 {
		t.Errorf("expected 1 refunded bet, got %d", res.Refunded)
	}

	u, _ := ms.GetUser(context.Background(), "u1")
	if !u.WalletBalance.Equal(d(500)) {
		t.Errorf("exact stake must come back, got %s", u.WalletBalance)
	}
	got, _ := ms.GetBet(context.Background(), b.ID)
	if got.Status != model.BetRefunded {
		t.Errorf("expected refunded, got %s", got.Status)
	}
	m, _ := ms.GetMatch(context.Background(), "m1")
	if m.Status != model.MatchCancelled {
		t.Errorf("expected cancelled, got %s", m.Status)
	}

	// Re-running refunds nothing further.
	res, err = eng.CancelMatch(context.Background(), "m1")
	if err != nil {
		t.Fatalf("re-cancel: %v", err)
	}
	if res.Refunded != 0 {
		t.Errorf("second cancel must refund nothing, got %d", res.Refunded)
	}
	u, _ = ms.GetUser(context.Background(), "u1")
	if !u.WalletBalance.Equal(d(500)) {
		t.Errorf("balance must stay 500, got %s", u.WalletBalance)
	}
}

func TestCancelMatch_FinishedMatchRefuses(t *testing.T) {
	eng, bets, ms := newTestEnv(t)
	seedUser(t, ms, "u1", 500)
	seedMatch(t, ms, "m1")
	seedQuestion(t, ms, "q1", "m1")
	place(t, bets, "u1", "m1", 29, model.Prediction{QuestionID: "q1", Answer: "Alpha"})

	if _, err := eng.SettleMatch(context.Background(), settle.Request{
		MatchID: "m1",
		Results: map[string]model.QuestionResult{"q1": teamResult("Alpha")},
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if _, err := eng.CancelMatch(context.Background(), "m1"); !errors.Is(err, model.ErrAlreadyFinished) {
		t.Fatalf("expected ErrAlreadyFinished, got %v", err)
	}
}

func TestCancelMatch_SettlementInProgressRefuses(t *testing.T) {
	eng, bets, ms := newTestEnv(t)
	seedUser(t, ms, "u1", 500)
	seedMatch(t, ms, "m1")
	seedQuestion(t, ms, "q1", "m1")
	b := place(t, bets, "u1", "m1", 29, model.Prediction{QuestionID: "q1", Answer: "Alpha"})

	// A settlement run has claimed the match but not yet finished it.
	if err := ms.Atomic(context.Background(), func(tx store.Tx) error {
		return tx.SetSettlementInProgress("m1", true)
	}); err != nil {
		t.Fatalf("set marker: %v", err)
	}

	if _, err := eng.CancelMatch(context.Background(), "m1"); !errors.Is(err, model.ErrSettlementInProgress) {
		t.Fatalf("expected ErrSettlementInProgress, got %v", err)
	}

	// Nothing moved: the match is not cancelled and no bet was refunded.
	m, _ := ms.GetMatch(context.Background(), "m1")
	if m.Status != model.MatchUpcoming {
		t.Errorf("expected upcoming, got %s", m.Status)
	}
	got, _ := ms.GetBet(context.Background(), b.ID)
	if got.Status != model.BetPending {
		t.Errorf("expected pending, got %s", got.Status)
	}
	u, _ := ms.GetUser(context.Background(), "u1")
	if !u.WalletBalance.Equal(d(471)) {
		t.Errorf("balance must be untouched, got %s", u.WalletBalance)
	}
}

func TestSettleMatch_CancelledMatchRefuses(t *testing.T) {
	eng, _, ms := newTestEnv(t)
	seedMatch(t, ms, "m1")
	seedQuestion(t, ms, "q1", "m1")

	if _, err := eng.CancelMatch(context.Background(), "m1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err := eng.SettleMatch(context.Background(), settle.Request{
		MatchID: "m1",
		Results: map[string]model.QuestionResult{"q1": teamResult("Alpha")},
	})
	if !errors.Is(err, model.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled for cancelled match, got %v", err)
	}
}
