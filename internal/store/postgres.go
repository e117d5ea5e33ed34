package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/betpitch/wallet-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Atomic runs callbacks in SERIALIZABLE transactions and retries
// transparently on serialization failures, which gives every balance
// writer snapshot-read / conditional-write semantics.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// maxTxRetries bounds transparent retries on serialization conflicts.
const maxTxRetries = 5

// InitSchema creates the tables if they do not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			wallet_balance NUMERIC NOT NULL DEFAULT 0 CHECK (wallet_balance >= 0),
			bank_details JSONB,
			referral_code TEXT NOT NULL UNIQUE,
			referred_by TEXT NOT NULL DEFAULT '',
			is_first_bet_placed BOOLEAN NOT NULL DEFAULT FALSE,
			referral_bonus_awarded BOOLEAN NOT NULL DEFAULT FALSE,
			disabled BOOLEAN NOT NULL DEFAULT FALSE,
			role TEXT NOT NULL DEFAULT 'user',
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS matches (
			id TEXT PRIMARY KEY,
			sport TEXT NOT NULL,
			team_a JSONB NOT NULL,
			team_b JSONB NOT NULL,
			status TEXT NOT NULL,
			starts_at TIMESTAMPTZ NOT NULL,
			final_score TEXT NOT NULL DEFAULT '',
			winner TEXT NOT NULL DEFAULT '',
			is_special_match BOOLEAN NOT NULL DEFAULT FALSE,
			allow_one_sided_bets BOOLEAN NOT NULL DEFAULT FALSE,
			settlement_in_progress BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS questions (
			id TEXT PRIMARY KEY,
			match_id TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			option_a TEXT NOT NULL,
			option_b TEXT NOT NULL,
			status TEXT NOT NULL,
			result JSONB
		);
		CREATE TABLE IF NOT EXISTS bets (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			match_id TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			potential_win NUMERIC NOT NULL,
			status TEXT NOT NULL,
			predictions JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS bets_match_status_idx ON bets (match_id, status);
		CREATE TABLE IF NOT EXISTS deposit_requests (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			proof_ref TEXT NOT NULL,
			txn_ref TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS withdrawal_requests (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			bank_details JSONB NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS referrals (
			id TEXT PRIMARY KEY,
			referrer_id TEXT NOT NULL,
			referred_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			UNIQUE (referrer_id, referred_id)
		);
		CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			type TEXT NOT NULL,
			description TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS transactions_user_idx ON transactions (user_id);
		CREATE TABLE IF NOT EXISTS summary (
			id INT PRIMARY KEY CHECK (id = 1),
			total_deposits NUMERIC NOT NULL DEFAULT 0,
			total_withdrawals NUMERIC NOT NULL DEFAULT 0,
			total_staked NUMERIC NOT NULL DEFAULT 0,
			total_paid_out NUMERIC NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL
		);
		INSERT INTO summary (id, updated_at) VALUES (1, NOW()) ON CONFLICT DO NOTHING;
	`)
	return err
}

// Atomic runs fn in a SERIALIZABLE transaction, retrying on serialization
// failures (SQLSTATE 40001) and deadlocks (40P01). A non-retryable error
// from fn rolls the transaction back and is returned as-is.
func (s *PostgresStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	var err error
	for attempt := 0; attempt <= maxTxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt*attempt) * 10 * time.Millisecond):
			}
		}
		err = s.runTx(ctx, fn)
		if err == nil || !isSerializationFailure(err) {
			return err
		}
	}
	return fmt.Errorf("transaction retries exhausted: %w", err)
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(tx Tx) error) error {
	pt, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer pt.Rollback(ctx)

	if err := fn(&pgTx{ctx: ctx, tx: pt}); err != nil {
		return err
	}
	return pt.Commit(ctx)
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// --- Plain Store methods ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	bank, err := marshalNullable(u.BankDetails)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO users (id, name, wallet_balance, bank_details, referral_code, referred_by,
		                    is_first_bet_placed, referral_bonus_awarded, disabled, role, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.Name, u.WalletBalance.String(), bank, u.ReferralCode, u.ReferredBy,
		u.IsFirstBetPlaced, u.ReferralBonusAwarded, u.Disabled, u.Role, u.CreatedAt,
	)
	return err
}

const userColumns = `id, name, wallet_balance::TEXT, bank_details, referral_code, referred_by,
	is_first_bet_placed, referral_bonus_awarded, disabled, role, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var balance string
	var bank []byte

	err := row.Scan(&u.ID, &u.Name, &balance, &bank, &u.ReferralCode, &u.ReferredBy,
		&u.IsFirstBetPlaced, &u.ReferralBonusAwarded, &u.Disabled, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrUserNotFound
		}
		return nil, err
	}
	u.WalletBalance, _ = decimal.NewFromString(balance)
	if len(bank) > 0 {
		var bd model.BankDetails
		if err := json.Unmarshal(bank, &bd); err != nil {
			return nil, fmt.Errorf("user %s: bank details: %w", u.ID, err)
		}
		u.BankDetails = &bd
	}
	return &u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *PostgresStore) GetUserByReferralCode(ctx context.Context, code string) (*model.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE referral_code = $1`, code))
}

// PurgeUser deletes the user and owned documents in separate statements.
// Not one atomic unit: a crash mid-purge leaves a partial cascade that a
// re-run completes.
func (s *PostgresStore) PurgeUser(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUserNotFound
	}
	for _, q := range []string{
		`DELETE FROM bets WHERE user_id = $1`,
		`DELETE FROM deposit_requests WHERE user_id = $1`,
		`DELETE FROM withdrawal_requests WHERE user_id = $1`,
		`DELETE FROM referrals WHERE referred_id = $1 OR referrer_id = $1`,
		`DELETE FROM transactions WHERE user_id = $1`,
	} {
		if _, err := s.pool.Exec(ctx, q, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) CreateMatch(ctx context.Context, m *model.Match) error {
	teamA, err := json.Marshal(m.TeamA)
	if err != nil {
		return err
	}
	teamB, err := json.Marshal(m.TeamB)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO matches (id, sport, team_a, team_b, status, starts_at, final_score, winner,
		                      is_special_match, allow_one_sided_bets, settlement_in_progress, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.Sport, teamA, teamB, m.Status, m.StartsAt, m.FinalScore, m.Winner,
		m.IsSpecialMatch, m.AllowOneSidedBets, m.SettlementInProgress, m.CreatedAt,
	)
	return err
}

const matchColumns = `id, sport, team_a, team_b, status, starts_at, final_score, winner,
	is_special_match, allow_one_sided_bets, settlement_in_progress, created_at`

func scanMatch(row pgx.Row) (*model.Match, error) {
	var m model.Match
	var teamA, teamB []byte

	err := row.Scan(&m.ID, &m.Sport, &teamA, &teamB, &m.Status, &m.StartsAt, &m.FinalScore,
		&m.Winner, &m.IsSpecialMatch, &m.AllowOneSidedBets, &m.SettlementInProgress, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrMatchNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(teamA, &m.TeamA); err != nil {
		return nil, fmt.Errorf("match %s: team_a: %w", m.ID, err)
	}
	if err := json.Unmarshal(teamB, &m.TeamB); err != nil {
		return nil, fmt.Errorf("match %s: team_b: %w", m.ID, err)
	}
	return &m, nil
}

func (s *PostgresStore) GetMatch(ctx context.Context, id string) (*model.Match, error) {
	return scanMatch(s.pool.QueryRow(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE id = $1`, id))
}

func (s *PostgresStore) ListMatches(ctx context.Context) ([]model.Match, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+matchColumns+` FROM matches ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []model.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, *m)
	}
	return matches, rows.Err()
}

func (s *PostgresStore) CreateQuestion(ctx context.Context, q *model.Question) error {
	result, err := marshalNullable(q.Result)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO questions (id, match_id, text, option_a, option_b, status, result)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		q.ID, q.MatchID, q.Text, q.OptionA, q.OptionB, q.Status, result,
	)
	return err
}

const questionColumns = `id, match_id, text, option_a, option_b, status, result`

func scanQuestion(row pgx.Row) (*model.Question, error) {
	var q model.Question
	var result []byte

	err := row.Scan(&q.ID, &q.MatchID, &q.Text, &q.OptionA, &q.OptionB, &q.Status, &result)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrQuestionNotFound
		}
		return nil, err
	}
	if len(result) > 0 {
		var r model.QuestionResult
		if err := json.Unmarshal(result, &r); err != nil {
			return nil, fmt.Errorf("question %s: result: %w", q.ID, err)
		}
		q.Result = &r
	}
	return &q, nil
}

func (s *PostgresStore) GetQuestion(ctx context.Context, id string) (*model.Question, error) {
	return scanQuestion(s.pool.QueryRow(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = $1`, id))
}

func (s *PostgresStore) ListQuestionsByMatch(ctx context.Context, matchID string) ([]model.Question, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE match_id = $1 ORDER BY id`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var qs []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		qs = append(qs, *q)
	}
	return qs, rows.Err()
}

const betColumns = `id, user_id, match_id, amount::TEXT, potential_win::TEXT, status, predictions, created_at`

func scanBet(row pgx.Row) (*model.Bet, error) {
	var b model.Bet
	var amount, potentialWin string
	var predictions []byte

	err := row.Scan(&b.ID, &b.UserID, &b.MatchID, &amount, &potentialWin, &b.Status,
		&predictions, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrBetNotFound
		}
		return nil, err
	}
	b.Amount, _ = decimal.NewFromString(amount)
	b.PotentialWin, _ = decimal.NewFromString(potentialWin)
	if err := json.Unmarshal(predictions, &b.Predictions); err != nil {
		return nil, fmt.Errorf("bet %s: predictions: %w", b.ID, err)
	}
	return &b, nil
}

func (s *PostgresStore) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	return scanBet(s.pool.QueryRow(ctx,
		`SELECT `+betColumns+` FROM bets WHERE id = $1`, id))
}

func (s *PostgresStore) listBets(ctx context.Context, where string, arg any) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betColumns+` FROM bets WHERE `+where+` ORDER BY created_at, id`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []model.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, *b)
	}
	return bets, rows.Err()
}

func (s *PostgresStore) ListBetsByUser(ctx context.Context, userID string) ([]model.Bet, error) {
	return s.listBets(ctx, `user_id = $1`, userID)
}

func (s *PostgresStore) ListBetsByMatch(ctx context.Context, matchID string) ([]model.Bet, error) {
	return s.listBets(ctx, `match_id = $1`, matchID)
}

func (s *PostgresStore) CreateDepositRequest(ctx context.Context, r *model.DepositRequest) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO deposit_requests (id, user_id, amount, proof_ref, txn_ref, status, created_at, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6, $7, $8)`,
		r.ID, r.UserID, r.Amount.String(), r.ProofRef, r.TxnRef, r.Status, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

const depositColumns = `id, user_id, amount::TEXT, proof_ref, txn_ref, status, created_at, updated_at`

func scanDeposit(row pgx.Row) (*model.DepositRequest, error) {
	var r model.DepositRequest
	var amount string

	err := row.Scan(&r.ID, &r.UserID, &amount, &r.ProofRef, &r.TxnRef, &r.Status,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrRequestNotFound
		}
		return nil, err
	}
	r.Amount, _ = decimal.NewFromString(amount)
	return &r, nil
}

func (s *PostgresStore) GetDepositRequest(ctx context.Context, id string) (*model.DepositRequest, error) {
	return scanDeposit(s.pool.QueryRow(ctx,
		`SELECT `+depositColumns+` FROM deposit_requests WHERE id = $1`, id))
}

func (s *PostgresStore) ListDepositRequests(ctx context.Context, status model.RequestStatus) ([]model.DepositRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+depositColumns+` FROM deposit_requests
		 WHERE ($1 = '' OR status = $1) ORDER BY created_at`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []model.DepositRequest
	for rows.Next() {
		r, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *r)
	}
	return reqs, rows.Err()
}

func (s *PostgresStore) UpdateDepositStatus(ctx context.Context, id string, to model.RequestStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE deposit_requests SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status = $3`,
		id, to, model.RequestProcessing,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetDepositRequest(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("deposit %s -> %s: %w", id, to, model.ErrInvalidTransition)
	}
	return nil
}

const withdrawalColumns = `id, user_id, amount::TEXT, bank_details, status, created_at, updated_at`

func scanWithdrawal(row pgx.Row) (*model.WithdrawalRequest, error) {
	var r model.WithdrawalRequest
	var amount string
	var bank []byte

	err := row.Scan(&r.ID, &r.UserID, &amount, &bank, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrRequestNotFound
		}
		return nil, err
	}
	r.Amount, _ = decimal.NewFromString(amount)
	if err := json.Unmarshal(bank, &r.BankDetails); err != nil {
		return nil, fmt.Errorf("withdrawal %s: bank details: %w", r.ID, err)
	}
	return &r, nil
}

func (s *PostgresStore) GetWithdrawalRequest(ctx context.Context, id string) (*model.WithdrawalRequest, error) {
	return scanWithdrawal(s.pool.QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id))
}

func (s *PostgresStore) ListWithdrawalRequests(ctx context.Context, status model.RequestStatus) ([]model.WithdrawalRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests
		 WHERE ($1 = '' OR status = $1) ORDER BY created_at`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []model.WithdrawalRequest
	for rows.Next() {
		r, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *r)
	}
	return reqs, rows.Err()
}

const txnColumns = `id, user_id, amount::TEXT, type, description, created_at`

func (s *PostgresStore) listTxns(ctx context.Context, query string, args ...any) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var amount string
		if err := rows.Scan(&t.ID, &t.UserID, &amount, &t.Type, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Amount, _ = decimal.NewFromString(amount)
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (s *PostgresStore) ListTransactionsByUser(ctx context.Context, userID string) ([]model.Transaction, error) {
	return s.listTxns(ctx,
		`SELECT `+txnColumns+` FROM transactions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (s *PostgresStore) ListTransactions(ctx context.Context) ([]model.Transaction, error) {
	return s.listTxns(ctx,
		`SELECT `+txnColumns+` FROM transactions ORDER BY created_at`)
}

func (s *PostgresStore) GetSummary(ctx context.Context) (*model.Summary, error) {
	var sum model.Summary
	var deposits, withdrawals, staked, paidOut string

	err := s.pool.QueryRow(ctx,
		`SELECT total_deposits::TEXT, total_withdrawals::TEXT, total_staked::TEXT,
		        total_paid_out::TEXT, updated_at
		 FROM summary WHERE id = 1`).
		Scan(&deposits, &withdrawals, &staked, &paidOut, &sum.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sum.TotalDeposits, _ = decimal.NewFromString(deposits)
	sum.TotalWithdrawals, _ = decimal.NewFromString(withdrawals)
	sum.TotalStaked, _ = decimal.NewFromString(staked)
	sum.TotalPaidOut, _ = decimal.NewFromString(paidOut)
	return &sum, nil
}

func (s *PostgresStore) PutSummary(ctx context.Context, sum *model.Summary) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE summary SET total_deposits = $1::NUMERIC, total_withdrawals = $2::NUMERIC,
		        total_staked = $3::NUMERIC, total_paid_out = $4::NUMERIC, updated_at = $5
		 WHERE id = 1`,
		sum.TotalDeposits.String(), sum.TotalWithdrawals.String(),
		sum.TotalStaked.String(), sum.TotalPaidOut.String(), sum.UpdatedAt,
	)
	return err
}

func marshalNullable(v any) ([]byte, error) {
	switch x := v.(type) {
	case *model.BankDetails:
		if x == nil {
			return nil, nil
		}
	case *model.QuestionResult:
		if x == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// --- Transactional view ---

// pgTx implements Tx on top of a pgx transaction. Conditional updates
// carry the legal from-status in the WHERE clause, so an illegal flip
// affects zero rows and aborts with model.ErrInvalidTransition.
type pgTx struct {
	ctx context.Context
	tx  pgx.Tx
}

func (t *pgTx) GetUser(id string) (*model.User, error) {
	return scanUser(t.tx.QueryRow(t.ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (t *pgTx) UpdateUserBalance(id string, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return fmt.Errorf("user %s: balance would go negative: %w", id, model.ErrInsufficientFunds)
	}
	tag, err := t.tx.Exec(t.ctx,
		`UPDATE users SET wallet_balance = $2::NUMERIC WHERE id = $1`, id, balance.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

func (t *pgTx) markUserFlag(id, column string) error {
	tag, err := t.tx.Exec(t.ctx,
		`UPDATE users SET `+column+` = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

func (t *pgTx) MarkFirstBetPlaced(id string) error {
	return t.markUserFlag(id, "is_first_bet_placed")
}

func (t *pgTx) MarkReferralBonusAwarded(id string) error {
	return t.markUserFlag(id, "referral_bonus_awarded")
}

func (t *pgTx) GetMatch(id string) (*model.Match, error) {
	return scanMatch(t.tx.QueryRow(t.ctx,
		`SELECT `+matchColumns+` FROM matches WHERE id = $1`, id))
}

func (t *pgTx) UpdateMatchStatus(id string, to model.MatchStatus) error {
	m, err := t.GetMatch(id)
	if err != nil {
		return err
	}
	if !m.Status.CanTransition(to) {
		return fmt.Errorf("match %s: %s -> %s: %w", id, m.Status, to, model.ErrInvalidTransition)
	}
	_, err = t.tx.Exec(t.ctx,
		`UPDATE matches SET status = $2 WHERE id = $1`, id, to)
	return err
}

func (t *pgTx) SetMatchResult(id, winner, finalScore string) error {
	tag, err := t.tx.Exec(t.ctx,
		`UPDATE matches SET winner = $2, final_score = $3 WHERE id = $1`, id, winner, finalScore)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrMatchNotFound
	}
	return nil
}

func (t *pgTx) SetSettlementInProgress(id string, inProgress bool) error {
	tag, err := t.tx.Exec(t.ctx,
		`UPDATE matches SET settlement_in_progress = $2 WHERE id = $1`, id, inProgress)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrMatchNotFound
	}
	return nil
}

func (t *pgTx) CreateBet(b *model.Bet) error {
	predictions, err := json.Marshal(b.Predictions)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(t.ctx,
		`INSERT INTO bets (id, user_id, match_id, amount, potential_win, status, predictions, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8)`,
		b.ID, b.UserID, b.MatchID, b.Amount.String(), b.PotentialWin.String(),
		b.Status, predictions, b.CreatedAt,
	)
	return err
}

func (t *pgTx) ListPendingBetsByMatch(matchID string, limit int) ([]model.Bet, error) {
	rows, err := t.tx.Query(t.ctx,
		`SELECT `+betColumns+` FROM bets
		 WHERE match_id = $1 AND status = $2
		 ORDER BY created_at, id LIMIT $3`,
		matchID, model.BetPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []model.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, *b)
	}
	return bets, rows.Err()
}

func (t *pgTx) UpdateBetStatus(id string, to model.BetStatus) error {
	tag, err := t.tx.Exec(t.ctx,
		`UPDATE bets SET status = $2 WHERE id = $1 AND status = $3`,
		id, to, model.BetPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := t.tx.QueryRow(t.ctx,
			`SELECT EXISTS (SELECT 1 FROM bets WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return model.ErrBetNotFound
		}
		return fmt.Errorf("bet %s -> %s: %w", id, to, model.ErrInvalidTransition)
	}
	return nil
}

func (t *pgTx) GetQuestion(id string) (*model.Question, error) {
	return scanQuestion(t.tx.QueryRow(t.ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = $1`, id))
}

func (t *pgTx) ListQuestionsByMatch(matchID string) ([]model.Question, error) {
	rows, err := t.tx.Query(t.ctx,
		`SELECT `+questionColumns+` FROM questions WHERE match_id = $1 ORDER BY id`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var qs []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		qs = append(qs, *q)
	}
	return qs, rows.Err()
}

func (t *pgTx) SettleQuestion(id string, res model.QuestionResult) error {
	result, err := json.Marshal(res)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(t.ctx,
		`UPDATE questions SET status = $2, result = $3 WHERE id = $1 AND status = $4`,
		id, model.QuestionSettled, result, model.QuestionActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := t.tx.QueryRow(t.ctx,
			`SELECT EXISTS (SELECT 1 FROM questions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return model.ErrQuestionNotFound
		}
		return fmt.Errorf("question %s: %w", id, model.ErrAlreadySettled)
	}
	return nil
}

func (t *pgTx) GetDepositRequest(id string) (*model.DepositRequest, error) {
	return scanDeposit(t.tx.QueryRow(t.ctx,
		`SELECT `+depositColumns+` FROM deposit_requests WHERE id = $1`, id))
}

func (t *pgTx) ApproveDepositRequest(id string, amount decimal.Decimal) error {
	tag, err := t.tx.Exec(t.ctx,
		`UPDATE deposit_requests SET status = $2, amount = $3::NUMERIC, updated_at = NOW()
		 WHERE id = $1 AND status = $4`,
		id, model.RequestApproved, amount.String(), model.RequestProcessing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := t.GetDepositRequest(id); err != nil {
			return err
		}
		return fmt.Errorf("deposit %s -> %s: %w", id, model.RequestApproved, model.ErrInvalidTransition)
	}
	return nil
}

func (t *pgTx) CreateWithdrawalRequest(r *model.WithdrawalRequest) error {
	bank, err := json.Marshal(r.BankDetails)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(t.ctx,
		`INSERT INTO withdrawal_requests (id, user_id, amount, bank_details, status, created_at, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6, $7)`,
		r.ID, r.UserID, r.Amount.String(), bank, r.Status, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

func (t *pgTx) GetWithdrawalRequest(id string) (*model.WithdrawalRequest, error) {
	return scanWithdrawal(t.tx.QueryRow(t.ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id))
}

func (t *pgTx) UpdateWithdrawalStatus(id string, to model.RequestStatus) error {
	tag, err := t.tx.Exec(t.ctx,
		`UPDATE withdrawal_requests SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status = $3`,
		id, to, model.RequestProcessing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := t.GetWithdrawalRequest(id); err != nil {
			return err
		}
		return fmt.Errorf("withdrawal %s -> %s: %w", id, to, model.ErrInvalidTransition)
	}
	return nil
}

func (t *pgTx) CreateReferral(r *model.Referral) error {
	_, err := t.tx.Exec(t.ctx,
		`INSERT INTO referrals (id, referrer_id, referred_id, status, created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.ReferrerID, r.ReferredID, r.Status, r.CreatedAt, r.CompletedAt,
	)
	return err
}

func (t *pgTx) GetPendingReferral(referredID string) (*model.Referral, error) {
	var r model.Referral
	err := t.tx.QueryRow(t.ctx,
		`SELECT id, referrer_id, referred_id, status, created_at, completed_at
		 FROM referrals WHERE referred_id = $1 AND status = $2`,
		referredID, model.ReferralPending).
		Scan(&r.ID, &r.ReferrerID, &r.ReferredID, &r.Status, &r.CreatedAt, &r.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (t *pgTx) CompleteReferral(id string) error {
	tag, err := t.tx.Exec(t.ctx,
		`UPDATE referrals SET status = $2, completed_at = NOW()
		 WHERE id = $1 AND status = $3`,
		id, model.ReferralCompleted, model.ReferralPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("referral %s -> %s: %w", id, model.ReferralCompleted, model.ErrInvalidTransition)
	}
	return nil
}

func (t *pgTx) InsertTransaction(txn *model.Transaction) error {
	_, err := t.tx.Exec(t.ctx,
		`INSERT INTO transactions (id, user_id, amount, type, description, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6)`,
		txn.ID, txn.UserID, txn.Amount.String(), txn.Type, txn.Description, txn.CreatedAt,
	)
	return err
}

func (t *pgTx) SumApprovedDeposits(userID string) (decimal.Decimal, int, error) {
	var sumS string
	var count int
	err := t.tx.QueryRow(t.ctx,
		`SELECT COALESCE(SUM(amount), 0)::TEXT, COUNT(*)
		 FROM deposit_requests WHERE user_id = $1 AND status = $2`,
		userID, model.RequestApproved).Scan(&sumS, &count)
	if err != nil {
		return decimal.Zero, 0, err
	}
	sum, _ := decimal.NewFromString(sumS)
	return sum, count, nil
}

func (t *pgTx) SumBetStakes(userID string) (decimal.Decimal, error) {
	var sumS string
	err := t.tx.QueryRow(t.ctx,
		`SELECT COALESCE(SUM(amount), 0)::TEXT
		 FROM bets WHERE user_id = $1 AND status != $2`,
		userID, model.BetRefunded).Scan(&sumS)
	if err != nil {
		return decimal.Zero, err
	}
	sum, _ := decimal.NewFromString(sumS)
	return sum, nil
}

func (t *pgTx) AddToSummary(deposits, withdrawals, staked, paidOut decimal.Decimal) error {
	_, err := t.tx.Exec(t.ctx,
		`UPDATE summary SET
			total_deposits = total_deposits + $1::NUMERIC,
			total_withdrawals = total_withdrawals + $2::NUMERIC,
			total_staked = total_staked + $3::NUMERIC,
			total_paid_out = total_paid_out + $4::NUMERIC,
			updated_at = NOW()
		 WHERE id = 1`,
		deposits.String(), withdrawals.String(), staked.String(), paidOut.String(),
	)
	return err
}
