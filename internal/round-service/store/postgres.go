package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/radieske/updown-round-engine/internal/round-service/domain"
	"github.com/radieske/updown-round-engine/internal/shared/apperr"
)

// Postgres implementa o Store sobre sqlx + lib/pq
type Postgres struct{ db *sqlx.DB }

func NewPostgres(db *sqlx.DB) *Postgres { return &Postgres{db: db} }

// executor é o subconjunto comum entre *sqlx.DB e *sqlx.Tx
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// isUniqueViolation identifica o código 23505 do Postgres
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// WithTx executa fn numa transação e faz rollback se fn ou commit falharem
func (p *Postgres) WithTx(ctx context.Context, fn func(Tx) error) (err error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("commit tx: %w", ErrDuplicateEntry)
		}
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct{ tx *sqlx.Tx }

const walletColumns = `user_id, balance, version, created_at, updated_at`

func getWallet(ctx context.Context, q executor, userID string) (domain.Wallet, error) {
	var w domain.Wallet
	err := q.GetContext(ctx, &w, `SELECT `+walletColumns+` FROM wallets WHERE user_id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Wallet{}, apperr.ErrWalletNotFound
	}
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

func (t *pgTx) GetWallet(ctx context.Context, userID string) (domain.Wallet, error) {
	return getWallet(ctx, t.tx, userID)
}

// UpdateBalance usa UPDATE condicional na versão; a linha fica travada até o fim da transação
func (t *pgTx) UpdateBalance(ctx context.Context, userID string, expectedVersion, delta int64) (domain.Wallet, error) {
	var w domain.Wallet
	err := t.tx.GetContext(ctx, &w, `
		UPDATE wallets
		SET balance = balance + $3, version = version + 1, updated_at = NOW()
		WHERE user_id = $1 AND version = $2 AND balance + $3 >= 0
		RETURNING `+walletColumns, userID, expectedVersion, delta)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Wallet{}, fmt.Errorf("update balance: %w", err)
	}

	// nenhuma linha: descobre se foi versão, saldo ou carteira inexistente
	cur, gerr := getWallet(ctx, t.tx, userID)
	if gerr != nil {
		return domain.Wallet{}, gerr
	}
	if cur.Version != expectedVersion {
		return domain.Wallet{}, fmt.Errorf("wallet %s: %w", userID, apperr.ErrConcurrentModification)
	}
	return domain.Wallet{}, apperr.ErrInsufficientFunds
}

func (t *pgTx) InsertEntry(ctx context.Context, e domain.LedgerEntry) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO wallet_ledger(id, user_id, round_id, delta, balance_after, reason, idempotency_key, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		e.ID, e.UserID, e.RoundID, e.Delta, e.BalanceAfter, e.Reason, e.IdempotencyKey, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("key %s: %w", e.IdempotencyKey, ErrDuplicateEntry)
	}
	return nil
}

const entryColumns = `id, user_id, round_id, delta, balance_after, reason, idempotency_key, created_at`

func entryByKey(ctx context.Context, q executor, key string) (domain.LedgerEntry, bool, error) {
	var e domain.LedgerEntry
	err := q.GetContext(ctx, &e, `SELECT `+entryColumns+` FROM wallet_ledger WHERE idempotency_key=$1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LedgerEntry{}, false, nil
	}
	if err != nil {
		return domain.LedgerEntry{}, false, fmt.Errorf("entry by key: %w", err)
	}
	return e, true, nil
}

func (t *pgTx) EntryByKey(ctx context.Context, key string) (domain.LedgerEntry, bool, error) {
	return entryByKey(ctx, t.tx, key)
}

func (t *pgTx) InsertBet(ctx context.Context, b domain.Bet) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO bets(id, round_id, user_id, direction, amount, placed_at)
		VALUES($1,$2,$3,$4,$5,$6)`,
		b.ID, b.RoundID, b.UserID, string(b.Direction), b.Amount, b.PlacedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("bet %s: %w", b.ID, ErrDuplicateEntry)
	}
	if err != nil {
		return fmt.Errorf("insert bet: %w", err)
	}
	return nil
}

func (t *pgTx) AddRoundTotals(ctx context.Context, roundID, up, down int64) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE rounds SET total_up = total_up + $2, total_down = total_down + $3 WHERE id=$1`,
		roundID, up, down)
	if err != nil {
		return fmt.Errorf("add round totals: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrRoundNotFound
	}
	return nil
}

func (p *Postgres) CreateWallet(ctx context.Context, userID string, now time.Time) (domain.Wallet, error) {
	if _, err := p.db.ExecContext(ctx, `
		INSERT INTO wallets(user_id, balance, version, created_at, updated_at)
		VALUES($1, 0, 1, $2, $2)
		ON CONFLICT (user_id) DO NOTHING`, userID, now); err != nil {
		return domain.Wallet{}, fmt.Errorf("create wallet: %w", err)
	}
	return getWallet(ctx, p.db, userID)
}

func (p *Postgres) GetWallet(ctx context.Context, userID string) (domain.Wallet, error) {
	return getWallet(ctx, p.db, userID)
}

func (p *Postgres) EntryByKey(ctx context.Context, key string) (domain.LedgerEntry, bool, error) {
	return entryByKey(ctx, p.db, key)
}

func (p *Postgres) ListEntries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []domain.LedgerEntry
	if err := p.db.SelectContext(ctx, &out, `
		SELECT `+entryColumns+` FROM wallet_ledger
		WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`, userID, limit); err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return out, nil
}

// WalletWithLedgerSum usa um único SELECT: saldo e soma saem do mesmo snapshot
func (p *Postgres) WalletWithLedgerSum(ctx context.Context, userID string) (domain.Wallet, int64, error) {
	var row struct {
		domain.Wallet
		LedgerSum int64 `db:"ledger_sum"`
	}
	err := p.db.GetContext(ctx, &row, `
		SELECT w.user_id, w.balance, w.version, w.created_at, w.updated_at,
		       COALESCE((SELECT SUM(l.delta) FROM wallet_ledger l WHERE l.user_id = w.user_id), 0) AS ledger_sum
		FROM wallets w WHERE w.user_id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Wallet{}, 0, apperr.ErrWalletNotFound
	}
	if err != nil {
		return domain.Wallet{}, 0, fmt.Errorf("wallet with ledger sum: %w", err)
	}
	return row.Wallet, row.LedgerSum, nil
}

// roundRow espelha rounds LEFT JOIN round_outcomes
type roundRow struct {
	ID                int64          `db:"id"`
	Phase             string         `db:"phase"`
	PhaseDeadline     time.Time      `db:"phase_deadline"`
	BettingWindowMs   int64          `db:"betting_window_ms"`
	ResolvingWindowMs int64          `db:"resolving_window_ms"`
	SettleWindowMs    int64          `db:"settle_window_ms"`
	TotalUp           int64          `db:"total_up"`
	TotalDown         int64          `db:"total_down"`
	StartedAt         time.Time      `db:"started_at"`
	SettledAt         sql.NullTime   `db:"settled_at"`
	Direction         sql.NullString `db:"direction"`
	Source            sql.NullString `db:"source"`
	ResolvedAt        sql.NullTime   `db:"resolved_at"`
}

func (r roundRow) toDomain() domain.Round {
	out := domain.Round{
		ID:              r.ID,
		Phase:           domain.Phase(r.Phase),
		PhaseDeadline:   r.PhaseDeadline,
		BettingWindow:   time.Duration(r.BettingWindowMs) * time.Millisecond,
		ResolvingWindow: time.Duration(r.ResolvingWindowMs) * time.Millisecond,
		SettleWindow:    time.Duration(r.SettleWindowMs) * time.Millisecond,
		TotalUp:         r.TotalUp,
		TotalDown:       r.TotalDown,
		StartedAt:       r.StartedAt,
	}
	if r.SettledAt.Valid {
		t := r.SettledAt.Time
		out.SettledAt = &t
	}
	if r.Direction.Valid {
		out.Outcome = &domain.Outcome{
			RoundID:    r.ID,
			Direction:  domain.Direction(r.Direction.String),
			Source:     domain.OutcomeSource(r.Source.String),
			ResolvedAt: r.ResolvedAt.Time,
		}
	}
	return out
}

const roundSelect = `
	SELECT r.id, r.phase, r.phase_deadline, r.betting_window_ms, r.resolving_window_ms, r.settle_window_ms,
	       r.total_up, r.total_down, r.started_at, r.settled_at,
	       o.direction, o.source, o.resolved_at
	FROM rounds r LEFT JOIN round_outcomes o ON o.round_id = r.id`

func (p *Postgres) LastRound(ctx context.Context) (domain.Round, bool, error) {
	var row roundRow
	err := p.db.GetContext(ctx, &row, roundSelect+` ORDER BY r.id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Round{}, false, nil
	}
	if err != nil {
		return domain.Round{}, false, fmt.Errorf("last round: %w", err)
	}
	return row.toDomain(), true, nil
}

func (p *Postgres) InsertRound(ctx context.Context, r domain.Round) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rounds(id, phase, phase_deadline, betting_window_ms, resolving_window_ms, settle_window_ms,
		                   total_up, total_down, started_at)
		VALUES($1,$2,$3,$4,$5,$6,0,0,$7)`,
		r.ID, string(r.Phase), r.PhaseDeadline,
		r.BettingWindow.Milliseconds(), r.ResolvingWindow.Milliseconds(), r.SettleWindow.Milliseconds(),
		r.StartedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("round %d: %w", r.ID, ErrDuplicateEntry)
	}
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}

func (p *Postgres) UpdatePhase(ctx context.Context, roundID int64, from, to domain.Phase, deadline time.Time, settledAt *time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE rounds SET phase=$3, phase_deadline=$4, settled_at=COALESCE($5, settled_at)
		WHERE id=$1 AND phase=$2`, roundID, string(from), string(to), deadline, settledAt)
	if err != nil {
		return fmt.Errorf("update phase: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("round %d not in %s: %w", roundID, from, apperr.ErrConcurrentModification)
	}
	return nil
}

func (p *Postgres) SaveOutcome(ctx context.Context, o domain.Outcome) (domain.Outcome, error) {
	if _, err := p.db.ExecContext(ctx, `
		INSERT INTO round_outcomes(round_id, direction, source, resolved_at)
		VALUES($1,$2,$3,$4)
		ON CONFLICT (round_id) DO NOTHING`,
		o.RoundID, string(o.Direction), string(o.Source), o.ResolvedAt); err != nil {
		return domain.Outcome{}, fmt.Errorf("save outcome: %w", err)
	}
	var cur domain.Outcome
	if err := p.db.GetContext(ctx, &cur,
		`SELECT round_id, direction, source, resolved_at FROM round_outcomes WHERE round_id=$1`, o.RoundID); err != nil {
		return domain.Outcome{}, fmt.Errorf("load outcome: %w", err)
	}
	return cur, nil
}

func (p *Postgres) RecentRounds(ctx context.Context, n int) ([]domain.Round, error) {
	var rows []roundRow
	if err := p.db.SelectContext(ctx, &rows, roundSelect+` ORDER BY r.id DESC LIMIT $1`, n); err != nil {
		return nil, fmt.Errorf("recent rounds: %w", err)
	}
	out := make([]domain.Round, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (p *Postgres) BetsByRound(ctx context.Context, roundID int64) ([]domain.Bet, error) {
	var out []domain.Bet
	if err := p.db.SelectContext(ctx, &out, `
		SELECT id, round_id, user_id, direction, amount, placed_at
		FROM bets WHERE round_id=$1 ORDER BY placed_at, id`, roundID); err != nil {
		return nil, fmt.Errorf("bets by round: %w", err)
	}
	return out, nil
}

const pendingColumns = `idempotency_key, round_id, user_id, amount, reason, attempts, last_error, created_at`

func (p *Postgres) SavePendingCredit(ctx context.Context, c domain.PendingCredit) error {
	if _, err := p.db.ExecContext(ctx, `
		INSERT INTO pending_credits(`+pendingColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET attempts = EXCLUDED.attempts, last_error = EXCLUDED.last_error`,
		c.IdempotencyKey, c.RoundID, c.UserID, c.Amount, c.Reason, c.Attempts, c.LastError, c.CreatedAt); err != nil {
		return fmt.Errorf("save pending credit: %w", err)
	}
	return nil
}

func (p *Postgres) PendingCredits(ctx context.Context, limit int) ([]domain.PendingCredit, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []domain.PendingCredit
	if err := p.db.SelectContext(ctx, &out, `
		SELECT `+pendingColumns+` FROM pending_credits
		ORDER BY created_at, idempotency_key LIMIT $1`, limit); err != nil {
		return nil, fmt.Errorf("pending credits: %w", err)
	}
	return out, nil
}

func (p *Postgres) DeletePendingCredit(ctx context.Context, key string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM pending_credits WHERE idempotency_key=$1`, key); err != nil {
		return fmt.Errorf("delete pending credit: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
