package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/radieske/updown-round-engine/internal/round-service/domain"
	"github.com/radieske/updown-round-engine/internal/shared/apperr"
)

// Memory é o store em memória (STORE_DRIVER=memory e testes)
// Transações acumulam escritas e validam versões no commit (otimista)
type Memory struct {
	mu       sync.RWMutex
	wallets  map[string]domain.Wallet
	entries  []domain.LedgerEntry
	byKey    map[string]int
	rounds   map[int64]*domain.Round
	outcomes map[int64]domain.Outcome
	bets     map[int64][]domain.Bet
	pending  map[string]domain.PendingCredit
}

func NewMemory() *Memory {
	return &Memory{
		wallets:  make(map[string]domain.Wallet),
		byKey:    make(map[string]int),
		rounds:   make(map[int64]*domain.Round),
		outcomes: make(map[int64]domain.Outcome),
		bets:     make(map[int64][]domain.Bet),
		pending:  make(map[string]domain.PendingCredit),
	}
}

type memTx struct {
	m       *Memory
	base    map[string]int64 // versão lida por usuário
	wallets map[string]domain.Wallet
	entries []domain.LedgerEntry
	bets    []domain.Bet
	totals  map[int64][2]int64
}

func (m *Memory) WithTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		m:       m,
		base:    make(map[string]int64),
		wallets: make(map[string]domain.Wallet),
		totals:  make(map[int64][2]int64),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *Memory) commit(tx *memTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, v := range tx.base {
		w, ok := m.wallets[userID]
		if !ok {
			return apperr.ErrWalletNotFound
		}
		if w.Version != v {
			return fmt.Errorf("wallet %s: %w", userID, apperr.ErrConcurrentModification)
		}
	}
	seen := make(map[string]struct{}, len(tx.entries))
	for _, e := range tx.entries {
		if _, dup := m.byKey[e.IdempotencyKey]; dup {
			return fmt.Errorf("key %s: %w", e.IdempotencyKey, ErrDuplicateEntry)
		}
		if _, dup := seen[e.IdempotencyKey]; dup {
			return fmt.Errorf("key %s: %w", e.IdempotencyKey, ErrDuplicateEntry)
		}
		seen[e.IdempotencyKey] = struct{}{}
	}
	for roundID := range tx.totals {
		if _, ok := m.rounds[roundID]; !ok {
			return apperr.ErrRoundNotFound
		}
	}
	for _, b := range tx.bets {
		if _, ok := m.rounds[b.RoundID]; !ok {
			return apperr.ErrRoundNotFound
		}
	}

	for userID, w := range tx.wallets {
		m.wallets[userID] = w
	}
	for _, e := range tx.entries {
		m.byKey[e.IdempotencyKey] = len(m.entries)
		m.entries = append(m.entries, e)
	}
	for _, b := range tx.bets {
		m.bets[b.RoundID] = append(m.bets[b.RoundID], b)
	}
	for roundID, t := range tx.totals {
		r := m.rounds[roundID]
		r.TotalUp += t[0]
		r.TotalDown += t[1]
	}
	return nil
}

func (t *memTx) GetWallet(_ context.Context, userID string) (domain.Wallet, error) {
	if w, ok := t.wallets[userID]; ok {
		return w, nil
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	w, ok := t.m.wallets[userID]
	if !ok {
		return domain.Wallet{}, apperr.ErrWalletNotFound
	}
	return w, nil
}

func (t *memTx) UpdateBalance(ctx context.Context, userID string, expectedVersion, delta int64) (domain.Wallet, error) {
	w, err := t.GetWallet(ctx, userID)
	if err != nil {
		return domain.Wallet{}, err
	}
	if w.Version != expectedVersion {
		return domain.Wallet{}, fmt.Errorf("wallet %s: %w", userID, apperr.ErrConcurrentModification)
	}
	if w.Balance+delta < 0 {
		return domain.Wallet{}, apperr.ErrInsufficientFunds
	}
	if _, ok := t.base[userID]; !ok {
		t.base[userID] = w.Version
	}
	w.Balance += delta
	w.Version++
	w.UpdatedAt = time.Now()
	t.wallets[userID] = w
	return w, nil
}

func (t *memTx) InsertEntry(_ context.Context, e domain.LedgerEntry) error {
	t.entries = append(t.entries, e)
	return nil
}

func (t *memTx) EntryByKey(ctx context.Context, key string) (domain.LedgerEntry, bool, error) {
	for _, e := range t.entries {
		if e.IdempotencyKey == key {
			return e, true, nil
		}
	}
	return t.m.EntryByKey(ctx, key)
}

func (t *memTx) InsertBet(_ context.Context, b domain.Bet) error {
	t.bets = append(t.bets, b)
	return nil
}

func (t *memTx) AddRoundTotals(_ context.Context, roundID, up, down int64) error {
	cur := t.totals[roundID]
	t.totals[roundID] = [2]int64{cur[0] + up, cur[1] + down}
	return nil
}

func (m *Memory) CreateWallet(_ context.Context, userID string, now time.Time) (domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.wallets[userID]; ok {
		return w, nil
	}
	w := domain.Wallet{UserID: userID, Version: 1, CreatedAt: now, UpdatedAt: now}
	m.wallets[userID] = w
	return w, nil
}

func (m *Memory) GetWallet(_ context.Context, userID string) (domain.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[userID]
	if !ok {
		return domain.Wallet{}, apperr.ErrWalletNotFound
	}
	return w, nil
}

func (m *Memory) EntryByKey(_ context.Context, key string) (domain.LedgerEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.byKey[key]
	if !ok {
		return domain.LedgerEntry{}, false, nil
	}
	return m.entries[i], true, nil
}

// ListEntries retorna as entradas mais recentes primeiro
func (m *Memory) ListEntries(_ context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.LedgerEntry
	for i := len(m.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.entries[i].UserID == userID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

// WalletWithLedgerSum lê carteira e entradas sob o mesmo lock que o commit usa
func (m *Memory) WalletWithLedgerSum(_ context.Context, userID string) (domain.Wallet, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[userID]
	if !ok {
		return domain.Wallet{}, 0, apperr.ErrWalletNotFound
	}
	var sum int64
	for _, e := range m.entries {
		if e.UserID == userID {
			sum += e.Delta
		}
	}
	return w, sum, nil
}

func (m *Memory) LastRound(_ context.Context) (domain.Round, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *domain.Round
	for _, r := range m.rounds {
		if last == nil || r.ID > last.ID {
			last = r
		}
	}
	if last == nil {
		return domain.Round{}, false, nil
	}
	return m.roundCopy(last), true, nil
}

// roundCopy devolve uma cópia com o resultado anexado; chamar com mu travado
func (m *Memory) roundCopy(r *domain.Round) domain.Round {
	out := *r
	if o, ok := m.outcomes[r.ID]; ok {
		out.Outcome = &o
	}
	if r.SettledAt != nil {
		t := *r.SettledAt
		out.SettledAt = &t
	}
	return out
}

func (m *Memory) InsertRound(_ context.Context, r domain.Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rounds[r.ID]; ok {
		return fmt.Errorf("round %d: %w", r.ID, ErrDuplicateEntry)
	}
	r.Outcome = nil
	m.rounds[r.ID] = &r
	return nil
}

func (m *Memory) UpdatePhase(_ context.Context, roundID int64, from, to domain.Phase, deadline time.Time, settledAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[roundID]
	if !ok {
		return apperr.ErrRoundNotFound
	}
	if r.Phase != from {
		return fmt.Errorf("round %d is %s, expected %s: %w", roundID, r.Phase, from, apperr.ErrConcurrentModification)
	}
	r.Phase = to
	r.PhaseDeadline = deadline
	if settledAt != nil {
		t := *settledAt
		r.SettledAt = &t
	}
	return nil
}

func (m *Memory) SaveOutcome(_ context.Context, o domain.Outcome) (domain.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rounds[o.RoundID]; !ok {
		return domain.Outcome{}, apperr.ErrRoundNotFound
	}
	if cur, ok := m.outcomes[o.RoundID]; ok {
		return cur, nil
	}
	m.outcomes[o.RoundID] = o
	return o, nil
}

// RecentRounds retorna as n rodadas mais recentes, da mais nova para a mais antiga
func (m *Memory) RecentRounds(_ context.Context, n int) ([]domain.Round, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.rounds))
	for id := range m.rounds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	if n > 0 && len(ids) > n {
		ids = ids[:n]
	}
	out := make([]domain.Round, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.roundCopy(m.rounds[id]))
	}
	return out, nil
}

func (m *Memory) BetsByRound(_ context.Context, roundID int64) ([]domain.Bet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Bet, len(m.bets[roundID]))
	copy(out, m.bets[roundID])
	return out, nil
}

// SavePendingCredit grava ou atualiza (tentativas, último erro) pela chave
func (m *Memory) SavePendingCredit(_ context.Context, c domain.PendingCredit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rounds[c.RoundID]; !ok {
		return apperr.ErrRoundNotFound
	}
	if cur, ok := m.pending[c.IdempotencyKey]; ok {
		c.CreatedAt = cur.CreatedAt
	}
	m.pending[c.IdempotencyKey] = c
	return nil
}

// PendingCredits retorna os mais antigos primeiro
func (m *Memory) PendingCredits(_ context.Context, limit int) ([]domain.PendingCredit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.PendingCredit, 0, len(m.pending))
	for _, c := range m.pending {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].IdempotencyKey < out[j].IdempotencyKey
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) DeletePendingCredit(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, key)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }
