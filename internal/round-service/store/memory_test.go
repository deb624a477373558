package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/updown-round-engine/internal/round-service/domain"
	"github.com/radieske/updown-round-engine/internal/shared/apperr"
)

func seedRound(t *testing.T, m *Memory, id int64) {
	t.Helper()
	require.NoError(t, m.InsertRound(context.Background(), domain.Round{
		ID: id, Phase: domain.PhaseBetting, PhaseDeadline: time.Now().Add(time.Minute), StartedAt: time.Now(),
	}))
}

func TestMemoryCreateWalletIsIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	w1, err := m.CreateWallet(ctx, "alice", time.Now())
	require.NoError(t, err)
	w2, err := m.CreateWallet(ctx, "alice", time.Now())
	require.NoError(t, err)

	assert.Equal(t, w1, w2)
	assert.Equal(t, int64(0), w1.Balance)
	assert.Equal(t, int64(1), w1.Version)
}

func TestMemoryTxCommitsAtomically(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, _ = m.CreateWallet(ctx, "alice", time.Now())
	seedRound(t, m, 1)

	err := m.WithTx(ctx, func(tx Tx) error {
		w, err := tx.GetWallet(ctx, "alice")
		if err != nil {
			return err
		}
		if _, err := tx.UpdateBalance(ctx, "alice", w.Version, 100); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, domain.LedgerEntry{ID: "e1", UserID: "alice", Delta: 100, IdempotencyKey: "k1"}); err != nil {
			return err
		}
		if err := tx.InsertBet(ctx, domain.Bet{ID: "b1", RoundID: 1, UserID: "alice", Direction: domain.Up, Amount: 10}); err != nil {
			return err
		}
		return tx.AddRoundTotals(ctx, 1, 10, 0)
	})
	require.NoError(t, err)

	w, _ := m.GetWallet(ctx, "alice")
	assert.Equal(t, int64(100), w.Balance)
	assert.Equal(t, int64(2), w.Version)

	bets, _ := m.BetsByRound(ctx, 1)
	assert.Len(t, bets, 1)

	r, ok, _ := m.LastRound(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(10), r.TotalUp)
}

func TestMemoryTxRollbackOnError(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, _ = m.CreateWallet(ctx, "alice", time.Now())

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(tx Tx) error {
		_, _ = tx.UpdateBalance(ctx, "alice", 1, 50)
		_ = tx.InsertEntry(ctx, domain.LedgerEntry{ID: "e1", UserID: "alice", Delta: 50, IdempotencyKey: "k1"})
		return boom
	})
	assert.ErrorIs(t, err, boom)

	w, _ := m.GetWallet(ctx, "alice")
	assert.Equal(t, int64(0), w.Balance)
	_, found, _ := m.EntryByKey(ctx, "k1")
	assert.False(t, found)
}

func TestMemoryTxDetectsConcurrentModification(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, _ = m.CreateWallet(ctx, "alice", time.Now())

	err := m.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.UpdateBalance(ctx, "alice", 1, 10); err != nil {
			return err
		}
		// outra transação confirma antes desta
		return m.WithTx(ctx, func(inner Tx) error {
			_, err := inner.UpdateBalance(ctx, "alice", 1, 5)
			return err
		})
	})
	// a interna confirma, a externa precisa falhar no commit
	assert.ErrorIs(t, err, apperr.ErrConcurrentModification)

	w, _ := m.GetWallet(ctx, "alice")
	assert.Equal(t, int64(5), w.Balance)
}

func TestMemoryUpdateBalanceRejectsNegative(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, _ = m.CreateWallet(ctx, "bob", time.Now())

	err := m.WithTx(ctx, func(tx Tx) error {
		_, err := tx.UpdateBalance(ctx, "bob", 1, -1)
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
}

func TestMemoryDuplicateKey(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, _ = m.CreateWallet(ctx, "alice", time.Now())

	insert := func() error {
		return m.WithTx(ctx, func(tx Tx) error {
			w, _ := tx.GetWallet(ctx, "alice")
			if _, err := tx.UpdateBalance(ctx, "alice", w.Version, 10); err != nil {
				return err
			}
			return tx.InsertEntry(ctx, domain.LedgerEntry{ID: "x", UserID: "alice", Delta: 10, IdempotencyKey: "same"})
		})
	}
	require.NoError(t, insert())
	assert.ErrorIs(t, insert(), ErrDuplicateEntry)

	w, _ := m.GetWallet(ctx, "alice")
	assert.Equal(t, int64(10), w.Balance)
}

func TestMemoryPhaseNeverMovesBackward(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedRound(t, m, 1)

	require.NoError(t, m.UpdatePhase(ctx, 1, domain.PhaseBetting, domain.PhaseResolving, time.Now(), nil))
	err := m.UpdatePhase(ctx, 1, domain.PhaseBetting, domain.PhaseResolving, time.Now(), nil)
	assert.ErrorIs(t, err, apperr.ErrConcurrentModification)
	assert.ErrorIs(t, m.UpdatePhase(ctx, 9, domain.PhaseBetting, domain.PhaseResolving, time.Now(), nil), apperr.ErrRoundNotFound)
}

func TestMemorySaveOutcomeFirstWins(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedRound(t, m, 1)

	first, err := m.SaveOutcome(ctx, domain.Outcome{RoundID: 1, Direction: domain.Up, Source: domain.SourceAdminOverride})
	require.NoError(t, err)
	second, err := m.SaveOutcome(ctx, domain.Outcome{RoundID: 1, Direction: domain.Down, Source: domain.SourceAuto})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	r, _, _ := m.LastRound(ctx)
	require.NotNil(t, r.Outcome)
	assert.Equal(t, domain.Up, r.Outcome.Direction)
}

func TestMemoryRecentRoundsOrder(t *testing.T) {
	m := NewMemory()
	for i := int64(1); i <= 12; i++ {
		seedRound(t, m, i)
	}
	rounds, err := m.RecentRounds(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rounds, 10)
	assert.Equal(t, int64(12), rounds[0].ID)
	assert.Equal(t, int64(3), rounds[9].ID)
}

func TestMemoryWalletWithLedgerSum(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, _ = m.CreateWallet(ctx, "alice", time.Now())

	require.NoError(t, m.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.UpdateBalance(ctx, "alice", 1, 70); err != nil {
			return err
		}
		return tx.InsertEntry(ctx, domain.LedgerEntry{ID: "e1", UserID: "alice", Delta: 70, IdempotencyKey: "k1"})
	}))

	w, sum, err := m.WalletWithLedgerSum(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(70), w.Balance)
	assert.Equal(t, int64(70), sum)

	_, _, err = m.WalletWithLedgerSum(ctx, "ghost")
	assert.ErrorIs(t, err, apperr.ErrWalletNotFound)
}

func TestMemoryPendingCredits(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedRound(t, m, 1)
	t0 := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, m.SavePendingCredit(ctx, domain.PendingCredit{IdempotencyKey: "settle:1:bob", RoundID: 1, UserID: "bob", Amount: 60, Attempts: 3, CreatedAt: t0.Add(time.Second)}))
	require.NoError(t, m.SavePendingCredit(ctx, domain.PendingCredit{IdempotencyKey: "settle:1:amy", RoundID: 1, UserID: "amy", Amount: 20, Attempts: 3, CreatedAt: t0}))
	// reescrita mantém a data de entrada na fila
	require.NoError(t, m.SavePendingCredit(ctx, domain.PendingCredit{IdempotencyKey: "settle:1:bob", RoundID: 1, UserID: "bob", Amount: 60, Attempts: 4, LastError: "down", CreatedAt: t0.Add(time.Hour)}))
	assert.ErrorIs(t, m.SavePendingCredit(ctx, domain.PendingCredit{IdempotencyKey: "settle:9:x", RoundID: 9}), apperr.ErrRoundNotFound)

	got, err := m.PendingCredits(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "settle:1:amy", got[0].IdempotencyKey)
	assert.Equal(t, 4, got[1].Attempts)
	assert.True(t, got[1].CreatedAt.Equal(t0.Add(time.Second)))

	got, _ = m.PendingCredits(ctx, 1)
	assert.Len(t, got, 1)

	require.NoError(t, m.DeletePendingCredit(ctx, "settle:1:amy"))
	require.NoError(t, m.DeletePendingCredit(ctx, "settle:1:amy"))
	got, _ = m.PendingCredits(ctx, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0].UserID)
}
