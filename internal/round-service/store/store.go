package store

import (
	"context"
	"errors"
	"time"

	"github.com/radieske/updown-round-engine/internal/round-service/domain"
)

// ErrDuplicateEntry indica chave de idempotência (ou id) já registrada
var ErrDuplicateEntry = errors.New("duplicate entry")

// Tx é a unidade de trabalho usada por carteira e apostas
// Tudo que for feito dentro de WithTx é confirmado ou descartado junto
type Tx interface {
	GetWallet(ctx context.Context, userID string) (domain.Wallet, error)
	// UpdateBalance aplica delta se a versão ainda for expectedVersion
	// Retorna apperr.ErrConcurrentModification em conflito e apperr.ErrInsufficientFunds se o saldo ficaria negativo
	UpdateBalance(ctx context.Context, userID string, expectedVersion, delta int64) (domain.Wallet, error)
	InsertEntry(ctx context.Context, e domain.LedgerEntry) error
	EntryByKey(ctx context.Context, key string) (domain.LedgerEntry, bool, error)
	InsertBet(ctx context.Context, b domain.Bet) error
	AddRoundTotals(ctx context.Context, roundID, up, down int64) error
}

// Store define o contrato de persistência do motor de rodadas
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error

	// carteiras e ledger
	CreateWallet(ctx context.Context, userID string, now time.Time) (domain.Wallet, error)
	GetWallet(ctx context.Context, userID string) (domain.Wallet, error)
	EntryByKey(ctx context.Context, key string) (domain.LedgerEntry, bool, error)
	ListEntries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error)
	// WalletWithLedgerSum lê saldo e soma do ledger no mesmo snapshot
	WalletWithLedgerSum(ctx context.Context, userID string) (domain.Wallet, int64, error)

	// rodadas
	LastRound(ctx context.Context) (domain.Round, bool, error)
	InsertRound(ctx context.Context, r domain.Round) error
	// UpdatePhase só avança se a rodada ainda estiver em from
	UpdatePhase(ctx context.Context, roundID int64, from, to domain.Phase, deadline time.Time, settledAt *time.Time) error
	// SaveOutcome grava o resultado se ainda não existir e devolve o registrado
	SaveOutcome(ctx context.Context, o domain.Outcome) (domain.Outcome, error)
	RecentRounds(ctx context.Context, n int) ([]domain.Round, error)
	BetsByRound(ctx context.Context, roundID int64) ([]domain.Bet, error)

	// créditos de liquidação aguardando nova tentativa
	SavePendingCredit(ctx context.Context, c domain.PendingCredit) error
	PendingCredits(ctx context.Context, limit int) ([]domain.PendingCredit, error)
	DeletePendingCredit(ctx context.Context, key string) error

	Ping(ctx context.Context) error
}
