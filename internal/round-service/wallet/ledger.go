package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/updown-round-engine/internal/round-service/domain"
	"github.com/radieske/updown-round-engine/internal/round-service/metrics"
	"github.com/radieske/updown-round-engine/internal/round-service/store"
	"github.com/radieske/updown-round-engine/internal/shared/apperr"
)

const defaultMaxRetries = 5

// Ledger é o dono dos saldos; todo movimento de dinheiro passa por aqui
// Mutações por usuário são serializadas por retry otimista na versão da carteira
type Ledger struct {
	store      store.Store
	log        *zap.Logger
	maxRetries int
	now        func() time.Time
	pick       func(n int) int
}

type Option func(*Ledger)

// WithMaxRetries limita as tentativas em conflito de versão
func WithMaxRetries(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxRetries = n
		}
	}
}

func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

func NewLedger(st store.Store, log *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:      st,
		log:        log,
		maxRetries: defaultMaxRetries,
		now:        time.Now,
		pick:       defaultPick,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// DebitRequest descreve um débito; Key vazia gera uma chave única
type DebitRequest struct {
	UserID  string
	Amount  int64
	Reason  string
	RoundID *int64
	Key     string
}

// CreditRequest descreve um crédito; Key é obrigatória
type CreditRequest struct {
	UserID  string
	Amount  int64
	Reason  string
	RoundID *int64
	Key     string
}

// Hook roda dentro da mesma transação do débito, com a carteira já atualizada
// Se o hook falhar, o débito é descartado
type Hook func(ctx context.Context, tx store.Tx, w domain.Wallet) error

// Register cria a carteira com saldo zero se ainda não existir
func (l *Ledger) Register(ctx context.Context, userID string) (domain.Wallet, error) {
	if userID == "" {
		return domain.Wallet{}, fmt.Errorf("userId required: %w", apperr.ErrValidation)
	}
	return l.store.CreateWallet(ctx, userID, l.now())
}

func (l *Ledger) Balance(ctx context.Context, userID string) (domain.Wallet, error) {
	return l.store.GetWallet(ctx, userID)
}

func (l *Ledger) Entries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	return l.store.ListEntries(ctx, userID, limit)
}

// Debit decrementa o saldo se houver fundos e anexa uma entrada com delta negativo
// Chave já registrada torna a chamada um no-op que devolve o saldo atual
func (l *Ledger) Debit(ctx context.Context, req DebitRequest, hook Hook) (domain.Wallet, error) {
	if req.UserID == "" {
		return domain.Wallet{}, fmt.Errorf("userId required: %w", apperr.ErrValidation)
	}
	if req.Amount <= 0 {
		return domain.Wallet{}, fmt.Errorf("amount must be positive: %w", apperr.ErrValidation)
	}
	if req.Key == "" {
		req.Key = "debit:" + uuid.NewString()
	}

	var out domain.Wallet
	err := l.retry(ctx, "debit", func() error {
		return l.store.WithTx(ctx, func(tx store.Tx) error {
			if _, found, err := tx.EntryByKey(ctx, req.Key); err != nil {
				return err
			} else if found {
				w, err := tx.GetWallet(ctx, req.UserID)
				out = w
				return err
			}

			cur, err := tx.GetWallet(ctx, req.UserID)
			if err != nil {
				return err
			}
			if cur.Balance-req.Amount < 0 {
				return apperr.ErrInsufficientFunds
			}
			next, err := tx.UpdateBalance(ctx, req.UserID, cur.Version, -req.Amount)
			if err != nil {
				return err
			}
			if err := tx.InsertEntry(ctx, l.entry(req.UserID, req.RoundID, -req.Amount, next.Balance, req.Reason, req.Key)); err != nil {
				return err
			}
			if hook != nil {
				if err := hook(ctx, tx, next); err != nil {
					return err
				}
			}
			out = next
			return nil
		})
	})
	if err != nil {
		return domain.Wallet{}, err
	}
	return out, nil
}

// Credit incrementa o saldo; chave repetida é no-op e devolve o saldo atual
// applied indica se esta chamada gerou a entrada
func (l *Ledger) Credit(ctx context.Context, req CreditRequest) (w domain.Wallet, applied bool, err error) {
	if req.UserID == "" || req.Key == "" {
		return domain.Wallet{}, false, fmt.Errorf("userId and idempotency key required: %w", apperr.ErrValidation)
	}
	if req.Amount <= 0 {
		return domain.Wallet{}, false, fmt.Errorf("amount must be positive: %w", apperr.ErrValidation)
	}

	err = l.retry(ctx, "credit", func() error {
		applied = false
		return l.store.WithTx(ctx, func(tx store.Tx) error {
			if _, found, err := tx.EntryByKey(ctx, req.Key); err != nil {
				return err
			} else if found {
				cur, err := tx.GetWallet(ctx, req.UserID)
				w = cur
				return err
			}

			cur, err := tx.GetWallet(ctx, req.UserID)
			if err != nil {
				return err
			}
			next, err := tx.UpdateBalance(ctx, req.UserID, cur.Version, req.Amount)
			if err != nil {
				return err
			}
			if err := tx.InsertEntry(ctx, l.entry(req.UserID, req.RoundID, req.Amount, next.Balance, req.Reason, req.Key)); err != nil {
				return err
			}
			w, applied = next, true
			return nil
		})
	})
	if errors.Is(err, store.ErrDuplicateEntry) {
		// outra chamada com a mesma chave confirmou primeiro
		cur, gerr := l.store.GetWallet(ctx, req.UserID)
		return cur, false, gerr
	}
	if err != nil {
		return domain.Wallet{}, false, err
	}
	return w, applied, nil
}

// HasEntry indica se a chave de idempotência já gerou uma entrada
func (l *Ledger) HasEntry(ctx context.Context, key string) (bool, error) {
	_, found, err := l.store.EntryByKey(ctx, key)
	return found, err
}

// ReplayReport compara o saldo com a soma do ledger
type ReplayReport struct {
	UserID     string `json:"userId"`
	Balance    int64  `json:"balance"`
	LedgerSum  int64  `json:"ledgerSum"`
	Consistent bool   `json:"consistent"`
}

// Replay lê saldo e soma numa única leitura; débitos concorrentes não geram falsa divergência
func (l *Ledger) Replay(ctx context.Context, userID string) (ReplayReport, error) {
	w, sum, err := l.store.WalletWithLedgerSum(ctx, userID)
	if err != nil {
		return ReplayReport{}, err
	}
	return ReplayReport{
		UserID:     userID,
		Balance:    w.Balance,
		LedgerSum:  sum,
		Consistent: sum == w.Balance,
	}, nil
}

func (l *Ledger) entry(userID string, roundID *int64, delta, balanceAfter int64, reason, key string) domain.LedgerEntry {
	return domain.LedgerEntry{
		ID:             uuid.NewString(),
		UserID:         userID,
		RoundID:        roundID,
		Delta:          delta,
		BalanceAfter:   balanceAfter,
		Reason:         reason,
		IdempotencyKey: key,
		CreatedAt:      l.now(),
	}
}

// retry repete fn enquanto houver conflito de versão, até maxRetries
func (l *Ledger) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= l.maxRetries; attempt++ {
		err = fn()
		if !errors.Is(err, apperr.ErrConcurrentModification) {
			return err
		}
		metrics.RecordWalletConflict(op)
		l.log.Debug("wallet version conflict", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
	}
	return fmt.Errorf("%s gave up after %d attempts: %w", op, l.maxRetries, err)
}
