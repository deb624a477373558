package betting

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/updown-round-engine/internal/round-service/domain"
	"github.com/radieske/updown-round-engine/internal/round-service/metrics"
	"github.com/radieske/updown-round-engine/internal/round-service/store"
	"github.com/radieske/updown-round-engine/internal/round-service/wallet"
	"github.com/radieske/updown-round-engine/internal/shared/apperr"
	"github.com/radieske/updown-round-engine/pkg/contracts/events"
)

// Publisher recebe as apostas aceitas (Kafka em produção)
type Publisher interface {
	PublishBetPlaced(ctx context.Context, e events.BetPlaced) error
}

// Limits são os valores mínimo e máximo aceitos por aposta
type Limits struct {
	Min int64
	Max int64
}

type PlaceBetInput struct {
	UserID    string           `json:"userId"`
	RoundID   int64            `json:"roundId"`
	Direction domain.Direction `json:"direction"`
	Amount    int64            `json:"amount"`
}

type Receipt struct {
	Bet     domain.Bet `json:"bet"`
	Balance int64      `json:"balance"`
}

type Totals struct {
	RoundID int64
	Up      int64
	Down    int64
}

// Ledger aceita e agrega apostas da rodada aberta
// PlaceBet segura o lado de leitura do mu durante débito+registro; Close segura o de escrita
// Assim Close espera apostas em andamento e nenhuma aposta entra depois do fechamento
type Ledger struct {
	wallet *wallet.Ledger
	log    *zap.Logger
	limits Limits
	pub    Publisher
	now    func() time.Time

	mu      sync.RWMutex
	roundID int64
	open    bool
	up      atomic.Int64
	down    atomic.Int64
}

func NewLedger(w *wallet.Ledger, log *zap.Logger, limits Limits, pub Publisher) *Ledger {
	if limits.Min < 1 {
		limits.Min = 1
	}
	return &Ledger{wallet: w, log: log, limits: limits, pub: pub, now: time.Now}
}

// Open passa a aceitar apostas para roundID com totais zerados
func (l *Ledger) Open(roundID int64) {
	l.Restore(roundID, true, 0, 0)
}

// Restore recoloca o estado a partir do que foi persistido (recuperação)
func (l *Ledger) Restore(roundID int64, open bool, up, down int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roundID = roundID
	l.open = open
	l.up.Store(up)
	l.down.Store(down)
}

// Close para de aceitar apostas; retorna os totais finais da rodada
func (l *Ledger) Close(roundID int64) Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.roundID == roundID {
		l.open = false
	}
	return l.totalsLocked()
}

func (l *Ledger) Totals() Totals {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalsLocked()
}

func (l *Ledger) totalsLocked() Totals {
	return Totals{RoundID: l.roundID, Up: l.up.Load(), Down: l.down.Load()}
}

func (l *Ledger) validate(in PlaceBetInput) error {
	switch {
	case in.UserID == "":
		return fmt.Errorf("userId required: %w", apperr.ErrValidation)
	case !in.Direction.Bettable():
		return fmt.Errorf("direction must be UP or DOWN: %w", apperr.ErrValidation)
	case in.Amount <= 0:
		return fmt.Errorf("amount must be positive: %w", apperr.ErrValidation)
	case in.Amount < l.limits.Min:
		return fmt.Errorf("amount below minimum %d: %w", l.limits.Min, apperr.ErrValidation)
	case l.limits.Max > 0 && in.Amount > l.limits.Max:
		return fmt.Errorf("amount above maximum %d: %w", l.limits.Max, apperr.ErrValidation)
	}
	return nil
}

// PlaceBet debita a carteira e registra a aposta na mesma transação
func (l *Ledger) PlaceBet(ctx context.Context, in PlaceBetInput) (Receipt, error) {
	rec, err := l.placeBet(ctx, in)
	if err != nil {
		metrics.RecordBet(apperr.Code(err), in.Amount)
		return Receipt{}, err
	}
	metrics.RecordBet("accepted", in.Amount)

	if l.pub != nil {
		if perr := l.pub.PublishBetPlaced(ctx, events.BetPlaced{
			BetID:     rec.Bet.ID,
			RoundID:   rec.Bet.RoundID,
			UserID:    rec.Bet.UserID,
			Direction: string(rec.Bet.Direction),
			Amount:    rec.Bet.Amount,
			Balance:   rec.Balance,
			TsUnixMs:  rec.Bet.PlacedAt.UnixMilli(),
		}); perr != nil {
			l.log.Warn("publish bet_placed failed", zap.String("bet_id", rec.Bet.ID), zap.Error(perr))
		}
	}
	return rec, nil
}

func (l *Ledger) placeBet(ctx context.Context, in PlaceBetInput) (Receipt, error) {
	if err := l.validate(in); err != nil {
		return Receipt{}, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.roundID == 0 || in.RoundID != l.roundID {
		return Receipt{}, fmt.Errorf("round %d: %w", in.RoundID, apperr.ErrRoundNotFound)
	}
	if !l.open {
		return Receipt{}, fmt.Errorf("round %d: %w", in.RoundID, apperr.ErrRoundNotInBettingPhase)
	}

	bet := domain.Bet{
		ID:        uuid.NewString(),
		RoundID:   in.RoundID,
		UserID:    in.UserID,
		Direction: in.Direction,
		Amount:    in.Amount,
		PlacedAt:  l.now(),
	}
	var up, down int64
	if bet.Direction == domain.Up {
		up = bet.Amount
	} else {
		down = bet.Amount
	}

	roundID := bet.RoundID
	w, err := l.wallet.Debit(ctx, wallet.DebitRequest{
		UserID:  bet.UserID,
		Amount:  bet.Amount,
		Reason:  domain.ReasonBet,
		RoundID: &roundID,
		Key:     "bet:" + bet.ID,
	}, func(ctx context.Context, tx store.Tx, _ domain.Wallet) error {
		if err := tx.InsertBet(ctx, bet); err != nil {
			return err
		}
		return tx.AddRoundTotals(ctx, bet.RoundID, up, down)
	})
	if err != nil {
		return Receipt{}, err
	}

	l.up.Add(up)
	l.down.Add(down)

	l.log.Debug("bet accepted",
		zap.Int64("round_id", bet.RoundID),
		zap.String("user_id", bet.UserID),
		zap.String("direction", string(bet.Direction)),
		zap.Int64("amount", bet.Amount),
	)
	return Receipt{Bet: bet, Balance: w.Balance}, nil
}
