package settlement

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/updown-round-engine/internal/round-service/domain"
	"github.com/radieske/updown-round-engine/internal/round-service/metrics"
	"github.com/radieske/updown-round-engine/internal/round-service/wallet"
	"github.com/radieske/updown-round-engine/internal/shared/apperr"
	"github.com/radieske/updown-round-engine/pkg/contracts/events"
)

// TiePolicy define o que acontece com as apostas quando o resultado é TIE
type TiePolicy string

const (
	TieForfeit TiePolicy = "forfeit" // ninguém recebe
	TieRefund  TiePolicy = "refund"  // cada aposta é devolvida
)

type Crediter interface {
	Credit(ctx context.Context, req wallet.CreditRequest) (domain.Wallet, bool, error)
}

// Source fornece as apostas da rodada e guarda os créditos que ficaram pendentes
type Source interface {
	BetsByRound(ctx context.Context, roundID int64) ([]domain.Bet, error)
	SavePendingCredit(ctx context.Context, c domain.PendingCredit) error
	PendingCredits(ctx context.Context, limit int) ([]domain.PendingCredit, error)
	DeletePendingCredit(ctx context.Context, key string) error
}

type Config struct {
	Multiplier     decimal.Decimal
	TiePolicy      TiePolicy
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Attempts limita as tentativas por crédito dentro de Settle
	// Esgotadas, o crédito vai para a fila de pendentes
	Attempts int
	// RetryInterval é o intervalo entre varreduras da fila de pendentes
	RetryInterval time.Duration
}

// DefaultConfig paga 2x e perde tudo no empate
func DefaultConfig() Config {
	return Config{
		Multiplier:     decimal.NewFromInt(2),
		TiePolicy:      TieForfeit,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Attempts:       3,
		RetryInterval:  2 * time.Second,
	}
}

type Result struct {
	RoundID     int64
	Outcome     domain.Outcome
	Bettors     []string
	Credits     []events.Credit
	// Pending são os créditos que não entraram e seguem na fila de pendentes
	Pending     []events.Credit
	TotalPayout int64
}

// Settler credita os vencedores de uma rodada exatamente uma vez
type Settler struct {
	store  Source
	wallet Crediter
	cfg    Config
	log    *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	running map[int64]bool
	done    map[int64]Result
}

func NewSettler(src Source, w Crediter, cfg Config, log *zap.Logger) *Settler {
	if cfg.Multiplier.IsZero() {
		cfg.Multiplier = decimal.NewFromInt(2)
	}
	if cfg.TiePolicy == "" {
		cfg.TiePolicy = TieForfeit
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 2 * time.Second
	}
	return &Settler{
		store:   src,
		wallet:  w,
		cfg:     cfg,
		log:     log,
		sleep:   sleepCtx,
		running: make(map[int64]bool),
		done:    make(map[int64]Result),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SettlementKey é a chave de idempotência do crédito de um usuário numa rodada
func SettlementKey(roundID int64, userID string) string {
	return fmt.Sprintf("settle:%d:%s", roundID, userID)
}

// Plan calcula os créditos agregados por usuário, ordenados por userId
func (s *Settler) Plan(bets []domain.Bet, o domain.Outcome) []events.Credit {
	stakes := make(map[string]int64)
	reason := domain.ReasonPayout
	mult := s.cfg.Multiplier

	switch {
	case o.Direction == domain.Tie && s.cfg.TiePolicy == TieRefund:
		reason = domain.ReasonRefund
		mult = decimal.NewFromInt(1)
		for _, b := range bets {
			stakes[b.UserID] += b.Amount
		}
	case o.Direction == domain.Tie:
		return nil
	default:
		for _, b := range bets {
			if b.Direction == o.Direction {
				stakes[b.UserID] += b.Amount
			}
		}
	}

	out := make([]events.Credit, 0, len(stakes))
	for userID, stake := range stakes {
		amount := decimal.NewFromInt(stake).Mul(mult).Floor().IntPart()
		if amount <= 0 {
			continue
		}
		out = append(out, events.Credit{
			UserID:         userID,
			Amount:         amount,
			Reason:         reason,
			IdempotencyKey: SettlementKey(o.RoundID, userID),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Settle carrega as apostas uma vez e emite os créditos
// Cada crédito tem Attempts tentativas; o que ainda falhar é gravado como pendente
// e reaplicado por RetryPending com a mesma chave, sem segurar a rodada
func (s *Settler) Settle(ctx context.Context, o domain.Outcome) (Result, error) {
	s.mu.Lock()
	if _, ok := s.done[o.RoundID]; ok || s.running[o.RoundID] {
		s.mu.Unlock()
		return Result{}, fmt.Errorf("round %d: %w", o.RoundID, apperr.ErrDuplicateSettlement)
	}
	s.running[o.RoundID] = true
	s.mu.Unlock()

	start := time.Now()
	res, err := s.settle(ctx, o)

	s.mu.Lock()
	delete(s.running, o.RoundID)
	if err == nil {
		s.done[o.RoundID] = res
		for id := range s.done {
			if id < o.RoundID-64 {
				delete(s.done, id)
			}
		}
	}
	s.mu.Unlock()

	if err != nil {
		return Result{}, err
	}
	metrics.RecordSettlement(time.Since(start), res.TotalPayout)
	s.log.Info("round settled",
		zap.Int64("round_id", o.RoundID),
		zap.String("outcome", string(o.Direction)),
		zap.String("source", string(o.Source)),
		zap.Int("credits", len(res.Credits)),
		zap.Int("pending", len(res.Pending)),
		zap.Int64("total_payout", res.TotalPayout),
	)
	return res, nil
}

// Result devolve a liquidação já concluída da rodada, se ainda estiver em memória
func (s *Settler) Result(roundID int64) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.done[roundID]
	return res, ok
}

func (s *Settler) settle(ctx context.Context, o domain.Outcome) (Result, error) {
	var bets []domain.Bet
	err := s.retry(ctx, o.RoundID, "load bets", func() error {
		var err error
		bets, err = s.store.BetsByRound(ctx, o.RoundID)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{RoundID: o.RoundID, Outcome: o, Bettors: bettors(bets)}
	for _, c := range s.Plan(bets, o) {
		roundID := o.RoundID
		req := wallet.CreditRequest{
			UserID:  c.UserID,
			Amount:  c.Amount,
			Reason:  c.Reason,
			RoundID: &roundID,
			Key:     c.IdempotencyKey,
		}
		err := s.retry(ctx, o.RoundID, "credit "+c.UserID, func() error {
			_, _, err := s.wallet.Credit(ctx, req)
			return err
		})
		if err == nil {
			res.Credits = append(res.Credits, c)
			res.TotalPayout += c.Amount
			continue
		}
		if ctx.Err() != nil {
			return Result{}, err
		}
		if err := s.park(ctx, o.RoundID, c, err); err != nil {
			return Result{}, err
		}
		res.Pending = append(res.Pending, c)
	}
	return res, nil
}

// park grava o crédito na fila de pendentes; se nem isso der certo a liquidação falha inteira
func (s *Settler) park(ctx context.Context, roundID int64, c events.Credit, cause error) error {
	p := domain.PendingCredit{
		IdempotencyKey: c.IdempotencyKey,
		RoundID:        roundID,
		UserID:         c.UserID,
		Amount:         c.Amount,
		Reason:         c.Reason,
		Attempts:       s.cfg.Attempts,
		LastError:      cause.Error(),
		CreatedAt:      time.Now(),
	}
	if err := s.store.SavePendingCredit(ctx, p); err != nil {
		return fmt.Errorf("settle round %d: park credit %s: %w", roundID, c.IdempotencyKey, err)
	}
	metrics.AddPendingCredits(1)
	s.log.Warn("credit parked for background retry",
		zap.Int64("round_id", roundID),
		zap.String("user_id", c.UserID),
		zap.String("key", c.IdempotencyKey),
		zap.Int64("amount", c.Amount),
		zap.Error(cause),
	)
	return nil
}

// retry repete fn com backoff exponencial limitado, no máximo cfg.Attempts vezes
func (s *Settler) retry(ctx context.Context, roundID int64, op string, fn func() error) error {
	backoff := s.cfg.InitialBackoff
	var err error
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		metrics.RecordCreditRetry()
		s.log.Warn("settlement step failed",
			zap.Int64("round_id", roundID),
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == s.cfg.Attempts {
			break
		}
		if serr := s.sleep(ctx, backoff); serr != nil {
			return fmt.Errorf("settle round %d (%s): %w", roundID, op, serr)
		}
		backoff *= 2
		if backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
	}
	return fmt.Errorf("settle round %d (%s) gave up after %d attempts: %w", roundID, op, s.cfg.Attempts, err)
}

// RetryPending reaplica a fila de pendentes a cada RetryInterval até ctx terminar
// Roda no líder; a fila é persistida, então um novo líder continua de onde o anterior parou
func (s *Settler) RetryPending(ctx context.Context) {
	for {
		if _, err := s.DrainPending(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("drain pending credits failed", zap.Error(err))
		}
		if s.sleep(ctx, s.cfg.RetryInterval) != nil {
			return
		}
	}
}

// DrainPending tenta uma vez cada crédito pendente e devolve quantos entraram
func (s *Settler) DrainPending(ctx context.Context) (int, error) {
	pending, err := s.store.PendingCredits(ctx, 100)
	if err != nil {
		return 0, fmt.Errorf("load pending credits: %w", err)
	}
	applied := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return applied, ctx.Err()
		}
		roundID := p.RoundID
		_, _, cerr := s.wallet.Credit(ctx, wallet.CreditRequest{
			UserID:  p.UserID,
			Amount:  p.Amount,
			Reason:  p.Reason,
			RoundID: &roundID,
			Key:     p.IdempotencyKey,
		})
		if cerr != nil {
			metrics.RecordCreditRetry()
			p.Attempts++
			p.LastError = cerr.Error()
			if err := s.store.SavePendingCredit(ctx, p); err != nil {
				s.log.Warn("update pending credit failed", zap.String("key", p.IdempotencyKey), zap.Error(err))
			}
			s.log.Warn("pending credit still failing",
				zap.Int64("round_id", p.RoundID),
				zap.String("user_id", p.UserID),
				zap.Int("attempts", p.Attempts),
				zap.Error(cerr),
			)
			continue
		}
		if err := s.store.DeletePendingCredit(ctx, p.IdempotencyKey); err != nil {
			// crédito já entrou; a próxima varredura só reencontra a chave
			s.log.Warn("delete pending credit failed", zap.String("key", p.IdempotencyKey), zap.Error(err))
			continue
		}
		applied++
		s.log.Info("pending credit applied",
			zap.Int64("round_id", p.RoundID),
			zap.String("user_id", p.UserID),
			zap.Int64("amount", p.Amount),
			zap.Int("attempts", p.Attempts+1),
		)
	}
	metrics.SetPendingCredits(len(pending) - applied)
	return applied, nil
}

func bettors(bets []domain.Bet) []string {
	seen := make(map[string]struct{}, len(bets))
	out := make([]string, 0, len(bets))
	for _, b := range bets {
		if _, ok := seen[b.UserID]; ok {
			continue
		}
		seen[b.UserID] = struct{}{}
		out = append(out, b.UserID)
	}
	sort.Strings(out)
	return out
}
