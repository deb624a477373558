package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/updown-round-engine/internal/round-service/betting"
	"github.com/radieske/updown-round-engine/internal/round-service/domain"
	"github.com/radieske/updown-round-engine/internal/round-service/leader"
	"github.com/radieske/updown-round-engine/internal/round-service/metrics"
	"github.com/radieske/updown-round-engine/internal/round-service/notify"
	"github.com/radieske/updown-round-engine/internal/round-service/outcome"
	"github.com/radieske/updown-round-engine/internal/round-service/settlement"
	"github.com/radieske/updown-round-engine/internal/round-service/store"
	"github.com/radieske/updown-round-engine/internal/shared/apperr"
	"github.com/radieske/updown-round-engine/pkg/contracts/events"
)

type Config struct {
	BettingWindow   time.Duration
	ResolvingWindow time.Duration
	SettleWindow    time.Duration
	AutoStart       bool
	HistorySize     int
	// RetryDelay é a espera do loop após uma transição com falha
	RetryDelay time.Duration
}

// SettledPublisher recebe o resumo de cada rodada liquidada (Kafka em produção)
type SettledPublisher interface {
	PublishRoundSettled(ctx context.Context, e events.RoundSettled) error
}

// Observer expõe o último snapshot conhecido; usado por réplicas em standby
type Observer interface {
	Latest() (domain.Snapshot, bool)
}

type Deps struct {
	Store    store.Store
	Bets     *betting.Ledger
	Resolver *outcome.Resolver
	Settler  *settlement.Settler
	Fanout   notify.Publisher
	Events   SettledPublisher
	Observer Observer
	Lock     leader.Lock
	Clock    Clock
	Log      *zap.Logger
}

// Coordinator é a máquina de estados da rodada e o único escritor de fase
//
// writeMu serializa transições; stateMu protege a cópia em memória da rodada
// corrente para leituras concorrentes (Current, Stats)
type Coordinator struct {
	cfg Config

	store    store.Store
	bets     *betting.Ledger
	resolver *outcome.Resolver
	settler  *settlement.Settler
	fanout   notify.Publisher
	events   SettledPublisher
	observer Observer
	lock     leader.Lock
	clock    Clock
	log      *zap.Logger

	writeMu sync.Mutex
	stateMu sync.RWMutex
	cur     *domain.Round

	wake    chan struct{}
	leading atomic.Bool
}

func New(cfg Config, d Deps) *Coordinator {
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 10
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	c := &Coordinator{
		cfg:      cfg,
		store:    d.Store,
		bets:     d.Bets,
		resolver: d.Resolver,
		settler:  d.Settler,
		fanout:   d.Fanout,
		events:   d.Events,
		observer: d.Observer,
		lock:     d.Lock,
		clock:    d.Clock,
		log:      d.Log,
		wake:     make(chan struct{}, 1),
	}
	if c.clock == nil {
		c.clock = realClock{}
	}
	if c.lock == nil {
		// instância única: é líder desde o início
		c.lock = leader.NoopLock{}
		c.leading.Store(true)
	}
	return c
}

// Leading indica se esta instância detém o lease
func (c *Coordinator) Leading() bool { return c.leading.Load() }

func (c *Coordinator) checkLeader() error {
	if !c.leading.Load() {
		return apperr.ErrNotLeader
	}
	return nil
}

// nudge acorda o loop quando o deadline muda fora do timer
func (c *Coordinator) nudge() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) current() *domain.Round {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.cur == nil {
		return nil
	}
	r := *c.cur
	return &r
}

func (c *Coordinator) setCurrent(r *domain.Round) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.cur = r
}

// StartRound abre uma nova rodada em BETTING
// Só é permitido sem rodada corrente ou com a corrente já SETTLED
func (c *Coordinator) StartRound(ctx context.Context) (domain.Snapshot, error) {
	if err := c.checkLeader(); err != nil {
		return domain.Snapshot{}, err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	r, err := c.startLocked(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	c.nudge()
	return r.Snapshot(c.clock.Now()), nil
}

func (c *Coordinator) startLocked(ctx context.Context) (domain.Round, error) {
	prev := "NONE"
	if cur := c.current(); cur != nil {
		if cur.Phase != domain.PhaseSettled {
			return domain.Round{}, fmt.Errorf("round %d is %s: %w", cur.ID, cur.Phase, apperr.ErrRoundAlreadyActive)
		}
		prev = string(cur.Phase)
	}

	// o store é a fonte do próximo id; protege também contra estado ainda não recuperado
	last, found, err := c.store.LastRound(ctx)
	if err != nil {
		return domain.Round{}, fmt.Errorf("load last round: %w", err)
	}
	if found && last.Phase != domain.PhaseSettled {
		return domain.Round{}, fmt.Errorf("round %d is %s: %w", last.ID, last.Phase, apperr.ErrRoundAlreadyActive)
	}

	now := c.clock.Now()
	r := domain.Round{
		ID:              last.ID + 1,
		Phase:           domain.PhaseBetting,
		PhaseDeadline:   now.Add(c.cfg.BettingWindow),
		BettingWindow:   c.cfg.BettingWindow,
		ResolvingWindow: c.cfg.ResolvingWindow,
		SettleWindow:    c.cfg.SettleWindow,
		StartedAt:       now,
	}
	if err := c.store.InsertRound(ctx, r); err != nil {
		return domain.Round{}, fmt.Errorf("insert round %d: %w", r.ID, err)
	}
	c.bets.Open(r.ID)
	c.setCurrent(&r)

	metrics.RecordTransition(prev, string(domain.PhaseBetting))
	c.log.Info("round started",
		zap.Int64("round_id", r.ID),
		zap.Time("phase_deadline", r.PhaseDeadline),
	)
	c.publish(ctx, r)
	return r, nil
}

// AdvancePhase executa a próxima transição da rodada corrente
// O loop só chama depois do phaseDeadline
func (c *Coordinator) AdvancePhase(ctx context.Context) error {
	if err := c.checkLeader(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.advanceLocked(ctx)
}

// advanceIfDue confere o deadline sob writeMu; um ForceOutcome pode ter mudado a fase
func (c *Coordinator) advanceIfDue(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	cur := c.current()
	if cur == nil || c.clock.Now().Before(cur.PhaseDeadline) {
		return nil
	}
	return c.advanceLocked(ctx)
}

func (c *Coordinator) advanceLocked(ctx context.Context) error {
	cur := c.current()
	if cur == nil {
		return apperr.ErrRoundNotFound
	}
	switch cur.Phase {
	case domain.PhaseBetting:
		_, err := c.closeBettingLocked(ctx, *cur)
		return err
	case domain.PhaseResolving:
		return c.settleLocked(ctx, *cur, c.resolver.Resolve(cur.ID))
	case domain.PhaseSettled:
		_, err := c.startLocked(ctx)
		return err
	}
	return fmt.Errorf("round %d in unknown phase %q", cur.ID, cur.Phase)
}

// closeBettingLocked fecha as apostas e move a rodada para RESOLVING
// Close espera as apostas em andamento; nenhuma aposta entra depois dele
func (c *Coordinator) closeBettingLocked(ctx context.Context, r domain.Round) (domain.Round, error) {
	tot := c.bets.Close(r.ID)
	deadline := c.clock.Now().Add(c.cfg.ResolvingWindow)
	if err := c.store.UpdatePhase(ctx, r.ID, domain.PhaseBetting, domain.PhaseResolving, deadline, nil); err != nil {
		return domain.Round{}, fmt.Errorf("round %d to RESOLVING: %w", r.ID, err)
	}
	r.Phase = domain.PhaseResolving
	r.PhaseDeadline = deadline
	if tot.RoundID == r.ID {
		r.TotalUp, r.TotalDown = tot.Up, tot.Down
	}
	c.setCurrent(&r)

	metrics.RecordTransition(string(domain.PhaseBetting), string(domain.PhaseResolving))
	c.log.Info("betting closed",
		zap.Int64("round_id", r.ID),
		zap.Int64("total_up", r.TotalUp),
		zap.Int64("total_down", r.TotalDown),
	)
	c.publish(ctx, r)
	return r, nil
}

// settleLocked persiste o resultado, liquida e move a rodada para SETTLED
func (c *Coordinator) settleLocked(ctx context.Context, r domain.Round, o domain.Outcome) error {
	recorded, err := c.store.SaveOutcome(ctx, o)
	if err != nil {
		return fmt.Errorf("save outcome round %d: %w", r.ID, err)
	}
	if recorded.Direction != o.Direction || recorded.Source != o.Source {
		c.log.Warn("outcome already persisted, using stored one",
			zap.Int64("round_id", r.ID),
			zap.String("stored", string(recorded.Direction)),
			zap.String("drawn", string(o.Direction)),
		)
	}

	// Settle não bloqueia num crédito que insiste em falhar: ele vai para a fila de pendentes
	res, err := c.settler.Settle(ctx, recorded)
	if errors.Is(err, apperr.ErrDuplicateSettlement) {
		// créditos já emitidos numa tentativa anterior; falta só persistir a fase
		res, _ = c.settler.Result(r.ID)
		err = nil
	}
	if err != nil {
		return err
	}

	now := c.clock.Now()
	deadline := now.Add(c.cfg.SettleWindow)
	if err := c.store.UpdatePhase(ctx, r.ID, domain.PhaseResolving, domain.PhaseSettled, deadline, &now); err != nil {
		return fmt.Errorf("round %d to SETTLED: %w", r.ID, err)
	}
	r.Phase = domain.PhaseSettled
	r.PhaseDeadline = deadline
	r.SettledAt = &now
	r.Outcome = &recorded
	c.setCurrent(&r)

	metrics.RecordTransition(string(domain.PhaseResolving), string(domain.PhaseSettled))
	c.log.Info("round finished",
		zap.Int64("round_id", r.ID),
		zap.String("outcome", string(recorded.Direction)),
		zap.String("source", string(recorded.Source)),
	)
	c.publish(ctx, r)
	c.emitSettled(ctx, r, res)
	return nil
}

// ForceOutcome aplica o resultado do administrador e liquida a rodada na hora
func (c *Coordinator) ForceOutcome(ctx context.Context, dir domain.Direction) (domain.Outcome, error) {
	if !dir.Valid() {
		return domain.Outcome{}, fmt.Errorf("direction must be UP, DOWN or TIE: %w", apperr.ErrValidation)
	}
	if err := c.checkLeader(); err != nil {
		return domain.Outcome{}, err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	cur := c.current()
	if cur == nil {
		return domain.Outcome{}, apperr.ErrRoundNotFound
	}
	r := *cur
	if r.Phase == domain.PhaseSettled {
		return domain.Outcome{}, fmt.Errorf("round %d already settled: %w", r.ID, apperr.ErrOverrideTooLate)
	}
	if r.Phase == domain.PhaseBetting {
		var err error
		if r, err = c.closeBettingLocked(ctx, r); err != nil {
			return domain.Outcome{}, err
		}
	}

	o, applied, err := c.resolver.Override(r.ID, dir)
	if err != nil {
		return domain.Outcome{}, err
	}
	if !applied {
		// resultado já decidido (ex.: recuperado após restart); o loop termina a liquidação
		return o, fmt.Errorf("round %d already resolved %s: %w", r.ID, o.Direction, apperr.ErrOverrideTooLate)
	}
	c.log.Warn("outcome overridden by admin", zap.Int64("round_id", r.ID), zap.String("direction", string(dir)))

	if err := c.settleLocked(ctx, r, o); err != nil {
		return domain.Outcome{}, err
	}
	c.nudge()
	return o, nil
}

// PlaceBet repassa a aposta ao Bet Ledger; réplicas em standby recusam
func (c *Coordinator) PlaceBet(ctx context.Context, in betting.PlaceBetInput) (betting.Receipt, error) {
	if err := c.checkLeader(); err != nil {
		return betting.Receipt{}, err
	}
	return c.bets.PlaceBet(ctx, in)
}

// Current devolve o snapshot da rodada corrente com remainingMs ao vivo
func (c *Coordinator) Current(_ context.Context) (domain.Snapshot, error) {
	now := c.clock.Now()
	if cur := c.current(); cur != nil && c.leading.Load() {
		r := *cur
		if r.Phase == domain.PhaseBetting {
			if tot := c.bets.Totals(); tot.RoundID == r.ID {
				r.TotalUp, r.TotalDown = tot.Up, tot.Down
			}
		}
		return r.Snapshot(now), nil
	}
	if c.observer != nil {
		if s, ok := c.observer.Latest(); ok {
			return s.At(now), nil
		}
	}
	return domain.Snapshot{}, apperr.ErrRoundNotFound
}

// RoundSummary é uma linha do histórico de rodadas
type RoundSummary struct {
	RoundID   int64           `json:"roundId"`
	Phase     domain.Phase    `json:"phase"`
	StartedAt time.Time       `json:"startedAt"`
	SettledAt *time.Time      `json:"settledAt,omitempty"`
	TotalUp   int64           `json:"totalUp"`
	TotalDown int64           `json:"totalDown"`
	Outcome   *domain.Outcome `json:"outcome,omitempty"`
}

// History devolve as últimas n rodadas, mais recente primeiro
func (c *Coordinator) History(ctx context.Context, n int) ([]RoundSummary, error) {
	if n <= 0 || n > 100 {
		n = c.cfg.HistorySize
	}
	rounds, err := c.store.RecentRounds(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("recent rounds: %w", err)
	}
	out := make([]RoundSummary, 0, len(rounds))
	for _, r := range rounds {
		out = append(out, RoundSummary{
			RoundID:   r.ID,
			Phase:     r.Phase,
			StartedAt: r.StartedAt,
			SettledAt: r.SettledAt,
			TotalUp:   r.TotalUp,
			TotalDown: r.TotalDown,
			Outcome:   r.Outcome,
		})
	}
	return out, nil
}

// Stats resume a rodada corrente para o painel administrativo
func (c *Coordinator) Stats() domain.Stats {
	cur := c.current()
	if cur == nil {
		return domain.Stats{}
	}
	s := domain.Stats{CurrentRound: cur.ID, Phase: cur.Phase, TotalUp: cur.TotalUp, TotalDown: cur.TotalDown}
	if tot := c.bets.Totals(); tot.RoundID == cur.ID {
		s.TotalUp, s.TotalDown = tot.Up, tot.Down
	}
	return s
}

func (c *Coordinator) publish(ctx context.Context, r domain.Round) {
	if c.fanout == nil {
		return
	}
	if err := c.fanout.Publish(ctx, r.Snapshot(c.clock.Now())); err != nil {
		c.log.Warn("publish snapshot failed",
			zap.Int64("round_id", r.ID),
			zap.String("phase", string(r.Phase)),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) emitSettled(ctx context.Context, r domain.Round, res settlement.Result) {
	if c.events == nil || r.Outcome == nil {
		return
	}
	e := events.RoundSettled{
		RoundID:     r.ID,
		Outcome:     string(r.Outcome.Direction),
		Source:      string(r.Outcome.Source),
		TotalUp:     r.TotalUp,
		TotalDown:   r.TotalDown,
		TotalPayout: res.TotalPayout,
		Bettors:     res.Bettors,
		Credits:     res.Credits,
		Pending:     res.Pending,
	}
	if r.SettledAt != nil {
		e.SettledAt = *r.SettledAt
	}
	if err := c.events.PublishRoundSettled(ctx, e); err != nil {
		c.log.Warn("publish round_settled failed", zap.Int64("round_id", r.ID), zap.Error(err))
	}
}
