package coordinator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/updown-round-engine/internal/round-service/metrics"
)

// Run disputa o lease e, enquanto líder, executa o loop de fases
// Retorna quando ctx termina
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		acquiredAt, ok := c.acquire(ctx)
		if !ok {
			return nil
		}
		c.lead(ctx, acquiredAt)

		c.leading.Store(false)
		metrics.SetLeader(false)
		if ctx.Err() != nil {
			// ctx já cancelado; usa um contexto curto só para liberar a chave
			relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := c.lock.Release(relCtx); err != nil {
				c.log.Warn("release lease failed", zap.Error(err))
			}
			cancel()
			return nil
		}
		c.log.Warn("leadership lost, back to standby")
	}
}

// acquire bloqueia até obter o lease; false se ctx terminar antes
// O instante devolvido é anterior ao pedido: o lease vale pelo menos até ele + TTL
func (c *Coordinator) acquire(ctx context.Context) (time.Time, bool) {
	interval := c.lock.TTL() / 3
	for {
		at := time.Now()
		ok, err := c.lock.Acquire(ctx)
		if err != nil {
			c.log.Warn("acquire lease failed", zap.Error(err))
		}
		if ok {
			c.leading.Store(true)
			metrics.SetLeader(true)
			c.log.Info("leadership acquired")
			return at, true
		}
		if !sleep(ctx, interval) {
			return time.Time{}, false
		}
	}
}

// lead roda enquanto o lease for renovado
func (c *Coordinator) lead(ctx context.Context, acquiredAt time.Time) {
	leadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.renew(leadCtx, acquiredAt, cancel)

	for {
		err := c.Recover(leadCtx)
		if err == nil {
			break
		}
		c.log.Error("recover failed", zap.Error(err))
		if !sleep(leadCtx, c.cfg.RetryDelay) {
			return
		}
	}

	// créditos pendentes de rodadas anteriores, inclusive de outro líder
	go c.settler.RetryPending(leadCtx)

	if c.cfg.AutoStart && c.current() == nil {
		if _, err := c.StartRound(leadCtx); err != nil {
			c.log.Error("auto start failed", zap.Error(err))
		}
	}

	c.loop(leadCtx)
}

// renew renova o lease a cada TTL/3
// Erro de Redis não é perda: tenta de novo em intervalos curtos enquanto o último
// renew bem-sucedido ainda garante o lease. Renew sem erro e sem posse é perda imediata
func (c *Coordinator) renew(ctx context.Context, validFrom time.Time, lost context.CancelFunc) {
	ttl := c.lock.TTL()
	interval := ttl / 3
	retry := ttl / 10
	t := time.NewTimer(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		at := time.Now()
		ok, err := c.lock.Renew(ctx)
		next := interval
		switch {
		case err == nil && ok:
			validFrom = at
		case err != nil && time.Since(validFrom)+2*retry < ttl:
			c.log.Warn("renew lease failed, retrying",
				zap.Duration("lease_left", ttl-time.Since(validFrom)),
				zap.Error(err),
			)
			next = retry
		default:
			if err != nil {
				c.log.Error("renew lease failed until expiry", zap.Error(err))
			} else {
				c.log.Warn("lease held by another instance")
			}
			// sem o lease outra instância pode assumir; para de escrever já
			c.leading.Store(false)
			lost()
			return
		}
		t.Reset(next)
	}
}

// loop dorme até o phaseDeadline ou até um nudge e avança a fase
func (c *Coordinator) loop(ctx context.Context) {
	for {
		var timer *time.Timer
		var fire <-chan time.Time
		if cur := c.current(); cur != nil {
			d := cur.PhaseDeadline.Sub(c.clock.Now())
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case <-c.wake:
			stopTimer(timer)
		case <-fire:
			if err := c.advanceIfDue(ctx); err != nil {
				c.log.Error("phase transition failed, retrying",
					zap.Duration("retry_in", c.cfg.RetryDelay),
					zap.Error(err),
				)
				if !sleep(ctx, c.cfg.RetryDelay) {
					return
				}
			}
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
