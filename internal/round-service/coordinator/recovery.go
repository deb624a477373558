package coordinator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/radieske/updown-round-engine/internal/round-service/domain"
)

// Recover recarrega a última rodada persistida após restart ou troca de líder
// O phaseDeadline persistido é mantido: o relógio nunca é reiniciado
func (c *Coordinator) Recover(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	last, found, err := c.store.LastRound(ctx)
	if err != nil {
		return fmt.Errorf("recover: load last round: %w", err)
	}
	if !found {
		c.setCurrent(nil)
		c.log.Info("recover: no previous round")
		return nil
	}

	c.bets.Restore(last.ID, last.Phase == domain.PhaseBetting, last.TotalUp, last.TotalDown)
	if last.Outcome != nil {
		c.resolver.Restore(*last.Outcome)
	}
	c.setCurrent(&last)

	c.log.Info("recover: round restored",
		zap.Int64("round_id", last.ID),
		zap.String("phase", string(last.Phase)),
		zap.Time("phase_deadline", last.PhaseDeadline),
		zap.Bool("has_outcome", last.Outcome != nil),
	)
	c.publish(ctx, last)
	c.nudge()
	return nil
}
