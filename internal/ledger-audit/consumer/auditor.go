package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/updown-round-engine/internal/round-service/metrics"
	"github.com/radieske/updown-round-engine/internal/round-service/wallet"
	"github.com/radieske/updown-round-engine/internal/shared/kafka"
	"github.com/radieske/updown-round-engine/pkg/contracts/events"
)

// Ledger é o que o auditor precisa da carteira
type Ledger interface {
	Replay(ctx context.Context, userID string) (wallet.ReplayReport, error)
	HasEntry(ctx context.Context, key string) (bool, error)
}

// Auditor consome round_settled e confere se saldo e ledger de cada apostador batem
// Offsets só são confirmados depois da auditoria (at-least-once)
type Auditor struct {
	Log    *zap.Logger
	Reader kafka.Fetcher
	Ledger Ledger
	DLQ    kafka.MessageWriter // opcional

	RetryDelay time.Duration
}

// Run inicia o loop principal de consumo; retorna quando ctx termina
func (a *Auditor) Run(ctx context.Context) error {
	delay := a.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	for {
		m, err := kafka.FetchNext(ctx, a.Reader)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.Log.Warn("kafka fetch failed", zap.Error(err))
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			continue
		}

		// reprocessa a mesma mensagem até conseguir auditar
		for {
			err = a.handle(ctx, m)
			if err == nil {
				break
			}
			a.Log.Warn("audit failed, retrying", zap.Int64("offset", m.Offset), zap.Error(err))
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
		}

		if err := kafka.Commit(ctx, a.Reader, m); err != nil {
			a.Log.Warn("kafka commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

func (a *Auditor) handle(ctx context.Context, m kafka.Message) error {
	var ev events.RoundSettled
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		a.Log.Error("invalid round_settled message", zap.Error(err))
		metrics.RecordAudit("error")
		return a.dead(ctx, events.LedgerDrift{Raw: m.Value, DetectedAt: time.Now()})
	}

	drift, err := a.Audit(ctx, ev)
	if err != nil {
		return err
	}
	if len(drift) == 0 {
		a.Log.Debug("round audited", zap.Int64("round_id", ev.RoundID), zap.Int("users", len(ev.Bettors)))
		return nil
	}
	a.Log.Error("ledger drift detected",
		zap.Int64("round_id", ev.RoundID),
		zap.Int("users", len(drift)),
	)
	return a.dead(ctx, events.LedgerDrift{RoundID: ev.RoundID, Users: drift, DetectedAt: time.Now()})
}

// Audit faz o replay de cada apostador e confere se cada crédito foi aplicado
func (a *Auditor) Audit(ctx context.Context, ev events.RoundSettled) ([]events.UserDrift, error) {
	credits := make(map[string][]string, len(ev.Credits))
	users := append([]string(nil), ev.Bettors...)
	for _, c := range ev.Credits {
		if !slices.Contains(users, c.UserID) {
			users = append(users, c.UserID)
		}
		credits[c.UserID] = append(credits[c.UserID], c.IdempotencyKey)
	}

	var drift []events.UserDrift
	for _, userID := range users {
		rep, err := a.Ledger.Replay(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", userID, err)
		}
		var missing []string
		for _, key := range credits[userID] {
			ok, err := a.Ledger.HasEntry(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("lookup %s: %w", key, err)
			}
			if !ok {
				missing = append(missing, key)
			}
		}

		if rep.Consistent && len(missing) == 0 {
			metrics.RecordAudit("ok")
			continue
		}
		metrics.RecordAudit("drift")
		a.Log.Warn("user ledger drift",
			zap.Int64("round_id", ev.RoundID),
			zap.String("user_id", userID),
			zap.Int64("balance", rep.Balance),
			zap.Int64("ledger_sum", rep.LedgerSum),
			zap.Strings("missing_credit", missing),
		)
		drift = append(drift, events.UserDrift{
			UserID:        userID,
			Balance:       rep.Balance,
			LedgerSum:     rep.LedgerSum,
			MissingCredit: missing,
		})
	}
	return drift, nil
}

func (a *Auditor) dead(ctx context.Context, d events.LedgerDrift) error {
	if a.DLQ == nil {
		return nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return kafka.WriteJSON(ctx, a.DLQ, strconv.FormatInt(d.RoundID, 10), b)
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
