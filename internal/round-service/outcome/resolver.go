package outcome

import (
	"fmt"
	"sync"
	"time"

	"github.com/radieske/updown-round-engine/internal/round-service/domain"
	"github.com/radieske/updown-round-engine/internal/round-service/metrics"
	"github.com/radieske/updown-round-engine/internal/shared/apperr"
)

const defaultKeep = 64

// Resolver registra no máximo um resultado por rodada
// O primeiro registro vence; chamadas seguintes devolvem o resultado já gravado
type Resolver struct {
	policy Policy
	now    func() time.Time
	keep   int

	mu       sync.Mutex
	outcomes map[int64]domain.Outcome
}

func NewResolver(policy Policy, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{policy: policy, now: now, keep: defaultKeep, outcomes: make(map[int64]domain.Outcome)}
}

// Resolve devolve o resultado registrado ou sorteia um novo com origem AUTO
func (r *Resolver) Resolve(roundID int64) domain.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.outcomes[roundID]; ok {
		return o
	}
	o, _ := r.recordLocked(roundID, r.policy.Draw(), domain.SourceAuto)
	return o
}

// Override registra a escolha do administrador se a rodada ainda não tiver resultado
// applied é false quando já havia resultado (que é devolvido)
func (r *Resolver) Override(roundID int64, dir domain.Direction) (o domain.Outcome, applied bool, err error) {
	if !dir.Valid() {
		return domain.Outcome{}, false, fmt.Errorf("direction must be UP, DOWN or TIE: %w", apperr.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.outcomes[roundID]; ok {
		return cur, false, nil
	}
	o, applied = r.recordLocked(roundID, dir, domain.SourceAdminOverride)
	return o, applied, nil
}

// Outcome consulta o resultado registrado
func (r *Resolver) Outcome(roundID int64) (domain.Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.outcomes[roundID]
	return o, ok
}

// Restore carrega um resultado persistido (recuperação após restart)
func (r *Resolver) Restore(o domain.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.outcomes[o.RoundID]; !ok {
		r.outcomes[o.RoundID] = o
	}
}

func (r *Resolver) recordLocked(roundID int64, dir domain.Direction, src domain.OutcomeSource) (domain.Outcome, bool) {
	o := domain.Outcome{RoundID: roundID, Direction: dir, Source: src, ResolvedAt: r.now()}
	r.outcomes[roundID] = o
	metrics.RecordOutcome(string(dir), string(src))

	// descarta rodadas antigas
	for id := range r.outcomes {
		if id <= roundID-int64(r.keep) {
			delete(r.outcomes, id)
		}
	}
	return o, true
}
