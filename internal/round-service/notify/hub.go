package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/updown-round-engine/internal/round-service/domain"
	"github.com/radieske/updown-round-engine/internal/round-service/metrics"
)

// Publisher recebe snapshots após cada transição de fase
type Publisher interface {
	Publish(ctx context.Context, s domain.Snapshot) error
}

// Multi publica em vários destinos e junta os erros
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, s domain.Snapshot) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Hub mantém o snapshot corrente e distribui para os assinantes locais
// Novo assinante recebe o snapshot corrente primeiro, com remainingMs recalculado
type Hub struct {
	log    *zap.Logger
	buffer int
	now    func() time.Time

	mu      sync.Mutex
	current *domain.Snapshot
	seen    *Dedup
	subs    map[*subscriber]struct{}
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan domain.Snapshot
	closed bool
}

// offer nunca bloqueia: com o buffer cheio descarta o mais antigo
func (s *subscriber) offer(snap domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- snap:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func NewHub(log *zap.Logger, buffer int) *Hub {
	if buffer < 1 {
		buffer = 8
	}
	return &Hub{log: log, buffer: buffer, now: time.Now, seen: NewDedup(64), subs: make(map[*subscriber]struct{})}
}

// Publish registra o snapshot como corrente e entrega aos assinantes
// Reentrega do mesmo (roundId, phase) é ignorada
func (h *Hub) Publish(_ context.Context, s domain.Snapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.seen.Fresh(s) {
		return nil
	}
	cp := s
	h.current = &cp
	for sub := range h.subs {
		sub.offer(s)
	}
	return nil
}

// Latest devolve o último snapshot recebido
func (h *Hub) Latest() (domain.Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		return domain.Snapshot{}, false
	}
	return *h.current, true
}

// Subscribe devolve um canal de snapshots que fecha quando ctx termina
func (h *Hub) Subscribe(ctx context.Context) <-chan domain.Snapshot {
	sub := &subscriber{ch: make(chan domain.Snapshot, h.buffer)}

	h.mu.Lock()
	if h.current != nil {
		sub.ch <- h.current.At(h.now())
	}
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	metrics.SubscriberAdded()
	h.log.Debug("subscriber added", zap.Int("subscribers", n))

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
		sub.close()
		metrics.SubscriberRemoved()
	}()
	return sub.ch
}

// Subscribers retorna a quantidade de assinantes ativos
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
