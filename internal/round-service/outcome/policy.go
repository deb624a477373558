package outcome

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/radieske/updown-round-engine/internal/round-service/domain"
)

// Policy sorteia o resultado automático de uma rodada
type Policy interface {
	Draw() domain.Direction
}

var directions = [3]domain.Direction{domain.Up, domain.Down, domain.Tie}

// UniformPolicy sorteia UP, DOWN e TIE com probabilidade 1/3 cada
type UniformPolicy struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewUniformPolicy(seed1, seed2 uint64) *UniformPolicy {
	return &UniformPolicy{rnd: rand.New(rand.NewPCG(seed1, seed2))}
}

func (p *UniformPolicy) Draw() domain.Direction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return directions[p.rnd.IntN(len(directions))]
}

// WeightedPolicy sorteia com pesos inteiros (ex.: vantagem da casa no TIE)
type WeightedPolicy struct {
	mu      sync.Mutex
	rnd     *rand.Rand
	weights [3]int
	total   int
}

// NewWeightedPolicy recebe pesos na ordem up, down, tie
func NewWeightedPolicy(weights []int, seed1, seed2 uint64) (*WeightedPolicy, error) {
	if len(weights) != 3 {
		return nil, fmt.Errorf("weights must have 3 values, got %d", len(weights))
	}
	p := &WeightedPolicy{rnd: rand.New(rand.NewPCG(seed1, seed2))}
	for i, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("negative weight %d", w)
		}
		p.weights[i] = w
		p.total += w
	}
	if p.total == 0 {
		return nil, fmt.Errorf("weights must not be all zero")
	}
	return p, nil
}

func (p *WeightedPolicy) Draw() domain.Direction {
	p.mu.Lock()
	n := p.rnd.IntN(p.total)
	p.mu.Unlock()
	for i, w := range p.weights {
		if n < w {
			return directions[i]
		}
		n -= w
	}
	return domain.Tie
}

// FixedPolicy devolve sempre a mesma direção (testes e ambientes de demo)
type FixedPolicy domain.Direction

func (p FixedPolicy) Draw() domain.Direction { return domain.Direction(p) }
