package notify

import "github.com/radieske/updown-round-engine/internal/round-service/domain"

type dedupKey struct {
	roundID int64
	phase   domain.Phase
}

// Dedup reconhece snapshots já vistos por (roundId, phase)
// Guarda só as últimas max chaves
type Dedup struct {
	max   int
	seen  map[dedupKey]struct{}
	order []dedupKey
}

func NewDedup(max int) *Dedup {
	if max < 1 {
		max = 1
	}
	return &Dedup{max: max, seen: make(map[dedupKey]struct{}, max)}
}

// Fresh retorna true na primeira vez que vê (roundId, phase)
func (d *Dedup) Fresh(s domain.Snapshot) bool {
	k := dedupKey{s.RoundID, s.Phase}
	if _, ok := d.seen[k]; ok {
		return false
	}
	d.seen[k] = struct{}{}
	d.order = append(d.order, k)
	if len(d.order) > d.max {
		delete(d.seen, d.order[0])
		d.order = d.order[1:]
	}
	return true
}
