package outcome

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/updown-round-engine/internal/round-service/domain"
	"github.com/radieske/updown-round-engine/internal/shared/apperr"
)

func TestResolveRecordsOnce(t *testing.T) {
	r := NewResolver(FixedPolicy(domain.Down), nil)

	first := r.Resolve(1)
	assert.Equal(t, domain.Down, first.Direction)
	assert.Equal(t, domain.SourceAuto, first.Source)

	again := r.Resolve(1)
	assert.Equal(t, first, again)
}

func TestOverrideTakesPrecedence(t *testing.T) {
	r := NewResolver(FixedPolicy(domain.Down), nil)

	o, applied, err := r.Override(1, domain.Up)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.SourceAdminOverride, o.Source)

	auto := r.Resolve(1)
	assert.Equal(t, domain.Up, auto.Direction)
	assert.Equal(t, domain.SourceAdminOverride, auto.Source)
}

func TestOverrideAfterAutoIsNoop(t *testing.T) {
	r := NewResolver(FixedPolicy(domain.Tie), nil)
	r.Resolve(3)

	o, applied, err := r.Override(3, domain.Up)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, domain.Tie, o.Direction)
}

func TestOverrideValidation(t *testing.T) {
	r := NewResolver(FixedPolicy(domain.Up), nil)
	_, _, err := r.Override(1, "SIDEWAYS")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestExactlyOneOutcomeUnderRace(t *testing.T) {
	for i := 0; i < 20; i++ {
		r := NewResolver(NewUniformPolicy(uint64(i), 7), nil)
		var wg sync.WaitGroup
		results := make(chan domain.Outcome, 40)
		for j := 0; j < 20; j++ {
			wg.Add(2)
			go func() { defer wg.Done(); results <- r.Resolve(1) }()
			go func() {
				defer wg.Done()
				o, _, _ := r.Override(1, domain.Up)
				results <- o
			}()
		}
		wg.Wait()
		close(results)

		recorded, ok := r.Outcome(1)
		require.True(t, ok)
		for o := range results {
			assert.Equal(t, recorded, o)
		}
	}
}

func TestRestoreDoesNotOverwrite(t *testing.T) {
	r := NewResolver(FixedPolicy(domain.Down), nil)
	r.Restore(domain.Outcome{RoundID: 5, Direction: domain.Up, Source: domain.SourceAdminOverride})
	r.Restore(domain.Outcome{RoundID: 5, Direction: domain.Tie, Source: domain.SourceAuto})

	o := r.Resolve(5)
	assert.Equal(t, domain.Up, o.Direction)
}

func TestPrunesOldRounds(t *testing.T) {
	r := NewResolver(FixedPolicy(domain.Up), func() time.Time { return time.Unix(0, 0) })
	for id := int64(1); id <= 100; id++ {
		r.Resolve(id)
	}
	_, ok := r.Outcome(1)
	assert.False(t, ok)
	_, ok = r.Outcome(100)
	assert.True(t, ok)
}

func TestUniformPolicyCoversAllDirections(t *testing.T) {
	p := NewUniformPolicy(1, 2)
	seen := map[domain.Direction]int{}
	for i := 0; i < 3000; i++ {
		seen[p.Draw()]++
	}
	require.Len(t, seen, 3)
	for _, n := range seen {
		assert.InDelta(t, 1000, n, 150)
	}
}

func TestWeightedPolicy(t *testing.T) {
	p, err := NewWeightedPolicy([]int{0, 0, 1}, 1, 2)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		assert.Equal(t, domain.Tie, p.Draw())
	}

	p, err = NewWeightedPolicy([]int{45, 45, 10}, 3, 4)
	require.NoError(t, err)
	ties := 0
	for i := 0; i < 5000; i++ {
		if p.Draw() == domain.Tie {
			ties++
		}
	}
	assert.InDelta(t, 500, ties, 150)

	_, err = NewWeightedPolicy([]int{1, 2}, 0, 0)
	assert.Error(t, err)
	_, err = NewWeightedPolicy([]int{0, 0, 0}, 0, 0)
	assert.Error(t, err)
	_, err = NewWeightedPolicy([]int{-1, 2, 2}, 0, 0)
	assert.Error(t, err)
}
