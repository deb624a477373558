package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/updown-round-engine/internal/round-service/domain"
	"github.com/radieske/updown-round-engine/internal/round-service/outcome"
	"github.com/radieske/updown-round-engine/internal/round-service/store"
)

// scriptedLock concede o lease sempre; Renew falha com erro renewErrs vezes
// e, com stolen, responde que outra instância detém a chave
type scriptedLock struct {
	mu                sync.Mutex
	renewErrs         int
	stolen            bool
	acquires          int
	renews            int
	renewsAtReacquire int
}

func (l *scriptedLock) Acquire(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquires++
	if l.acquires == 2 {
		l.renewsAtReacquire = l.renews
	}
	return true, nil
}

func (l *scriptedLock) Renew(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.renews++
	if l.renewErrs > 0 {
		l.renewErrs--
		return false, errors.New("i/o timeout")
	}
	return !l.stolen, nil
}

func (l *scriptedLock) Release(context.Context) error { return nil }
func (l *scriptedLock) TTL() time.Duration            { return 300 * time.Millisecond }

func (l *scriptedLock) counts() (acquires, renews int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquires, l.renews
}

func runWithLock(t *testing.T, lock *scriptedLock) (*Coordinator, context.CancelFunc, <-chan error) {
	t.Helper()
	clock := &fakeClock{now: time.Now()}
	f := build(t, store.NewMemory(), clock, outcome.FixedPolicy(domain.Up), lock)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.c.Run(ctx) }()
	return f.c, cancel, done
}

func TestRenewToleratesTransientErrors(t *testing.T) {
	lock := &scriptedLock{renewErrs: 2}
	c, cancel, done := runWithLock(t, lock)

	require.Eventually(t, func() bool {
		_, renews := lock.counts()
		return renews >= 6
	}, 3*time.Second, 10*time.Millisecond)

	acquires, _ := lock.counts()
	assert.Equal(t, 1, acquires)
	assert.True(t, c.Leading())

	cancel()
	require.NoError(t, <-done)
}

func TestRenewGivesUpWhenErrorsOutlastLease(t *testing.T) {
	lock := &scriptedLock{renewErrs: 1000}
	_, cancel, done := runWithLock(t, lock)

	require.Eventually(t, func() bool {
		acquires, _ := lock.counts()
		return acquires >= 2
	}, 3*time.Second, 10*time.Millisecond)

	// várias tentativas antes de soltar, todas dentro do TTL
	lock.mu.Lock()
	assert.Greater(t, lock.renewsAtReacquire, 1)
	lock.mu.Unlock()

	cancel()
	require.NoError(t, <-done)
}

func TestRenewWithoutOwnershipStepsDownAtOnce(t *testing.T) {
	lock := &scriptedLock{stolen: true}
	_, cancel, done := runWithLock(t, lock)

	require.Eventually(t, func() bool {
		acquires, _ := lock.counts()
		return acquires >= 2
	}, 3*time.Second, 10*time.Millisecond)

	lock.mu.Lock()
	assert.Equal(t, 1, lock.renewsAtReacquire)
	lock.mu.Unlock()

	cancel()
	require.NoError(t, <-done)
}
