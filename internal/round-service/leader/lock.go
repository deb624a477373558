package leader

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock é o lease de escrita do coordenador
// Só quem detém o lease avança fases
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Renew(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
	TTL() time.Duration
}

// Renova o TTL só se o valor ainda for o nosso token
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Apaga só se o valor ainda for o nosso token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisLock implementa o lease com SET NX PX e scripts Lua
type RedisLock struct {
	r     *redis.Client
	key   string
	token string
	ttl   time.Duration
}

func NewRedisLock(r *redis.Client, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{r: r, key: key, token: uuid.NewString(), ttl: ttl}
}

func (l *RedisLock) TTL() time.Duration { return l.ttl }

// Token identifica esta instância no valor da chave
func (l *RedisLock) Token() string { return l.token }

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.r.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	if ok {
		return true, nil
	}
	// já é nosso (ex.: reaquisição após falha de renovação transitória)
	return l.Renew(ctx)
}

func (l *RedisLock) Renew(ctx context.Context) (bool, error) {
	n, err := renewScript.Run(ctx, l.r, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("renew lease %s: %w", l.key, err)
	}
	return n == 1, nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.r, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}

// NoopLock é usado com uma única instância (STORE_DRIVER=memory)
type NoopLock struct{}

func (NoopLock) Acquire(context.Context) (bool, error) { return true, nil }
func (NoopLock) Renew(context.Context) (bool, error)   { return true, nil }
func (NoopLock) Release(context.Context) error         { return nil }
func (NoopLock) TTL() time.Duration                    { return time.Second }
