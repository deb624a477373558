package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/updown-round-engine/internal/round-service/domain"
	"github.com/radieske/updown-round-engine/internal/shared/cache"
)

// RedisPublisher grava o snapshot corrente e faz broadcast no canal Pub/Sub
type RedisPublisher struct {
	r       *redis.Client
	channel string
	ttl     time.Duration
}

func NewRedisPublisher(r *redis.Client, channel string, ttl time.Duration) *RedisPublisher {
	return &RedisPublisher{r: r, channel: channel, ttl: ttl}
}

func (p *RedisPublisher) Publish(ctx context.Context, s domain.Snapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	pipe := p.r.TxPipeline()
	pipe.Set(ctx, cache.CurrentRoundKey(), b, p.ttl)
	pipe.Publish(ctx, p.channel, b)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish snapshot: %w", err)
	}
	return nil
}

// LoadCurrent lê o último snapshot gravado; false se não existir
func LoadCurrent(ctx context.Context, r *redis.Client) (domain.Snapshot, bool, error) {
	b, err := r.Get(ctx, cache.CurrentRoundKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Snapshot{}, false, nil
	}
	if err != nil {
		return domain.Snapshot{}, false, err
	}
	var s domain.Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return domain.Snapshot{}, false, err
	}
	return s, true, nil
}

// StartRedisRelay inicia uma goroutine que escuta o canal Redis Pub/Sub
// e repassa os snapshots recebidos para o Hub local
//
// Funcionamento:
// - Semeia o Hub com o snapshot gravado em round:current
// - Desserializa cada mensagem JSON do canal
// - Chama hub.Publish (reentregas são ignoradas pelo Hub)
func StartRedisRelay(ctx context.Context, r *redis.Client, channel string, hub *Hub, log *zap.Logger) {
	if s, ok, err := LoadCurrent(ctx, r); err != nil {
		log.Warn("relay seed failed", zap.Error(err))
	} else if ok {
		_ = hub.Publish(ctx, s)
	}

	sub := r.Subscribe(ctx, channel)
	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var s domain.Snapshot
				if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
					log.Warn("relay unmarshal error", zap.Error(err))
					continue
				}
				_ = hub.Publish(ctx, s)
			}
		}
	}()
}
