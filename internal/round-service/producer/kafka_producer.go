package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/radieske/updown-round-engine/internal/shared/kafka"
	"github.com/radieske/updown-round-engine/pkg/contracts/events"
)

// KafkaPublisher publica apostas aceitas e rodadas liquidadas
// A chave é o roundId: eventos da mesma rodada caem na mesma partição
type KafkaPublisher struct {
	Bets    kafka.MessageWriter
	Settled kafka.MessageWriter
}

func NewKafkaPublisher(bets, settled kafka.MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{Bets: bets, Settled: settled}
}

func (p *KafkaPublisher) PublishBetPlaced(ctx context.Context, e events.BetPlaced) error {
	if e.TsUnixMs == 0 {
		e.TsUnixMs = time.Now().UnixMilli()
	}
	return write(ctx, p.Bets, e.RoundID, e)
}

func (p *KafkaPublisher) PublishRoundSettled(ctx context.Context, e events.RoundSettled) error {
	return write(ctx, p.Settled, e.RoundID, e)
}

func write(ctx context.Context, w kafka.MessageWriter, roundID int64, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(roundID, 10)),
		Value: b,
		Time:  time.Now(),
	})
}
