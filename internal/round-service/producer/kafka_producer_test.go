package producer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/radieske/updown-round-engine/internal/shared/kafka"
	"github.com/radieske/updown-round-engine/pkg/contracts/events"
)

// MockWriter is a mock implementation of kafka.MessageWriter.
type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func TestPublishBetPlacedKeyedByRound(t *testing.T) {
	bets := new(MockWriter)
	var sent []kafka.Message
	bets.On("WriteMessages", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(1).([]kafka.Message)
	}).Return(nil).Once()

	p := NewKafkaPublisher(bets, nil)
	require.NoError(t, p.PublishBetPlaced(context.Background(), events.BetPlaced{BetID: "b1", RoundID: 42, UserID: "alice", Direction: "UP", Amount: 10}))

	require.Len(t, sent, 1)
	assert.Equal(t, "42", string(sent[0].Key))
	var got events.BetPlaced
	require.NoError(t, json.Unmarshal(sent[0].Value, &got))
	assert.Equal(t, "b1", got.BetID)
	assert.NotZero(t, got.TsUnixMs)
	bets.AssertExpectations(t)
}

func TestPublishRoundSettledUsesSettledWriter(t *testing.T) {
	bets, settled := new(MockWriter), new(MockWriter)
	settled.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
		var e events.RoundSettled
		return len(msgs) == 1 && json.Unmarshal(msgs[0].Value, &e) == nil && e.RoundID == 7 && e.Outcome == "TIE"
	})).Return(nil).Once()

	p := NewKafkaPublisher(bets, settled)
	require.NoError(t, p.PublishRoundSettled(context.Background(), events.RoundSettled{RoundID: 7, Outcome: "TIE"}))

	settled.AssertExpectations(t)
	bets.AssertNotCalled(t, "WriteMessages", mock.Anything, mock.Anything)
}
