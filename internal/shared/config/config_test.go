package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVICE_NAME", "round-service")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, 10*time.Second, cfg.BettingWindow)
	assert.Equal(t, 5*time.Second, cfg.ResolvingWindow)
	assert.Equal(t, 3*time.Second, cfg.SettleWindow)
	assert.Equal(t, "forfeit", cfg.TiePolicy)
	assert.Equal(t, "round_bets", cfg.TopicRoundBets)
	assert.Equal(t, "round_settled", cfg.TopicRoundSettled)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "9095", cfg.MetricsPort)
	assert.True(t, cfg.AutoStart)
	assert.Equal(t, 3, cfg.SettleCreditAttempts)
	assert.Equal(t, 2*time.Second, cfg.PendingRetryInterval)
}

func TestLoadWorkerPorts(t *testing.T) {
	t.Setenv("SERVICE_NAME", "ledger-audit-worker")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "", cfg.HTTPPort)
	assert.Equal(t, "9096", cfg.MetricsPort)
}

func TestLoadRejectsInvalidTiePolicy(t *testing.T) {
	t.Setenv("TIE_POLICY", "split")

	_, err := Load()
	assert.ErrorContains(t, err, "TIE_POLICY")
}

func TestWeights(t *testing.T) {
	cfg := Config{OutcomeWeights: "45, 45,10"}
	w, err := cfg.Weights()
	require.NoError(t, err)
	assert.Equal(t, []int{45, 45, 10}, w)

	cfg.OutcomeWeights = ""
	w, err = cfg.Weights()
	require.NoError(t, err)
	assert.Nil(t, w)

	cfg.OutcomeWeights = "1,2"
	_, err = cfg.Weights()
	assert.Error(t, err)

	cfg.OutcomeWeights = "0,0,0"
	_, err = cfg.Weights()
	assert.Error(t, err)
}

func TestBrokers(t *testing.T) {
	cfg := Config{KafkaBrokers: "a:9092, b:9092,"}
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Brokers())
}

func TestLoadAllowedOrigins(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("JWT_TTL", "1h")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, time.Hour, cfg.JWTTTL)
}
