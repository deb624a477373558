package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/updown-round-engine/internal/round-service/auth"
	"github.com/radieske/updown-round-engine/internal/round-service/betting"
	"github.com/radieske/updown-round-engine/internal/round-service/coordinator"
	"github.com/radieske/updown-round-engine/internal/round-service/domain"
	"github.com/radieske/updown-round-engine/internal/round-service/notify"
	"github.com/radieske/updown-round-engine/internal/round-service/outcome"
	"github.com/radieske/updown-round-engine/internal/round-service/settlement"
	"github.com/radieske/updown-round-engine/internal/round-service/store"
	"github.com/radieske/updown-round-engine/internal/round-service/wallet"
	"github.com/radieske/updown-round-engine/internal/shared/httpx"
)

const adminToken = "letmein"

var (
	hashOnce  sync.Once
	adminHash string
)

func hashedAdminToken(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		h, err := auth.HashToken(adminToken)
		require.NoError(t, err)
		adminHash = h
	})
	return adminHash
}

type env struct {
	srv    *httptest.Server
	tokens *auth.TokenManager
	hub    *notify.Hub
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := zap.NewNop()
	st := store.NewMemory()
	w := wallet.NewLedger(st, log)
	hub := notify.NewHub(log, 8)
	coord := coordinator.New(coordinator.Config{
		BettingWindow:   time.Minute,
		ResolvingWindow: time.Minute,
		SettleWindow:    time.Minute,
	}, coordinator.Deps{
		Store:    st,
		Bets:     betting.NewLedger(w, log, betting.Limits{Min: 1, Max: 500}, nil),
		Resolver: outcome.NewResolver(outcome.FixedPolicy(domain.Up), nil),
		Settler:  settlement.NewSettler(st, w, settlement.DefaultConfig(), log),
		Fanout:   hub,
		Observer: hub,
		Log:      log,
	})
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	s := NewServer(log, Deps{
		Coordinator: coord,
		Wallet:      w,
		Stream:      hub,
		Tokens:      tokens,
		Admin:       auth.NewAdminVerifier(hashedAdminToken(t)),
		KeepAlive:   50 * time.Millisecond,
	})
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &env{srv: srv, tokens: tokens, hub: hub}
}

type call struct {
	method string
	path   string
	body   any
	user   string
	admin  bool
}

func (e *env) do(t *testing.T, c call, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(c.body))
	}
	req, err := http.NewRequest(c.method, e.srv.URL+c.path, &buf)
	require.NoError(t, err)
	if c.user != "" {
		tok, _, err := e.tokens.Issue(c.user, auth.RoleUser)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if c.admin {
		req.Header.Set(auth.AdminHeader, adminToken)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (e *env) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	require.Equal(t, http.StatusCreated, e.do(t, call{method: "POST", path: "/v1/wallet", user: userID}, nil))
	require.Equal(t, http.StatusOK, e.do(t, call{method: "POST", path: "/v1/admin/wallet/adjust", admin: true,
		body: adjustRequest{UserID: userID, Amount: amount, Kind: "credit", Reference: "dep-" + userID}}, nil))
}

func TestBetFlow(t *testing.T) {
	e := newEnv(t)
	e.fund(t, "alice", 100)

	var snap domain.Snapshot
	require.Equal(t, http.StatusCreated, e.do(t, call{method: "POST", path: "/v1/admin/rounds/start", admin: true}, &snap))
	assert.Equal(t, int64(1), snap.RoundID)

	var bet placeBetResponse
	status := e.do(t, call{method: "POST", path: "/v1/bets", user: "alice",
		body: placeBetRequest{RoundID: 1, Direction: domain.Up, Amount: 50}}, &bet)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, int64(50), bet.Balance)
	assert.NotEmpty(t, bet.BetID)

	require.Equal(t, http.StatusOK, e.do(t, call{method: "GET", path: "/v1/rounds/current"}, &snap))
	assert.Equal(t, domain.PhaseBetting, snap.Phase)
	assert.Equal(t, int64(50), snap.TotalUp)

	var stats domain.Stats
	require.Equal(t, http.StatusOK, e.do(t, call{method: "GET", path: "/v1/admin/stats", admin: true}, &stats))
	assert.Equal(t, domain.Stats{CurrentRound: 1, Phase: domain.PhaseBetting, TotalUp: 50}, stats)

	var o domain.Outcome
	require.Equal(t, http.StatusOK, e.do(t, call{method: "POST", path: "/v1/admin/outcome", admin: true,
		body: forceOutcomeRequest{Direction: domain.Up}}, &o))
	assert.Equal(t, domain.SourceAdminOverride, o.Source)

	var wl domain.Wallet
	require.Equal(t, http.StatusOK, e.do(t, call{method: "GET", path: "/v1/wallet", user: "alice"}, &wl))
	assert.Equal(t, int64(150), wl.Balance)

	var entries []domain.LedgerEntry
	require.Equal(t, http.StatusOK, e.do(t, call{method: "GET", path: "/v1/wallet/entries?limit=2", user: "alice"}, &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, domain.ReasonPayout, entries[0].Reason)

	var hist []coordinator.RoundSummary
	require.Equal(t, http.StatusOK, e.do(t, call{method: "GET", path: "/v1/rounds/history"}, &hist))
	require.Len(t, hist, 1)
	assert.Equal(t, domain.Up, hist[0].Outcome.Direction)
}

func TestErrorResponses(t *testing.T) {
	e := newEnv(t)
	e.fund(t, "bob", 30)

	var apiErr httpx.APIError
	assert.Equal(t, http.StatusNotFound, e.do(t, call{method: "GET", path: "/v1/rounds/current"}, &apiErr))
	assert.Equal(t, "ROUND_NOT_FOUND", apiErr.Code)

	require.Equal(t, http.StatusCreated, e.do(t, call{method: "POST", path: "/v1/admin/rounds/start", admin: true}, nil))

	assert.Equal(t, http.StatusConflict, e.do(t, call{method: "POST", path: "/v1/admin/rounds/start", admin: true}, &apiErr))
	assert.Equal(t, "ROUND_ALREADY_ACTIVE", apiErr.Code)

	assert.Equal(t, http.StatusPaymentRequired, e.do(t, call{method: "POST", path: "/v1/bets", user: "bob",
		body: placeBetRequest{RoundID: 1, Direction: domain.Up, Amount: 40}}, &apiErr))
	assert.Equal(t, "INSUFFICIENT_FUNDS", apiErr.Code)

	assert.Equal(t, http.StatusBadRequest, e.do(t, call{method: "POST", path: "/v1/bets", user: "bob",
		body: placeBetRequest{RoundID: 1, Direction: domain.Tie, Amount: 10}}, &apiErr))
	assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)

	assert.Equal(t, http.StatusUnauthorized, e.do(t, call{method: "POST", path: "/v1/bets",
		body: placeBetRequest{RoundID: 1, Direction: domain.Up, Amount: 10}}, &apiErr))
	assert.Equal(t, "UNAUTHORIZED", apiErr.Code)
}

func TestForceOutcomeAuthorization(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusCreated, e.do(t, call{method: "POST", path: "/v1/admin/rounds/start", admin: true}, nil))

	var apiErr httpx.APIError
	assert.Equal(t, http.StatusUnauthorized, e.do(t, call{method: "POST", path: "/v1/admin/outcome",
		body: forceOutcomeRequest{Direction: domain.Down}}, &apiErr))
	assert.Equal(t, "UNAUTHORIZED", apiErr.Code)

	// um JWT de usuário não serve como credencial administrativa
	assert.Equal(t, http.StatusUnauthorized, e.do(t, call{method: "POST", path: "/v1/admin/outcome", user: "mallory",
		body: forceOutcomeRequest{Direction: domain.Down}}, nil))

	assert.Equal(t, http.StatusOK, e.do(t, call{method: "POST", path: "/v1/admin/outcome", admin: true,
		body: forceOutcomeRequest{Direction: domain.Down}}, nil))

	assert.Equal(t, http.StatusConflict, e.do(t, call{method: "POST", path: "/v1/admin/outcome", admin: true,
		body: forceOutcomeRequest{Direction: domain.Up}}, &apiErr))
	assert.Equal(t, "OVERRIDE_TOO_LATE", apiErr.Code)
}

func TestAdjustIsIdempotentByReference(t *testing.T) {
	e := newEnv(t)
	e.fund(t, "carol", 100)

	adj := adjustRequest{UserID: "carol", Amount: 40, Kind: "debit", Reference: "wd-1"}
	var wl domain.Wallet
	require.Equal(t, http.StatusOK, e.do(t, call{method: "POST", path: "/v1/admin/wallet/adjust", admin: true, body: adj}, &wl))
	assert.Equal(t, int64(60), wl.Balance)
	require.Equal(t, http.StatusOK, e.do(t, call{method: "POST", path: "/v1/admin/wallet/adjust", admin: true, body: adj}, &wl))
	assert.Equal(t, int64(60), wl.Balance)

	adj.Kind = "transfer"
	adj.Reference = "x"
	assert.Equal(t, http.StatusBadRequest, e.do(t, call{method: "POST", path: "/v1/admin/wallet/adjust", admin: true, body: adj}, nil))
}

func TestAdjustReferenceIsScopedByKindAndUser(t *testing.T) {
	e := newEnv(t)
	e.fund(t, "carol", 100)
	e.fund(t, "dave", 100)
	adjust := func(adj adjustRequest) int64 {
		t.Helper()
		var wl domain.Wallet
		require.Equal(t, http.StatusOK, e.do(t, call{method: "POST", path: "/v1/admin/wallet/adjust", admin: true, body: adj}, &wl))
		return wl.Balance
	}

	assert.Equal(t, int64(130), adjust(adjustRequest{UserID: "carol", Amount: 30, Kind: "credit", Reference: "r-1"}))
	// mesma reference, outro tipo: é outro movimento
	assert.Equal(t, int64(110), adjust(adjustRequest{UserID: "carol", Amount: 20, Kind: "debit", Reference: "r-1"}))
	// mesma reference, outro usuário
	assert.Equal(t, int64(105), adjust(adjustRequest{UserID: "dave", Amount: 5, Kind: "credit", Reference: "r-1"}))

	// repetição exata continua idempotente
	assert.Equal(t, int64(110), adjust(adjustRequest{UserID: "carol", Amount: 20, Kind: "debit", Reference: "r-1"}))
	assert.Equal(t, int64(110), adjust(adjustRequest{UserID: "carol", Amount: 30, Kind: "credit", Reference: "r-1"}))
}

func TestDailyBonus(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusCreated, e.do(t, call{method: "POST", path: "/v1/wallet", user: "dave"}, nil))

	var first, second wallet.BonusResult
	require.Equal(t, http.StatusOK, e.do(t, call{method: "POST", path: "/v1/wallet/bonus", user: "dave"}, &first))
	assert.True(t, first.Claimed)
	assert.Contains(t, wallet.BonusTiers, first.Amount)

	require.Equal(t, http.StatusOK, e.do(t, call{method: "POST", path: "/v1/wallet/bonus", user: "dave"}, &second))
	assert.False(t, second.Claimed)
	assert.Equal(t, first.Balance, second.Balance)
}

func TestStreamSendsCurrentSnapshotFirst(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusCreated, e.do(t, call{method: "POST", path: "/v1/admin/rounds/start", admin: true}, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, e.srv.URL+"/v1/rounds/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	var data string
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.NotEmpty(t, data)

	var snap domain.Snapshot
	require.NoError(t, json.Unmarshal([]byte(data), &snap))
	assert.Equal(t, int64(1), snap.RoundID)
	assert.Equal(t, domain.PhaseBetting, snap.Phase)
}

func TestStreamRecomputesRemainingMs(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.hub.Publish(context.Background(), domain.Snapshot{
		RoundID: 7, Phase: domain.PhaseBetting, PhaseDeadline: time.Now().Add(2 * time.Second), RemainingMs: 2000,
	}))
	time.Sleep(300 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, e.srv.URL+"/v1/rounds/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	var data string
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.NotEmpty(t, data)

	var snap domain.Snapshot
	require.NoError(t, json.Unmarshal([]byte(data), &snap))
	assert.Equal(t, int64(7), snap.RoundID)
	assert.Less(t, snap.RemainingMs, int64(1750))
	assert.Positive(t, snap.RemainingMs)
}
