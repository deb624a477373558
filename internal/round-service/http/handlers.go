package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/updown-round-engine/internal/round-service/auth"
	"github.com/radieske/updown-round-engine/internal/round-service/betting"
	"github.com/radieske/updown-round-engine/internal/round-service/domain"
	"github.com/radieske/updown-round-engine/internal/round-service/wallet"
	"github.com/radieske/updown-round-engine/internal/shared/apperr"
	"github.com/radieske/updown-round-engine/internal/shared/httpx"
)

type placeBetRequest struct {
	RoundID   int64            `json:"roundId"`
	Direction domain.Direction `json:"direction"`
	Amount    int64            `json:"amount"`
}

type placeBetResponse struct {
	BetID   string     `json:"betId"`
	Balance int64      `json:"balance"`
	Bet     domain.Bet `json:"bet"`
}

type forceOutcomeRequest struct {
	Direction domain.Direction `json:"direction"`
}

type adjustRequest struct {
	UserID    string `json:"userId"`
	Amount    int64  `json:"amount"`
	Kind      string `json:"kind"` // credit | debit
	Reference string `json:"reference"`
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("bad json: %w", apperr.ErrValidation)
	}
	return nil
}

func limitParam(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func (s *Server) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid, ok := auth.UserID(r.Context())
	if !ok {
		httpx.WriteAppError(w, apperr.ErrUnauthorized)
	}
	return uid, ok
}

// fail registra erros internos e escreve a resposta padrão
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.Code(err) == "INTERNAL" {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	httpx.WriteAppError(w, err)
}

// currentRound retorna o snapshot da rodada corrente (GetCurrentRound)
func (s *Server) currentRound(w http.ResponseWriter, r *http.Request) {
	snap, err := s.coord.Current(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, snap)
}

// roundHistory retorna as últimas rodadas com resultado e totais
func (s *Server) roundHistory(w http.ResponseWriter, r *http.Request) {
	rounds, err := s.coord.History(r.Context(), limitParam(r, 0))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rounds)
}

// streamRounds envia os snapshots via SSE, começando pelo corrente
func (s *Server) streamRounds(w http.ResponseWriter, r *http.Request) {
	sse := newSSEWriter(w)
	w.WriteHeader(http.StatusOK)
	if err := sse.rc.Flush(); err != nil {
		return
	}

	snaps := s.stream.Subscribe(r.Context())
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			if err := sse.send("snapshot", snap.At(time.Now())); err != nil {
				return
			}
		case <-ticker.C:
			if err := sse.keepAlive(); err != nil {
				return
			}
		}
	}
}

func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req placeBetRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.coord.PlaceBet(r.Context(), betting.PlaceBetInput{
		UserID:    uid,
		RoundID:   req.RoundID,
		Direction: req.Direction,
		Amount:    req.Amount,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, placeBetResponse{BetID: rec.Bet.ID, Balance: rec.Balance, Bet: rec.Bet})
}

func (s *Server) registerWallet(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.userID(w, r)
	if !ok {
		return
	}
	wl, err := s.wallet.Register(r.Context(), uid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, wl)
}

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.userID(w, r)
	if !ok {
		return
	}
	wl, err := s.wallet.Balance(r.Context(), uid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wl)
}

func (s *Server) walletEntries(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.userID(w, r)
	if !ok {
		return
	}
	entries, err := s.wallet.Entries(r.Context(), uid, limitParam(r, 50))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, entries)
}

func (s *Server) claimBonus(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.userID(w, r)
	if !ok {
		return
	}
	res, err := s.wallet.ClaimDailyBonus(r.Context(), uid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) startRound(w http.ResponseWriter, r *http.Request) {
	snap, err := s.coord.StartRound(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, snap)
}

func (s *Server) forceOutcome(w http.ResponseWriter, r *http.Request) {
	var req forceOutcomeRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	o, err := s.coord.ForceOutcome(r.Context(), req.Direction)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, o)
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, s.coord.Stats())
}

// adjustWallet aplica a movimentação aprovada fora do motor (depósito, saque, estorno)
// A chave de idempotência é (kind, userId, reference): repetir a chamada não duplica o
// movimento, mas a mesma reference em outro tipo ou outro usuário é um movimento novo
func (s *Server) adjustWallet(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.UserID == "" || req.Reference == "" || req.Amount <= 0 {
		s.fail(w, r, fmt.Errorf("userId, reference and positive amount required: %w", apperr.ErrValidation))
		return
	}

	key := adjustKey(req.Kind, req.UserID, req.Reference)
	var (
		wl  domain.Wallet
		err error
	)
	switch req.Kind {
	case "credit":
		wl, _, err = s.wallet.Credit(r.Context(), wallet.CreditRequest{
			UserID: req.UserID, Amount: req.Amount, Reason: domain.ReasonAdjustment, Key: key,
		})
	case "debit":
		wl, err = s.wallet.Debit(r.Context(), wallet.DebitRequest{
			UserID: req.UserID, Amount: req.Amount, Reason: domain.ReasonAdjustment, Key: key,
		}, nil)
	default:
		err = fmt.Errorf("kind must be credit or debit: %w", apperr.ErrValidation)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info("wallet adjusted",
		zap.String("user_id", req.UserID),
		zap.String("kind", req.Kind),
		zap.Int64("amount", req.Amount),
		zap.String("reference", req.Reference),
	)
	httpx.WriteJSON(w, http.StatusOK, wl)
}

func adjustKey(kind, userID, reference string) string {
	return "adjust:" + kind + ":" + userID + ":" + reference
}
