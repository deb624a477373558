package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/radieske/updown-round-engine/internal/round-service/auth"
	"github.com/radieske/updown-round-engine/internal/round-service/coordinator"
	"github.com/radieske/updown-round-engine/internal/round-service/wallet"
	"github.com/radieske/updown-round-engine/internal/round-service/ws"
)

// Deps reúne o que a API precisa do motor de rodadas
type Deps struct {
	Coordinator *coordinator.Coordinator
	Wallet      *wallet.Ledger
	Stream      ws.Source
	Tokens      *auth.TokenManager
	Admin       *auth.AdminVerifier
	// AllowedOrigins libera CORS e o upgrade do websocket; vazio = qualquer origem
	AllowedOrigins []string
	KeepAlive      time.Duration
}

// Server expõe a API REST, o stream SSE e o websocket de rodadas
type Server struct {
	log       *zap.Logger
	coord     *coordinator.Coordinator
	wallet    *wallet.Ledger
	stream    ws.Source
	tokens    *auth.TokenManager
	admin     *auth.AdminVerifier
	origins   []string
	keepAlive time.Duration
	ws        *ws.Handler
}

func NewServer(log *zap.Logger, d Deps) *Server {
	s := &Server{
		log:       log,
		coord:     d.Coordinator,
		wallet:    d.Wallet,
		stream:    d.Stream,
		tokens:    d.Tokens,
		admin:     d.Admin,
		origins:   d.AllowedOrigins,
		keepAlive: d.KeepAlive,
	}
	if s.keepAlive <= 0 {
		s.keepAlive = 15 * time.Second
	}
	s.ws = ws.NewHandler(d.Stream, s.allowOrigin, log)
	return s
}

func (s *Server) allowOrigin(r *http.Request) bool {
	if len(s.origins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range s.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Router retorna o roteador HTTP com todas as rotas
func (s *Server) Router() http.Handler {
	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", auth.AdminHeader},
	}))

	r.Route("/v1", func(r chi.Router) {
		// público
		r.Get("/rounds/current", s.currentRound)
		r.Get("/rounds/history", s.roundHistory)
		r.Get("/rounds/stream", s.streamRounds)
		r.Handle("/rounds/ws", s.ws)

		// usuário (JWT)
		r.Group(func(r chi.Router) {
			r.Use(auth.User(s.tokens))
			r.Post("/bets", s.placeBet)
			r.Post("/wallet", s.registerWallet)
			r.Get("/wallet", s.getWallet)
			r.Get("/wallet/entries", s.walletEntries)
			r.Post("/wallet/bonus", s.claimBonus)
		})

		// administrador (X-Admin-Token)
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.Admin(s.admin))
			r.Post("/rounds/start", s.startRound)
			r.Post("/outcome", s.forceOutcome)
			r.Get("/stats", s.stats)
			r.Post("/wallet/adjust", s.adjustWallet)
		})
	})
	return r
}
