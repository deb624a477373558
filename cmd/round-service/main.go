package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/updown-round-engine/internal/round-service/auth"
	"github.com/radieske/updown-round-engine/internal/round-service/betting"
	"github.com/radieske/updown-round-engine/internal/round-service/coordinator"
	httpapi "github.com/radieske/updown-round-engine/internal/round-service/http"
	"github.com/radieske/updown-round-engine/internal/round-service/leader"
	"github.com/radieske/updown-round-engine/internal/round-service/notify"
	"github.com/radieske/updown-round-engine/internal/round-service/outcome"
	"github.com/radieske/updown-round-engine/internal/round-service/producer"
	"github.com/radieske/updown-round-engine/internal/round-service/settlement"
	"github.com/radieske/updown-round-engine/internal/round-service/store"
	"github.com/radieske/updown-round-engine/internal/round-service/wallet"
	"github.com/radieske/updown-round-engine/internal/shared/cache"
	"github.com/radieske/updown-round-engine/internal/shared/config"
	"github.com/radieske/updown-round-engine/internal/shared/db"
	"github.com/radieske/updown-round-engine/internal/shared/kafka"
	"github.com/radieske/updown-round-engine/internal/shared/logger"
	"github.com/radieske/updown-round-engine/internal/shared/metrics"
)

func main() {
	// carrega config
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Errorf("config: %w", err))
	}

	// inicia logger
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	log.Info("starting service",
		zap.String("service", cfg.ServiceName),
		zap.String("env", cfg.Env),
		zap.String("store", cfg.StoreDriver),
	)

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]metrics.HealthFunc{}

	// Store: Postgres em produção, memória para rodar isolado
	var st store.Store
	switch cfg.StoreDriver {
	case "postgres":
		pg, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pg.Close()
		if err := db.RunMigrations(ctx, pg); err != nil {
			log.Fatal("migrations failed", zap.Error(err))
		}
		log.Info("postgres connected")
		st = store.NewPostgres(pg)
	default:
		log.Warn("using in-memory store; state is lost on restart")
		st = store.NewMemory()
	}
	checks["store"] = st.Ping

	// Redis: lease de liderança e broadcast entre réplicas
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Fatal("failed to connect redis", zap.Error(err))
		}
		defer rdb.Close()
		log.Info("redis connected")
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	// Kafka: apostas aceitas e rodadas liquidadas
	var (
		betPub     betting.Publisher
		settledPub coordinator.SettledPublisher
	)
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		betsWriter := kafka.NewWriter(brokers, cfg.TopicRoundBets)
		defer betsWriter.Close()
		settledWriter := kafka.NewWriter(brokers, cfg.TopicRoundSettled)
		defer settledWriter.Close()

		kp := producer.NewKafkaPublisher(betsWriter, settledWriter)
		betPub, settledPub = kp, kp
		log.Info("kafka writers ready",
			zap.String("bets", cfg.TopicRoundBets),
			zap.String("settled", cfg.TopicRoundSettled),
		)
	}

	// carteira e apostas
	wl := wallet.NewLedger(st, log.Named("wallet"), wallet.WithMaxRetries(cfg.WalletMaxRetries))
	bets := betting.NewLedger(wl, log.Named("betting"), betting.Limits{Min: cfg.BetMin, Max: cfg.BetMax}, betPub)

	// política de resultado
	policy, err := buildPolicy(cfg)
	if err != nil {
		log.Fatal("outcome policy", zap.Error(err))
	}
	resolver := outcome.NewResolver(policy, time.Now)

	mult, err := decimal.NewFromString(cfg.PayoutMultiplier)
	if err != nil || !mult.IsPositive() {
		log.Fatal("invalid PAYOUT_MULTIPLIER", zap.String("value", cfg.PayoutMultiplier), zap.Error(err))
	}
	scfg := settlement.DefaultConfig()
	scfg.Multiplier = mult
	scfg.TiePolicy = settlement.TiePolicy(cfg.TiePolicy)
	scfg.Attempts = cfg.SettleCreditAttempts
	scfg.RetryInterval = cfg.PendingRetryInterval
	settler := settlement.NewSettler(st, wl, scfg, log.Named("settlement"))

	// fan-out: hub local sempre; Redis quando houver réplicas
	hub := notify.NewHub(log.Named("hub"), 16)
	fanout := notify.Multi{hub}
	var lock leader.Lock
	if rdb != nil {
		ttl := 2 * (cfg.BettingWindow + cfg.ResolvingWindow + cfg.SettleWindow)
		fanout = append(fanout, notify.NewRedisPublisher(rdb, cfg.RoundPubSubChannel, ttl))
		notify.StartRedisRelay(ctx, rdb, cfg.RoundPubSubChannel, hub, log.Named("relay"))
		lock = leader.NewRedisLock(rdb, cache.LeaderKey(cfg.LeaderKey), cfg.LeaderTTL)
	}

	coord := coordinator.New(coordinator.Config{
		BettingWindow:   cfg.BettingWindow,
		ResolvingWindow: cfg.ResolvingWindow,
		SettleWindow:    cfg.SettleWindow,
		AutoStart:       cfg.AutoStart,
		HistorySize:     cfg.HistorySize,
	}, coordinator.Deps{
		Store:    st,
		Bets:     bets,
		Resolver: resolver,
		Settler:  settler,
		Fanout:   fanout,
		Events:   settledPub,
		Observer: hub,
		Lock:     lock,
		Log:      log.Named("coordinator"),
	})

	if cfg.AdminTokenHash == "" {
		log.Warn("ADMIN_TOKEN_HASH not set; admin routes will reject every request")
	}
	api := httpapi.NewServer(log.Named("http"), httpapi.Deps{
		Coordinator:    coord,
		Wallet:         wl,
		Stream:         hub,
		Tokens:         auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL),
		Admin:          auth.NewAdminVerifier(cfg.AdminTokenHash),
		AllowedOrigins: cfg.AllowedOrigins,
	})
	apiSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, checks)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coord.Run(gctx)
	})
	g.Go(func() error {
		log.Info("round-service listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
		return apiSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("round-service stopped with error", zap.Error(err))
		return
	}
	log.Info("round-service stopped")
}

// buildPolicy usa OUTCOME_WEIGHTS quando configurado; senão sorteio uniforme
func buildPolicy(cfg config.Config) (outcome.Policy, error) {
	weights, err := cfg.Weights()
	if err != nil {
		return nil, err
	}
	seed1, seed2 := rand.Uint64(), rand.Uint64()
	if weights == nil {
		return outcome.NewUniformPolicy(seed1, seed2), nil
	}
	return outcome.NewWeightedPolicy(weights, seed1, seed2)
}
