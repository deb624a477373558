package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/updown-round-engine/internal/ledger-audit/consumer"
	"github.com/radieske/updown-round-engine/internal/round-service/store"
	"github.com/radieske/updown-round-engine/internal/round-service/wallet"
	"github.com/radieske/updown-round-engine/internal/shared/config"
	"github.com/radieske/updown-round-engine/internal/shared/db"
	"github.com/radieske/updown-round-engine/internal/shared/kafka"
	"github.com/radieske/updown-round-engine/internal/shared/logger"
	"github.com/radieske/updown-round-engine/internal/shared/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Errorf("config: %w", err))
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// O auditor lê o mesmo ledger do round-service; só faz sentido com Postgres
	if cfg.StoreDriver != "postgres" {
		log.Fatal("ledger-audit-worker requires STORE_DRIVER=postgres", zap.String("store", cfg.StoreDriver))
	}
	pg, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("pg connect", zap.Error(err))
	}
	defer pg.Close()
	st := store.NewPostgres(pg)

	// Kafka consumer: round_settled (consumer group ledger-audit)
	reader := kafka.NewReader(cfg.Brokers(), cfg.TopicRoundSettled, "ledger-audit")
	defer reader.Close()

	auditor := &consumer.Auditor{
		Log:        log.Named("auditor"),
		Reader:     reader,
		Ledger:     wallet.NewLedger(st, log.Named("wallet")),
		RetryDelay: time.Second,
	}

	// DLQ opcional para rodadas com divergência
	if cfg.TopicRoundSettledDLQ != "" {
		dlq := kafka.NewWriter(cfg.Brokers(), cfg.TopicRoundSettledDLQ)
		defer dlq.Close()
		auditor.DLQ = dlq
	}

	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, map[string]metrics.HealthFunc{
		"postgres": st.Ping,
	})
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 3*time.Second)
		defer stop()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	log.Info("ledger-audit-worker started",
		zap.String("consume", cfg.TopicRoundSettled),
		zap.String("dlq", cfg.TopicRoundSettledDLQ),
	)
	if err := auditor.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("auditor stopped with error", zap.Error(err))
		return
	}
	log.Info("ledger-audit-worker stopped")
}
