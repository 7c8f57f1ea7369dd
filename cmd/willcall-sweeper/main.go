// Package main provides the will-call expiration sweeper entry point.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pharmetrix/go-rxops/internal/config"
	"github.com/pharmetrix/go-rxops/internal/infrastructure/postgres"
	"github.com/pharmetrix/go-rxops/internal/infrastructure/redpanda"
	"github.com/pharmetrix/go-rxops/internal/observability/metrics"
	"github.com/pharmetrix/go-rxops/internal/observability/tracing"
	"github.com/pharmetrix/go-rxops/internal/sweeper"
	"github.com/pharmetrix/go-rxops/pkg/idempotency"
)

const serviceName = "willcall-sweeper"

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()

	shutdownTracing, err := tracing.Setup(ctx, serviceName, cfg.Tracing, logger)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer shutdownTracing()

	m := metrics.New()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}
	logger.Info("connected to database")

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Kafka.Brokers

	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()
	logger.Info("connected to event stream", zap.Strings("brokers", cfg.Kafka.Brokers))

	binRepo := postgres.NewBinRepository(pool, logger)

	inbox := idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), logger)
	inbox.StartCleanup()
	defer inbox.Stop()

	if recovered, err := inbox.RecoverStaleEntries(ctx); err != nil {
		logger.Warn("stale inbox recovery failed", zap.Error(err))
	} else if recovered > 0 {
		logger.Info("recovered stale inbox entries", zap.Int64("count", recovered))
	}

	sweepCfg := sweeper.DefaultConfig()
	sweepCfg.Interval = cfg.Sweeper.Interval
	sweepCfg.Workers = cfg.Sweeper.Workers
	sweepCfg.Options.SendReminders = cfg.Sweeper.SendReminders
	sweepCfg.Options.ReminderDaysBefore = cfg.Sweeper.ReminderDaysBefore

	sw, err := sweeper.New(binRepo, inbox, producer, m, sweepCfg, logger, nil)
	if err != nil {
		logger.Fatal("sweeper creation failed", zap.Error(err))
	}
	sw.Start()

	// Reminder dispatch: consume the reminder topic and hand each event
	// to the notification sink.
	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.Kafka.Brokers
	consumerCfg.GroupID = "reminder-dispatcher"
	consumerCfg.Topics = []string{redpanda.TopicWillCallReminders}

	dispatcher, err := redpanda.NewConsumer(consumerCfg,
		sweeper.ReminderDispatchHandler(sweeper.NewLogSink(logger), logger), logger)
	if err != nil {
		logger.Fatal("reminder consumer creation failed", zap.Error(err))
	}
	dispatcher.Start()
	logger.Info("reminder dispatcher started")

	// Metrics endpoint for the scrape target.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(cfg.Server.Addr(), mux); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	if err := dispatcher.Stop(); err != nil {
		logger.Warn("reminder consumer stop error", zap.Error(err))
	}
	sw.Stop()
	logger.Info("sweeper stopped")
}
