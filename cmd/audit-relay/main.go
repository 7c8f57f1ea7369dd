// Package main provides the outbox relay service entry point.
// Implements the transactional outbox pattern: committed workflow events
// are relayed from PostgreSQL to the event stream, with exhausted
// entries diverted to the dead-letter topic.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pharmetrix/go-rxops/internal/config"
	"github.com/pharmetrix/go-rxops/internal/infrastructure/postgres"
	"github.com/pharmetrix/go-rxops/internal/infrastructure/redpanda"
	"github.com/pharmetrix/go-rxops/internal/observability/metrics"
	"github.com/pharmetrix/go-rxops/internal/observability/tracing"
)

const serviceName = "audit-relay"

const (
	deadLetterInterval = time.Minute
	cleanupInterval    = time.Hour
	retainProcessed    = 24 * time.Hour
)

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

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("connected to database")

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Kafka.Brokers

	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()
	logger.Info("connected to event stream", zap.Strings("brokers", cfg.Kafka.Brokers))

	// Make sure the topic set exists before relaying into it.
	admin, err := redpanda.NewAdmin(cfg.Kafka.Brokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	if err := admin.EnsureTopics(ctx); err != nil {
		logger.Fatal("topic creation failed", zap.Error(err))
	}
	admin.Close()

	m := metrics.New()

	outbox := postgres.NewOutbox(pool, producer, postgres.DefaultOutboxConfig(), m.OutboxPending, logger)
	outbox.Start()
	logger.Info("outbox relay started")

	// Fold every operational topic into the long-retention audit trail.
	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.Kafka.Brokers
	consumerCfg.GroupID = "audit-trail-writer"
	consumerCfg.Topics = []string{
		redpanda.TopicWorkflowTransitions,
		redpanda.TopicVerificationResults,
		redpanda.TopicPickupEvents,
		redpanda.TopicWillCallReversals,
		redpanda.TopicWillCallReminders,
	}

	consumer, err := redpanda.NewConsumer(consumerCfg, auditHandler(producer), logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}
	consumer.Start()
	logger.Info("audit trail consumer started", zap.Strings("topics", consumerCfg.Topics))

	maintenanceCtx, cancelMaintenance := context.WithCancel(ctx)
	go maintenanceLoop(maintenanceCtx, outbox, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	cancelMaintenance()
	if err := consumer.Stop(); err != nil {
		logger.Warn("consumer stop error", zap.Error(err))
	}
	outbox.Stop()
	logger.Info("outbox relay stopped")
}

// auditHandler wraps each operational event in an envelope recording
// where it came from and appends it to the audit topic. The offset is
// committed only after the append succeeds.
func auditHandler(producer *redpanda.Producer) redpanda.MessageHandler {
	return func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		envelope, err := json.Marshal(map[string]interface{}{
			"source_topic": msg.Topic,
			"partition":    msg.Partition,
			"offset":       msg.Offset,
			"recorded_at":  msg.Timestamp,
			"key":          string(msg.Key),
			"event":        json.RawMessage(msg.Value),
		})
		if err != nil {
			return err
		}
		return producer.Publish(ctx, redpanda.TopicAuditTrail, string(msg.Key), envelope)
	}
}

// maintenanceLoop moves exhausted entries to the dead-letter topic and
// prunes processed rows.
func maintenanceLoop(ctx context.Context, outbox *postgres.Outbox, logger *zap.Logger) {
	deadLetter := time.NewTicker(deadLetterInterval)
	defer deadLetter.Stop()
	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-deadLetter.C:
			moved, err := outbox.MoveToDeadLetter(ctx)
			if err != nil {
				logger.Error("dead-letter pass failed", zap.Error(err))
				continue
			}
			if moved > 0 {
				logger.Warn("entries moved to dead letter", zap.Int64("count", moved))
			}

		case <-cleanup.C:
			deleted, err := outbox.CleanupProcessed(ctx, retainProcessed)
			if err != nil {
				logger.Error("outbox cleanup failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				logger.Info("processed outbox entries pruned", zap.Int64("deleted", deleted))
			}
		}
	}
}
