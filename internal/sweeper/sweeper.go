// Package sweeper runs the will-call expiration sweep: bins past their
// return window get an insurance reversal, bins approaching it get a
// pickup reminder. Every action is deduplicated through the idempotency
// inbox so a restarted sweep never reverses a claim or texts a patient
// twice.
package sweeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pharmetrix/go-rxops/internal/domain/willcall"
	"github.com/pharmetrix/go-rxops/internal/infrastructure/redpanda"
	"github.com/pharmetrix/go-rxops/internal/observability/metrics"
	"github.com/pharmetrix/go-rxops/pkg/idempotency"
	"github.com/pharmetrix/go-rxops/pkg/workerpool"
)

const (
	kindReversal = "reversal"
	kindReminder = "reminder"
)

// BinStore is the persistence surface the sweeper needs.
type BinStore interface {
	ListOpen(ctx context.Context) ([]willcall.Bin, error)
	MarkReversed(ctx context.Context, bin willcall.Bin) error
	MarkReminderSent(ctx context.Context, bin willcall.Bin) error
}

// Deduper provides exactly-once processing for sweep actions.
type Deduper interface {
	Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error)
}

// EventPublisher publishes sweep outcomes to the event stream.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Config holds sweeper configuration.
type Config struct {
	Interval time.Duration
	Options  willcall.ExpirationOptions
	Workers  int
}

// DefaultConfig sweeps hourly with the default reminder window.
func DefaultConfig() Config {
	return Config{
		Interval: time.Hour,
		Options:  willcall.DefaultExpirationOptions(),
		Workers:  4,
	}
}

// Sweeper drives the periodic expiration pass.
type Sweeper struct {
	store     BinStore
	inbox     Deduper
	publisher EventPublisher
	metrics   *metrics.Metrics
	config    Config
	logger    *zap.Logger
	now       func() time.Time

	pool *workerpool.Pool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a sweeper. metrics and now may be nil.
func New(store BinStore, inbox Deduper, publisher EventPublisher, m *metrics.Metrics, cfg Config, logger *zap.Logger, now func() time.Time) (*Sweeper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Sweeper{
		store:     store,
		inbox:     inbox,
		publisher: publisher,
		metrics:   m,
		config:    cfg,
		logger:    logger,
		now:       now,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.Workers

	pool, err := workerpool.New(poolCfg, s.handleTask, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	s.pool = pool

	return s, nil
}

// Start launches the sweep loop and its workers.
func (s *Sweeper) Start() {
	s.pool.Start()
	go s.drainResults()
	go s.loop()
	s.logger.Info("will-call sweeper started",
		zap.Duration("interval", s.config.Interval),
		zap.Int("workers", s.config.Workers))
}

// Stop shuts the sweeper down, draining in-flight actions.
func (s *Sweeper) Stop() {
	s.cancel()
	<-s.done
	s.pool.Stop()
	s.logger.Info("will-call sweeper stopped")
}

func (s *Sweeper) loop() {
	defer close(s.done)

	// One pass immediately on startup; a service restart must not push
	// due reversals a full interval into the future.
	s.Sweep(s.ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.ctx)
		}
	}
}

// binAction is one unit of sweep work.
type binAction struct {
	Kind string
	Bin  willcall.Bin
}

// Sweep runs a single expiration pass and fans the actions out to the
// worker pool.
func (s *Sweeper) Sweep(ctx context.Context) {
	bins, err := s.store.ListOpen(ctx)
	if err != nil {
		s.logger.Error("list will-call bins failed", zap.Error(err))
		return
	}

	actions := willcall.ProcessExpiration(bins, s.config.Options, s.now())

	s.logger.Info("sweep pass",
		zap.Int("bins", len(bins)),
		zap.Int("reversals", len(actions.ToReverse)),
		zap.Int("reminders", len(actions.ToNotify)))

	for _, bin := range actions.ToReverse {
		s.submit(ctx, kindReversal, bin)
	}
	for _, bin := range actions.ToNotify {
		s.submit(ctx, kindReminder, bin)
	}
}

func (s *Sweeper) submit(ctx context.Context, kind string, bin willcall.Bin) {
	task := &workerpool.Task{
		ID:      kind + ":" + bin.ID,
		Payload: binAction{Kind: kind, Bin: bin},
		Context: ctx,
	}
	if err := s.pool.Submit(task); err != nil {
		s.logger.Warn("sweep task not queued",
			zap.String("task_id", task.ID),
			zap.Error(err))
	}
}

func (s *Sweeper) handleTask(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	act, ok := task.Payload.(binAction)
	if !ok {
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: fmt.Errorf("unexpected payload type %T", task.Payload)}
	}

	var err error
	switch act.Kind {
	case kindReversal:
		err = s.reverse(ctx, act.Bin)
	case kindReminder:
		err = s.remind(ctx, act.Bin)
	default:
		err = fmt.Errorf("unknown action kind %q", act.Kind)
	}

	if err != nil {
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
	}
	return &workerpool.Result{TaskID: task.ID, Success: true}
}

// reverse executes the insurance reversal for one bin, once.
func (s *Sweeper) reverse(ctx context.Context, bin willcall.Bin) error {
	now := s.now()
	key := idempotency.GenerateKey(bin.ID, bin.RxNumber, kindReversal, now)
	payload, _ := json.Marshal(bin)

	_, err := s.inbox.Process(ctx, key, "willcall-reversal", payload, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		reversed, err := willcall.MarkReversed(bin, now)
		if err != nil {
			return nil, err
		}
		if err := s.store.MarkReversed(ctx, reversed); err != nil {
			return nil, err
		}

		event, _ := json.Marshal(reversed)
		if err := s.publisher.Publish(ctx, redpanda.TopicWillCallReversals, reversed.RxNumber, event); err != nil {
			return nil, fmt.Errorf("publish reversal event: %w", err)
		}

		if s.metrics != nil {
			s.metrics.WillCallReversals.Inc()
		}

		s.logger.Info("insurance reversal processed",
			zap.String("bin_id", reversed.ID),
			zap.String("rx_number", reversed.RxNumber))
		return event, nil
	})

	// A duplicate or a concurrent reversal means the work is already
	// done; the sweep moves on.
	if errors.Is(err, idempotency.ErrDuplicateAction) || errors.Is(err, willcall.ErrAlreadyReversed) {
		return nil
	}
	return err
}

// remind publishes a pickup reminder for one bin, once.
func (s *Sweeper) remind(ctx context.Context, bin willcall.Bin) error {
	now := s.now()
	key := idempotency.GenerateKey(bin.ID, bin.RxNumber, kindReminder, bin.ReturnToStockDate)
	payload, _ := json.Marshal(bin)

	_, err := s.inbox.Process(ctx, key, "willcall-reminder", payload, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		reminded := willcall.MarkReminderSent(bin, now)
		if err := s.store.MarkReminderSent(ctx, reminded); err != nil {
			return nil, err
		}

		event, _ := json.Marshal(reminded)
		if err := s.publisher.Publish(ctx, redpanda.TopicWillCallReminders, reminded.RxNumber, event); err != nil {
			return nil, fmt.Errorf("publish reminder event: %w", err)
		}

		if s.metrics != nil {
			s.metrics.WillCallReminders.Inc()
		}

		s.logger.Info("pickup reminder processed",
			zap.String("bin_id", reminded.ID),
			zap.String("rx_number", reminded.RxNumber))
		return event, nil
	})

	if errors.Is(err, idempotency.ErrDuplicateAction) {
		return nil
	}
	return err
}

func (s *Sweeper) drainResults() {
	for range s.pool.Results() {
	}
}
