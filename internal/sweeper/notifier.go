package sweeper

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/pharmetrix/go-rxops/internal/domain/willcall"
	"github.com/pharmetrix/go-rxops/internal/infrastructure/redpanda"
)

// NotificationSink delivers a pickup reminder to the patient. The
// delivery transport (SMS, IVR, app push) lives behind this interface.
type NotificationSink interface {
	SendPickupReminder(ctx context.Context, bin willcall.Bin) error
}

// LogSink records reminders in the service log. It stands in until a
// real delivery transport is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log-backed notification sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// SendPickupReminder logs the reminder.
func (s *LogSink) SendPickupReminder(_ context.Context, bin willcall.Bin) error {
	s.logger.Info("pickup reminder dispatched",
		zap.String("rx_number", bin.RxNumber),
		zap.String("patient_name", bin.PatientName),
		zap.String("bin_location", bin.BinLocation),
		zap.Time("return_to_stock_date", bin.ReturnToStockDate))
	return nil
}

// ReminderDispatchHandler consumes reminder events and hands each one to
// the sink. A sink failure leaves the offset uncommitted so delivery is
// retried; a malformed event is logged and dropped, since redelivery
// cannot fix it.
func ReminderDispatchHandler(sink NotificationSink, logger *zap.Logger) redpanda.MessageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		var bin willcall.Bin
		if err := json.Unmarshal(msg.Value, &bin); err != nil {
			logger.Error("malformed reminder event dropped",
				zap.String("key", string(msg.Key)),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			return nil
		}
		return sink.SendPickupReminder(ctx, bin)
	}
}
