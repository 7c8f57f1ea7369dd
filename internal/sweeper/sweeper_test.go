package sweeper

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pharmetrix/go-rxops/internal/domain/willcall"
	"github.com/pharmetrix/go-rxops/internal/infrastructure/redpanda"
	"github.com/pharmetrix/go-rxops/pkg/idempotency"
	"github.com/pharmetrix/go-rxops/pkg/workerpool"
)

type fakeBinStore struct {
	bins          []willcall.Bin
	reversed      []string
	reminded      []string
	reverseErr    error
	alreadyMarked bool
}

func (s *fakeBinStore) ListOpen(context.Context) ([]willcall.Bin, error) {
	return s.bins, nil
}

func (s *fakeBinStore) MarkReversed(_ context.Context, bin willcall.Bin) error {
	if s.reverseErr != nil {
		return s.reverseErr
	}
	if s.alreadyMarked {
		return willcall.ErrAlreadyReversed
	}
	s.reversed = append(s.reversed, bin.ID)
	return nil
}

func (s *fakeBinStore) MarkReminderSent(_ context.Context, bin willcall.Bin) error {
	s.reminded = append(s.reminded, bin.ID)
	return nil
}

// fakeInbox runs handlers inline and remembers keys it has seen, so a
// second pass with the same key reports a duplicate.
type fakeInbox struct {
	seen map[string]bool
}

func newFakeInbox() *fakeInbox {
	return &fakeInbox{seen: make(map[string]bool)}
}

func (i *fakeInbox) Process(ctx context.Context, key, _ string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error) {
	if i.seen[key] {
		return nil, idempotency.ErrDuplicateAction
	}
	result, err := fn(ctx, payload)
	if err != nil {
		return nil, err
	}
	i.seen[key] = true
	return &idempotency.ProcessResult{IsNew: true, Result: result}, nil
}

type published struct {
	topic string
	key   string
}

type fakePublisher struct {
	events []published
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, topic, key string, _ []byte) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, published{topic: topic, key: key})
	return nil
}

var sweepNow = time.Date(2024, 6, 15, 3, 0, 0, 0, time.UTC)

func clock() time.Time { return sweepNow }

func newTestSweeper(t *testing.T, store *fakeBinStore, inbox *fakeInbox, pub *fakePublisher) *Sweeper {
	t.Helper()
	s, err := New(store, inbox, pub, nil, DefaultConfig(), zap.NewNop(), clock)
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	return s
}

func expiredBin() willcall.Bin {
	return willcall.NewBin("7012345", "Maria Santos", "Lisinopril 10mg", "A-12",
		sweepNow.AddDate(0, 0, -11), 10)
}

func reminderBin() willcall.Bin {
	return willcall.NewBin("7054321", "Lee Tran", "Metformin 500mg", "B-03",
		sweepNow.AddDate(0, 0, -8), 10)
}

func runTask(t *testing.T, s *Sweeper, kind string, bin willcall.Bin) *workerpool.Result {
	t.Helper()
	return s.handleTask(context.Background(), &workerpool.Task{
		ID:      kind + ":" + bin.ID,
		Payload: binAction{Kind: kind, Bin: bin},
	})
}

func TestReversalMarksAndPublishes(t *testing.T) {
	store := &fakeBinStore{}
	pub := &fakePublisher{}
	s := newTestSweeper(t, store, newFakeInbox(), pub)

	bin := expiredBin()
	result := runTask(t, s, kindReversal, bin)
	if !result.Success {
		t.Fatalf("reversal failed: %v", result.Error)
	}

	if len(store.reversed) != 1 || store.reversed[0] != bin.ID {
		t.Errorf("expected bin %s reversed, got %v", bin.ID, store.reversed)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.events))
	}
	if pub.events[0].topic != redpanda.TopicWillCallReversals {
		t.Errorf("wrong topic %s", pub.events[0].topic)
	}
	if pub.events[0].key != bin.RxNumber {
		t.Errorf("event keyed by %s, want rx number", pub.events[0].key)
	}
}

func TestReversalDeduplicated(t *testing.T) {
	store := &fakeBinStore{}
	pub := &fakePublisher{}
	inbox := newFakeInbox()
	s := newTestSweeper(t, store, inbox, pub)

	bin := expiredBin()
	if result := runTask(t, s, kindReversal, bin); !result.Success {
		t.Fatalf("first reversal failed: %v", result.Error)
	}
	if result := runTask(t, s, kindReversal, bin); !result.Success {
		t.Fatalf("duplicate reversal should succeed quietly: %v", result.Error)
	}

	if len(store.reversed) != 1 {
		t.Errorf("expected a single reversal, got %d", len(store.reversed))
	}
	if len(pub.events) != 1 {
		t.Errorf("expected a single event, got %d", len(pub.events))
	}
}

func TestReversalRaceLostIsNotAnError(t *testing.T) {
	store := &fakeBinStore{alreadyMarked: true}
	s := newTestSweeper(t, store, newFakeInbox(), &fakePublisher{})

	if result := runTask(t, s, kindReversal, expiredBin()); !result.Success {
		t.Fatalf("losing the reversal race should not fail the task: %v", result.Error)
	}
}

func TestReversalPublishFailureRetriable(t *testing.T) {
	store := &fakeBinStore{}
	pub := &fakePublisher{err: errors.New("broker unavailable")}
	s := newTestSweeper(t, store, newFakeInbox(), pub)

	result := runTask(t, s, kindReversal, expiredBin())
	if result.Success {
		t.Fatal("expected failure when publish fails")
	}
}

func TestReminderMarksAndPublishes(t *testing.T) {
	store := &fakeBinStore{}
	pub := &fakePublisher{}
	s := newTestSweeper(t, store, newFakeInbox(), pub)

	bin := reminderBin()
	if result := runTask(t, s, kindReminder, bin); !result.Success {
		t.Fatalf("reminder failed: %v", result.Error)
	}

	if len(store.reminded) != 1 || store.reminded[0] != bin.ID {
		t.Errorf("expected bin %s reminded, got %v", bin.ID, store.reminded)
	}
	if len(pub.events) != 1 || pub.events[0].topic != redpanda.TopicWillCallReminders {
		t.Errorf("expected one reminder event, got %v", pub.events)
	}
}

func TestReminderNotRepeatedOnLaterSweep(t *testing.T) {
	// The reminder key hangs off the bin's return date, not the sweep
	// day: a sweep tomorrow must not send a second reminder.
	store := &fakeBinStore{}
	pub := &fakePublisher{}
	inbox := newFakeInbox()
	bin := reminderBin()

	today := newTestSweeper(t, store, inbox, pub)
	if result := runTask(t, today, kindReminder, bin); !result.Success {
		t.Fatalf("first reminder failed: %v", result.Error)
	}

	nextDay := sweepNow.AddDate(0, 0, 1)
	tomorrow, err := New(store, inbox, pub, nil, DefaultConfig(), zap.NewNop(),
		func() time.Time { return nextDay })
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	if result := runTask(t, tomorrow, kindReminder, bin); !result.Success {
		t.Fatalf("duplicate reminder should succeed quietly: %v", result.Error)
	}

	if len(pub.events) != 1 {
		t.Errorf("expected a single reminder event, got %d", len(pub.events))
	}
}

func TestSweepClassification(t *testing.T) {
	bins := []willcall.Bin{expiredBin(), reminderBin()}

	actions := willcall.ProcessExpiration(bins, willcall.DefaultExpirationOptions(), sweepNow)
	if len(actions.ToReverse) != 1 {
		t.Fatalf("expected 1 reversal, got %d", len(actions.ToReverse))
	}
	if len(actions.ToNotify) != 1 {
		t.Fatalf("expected 1 reminder, got %d", len(actions.ToNotify))
	}
	if actions.ToReverse[0].RxNumber != "7012345" {
		t.Errorf("wrong bin classified for reversal: %s", actions.ToReverse[0].RxNumber)
	}
}
