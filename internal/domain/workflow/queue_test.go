package workflow

import (
	"testing"
	"time"
)

func tptr(t time.Time) *time.Time { return &t }

func queueFixture(now time.Time) []Item {
	return []Item{
		{ID: "a", State: StateFilling, Priority: PriorityNormal, PromiseTime: tptr(now.Add(30 * time.Minute)), CreatedAt: now.Add(-time.Hour)},
		{ID: "b", State: StateIntake, Priority: PriorityStat, PromiseTime: tptr(now.Add(-10 * time.Minute)), CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "c", State: StateSold, Priority: PriorityStat, PromiseTime: tptr(now.Add(-time.Hour)), CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "d", State: StateDataEntry, Priority: PriorityUrgent, OnHold: true, HoldReason: "stock", CreatedAt: now.Add(-30 * time.Minute)},
		{ID: "e", State: StateVerification, Priority: PriorityNormal, CreatedAt: now.Add(-15 * time.Minute)},
	}
}

func TestCalculateQueueSummary(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	summary := CalculateQueueSummary(queueFixture(now), now)

	if summary.Total != 4 {
		t.Errorf("total = %d, want 4 (terminal items excluded)", summary.Total)
	}
	if summary.StatCount != 1 {
		t.Errorf("statCount = %d, want 1 (sold STAT item excluded)", summary.StatCount)
	}
	if summary.UrgentCount != 1 {
		t.Errorf("urgentCount = %d, want 1", summary.UrgentCount)
	}
	if summary.OverdueCount != 1 {
		t.Errorf("overdueCount = %d, want 1", summary.OverdueCount)
	}
	if summary.OnHoldCount != 1 {
		t.Errorf("onHoldCount = %d, want 1", summary.OnHoldCount)
	}
	if summary.ByState[StateSold] != 1 {
		t.Error("by-state counts should still include terminal items")
	}
}

func TestSummaryTotalIsOrderIndependent(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	items := queueFixture(now)

	reversed := make([]Item, len(items))
	for i, item := range items {
		reversed[len(items)-1-i] = item
	}

	if CalculateQueueSummary(items, now).Total != CalculateQueueSummary(reversed, now).Total {
		t.Error("summary total must not depend on input order")
	}
}

func TestSortWorkflowItems(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	items := []Item{
		{ID: "late-normal", Priority: PriorityNormal, PromiseTime: tptr(now.Add(time.Hour)), CreatedAt: now},
		{ID: "no-promise", Priority: PriorityNormal, CreatedAt: now.Add(-time.Hour)},
		{ID: "stat", Priority: PriorityStat, PromiseTime: tptr(now.Add(2 * time.Hour)), CreatedAt: now},
		{ID: "early-normal", Priority: PriorityNormal, PromiseTime: tptr(now.Add(10 * time.Minute)), CreatedAt: now},
	}

	sorted := SortWorkflowItems(items)

	want := []string{"stat", "early-normal", "late-normal", "no-promise"}
	for i, id := range want {
		if sorted[i].ID != id {
			t.Errorf("position %d = %s, want %s", i, sorted[i].ID, id)
		}
	}

	if items[0].ID != "late-normal" {
		t.Error("input slice must not be mutated")
	}
}

func TestSortIsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	once := SortWorkflowItems(queueFixture(now))
	twice := SortWorkflowItems(once)

	for i := range once {
		if once[i].ID != twice[i].ID {
			t.Fatalf("position %d changed between sorts: %s vs %s", i, once[i].ID, twice[i].ID)
		}
	}
}

func TestSortIsStableForTies(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	promise := now.Add(time.Hour)
	items := []Item{
		{ID: "first", Priority: PriorityNormal, PromiseTime: tptr(promise), CreatedAt: now},
		{ID: "second", Priority: PriorityNormal, PromiseTime: tptr(promise), CreatedAt: now},
	}

	sorted := SortWorkflowItems(items)
	if sorted[0].ID != "first" || sorted[1].ID != "second" {
		t.Error("equal items must keep their input order")
	}
}

func TestGetQueueColor(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	thresholds := DefaultColorThresholds()

	tests := []struct {
		name    string
		promise *time.Time
		want    QueueColor
	}{
		{"no promise time", nil, ColorGreen},
		{"plenty of time", tptr(now.Add(time.Hour)), ColorGreen},
		{"inside yellow window", tptr(now.Add(10 * time.Minute)), ColorYellow},
		{"exactly at yellow cutoff", tptr(now.Add(15 * time.Minute)), ColorYellow},
		{"overdue", tptr(now.Add(-time.Minute)), ColorRed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := Item{PromiseTime: tt.promise}
			if got := GetQueueColor(item, thresholds, now); got != tt.want {
				t.Errorf("color = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestQueueColorCustomThresholds(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	item := Item{PromiseTime: tptr(now.Add(25 * time.Minute))}

	if got := GetQueueColor(item, ColorThresholds{YellowMinutes: 30, RedMinutes: 0}, now); got != ColorYellow {
		t.Errorf("color = %s, want yellow with widened threshold", got)
	}
}

func TestCalculatePromiseTime(t *testing.T) {
	from := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		priority Priority
		state    State
		wantMin  int
	}{
		{PriorityStat, StateIntake, 23},        // 15 * 1.5 = 22.5 rounds to 23
		{PriorityStat, StateVerification, 8},   // 15 * 0.5 = 7.5 rounds to 8
		{PriorityNormal, StateDataEntryComplete, 60},
		{PriorityUrgent, StateFilling, 23},     // 30 * 0.75 = 22.5 rounds to 23
		{PriorityLow, StateVerification, 60},
	}

	for _, tt := range tests {
		got := CalculatePromiseTime(tt.priority, tt.state, from)
		want := from.Add(time.Duration(tt.wantMin) * time.Minute)
		if !got.Equal(want) {
			t.Errorf("%s/%s promise = %v, want %v", tt.priority, tt.state, got, want)
		}
	}
}
