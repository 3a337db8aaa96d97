package observability

import (
	"context"
	"testing"
	"time"

	"github.com/arcadiaforge/arcadiaforge/internal/event"
	"github.com/arcadiaforge/arcadiaforge/internal/store"
)

func openTest(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordPersistsEventDirectly(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	bus := event.NewBus()
	defer bus.Close()
	r := NewRecorder(db, bus)
	defer r.Stop()

	err := r.Record(ctx, event.Event{
		Type:      event.ToolResult,
		SessionID: "s1",
		Seq:       1,
		Time:      time.Now(),
		Data:      event.ToolResultData{SessionID: "s1", Name: "Bash", Outcome: event.ToolOutcomeOK},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	events, err := r.Events(ctx, "s1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
}

func TestRecorderSubscribesAndPersistsPublishedEvents(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	bus := event.NewBus()
	defer bus.Close()
	r := NewRecorder(db, bus)
	defer r.Stop()

	bus.PublishSync(event.Event{
		Type:      event.ToolCall,
		SessionID: "s1",
		Seq:       1,
		Time:      time.Now(),
		Data:      event.ToolCallData{SessionID: "s1", Name: "Write"},
	})

	// PublishSync calls subscribers synchronously but persist() still runs
	// in-line inside the handler, so the write has already landed.
	events, err := r.Events(ctx, "s1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected the published event to be persisted, got %d", len(events))
	}
}

func TestSessionMetricsAggregatesUsageAndToolOutcomes(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	bus := event.NewBus()
	defer bus.Close()
	r := NewRecorder(db, bus)
	defer r.Stop()

	base := time.Now()
	mustRecord := func(e event.Event) {
		t.Helper()
		if err := r.Record(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	mustRecord(event.Event{Type: event.ToolResult, SessionID: "s1", Seq: 1, Time: base,
		Data: event.ToolResultData{Outcome: event.ToolOutcomeOK}})
	mustRecord(event.Event{Type: event.ToolResult, SessionID: "s1", Seq: 2, Time: base.Add(time.Second),
		Data: event.ToolResultData{Outcome: event.ToolOutcomeError}})
	mustRecord(event.Event{Type: event.ToolResult, SessionID: "s1", Seq: 3, Time: base.Add(2 * time.Second),
		Data: event.ToolResultData{Outcome: event.ToolOutcomeBlocked}})
	mustRecord(event.Event{Type: event.UsageReport, SessionID: "s1", Seq: 4, Time: base.Add(3 * time.Second),
		Data: event.UsageReportData{TokensIn: 100, TokensOut: 50, CostUSD: 0.25}})
	mustRecord(event.Event{Type: event.Warning, SessionID: "s1", Seq: 5, Time: base.Add(4 * time.Second),
		Data: event.WarningData{Message: "nearing budget"}})

	m, err := r.SessionMetrics(ctx, "s1")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.ToolCalls != 3 || m.ToolErrors != 1 || m.ToolBlocked != 1 {
		t.Fatalf("unexpected tool outcome counts: %+v", m)
	}
	if m.TokensIn != 100 || m.TokensOut != 50 || m.CostUSD != 0.25 {
		t.Fatalf("unexpected usage totals: %+v", m)
	}
	if m.Warnings != 1 {
		t.Fatalf("expected 1 warning, got %d", m.Warnings)
	}
	if m.Duration != 4*time.Second {
		t.Fatalf("expected duration spanning first to last event (4s), got %v", m.Duration)
	}
}

func TestCheckBudgetReportsOverBudgetAndPercent(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	r := NewRecorder(db, nil)
	defer r.Stop()

	if err := r.Record(ctx, event.Event{Type: event.UsageReport, SessionID: "s1", Seq: 1, Time: time.Now(),
		Data: event.UsageReportData{CostUSD: 8.0}}); err != nil {
		t.Fatalf("record: %v", err)
	}

	result, err := r.CheckBudget(ctx, "s1", 10.0)
	if err != nil {
		t.Fatalf("check budget: %v", err)
	}
	if result.OverBudget {
		t.Fatal("expected not yet over budget at 80%")
	}
	if result.PercentUsed != 80.0 {
		t.Fatalf("expected 80%% used, got %f", result.PercentUsed)
	}
	if !result.ShouldWarn(75) {
		t.Fatal("expected should-warn at 80%% with a 75%% threshold")
	}

	if err := r.Record(ctx, event.Event{Type: event.UsageReport, SessionID: "s1", Seq: 2, Time: time.Now(),
		Data: event.UsageReportData{CostUSD: 3.0}}); err != nil {
		t.Fatalf("record: %v", err)
	}
	result, err = r.CheckBudget(ctx, "s1", 10.0)
	if err != nil {
		t.Fatalf("check budget: %v", err)
	}
	if !result.OverBudget {
		t.Fatal("expected over budget once cost exceeds ceiling")
	}
}

func TestCheckBudgetZeroCeilingDisablesEnforcement(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	r := NewRecorder(db, nil)
	defer r.Stop()

	if err := r.Record(ctx, event.Event{Type: event.UsageReport, SessionID: "s1", Seq: 1, Time: time.Now(),
		Data: event.UsageReportData{CostUSD: 999.0}}); err != nil {
		t.Fatalf("record: %v", err)
	}

	result, err := r.CheckBudget(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("check budget: %v", err)
	}
	if result.OverBudget {
		t.Fatal("expected a zero ceiling to disable budget enforcement")
	}
}

func TestEventsScopedToSession(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	r := NewRecorder(db, nil)
	defer r.Stop()

	if err := r.Record(ctx, event.Event{Type: event.SessionStart, SessionID: "s1", Seq: 1, Time: time.Now()}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := r.Record(ctx, event.Event{Type: event.SessionStart, SessionID: "s2", Seq: 1, Time: time.Now()}); err != nil {
		t.Fatalf("record: %v", err)
	}

	events, err := r.Events(ctx, "s1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected events scoped to session s1 only, got %d", len(events))
	}
}
