package injection

import (
	"context"
	"testing"
	"time"

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

func TestCreateAssignsSequentialPointIDs(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	iface, err := New(ctx, db, 7)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	p1, err := iface.Create(ctx, Request{Type: TypeApproval, Recommendation: "yes"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	p2, err := iface.Create(ctx, Request{Type: TypeApproval, Recommendation: "yes"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p1.PointID != "INJ-7-1" || p2.PointID != "INJ-7-2" {
		t.Fatalf("expected sequential point IDs, got %s and %s", p1.PointID, p2.PointID)
	}
	if p1.Status != StatusPending {
		t.Fatalf("expected new point to be pending, got %s", p1.Status)
	}
}

func TestRespondRecordsAnswerAndResolveReturnsIt(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	iface, err := New(ctx, db, 1)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	p, err := iface.Create(ctx, Request{Type: TypeDecision, Options: []string{"A", "B"}, Recommendation: "A", TimeoutSeconds: 5})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		if _, err := iface.Respond(ctx, p.PointID, "B"); err != nil {
			t.Errorf("respond: %v", err)
		}
	}()

	outcome, err := iface.Resolve(ctx, p.PointID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !outcome.Responded || outcome.Response != "B" || outcome.RespondedBy != "human" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestResolveFallsBackToDefaultOnTimeout(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	iface, err := New(ctx, db, 1)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	p, err := iface.Create(ctx, Request{
		Type: TypeGuidance, Recommendation: "continue",
		TimeoutSeconds: 1, DefaultOnTimeout: "continue",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	outcome, err := iface.Resolve(ctx, p.PointID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome.Responded {
		t.Fatal("expected timeout, not a human response")
	}
	if outcome.Response != "continue" || outcome.RespondedBy != "timeout_default" {
		t.Fatalf("unexpected timeout outcome: %+v", outcome)
	}
}

func TestRespondUnknownPointReturnsFalse(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	iface, err := New(ctx, db, 1)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ok, err := iface.Respond(ctx, "INJ-1-99", "anything")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if ok {
		t.Fatal("expected respond on unknown point to return false")
	}
}

func TestCancelMarksPendingPointCancelled(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	iface, err := New(ctx, db, 1)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p, err := iface.Create(ctx, Request{Type: TypeReview, Recommendation: "ok"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, err := iface.Cancel(ctx, p.PointID)
	if err != nil || !ok {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}
	got, err := iface.Get(ctx, p.PointID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("expected cancelled status, got %s", got.Status)
	}
}

func TestPendingListsOnlyUnansweredPoints(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	iface, err := New(ctx, db, 1)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p1, _ := iface.Create(ctx, Request{Type: TypeApproval, Recommendation: "yes"})
	_, err = iface.Create(ctx, Request{Type: TypeApproval, Recommendation: "yes"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := iface.Respond(ctx, p1.PointID, "yes"); err != nil {
		t.Fatalf("respond: %v", err)
	}

	pending, err := iface.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending point, got %d", len(pending))
	}
}

func TestHistoryFiltersBySession(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	ifaceA, err := New(ctx, db, 1)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := ifaceA.Create(ctx, Request{Type: TypeApproval, Recommendation: "yes"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	ifaceB, err := New(ctx, db, 2)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := ifaceB.Create(ctx, Request{Type: TypeApproval, Recommendation: "yes"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	sessionID := int64(1)
	history, err := ifaceA.History(ctx, 50, &sessionID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected history scoped to session 1 to have 1 entry, got %d", len(history))
	}
}

func TestGetStatsAggregatesByTypeAndRespondedBy(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	iface, err := New(ctx, db, 1)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p1, _ := iface.Create(ctx, Request{Type: TypeApproval, Recommendation: "yes"})
	if _, err := iface.Create(ctx, Request{Type: TypeGuidance, Recommendation: "go"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := iface.Respond(ctx, p1.PointID, "yes"); err != nil {
		t.Fatalf("respond: %v", err)
	}

	stats, err := iface.GetStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalInjections != 2 || stats.PendingCount != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.ByType["approval"] != 1 || stats.ByType["guidance"] != 1 {
		t.Fatalf("unexpected by-type breakdown: %+v", stats.ByType)
	}
	if stats.ByRespondedBy["human"] != 1 {
		t.Fatalf("expected one human-responded entry, got %+v", stats.ByRespondedBy)
	}
}
