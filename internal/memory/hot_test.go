package memory

import (
	"context"
	"testing"

	"github.com/arcadiaforge/arcadiaforge/internal/store"
)

func openTestDB(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestHotSetFocusAndGet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	hot, err := NewHot(ctx, db, 1)
	if err != nil {
		t.Fatalf("new hot: %v", err)
	}

	feature := 3
	if err := hot.SetFocus(ctx, &feature, "implement auth", []string{"auth", "login"}); err != nil {
		t.Fatalf("set focus: %v", err)
	}

	state, err := hot.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.CurrentFeature == nil || *state.CurrentFeature != 3 {
		t.Fatalf("expected current feature 3, got %+v", state.CurrentFeature)
	}
	if state.CurrentTask != "implement auth" {
		t.Fatalf("unexpected task: %q", state.CurrentTask)
	}
}

func TestHotAddActionTrimsToLimit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	hot, err := NewHot(ctx, db, 1)
	if err != nil {
		t.Fatalf("new hot: %v", err)
	}

	for i := 0; i < maxRecentActions+5; i++ {
		if err := hot.AddAction(ctx, "read file", "ok", "Read"); err != nil {
			t.Fatalf("add action: %v", err)
		}
	}

	state, err := hot.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(state.RecentActions) != maxRecentActions {
		t.Fatalf("expected %d actions, got %d", maxRecentActions, len(state.RecentActions))
	}
}

func TestHotAddFileMovesToEndAndTrims(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	hot, err := NewHot(ctx, db, 1)
	if err != nil {
		t.Fatalf("new hot: %v", err)
	}

	if err := hot.AddFile(ctx, "a.go"); err != nil {
		t.Fatalf("add file: %v", err)
	}
	if err := hot.AddFile(ctx, "b.go"); err != nil {
		t.Fatalf("add file: %v", err)
	}
	if err := hot.AddFile(ctx, "a.go"); err != nil {
		t.Fatalf("add file: %v", err)
	}

	state, err := hot.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(state.RecentFiles) != 2 || state.RecentFiles[len(state.RecentFiles)-1] != "a.go" {
		t.Fatalf("expected a.go moved to end, got %+v", state.RecentFiles)
	}
}

func TestHotAddErrorDeduplicatesByHash(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	hot, err := NewHot(ctx, db, 1)
	if err != nil {
		t.Fatalf("new hot: %v", err)
	}

	e1, err := hot.AddError(ctx, "TypeError", "cannot read property x", nil, []int{1})
	if err != nil {
		t.Fatalf("add error: %v", err)
	}
	e2, err := hot.AddError(ctx, "TypeError", "cannot read property x", nil, []int{2})
	if err != nil {
		t.Fatalf("add error: %v", err)
	}
	if e1.ID != e2.ID {
		t.Fatalf("expected same error ID for duplicate, got %q and %q", e1.ID, e2.ID)
	}

	active, err := hot.ActiveErrors(ctx)
	if err != nil {
		t.Fatalf("active errors: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 deduplicated error, got %d", len(active))
	}
	if active[0].OccurrenceCount != 2 {
		t.Fatalf("expected occurrence count 2, got %d", active[0].OccurrenceCount)
	}
	if len(active[0].RelatedFeatures) != 2 {
		t.Fatalf("expected related features unioned, got %+v", active[0].RelatedFeatures)
	}
}

func TestHotResolveErrorExcludesFromActive(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	hot, err := NewHot(ctx, db, 1)
	if err != nil {
		t.Fatalf("new hot: %v", err)
	}

	e, err := hot.AddError(ctx, "SyntaxError", "unexpected token", nil, nil)
	if err != nil {
		t.Fatalf("add error: %v", err)
	}
	ok, err := hot.ResolveError(ctx, e.ID, "fixed the typo")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !ok {
		t.Fatal("expected error found")
	}

	active, err := hot.ActiveErrors(ctx)
	if err != nil {
		t.Fatalf("active errors: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active errors after resolve, got %d", len(active))
	}
}

func TestHotPendingDecisionAddAndResolve(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	hot, err := NewHot(ctx, db, 1)
	if err != nil {
		t.Fatalf("new hot: %v", err)
	}

	d, err := hot.AddPendingDecision(ctx, "tool_choice", "pick a test runner", []string{"go test", "ginkgo"}, "go test", 0.8, nil)
	if err != nil {
		t.Fatalf("add pending decision: %v", err)
	}

	removed, err := hot.ResolveDecision(ctx, d.ID)
	if err != nil {
		t.Fatalf("resolve decision: %v", err)
	}
	if removed == nil || removed.ID != d.ID {
		t.Fatalf("expected removed decision %q, got %+v", d.ID, removed)
	}

	state, err := hot.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(state.PendingDecisions) != 0 {
		t.Fatalf("expected no pending decisions, got %+v", state.PendingDecisions)
	}
}

func TestHotClearResetsState(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	hot, err := NewHot(ctx, db, 1)
	if err != nil {
		t.Fatalf("new hot: %v", err)
	}
	if err := hot.AddAction(ctx, "a", "b", "c"); err != nil {
		t.Fatalf("add action: %v", err)
	}
	if err := hot.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}

	text, err := hot.ContextForPrompt(ctx)
	if err != nil {
		t.Fatalf("context for prompt: %v", err)
	}
	if text != "No active context." {
		t.Fatalf("expected cleared context, got %q", text)
	}
}
