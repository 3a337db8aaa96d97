package memory

import (
	"context"
	"strings"
	"testing"
)

func TestManagerEndSessionPromotesAndClearsHot(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	mgr, err := New(ctx, db, 1)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Hot.AddAction(ctx, "wrote a test", "passed", "Write"); err != nil {
		t.Fatalf("add action: %v", err)
	}

	feature := 7
	_, err = mgr.EndSession(ctx, EndSessionInput{
		EndingState:       "completed",
		FeaturesCompleted: 1,
		LastFeatureWorked: &feature,
	})
	if err != nil {
		t.Fatalf("end session: %v", err)
	}

	last, err := mgr.Warm.LastSessionSummary(ctx)
	if err != nil {
		t.Fatalf("last summary: %v", err)
	}
	if last == nil || last.SessionID != 1 {
		t.Fatalf("expected session 1 promoted to warm, got %+v", last)
	}

	archived, err := mgr.Cold.Session(ctx, 1)
	if err != nil {
		t.Fatalf("archived session: %v", err)
	}
	if archived.EndingState != "completed" {
		t.Fatalf("expected archived ending state completed, got %q", archived.EndingState)
	}

	hotText, err := mgr.Hot.ContextForPrompt(ctx)
	if err != nil {
		t.Fatalf("hot context: %v", err)
	}
	if hotText != "No active context." {
		t.Fatalf("expected hot memory cleared after end session, got %q", hotText)
	}
}

func TestManagerFullContextJoinsAllTiers(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	mgr, err := New(ctx, db, 1)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	feature := 2
	if err := mgr.Hot.SetFocus(ctx, &feature, "fix flaky test", nil); err != nil {
		t.Fatalf("set focus: %v", err)
	}

	full, err := mgr.FullContext(ctx)
	if err != nil {
		t.Fatalf("full context: %v", err)
	}
	if !strings.Contains(full, "Current Feature: #2") {
		t.Fatalf("expected hot context in full context, got %q", full)
	}
}

func TestManagerFindSolutionsSearchesBothTiers(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	mgr, err := New(ctx, db, 1)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.Warm.AddPattern(ctx, "retry", "network flake", "retry with backoff", []string{"network"}, 1); err != nil {
		t.Fatalf("add pattern: %v", err)
	}
	if _, err := mgr.Cold.AddKnowledge(ctx, "gotcha", "network flake workaround", "bump timeout", []string{"network"}, 1); err != nil {
		t.Fatalf("add knowledge: %v", err)
	}

	solutions, err := mgr.FindSolutions(ctx, "network")
	if err != nil {
		t.Fatalf("find solutions: %v", err)
	}
	if len(solutions) != 2 {
		t.Fatalf("expected 2 solutions across tiers, got %d", len(solutions))
	}
	if solutions[0].Source != "pattern" {
		t.Fatalf("expected pattern solution first, got %q", solutions[0].Source)
	}
}
