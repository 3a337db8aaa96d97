package memory

import (
	"context"
	"testing"
)

func TestWarmAddSessionSummaryAndRecent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	warm := NewWarm(db)

	for i := int64(1); i <= 3; i++ {
		s := SessionSummary{SessionID: i, EndingState: "completed", FeaturesCompleted: int(i)}
		if err := warm.AddSessionSummary(ctx, s); err != nil {
			t.Fatalf("add summary %d: %v", i, err)
		}
	}

	recent, err := warm.RecentSummaries(ctx, 10)
	if err != nil {
		t.Fatalf("recent summaries: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(recent))
	}
	if recent[0].SessionID != 3 {
		t.Fatalf("expected newest first, got %d", recent[0].SessionID)
	}

	last, err := warm.LastSessionSummary(ctx)
	if err != nil {
		t.Fatalf("last summary: %v", err)
	}
	if last == nil || last.SessionID != 3 {
		t.Fatalf("expected last session 3, got %+v", last)
	}
}

func TestWarmPrunesBeyondMaxSessions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	warm := NewWarm(db)

	for i := int64(1); i <= MaxWarmSessions+3; i++ {
		s := SessionSummary{SessionID: i, EndingState: "completed"}
		if err := warm.AddSessionSummary(ctx, s); err != nil {
			t.Fatalf("add summary %d: %v", i, err)
		}
	}

	recent, err := warm.RecentSummaries(ctx, 100)
	if err != nil {
		t.Fatalf("recent summaries: %v", err)
	}
	if len(recent) != MaxWarmSessions {
		t.Fatalf("expected %d retained sessions, got %d", MaxWarmSessions, len(recent))
	}
	if recent[len(recent)-1].SessionID != 4 {
		t.Fatalf("expected oldest retained to be session 4, got %d", recent[len(recent)-1].SessionID)
	}
}

func TestWarmUnresolvedIssueLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	warm := NewWarm(db)

	issue, err := warm.AddUnresolvedIssue(ctx, "flaky_test", "TestFoo flakes under load", nil, nil, 1, 2)
	if err != nil {
		t.Fatalf("add issue: %v", err)
	}

	if err := warm.UpdateIssue(ctx, issue.ID, 2, map[string]any{"tried": "increase timeout"}); err != nil {
		t.Fatalf("update issue: %v", err)
	}

	found, err := warm.UnresolvedIssues(ctx, UnresolvedIssuesFilter{})
	if err != nil {
		t.Fatalf("unresolved issues: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(found))
	}
	if found[0].TimesEncountered != 2 {
		t.Fatalf("expected times_encountered 2, got %d", found[0].TimesEncountered)
	}
	if len(found[0].AttemptedSolutions) != 1 {
		t.Fatalf("expected 1 attempted solution, got %d", len(found[0].AttemptedSolutions))
	}

	if err := warm.ResolveIssue(ctx, issue.ID); err != nil {
		t.Fatalf("resolve issue: %v", err)
	}
	found, err = warm.UnresolvedIssues(ctx, UnresolvedIssuesFilter{})
	if err != nil {
		t.Fatalf("unresolved issues after resolve: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("expected 0 issues after resolve, got %d", len(found))
	}
}

func TestWarmIssuesSortedByPriority(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	warm := NewWarm(db)

	if _, err := warm.AddUnresolvedIssue(ctx, "bug", "low priority", nil, nil, 1, 5); err != nil {
		t.Fatalf("add issue: %v", err)
	}
	if _, err := warm.AddUnresolvedIssue(ctx, "bug", "high priority", nil, nil, 1, 1); err != nil {
		t.Fatalf("add issue: %v", err)
	}

	found, err := warm.UnresolvedIssues(ctx, UnresolvedIssuesFilter{})
	if err != nil {
		t.Fatalf("unresolved issues: %v", err)
	}
	if len(found) != 2 || found[0].Priority != 1 {
		t.Fatalf("expected priority-ascending order, got %+v", found)
	}
}

func TestWarmPatternSuccessRaisesConfidence(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	warm := NewWarm(db)

	p, err := warm.AddPattern(ctx, "retry", "flaky network call", "retry with backoff", []string{"network", "retry"}, 1)
	if err != nil {
		t.Fatalf("add pattern: %v", err)
	}
	if p.Confidence != 0.5 {
		t.Fatalf("expected initial confidence 0.5, got %f", p.Confidence)
	}

	for i := 0; i < 3; i++ {
		if err := warm.RecordPatternSuccess(ctx, p.ID, int64(i+2)); err != nil {
			t.Fatalf("record success: %v", err)
		}
	}

	all, err := warm.allPatterns(ctx)
	if err != nil {
		t.Fatalf("all patterns: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(all))
	}
	// success_count starts at 1 (AddPattern), +3 successes = 4: confidence = 0.5 + 4*0.1 = 0.9
	if all[0].Confidence < 0.89 || all[0].Confidence > 0.91 {
		t.Fatalf("expected confidence ~0.9, got %f", all[0].Confidence)
	}
	if len(all[0].SourceSessions) != 4 {
		t.Fatalf("expected 4 source sessions, got %d", len(all[0].SourceSessions))
	}
}

func TestWarmFindPatternsRanksByScoreTimesConfidence(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	warm := NewWarm(db)

	if _, err := warm.AddPattern(ctx, "retry", "network timeout retries", "exponential backoff", []string{"network"}, 1); err != nil {
		t.Fatalf("add pattern: %v", err)
	}
	if _, err := warm.AddPattern(ctx, "auth", "unrelated auth bug", "rotate keys", []string{"auth"}, 1); err != nil {
		t.Fatalf("add pattern: %v", err)
	}

	matches, err := warm.FindPatterns(ctx, "network timeout", 0)
	if err != nil {
		t.Fatalf("find patterns: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 matching pattern, got %d", len(matches))
	}
	if matches[0].Type != "retry" {
		t.Fatalf("expected retry pattern to match, got %q", matches[0].Type)
	}
}

func TestWarmContinuityContext(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	warm := NewWarm(db)

	s := SessionSummary{SessionID: 1, EndingState: "completed", WarningsForNext: []string{"watch the flaky test"}}
	if err := warm.AddSessionSummary(ctx, s); err != nil {
		t.Fatalf("add summary: %v", err)
	}
	if _, err := warm.AddUnresolvedIssue(ctx, "bug", "critical thing", nil, nil, 1, 1); err != nil {
		t.Fatalf("add issue: %v", err)
	}

	cc, err := warm.GetContinuityContext(ctx)
	if err != nil {
		t.Fatalf("continuity context: %v", err)
	}
	if cc.LastSession == nil || cc.LastSession.SessionID != 1 {
		t.Fatalf("expected last session 1, got %+v", cc.LastSession)
	}
	if len(cc.UnresolvedIssues) != 1 {
		t.Fatalf("expected 1 unresolved issue, got %d", len(cc.UnresolvedIssues))
	}
	if len(cc.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(cc.Warnings))
	}
}
