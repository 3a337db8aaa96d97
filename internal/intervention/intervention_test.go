package intervention

import (
	"context"
	"testing"

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

func TestNormalizeErrorStripsVariableDetails(t *testing.T) {
	msg := `File "/home/user/project/main.go", line 42: undefined variable 'foo' at 0xdeadbeef`
	got := NormalizeError(msg)
	if got == "" {
		t.Fatal("expected normalized string")
	}
	for _, forbidden := range []string{"/home/user/project/main.go", "42", "0xdeadbeef", "foo"} {
		if containsSubstring(got, forbidden) {
			t.Fatalf("expected %q stripped from normalized error, got %q", forbidden, got)
		}
	}
}

func containsSubstring(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestSignatureSimilarityIdenticalIsOne(t *testing.T) {
	a := NewSignature("Bash", "execute", "error", "", "db", "")
	b := NewSignature("Bash", "execute", "error", "", "db", "")
	if a.Similarity(b) != 1.0 {
		t.Fatalf("expected identical signatures to score 1.0, got %f", a.Similarity(b))
	}
}

func TestSignatureSimilarityPartialErrorMatch(t *testing.T) {
	a := Signature{ErrorPattern: "connection refused"}
	b := Signature{ErrorPattern: "connection refused on port <n>"}
	sim := a.Similarity(b)
	if sim != 0.5 {
		t.Fatalf("expected partial substring match to score 0.5, got %f", sim)
	}
}

func TestRecordInterventionCreatesNewPattern(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	l, err := New(ctx, db)
	if err != nil {
		t.Fatalf("new learner: %v", err)
	}

	sig := NewSignature("Bash", "execute", "error", "permission denied", "", "")
	iv, err := l.RecordIntervention(ctx, 1, TypeCorrection, sig, "Use sudo with explicit confirmation", nil, "run command", "seemed safe", "needed elevated privileges")
	if err != nil {
		t.Fatalf("record intervention: %v", err)
	}
	if iv.InterventionID != "INT-0001" {
		t.Fatalf("expected first intervention ID INT-0001, got %s", iv.InterventionID)
	}

	patterns := l.Patterns(false, nil)
	if len(patterns) != 1 || patterns[0].RecommendedAction != "Use sudo with explicit confirmation" {
		t.Fatalf("expected one new pattern, got %+v", patterns)
	}
	if patterns[0].TimesMatched != 1 {
		t.Fatalf("expected new pattern to start with times_matched=1, got %d", patterns[0].TimesMatched)
	}
}

func TestRecordInterventionReinforcesMatchingPattern(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	l, err := New(ctx, db)
	if err != nil {
		t.Fatalf("new learner: %v", err)
	}

	sig := NewSignature("Bash", "execute", "error", "permission denied", "", "")
	if _, err := l.RecordIntervention(ctx, 1, TypeCorrection, sig, "Use sudo", nil, "", "", ""); err != nil {
		t.Fatalf("record intervention: %v", err)
	}
	if _, err := l.RecordIntervention(ctx, 1, TypeCorrection, sig, "Use sudo", nil, "", "", ""); err != nil {
		t.Fatalf("record intervention: %v", err)
	}

	patterns := l.Patterns(false, nil)
	if len(patterns) != 1 {
		t.Fatalf("expected the second intervention to reinforce the existing pattern, got %d patterns", len(patterns))
	}
	if patterns[0].SuccessCount != 1 {
		t.Fatalf("expected same-action repeat to count as a success confirmation, got %+v", patterns[0])
	}
}

func TestFindMatchingPatternsRanksBySimilarity(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	l, err := New(ctx, db)
	if err != nil {
		t.Fatalf("new learner: %v", err)
	}

	sigA := NewSignature("Bash", "execute", "error", "permission denied", "", "")
	sigB := NewSignature("Write", "write", "error", "permission denied", "", "")
	if _, err := l.RecordIntervention(ctx, 1, TypeCorrection, sigA, "Use sudo", nil, "", "", ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := l.RecordIntervention(ctx, 1, TypeCorrection, sigB, "Check permissions first", nil, "", "", ""); err != nil {
		t.Fatalf("record: %v", err)
	}

	query := NewSignature("Bash", "execute", "error", "permission denied", "", "")
	matches, err := l.FindMatchingPatterns(ctx, query, nil)
	if err != nil {
		t.Fatalf("find matches: %v", err)
	}
	if len(matches) == 0 || matches[0].Recommendation != "Use sudo" {
		t.Fatalf("expected the exact-tool match to rank first, got %+v", matches)
	}
}

func TestRecordOutcomeUpdatesPatternConfidence(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	l, err := New(ctx, db)
	if err != nil {
		t.Fatalf("new learner: %v", err)
	}

	sig := NewSignature("Bash", "execute", "error", "disk full", "", "")
	iv, err := l.RecordIntervention(ctx, 1, TypeOverride, sig, "Clean temp files", nil, "", "", "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	for i := 0; i < 3; i++ {
		ok, err := l.RecordOutcome(ctx, iv.InterventionID, true, "")
		if err != nil || !ok {
			t.Fatalf("record outcome: ok=%v err=%v", ok, err)
		}
	}

	patterns := l.Patterns(false, nil)
	if len(patterns) != 1 {
		t.Fatalf("expected one pattern, got %d", len(patterns))
	}
	if patterns[0].Confidence < 0.8 {
		t.Fatalf("expected high confidence after repeated success, got %f", patterns[0].Confidence)
	}
	if !patterns[0].AutoApply {
		t.Fatal("expected auto_apply to flip true after 3+ successes above threshold")
	}
}

func TestRecordOutcomeUnknownInterventionReturnsFalse(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	l, err := New(ctx, db)
	if err != nil {
		t.Fatalf("new learner: %v", err)
	}
	ok, err := l.RecordOutcome(ctx, "INT-9999", true, "")
	if err != nil {
		t.Fatalf("record outcome: %v", err)
	}
	if ok {
		t.Fatal("expected unknown intervention ID to return false")
	}
}

func TestLearningStatsAggregatesAcrossTypesAndOutcomes(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	l, err := New(ctx, db)
	if err != nil {
		t.Fatalf("new learner: %v", err)
	}

	sig1 := NewSignature("Bash", "execute", "error", "a", "", "")
	sig2 := NewSignature("Write", "write", "error", "b", "", "")
	iv1, err := l.RecordIntervention(ctx, 1, TypeCorrection, sig1, "fix a", nil, "", "", "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := l.RecordIntervention(ctx, 1, TypeGuidance, sig2, "fix b", nil, "", "", ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := l.RecordOutcome(ctx, iv1.InterventionID, true, "worked"); err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	stats, err := l.LearningStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalInterventions != 2 {
		t.Fatalf("expected 2 interventions, got %d", stats.TotalInterventions)
	}
	if stats.OutcomesTracked != 1 || stats.SuccessfulOutcomes != 1 {
		t.Fatalf("expected 1 tracked successful outcome, got %+v", stats)
	}
	if stats.ByType["correction"] != 1 || stats.ByType["guidance"] != 1 {
		t.Fatalf("expected one entry per type, got %+v", stats.ByType)
	}
}

func TestPatternsSurviveReload(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	l, err := New(ctx, db)
	if err != nil {
		t.Fatalf("new learner: %v", err)
	}
	sig := NewSignature("Bash", "execute", "error", "timeout", "", "")
	if _, err := l.RecordIntervention(ctx, 1, TypeCorrection, sig, "retry with backoff", nil, "", "", ""); err != nil {
		t.Fatalf("record: %v", err)
	}

	reloaded, err := New(ctx, db)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.Patterns(false, nil)) != 1 {
		t.Fatalf("expected pattern to persist across reload, got %d", len(reloaded.Patterns(false, nil)))
	}
	if reloaded.counter != 1 {
		t.Fatalf("expected intervention counter to persist across reload, got %d", reloaded.counter)
	}
}

func TestResetLearningClearsPatternsOnly(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	l, err := New(ctx, db)
	if err != nil {
		t.Fatalf("new learner: %v", err)
	}
	sig := NewSignature("Bash", "execute", "error", "timeout", "", "")
	if _, err := l.RecordIntervention(ctx, 1, TypeCorrection, sig, "retry with backoff", nil, "", "", ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := l.ResetLearning(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(l.Patterns(false, nil)) != 0 {
		t.Fatal("expected patterns cleared after reset")
	}
	history, err := l.Interventions(ctx, InterventionFilter{})
	if err != nil {
		t.Fatalf("interventions: %v", err)
	}
	if len(history) != 1 {
		t.Fatal("expected intervention history to survive a learning reset")
	}
}
