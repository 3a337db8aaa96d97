package decision

import (
	"context"
	"testing"

	"github.com/arcadiaforge/arcadiaforge/internal/store"
)

func openTest(t *testing.T) *Logger {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestLogClampsConfidence(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()

	d, err := l.Log(ctx, LogInput{
		SessionID:  1,
		Type:       TypeImplementationApproach,
		Context:    "picking a retry strategy",
		Choice:     "exponential backoff",
		Confidence: 1.5,
	})
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if d.Confidence != 1.0 {
		t.Fatalf("expected confidence clamped to 1.0, got %v", d.Confidence)
	}
}

func TestGetRoundTrips(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()

	d, err := l.Log(ctx, LogInput{
		SessionID:       2,
		Type:            TypeToolChoice,
		Context:         "choosing a test runner",
		Choice:          "go test",
		Alternatives:    []string{"ginkgo"},
		Rationale:       "matches the rest of the stack",
		Confidence:      0.9,
		RelatedFeatures: []int{3, 4},
		Metadata:        map[string]any{"reviewed": true},
	})
	if err != nil {
		t.Fatalf("log: %v", err)
	}

	got, err := l.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Choice != "go test" || len(got.Alternatives) != 1 || len(got.RelatedFeatures) != 2 {
		t.Fatalf("unexpected decision: %+v", got)
	}
	if got.Metadata["reviewed"] != true {
		t.Fatalf("expected metadata to round-trip, got %+v", got.Metadata)
	}
}

func TestUpdateOutcome(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()

	d, err := l.Log(ctx, LogInput{SessionID: 1, Type: TypeBugFixStrategy, Choice: "patch the race", Confidence: 0.7})
	if err != nil {
		t.Fatalf("log: %v", err)
	}

	updated, err := l.UpdateOutcome(ctx, d.ID, true, "fixed and verified")
	if err != nil {
		t.Fatalf("update outcome: %v", err)
	}
	if updated.Outcome != "fixed and verified" || updated.OutcomeSuccess == nil || !*updated.OutcomeSuccess {
		t.Fatalf("unexpected outcome: %+v", updated)
	}
}

func TestUpdateOutcomeUnknownID(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()

	_, err := l.UpdateOutcome(ctx, "D-1-999", true, "n/a")
	if err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNeedsReviewOnLowConfidenceOrType(t *testing.T) {
	low := &Decision{Confidence: 0.2, Type: TypeArchitecture}
	if !low.NeedsReview() {
		t.Fatal("expected a low-confidence decision to need review")
	}
	skip := &Decision{Confidence: 0.9, Type: TypeSkipFeature}
	if !skip.NeedsReview() {
		t.Fatal("expected a skip_feature decision to need review regardless of confidence")
	}
	confident := &Decision{Confidence: 0.9, Type: TypeRefactor}
	if confident.NeedsReview() {
		t.Fatal("expected a high-confidence non-escalation decision to not need review")
	}
}

func TestForFeatureFiltersAndOrders(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()

	if _, err := l.Log(ctx, LogInput{SessionID: 1, Type: TypeRefactor, Choice: "a", RelatedFeatures: []int{5}}); err != nil {
		t.Fatalf("log: %v", err)
	}
	if _, err := l.Log(ctx, LogInput{SessionID: 1, Type: TypeRefactor, Choice: "b", RelatedFeatures: []int{6}}); err != nil {
		t.Fatalf("log: %v", err)
	}
	if _, err := l.Log(ctx, LogInput{SessionID: 1, Type: TypeRefactor, Choice: "c", RelatedFeatures: []int{5, 6}}); err != nil {
		t.Fatalf("log: %v", err)
	}

	found, err := l.ForFeature(ctx, 5)
	if err != nil {
		t.Fatalf("for feature: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 decisions referencing feature 5, got %d", len(found))
	}
}

func TestLowConfidenceOrdersAscending(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()

	if _, err := l.Log(ctx, LogInput{SessionID: 1, Type: TypeRefactor, Choice: "a", Confidence: 0.4}); err != nil {
		t.Fatalf("log: %v", err)
	}
	if _, err := l.Log(ctx, LogInput{SessionID: 1, Type: TypeRefactor, Choice: "b", Confidence: 0.1}); err != nil {
		t.Fatalf("log: %v", err)
	}
	if _, err := l.Log(ctx, LogInput{SessionID: 1, Type: TypeRefactor, Choice: "c", Confidence: 0.9}); err != nil {
		t.Fatalf("log: %v", err)
	}

	found, err := l.LowConfidence(ctx, nil, 0.5)
	if err != nil {
		t.Fatalf("low confidence: %v", err)
	}
	if len(found) != 2 || found[0].Choice != "b" {
		t.Fatalf("expected ascending low-confidence decisions starting with 'b', got %+v", found)
	}
}

func TestStatsComputesSuccessRate(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()
	sessionID := int64(1)

	d1, err := l.Log(ctx, LogInput{SessionID: sessionID, Type: TypeRefactor, Choice: "a", Confidence: 0.8})
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if _, err := l.Log(ctx, LogInput{SessionID: sessionID, Type: TypeRefactor, Choice: "b", Confidence: 0.2}); err != nil {
		t.Fatalf("log: %v", err)
	}
	if _, err := l.UpdateOutcome(ctx, d1.ID, true, "worked"); err != nil {
		t.Fatalf("update outcome: %v", err)
	}

	stats, err := l.Stats(ctx, &sessionID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.LowConfidenceCount != 1 || stats.OutcomesRecorded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.SuccessRate != 1.0 {
		t.Fatalf("expected success rate 1.0, got %v", stats.SuccessRate)
	}
}
