package memory

import (
	"context"
	"testing"
	"time"
)

func TestColdArchiveSessionUpsert(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	cold := NewCold(db)

	s := ArchivedSession{
		SessionID:         1,
		StartedAt:         time.Now().UTC().Add(-time.Hour),
		EndedAt:           time.Now().UTC(),
		EndingState:       "completed",
		FeaturesCompleted: 2,
		DurationSeconds:   3600,
	}
	if err := cold.ArchiveSession(ctx, s); err != nil {
		t.Fatalf("archive: %v", err)
	}
	// archiving the same session again should update, not error or duplicate
	s.FeaturesCompleted = 3
	if err := cold.ArchiveSession(ctx, s); err != nil {
		t.Fatalf("re-archive: %v", err)
	}

	got, err := cold.Session(ctx, 1)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.FeaturesCompleted != 3 {
		t.Fatalf("expected updated features_completed 3, got %d", got.FeaturesCompleted)
	}

	all, err := cold.ArchivedSessions(ctx)
	if err != nil {
		t.Fatalf("archived sessions: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 archived session after upsert, got %d", len(all))
	}
}

func TestColdKnowledgeVerifyRaisesConfidence(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	cold := NewCold(db)

	k, err := cold.AddKnowledge(ctx, "gotcha", "SQLite busy timeout", "set busy_timeout to avoid SQLITE_BUSY", []string{"sqlite", "concurrency"}, 1)
	if err != nil {
		t.Fatalf("add knowledge: %v", err)
	}
	if k.Confidence != 0.5 {
		t.Fatalf("expected initial confidence 0.5, got %f", k.Confidence)
	}

	if err := cold.VerifyKnowledge(ctx, k.ID); err != nil {
		t.Fatalf("verify: %v", err)
	}

	found, err := cold.HighConfidenceKnowledge(ctx, 0.5)
	if err != nil {
		t.Fatalf("high confidence: %v", err)
	}
	if len(found) != 1 || found[0].TimesVerified != 2 {
		t.Fatalf("expected 1 entry verified twice, got %+v", found)
	}
	if found[0].Confidence < 0.54 || found[0].Confidence > 0.56 {
		t.Fatalf("expected confidence ~0.55, got %f", found[0].Confidence)
	}
}

func TestColdVerifyUnknownReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	cold := NewCold(db)

	err := cold.VerifyKnowledge(ctx, "KNOW-999")
	if err == nil {
		t.Fatal("expected error for unknown knowledge id")
	}
}

func TestColdSearchKnowledgeMatchesKeywordsAndText(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	cold := NewCold(db)

	if _, err := cold.AddKnowledge(ctx, "gotcha", "SQLite locking", "avoid long write transactions", []string{"sqlite"}, 1); err != nil {
		t.Fatalf("add knowledge: %v", err)
	}
	if _, err := cold.AddKnowledge(ctx, "gotcha", "HTTP retries", "use exponential backoff", []string{"http"}, 1); err != nil {
		t.Fatalf("add knowledge: %v", err)
	}

	found, err := cold.SearchKnowledge(ctx, "sqlite", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 1 || found[0].Title != "SQLite locking" {
		t.Fatalf("expected sqlite entry to match, got %+v", found)
	}
}

func TestColdStatisticsAndSuccessRate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	cold := NewCold(db)

	sessions := []ArchivedSession{
		{SessionID: 1, EndingState: "completed", FeaturesCompleted: 2, DurationSeconds: 100},
		{SessionID: 2, EndingState: "completed", FeaturesCompleted: 4, DurationSeconds: 200},
		{SessionID: 3, EndingState: "failed", FeaturesCompleted: 0, DurationSeconds: 50},
	}
	for _, s := range sessions {
		if err := cold.ArchiveSession(ctx, s); err != nil {
			t.Fatalf("archive: %v", err)
		}
	}

	stats, err := cold.Statistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.TotalSessions != 3 {
		t.Fatalf("expected 3 sessions, got %d", stats.TotalSessions)
	}
	if stats.SuccessfulSessions != 2 || stats.FailedSessions != 1 {
		t.Fatalf("expected 2 successful / 1 failed, got %+v", stats)
	}
	if stats.AvgFeaturesPerSession != 2 {
		t.Fatalf("expected avg features per session 2, got %f", stats.AvgFeaturesPerSession)
	}

	rate, err := cold.SuccessRate(ctx)
	if err != nil {
		t.Fatalf("success rate: %v", err)
	}
	want := 2.0 / 3.0
	if rate < want-0.001 || rate > want+0.001 {
		t.Fatalf("expected success rate %f, got %f", want, rate)
	}
}
