package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arcadiaforge/arcadiaforge/internal/store"
)

// Manager coordinates the three memory tiers for one session: hot (live
// working state), warm (recent sessions), and cold (archived history).
type Manager struct {
	Hot  *Hot
	Warm *Warm
	Cold *Cold

	sessionID    int64
	sessionStart time.Time
}

// New opens a Manager for a session, initializing its hot memory row.
func New(ctx context.Context, db *store.Store, sessionID int64) (*Manager, error) {
	hot, err := NewHot(ctx, db, sessionID)
	if err != nil {
		return nil, err
	}
	return &Manager{
		Hot:          hot,
		Warm:         NewWarm(db),
		Cold:         NewCold(db),
		sessionID:    sessionID,
		sessionStart: time.Now().UTC(),
	}, nil
}

// EndSessionInput carries the session-level counters a caller has been
// accumulating over the session's lifetime.
type EndSessionInput struct {
	EndingState        string
	FeaturesStarted    int
	FeaturesCompleted  int
	FeaturesRegressed  int
	KeyDecisions       []map[string]any
	ErrorsEncountered  []map[string]any
	ErrorsResolved     []map[string]any
	LastFeatureWorked  *int
	LastCheckpointID   string
	PatternsDiscovered []string
	WarningsForNext    []string
	ToolCalls          int
	Escalations        int
	HumanInterventions int
}

// EndSession promotes the session's state into warm memory, archives a
// minimal record into cold memory, and clears hot memory. Warm memory keeps
// only MaxWarmSessions rows; this is what guarantees cold memory's archive
// grows with every session regardless of warm's pruning.
func (m *Manager) EndSession(ctx context.Context, in EndSessionInput) (SessionSummary, error) {
	endedAt := time.Now().UTC()
	duration := endedAt.Sub(m.sessionStart).Seconds()

	if in.EndingState == "" {
		in.EndingState = "completed"
	}
	summary := SessionSummary{
		SessionID:          m.sessionID,
		StartedAt:          m.sessionStart,
		EndedAt:            endedAt,
		DurationSeconds:    duration,
		FeaturesStarted:    in.FeaturesStarted,
		FeaturesCompleted:  in.FeaturesCompleted,
		FeaturesRegressed:  in.FeaturesRegressed,
		KeyDecisions:       in.KeyDecisions,
		ErrorsEncountered:  in.ErrorsEncountered,
		ErrorsResolved:     in.ErrorsResolved,
		LastFeatureWorked:  in.LastFeatureWorked,
		LastCheckpointID:   in.LastCheckpointID,
		EndingState:        in.EndingState,
		PatternsDiscovered: in.PatternsDiscovered,
		WarningsForNext:    in.WarningsForNext,
		ToolCalls:          in.ToolCalls,
		Escalations:        in.Escalations,
		HumanInterventions: in.HumanInterventions,
	}

	if err := m.Warm.AddSessionSummary(ctx, summary); err != nil {
		return summary, err
	}

	archived := ArchivedSession{
		SessionID:         m.sessionID,
		StartedAt:         m.sessionStart,
		EndedAt:           endedAt,
		EndingState:       in.EndingState,
		FeaturesCompleted: in.FeaturesCompleted,
		FeaturesRegressed: in.FeaturesRegressed,
		ErrorsCount:       len(in.ErrorsEncountered),
		DurationSeconds:   duration,
	}
	if err := m.Cold.ArchiveSession(ctx, archived); err != nil {
		return summary, err
	}

	if err := m.Hot.Clear(ctx); err != nil {
		return summary, err
	}
	return summary, nil
}

// FullContext assembles prompt-ready text from all three tiers, hottest
// first.
func (m *Manager) FullContext(ctx context.Context) (string, error) {
	hot, err := m.Hot.ContextForPrompt(ctx)
	if err != nil {
		return "", fmt.Errorf("memory: hot context: %w", err)
	}
	warm, err := m.Warm.ContextForPrompt(ctx)
	if err != nil {
		return "", fmt.Errorf("memory: warm context: %w", err)
	}
	cold, err := m.Cold.ContextForPrompt(ctx)
	if err != nil {
		return "", fmt.Errorf("memory: cold context: %w", err)
	}
	return strings.Join([]string{hot, warm, cold}, "\n\n"), nil
}

// ContextSize reports an approximate item count per tier, used to decide
// when a tier needs summarizing or pruning.
type ContextSize struct {
	HotItems  int
	WarmItems int
}

// ContextSize returns the approximate size of hot and warm memory.
func (m *Manager) ContextSize(ctx context.Context) (ContextSize, error) {
	hot, err := m.Hot.Get(ctx)
	if err != nil {
		return ContextSize{}, err
	}
	warm, err := m.Warm.LastSessionSummary(ctx)
	if err != nil {
		return ContextSize{}, err
	}
	size := ContextSize{
		HotItems: len(hot.RecentActions) + len(hot.RecentFiles) + len(hot.ActiveErrors) + len(hot.PendingDecisions),
	}
	if warm != nil {
		size.WarmItems = len(warm.KeyDecisions) + len(warm.ErrorsEncountered) + len(warm.PatternsDiscovered)
	}
	return size, nil
}

// FindSolutions looks in both warm (proven patterns) and cold (verified
// knowledge) memory for anything matching query, warm results first since
// they are more recent and session-relevant.
type Solution struct {
	Source     string // "pattern" or "knowledge"
	ID         string
	Summary    string
	Confidence float64
}

// FindSolutions searches warm patterns and cold knowledge for query.
func (m *Manager) FindSolutions(ctx context.Context, query string) ([]Solution, error) {
	var out []Solution
	patterns, err := m.Warm.FindPatterns(ctx, query, 0)
	if err != nil {
		return nil, err
	}
	for _, p := range patterns {
		out = append(out, Solution{Source: "pattern", ID: p.ID, Summary: p.Solution, Confidence: p.Confidence})
	}
	knowledge, err := m.Cold.SearchKnowledge(ctx, query, 10)
	if err != nil {
		return nil, err
	}
	for _, k := range knowledge {
		out = append(out, Solution{Source: "knowledge", ID: k.ID, Summary: k.Description, Confidence: k.Confidence})
	}
	return out, nil
}
