package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/arcadiaforge/arcadiaforge/internal/store"
)

// MaxWarmSessions is the number of recent sessions kept in warm memory
// before the oldest is pruned (promotion to cold memory is the caller's
// responsibility — see Manager.EndSession).
const MaxWarmSessions = 5

// SessionSummary is a condensed record of a completed session.
type SessionSummary struct {
	SessionID         int64
	StartedAt         time.Time
	EndedAt           time.Time
	DurationSeconds   float64
	FeaturesStarted   int
	FeaturesCompleted int
	FeaturesRegressed int
	KeyDecisions      []map[string]any
	ErrorsEncountered []map[string]any
	ErrorsResolved    []map[string]any
	LastFeatureWorked *int
	LastCheckpointID  string
	EndingState       string
	PatternsDiscovered []string
	WarningsForNext   []string
	ToolCalls         int
	Escalations       int
	HumanInterventions int
}

// SummaryText renders a short human-readable description of the session.
func (s SessionSummary) SummaryText() string {
	lines := []string{
		fmt.Sprintf("Session %d (%s)", s.SessionID, s.EndingState),
		fmt.Sprintf("  Duration: %.1f minutes", s.DurationSeconds/60),
		fmt.Sprintf("  Features: %d completed, %d regressed", s.FeaturesCompleted, s.FeaturesRegressed),
		fmt.Sprintf("  Errors: %d encountered, %d resolved", len(s.ErrorsEncountered), len(s.ErrorsResolved)),
	}
	if len(s.WarningsForNext) > 0 {
		lines = append(lines, fmt.Sprintf("  Warnings: %d", len(s.WarningsForNext)))
	}
	return strings.Join(lines, "\n")
}

// UnresolvedIssue is a problem that persists across sessions until resolved.
type UnresolvedIssue struct {
	ID                 string
	CreatedAt          time.Time
	Type               string
	Description        string
	Context             map[string]any
	RelatedFeatures     []int
	RelatedFiles        []string
	SessionsSeen        []int64
	Priority            int
	AttemptedSolutions  []map[string]any
	LastSeenSession     int64
	TimesEncountered    int
	Resolved            bool
}

// ProvenPattern is an approach confirmed to work, tracked so future sessions
// can reuse it instead of rediscovering it.
type ProvenPattern struct {
	ID              string
	CreatedAt       time.Time
	Type            string
	Problem         string
	Solution        string
	ContextKeywords []string
	SuccessCount    int
	Confidence      float64
	SourceSessions  []int64
	LastUsedSession *int64
}

// Warm manages recent-session context: summaries, unresolved issues, and
// proven patterns, all preserved across sessions.
type Warm struct {
	db *store.Store
}

// NewWarm wraps a persistence Store.
func NewWarm(db *store.Store) *Warm {
	return &Warm{db: db}
}

// AddSessionSummary records a completed session and prunes anything beyond
// MaxWarmSessions, oldest first.
func (w *Warm) AddSessionSummary(ctx context.Context, s SessionSummary) error {
	err := w.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO warm_memory (
				session_id, started_at, ended_at, duration_seconds, features_started,
				features_completed, features_regressed, key_decisions, errors_encountered,
				errors_resolved, last_feature_worked, last_checkpoint_id, ending_state,
				patterns_discovered, warnings_for_next, tool_calls, escalations, human_interventions
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				ended_at = excluded.ended_at, duration_seconds = excluded.duration_seconds,
				features_started = excluded.features_started, features_completed = excluded.features_completed,
				features_regressed = excluded.features_regressed, key_decisions = excluded.key_decisions,
				errors_encountered = excluded.errors_encountered, errors_resolved = excluded.errors_resolved,
				last_feature_worked = excluded.last_feature_worked, last_checkpoint_id = excluded.last_checkpoint_id,
				ending_state = excluded.ending_state, patterns_discovered = excluded.patterns_discovered,
				warnings_for_next = excluded.warnings_for_next, tool_calls = excluded.tool_calls,
				escalations = excluded.escalations, human_interventions = excluded.human_interventions`,
			s.SessionID, s.StartedAt.Format(time.RFC3339), s.EndedAt.Format(time.RFC3339), s.DurationSeconds,
			s.FeaturesStarted, s.FeaturesCompleted, s.FeaturesRegressed, store.EncodeJSON(s.KeyDecisions),
			store.EncodeJSON(s.ErrorsEncountered), store.EncodeJSON(s.ErrorsResolved), nullIntPtr(s.LastFeatureWorked),
			nullStr(s.LastCheckpointID), s.EndingState, store.EncodeJSON(s.PatternsDiscovered),
			store.EncodeJSON(s.WarningsForNext), s.ToolCalls, s.Escalations, s.HumanInterventions,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("memory: record warm summary: %w", err)
	}
	return w.pruneOldSessions(ctx)
}

// pruneOldSessions deletes everything but the MaxWarmSessions most recent
// summaries. Callers wanting those rows preserved should archive them to
// cold memory first (see Manager.EndSession).
func (w *Warm) pruneOldSessions(ctx context.Context) error {
	return w.db.Write(ctx, func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT session_id FROM warm_memory ORDER BY session_id DESC`)
		if err != nil {
			return err
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) <= MaxWarmSessions {
			return nil
		}
		for _, id := range ids[MaxWarmSessions:] {
			if _, err := tx.Exec(`DELETE FROM warm_memory WHERE session_id = ?`, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecentSummaries returns the most recent session summaries, newest first.
func (w *Warm) RecentSummaries(ctx context.Context, count int) ([]SessionSummary, error) {
	var out []SessionSummary
	err := w.db.Read(ctx, func(db *sql.DB) error {
		rows, err := db.Query(`SELECT session_id, started_at, ended_at, duration_seconds, features_started,
			features_completed, features_regressed, key_decisions, errors_encountered, errors_resolved,
			last_feature_worked, last_checkpoint_id, ending_state, patterns_discovered, warnings_for_next,
			tool_calls, escalations, human_interventions FROM warm_memory ORDER BY session_id DESC LIMIT ?`, count)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			s, err := scanSessionSummary(rows)
			if err != nil {
				return err
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	return out, err
}

// LastSessionSummary returns the most recently recorded session, or nil.
func (w *Warm) LastSessionSummary(ctx context.Context) (*SessionSummary, error) {
	found, err := w.RecentSummaries(ctx, 1)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return &found[0], nil
}

// AddUnresolvedIssue records an issue that persists beyond the current session.
func (w *Warm) AddUnresolvedIssue(ctx context.Context, issueType, description string, issueContext map[string]any, relatedFeatures []int, sessionID int64, priority int) (*UnresolvedIssue, error) {
	seq, err := w.nextIssueSeq(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	issue := &UnresolvedIssue{
		ID:               fmt.Sprintf("ISSUE-%d", seq),
		CreatedAt:        now,
		Type:             issueType,
		Description:      description,
		Context:          issueContext,
		RelatedFeatures:  relatedFeatures,
		RelatedFiles:     []string{},
		SessionsSeen:     []int64{sessionID},
		Priority:         priority,
		AttemptedSolutions: []map[string]any{},
		LastSeenSession:  sessionID,
		TimesEncountered: 1,
	}

	err = w.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO warm_memory_issues (
				issue_id, created_at, created_session, issue_type, description, priority,
				related_features, related_files, context, attempted_solutions, last_seen_session,
				times_encountered
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			issue.ID, issue.CreatedAt.Format(time.RFC3339), sessionID, issue.Type, issue.Description,
			issue.Priority, store.EncodeJSON(issue.RelatedFeatures), store.EncodeJSON(issue.RelatedFiles),
			store.EncodeJSON(issue.Context), store.EncodeJSON(issue.AttemptedSolutions), sessionID, 1,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("memory: record issue: %w", err)
	}
	return issue, nil
}

func (w *Warm) nextIssueSeq(ctx context.Context) (int, error) {
	var maxSeq int
	err := w.db.Read(ctx, func(db *sql.DB) error {
		rows, err := db.Query(`SELECT issue_id FROM warm_memory_issues`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			parts := strings.Split(id, "-")
			var seq int
			if _, err := fmt.Sscanf(parts[len(parts)-1], "%d", &seq); err == nil && seq > maxSeq {
				maxSeq = seq
			}
		}
		return rows.Err()
	})
	return maxSeq + 1, err
}

// UpdateIssue records another sighting, a note, or a resolution attempt
// against an existing issue.
func (w *Warm) UpdateIssue(ctx context.Context, issueID string, sessionID int64, resolutionAttempt map[string]any) error {
	return w.db.Write(ctx, func(tx *sql.Tx) error {
		var attemptsJSON string
		err := tx.QueryRow(`SELECT attempted_solutions FROM warm_memory_issues WHERE issue_id = ?`, issueID).Scan(&attemptsJSON)
		if err == sql.ErrNoRows {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		var attempts []map[string]any
		if err := store.DecodeJSON(attemptsJSON, &attempts); err != nil {
			return err
		}
		if resolutionAttempt != nil {
			attempts = append(attempts, resolutionAttempt)
		}
		_, err = tx.Exec(`UPDATE warm_memory_issues SET attempted_solutions = ?, last_seen_session = ?, times_encountered = times_encountered + 1 WHERE issue_id = ?`,
			store.EncodeJSON(attempts), sessionID, issueID)
		return err
	})
}

// ResolveIssue removes an issue once it no longer needs tracking.
func (w *Warm) ResolveIssue(ctx context.Context, issueID string) error {
	return w.db.Write(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM warm_memory_issues WHERE issue_id = ?`, issueID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// UnresolvedIssuesFilter restricts UnresolvedIssues to matching rows.
type UnresolvedIssuesFilter struct {
	Type         string
	PriorityMax  int
}

// UnresolvedIssues returns open issues, most important (lowest priority
// number) first.
func (w *Warm) UnresolvedIssues(ctx context.Context, filter UnresolvedIssuesFilter) ([]UnresolvedIssue, error) {
	query := `SELECT issue_id, created_at, created_session, issue_type, description, priority,
		related_features, related_files, context, attempted_solutions, last_seen_session,
		times_encountered FROM warm_memory_issues WHERE 1=1`
	var args []any
	if filter.Type != "" {
		query += ` AND issue_type = ?`
		args = append(args, filter.Type)
	}
	if filter.PriorityMax > 0 {
		query += ` AND priority <= ?`
		args = append(args, filter.PriorityMax)
	}

	var out []UnresolvedIssue
	err := w.db.Read(ctx, func(db *sql.DB) error {
		rows, err := db.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			issue, err := scanUnresolvedIssue(rows)
			if err != nil {
				return err
			}
			out = append(out, issue)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

// HighPriorityIssues returns critical and high priority issues (1-2).
func (w *Warm) HighPriorityIssues(ctx context.Context) ([]UnresolvedIssue, error) {
	return w.UnresolvedIssues(ctx, UnresolvedIssuesFilter{PriorityMax: 2})
}

// AddPattern records a new proven pattern.
func (w *Warm) AddPattern(ctx context.Context, patternType, problem, solution string, keywords []string, sessionID int64) (*ProvenPattern, error) {
	seq, err := w.nextPatternSeq(ctx)
	if err != nil {
		return nil, err
	}
	p := &ProvenPattern{
		ID:              fmt.Sprintf("PAT-%d", seq),
		CreatedAt:       time.Now().UTC(),
		Type:            patternType,
		Problem:         problem,
		Solution:        solution,
		ContextKeywords: keywords,
		SuccessCount:    1,
		Confidence:      0.5,
		SourceSessions:  []int64{sessionID},
	}
	err = w.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO warm_memory_patterns (
				pattern_id, created_at, created_session, pattern_type, pattern, context,
				success_count, confidence, context_keywords, source_sessions, last_used_session
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.CreatedAt.Format(time.RFC3339), sessionID, p.Type, p.Problem, p.Solution,
			p.SuccessCount, p.Confidence, store.EncodeJSON(p.ContextKeywords), store.EncodeJSON(p.SourceSessions), sessionID,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("memory: record pattern: %w", err)
	}
	return p, nil
}

func (w *Warm) nextPatternSeq(ctx context.Context) (int, error) {
	var maxSeq int
	err := w.db.Read(ctx, func(db *sql.DB) error {
		rows, err := db.Query(`SELECT pattern_id FROM warm_memory_patterns`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			parts := strings.Split(id, "-")
			var seq int
			if _, err := fmt.Sscanf(parts[len(parts)-1], "%d", &seq); err == nil && seq > maxSeq {
				maxSeq = seq
			}
		}
		return rows.Err()
	})
	return maxSeq + 1, err
}

// RecordPatternSuccess bumps a pattern's success count and raises its
// confidence, capped at 1.0, following min(1.0, 0.5 + successes*0.1).
func (w *Warm) RecordPatternSuccess(ctx context.Context, patternID string, sessionID int64) error {
	return w.db.Write(ctx, func(tx *sql.Tx) error {
		var successCount int
		var sourceJSON string
		err := tx.QueryRow(`SELECT success_count, source_sessions FROM warm_memory_patterns WHERE pattern_id = ?`, patternID).Scan(&successCount, &sourceJSON)
		if err == sql.ErrNoRows {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		var sources []int64
		if err := store.DecodeJSON(sourceJSON, &sources); err != nil {
			return err
		}
		successCount++
		confidence := 0.5 + float64(successCount)*0.1
		if confidence > 1.0 {
			confidence = 1.0
		}
		if !containsInt64(sources, sessionID) {
			sources = append(sources, sessionID)
		}
		_, err = tx.Exec(`UPDATE warm_memory_patterns SET success_count = ?, confidence = ?, source_sessions = ?, last_used_session = ? WHERE pattern_id = ?`,
			successCount, confidence, store.EncodeJSON(sources), sessionID, patternID)
		return err
	})
}

// FindPatterns scores patterns by keyword/text overlap with query, filtered
// to at least minConfidence, ranked by score * confidence descending.
func (w *Warm) FindPatterns(ctx context.Context, query string, minConfidence float64) ([]ProvenPattern, error) {
	all, err := w.allPatterns(ctx)
	if err != nil {
		return nil, err
	}
	queryLower := strings.ToLower(query)
	queryWords := strings.Fields(queryLower)

	type scored struct {
		pattern ProvenPattern
		score   float64
	}
	var matches []scored
	for _, p := range all {
		if p.Confidence < minConfidence {
			continue
		}
		text := strings.ToLower(p.Problem + " " + p.Solution)
		keywordSet := make(map[string]bool, len(p.ContextKeywords))
		for _, k := range p.ContextKeywords {
			keywordSet[strings.ToLower(k)] = true
		}
		var score float64
		if strings.Contains(text, queryLower) {
			score += 2
		}
		for _, word := range queryWords {
			if strings.Contains(text, word) {
				score++
			}
			if keywordSet[word] {
				score += 1.5
			}
		}
		if score > 0 {
			matches = append(matches, scored{p, score})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].score*matches[i].pattern.Confidence > matches[j].score*matches[j].pattern.Confidence
	})
	out := make([]ProvenPattern, len(matches))
	for i, m := range matches {
		out[i] = m.pattern
	}
	return out, nil
}

func (w *Warm) allPatterns(ctx context.Context) ([]ProvenPattern, error) {
	var out []ProvenPattern
	err := w.db.Read(ctx, func(db *sql.DB) error {
		rows, err := db.Query(`SELECT pattern_id, created_at, created_session, pattern_type, pattern, context,
			success_count, confidence, context_keywords, source_sessions, last_used_session FROM warm_memory_patterns`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanPattern(rows)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}

// ContinuityContext summarizes what a new session should know at startup.
type ContinuityContext struct {
	LastSession         *SessionSummary
	UnresolvedIssues    []UnresolvedIssue
	Warnings            []string
	SessionsInMemory    int
	PatternsAvailable   int
}

// GetContinuityContext assembles the cross-session briefing a new session
// consults at startup.
func (w *Warm) GetContinuityContext(ctx context.Context) (*ContinuityContext, error) {
	last, err := w.LastSessionSummary(ctx)
	if err != nil {
		return nil, err
	}
	issues, err := w.HighPriorityIssues(ctx)
	if err != nil {
		return nil, err
	}
	all, err := w.RecentSummaries(ctx, MaxWarmSessions)
	if err != nil {
		return nil, err
	}
	patterns, err := w.allPatterns(ctx)
	if err != nil {
		return nil, err
	}

	var warnings []string
	if last != nil {
		warnings = last.WarningsForNext
	}
	return &ContinuityContext{
		LastSession:       last,
		UnresolvedIssues:  issues,
		Warnings:          warnings,
		SessionsInMemory:  len(all),
		PatternsAvailable: len(patterns),
	}, nil
}

// ContextForPrompt renders warm memory as prompt-ready text.
func (w *Warm) ContextForPrompt(ctx context.Context) (string, error) {
	last, err := w.LastSessionSummary(ctx)
	if err != nil {
		return "", err
	}
	issues, err := w.HighPriorityIssues(ctx)
	if err != nil {
		return "", err
	}
	patterns, err := w.allPatterns(ctx)
	if err != nil {
		return "", err
	}

	var lines []string
	if last != nil {
		lines = append(lines, fmt.Sprintf("Last Session: #%d (%s)", last.SessionID, last.EndingState))
		if last.LastFeatureWorked != nil {
			lines = append(lines, fmt.Sprintf("  Last feature: #%d", *last.LastFeatureWorked))
		}
		if last.FeaturesCompleted > 0 {
			lines = append(lines, fmt.Sprintf("  Completed: %d features", last.FeaturesCompleted))
		}
		if len(last.WarningsForNext) > 0 {
			n := last.WarningsForNext
			if len(n) > 3 {
				n = n[:3]
			}
			lines = append(lines, fmt.Sprintf("  Warnings: %s", strings.Join(n, ", ")))
		}
	}
	if len(issues) > 0 {
		lines = append(lines, fmt.Sprintf("\nUnresolved Issues: %d high priority", len(issues)))
		for i, issue := range issues {
			if i >= 3 {
				break
			}
			desc := issue.Description
			if len(desc) > 50 {
				desc = desc[:50]
			}
			lines = append(lines, fmt.Sprintf("  - [%s] %s...", issue.Type, desc))
		}
	}
	if len(patterns) > 0 {
		lines = append(lines, fmt.Sprintf("\nKnown Patterns: %d available", len(patterns)))
	}
	if len(lines) == 0 {
		return "No previous session context.", nil
	}
	return strings.Join(lines, "\n"), nil
}

func containsInt64(list []int64, v int64) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func scanSessionSummary(row interface{ Scan(dest ...any) error }) (SessionSummary, error) {
	var s SessionSummary
	var startedAt, endedAt string
	var keyDecisionsJSON, errorsEncounteredJSON, errorsResolvedJSON, patternsJSON, warningsJSON string
	var lastFeature sql.NullInt64
	var lastCheckpoint sql.NullString

	err := row.Scan(&s.SessionID, &startedAt, &endedAt, &s.DurationSeconds, &s.FeaturesStarted,
		&s.FeaturesCompleted, &s.FeaturesRegressed, &keyDecisionsJSON, &errorsEncounteredJSON,
		&errorsResolvedJSON, &lastFeature, &lastCheckpoint, &s.EndingState, &patternsJSON,
		&warningsJSON, &s.ToolCalls, &s.Escalations, &s.HumanInterventions)
	if err != nil {
		return s, err
	}
	if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
		s.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339, endedAt); err == nil {
		s.EndedAt = t
	}
	if lastFeature.Valid {
		v := int(lastFeature.Int64)
		s.LastFeatureWorked = &v
	}
	s.LastCheckpointID = lastCheckpoint.String

	s.KeyDecisions = []map[string]any{}
	if err := store.DecodeJSON(keyDecisionsJSON, &s.KeyDecisions); err != nil {
		return s, err
	}
	s.ErrorsEncountered = []map[string]any{}
	if err := store.DecodeJSON(errorsEncounteredJSON, &s.ErrorsEncountered); err != nil {
		return s, err
	}
	s.ErrorsResolved = []map[string]any{}
	if err := store.DecodeJSON(errorsResolvedJSON, &s.ErrorsResolved); err != nil {
		return s, err
	}
	s.PatternsDiscovered = []string{}
	if err := store.DecodeJSON(patternsJSON, &s.PatternsDiscovered); err != nil {
		return s, err
	}
	s.WarningsForNext = []string{}
	if err := store.DecodeJSON(warningsJSON, &s.WarningsForNext); err != nil {
		return s, err
	}
	return s, nil
}

func scanUnresolvedIssue(row interface{ Scan(dest ...any) error }) (UnresolvedIssue, error) {
	var issue UnresolvedIssue
	var createdAt string
	var relatedFeaturesJSON, relatedFilesJSON, contextJSON, attemptsJSON string

	err := row.Scan(&issue.ID, &createdAt, &issue.LastSeenSession, &issue.Type, &issue.Description,
		&issue.Priority, &relatedFeaturesJSON, &relatedFilesJSON, &contextJSON, &attemptsJSON,
		&issue.LastSeenSession, &issue.TimesEncountered)
	if err != nil {
		return issue, err
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		issue.CreatedAt = t
	}
	issue.SessionsSeen = []int64{issue.LastSeenSession}

	issue.RelatedFeatures = []int{}
	if err := store.DecodeJSON(relatedFeaturesJSON, &issue.RelatedFeatures); err != nil {
		return issue, err
	}
	issue.RelatedFiles = []string{}
	if err := store.DecodeJSON(relatedFilesJSON, &issue.RelatedFiles); err != nil {
		return issue, err
	}
	issue.Context = map[string]any{}
	if err := store.DecodeJSON(contextJSON, &issue.Context); err != nil {
		return issue, err
	}
	issue.AttemptedSolutions = []map[string]any{}
	if err := store.DecodeJSON(attemptsJSON, &issue.AttemptedSolutions); err != nil {
		return issue, err
	}
	return issue, nil
}

func scanPattern(row interface{ Scan(dest ...any) error }) (ProvenPattern, error) {
	var p ProvenPattern
	var createdAt string
	var createdSession int64
	var keywordsJSON, sourceJSON string
	var lastUsed sql.NullInt64

	err := row.Scan(&p.ID, &createdAt, &createdSession, &p.Type, &p.Problem, &p.Solution,
		&p.SuccessCount, &p.Confidence, &keywordsJSON, &sourceJSON, &lastUsed)
	if err != nil {
		return p, err
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		p.CreatedAt = t
	}
	if lastUsed.Valid {
		v := lastUsed.Int64
		p.LastUsedSession = &v
	}
	p.ContextKeywords = []string{}
	if err := store.DecodeJSON(keywordsJSON, &p.ContextKeywords); err != nil {
		return p, err
	}
	p.SourceSessions = []int64{}
	if err := store.DecodeJSON(sourceJSON, &p.SourceSessions); err != nil {
		return p, err
	}
	return p, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
