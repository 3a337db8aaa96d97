package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/arcadiaforge/arcadiaforge/internal/store"
)

// ArchivedSession is a minimal, append-only historical record of a session
// no longer kept in warm memory.
type ArchivedSession struct {
	SessionID         int64
	StartedAt         time.Time
	EndedAt           time.Time
	EndingState       string
	FeaturesCompleted int
	FeaturesRegressed int
	ErrorsCount       int
	DurationSeconds   float64
}

// KnowledgeEntry is a piece of proven knowledge extracted from history,
// surfaced again when its context keywords match a later session.
type KnowledgeEntry struct {
	ID              string
	CreatedAt       time.Time
	Type            string
	Title           string
	Description     string
	ContextKeywords []string
	SourceSessions  []int64
	TimesVerified   int
	Confidence      float64
	LastUsed        *time.Time
}

// AggregateStatistics summarizes every archived session.
type AggregateStatistics struct {
	TotalSessions           int
	TotalFeaturesCompleted  int
	TotalFeaturesRegressed  int
	TotalErrors             int
	TotalDurationSeconds    float64
	SuccessfulSessions      int
	FailedSessions          int
	AvgSessionDuration      float64
	AvgFeaturesPerSession   float64
}

// Cold manages archived (append-only) historical data.
type Cold struct {
	db *store.Store
}

// NewCold wraps a persistence Store.
func NewCold(db *store.Store) *Cold {
	return &Cold{db: db}
}

// ArchiveSession appends a session's minimal historical record. Cold memory
// is append-only: archiving the same session ID twice replaces the row
// rather than erroring, since a crash-and-resume may archive it again.
func (c *Cold) ArchiveSession(ctx context.Context, s ArchivedSession) error {
	return c.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO cold_memory (session_id, started_at, ended_at, ending_state,
				features_completed, features_regressed, errors_count, duration_seconds)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				started_at = excluded.started_at, ended_at = excluded.ended_at,
				ending_state = excluded.ending_state, features_completed = excluded.features_completed,
				features_regressed = excluded.features_regressed, errors_count = excluded.errors_count,
				duration_seconds = excluded.duration_seconds`,
			s.SessionID, s.StartedAt.Format(time.RFC3339), s.EndedAt.Format(time.RFC3339), s.EndingState,
			s.FeaturesCompleted, s.FeaturesRegressed, s.ErrorsCount, s.DurationSeconds,
		)
		return err
	})
}

// Session returns one archived session by ID.
func (c *Cold) Session(ctx context.Context, sessionID int64) (*ArchivedSession, error) {
	var s *ArchivedSession
	err := c.db.Read(ctx, func(db *sql.DB) error {
		row := db.QueryRow(`SELECT session_id, started_at, ended_at, ending_state, features_completed,
			features_regressed, errors_count, duration_seconds FROM cold_memory WHERE session_id = ?`, sessionID)
		var v ArchivedSession
		var startedAt, endedAt string
		err := row.Scan(&v.SessionID, &startedAt, &endedAt, &v.EndingState, &v.FeaturesCompleted,
			&v.FeaturesRegressed, &v.ErrorsCount, &v.DurationSeconds)
		if err == sql.ErrNoRows {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
			v.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339, endedAt); err == nil {
			v.EndedAt = t
		}
		s = &v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ArchivedSessions returns every archived session, oldest first.
func (c *Cold) ArchivedSessions(ctx context.Context) ([]ArchivedSession, error) {
	var out []ArchivedSession
	err := c.db.Read(ctx, func(db *sql.DB) error {
		rows, err := db.Query(`SELECT session_id, started_at, ended_at, ending_state, features_completed,
			features_regressed, errors_count, duration_seconds FROM cold_memory ORDER BY session_id ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var v ArchivedSession
			var startedAt, endedAt string
			if err := rows.Scan(&v.SessionID, &startedAt, &endedAt, &v.EndingState, &v.FeaturesCompleted,
				&v.FeaturesRegressed, &v.ErrorsCount, &v.DurationSeconds); err != nil {
				return err
			}
			if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
				v.StartedAt = t
			}
			if t, err := time.Parse(time.RFC3339, endedAt); err == nil {
				v.EndedAt = t
			}
			out = append(out, v)
		}
		return rows.Err()
	})
	return out, err
}

// AddKnowledge records a new piece of verified knowledge.
func (c *Cold) AddKnowledge(ctx context.Context, knowledgeType, title, description string, keywords []string, sessionID int64) (*KnowledgeEntry, error) {
	seq, err := c.nextKnowledgeSeq(ctx)
	if err != nil {
		return nil, err
	}
	k := &KnowledgeEntry{
		ID:              fmt.Sprintf("KNOW-%d", seq),
		CreatedAt:       time.Now().UTC(),
		Type:            knowledgeType,
		Title:           title,
		Description:     description,
		ContextKeywords: keywords,
		SourceSessions:  []int64{sessionID},
		TimesVerified:   1,
		Confidence:      0.5,
	}
	err = c.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO cold_memory_knowledge (knowledge_id, created_at, knowledge_type, title,
				description, context_keywords, source_sessions, times_verified, confidence)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			k.ID, k.CreatedAt.Format(time.RFC3339), k.Type, k.Title, k.Description,
			store.EncodeJSON(k.ContextKeywords), store.EncodeJSON(k.SourceSessions), k.TimesVerified, k.Confidence,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("memory: record knowledge: %w", err)
	}
	return k, nil
}

func (c *Cold) nextKnowledgeSeq(ctx context.Context) (int, error) {
	var maxSeq int
	err := c.db.Read(ctx, func(db *sql.DB) error {
		rows, err := db.Query(`SELECT knowledge_id FROM cold_memory_knowledge`)
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

// VerifyKnowledge bumps a knowledge entry's verification count and marks it
// as just-used.
func (c *Cold) VerifyKnowledge(ctx context.Context, knowledgeID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return c.db.Write(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE cold_memory_knowledge SET times_verified = times_verified + 1,
			confidence = MIN(1.0, confidence + 0.05), last_used = ? WHERE knowledge_id = ?`, now, knowledgeID)
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

// SearchKnowledge returns knowledge entries whose keywords, title, or
// description mention the query, most-verified first.
func (c *Cold) SearchKnowledge(ctx context.Context, query string, limit int) ([]KnowledgeEntry, error) {
	all, err := c.allKnowledge(ctx)
	if err != nil {
		return nil, err
	}
	queryLower := strings.ToLower(query)
	var out []KnowledgeEntry
	for _, k := range all {
		text := strings.ToLower(k.Title + " " + k.Description)
		matched := strings.Contains(text, queryLower)
		if !matched {
			for _, kw := range k.ContextKeywords {
				if strings.Contains(strings.ToLower(kw), queryLower) {
					matched = true
					break
				}
			}
		}
		if matched {
			out = append(out, k)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// HighConfidenceKnowledge returns entries at or above a confidence threshold.
func (c *Cold) HighConfidenceKnowledge(ctx context.Context, minConfidence float64) ([]KnowledgeEntry, error) {
	all, err := c.allKnowledge(ctx)
	if err != nil {
		return nil, err
	}
	var out []KnowledgeEntry
	for _, k := range all {
		if k.Confidence >= minConfidence {
			out = append(out, k)
		}
	}
	return out, nil
}

func (c *Cold) allKnowledge(ctx context.Context) ([]KnowledgeEntry, error) {
	var out []KnowledgeEntry
	err := c.db.Read(ctx, func(db *sql.DB) error {
		rows, err := db.Query(`SELECT knowledge_id, created_at, knowledge_type, title, description,
			context_keywords, source_sessions, times_verified, confidence, last_used
			FROM cold_memory_knowledge ORDER BY times_verified DESC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			k, err := scanKnowledge(rows)
			if err != nil {
				return err
			}
			out = append(out, k)
		}
		return rows.Err()
	})
	return out, err
}

// Statistics computes aggregate statistics across every archived session.
func (c *Cold) Statistics(ctx context.Context) (AggregateStatistics, error) {
	sessions, err := c.ArchivedSessions(ctx)
	if err != nil {
		return AggregateStatistics{}, err
	}
	var stats AggregateStatistics
	for _, s := range sessions {
		stats.TotalSessions++
		stats.TotalFeaturesCompleted += s.FeaturesCompleted
		stats.TotalFeaturesRegressed += s.FeaturesRegressed
		stats.TotalErrors += s.ErrorsCount
		stats.TotalDurationSeconds += s.DurationSeconds
		switch s.EndingState {
		case "completed":
			stats.SuccessfulSessions++
		case "failed", "error":
			stats.FailedSessions++
		}
	}
	if stats.TotalSessions > 0 {
		stats.AvgSessionDuration = stats.TotalDurationSeconds / float64(stats.TotalSessions)
		stats.AvgFeaturesPerSession = float64(stats.TotalFeaturesCompleted) / float64(stats.TotalSessions)
	}
	return stats, nil
}

// SuccessRate is the fraction of archived sessions that ended "completed".
func (c *Cold) SuccessRate(ctx context.Context) (float64, error) {
	stats, err := c.Statistics(ctx)
	if err != nil {
		return 0, err
	}
	if stats.TotalSessions == 0 {
		return 0, nil
	}
	return float64(stats.SuccessfulSessions) / float64(stats.TotalSessions), nil
}

// ContextForPrompt renders the most-verified knowledge entries as
// prompt-ready text.
func (c *Cold) ContextForPrompt(ctx context.Context) (string, error) {
	entries, err := c.allKnowledge(ctx)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "No historical data available.", nil
	}
	lines := []string{"COLD MEMORY", strings.Repeat("-", 40)}
	for i, k := range entries {
		if i >= 3 {
			break
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", k.ID, k.Type, k.Title))
	}
	return strings.Join(lines, "\n"), nil
}

func scanKnowledge(row interface{ Scan(dest ...any) error }) (KnowledgeEntry, error) {
	var k KnowledgeEntry
	var createdAt string
	var keywordsJSON, sourceJSON string
	var lastUsed sql.NullString

	err := row.Scan(&k.ID, &createdAt, &k.Type, &k.Title, &k.Description, &keywordsJSON,
		&sourceJSON, &k.TimesVerified, &k.Confidence, &lastUsed)
	if err != nil {
		return k, err
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		k.CreatedAt = t
	}
	if lastUsed.Valid {
		if t, err := time.Parse(time.RFC3339, lastUsed.String); err == nil {
			k.LastUsed = &t
		}
	}
	k.ContextKeywords = []string{}
	if err := store.DecodeJSON(keywordsJSON, &k.ContextKeywords); err != nil {
		return k, err
	}
	k.SourceSessions = []int64{}
	if err := store.DecodeJSON(sourceJSON, &k.SourceSessions); err != nil {
		return k, err
	}
	return k, nil
}
