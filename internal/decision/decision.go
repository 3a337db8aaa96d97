// Package decision is the Decision Logger (spec.md §4.5): an immutable
// record of agent reasoning, enabling traceability from a feature back to
// the decisions that shaped it, learning from outcomes, and escalation of
// low-confidence choices.
package decision

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/arcadiaforge/arcadiaforge/internal/ids"
	"github.com/arcadiaforge/arcadiaforge/internal/store"
)

// Type classifies why a decision was made.
type Type string

const (
	TypeFeatureSelection       Type = "feature_selection"
	TypeImplementationApproach Type = "implementation_approach"
	TypeBugFixStrategy         Type = "bug_fix_strategy"
	TypeSkipFeature            Type = "skip_feature"
	TypeToolChoice             Type = "tool_choice"
	TypeErrorHandling          Type = "error_handling"
	TypeArchitecture           Type = "architecture"
	TypeDependency             Type = "dependency"
	TypeRefactor               Type = "refactor"
	TypeTestStrategy           Type = "test_strategy"
	TypeEscalation             Type = "escalation"
)

// Decision is one logged, immutable act of reasoning. Only the Outcome
// fields are ever updated after creation.
type Decision struct {
	ID        string
	Timestamp time.Time
	SessionID int64

	Type         Type
	Context      string
	Choice       string
	Alternatives []string

	Rationale       string
	Confidence      float64 // clamped 0.0-1.0
	InputsConsulted []string

	Outcome          string
	OutcomeSuccess   *bool
	OutcomeTimestamp *time.Time

	RelatedFeatures []int
	GitCommit       string
	CheckpointID    string

	Metadata map[string]any
}

// IsLowConfidence reports whether this decision fell below the review
// threshold of 0.5.
func (d *Decision) IsLowConfidence() bool {
	return d.Confidence < 0.5
}

// NeedsReview reports whether this decision should be flagged for human
// review: low confidence, or an inherently reviewable decision type.
func (d *Decision) NeedsReview() bool {
	return d.IsLowConfidence() || d.Type == TypeSkipFeature || d.Type == TypeEscalation
}

// Stats summarizes a set of decisions.
type Stats struct {
	Total              int
	ByType             map[Type]int
	AvgConfidence      float64
	LowConfidenceCount int
	OutcomesRecorded   int
	SuccessCount       int
	SuccessRate        float64
}

// Logger records and queries decisions for a project.
type Logger struct {
	db *store.Store
}

// New wraps a persistence Store as a Decision Logger.
func New(db *store.Store) *Logger {
	return &Logger{db: db}
}

// LogInput is the set of fields a caller supplies when logging a decision;
// Outcome fields are always empty at log time.
type LogInput struct {
	SessionID       int64
	Type            Type
	Context         string
	Choice          string
	Alternatives    []string
	Rationale       string
	Confidence      float64
	InputsConsulted []string
	RelatedFeatures []int
	GitCommit       string
	CheckpointID    string
	Metadata        map[string]any
}

// Log records a new decision.
func (l *Logger) Log(ctx context.Context, in LogInput) (*Decision, error) {
	seq, err := l.db.NextSeq(ctx, ids.Decision)
	if err != nil {
		return nil, fmt.Errorf("decision: allocate id: %w", err)
	}

	confidence := in.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	metadata := in.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	d := &Decision{
		ID:              ids.New(ids.Decision, in.SessionID, seq),
		Timestamp:       time.Now().UTC(),
		SessionID:       in.SessionID,
		Type:            in.Type,
		Context:         in.Context,
		Choice:          in.Choice,
		Alternatives:    in.Alternatives,
		Rationale:       in.Rationale,
		Confidence:      confidence,
		InputsConsulted: in.InputsConsulted,
		RelatedFeatures: in.RelatedFeatures,
		GitCommit:       in.GitCommit,
		CheckpointID:    in.CheckpointID,
		Metadata:        metadata,
	}

	err = l.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO decisions (
				decision_id, timestamp, session_id, type, context, choice, alternatives,
				rationale, confidence, inputs_consulted, related_features, git_commit,
				checkpoint_id, metadata
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.Timestamp.Format(time.RFC3339), d.SessionID, string(d.Type), d.Context,
			d.Choice, store.EncodeJSON(d.Alternatives), d.Rationale, d.Confidence,
			store.EncodeJSON(d.InputsConsulted), store.EncodeJSON(d.RelatedFeatures),
			nullStr(d.GitCommit), nullStr(d.CheckpointID), store.EncodeJSON(d.Metadata),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("decision: record: %w", err)
	}
	return d, nil
}

// ErrOutcomeAlreadySet is returned by UpdateOutcome when the decision's
// outcome has already been recorded; the stored outcome is left unchanged.
var ErrOutcomeAlreadySet = fmt.Errorf("decision: outcome already recorded")

// UpdateOutcome fills in a decision's result after the fact. An outcome is
// recorded at most once: a later call changes nothing and returns
// ErrOutcomeAlreadySet.
func (l *Logger) UpdateOutcome(ctx context.Context, id string, success bool, outcome string) (*Decision, error) {
	now := time.Now().UTC()
	err := l.db.Write(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE decisions SET outcome = ?, outcome_success = ?, outcome_timestamp = ? WHERE decision_id = ? AND outcome_timestamp IS NULL`,
			outcome, boolToInt(success), now.Format(time.RFC3339), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			if err := tx.QueryRow(`SELECT COUNT(*) FROM decisions WHERE decision_id = ?`, id).Scan(&exists); err != nil {
				return err
			}
			if exists > 0 {
				return ErrOutcomeAlreadySet
			}
			return store.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return l.Get(ctx, id)
}

// Get returns a decision by ID.
func (l *Logger) Get(ctx context.Context, id string) (*Decision, error) {
	var d *Decision
	err := l.db.Read(ctx, func(db *sql.DB) error {
		row := db.QueryRow(decisionSelect+` WHERE decision_id = ?`, id)
		var err error
		d, err = scanDecision(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ForFeature returns every decision touching a feature, oldest first.
func (l *Logger) ForFeature(ctx context.Context, featureIndex int) ([]*Decision, error) {
	all, err := l.queryAll(ctx, `ORDER BY timestamp ASC`)
	if err != nil {
		return nil, err
	}
	var out []*Decision
	for _, d := range all {
		for _, f := range d.RelatedFeatures {
			if f == featureIndex {
				out = append(out, d)
				break
			}
		}
	}
	return out, nil
}

// ForSession returns every decision made in a session, oldest first.
func (l *Logger) ForSession(ctx context.Context, sessionID int64) ([]*Decision, error) {
	var out []*Decision
	err := l.db.Read(ctx, func(db *sql.DB) error {
		rows, err := db.Query(decisionSelect+` WHERE session_id = ? ORDER BY timestamp ASC`, sessionID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			d, err := scanDecision(rows)
			if err != nil {
				return err
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	return out, err
}

// LowConfidence returns decisions below threshold, ascending by confidence.
func (l *Logger) LowConfidence(ctx context.Context, sessionID *int64, threshold float64) ([]*Decision, error) {
	query := decisionSelect + ` WHERE confidence < ?`
	args := []any{threshold}
	if sessionID != nil {
		query += ` AND session_id = ?`
		args = append(args, *sessionID)
	}
	query += ` ORDER BY confidence ASC`

	var out []*Decision
	err := l.db.Read(ctx, func(db *sql.DB) error {
		rows, err := db.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			d, err := scanDecision(rows)
			if err != nil {
				return err
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	return out, err
}

// PendingOutcomes returns decisions with no recorded outcome yet.
func (l *Logger) PendingOutcomes(ctx context.Context, sessionID *int64) ([]*Decision, error) {
	query := decisionSelect + ` WHERE outcome IS NULL`
	var args []any
	if sessionID != nil {
		query += ` AND session_id = ?`
		args = append(args, *sessionID)
	}

	var out []*Decision
	err := l.db.Read(ctx, func(db *sql.DB) error {
		rows, err := db.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			d, err := scanDecision(rows)
			if err != nil {
				return err
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	return out, err
}

// ListRecent returns the most recent decisions, newest first.
func (l *Logger) ListRecent(ctx context.Context, limit int, sessionID *int64) ([]*Decision, error) {
	query := decisionSelect + ` WHERE 1=1`
	var args []any
	if sessionID != nil {
		query += ` AND session_id = ?`
		args = append(args, *sessionID)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	var out []*Decision
	err := l.db.Read(ctx, func(db *sql.DB) error {
		rows, err := db.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			d, err := scanDecision(rows)
			if err != nil {
				return err
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	return out, err
}

// Stats summarizes decisions, optionally scoped to one session.
func (l *Logger) Stats(ctx context.Context, sessionID *int64) (Stats, error) {
	var all []*Decision
	var err error
	if sessionID != nil {
		all, err = l.ForSession(ctx, *sessionID)
	} else {
		all, err = l.queryAll(ctx, ``)
	}
	if err != nil {
		return Stats{}, err
	}

	st := Stats{ByType: map[Type]int{}}
	st.Total = len(all)
	if st.Total == 0 {
		return st, nil
	}

	var confidenceSum float64
	var successes, outcomesRecorded int
	for _, d := range all {
		st.ByType[d.Type]++
		confidenceSum += d.Confidence
		if d.Confidence < 0.5 {
			st.LowConfidenceCount++
		}
		if d.Outcome != "" {
			outcomesRecorded++
			if d.OutcomeSuccess != nil && *d.OutcomeSuccess {
				successes++
			}
		}
	}
	st.AvgConfidence = confidenceSum / float64(st.Total)
	st.OutcomesRecorded = outcomesRecorded
	st.SuccessCount = successes
	if outcomesRecorded > 0 {
		st.SuccessRate = float64(successes) / float64(outcomesRecorded)
	}
	return st, nil
}

func (l *Logger) queryAll(ctx context.Context, suffix string) ([]*Decision, error) {
	var out []*Decision
	err := l.db.Read(ctx, func(db *sql.DB) error {
		rows, err := db.Query(decisionSelect + ` ` + suffix)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			d, err := scanDecision(rows)
			if err != nil {
				return err
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

const decisionSelect = `SELECT decision_id, timestamp, session_id, type, context, choice, alternatives,
	rationale, confidence, inputs_consulted, outcome, outcome_success, outcome_timestamp,
	related_features, git_commit, checkpoint_id, metadata FROM decisions`

type scanner interface {
	Scan(dest ...any) error
}

func scanDecision(row scanner) (*Decision, error) {
	var d Decision
	var typ, timestamp, alternativesJSON, inputsJSON, relatedFeaturesJSON, metadataJSON string
	var outcome, gitCommit, checkpointID sql.NullString
	var outcomeSuccess sql.NullBool
	var outcomeTimestamp sql.NullString

	err := row.Scan(&d.ID, &timestamp, &d.SessionID, &typ, &d.Context, &d.Choice, &alternativesJSON,
		&d.Rationale, &d.Confidence, &inputsJSON, &outcome, &outcomeSuccess, &outcomeTimestamp,
		&relatedFeaturesJSON, &gitCommit, &checkpointID, &metadataJSON)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	d.Type = Type(typ)
	d.Outcome = outcome.String
	d.GitCommit = gitCommit.String
	d.CheckpointID = checkpointID.String
	if outcomeSuccess.Valid {
		v := outcomeSuccess.Bool
		d.OutcomeSuccess = &v
	}
	if outcomeTimestamp.Valid {
		if t, err := time.Parse(time.RFC3339, outcomeTimestamp.String); err == nil {
			d.OutcomeTimestamp = &t
		}
	}
	if t, err := time.Parse(time.RFC3339, timestamp); err == nil {
		d.Timestamp = t
	}

	if err := store.DecodeJSON(alternativesJSON, &d.Alternatives); err != nil {
		return nil, err
	}
	if err := store.DecodeJSON(inputsJSON, &d.InputsConsulted); err != nil {
		return nil, err
	}
	if err := store.DecodeJSON(relatedFeaturesJSON, &d.RelatedFeatures); err != nil {
		return nil, err
	}
	d.Metadata = map[string]any{}
	if err := store.DecodeJSON(metadataJSON, &d.Metadata); err != nil {
		return nil, err
	}
	return &d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
