// Package hypothesis is the Hypothesis Tracker (spec.md §4.6): observations
// and working theories that may matter later, tracked across sessions with
// accumulating evidence until they are confirmed, rejected, or superseded.
package hypothesis

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/arcadiaforge/arcadiaforge/internal/ids"
	"github.com/arcadiaforge/arcadiaforge/internal/store"
)

// Type classifies what kind of hypothesis this is.
type Type string

const (
	TypeRootCause     Type = "root_cause"
	TypeSideEffect    Type = "side_effect"
	TypeDependency    Type = "dependency"
	TypePerformance   Type = "performance"
	TypeCompatibility Type = "compatibility"
	TypeDesign        Type = "design"
	TypeObservation   Type = "observation"
)

// Status is the lifecycle state of a hypothesis.
type Status string

const (
	StatusOpen       Status = "open"
	StatusConfirmed  Status = "confirmed"
	StatusRejected   Status = "rejected"
	StatusIrrelevant Status = "irrelevant"
	StatusSuperseded Status = "superseded"
)

// Evidence is a single observation supporting or refuting a hypothesis.
type Evidence struct {
	AddedAt     time.Time
	SessionID   int64
	Description string
	Supports    bool
	Source      string
	Confidence  float64
}

// Hypothesis is an observation or working theory tracked across sessions.
type Hypothesis struct {
	ID             string
	CreatedAt      time.Time
	CreatedSession int64
	Type           Type
	Observation    string
	Hypothesis     string
	Confidence     float64
	Status         Status

	ContextKeywords []string
	RelatedFeatures []int
	RelatedErrors   []string
	RelatedFiles    []string

	EvidenceFor     []Evidence
	EvidenceAgainst []Evidence

	ResolvedAt   *time.Time
	Resolution   string
	SupersededBy string

	ReviewCount  int
	SessionsSeen []int64
}

// IsOpen reports whether the hypothesis is still being investigated.
func (h *Hypothesis) IsOpen() bool {
	return h.Status == StatusOpen
}

// IsResolved reports whether the hypothesis has reached a terminal status.
func (h *Hypothesis) IsResolved() bool {
	switch h.Status {
	case StatusConfirmed, StatusRejected, StatusIrrelevant, StatusSuperseded:
		return true
	default:
		return false
	}
}

// EvidenceBalance is positive when evidence leans toward confirmation,
// negative toward rejection, and zero when no evidence exists or it
// is exactly balanced.
func (h *Hypothesis) EvidenceBalance() float64 {
	var forWeight, againstWeight float64
	for _, e := range h.EvidenceFor {
		forWeight += e.Confidence
	}
	for _, e := range h.EvidenceAgainst {
		againstWeight += e.Confidence
	}
	total := forWeight + againstWeight
	if total == 0 {
		return 0
	}
	return (forWeight - againstWeight) / total
}

// Tracker manages hypothesis tracking for a project.
type Tracker struct {
	db *store.Store
}

// New wraps a persistence Store.
func New(db *store.Store) *Tracker {
	return &Tracker{db: db}
}

// AddInput describes a new hypothesis to record.
type AddInput struct {
	SessionID       int64
	Type            Type
	Observation     string
	Hypothesis      string
	Confidence      float64
	ContextKeywords []string
	RelatedFeatures []int
	RelatedErrors   []string
	RelatedFiles    []string
}

// Add records a new open hypothesis.
func (t *Tracker) Add(ctx context.Context, in AddInput) (*Hypothesis, error) {
	seq, err := t.db.NextSeq(ctx, ids.Hypothesis)
	if err != nil {
		return nil, fmt.Errorf("hypothesis: allocate id: %w", err)
	}

	confidence := in.Confidence
	if confidence <= 0 {
		confidence = 0.5
	}
	if confidence > 1 {
		confidence = 1
	}

	h := &Hypothesis{
		ID:              ids.New(ids.Hypothesis, in.SessionID, seq),
		CreatedAt:       time.Now().UTC(),
		CreatedSession:  in.SessionID,
		Type:            in.Type,
		Observation:     in.Observation,
		Hypothesis:      in.Hypothesis,
		Confidence:      confidence,
		Status:          StatusOpen,
		ContextKeywords: in.ContextKeywords,
		RelatedFeatures: in.RelatedFeatures,
		RelatedErrors:   in.RelatedErrors,
		RelatedFiles:    in.RelatedFiles,
		EvidenceFor:     []Evidence{},
		EvidenceAgainst: []Evidence{},
		SessionsSeen:    []int64{in.SessionID},
	}

	err = t.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO hypotheses (
				hypothesis_id, created_at, created_session, type, observation, hypothesis,
				confidence, status, context_keywords, related_features, related_errors,
				related_files, evidence_for, evidence_against, review_count, sessions_seen
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			h.ID, h.CreatedAt.Format(time.RFC3339), h.CreatedSession, string(h.Type),
			h.Observation, h.Hypothesis, h.Confidence, string(h.Status),
			store.EncodeJSON(h.ContextKeywords), store.EncodeJSON(h.RelatedFeatures),
			store.EncodeJSON(h.RelatedErrors), store.EncodeJSON(h.RelatedFiles),
			store.EncodeJSON(h.EvidenceFor), store.EncodeJSON(h.EvidenceAgainst),
			h.ReviewCount, store.EncodeJSON(h.SessionsSeen),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("hypothesis: record: %w", err)
	}
	return h, nil
}

// ErrResolved is returned by AddEvidence when the hypothesis is no longer open.
var ErrResolved = fmt.Errorf("hypothesis: already resolved")

// AddEvidence appends a piece of evidence for or against a hypothesis and,
// if the hypothesis's sessions_seen list doesn't already include sessionID,
// records that this session saw it again. Evidence for a hypothesis that is
// no longer open is rejected with ErrResolved.
func (t *Tracker) AddEvidence(ctx context.Context, id string, sessionID int64, description string, supports bool, source string, confidence float64) error {
	if confidence <= 0 {
		confidence = 0.5
	}
	if confidence > 1 {
		confidence = 1
	}
	evidence := Evidence{
		AddedAt:     time.Now().UTC(),
		SessionID:   sessionID,
		Description: description,
		Supports:    supports,
		Source:      source,
		Confidence:  confidence,
	}

	return t.db.Write(ctx, func(tx *sql.Tx) error {
		h, err := scanHypothesisTx(tx, id)
		if err != nil {
			return err
		}
		if h.Status != StatusOpen {
			return ErrResolved
		}
		if supports {
			h.EvidenceFor = append(h.EvidenceFor, evidence)
		} else {
			h.EvidenceAgainst = append(h.EvidenceAgainst, evidence)
		}
		if !containsSession(h.SessionsSeen, sessionID) {
			h.SessionsSeen = append(h.SessionsSeen, sessionID)
		}

		_, err = tx.Exec(`UPDATE hypotheses SET evidence_for = ?, evidence_against = ?, sessions_seen = ? WHERE hypothesis_id = ?`,
			store.EncodeJSON(h.EvidenceFor), store.EncodeJSON(h.EvidenceAgainst), store.EncodeJSON(h.SessionsSeen), id)
		return err
	})
}

// Resolve closes a hypothesis with a terminal status and resolution note.
// supersededBy, when set, names the hypothesis that replaces this one.
func (t *Tracker) Resolve(ctx context.Context, id string, status Status, resolution string, supersededBy string) error {
	now := time.Now().UTC()
	return t.db.Write(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE hypotheses SET status = ?, resolution = ?, resolved_at = ?, superseded_by = ? WHERE hypothesis_id = ?`,
			string(status), nullStr(resolution), now.Format(time.RFC3339), nullStr(supersededBy), id)
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

// MarkReviewed increments the review count, used when a session revisits an
// open hypothesis at session start without adding new evidence.
func (t *Tracker) MarkReviewed(ctx context.Context, id string) error {
	return t.db.Write(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE hypotheses SET review_count = review_count + 1 WHERE hypothesis_id = ?`, id)
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

// Get returns a hypothesis by ID.
func (t *Tracker) Get(ctx context.Context, id string) (*Hypothesis, error) {
	var h *Hypothesis
	err := t.db.Read(ctx, func(db *sql.DB) error {
		row := db.QueryRow(hypothesisSelect+` WHERE hypothesis_id = ?`, id)
		var err error
		h, err = scanHypothesis(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// ListFilter restricts List to hypotheses matching the non-zero fields.
type ListFilter struct {
	Status         Status
	Type           Type
	CreatedSession *int64
}

// List returns hypotheses matching the filter, most recently created first.
func (t *Tracker) List(ctx context.Context, filter ListFilter) ([]*Hypothesis, error) {
	query := hypothesisSelect + ` WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.CreatedSession != nil {
		query += ` AND created_session = ?`
		args = append(args, *filter.CreatedSession)
	}
	query += ` ORDER BY created_at DESC`

	var out []*Hypothesis
	err := t.db.Read(ctx, func(db *sql.DB) error {
		rows, err := db.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			h, err := scanHypothesis(rows)
			if err != nil {
				return err
			}
			out = append(out, h)
		}
		return rows.Err()
	})
	return out, err
}

// Open returns every hypothesis still under investigation, the set a
// session should review at startup.
func (t *Tracker) Open(ctx context.Context) ([]*Hypothesis, error) {
	return t.List(ctx, ListFilter{Status: StatusOpen})
}

// ForFeature returns open hypotheses naming the given feature index among
// their related features, mirroring the way related-features membership is
// resolved for decisions: stored as a JSON list, so filtered client-side
// rather than in SQL.
func (t *Tracker) ForFeature(ctx context.Context, featureIndex int) ([]*Hypothesis, error) {
	all, err := t.Open(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Hypothesis
	for _, h := range all {
		for _, idx := range h.RelatedFeatures {
			if idx == featureIndex {
				out = append(out, h)
				break
			}
		}
	}
	return out, nil
}

// MatchKeywords returns open hypotheses whose context_keywords intersect
// the given keywords, used to auto-flag a hypothesis when relevant context
// reappears in a later session.
func (t *Tracker) MatchKeywords(ctx context.Context, keywords []string) ([]*Hypothesis, error) {
	all, err := t.Open(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		want[k] = true
	}
	var out []*Hypothesis
	for _, h := range all {
		for _, k := range h.ContextKeywords {
			if want[k] {
				out = append(out, h)
				break
			}
		}
	}
	return out, nil
}

func containsSession(seen []int64, sessionID int64) bool {
	for _, s := range seen {
		if s == sessionID {
			return true
		}
	}
	return false
}

const hypothesisSelect = `SELECT hypothesis_id, created_at, created_session, type, observation, hypothesis,
	confidence, status, context_keywords, related_features, related_errors, related_files,
	evidence_for, evidence_against, resolved_at, resolution, superseded_by, review_count,
	sessions_seen FROM hypotheses`

type scanner interface {
	Scan(dest ...any) error
}

func scanHypothesis(row scanner) (*Hypothesis, error) {
	var h Hypothesis
	var createdAt, typ, status string
	var contextKeywordsJSON, relatedFeaturesJSON, relatedErrorsJSON, relatedFilesJSON string
	var evidenceForJSON, evidenceAgainstJSON, sessionsSeenJSON string
	var resolvedAt, resolution, supersededBy sql.NullString

	err := row.Scan(&h.ID, &createdAt, &h.CreatedSession, &typ, &h.Observation, &h.Hypothesis,
		&h.Confidence, &status, &contextKeywordsJSON, &relatedFeaturesJSON, &relatedErrorsJSON,
		&relatedFilesJSON, &evidenceForJSON, &evidenceAgainstJSON, &resolvedAt, &resolution,
		&supersededBy, &h.ReviewCount, &sessionsSeenJSON)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	h.Type = Type(typ)
	h.Status = Status(status)
	h.Resolution = resolution.String
	h.SupersededBy = supersededBy.String
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		h.CreatedAt = t
	}
	if resolvedAt.Valid {
		if t, err := time.Parse(time.RFC3339, resolvedAt.String); err == nil {
			h.ResolvedAt = &t
		}
	}

	h.ContextKeywords = []string{}
	if err := store.DecodeJSON(contextKeywordsJSON, &h.ContextKeywords); err != nil {
		return nil, err
	}
	h.RelatedFeatures = []int{}
	if err := store.DecodeJSON(relatedFeaturesJSON, &h.RelatedFeatures); err != nil {
		return nil, err
	}
	h.RelatedErrors = []string{}
	if err := store.DecodeJSON(relatedErrorsJSON, &h.RelatedErrors); err != nil {
		return nil, err
	}
	h.RelatedFiles = []string{}
	if err := store.DecodeJSON(relatedFilesJSON, &h.RelatedFiles); err != nil {
		return nil, err
	}
	h.EvidenceFor = []Evidence{}
	if err := store.DecodeJSON(evidenceForJSON, &h.EvidenceFor); err != nil {
		return nil, err
	}
	h.EvidenceAgainst = []Evidence{}
	if err := store.DecodeJSON(evidenceAgainstJSON, &h.EvidenceAgainst); err != nil {
		return nil, err
	}
	h.SessionsSeen = []int64{}
	if err := store.DecodeJSON(sessionsSeenJSON, &h.SessionsSeen); err != nil {
		return nil, err
	}
	return &h, nil
}

// scanHypothesisTx reads a hypothesis inside a write transaction, used by
// AddEvidence to read-modify-write the evidence lists atomically.
func scanHypothesisTx(tx *sql.Tx, id string) (*Hypothesis, error) {
	row := tx.QueryRow(hypothesisSelect+` WHERE hypothesis_id = ?`, id)
	return scanHypothesis(row)
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
