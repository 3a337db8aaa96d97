// Package intervention implements the Intervention Learner (spec.md
// §4.11): it records human corrections to the agent's behavior, builds a
// context signature for each, and learns patterns that can eventually be
// auto-applied when a similar situation recurs.
package intervention

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/arcadiaforge/arcadiaforge/internal/store"
)

// Type names the kind of human intervention recorded.
type Type string

const (
	TypeCorrection         Type = "correction"
	TypeOverride           Type = "override"
	TypeGuidance           Type = "guidance"
	TypeApproval           Type = "approval"
	TypeRedirect           Type = "redirect"
	TypeEscalationResponse Type = "escalation_response"
)

// Signature captures the essential features of a situation for matching
// against future interventions, without exact details.
type Signature struct {
	Tool            string
	ActionType      string
	TriggerType     string
	ErrorPattern    string
	FeatureCategory string
	DecisionType    string
}

// Hash returns a stable short identifier for this signature.
func (s Signature) Hash() string {
	content := strings.Join([]string{s.Tool, s.ActionType, s.TriggerType, s.ErrorPattern, s.FeatureCategory, s.DecisionType}, "|")
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

// Similarity computes how alike two signatures are, from 0.0 to 1.0,
// averaged over every field either signature sets.
func (s Signature) Similarity(other Signature) float64 {
	var score, total float64

	compare := func(a, b string) {
		if a == "" && b == "" {
			return
		}
		total++
		if a == b {
			score++
		}
	}
	compare(s.Tool, other.Tool)
	compare(s.ActionType, other.ActionType)
	compare(s.TriggerType, other.TriggerType)

	if s.ErrorPattern != "" || other.ErrorPattern != "" {
		total++
		if s.ErrorPattern == other.ErrorPattern {
			score++
		} else if s.ErrorPattern != "" && other.ErrorPattern != "" &&
			(strings.Contains(other.ErrorPattern, s.ErrorPattern) || strings.Contains(s.ErrorPattern, other.ErrorPattern)) {
			score += 0.5
		}
	}
	compare(s.FeatureCategory, other.FeatureCategory)
	compare(s.DecisionType, other.DecisionType)

	if total == 0 {
		return 0
	}
	return score / total
}

var (
	pathPattern = regexp.MustCompile(`[/\\][\w./\\-]+\.\w+`)
	linePattern = regexp.MustCompile(`line \d+`)
	colPattern  = regexp.MustCompile(`:\d+:\d+`)
	sqVarQuoted = regexp.MustCompile(`'[^']+?'`)
	dqVarQuoted = regexp.MustCompile(`"[^"]+?"`)
	hexPattern  = regexp.MustCompile(`0x[0-9a-f]+`)
)

// NormalizeError turns a raw error message into a stable pattern by
// stripping file paths, line numbers, quoted values, and hex addresses.
func NormalizeError(message string) string {
	n := strings.ToLower(message)
	n = pathPattern.ReplaceAllString(n, "<path>")
	n = linePattern.ReplaceAllString(n, "line <n>")
	n = colPattern.ReplaceAllString(n, ":<n>:<n>")
	n = sqVarQuoted.ReplaceAllString(n, "'<var>'")
	n = dqVarQuoted.ReplaceAllString(n, `"<var>"`)
	n = hexPattern.ReplaceAllString(n, "<addr>")
	if len(n) > 100 {
		n = n[:100]
	}
	return n
}

// NewSignature builds a Signature, normalizing errorMessage if given.
func NewSignature(tool, actionType, triggerType, errorMessage, featureCategory, decisionType string) Signature {
	errorPattern := ""
	if errorMessage != "" {
		errorPattern = NormalizeError(errorMessage)
	}
	return Signature{
		Tool: tool, ActionType: actionType, TriggerType: triggerType,
		ErrorPattern: errorPattern, FeatureCategory: featureCategory, DecisionType: decisionType,
	}
}

// Intervention is a recorded human correction.
type Intervention struct {
	InterventionID     string
	SessionID          int64
	Timestamp          time.Time
	Type               Type
	ContextSignature   Signature
	ContextDetails     map[string]any
	OriginalAction     string
	OriginalRationale  string
	HumanAction        string
	HumanRationale     string
	OutcomeTracked     bool
	OutcomeSuccess     *bool
	OutcomeNotes       string
	PatternID          string
}

// Pattern is a learned recommendation derived from one or more interventions.
type Pattern struct {
	PatternID            string
	ContextSignature     Signature
	TimesMatched         int
	TimesApplied         int
	SuccessCount         int
	FailureCount         int
	RecommendedAction    string
	Rationale            string
	AutoApply            bool
	Confidence           float64
	MinConfidenceForAuto float64
	SourceInterventionIDs []string
	CreatedAt            time.Time
	LastMatched          *time.Time
}

func (p *Pattern) updateConfidence() {
	total := p.SuccessCount + p.FailureCount
	if total == 0 {
		p.Confidence = 0
	} else {
		p.Confidence = float64(p.SuccessCount) / float64(total)
	}
	if p.Confidence >= p.MinConfidenceForAuto && total >= 3 {
		p.AutoApply = true
	} else if p.Confidence < 0.5 || p.FailureCount > p.SuccessCount {
		p.AutoApply = false
	}
}

func (p *Pattern) recordMatch() {
	p.TimesMatched++
	now := time.Now().UTC()
	p.LastMatched = &now
}

func (p *Pattern) recordApplication(success bool) {
	p.TimesApplied++
	if success {
		p.SuccessCount++
	} else {
		p.FailureCount++
	}
	p.updateConfidence()
}

// MatchResult is one pattern match against a query signature.
type MatchResult struct {
	Pattern         Pattern
	Similarity      float64
	ShouldAutoApply bool
	Recommendation  string
	Rationale       string
}

const (
	defaultSimilarityThreshold = 0.7
	defaultAutoApplyThreshold  = 0.8
	autoApplySimilarityFloor   = 0.9
)

// Learner records interventions, learns patterns, and recommends actions
// for situations resembling a past correction.
type Learner struct {
	db        *store.Store
	patterns  []Pattern
	counter   int

	SimilarityThreshold float64
	AutoApplyThreshold  float64
}

// New loads patterns and the intervention counter from the database.
func New(ctx context.Context, db *store.Store) (*Learner, error) {
	l := &Learner{db: db, SimilarityThreshold: defaultSimilarityThreshold, AutoApplyThreshold: defaultAutoApplyThreshold}
	patterns, err := l.loadPatterns(ctx)
	if err != nil {
		return nil, err
	}
	l.patterns = patterns

	count, err := l.countInterventions(ctx)
	if err != nil {
		return nil, err
	}
	l.counter = count
	return l, nil
}

func (l *Learner) loadPatterns(ctx context.Context) ([]Pattern, error) {
	var out []Pattern
	err := l.db.Read(ctx, func(sqldb *sql.DB) error {
		rows, err := sqldb.Query(`SELECT pattern_id, created_at, context_signature, recommended_action,
			rationale, intervention_ids, times_matched, times_applied, success_count, failure_count,
			confidence, min_confidence_for_auto, auto_apply, last_matched FROM intervention_patterns`)
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

func scanPattern(row interface{ Scan(dest ...any) error }) (Pattern, error) {
	var p Pattern
	var createdAt string
	var sigJSON, idsJSON string
	var rationale, lastMatched sql.NullString
	var autoApply int
	err := row.Scan(&p.PatternID, &createdAt, &sigJSON, &p.RecommendedAction, &rationale, &idsJSON,
		&p.TimesMatched, &p.TimesApplied, &p.SuccessCount, &p.FailureCount, &p.Confidence,
		&p.MinConfidenceForAuto, &autoApply, &lastMatched)
	if err != nil {
		return p, err
	}
	p.AutoApply = autoApply != 0
	if rationale.Valid {
		p.Rationale = rationale.String
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		p.CreatedAt = t
	}
	if lastMatched.Valid {
		if t, err := time.Parse(time.RFC3339, lastMatched.String); err == nil {
			p.LastMatched = &t
		}
	}
	if err := store.DecodeJSON(sigJSON, &p.ContextSignature); err != nil {
		return p, err
	}
	if err := store.DecodeJSON(idsJSON, &p.SourceInterventionIDs); err != nil {
		return p, err
	}
	return p, nil
}

func (l *Learner) countInterventions(ctx context.Context) (int, error) {
	count := 0
	err := l.db.Read(ctx, func(sqldb *sql.DB) error {
		return sqldb.QueryRow(`SELECT COUNT(*) FROM interventions`).Scan(&count)
	})
	return count, err
}

func (l *Learner) savePattern(ctx context.Context, p Pattern) error {
	return l.db.Write(ctx, func(tx *sql.Tx) error {
		var lastMatched any
		if p.LastMatched != nil {
			lastMatched = p.LastMatched.Format(time.RFC3339)
		}
		_, err := tx.Exec(`
			INSERT INTO intervention_patterns (pattern_id, created_at, signature_hash, context_signature,
				recommended_action, rationale, intervention_ids, times_matched, times_applied,
				success_count, failure_count, confidence, min_confidence_for_auto, auto_apply, last_matched)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(pattern_id) DO UPDATE SET
				context_signature = excluded.context_signature, recommended_action = excluded.recommended_action,
				rationale = excluded.rationale, intervention_ids = excluded.intervention_ids,
				times_matched = excluded.times_matched, times_applied = excluded.times_applied,
				success_count = excluded.success_count, failure_count = excluded.failure_count,
				confidence = excluded.confidence, min_confidence_for_auto = excluded.min_confidence_for_auto,
				auto_apply = excluded.auto_apply, last_matched = excluded.last_matched`,
			p.PatternID, p.CreatedAt.Format(time.RFC3339), p.ContextSignature.Hash(), store.EncodeJSON(p.ContextSignature),
			p.RecommendedAction, nullStr(p.Rationale), store.EncodeJSON(p.SourceInterventionIDs), p.TimesMatched,
			p.TimesApplied, p.SuccessCount, p.FailureCount, p.Confidence, p.MinConfidenceForAuto,
			boolInt(p.AutoApply), lastMatched,
		)
		return err
	})
}

func (l *Learner) logIntervention(ctx context.Context, iv Intervention) error {
	return l.db.Write(ctx, func(tx *sql.Tx) error {
		var outcomeSuccess any
		if iv.OutcomeSuccess != nil {
			outcomeSuccess = boolInt(*iv.OutcomeSuccess)
		}
		_, err := tx.Exec(`
			INSERT INTO interventions (intervention_id, session_id, timestamp, type, context_signature,
				signature_hash, context_details, original_action, original_rationale, human_action,
				human_rationale, outcome_tracked, outcome_success, outcome_notes, pattern_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			iv.InterventionID, iv.SessionID, iv.Timestamp.Format(time.RFC3339), string(iv.Type),
			store.EncodeJSON(iv.ContextSignature), iv.ContextSignature.Hash(), store.EncodeJSON(iv.ContextDetails),
			nullStr(iv.OriginalAction), nullStr(iv.OriginalRationale), iv.HumanAction, nullStr(iv.HumanRationale),
			boolInt(iv.OutcomeTracked), outcomeSuccess, nullStr(iv.OutcomeNotes), nullStr(iv.PatternID),
		)
		return err
	})
}

// RecordIntervention records a human correction, logs it, and updates (or
// creates) the learned pattern it resembles.
func (l *Learner) RecordIntervention(ctx context.Context, sessionID int64, t Type, sig Signature, humanAction string, details map[string]any, originalAction, originalRationale, humanRationale string) (Intervention, error) {
	l.counter++
	iv := Intervention{
		InterventionID:    fmt.Sprintf("INT-%04d", l.counter),
		SessionID:         sessionID,
		Timestamp:         time.Now().UTC(),
		Type:              t,
		ContextSignature:  sig,
		ContextDetails:    details,
		OriginalAction:    originalAction,
		OriginalRationale: originalRationale,
		HumanAction:       humanAction,
		HumanRationale:    humanRationale,
	}
	if iv.ContextDetails == nil {
		iv.ContextDetails = map[string]any{}
	}

	if err := l.logIntervention(ctx, iv); err != nil {
		return iv, err
	}
	if err := l.updatePatterns(ctx, iv); err != nil {
		return iv, err
	}
	return iv, nil
}

func (l *Learner) updatePatterns(ctx context.Context, iv Intervention) error {
	var matching *Pattern
	bestSimilarity := 0.0
	for i := range l.patterns {
		sim := l.patterns[i].ContextSignature.Similarity(iv.ContextSignature)
		if sim >= l.SimilarityThreshold && sim > bestSimilarity {
			matching = &l.patterns[i]
			bestSimilarity = sim
		}
	}

	if matching != nil {
		matching.SourceInterventionIDs = append(matching.SourceInterventionIDs, iv.InterventionID)
		matching.recordMatch()
		if matching.RecommendedAction == iv.HumanAction {
			matching.recordApplication(true)
		}
		return l.savePattern(ctx, *matching)
	}

	pattern := Pattern{
		PatternID:             fmt.Sprintf("PAT-%04d", len(l.patterns)+1),
		ContextSignature:      iv.ContextSignature,
		RecommendedAction:     iv.HumanAction,
		Rationale:             iv.HumanRationale,
		SourceInterventionIDs: []string{iv.InterventionID},
		TimesMatched:          1,
		MinConfidenceForAuto:  defaultAutoApplyThreshold,
		CreatedAt:             time.Now().UTC(),
	}
	l.patterns = append(l.patterns, pattern)
	return l.savePattern(ctx, pattern)
}

// RecordOutcome records whether applying an intervention (or its matched
// pattern) led to success, feeding back into pattern confidence.
func (l *Learner) RecordOutcome(ctx context.Context, interventionID string, success bool, notes string) (bool, error) {
	found := false
	err := l.db.Write(ctx, func(tx *sql.Tx) error {
		var outcomeNotes any
		if notes != "" {
			outcomeNotes = notes
		}
		res, err := tx.Exec(`UPDATE interventions SET outcome_tracked = 1, outcome_success = ?, outcome_notes = ?
			WHERE intervention_id = ?`, boolInt(success), outcomeNotes, interventionID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		found = n > 0
		return nil
	})
	if err != nil || !found {
		return found, err
	}

	for i := range l.patterns {
		contains := false
		for _, id := range l.patterns[i].SourceInterventionIDs {
			if id == interventionID {
				contains = true
				break
			}
		}
		if contains {
			l.patterns[i].recordApplication(success)
			if err := l.savePattern(ctx, l.patterns[i]); err != nil {
				return true, err
			}
		}
	}
	return true, nil
}

// FindMatchingPatterns returns every pattern whose signature resembles sig
// by at least minSimilarity (or the learner's default), sorted by
// similarity descending. Each match bumps the pattern's match counter.
func (l *Learner) FindMatchingPatterns(ctx context.Context, sig Signature, minSimilarity *float64) ([]MatchResult, error) {
	threshold := l.SimilarityThreshold
	if minSimilarity != nil {
		threshold = *minSimilarity
	}

	var matches []MatchResult
	for i := range l.patterns {
		sim := l.patterns[i].ContextSignature.Similarity(sig)
		if sim < threshold {
			continue
		}
		l.patterns[i].recordMatch()
		shouldAuto := l.patterns[i].AutoApply && l.patterns[i].Confidence >= l.AutoApplyThreshold && sim >= autoApplySimilarityFloor
		matches = append(matches, MatchResult{
			Pattern: l.patterns[i], Similarity: sim, ShouldAutoApply: shouldAuto,
			Recommendation: l.patterns[i].RecommendedAction, Rationale: l.patterns[i].Rationale,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })

	for i := range l.patterns {
		if err := l.savePattern(ctx, l.patterns[i]); err != nil {
			return matches, err
		}
	}
	return matches, nil
}

// GetRecommendation returns the best matching pattern for sig, if any.
func (l *Learner) GetRecommendation(ctx context.Context, sig Signature) (*MatchResult, error) {
	matches, err := l.FindMatchingPatterns(ctx, sig, nil)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return &matches[0], nil
}

// ShouldAutoApply returns the first match flagged for auto-application, if any.
func (l *Learner) ShouldAutoApply(ctx context.Context, sig Signature) (*MatchResult, error) {
	matches, err := l.FindMatchingPatterns(ctx, sig, nil)
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		if m.ShouldAutoApply {
			return &m, nil
		}
	}
	return nil, nil
}

// InterventionFilter restricts Interventions to matching rows.
type InterventionFilter struct {
	SessionID *int64
	Type      Type
	Limit     int
}

// Interventions returns recorded interventions, newest first.
func (l *Learner) Interventions(ctx context.Context, filter InterventionFilter) ([]Intervention, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT intervention_id, session_id, timestamp, type, context_signature, context_details,
		original_action, original_rationale, human_action, human_rationale, outcome_tracked,
		outcome_success, outcome_notes, pattern_id FROM interventions WHERE 1=1`
	var args []any
	if filter.SessionID != nil {
		query += ` AND session_id = ?`
		args = append(args, *filter.SessionID)
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	var out []Intervention
	err := l.db.Read(ctx, func(sqldb *sql.DB) error {
		rows, err := sqldb.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			iv, err := scanIntervention(rows)
			if err != nil {
				return err
			}
			out = append(out, iv)
		}
		return rows.Err()
	})
	return out, err
}

func scanIntervention(row interface{ Scan(dest ...any) error }) (Intervention, error) {
	var iv Intervention
	var timestamp, sigJSON, detailsJSON, typ string
	var originalAction, originalRationale, humanRationale, outcomeNotes, patternID sql.NullString
	var outcomeSuccess sql.NullInt64
	var outcomeTracked int

	err := row.Scan(&iv.InterventionID, &iv.SessionID, &timestamp, &typ, &sigJSON, &detailsJSON,
		&originalAction, &originalRationale, &iv.HumanAction, &humanRationale, &outcomeTracked,
		&outcomeSuccess, &outcomeNotes, &patternID)
	if err != nil {
		return iv, err
	}
	iv.Type = Type(typ)
	iv.OutcomeTracked = outcomeTracked != 0
	if t, err := time.Parse(time.RFC3339, timestamp); err == nil {
		iv.Timestamp = t
	}
	iv.OriginalAction = originalAction.String
	iv.OriginalRationale = originalRationale.String
	iv.HumanRationale = humanRationale.String
	iv.OutcomeNotes = outcomeNotes.String
	iv.PatternID = patternID.String
	if outcomeSuccess.Valid {
		b := outcomeSuccess.Int64 != 0
		iv.OutcomeSuccess = &b
	}
	if err := store.DecodeJSON(sigJSON, &iv.ContextSignature); err != nil {
		return iv, err
	}
	if err := store.DecodeJSON(detailsJSON, &iv.ContextDetails); err != nil {
		return iv, err
	}
	return iv, nil
}

// Patterns returns learned patterns, optionally filtered.
func (l *Learner) Patterns(autoApplyOnly bool, minConfidence *float64) []Pattern {
	var out []Pattern
	for _, p := range l.patterns {
		if autoApplyOnly && !p.AutoApply {
			continue
		}
		if minConfidence != nil && p.Confidence < *minConfidence {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Stats summarizes intervention learning activity.
type Stats struct {
	TotalInterventions  int
	ByType              map[string]int
	OutcomesTracked     int
	SuccessfulOutcomes  int
	OutcomeSuccessRate  float64
	TotalPatterns       int
	AutoApplyPatterns   int
	AvgPatternConfidence float64
}

// LearningStats aggregates recent interventions and pattern state.
func (l *Learner) LearningStats(ctx context.Context) (Stats, error) {
	interventions, err := l.Interventions(ctx, InterventionFilter{Limit: 1000})
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{ByType: map[string]int{}}
	withOutcome := 0
	successful := 0
	for _, iv := range interventions {
		stats.TotalInterventions++
		stats.ByType[string(iv.Type)]++
		if iv.OutcomeTracked {
			withOutcome++
			if iv.OutcomeSuccess != nil && *iv.OutcomeSuccess {
				successful++
			}
		}
	}
	stats.OutcomesTracked = withOutcome
	stats.SuccessfulOutcomes = successful
	if withOutcome > 0 {
		stats.OutcomeSuccessRate = float64(successful) / float64(withOutcome)
	}

	stats.TotalPatterns = len(l.patterns)
	confidenceSum := 0.0
	for _, p := range l.patterns {
		if p.AutoApply {
			stats.AutoApplyPatterns++
		}
		confidenceSum += p.Confidence
	}
	if len(l.patterns) > 0 {
		stats.AvgPatternConfidence = confidenceSum / float64(len(l.patterns))
	}
	return stats, nil
}

// FormatPattern renders a pattern for display.
func FormatPattern(p Pattern) string {
	autoApply := "No"
	if p.AutoApply {
		autoApply = "Yes"
	}
	lines := []string{
		fmt.Sprintf("Pattern: %s", p.PatternID),
		fmt.Sprintf("  Recommendation: %s", p.RecommendedAction),
		fmt.Sprintf("  Rationale: %s", orNone(p.Rationale)),
		fmt.Sprintf("  Confidence: %.0f%%", p.Confidence*100),
		fmt.Sprintf("  Times Applied: %d", p.TimesApplied),
		fmt.Sprintf("  Success Rate: %.0f%%", p.Confidence*100),
		fmt.Sprintf("  Auto-Apply: %s", autoApply),
		"  Context:",
	}
	if p.ContextSignature.Tool != "" {
		lines = append(lines, fmt.Sprintf("    Tool: %s", p.ContextSignature.Tool))
	}
	if p.ContextSignature.TriggerType != "" {
		lines = append(lines, fmt.Sprintf("    Trigger: %s", p.ContextSignature.TriggerType))
	}
	if p.ContextSignature.ErrorPattern != "" {
		lines = append(lines, fmt.Sprintf("    Error: %s", p.ContextSignature.ErrorPattern))
	}
	return strings.Join(lines, "\n")
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// ResetLearning clears all learned patterns, keeping intervention history intact.
func (l *Learner) ResetLearning(ctx context.Context) error {
	l.patterns = nil
	return l.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM intervention_patterns`)
		return err
	})
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
