// Package memory implements the tiered memory system (spec.md §4.7): hot
// memory for the live session, warm memory for recent sessions, and cold
// memory for the archived long tail, plus a Manager that assembles all
// three into a single prompt-ready context.
package memory

import (
	"context"
	"crypto/md5"
	"database/sql"
	"fmt"
	"time"

	"github.com/arcadiaforge/arcadiaforge/internal/store"
)

const (
	maxRecentActions = 20
	maxRecentFiles   = 10
)

// Action is a single recorded step taken during the session.
type Action struct {
	Timestamp time.Time
	Action    string
	Result    string
	Tool      string
}

// ActiveError is an error currently being debugged in the live session.
type ActiveError struct {
	ID              string
	FirstSeen       time.Time
	LastSeen        time.Time
	Type            string
	Message         string
	Context         map[string]any
	OccurrenceCount int
	AttemptedFixes  []string
	RelatedFeatures []int
	Resolved        bool
	Resolution      string
}

// PendingDecision is a decision awaiting resolution, surfaced in the
// working context until it is resolved or abandoned.
type PendingDecision struct {
	ID             string
	CreatedAt      time.Time
	Type           string
	Context        string
	Options        []string
	Recommendation string
	Confidence     float64
	BlockingFeature *int
	Notes          string
}

// HotState is the current session's working memory.
type HotState struct {
	SessionID         int64
	StartedAt         time.Time
	CurrentFeature    *int
	CurrentTask       string
	RecentActions     []Action
	RecentFiles       []string
	FocusKeywords     []string
	ActiveErrors      []ActiveError
	PendingDecisions  []PendingDecision
	CurrentHypotheses []string
}

// Hot manages the hot_memory table for one session.
type Hot struct {
	db        *store.Store
	sessionID int64

	errorSeq    int
	decisionSeq int
}

// NewHot opens (creating if absent) hot memory for a session.
func NewHot(ctx context.Context, db *store.Store, sessionID int64) (*Hot, error) {
	h := &Hot{db: db, sessionID: sessionID, errorSeq: 1, decisionSeq: 1}
	err := db.Write(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRow(`SELECT 1 FROM hot_memory WHERE session_id = ?`, sessionID).Scan(&exists)
		if err == sql.ErrNoRows {
			_, err = tx.Exec(`INSERT INTO hot_memory (session_id, started_at) VALUES (?, ?)`,
				sessionID, time.Now().UTC().Format(time.RFC3339))
			return err
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("memory: init hot: %w", err)
	}
	return h, nil
}

// Get returns the full hot state for the session.
func (h *Hot) Get(ctx context.Context) (*HotState, error) {
	var state *HotState
	err := h.db.Read(ctx, func(db *sql.DB) error {
		row := db.QueryRow(`SELECT session_id, started_at, current_feature, current_task,
			recent_actions, recent_files, focus_keywords, active_errors, pending_decisions,
			current_hypotheses FROM hot_memory WHERE session_id = ?`, h.sessionID)
		var err error
		state, err = scanHotState(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// SetFocus updates the current feature, task, and keyword focus.
func (h *Hot) SetFocus(ctx context.Context, feature *int, task string, keywords []string) error {
	if len(keywords) > 10 {
		keywords = keywords[:10]
	}
	return h.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE hot_memory SET current_feature = ?, current_task = ?, focus_keywords = ? WHERE session_id = ?`,
			nullIntPtr(feature), task, store.EncodeJSON(keywords), h.sessionID)
		return err
	})
}

// AddAction records a recent action, keeping only the most recent
// maxRecentActions entries.
func (h *Hot) AddAction(ctx context.Context, action, result, tool string) error {
	if len(result) > 200 {
		result = result[:200]
	}
	return h.db.Write(ctx, func(tx *sql.Tx) error {
		var actionsJSON string
		if err := tx.QueryRow(`SELECT recent_actions FROM hot_memory WHERE session_id = ?`, h.sessionID).Scan(&actionsJSON); err != nil {
			return err
		}
		var actions []Action
		if err := store.DecodeJSON(actionsJSON, &actions); err != nil {
			return err
		}
		actions = append(actions, Action{Timestamp: time.Now().UTC(), Action: action, Result: result, Tool: tool})
		if len(actions) > maxRecentActions {
			actions = actions[len(actions)-maxRecentActions:]
		}
		_, err := tx.Exec(`UPDATE hot_memory SET recent_actions = ? WHERE session_id = ?`, store.EncodeJSON(actions), h.sessionID)
		return err
	})
}

// AddFile records a recently accessed file, moving it to the end if it was
// already present, keeping only the most recent maxRecentFiles entries.
func (h *Hot) AddFile(ctx context.Context, filePath string) error {
	return h.db.Write(ctx, func(tx *sql.Tx) error {
		var filesJSON string
		if err := tx.QueryRow(`SELECT recent_files FROM hot_memory WHERE session_id = ?`, h.sessionID).Scan(&filesJSON); err != nil {
			return err
		}
		var files []string
		if err := store.DecodeJSON(filesJSON, &files); err != nil {
			return err
		}
		files = removeString(files, filePath)
		files = append(files, filePath)
		if len(files) > maxRecentFiles {
			files = files[len(files)-maxRecentFiles:]
		}
		_, err := tx.Exec(`UPDATE hot_memory SET recent_files = ? WHERE session_id = ?`, store.EncodeJSON(files), h.sessionID)
		return err
	})
}

// AddError records an active error, deduplicating by a hash of its type and
// message: a repeat bumps the occurrence count instead of adding a new entry.
func (h *Hot) AddError(ctx context.Context, errorType, message string, errContext map[string]any, relatedFeatures []int) (*ActiveError, error) {
	if len(message) > 500 {
		message = message[:500]
	}
	hash := errorHash(errorType, message)
	now := time.Now().UTC()

	var result *ActiveError
	err := h.db.Write(ctx, func(tx *sql.Tx) error {
		var errorsJSON string
		if err := tx.QueryRow(`SELECT active_errors FROM hot_memory WHERE session_id = ?`, h.sessionID).Scan(&errorsJSON); err != nil {
			return err
		}
		var errors []ActiveError
		if err := store.DecodeJSON(errorsJSON, &errors); err != nil {
			return err
		}

		found := false
		for i := range errors {
			if errors[i].ID == hash {
				errors[i].LastSeen = now
				errors[i].OccurrenceCount++
				errors[i].RelatedFeatures = unionInts(errors[i].RelatedFeatures, relatedFeatures)
				result = &errors[i]
				found = true
				break
			}
		}
		if !found {
			e := ActiveError{
				ID:              hash,
				FirstSeen:       now,
				LastSeen:        now,
				Type:            errorType,
				Message:         message,
				Context:         errContext,
				OccurrenceCount: 1,
				AttemptedFixes:  []string{},
				RelatedFeatures: relatedFeatures,
			}
			errors = append(errors, e)
			result = &errors[len(errors)-1]
		}

		_, err := tx.Exec(`UPDATE hot_memory SET active_errors = ? WHERE session_id = ?`, store.EncodeJSON(errors), h.sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecordFixAttempt appends a fix description to an active error's history.
func (h *Hot) RecordFixAttempt(ctx context.Context, errorID, fixDescription string) (bool, error) {
	return h.mutateError(ctx, errorID, func(e *ActiveError) {
		e.AttemptedFixes = append(e.AttemptedFixes, fixDescription)
	})
}

// ResolveError marks an active error resolved.
func (h *Hot) ResolveError(ctx context.Context, errorID, resolution string) (bool, error) {
	return h.mutateError(ctx, errorID, func(e *ActiveError) {
		e.Resolved = true
		e.Resolution = resolution
	})
}

func (h *Hot) mutateError(ctx context.Context, errorID string, mutate func(*ActiveError)) (bool, error) {
	found := false
	err := h.db.Write(ctx, func(tx *sql.Tx) error {
		var errorsJSON string
		if err := tx.QueryRow(`SELECT active_errors FROM hot_memory WHERE session_id = ?`, h.sessionID).Scan(&errorsJSON); err != nil {
			return err
		}
		var errors []ActiveError
		if err := store.DecodeJSON(errorsJSON, &errors); err != nil {
			return err
		}
		for i := range errors {
			if errors[i].ID == errorID {
				mutate(&errors[i])
				found = true
				break
			}
		}
		if !found {
			return nil
		}
		_, err := tx.Exec(`UPDATE hot_memory SET active_errors = ? WHERE session_id = ?`, store.EncodeJSON(errors), h.sessionID)
		return err
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// ActiveErrors returns unresolved errors.
func (h *Hot) ActiveErrors(ctx context.Context) ([]ActiveError, error) {
	state, err := h.Get(ctx)
	if err != nil {
		return nil, err
	}
	var out []ActiveError
	for _, e := range state.ActiveErrors {
		if !e.Resolved {
			out = append(out, e)
		}
	}
	return out, nil
}

// AddPendingDecision records a decision the session hasn't resolved yet.
func (h *Hot) AddPendingDecision(ctx context.Context, decisionType, dctx string, options []string, recommendation string, confidence float64, blockingFeature *int) (*PendingDecision, error) {
	var result *PendingDecision
	err := h.db.Write(ctx, func(tx *sql.Tx) error {
		var decisionsJSON string
		if err := tx.QueryRow(`SELECT pending_decisions FROM hot_memory WHERE session_id = ?`, h.sessionID).Scan(&decisionsJSON); err != nil {
			return err
		}
		var decisions []PendingDecision
		if err := store.DecodeJSON(decisionsJSON, &decisions); err != nil {
			return err
		}
		d := PendingDecision{
			ID:              fmt.Sprintf("PD-%d-%d", h.sessionID, len(decisions)+1),
			CreatedAt:       time.Now().UTC(),
			Type:            decisionType,
			Context:         dctx,
			Options:         options,
			Recommendation:  recommendation,
			Confidence:      confidence,
			BlockingFeature: blockingFeature,
		}
		decisions = append(decisions, d)
		result = &decisions[len(decisions)-1]
		_, err := tx.Exec(`UPDATE hot_memory SET pending_decisions = ? WHERE session_id = ?`, store.EncodeJSON(decisions), h.sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ResolveDecision removes a pending decision once it has been made.
func (h *Hot) ResolveDecision(ctx context.Context, decisionID string) (*PendingDecision, error) {
	var removed *PendingDecision
	err := h.db.Write(ctx, func(tx *sql.Tx) error {
		var decisionsJSON string
		if err := tx.QueryRow(`SELECT pending_decisions FROM hot_memory WHERE session_id = ?`, h.sessionID).Scan(&decisionsJSON); err != nil {
			return err
		}
		var decisions []PendingDecision
		if err := store.DecodeJSON(decisionsJSON, &decisions); err != nil {
			return err
		}
		out := decisions[:0]
		for _, d := range decisions {
			if d.ID == decisionID {
				d := d
				removed = &d
				continue
			}
			out = append(out, d)
		}
		if removed == nil {
			return nil
		}
		_, err := tx.Exec(`UPDATE hot_memory SET pending_decisions = ? WHERE session_id = ?`, store.EncodeJSON(out), h.sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Clear resets hot memory for the session to an empty state, used at
// session end once its content has been promoted into a warm summary.
func (h *Hot) Clear(ctx context.Context) error {
	return h.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE hot_memory SET current_feature = NULL, current_task = '', recent_actions = '[]',
			recent_files = '[]', focus_keywords = '[]', active_errors = '[]', pending_decisions = '[]',
			current_hypotheses = '[]' WHERE session_id = ?`, h.sessionID)
		return err
	})
}

// ContextForPrompt renders the working context as prompt-ready text.
func (h *Hot) ContextForPrompt(ctx context.Context) (string, error) {
	state, err := h.Get(ctx)
	if err != nil {
		return "", err
	}
	return hotContextText(state), nil
}

func hotContextText(state *HotState) string {
	var lines []string
	if state.CurrentFeature != nil {
		lines = append(lines, fmt.Sprintf("Current Feature: #%d", *state.CurrentFeature))
	}
	if state.CurrentTask != "" {
		lines = append(lines, fmt.Sprintf("Current Task: %s", state.CurrentTask))
	}
	if len(state.FocusKeywords) > 0 {
		lines = append(lines, fmt.Sprintf("Focus Areas: %s", joinStrings(state.FocusKeywords, ", ")))
	}
	if len(state.RecentFiles) > 0 {
		recent := state.RecentFiles
		if len(recent) > 5 {
			recent = recent[len(recent)-5:]
		}
		lines = append(lines, fmt.Sprintf("Recently Modified: %s", joinStrings(recent, ", ")))
	}
	var active []ActiveError
	for _, e := range state.ActiveErrors {
		if !e.Resolved {
			active = append(active, e)
		}
	}
	if len(active) > 0 {
		lines = append(lines, fmt.Sprintf("Active Errors: %d unresolved", len(active)))
		for i, e := range active {
			if i >= 3 {
				break
			}
			msg := e.Message
			if len(msg) > 50 {
				msg = msg[:50]
			}
			lines = append(lines, fmt.Sprintf("  - %s: %s...", e.Type, msg))
		}
	}
	if len(state.PendingDecisions) > 0 {
		lines = append(lines, fmt.Sprintf("Pending Decisions: %d", len(state.PendingDecisions)))
		for i, d := range state.PendingDecisions {
			if i >= 2 {
				break
			}
			dctx := d.Context
			if len(dctx) > 50 {
				dctx = dctx[:50]
			}
			lines = append(lines, fmt.Sprintf("  - %s: %s...", d.Type, dctx))
		}
	}
	if len(lines) == 0 {
		return "No active context."
	}
	return joinStrings(lines, "\n")
}

func errorHash(errorType, message string) string {
	sum := md5.Sum([]byte(errorType + ":" + message))
	return fmt.Sprintf("%x", sum)[:8]
}

func scanHotState(row interface{ Scan(dest ...any) error }) (*HotState, error) {
	var state HotState
	var startedAt string
	var currentFeature sql.NullInt64
	var currentTask, actionsJSON, filesJSON, keywordsJSON, errorsJSON, decisionsJSON, hypothesesJSON string

	err := row.Scan(&state.SessionID, &startedAt, &currentFeature, &currentTask,
		&actionsJSON, &filesJSON, &keywordsJSON, &errorsJSON, &decisionsJSON, &hypothesesJSON)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
		state.StartedAt = t
	}
	if currentFeature.Valid {
		v := int(currentFeature.Int64)
		state.CurrentFeature = &v
	}
	state.CurrentTask = currentTask

	state.RecentActions = []Action{}
	if err := store.DecodeJSON(actionsJSON, &state.RecentActions); err != nil {
		return nil, err
	}
	state.RecentFiles = []string{}
	if err := store.DecodeJSON(filesJSON, &state.RecentFiles); err != nil {
		return nil, err
	}
	state.FocusKeywords = []string{}
	if err := store.DecodeJSON(keywordsJSON, &state.FocusKeywords); err != nil {
		return nil, err
	}
	state.ActiveErrors = []ActiveError{}
	if err := store.DecodeJSON(errorsJSON, &state.ActiveErrors); err != nil {
		return nil, err
	}
	state.PendingDecisions = []PendingDecision{}
	if err := store.DecodeJSON(decisionsJSON, &state.PendingDecisions); err != nil {
		return nil, err
	}
	state.CurrentHypotheses = []string{}
	if err := store.DecodeJSON(hypothesesJSON, &state.CurrentHypotheses); err != nil {
		return nil, err
	}
	return &state, nil
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func unionInts(a, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	var out []int
	for _, v := range a {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range b {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func joinStrings(items []string, sep string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += sep
		}
		out += s
	}
	return out
}

func nullIntPtr(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
