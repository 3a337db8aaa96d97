// Package autonomy implements the Autonomy Manager (spec.md §4.9): the
// graduated permission ladder that gates which actions the agent may take
// on its own versus which require a human, and the outcome-driven logic
// that promotes or demotes the effective level over time.
package autonomy

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/arcadiaforge/arcadiaforge/internal/store"
)

// Level is a graduated autonomy tier; higher levels include the
// capabilities of every lower one.
type Level int

const (
	Observe       Level = 1
	Plan          Level = 2
	ExecuteSafe   Level = 3
	ExecuteReview Level = 4
	FullAuto      Level = 5
)

func (l Level) String() string {
	switch l {
	case Observe:
		return "OBSERVE"
	case Plan:
		return "PLAN"
	case ExecuteSafe:
		return "EXECUTE_SAFE"
	case ExecuteReview:
		return "EXECUTE_REVIEW"
	case FullAuto:
		return "FULL_AUTO"
	default:
		return "UNKNOWN"
	}
}

func clampLevel(v int) Level {
	if v < int(Observe) {
		return Observe
	}
	if v > int(FullAuto) {
		return FullAuto
	}
	return Level(v)
}

// Category groups tools for the purpose of required-level lookup.
type Category string

const (
	CategoryRead          Category = "read"
	CategoryWrite         Category = "write"
	CategoryExecute       Category = "execute"
	CategoryFeatureModify Category = "feature_modify"
	CategoryExternal      Category = "external"
	CategoryDestructive   Category = "destructive"
)

// DefaultActionCategories maps common tools to their category.
var DefaultActionCategories = map[string]Category{
	"Read": CategoryRead, "Glob": CategoryRead, "Grep": CategoryRead,
	"Write": CategoryWrite, "Edit": CategoryWrite, "Bash": CategoryExecute,
	"feature_mark": CategoryFeatureModify, "feature_skip": CategoryFeatureModify, "feature_add": CategoryFeatureModify,
	"puppeteer_navigate": CategoryExternal, "puppeteer_screenshot": CategoryRead, "WebFetch": CategoryExternal,
}

// CategoryRequiredLevels maps a category to the minimum level it requires.
var CategoryRequiredLevels = map[Category]Level{
	CategoryRead: Observe, CategoryWrite: ExecuteSafe, CategoryExecute: ExecuteSafe,
	CategoryFeatureModify: ExecuteReview, CategoryExternal: ExecuteSafe, CategoryDestructive: FullAuto,
}

// Config is the persisted autonomy configuration.
type Config struct {
	Level                 Level
	ActionLevels          map[string]Level
	ConfidenceThreshold    float64
	ErrorDemotionCount     int
	SuccessPromotionCount  int
	AutoAdjust             bool
	MinLevel               Level
	MaxLevel               Level
}

// DefaultConfig mirrors the Python dataclass defaults.
func DefaultConfig() Config {
	return Config{
		Level:                 ExecuteSafe,
		ActionLevels:          map[string]Level{},
		ConfidenceThreshold:   0.5,
		ErrorDemotionCount:    3,
		SuccessPromotionCount: 10,
		AutoAdjust:            true,
		MinLevel:              Observe,
		MaxLevel:              ExecuteReview,
	}
}

// Metrics tracks the running performance record used for auto-adjustment.
type Metrics struct {
	ConsecutiveSuccesses int
	ConsecutiveErrors    int
	TotalActions         int
	TotalErrors          int
	RecentOutcomes       []bool
	LevelChanges         []LevelChange
}

const maxOutcomeHistory = 50

// LevelChange records one promotion or demotion.
type LevelChange struct {
	Timestamp time.Time
	From      Level
	To        Level
	Reason    string
}

func (m *Metrics) recordSuccess() {
	m.ConsecutiveSuccesses++
	m.ConsecutiveErrors = 0
	m.TotalActions++
	m.addOutcome(true)
}

func (m *Metrics) recordError() {
	m.ConsecutiveErrors++
	m.ConsecutiveSuccesses = 0
	m.TotalActions++
	m.TotalErrors++
	m.addOutcome(false)
}

func (m *Metrics) addOutcome(success bool) {
	m.RecentOutcomes = append(m.RecentOutcomes, success)
	if len(m.RecentOutcomes) > maxOutcomeHistory {
		m.RecentOutcomes = m.RecentOutcomes[len(m.RecentOutcomes)-maxOutcomeHistory:]
	}
}

// SuccessRate returns the recent success rate, defaulting to 1.0 with no
// history (optimistic default, matching the original).
func (m *Metrics) SuccessRate() float64 {
	if len(m.RecentOutcomes) == 0 {
		return 1.0
	}
	n := 0
	for _, ok := range m.RecentOutcomes {
		if ok {
			n++
		}
	}
	return float64(n) / float64(len(m.RecentOutcomes))
}

// Decision is the result of an autonomy check against one action.
type Decision struct {
	Action             string
	Tool               string
	Allowed            bool
	RequiredLevel      Level
	CurrentLevel       Level
	EffectiveLevel     Level
	Reason             string
	Alternatives       []string
	RequiresApproval   bool
	RequiresCheckpoint bool
	Timestamp          time.Time
	Confidence         *float64
}

// ActionChecker lets a caller override required-level lookup for a tool.
type ActionChecker func(actionInput map[string]any) Level

// Manager gates actions by autonomy level and adjusts that level based on
// observed outcomes.
type Manager struct {
	db        *store.Store
	sessionID int64

	config  Config
	metrics Metrics

	effectiveOverride *Level
	checkers          map[string]ActionChecker
}

// New loads (or initializes) the autonomy state for the project.
func New(ctx context.Context, db *store.Store, sessionID int64) (*Manager, error) {
	m := &Manager{db: db, sessionID: sessionID, checkers: map[string]ActionChecker{}}
	cfg, metrics, err := loadState(ctx, db)
	if err != nil {
		return nil, err
	}
	m.config = cfg
	m.metrics = metrics
	return m, nil
}

func loadState(ctx context.Context, db *store.Store) (Config, Metrics, error) {
	cfg := DefaultConfig()
	metrics := Metrics{}
	err := db.Read(ctx, func(sqldb *sql.DB) error {
		row := sqldb.QueryRow(`SELECT configured_level, min_level, max_level, confidence_threshold,
			error_demotion_count, success_promotion_count, auto_adjust, action_levels,
			consecutive_successes, consecutive_errors, total_actions, total_errors,
			recent_outcomes, level_changes FROM autonomy_state WHERE id = 1`)
		var level, minLevel, maxLevel, autoAdjust int
		var actionLevelsJSON, outcomesJSON, changesJSON string
		err := row.Scan(&level, &minLevel, &maxLevel, &cfg.ConfidenceThreshold,
			&cfg.ErrorDemotionCount, &cfg.SuccessPromotionCount, &autoAdjust, &actionLevelsJSON,
			&metrics.ConsecutiveSuccesses, &metrics.ConsecutiveErrors, &metrics.TotalActions,
			&metrics.TotalErrors, &outcomesJSON, &changesJSON)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		cfg.Level = clampLevel(level)
		cfg.MinLevel = clampLevel(minLevel)
		cfg.MaxLevel = clampLevel(maxLevel)
		cfg.AutoAdjust = autoAdjust != 0
		var rawLevels map[string]int
		if err := store.DecodeJSON(actionLevelsJSON, &rawLevels); err != nil {
			return err
		}
		cfg.ActionLevels = map[string]Level{}
		for k, v := range rawLevels {
			cfg.ActionLevels[k] = clampLevel(v)
		}
		if err := store.DecodeJSON(outcomesJSON, &metrics.RecentOutcomes); err != nil {
			return err
		}
		return store.DecodeJSON(changesJSON, &metrics.LevelChanges)
	})
	if err != nil {
		return cfg, metrics, err
	}
	return cfg, metrics, nil
}

func (m *Manager) saveState(ctx context.Context) error {
	rawLevels := make(map[string]int, len(m.config.ActionLevels))
	for k, v := range m.config.ActionLevels {
		rawLevels[k] = int(v)
	}
	return m.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO autonomy_state (id, configured_level, min_level, max_level, confidence_threshold,
				error_demotion_count, success_promotion_count, auto_adjust, action_levels,
				consecutive_successes, consecutive_errors, total_actions, total_errors,
				recent_outcomes, level_changes)
			VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				configured_level = excluded.configured_level, min_level = excluded.min_level,
				max_level = excluded.max_level, confidence_threshold = excluded.confidence_threshold,
				error_demotion_count = excluded.error_demotion_count,
				success_promotion_count = excluded.success_promotion_count, auto_adjust = excluded.auto_adjust,
				action_levels = excluded.action_levels, consecutive_successes = excluded.consecutive_successes,
				consecutive_errors = excluded.consecutive_errors, total_actions = excluded.total_actions,
				total_errors = excluded.total_errors, recent_outcomes = excluded.recent_outcomes,
				level_changes = excluded.level_changes`,
			int(m.config.Level), int(m.config.MinLevel), int(m.config.MaxLevel), m.config.ConfidenceThreshold,
			m.config.ErrorDemotionCount, m.config.SuccessPromotionCount, boolInt(m.config.AutoAdjust),
			store.EncodeJSON(rawLevels), m.metrics.ConsecutiveSuccesses, m.metrics.ConsecutiveErrors,
			m.metrics.TotalActions, m.metrics.TotalErrors, store.EncodeJSON(m.metrics.RecentOutcomes),
			store.EncodeJSON(m.metrics.LevelChanges),
		)
		return err
	})
}

// CurrentLevel is the configured (base) autonomy level.
func (m *Manager) CurrentLevel() Level { return m.config.Level }

// EffectiveLevel is the level after any temporary override.
func (m *Manager) EffectiveLevel() Level {
	if m.effectiveOverride != nil {
		return *m.effectiveOverride
	}
	return m.config.Level
}

// SetLevel changes the configured level, recording the transition.
func (m *Manager) SetLevel(ctx context.Context, level Level, reason string) error {
	old := m.config.Level
	m.config.Level = level
	m.effectiveOverride = &level
	if old != level {
		m.metrics.LevelChanges = append(m.metrics.LevelChanges, LevelChange{
			Timestamp: time.Now().UTC(), From: old, To: level, Reason: reason,
		})
	}
	return m.saveState(ctx)
}

// EffectiveLevelFor computes the effective level after confidence and
// performance adjustments, without mutating state.
func (m *Manager) EffectiveLevelFor(confidence *float64) Level {
	base := m.config.Level

	if confidence != nil && *confidence < m.config.ConfidenceThreshold {
		reduction := 1
		if *confidence < 0.3 {
			reduction = 2
		}
		newLevel := int(m.config.MinLevel)
		if int(base)-reduction > newLevel {
			newLevel = int(base) - reduction
		}
		return clampLevel(newLevel)
	}

	if m.config.AutoAdjust && m.metrics.ConsecutiveErrors >= m.config.ErrorDemotionCount {
		newLevel := int(m.config.MinLevel)
		if int(base)-1 > newLevel {
			newLevel = int(base) - 1
		}
		return clampLevel(newLevel)
	}

	return base
}

// CheckAction evaluates whether tool may run given the current state,
// logging the decision either way.
func (m *Manager) CheckAction(ctx context.Context, tool string, actionInput map[string]any, confidence *float64) (Decision, error) {
	if actionInput == nil {
		actionInput = map[string]any{}
	}
	required := m.requiredLevel(tool, actionInput)
	effective := m.EffectiveLevelFor(confidence)
	allowed := effective >= required

	decision := Decision{
		Action:         summarizeAction(tool, actionInput),
		Tool:           tool,
		Allowed:        allowed,
		RequiredLevel:  required,
		CurrentLevel:   m.config.Level,
		EffectiveLevel: effective,
		Reason:         buildReason(allowed, required, effective, tool),
		Timestamp:      time.Now().UTC(),
		Confidence:     confidence,
	}
	if !allowed {
		decision.Alternatives = suggestAlternatives(tool, required)
		decision.RequiresApproval = true
		if required >= ExecuteReview {
			decision.RequiresCheckpoint = true
		}
	}

	if err := m.logDecision(ctx, decision); err != nil {
		return decision, err
	}
	return decision, nil
}

func (m *Manager) requiredLevel(tool string, actionInput map[string]any) Level {
	if lvl, ok := m.config.ActionLevels[tool]; ok {
		return lvl
	}
	if checker, ok := m.checkers[tool]; ok {
		return checker(actionInput)
	}
	category, ok := DefaultActionCategories[tool]
	if !ok {
		category = CategoryExecute
	}
	if lvl, ok := CategoryRequiredLevels[category]; ok {
		return lvl
	}
	return ExecuteSafe
}

func summarizeAction(tool string, actionInput map[string]any) string {
	switch tool {
	case "Write":
		if fp, ok := actionInput["file_path"].(string); ok {
			return fmt.Sprintf("Write to %s", filepath.Base(fp))
		}
	case "Edit":
		if fp, ok := actionInput["file_path"].(string); ok {
			return fmt.Sprintf("Edit %s", filepath.Base(fp))
		}
	case "Bash":
		if cmd, ok := actionInput["command"].(string); ok {
			return fmt.Sprintf("Run: %s...", truncate(cmd, 50))
		}
	case "feature_mark":
		if idx, ok := actionInput["index"]; ok {
			return fmt.Sprintf("Mark feature #%v as passing", idx)
		}
	case "Read":
		if fp, ok := actionInput["file_path"].(string); ok {
			return fmt.Sprintf("Read %s", filepath.Base(fp))
		}
	}
	return fmt.Sprintf("%s operation", tool)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func buildReason(allowed bool, required, effective Level, tool string) string {
	if allowed {
		return fmt.Sprintf("Action allowed: %s requires level %s (current effective: %s)", tool, required, effective)
	}
	return fmt.Sprintf("Action denied: %s requires level %s but effective level is %s", tool, required, effective)
}

func suggestAlternatives(tool string, required Level) []string {
	var out []string
	if required == FullAuto {
		out = append(out, "Request human approval for this action", "Create a checkpoint before proceeding")
	}
	if required >= ExecuteReview {
		out = append(out, "Queue action for human review", fmt.Sprintf("Temporarily elevate to level %s", required))
	}
	if tool == "Write" {
		out = append(out, "Use Read to review current state first")
	}
	if tool == "Bash" {
		out = append(out, "Use a safer alternative command", "Request approval for command execution")
	}
	return out
}

// RegisterActionChecker installs a custom required-level function for a tool.
func (m *Manager) RegisterActionChecker(tool string, checker ActionChecker) {
	m.checkers[tool] = checker
}

// RecordOutcome records a success or failure and applies auto-adjustment,
// returning the new level if it changed.
func (m *Manager) RecordOutcome(ctx context.Context, success bool) (*Level, error) {
	if success {
		m.metrics.recordSuccess()
	} else {
		m.metrics.recordError()
	}

	var changed *Level
	if m.config.AutoAdjust {
		current := m.config.Level
		if m.metrics.ConsecutiveErrors >= m.config.ErrorDemotionCount {
			newLevel := current - 1
			if newLevel < m.config.MinLevel {
				newLevel = m.config.MinLevel
			}
			if newLevel != current {
				if err := m.SetLevel(ctx, newLevel, fmt.Sprintf("Demoted due to %d consecutive errors", m.metrics.ConsecutiveErrors)); err != nil {
					return nil, err
				}
				changed = &newLevel
			}
		} else if m.metrics.ConsecutiveSuccesses >= m.config.SuccessPromotionCount {
			newLevel := current + 1
			if newLevel > m.config.MaxLevel {
				newLevel = m.config.MaxLevel
			}
			if newLevel != current {
				if err := m.SetLevel(ctx, newLevel, fmt.Sprintf("Promoted due to %d consecutive successes", m.metrics.ConsecutiveSuccesses)); err != nil {
					return nil, err
				}
				m.metrics.ConsecutiveSuccesses = 0
				changed = &newLevel
			}
		}
	}

	if err := m.saveState(ctx); err != nil {
		return changed, err
	}
	return changed, nil
}

// Elevation is a request for temporary autonomy elevation, surfaced to a
// human via the escalation/injection path.
type Elevation struct {
	CurrentLevel     Level
	TargetLevel      Level
	Reason           string
	DurationActions  int
	Timestamp        time.Time
	RequiresApproval bool
}

// RequestElevation builds an elevation request for human approval; it does
// not itself change the level.
func (m *Manager) RequestElevation(targetLevel Level, reason string, durationActions int) Elevation {
	return Elevation{
		CurrentLevel:     m.config.Level,
		TargetLevel:      targetLevel,
		Reason:           reason,
		DurationActions:  durationActions,
		Timestamp:        time.Now().UTC(),
		RequiresApproval: true,
	}
}

// Status is a snapshot of the manager's configuration and performance.
type Status struct {
	ConfiguredLevel    Level
	EffectiveLevel     Level
	AutoAdjust         bool
	ConsecutiveSuccesses int
	ConsecutiveErrors  int
	SuccessRate        float64
	TotalActions       int
	ConfidenceThreshold float64
	ErrorDemotionCount int
	SuccessPromotionCount int
	MinLevel           Level
	MaxLevel           Level
}

// Status reports the manager's current configuration and performance.
func (m *Manager) Status() Status {
	return Status{
		ConfiguredLevel:       m.config.Level,
		EffectiveLevel:        m.EffectiveLevel(),
		AutoAdjust:            m.config.AutoAdjust,
		ConsecutiveSuccesses:  m.metrics.ConsecutiveSuccesses,
		ConsecutiveErrors:     m.metrics.ConsecutiveErrors,
		SuccessRate:           m.metrics.SuccessRate(),
		TotalActions:          m.metrics.TotalActions,
		ConfidenceThreshold:   m.config.ConfidenceThreshold,
		ErrorDemotionCount:    m.config.ErrorDemotionCount,
		SuccessPromotionCount: m.config.SuccessPromotionCount,
		MinLevel:              m.config.MinLevel,
		MaxLevel:              m.config.MaxLevel,
	}
}

func (m *Manager) logDecision(ctx context.Context, d Decision) error {
	return m.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO autonomy_decisions (session_id, timestamp, action, tool, allowed, required_level,
				current_level, effective_level, reason, alternatives, requires_approval, requires_checkpoint,
				confidence)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.sessionID, d.Timestamp.Format(time.RFC3339), d.Action, d.Tool, boolInt(d.Allowed),
			int(d.RequiredLevel), int(d.CurrentLevel), int(d.EffectiveLevel), d.Reason,
			store.EncodeJSON(d.Alternatives), boolInt(d.RequiresApproval), boolInt(d.RequiresCheckpoint),
			nullFloat(d.Confidence),
		)
		return err
	})
}

// DecisionHistoryFilter restricts DecisionHistory to matching rows.
type DecisionHistoryFilter struct {
	Limit       int
	Tool        string
	AllowedOnly *bool
}

// DecisionHistory returns past autonomy decisions, chronological order.
func (m *Manager) DecisionHistory(ctx context.Context, filter DecisionHistoryFilter) ([]Decision, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT action, tool, allowed, required_level, current_level, effective_level, reason,
		alternatives, requires_approval, requires_checkpoint, confidence, timestamp
		FROM autonomy_decisions WHERE 1=1`
	var args []any
	if filter.Tool != "" {
		query += ` AND tool = ?`
		args = append(args, filter.Tool)
	}
	if filter.AllowedOnly != nil {
		query += ` AND allowed = ?`
		args = append(args, boolInt(*filter.AllowedOnly))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	var out []Decision
	err := m.db.Read(ctx, func(sqldb *sql.DB) error {
		rows, err := sqldb.Query(query, args...)
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
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func scanDecision(row interface{ Scan(dest ...any) error }) (Decision, error) {
	var d Decision
	var allowed, required, current, effective, approval, checkpoint int
	var alternativesJSON string
	var confidence sql.NullFloat64
	var timestamp string

	err := row.Scan(&d.Action, &d.Tool, &allowed, &required, &current, &effective, &d.Reason,
		&alternativesJSON, &approval, &checkpoint, &confidence, &timestamp)
	if err != nil {
		return d, err
	}
	d.Allowed = allowed != 0
	d.RequiredLevel = Level(required)
	d.CurrentLevel = Level(current)
	d.EffectiveLevel = Level(effective)
	d.RequiresApproval = approval != 0
	d.RequiresCheckpoint = checkpoint != 0
	d.Alternatives = []string{}
	if err := store.DecodeJSON(alternativesJSON, &d.Alternatives); err != nil {
		return d, err
	}
	if confidence.Valid {
		v := confidence.Float64
		d.Confidence = &v
	}
	if t, err := time.Parse(time.RFC3339, timestamp); err == nil {
		d.Timestamp = t
	}
	return d, nil
}

// ResetMetrics clears performance counters, used after a manual reset of
// the feedback loop (e.g. starting a fresh project phase).
func (m *Manager) ResetMetrics(ctx context.Context) error {
	m.metrics = Metrics{}
	return m.saveState(ctx)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
