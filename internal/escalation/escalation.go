// Package escalation implements the Escalation Engine (spec.md §4.10):
// explicit rules for when an agent action or situation should be handed
// to a human rather than decided autonomously.
package escalation

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/arcadiaforge/arcadiaforge/internal/store"
)

// InjectionType names the kind of human input an escalation requests.
type InjectionType string

const (
	InjectionDecision InjectionType = "decision"
	InjectionApproval InjectionType = "approval"
	InjectionGuidance InjectionType = "guidance"
	InjectionReview   InjectionType = "review"
	InjectionRedirect InjectionType = "redirect"
)

// ConditionType selects how a Rule's Params are evaluated against a Context.
type ConditionType string

const (
	ConditionThresholdBelow ConditionType = "threshold_below"
	ConditionThresholdAbove ConditionType = "threshold_above"
	ConditionEquals         ConditionType = "equals"
	ConditionNotEquals      ConditionType = "not_equals"
	ConditionRegression     ConditionType = "regression"
	ConditionContains       ConditionType = "contains"
)

// Rule defines when to escalate to a human and what to ask them.
type Rule struct {
	RuleID           string
	Name             string
	Description      string
	ConditionType    ConditionType
	Params           map[string]any
	Severity         int
	InjectionType    InjectionType
	MessageTemplate  string
	SuggestedActions []string
	AutoPause        bool
	TimeoutSeconds   int
	DefaultAction    string
	BuiltIn          bool
}

// DefaultRules returns the built-in escalation rules, ordered by severity
// descending (ties broken by insertion order, matching a stable sort).
func DefaultRules() []Rule {
	rules := []Rule{
		{
			RuleID: "low_confidence", Name: "Low Confidence Decision",
			Description:     "Agent confidence is below 50% for a decision",
			ConditionType:   ConditionThresholdBelow,
			Params:          map[string]any{"field": "confidence", "threshold": 0.5},
			Severity:        3, InjectionType: InjectionDecision,
			MessageTemplate:  "Agent confidence is {confidence} for: {decision_type}",
			SuggestedActions: []string{"Approve agent choice", "Select alternative", "Provide guidance"},
			TimeoutSeconds:   300, DefaultAction: "Approve agent choice", BuiltIn: true,
		},
		{
			RuleID: "very_low_confidence", Name: "Very Low Confidence Decision",
			Description:     "Agent confidence is below 30%",
			ConditionType:   ConditionThresholdBelow,
			Params:          map[string]any{"field": "confidence", "threshold": 0.3},
			Severity:        4, InjectionType: InjectionGuidance,
			MessageTemplate:  "Agent confidence is very low ({confidence}). Context: {action}",
			SuggestedActions: []string{"Provide guidance", "Take over manually", "Skip this task"},
			AutoPause:        true, TimeoutSeconds: 600, BuiltIn: true,
		},
		{
			RuleID: "feature_regression", Name: "Feature Regression Detected",
			Description:     "A previously passing feature is now failing",
			ConditionType:   ConditionRegression,
			Params:          map[string]any{},
			Severity:        4, InjectionType: InjectionReview,
			MessageTemplate:  "Feature #{feature_index} regressed from passing to failing",
			SuggestedActions: []string{"Investigate", "Rollback to checkpoint", "Accept regression"},
			AutoPause:        true, TimeoutSeconds: 600, DefaultAction: "Investigate", BuiltIn: true,
		},
		{
			RuleID: "multiple_failures", Name: "Multiple Consecutive Failures",
			Description:     "Agent has failed 3+ times on the same feature",
			ConditionType:   ConditionThresholdAbove,
			Params:          map[string]any{"field": "consecutive_failures", "threshold": 3.0},
			Severity:        4, InjectionType: InjectionGuidance,
			MessageTemplate:  "Agent has failed {consecutive_failures} times on feature #{feature_index}",
			SuggestedActions: []string{"Skip feature", "Provide hints", "Take over manually"},
			AutoPause:        true, TimeoutSeconds: 600, DefaultAction: "Skip feature", BuiltIn: true,
		},
		{
			RuleID: "many_failures", Name: "Many Consecutive Failures",
			Description:     "Agent has failed 5+ times - serious stuck state",
			ConditionType:   ConditionThresholdAbove,
			Params:          map[string]any{"field": "consecutive_failures", "threshold": 5.0},
			Severity:        5, InjectionType: InjectionRedirect,
			MessageTemplate:  "Agent stuck: {consecutive_failures} failures on feature #{feature_index}",
			SuggestedActions: []string{"Skip feature", "Change approach", "Abort session"},
			AutoPause:        true, TimeoutSeconds: 900, BuiltIn: true,
		},
		{
			RuleID: "irreversible_action", Name: "Irreversible Action Requested",
			Description:     "Agent wants to perform an action that cannot be undone",
			ConditionType:   ConditionEquals,
			Params:          map[string]any{"field": "is_irreversible", "value": true},
			Severity:        5, InjectionType: InjectionApproval,
			MessageTemplate:  "Agent wants to perform irreversible action: {action}",
			SuggestedActions: []string{"Approve", "Deny", "Request checkpoint first"},
			AutoPause:        true, TimeoutSeconds: 600, DefaultAction: "Deny", BuiltIn: true,
		},
		{
			RuleID: "source_of_truth_change", Name: "Source of Truth Modification",
			Description:     "Agent wants to modify the feature database or other source of truth",
			ConditionType:   ConditionEquals,
			Params:          map[string]any{"field": "affects_source_of_truth", "value": true},
			Severity:        3, InjectionType: InjectionApproval,
			MessageTemplate:  "Agent wants to modify source of truth: {action}",
			SuggestedActions: []string{"Approve", "Deny", "Review first"},
			TimeoutSeconds:   300, DefaultAction: "Approve", BuiltIn: true,
		},
		{
			RuleID: "repeated_errors", Name: "Repeated Errors",
			Description:     "Same type of error occurring multiple times",
			ConditionType:   ConditionThresholdAbove,
			Params:          map[string]any{"field": "error_count", "threshold": 3.0},
			Severity:        3, InjectionType: InjectionReview,
			MessageTemplate:  "Error occurring repeatedly ({error_count} times): {error_message}",
			SuggestedActions: []string{"Investigate error", "Skip task", "Change approach"},
			TimeoutSeconds:   300, DefaultAction: "Investigate error", BuiltIn: true,
		},
	}
	sortBySeverityDesc(rules)
	return rules
}

func sortBySeverityDesc(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Severity > rules[j].Severity })
}

// Context carries the situational fields rules are evaluated against.
type Context struct {
	Confidence             float64
	FeatureIndex           *int
	ConsecutiveFailures    int
	PreviouslyPassing      bool
	CurrentlyPassing       bool
	Action                 string
	IsIrreversible         bool
	AffectsSourceOfTruth   bool
	ErrorMessage           string
	ErrorCount             int
	DecisionType           string
	AlternativesCount      int
	Custom                 map[string]any
}

// DefaultContext returns a Context with the confidence/currently-passing
// defaults the dataclass original carries.
func DefaultContext() Context {
	return Context{Confidence: 1.0, CurrentlyPassing: true, Custom: map[string]any{}}
}

func (c Context) fields() map[string]any {
	m := map[string]any{
		"confidence":              c.Confidence,
		"consecutive_failures":    c.ConsecutiveFailures,
		"previously_passing":      c.PreviouslyPassing,
		"currently_passing":       c.CurrentlyPassing,
		"action":                  c.Action,
		"is_irreversible":         c.IsIrreversible,
		"affects_source_of_truth": c.AffectsSourceOfTruth,
		"error_message":           c.ErrorMessage,
		"error_count":             c.ErrorCount,
		"decision_type":           c.DecisionType,
		"alternatives_count":      c.AlternativesCount,
	}
	if c.FeatureIndex != nil {
		m["feature_index"] = *c.FeatureIndex
	}
	for k, v := range c.Custom {
		m[k] = v
	}
	return m
}

// Result is one rule match produced by Evaluate.
type Result struct {
	Rule              Rule
	Context           map[string]any
	Timestamp         time.Time
	Message           string
	RecommendedAction string
}

// Engine evaluates rules against a Context and logs matches.
type Engine struct {
	db        *store.Store
	sessionID int64
	rules     []Rule
}

// New constructs an Engine seeded with DefaultRules plus any enabled
// custom rules persisted from a previous session.
func New(ctx context.Context, db *store.Store, sessionID int64) (*Engine, error) {
	e := &Engine{db: db, sessionID: sessionID, rules: DefaultRules()}
	custom, err := e.loadCustomRules(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range custom {
		e.rules = append(e.rules, r)
	}
	sortBySeverityDesc(e.rules)
	return e, nil
}

func (e *Engine) loadCustomRules(ctx context.Context) ([]Rule, error) {
	var out []Rule
	err := e.db.Read(ctx, func(sqldb *sql.DB) error {
		rows, err := sqldb.Query(`SELECT rule_id, name, description, condition_type, condition_params,
			severity, injection_type, message_template, suggested_actions, auto_pause, timeout_seconds,
			default_action FROM escalation_rules WHERE built_in = 0 AND is_enabled = 1`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r Rule
			var paramsJSON, actionsJSON, injType, condType string
			var autoPause int
			var defaultAction sql.NullString
			if err := rows.Scan(&r.RuleID, &r.Name, &r.Description, &condType, &paramsJSON,
				&r.Severity, &injType, &r.MessageTemplate, &actionsJSON, &autoPause,
				&r.TimeoutSeconds, &defaultAction); err != nil {
				return err
			}
			r.ConditionType = ConditionType(condType)
			r.InjectionType = InjectionType(injType)
			r.AutoPause = autoPause != 0
			if defaultAction.Valid {
				r.DefaultAction = defaultAction.String
			}
			if err := store.DecodeJSON(paramsJSON, &r.Params); err != nil {
				return err
			}
			if err := store.DecodeJSON(actionsJSON, &r.SuggestedActions); err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

// AddRule registers (or replaces, by RuleID) a custom rule and persists it.
func (e *Engine) AddRule(ctx context.Context, r Rule) error {
	r.BuiltIn = false
	found := false
	for i, existing := range e.rules {
		if existing.RuleID == r.RuleID {
			e.rules[i] = r
			found = true
			break
		}
	}
	if !found {
		e.rules = append(e.rules, r)
	}
	sortBySeverityDesc(e.rules)

	return e.db.Write(ctx, func(tx *sql.Tx) error {
		var defaultAction any
		if r.DefaultAction != "" {
			defaultAction = r.DefaultAction
		}
		_, err := tx.Exec(`
			INSERT INTO escalation_rules (rule_id, name, description, condition_type, condition_params,
				severity, injection_type, message_template, suggested_actions, auto_pause, timeout_seconds,
				default_action, built_in, is_enabled)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 1)
			ON CONFLICT(rule_id) DO UPDATE SET
				name = excluded.name, description = excluded.description,
				condition_type = excluded.condition_type, condition_params = excluded.condition_params,
				severity = excluded.severity, injection_type = excluded.injection_type,
				message_template = excluded.message_template, suggested_actions = excluded.suggested_actions,
				auto_pause = excluded.auto_pause, timeout_seconds = excluded.timeout_seconds,
				default_action = excluded.default_action, is_enabled = 1`,
			r.RuleID, r.Name, r.Description, string(r.ConditionType), store.EncodeJSON(r.Params),
			r.Severity, string(r.InjectionType), r.MessageTemplate, store.EncodeJSON(r.SuggestedActions),
			boolInt(r.AutoPause), r.TimeoutSeconds, defaultAction,
		)
		return err
	})
}

// RemoveRule removes a rule by ID, soft-deleting any persisted custom copy.
func (e *Engine) RemoveRule(ctx context.Context, ruleID string) (bool, error) {
	before := len(e.rules)
	kept := e.rules[:0:0]
	for _, r := range e.rules {
		if r.RuleID != ruleID {
			kept = append(kept, r)
		}
	}
	e.rules = kept
	if len(e.rules) == before {
		return false, nil
	}
	err := e.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE escalation_rules SET is_enabled = 0 WHERE rule_id = ?`, ruleID)
		return err
	})
	return true, err
}

// GetRule returns a rule by ID, or false if not present.
func (e *Engine) GetRule(ruleID string) (Rule, bool) {
	for _, r := range e.rules {
		if r.RuleID == ruleID {
			return r, true
		}
	}
	return Rule{}, false
}

// Rules returns all active rules, severity descending.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

func evaluateCondition(r Rule, ctx map[string]any) bool {
	switch r.ConditionType {
	case ConditionThresholdBelow:
		field, _ := r.Params["field"].(string)
		threshold := asFloat(r.Params["threshold"])
		value, ok := ctx[field]
		if !ok {
			value = 1.0
		}
		return asFloat(value) < threshold

	case ConditionThresholdAbove:
		field, _ := r.Params["field"].(string)
		threshold := asFloat(r.Params["threshold"])
		value, ok := ctx[field]
		if !ok {
			value = 0.0
		}
		return asFloat(value) >= threshold

	case ConditionEquals:
		field, _ := r.Params["field"].(string)
		return fmt.Sprintf("%v", ctx[field]) == fmt.Sprintf("%v", r.Params["value"])

	case ConditionNotEquals:
		field, _ := r.Params["field"].(string)
		return fmt.Sprintf("%v", ctx[field]) != fmt.Sprintf("%v", r.Params["value"])

	case ConditionRegression:
		prev, _ := ctx["previously_passing"].(bool)
		cur, ok := ctx["currently_passing"].(bool)
		if !ok {
			cur = true
		}
		return prev && !cur

	case ConditionContains:
		field, _ := r.Params["field"].(string)
		substring, _ := r.Params["substring"].(string)
		value := fmt.Sprintf("%v", ctx[field])
		return strings.Contains(strings.ToLower(value), strings.ToLower(substring))
	}
	return false
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}

func formatMessage(template string, ctx map[string]any) string {
	out := template
	for k, v := range ctx {
		out = strings.ReplaceAll(out, "{"+k+"}", formatValue(v))
	}
	return out
}

func formatValue(v any) string {
	if f, ok := v.(float64); ok && f >= 0 && f <= 1 {
		return fmt.Sprintf("%.0f%%", f*100)
	}
	return fmt.Sprintf("%v", v)
}

// Evaluate checks ctx against every rule (severity descending) and returns
// every match. Each match is logged to escalation_log as it's found.
func (e *Engine) Evaluate(ctx context.Context, c Context) ([]Result, error) {
	fields := c.fields()
	var matches []Result
	for _, r := range e.rules {
		if !evaluateCondition(r, fields) {
			continue
		}
		recommended := "Review"
		if len(r.SuggestedActions) > 0 {
			recommended = r.SuggestedActions[0]
		}
		result := Result{
			Rule:              r,
			Context:           fields,
			Timestamp:         time.Now().UTC(),
			Message:           formatMessage(r.MessageTemplate, fields),
			RecommendedAction: recommended,
		}
		matches = append(matches, result)
		if err := e.logEscalation(ctx, result); err != nil {
			return matches, err
		}
	}
	return matches, nil
}

// EvaluateTop is Evaluate but returns only the highest-severity match.
func (e *Engine) EvaluateTop(ctx context.Context, c Context) (*Result, error) {
	matches, err := e.Evaluate(ctx, c)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

var contextSummaryFields = []string{"confidence", "feature_index", "consecutive_failures", "action", "error_message"}

func (e *Engine) logEscalation(ctx context.Context, r Result) error {
	summary := map[string]any{}
	for _, f := range contextSummaryFields {
		if v, ok := r.Context[f]; ok {
			summary[f] = v
		}
	}
	return e.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO escalation_log (session_id, timestamp, rule_id, severity, message, context_summary)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.sessionID, r.Timestamp.Format(time.RFC3339), r.Rule.RuleID, r.Rule.Severity, r.Message,
			store.EncodeJSON(summary),
		)
		return err
	})
}

// HistoryEntry is one logged escalation.
type HistoryEntry struct {
	Timestamp      time.Time
	RuleID         string
	Severity       int
	Message        string
	ContextSummary map[string]any
}

// History returns recent escalation log entries, newest first.
func (e *Engine) History(ctx context.Context, limit int, ruleID string) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT timestamp, rule_id, severity, message, context_summary FROM escalation_log WHERE 1=1`
	var args []any
	if ruleID != "" {
		query += ` AND rule_id = ?`
		args = append(args, ruleID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	var out []HistoryEntry
	err := e.db.Read(ctx, func(sqldb *sql.DB) error {
		rows, err := sqldb.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var entry HistoryEntry
			var timestamp, summaryJSON string
			if err := rows.Scan(&timestamp, &entry.RuleID, &entry.Severity, &entry.Message, &summaryJSON); err != nil {
				return err
			}
			if t, err := time.Parse(time.RFC3339, timestamp); err == nil {
				entry.Timestamp = t
			}
			if err := store.DecodeJSON(summaryJSON, &entry.ContextSummary); err != nil {
				return err
			}
			out = append(out, entry)
		}
		return rows.Err()
	})
	return out, err
}

// Stats summarizes escalation log activity.
type Stats struct {
	TotalEscalations int
	ByRule           map[string]int
	BySeverity       map[int]int
}

// Stats aggregates recent escalation history (up to 1000 entries).
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	history, err := e.History(ctx, 1000, "")
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{ByRule: map[string]int{}, BySeverity: map[int]int{}}
	for _, entry := range history {
		stats.TotalEscalations++
		stats.ByRule[entry.RuleID]++
		stats.BySeverity[entry.Severity]++
	}
	return stats, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
