// Package risk implements the Risk Classifier (spec.md §4.8): before an
// action executes, it is scored on severity, reversibility, source-of-truth
// impact, and external side effects, and that score drives checkpoint and
// approval gating upstream in the autonomy and escalation layers.
package risk

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/arcadiaforge/arcadiaforge/internal/store"
)

// Level is the severity of an action's potential negative outcome.
type Level int

const (
	Minimal  Level = 1
	Low      Level = 2
	Moderate Level = 3
	High     Level = 4
	Critical Level = 5
)

// String renders the level's name, used in assessment text and logs.
func (l Level) String() string {
	switch l {
	case Minimal:
		return "MINIMAL"
	case Low:
		return "LOW"
	case Moderate:
		return "MODERATE"
	case High:
		return "HIGH"
	case Critical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Pattern is a rule that flags specific risk characteristics when it
// matches a tool invocation.
type Pattern struct {
	Name        string
	Description string
	Level       Level

	Tool         string // empty means any tool
	InputField   string // which input key to test
	InputPattern string // regex tested against that key's value

	Reversible             bool
	AffectsSourceOfTruth   bool
	HasExternalSideEffects bool
	RequiresApproval       bool
	RequiresCheckpoint     bool
	Mitigation             string

	BuiltIn bool

	compiled *regexp.Regexp
}

func (p *Pattern) regex() *regexp.Regexp {
	if p.compiled == nil && p.InputPattern != "" {
		p.compiled = regexp.MustCompile("(?i)" + p.InputPattern)
	}
	return p.compiled
}

// DefaultPatterns mirrors the built-in risk signatures: git and filesystem
// destructive operations, package installs, database and config writes.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name: "feature_database_write", Description: "Direct write to feature database",
			Tool: "Write", InputField: "file_path", InputPattern: `\.arcadia/project\.db$`,
			Level: High, AffectsSourceOfTruth: true, RequiresCheckpoint: true, BuiltIn: true,
			Mitigation: "Use feature tools (feature_mark, etc.) instead of direct database access",
		},
		{
			Name: "git_push", Description: "Git push to remote",
			Tool: "Bash", InputField: "command", InputPattern: `git\s+push`,
			Level: High, HasExternalSideEffects: true, RequiresApproval: true, BuiltIn: true,
		},
		{
			Name: "git_force_push", Description: "Git force push",
			Tool: "Bash", InputField: "command", InputPattern: `git\s+push\s+.*(-f|--force)`,
			Level: Critical, HasExternalSideEffects: true, RequiresApproval: true, BuiltIn: true,
			Mitigation: "Avoid force push unless absolutely necessary",
		},
		{
			Name: "git_reset_hard", Description: "Git hard reset",
			Tool: "Bash", InputField: "command", InputPattern: `git\s+reset\s+--hard`,
			Level: High, RequiresCheckpoint: true, RequiresApproval: true, BuiltIn: true,
		},
		{
			Name: "rm_recursive", Description: "Recursive file deletion",
			Tool: "Bash", InputField: "command", InputPattern: `rm\s+.*-r`,
			Level: High, RequiresApproval: true, RequiresCheckpoint: true, BuiltIn: true,
		},
		{
			Name: "rm_force", Description: "Force file deletion",
			Tool: "Bash", InputField: "command", InputPattern: `rm\s+.*-f`,
			Level: Moderate, RequiresCheckpoint: true, BuiltIn: true,
		},
		{
			Name: "rm_recursive_force", Description: "Recursive force file deletion",
			Tool: "Bash", InputField: "command", InputPattern: `rm\s+(-\w*r\w*f\w*|-\w*f\w*r\w*|--recursive\s+.*--force|--force\s+.*--recursive)`,
			Level: Critical, RequiresApproval: true, RequiresCheckpoint: true, BuiltIn: true,
			Mitigation: "Checkpoint first or narrow the path instead of rm -rf",
		},
		{
			Name: "npm_install", Description: "NPM package installation",
			Tool: "Bash", InputField: "command", InputPattern: `npm\s+(install|i)\s`,
			Level: Moderate, Reversible: true, HasExternalSideEffects: true, RequiresCheckpoint: true, BuiltIn: true,
		},
		{
			Name: "pip_install", Description: "Python package installation",
			Tool: "Bash", InputField: "command", InputPattern: `pip\s+install`,
			Level: Moderate, Reversible: true, HasExternalSideEffects: true, RequiresCheckpoint: true, BuiltIn: true,
		},
		{
			Name: "db_drop", Description: "Database drop operation",
			Tool: "Bash", InputField: "command", InputPattern: `(DROP\s+(TABLE|DATABASE)|dropdb)`,
			Level: Critical, RequiresApproval: true, RequiresCheckpoint: true, BuiltIn: true,
			Mitigation: "Create backup before dropping",
		},
		{
			Name: "db_truncate", Description: "Database truncate operation",
			Tool: "Bash", InputField: "command", InputPattern: `TRUNCATE\s+TABLE`,
			Level: High, RequiresApproval: true, BuiltIn: true,
		},
		{
			Name: "curl_post", Description: "HTTP POST request",
			Tool: "Bash", InputField: "command", InputPattern: `curl\s+.*(-X\s*POST|-d\s)`,
			Level: Moderate, Reversible: true, HasExternalSideEffects: true, BuiltIn: true,
		},
		{
			Name: "env_file_write", Description: "Environment file modification",
			Tool: "Write", InputField: "file_path", InputPattern: `\.env`,
			Level: High, AffectsSourceOfTruth: true, RequiresApproval: true, BuiltIn: true,
		},
		{
			Name: "config_file_write", Description: "Configuration file modification",
			Tool: "Write", InputField: "file_path", InputPattern: `(config|settings)\.(json|yaml|yml|toml)$`,
			Level: Moderate, RequiresCheckpoint: true, BuiltIn: true,
		},
	}
}

// DefaultToolRisks is the fallback risk level for a tool when no pattern
// matches its invocation.
var DefaultToolRisks = map[string]Level{
	"Read": Minimal, "Glob": Minimal, "Grep": Minimal, "WebFetch": Low,
	"Write": Moderate, "Edit": Moderate, "Bash": Moderate,
	"feature_mark": Moderate, "feature_skip": Low, "feature_add": Low,
	"feature_list": Minimal, "feature_focus": Minimal,
	"puppeteer_navigate": Low, "puppeteer_screenshot": Minimal,
	"puppeteer_click": Low, "puppeteer_type": Low,
}

// Assessment is the complete risk evaluation for one action.
type Assessment struct {
	Action                 string
	Tool                   string
	InputSummary           string
	Level                  Level
	IsReversible           bool
	AffectsSourceOfTruth   bool
	HasExternalSideEffects bool
	Concerns               []string
	RequiresApproval       bool
	RequiresCheckpoint     bool
	RequiresReview         bool
	SuggestedMitigation    string
	Timestamp              time.Time
	MatchedRule            string
}

// Format renders an assessment as operator-facing text.
func (a Assessment) Format() string {
	lines := []string{
		fmt.Sprintf("Risk Assessment: %s", a.Action),
		fmt.Sprintf("  Tool: %s", a.Tool),
		fmt.Sprintf("  Risk Level: %s (%d/5)", a.Level, a.Level),
		fmt.Sprintf("  Reversible: %s", yesNo(a.IsReversible)),
	}
	if a.AffectsSourceOfTruth {
		lines = append(lines, "  Affects Source of Truth: YES")
	}
	if a.HasExternalSideEffects {
		lines = append(lines, "  External Side Effects: YES")
	}
	if len(a.Concerns) > 0 {
		lines = append(lines, "  Concerns:")
		for _, c := range a.Concerns {
			lines = append(lines, fmt.Sprintf("    - %s", c))
		}
	}
	if a.RequiresApproval {
		lines = append(lines, "  REQUIRES APPROVAL")
	}
	if a.RequiresCheckpoint {
		lines = append(lines, "  REQUIRES CHECKPOINT")
	}
	if a.SuggestedMitigation != "" {
		lines = append(lines, fmt.Sprintf("  Suggested: %s", a.SuggestedMitigation))
	}
	return strings.Join(lines, "\n")
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "NO"
}

// Stats tallies assessments made since the classifier opened.
type Stats struct {
	TotalAssessments   int
	ByLevel            map[Level]int
	ApprovalsRequired  int
	CheckpointsRequired int
}

// CustomRule lets a caller override pattern matching for a specific tool.
type CustomRule func(actionInput map[string]any) Assessment

// Classifier scores tool invocations for risk before they execute.
type Classifier struct {
	db        *store.Store
	sessionID int64

	patterns []Pattern
	rules    map[string]CustomRule
	stats    Stats
}

// New loads the classifier's patterns (built-ins plus any enabled custom
// patterns recorded in previous sessions).
func New(ctx context.Context, db *store.Store, sessionID int64) (*Classifier, error) {
	c := &Classifier{
		db:        db,
		sessionID: sessionID,
		patterns:  DefaultPatterns(),
		rules:     map[string]CustomRule{},
		stats:     Stats{ByLevel: map[Level]int{}},
	}
	custom, err := c.loadCustomPatterns(ctx)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]bool, len(c.patterns))
	for _, p := range c.patterns {
		existing[p.Name] = true
	}
	for _, p := range custom {
		if !existing[p.Name] {
			c.patterns = append(c.patterns, p)
			existing[p.Name] = true
		}
	}
	return c, nil
}

func (c *Classifier) loadCustomPatterns(ctx context.Context) ([]Pattern, error) {
	var out []Pattern
	err := c.db.Read(ctx, func(db *sql.DB) error {
		rows, err := db.Query(`SELECT name, description, tool, field, pattern, level, reversible,
			affects_source_of_truth, has_external_side_effects, requires_approval, requires_checkpoint,
			mitigation, built_in FROM risk_patterns WHERE built_in = 0`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var p Pattern
			var tool, mitigation sql.NullString
			var level int
			var reversible, affects, external, approval, checkpoint, builtIn int
			if err := rows.Scan(&p.Name, &p.Description, &tool, &p.InputField, &p.InputPattern, &level,
				&reversible, &affects, &external, &approval, &checkpoint, &mitigation, &builtIn); err != nil {
				return err
			}
			p.Tool = tool.String
			p.Level = Level(level)
			p.Reversible = reversible != 0
			p.AffectsSourceOfTruth = affects != 0
			p.HasExternalSideEffects = external != 0
			p.RequiresApproval = approval != 0
			p.RequiresCheckpoint = checkpoint != 0
			p.Mitigation = mitigation.String
			p.BuiltIn = builtIn != 0
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}

// AddPattern registers a custom risk pattern, persisting it so later
// sessions load it automatically.
func (c *Classifier) AddPattern(ctx context.Context, p Pattern) error {
	for _, existing := range c.patterns {
		if existing.Name == p.Name {
			return nil
		}
	}
	c.patterns = append(c.patterns, p)
	return c.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO risk_patterns (name, description, tool, field, pattern, level, reversible,
				affects_source_of_truth, has_external_side_effects, requires_approval, requires_checkpoint,
				mitigation, built_in)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
			ON CONFLICT(name) DO UPDATE SET description = excluded.description, tool = excluded.tool,
				field = excluded.field, pattern = excluded.pattern, level = excluded.level,
				reversible = excluded.reversible, affects_source_of_truth = excluded.affects_source_of_truth,
				has_external_side_effects = excluded.has_external_side_effects,
				requires_approval = excluded.requires_approval, requires_checkpoint = excluded.requires_checkpoint,
				mitigation = excluded.mitigation`,
			p.Name, p.Description, nullStr(p.Tool), p.InputField, p.InputPattern, int(p.Level),
			boolInt(p.Reversible), boolInt(p.AffectsSourceOfTruth), boolInt(p.HasExternalSideEffects),
			boolInt(p.RequiresApproval), boolInt(p.RequiresCheckpoint), nullStr(p.Mitigation),
		)
		return err
	})
}

// RegisterRule installs a custom assessment function for a tool, bypassing
// pattern matching entirely for that tool.
func (c *Classifier) RegisterRule(tool string, rule CustomRule) {
	c.rules[tool] = rule
}

// Assess scores one tool invocation, logs the assessment, and returns it.
func (c *Classifier) Assess(ctx context.Context, tool string, actionInput map[string]any) (Assessment, error) {
	if actionInput == nil {
		actionInput = map[string]any{}
	}

	var assessment Assessment
	if rule, ok := c.rules[tool]; ok {
		assessment = rule(actionInput)
	} else {
		matched := c.matchPatterns(tool, actionInput)
		switch {
		case len(matched) > 0:
			assessment = buildFromPatterns(tool, actionInput, matched)
		case tool == "Bash":
			// No registered pattern fired; fall back to the shell-specific
			// heuristic (catches chmod/chown/sudo and other commands the
			// built-in pattern table doesn't enumerate) rather than the
			// generic per-tool default.
			if cmd, ok := actionInput["command"].(string); ok {
				assessment = AssessBash(cmd)
			} else {
				assessment = buildDefault(tool, actionInput)
			}
		default:
			assessment = buildDefault(tool, actionInput)
		}
	}
	assessment.Timestamp = time.Now().UTC()

	c.recordStats(assessment)
	if err := c.logAssessment(ctx, assessment); err != nil {
		return assessment, err
	}
	return assessment, nil
}

func (c *Classifier) matchPatterns(tool string, actionInput map[string]any) []Pattern {
	var matches []Pattern
	for i := range c.patterns {
		p := &c.patterns[i]
		if p.Tool != "" && p.Tool != tool {
			continue
		}
		if p.InputPattern != "" && p.InputField != "" {
			value := fmt.Sprintf("%v", actionInput[p.InputField])
			if !p.regex().MatchString(value) {
				continue
			}
		}
		matches = append(matches, *p)
	}
	return matches
}

func buildFromPatterns(tool string, actionInput map[string]any, patterns []Pattern) Assessment {
	maxLevel := patterns[0].Level
	reversible := true
	var affects, external, approval, checkpoint bool
	var concerns []string
	var mitigation string
	for _, p := range patterns {
		if p.Level > maxLevel {
			maxLevel = p.Level
		}
		if !p.Reversible {
			reversible = false
		}
		affects = affects || p.AffectsSourceOfTruth
		external = external || p.HasExternalSideEffects
		approval = approval || p.RequiresApproval
		checkpoint = checkpoint || p.RequiresCheckpoint
		concerns = append(concerns, p.Description)
		if mitigation == "" && p.Mitigation != "" {
			mitigation = p.Mitigation
		}
	}
	return Assessment{
		Action:                 summarizeAction(tool, actionInput),
		Tool:                   tool,
		InputSummary:           summarizeInput(actionInput),
		Level:                  maxLevel,
		IsReversible:           reversible,
		AffectsSourceOfTruth:   affects,
		HasExternalSideEffects: external,
		Concerns:               concerns,
		RequiresApproval:       approval,
		RequiresCheckpoint:     checkpoint,
		RequiresReview:         maxLevel >= High,
		SuggestedMitigation:    mitigation,
		MatchedRule:            patterns[0].Name,
	}
}

func buildDefault(tool string, actionInput map[string]any) Assessment {
	level, ok := DefaultToolRisks[tool]
	if !ok {
		level = Moderate
	}
	reversible := tool == "Read" || tool == "Glob" || tool == "Grep" || tool == "WebFetch" || tool == "puppeteer_screenshot"
	affects := tool == "Write" || tool == "Edit" || tool == "feature_mark"
	external := tool == "Bash" || tool == "WebFetch" || tool == "puppeteer_navigate"

	return Assessment{
		Action:                 summarizeAction(tool, actionInput),
		Tool:                   tool,
		InputSummary:           summarizeInput(actionInput),
		Level:                  level,
		IsReversible:           reversible,
		AffectsSourceOfTruth:   affects,
		HasExternalSideEffects: external,
		RequiresApproval:       level >= High,
		RequiresCheckpoint:     level >= Moderate,
		RequiresReview:         level >= High,
	}
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
	case "Read":
		if fp, ok := actionInput["file_path"].(string); ok {
			return fmt.Sprintf("Read %s", filepath.Base(fp))
		}
	case "Bash":
		if cmd, ok := actionInput["command"].(string); ok {
			return fmt.Sprintf("Run: %s...", truncate(cmd, 50))
		}
	}
	return fmt.Sprintf("%s operation", tool)
}

func summarizeInput(actionInput map[string]any) string {
	if len(actionInput) == 0 {
		return "(no input)"
	}
	keys := make([]string, 0, len(actionInput))
	for k := range actionInput {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 3 {
		keys = keys[:3]
	}
	var parts []string
	for _, k := range keys {
		v := fmt.Sprintf("%v", actionInput[k])
		parts = append(parts, fmt.Sprintf("%s=%s", k, truncate(v, 50)))
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (c *Classifier) recordStats(a Assessment) {
	c.stats.TotalAssessments++
	c.stats.ByLevel[a.Level]++
	if a.RequiresApproval {
		c.stats.ApprovalsRequired++
	}
	if a.RequiresCheckpoint {
		c.stats.CheckpointsRequired++
	}
}

func (c *Classifier) logAssessment(ctx context.Context, a Assessment) error {
	return c.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO risk_assessments (session_id, timestamp, action, tool, input_summary, level,
				reversible, affects_source_of_truth, has_external_side_effects, concerns,
				requires_approval, requires_checkpoint, requires_review, suggested_mitigation, matched_rule)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.sessionID, a.Timestamp.Format(time.RFC3339), a.Action, a.Tool, a.InputSummary, int(a.Level),
			boolInt(a.IsReversible), boolInt(a.AffectsSourceOfTruth), boolInt(a.HasExternalSideEffects),
			store.EncodeJSON(a.Concerns), boolInt(a.RequiresApproval), boolInt(a.RequiresCheckpoint),
			boolInt(a.RequiresReview), nullStr(a.SuggestedMitigation), nullStr(a.MatchedRule),
		)
		return err
	})
}

// HistoryFilter restricts AssessmentHistory to matching rows.
type HistoryFilter struct {
	Limit    int
	MinLevel Level
	Tool     string
}

// AssessmentHistory returns past assessments for this project, oldest
// matching row first (chronological), most recent Limit rows.
func (c *Classifier) AssessmentHistory(ctx context.Context, filter HistoryFilter) ([]Assessment, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT action, tool, input_summary, level, reversible, affects_source_of_truth,
		has_external_side_effects, concerns, requires_approval, requires_checkpoint, requires_review,
		suggested_mitigation, matched_rule, timestamp FROM risk_assessments WHERE 1=1`
	var args []any
	if filter.Tool != "" {
		query += ` AND tool = ?`
		args = append(args, filter.Tool)
	}
	if filter.MinLevel > 0 {
		query += ` AND level >= ?`
		args = append(args, int(filter.MinLevel))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	var out []Assessment
	err := c.db.Read(ctx, func(db *sql.DB) error {
		rows, err := db.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			a, err := scanAssessment(rows)
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	// reverse to chronological order, matching the Python wrapper's behavior
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// HighRiskSummary aggregates the last 100 HIGH-or-above assessments.
type HighRiskSummary struct {
	TotalHighRisk      int
	ByTool             map[string]int
	ApprovalsRequired  int
	CheckpointsRequired int
	Concerns           []string
}

// HighRiskSummary reports on high-risk actions taken so far.
func (c *Classifier) HighRiskSummary(ctx context.Context) (HighRiskSummary, error) {
	history, err := c.AssessmentHistory(ctx, HistoryFilter{Limit: 100, MinLevel: High})
	if err != nil {
		return HighRiskSummary{}, err
	}
	summary := HighRiskSummary{ByTool: map[string]int{}}
	seenConcerns := map[string]bool{}
	for _, a := range history {
		summary.TotalHighRisk++
		summary.ByTool[a.Tool]++
		if a.RequiresApproval {
			summary.ApprovalsRequired++
		}
		if a.RequiresCheckpoint {
			summary.CheckpointsRequired++
		}
		for _, concern := range a.Concerns {
			if !seenConcerns[concern] {
				seenConcerns[concern] = true
				summary.Concerns = append(summary.Concerns, concern)
				if len(summary.Concerns) >= 10 {
					break
				}
			}
		}
	}
	return summary, nil
}

// Stats returns a copy of the classifier's running statistics.
func (c *Classifier) Stats() Stats {
	byLevel := make(map[Level]int, len(c.stats.ByLevel))
	for k, v := range c.stats.ByLevel {
		byLevel[k] = v
	}
	return Stats{
		TotalAssessments:    c.stats.TotalAssessments,
		ByLevel:             byLevel,
		ApprovalsRequired:   c.stats.ApprovalsRequired,
		CheckpointsRequired: c.stats.CheckpointsRequired,
	}
}

// AssessBash is a specialized heuristic for shell commands, used for
// inline checks (e.g. before a Bash tool call is dispatched) without
// needing a full Classifier instance.
func AssessBash(command string) Assessment {
	var concerns []string
	level := Moderate
	reversible := true
	var external, approval, checkpoint bool
	var mitigation string

	cmdLower := strings.ToLower(command)

	if regexp.MustCompile(`\brm\s`).MatchString(cmdLower) {
		if strings.Contains(cmdLower, "-r") || strings.Contains(cmdLower, "-f") {
			level = maxLevel(level, High)
			concerns = append(concerns, "Destructive file deletion")
			reversible = false
			checkpoint = true
		}
		if strings.Contains(cmdLower, "-rf") {
			level = Critical
			approval = true
		}
	}

	if strings.Contains(cmdLower, "git push") {
		level = maxLevel(level, High)
		concerns = append(concerns, "Pushing to remote repository")
		external = true
		reversible = false
		if strings.Contains(cmdLower, "--force") || strings.Contains(cmdLower, "-f") {
			level = Critical
			concerns = append(concerns, "Force push - may overwrite history")
			approval = true
		}
	}

	if strings.Contains(cmdLower, "git reset --hard") {
		level = maxLevel(level, High)
		concerns = append(concerns, "Hard reset - discards uncommitted changes")
		reversible = false
		checkpoint = true
	}

	if regexp.MustCompile(`(npm|pip|yarn)\s+(install|add|remove|uninstall)`).MatchString(cmdLower) {
		level = maxLevel(level, Moderate)
		concerns = append(concerns, "Package manager operation")
		external = true
		checkpoint = true
	}

	if regexp.MustCompile(`(drop|truncate|delete\s+from)\s`).MatchString(cmdLower) {
		level = maxLevel(level, High)
		concerns = append(concerns, "Database destructive operation")
		reversible = false
		approval = true
		mitigation = "Create backup before executing"
	}

	if regexp.MustCompile(`(curl|wget|ssh|scp)\s`).MatchString(cmdLower) {
		if strings.Contains(command, "-X") || strings.Contains(command, "-d") || strings.Contains(command, "POST") {
			level = maxLevel(level, Moderate)
			concerns = append(concerns, "HTTP request with side effects")
			external = true
		} else {
			external = true
		}
	}

	if regexp.MustCompile(`(chmod|chown|sudo)\s`).MatchString(cmdLower) {
		level = maxLevel(level, High)
		concerns = append(concerns, "System permission modification")
		approval = true
	}

	return Assessment{
		Action:                 fmt.Sprintf("Run: %s...", truncate(command, 50)),
		Tool:                   "Bash",
		InputSummary:           truncate(command, 100),
		Level:                  level,
		IsReversible:           reversible,
		HasExternalSideEffects: external,
		Concerns:               concerns,
		RequiresApproval:       approval,
		RequiresCheckpoint:     checkpoint,
		RequiresReview:         level >= High,
		SuggestedMitigation:    mitigation,
	}
}

func maxLevel(a, b Level) Level {
	if b > a {
		return b
	}
	return a
}

func scanAssessment(row interface{ Scan(dest ...any) error }) (Assessment, error) {
	var a Assessment
	var reversible, affects, external, approval, checkpoint, review int
	var concernsJSON string
	var mitigation, matched sql.NullString
	var timestamp string

	err := row.Scan(&a.Action, &a.Tool, &a.InputSummary, (*int)(&a.Level), &reversible, &affects,
		&external, &concernsJSON, &approval, &checkpoint, &review, &mitigation, &matched, &timestamp)
	if err != nil {
		return a, err
	}
	a.IsReversible = reversible != 0
	a.AffectsSourceOfTruth = affects != 0
	a.HasExternalSideEffects = external != 0
	a.RequiresApproval = approval != 0
	a.RequiresCheckpoint = checkpoint != 0
	a.RequiresReview = review != 0
	a.SuggestedMitigation = mitigation.String
	a.MatchedRule = matched.String
	a.Concerns = []string{}
	if err := store.DecodeJSON(concernsJSON, &a.Concerns); err != nil {
		return a, err
	}
	if t, err := time.Parse(time.RFC3339, timestamp); err == nil {
		a.Timestamp = t
	}
	return a, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
