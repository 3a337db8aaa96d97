package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/arcadiaforge/arcadiaforge/internal/autonomy"
)

// Config bounds and parameterizes one Orchestrator run (spec.md §6
// "Environment inputs"). Zero values are invalid for the numeric/USD
// fields; Defaults() fills them in before a caller overlays file/env
// values.
type Config struct {
	Model                    string         `json:"model" yaml:"model"`
	MaxIterations            int            `json:"max_iterations" yaml:"max_iterations"`
	BudgetCeilingUSD         float64        `json:"budget_ceiling_usd" yaml:"budget_ceiling_usd"`
	WarningThresholdFraction float64        `json:"warning_threshold_fraction" yaml:"warning_threshold_fraction"`
	MaxNoProgressIterations  int            `json:"max_no_progress_iterations" yaml:"max_no_progress_iterations"`
	AuditCadenceFeatures     int            `json:"audit_cadence_features" yaml:"audit_cadence_features"`
	AutonomyLevel            autonomy.Level `json:"autonomy_level" yaml:"autonomy_level"`
	AssistantCredentialEnv   string         `json:"assistant_credential_env" yaml:"assistant_credential_env"`
}

// Defaults returns the baseline configuration, overridden in priority
// order by Load: global file, project file, environment.
func Defaults() Config {
	return Config{
		Model:                    "claude-sonnet-4-5",
		MaxIterations:            200,
		BudgetCeilingUSD:         20.0,
		WarningThresholdFraction: 0.8,
		MaxNoProgressIterations:  5,
		AuditCadenceFeatures:     10,
		AutonomyLevel:            autonomy.ExecuteSafe,
		AssistantCredentialEnv:   "ANTHROPIC_API_KEY",
	}
}

// Load builds a Config from, in priority order: the baked-in defaults,
// the global config file (GetPaths().Config), the project config file
// (<directory>/.arcadia/config.{json,jsonc,yaml,yml}), a .env file in
// directory (loaded via godotenv before reading any override), and
// finally environment variables. Each source is optional; a missing
// file is silently skipped, mirroring the teacher's loadConfigFile.
func Load(directory string) (Config, error) {
	cfg := Defaults()

	globalPath := GetPaths().Config
	loadConfigFile(filepath.Join(globalPath, "config.json"), &cfg)
	loadConfigFile(filepath.Join(globalPath, "config.jsonc"), &cfg)
	loadConfigFile(filepath.Join(globalPath, "config.yaml"), &cfg)

	if directory != "" {
		projectDir := filepath.Join(directory, ".arcadia")
		loadConfigFile(filepath.Join(projectDir, "config.json"), &cfg)
		loadConfigFile(filepath.Join(projectDir, "config.jsonc"), &cfg)
		loadConfigFile(filepath.Join(projectDir, "config.yaml"), &cfg)
		loadConfigFile(filepath.Join(projectDir, "config.yml"), &cfg)

		_ = godotenv.Load(filepath.Join(directory, ".env"))
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// loadConfigFile merges one config file into cfg by field name, a file
// that doesn't exist or fails to parse is skipped rather than treated
// as fatal: a missing optional layer must never abort a run.
func loadConfigFile(path string, cfg *Config) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var overlay Config
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &overlay); err != nil {
			return
		}
	default:
		if err := json.Unmarshal(stripJSONComments(data), &overlay); err != nil {
			return
		}
	}
	mergeConfig(cfg, &overlay)
}

// stripJSONComments removes // and /* */ comments from JSONC, as the
// teacher's config loader does.
func stripJSONComments(data []byte) []byte {
	singleLine := regexp.MustCompile(`//.*$`)
	lines := bytes.Split(data, []byte("\n"))
	for i, line := range lines {
		lines[i] = singleLine.ReplaceAll(line, nil)
	}
	data = bytes.Join(lines, []byte("\n"))

	multiLine := regexp.MustCompile(`/\*[\s\S]*?\*/`)
	return multiLine.ReplaceAll(data, nil)
}

// mergeConfig overlays non-zero fields of source onto target.
func mergeConfig(target, source *Config) {
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.MaxIterations != 0 {
		target.MaxIterations = source.MaxIterations
	}
	if source.BudgetCeilingUSD != 0 {
		target.BudgetCeilingUSD = source.BudgetCeilingUSD
	}
	if source.WarningThresholdFraction != 0 {
		target.WarningThresholdFraction = source.WarningThresholdFraction
	}
	if source.MaxNoProgressIterations != 0 {
		target.MaxNoProgressIterations = source.MaxNoProgressIterations
	}
	if source.AuditCadenceFeatures != 0 {
		target.AuditCadenceFeatures = source.AuditCadenceFeatures
	}
	if source.AutonomyLevel != 0 {
		target.AutonomyLevel = source.AutonomyLevel
	}
	if source.AssistantCredentialEnv != "" {
		target.AssistantCredentialEnv = source.AssistantCredentialEnv
	}
}

// applyEnvOverrides applies the highest-priority layer: environment
// variables, one per Config field (spec.md §6 "Environment inputs").
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ARCADIA_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("ARCADIA_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxIterations = n
		}
	}
	if v := os.Getenv("ARCADIA_BUDGET_CEILING_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.BudgetCeilingUSD = f
		}
	}
	if v := os.Getenv("ARCADIA_WARNING_THRESHOLD_FRACTION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.WarningThresholdFraction = f
		}
	}
	if v := os.Getenv("ARCADIA_MAX_NO_PROGRESS_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxNoProgressIterations = n
		}
	}
	if v := os.Getenv("ARCADIA_AUDIT_CADENCE_FEATURES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AuditCadenceFeatures = n
		}
	}
	if v := os.Getenv("ARCADIA_AUTONOMY_LEVEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AutonomyLevel = autonomy.Level(n)
		}
	}
	if v := os.Getenv("ARCADIA_ASSISTANT_CREDENTIAL_ENV"); v != "" {
		cfg.AssistantCredentialEnv = v
	}
}

// Save writes cfg as indented JSON to path, creating parent
// directories as needed.
func Save(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
