package orchestrator

import (
	"context"
	"math/rand"
	"sort"
	"strings"

	"github.com/arcadiaforge/arcadiaforge/internal/checkpoint"
	"github.com/arcadiaforge/arcadiaforge/internal/feature"
)

// Audit cadence and candidate-selection constants (spec.md §4.16.2).
const (
	AuditCadenceFeatures = 10
	AuditMaxCandidates   = 8
	AuditHighRiskCount   = 3
	AuditRandomCount     = 3
	AuditStepThreshold   = 8
)

// sensitiveKeywords flags a feature as high-risk by description content,
// regardless of its step count.
var sensitiveKeywords = []string{"auth", "payment", "admin", "token", "encryption", "password", "credential", "permission"}

func isHighRisk(f *feature.Feature) bool {
	if len(f.Steps) >= AuditStepThreshold {
		return true
	}
	lower := strings.ToLower(f.Description)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// auditCandidates selects up to AuditMaxCandidates feature indices for an
// audit sub-session: the union of regressions since the latest checkpoint,
// flagged features, the top AuditHighRiskCount high-risk features, and
// AuditRandomCount further random passing features.
func auditCandidates(ctx context.Context, fs *feature.Store, cps *checkpoint.Manager, rng *rand.Rand) ([]int, error) {
	all, err := fs.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	byIndex := make(map[int]*feature.Feature, len(all))
	for _, f := range all {
		byIndex[f.Index] = f
	}

	seen := make(map[int]bool)
	var out []int
	add := func(idx int) {
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}

	if latest, err := cps.Latest(ctx, nil); err == nil && latest != nil {
		for idx, wasPassing := range latest.FeatureStatus {
			if f, ok := byIndex[idx]; ok && wasPassing && !f.Passes {
				add(idx)
			}
		}
	}

	for _, f := range all {
		if f.AuditStatus == "flagged" {
			add(f.Index)
		}
	}

	var highRisk []*feature.Feature
	for _, f := range all {
		if isHighRisk(f) {
			highRisk = append(highRisk, f)
		}
	}
	sort.Slice(highRisk, func(i, j int) bool { return highRisk[i].Index < highRisk[j].Index })
	for i := 0; i < len(highRisk) && i < AuditHighRiskCount; i++ {
		add(highRisk[i].Index)
	}

	var passing []*feature.Feature
	for _, f := range all {
		if f.Passes && !seen[f.Index] {
			passing = append(passing, f)
		}
	}
	if rng != nil {
		rng.Shuffle(len(passing), func(i, j int) { passing[i], passing[j] = passing[j], passing[i] })
	}
	for i := 0; i < len(passing) && i < AuditRandomCount; i++ {
		add(passing[i].Index)
	}

	if len(out) > AuditMaxCandidates {
		out = out[:AuditMaxCandidates]
	}
	return out, nil
}
