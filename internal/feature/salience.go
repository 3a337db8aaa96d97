package feature

import (
	"strings"
	"time"
)

// SalienceContext is the optional contextual bias next_by_salience accepts:
// keywords from the current focus and features touched by recent work.
type SalienceContext struct {
	FocusKeywords   []string
	RelatedFeatures []int
}

// salienceEpsilon is the tolerance below which two scores are treated as
// tied, per spec.md §4.2 ("no floating-point compare without epsilon").
const salienceEpsilon = 1e-9

// failureDemotionThreshold is the failure count beyond which a feature is
// actively demoted so other work can surface instead of retrying a feature
// that keeps failing.
const failureDemotionThreshold = 3

// calculateSalience scores an incomplete feature for scheduling priority.
//
// There is no calculate_salience in the original source to port (grepped
// and confirmed absent from arcadiaforge/feature_list.py); this scoring is
// an independent design built directly from spec.md §4.2's textual
// description and validated against the spec's "salience tie-breaking"
// scenario (spec.md §8 scenario 6).
func calculateSalience(f *Feature, ctx SalienceContext, now time.Time) float64 {
	var score float64

	// Priority boost: priority 1 (critical) scores highest.
	score += float64(5-f.Priority) * 10

	// Recency penalty: a feature touched recently is penalized so a never-
	// worked feature of equal priority is preferred (spec.md §8 scenario 6).
	// The penalty shrinks as the last attempt ages and is gone after 24h.
	if f.LastWorked != nil {
		hours := now.Sub(*f.LastWorked).Hours()
		if hours < 0 {
			hours = 0
		}
		if hours > 24 {
			hours = 24
		}
		score -= (24 - hours) * 0.5
	}

	// Failure demotion: beyond the threshold, each extra failure pushes this
	// feature down so other work surfaces instead of a repeated dead end.
	if f.FailureCount > failureDemotionThreshold {
		score -= float64(f.FailureCount-failureDemotionThreshold) * 5
	}

	// Keyword overlap with the caller's current focus.
	if len(ctx.FocusKeywords) > 0 {
		score += float64(keywordOverlap(f.Description, ctx.FocusKeywords)) * 3
	}

	// Boost if this feature was flagged as related to recent work.
	for _, idx := range ctx.RelatedFeatures {
		if idx == f.Index {
			score += 15
			break
		}
	}

	// Penalty proportional to the number of declared dependencies; whether
	// a dependency already passes is not considered.
	score -= float64(len(f.BlockedBy)) * 8

	return score
}

func keywordOverlap(description string, keywords []string) int {
	lower := strings.ToLower(description)
	count := 0
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			count++
		}
	}
	return count
}

// rankedFeature pairs a feature with its computed salience score.
type rankedFeature struct {
	feature *Feature
	score   float64
}

// sortBySalience orders candidates by descending score, breaking ties
// (within salienceEpsilon) by ascending index for determinism.
func sortBySalience(candidates []rankedFeature) {
	// Simple insertion sort: candidate lists are small (feature catalogues
	// are typically dozens to low hundreds of entries) and this keeps the
	// epsilon/tie-break comparator in one obviously-correct place.
	for i := 1; i < len(candidates); i++ {
		j := i
		for j > 0 && less(candidates[j], candidates[j-1]) {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
			j--
		}
	}
}

// less reports whether a should sort before b (higher score first, lower
// index first on a near-tie).
func less(a, b rankedFeature) bool {
	diff := a.score - b.score
	if diff > salienceEpsilon {
		return true
	}
	if diff < -salienceEpsilon {
		return false
	}
	return a.feature.Index < b.feature.Index
}
