// Package feature is the Feature Store (spec.md §4.2): the ordered
// catalogue of required behaviors with pass/fail state, dependencies, and
// salience-based scheduling.
package feature

import "time"

// Category distinguishes behavioral features from style/lint-only ones.
type Category string

const (
	CategoryFunctional Category = "functional"
	CategoryStyle      Category = "style"
)

// Feature is one required, verifiable behavior.
type Feature struct {
	Index       int
	Category    Category
	Description string
	Steps       []string

	Passes              bool
	VerificationSkipped bool
	VerifiedAt          *time.Time

	AuditStatus   string // "", "ok", "flagged", "pending"
	AuditNotes    []string
	AuditReviewer string
	AuditTime     *time.Time

	Priority     int // 1=critical .. 4=low
	FailureCount int
	LastWorked   *time.Time
	BlockedBy    []int // features this depends on
	Blocks       []int // features that depend on this

	Metadata map[string]any
}

// RecordAttempt updates LastWorked and FailureCount for one attempt at this
// feature. Success resets the failure streak; failure increments it.
func (f *Feature) RecordAttempt(success bool, now time.Time) {
	f.LastWorked = &now
	if success {
		f.FailureCount = 0
	} else {
		f.FailureCount++
	}
}

// IsBlocked reports whether any of f's dependencies is not yet passing,
// given a snapshot of feature index -> passes.
func (f *Feature) IsBlocked(status map[int]bool) bool {
	for _, blocker := range f.BlockedBy {
		if !status[blocker] {
			return true
		}
	}
	return false
}

// Stats summarizes the catalogue's pass/fail counts.
type Stats struct {
	Total             int
	Passing           int
	Failing           int
	FunctionalTotal   int
	FunctionalPassing int
	StyleTotal        int
	StylePassing      int
}

// ProgressPercent is Passing/Total as a percentage, 0 when Total is 0.
func (s Stats) ProgressPercent() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Passing) / float64(s.Total) * 100
}
