package feature

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/arcadiaforge/arcadiaforge/internal/logging"
	"github.com/arcadiaforge/arcadiaforge/internal/store"
)

// Store is the Feature Store: every operation reads/writes the Persistence
// Store directly rather than keeping an in-memory cache, so there is never
// a stale-cache class of bug to reason about — the database row is always
// the single source of truth spec.md §3 requires.
type Store struct {
	db *store.Store
}

// New wraps a persistence Store as a Feature Store.
func New(db *store.Store) *Store {
	return &Store{db: db}
}

// Add appends a new feature with the next contiguous index.
func (s *Store) Add(ctx context.Context, description string, steps []string, category Category) (*Feature, error) {
	if category == "" {
		category = CategoryFunctional
	}
	f := &Feature{
		Category:    category,
		Description: description,
		Steps:       steps,
		Priority:    3,
		Metadata:    map[string]any{},
	}
	err := s.db.Write(ctx, func(tx *sql.Tx) error {
		var next sql.NullInt64
		if err := tx.QueryRow(`SELECT MAX(idx) FROM features`).Scan(&next); err != nil {
			return err
		}
		f.Index = 0
		if next.Valid {
			f.Index = int(next.Int64) + 1
		}
		return insertFeature(tx, f)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// AddFeaturesFromList bulk-adds features, preserving the caller's order as
// the contiguous index range. Returns the count added.
func (s *Store) AddFeaturesFromList(ctx context.Context, items []struct {
	Description string
	Steps       []string
	Category    Category
}) (int, error) {
	added := 0
	err := s.db.Write(ctx, func(tx *sql.Tx) error {
		var next sql.NullInt64
		if err := tx.QueryRow(`SELECT MAX(idx) FROM features`).Scan(&next); err != nil {
			return err
		}
		idx := 0
		if next.Valid {
			idx = int(next.Int64) + 1
		}
		for _, item := range items {
			category := item.Category
			if category == "" {
				category = CategoryFunctional
			}
			f := &Feature{
				Index:       idx,
				Category:    category,
				Description: item.Description,
				Steps:       item.Steps,
				Priority:    3,
				Metadata:    map[string]any{},
			}
			if err := insertFeature(tx, f); err != nil {
				return err
			}
			idx++
			added++
		}
		return nil
	})
	return added, err
}

func insertFeature(tx *sql.Tx, f *Feature) error {
	_, err := tx.Exec(`
		INSERT INTO features (
			idx, category, description, steps, passes, verification_skipped,
			verified_at, audit_status, audit_notes, audit_reviewer, audit_time,
			priority, failure_count, last_worked, blocked_by, blocks, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Index, string(f.Category), f.Description, store.EncodeJSON(f.Steps),
		boolToInt(f.Passes), boolToInt(f.VerificationSkipped), nullTime(f.VerifiedAt),
		nullString(f.AuditStatus), store.EncodeJSON(f.AuditNotes), nullString(f.AuditReviewer),
		nullTime(f.AuditTime), f.Priority, f.FailureCount, nullTime(f.LastWorked),
		store.EncodeJSON(f.BlockedBy), store.EncodeJSON(f.Blocks), store.EncodeJSON(f.Metadata),
	)
	return err
}

// Get returns a single feature by index.
func (s *Store) Get(ctx context.Context, index int) (*Feature, error) {
	var f *Feature
	err := s.db.Read(ctx, func(db *sql.DB) error {
		row := db.QueryRow(featureSelect+` WHERE idx = ?`, index)
		var err error
		f, err = scanFeature(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// List returns all features, optionally filtered by category, ordered by index.
func (s *Store) List(ctx context.Context, category *Category) ([]*Feature, error) {
	var out []*Feature
	err := s.db.Read(ctx, func(db *sql.DB) error {
		query := featureSelect + ` ORDER BY idx`
		var rows *sql.Rows
		var err error
		if category != nil {
			rows, err = db.Query(featureSelect+` WHERE category = ? ORDER BY idx`, string(*category))
		} else {
			rows, err = db.Query(query)
		}
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			f, err := scanFeature(rows)
			if err != nil {
				return err
			}
			out = append(out, f)
		}
		return rows.Err()
	})
	return out, err
}

// Mark sets a feature's passes bit. Marking an index passing while a
// blocked_by entry is not yet passing is allowed (human override) but
// returns a non-empty warning for the caller to surface to Observability.
func (s *Store) Mark(ctx context.Context, index int, passes bool) (warning string, err error) {
	err = s.db.Write(ctx, func(tx *sql.Tx) error {
		f, err := scanFeature(tx.QueryRow(featureSelect+` WHERE idx = ?`, index))
		if err != nil {
			return err
		}
		if passes && len(f.BlockedBy) > 0 {
			status, statusErr := featureStatusMap(tx)
			if statusErr != nil {
				return statusErr
			}
			if f.IsBlocked(status) {
				warning = fmt.Sprintf("feature %d marked passing while blocked by an unsatisfied dependency", index)
				logging.Warn().Int("feature", index).Msg(warning)
			}
		}
		_, err = tx.Exec(`UPDATE features SET passes = ? WHERE idx = ?`, boolToInt(passes), index)
		return err
	})
	return warning, err
}

// RestoreStatus bulk-overwrites the passes bit for every index present in
// status, with no blocked-dependency warning. Used by checkpoint rollback to
// reinstate a prior snapshot wholesale rather than as an individual mark.
func (s *Store) RestoreStatus(ctx context.Context, status map[int]bool) error {
	return s.db.Write(ctx, func(tx *sql.Tx) error {
		for index, passes := range status {
			if _, err := tx.Exec(`UPDATE features SET passes = ? WHERE idx = ?`, boolToInt(passes), index); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordAttempt updates last_worked and failure_count for one attempt.
func (s *Store) RecordAttempt(ctx context.Context, index int, success bool, now time.Time) error {
	return s.db.Write(ctx, func(tx *sql.Tx) error {
		var failureCount int
		if err := tx.QueryRow(`SELECT failure_count FROM features WHERE idx = ?`, index).Scan(&failureCount); err != nil {
			return err
		}
		if success {
			failureCount = 0
		} else {
			failureCount++
		}
		_, err := tx.Exec(`UPDATE features SET last_worked = ?, failure_count = ? WHERE idx = ?`,
			now.UTC().Format(time.RFC3339), failureCount, index)
		return err
	})
}

// SetPriority clamps and sets a feature's priority (1..4).
func (s *Store) SetPriority(ctx context.Context, index, priority int) error {
	if priority < 1 {
		priority = 1
	}
	if priority > 4 {
		priority = 4
	}
	return s.db.Write(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE features SET priority = ? WHERE idx = ?`, priority, index)
		if err != nil {
			return err
		}
		return checkAffected(res, index)
	})
}

// ErrCycle is returned when AddDependency would introduce a dependency cycle.
var ErrCycle = fmt.Errorf("feature: dependency would introduce a cycle")

// AddDependency records that featureIndex depends on dependsOn, rejecting
// the edge (via DFS) if it would introduce a cycle in the blocked_by graph.
// The Python original has no such check; spec.md §4.2 and its testable
// property 8 require one, so this is added fresh.
func (s *Store) AddDependency(ctx context.Context, featureIndex, dependsOn int) error {
	if featureIndex == dependsOn {
		return ErrCycle
	}
	return s.db.Write(ctx, func(tx *sql.Tx) error {
		graph, err := blockedByGraph(tx)
		if err != nil {
			return err
		}
		if _, ok := graph[featureIndex]; !ok {
			return fmt.Errorf("feature: no such feature %d", featureIndex)
		}
		if _, ok := graph[dependsOn]; !ok {
			return fmt.Errorf("feature: no such feature %d", dependsOn)
		}
		graph[featureIndex] = append(graph[featureIndex], dependsOn)
		if hasCycle(graph) {
			return ErrCycle
		}

		f, err := scanFeature(tx.QueryRow(featureSelect+` WHERE idx = ?`, featureIndex))
		if err != nil {
			return err
		}
		if !containsInt(f.BlockedBy, dependsOn) {
			f.BlockedBy = append(f.BlockedBy, dependsOn)
		}
		if _, err := tx.Exec(`UPDATE features SET blocked_by = ? WHERE idx = ?`, store.EncodeJSON(f.BlockedBy), featureIndex); err != nil {
			return err
		}

		blocker, err := scanFeature(tx.QueryRow(featureSelect+` WHERE idx = ?`, dependsOn))
		if err != nil {
			return err
		}
		if !containsInt(blocker.Blocks, featureIndex) {
			blocker.Blocks = append(blocker.Blocks, featureIndex)
		}
		_, err = tx.Exec(`UPDATE features SET blocks = ? WHERE idx = ?`, store.EncodeJSON(blocker.Blocks), dependsOn)
		return err
	})
}

// RemoveDependency reverses AddDependency.
func (s *Store) RemoveDependency(ctx context.Context, featureIndex, dependsOn int) error {
	return s.db.Write(ctx, func(tx *sql.Tx) error {
		f, err := scanFeature(tx.QueryRow(featureSelect+` WHERE idx = ?`, featureIndex))
		if err != nil {
			return err
		}
		f.BlockedBy = removeInt(f.BlockedBy, dependsOn)
		if _, err := tx.Exec(`UPDATE features SET blocked_by = ? WHERE idx = ?`, store.EncodeJSON(f.BlockedBy), featureIndex); err != nil {
			return err
		}

		blocker, err := scanFeature(tx.QueryRow(featureSelect+` WHERE idx = ?`, dependsOn))
		if err != nil {
			return err
		}
		blocker.Blocks = removeInt(blocker.Blocks, featureIndex)
		_, err = tx.Exec(`UPDATE features SET blocks = ? WHERE idx = ?`, store.EncodeJSON(blocker.Blocks), dependsOn)
		return err
	})
}

// Stats summarizes pass/fail counts overall and per category.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	features, err := s.List(ctx, nil)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, f := range features {
		st.Total++
		if f.Passes {
			st.Passing++
		} else {
			st.Failing++
		}
		switch f.Category {
		case CategoryFunctional:
			st.FunctionalTotal++
			if f.Passes {
				st.FunctionalPassing++
			}
		case CategoryStyle:
			st.StyleTotal++
			if f.Passes {
				st.StylePassing++
			}
		}
	}
	return st, nil
}

// NextReady returns the first (lowest-index) incomplete, unblocked feature,
// optionally restricted to category.
func (s *Store) NextReady(ctx context.Context, category *Category) (*Feature, error) {
	features, err := s.List(ctx, category)
	if err != nil {
		return nil, err
	}
	status := statusMapFrom(features)
	for _, f := range features {
		if !f.Passes && !f.IsBlocked(status) {
			return f, nil
		}
	}
	return nil, nil
}

// NextBySalience returns the highest-salience incomplete feature.
func (s *Store) NextBySalience(ctx context.Context, sctx SalienceContext, category *Category, excludeBlocked bool, now time.Time) (*Feature, error) {
	ranked, err := s.rankBySalience(ctx, sctx, category, excludeBlocked, false, now)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, nil
	}
	return ranked[0].feature, nil
}

// RankedFeature pairs a feature with its salience score for display/tooling.
type RankedFeature struct {
	Feature *Feature
	Score   float64
}

// FeaturesBySalience ranks up to limit features by salience score.
func (s *Store) FeaturesBySalience(ctx context.Context, sctx SalienceContext, limit int, includePassing bool, now time.Time) ([]RankedFeature, error) {
	ranked, err := s.rankBySalience(ctx, sctx, nil, false, includePassing, now)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]RankedFeature, len(ranked))
	for i, r := range ranked {
		out[i] = RankedFeature{Feature: r.feature, Score: r.score}
	}
	return out, nil
}

func (s *Store) rankBySalience(ctx context.Context, sctx SalienceContext, category *Category, excludeBlocked, includePassing bool, now time.Time) ([]rankedFeature, error) {
	features, err := s.List(ctx, category)
	if err != nil {
		return nil, err
	}
	status := statusMapFrom(features)
	var candidates []rankedFeature
	for _, f := range features {
		if f.Passes && !includePassing {
			continue
		}
		if excludeBlocked && f.IsBlocked(status) {
			continue
		}
		candidates = append(candidates, rankedFeature{feature: f, score: calculateSalience(f, sctx, now)})
	}
	sortBySalience(candidates)
	return candidates, nil
}

// Search does a case-insensitive substring match over description and steps.
func (s *Store) Search(ctx context.Context, text string) ([]*Feature, error) {
	features, err := s.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(text)
	var out []*Feature
	for _, f := range features {
		if strings.Contains(strings.ToLower(f.Description), needle) {
			out = append(out, f)
			continue
		}
		for _, step := range f.Steps {
			if strings.Contains(strings.ToLower(step), needle) {
				out = append(out, f)
				break
			}
		}
	}
	return out, nil
}

// Validate checks the catalogue's invariants: contiguous indices from 0 and
// a blocked_by graph free of cycles.
func (s *Store) Validate(ctx context.Context) (bool, []string, error) {
	features, err := s.List(ctx, nil)
	if err != nil {
		return false, nil, err
	}
	var problems []string
	for i, f := range features {
		if f.Index != i {
			problems = append(problems, fmt.Sprintf("non-contiguous index: expected %d, found %d", i, f.Index))
		}
	}
	graph := make(map[int][]int, len(features))
	for _, f := range features {
		graph[f.Index] = f.BlockedBy
	}
	if hasCycle(graph) {
		problems = append(problems, "blocked_by graph contains a cycle")
	}
	return len(problems) == 0, problems, nil
}

// BlockedFeatures returns incomplete features with at least one unsatisfied dependency.
func (s *Store) BlockedFeatures(ctx context.Context) ([]*Feature, error) {
	features, err := s.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	status := statusMapFrom(features)
	var out []*Feature
	for _, f := range features {
		if !f.Passes && f.IsBlocked(status) {
			out = append(out, f)
		}
	}
	return out, nil
}

// UnblockedFeatures returns incomplete features with no unsatisfied dependency.
func (s *Store) UnblockedFeatures(ctx context.Context) ([]*Feature, error) {
	features, err := s.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	status := statusMapFrom(features)
	var out []*Feature
	for _, f := range features {
		if !f.Passes && !f.IsBlocked(status) {
			out = append(out, f)
		}
	}
	return out, nil
}

// HighFailureFeatures returns features whose failure_count is at least minFailures.
func (s *Store) HighFailureFeatures(ctx context.Context, minFailures int) ([]*Feature, error) {
	features, err := s.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	var out []*Feature
	for _, f := range features {
		if f.FailureCount >= minFailures {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func statusMapFrom(features []*Feature) map[int]bool {
	status := make(map[int]bool, len(features))
	for _, f := range features {
		status[f.Index] = f.Passes
	}
	return status
}

func featureStatusMap(tx *sql.Tx) (map[int]bool, error) {
	rows, err := tx.Query(`SELECT idx, passes FROM features`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	status := make(map[int]bool)
	for rows.Next() {
		var idx int
		var passes int
		if err := rows.Scan(&idx, &passes); err != nil {
			return nil, err
		}
		status[idx] = passes != 0
	}
	return status, rows.Err()
}

func blockedByGraph(tx *sql.Tx) (map[int][]int, error) {
	rows, err := tx.Query(`SELECT idx, blocked_by FROM features`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	graph := make(map[int][]int)
	for rows.Next() {
		var idx int
		var blockedByJSON string
		if err := rows.Scan(&idx, &blockedByJSON); err != nil {
			return nil, err
		}
		var blockedBy []int
		if err := store.DecodeJSON(blockedByJSON, &blockedBy); err != nil {
			return nil, err
		}
		graph[idx] = blockedBy
	}
	return graph, rows.Err()
}

// hasCycle runs DFS over the blocked_by graph (feature -> its dependencies).
func hasCycle(graph map[int][]int) bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int]int, len(graph))
	var visit func(int) bool
	visit = func(n int) bool {
		color[n] = gray
		for _, next := range graph[n] {
			switch color[next] {
			case gray:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[n] = black
		return false
	}
	for n := range graph {
		if color[n] == white {
			if visit(n) {
				return true
			}
		}
	}
	return false
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func removeInt(xs []int, v int) []int {
	out := xs[:0]
	for _, x := range xs {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func checkAffected(res sql.Result, index int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("feature: no such feature %d", index)
	}
	return nil
}

const featureSelect = `SELECT idx, category, description, steps, passes, verification_skipped,
	verified_at, audit_status, audit_notes, audit_reviewer, audit_time,
	priority, failure_count, last_worked, blocked_by, blocks, metadata FROM features`

type scanner interface {
	Scan(dest ...any) error
}

func scanFeature(row scanner) (*Feature, error) {
	var f Feature
	var stepsJSON, auditNotesJSON, blockedByJSON, blocksJSON, metadataJSON string
	var passes, verificationSkipped int
	var verifiedAt, auditTime, lastWorked sql.NullString
	var auditStatus, auditReviewer sql.NullString

	err := row.Scan(
		&f.Index, &f.Category, &f.Description, &stepsJSON, &passes, &verificationSkipped,
		&verifiedAt, &auditStatus, &auditNotesJSON, &auditReviewer, &auditTime,
		&f.Priority, &f.FailureCount, &lastWorked, &blockedByJSON, &blocksJSON, &metadataJSON,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	f.Passes = passes != 0
	f.VerificationSkipped = verificationSkipped != 0
	f.AuditStatus = auditStatus.String
	f.AuditReviewer = auditReviewer.String
	f.VerifiedAt = parseNullTime(verifiedAt)
	f.AuditTime = parseNullTime(auditTime)
	f.LastWorked = parseNullTime(lastWorked)

	if err := store.DecodeJSON(stepsJSON, &f.Steps); err != nil {
		return nil, err
	}
	if err := store.DecodeJSON(auditNotesJSON, &f.AuditNotes); err != nil {
		return nil, err
	}
	if err := store.DecodeJSON(blockedByJSON, &f.BlockedBy); err != nil {
		return nil, err
	}
	if err := store.DecodeJSON(blocksJSON, &f.Blocks); err != nil {
		return nil, err
	}
	f.Metadata = map[string]any{}
	if err := store.DecodeJSON(metadataJSON, &f.Metadata); err != nil {
		return nil, err
	}
	return &f, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}
