// Package checkpoint is the Checkpoint Manager (spec.md §4.4): semantic
// snapshots of project state at meaningful points, enabling recovery and
// rollback without replaying an entire session.
package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/arcadiaforge/arcadiaforge/internal/feature"
	"github.com/arcadiaforge/arcadiaforge/internal/ids"
	"github.com/arcadiaforge/arcadiaforge/internal/store"
	"github.com/arcadiaforge/arcadiaforge/internal/vcs"
)

// Trigger names what caused a checkpoint to be created.
type Trigger string

const (
	TriggerFeatureComplete Trigger = "feature_complete"
	TriggerBeforeRiskyOp   Trigger = "before_risky_op"
	TriggerErrorRecovery   Trigger = "error_recovery"
	TriggerHumanRequest    Trigger = "human_request"
	TriggerSessionEnd      Trigger = "session_end"
	TriggerSessionStart    Trigger = "session_start"
	TriggerManual          Trigger = "manual"
)

// Checkpoint is a semantic snapshot of project state.
type Checkpoint struct {
	ID        string
	Timestamp time.Time
	Trigger   Trigger
	SessionID int64

	GitCommit string
	GitBranch string
	GitClean  bool

	FeatureStatus   map[int]bool
	FeaturesPassing int
	FeaturesTotal   int

	FilesHash string

	LastSuccessfulFeature *int
	PendingWork           []string

	Metadata  map[string]any
	HumanNote string
}

// RollbackResult reports what a RollbackTo call actually did.
type RollbackResult struct {
	Success          bool
	CheckpointID     string
	Message          string
	GitReset         bool
	FeaturesRestored bool
	FilesAffected    int
}

// Manager creates, stores, lists, and restores checkpoints for a project.
type Manager struct {
	db          *store.Store
	features    *feature.Store
	projectRoot string
}

// New wraps a persistence Store, a Feature Store, and the project root.
func New(db *store.Store, features *feature.Store, projectRoot string) *Manager {
	return &Manager{db: db, features: features, projectRoot: projectRoot}
}

// Create gathers current git and feature state and records a new checkpoint.
func (m *Manager) Create(ctx context.Context, trigger Trigger, sessionID int64, metadata map[string]any, humanNote string, pendingWork []string) (*Checkpoint, error) {
	seq, err := m.db.NextSeq(ctx, ids.Checkpoint)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: allocate id: %w", err)
	}

	gitState := vcs.Snapshot(m.projectRoot)
	status, passing, total, err := m.featureStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read feature status: %w", err)
	}

	var lastSuccessful *int
	for idx, passes := range status {
		if !passes {
			continue
		}
		idx := idx
		if lastSuccessful == nil || idx > *lastSuccessful {
			lastSuccessful = &idx
		}
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	cp := &Checkpoint{
		ID:                    ids.New(ids.Checkpoint, sessionID, seq),
		Timestamp:             time.Now().UTC(),
		Trigger:               trigger,
		SessionID:             sessionID,
		GitCommit:             gitState.Commit,
		GitBranch:             gitState.Branch,
		GitClean:              gitState.Clean,
		FeatureStatus:         status,
		FeaturesPassing:       passing,
		FeaturesTotal:         total,
		FilesHash:             vcs.TrackedFilesHash(m.projectRoot),
		LastSuccessfulFeature: lastSuccessful,
		PendingWork:           pendingWork,
		Metadata:              metadata,
		HumanNote:             humanNote,
	}

	err = m.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO checkpoints (
				checkpoint_id, timestamp, trigger, session_id, git_commit, git_branch,
				git_clean, feature_status, features_passing, features_total, files_hash,
				last_successful_feature, pending_work, metadata, human_note
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cp.ID, cp.Timestamp.Format(time.RFC3339), string(cp.Trigger), cp.SessionID,
			cp.GitCommit, cp.GitBranch, boolToInt(cp.GitClean), store.EncodeJSON(statusToStringKeys(cp.FeatureStatus)),
			cp.FeaturesPassing, cp.FeaturesTotal, cp.FilesHash, nullIntPtr(cp.LastSuccessfulFeature),
			store.EncodeJSON(cp.PendingWork), store.EncodeJSON(cp.Metadata), nullStr(cp.HumanNote),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: record: %w", err)
	}
	return cp, nil
}

func (m *Manager) featureStatus(ctx context.Context) (map[int]bool, int, int, error) {
	stats, err := m.features.Stats(ctx)
	if err != nil {
		return nil, 0, 0, err
	}
	all, err := m.features.List(ctx, nil)
	if err != nil {
		return nil, 0, 0, err
	}
	status := make(map[int]bool, len(all))
	for _, f := range all {
		status[f.Index] = f.Passes
	}
	return status, stats.Passing, stats.Total, nil
}

// Get returns a checkpoint by ID.
func (m *Manager) Get(ctx context.Context, id string) (*Checkpoint, error) {
	var cp *Checkpoint
	err := m.db.Read(ctx, func(db *sql.DB) error {
		row := db.QueryRow(checkpointSelect+` WHERE checkpoint_id = ?`, id)
		var err error
		cp, err = scanCheckpoint(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// ListFilter restricts List to checkpoints matching the non-zero fields.
type ListFilter struct {
	SessionID *int64
	Trigger   Trigger
	Limit     int
}

// List returns checkpoints matching the filter, most recent first.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]*Checkpoint, error) {
	query := checkpointSelect + ` WHERE 1=1`
	var args []any
	if filter.SessionID != nil {
		query += ` AND session_id = ?`
		args = append(args, *filter.SessionID)
	}
	if filter.Trigger != "" {
		query += ` AND trigger = ?`
		args = append(args, string(filter.Trigger))
	}
	query += ` ORDER BY timestamp DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	var out []*Checkpoint
	err := m.db.Read(ctx, func(db *sql.DB) error {
		rows, err := db.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			cp, err := scanCheckpoint(rows)
			if err != nil {
				return err
			}
			out = append(out, cp)
		}
		return rows.Err()
	})
	return out, err
}

// Latest returns the most recent checkpoint, optionally scoped to a session.
func (m *Manager) Latest(ctx context.Context, sessionID *int64) (*Checkpoint, error) {
	found, err := m.List(ctx, ListFilter{SessionID: sessionID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

// RecoveryCheckpoint returns the most recent feature-completion checkpoint,
// the safest point to resume from after an unplanned interruption.
func (m *Manager) RecoveryCheckpoint(ctx context.Context) (*Checkpoint, error) {
	found, err := m.List(ctx, ListFilter{Trigger: TriggerFeatureComplete, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

// RollbackTo restores the working tree to a checkpoint's commit and
// reinstates its feature-pass snapshot. This is a first-class operation:
// the original implementation shipped rollback as an explicit stub
// ("Rollback not implemented in DB-only mode"); see DESIGN.md Open
// Question 3 for why this diverges.
func (m *Manager) RollbackTo(ctx context.Context, id string, resetGit bool) (*RollbackResult, error) {
	cp, err := m.Get(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return &RollbackResult{Success: false, CheckpointID: id, Message: "no such checkpoint"}, nil
		}
		return nil, err
	}

	result := &RollbackResult{CheckpointID: id}

	if resetGit {
		if err := vcs.HardReset(m.projectRoot, cp.GitCommit); err != nil {
			result.Message = fmt.Sprintf("git reset failed: %v", err)
			return result, nil
		}
		result.GitReset = true
	}

	if err := m.features.RestoreStatus(ctx, cp.FeatureStatus); err != nil {
		result.Message = fmt.Sprintf("feature status restore failed: %v", err)
		return result, nil
	}
	result.FeaturesRestored = true
	result.Success = true
	result.Message = fmt.Sprintf("rolled back to %s", id)
	return result, nil
}

const checkpointSelect = `SELECT checkpoint_id, timestamp, trigger, session_id, git_commit, git_branch,
	git_clean, feature_status, features_passing, features_total, files_hash,
	last_successful_feature, pending_work, metadata, human_note FROM checkpoints`

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (*Checkpoint, error) {
	var cp Checkpoint
	var timestamp, trigger, featureStatusJSON, pendingWorkJSON, metadataJSON string
	var gitClean int
	var lastSuccessful sql.NullInt64
	var humanNote sql.NullString

	err := row.Scan(&cp.ID, &timestamp, &trigger, &cp.SessionID, &cp.GitCommit, &cp.GitBranch,
		&gitClean, &featureStatusJSON, &cp.FeaturesPassing, &cp.FeaturesTotal, &cp.FilesHash,
		&lastSuccessful, &pendingWorkJSON, &metadataJSON, &humanNote)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cp.Trigger = Trigger(trigger)
	cp.GitClean = gitClean != 0
	cp.HumanNote = humanNote.String
	if lastSuccessful.Valid {
		v := int(lastSuccessful.Int64)
		cp.LastSuccessfulFeature = &v
	}
	if t, err := time.Parse(time.RFC3339, timestamp); err == nil {
		cp.Timestamp = t
	}

	var stringStatus map[string]bool
	if err := store.DecodeJSON(featureStatusJSON, &stringStatus); err != nil {
		return nil, err
	}
	cp.FeatureStatus = stringKeysToStatus(stringStatus)

	cp.PendingWork = []string{}
	if err := store.DecodeJSON(pendingWorkJSON, &cp.PendingWork); err != nil {
		return nil, err
	}
	cp.Metadata = map[string]any{}
	if err := store.DecodeJSON(metadataJSON, &cp.Metadata); err != nil {
		return nil, err
	}
	return &cp, nil
}

// statusToStringKeys converts an int-keyed status map to string keys for
// JSON encoding (JSON object keys must be strings).
func statusToStringKeys(status map[int]bool) map[string]bool {
	out := make(map[string]bool, len(status))
	for k, v := range status {
		out[fmt.Sprintf("%d", k)] = v
	}
	return out
}

func stringKeysToStatus(status map[string]bool) map[int]bool {
	out := make(map[int]bool, len(status))
	for k, v := range status {
		var idx int
		if _, err := fmt.Sscanf(k, "%d", &idx); err == nil {
			out[idx] = v
		}
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullIntPtr(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
