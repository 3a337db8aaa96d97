// Package artifact is the Artifact Store (spec.md §4.3): content-addressed
// storage of verification evidence — screenshots, test output, commit
// metadata, file snapshots, logs, error dumps — copied into a project-local
// directory and indexed in the Persistence Store.
package artifact

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/arcadiaforge/arcadiaforge/internal/ids"
	"github.com/arcadiaforge/arcadiaforge/internal/store"
)

// Type classifies the kind of evidence an artifact captures.
type Type string

const (
	TypeScreenshot   Type = "screenshot"
	TypeTestResult   Type = "test_result"
	TypeGitCommit    Type = "git_commit"
	TypeFileSnapshot Type = "file_snapshot"
	TypeLog          Type = "log"
	TypeError        Type = "error"
	TypeVerification Type = "verification"
)

var typeSubdir = map[Type]string{
	TypeScreenshot:   "screenshots",
	TypeTestResult:   "test_results",
	TypeGitCommit:    "commits",
	TypeFileSnapshot: "snapshots",
	TypeLog:          "logs",
	TypeError:        "errors",
	TypeVerification: "verification",
}

// Artifact is one stored piece of evidence.
type Artifact struct {
	ID               string
	CreatedAt        time.Time
	Type             Type
	SessionID        int64
	FeatureIndex     *int
	OriginalName     string
	StoredPath       string // relative to the project root
	Checksum         string // sha256 hex digest of the stored copy
	SizeBytes        int64
	Description      string
	Metadata         map[string]any
	ParentArtifactID string
}

// Store manages artifact storage for a project.
type Store struct {
	db          *store.Store
	projectRoot string
}

// New wraps a persistence Store and the project root files are copied into.
func New(db *store.Store, projectRoot string) *Store {
	return &Store{db: db, projectRoot: projectRoot}
}

// StoreFile copies sourcePath into the artifacts tree, content-addresses it
// by sha256, and records it. The caller's file at sourcePath is left intact.
func (s *Store) StoreFile(ctx context.Context, typ Type, sourcePath string, sessionID int64, featureIndex *int, description string, metadata map[string]any, parentArtifactID string) (*Artifact, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("artifact: source file not found: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("artifact: source path %s is a directory", sourcePath)
	}

	checksum, err := checksumFile(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("artifact: checksum %s: %w", sourcePath, err)
	}

	seq, err := s.db.NextSeq(ctx, ids.Artifact)
	if err != nil {
		return nil, fmt.Errorf("artifact: allocate id: %w", err)
	}
	id := ids.New(ids.Artifact, sessionID, seq)

	subdir := typeSubdir[typ]
	if subdir == "" {
		subdir = "other"
	}
	originalName := filepath.Base(sourcePath)
	storedName := fmt.Sprintf("%s_%s", id, originalName)
	relPath := filepath.Join("artifacts", subdir, fmt.Sprintf("session_%d", sessionID), storedName)
	destPath := filepath.Join(s.projectRoot, relPath)

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create directory: %w", err)
	}
	if err := copyFile(sourcePath, destPath); err != nil {
		return nil, fmt.Errorf("artifact: copy file: %w", err)
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	a := &Artifact{
		ID:               id,
		CreatedAt:        time.Now().UTC(),
		Type:             typ,
		SessionID:        sessionID,
		FeatureIndex:     featureIndex,
		OriginalName:     originalName,
		StoredPath:       relPath,
		Checksum:         checksum,
		SizeBytes:        info.Size(),
		Description:      description,
		Metadata:         metadata,
		ParentArtifactID: parentArtifactID,
	}

	err = s.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO artifacts (
				artifact_id, session_id, feature_index, type, stored_path,
				checksum, size_bytes, description, metadata, parent_artifact_id, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.SessionID, nullIntPtr(a.FeatureIndex), string(a.Type), a.StoredPath,
			a.Checksum, a.SizeBytes, nullStr(a.Description), store.EncodeJSON(a.Metadata),
			nullStr(a.ParentArtifactID), a.CreatedAt.Format(time.RFC3339),
		)
		return err
	})
	if err != nil {
		_ = os.Remove(destPath)
		return nil, fmt.Errorf("artifact: record: %w", err)
	}
	return a, nil
}

// Get returns an artifact's metadata by ID.
func (s *Store) Get(ctx context.Context, id string) (*Artifact, error) {
	var a *Artifact
	err := s.db.Read(ctx, func(db *sql.DB) error {
		row := db.QueryRow(artifactSelect+` WHERE artifact_id = ?`, id)
		var err error
		a, err = scanArtifact(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Path returns the absolute path to an artifact's stored file.
func (s *Store) Path(ctx context.Context, id string) (string, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.projectRoot, a.StoredPath), nil
}

// ListFilter restricts List to artifacts matching the non-zero fields.
type ListFilter struct {
	SessionID    *int64
	Type         Type
	FeatureIndex *int
	Limit        int
}

// List returns artifacts matching the filter, most recent first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Artifact, error) {
	query := artifactSelect + ` WHERE 1=1`
	var args []any
	if filter.SessionID != nil {
		query += ` AND session_id = ?`
		args = append(args, *filter.SessionID)
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.FeatureIndex != nil {
		query += ` AND feature_index = ?`
		args = append(args, *filter.FeatureIndex)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	var out []*Artifact
	err := s.db.Read(ctx, func(db *sql.DB) error {
		rows, err := db.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			a, err := scanArtifact(rows)
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}

// ListForFeature is a convenience wrapper used to gather verification evidence.
func (s *Store) ListForFeature(ctx context.Context, featureIndex int) ([]*Artifact, error) {
	return s.List(ctx, ListFilter{FeatureIndex: &featureIndex})
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

const artifactSelect = `SELECT artifact_id, session_id, feature_index, type, stored_path,
	checksum, size_bytes, description, metadata, parent_artifact_id, created_at FROM artifacts`

type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row scanner) (*Artifact, error) {
	var a Artifact
	var typ string
	var featureIndex sql.NullInt64
	var description, parentID sql.NullString
	var metadataJSON, createdAt string

	err := row.Scan(&a.ID, &a.SessionID, &featureIndex, &typ, &a.StoredPath,
		&a.Checksum, &a.SizeBytes, &description, &metadataJSON, &parentID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.Type = Type(typ)
	a.Description = description.String
	a.ParentArtifactID = parentID.String
	a.OriginalName = filepath.Base(a.StoredPath)
	if featureIndex.Valid {
		v := int(featureIndex.Int64)
		a.FeatureIndex = &v
	}
	a.Metadata = map[string]any{}
	if err := store.DecodeJSON(metadataJSON, &a.Metadata); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		a.CreatedAt = t
	}
	return &a, nil
}

func nullIntPtr(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
