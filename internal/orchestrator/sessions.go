package orchestrator

import (
	"context"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/arcadiaforge/arcadiaforge/internal/store"
)

// startSession inserts a new row into the sessions table and returns its
// autoincrement id alongside a stable external ULID (stored as session_uuid).
func startSession(ctx context.Context, db *store.Store) (id int64, uuid string, err error) {
	uuid = ulid.Make().String()
	err = db.Write(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`INSERT INTO sessions (session_uuid, start_time, status) VALUES (?, ?, ?)`,
			uuid, time.Now().UTC().Format(time.RFC3339), "running")
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, uuid, err
}

// endSession closes out a session row with its terminal status and
// accumulated cost.
func endSession(ctx context.Context, db *store.Store, sessionID int64, status string, totalCostUSD float64) error {
	return db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE sessions SET end_time = ?, status = ?, total_cost = ? WHERE id = ?`,
			time.Now().UTC().Format(time.RFC3339), status, totalCostUSD, sessionID)
		return err
	})
}

// PausedSession is the persisted record of a clean pause: a session that
// ended because a pause signal was observed, not because of a terminal
// status.
type PausedSession struct {
	SessionID    int64
	PausedAt     time.Time
	Reason       string
	CheckpointID string
}

func persistPausedSession(ctx context.Context, db *store.Store, p PausedSession) error {
	return db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO paused_sessions (session_id, paused_at, reason, checkpoint_id) VALUES (?, ?, ?, ?)`,
			p.SessionID, p.PausedAt.UTC().Format(time.RFC3339), p.Reason, p.CheckpointID)
		return err
	})
}
