// Package stall implements the Stall Detector (spec.md §4.12): it notices
// when a session makes no progress, escalates once a threshold of
// consecutive stalled sessions is reached, and tracks capability-blocked
// stalls separately from plain no-progress ones.
package stall

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/arcadiaforge/arcadiaforge/internal/store"
)

// Type names the kind of stall detected.
type Type string

const (
	TypeNoProgress        Type = "no_progress"
	TypeCyclic            Type = "cyclic"
	TypeCapabilityMissing Type = "capability_missing"
)

// DefaultThreshold is the number of consecutive no-progress sessions
// before a stall escalates to a human.
const DefaultThreshold = 5

// Status is the result of one progress check.
type Status struct {
	IsStalled           bool
	StallType           Type
	ConsecutiveSessions int
	Message             string
	ShouldEscalate      bool
	BlockedOn           string
	BlockedFeatures     []int
	MissingCapability   string
}

// Manager tracks session-to-session progress and raises a Status once a
// session ends without any forward motion.
type Manager struct {
	db             *store.Store
	stallThreshold int

	sessionID           int64
	sessionStartPassing int
	sessionStartGitHash string
}

// New constructs a Manager with the default stall threshold.
func New(db *store.Store) *Manager {
	return &Manager{db: db, stallThreshold: DefaultThreshold}
}

// WithThreshold overrides the default consecutive-session threshold.
func (m *Manager) WithThreshold(threshold int) *Manager {
	m.stallThreshold = threshold
	return m
}

// SetSessionBaseline records the starting point for this session's
// progress comparison; call it once at session start.
func (m *Manager) SetSessionBaseline(sessionID int64, passingCount int, gitHash string) {
	m.sessionID = sessionID
	m.sessionStartPassing = passingCount
	m.sessionStartGitHash = gitHash
}

// CheckProgress compares the session's current state against its
// baseline. If any progress was made, any open stall is resolved;
// otherwise the historical stall record is incremented.
func (m *Manager) CheckProgress(ctx context.Context, currentPassing int, currentGitHash string) (Status, error) {
	testsImproved := currentPassing > m.sessionStartPassing
	gitChanged := currentGitHash != "" && m.sessionStartGitHash != "" && currentGitHash != m.sessionStartGitHash

	if testsImproved || gitChanged {
		if err := m.clearStallRecord(ctx); err != nil {
			return Status{}, err
		}
		return Status{IsStalled: false, Message: "Progress made this session"}, nil
	}

	return m.checkHistoricalStalls(ctx, currentPassing, currentGitHash)
}

func (m *Manager) checkHistoricalStalls(ctx context.Context, currentPassing int, currentGitHash string) (Status, error) {
	var status Status
	err := m.db.Write(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRow(`SELECT id, stall_type, consecutive_sessions, blocked_on, missing_capability, blocked_features
			FROM stall_records WHERE resolved = 0 ORDER BY detected_at DESC LIMIT 1`)
		var id int64
		var stallType string
		var consecutive int
		var blockedOn, missingCap sql.NullString
		var blockedFeaturesJSON string
		err := row.Scan(&id, &stallType, &consecutive, &blockedOn, &missingCap, &blockedFeaturesJSON)

		var gitHash any
		if currentGitHash != "" {
			gitHash = currentGitHash
		}

		switch {
		case err == sql.ErrNoRows:
			consecutive = 1
			stallType = string(TypeNoProgress)
			_, execErr := tx.Exec(`INSERT INTO stall_records (session_id, detected_at, stall_type,
				consecutive_sessions, last_passing_count, last_git_hash) VALUES (?, ?, ?, ?, ?, ?)`,
				m.sessionID, time.Now().UTC().Format(time.RFC3339), stallType, consecutive, currentPassing, gitHash)
			if execErr != nil {
				return execErr
			}
		case err != nil:
			return err
		default:
			consecutive++
			_, execErr := tx.Exec(`UPDATE stall_records SET consecutive_sessions = ?, last_passing_count = ?,
				last_git_hash = ?, session_id = ? WHERE id = ?`, consecutive, currentPassing, gitHash, m.sessionID, id)
			if execErr != nil {
				return execErr
			}
		}

		shouldEscalate := consecutive >= m.stallThreshold
		message := fmt.Sprintf("No progress this session (%d/%d threshold)", consecutive, m.stallThreshold)
		if shouldEscalate {
			message = fmt.Sprintf("STALL DETECTED: No progress for %d consecutive sessions. Features passing: %d. ",
				consecutive, currentPassing)
			if blockedOn.Valid && blockedOn.String != "" {
				message += fmt.Sprintf("Blocked on: %s. ", blockedOn.String)
			}
			if missingCap.Valid && missingCap.String != "" {
				message += fmt.Sprintf("Missing capability: %s. ", missingCap.String)
			}
		}

		var blockedFeatures []int
		if blockedFeaturesJSON != "" {
			_ = store.DecodeJSON(blockedFeaturesJSON, &blockedFeatures)
		}

		status = Status{
			IsStalled:           consecutive >= 2,
			StallType:           Type(stallType),
			ConsecutiveSessions: consecutive,
			Message:             message,
			ShouldEscalate:      shouldEscalate,
			BlockedOn:           blockedOn.String,
			BlockedFeatures:     blockedFeatures,
			MissingCapability:   missingCap.String,
		}
		return nil
	})
	return status, err
}

func (m *Manager) clearStallRecord(ctx context.Context) error {
	return m.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE stall_records SET resolved = 1, resolved_at = ?, resolution = 'Progress made'
			WHERE resolved = 0`, time.Now().UTC().Format(time.RFC3339))
		return err
	})
}

// RecordCapabilityStall logs a stall caused by a missing system
// capability (e.g. a required CLI tool not installed).
func (m *Manager) RecordCapabilityStall(ctx context.Context, capability, reason string, blockedFeatures []int) error {
	return m.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO stall_records (session_id, detected_at, stall_type, consecutive_sessions,
			blocked_on, blocked_features, missing_capability) VALUES (?, ?, ?, 1, ?, ?, ?)`,
			m.sessionID, time.Now().UTC().Format(time.RFC3339), string(TypeCapabilityMissing), reason,
			store.EncodeJSON(blockedFeatures), capability,
		)
		return err
	})
}

// MarkEscalated flags the most recent open stall as having been shown to
// a human, without blocking on a response (the agent keeps running).
func (m *Manager) MarkEscalated(ctx context.Context) error {
	return m.db.Write(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRow(`SELECT id FROM stall_records WHERE resolved = 0 ORDER BY detected_at DESC LIMIT 1`)
		var id int64
		if err := row.Scan(&id); err == sql.ErrNoRows {
			return nil
		} else if err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE stall_records SET escalated = 1, escalated_at = ? WHERE id = ?`,
			time.Now().UTC().Format(time.RFC3339), id)
		return err
	})
}

// GuidanceRequest describes the human input a stalled session should
// solicit. It is shaped to be handed to an injection request builder
// rather than performed by this package directly, since polling for a
// human response is outside the stall detector's concern.
type GuidanceRequest struct {
	Message          string
	Options          []string
	Recommendation   string
	TimeoutSeconds   int
	DefaultOnTimeout string
}

// EscalateToHuman marks the most recent open stall as escalated and
// returns the guidance request a caller should present to a human.
func (m *Manager) EscalateToHuman(ctx context.Context, status Status) (GuidanceRequest, error) {
	if err := m.MarkEscalated(ctx); err != nil {
		return GuidanceRequest{}, err
	}
	return GuidanceRequest{
		Message:          status.Message,
		Options:          []string{"Continue anyway", "Skip blocked features", "Stop agent"},
		Recommendation:   "Continue anyway",
		TimeoutSeconds:   60,
		DefaultOnTimeout: "Continue anyway",
	}, nil
}

// Summary is a recent-history snapshot for inclusion in agent context.
type Summary struct {
	TotalStalls      int
	UnresolvedStalls int
	RecentStalls     []RecentStall
}

// RecentStall is one entry in Summary.RecentStalls.
type RecentStall struct {
	Type              Type
	Sessions          int
	Resolved          bool
	BlockedOn         string
	MissingCapability string
}

// Summarize returns the 10 most recent stall records (5 detailed), for
// inclusion in the agent's context.
func (m *Manager) Summarize(ctx context.Context) (Summary, error) {
	var summary Summary
	err := m.db.Read(ctx, func(sqldb *sql.DB) error {
		rows, err := sqldb.Query(`SELECT stall_type, consecutive_sessions, resolved, blocked_on, missing_capability
			FROM stall_records ORDER BY detected_at DESC LIMIT 10`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var stallType string
			var sessions, resolved int
			var blockedOn, missingCap sql.NullString
			if err := rows.Scan(&stallType, &sessions, &resolved, &blockedOn, &missingCap); err != nil {
				return err
			}
			summary.TotalStalls++
			if resolved == 0 {
				summary.UnresolvedStalls++
			}
			if len(summary.RecentStalls) < 5 {
				summary.RecentStalls = append(summary.RecentStalls, RecentStall{
					Type: Type(stallType), Sessions: sessions, Resolved: resolved != 0,
					BlockedOn: blockedOn.String, MissingCapability: missingCap.String,
				})
			}
		}
		return rows.Err()
	})
	return summary, err
}
