// Package injection implements the Human Injection contract (spec.md
// §4.13): explicit points where a human can steer a running session,
// persisted so an out-of-process "respond" command can answer them
// asynchronously while the agent polls.
package injection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/arcadiaforge/arcadiaforge/internal/store"
)

// Type is the kind of human input an injection point requests.
type Type string

const (
	TypeDecision Type = "decision"
	TypeApproval Type = "approval"
	TypeGuidance Type = "guidance"
	TypeReview   Type = "review"
	TypeRedirect Type = "redirect"
)

// Status is the lifecycle state of an injection point.
type Status string

const (
	StatusPending   Status = "pending"
	StatusResponded Status = "responded"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Point represents a single request for human input.
type Point struct {
	PointID           string
	SessionID         int64
	CreatedAt         time.Time
	Type              Type
	Context           map[string]any
	Options           []string
	Recommendation    string
	TimeoutSeconds    int
	DefaultOnTimeout  string
	Message           string
	Severity          int
	EscalationRuleID  string
	Status            Status
	Response          string
	RespondedBy       string
	RespondedAt       *time.Time
}

// IsPending reports whether the point is still awaiting a response.
func (p Point) IsPending() bool { return p.Status == StatusPending }

// Request describes the arguments to Ask.
type Request struct {
	Type             Type
	Context          map[string]any
	Options          []string
	Recommendation   string
	TimeoutSeconds   int
	DefaultOnTimeout string
	Message          string
	Severity         int
	EscalationRuleID string
}

// Interface manages injection points for one session.
type Interface struct {
	db        *store.Store
	sessionID int64
	seq       int
}

// New constructs an Interface, loading the next sequence number from
// however many injection points already exist.
func New(ctx context.Context, db *store.Store, sessionID int64) (*Interface, error) {
	i := &Interface{db: db, sessionID: sessionID, seq: 1}
	if err := i.db.Read(ctx, func(sqldb *sql.DB) error {
		var count int
		if err := sqldb.QueryRow(`SELECT COUNT(*) FROM injections`).Scan(&count); err != nil {
			return err
		}
		i.seq = count + 1
		return nil
	}); err != nil {
		return nil, err
	}
	return i, nil
}

// Create persists a new pending injection point and returns it. It does
// not block for a response — callers poll or use WaitFor.
func (i *Interface) Create(ctx context.Context, req Request) (Point, error) {
	pointID := fmt.Sprintf("INJ-%d-%d", i.sessionID, i.seq)
	i.seq++

	p := Point{
		PointID:          pointID,
		SessionID:        i.sessionID,
		CreatedAt:        time.Now().UTC(),
		Type:             req.Type,
		Context:          req.Context,
		Options:          req.Options,
		Recommendation:   req.Recommendation,
		TimeoutSeconds:   req.TimeoutSeconds,
		DefaultOnTimeout: req.DefaultOnTimeout,
		Message:          req.Message,
		Severity:         req.Severity,
		EscalationRuleID: req.EscalationRuleID,
		Status:           StatusPending,
		RespondedBy:      "pending",
	}
	if p.Severity == 0 {
		p.Severity = 3
	}
	if p.TimeoutSeconds == 0 {
		p.TimeoutSeconds = 300
	}

	err := i.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO injections (point_id, session_id, created_at, type, context, options,
			recommendation, timeout_seconds, default_on_timeout, message, severity, escalation_rule_id, status,
			responded_by) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.PointID, p.SessionID, p.CreatedAt.Format(time.RFC3339), string(p.Type),
			store.EncodeJSON(p.Context), store.EncodeJSON(p.Options), p.Recommendation, p.TimeoutSeconds,
			nullStr(p.DefaultOnTimeout), nullStr(p.Message), p.Severity, nullStr(p.EscalationRuleID),
			string(p.Status), p.RespondedBy,
		)
		return err
	})
	return p, err
}

// Outcome is what Resolve returns once a point stops being pending.
type Outcome struct {
	Responded   bool
	Response    string
	RespondedBy string
}

// Resolve polls the injection point until it is answered or cancelled.
// When the point has a DefaultOnTimeout, polling also ends once its timeout
// elapses and the default is recorded as the response; a point without a
// default is polled until ctx is done. pollInterval controls how often the
// database is checked; callers in tests typically pass a small interval.
func (i *Interface) Resolve(ctx context.Context, pointID string, pollInterval time.Duration) (Outcome, error) {
	p, err := i.Get(ctx, pointID)
	if err != nil {
		return Outcome{}, err
	}
	if p == nil {
		return Outcome{}, fmt.Errorf("injection: point %s not found", pointID)
	}

	hasDefault := p.DefaultOnTimeout != ""
	deadline := p.CreatedAt.Add(time.Duration(p.TimeoutSeconds) * time.Second)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		cur, err := i.Get(ctx, pointID)
		if err != nil {
			return Outcome{}, err
		}
		if cur != nil && cur.Status != StatusPending {
			return Outcome{
				Responded:   cur.Status == StatusResponded,
				Response:    firstNonEmpty(cur.Response, cur.Recommendation),
				RespondedBy: firstNonEmpty(cur.RespondedBy, "human"),
			}, nil
		}

		if hasDefault && time.Now().UTC().After(deadline) {
			if err := i.complete(ctx, pointID, p.DefaultOnTimeout, "timeout_default", StatusTimeout); err != nil {
				return Outcome{}, err
			}
			return Outcome{Responded: false, Response: p.DefaultOnTimeout, RespondedBy: "timeout_default"}, nil
		}

		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Respond records a human's answer to a pending point. Returns false if
// the point does not exist or is no longer pending.
func (i *Interface) Respond(ctx context.Context, pointID, response string) (bool, error) {
	var found bool
	err := i.db.Write(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE injections SET response = ?, responded_at = ?, responded_by = 'human',
			status = ? WHERE point_id = ? AND status = ?`,
			response, time.Now().UTC().Format(time.RFC3339), string(StatusResponded), pointID, string(StatusPending))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		found = n > 0
		return nil
	})
	return found, err
}

// Cancel marks a pending point as cancelled.
func (i *Interface) Cancel(ctx context.Context, pointID string) (bool, error) {
	var found bool
	err := i.db.Write(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE injections SET responded_at = ?, responded_by = 'cancelled', status = ?
			WHERE point_id = ? AND status = ?`,
			time.Now().UTC().Format(time.RFC3339), string(StatusCancelled), pointID, string(StatusPending))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		found = n > 0
		return nil
	})
	return found, err
}

func (i *Interface) complete(ctx context.Context, pointID, response, respondedBy string, status Status) error {
	return i.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE injections SET response = ?, responded_at = ?, responded_by = ?, status = ?
			WHERE point_id = ?`, response, time.Now().UTC().Format(time.RFC3339), respondedBy, string(status), pointID)
		return err
	})
}

// Get fetches a single injection point by ID, or nil if it doesn't exist.
func (i *Interface) Get(ctx context.Context, pointID string) (*Point, error) {
	var p *Point
	err := i.db.Read(ctx, func(sqldb *sql.DB) error {
		row := sqldb.QueryRow(`SELECT point_id, session_id, created_at, type, context, options, recommendation,
			timeout_seconds, default_on_timeout, message, severity, escalation_rule_id, status, response,
			responded_by, responded_at FROM injections WHERE point_id = ?`, pointID)
		pt, err := scanPoint(row)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		p = &pt
		return nil
	})
	return p, err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPoint(row scannable) (Point, error) {
	var p Point
	var createdAt string
	var typ, status string
	var contextJSON, optionsJSON string
	var defaultOnTimeout, message, escalationRuleID, response, respondedBy, respondedAt sql.NullString
	err := row.Scan(&p.PointID, &p.SessionID, &createdAt, &typ, &contextJSON, &optionsJSON, &p.Recommendation,
		&p.TimeoutSeconds, &defaultOnTimeout, &message, &p.Severity, &escalationRuleID, &status, &response,
		&respondedBy, &respondedAt)
	if err != nil {
		return Point{}, err
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.Type = Type(typ)
	p.Status = Status(status)
	_ = store.DecodeJSON(contextJSON, &p.Context)
	_ = store.DecodeJSON(optionsJSON, &p.Options)
	p.DefaultOnTimeout = defaultOnTimeout.String
	p.Message = message.String
	p.EscalationRuleID = escalationRuleID.String
	p.Response = response.String
	p.RespondedBy = respondedBy.String
	if respondedAt.Valid {
		t, _ := time.Parse(time.RFC3339, respondedAt.String)
		p.RespondedAt = &t
	}
	return p, nil
}

// Pending returns all points still awaiting a response, oldest first.
func (i *Interface) Pending(ctx context.Context) ([]Point, error) {
	var points []Point
	err := i.db.Read(ctx, func(sqldb *sql.DB) error {
		rows, err := sqldb.Query(`SELECT point_id, session_id, created_at, type, context, options, recommendation,
			timeout_seconds, default_on_timeout, message, severity, escalation_rule_id, status, response,
			responded_by, responded_at FROM injections WHERE status = ? ORDER BY created_at`, string(StatusPending))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanPoint(rows)
			if err != nil {
				return err
			}
			points = append(points, p)
		}
		return rows.Err()
	})
	return points, err
}

// HistoryEntry summarizes a completed or pending injection for display.
type HistoryEntry struct {
	PointID        string
	Timestamp      time.Time
	Type           Type
	SessionID      int64
	Recommendation string
	Completed      bool
	Response       string
	RespondedBy    string
	RespondedAt    *time.Time
}

// History returns recent injection points, newest first, optionally
// scoped to a single session.
func (i *Interface) History(ctx context.Context, limit int, sessionID *int64) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []HistoryEntry
	err := i.db.Read(ctx, func(sqldb *sql.DB) error {
		query := `SELECT point_id, created_at, type, session_id, recommendation, status, response,
			responded_by, responded_at FROM injections`
		args := []any{}
		if sessionID != nil {
			query += ` WHERE session_id = ?`
			args = append(args, *sessionID)
		}
		query += ` ORDER BY created_at DESC LIMIT ?`
		args = append(args, limit)

		rows, err := sqldb.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e HistoryEntry
			var createdAt, typ, status string
			var response, respondedBy, respondedAt sql.NullString
			if err := rows.Scan(&e.PointID, &createdAt, &typ, &e.SessionID, &e.Recommendation, &status,
				&response, &respondedBy, &respondedAt); err != nil {
				return err
			}
			e.Timestamp, _ = time.Parse(time.RFC3339, createdAt)
			e.Type = Type(typ)
			e.Completed = status != string(StatusPending)
			if e.Completed {
				e.Response = response.String
				e.RespondedBy = respondedBy.String
				if respondedAt.Valid {
					t, _ := time.Parse(time.RFC3339, respondedAt.String)
					e.RespondedAt = &t
				}
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})
	return entries, err
}

// Stats summarizes injection volume for display.
type Stats struct {
	TotalInjections int
	PendingCount    int
	ByType          map[string]int
	ByRespondedBy   map[string]int
}

// GetStats aggregates counts across all injection points.
func (i *Interface) GetStats(ctx context.Context) (Stats, error) {
	stats := Stats{ByType: map[string]int{}, ByRespondedBy: map[string]int{}}
	err := i.db.Read(ctx, func(sqldb *sql.DB) error {
		if err := sqldb.QueryRow(`SELECT COUNT(*) FROM injections`).Scan(&stats.TotalInjections); err != nil {
			return err
		}
		if err := sqldb.QueryRow(`SELECT COUNT(*) FROM injections WHERE status = ?`, string(StatusPending)).
			Scan(&stats.PendingCount); err != nil {
			return err
		}

		typeRows, err := sqldb.Query(`SELECT type, COUNT(*) FROM injections GROUP BY type`)
		if err != nil {
			return err
		}
		defer typeRows.Close()
		for typeRows.Next() {
			var t string
			var n int
			if err := typeRows.Scan(&t, &n); err != nil {
				return err
			}
			stats.ByType[t] = n
		}
		if err := typeRows.Err(); err != nil {
			return err
		}

		byRows, err := sqldb.Query(`SELECT responded_by, COUNT(*) FROM injections WHERE status != ?
			GROUP BY responded_by`, string(StatusPending))
		if err != nil {
			return err
		}
		defer byRows.Close()
		for byRows.Next() {
			var by string
			var n int
			if err := byRows.Scan(&by, &n); err != nil {
				return err
			}
			stats.ByRespondedBy[by] = n
		}
		return byRows.Err()
	})
	return stats, err
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
