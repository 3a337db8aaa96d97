// Package observability implements the Observability component
// (spec.md §4.14): it persists the event.Bus stream to durable storage
// and derives per-session metrics and budget checks from it.
package observability

import (
	"context"
	"database/sql"
	"time"

	"github.com/arcadiaforge/arcadiaforge/internal/event"
	"github.com/arcadiaforge/arcadiaforge/internal/store"
)

// Recorder subscribes to an event.Bus and persists every event to the
// store, then answers metric and budget queries derived from that log.
type Recorder struct {
	db  *store.Store
	bus *event.Bus

	unsubscribe func()
}

// NewRecorder wires a Recorder to the given bus (pass nil for the
// package-level global bus) and starts persisting events. Each event is
// written inside the subscriber call: before PublishSync returns, and on
// the subscriber's own goroutine for Publish.
func NewRecorder(db *store.Store, bus *event.Bus) *Recorder {
	r := &Recorder{db: db, bus: bus}
	r.start()
	return r
}

func (r *Recorder) start() {
	handler := func(e event.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.persist(ctx, e)
	}
	if r.bus != nil {
		r.unsubscribe = r.bus.SubscribeAll(handler)
	} else {
		r.unsubscribe = event.SubscribeAll(handler)
	}
}

// Stop detaches the Recorder from the bus.
func (r *Recorder) Stop() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

func (r *Recorder) persist(ctx context.Context, e event.Event) error {
	return r.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO observability_events (session_ref, seq, type, time, data)
			VALUES (?, ?, ?, ?, ?)`, e.SessionID, e.Seq, string(e.Type), e.Time.UTC().Format(time.RFC3339),
			store.EncodeJSON(e.Data))
		return err
	})
}

// Record persists a single event directly, bypassing the bus. Useful
// for callers that already have an Event in hand and don't want to pay
// for a round trip through the pub/sub layer.
func (r *Recorder) Record(ctx context.Context, e event.Event) error {
	return r.persist(ctx, e)
}

// SessionMetrics is the set of metrics derivable from one session's
// event stream.
type SessionMetrics struct {
	SessionID      string
	TokensIn       int64
	TokensOut      int64
	CostUSD        float64
	ToolCalls      int
	ToolErrors     int
	ToolBlocked    int
	Warnings       int
	Errors         int
	Duration       time.Duration
	LastEventTime  time.Time
	FirstEventTime time.Time
}

// SessionMetrics scans a session's persisted event stream and
// aggregates tokens, cost, tool outcome counts, and duration.
func (r *Recorder) SessionMetrics(ctx context.Context, sessionID string) (SessionMetrics, error) {
	m := SessionMetrics{SessionID: sessionID}
	err := r.db.Read(ctx, func(sqldb *sql.DB) error {
		rows, err := sqldb.Query(`SELECT type, time, data FROM observability_events
			WHERE session_ref = ? ORDER BY seq`, sessionID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var typ, timeStr, data string
			if err := rows.Scan(&typ, &timeStr, &data); err != nil {
				return err
			}
			t, _ := time.Parse(time.RFC3339, timeStr)
			if m.FirstEventTime.IsZero() || t.Before(m.FirstEventTime) {
				m.FirstEventTime = t
			}
			if t.After(m.LastEventTime) {
				m.LastEventTime = t
			}

			switch event.EventType(typ) {
			case event.ToolResult:
				var d event.ToolResultData
				_ = store.DecodeJSON(data, &d)
				m.ToolCalls++
				switch d.Outcome {
				case event.ToolOutcomeError:
					m.ToolErrors++
				case event.ToolOutcomeBlocked:
					m.ToolBlocked++
				}
			case event.UsageReport:
				var d event.UsageReportData
				_ = store.DecodeJSON(data, &d)
				m.TokensIn += d.TokensIn
				m.TokensOut += d.TokensOut
				m.CostUSD += d.CostUSD
			case event.Warning:
				m.Warnings++
			case event.Error:
				m.Errors++
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if !m.FirstEventTime.IsZero() && !m.LastEventTime.IsZero() {
			m.Duration = m.LastEventTime.Sub(m.FirstEventTime)
		}
		return nil
	})
	return m, err
}

// BudgetResult is the outcome of a budget check.
type BudgetResult struct {
	OverBudget  bool
	Cost        float64
	PercentUsed float64
}

// CheckBudget compares a session's accumulated cost against a ceiling.
// A ceiling of 0 disables budget enforcement (percent used is reported
// as 0, never over budget).
func (r *Recorder) CheckBudget(ctx context.Context, sessionID string, ceilingUSD float64) (BudgetResult, error) {
	m, err := r.SessionMetrics(ctx, sessionID)
	if err != nil {
		return BudgetResult{}, err
	}
	if ceilingUSD <= 0 {
		return BudgetResult{Cost: m.CostUSD}, nil
	}
	percent := (m.CostUSD / ceilingUSD) * 100
	return BudgetResult{
		OverBudget:  m.CostUSD >= ceilingUSD,
		Cost:        m.CostUSD,
		PercentUsed: percent,
	}, nil
}

// ShouldWarn reports whether a budget check has crossed the configured
// warning threshold (a percentage, e.g. 80 for 80%) without yet being
// over budget outright — the Orchestrator surfaces a warning event each
// iteration this holds.
func (b BudgetResult) ShouldWarn(warningThresholdPercent float64) bool {
	return !b.OverBudget && b.PercentUsed >= warningThresholdPercent
}

// Events returns the raw persisted event log for a session, oldest first.
func (r *Recorder) Events(ctx context.Context, sessionID string) ([]event.Event, error) {
	var events []event.Event
	err := r.db.Read(ctx, func(sqldb *sql.DB) error {
		rows, err := sqldb.Query(`SELECT type, seq, time, data FROM observability_events
			WHERE session_ref = ? ORDER BY seq`, sessionID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e event.Event
			var typ, timeStr, data string
			if err := rows.Scan(&typ, &e.Seq, &timeStr, &data); err != nil {
				return err
			}
			e.Type = event.EventType(typ)
			e.SessionID = sessionID
			e.Time, _ = time.Parse(time.RFC3339, timeStr)
			var raw map[string]any
			_ = store.DecodeJSON(data, &raw)
			e.Data = raw
			events = append(events, e)
		}
		return rows.Err()
	})
	return events, err
}
