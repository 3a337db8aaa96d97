// Package store is the SQLite-backed persistence substrate: a single
// embedded relational database per project, written through one dedicated
// writer goroutine so every ID sequence and every row mutation is
// serialized without a cross-process lock. Readers open short-lived,
// concurrent read transactions against the same *sql.DB (SQLite's WAL
// journal mode lets them proceed without blocking on the writer).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arcadiaforge/arcadiaforge/internal/ids"
	"github.com/arcadiaforge/arcadiaforge/internal/logging"
)

// ErrNotFound is returned by component Get operations when a row does not exist.
var ErrNotFound = errors.New("store: not found")

type writeJob struct {
	fn    func(*sql.Tx) error
	errCh chan error
}

// Store owns the database handle and the single writer goroutine.
type Store struct {
	db *sql.DB

	writeCh chan writeJob
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// Open opens (creating if necessary) the project's SQLite file at path,
// applies the schema, and starts the writer goroutine.
func Open(path string) (*Store, error) {
	const params = "_journal_mode=WAL&_foreign_keys=off&_busy_timeout=5000"
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", path+sep+params)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// The writer goroutine is the only thing that ever calls Write, so this
	// cap isn't there to keep two writers from colliding; it's here because
	// an in-memory DSN's shared cache is keyed per connection, and an
	// unbounded pool would let Read's concurrent queries open connections
	// to a fresh, schema-less memory database instead of the shared one.
	db.SetMaxOpenConns(4)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	s := &Store{
		db:      db,
		writeCh: make(chan writeJob, 64),
		closeCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.runWriter()
	return s, nil
}

var memDBCounter int64

// OpenMemory opens an in-process, non-persistent database. Useful for tests
// and for the audit sub-session's throwaway scratch state. Each call is
// given its own named shared-cache database so concurrent callers never
// bleed into one another's schema or rows.
func OpenMemory() (*Store, error) {
	id := atomic.AddInt64(&memDBCounter, 1)
	return Open(fmt.Sprintf("file:arcadiaforge_mem_%d?mode=memory&cache=shared", id))
}

func (s *Store) runWriter() {
	defer s.wg.Done()
	for {
		select {
		case job := <-s.writeCh:
			job.errCh <- s.runTx(job.fn)
		case <-s.closeCh:
			return
		}
	}
}

func (s *Store) runTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Error().Err(rbErr).Msg("store: rollback failed after write error")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Write enqueues fn to run, inside a transaction, on the single writer
// goroutine, and blocks until it has committed or failed. This is the only
// path by which any table in this store is mutated.
func (s *Store) Write(ctx context.Context, fn func(*sql.Tx) error) error {
	job := writeJob{fn: fn, errCh: make(chan error, 1)}
	select {
	case s.writeCh <- job:
	case <-s.closeCh:
		return errors.New("store: closed")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-job.errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read runs fn with direct, concurrent read access to the database. Callers
// must not mutate rows here; use Write instead.
func (s *Store) Read(ctx context.Context, fn func(*sql.DB) error) error {
	return fn(s.db)
}

// NextSeq allocates the next monotonic sequence number for a stable-ID kind.
// Sequences are global per kind (not per session) per the Checkpoint ID
// policy in spec.md §4.4 ("seq is monotonic across all checkpoints"),
// applied uniformly to every other kind-prefixed entity for the same reason
// (see DESIGN.md Open Question 1).
func (s *Store) NextSeq(ctx context.Context, kind ids.Kind) (uint64, error) {
	var seq uint64
	err := s.Write(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`INSERT INTO sequences (kind, value) VALUES (?, 1)
			 ON CONFLICT(kind) DO UPDATE SET value = value + 1`,
			string(kind),
		)
		if err != nil {
			return fmt.Errorf("store: allocate sequence for %s: %w", kind, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("store: allocate sequence for %s: no row affected", kind)
		}
		row := tx.QueryRow(`SELECT value FROM sequences WHERE kind = ?`, string(kind))
		return row.Scan(&seq)
	})
	return seq, err
}

// Close stops the writer goroutine and closes the database handle.
func (s *Store) Close() error {
	close(s.closeCh)
	s.wg.Wait()
	return s.db.Close()
}
