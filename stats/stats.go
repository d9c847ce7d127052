// Package stats persists helper profiling counters in a SQLite database so
// runs can be compared over time.
package stats

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/jitrt/vm"
)

var log = commonlog.GetLogger("jitrt.stats")

// ErrRunNotFound indicates the requested run doesn't exist.
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	label      TEXT NOT NULL,
	started    INTEGER NOT NULL,
	convention TEXT NOT NULL,
	threads    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS helper_counters (
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	helper       TEXT NOT NULL,
	calls        INTEGER NOT NULL,
	fast_hits    INTEGER NOT NULL,
	slow_entries INTEGER NOT NULL,
	throws       INTEGER NOT NULL,
	redirects    INTEGER NOT NULL,
	hot          INTEGER NOT NULL,
	PRIMARY KEY (run_id, helper)
);`

// Run describes one recorded profiling run.
type Run struct {
	ID         uuid.UUID
	Label      string
	Started    time.Time
	Convention string
	Threads    int
}

// Total is a helper's counters summed over every recorded run.
type Total struct {
	Helper      vm.HelperID
	Runs        int
	Calls       uint64
	SlowEntries uint64
}

// Store handles SQLite storage of helper counters.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	log.Debugf("opened %s", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record saves the counters of every helper p has seen under a new run.
// A zero run ID is replaced by a fresh one; the ID used is returned.
func (s *Store) Record(ctx context.Context, run Run, p *vm.Profiler) (uuid.UUID, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Started.IsZero() {
		run.Started = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO runs (id, label, started, convention, threads) VALUES (?, ?, ?, ?, ?)",
		run.ID.String(), run.Label, run.Started.UnixNano(), run.Convention, run.Threads,
	); err != nil {
		return uuid.Nil, fmt.Errorf("saving run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO helper_counters
		(run_id, helper, calls, fast_hits, slow_entries, throws, redirects, hot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return uuid.Nil, fmt.Errorf("preparing counters: %w", err)
	}
	defer stmt.Close()

	snap := p.Snapshot()
	for _, c := range snap {
		if _, err := stmt.ExecContext(ctx,
			run.ID.String(), c.Helper.String(),
			int64(c.Calls), int64(c.FastHits), int64(c.SlowEntries),
			int64(c.Throws), int64(c.Redirects), c.IsHot,
		); err != nil {
			return uuid.Nil, fmt.Errorf("saving counters of %s: %w", c.Helper, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("committing run: %w", err)
	}
	log.Infof("recorded run %s: %d helpers", run.ID, len(snap))
	return run.ID, nil
}

// Runs returns every recorded run, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, label, started, convention, threads FROM runs ORDER BY started, id")
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			id      string
			started int64
		)
		if err := rows.Scan(&id, &r.Label, &started, &r.Convention, &r.Threads); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("run id %q: %w", id, err)
		}
		r.Started = time.Unix(0, started)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Counters returns the counters recorded for a run in HelperID order.
// Helpers this build no longer knows are skipped.
func (s *Store) Counters(ctx context.Context, runID uuid.UUID) ([]vm.HelperCounters, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs WHERE id = ?", runID.String()).Scan(&n); err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	if n == 0 {
		return nil, ErrRunNotFound
	}

	rows, err := s.db.QueryContext(ctx, `SELECT helper, calls, fast_hits, slow_entries, throws, redirects, hot
		FROM helper_counters WHERE run_id = ?`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("querying counters: %w", err)
	}
	defer rows.Close()

	var out []vm.HelperCounters
	for rows.Next() {
		var (
			name                                         string
			calls, fastHits, slowEntries, throws, redirs int64
			hot                                          bool
		)
		if err := rows.Scan(&name, &calls, &fastHits, &slowEntries, &throws, &redirs, &hot); err != nil {
			return nil, fmt.Errorf("scanning counters: %w", err)
		}
		id, ok := vm.HelperByName(name)
		if !ok {
			log.Warningf("run %s: unknown helper %q", runID, name)
			continue
		}
		out = append(out, vm.HelperCounters{Helper: id, HelperProfile: vm.HelperProfile{
			Calls:       uint64(calls),
			FastHits:    uint64(fastHits),
			SlowEntries: uint64(slowEntries),
			Throws:      uint64(throws),
			Redirects:   uint64(redirs),
			IsHot:       hot,
		}})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b vm.HelperCounters) int { return cmp.Compare(a.Helper, b.Helper) })
	return out, nil
}

// Totals sums each helper's counters over every run, most slow-path
// entries first.
func (s *Store) Totals(ctx context.Context) ([]Total, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT helper, COUNT(*), SUM(calls), SUM(slow_entries)
		FROM helper_counters GROUP BY helper ORDER BY SUM(slow_entries) DESC, helper`)
	if err != nil {
		return nil, fmt.Errorf("querying totals: %w", err)
	}
	defer rows.Close()

	var out []Total
	for rows.Next() {
		var (
			name        string
			t           Total
			calls, slow int64
		)
		if err := rows.Scan(&name, &t.Runs, &calls, &slow); err != nil {
			return nil, fmt.Errorf("scanning totals: %w", err)
		}
		id, ok := vm.HelperByName(name)
		if !ok {
			continue
		}
		t.Helper, t.Calls, t.SlowEntries = id, uint64(calls), uint64(slow)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Delete removes a run and its counters.
func (s *Store) Delete(ctx context.Context, runID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", runID.String())
	if err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}
