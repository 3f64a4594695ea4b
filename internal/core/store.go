package core

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/3cpo-dev/simbatch/pkg/api"
)

// Store is a SQLite-backed run ledger. It is informational only: completion
// is always decided by the Tracker, never by what the ledger says.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Workers write concurrently; a single connection serialises them.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("db not initialized")
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error { return s.db.Close() }

// BeginRun inserts a new run and returns its ID.
func (s *Store) BeginRun(ctx context.Context, convention string, workers int) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, convention, workers, started_at) VALUES (?, ?, ?, ?)`,
		id, convention, workers, formatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun stamps the run with its exit code.
func (s *Store) FinishRun(ctx context.Context, runID string, code int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, exit_code = ? WHERE id = ?`,
		formatTime(time.Now()), code, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// JobStarted records a job as RUNNING within a run.
func (s *Store) JobStarted(ctx context.Context, runID string, job Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO simulations (run_id, job_id, folder, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		runID, job.ID, job.Folder, string(api.JobRunning), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert simulation: %w", err)
	}
	return nil
}

// JobFinished records the final state; skipped jobs get a row of their own.
func (s *Store) JobFinished(ctx context.Context, runID string, job Job, state api.JobState, code int, jobErr error) error {
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO simulations (run_id, job_id, folder, status, exit_code, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, folder) DO UPDATE SET
		   status = excluded.status, exit_code = excluded.exit_code,
		   error = excluded.error, finished_at = excluded.finished_at`,
		runID, job.ID, job.Folder, string(state), code, msg, now, now)
	if err != nil {
		return fmt.Errorf("update simulation: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]api.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, convention, workers, started_at, finished_at, exit_code
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []api.RunRecord
	for rows.Next() {
		var (
			r        api.RunRecord
			started  string
			finished sql.NullString
			code     sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Convention, &r.Workers, &started, &finished, &code); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = parseTime(started)
		if finished.Valid {
			t := parseTime(finished.String)
			r.FinishedAt = &t
		}
		if code.Valid {
			c := int(code.Int64)
			r.ExitCode = &c
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListSimulations returns the jobs of one run in folder order.
func (s *Store) ListSimulations(ctx context.Context, runID string) ([]api.SimulationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, job_id, folder, status, exit_code, error, started_at, finished_at
		 FROM simulations WHERE run_id = ? ORDER BY folder`, runID)
	if err != nil {
		return nil, fmt.Errorf("list simulations: %w", err)
	}
	defer rows.Close()

	var out []api.SimulationRecord
	for rows.Next() {
		var (
			r        api.SimulationRecord
			state    string
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.JobID, &r.Folder, &state, &r.ExitCode, &r.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan simulation: %w", err)
		}
		r.State = api.JobState(state)
		r.StartedAt = parseTime(started)
		if finished.Valid {
			t := parseTime(finished.String)
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ledger adapts a Store to the scheduler's Recorder for one run.
// Write errors are logged and otherwise ignored.
type Ledger struct {
	Store *Store
	RunID string
}

func (l *Ledger) JobStarted(ctx context.Context, job Job) {
	if err := l.Store.JobStarted(ctx, l.RunID, job); err != nil {
		log.Warn().Err(err).Str("folder", job.Folder).Msg("Ledger write failed")
	}
}

func (l *Ledger) JobFinished(ctx context.Context, job Job, state api.JobState, code int, err error) {
	if werr := l.Store.JobFinished(ctx, l.RunID, job, state, code, err); werr != nil {
		log.Warn().Err(werr).Str("folder", job.Folder).Msg("Ledger write failed")
	}
}

// ledgerTime is fixed width so that text order matches time order.
const ledgerTime = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(ledgerTime) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
