// Package rundb is the SQLite ledger of cascade runs: one row per run and
// per level, plus sampled per-iteration metrics.
package rundb

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/nlfff/internal/field"
	"github.com/banshee-data/nlfff/internal/project"
	"github.com/banshee-data/nlfff/internal/quality"
	"github.com/banshee-data/nlfff/internal/timeutil"
)

// Run statuses beyond the level statuses recorded by the optimizer.
const (
	RunRunning  = "running"
	RunFinished = "finished"
	RunFailed   = "failed"
)

// pragmas are applied to every pooled connection.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(ON)",
}

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

type DB struct {
	*sql.DB
	path  string
	clock timeutil.Clock
}

// Open opens or creates the ledger at path and migrates it to the latest
// schema.
func Open(path string) (*DB, error) {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	sdb, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	db := &DB{DB: sdb, path: path, clock: timeutil.RealClock{}}
	if err := db.Ping(); err != nil {
		sdb.Close()
		return nil, fmt.Errorf("open run ledger %s: %w", path, err)
	}
	if err := db.MigrateUp(); err != nil {
		sdb.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the file the ledger was opened from.
func (db *DB) Path() string { return db.path }

func (db *DB) now() string { return db.clock.Now().UTC().Format(time.RFC3339Nano) }

func parseTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s.String)
	return t
}

// Run is one cascade invocation.
type Run struct {
	ID         string    `json:"run_id"`
	ProjectDir string    `json:"project_dir"`
	Levels     string    `json:"levels"`
	Status     string    `json:"status"`
	ConfigJSON string    `json:"config"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// StartRun inserts a running run and returns its id.
func (db *DB) StartRun(projectDir, levels, configJSON string) (string, error) {
	id := uuid.NewString()
	if configJSON == "" {
		configJSON = "{}"
	}
	_, err := db.Exec(
		`INSERT INTO runs (run_id, project_dir, levels, status, config_json, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, projectDir, levels, RunRunning, configJSON, db.now(),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun records the outcome of a run. A nil runErr marks it finished.
func (db *DB) FinishRun(id string, runErr error) error {
	status, msg := RunFinished, ""
	if runErr != nil {
		status, msg = RunFailed, runErr.Error()
	}
	res, err := db.Exec(
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE run_id = ?`,
		status, msg, db.now(), id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// GetRun returns one run.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(`SELECT run_id, project_dir, levels, status, config_json, error, started_at, finished_at
		FROM runs WHERE run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	query := `SELECT run_id, project_dir, levels, status, config_json, error, started_at, finished_at
		FROM runs ORDER BY rowid DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var started, finished sql.NullString
	if err := s.Scan(&r.ID, &r.ProjectDir, &r.Levels, &r.Status, &r.ConfigJSON, &r.Error, &started, &finished); err != nil {
		return nil, err
	}
	r.StartedAt, r.FinishedAt = parseTime(started), parseTime(finished)
	return &r, nil
}

// LevelRecord is the ledger row of one level of a run.
type LevelRecord struct {
	RunID      string          `json:"run_id"`
	Level      int             `json:"level"`
	Dims       field.Dims      `json:"-"`
	Grid       string          `json:"grid"`
	Status     string          `json:"status"`
	Iterations int             `json:"iterations"`
	Accepted   int             `json:"accepted"`
	Rejected   int             `json:"rejected"`
	Final      quality.Metrics `json:"final"`
	Epsilon    float64         `json:"epsilon"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at,omitzero"`
}

// BeginLevel inserts a level in the iterating state.
func (db *DB) BeginLevel(runID string, level int, d field.Dims) error {
	_, err := db.Exec(
		`INSERT INTO levels (run_id, level, nx, ny, nz, status, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, level, d.NX, d.NY, d.NZ, "iterating", db.now(),
	)
	if err != nil {
		return fmt.Errorf("insert level %d: %w", level, err)
	}
	return nil
}

// RecordIteration stores one metrics sample of a level.
func (db *DB) RecordIteration(runID string, level int, m quality.Metrics) error {
	_, err := db.Exec(
		`INSERT OR REPLACE INTO iterations (run_id, level, iteration, cwsin, div_mean, div_max, functional, energy, step)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, level, m.Iteration, m.CWsin, m.DivMean, m.DivMax, m.L, m.Energy, m.Step,
	)
	if err != nil {
		return fmt.Errorf("insert iteration %d of level %d: %w", m.Iteration, level, err)
	}
	return nil
}

// EndLevel stores the summary of a finished level.
func (db *DB) EndLevel(runID string, s project.Summary) error {
	res, err := db.Exec(
		`UPDATE levels SET status = ?, iterations = ?, accepted = ?, rejected = ?,
			cwsin = ?, div_mean = ?, div_max = ?, functional = ?, energy = ?, epsilon = ?, finished_at = ?
		 WHERE run_id = ? AND level = ?`,
		s.Status, s.Iterations, s.Accepted, s.Rejected,
		s.Final.CWsin, s.Final.DivMean, s.Final.DivMax, s.Final.L, s.Final.Energy, s.Epsilon, db.now(),
		runID, s.Level,
	)
	if err != nil {
		return fmt.Errorf("update level %d: %w", s.Level, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: level %d of %s", ErrNotFound, s.Level, runID)
	}
	return nil
}

// Levels returns the levels of a run in level order.
func (db *DB) Levels(runID string) ([]LevelRecord, error) {
	rows, err := db.Query(
		`SELECT level, nx, ny, nz, status, iterations, accepted, rejected,
			COALESCE(cwsin, 0), COALESCE(div_mean, 0), COALESCE(div_max, 0),
			COALESCE(functional, 0), COALESCE(energy, 0), COALESCE(epsilon, 0),
			started_at, finished_at
		 FROM levels WHERE run_id = ? ORDER BY level`, runID)
	if err != nil {
		return nil, fmt.Errorf("list levels: %w", err)
	}
	defer rows.Close()

	var out []LevelRecord
	for rows.Next() {
		lr := LevelRecord{RunID: runID}
		var started, finished sql.NullString
		if err := rows.Scan(&lr.Level, &lr.Dims.NX, &lr.Dims.NY, &lr.Dims.NZ, &lr.Status,
			&lr.Iterations, &lr.Accepted, &lr.Rejected,
			&lr.Final.CWsin, &lr.Final.DivMean, &lr.Final.DivMax, &lr.Final.L, &lr.Final.Energy, &lr.Epsilon,
			&started, &finished); err != nil {
			return nil, err
		}
		lr.Grid = lr.Dims.String()
		lr.Final.Iteration = lr.Iterations
		lr.StartedAt, lr.FinishedAt = parseTime(started), parseTime(finished)
		out = append(out, lr)
	}
	return out, rows.Err()
}

// Iterations returns the stored samples of a level in iteration order.
func (db *DB) Iterations(runID string, level int) ([]quality.Metrics, error) {
	rows, err := db.Query(
		`SELECT iteration, cwsin, div_mean, div_max, functional, energy, step
		 FROM iterations WHERE run_id = ? AND level = ? ORDER BY iteration`, runID, level)
	if err != nil {
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	defer rows.Close()

	var out []quality.Metrics
	for rows.Next() {
		var m quality.Metrics
		if err := rows.Scan(&m.Iteration, &m.CWsin, &m.DivMean, &m.DivMax, &m.L, &m.Energy, &m.Step); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// FormatRuns renders runs as a fixed-width table.
func FormatRuns(runs []Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s  %-8s  %-6s  %-20s  %s\n", "RUN", "STATUS", "LEVELS", "STARTED", "PROJECT")
	for _, r := range runs {
		fmt.Fprintf(&b, "%-36s  %-8s  %-6s  %-20s  %s\n",
			r.ID, r.Status, r.Levels, r.StartedAt.Format(time.DateTime), r.ProjectDir)
	}
	return b.String()
}
