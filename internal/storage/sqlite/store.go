// Package sqlite persists search runs, their ranked trajectories and the
// light curves behind them.
package sqlite

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/shiftstack/internal/filtering"
	"github.com/banshee-data/shiftstack/internal/monitoring"
	"github.com/banshee-data/shiftstack/internal/timeutil"
	"github.com/banshee-data/shiftstack/internal/trajectory"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a run or curve does not exist.
var ErrNotFound = errors.New("not found")

// Run describes one search invocation.
type Run struct {
	ID          string          `json:"run_id"`
	Mode        string          `json:"mode"`
	Filter      string          `json:"filter"`
	Evaluator   string          `json:"evaluator"`
	Version     string          `json:"version,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
	Width       int             `json:"width"`
	Height      int             `json:"height"`
	Images      int             `json:"images"`
	Complete    bool            `json:"complete"`
	ResultCount int             `json:"result_count"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Store is the result database.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens or creates the database at path, applies the connection
// pragmas and migrates the schema to the latest version.
func Open(path string) (*Store, error) {
	// Per-connection pragmas go in the DSN so pooled connections get them too.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, clock: timeutil.RealClock{}}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// SetClock replaces the clock used for default timestamps and busy backoff.
func (s *Store) SetClock(c timeutil.Clock) { s.clock = c }

func (s *Store) retry(fn func() error) error { return retryOnBusyWith(s.clock, fn) }

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

// migrateUp runs all pending migrations. The migrate instance is not closed
// because that would close the shared connection.
func (s *Store) migrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version.
func (s *Store) SchemaVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// migrateLogger implements migrate.Logger interface
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// InsertRun records the start of a run. An empty ID is filled with a new
// UUID and a zero StartedAt with the store clock's time.
func (s *Store) InsertRun(r *Run) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = s.clock.Now()
	}
	query := `
		INSERT INTO search_runs (
			run_id, mode, filter, evaluator, version, config_json,
			width, height, images, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := s.retry(func() error {
		_, err := s.db.Exec(query,
			r.ID, r.Mode, r.Filter, r.Evaluator, nullStr(r.Version), nullJSON(r.Config),
			r.Width, r.Height, r.Images,
			r.StartedAt.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", r.ID, err)
	}
	return nil
}

// FinishRun marks a run done and records how many results it kept.
func (s *Store) FinishRun(runID string, complete bool, resultCount int, at time.Time) error {
	query := `UPDATE search_runs SET complete = ?, result_count = ?, completed_at = ? WHERE run_id = ?`
	var res sql.Result
	err := s.retry(func() error {
		var err error
		res, err = s.db.Exec(query, complete, resultCount, at.UTC().Format(time.RFC3339Nano), runID)
		return err
	})
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// InsertTrajectories stores ranked results in one transaction. The slice
// position is the rank; any earlier results of the run are replaced.
func (s *Store) InsertTrajectories(runID string, trajectories []trajectory.Trajectory) error {
	err := s.retry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM trajectories WHERE run_id = ?`, runID); err != nil {
			return err
		}
		stmt, err := tx.Prepare(`
			INSERT INTO trajectories (run_id, rank, x, y, vx, vy, likelihood, flux, obs_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for rank, tr := range trajectories {
			if _, err := stmt.Exec(runID, rank, tr.X, tr.Y, tr.VX, tr.VY, tr.Likelihood, tr.Flux, tr.ObsCount); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("inserting %d trajectories for run %s: %w", len(trajectories), runID, err)
	}
	return nil
}

// InsertCurve stores the sampled curve and retained steps of the result
// at rank. Unusable steps are stored as null.
func (s *Store) InsertCurve(runID string, rank int, c filtering.Curve, retained []int) error {
	signal, err := json.Marshal(nullFloats(c.Signal))
	if err != nil {
		return err
	}
	weight, err := json.Marshal(nullFloats(c.Weight))
	if err != nil {
		return err
	}
	if retained == nil {
		retained = []int{}
	}
	kept, err := json.Marshal(retained)
	if err != nil {
		return err
	}
	query := `
		INSERT OR REPLACE INTO trajectory_curves (run_id, rank, signal_json, weight_json, retained_json)
		VALUES (?, ?, ?, ?, ?)
	`
	err = s.retry(func() error {
		_, err := s.db.Exec(query, runID, rank, string(signal), string(weight), string(kept))
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting curve %d for run %s: %w", rank, runID, err)
	}
	return nil
}

const runColumns = `
	run_id, mode, filter, evaluator, version, config_json, width, height, images,
	complete, result_count, started_at, completed_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r               Run
		version, config sql.NullString
		started         string
		completed       sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Mode, &r.Filter, &r.Evaluator, &version, &config,
		&r.Width, &r.Height, &r.Images, &r.Complete, &r.ResultCount, &started, &completed); err != nil {
		return nil, err
	}
	r.Version = version.String
	if config.Valid {
		r.Config = json.RawMessage(config.String)
	}
	var err error
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if completed.Valid {
		t, err := time.Parse(time.RFC3339Nano, completed.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		r.CompletedAt = &t
	}
	return &r, nil
}

// Run returns one run by ID.
func (s *Store) Run(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM search_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	return r, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM search_runs ORDER BY started_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// Trajectories returns the results of a run ranked [start, end).
func (s *Store) Trajectories(runID string, start, end int) ([]trajectory.Trajectory, error) {
	rows, err := s.db.Query(`
		SELECT x, y, vx, vy, likelihood, flux, obs_count
		FROM trajectories
		WHERE run_id = ? AND rank >= ? AND rank < ?
		ORDER BY rank
	`, runID, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying trajectories for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []trajectory.Trajectory
	for rows.Next() {
		var tr trajectory.Trajectory
		if err := rows.Scan(&tr.X, &tr.Y, &tr.VX, &tr.VY, &tr.Likelihood, &tr.Flux, &tr.ObsCount); err != nil {
			return nil, fmt.Errorf("scanning trajectory: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Curve returns the stored curve and retained steps of the result at rank.
func (s *Store) Curve(runID string, rank int) (filtering.Curve, []int, error) {
	var signal, weight, kept string
	err := s.db.QueryRow(`
		SELECT signal_json, weight_json, retained_json
		FROM trajectory_curves WHERE run_id = ? AND rank = ?
	`, runID, rank).Scan(&signal, &weight, &kept)
	if errors.Is(err, sql.ErrNoRows) {
		return filtering.Curve{}, nil, fmt.Errorf("curve %d of run %s: %w", rank, runID, ErrNotFound)
	}
	if err != nil {
		return filtering.Curve{}, nil, fmt.Errorf("loading curve %d of run %s: %w", rank, runID, err)
	}

	var sig, wt []*float64
	var retained []int
	if err := json.Unmarshal([]byte(signal), &sig); err != nil {
		return filtering.Curve{}, nil, fmt.Errorf("decoding signal: %w", err)
	}
	if err := json.Unmarshal([]byte(weight), &wt); err != nil {
		return filtering.Curve{}, nil, fmt.Errorf("decoding weight: %w", err)
	}
	if err := json.Unmarshal([]byte(kept), &retained); err != nil {
		return filtering.Curve{}, nil, fmt.Errorf("decoding retained: %w", err)
	}
	c, err := filtering.NewCurve(fromNullFloats(sig), fromNullFloats(wt))
	if err != nil {
		return filtering.Curve{}, nil, err
	}
	return c, retained, nil
}

// nullFloats maps non-finite values to nil so they survive JSON.
func nullFloats(in []float64) []*float64 {
	out := make([]*float64, len(in))
	for i, v := range in {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[i] = &in[i]
		}
	}
	return out
}

func fromNullFloats(in []*float64) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	return out
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullJSON(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}
