// Package runstore persists pipeline runs in SQLite. The schema is managed by
// golang-migrate from migrations embedded in the binary.
package runstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/cvkalman/internal/monitoring"
	"github.com/banshee-data/cvkalman/internal/pipeline"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// createdAtLayout is fixed-width so created_at sorts lexically in time order.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned by LoadRun for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Store is a SQLite-backed run store.
type Store struct {
	*sql.DB
}

// RunSummary is one row of the runs table.
type RunSummary struct {
	RunID        uuid.UUID
	CreatedAt    time.Time
	Elapsed      time.Duration
	StepCount    int
	Skipped      int
	ConfigJSON   string
	FinalState   [4]float64 // px, py, vx, vy
	PositionRMSE float64
	VelocityRMSE float64
	MeanNEES     float64
	MeanNIS      float64
}

// StoredStep is one row of the run_steps table.
type StoredStep struct {
	Step             int
	Time             float64
	Truth            [4]float64
	Measurement      [2]float64
	State            [4]float64
	PositionVariance [2]float64
	NIS              float64
	Updated          bool
}

// Run is a stored run with its steps in order.
type Run struct {
	RunSummary
	Steps []StoredStep
}

// Open opens (or creates) the database at path and applies the connection
// pragmas. Call MigrateUp before first use. The store uses a single
// connection, so it serialises concurrent callers.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Pragmas such as foreign_keys are per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return &Store{db}, nil
}

// MigrateUp runs all pending migrations up to the latest version.
// Returns nil if no migrations were needed (already at latest version).
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close the underlying DB connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (s *Store) MigrateDown() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current migration version and dirty state.
// Returns 0, false, nil if no migrations have been applied yet.
func (s *Store) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if err != nil && errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

// migrateLogger implements migrate.Logger on top of monitoring.Logf.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// SaveRun writes the run header and every step in one transaction.
// cfgJSON is stored verbatim so a run can be replayed.
func (s *Store) SaveRun(ctx context.Context, res *pipeline.Result, cfgJSON []byte) error {
	if res == nil {
		return errors.New("nil result")
	}

	tx, err := s.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			monitoring.Logf("warning: failed to rollback transaction: %v", err)
		}
	}()

	var final [4]float64
	if res.Final.State != nil {
		for i := 0; i < len(final) && i < res.Final.State.Len(); i++ {
			final[i] = res.Final.State.AtVec(i)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, created_at, elapsed_ns, steps, skipped, config_json,
			final_px, final_py, final_vx, final_vy,
			position_rmse, velocity_rmse, mean_nees, mean_nis
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID.String(),
		res.Started.UTC().Format(createdAtLayout),
		res.Elapsed.Nanoseconds(),
		len(res.Records),
		res.Skipped,
		string(cfgJSON),
		final[0], final[1], final[2], final[3],
		res.Summary.PositionRMSE,
		res.Summary.VelocityRMSE,
		res.Summary.MeanNEES,
		res.Summary.MeanNIS,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_steps (
			run_id, step, time_s,
			truth_px, truth_py, truth_vx, truth_vy,
			meas_x, meas_y,
			est_px, est_py, est_vx, est_vy,
			var_px, var_py, nis, updated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare step insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range res.Records {
		st := toStoredStep(rec)
		_, err := stmt.ExecContext(ctx,
			res.RunID.String(), st.Step, st.Time,
			st.Truth[0], st.Truth[1], st.Truth[2], st.Truth[3],
			st.Measurement[0], st.Measurement[1],
			st.State[0], st.State[1], st.State[2], st.State[3],
			st.PositionVariance[0], st.PositionVariance[1], st.NIS, st.Updated,
		)
		if err != nil {
			return fmt.Errorf("failed to insert step %d: %w", rec.Step, err)
		}
	}

	return tx.Commit()
}

func toStoredStep(rec pipeline.StepRecord) StoredStep {
	st := StoredStep{
		Step:    rec.Step,
		Time:    rec.Time,
		NIS:     rec.Estimate.NIS,
		Updated: rec.Estimate.Updated,
	}
	copy(st.Truth[:], rec.Truth)
	copy(st.Measurement[:], rec.Measurement)
	if x := rec.Estimate.State; x != nil {
		for i := 0; i < len(st.State) && i < x.Len(); i++ {
			st.State[i] = x.AtVec(i)
		}
	}
	if p := rec.Estimate.Covariance; p != nil && p.SymmetricDim() >= 2 {
		st.PositionVariance = [2]float64{p.At(0, 0), p.At(1, 1)}
	}
	return st
}

const runColumns = `
	run_id, created_at, elapsed_ns, steps, skipped, COALESCE(config_json, ''),
	final_px, final_py, final_vx, final_vy,
	COALESCE(position_rmse, 0), COALESCE(velocity_rmse, 0),
	COALESCE(mean_nees, 0), COALESCE(mean_nis, 0)`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunSummary, error) {
	var (
		r         RunSummary
		id        string
		createdAt string
		elapsedNs int64
	)
	err := row.Scan(&id, &createdAt, &elapsedNs, &r.StepCount, &r.Skipped, &r.ConfigJSON,
		&r.FinalState[0], &r.FinalState[1], &r.FinalState[2], &r.FinalState[3],
		&r.PositionRMSE, &r.VelocityRMSE, &r.MeanNEES, &r.MeanNIS)
	if err != nil {
		return RunSummary{}, err
	}
	if r.RunID, err = uuid.Parse(id); err != nil {
		return RunSummary{}, fmt.Errorf("failed to parse run_id %q: %w", id, err)
	}
	if r.CreatedAt, err = time.Parse(createdAtLayout, createdAt); err != nil {
		return RunSummary{}, fmt.Errorf("failed to parse created_at %q: %w", createdAt, err)
	}
	r.Elapsed = time.Duration(elapsedNs)
	return r, nil
}

// LoadRun returns the run with the given ID and all of its steps.
func (s *Store) LoadRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	row := s.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id.String())
	summary, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	rows, err := s.QueryContext(ctx, `
		SELECT step, time_s,
			truth_px, truth_py, truth_vx, truth_vy,
			meas_x, meas_y,
			est_px, est_py, est_vx, est_vy,
			var_px, var_py, COALESCE(nis, 0), updated
		FROM run_steps
		WHERE run_id = ?
		ORDER BY step`, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	run := &Run{RunSummary: summary, Steps: make([]StoredStep, 0, summary.StepCount)}
	for rows.Next() {
		var st StoredStep
		if err := rows.Scan(&st.Step, &st.Time,
			&st.Truth[0], &st.Truth[1], &st.Truth[2], &st.Truth[3],
			&st.Measurement[0], &st.Measurement[1],
			&st.State[0], &st.State[1], &st.State[2], &st.State[3],
			&st.PositionVariance[0], &st.PositionVariance[1], &st.NIS, &st.Updated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		run.Steps = append(run.Steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps: %w", err)
	}
	return run, nil
}

// ListRuns returns every stored run header, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and, through the foreign key cascade, its steps.
func (s *Store) DeleteRun(ctx context.Context, id uuid.UUID) error {
	res, err := s.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
