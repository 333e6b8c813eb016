package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/converge/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run status recorded while a run is in progress.
const RunStatusRunning = "running"

// SQLiteJournal implements engine.Journal on a SQLite database.
type SQLiteJournal struct {
	db   *sql.DB
	path string
}

var _ engine.Journal = (*SQLiteJournal)(nil)

// Config holds SQLite journal configuration.
type Config struct {
	// Path is the database file. ":memory:" keeps the journal in memory.
	Path string

	// BusyTimeout bounds how long a write waits for a lock.
	BusyTimeout time.Duration
}

// NewSQLiteJournal creates a journal instance. Call Init and Migrate
// before use, or use Open.
func NewSQLiteJournal(cfg Config) (*SQLiteJournal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteJournal{path: cfg.Path}, nil
}

// Open creates, initializes and migrates a journal.
func Open(ctx context.Context, cfg Config) (*SQLiteJournal, error) {
	j, err := NewSQLiteJournal(cfg)
	if err != nil {
		return nil, err
	}
	if err := j.Init(ctx, cfg.BusyTimeout); err != nil {
		return nil, err
	}
	if err := j.Migrate(ctx); err != nil {
		_ = j.Close()
		return nil, err
	}
	return j, nil
}

// Init opens the database connection and enables WAL mode.
func (j *SQLiteJournal) Init(ctx context.Context, busyTimeout time.Duration) error {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		j.path, busyTimeout.Milliseconds())
	if j.path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
		if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
			return fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	j.db = db
	return nil
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Migrate runs the embedded migrations.
func (j *SQLiteJournal) Migrate(_ context.Context) error {
	if j.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(j.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database is reachable.
func (j *SQLiteJournal) HealthCheck(ctx context.Context) error {
	if j.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return j.db.PingContext(ctx)
}

// StartRun implements engine.Journal.
func (j *SQLiteJournal) StartRun(ctx context.Context, run engine.RunRecord) error {
	query := `
		INSERT INTO runs (id, operation, deployment_id, service_name, region, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := j.db.ExecContext(ctx, query,
		run.ID,
		string(run.Operation),
		run.DeploymentID,
		run.ServiceName,
		run.Region,
		RunStatusRunning,
		run.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// RecordStep implements engine.Journal.
func (j *SQLiteJournal) RecordStep(ctx context.Context, runID string, step engine.StepResult) error {
	query := `
		INSERT INTO steps (run_id, position, kind, label, name, outcome, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := j.db.ExecContext(ctx, query,
		runID,
		step.Index,
		string(step.Kind),
		step.Label,
		step.Name,
		string(step.Outcome),
		step.Duration.Milliseconds(),
		nullString(step.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to record step: %w", err)
	}
	return nil
}

// FinishRun implements engine.Journal.
func (j *SQLiteJournal) FinishRun(ctx context.Context, runID, status string, finishedAt time.Time, runErr error) error {
	query := `
		UPDATE runs
		SET status = ?, finished_at = ?, error = ?
		WHERE id = ?
	`

	var errMsg sql.NullString
	if runErr != nil {
		errMsg = sql.NullString{String: runErr.Error(), Valid: true}
	}

	result, err := j.db.ExecContext(ctx, query, status, finishedAt.UTC(), errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// ListRuns returns runs newest first, without their steps.
func (j *SQLiteJournal) ListRuns(ctx context.Context, filter Filter) ([]*Run, error) {
	query := `
		SELECT id, operation, deployment_id, service_name, region, status, started_at, finished_at, error
		FROM runs
		WHERE (? = '' OR deployment_id = ?) AND (? = '' OR service_name = ?)
		ORDER BY started_at DESC
		LIMIT ?
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := j.db.QueryContext(ctx, query,
		filter.DeploymentID, filter.DeploymentID,
		filter.ServiceName, filter.ServiceName,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run with its steps in execution order.
func (j *SQLiteJournal) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, operation, deployment_id, service_name, region, status, started_at, finished_at, error
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(j.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	steps, err := j.steps(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Steps = steps
	return run, nil
}

// DeleteRun removes a run and its steps.
func (j *SQLiteJournal) DeleteRun(ctx context.Context, id string) error {
	result, err := j.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

func (j *SQLiteJournal) steps(ctx context.Context, runID string) ([]Step, error) {
	query := `
		SELECT position, kind, label, name, outcome, duration_ms, error
		FROM steps
		WHERE run_id = ?
		ORDER BY position
	`

	rows, err := j.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	steps := []Step{}
	for rows.Next() {
		var (
			s        Step
			duration int64
			errMsg   sql.NullString
		)
		if err := rows.Scan(&s.Index, &s.Kind, &s.Label, &s.Name, &s.Outcome, &duration, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		s.Duration = time.Duration(duration) * time.Millisecond
		s.Error = errMsg.String
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}
	return steps, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run        Run
		finishedAt sql.NullTime
		errMsg     sql.NullString
	)
	err := row.Scan(
		&run.ID,
		&run.Operation,
		&run.DeploymentID,
		&run.ServiceName,
		&run.Region,
		&run.Status,
		&run.StartedAt,
		&finishedAt,
		&errMsg,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	run.Error = errMsg.String
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
