package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/flotilla-dev/flotilla/internal/core/run"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Run Journal Operations
// =============================================================================

// runRow represents a run row in the database. Per-service results are
// stored as a JSON column; the journal is read back whole, never queried
// per service. Timestamps are unix nanoseconds so ordering holds at any
// precision.
type runRow struct {
	RunID      string `db:"run_id"`
	Stack      string `db:"stack"`
	Verdict    string `db:"verdict"`
	Error      string `db:"error"`
	Services   string `db:"services"`
	StartedAt  int64  `db:"started_at"`
	FinishedAt int64  `db:"finished_at"`
}

func (s *SQLiteStore) SaveRun(ctx context.Context, report *run.Report) error {
	servicesJSON, err := json.Marshal(report.Services)
	if err != nil {
		return NewStoreError("SaveRun", report.RunID, "failed to serialize services", ErrInvalidData)
	}

	query := `
		INSERT INTO runs (
			run_id, stack, verdict, error, services, started_at, finished_at
		) VALUES (
			:run_id, :stack, :verdict, :error, :services, :started_at, :finished_at
		)`

	row := map[string]any{
		"run_id":      report.RunID,
		"stack":       report.Stack,
		"verdict":     string(report.Verdict),
		"error":       report.Error,
		"services":    string(servicesJSON),
		"started_at":  report.StartedAt.UnixNano(),
		"finished_at": report.FinishedAt.UnixNano(),
	}

	_, err = s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: runs.run_id") {
			return NewStoreError("SaveRun", report.RunID, "run with this ID already exists", ErrDuplicateRun)
		}
		return NewStoreError("SaveRun", report.RunID, err.Error(), err)
	}

	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*run.Report, error) {
	query := `SELECT * FROM runs WHERE run_id = ?`

	var row runRow
	err := s.db.GetContext(ctx, &row, query, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRun", runID, "run not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRun", runID, err.Error(), err)
	}

	return rowToReport(&row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, stackName string, opts ListOptions) ([]run.Report, error) {
	opts = opts.Normalize()

	var rows []runRow
	var err error
	if stackName == "" {
		query := `SELECT * FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`
		err = s.db.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	} else {
		query := `SELECT * FROM runs WHERE stack = ? ORDER BY started_at DESC LIMIT ? OFFSET ?`
		err = s.db.SelectContext(ctx, &rows, query, stackName, opts.Limit, opts.Offset)
	}
	if err != nil {
		return nil, NewStoreError("ListRuns", "", err.Error(), err)
	}

	reports := make([]run.Report, 0, len(rows))
	for i := range rows {
		report, err := rowToReport(&rows[i])
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}
	return reports, nil
}

// rowToReport converts a database row to a run report.
func rowToReport(row *runRow) (*run.Report, error) {
	report := &run.Report{
		RunID:      row.RunID,
		Stack:      row.Stack,
		Verdict:    run.Verdict(row.Verdict),
		Error:      row.Error,
		StartedAt:  time.Unix(0, row.StartedAt).UTC(),
		FinishedAt: time.Unix(0, row.FinishedAt).UTC(),
	}

	if err := json.Unmarshal([]byte(row.Services), &report.Services); err != nil {
		return nil, NewStoreError("GetRun", row.RunID, "failed to deserialize services", ErrInvalidData)
	}

	return report, nil
}
