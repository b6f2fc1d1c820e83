package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/cloudlift/cloudlift/pkg/lifecycle"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDeploymentNotFound is returned when a deployment ID is unknown.
var ErrDeploymentNotFound = errors.New("deployment not found")

// SQLiteStore implements lifecycle.Store on SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{path: cfg.Path, cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Connection-level setting, not covered by the DSN on every pool conn.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateDeployment persists a new deployment record.
func (s *SQLiteStore) CreateDeployment(ctx context.Context, d *lifecycle.Deployment) error {
	result, err := encodeLaunchResult(d.LaunchResult)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO deployments (id, name, app_id, launch_status, launch_result, launch_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		d.ID,
		d.Name,
		d.AppID,
		string(d.LaunchStatus),
		result,
		d.LaunchError,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create deployment: %w", err)
	}

	return nil
}

// GetDeployment retrieves a deployment by ID.
func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*lifecycle.Deployment, error) {
	query := `
		SELECT id, name, app_id, launch_status, launch_result, launch_error, created_at, updated_at
		FROM deployments
		WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, query, id)
	d, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDeploymentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}
	return d, nil
}

// UpdateDeployment persists changes to an existing deployment.
func (s *SQLiteStore) UpdateDeployment(ctx context.Context, d *lifecycle.Deployment) error {
	result, err := encodeLaunchResult(d.LaunchResult)
	if err != nil {
		return err
	}

	query := `
		UPDATE deployments
		SET name = ?, launch_status = ?, launch_result = ?, launch_error = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		d.Name,
		string(d.LaunchStatus),
		result,
		d.LaunchError,
		d.UpdatedAt,
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update deployment: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrDeploymentNotFound, d.ID)
	}

	return nil
}

// ListDeployments returns all deployments, newest first.
func (s *SQLiteStore) ListDeployments(ctx context.Context) ([]*lifecycle.Deployment, error) {
	query := `
		SELECT id, name, app_id, launch_status, launch_result, launch_error, created_at, updated_at
		FROM deployments
		ORDER BY created_at DESC, id DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	deployments := []*lifecycle.Deployment{}
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		deployments = append(deployments, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deployments: %w", err)
	}

	return deployments, nil
}

// AppendEvent appends one entry to a deployment's event log.
func (s *SQLiteStore) AppendEvent(ctx context.Context, ev lifecycle.DeploymentEvent) error {
	query := `
		INSERT INTO deployment_events (id, deployment_id, stage, message, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, ev.ID, ev.DeploymentID, ev.Stage, ev.Message, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEvents returns a deployment's event log in chronological order.
func (s *SQLiteStore) ListEvents(ctx context.Context, deploymentID string) ([]lifecycle.DeploymentEvent, error) {
	query := `
		SELECT id, deployment_id, stage, message, timestamp
		FROM deployment_events
		WHERE deployment_id = ?
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []lifecycle.DeploymentEvent{}
	for rows.Next() {
		var ev lifecycle.DeploymentEvent
		if err := rows.Scan(&ev.ID, &ev.DeploymentID, &ev.Stage, &ev.Message, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDeployment(row rowScanner) (*lifecycle.Deployment, error) {
	var (
		d      lifecycle.Deployment
		status string
		result sql.NullString
	)
	if err := row.Scan(&d.ID, &d.Name, &d.AppID, &status, &result, &d.LaunchError, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.LaunchStatus = lifecycle.LaunchStatus(status)
	if err := d.LaunchStatus.Validate(); err != nil {
		return nil, err
	}
	if result.Valid && result.String != "" {
		var pr lifecycle.ProvisionResult
		if err := json.Unmarshal([]byte(result.String), &pr); err != nil {
			return nil, fmt.Errorf("failed to decode launch result: %w", err)
		}
		d.LaunchResult = &pr
	}
	return &d, nil
}

func encodeLaunchResult(r *lifecycle.ProvisionResult) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode launch result: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
