package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"sachet/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Sentinel errors for callers to match with errors.Is.
var (
	// ErrStorageUnavailable means the local persistence layer could not be
	// opened; the process has no offline capability for this session.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrWriteFailed means a single local write failed.
	ErrWriteFailed = errors.New("write failed")
	// ErrNotFound means no report exists for the requested id.
	ErrNotFound = errors.New("report not found")
)

// Store is the durable, reload-safe report store. Records are keyed by an
// auto-assigned id with a secondary index on sync status. The sync core
// creates and updates records but never deletes them.
type Store struct {
	db     *sql.DB
	logger *zerolog.Logger
}

// Open initializes the store at path, creating the schema on first use.
// Safe to call against an existing database: schema statements are all
// IF NOT EXISTS.
func Open(path string, logger *zerolog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create database directory: %v", ErrStorageUnavailable, err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrStorageUnavailable, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: connect to database: %v", ErrStorageUnavailable, err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create tables: %v", ErrStorageUnavailable, err)
	}

	logger.Info().Str("path", path).Msg("report store initialized")
	return &Store{db: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS hazard_reports (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            hazard_type TEXT NOT NULL,
            description TEXT NOT NULL,
            latitude REAL NOT NULL,
            longitude REAL NOT NULL,
            media_ref TEXT NOT NULL DEFAULT '',
            sync_status TEXT NOT NULL DEFAULT 'pending',
            created_at DATETIME NOT NULL,
            created_offline BOOLEAN NOT NULL DEFAULT 0,
            synced_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_hazard_reports_sync_status ON hazard_reports(sync_status)`,
		`CREATE INDEX IF NOT EXISTS idx_hazard_reports_created_at ON hazard_reports(created_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %v", query, err)
		}
	}
	return nil
}

// Insert persists a new report and assigns its id. The caller-provided
// SyncStatus/CreatedAt/CreatedOffline fields are stored as given.
func (s *Store) Insert(ctx context.Context, report *models.HazardReport) (int64, error) {
	query := `INSERT INTO hazard_reports (hazard_type, description, latitude, longitude, media_ref, sync_status, created_at, created_offline, synced_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := s.db.ExecContext(ctx, query,
		report.Payload.HazardType,
		report.Payload.Description,
		report.Payload.Latitude,
		report.Payload.Longitude,
		report.Payload.MediaRef,
		report.SyncStatus,
		report.CreatedAt,
		report.CreatedOffline,
		report.SyncedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert report: %v", ErrWriteFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: last insert id: %v", ErrWriteFailed, err)
	}
	report.ID = id

	return id, nil
}

// GetByStatus returns all reports with the given sync status in ascending id
// order, so a sync pass always processes oldest-first.
func (s *Store) GetByStatus(ctx context.Context, status string) ([]models.HazardReport, error) {
	query := selectColumns + ` FROM hazard_reports WHERE sync_status = ? ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to get reports by status: %w", err)
	}
	defer rows.Close()

	return scanReports(rows)
}

// GetAll returns every report in id order.
func (s *Store) GetAll(ctx context.Context) ([]models.HazardReport, error) {
	query := selectColumns + ` FROM hazard_reports ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get reports: %w", err)
	}
	defer rows.Close()

	return scanReports(rows)
}

// Get returns a single report by id.
func (s *Store) Get(ctx context.Context, id int64) (*models.HazardReport, error) {
	query := selectColumns + ` FROM hazard_reports WHERE id = ?`
	report, err := scanReport(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get report %d: %w", id, err)
	}
	return report, nil
}

// Update reads the report, applies mutate and writes the result back inside
// one immediate transaction, so the read-modify-write is atomic with respect
// to other updates of the same id.
func (s *Store) Update(ctx context.Context, id int64, mutate func(*models.HazardReport) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin update: %v", ErrWriteFailed, err)
	}
	defer tx.Rollback()

	query := selectColumns + ` FROM hazard_reports WHERE id = ?`
	report, err := scanReport(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		return fmt.Errorf("failed to read report %d: %w", id, err)
	}

	if err := mutate(report); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE hazard_reports SET hazard_type = ?, description = ?, latitude = ?, longitude = ?, media_ref = ?, sync_status = ?, created_offline = ?, synced_at = ? WHERE id = ?`,
		report.Payload.HazardType,
		report.Payload.Description,
		report.Payload.Latitude,
		report.Payload.Longitude,
		report.Payload.MediaRef,
		report.SyncStatus,
		report.CreatedOffline,
		report.SyncedAt,
		id,
	)
	if err != nil {
		return fmt.Errorf("%w: update report %d: %v", ErrWriteFailed, id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit update %d: %v", ErrWriteFailed, id, err)
	}
	return nil
}

// CountByStatus returns the number of reports with the given status.
func (s *Store) CountByStatus(ctx context.Context, status string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM hazard_reports WHERE sync_status = ?`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count reports: %w", err)
	}
	return count, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const selectColumns = `SELECT id, hazard_type, description, latitude, longitude, media_ref, sync_status, created_at, created_offline, synced_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*models.HazardReport, error) {
	var r models.HazardReport
	var syncedAt sql.NullTime
	err := row.Scan(
		&r.ID,
		&r.Payload.HazardType,
		&r.Payload.Description,
		&r.Payload.Latitude,
		&r.Payload.Longitude,
		&r.Payload.MediaRef,
		&r.SyncStatus,
		&r.CreatedAt,
		&r.CreatedOffline,
		&syncedAt,
	)
	if err != nil {
		return nil, err
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		r.SyncedAt = &t
	}
	return &r, nil
}

func scanReports(rows *sql.Rows) ([]models.HazardReport, error) {
	var reports []models.HazardReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reports, nil
}
