// Package ledger persists backup attempts in a local SQLite database.
// Rows are append-only: normal operation never updates or deletes them,
// and retention enforcement is left to the caller.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TFMV/nestegg/internal/model"
)

// ErrInvalidKeepLatest is returned when a negative keep-latest count is
// passed to RetentionCandidateIDs.
var ErrInvalidKeepLatest = errors.New("keepLatest must be >= 0")

// timeLayout stores timestamps timezone-aware at second precision.
const timeLayout = time.RFC3339

// Store is a SQLite-backed ledger of backup attempts.
type Store struct {
	db *sql.DB
}

// Open opens (creating parent directories as needed) the ledger database
// at the given path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}
	// Sequential writers only; a single connection serializes appends.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Initialize idempotently creates the history table and its lookup index.
// Safe to call on every process start.
func (s *Store) Initialize(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS backup_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pvc_uid TEXT NOT NULL,
			namespace TEXT NOT NULL,
			pvc_name TEXT NOT NULL,
			status TEXT NOT NULL,
			backup_path TEXT,
			checksum_sha256 TEXT,
			message TEXT,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("creating backup_history table: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_backup_history_lookup
		ON backup_history(namespace, pvc_name, status, finished_at)`)
	if err != nil {
		return fmt.Errorf("creating backup_history index: %w", err)
	}
	return nil
}

// RecordResult appends one immutable row. Duplicate content is allowed;
// the generated id is the only uniqueness.
func (s *Store) RecordResult(ctx context.Context, result model.BackupResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backup_history (
			pvc_uid, namespace, pvc_name, status,
			backup_path, checksum_sha256, message,
			started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.PVCUID,
		result.Namespace,
		result.PVCName,
		result.Status,
		nullable(result.BackupPath),
		nullable(result.Checksum),
		result.Message,
		result.StartedAt.UTC().Truncate(time.Second).Format(timeLayout),
		result.FinishedAt.UTC().Truncate(time.Second).Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("recording backup result: %w", err)
	}
	return nil
}

// LastSuccessMap returns, for every (namespace, pvc) pair with at least
// one success, the finish timestamp of its most recent success. Pairs
// with only failures are absent.
func (s *Store) LastSuccessMap(ctx context.Context) (map[[2]string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT current.namespace, current.pvc_name, current.finished_at
		FROM backup_history AS current
		WHERE current.status = 'success'
		  AND current.id = (
			SELECT candidate.id
			FROM backup_history AS candidate
			WHERE candidate.status = 'success'
			  AND candidate.namespace = current.namespace
			  AND candidate.pvc_name = current.pvc_name
			ORDER BY candidate.finished_at DESC, candidate.id DESC
			LIMIT 1
		  )`)
	if err != nil {
		return nil, fmt.Errorf("querying last successes: %w", err)
	}
	defer rows.Close()

	result := make(map[[2]string]string)
	for rows.Next() {
		var namespace, pvcName, finishedAt string
		if err := rows.Scan(&namespace, &pvcName, &finishedAt); err != nil {
			return nil, fmt.Errorf("scanning last success row: %w", err)
		}
		result[[2]string{namespace, pvcName}] = finishedAt
	}
	return result, rows.Err()
}

// RecentResults returns up to limit rows across all entities, most recent
// first (finish time desc, insertion id as tie-break). A non-positive
// limit returns an empty slice.
func (s *Store) RecentResults(ctx context.Context, limit int) ([]model.BackupResult, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pvc_uid, namespace, pvc_name, status,
		       backup_path, checksum_sha256, message,
		       started_at, finished_at
		FROM backup_history
		ORDER BY finished_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent results: %w", err)
	}
	defer rows.Close()

	var results []model.BackupResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// CountResults returns the total number of recorded attempts.
func (s *Store) CountResults(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM backup_history`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting backup results: %w", err)
	}
	return count, nil
}

// RetentionCandidateIDs returns the ids of all rows beyond the keepLatest
// most recent, in the same ordering as RecentResults. It performs no
// deletion.
func (s *Store) RetentionCandidateIDs(ctx context.Context, keepLatest int) ([]int64, error) {
	if keepLatest < 0 {
		return nil, ErrInvalidKeepLatest
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM backup_history
		ORDER BY finished_at DESC, id DESC
		LIMIT -1 OFFSET ?`, keepLatest)
	if err != nil {
		return nil, fmt.Errorf("querying retention candidates: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning retention candidate id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanResult(rows *sql.Rows) (model.BackupResult, error) {
	var (
		result               model.BackupResult
		backupPath, checksum sql.NullString
		startedAt            string
		finishedAt           string
	)
	if err := rows.Scan(
		&result.ID,
		&result.PVCUID,
		&result.Namespace,
		&result.PVCName,
		&result.Status,
		&backupPath,
		&checksum,
		&result.Message,
		&startedAt,
		&finishedAt,
	); err != nil {
		return model.BackupResult{}, fmt.Errorf("scanning backup result row: %w", err)
	}
	result.BackupPath = backupPath.String
	result.Checksum = checksum.String

	var err error
	if result.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return model.BackupResult{}, fmt.Errorf("parsing started_at: %w", err)
	}
	if result.FinishedAt, err = time.Parse(timeLayout, finishedAt); err != nil {
		return model.BackupResult{}, fmt.Errorf("parsing finished_at: %w", err)
	}
	return result, nil
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
