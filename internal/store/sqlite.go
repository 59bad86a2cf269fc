// internal/store/sqlite.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xkilldash9x/layout-breaker/internal/mutation"
)

// Timestamps are stored as Unix nanoseconds.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS task_records (
    id TEXT PRIMARY KEY,
    execution_id TEXT NOT NULL,
    site TEXT NOT NULL,
    viewport_width INTEGER NOT NULL,
    viewport_height INTEGER NOT NULL,
    manipulation TEXT NOT NULL,
    containers INTEGER NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS task_records_execution_idx ON task_records (execution_id);
CREATE TABLE IF NOT EXISTS task_captures (
    record_id TEXT NOT NULL REFERENCES task_records (id) ON DELETE CASCADE,
    container_index INTEGER NOT NULL,
    path TEXT NOT NULL,
    PRIMARY KEY (record_id, container_index)
);`

// SQLite keeps task records in a local database file.
type SQLite struct {
	db  *sql.DB
	log *zap.Logger
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path, applies the
// connection pragmas and creates the schema.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// Writers are serialized on one connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	return &SQLite{db: db, log: logger.Named("store")}, nil
}

// Save writes a record and its captures in one transaction.
func (s *SQLite) Save(ctx context.Context, rec Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO task_records (id, execution_id, site, viewport_width, viewport_height, manipulation, containers, error, started_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ExecutionID, rec.Site,
		rec.Viewport.Width, rec.Viewport.Height,
		string(rec.Manipulation), rec.Containers, rec.Error,
		rec.StartedAt.UnixNano(), rec.FinishedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to insert task record: %w", err)
	}
	for _, c := range rec.Captures {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_captures (record_id, container_index, path) VALUES (?, ?, ?)`,
			rec.ID, c.Index, c.Path,
		); err != nil {
			return fmt.Errorf("failed to insert capture %d: %w", c.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ByExecution returns the records of one execution in start order.
func (s *SQLite) ByExecution(ctx context.Context, executionID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, site, viewport_width, viewport_height, manipulation, containers, error, started_at, finished_at
        FROM task_records
        WHERE execution_id = ?
        ORDER BY started_at ASC, id ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task records: %w", err)
	}
	var records []Record
	byID := make(map[string]int)
	for rows.Next() {
		rec := Record{ExecutionID: executionID}
		var manipulation string
		var started, finished int64
		if err := rows.Scan(
			&rec.ID, &rec.Site, &rec.Viewport.Width, &rec.Viewport.Height,
			&manipulation, &rec.Containers, &rec.Error, &started, &finished,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task record row: %w", err)
		}
		rec.Manipulation = mutation.Kind(manipulation)
		rec.StartedAt = time.Unix(0, started).UTC()
		rec.FinishedAt = time.Unix(0, finished).UTC()
		byID[rec.ID] = len(records)
		records = append(records, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	captures, err := s.db.QueryContext(ctx, `
        SELECT c.record_id, c.container_index, c.path
        FROM task_captures c
        JOIN task_records r ON r.id = c.record_id
        WHERE r.execution_id = ?
        ORDER BY c.record_id, c.container_index`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query captures: %w", err)
	}
	defer captures.Close()
	for captures.Next() {
		var recordID string
		var c Capture
		if err := captures.Scan(&recordID, &c.Index, &c.Path); err != nil {
			return nil, fmt.Errorf("failed to scan capture row: %w", err)
		}
		if i, ok := byID[recordID]; ok {
			records[i].Captures = append(records[i].Captures, c)
		}
	}
	if err := captures.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
