// internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/layout-breaker/internal/mutation"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS task_records (
    id TEXT PRIMARY KEY,
    execution_id TEXT NOT NULL,
    site TEXT NOT NULL,
    viewport_width INTEGER NOT NULL,
    viewport_height INTEGER NOT NULL,
    manipulation TEXT NOT NULL,
    containers INTEGER NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS task_records_execution_idx ON task_records (execution_id);
CREATE TABLE IF NOT EXISTS task_captures (
    record_id TEXT NOT NULL REFERENCES task_records (id) ON DELETE CASCADE,
    container_index INTEGER NOT NULL,
    path TEXT NOT NULL,
    PRIMARY KEY (record_id, container_index)
);`

const (
	pgInsertRecord = `
        INSERT INTO task_records (id, execution_id, site, viewport_width, viewport_height, manipulation, containers, error, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`
	pgInsertCapture = `
        INSERT INTO task_captures (record_id, container_index, path)
        VALUES ($1, $2, $3);`
	pgSelectRecords = `
        SELECT id, site, viewport_width, viewport_height, manipulation, containers, error, started_at, finished_at
        FROM task_records
        WHERE execution_id = $1
        ORDER BY started_at ASC, id ASC;`
	pgSelectCaptures = `
        SELECT c.record_id, c.container_index, c.path
        FROM task_captures c
        JOIN task_records r ON r.id = c.record_id
        WHERE r.execution_id = $1
        ORDER BY c.record_id, c.container_index;`
)

// Postgres keeps task records in PostgreSQL.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to url and creates the schema if needed.
func NewPostgres(ctx context.Context, url string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Postgres{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the tables when they are missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save writes a record and its captures in one transaction.
func (s *Postgres) Save(ctx context.Context, rec Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a successful commit reports ErrTxClosed.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, pgInsertRecord,
		rec.ID, rec.ExecutionID, rec.Site,
		rec.Viewport.Width, rec.Viewport.Height,
		string(rec.Manipulation), rec.Containers, rec.Error,
		rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert task record: %w", err)
	}
	for _, c := range rec.Captures {
		if _, err := tx.Exec(ctx, pgInsertCapture, rec.ID, c.Index, c.Path); err != nil {
			return fmt.Errorf("failed to insert capture %d: %w", c.Index, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ByExecution returns the records of one execution in start order.
func (s *Postgres) ByExecution(ctx context.Context, executionID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx, pgSelectRecords, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task records: %w", err)
	}
	var records []Record
	byID := make(map[string]int)
	for rows.Next() {
		rec := Record{ExecutionID: executionID}
		var manipulation string
		if err := rows.Scan(
			&rec.ID, &rec.Site, &rec.Viewport.Width, &rec.Viewport.Height,
			&manipulation, &rec.Containers, &rec.Error, &rec.StartedAt, &rec.FinishedAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task record row: %w", err)
		}
		rec.Manipulation = mutation.Kind(manipulation)
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

	captures, err := s.pool.Query(ctx, pgSelectCaptures, executionID)
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

// Close releases the pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
