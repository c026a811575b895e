// Package history persists an audit row per acquisition attempt. The store
// is optional: when no DSN is configured the pipeline runs with the no-op
// recorder.
package history

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Record is one acquisition attempt's audit row.
type Record struct {
	ID         string
	JobID      string
	Target     string
	Platform   string
	Outcome    string
	Reason     string
	StorageDir string
	Duration   time.Duration
	CreatedAt  time.Time
}

// Recorder receives acquisition audit rows. Recording is best effort from the
// pipeline's point of view; a failed insert never fails an acquisition.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
	Close()
}

// StoreConfig controls the Postgres connection pool.
type StoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// Store writes audit rows into Postgres.
type Store struct {
	pool  execCloser
	table string
}

// NewStore creates a Postgres-backed Store using the provided config.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("history.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "acquisitions"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, table: table}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(pool execCloser, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "acquisitions"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Record inserts one audit row.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("history store is not configured")
	}
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	job_uuid,
	target,
	platform,
	outcome,
	reason,
	storage_dir,
	duration_ms,
	created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, s.table)

	args := []any{
		rec.ID,
		rec.JobID,
		rec.Target,
		rec.Platform,
		rec.Outcome,
		rec.Reason,
		rec.StorageDir,
		rec.Duration.Milliseconds(),
		rec.CreatedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert acquisition: %w", err)
	}
	return nil
}

// Recent returns the newest n audit rows, most recent first.
func (s *Store) Recent(ctx context.Context, n int) ([]Record, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("history store is not configured")
	}
	if n <= 0 {
		n = 20
	}
	query := fmt.Sprintf(`
SELECT
	id,
	job_uuid,
	target,
	platform,
	outcome,
	reason,
	storage_dir,
	duration_ms,
	created_at
FROM %s
ORDER BY created_at DESC
LIMIT $1`, s.table)

	rows, err := s.pool.Query(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("query acquisitions: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec        Record
			durationMs int64
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.JobID,
			&rec.Target,
			&rec.Platform,
			&rec.Outcome,
			&rec.Reason,
			&rec.StorageDir,
			&durationMs,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan acquisition: %w", err)
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate acquisitions: %w", err)
	}
	return records, nil
}

// NoOp discards every record. Used when auditing is not configured.
type NoOp struct{}

// Record implements Recorder.
func (NoOp) Record(context.Context, Record) error { return nil }

// Close implements Recorder.
func (NoOp) Close() {}
