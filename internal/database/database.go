package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB is the SQLite configuration store: job definitions, table mappings
// and the execution ledger.
type DB struct {
	*sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between the runner and the API.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	l := logger.With().Str("component", "store").Logger()
	l.Info().Str("path", path).Msg("Database initialized")

	return &DB{DB: sqlDB, logger: l, now: time.Now}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS table_mappings (
            id TEXT PRIMARY KEY,
            source_name TEXT NOT NULL,
            source_table TEXT NOT NULL,
            target_kind TEXT NOT NULL,
            spreadsheet_id TEXT NOT NULL DEFAULT '',
            target_path TEXT NOT NULL DEFAULT '',
            sheet_name TEXT NOT NULL,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS field_mappings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            mapping_id TEXT NOT NULL REFERENCES table_mappings(id) ON DELETE CASCADE,
            position INTEGER NOT NULL,
            source_column TEXT NOT NULL,
            target_field TEXT NOT NULL,
            transform_name TEXT NOT NULL DEFAULT '',
            default_value TEXT,
            required BOOLEAN NOT NULL DEFAULT 0,
            data_type TEXT NOT NULL DEFAULT 'string',
            UNIQUE(mapping_id, source_column),
            UNIQUE(mapping_id, target_field)
        )`,
		`CREATE TABLE IF NOT EXISTS sync_jobs (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            mapping_id TEXT NOT NULL,
            schedule TEXT NOT NULL,
            conflict_strategy TEXT NOT NULL DEFAULT 'overwrite',
            enabled BOOLEAN NOT NULL DEFAULT 1,
            status TEXT NOT NULL DEFAULT 'idle',
            retry_count INTEGER NOT NULL DEFAULT 0,
            max_retries INTEGER NOT NULL DEFAULT 3,
            last_run DATETIME,
            last_error TEXT,
            last_error_time DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS execution_logs (
            id TEXT PRIMARY KEY,
            job_id TEXT NOT NULL,
            status TEXT NOT NULL,
            start_time DATETIME NOT NULL,
            end_time DATETIME,
            duration_ms INTEGER NOT NULL DEFAULT 0,
            records_processed INTEGER NOT NULL DEFAULT 0,
            records_succeeded INTEGER NOT NULL DEFAULT 0,
            records_failed INTEGER NOT NULL DEFAULT 0,
            retry_attempt INTEGER NOT NULL DEFAULT 0,
            error_message TEXT NOT NULL DEFAULT ''
        )`,

		`CREATE INDEX IF NOT EXISTS idx_field_mappings_mapping ON field_mappings(mapping_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_jobs_enabled ON sync_jobs(enabled)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_logs_job ON execution_logs(job_id, start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_logs_status ON execution_logs(status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// SetClock replaces the time source used for created/updated stamps.
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error().Err(rbErr).Msg("Rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
