package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tablesync/internal/domain"
	"tablesync/internal/models"
)

const jobColumns = `id, name, mapping_id, schedule, conflict_strategy, enabled, status, retry_count, max_retries,
        last_run, last_error, last_error_time, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.SyncJob, error) {
	var (
		job           models.SyncJob
		lastRun       sql.NullTime
		lastError     sql.NullString
		lastErrorTime sql.NullTime
	)
	err := row.Scan(
		&job.ID,
		&job.Name,
		&job.MappingID,
		&job.Schedule,
		&job.ConflictStrategy,
		&job.Enabled,
		&job.Status,
		&job.RetryCount,
		&job.MaxRetries,
		&lastRun,
		&lastError,
		&lastErrorTime,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.LastRun = timePtr(lastRun)
	job.LastError = stringPtr(lastError)
	job.LastErrorTime = timePtr(lastErrorTime)
	return &job, nil
}

func (db *DB) GetJob(ctx context.Context, id string) (*models.SyncJob, error) {
	row := db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM sync_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

func (db *DB) ListJobs(ctx context.Context) ([]*models.SyncJob, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+jobColumns+` FROM sync_jobs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// SaveJob persists the full job record, runtime state included.
func (db *DB) SaveJob(ctx context.Context, job *models.SyncJob) error {
	now := db.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = models.JobStatusIdle
	}

	query := `
        INSERT INTO sync_jobs (` + jobColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            mapping_id = excluded.mapping_id,
            schedule = excluded.schedule,
            conflict_strategy = excluded.conflict_strategy,
            enabled = excluded.enabled,
            status = excluded.status,
            retry_count = excluded.retry_count,
            max_retries = excluded.max_retries,
            last_run = excluded.last_run,
            last_error = excluded.last_error,
            last_error_time = excluded.last_error_time,
            updated_at = excluded.updated_at
    `
	_, err := db.ExecContext(ctx, query,
		job.ID,
		job.Name,
		job.MappingID,
		job.Schedule,
		job.ConflictStrategy,
		job.Enabled,
		job.Status,
		job.RetryCount,
		job.MaxRetries,
		nullTime(job.LastRun),
		nullString(job.LastError),
		nullTime(job.LastErrorTime),
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// SaveJobState updates the runtime columns of an existing job: status,
// retry count, last run, last error and its time.
func (db *DB) SaveJobState(ctx context.Context, job *models.SyncJob) error {
	job.UpdatedAt = db.now().UTC()
	if job.Status == "" {
		job.Status = models.JobStatusIdle
	}

	res, err := db.ExecContext(ctx, `
        UPDATE sync_jobs SET
            status = ?,
            retry_count = ?,
            last_run = ?,
            last_error = ?,
            last_error_time = ?,
            updated_at = ?
        WHERE id = ?`,
		job.Status,
		job.RetryCount,
		nullTime(job.LastRun),
		nullString(job.LastError),
		nullTime(job.LastErrorTime),
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save state of job %s: %w", job.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", job.ID, domain.ErrJobNotFound)
	}
	return nil
}

// UpsertJobDefinition writes the definition fields of a job and leaves the
// runtime state of an existing row untouched.
func (db *DB) UpsertJobDefinition(ctx context.Context, job *models.SyncJob) error {
	now := db.now().UTC()
	query := `
        INSERT INTO sync_jobs (id, name, mapping_id, schedule, conflict_strategy, enabled, status, retry_count, max_retries, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, 'idle', 0, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            mapping_id = excluded.mapping_id,
            schedule = excluded.schedule,
            conflict_strategy = excluded.conflict_strategy,
            enabled = excluded.enabled,
            max_retries = excluded.max_retries,
            updated_at = excluded.updated_at
    `
	_, err := db.ExecContext(ctx, query,
		job.ID,
		job.Name,
		job.MappingID,
		job.Schedule,
		job.ConflictStrategy,
		job.Enabled,
		job.MaxRetries,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert job %s: %w", job.ID, err)
	}
	return nil
}

func (db *DB) DeleteJob(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM sync_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
	}
	return nil
}
