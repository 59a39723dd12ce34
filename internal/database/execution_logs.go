package database

import (
	"context"
	"database/sql"
	"fmt"

	"tablesync/internal/domain"
	"tablesync/internal/models"
)

// AppendLog inserts the running row for a new attempt.
func (db *DB) AppendLog(ctx context.Context, l *models.ExecutionLog) error {
	query := `INSERT INTO execution_logs (id, job_id, status, start_time, retry_attempt)
              VALUES (?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query, l.ID, l.JobID, l.Status, l.StartTime.UTC(), l.RetryAttempt)
	if err != nil {
		return fmt.Errorf("failed to append execution log: %w", err)
	}
	return nil
}

// FinalizeLog writes the terminal fields once. A row that is no longer
// running is left as is and ErrLogFinalized is returned.
func (db *DB) FinalizeLog(ctx context.Context, l *models.ExecutionLog) error {
	query := `UPDATE execution_logs
              SET status = ?, end_time = ?, duration_ms = ?, records_processed = ?, records_succeeded = ?,
                  records_failed = ?, error_message = ?
              WHERE id = ? AND status = 'running'`
	res, err := db.ExecContext(ctx, query,
		l.Status,
		nullTime(l.EndTime),
		l.DurationMs,
		l.RecordsProcessed,
		l.RecordsSucceeded,
		l.RecordsFailed,
		l.ErrorMessage,
		l.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize execution log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finalize execution log: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("log %s: %w", l.ID, domain.ErrLogFinalized)
	}
	return nil
}

// GetLogs returns up to limit logs of a job, newest first.
func (db *DB) GetLogs(ctx context.Context, jobID string, limit int) ([]*models.ExecutionLog, error) {
	if limit <= 0 {
		limit = models.DefaultLogsLimit
	}
	if limit > models.MaxLogsLimit {
		limit = models.MaxLogsLimit
	}

	query := `SELECT id, job_id, status, start_time, end_time, duration_ms, records_processed, records_succeeded,
                     records_failed, retry_attempt, error_message
              FROM execution_logs WHERE job_id = ?
              ORDER BY start_time DESC, rowid DESC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get execution logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.ExecutionLog
	for rows.Next() {
		var (
			l   models.ExecutionLog
			end sql.NullTime
		)
		err := rows.Scan(
			&l.ID, &l.JobID, &l.Status, &l.StartTime, &end, &l.DurationMs, &l.RecordsProcessed,
			&l.RecordsSucceeded, &l.RecordsFailed, &l.RetryAttempt, &l.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}
		l.EndTime = timePtr(end)
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// CountLogsByStatus is used by status reporting and tests.
func (db *DB) CountLogsByStatus(ctx context.Context, jobID, status string) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM execution_logs WHERE job_id = ? AND status = ?`, jobID, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count execution logs: %w", err)
	}
	return count, nil
}
