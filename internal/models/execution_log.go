package models

import "time"

// ExecutionLog records one run attempt of a job.
type ExecutionLog struct {
	ID               string     `json:"id"`
	JobID            string     `json:"job_id"`
	Status           string     `json:"status"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	DurationMs       int64      `json:"duration_ms"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsSucceeded int        `json:"records_succeeded"`
	RecordsFailed    int        `json:"records_failed"`
	RetryAttempt     int        `json:"retry_attempt"`
	ErrorMessage     string     `json:"error_message,omitempty"`
}

// Finish sets the terminal fields. recordsFailed is derived so the
// processed/succeeded/failed counts always add up.
func (l *ExecutionLog) Finish(status string, end time.Time, processed, succeeded int, errMsg string) {
	if end.Before(l.StartTime) {
		end = l.StartTime
	}
	if succeeded > processed {
		succeeded = processed
	}
	l.Status = status
	l.EndTime = &end
	l.DurationMs = end.Sub(l.StartTime).Milliseconds()
	l.RecordsProcessed = processed
	l.RecordsSucceeded = succeeded
	l.RecordsFailed = processed - succeeded
	l.ErrorMessage = errMsg
}

func (l *ExecutionLog) Terminal() bool {
	return l.Status == LogStatusSuccess || l.Status == LogStatusFailed
}
