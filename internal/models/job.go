package models

import "time"

// SyncJob is a named, schedulable sync of one table mapping into a sheet.
type SyncJob struct {
	ID               string     `json:"id" yaml:"id"`
	Name             string     `json:"name" yaml:"name"`
	MappingID        string     `json:"mapping_id" yaml:"mapping_id"`
	Schedule         string     `json:"schedule" yaml:"schedule"`
	ConflictStrategy string     `json:"conflict_strategy" yaml:"conflict_strategy"`
	Enabled          bool       `json:"enabled" yaml:"enabled"`
	Status           string     `json:"status" yaml:"-"`
	RetryCount       int        `json:"retry_count" yaml:"-"`
	MaxRetries       int        `json:"max_retries" yaml:"max_retries"`
	LastRun          *time.Time `json:"last_run,omitempty" yaml:"-"`
	LastError        *string    `json:"last_error,omitempty" yaml:"-"`
	LastErrorTime    *time.Time `json:"last_error_time,omitempty" yaml:"-"`
	CreatedAt        time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt        time.Time  `json:"updated_at" yaml:"-"`
}

// Exhausted reports whether the current retry chain has run out of attempts.
func (j *SyncJob) Exhausted() bool {
	return j.RetryCount > j.MaxRetries
}

// JobSnapshot is the cached view of a job's state after a transition.
type JobSnapshot struct {
	JobID         string     `json:"job_id"`
	Name          string     `json:"name"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	MaxRetries    int        `json:"max_retries"`
	LastRun       *time.Time `json:"last_run,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	LastErrorTime *time.Time `json:"last_error_time,omitempty"`
	LastLogID     string     `json:"last_log_id,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func SnapshotOf(job *SyncJob, logID string, at time.Time) *JobSnapshot {
	snap := &JobSnapshot{
		JobID:         job.ID,
		Name:          job.Name,
		Status:        job.Status,
		RetryCount:    job.RetryCount,
		MaxRetries:    job.MaxRetries,
		LastRun:       job.LastRun,
		LastErrorTime: job.LastErrorTime,
		LastLogID:     logID,
		UpdatedAt:     at,
	}
	if job.LastError != nil {
		snap.LastError = *job.LastError
	}
	return snap
}
