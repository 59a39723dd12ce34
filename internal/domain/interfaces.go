package domain

import (
	"context"

	"tablesync/internal/models"
)

// RelationalSource reads rows from a configured database.
type RelationalSource interface {
	Query(ctx context.Context, conn models.ConnectionConfig, query string) ([]*models.Record, error)
}

// DocumentSink writes records into a sheet of a spreadsheet-like document.
type DocumentSink interface {
	GetFieldTypes(ctx context.Context, ref models.SheetRef) (map[string]models.FieldType, error)
	Clear(ctx context.Context, ref models.SheetRef) error
	Write(ctx context.Context, ref models.SheetRef, records []*models.Record) error
	Append(ctx context.Context, ref models.SheetRef, records []*models.Record) error
}

type JobStore interface {
	GetJob(ctx context.Context, id string) (*models.SyncJob, error)
	ListJobs(ctx context.Context) ([]*models.SyncJob, error)
	SaveJob(ctx context.Context, job *models.SyncJob) error
}

type MappingStore interface {
	GetMapping(ctx context.Context, id string) (*models.TableMapping, error)
}

// Ledger is the append-only execution history.
type Ledger interface {
	AppendLog(ctx context.Context, log *models.ExecutionLog) error
	FinalizeLog(ctx context.Context, log *models.ExecutionLog) error
	GetLogs(ctx context.Context, jobID string, limit int) ([]*models.ExecutionLog, error)
}

// JobStateWriter persists runtime state only. Definition fields (name,
// mapping, schedule, strategy, enabled, max retries) are never touched.
type JobStateWriter interface {
	SaveJobState(ctx context.Context, job *models.SyncJob) error
}

// ConfigStore is everything the engine needs from the configuration store.
type ConfigStore interface {
	JobStore
	JobStateWriter
	MappingStore
	Ledger
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// StatusRepository caches the latest job snapshot and exhausted chains.
type StatusRepository interface {
	SetStatus(ctx context.Context, snap *models.JobSnapshot) error
	GetStatus(ctx context.Context, jobID string) (*models.JobSnapshot, error)
	PushDeadLetter(ctx context.Context, snap *models.JobSnapshot) error
	ListDeadLetters(ctx context.Context, limit int) ([]*models.JobSnapshot, error)
}

// JobExecutor runs a job to completion of its retry chain.
type JobExecutor interface {
	Execute(ctx context.Context, jobID string) (*models.ExecutionLog, error)
	IsRunning(jobID string) bool
	RunningJobIDs() []string
}
