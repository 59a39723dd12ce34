package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"tablesync/internal/domain"
	"tablesync/internal/events"
	"tablesync/internal/models"
	"tablesync/internal/source"
	"tablesync/internal/transform"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RunnerConfig tunes a Runner.
type RunnerConfig struct {
	Retry       RetryPolicy
	RunTimeout  time.Duration
	Connections []models.ConnectionConfig
}

// Runner executes jobs end to end: read, transform, write, record.
// At most one execution per job is in flight at any time.
type Runner struct {
	store       domain.ConfigStore
	source      domain.RelationalSource
	sink        domain.DocumentSink
	pipeline    *transform.Pipeline
	events      domain.EventPublisher
	connections map[string]models.ConnectionConfig
	retry       RetryPolicy
	runTimeout  time.Duration
	logger      zerolog.Logger

	now   func() time.Time
	newID func() string
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	running map[string]struct{}
}

func NewRunner(
	store domain.ConfigStore,
	src domain.RelationalSource,
	sink domain.DocumentSink,
	cfg RunnerConfig,
	logger *zerolog.Logger,
) *Runner {
	conns := make(map[string]models.ConnectionConfig, len(cfg.Connections))
	for _, c := range cfg.Connections {
		conns[c.Name] = c
	}
	return &Runner{
		store:       store,
		source:      src,
		sink:        sink,
		pipeline:    transform.NewPipeline(logger),
		connections: conns,
		retry:       cfg.Retry,
		runTimeout:  cfg.RunTimeout,
		logger:      logger.With().Str("component", "runner").Logger(),
		now:         time.Now,
		newID:       uuid.NewString,
		sleep:       sleepContext,
		running:     make(map[string]struct{}),
	}
}

// SetEventPublisher attaches a publisher for job lifecycle events.
func (r *Runner) SetEventPublisher(p domain.EventPublisher) {
	r.events = p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Runner) acquire(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.running[jobID]; busy {
		return false
	}
	r.running[jobID] = struct{}{}
	return true
}

func (r *Runner) release(jobID string) {
	r.mu.Lock()
	delete(r.running, jobID)
	r.mu.Unlock()
}

// IsRunning reports whether jobID currently holds an execution slot.
func (r *Runner) IsRunning(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, busy := r.running[jobID]
	return busy
}

// RunningJobIDs returns the ids holding a slot, sorted.
func (r *Runner) RunningJobIDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.running))
	for id := range r.running {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Execute runs jobID until an attempt succeeds or the retry chain ends.
// It returns the log of the last attempt. ErrAlreadyRunning is returned
// without touching the ledger or the job when a run is already in flight.
func (r *Runner) Execute(ctx context.Context, jobID string) (*models.ExecutionLog, error) {
	if !r.acquire(jobID) {
		return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrAlreadyRunning)
	}
	defer r.release(jobID)

	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Exhausted() {
		job.RetryCount = 0
	}

	for {
		log, err := r.attempt(ctx, job)
		if err == nil {
			return log, nil
		}

		retryable := domain.IsRetryable(err)
		if !retryable || !r.retry.ShouldRetry(job.RetryCount, job.MaxRetries) {
			if retryable {
				r.publish(events.EventJobExhausted, job, log, err)
			}
			r.logger.Error().
				Err(err).
				Str("job_id", job.ID).
				Int("retry_count", job.RetryCount).
				Int("max_retries", job.MaxRetries).
				Bool("retryable", retryable).
				Msg("Job run failed, giving up")
			return log, err
		}

		delay := r.retry.DelayFor(job.RetryCount)
		r.logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Int("retry_count", job.RetryCount).
			Dur("delay", delay).
			Msg("Job run failed, retrying")

		if err := r.sleep(ctx, delay); err != nil {
			return log, fmt.Errorf("retry of job %s interrupted: %w", job.ID, err)
		}

		fresh, err := r.store.GetJob(ctx, jobID)
		if err != nil {
			return log, err
		}
		job = fresh
	}
}

// attempt performs one run and persists its outcome. On failure the job's
// retry count has been incremented when it returns.
func (r *Runner) attempt(ctx context.Context, job *models.SyncJob) (*models.ExecutionLog, error) {
	persistCtx := context.WithoutCancel(ctx)
	start := r.now()
	log := &models.ExecutionLog{
		ID:           r.newID(),
		JobID:        job.ID,
		Status:       models.LogStatusRunning,
		StartTime:    start,
		RetryAttempt: job.RetryCount,
	}
	if err := r.store.AppendLog(persistCtx, log); err != nil {
		r.recordFailure(persistCtx, job, nil, 0, 0, fmt.Errorf("append execution log: %w", err))
		return nil, err
	}

	job.Status = models.JobStatusRunning
	job.LastRun = &start
	if err := r.store.SaveJobState(persistCtx, job); err != nil {
		err = fmt.Errorf("save running state: %w", err)
		r.recordFailure(persistCtx, job, log, 0, 0, err)
		return log, err
	}
	r.publish(events.EventJobStarted, job, log, nil)

	runCtx := ctx
	if r.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.runTimeout)
		defer cancel()
	}

	processed, succeeded, err := r.run(runCtx, job)
	if err != nil {
		r.recordFailure(persistCtx, job, log, processed, succeeded, err)
		return log, err
	}

	log.Finish(models.LogStatusSuccess, r.now(), processed, succeeded, "")
	if err := r.store.FinalizeLog(persistCtx, log); err != nil {
		r.logger.Error().Err(err).Str("job_id", job.ID).Str("log_id", log.ID).Msg("Failed to finalize execution log")
	}
	job.Status = models.JobStatusIdle
	job.RetryCount = 0
	if err := r.store.SaveJobState(persistCtx, job); err != nil {
		r.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to save job after success")
	}

	r.logger.Info().
		Str("job_id", job.ID).
		Str("log_id", log.ID).
		Int("attempt", log.RetryAttempt).
		Int("records_processed", log.RecordsProcessed).
		Int("records_succeeded", log.RecordsSucceeded).
		Int("records_failed", log.RecordsFailed).
		Int64("duration_ms", log.DurationMs).
		Msg("Job run succeeded")
	r.publish(events.EventJobSucceeded, job, log, nil)
	return log, nil
}

func (r *Runner) recordFailure(ctx context.Context, job *models.SyncJob, log *models.ExecutionLog, processed, succeeded int, cause error) {
	msg := cause.Error()
	end := r.now()

	if log != nil {
		log.Finish(models.LogStatusFailed, end, processed, succeeded, msg)
		if err := r.store.FinalizeLog(ctx, log); err != nil {
			r.logger.Error().Err(err).Str("job_id", job.ID).Str("log_id", log.ID).Msg("Failed to finalize execution log")
		}
	}

	job.Status = models.JobStatusFailed
	job.LastError = &msg
	job.LastErrorTime = &end
	job.RetryCount++
	if err := r.store.SaveJobState(ctx, job); err != nil {
		r.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to save job after failure")
	}

	ev := r.logger.Warn().Err(cause).Str("job_id", job.ID).Int("retry_count", job.RetryCount)
	if log != nil {
		ev = ev.Str("log_id", log.ID).
			Int("attempt", log.RetryAttempt).
			Int("records_processed", log.RecordsProcessed).
			Int("records_failed", log.RecordsFailed).
			Int64("duration_ms", log.DurationMs)
	}
	ev.Msg("Job attempt failed")
	r.publish(events.EventJobFailed, job, log, cause)
}

// run reads, transforms and writes. A panic is reported as an error.
func (r *Runner) run(ctx context.Context, job *models.SyncJob) (processed, succeeded int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during run: %v", rec)
		}
	}()

	mapping, err := r.store.GetMapping(ctx, job.MappingID)
	if err != nil {
		if errors.Is(err, domain.ErrMappingNotFound) {
			return 0, 0, domain.NewConfigurationError(job.ID, "resolve mapping", err)
		}
		return 0, 0, fmt.Errorf("load mapping %s: %w", job.MappingID, err)
	}
	if err := transform.Validate(mapping.ID, mapping.Fields); err != nil {
		return 0, 0, withJob(err, job.ID)
	}
	if !models.ValidStrategy(job.ConflictStrategy) {
		return 0, 0, domain.NewConfigurationError(job.ID, fmt.Sprintf("unknown conflict strategy %q", job.ConflictStrategy), nil)
	}
	conn, ok := r.connections[mapping.SourceName]
	if !ok {
		return 0, 0, domain.NewConfigurationError(job.ID, fmt.Sprintf("unknown source %q", mapping.SourceName), nil)
	}
	query, err := source.BuildSelectAll(mapping.SourceTable)
	if err != nil {
		return 0, 0, domain.NewConfigurationError(job.ID, "build query", err)
	}

	rows, err := r.source.Query(ctx, conn, query)
	if err != nil {
		return 0, 0, &domain.SourceReadError{Source: conn.Name, Table: mapping.SourceTable, Err: err}
	}
	processed = len(rows)

	target := mapping.Target
	fieldTypes, err := r.sink.GetFieldTypes(ctx, target)
	if err != nil {
		return processed, 0, sinkError(job.ID, target, "introspect", err)
	}

	res := r.pipeline.Transform(rows, mapping.Fields, fieldTypes)

	switch job.ConflictStrategy {
	case models.StrategyMerge, models.StrategyOverwrite:
		if job.ConflictStrategy == models.StrategyMerge {
			r.logger.Debug().Str("job_id", job.ID).Msg("Merge strategy writes like overwrite")
		}
		if err := r.sink.Clear(ctx, target); err != nil {
			return processed, 0, sinkError(job.ID, target, "clear", err)
		}
		if err := r.sink.Write(ctx, target, res.Records); err != nil {
			return processed, 0, sinkError(job.ID, target, "write", err)
		}
	case models.StrategyAppend:
		if err := r.sink.Append(ctx, target, res.Records); err != nil {
			return processed, 0, sinkError(job.ID, target, "append", err)
		}
	}

	if len(res.Warnings) > 0 || res.Rejected > 0 {
		r.logger.Info().
			Str("job_id", job.ID).
			Int("warnings", len(res.Warnings)).
			Int("rejected", res.Rejected).
			Msg("Run completed with degraded rows")
	}
	return processed, len(res.Records), nil
}

func withJob(err error, jobID string) error {
	var cfgErr *domain.ConfigurationError
	if errors.As(err, &cfgErr) && cfgErr.JobID == "" {
		cfgErr.JobID = jobID
	}
	return err
}

func sinkError(jobID string, target models.SheetRef, op string, err error) error {
	var cfgErr *domain.ConfigurationError
	if errors.As(err, &cfgErr) {
		return withJob(err, jobID)
	}
	return &domain.SinkWriteError{Target: target.String(), Op: op, Err: err}
}

func (r *Runner) publish(eventType string, job *models.SyncJob, log *models.ExecutionLog, cause error) {
	if r.events == nil {
		return
	}
	payload := events.JobEventPayload{
		JobID:      job.ID,
		JobName:    job.Name,
		Status:     job.Status,
		RetryCount: job.RetryCount,
		MaxRetries: job.MaxRetries,
		At:         r.now(),
	}
	if log != nil {
		payload.LogID = log.ID
		payload.Attempt = log.RetryAttempt
		payload.RecordsProcessed = log.RecordsProcessed
		payload.RecordsSucceeded = log.RecordsSucceeded
		payload.DurationMs = log.DurationMs
	}
	if cause != nil {
		payload.Error = cause.Error()
	}
	if err := r.events.PublishJSON(eventType, payload); err != nil {
		r.logger.Warn().Err(err).Str("event", eventType).Str("job_id", job.ID).Msg("Failed to publish job event")
	}
}
