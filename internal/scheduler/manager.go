package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tablesync/internal/domain"
	"tablesync/internal/metrics"
	"tablesync/internal/models"

	"github.com/rs/zerolog"
)

var ErrNotInitialized = errors.New("scheduler manager is not initialized")

// Status is the manager's introspection view.
type Status struct {
	Initialized     bool                 `json:"initialized"`
	ScheduledJobIDs []string             `json:"scheduled_job_ids"`
	RunningJobIDs   []string             `json:"running_job_ids"`
	NextRuns        map[string]time.Time `json:"next_runs,omitempty"`
}

type ManagerConfig struct {
	Location    *time.Location
	SettleDelay time.Duration
}

// Manager owns the scheduler lifecycle for one process.
type Manager struct {
	store    domain.JobStore
	exec     domain.JobExecutor
	launcher *Launcher
	cfg      ManagerConfig
	logger   *zerolog.Logger
	log      zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	// lifecycle serializes Initialize, Shutdown and Reload.
	lifecycle sync.Mutex
	mu        sync.RWMutex
	sched     *Scheduler
	// lastJobs is the job set of the last successful initialize.
	lastJobs  []*models.SyncJob
	observers []func(initialized bool)
}

func NewManager(store domain.JobStore, exec domain.JobExecutor, cfg ManagerConfig, logger *zerolog.Logger) *Manager {
	return &Manager{
		store:    store,
		exec:     exec,
		launcher: NewLauncher(exec, logger),
		cfg:      cfg,
		logger:   logger,
		log:      logger.With().Str("component", "scheduler_manager").Logger(),
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (m *Manager) current() *Scheduler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sched
}

// OnStateChange registers fn to be told whether the manager is initialized
// after every Initialize, Shutdown and Reload.
func (m *Manager) OnStateChange(fn func(initialized bool)) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *Manager) notify() {
	initialized := m.current() != nil
	for _, fn := range m.observers {
		fn(initialized)
	}
}

// Initialize loads every job and schedules the enabled ones. A job whose
// schedule cannot be registered is logged and skipped. Calling it again
// after success is a no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	defer m.notify()
	return m.initialize(ctx)
}

func (m *Manager) initialize(ctx context.Context) error {
	if m.current() != nil {
		m.log.Warn().Msg("Scheduler manager already initialized")
		return nil
	}

	jobs, err := m.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	m.install(jobs)
	return nil
}

func (m *Manager) install(jobs []*models.SyncJob) {
	sched := New(m.launcher, m.cfg.Location, m.logger)
	failed := 0
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		if err := sched.Schedule(job); err != nil {
			failed++
			m.log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to schedule job")
		}
	}
	sched.Start()

	m.mu.Lock()
	m.sched = sched
	m.lastJobs = jobs
	m.mu.Unlock()

	scheduled := len(sched.ListScheduled())
	metrics.SetScheduled(scheduled)
	m.log.Info().Int("jobs", len(jobs)).Int("scheduled", scheduled).Int("failed", failed).Msg("Scheduler manager initialized")
}

// Shutdown stops every trigger. In-flight runs are left to finish.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.shutdown()
	m.notify()
	return nil
}

func (m *Manager) shutdown() {
	m.mu.Lock()
	sched := m.sched
	m.sched = nil
	m.mu.Unlock()

	if sched == nil {
		return
	}
	sched.Stop()
	metrics.SetScheduled(0)
	m.log.Info().Strs("running", m.exec.RunningJobIDs()).Msg("Scheduler manager stopped")
}

// Reload shuts down, waits the settle delay and initializes again. When the
// delay is interrupted or the jobs cannot be listed, the job set of the last
// successful initialize is scheduled again and the error is returned.
func (m *Manager) Reload(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	defer m.notify()

	m.shutdown()
	if m.cfg.SettleDelay > 0 {
		if err := m.sleep(ctx, m.cfg.SettleDelay); err != nil {
			m.restore(err)
			return fmt.Errorf("reload interrupted: %w", err)
		}
	}
	if err := m.initialize(ctx); err != nil {
		m.restore(err)
		return err
	}
	return nil
}

func (m *Manager) restore(cause error) {
	m.mu.RLock()
	jobs := m.lastJobs
	m.mu.RUnlock()
	if jobs == nil {
		return
	}
	m.log.Warn().Err(cause).Int("jobs", len(jobs)).Msg("Reload failed, restoring previous schedule")
	m.install(jobs)
}

// AddJob schedules jobID from its stored definition.
func (m *Manager) AddJob(ctx context.Context, jobID string) error {
	sched := m.current()
	if sched == nil {
		return ErrNotInitialized
	}
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if err := sched.Schedule(job); err != nil {
		return err
	}
	metrics.SetScheduled(len(sched.ListScheduled()))
	return nil
}

func (m *Manager) RemoveJob(_ context.Context, jobID string) error {
	sched := m.current()
	if sched == nil {
		return ErrNotInitialized
	}
	sched.Unschedule(jobID)
	metrics.SetScheduled(len(sched.ListScheduled()))
	return nil
}

// UpdateJob re-reads jobID: remove, then add.
func (m *Manager) UpdateJob(ctx context.Context, jobID string) error {
	if err := m.RemoveJob(ctx, jobID); err != nil {
		return err
	}
	return m.AddJob(ctx, jobID)
}

// Execute runs jobID now and waits for its retry chain to finish.
func (m *Manager) Execute(ctx context.Context, jobID string) (*models.ExecutionLog, error) {
	return m.exec.Execute(ctx, jobID)
}

// Trigger starts jobID in the background. It fails fast when the job is
// unknown or already running.
func (m *Manager) Trigger(ctx context.Context, jobID string) error {
	if _, err := m.store.GetJob(ctx, jobID); err != nil {
		return err
	}
	if m.exec.IsRunning(jobID) {
		return fmt.Errorf("job %s: %w", jobID, domain.ErrAlreadyRunning)
	}
	return m.launcher.Launch(jobID, "manual")
}

func (m *Manager) Status() Status {
	st := Status{
		ScheduledJobIDs: []string{},
		RunningJobIDs:   m.exec.RunningJobIDs(),
	}
	if sched := m.current(); sched != nil {
		st.Initialized = true
		st.ScheduledJobIDs = sched.ListScheduled()
		st.NextRuns = sched.NextRuns()
	}
	return st
}

func (m *Manager) Initialized() bool {
	return m.current() != nil
}

// Wait stops new launches and blocks until launched runs finish or ctx is
// done.
func (m *Manager) Wait(ctx context.Context) error {
	return m.launcher.Wait(ctx)
}
