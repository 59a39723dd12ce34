package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"tablesync/internal/domain"
	"tablesync/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var triggerParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Trigger is a validated recurring schedule.
type Trigger struct {
	Expr     string
	Schedule cron.Schedule
}

// ParseTrigger validates a five-field cron expression or a descriptor
// such as @hourly or @every 10m.
func ParseTrigger(expr string) (Trigger, error) {
	sched, err := triggerParser.Parse(expr)
	if err != nil {
		return Trigger{}, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return Trigger{Expr: expr, Schedule: sched}, nil
}

// ErrDraining is returned for launches attempted after Wait has begun.
var ErrDraining = errors.New("launcher is draining, no new runs accepted")

// Launcher runs jobs on their own goroutines. Runs use a base context that
// is not canceled by scheduler shutdown.
type Launcher struct {
	exec   domain.JobExecutor
	base   context.Context
	logger zerolog.Logger

	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

func NewLauncher(exec domain.JobExecutor, logger *zerolog.Logger) *Launcher {
	return &Launcher{
		exec:   exec,
		base:   context.Background(),
		logger: logger.With().Str("component", "launcher").Logger(),
	}
}

// Launch starts jobID in the background and returns immediately. Once Wait
// has been called it returns ErrDraining instead.
func (l *Launcher) Launch(jobID, origin string) error {
	l.mu.Lock()
	if l.draining {
		l.mu.Unlock()
		l.logger.Warn().Str("job_id", jobID).Str("origin", origin).Msg("Launch rejected, launcher is draining")
		return ErrDraining
	}
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		l.run(jobID, origin)
	}()
	return nil
}

func (l *Launcher) run(jobID, origin string) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error().Interface("panic", rec).Str("job_id", jobID).Msg("Job launch panicked")
		}
	}()

	log, err := l.exec.Execute(l.base, jobID)
	switch {
	case err == nil:
		l.logger.Debug().Str("job_id", jobID).Str("origin", origin).Str("log_id", log.ID).Msg("Job run finished")
	case errors.Is(err, domain.ErrAlreadyRunning):
		l.logger.Warn().Str("job_id", jobID).Str("origin", origin).Msg("Trigger skipped, previous run still active")
	default:
		l.logger.Error().Err(err).Str("job_id", jobID).Str("origin", origin).Msg("Job run ended in failure")
	}
}

// Wait stops new launches and blocks until every launched run has returned
// or ctx is done.
func (l *Launcher) Wait(ctx context.Context) error {
	l.mu.Lock()
	l.draining = true
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Scheduler keeps one cron trigger per enabled job.
type Scheduler struct {
	cron     *cron.Cron
	launcher *Launcher
	logger   zerolog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	started bool
}

func New(launcher *Launcher, loc *time.Location, logger *zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	l := logger.With().Str("component", "scheduler").Logger()
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(triggerParser),
			cron.WithLogger(cronLogger{logger: l}),
		),
		launcher: launcher,
		logger:   l,
		entries:  make(map[string]cron.EntryID),
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.cron.Start()
		s.started = true
	}
}

// Stop removes every trigger and stops the cron loop. Runs already launched
// keep going.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, entry := range s.entries {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
	started := s.started
	s.started = false
	s.mu.Unlock()

	if started {
		s.cron.Stop()
	}
}

// Schedule registers a trigger for job, replacing any existing one.
// A disabled job or a schedule that does not parse ends up with no trigger.
func (s *Scheduler) Schedule(job *models.SyncJob) error {
	if !job.Enabled {
		s.Unschedule(job.ID)
		s.logger.Debug().Str("job_id", job.ID).Msg("Job disabled, not scheduled")
		return nil
	}

	trigger, err := ParseTrigger(job.Schedule)
	if err != nil {
		s.Unschedule(job.ID)
		return domain.NewConfigurationError(job.ID, "parse schedule", err)
	}

	jobID := job.ID
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[jobID]; ok {
		s.cron.Remove(entry)
	}
	s.entries[jobID] = s.cron.Schedule(trigger.Schedule, cron.FuncJob(func() {
		_ = s.launcher.Launch(jobID, "cron")
	}))
	s.logger.Info().Str("job_id", jobID).Str("schedule", trigger.Expr).Msg("Job scheduled")
	return nil
}

// Unschedule removes the trigger for jobID. Unknown ids are ignored.
func (s *Scheduler) Unschedule(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[jobID]
	if !ok {
		return
	}
	s.cron.Remove(entry)
	delete(s.entries, jobID)
	s.logger.Info().Str("job_id", jobID).Msg("Job unscheduled")
}

// ListScheduled returns ids with an active trigger, sorted.
func (s *Scheduler) ListScheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Scheduler) IsRunning(jobID string) bool {
	return s.launcher.exec.IsRunning(jobID)
}

// NextRuns returns the next fire time per scheduled job. Times are only
// known once the scheduler is started.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.entries))
	for id, entry := range s.entries {
		if next := s.cron.Entry(entry).Next; !next.IsZero() {
			out[id] = next
		}
	}
	return out
}

// fire runs the registered callback of jobID as cron would.
func (s *Scheduler) fire(jobID string) bool {
	s.mu.Lock()
	entry, ok := s.entries[jobID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.cron.Entry(entry).Job.Run()
	return true
}

type cronLogger struct {
	logger zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
