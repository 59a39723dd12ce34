package repository

import (
	"context"
	"time"

	"tablesync/internal/domain"
	"tablesync/internal/events"
	"tablesync/internal/models"

	"github.com/rs/zerolog"
)

// StatusRecorder mirrors job lifecycle events into a StatusRepository.
type StatusRecorder struct {
	repo    domain.StatusRepository
	timeout time.Duration
	logger  zerolog.Logger
}

func NewStatusRecorder(repo domain.StatusRepository, logger *zerolog.Logger) *StatusRecorder {
	return &StatusRecorder{
		repo:    repo,
		timeout: 2 * time.Second,
		logger:  logger.With().Str("component", "status_recorder").Logger(),
	}
}

// Attach subscribes the recorder to every job lifecycle event.
func (s *StatusRecorder) Attach(bus *events.EventBus) {
	bus.SubscribeMany(events.JobEvents, s.Handle)
}

func (s *StatusRecorder) Handle(event *events.Event) error {
	var p events.JobEventPayload
	if err := event.Decode(&p); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	snap := snapshotFromEvent(&p)
	if event.Type == events.EventJobExhausted {
		if err := s.repo.PushDeadLetter(ctx, snap); err != nil {
			return err
		}
		s.logger.Warn().Str("job_id", p.JobID).Int("retry_count", p.RetryCount).Msg("Job moved to dead letters")
		return nil
	}
	return s.repo.SetStatus(ctx, snap)
}

func snapshotFromEvent(p *events.JobEventPayload) *models.JobSnapshot {
	at := p.At
	snap := &models.JobSnapshot{
		JobID:      p.JobID,
		Name:       p.JobName,
		Status:     p.Status,
		RetryCount: p.RetryCount,
		MaxRetries: p.MaxRetries,
		LastError:  p.Error,
		LastLogID:  p.LogID,
		UpdatedAt:  at,
	}
	if p.Status == models.JobStatusRunning {
		snap.LastRun = &at
	}
	if p.Error != "" {
		snap.LastErrorTime = &at
	}
	return snap
}
