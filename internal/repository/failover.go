package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tablesync/internal/domain"
	"tablesync/internal/models"

	"github.com/rs/zerolog"
)

// recoveryInterval is how long the primary stays bypassed after a failure.
const recoveryInterval = time.Minute

// FailoverStatusRepository serves from primary and switches to fallback
// while primary is failing.
type FailoverStatusRepository struct {
	primary  domain.StatusRepository
	fallback domain.StatusRepository
	logger   zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverStatusRepository(primary, fallback domain.StatusRepository, logger *zerolog.Logger) *FailoverStatusRepository {
	return &FailoverStatusRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With().Str("component", "status_repository").Logger(),
		now:      time.Now,
	}
}

func (r *FailoverStatusRepository) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary status repository failed, falling back to memory")
	}
	r.mu.Lock()
	r.lastCheck = r.now()
	r.mu.Unlock()
}

// usePrimary reports whether the next call should go to primary.
func (r *FailoverStatusRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now().Sub(r.lastCheck) > recoveryInterval
}

func (r *FailoverStatusRepository) recovered() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary status repository recovered")
	}
}

func (r *FailoverStatusRepository) GetStatus(ctx context.Context, jobID string) (*models.JobSnapshot, error) {
	if r.usePrimary() {
		snap, err := r.primary.GetStatus(ctx, jobID)
		if err == nil {
			r.recovered()
			return snap, nil
		}
		r.markDown(err)
	}
	return r.fallback.GetStatus(ctx, jobID)
}

func (r *FailoverStatusRepository) SetStatus(ctx context.Context, snap *models.JobSnapshot) error {
	if r.usePrimary() {
		err := r.primary.SetStatus(ctx, snap)
		if err == nil {
			r.recovered()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.SetStatus(ctx, snap)
}

func (r *FailoverStatusRepository) PushDeadLetter(ctx context.Context, snap *models.JobSnapshot) error {
	if r.usePrimary() {
		err := r.primary.PushDeadLetter(ctx, snap)
		if err == nil {
			r.recovered()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.PushDeadLetter(ctx, snap)
}

func (r *FailoverStatusRepository) ListDeadLetters(ctx context.Context, limit int) ([]*models.JobSnapshot, error) {
	if r.usePrimary() {
		out, err := r.primary.ListDeadLetters(ctx, limit)
		if err == nil {
			r.recovered()
			return out, nil
		}
		r.markDown(err)
	}
	return r.fallback.ListDeadLetters(ctx, limit)
}
