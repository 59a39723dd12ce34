package repository

import (
	"context"
	"sync"
	"time"

	"tablesync/internal/models"
)

type memoryEntry struct {
	snap      *models.JobSnapshot
	expiresAt time.Time
}

type MemoryStatusRepository struct {
	statuses sync.Map
	ttl      time.Duration
	now      func() time.Time

	mu          sync.Mutex
	deadLetters []*models.JobSnapshot
}

func NewMemoryStatusRepository(ttl time.Duration) *MemoryStatusRepository {
	return &MemoryStatusRepository{
		ttl: ttl,
		now: time.Now,
	}
}

func (r *MemoryStatusRepository) GetStatus(_ context.Context, jobID string) (*models.JobSnapshot, error) {
	val, ok := r.statuses.Load(jobID)
	if !ok {
		return nil, nil
	}
	entry := val.(memoryEntry)
	if !entry.expiresAt.IsZero() && r.now().After(entry.expiresAt) {
		r.statuses.Delete(jobID)
		return nil, nil
	}
	cp := *entry.snap
	return &cp, nil
}

func (r *MemoryStatusRepository) SetStatus(_ context.Context, snap *models.JobSnapshot) error {
	cp := *snap
	entry := memoryEntry{snap: &cp}
	if r.ttl > 0 {
		entry.expiresAt = r.now().Add(r.ttl)
	}
	r.statuses.Store(snap.JobID, entry)
	return nil
}

func (r *MemoryStatusRepository) PushDeadLetter(_ context.Context, snap *models.JobSnapshot) error {
	cp := *snap
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadLetters = append([]*models.JobSnapshot{&cp}, r.deadLetters...)
	if len(r.deadLetters) > MaxDeadLetters {
		r.deadLetters = r.deadLetters[:MaxDeadLetters]
	}
	return nil
}

func (r *MemoryStatusRepository) ListDeadLetters(_ context.Context, limit int) ([]*models.JobSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.deadLetters) {
		limit = len(r.deadLetters)
	}
	out := make([]*models.JobSnapshot, limit)
	copy(out, r.deadLetters[:limit])
	return out, nil
}
