package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tablesync/internal/domain"
	"tablesync/internal/models"
)

// memStore is an in-memory ConfigStore with read-your-writes semantics.
type memStore struct {
	mu       sync.Mutex
	jobs     map[string]models.SyncJob
	mappings map[string]*models.TableMapping
	logs     []*models.ExecutionLog
	saves    []models.SyncJob
}

func newMemStore() *memStore {
	return &memStore{
		jobs:     make(map[string]models.SyncJob),
		mappings: make(map[string]*models.TableMapping),
	}
}

func (s *memStore) GetJob(_ context.Context, id string) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
	}
	return &j, nil
}

func (s *memStore) ListJobs(_ context.Context) ([]*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.SyncJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		j := j
		out = append(out, &j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (s *memStore) SaveJob(_ context.Context, job *models.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	s.saves = append(s.saves, *job)
	return nil
}

func (s *memStore) SaveJobState(_ context.Context, job *models.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("job %s: %w", job.ID, domain.ErrJobNotFound)
	}
	stored.Status = job.Status
	stored.RetryCount = job.RetryCount
	stored.LastRun = job.LastRun
	stored.LastError = job.LastError
	stored.LastErrorTime = job.LastErrorTime
	s.jobs[job.ID] = stored
	s.saves = append(s.saves, stored)
	return nil
}

// update applies fn to the stored job, as a concurrent definition edit would.
func (s *memStore) update(id string, fn func(j *models.SyncJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	fn(&j)
	s.jobs[id] = j
}

func (s *memStore) GetMapping(_ context.Context, id string) (*models.TableMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[id]
	if !ok {
		return nil, fmt.Errorf("mapping %s: %w", id, domain.ErrMappingNotFound)
	}
	return m, nil
}

func (s *memStore) AppendLog(_ context.Context, l *models.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.logs = append(s.logs, &cp)
	return nil
}

func (s *memStore) FinalizeLog(_ context.Context, l *models.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.logs {
		if existing.ID != l.ID {
			continue
		}
		if existing.Status != models.LogStatusRunning {
			return domain.ErrLogFinalized
		}
		cp := *l
		s.logs[i] = &cp
		return nil
	}
	return fmt.Errorf("log %s not found", l.ID)
}

func (s *memStore) GetLogs(_ context.Context, jobID string, limit int) ([]*models.ExecutionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ExecutionLog
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].JobID == jobID {
			out = append(out, s.logs[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) job(id string) models.SyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

func (s *memStore) jobLogs(jobID string) []*models.ExecutionLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ExecutionLog
	for _, l := range s.logs {
		if l.JobID == jobID {
			out = append(out, l)
		}
	}
	return out
}

// fakeSource returns rows or an error; hook runs before each query.
type fakeSource struct {
	mu    sync.Mutex
	rows  []*models.Record
	err   error
	calls int
	hook  func(ctx context.Context) error
}

func (f *fakeSource) Query(ctx context.Context, _ models.ConnectionConfig, _ string) ([]*models.Record, error) {
	f.mu.Lock()
	f.calls++
	hook := f.hook
	rows, err := f.rows, f.err
	f.mu.Unlock()

	if hook != nil {
		if hookErr := hook(ctx); hookErr != nil {
			return nil, hookErr
		}
	}
	return rows, err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeSink keeps one sheet as a slice of records.
type fakeSink struct {
	mu       sync.Mutex
	rows     []*models.Record
	types    map[string]models.FieldType
	writeErr error
	panicOn  string
	ops      []string
}

func (f *fakeSink) GetFieldTypes(_ context.Context, _ models.SheetRef) (map[string]models.FieldType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "types")
	return f.types, nil
}

func (f *fakeSink) Clear(_ context.Context, _ models.SheetRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "clear")
	if f.panicOn == "clear" {
		panic("sink exploded")
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.rows = nil
	return nil
}

func (f *fakeSink) Write(_ context.Context, _ models.SheetRef, records []*models.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "write")
	if f.writeErr != nil {
		return f.writeErr
	}
	for i, rec := range records {
		if i < len(f.rows) {
			f.rows[i] = rec
		} else {
			f.rows = append(f.rows, rec)
		}
	}
	return nil
}

func (f *fakeSink) Append(_ context.Context, _ models.SheetRef, records []*models.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "append")
	if f.writeErr != nil {
		return f.writeErr
	}
	f.rows = append(f.rows, records...)
	return nil
}

func (f *fakeSink) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}
