package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tablesync/internal/domain"
	"tablesync/internal/models"
)

type fakeStore struct {
	mu      sync.Mutex
	jobs    map[string]*models.SyncJob
	listErr error
}

func newFakeStore(jobs ...*models.SyncJob) *fakeStore {
	s := &fakeStore{jobs: make(map[string]*models.SyncJob)}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *fakeStore) put(j *models.SyncJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
}

func (s *fakeStore) GetJob(_ context.Context, id string) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
	}
	cp := *j
	return &cp, nil
}

func (s *fakeStore) ListJobs(_ context.Context) ([]*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]*models.SyncJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (s *fakeStore) SaveJob(_ context.Context, job *models.SyncJob) error {
	s.put(job)
	return nil
}

// fakeExecutor mimics the runner's slot guard. block, when set, holds a run
// open until it is closed.
type fakeExecutor struct {
	mu      sync.Mutex
	running map[string]bool
	calls   map[string]int
	block   map[string]chan struct{}
	started chan string
	err     error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		running: make(map[string]bool),
		calls:   make(map[string]int),
		block:   make(map[string]chan struct{}),
		started: make(chan string, 64),
	}
}

func (f *fakeExecutor) Execute(_ context.Context, jobID string) (*models.ExecutionLog, error) {
	f.mu.Lock()
	if f.running[jobID] {
		f.mu.Unlock()
		return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrAlreadyRunning)
	}
	f.running[jobID] = true
	f.calls[jobID]++
	wait := f.block[jobID]
	err := f.err
	f.mu.Unlock()

	f.started <- jobID
	if wait != nil {
		<-wait
	}

	f.mu.Lock()
	delete(f.running, jobID)
	f.mu.Unlock()
	if err != nil {
		return &models.ExecutionLog{ID: "log", JobID: jobID, Status: models.LogStatusFailed}, err
	}
	return &models.ExecutionLog{ID: "log", JobID: jobID, Status: models.LogStatusSuccess}, nil
}

func (f *fakeExecutor) IsRunning(jobID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[jobID]
}

func (f *fakeExecutor) RunningJobIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.running))
	for id := range f.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (f *fakeExecutor) callCount(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[jobID]
}

func (f *fakeExecutor) hold(jobID string) chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	f.block[jobID] = ch
	f.mu.Unlock()
	return ch
}

func enabledJob(id, schedule string) *models.SyncJob {
	return &models.SyncJob{ID: id, Name: id, Schedule: schedule, Enabled: true, MappingID: "m", ConflictStrategy: models.StrategyOverwrite}
}
