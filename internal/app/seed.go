package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"tablesync/internal/config"
	"tablesync/internal/models"
	"tablesync/internal/scheduler"
	"tablesync/internal/source"
	"tablesync/internal/transform"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

// SeedStore is the write side of the configuration store used by imports.
type SeedStore interface {
	UpsertMapping(ctx context.Context, m *models.TableMapping) error
	UpsertJobDefinition(ctx context.Context, job *models.SyncJob) error
}

// Seed is the declarative job file: mappings first, then the jobs using them.
type Seed struct {
	Mappings []models.TableMapping `yaml:"mappings"`
	Jobs     []SeedJob             `yaml:"jobs"`
}

// SeedJob is a job definition as written in the seed file. Missing
// enabled/max_retries fall back to true and models.DefaultMaxRetries.
type SeedJob struct {
	ID               string `yaml:"id"`
	Name             string `yaml:"name"`
	MappingID        string `yaml:"mapping_id"`
	Schedule         string `yaml:"schedule"`
	ConflictStrategy string `yaml:"conflict_strategy"`
	Enabled          *bool  `yaml:"enabled"`
	MaxRetries       *int   `yaml:"max_retries"`
}

// Job converts the definition into a SyncJob with defaults applied.
func (j SeedJob) Job() *models.SyncJob {
	job := &models.SyncJob{
		ID:               strings.TrimSpace(j.ID),
		Name:             j.Name,
		MappingID:        j.MappingID,
		Schedule:         strings.TrimSpace(j.Schedule),
		ConflictStrategy: j.ConflictStrategy,
		Enabled:          true,
		MaxRetries:       models.DefaultMaxRetries,
	}
	if job.Name == "" {
		job.Name = job.ID
	}
	if job.ConflictStrategy == "" {
		job.ConflictStrategy = models.StrategyOverwrite
	}
	if j.Enabled != nil {
		job.Enabled = *j.Enabled
	}
	if j.MaxRetries != nil {
		job.MaxRetries = *j.MaxRetries
	}
	return job
}

// LoadSeed reads and parses a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &seed); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &seed, nil
}

// Validate checks the structure of the seed against the configured sources.
// Every problem is reported, joined into one error. Schedule expressions are
// not checked here, see ScheduleProblems.
func (s *Seed) Validate(sources []config.SourceConfig) error {
	known := make(map[string]bool, len(sources))
	for _, src := range sources {
		known[src.Name] = true
	}

	var errs []error
	mappings := make(map[string]bool, len(s.Mappings))
	for i := range s.Mappings {
		m := &s.Mappings[i]
		if m.ID == "" {
			errs = append(errs, fmt.Errorf("mapping #%d has empty id", i+1))
			continue
		}
		if mappings[m.ID] {
			errs = append(errs, fmt.Errorf("duplicate mapping id %s", m.ID))
		}
		mappings[m.ID] = true

		if !known[m.SourceName] {
			errs = append(errs, fmt.Errorf("mapping %s: unknown source %q", m.ID, m.SourceName))
		}
		if _, err := source.BuildSelectAll(m.SourceTable); err != nil {
			errs = append(errs, fmt.Errorf("mapping %s: %w", m.ID, err))
		}
		if err := validateTarget(m.Target); err != nil {
			errs = append(errs, fmt.Errorf("mapping %s: %w", m.ID, err))
		}
		if err := transform.Validate(m.ID, m.Fields); err != nil {
			errs = append(errs, err)
		}
	}

	jobs := make(map[string]bool, len(s.Jobs))
	for i, j := range s.Jobs {
		job := j.Job()
		if job.ID == "" {
			errs = append(errs, fmt.Errorf("job #%d has empty id", i+1))
			continue
		}
		if jobs[job.ID] {
			errs = append(errs, fmt.Errorf("duplicate job id %s", job.ID))
		}
		jobs[job.ID] = true

		if !mappings[job.MappingID] {
			errs = append(errs, fmt.Errorf("job %s: unknown mapping %q", job.ID, job.MappingID))
		}
		if !models.ValidStrategy(job.ConflictStrategy) {
			errs = append(errs, fmt.Errorf("job %s: unknown conflict strategy %q", job.ID, job.ConflictStrategy))
		}
		if job.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("job %s: max_retries must not be negative", job.ID))
		}
	}

	return errors.Join(errs...)
}

// ScheduleProblems parses the schedule of every enabled job. A bad schedule
// only affects its own job: the job is still imported and the scheduler
// manager skips it.
func (s *Seed) ScheduleProblems() []error {
	var problems []error
	for _, j := range s.Jobs {
		job := j.Job()
		if !job.Enabled {
			continue
		}
		if _, err := scheduler.ParseTrigger(job.Schedule); err != nil {
			problems = append(problems, fmt.Errorf("job %s: %w", job.ID, err))
		}
	}
	return problems
}

func validateTarget(ref models.SheetRef) error {
	if strings.TrimSpace(ref.Sheet) == "" {
		return errors.New("target sheet is empty")
	}
	switch ref.Kind {
	case models.SinkKindGoogle:
		if ref.SpreadsheetID == "" {
			return errors.New("google target needs spreadsheet_id")
		}
	case models.SinkKindXLSX:
		if ref.Path == "" {
			return errors.New("xlsx target needs path")
		}
	default:
		return fmt.Errorf("unknown target kind %q", ref.Kind)
	}
	return nil
}

// Import upserts every mapping, then every job. Runtime state of jobs that
// already exist is left untouched.
func (s *Seed) Import(ctx context.Context, store SeedStore) error {
	for i := range s.Mappings {
		if err := store.UpsertMapping(ctx, &s.Mappings[i]); err != nil {
			return err
		}
	}
	for _, j := range s.Jobs {
		if err := store.UpsertJobDefinition(ctx, j.Job()); err != nil {
			return err
		}
	}
	return nil
}

// ImportSeedFile loads, validates and imports path.
func ImportSeedFile(ctx context.Context, path string, sources []config.SourceConfig, store SeedStore, logger *zerolog.Logger) error {
	seed, err := LoadSeed(path)
	if err != nil {
		return err
	}
	if err := seed.Validate(sources); err != nil {
		return fmt.Errorf("invalid seed file %s: %w", path, err)
	}
	for _, problem := range seed.ScheduleProblems() {
		logger.Warn().Err(problem).Str("path", path).Msg("Job will not be scheduled")
	}
	if err := seed.Import(ctx, store); err != nil {
		return fmt.Errorf("import seed file %s: %w", path, err)
	}
	logger.Info().
		Str("path", path).
		Int("mappings", len(seed.Mappings)).
		Int("jobs", len(seed.Jobs)).
		Msg("Seed file imported")
	return nil
}
