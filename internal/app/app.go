// Package app wires the sync engine from configuration. Both the daemon and
// the operator CLI build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tablesync/internal/config"
	"tablesync/internal/database"
	"tablesync/internal/domain"
	"tablesync/internal/events"
	"tablesync/internal/excel"
	"tablesync/internal/google"
	"tablesync/internal/metrics"
	"tablesync/internal/models"
	"tablesync/internal/notify"
	"tablesync/internal/repository"
	"tablesync/internal/scheduler"
	"tablesync/internal/sink"
	"tablesync/internal/source"
	"tablesync/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App holds every long-lived collaborator of the engine.
type App struct {
	Config   *config.Config
	DB       *database.DB
	Source   *source.SQLSource
	Sinks    *sink.Router
	Bus      *events.EventBus
	Runner   *worker.Runner
	Statuses domain.StatusRepository
	Manager  *scheduler.Manager

	redis  *redis.Client
	logger *zerolog.Logger
}

// Options toggles optional integrations. The CLI skips Redis and Telegram.
type Options struct {
	Redis    bool
	Telegram bool
}

// New opens the store and builds the engine. The scheduler manager is
// created but not initialized.
func New(ctx context.Context, cfg *config.Config, opts Options, logger *zerolog.Logger) (*App, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config: cfg,
		DB:     db,
		Source: source.NewSQLSource(logger),
		Bus:    events.NewEventBus(logger),
		logger: logger,
	}

	a.Sinks, err = newSinks(ctx, cfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Runner = worker.NewRunner(db, a.Source, a.Sinks, worker.RunnerConfig{
		Retry:       worker.RetryPolicy{BaseDelay: cfg.Scheduler.RetryBaseDelay},
		RunTimeout:  cfg.Scheduler.RunTimeout,
		Connections: Connections(cfg.Sources),
	}, logger)
	a.Runner.SetEventPublisher(a.Bus)

	metrics.Attach(a.Bus)
	metrics.TrackRunning(func() int { return len(a.Runner.RunningJobIDs()) })

	a.Statuses = a.newStatusRepository(ctx, opts.Redis)
	repository.NewStatusRecorder(a.Statuses, logger).Attach(a.Bus)

	if opts.Telegram && cfg.Telegram.Enabled {
		bot, err := notify.NewTelegramBot(cfg.Telegram)
		if err != nil {
			logger.Warn().Err(err).Msg("Telegram unavailable, exhausted chains will not be announced")
		} else {
			notify.NewTelegramNotifier(bot, cfg.Telegram.ChatIDs, logger).Attach(a.Bus)
		}
	}

	a.Manager = scheduler.NewManager(db, a.Runner, scheduler.ManagerConfig{
		Location:    cfg.Scheduler.Location(),
		SettleDelay: cfg.Scheduler.SettleDelay,
	}, logger)

	return a, nil
}

func newSinks(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*sink.Router, error) {
	router := sink.NewRouter()
	router.Register(models.SinkKindXLSX, excel.NewWorkbookSink(cfg.Excel.BaseDir, logger))

	if cfg.Google.CredentialsFile != "" {
		sheets, err := google.NewSheetsSink(ctx, cfg.Google, logger)
		if err != nil {
			return nil, fmt.Errorf("init google sheets: %w", err)
		}
		router.Register(models.SinkKindGoogle, sheets)
	} else {
		logger.Warn().Msg("google.credentials_file not set, google targets are unavailable")
	}
	return router, nil
}

func (a *App) newStatusRepository(ctx context.Context, useRedis bool) domain.StatusRepository {
	ttl := a.Config.Redis.StatusTTL
	fallback := repository.NewMemoryStatusRepository(ttl)
	if !useRedis || a.Config.Redis.Address == "" {
		return fallback
	}

	a.redis = repository.NewRedisClient(a.Config.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, a.redis); err != nil {
		a.logger.Warn().Err(err).Msg("Redis unavailable")
	} else {
		a.logger.Info().Str("addr", a.Config.Redis.Address).Msg("Redis connected")
	}

	primary := repository.NewRedisStatusRepository(a.redis, ttl)
	return repository.NewFailoverStatusRepository(primary, fallback, a.logger)
}

// Connections converts configured sources into runner connections.
func Connections(sources []config.SourceConfig) []models.ConnectionConfig {
	out := make([]models.ConnectionConfig, 0, len(sources))
	for _, s := range sources {
		out = append(out, models.ConnectionConfig{Name: s.Name, Driver: s.Driver, DSN: s.DSN})
	}
	return out
}

// ImportSeed imports the configured seed file into the store.
func (a *App) ImportSeed(ctx context.Context) error {
	return ImportSeedFile(ctx, a.Config.Scheduler.SeedFile, a.Config.Sources, a.DB, a.logger)
}

// ReloadSeed re-imports the seed file and reloads the scheduler manager.
func (a *App) ReloadSeed(ctx context.Context) error {
	if err := a.ImportSeed(ctx); err != nil {
		return err
	}
	return a.Manager.Reload(ctx)
}

// Close releases source pools, Redis and the store.
func (a *App) Close() error {
	var errs []error
	if a.Source != nil {
		errs = append(errs, a.Source.Close())
	}
	if a.redis != nil {
		errs = append(errs, repository.Close(a.redis))
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
