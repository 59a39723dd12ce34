package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tablesync/internal/api"
	"tablesync/internal/app"
	"tablesync/internal/config"
	"tablesync/internal/database"
	"tablesync/internal/logging"
	"tablesync/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := app.New(ctx, cfg, app.Options{Redis: true, Telegram: true}, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("init engine")
		return err
	}
	defer func() { _ = engine.Close() }()

	if err := engine.ImportSeed(ctx); err != nil {
		logger.Error().Err(err).Str("seed_file", cfg.Scheduler.SeedFile).Msg("import seed")
		return err
	}

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	startMetrics(ctx, cfg, &logger)

	grpcServer, err := initGRPC(cfg, &logger)
	if err != nil {
		return err
	}
	httpServer := initHTTP(cfg, engine, &logger)

	if grpcServer != nil {
		engine.Manager.OnStateChange(grpcServer.SetServing)
	}
	if err := engine.Manager.Initialize(ctx); err != nil {
		logger.Error().Err(err).Msg("initialize scheduler")
		return err
	}

	if cfg.Scheduler.WatchSeed {
		watcher := app.NewSeedWatcher(cfg.Scheduler.SeedFile, app.DefaultDebounce, engine.ReloadSeed, &logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("seed watcher stopped")
			}
		}()
	}

	return serve(ctx, engine, grpcServer, httpServer, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "syncd").Logger()

	return cfg, logger, closer, nil
}

func initGRPC(cfg *config.Config, logger *zerolog.Logger) (*api.GRPCServer, error) {
	if !cfg.API.Enabled || !cfg.API.GRPC.Enabled {
		return nil, nil
	}
	grpcServer, err := api.NewGRPCServer(&cfg.API, logger)
	if err != nil {
		logger.Error().Err(err).Msg("create grpc server")
		return nil, err
	}
	return grpcServer, nil
}

func initHTTP(cfg *config.Config, engine *app.App, logger *zerolog.Logger) *api.HTTPServer {
	if !cfg.API.Enabled || !cfg.API.HTTP.Enabled {
		return nil
	}
	return api.NewHTTPServer(&cfg.API, api.Deps{
		Control:  engine.Manager,
		Jobs:     engine.DB,
		Logs:     engine.DB,
		Statuses: engine.Statuses,
		DB:       engine.DB,
	}, logger)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

func serve(
	ctx context.Context,
	engine *app.App,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}
	if httpServer != nil {
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	logger.Info().Strs("scheduled", engine.Manager.Status().ScheduledJobIDs).Msg("Sync engine started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.SetServing(false)
	}
	_ = engine.Manager.Shutdown(shutdownCtx)
	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}
	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}

	if err := engine.Manager.Wait(shutdownCtx); err != nil {
		logger.Warn().Strs("running", engine.Runner.RunningJobIDs()).Msg("runs still in flight at exit")
	}
	if err := engine.Bus.Drain(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("notifications still pending at exit")
	}

	logger.Info().Msg("Sync engine stopped")
	return nil
}
