package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tablesync/internal/config"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	backupPrefix = "tablesync_"
	backupSuffix = ".db"
)

type BackupService struct {
	dbPath string
	config config.BackupConfig
	logger *zerolog.Logger
}

func NewBackupService(dbPath string, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	l := logger.With().Str("component", "backup").Logger()
	return &BackupService{
		dbPath: dbPath,
		config: cfg,
		logger: &l,
	}
}

// Start runs backups until ctx is done. Schedule accepts a Go duration
// ("6h") or a cron expression ("@daily", "0 3 * * *").
func (s *BackupService) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("Backup service is disabled")
		return
	}

	next, err := backupSchedule(s.config.Schedule)
	if err != nil {
		s.logger.Warn().Err(err).Str("schedule", s.config.Schedule).Msg("Failed to parse backup schedule, using default 24h")
		next = func(t time.Time) time.Time { return t.Add(24 * time.Hour) }
	}

	s.logger.Info().Str("schedule", s.config.Schedule).Msg("Backup service started")

	// Run first backup immediately
	if _, err := s.PerformBackup(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Initial backup failed")
	}

	for {
		now := time.Now()
		timer := time.NewTimer(next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := s.PerformBackup(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Scheduled backup failed")
			}
			s.CleanupOldBackups()
		}
	}
}

func backupSchedule(spec string) (func(time.Time) time.Time, error) {
	if spec == "" {
		spec = "@daily"
	}
	if d, err := time.ParseDuration(spec); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("backup interval must be positive: %s", spec)
		}
		return func(t time.Time) time.Time { return t.Add(d) }, nil
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, err
	}
	return sched.Next, nil
}

// PerformBackup writes a consistent copy of the store and returns its path.
func (s *BackupService) PerformBackup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	backupPath := filepath.Join(s.config.StoragePath, backupPrefix+time.Now().Format("20060102_150405")+backupSuffix)
	s.logger.Info().Str("path", backupPath).Msg("Performing store backup using VACUUM INTO")

	db, err := sql.Open("sqlite3", s.dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to open source database: %w", err)
	}
	defer db.Close()

	quoted := strings.ReplaceAll(backupPath, "'", "''")
	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		s.logger.Warn().Err(err).Msg("VACUUM INTO failed, falling back to file copy")
		if err := s.copyFile(backupPath); err != nil {
			return "", fmt.Errorf("fallback backup failed: %w", err)
		}
	}

	s.logger.Info().Str("path", backupPath).Msg("Backup completed")
	return backupPath, nil
}

// copyFile is not atomic for SQLite and may capture a torn write.
func (s *BackupService) copyFile(backupPath string) error {
	source, err := os.Open(s.dbPath)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.Create(backupPath)
	if err != nil {
		return err
	}
	defer destination.Close()

	_, err = io.Copy(destination, source)
	return err
}

// CleanupOldBackups removes backup files older than the retention window and
// returns how many were removed. Foreign files in the directory are ignored.
func (s *BackupService) CleanupOldBackups() int {
	if s.config.RetentionDays <= 0 {
		return 0
	}

	entries, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read backup directory for cleanup")
		return 0
	}

	cutoff := time.Now().AddDate(0, 0, -s.config.RetentionDays)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.config.StoragePath, name)); err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("Failed to delete old backup")
			continue
		}
		s.logger.Info().Str("file", name).Msg("Deleted old backup")
		removed++
	}
	return removed
}
