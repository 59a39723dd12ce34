package database

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tablesync/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupService(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "source.db")
	storagePath := filepath.Join(tempDir, "backups")

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE test (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)
	db.Close()

	cfg := config.BackupConfig{
		Enabled:       true,
		StoragePath:   storagePath,
		RetentionDays: 1,
	}
	logger := zerolog.Nop()
	s := NewBackupService(dbPath, cfg, &logger)

	t.Run("PerformBackup", func(t *testing.T) {
		path, err := s.PerformBackup(context.Background())
		require.NoError(t, err)
		assert.FileExists(t, path)

		files, err := os.ReadDir(storagePath)
		require.NoError(t, err)
		assert.Len(t, files, 1)
	})

	t.Run("CleanupOldBackups", func(t *testing.T) {
		oldTime := time.Now().AddDate(0, 0, -2)

		oldFile := filepath.Join(storagePath, "tablesync_20000101_000000.db")
		require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0o644))
		require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))

		foreign := filepath.Join(storagePath, "notes.txt")
		require.NoError(t, os.WriteFile(foreign, []byte("keep"), 0o644))
		require.NoError(t, os.Chtimes(foreign, oldTime, oldTime))

		assert.Equal(t, 1, s.CleanupOldBackups())
		assert.NoFileExists(t, oldFile)
		assert.FileExists(t, foreign)
	})
}

func TestBackupSchedule(t *testing.T) {
	base := time.Date(2024, 3, 10, 12, 30, 0, 0, time.UTC)

	next, err := backupSchedule("6h")
	require.NoError(t, err)
	assert.Equal(t, base.Add(6*time.Hour), next(base))

	next, err = backupSchedule("")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), next(base))

	next, err = backupSchedule("0 3 * * *")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 11, 3, 0, 0, 0, time.UTC), next(base))

	_, err = backupSchedule("-1h")
	assert.Error(t, err)

	_, err = backupSchedule("not a schedule")
	assert.Error(t, err)
}

func TestBackupService_Disabled(_ *testing.T) {
	logger := zerolog.Nop()
	s := NewBackupService("any", config.BackupConfig{Enabled: false}, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Start(ctx)
}
