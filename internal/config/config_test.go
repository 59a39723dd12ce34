package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("TABLESYNC_TEST_DSN", "file:orders.db")

	yamlContent := `
database:
  path: "test.db"
sources:
  - name: main
    driver: sqlite3
    dsn: "${TABLESYNC_TEST_DSN}"
scheduler:
  retry_base_delay: 2s
  timezone: "UTC"
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Database.Path != "test.db" {
		t.Errorf("expected database path test.db, got %s", cfg.Database.Path)
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0].DSN != "file:orders.db" {
		t.Errorf("expected expanded dsn, got %+v", cfg.Sources)
	}
	if cfg.Scheduler.RetryBaseDelay != 2*time.Second {
		t.Errorf("expected retry base delay 2s, got %s", cfg.Scheduler.RetryBaseDelay)
	}
	if cfg.Scheduler.SettleDelay != time.Second {
		t.Errorf("expected default settle delay 1s, got %s", cfg.Scheduler.SettleDelay)
	}
	if cfg.App.Name != "tablesync" {
		t.Errorf("expected default app name, got %s", cfg.App.Name)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Sources:  []SourceConfig{{Name: "main", Driver: "postgres", DSN: "postgres://localhost/db"}},
			},
			wantErr: false,
		},
		{
			name:    "missing database path",
			cfg:     Config{},
			wantErr: true,
		},
		{
			name: "duplicate source name",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Sources: []SourceConfig{
					{Name: "main", Driver: "sqlite3", DSN: "a.db"},
					{Name: "main", Driver: "sqlite3", DSN: "b.db"},
				},
			},
			wantErr: true,
		},
		{
			name: "unsupported driver",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Sources:  []SourceConfig{{Name: "main", Driver: "oracle", DSN: "x"}},
			},
			wantErr: true,
		},
		{
			name: "bad timezone",
			cfg: Config{
				Database:  DatabaseConfig{Path: "path"},
				Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"},
			},
			wantErr: true,
		},
		{
			name: "telegram without token",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Telegram: TelegramConfig{Enabled: true},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSchedulerLocation(t *testing.T) {
	if loc := (SchedulerConfig{}).Location(); loc != time.UTC {
		t.Errorf("expected UTC for empty timezone, got %s", loc)
	}
	if loc := (SchedulerConfig{Timezone: "Europe/Moscow"}).Location(); loc.String() != "Europe/Moscow" {
		t.Errorf("expected Europe/Moscow, got %s", loc)
	}
}
