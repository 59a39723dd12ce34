package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Sources    []SourceConfig   `yaml:"sources"`
	Google     GoogleConfig     `yaml:"google"`
	Excel      ExcelConfig      `yaml:"excel"`
	Redis      RedisConfig      `yaml:"redis"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Telegram   TelegramConfig   `yaml:"telegram"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// DatabaseConfig points at the SQLite file holding jobs, mappings and the execution ledger.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SourceConfig describes one relational database that mappings can read from.
type SourceConfig struct {
	Name   string `yaml:"name"`
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type GoogleConfig struct {
	CredentialsFile   string  `yaml:"credentials_file"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type ExcelConfig struct {
	BaseDir string `yaml:"base_dir"`
}

type RedisConfig struct {
	Address   string        `yaml:"address"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	PoolSize  int           `yaml:"pool_size"`
	StatusTTL time.Duration `yaml:"status_ttl"`
}

type SchedulerConfig struct {
	Timezone       string        `yaml:"timezone"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	RunTimeout     time.Duration `yaml:"run_timeout"`
	SeedFile       string        `yaml:"seed_file"`
	WatchSeed      bool          `yaml:"watch_seed"`
}

// Location resolves the configured timezone, falling back to UTC.
func (s SchedulerConfig) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type TelegramConfig struct {
	Enabled  bool    `yaml:"enabled"`
	BotToken string  `yaml:"bot_token"`
	ChatIDs  []int64 `yaml:"chat_ids"`
}

var supportedDrivers = map[string]bool{
	"sqlite3":  true,
	"postgres": true,
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if err := ValidateSources(c.Sources); err != nil {
		return err
	}

	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("invalid scheduler timezone %q: %w", c.Scheduler.Timezone, err)
		}
	}

	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return errors.New("telegram.bot_token is required when telegram is enabled")
	}

	if c.Backup.Enabled && c.Backup.StoragePath == "" {
		return errors.New("backup.storage_path is required when backups are enabled")
	}

	return nil
}

func ValidateSources(sources []SourceConfig) error {
	names := make(map[string]bool)
	for _, src := range sources {
		if strings.TrimSpace(src.Name) == "" {
			return errors.New("source with empty name")
		}
		if names[src.Name] {
			return fmt.Errorf("duplicate source name found: %s", src.Name)
		}
		names[src.Name] = true
		if !supportedDrivers[src.Driver] {
			return fmt.Errorf("source '%s' has unsupported driver %q", src.Name, src.Driver)
		}
		if src.DSN == "" {
			return fmt.Errorf("source '%s' has empty dsn", src.Name)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "tablesync"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}

	if c.Google.RequestsPerSecond == 0 {
		c.Google.RequestsPerSecond = 1
	}
	if c.Google.Burst == 0 {
		c.Google.Burst = 5
	}

	if c.Redis.StatusTTL == 0 {
		c.Redis.StatusTTL = 7 * 24 * time.Hour
	}

	// Scheduler defaults
	if c.Scheduler.RetryBaseDelay == 0 {
		c.Scheduler.RetryBaseDelay = 5 * time.Second
	}
	if c.Scheduler.SettleDelay == 0 {
		c.Scheduler.SettleDelay = time.Second
	}
	if c.Scheduler.SeedFile == "" {
		c.Scheduler.SeedFile = "configs/jobs.yaml"
	}

	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "@daily"
	}
}
