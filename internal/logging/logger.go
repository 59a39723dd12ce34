package logging

import (
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"tablesync/internal/config"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LevelEnv overrides logging.level when set.
const LevelEnv = "LOG_LEVEL"

var errNoFilePath = errors.New("logging.output=file requires logging.file_path")

// New builds the process logger. Empty settings mean JSON at info level on
// stdout. The returned closer is non-nil only for file output.
func New(cfg config.LoggingConfig, app config.AppConfig) (*zerolog.Logger, io.Closer, error) {
	out, closer, err := openOutput(cfg)
	if err != nil {
		return nil, nil, err
	}
	return NewWithWriter(cfg, app, out), closer, nil
}

// NewWithWriter builds a logger writing to w with the level, format and
// app fields from configuration.
func NewWithWriter(cfg config.LoggingConfig, app config.AppConfig, w io.Writer) *zerolog.Logger {
	if normalized(cfg.Format) == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	l := zerolog.New(w).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("app", app.Name).
		Str("env", app.Environment).
		Str("version", app.Version).
		Logger()
	return &l
}

func parseLevel(configured string) zerolog.Level {
	raw := normalized(configured)
	if env := normalized(os.Getenv(LevelEnv)); env != "" {
		raw = env
	}
	lvl, err := zerolog.ParseLevel(raw)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func openOutput(cfg config.LoggingConfig) (io.Writer, io.Closer, error) {
	switch normalized(cfg.Output) {
	case "stderr":
		return os.Stderr, nil, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, nil, errNoFilePath
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		return rotator, rotator, nil
	default:
		return os.Stdout, nil, nil
	}
}

func normalized(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
