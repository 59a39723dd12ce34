// Package cli implements the syncctl operator commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"tablesync/internal/app"
	"tablesync/internal/config"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string
	Verbose    bool
}

var ValidFormats = []string{"text", "json"}

// Exit codes for syncctl.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// GetExitCode extracts the exit code from an error returned by a command.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "configs/config.yaml"
	}

	cmd := &cobra.Command{
		Use:           "syncctl",
		Short:         "Operate the table sync engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", defaultConfig, "path to config.yaml")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewJobsCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewLogsCommand(opts))

	return cmd
}

// newLogger writes to stderr so JSON output on stdout stays clean.
func newLogger(opts *RootOptions, cmd *cobra.Command) *zerolog.Logger {
	level := zerolog.WarnLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}
	l := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).Level(level).With().Timestamp().Logger()
	return &l
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, &ExitError{Code: ExitCommandError, Err: fmt.Errorf("load config: %w", err)}
	}
	return cfg, nil
}

// openEngine builds the engine without Redis or Telegram.
func openEngine(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	engine, err := app.New(ctx, cfg, app.Options{}, newLogger(opts, cmd))
	if err != nil {
		return nil, &ExitError{Code: ExitCommandError, Err: err}
	}
	return engine, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
