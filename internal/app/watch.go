package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce collapses the burst of events editors emit on save.
const DefaultDebounce = 500 * time.Millisecond

// SeedWatcher calls OnChange after the seed file settles following a change.
type SeedWatcher struct {
	path     string
	debounce time.Duration
	onChange func(ctx context.Context) error
	logger   zerolog.Logger
}

func NewSeedWatcher(path string, debounce time.Duration, onChange func(ctx context.Context) error, logger *zerolog.Logger) *SeedWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &SeedWatcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		onChange: onChange,
		logger:   logger.With().Str("component", "seed_watcher").Logger(),
	}
}

// Run watches the directory holding the seed file until ctx is done. The
// directory is watched instead of the file so atomic renames are seen.
func (w *SeedWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.logger.Info().Str("path", w.path).Msg("Watching seed file")

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug().Str("op", ev.Op.String()).Msg("Seed file event")
			timer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("Seed watcher error")

		case <-timer.C:
			if err := w.onChange(ctx); err != nil {
				w.logger.Error().Err(err).Str("path", w.path).Msg("Seed reload failed")
				continue
			}
			w.logger.Info().Str("path", w.path).Msg("Seed reloaded")
		}
	}
}
