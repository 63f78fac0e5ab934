package envfile

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 150 * time.Millisecond

// Watch calls onChange with freshly read Values whenever <workspace>/.env is
// written, created, renamed or removed. It blocks until ctx ends.
func Watch(ctx context.Context, workspace string, lg *slog.Logger, onChange func(Values)) error {
	if lg == nil {
		lg = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", Path(workspace), err)
	}
	defer w.Close()
	if err := w.Add(workspace); err != nil {
		return fmt.Errorf("watch %s: %w", Path(workspace), err)
	}

	target := filepath.Clean(Path(workspace))
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			timer.Reset(watchDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			lg.Warn("env watcher error", "err", err)
		case <-timer.C:
			values, err := Read(workspace)
			if err != nil {
				lg.Warn("env reload failed", "err", err)
				continue
			}
			lg.Info("workspace .env changed")
			onChange(values)
		}
	}
}
