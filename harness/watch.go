package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces the burst of events a build produces.
const DefaultWatchDebounce = 250 * time.Millisecond

// Watch runs the suite once and then again every time the server executable
// is written, created or renamed into place, until ctx is done. Reports are
// written to out. The containing directory is watched rather than the file
// itself so that atomic replace-by-rename is observed.
func Watch(ctx context.Context, cfg Config, cases []Case, out io.Writer, debounce time.Duration, opts ...Option) error {
	r := &runner{log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	cfg = cfg.WithDefaults()
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	target, err := filepath.Abs(cfg.ServerPath)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", cfg.ServerPath, err)
	}
	cfg.ServerPath = target

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	runOnce := func() {
		rep, err := Run(ctx, cfg, cases, opts...)
		switch {
		case errors.Is(err, ErrArtifactMissing):
			fmt.Fprintf(out, "waiting for %s to be built...\n", target)
		case err != nil:
			r.log.WarnContext(ctx, "harness.watch.run_err", slog.String("err", err.Error()))
		default:
			if err := WriteReport(out, rep, cfg.Color); err != nil {
				r.log.WarnContext(ctx, "harness.watch.report_err", slog.String("err", err.Error()))
			}
		}
	}
	runOnce()

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}
			r.log.DebugContext(ctx, "harness.watch.event", slog.String("op", ev.Op.String()))
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.DebugContext(ctx, "harness.watch.err", slog.String("err", err.Error()))
		case <-timer.C:
			runOnce()
		}
	}
}
