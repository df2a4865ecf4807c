// Package watch runs the probe pipeline repeatedly. Cancellation is
// cooperative through the context and takes effect between cycles, never
// mid-cycle.
package watch

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Cycle runs one full probe pipeline and returns its exit code.
type Cycle func(ctx context.Context) int

// Config for the watch loop.
type Config struct {
	// Interval between scheduled probe cycles.
	Interval time.Duration
	// WatchPaths are tracked config files; a filesystem change to one
	// triggers an immediate extra cycle.
	WatchPaths []string
}

// Loop re-invokes the pipeline at an interval and on config file changes.
type Loop struct {
	cfg     Config
	log     *logrus.Logger
	cycle   Cycle
	watcher *fsnotify.Watcher
	tracked map[string]bool
}

// New creates a watch Loop. Paths that cannot be watched are skipped; the
// interval ticker still covers them.
func New(cfg Config, cycle Cycle, log *logrus.Logger) (*Loop, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	l := &Loop{
		cfg:     cfg,
		log:     log,
		cycle:   cycle,
		watcher: watcher,
		tracked: make(map[string]bool),
	}

	// Watch each file's parent directory so create/rename are seen too.
	dirs := make(map[string]bool)
	for _, path := range cfg.WatchPaths {
		clean := filepath.Clean(path)
		l.tracked[clean] = true
		dirs[filepath.Dir(clean)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			log.WithError(err).WithField("dir", dir).Debug("Failed to add watch")
		}
	}

	return l, nil
}

// Run executes cycles until ctx is cancelled and returns the worst exit code
// observed across all cycles.
func (l *Loop) Run(ctx context.Context) int {
	defer l.watcher.Close()

	l.log.WithField("interval", l.cfg.Interval).Info("Starting watch mode")

	worst := l.cycle(ctx)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info("Watch mode stopping")
			return worst

		case <-ticker.C:
			if code := l.cycle(ctx); code > worst {
				worst = code
			}

		case event, ok := <-l.watcher.Events:
			if !ok {
				return worst
			}
			if !l.tracked[filepath.Clean(event.Name)] {
				continue
			}
			l.log.WithFields(logrus.Fields{
				"path": event.Name,
				"op":   event.Op.String(),
			}).Info("Tracked config changed, probing now")
			if code := l.cycle(ctx); code > worst {
				worst = code
			}
			ticker.Reset(l.cfg.Interval)

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return worst
			}
			l.log.WithError(err).Error("Watcher error")
		}
	}
}
