package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/grovetools/airlock/config"
	"github.com/grovetools/airlock/pkg/session"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 200 * time.Millisecond

// ConfigWatcher watches one config file and calls onChange once per burst
// of writes. fsnotify does not follow symlinks, so the link target's
// directory is watched too.
type ConfigWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	names    map[string]bool
	debounce time.Duration
	logger   *logrus.Entry
	onChange func(file string)

	mu    sync.Mutex
	timer *time.Timer
}

// NewConfigWatcher starts watching path.
func NewConfigWatcher(path string, debounce time.Duration, onChange func(string), logger *logrus.Entry) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, err
	}

	// Editors replace files by rename, so directories are watched rather
	// than the file itself.
	names := map[string]bool{abs: true}
	dirs := map[string]bool{filepath.Dir(abs): true}
	if info, err := os.Lstat(abs); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if target, err := filepath.EvalSymlinks(abs); err == nil {
			names[target] = true
			dirs[filepath.Dir(target)] = true
		} else {
			logger.WithError(err).Warnf("Failed to resolve symlink %s", abs)
		}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, err
		}
		logger.Debugf("Watching config directory: %s", dir)
	}

	return &ConfigWatcher{
		watcher:  watcher,
		path:     abs,
		names:    names,
		debounce: debounce,
		logger:   logger,
		onChange: onChange,
	}, nil
}

// Start processes events until ctx is cancelled.
func (w *ConfigWatcher) Start(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.names[event.Name] {
				continue
			}
			w.logger.Debugf("fsnotify event: %s op=%v", event.Name, event.Op)
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("Watcher error: %v", err)
		case <-ctx.Done():
			w.Close()
			return
		}
	}
}

func (w *ConfigWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.logger.Infof("Config changed: %s", filepath.Base(w.path))
		if w.onChange != nil {
			w.onChange(w.path)
		}
	})
}

// Close stops the watcher and any pending callback.
func (w *ConfigWatcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

// ReloadManager returns an onChange callback that loads file and swaps it
// into mgr. A file that fails to load or validate is logged and the
// previous configuration stays in effect. notify, when set, runs after a
// successful swap.
func ReloadManager(mgr *session.Manager, logger *logrus.Entry, notify func(file string)) func(string) {
	return func(file string) {
		cfg, err := config.Load(file)
		if err != nil {
			logger.WithError(err).WithField("file", file).Error("Config reload rejected, keeping previous configuration")
			return
		}
		mgr.SetConfig(cfg)
		logger.WithField("file", file).Info("Configuration reloaded")
		if notify != nil {
			notify(file)
		}
	}
}
