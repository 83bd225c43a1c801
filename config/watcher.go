package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/sentivane/sentivane/errors"
)

// Watcher reloads the configuration file when it changes on disk.
//
// Only the index weight set is hot-swappable; queue and source settings are
// read once at startup. A reload that fails validation is logged and ignored,
// leaving the previous configuration in effect.
type Watcher struct {
	path     string
	onReload func(*Config)
	log      *zap.SugaredLogger
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a watcher for the given config file. onReload is invoked
// with each successfully loaded and validated configuration.
func NewWatcher(path string, onReload func(*Config), log *zap.SugaredLogger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}

	// Watch the directory, not the file: editors replace files on save,
	// which drops a file-level watch.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", filepath.Dir(path))
	}

	return &Watcher{
		path:     path,
		onReload: onReload,
		log:      log,
		watcher:  fsw,
	}, nil
}

// Run processes filesystem events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			cfg, err := LoadFromFile(w.path)
			if err != nil {
				w.log.Warnw("Config reload rejected, keeping previous config",
					"path", w.path,
					"error", err,
				)
				continue
			}

			w.log.Infow("Config reloaded", "path", w.path)
			w.onReload(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warnw("Config watcher error", "error", err)
		}
	}
}
