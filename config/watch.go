package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch watches the config directory for changes to the config file and
// calls onChange after a short debounce. Editors that write via rename and
// bursts of writes collapse into one callback. The watcher closes when ctx
// is cancelled.
func (m *Manager) Watch(ctx context.Context, onChange func()) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(m.configPath)); err != nil {
		_ = w.Close()
		return nil, err
	}

	target := filepath.Base(m.configPath)
	var timer *time.Timer
	debounce := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(200*time.Millisecond, func() { onChange() })
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce()
				}
			case <-w.Errors:
				// ignore
			}
		}
	}()

	return w, nil
}
