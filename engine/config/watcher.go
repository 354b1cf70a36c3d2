package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/ferrum-engine/ferrum/engine/core"
)

// Watcher re-reads the config file whenever it changes on disk and applies
// the subset of settings that are safe to change at runtime (currently the
// log level). Structural settings such as frames-in-flight are fixed at
// scheduler construction and are deliberately not reloaded.
type Watcher struct {
	path     string
	fsnotify *fsnotify.Watcher
	done     chan struct{}

	mutex    sync.Mutex
	isClosed bool
}

func NewWatcher(path string) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     path,
		fsnotify: fsWatch,
		done:     make(chan struct{}),
	}

	if err := fsWatch.Add(path); err != nil {
		fsWatch.Close()
		return nil, err
	}

	go w.start()
	return w, nil
}

func (w *Watcher) start() {
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if e.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload()
			}
		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("config watcher: %s", err.Error())
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		core.LogWarn("config reload failed, keeping previous settings: %s", err.Error())
		return
	}
	core.SetLogLevel(cfg.ParsedLogLevel())
	core.LogInfo("config reloaded from '%s' (log level '%s')", w.path, cfg.Engine.LogLevel)
}

func (w *Watcher) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.isClosed {
		return nil
	}
	w.isClosed = true
	close(w.done)
	return w.fsnotify.Close()
}
