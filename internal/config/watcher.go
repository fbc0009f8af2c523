package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher watches the peers file named by MEMCORE_PEERS_FILE and notifies
// callbacks registered with OnChange when it changes. The sync fabric's
// peer registry is fixed at construction and does not subscribe to it.
type Watcher struct {
	mu sync.RWMutex
	path string
	callbacks []func(map[string]Peer)
	logger *zap.Logger
	fsWatcher *fsnotify.Watcher
	stopCh chan struct{}
}

// NewWatcher starts watching path (a no-op watcher is returned if path is
// empty, so callers don't need to special-case the "no peers file"
// deployment mode).
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	w := &Watcher{
		path: path,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	if path == "" {
		return w, nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(path); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	w.fsWatcher = fsWatcher
	go w.loop()
	return w, nil
}

// OnChange registers a callback invoked with the freshly loaded peer table
// whenever the watched file changes.
func (w *Watcher) OnChange(fn func(map[string]Peer)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			peers, err := loadPeersFile(w.path)
			if err != nil {
				w.logger.Warn("failed to reload peers file", zap.Error(err), zap.String("path", w.path))
				continue
			}
			w.mu.RLock()
			callbacks := append([]func(map[string]Peer){}, w.callbacks...)
			w.mu.RUnlock()
			for _, cb := range callbacks {
				cb(peers)
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// Stop releases the underlying filesystem watcher.
func (w *Watcher) Stop() {
	close(w.stopCh)
	if w.fsWatcher != nil {
		w.fsWatcher.Close()
	}
}
