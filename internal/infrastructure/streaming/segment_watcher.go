package streaming

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// SegmentCallback is called once per new segment file of a watched room.
type SegmentCallback func(room, segment string)

// SegmentWatcher observes the packager's output directories and reports new
// segments. One fsnotify watcher serves every room.
type SegmentWatcher struct {
	watcher  *fsnotify.Watcher
	callback SegmentCallback
	logger   *zap.SugaredLogger

	mu    sync.Mutex
	rooms map[string]string // dir -> room
	known map[string]map[string]bool

	done chan struct{}
}

func NewSegmentWatcher(callback SegmentCallback, logger *zap.SugaredLogger) (*SegmentWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	w := &SegmentWatcher{
		watcher:  watcher,
		callback: callback,
		logger:   logger,
		rooms:    make(map[string]string),
		known:    make(map[string]map[string]bool),
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *SegmentWatcher) Watch(room, dir string) error {
	dir = filepath.Clean(dir)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.rooms[dir]; ok {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.rooms[dir] = room
	w.known[dir] = make(map[string]bool)
	w.logger.Debugw("watching for segments", "room", room, "dir", dir)
	return nil
}

func (w *SegmentWatcher) Unwatch(dir string) {
	dir = filepath.Clean(dir)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.rooms[dir]; !ok {
		return
	}
	_ = w.watcher.Remove(dir)
	delete(w.rooms, dir)
	delete(w.known, dir)
}

func (w *SegmentWatcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("segment watcher error", "error", err)
		}
	}
}

func (w *SegmentWatcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	dir, name := filepath.Split(event.Name)
	dir = filepath.Clean(dir)

	switch {
	case strings.HasSuffix(name, ".m3u8"):
		w.logger.Debugw("playlist updated", "path", event.Name)
		return
	case strings.HasSuffix(name, ".ts"), strings.HasSuffix(name, ".m4s"):
	default:
		return
	}

	w.mu.Lock()
	room, ok := w.rooms[dir]
	seen := ok && w.known[dir][name]
	if ok && !seen {
		w.known[dir][name] = true
	}
	w.mu.Unlock()
	if !ok || seen {
		return
	}

	w.logger.Debugw("new segment detected", "room", room, "segment", name)
	if w.callback != nil {
		w.callback(room, name)
	}
}

// Known returns the segment names seen so far in dir.
func (w *SegmentWatcher) Known(dir string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	known := w.known[filepath.Clean(dir)]
	out := make([]string, 0, len(known))
	for name := range known {
		out = append(out, name)
	}
	return out
}

func (w *SegmentWatcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
