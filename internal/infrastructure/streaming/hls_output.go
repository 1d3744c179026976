package streaming

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"go.uber.org/zap"
)

// HLSOutput lays out one directory per room under a root. Tap descriptors
// are written there for the packager, whose segments are counted as they
// appear.
type HLSOutput struct {
	root     string
	listenIP string
	metrics  ports.ConferenceMetrics
	watcher  *SegmentWatcher
	logger   *zap.SugaredLogger
}

var _ ports.HLSOutput = (*HLSOutput)(nil)

func NewHLSOutput(root, listenIP string, metrics ports.ConferenceMetrics, logger *zap.SugaredLogger) (*HLSOutput, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create hls output dir: %w", err)
	}
	o := &HLSOutput{
		root:     root,
		listenIP: listenIP,
		metrics:  metrics,
		logger:   logger.Named("hls-output"),
	}
	watcher, err := NewSegmentWatcher(o.segmentWritten, o.logger)
	if err != nil {
		return nil, err
	}
	o.watcher = watcher
	return o, nil
}

func (o *HLSOutput) segmentWritten(room, segment string) {
	if o.metrics != nil {
		o.metrics.HLSSegmentWritten()
	}
}

// RoomDir is where a room's taps and segments live.
func (o *HLSOutput) RoomDir(room domain.RoomName) string {
	return filepath.Join(o.root, string(room))
}

func (o *HLSOutput) OpenRoom(room domain.RoomName) (ports.RoomOutput, error) {
	dir := o.RoomDir(room)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create room dir: %w", err)
	}
	if err := o.watcher.Watch(string(room), dir); err != nil {
		o.logger.Warnw("segment watching unavailable", "room", room, "error", err)
	}
	return &roomOutput{
		room:  room,
		dir:   dir,
		owner: o,
		taps:  make(map[string]struct{}),
	}, nil
}

func (o *HLSOutput) Close() error {
	return o.watcher.Close()
}

type roomOutput struct {
	room  domain.RoomName
	dir   string
	owner *HLSOutput

	mu     sync.Mutex
	taps   map[string]struct{}
	closed bool
}

func (r *roomOutput) WriteTap(tap domain.HLSTapInfo, params domain.ConsumerParameters) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", domain.ErrRoomClosed
	}

	path := filepath.Join(r.dir, fmt.Sprintf("%s-%s.sdp", tap.Kind, tap.ProducerID))
	sdp := TapSDP(r.room, r.owner.listenIP, tap, params)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sdp), 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	r.taps[path] = struct{}{}
	return path, nil
}

func (r *roomOutput) RemoveTap(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.taps, path)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Close removes the remaining tap descriptors. Segments stay for playback.
func (r *roomOutput) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	taps := r.taps
	r.taps = nil
	r.mu.Unlock()

	r.owner.watcher.Unwatch(r.dir)

	var errs []error
	for path := range taps {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
