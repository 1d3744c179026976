package webrtc

import (
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"go.uber.org/zap"
)

// silenceLevel is the audio level, in -dBov, above which an interval counts
// as silent. Levels run from 0 (loudest) to 127 (silence).
const silenceLevel = 70

type levelWindow struct {
	sum    int
	count  int
	voiced int
}

// SpeakerObserver averages the audio levels reported by audio producers over
// each interval and announces the loudest one when it changes.
type SpeakerObserver struct {
	interval time.Duration
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	windows  map[domain.ProducerID]*levelWindow
	handler  func(domain.ProducerID)
	dominant domain.ProducerID
	started  bool
	closed   bool

	stop chan struct{}
	done chan struct{}
}

var _ ports.ActiveSpeakerObserver = (*SpeakerObserver)(nil)

func NewSpeakerObserver(interval time.Duration, logger *zap.SugaredLogger) *SpeakerObserver {
	if interval <= 0 {
		interval = 300 * time.Millisecond
	}
	return &SpeakerObserver{
		interval: interval,
		logger:   logger.Named("speaker-observer"),
		windows:  make(map[domain.ProducerID]*levelWindow),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (o *SpeakerObserver) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started || o.closed {
		return
	}
	o.started = true
	go func() {
		defer close(o.done)
		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.evaluate()
			case <-o.stop:
				return
			}
		}
	}()
}

func (o *SpeakerObserver) AddProducer(id domain.ProducerID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return domain.ErrRoomClosed
	}
	if _, ok := o.windows[id]; !ok {
		o.windows[id] = &levelWindow{}
	}
	return nil
}

func (o *SpeakerObserver) RemoveProducer(id domain.ProducerID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.windows, id)
	if o.dominant == id {
		o.dominant = ""
	}
	return nil
}

func (o *SpeakerObserver) OnDominantSpeaker(handler func(domain.ProducerID)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handler = handler
}

// Report records one audio level sample. Samples for untracked producers are
// dropped.
func (o *SpeakerObserver) Report(id domain.ProducerID, level uint8, voice bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.windows[id]
	if !ok {
		return
	}
	w.sum += int(level)
	w.count++
	if voice {
		w.voiced++
	}
}

// evaluate closes the current interval. The producer with the lowest average
// level wins if it is not silent; ties go to the one with more voiced
// samples. The handler runs only when the winner changes.
func (o *SpeakerObserver) evaluate() {
	o.mu.Lock()
	var (
		winner    domain.ProducerID
		bestAvg   = silenceLevel + 1
		bestVoice = -1
	)
	for id, w := range o.windows {
		if w.count > 0 {
			avg := w.sum / w.count
			if avg < bestAvg || (avg == bestAvg && w.voiced > bestVoice) {
				winner, bestAvg, bestVoice = id, avg, w.voiced
			}
		}
		*w = levelWindow{}
	}

	if winner == "" || winner == o.dominant || o.closed {
		o.mu.Unlock()
		return
	}
	o.dominant = winner
	handler := o.handler
	o.mu.Unlock()

	o.logger.Debugw("dominant speaker changed", "producer_id", winner, "level", bestAvg)
	if handler != nil {
		handler(winner)
	}
}

func (o *SpeakerObserver) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	started := o.started
	o.mu.Unlock()

	close(o.stop)
	if started {
		<-o.done
	}
	return nil
}
