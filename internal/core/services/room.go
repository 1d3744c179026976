package services

import (
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"go.uber.org/zap"
)

// Room owns the router of one conference and its members. Every mutation of
// the speaker list, the member set or the derived forwarding state happens
// with mu held.
type Room struct {
	id        string
	name      domain.RoomName
	worker    ports.MediaWorker
	router    ports.Router
	observer  ports.ActiveSpeakerObserver
	hls       *HLSBridge
	createdAt time.Time
	logger    *zap.SugaredLogger

	mu       sync.Mutex
	speakers *ActiveSpeakerScheduler
	clients  []*Client
	closed   bool
}

func (r *Room) Name() domain.RoomName     { return r.name }
func (r *Room) Router() ports.Router      { return r.router }
func (r *Room) Worker() ports.MediaWorker { return r.worker }
func (r *Room) CreatedAt() time.Time      { return r.createdAt }

// Healthy reports whether the worker hosting the router is still alive.
func (r *Room) Healthy() bool {
	select {
	case <-r.worker.Died():
		return false
	default:
		return true
	}
}

func (r *Room) addClientLocked(c *Client) {
	r.clients = append(r.clients, c)
}

func (r *Room) removeClientLocked(c *Client) bool {
	for i, member := range r.clients {
		if member == c {
			r.clients = append(r.clients[:i], r.clients[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Room) membersLocked() []Forwardee {
	members := make([]Forwardee, 0, len(r.clients))
	for _, c := range r.clients {
		members = append(members, c)
	}
	return members
}

// ownerOfLocked returns the member publishing audio producer id.
func (r *Room) ownerOfLocked(id domain.ProducerID) *Client {
	for _, c := range r.clients {
		if c.OwnsProducer(id) {
			return c
		}
	}
	return nil
}

// speakerMediaLocked maps audio producer ids to index-aligned video ids and
// display names. A speaker without video gets an empty video id.
func (r *Room) speakerMediaLocked(ids []domain.ProducerID) (audio, video []domain.ProducerID, names []string) {
	audio = make([]domain.ProducerID, 0, len(ids))
	video = make([]domain.ProducerID, 0, len(ids))
	names = make([]string, 0, len(ids))
	for _, id := range ids {
		owner := r.ownerOfLocked(id)
		if owner == nil {
			continue
		}
		videoID, _ := owner.producerID(domain.KindVideo)
		audio = append(audio, id)
		video = append(video, videoID)
		names = append(names, owner.UserName())
	}
	return audio, video, names
}

// close releases the room's media resources. It runs once, after the room
// was marked closed and removed from the registry.
func (r *Room) close() {
	if r.hls != nil {
		r.hls.Close()
	}
	if r.observer != nil {
		if err := r.observer.Close(); err != nil {
			r.logger.Warnw("failed to close speaker observer", "error", err)
		}
	}
	if r.router != nil {
		if err := r.router.Close(); err != nil {
			r.logger.Warnw("failed to close router", "error", err)
		}
	}
}

func (r *Room) Info() domain.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := domain.RoomInfo{
		Name:           r.name,
		WorkerID:       r.worker.ID(),
		Clients:        make([]string, 0, len(r.clients)),
		ActiveSpeakers: r.speakers.Active(),
		SpeakerList:    r.speakers.List(),
		CreatedAt:      r.createdAt,
	}
	for _, c := range r.clients {
		info.Clients = append(info.Clients, c.UserName())
	}
	if r.hls != nil {
		info.HLSTaps = r.hls.Taps()
	}
	return info
}
