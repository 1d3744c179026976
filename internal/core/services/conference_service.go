package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/tracing"
	"huddle/pkg/utils"
	"huddle/pkg/validation"

	"go.uber.org/zap"
)

const (
	maxJoinAttempts = 3
	eventTimeout    = 2 * time.Second
)

type HLSSettings struct {
	Enabled  bool
	ListenIP string
	BasePort int
}

type ConferenceConfig struct {
	Codecs                 []domain.CodecCapability
	ActiveSpeakerWindow    int
	Placement              domain.SpeakerPlacement
	SpeakerInterval        time.Duration
	MaxIncomingBitrate     int
	InitialOutgoingBitrate int
	InstanceID             string
	HLS                    HLSSettings
}

// ConferenceService drives rooms and participants on behalf of the signaling
// layer. Participants are addressed by their signaling connection id.
type ConferenceService struct {
	cfg       ConferenceConfig
	pool      *WorkerPool
	registry  *RoomRegistry
	notifier  ports.Notifier
	directory ports.RoomDirectory
	events    ports.EventPublisher
	metrics   ports.ConferenceMetrics
	hlsOutput ports.HLSOutput
	hlsPorts  *PortAllocator
	logger    *zap.SugaredLogger

	mu       sync.RWMutex
	sessions map[domain.ConnectionID]*Client
}

var _ ports.ConferenceService = (*ConferenceService)(nil)

func NewConferenceService(
	cfg ConferenceConfig,
	pool *WorkerPool,
	notifier ports.Notifier,
	directory ports.RoomDirectory,
	events ports.EventPublisher,
	metrics ports.ConferenceMetrics,
	hlsOutput ports.HLSOutput,
	logger *zap.SugaredLogger,
) *ConferenceService {
	if directory == nil {
		directory = noopDirectory{}
	}
	if events == nil {
		events = noopPublisher{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if cfg.SpeakerInterval <= 0 {
		cfg.SpeakerInterval = 300 * time.Millisecond
	}

	return &ConferenceService{
		cfg:       cfg,
		pool:      pool,
		registry:  NewRoomRegistry(),
		notifier:  notifier,
		directory: directory,
		events:    events,
		metrics:   metrics,
		hlsOutput: hlsOutput,
		hlsPorts:  NewPortAllocator(cfg.HLS.BasePort, 2),
		logger:    logger,
		sessions:  make(map[domain.ConnectionID]*Client),
	}
}

func (s *ConferenceService) Join(ctx context.Context, conn domain.ConnectionID, req domain.JoinRequest) (*domain.JoinResult, error) {
	name := domain.NormalizeRoomName(req.RoomName)
	if err := validation.ValidateRoomName(string(name)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidName, err)
	}
	userName := strings.TrimSpace(req.UserName)
	if err := validation.ValidateDisplayName(userName); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidName, err)
	}

	client := NewClient(conn, userName, s.metrics, s.logger)
	if err := s.reserve(client); err != nil {
		return nil, err
	}

	result, err := s.join(ctx, client, name)
	if err != nil {
		s.release(conn)
		client.close()
		return nil, err
	}
	return result, nil
}

func (s *ConferenceService) join(ctx context.Context, client *Client, name domain.RoomName) (*domain.JoinResult, error) {
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		room, created, err := s.registry.Acquire(ctx, name, func(ctx context.Context) (*Room, error) {
			return s.createRoom(ctx, name)
		})
		if err != nil {
			return nil, err
		}

		room.mu.Lock()
		if room.closed {
			room.mu.Unlock()
			continue
		}
		if err := client.attach(room); err != nil {
			empty := len(room.clients) == 0
			owned := false
			if empty {
				owned = s.markDestroyedLocked(room)
			}
			room.mu.Unlock()
			if empty {
				s.finalizeRoom(ctx, room, owned)
			}
			return nil, err
		}
		room.addClientLocked(client)

		active := room.speakers.Active()
		for _, id := range active {
			client.MarkPending(id)
		}
		audio, video, names := room.speakerMediaLocked(active)
		room.mu.Unlock()

		s.metrics.ClientJoined()
		s.publish(domain.RoomEvent{Type: domain.EventParticipantJoined, Room: name, UserName: client.UserName()})
		s.logger.Infow("client joined room",
			"room", name,
			"connection_id", client.ConnectionID(),
			"user", client.UserName(),
			"new_room", created,
			"subscriptions", len(audio),
		)

		return &domain.JoinResult{
			Capabilities:        room.router.Capabilities(),
			IsNewRoom:           created,
			AudioIDsToSubscribe: audio,
			VideoIDsToSubscribe: video,
			DisplayNames:        names,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s kept closing during join", domain.ErrRoomClosed, name)
}

func (s *ConferenceService) createRoom(ctx context.Context, name domain.RoomName) (*Room, error) {
	ctx, span := tracing.TraceMediaOperation(ctx, "createRoom", string(name))
	defer span.End()

	worker, index, err := s.pool.Assign(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to assign worker: %w", err)
	}

	router, err := worker.CreateRouter(ctx, s.cfg.Codecs)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	observer, err := router.CreateActiveSpeakerObserver(ctx, s.cfg.SpeakerInterval)
	if err != nil {
		_ = router.Close()
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to create speaker observer: %w", err)
	}

	room := &Room{
		id:        utils.NewID(),
		name:      name,
		worker:    worker,
		router:    router,
		observer:  observer,
		createdAt: time.Now(),
		logger:    s.logger.With("room", name),
		speakers:  NewActiveSpeakerScheduler(s.cfg.ActiveSpeakerWindow, s.cfg.Placement),
	}
	observer.OnDominantSpeaker(func(id domain.ProducerID) {
		s.HandleDominantSpeaker(room, id)
	})

	if s.cfg.HLS.Enabled {
		var output ports.RoomOutput
		if s.hlsOutput != nil {
			output, err = s.hlsOutput.OpenRoom(name)
			if err != nil {
				s.logger.Warnw("failed to open hls output", "room", name, "error", err)
				output = nil
			}
		}
		room.hls = NewHLSBridge(name, router, s.hlsPorts, s.cfg.HLS.ListenIP, output, s.metrics, s.logger)
	}

	record := domain.RoomRecord{
		ID:         room.id,
		Name:       name,
		InstanceID: s.cfg.InstanceID,
		WorkerID:   worker.ID(),
		CreatedAt:  room.createdAt,
	}
	if err := s.directory.Register(ctx, record); err != nil {
		s.logger.Warnw("failed to register room in directory", "room", name, "error", err)
	}

	s.metrics.RoomCreated()
	s.publish(domain.RoomEvent{Type: domain.EventRoomCreated, Room: name})
	s.logger.Infow("room created", "room", name, "worker_index", index, "worker_id", worker.ID())
	return room, nil
}

func (s *ConferenceService) RequestTransport(ctx context.Context, conn domain.ConnectionID, role domain.TransportRole, peerAudioID domain.ProducerID) (*domain.TransportParameters, error) {
	client, room, err := s.clientInRoom(ctx, conn)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.TraceMediaOperation(ctx, "createTransport", string(room.name))
	defer span.End()
	tracing.AddSpanAttributes(ctx, tracing.RoleKey.String(string(role)))

	opts := ports.WebRTCTransportOptions{
		Role:                   role,
		MaxIncomingBitrate:     s.cfg.MaxIncomingBitrate,
		InitialOutgoingBitrate: s.cfg.InitialOutgoingBitrate,
	}

	switch role {
	case domain.RoleProducer:
		if t := client.Upstream(); t != nil {
			params := t.Parameters()
			return &params, nil
		}
		t, err := room.router.CreateWebRTCTransport(ctx, opts)
		if err != nil {
			return nil, s.mediaFailure(ctx, conn, domain.ErrTransportCreation, err)
		}
		existing, err := client.setUpstream(t)
		if err != nil {
			s.closeQuietly("transport", t)
			return nil, err
		}
		if existing != nil {
			s.closeQuietly("transport", t)
			t = existing
		}
		params := t.Parameters()
		return &params, nil

	case domain.RoleConsumer:
		room.mu.Lock()
		owner := room.ownerOfLocked(peerAudioID)
		var videoID domain.ProducerID
		if owner != nil {
			videoID, _ = owner.producerID(domain.KindVideo)
		}
		room.mu.Unlock()

		if owner == nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrProducerNotFound, peerAudioID)
		}
		if owner == client {
			return nil, fmt.Errorf("%w: cannot subscribe to own producer", domain.ErrCannotConsume)
		}
		if ds, ok := client.downstreamByPeer(peerAudioID); ok {
			params := ds.transport.Parameters()
			return &params, nil
		}

		t, err := room.router.CreateWebRTCTransport(ctx, opts)
		if err != nil {
			return nil, s.mediaFailure(ctx, conn, domain.ErrTransportCreation, err)
		}
		existing, err := client.addDownstream(peerAudioID, videoID, t)
		if err != nil {
			s.closeQuietly("transport", t)
			return nil, err
		}
		if existing != nil {
			s.closeQuietly("transport", t)
			t = existing.transport
		}
		params := t.Parameters()
		return &params, nil
	}

	return nil, fmt.Errorf("unknown transport role %q", role)
}

func (s *ConferenceService) ConnectTransport(ctx context.Context, conn domain.ConnectionID, role domain.TransportRole, peerAudioID domain.ProducerID, params domain.SecurityParameters) error {
	client, room, err := s.clientInRoom(ctx, conn)
	if err != nil {
		return err
	}

	var transport ports.WebRTCTransport
	switch role {
	case domain.RoleProducer:
		transport = client.Upstream()
	case domain.RoleConsumer:
		if ds, ok := client.downstreamByPeer(peerAudioID); ok {
			transport = ds.transport
		}
	default:
		return fmt.Errorf("unknown transport role %q", role)
	}
	if transport == nil {
		return fmt.Errorf("%w: %s transport", domain.ErrTransportNotFound, role)
	}

	ctx, span := tracing.TraceMediaOperation(ctx, "connectTransport", string(room.name))
	defer span.End()

	if err := transport.Connect(ctx, params); err != nil {
		tracing.RecordError(ctx, err)
		return s.mediaFailure(ctx, conn, domain.ErrConnect, err)
	}
	return nil
}

// Produce publishes one media kind. Clients publish video before audio so
// that peers learn both ids in one announcement; a video that arrives after
// its audio is already live is announced again on its own.
func (s *ConferenceService) Produce(ctx context.Context, conn domain.ConnectionID, kind domain.MediaKind, rtpParameters json.RawMessage) (domain.ProducerID, error) {
	client, room, err := s.clientInRoom(ctx, conn)
	if err != nil {
		return "", err
	}

	upstream := client.Upstream()
	if upstream == nil {
		return "", fmt.Errorf("%w: producer transport", domain.ErrTransportNotFound)
	}
	if client.hasProducer(kind) {
		return "", domain.ErrProducerExists
	}

	ctx, span := tracing.TraceMediaOperation(ctx, "produce", string(room.name))
	defer span.End()
	tracing.AddSpanAttributes(ctx, tracing.MediaKindKey.String(string(kind)))

	producer, err := upstream.Produce(ctx, kind, rtpParameters)
	if err != nil {
		tracing.RecordError(ctx, err)
		return "", s.mediaFailure(ctx, conn, domain.ErrProduce, err)
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if err := client.addProducer(producer); err != nil {
		s.closeQuietly("producer", producer)
		return "", err
	}
	s.metrics.ProducerOpened(kind)

	if kind == domain.KindAudio {
		if err := room.observer.AddProducer(producer.ID()); err != nil {
			s.logger.Warnw("failed to track producer in speaker observer", "room", room.name, "producer_id", producer.ID(), "error", err)
		}
		room.speakers.AddProducer(producer.ID())
	}
	s.recomputeLocked(ctx, room)
	if kind == domain.KindVideo {
		s.announceLateVideoLocked(room, client, producer.ID())
	}

	s.logger.Infow("producer created",
		"room", room.name,
		"connection_id", conn,
		"kind", kind,
		"producer_id", producer.ID(),
	)
	return producer.ID(), nil
}

func (s *ConferenceService) Consume(ctx context.Context, conn domain.ConnectionID, producerID domain.ProducerID, kind domain.MediaKind, caps domain.RTPCapabilities) (*domain.ConsumerParameters, error) {
	client, room, err := s.clientInRoom(ctx, conn)
	if err != nil {
		return nil, err
	}

	ds, err := client.downstreamFor(producerID, kind)
	if err != nil {
		return nil, err
	}
	if existing, ok := client.consumer(ds.peerAudioID, kind); ok {
		params := existing.Parameters()
		return &params, nil
	}

	if !room.router.CanConsume(producerID, caps) {
		return nil, fmt.Errorf("%w: %s", domain.ErrCannotConsume, producerID)
	}

	ctx, span := tracing.TraceMediaOperation(ctx, "consume", string(room.name))
	defer span.End()
	tracing.AddSpanAttributes(ctx, tracing.ProducerIDKey.String(string(producerID)), tracing.MediaKindKey.String(string(kind)))

	consumer, err := ds.transport.Consume(ctx, ports.ConsumeOptions{
		ProducerID:   producerID,
		Capabilities: caps,
		Paused:       true,
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, s.mediaFailure(ctx, conn, domain.ErrConsume, err)
	}

	if err := client.addConsumer(ds.peerAudioID, consumer); err != nil {
		s.closeQuietly("consumer", consumer)
		return nil, err
	}
	s.metrics.ConsumerOpened(kind)

	params := consumer.Parameters()
	return &params, nil
}

// UnpauseConsumer is the participant's confirmation that it is ready to
// receive. The consumer is resumed only while its speaker is inside the
// active window; otherwise the next recompute that activates it resumes it.
func (s *ConferenceService) UnpauseConsumer(ctx context.Context, conn domain.ConnectionID, producerID domain.ProducerID, kind domain.MediaKind) error {
	client, room, err := s.clientInRoom(ctx, conn)
	if err != nil {
		return err
	}

	ds, err := client.downstreamFor(producerID, kind)
	if err != nil {
		return err
	}

	room.mu.Lock()
	consumer, err := client.markReady(ds.peerAudioID, kind)
	if err != nil {
		room.mu.Unlock()
		return err
	}
	if room.speakers.IsActive(ds.peerAudioID) {
		err = consumer.Resume(ctx)
	}
	room.mu.Unlock()

	if err != nil {
		return s.mediaFailure(ctx, conn, domain.ErrConsume, err)
	}
	return nil
}

func (s *ConferenceService) ChangeAudio(ctx context.Context, conn domain.ConnectionID, mute bool) error {
	client, room, err := s.clientInRoom(ctx, conn)
	if err != nil {
		return err
	}

	audioID, ok := client.producerID(domain.KindAudio)
	if !ok {
		return domain.ErrProducerNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	return client.setSelfMuted(ctx, mute, room.speakers.IsActive(audioID))
}

// Leave removes the participant, releases its media and destroys the room
// when it was the last member. Cleanup always runs to completion.
func (s *ConferenceService) Leave(ctx context.Context, conn domain.ConnectionID, reason domain.LeaveReason) error {
	ctx = context.WithoutCancel(ctx)

	client := s.release(conn)
	if client == nil || !client.beginLeave() {
		return domain.ErrNotInRoom
	}

	room := client.Room()
	if room == nil {
		client.close()
		return nil
	}
	audioID, hasAudio := client.producerID(domain.KindAudio)

	room.mu.Lock()
	removed := room.removeClientLocked(client)
	if hasAudio && room.speakers.Remove(audioID) {
		if err := room.observer.RemoveProducer(audioID); err != nil {
			s.logger.Warnw("failed to untrack producer in speaker observer", "room", room.name, "producer_id", audioID, "error", err)
		}
	}

	destroy := removed && len(room.clients) == 0 && !room.closed
	owned := false
	if destroy {
		owned = s.markDestroyedLocked(room)
	} else if removed {
		if hasAudio {
			s.recomputeLocked(ctx, room)
		}
		method := domain.NotifyUserLeft
		if reason != domain.LeaveVoluntary {
			method = domain.NotifyUserDisconnected
		}
		notice := domain.ParticipantLeft{UserName: client.UserName(), ActiveSpeakers: room.speakers.Active()}
		for _, member := range room.clients {
			s.notify(member, method, notice)
		}
	}
	room.mu.Unlock()

	client.close()

	s.metrics.ClientLeft(reason)
	s.publish(domain.RoomEvent{Type: domain.EventParticipantLeft, Room: room.name, UserName: client.UserName()})
	s.logger.Infow("client left room",
		"room", room.name,
		"connection_id", conn,
		"user", client.UserName(),
		"reason", reason,
	)

	if destroy {
		s.finalizeRoom(ctx, room, owned)
	}
	return nil
}

// HandleDominantSpeaker promotes id to the front of the room's speaker list
// and recomputes forwarding. Events for producers no longer in the room are
// dropped.
func (s *ConferenceService) HandleDominantSpeaker(room *Room, id domain.ProducerID) {
	ctx := context.Background()

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed {
		return
	}
	if room.ownerOfLocked(id) == nil {
		room.logger.Debugw("ignoring dominant speaker without owner", "producer_id", id)
		return
	}
	if front, ok := room.speakers.Front(); ok && front == id {
		return
	}

	room.speakers.Promote(id)
	s.metrics.DominantSpeakerChanged()
	s.recomputeLocked(ctx, room)
}

// announceLateVideoLocked tells peers about a video producer whose audio is
// already in the active window. Peers holding a downstream for that audio get
// the video aliased onto it.
func (s *ConferenceService) announceLateVideoLocked(room *Room, owner *Client, videoID domain.ProducerID) {
	audioID, ok := owner.producerID(domain.KindAudio)
	if !ok || !room.speakers.IsActive(audioID) {
		return
	}

	notice := domain.NewProducersToConsume{
		Capabilities:        room.router.Capabilities(),
		AudioIDsToSubscribe: []domain.ProducerID{audioID},
		VideoIDsToSubscribe: []domain.ProducerID{videoID},
		DisplayNames:        []string{owner.UserName()},
		ActiveSpeakers:      room.speakers.Active(),
	}
	for _, member := range room.clients {
		if member == owner {
			continue
		}
		member.aliasVideo(audioID, videoID)
		s.notify(member, domain.NotifyNewProducersToConsume, notice)
	}
	room.logger.Debugw("late video announced", "audio_id", audioID, "video_id", videoID)
}

// recomputeLocked runs one forwarding pass and pushes its notifications.
// Pause and resume calls are issued before the room lock is released so
// passes never interleave.
func (s *ConferenceService) recomputeLocked(ctx context.Context, room *Room) ForwardingPlan {
	start := time.Now()
	plan := room.speakers.Recompute(ctx, room.membersLocked())
	s.metrics.ForwardingRecomputed(time.Since(start), len(plan.Active), len(plan.Muted))

	caps := room.router.Capabilities()
	for _, member := range room.clients {
		ids := plan.NewSubscriptions[member.ConnectionID()]
		if len(ids) == 0 {
			continue
		}
		audio, video, names := room.speakerMediaLocked(ids)
		s.notify(member, domain.NotifyNewProducersToConsume, domain.NewProducersToConsume{
			Capabilities:        caps,
			AudioIDsToSubscribe: audio,
			VideoIDsToSubscribe: video,
			DisplayNames:        names,
			ActiveSpeakers:      plan.Active,
		})
	}

	update := domain.ActiveSpeakersUpdate{ActiveSpeakers: plan.Active}
	for _, member := range room.clients {
		s.notify(member, domain.NotifyUpdateActiveSpeakers, update)
	}

	if room.hls != nil {
		speakers := make([]SpeakerMedia, 0, len(plan.Active))
		for _, id := range plan.Active {
			media := SpeakerMedia{AudioID: id}
			if owner := room.ownerOfLocked(id); owner != nil {
				media.VideoID, _ = owner.producerID(domain.KindVideo)
			}
			speakers = append(speakers, media)
		}
		if err := room.hls.Sync(ctx, speakers); err != nil {
			room.logger.Warnw("hls sync incomplete", "error", err)
		}
	}

	room.logger.Debugw("forwarding recomputed",
		"active", plan.Active,
		"muted", plan.Muted,
		"demoted", plan.Demoted,
		"new_subscriptions", len(plan.NewSubscriptions),
	)
	s.publish(domain.RoomEvent{Type: domain.EventSpeakersUpdated, Room: room.name, ActiveSpeakers: plan.Active})
	return plan
}

// markDestroyedLocked closes room and reports whether its name is now free.
// It is false when a room created after a worker death holds the name.
func (s *ConferenceService) markDestroyedLocked(room *Room) bool {
	room.closed = true
	if s.registry.Remove(room) {
		return true
	}
	return !s.registry.Holds(room.name)
}

func (s *ConferenceService) finalizeRoom(ctx context.Context, room *Room, owned bool) {
	room.close()
	if err := s.directory.Unregister(ctx, room.name, room.id); err != nil {
		s.logger.Warnw("failed to unregister room from directory", "room", room.name, "error", err)
	}
	s.metrics.RoomDestroyed()
	if owned {
		s.publish(domain.RoomEvent{Type: domain.EventRoomDestroyed, Room: room.name})
	}
	s.logger.Infow("room destroyed", "room", room.name, "superseded", !owned)
}

// clientInRoom resolves the connection to its client and room. A room whose
// worker died tears the client down and fails the request.
func (s *ConferenceService) clientInRoom(ctx context.Context, conn domain.ConnectionID) (*Client, *Room, error) {
	s.mu.RLock()
	client, ok := s.sessions[conn]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, domain.ErrNotInRoom
	}

	room := client.Room()
	if room == nil {
		return nil, nil, domain.ErrNotInRoom
	}
	if !room.Healthy() {
		_ = s.Leave(ctx, conn, domain.LeaveWorkerDied)
		return nil, nil, domain.ErrWorkerDied
	}
	return client, room, nil
}

// mediaFailure classifies an engine error. When the engine reports a dead
// worker the client is torn down as well.
func (s *ConferenceService) mediaFailure(ctx context.Context, conn domain.ConnectionID, kind, cause error) error {
	err := fmt.Errorf("%w: %w", kind, cause)
	if errors.Is(cause, domain.ErrWorkerDied) {
		s.logger.Warnw("media worker died under client, leaving", "connection_id", conn, "error", cause)
		_ = s.Leave(ctx, conn, domain.LeaveWorkerDied)
	}
	return err
}

func (s *ConferenceService) reserve(client *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[client.ConnectionID()]; exists {
		return domain.ErrAlreadyJoined
	}
	s.sessions[client.ConnectionID()] = client
	return nil
}

func (s *ConferenceService) release(conn domain.ConnectionID) *Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	client, ok := s.sessions[conn]
	if !ok {
		return nil
	}
	delete(s.sessions, conn)
	return client
}

func (s *ConferenceService) notify(client *Client, method string, payload any) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(client.ConnectionID(), method, payload); err != nil {
		s.logger.Debugw("failed to notify client", "connection_id", client.ConnectionID(), "method", method, "error", err)
	}
}

// publish emits a room event without blocking room processing.
func (s *ConferenceService) publish(event domain.RoomEvent) {
	event.Timestamp = time.Now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		if err := s.events.PublishRoomEvent(ctx, event); err != nil {
			s.logger.Debugw("failed to publish room event", "type", event.Type, "room", event.Room, "error", err)
		}
	}()
}

type closer interface {
	Close() error
}

func (s *ConferenceService) closeQuietly(what string, c closer) {
	if err := c.Close(); err != nil {
		s.logger.Warnw("failed to close "+what, "error", err)
	}
}

func (s *ConferenceService) ListRooms() []domain.RoomInfo {
	rooms := s.registry.List()
	infos := make([]domain.RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		infos = append(infos, room.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (s *ConferenceService) GetRoom(name domain.RoomName) (*domain.RoomInfo, error) {
	room, ok := s.registry.Lookup(name)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	info := room.Info()
	return &info, nil
}

// Shutdown makes every connected participant leave.
func (s *ConferenceService) Shutdown(ctx context.Context) {
	s.mu.RLock()
	conns := make([]domain.ConnectionID, 0, len(s.sessions))
	for conn := range s.sessions {
		conns = append(conns, conn)
	}
	s.mu.RUnlock()

	for _, conn := range conns {
		_ = s.Leave(ctx, conn, domain.LeaveServerClose)
	}
}
