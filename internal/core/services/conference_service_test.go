package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/internal/infrastructure/repositories/memory"
	"huddle/internal/testutils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testCodecs() []domain.CodecCapability {
	return []domain.CodecCapability{
		{Kind: domain.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2, PayloadType: 111, FmtpLine: "minptime=10;useinbandfec=1"},
		{Kind: domain.KindVideo, MimeType: "video/VP8", ClockRate: 90000, PayloadType: 96},
	}
}

func testCapabilities() domain.RTPCapabilities {
	return domain.RTPCapabilities{Codecs: testCodecs()}
}

type conferenceHarness struct {
	engine    *testutils.FakeEngine
	pool      *WorkerPool
	notifier  *testutils.RecordingNotifier
	directory ports.RoomDirectory
	events    *recordingPublisher
	svc       *ConferenceService
	seq       int
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.RoomEvent
}

func (p *recordingPublisher) PublishRoomEvent(_ context.Context, event domain.RoomEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count(typ domain.RoomEventType, room domain.RoomName) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == typ && e.Room == room {
			n++
		}
	}
	return n
}

type testParticipant struct {
	conn       domain.ConnectionID
	name       string
	audio      domain.ProducerID
	video      domain.ProducerID
	seen       int
	subscribed map[domain.ProducerID]bool
}

func newConferenceHarness(t *testing.T, mutate func(*ConferenceConfig)) *conferenceHarness {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	engine := testutils.NewFakeEngine()
	pool, err := NewWorkerPool(context.Background(), engine, 2, testRestartPolicy(), nil, logger)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	cfg := ConferenceConfig{
		Codecs:              testCodecs(),
		ActiveSpeakerWindow: 5,
		Placement:           domain.PlacementTail,
		SpeakerInterval:     100 * time.Millisecond,
		InstanceID:          "test-instance",
		HLS:                 HLSSettings{ListenIP: "127.0.0.1", BasePort: 5004},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	notifier := testutils.NewRecordingNotifier()
	directory := memory.NewMemoryRoomDirectory()
	events := &recordingPublisher{}
	return &conferenceHarness{
		engine:    engine,
		pool:      pool,
		notifier:  notifier,
		directory: directory,
		events:    events,
		svc:       NewConferenceService(cfg, pool, notifier, directory, events, nil, nil, logger),
	}
}

func (h *conferenceHarness) join(t *testing.T, name string, room domain.RoomName) (*testParticipant, *domain.JoinResult) {
	t.Helper()
	h.seq++
	p := &testParticipant{
		conn:       domain.ConnectionID(fmt.Sprintf("conn-%d", h.seq)),
		name:       name,
		subscribed: make(map[domain.ProducerID]bool),
	}
	result, err := h.svc.Join(context.Background(), p.conn, domain.JoinRequest{UserName: name, RoomName: string(room)})
	require.NoError(t, err)

	for i, audio := range result.AudioIDsToSubscribe {
		h.subscribe(t, p, audio, result.VideoIDsToSubscribe[i])
	}
	return p, result
}

// publish sends video first and audio second, the way clients do.
func (h *conferenceHarness) publish(t *testing.T, p *testParticipant) {
	t.Helper()
	ctx := context.Background()
	_, err := h.svc.RequestTransport(ctx, p.conn, domain.RoleProducer, "")
	require.NoError(t, err)
	require.NoError(t, h.svc.ConnectTransport(ctx, p.conn, domain.RoleProducer, "", domain.SecurityParameters{Type: "answer", SDP: "v=0"}))

	p.video, err = h.svc.Produce(ctx, p.conn, domain.KindVideo, nil)
	require.NoError(t, err)
	p.audio, err = h.svc.Produce(ctx, p.conn, domain.KindAudio, nil)
	require.NoError(t, err)
}

func (h *conferenceHarness) subscribe(t *testing.T, p *testParticipant, audio, video domain.ProducerID) {
	t.Helper()
	ctx := context.Background()
	_, err := h.svc.RequestTransport(ctx, p.conn, domain.RoleConsumer, audio)
	require.NoError(t, err)
	require.NoError(t, h.svc.ConnectTransport(ctx, p.conn, domain.RoleConsumer, audio, domain.SecurityParameters{Type: "answer", SDP: "v=0"}))

	_, err = h.svc.Consume(ctx, p.conn, audio, domain.KindAudio, testCapabilities())
	require.NoError(t, err)
	require.NoError(t, h.svc.UnpauseConsumer(ctx, p.conn, audio, domain.KindAudio))
	if video != "" {
		_, err = h.svc.Consume(ctx, p.conn, video, domain.KindVideo, testCapabilities())
		require.NoError(t, err)
		require.NoError(t, h.svc.UnpauseConsumer(ctx, p.conn, video, domain.KindVideo))
	}
	p.subscribed[audio] = true
}

// catchUp subscribes p to everything announced since the previous call and
// returns the announced audio ids.
func (h *conferenceHarness) catchUp(t *testing.T, p *testParticipant) []domain.ProducerID {
	t.Helper()
	msgs := h.notifier.For(p.conn, domain.NotifyNewProducersToConsume)
	var announced []domain.ProducerID
	for _, msg := range msgs[p.seen:] {
		payload := msg.Payload.(domain.NewProducersToConsume)
		for i, audio := range payload.AudioIDsToSubscribe {
			announced = append(announced, audio)
			if !p.subscribed[audio] {
				h.subscribe(t, p, audio, payload.VideoIDsToSubscribe[i])
			}
		}
	}
	p.seen = len(msgs)
	return announced
}

func (h *conferenceHarness) router(t *testing.T, name domain.RoomName) *testutils.FakeRouter {
	t.Helper()
	room, ok := h.svc.registry.Lookup(name)
	require.True(t, ok, "room %s not found", name)
	return room.router.(*testutils.FakeRouter)
}

// consumersOf returns the live consumers attached to a producer.
func consumersOf(router *testutils.FakeRouter, id domain.ProducerID) []*testutils.FakeConsumer {
	var live []*testutils.FakeConsumer
	for _, c := range router.Producer(id).Consumers() {
		if !c.Closed() {
			live = append(live, c)
		}
	}
	return live
}

// buildRoom joins and publishes n participants, keeping everyone subscribed.
func (h *conferenceHarness) buildRoom(t *testing.T, room domain.RoomName, n int) []*testParticipant {
	t.Helper()
	var members []*testParticipant
	for i := 0; i < n; i++ {
		p, _ := h.join(t, fmt.Sprintf("user%d", i+1), room)
		members = append(members, p)
		h.publish(t, p)
		for _, m := range members {
			h.catchUp(t, m)
		}
	}
	return members
}

func TestConferenceService_EndToEndTailPlacement(t *testing.T) {
	h := newConferenceHarness(t, nil)

	alice, result := h.join(t, "alice", "R1")
	assert.True(t, result.IsNewRoom)
	assert.Empty(t, result.AudioIDsToSubscribe)
	assert.Equal(t, testCodecs(), result.Capabilities.Codecs)

	h.publish(t, alice)
	active, ok := h.notifier.LastActiveSpeakers(alice.conn)
	require.True(t, ok)
	assert.Equal(t, []domain.ProducerID{alice.audio}, active)

	bob, result := h.join(t, "bob", "R1")
	assert.False(t, result.IsNewRoom)
	assert.Equal(t, []domain.ProducerID{alice.audio}, result.AudioIDsToSubscribe)
	assert.Equal(t, []domain.ProducerID{alice.video}, result.VideoIDsToSubscribe)
	assert.Equal(t, []string{"alice"}, result.DisplayNames)

	members := []*testParticipant{alice, bob}
	h.publish(t, bob)
	for i := 3; i <= 5; i++ {
		p, _ := h.join(t, fmt.Sprintf("user%d", i), "R1")
		members = append(members, p)
		h.publish(t, p)
		for _, m := range members {
			h.catchUp(t, m)
		}
	}
	for _, m := range members {
		h.catchUp(t, m)
	}

	survivors := make([]domain.ProducerID, 0, 5)
	for _, m := range members {
		survivors = append(survivors, m.audio)
	}

	sixth, result := h.join(t, "user6", "R1")
	assert.Equal(t, survivors, result.AudioIDsToSubscribe)
	h.publish(t, sixth)

	for _, m := range append(members, sixth) {
		active, ok := h.notifier.LastActiveSpeakers(m.conn)
		require.True(t, ok)
		assert.Equal(t, survivors, active)
		assert.Empty(t, h.catchUp(t, m), "no new subscriptions for %s", m.name)
	}

	router := h.router(t, "R1")
	assert.True(t, router.Producer(sixth.audio).Paused(), "sixth speaker is muted")
	assert.True(t, router.Producer(sixth.video).Paused())
	for _, m := range members {
		assert.False(t, router.Producer(m.audio).Paused())
		for _, c := range consumersOf(router, m.audio) {
			assert.False(t, c.Paused())
		}
	}

	info, err := h.svc.GetRoom("R1")
	require.NoError(t, err)
	assert.Equal(t, append(survivors, sixth.audio), info.SpeakerList)
	assert.Len(t, info.Clients, 6)
}

func TestConferenceService_EndToEndHeadPlacement(t *testing.T) {
	h := newConferenceHarness(t, func(cfg *ConferenceConfig) {
		cfg.Placement = domain.PlacementHead
	})

	members := h.buildRoom(t, "R1", 5)
	first := members[0]

	sixth, _ := h.join(t, "user6", "R1")
	h.publish(t, sixth)

	want := []domain.ProducerID{sixth.audio}
	for i := len(members) - 1; i >= 1; i-- {
		want = append(want, members[i].audio)
	}

	for _, m := range members {
		active, ok := h.notifier.LastActiveSpeakers(m.conn)
		require.True(t, ok)
		assert.Equal(t, want, active)
		assert.Equal(t, []domain.ProducerID{sixth.audio}, h.catchUp(t, m), "only the newcomer is announced to %s", m.name)
	}

	router := h.router(t, "R1")
	assert.True(t, router.Producer(first.audio).Paused(), "oldest speaker is demoted")
	for _, c := range consumersOf(router, first.audio) {
		assert.True(t, c.Paused())
	}
	assert.False(t, router.Producer(sixth.audio).Paused())
}

func TestConferenceService_RecomputeIsIdempotent(t *testing.T) {
	h := newConferenceHarness(t, nil)
	members := h.buildRoom(t, "R1", 3)

	room, ok := h.svc.registry.Lookup("R1")
	require.True(t, ok)

	room.mu.Lock()
	first := h.svc.recomputeLocked(context.Background(), room)
	second := h.svc.recomputeLocked(context.Background(), room)
	room.mu.Unlock()

	assert.Equal(t, first.Active, second.Active)
	assert.Equal(t, first.Muted, second.Muted)
	assert.Empty(t, first.NewSubscriptions)
	assert.Empty(t, second.NewSubscriptions)
	for _, m := range members {
		assert.Empty(t, h.catchUp(t, m))
	}
}

func TestConferenceService_DominantSpeakerResumesExistingConsumer(t *testing.T) {
	h := newConferenceHarness(t, func(cfg *ConferenceConfig) {
		cfg.ActiveSpeakerWindow = 1
	})

	members := h.buildRoom(t, "R1", 2)
	alice, bob := members[0], members[1]
	carol, result := h.join(t, "carol", "R1")
	assert.Equal(t, []domain.ProducerID{alice.audio}, result.AudioIDsToSubscribe)

	router := h.router(t, "R1")
	observer := router.Observer()
	require.NotNil(t, observer)
	assert.True(t, observer.Tracks(alice.audio))
	assert.True(t, observer.Tracks(bob.audio))

	observer.Emit(bob.audio)
	assert.Equal(t, []domain.ProducerID{bob.audio}, h.catchUp(t, carol))
	assert.True(t, router.Producer(alice.audio).Paused())
	assert.False(t, router.Producer(bob.audio).Paused())

	observer.Emit(alice.audio)
	assert.Empty(t, h.catchUp(t, carol), "existing subscription is resumed, not re-announced")

	consumers := consumersOf(router, alice.audio)
	for _, c := range consumers {
		assert.False(t, c.Paused())
	}
	active, _ := h.notifier.LastActiveSpeakers(carol.conn)
	assert.Equal(t, []domain.ProducerID{alice.audio}, active)

	// carol's consumer of alice was paused and resumed, never re-created
	var carolConsumers int
	for _, tr := range router.Transports() {
		if tr.Role() == domain.RoleConsumer && !tr.Closed() {
			carolConsumers++
		}
	}
	assert.Equal(t, 3, carolConsumers, "one downstream per subscribed peer: bob->alice, carol->alice, carol->bob")
}

func TestConferenceService_DominantSpeakerIgnoresUnknownAndFront(t *testing.T) {
	h := newConferenceHarness(t, nil)
	members := h.buildRoom(t, "R1", 2)
	observer := h.router(t, "R1").Observer()

	before := len(h.notifier.For(members[0].conn, domain.NotifyUpdateActiveSpeakers))
	observer.Emit("ghost")
	observer.Emit(members[0].audio)
	after := len(h.notifier.For(members[0].conn, domain.NotifyUpdateActiveSpeakers))

	assert.Equal(t, before, after)
}

func TestConferenceService_LeaveKeepsOrderOfOthers(t *testing.T) {
	tests := []struct {
		name   string
		reason domain.LeaveReason
		method string
	}{
		{name: "voluntary", reason: domain.LeaveVoluntary, method: domain.NotifyUserLeft},
		{name: "disconnect", reason: domain.LeaveDisconnect, method: domain.NotifyUserDisconnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newConferenceHarness(t, nil)
			members := h.buildRoom(t, "R1", 4)
			leaver := members[1]
			router := h.router(t, "R1")

			require.NoError(t, h.svc.Leave(context.Background(), leaver.conn, tt.reason))

			info, err := h.svc.GetRoom("R1")
			require.NoError(t, err)
			assert.Equal(t, []domain.ProducerID{members[0].audio, members[2].audio, members[3].audio}, info.SpeakerList)
			assert.NotContains(t, info.Clients, leaver.name)

			for _, m := range []*testParticipant{members[0], members[2], members[3]} {
				msgs := h.notifier.For(m.conn, tt.method)
				require.Len(t, msgs, 1)
				notice := msgs[0].Payload.(domain.ParticipantLeft)
				assert.Equal(t, leaver.name, notice.UserName)
				assert.Equal(t, info.ActiveSpeakers, notice.ActiveSpeakers)
			}

			assert.True(t, router.Producer(leaver.audio).Closed())
			assert.True(t, router.Producer(leaver.video).Closed())
			assert.False(t, router.Observer().Tracks(leaver.audio))

			assert.ErrorIs(t, h.svc.Leave(context.Background(), leaver.conn, tt.reason), domain.ErrNotInRoom)
		})
	}
}

func TestConferenceService_LastLeaveDestroysRoom(t *testing.T) {
	h := newConferenceHarness(t, func(cfg *ConferenceConfig) {
		cfg.HLS.Enabled = true
	})
	alice, _ := h.join(t, "alice", "R1")
	h.publish(t, alice)
	router := h.router(t, "R1")

	require.NoError(t, h.svc.Leave(context.Background(), alice.conn, domain.LeaveVoluntary))

	_, err := h.svc.GetRoom("R1")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	assert.Empty(t, h.svc.ListRooms())
	assert.True(t, router.Closed())
	for _, tap := range router.PlainTransports() {
		assert.True(t, tap.Closed())
	}

	_, result := h.join(t, "alice", "R1")
	assert.True(t, result.IsNewRoom)
}

func TestConferenceService_JoinValidation(t *testing.T) {
	h := newConferenceHarness(t, nil)

	_, err := h.svc.Join(context.Background(), "c1", domain.JoinRequest{UserName: "alice", RoomName: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidName)

	_, err = h.svc.Join(context.Background(), "c1", domain.JoinRequest{UserName: "alice", RoomName: "../etc"})
	assert.ErrorIs(t, err, domain.ErrInvalidName)

	_, err = h.svc.Join(context.Background(), "c1", domain.JoinRequest{UserName: "alice", RoomName: "R1"})
	require.NoError(t, err)
	_, err = h.svc.Join(context.Background(), "c1", domain.JoinRequest{UserName: "alice", RoomName: "R2"})
	assert.ErrorIs(t, err, domain.ErrAlreadyJoined)
}

func TestConferenceService_RequestsOutsideRoom(t *testing.T) {
	h := newConferenceHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.RequestTransport(ctx, "nobody", domain.RoleProducer, "")
	assert.ErrorIs(t, err, domain.ErrNotInRoom)
	assert.ErrorIs(t, h.svc.ChangeAudio(ctx, "nobody", true), domain.ErrNotInRoom)
	assert.ErrorIs(t, h.svc.Leave(ctx, "nobody", domain.LeaveVoluntary), domain.ErrNotInRoom)
}

func TestConferenceService_TransportReuse(t *testing.T) {
	h := newConferenceHarness(t, nil)
	members := h.buildRoom(t, "R1", 2)
	ctx := context.Background()

	first, err := h.svc.RequestTransport(ctx, members[0].conn, domain.RoleProducer, "")
	require.NoError(t, err)
	second, err := h.svc.RequestTransport(ctx, members[0].conn, domain.RoleProducer, "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	down1, err := h.svc.RequestTransport(ctx, members[1].conn, domain.RoleConsumer, members[0].audio)
	require.NoError(t, err)
	down2, err := h.svc.RequestTransport(ctx, members[1].conn, domain.RoleConsumer, members[0].audio)
	require.NoError(t, err)
	assert.Equal(t, down1.ID, down2.ID)

	_, err = h.svc.RequestTransport(ctx, members[0].conn, domain.RoleConsumer, members[0].audio)
	assert.ErrorIs(t, err, domain.ErrCannotConsume)

	_, err = h.svc.RequestTransport(ctx, members[0].conn, domain.RoleConsumer, "ghost")
	assert.ErrorIs(t, err, domain.ErrProducerNotFound)

	_, err = h.svc.Produce(ctx, members[0].conn, domain.KindAudio, nil)
	assert.ErrorIs(t, err, domain.ErrProducerExists)
}

func TestConferenceService_ConsumeCapabilityMismatch(t *testing.T) {
	h := newConferenceHarness(t, nil)
	alice, _ := h.join(t, "alice", "R1")
	h.publish(t, alice)

	ctx := context.Background()
	bob := &testParticipant{conn: "bob-conn", name: "bob"}
	_, err := h.svc.Join(ctx, bob.conn, domain.JoinRequest{UserName: bob.name, RoomName: "R1"})
	require.NoError(t, err)

	_, err = h.svc.Consume(ctx, bob.conn, alice.audio, domain.KindAudio, testCapabilities())
	assert.ErrorIs(t, err, domain.ErrTransportNotFound, "consume before the downstream exists")

	_, err = h.svc.RequestTransport(ctx, bob.conn, domain.RoleConsumer, alice.audio)
	require.NoError(t, err)

	videoOnly := domain.RTPCapabilities{Codecs: testCodecs()[1:]}
	_, err = h.svc.Consume(ctx, bob.conn, alice.audio, domain.KindAudio, videoOnly)
	assert.ErrorIs(t, err, domain.ErrCannotConsume)

	params, err := h.svc.Consume(ctx, bob.conn, alice.audio, domain.KindAudio, testCapabilities())
	require.NoError(t, err)
	assert.Equal(t, alice.audio, params.ProducerID)
	assert.Equal(t, "audio/opus", params.RTPParameters.MimeType)

	again, err := h.svc.Consume(ctx, bob.conn, alice.audio, domain.KindAudio, testCapabilities())
	require.NoError(t, err)
	assert.Equal(t, params.ID, again.ID)

	assert.ErrorIs(t, h.svc.UnpauseConsumer(ctx, bob.conn, alice.video, domain.KindVideo), domain.ErrConsumerNotFound)
}

func TestConferenceService_UnpauseWaitsForWindow(t *testing.T) {
	h := newConferenceHarness(t, func(cfg *ConferenceConfig) {
		cfg.ActiveSpeakerWindow = 1
	})
	members := h.buildRoom(t, "R1", 2)
	bob := members[1]
	carol, _ := h.join(t, "carol", "R1")
	ctx := context.Background()

	// carol subscribes to the muted speaker on her own initiative
	_, err := h.svc.RequestTransport(ctx, carol.conn, domain.RoleConsumer, bob.audio)
	require.NoError(t, err)
	params, err := h.svc.Consume(ctx, carol.conn, bob.audio, domain.KindAudio, testCapabilities())
	require.NoError(t, err)
	require.NoError(t, h.svc.UnpauseConsumer(ctx, carol.conn, bob.audio, domain.KindAudio))

	router := h.router(t, "R1")
	var consumer *testutils.FakeConsumer
	for _, c := range consumersOf(router, bob.audio) {
		if c.ID() == params.ID {
			consumer = c
		}
	}
	require.NotNil(t, consumer)
	assert.True(t, consumer.Paused(), "muted speaker stays paused")

	router.Observer().Emit(bob.audio)
	assert.False(t, consumer.Paused())
	assert.Empty(t, h.catchUp(t, carol), "already subscribed")
}

func TestConferenceService_ChangeAudio(t *testing.T) {
	h := newConferenceHarness(t, nil)
	alice, _ := h.join(t, "alice", "R1")
	h.publish(t, alice)
	router := h.router(t, "R1")
	ctx := context.Background()

	require.NoError(t, h.svc.ChangeAudio(ctx, alice.conn, true))
	assert.True(t, router.Producer(alice.audio).Paused())

	// a recompute does not undo a self-mute
	bob, _ := h.join(t, "bob", "R1")
	h.publish(t, bob)
	assert.True(t, router.Producer(alice.audio).Paused())
	assert.False(t, router.Producer(alice.video).Paused())

	require.NoError(t, h.svc.ChangeAudio(ctx, alice.conn, false))
	assert.False(t, router.Producer(alice.audio).Paused())

	carol, _ := h.join(t, "carol", "R1")
	assert.ErrorIs(t, h.svc.ChangeAudio(ctx, carol.conn, true), domain.ErrProducerNotFound)
}

func TestConferenceService_WorkerDeathEvictsRoom(t *testing.T) {
	h := newConferenceHarness(t, nil)
	alice, _ := h.join(t, "alice", "R1")
	room, ok := h.svc.registry.Lookup("R1")
	require.True(t, ok)
	dead := room.worker.(*testutils.FakeWorker)

	dead.Kill()

	_, err := h.svc.RequestTransport(context.Background(), alice.conn, domain.RoleProducer, "")
	assert.ErrorIs(t, err, domain.ErrWorkerDied)
	assert.ErrorIs(t, h.svc.Leave(context.Background(), alice.conn, domain.LeaveVoluntary), domain.ErrNotInRoom, "client was already torn down")

	require.Eventually(t, func() bool {
		for _, s := range h.pool.Status(context.Background()) {
			if !s.Alive {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	_, result := h.join(t, "alice", "R1")
	assert.True(t, result.IsNewRoom)
}

func TestConferenceService_StaleRoomLeaveKeepsReplacement(t *testing.T) {
	h := newConferenceHarness(t, nil)
	ctx := context.Background()

	alice, _ := h.join(t, "alice", "R1")
	stale, ok := h.svc.registry.Lookup("R1")
	require.True(t, ok)
	stale.worker.(*testutils.FakeWorker).Kill()

	require.Eventually(t, func() bool {
		for _, s := range h.pool.Status(ctx) {
			if !s.Alive {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	carol, result := h.join(t, "carol", "R1")
	assert.True(t, result.IsNewRoom)
	live, ok := h.svc.registry.Lookup("R1")
	require.True(t, ok)
	require.NotSame(t, stale, live)

	_, err := h.svc.RequestTransport(ctx, alice.conn, domain.RoleProducer, "")
	assert.ErrorIs(t, err, domain.ErrWorkerDied)

	record, err := h.directory.Get(ctx, "R1")
	require.NoError(t, err, "the replacement room stays listed")
	assert.Equal(t, live.id, record.ID)
	assert.Equal(t, live.worker.ID(), record.WorkerID)

	require.Eventually(t, func() bool {
		return h.events.count(domain.EventRoomCreated, "R1") == 2
	}, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool {
		return h.events.count(domain.EventRoomDestroyed, "R1") > 0
	}, 100*time.Millisecond, 10*time.Millisecond)

	require.NoError(t, h.svc.Leave(ctx, carol.conn, domain.LeaveVoluntary))
	_, err = h.directory.Get(ctx, "R1")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	assert.Eventually(t, func() bool {
		return h.events.count(domain.EventRoomDestroyed, "R1") == 1
	}, time.Second, 5*time.Millisecond)
}

func TestConferenceService_DominantSpeakerRacesLeave(t *testing.T) {
	for round := 0; round < 20; round++ {
		h := newConferenceHarness(t, func(cfg *ConferenceConfig) {
			cfg.ActiveSpeakerWindow = 2
		})
		members := h.buildRoom(t, "R1", 4)
		leaver := members[1]
		observer := h.router(t, "R1").Observer()

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				observer.Emit(leaver.audio)
				observer.Emit(members[i%len(members)].audio)
				observer.Emit(leaver.audio)
			}(i)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			assert.NoError(t, h.svc.Leave(context.Background(), leaver.conn, domain.LeaveDisconnect))
		}()
		close(start)
		wg.Wait()

		info, err := h.svc.GetRoom("R1")
		require.NoError(t, err)
		assert.NotContains(t, info.SpeakerList, leaver.audio)
		assert.Len(t, info.SpeakerList, 3)

		seen := make(map[domain.ProducerID]bool)
		for _, id := range info.SpeakerList {
			assert.False(t, seen[id], "duplicate speaker %s", id)
			seen[id] = true
		}
	}
}

func TestConferenceService_LateVideoIsAnnounced(t *testing.T) {
	h := newConferenceHarness(t, nil)
	ctx := context.Background()
	alice, _ := h.join(t, "alice", "R1")
	bob, _ := h.join(t, "bob", "R1")

	_, err := h.svc.RequestTransport(ctx, alice.conn, domain.RoleProducer, "")
	require.NoError(t, err)
	require.NoError(t, h.svc.ConnectTransport(ctx, alice.conn, domain.RoleProducer, "", domain.SecurityParameters{Type: "answer", SDP: "v=0"}))

	alice.audio, err = h.svc.Produce(ctx, alice.conn, domain.KindAudio, nil)
	require.NoError(t, err)
	assert.Equal(t, []domain.ProducerID{alice.audio}, h.catchUp(t, bob))

	alice.video, err = h.svc.Produce(ctx, alice.conn, domain.KindVideo, nil)
	require.NoError(t, err)

	msgs := h.notifier.For(bob.conn, domain.NotifyNewProducersToConsume)
	require.Len(t, msgs, bob.seen+1)
	late := msgs[len(msgs)-1].Payload.(domain.NewProducersToConsume)
	assert.Equal(t, []domain.ProducerID{alice.audio}, late.AudioIDsToSubscribe)
	assert.Equal(t, []domain.ProducerID{alice.video}, late.VideoIDsToSubscribe)
	assert.Equal(t, []string{"alice"}, late.DisplayNames)
	assert.Empty(t, h.notifier.For(alice.conn, domain.NotifyNewProducersToConsume))

	// the video joins the downstream bob already holds for alice
	_, err = h.svc.Consume(ctx, bob.conn, alice.video, domain.KindVideo, testCapabilities())
	require.NoError(t, err)
	require.NoError(t, h.svc.UnpauseConsumer(ctx, bob.conn, alice.video, domain.KindVideo))

	live := consumersOf(h.router(t, "R1"), alice.video)
	require.Len(t, live, 1)
	assert.False(t, live[0].Paused())
}

func TestConferenceService_ConcurrentJoinsShareRoom(t *testing.T) {
	h := newConferenceHarness(t, nil)

	const n = 12
	var wg sync.WaitGroup
	results := make([]*domain.JoinResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := domain.ConnectionID(fmt.Sprintf("c%d", i))
			results[i], errs[i] = h.svc.Join(context.Background(), conn, domain.JoinRequest{
				UserName: fmt.Sprintf("user%d", i),
				RoomName: "standup",
			})
		}(i)
	}
	wg.Wait()

	newRooms := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].IsNewRoom {
			newRooms++
		}
	}
	assert.Equal(t, 1, newRooms)

	rooms := h.svc.ListRooms()
	require.Len(t, rooms, 1)
	assert.Len(t, rooms[0].Clients, n)
}

func TestConferenceService_HLSTapsFollowWindow(t *testing.T) {
	h := newConferenceHarness(t, func(cfg *ConferenceConfig) {
		cfg.ActiveSpeakerWindow = 1
		cfg.HLS.Enabled = true
	})
	members := h.buildRoom(t, "R1", 2)

	info, err := h.svc.GetRoom("R1")
	require.NoError(t, err)
	require.Len(t, info.HLSTaps, 2)
	assert.Equal(t, members[0].audio, info.HLSTaps[0].ProducerID)
	assert.Equal(t, 5004, info.HLSTaps[0].Port)
	assert.Equal(t, members[0].video, info.HLSTaps[1].ProducerID)
	assert.Equal(t, 5006, info.HLSTaps[1].Port)

	h.router(t, "R1").Observer().Emit(members[1].audio)

	info, err = h.svc.GetRoom("R1")
	require.NoError(t, err)
	require.Len(t, info.HLSTaps, 2)
	assert.Equal(t, members[1].audio, info.HLSTaps[0].ProducerID)
	assert.Equal(t, 5008, info.HLSTaps[0].Port)
}

func TestConferenceService_Shutdown(t *testing.T) {
	h := newConferenceHarness(t, nil)
	h.buildRoom(t, "R1", 2)
	h.buildRoom(t, "R2", 1)
	require.Len(t, h.svc.ListRooms(), 2)

	h.svc.Shutdown(context.Background())

	assert.Empty(t, h.svc.ListRooms())
}
