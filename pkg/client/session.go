package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/infrastructure/signal"

	"go.uber.org/zap"
)

type SessionConfig struct {
	URL            string
	Token          string
	UserName       string
	RoomName       string
	Codecs         []domain.CodecCapability
	RequestTimeout time.Duration
	Reconnect      ReconnectConfig
}

// Session is one participant: a signaling connection, a device and the
// reconnection flow that rejoins after transport loss.
type Session struct {
	cfg       SessionConfig
	device    *Device
	reconnect *ReconnectionManager
	logger    *zap.SugaredLogger

	mu             sync.Mutex
	conn           *Conn
	joined         bool
	mediaActive    bool
	closed         bool
	onNotification func(Notification)
	onRejoined     func(*domain.JoinResult)
	onFailed       func(error)
}

func NewSession(cfg SessionConfig, logger *zap.SugaredLogger) *Session {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	s := &Session{
		cfg:    cfg,
		device: NewDevice(cfg.Codecs),
		logger: logger.With("user", cfg.UserName, "room", cfg.RoomName),
	}
	s.reconnect = NewReconnectionManager(cfg.Reconnect, s.dial, s.logger)
	s.reconnect.OnReconnected(s.rejoin)
	s.reconnect.OnExhausted(s.fail)
	return s
}

func (s *Session) Device() *Device                    { return s.device }
func (s *Session) Reconnection() *ReconnectionManager { return s.reconnect }

func (s *Session) OnNotification(fn func(Notification)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onNotification = fn
}

// OnRejoined runs after a reconnect rejoined the room. Callers recreate
// transports, producers and subscriptions from the result.
func (s *Session) OnRejoined(fn func(*domain.JoinResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRejoined = fn
}

// OnFailed receives terminal errors such as domain.ErrReconnectionExhausted.
func (s *Session) OnFailed(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFailed = fn
}

// Connect opens the signaling connection.
func (s *Session) Connect(ctx context.Context) error {
	return s.dial(ctx)
}

func (s *Session) dial(ctx context.Context) error {
	conn, err := Dial(ctx, s.cfg.URL, s.cfg.Token, s.logger)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return ErrConnectionClosed
	}
	s.conn = conn
	s.mu.Unlock()

	go s.watch(conn)
	return nil
}

// watch delivers notifications until conn ends, then starts reconnecting.
func (s *Session) watch(conn *Conn) {
	for n := range conn.Notifications() {
		s.mu.Lock()
		fn := s.onNotification
		s.mu.Unlock()
		if fn != nil {
			fn(n)
		}
	}

	s.mu.Lock()
	lost := !s.closed && s.conn == conn
	if lost {
		s.conn = nil
	}
	s.mu.Unlock()

	if lost {
		s.logger.Warnw("signaling connection lost", "error", conn.Err())
		s.reconnect.Disconnected()
	}
}

// rejoin runs after a reconnect. With media active the participant re-enters
// the room from scratch; prior transports and speaker position are gone.
func (s *Session) rejoin() {
	s.mu.Lock()
	wasJoined, media := s.joined, s.mediaActive
	s.joined = false
	s.mediaActive = false
	fn := s.onRejoined
	s.mu.Unlock()

	if !wasJoined || !media {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	defer cancel()
	result, err := s.Join(ctx)
	if err != nil {
		s.logger.Errorw("rejoin failed", "error", err)
		s.fail(err)
		return
	}
	if fn != nil {
		fn(result)
	}
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	fn := s.onFailed
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (s *Session) request(ctx context.Context, method string, payload, out any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrConnectionClosed
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	return conn.Request(ctx, method, payload, out)
}

// Join enters the room and loads the device with the router capabilities.
func (s *Session) Join(ctx context.Context) (*domain.JoinResult, error) {
	var result domain.JoinResult
	req := domain.JoinRequest{UserName: s.cfg.UserName, RoomName: s.cfg.RoomName}
	if err := s.request(ctx, signal.MethodJoin, req, &result); err != nil {
		return nil, err
	}
	if err := s.device.Load(result.Capabilities); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.joined = true
	s.mu.Unlock()
	return &result, nil
}

func (s *Session) RequestTransport(ctx context.Context, role domain.TransportRole, peerAudioID domain.ProducerID) (*domain.TransportParameters, error) {
	var params domain.TransportParameters
	req := signal.TransportRequest{Role: role, PeerAudioID: peerAudioID}
	if err := s.request(ctx, signal.MethodRequestTransport, req, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

func (s *Session) ConnectTransport(ctx context.Context, role domain.TransportRole, peerAudioID domain.ProducerID, security domain.SecurityParameters) error {
	var result string
	req := signal.ConnectTransportRequest{Role: role, PeerAudioID: peerAudioID, SecurityParameters: security}
	if err := s.request(ctx, signal.MethodConnectTransport, req, &result); err != nil {
		return err
	}
	if result != signal.ConnectSuccess {
		return fmt.Errorf("%w: unexpected result %q", domain.ErrConnect, result)
	}
	return nil
}

// Produce publishes local media of kind on the producer transport.
func (s *Session) Produce(ctx context.Context, kind domain.MediaKind, rtpParameters json.RawMessage) (domain.ProducerID, error) {
	if !s.device.CanProduce(kind) {
		return "", fmt.Errorf("%w: no negotiated %s codec", domain.ErrProduce, kind)
	}

	var resp signal.ProduceResponse
	req := signal.ProduceRequest{Kind: kind, RTPParameters: rtpParameters}
	if err := s.request(ctx, signal.MethodStartProducing, req, &resp); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.mediaActive = true
	s.mu.Unlock()
	return resp.ID, nil
}

func (s *Session) Consume(ctx context.Context, producerID domain.ProducerID, kind domain.MediaKind) (*domain.ConsumerParameters, error) {
	if !s.device.Loaded() {
		return nil, fmt.Errorf("%w: device not loaded", domain.ErrCannotConsume)
	}

	var params domain.ConsumerParameters
	req := signal.ConsumeRequest{Capabilities: s.device.RTPCapabilities(), ProducerID: producerID, Kind: kind}
	if err := s.request(ctx, signal.MethodConsumeMedia, req, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

func (s *Session) UnpauseConsumer(ctx context.Context, producerID domain.ProducerID, kind domain.MediaKind) error {
	return s.request(ctx, signal.MethodUnpauseConsumer, signal.UnpauseRequest{ProducerID: producerID, Kind: kind}, nil)
}

// SetMuted tells the server to pause or resume this participant's audio.
func (s *Session) SetMuted(muted bool) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrConnectionClosed
	}

	change := signal.AudioUnmute
	if muted {
		change = signal.AudioMute
	}
	return conn.Send(signal.MethodAudioChange, signal.AudioChangeRequest{Change: change})
}

// Leave exits the room, stops reconnecting and closes the connection.
func (s *Session) Leave(ctx context.Context) error {
	s.reconnect.Stop()

	var resp signal.LeaveResponse
	err := s.request(ctx, signal.MethodLeaveRoom, struct{}{}, &resp)
	if err == nil && !resp.Success {
		err = fmt.Errorf("%w: %s", domain.ErrNotInRoom, resp.Error)
	}

	s.mu.Lock()
	s.joined = false
	s.mediaActive = false
	s.mu.Unlock()

	if closeErr := s.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close drops the connection without leaving; the server cleans up on
// disconnect.
func (s *Session) Close() error {
	s.reconnect.Stop()

	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}
