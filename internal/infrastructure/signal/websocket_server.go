package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/internal/core/services"
	apperrors "huddle/pkg/errors"
	rlog "huddle/pkg/logger"
	"huddle/pkg/tracing"
	"huddle/pkg/utils"
	"huddle/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Config struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	MaxMessageSize int64
	SendBuffer     int
	AllowedOrigins []string

	// MessagesPerSecond limits requests per connection; 0 disables limiting.
	MessagesPerSecond float64
	Burst             int
}

func DefaultConfig() Config {
	return Config{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		RequestTimeout: 15 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     64,
	}
}

// WebSocketServer terminates signaling connections and turns requests into
// conference service calls.
type WebSocketServer struct {
	cfg      Config
	service  ports.ConferenceService
	tokens   services.TokenService
	hub      *Hub
	metrics  ports.ConferenceMetrics
	upgrader websocket.Upgrader

	connections sync.WaitGroup
	logger      *zap.SugaredLogger
}

var _ ports.SignalingServer = (*WebSocketServer)(nil)

// NewWebSocketServer builds the server. A nil tokens disables authentication.
func NewWebSocketServer(cfg Config, service ports.ConferenceService, tokens services.TokenService, hub *Hub, metrics ports.ConferenceMetrics, logger *zap.SugaredLogger) *WebSocketServer {
	def := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if metrics == nil {
		metrics = services.NopMetrics()
	}

	s := &WebSocketServer{
		cfg:     cfg,
		service: service,
		tokens:  tokens,
		hub:     hub,
		metrics: metrics,
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Handle adapts HandleWebSocket to a gin route.
func (s *WebSocketServer) Handle(c *gin.Context) {
	s.HandleWebSocket(c.Writer, c.Request)
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	var claims *services.JoinClaims
	if s.tokens != nil {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		var err error
		claims, err = s.tokens.ValidateToken(token)
		if err != nil {
			s.logger.Infow("rejected websocket upgrade", "error", err, "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	id := domain.ConnectionID(utils.GenerateConnectionID())
	c := &connection{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, s.cfg.SendBuffer),
		claims: claims,
		done:   make(chan struct{}),
		logger: s.logger.With("connection_id", id),
	}
	if s.cfg.MessagesPerSecond > 0 {
		burst := s.cfg.Burst
		if burst <= 0 {
			burst = int(s.cfg.MessagesPerSecond) + 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), burst)
	}

	s.connections.Add(1)
	defer s.connections.Done()

	s.hub.register(c)
	c.logger.Infow("signaling connection opened", "remote", r.RemoteAddr)

	s.connections.Add(1)
	go func() {
		defer s.connections.Done()
		c.writePump(s.cfg.PingInterval, s.cfg.WriteTimeout)
	}()
	s.readLoop(c)
	s.disconnect(c)
}

func (s *WebSocketServer) readLoop(c *connection) {
	ctx, cancel := context.WithCancel(rlog.WithConnectionID(context.Background(), string(c.id)))
	defer func() {
		cancel()
		c.inflight.Wait()
	}()

	c.ws.SetReadLimit(s.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Infow("error reading message", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.reply(c, 0, nil, apperrors.NewInvalidInputError("malformed request"))
			continue
		}
		if req.Method == "" {
			s.reply(c, req.ID, nil, apperrors.NewInvalidInputError("missing method"))
			continue
		}
		if req.Type != "" && req.Type != TypeRequest {
			s.reply(c, req.ID, nil, apperrors.NewInvalidInputError(fmt.Sprintf("unexpected message type %q", req.Type)))
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			s.metrics.SignalingRequest(req.Method, string(apperrors.ErrCodeRateLimit), 0)
			s.reply(c, req.ID, nil, apperrors.NewRateLimitError())
			continue
		}

		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()
			s.dispatch(ctx, c, req)
		}()
	}
}

// disconnect runs after every in-flight request of c has finished, so a
// join racing the close cannot outlive the cleanup.
func (s *WebSocketServer) disconnect(c *connection) {
	s.hub.unregister(c)
	c.close()

	err := s.service.Leave(context.Background(), c.id, domain.LeaveDisconnect)
	if err != nil && !errors.Is(err, domain.ErrNotInRoom) {
		c.logger.Warnw("disconnect cleanup failed", "error", err)
	}
	c.logger.Infow("signaling connection closed")
}

func (s *WebSocketServer) dispatch(ctx context.Context, c *connection, req Request) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	ctx = rlog.WithRequestID(ctx, utils.GenerateRequestID())
	ctx, span := tracing.TraceSignalingRequest(ctx, req.Method, string(c.id))
	defer span.End()

	start := time.Now()
	result, err := s.handle(ctx, c, req)
	duration := time.Since(start)

	outcome := "ok"
	var appErr *apperrors.AppError
	if err != nil {
		tracing.RecordError(ctx, err)
		appErr = ToAppError(err)
		outcome = string(appErr.Code)
		c.logger.Infow("signaling request failed",
			"method", req.Method,
			"request_id", req.ID,
			"error", err,
		)
	} else {
		c.logger.Debugw("signaling request handled", "method", req.Method, "request_id", req.ID, "duration", duration)
	}
	s.metrics.SignalingRequest(req.Method, outcome, duration)

	if req.ID != 0 {
		s.reply(c, req.ID, result, appErr)
	}
}

func (s *WebSocketServer) reply(c *connection, id uint64, result any, appErr *apperrors.AppError) {
	var (
		msg []byte
		err error
	)
	if appErr != nil {
		msg, err = encodeError(id, appErr)
	} else {
		msg, err = encodeResponse(id, result)
	}
	if err != nil {
		c.logger.Errorw("failed to encode response", "request_id", id, "error", err)
		return
	}
	c.enqueue(msg)
}

func (s *WebSocketServer) handle(ctx context.Context, c *connection, req Request) (any, error) {
	switch req.Method {
	case MethodJoin:
		var p domain.JoinRequest
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		if c.claims != nil {
			if err := s.tokens.Authorize(c.claims, p); err != nil {
				return nil, err
			}
		}
		return s.service.Join(ctx, c.id, p)

	case MethodRequestTransport:
		var p TransportRequest
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		role, err := parseRole(p.Role, p.PeerAudioID)
		if err != nil {
			return nil, err
		}
		return s.service.RequestTransport(ctx, c.id, role, p.PeerAudioID)

	case MethodConnectTransport:
		var p ConnectTransportRequest
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		role, err := parseRole(p.Role, p.PeerAudioID)
		if err != nil {
			return nil, err
		}
		if err := s.service.ConnectTransport(ctx, c.id, role, p.PeerAudioID, p.SecurityParameters); err != nil {
			return nil, err
		}
		return ConnectSuccess, nil

	case MethodStartProducing:
		var p ProduceRequest
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		kind, err := domain.ParseMediaKind(string(p.Kind))
		if err != nil {
			return nil, apperrors.NewInvalidInputError(err.Error())
		}
		id, err := s.service.Produce(ctx, c.id, kind, p.RTPParameters)
		if err != nil {
			return nil, err
		}
		return ProduceResponse{ID: id}, nil

	case MethodConsumeMedia:
		var p ConsumeRequest
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		kind, err := domain.ParseMediaKind(string(p.Kind))
		if err != nil {
			return nil, apperrors.NewInvalidInputError(err.Error())
		}
		if err := validation.ValidateMediaID(string(p.ProducerID), "producerId"); err != nil {
			return nil, apperrors.NewInvalidInputError(err.Error())
		}
		return s.service.Consume(ctx, c.id, p.ProducerID, kind, p.Capabilities)

	case MethodUnpauseConsumer:
		var p UnpauseRequest
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		kind, err := domain.ParseMediaKind(string(p.Kind))
		if err != nil {
			return nil, apperrors.NewInvalidInputError(err.Error())
		}
		if err := validation.ValidateMediaID(string(p.ProducerID), "producerId"); err != nil {
			return nil, apperrors.NewInvalidInputError(err.Error())
		}
		if err := s.service.UnpauseConsumer(ctx, c.id, p.ProducerID, kind); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case MethodAudioChange:
		var p AudioChangeRequest
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		switch p.Change {
		case AudioMute, AudioUnmute:
		default:
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("unknown audio change %q", p.Change))
		}
		return nil, s.service.ChangeAudio(ctx, c.id, p.Change == AudioMute)

	case MethodLeaveRoom:
		err := s.service.Leave(ctx, c.id, domain.LeaveVoluntary)
		switch {
		case errors.Is(err, domain.ErrNotInRoom):
			return LeaveResponse{Success: false, Error: NoRoomToLeave}, nil
		case err != nil:
			return LeaveResponse{Success: false, Error: err.Error()}, nil
		}
		return LeaveResponse{Success: true}, nil
	}

	return nil, apperrors.NewInvalidInputError(fmt.Sprintf("unknown method %q", req.Method))
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperrors.NewInvalidInputError(fmt.Sprintf("invalid payload: %v", err))
	}
	return nil
}

func parseRole(role domain.TransportRole, peerAudioID domain.ProducerID) (domain.TransportRole, error) {
	parsed, err := domain.ParseTransportRole(string(role))
	if err != nil {
		return "", apperrors.NewInvalidInputError(err.Error())
	}
	if parsed == domain.RoleConsumer {
		if err := validation.ValidateMediaID(string(peerAudioID), "peerAudioId"); err != nil {
			return "", apperrors.NewInvalidInputError(err.Error())
		}
	}
	return parsed, nil
}

// ConnectionCount reports the number of open signaling connections.
func (s *WebSocketServer) ConnectionCount() int {
	return s.hub.Count()
}

// Shutdown closes every connection and waits for their cleanup.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.hub.CloseAll()

	done := make(chan struct{})
	go func() {
		s.connections.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
