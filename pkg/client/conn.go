package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/infrastructure/signal"
	apperrors "huddle/pkg/errors"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait           = 10 * time.Second
	maxMessageSize      = 1 << 20
	notificationBacklog = 64
)

var (
	ErrConnectionClosed = errors.New("signaling connection closed")
	// ErrNotificationBacklog ends a connection whose notifications are not
	// being consumed; reconnecting and rejoining rebuilds the lost state.
	ErrNotificationBacklog = errors.New("notification backlog full")
)

// RequestError is a failed response from the server.
type RequestError struct {
	Method  string
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s failed: %s: %s", e.Method, e.Code, e.Message)
}

var codeErrors = map[apperrors.ErrorCode]error{
	apperrors.ErrCodeCannotConsume:     domain.ErrCannotConsume,
	apperrors.ErrCodeConsume:           domain.ErrConsume,
	apperrors.ErrCodeConnect:           domain.ErrConnect,
	apperrors.ErrCodeTransportCreation: domain.ErrTransportCreation,
	apperrors.ErrCodeProduce:           domain.ErrProduce,
	apperrors.ErrCodeWorkerDied:        domain.ErrWorkerDied,
	apperrors.ErrCodeNotInRoom:         domain.ErrNotInRoom,
	apperrors.ErrCodeUnauthorized:      domain.ErrUnauthorized,
}

// Unwrap maps the wire error token back to the domain sentinel so callers can
// use errors.Is.
func (e *RequestError) Unwrap() error {
	return codeErrors[apperrors.ErrorCode(e.Code)]
}

// Notification is a server-pushed message.
type Notification struct {
	Method  string
	Payload json.RawMessage
}

// Conn is a request/response client for the signaling WebSocket.
type Conn struct {
	ws     *websocket.Conn
	logger *zap.SugaredLogger

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan signal.Inbound

	notifications chan Notification
	done          chan struct{}
	closeOnce     sync.Once
	err           error
}

// Dial connects to the signaling endpoint. A non-empty token is sent as the
// token query parameter.
func Dial(ctx context.Context, rawURL, token string, logger *zap.SugaredLogger) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("failed to connect: %w", domain.ErrUnauthorized)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	ws.SetReadLimit(maxMessageSize)

	c := &Conn{
		ws:            ws,
		logger:        logger,
		pending:       make(map[uint64]chan signal.Inbound),
		notifications: make(chan Notification, notificationBacklog),
		done:          make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) readLoop() {
	defer close(c.notifications)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}

		var in signal.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.logger.Warnw("dropping malformed frame", "error", err)
			continue
		}

		switch in.Type {
		case signal.TypeResponse:
			c.mu.Lock()
			ch, ok := c.pending[in.ID]
			delete(c.pending, in.ID)
			c.mu.Unlock()
			if ok {
				ch <- in
			} else {
				c.logger.Debugw("response without pending request", "id", in.ID, "error", in.Error)
			}
		case signal.TypeNotification:
			select {
			case c.notifications <- Notification{Method: in.Method, Payload: in.Payload}:
			default:
				c.logger.Errorw("notification backlog full, closing connection", "method", in.Method)
				c.fail(fmt.Errorf("%w: dropped %s", ErrNotificationBacklog, in.Method))
				return
			}
		}
	}
}

func (c *Conn) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		c.ws.Close()
	})
}

// Notifications is closed when the connection ends.
func (c *Conn) Notifications() <-chan Notification { return c.notifications }
func (c *Conn) Done() <-chan struct{}              { return c.done }

// Err returns why the connection ended, or nil while it is open.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.fail(err)
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return nil
}

// Request sends method and waits for its response. out may be nil.
func (c *Conn) Request(ctx context.Context, method string, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", method, err)
	}

	ch := make(chan signal.Inbound, 1)
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(signal.Request{Type: signal.TypeRequest, ID: id, Method: method, Payload: raw}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("%w: %w", ErrConnectionClosed, c.Err())
	case resp := <-ch:
		if !resp.OK {
			return &RequestError{Method: method, Code: resp.Error, Message: resp.Message}
		}
		if out != nil && len(resp.Payload) > 0 {
			if err := json.Unmarshal(resp.Payload, out); err != nil {
				return fmt.Errorf("failed to decode %s response: %w", method, err)
			}
		}
		return nil
	}
}

// Send issues a fire-and-forget request.
func (c *Conn) Send(method string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", method, err)
	}
	return c.write(signal.Request{Type: signal.TypeRequest, Method: method, Payload: raw})
}

// Close sends a close frame and tears the connection down.
func (c *Conn) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}

	c.writeMu.Lock()
	err := c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	c.fail(ErrConnectionClosed)
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}
