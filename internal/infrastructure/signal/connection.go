package signal

import (
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/services"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type connection struct {
	id      domain.ConnectionID
	ws      *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	claims  *services.JoinClaims
	logger  *zap.SugaredLogger

	inflight  sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// enqueue hands msg to the write pump without blocking. A full buffer closes
// the connection.
func (c *connection) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		c.logger.Warnw("send buffer full, closing slow connection", "buffered", len(c.send))
		c.close()
		return false
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// writePump owns all writes to the socket.
func (c *connection) writePump(pingInterval, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Infow("error writing message", "error", err)
				c.close()
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Infow("error sending ping", "error", err)
				c.close()
				return
			}

		case <-c.done:
			c.drain(writeTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		}
	}
}

// drain flushes messages queued before the connection was closed.
func (c *connection) drain(writeTimeout time.Duration) {
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
