package ports

import (
	"context"

	"github.com/gin-gonic/gin"
)

type HTTPHandler interface {
	ListRooms(c *gin.Context)
	GetRoom(c *gin.Context)
	IssueToken(c *gin.Context)
}

// SignalingServer upgrades clients to the signaling channel.
type SignalingServer interface {
	Handle(c *gin.Context)
	ConnectionCount() int
	Shutdown(ctx context.Context) error
}
