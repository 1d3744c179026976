package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/internal/core/services"
	apperrors "huddle/pkg/errors"
	"huddle/pkg/validation"

	"github.com/gin-gonic/gin"
)

// RoomHandler serves the REST view of rooms and issues join tokens.
type RoomHandler struct {
	conference ports.ConferenceService
	directory  ports.RoomDirectory
	tokens     services.TokenService
}

var _ ports.HTTPHandler = (*RoomHandler)(nil)

func NewRoomHandler(
	conference ports.ConferenceService,
	directory ports.RoomDirectory,
	tokens services.TokenService,
) *RoomHandler {
	return &RoomHandler{
		conference: conference,
		directory:  directory,
		tokens:     tokens,
	}
}

// SetupRoutes registers the API. roomAuth guards room details, which list
// participants.
func (h *RoomHandler) SetupRoutes(router gin.IRouter, roomAuth gin.HandlerFunc) {
	api := router.Group("/api/v1")
	{
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:name", roomAuth, h.GetRoom)
		api.POST("/token", h.IssueToken)
	}
}

type RoomListResponse struct {
	Rooms []domain.RoomRecord `json:"rooms"`
	Count int                 `json:"count"`
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	records, err := h.directory.List(c.Request.Context())
	if err != nil {
		c.Error(apperrors.WrapError(err, apperrors.ErrCodeServiceUnavailable, "room directory unavailable", http.StatusServiceUnavailable))
		return
	}
	if records == nil {
		records = []domain.RoomRecord{}
	}
	c.JSON(http.StatusOK, RoomListResponse{Rooms: records, Count: len(records)})
}

// RoomResponse carries live details when the room is hosted here and only the
// directory record otherwise.
type RoomResponse struct {
	Local  bool               `json:"local"`
	Room   *domain.RoomInfo   `json:"room,omitempty"`
	Record *domain.RoomRecord `json:"record,omitempty"`
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	name := domain.NormalizeRoomName(c.Param("name"))
	if err := validation.ValidateRoomName(string(name)); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	info, err := h.conference.GetRoom(name)
	if err == nil {
		c.JSON(http.StatusOK, RoomResponse{Local: true, Room: info})
		return
	}
	if !errors.Is(err, domain.ErrRoomNotFound) {
		c.Error(apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to read room", http.StatusInternalServerError))
		return
	}

	record, err := h.directory.Get(c.Request.Context(), name)
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		c.Error(apperrors.NewNotFoundError("room").WithContext("room", string(name)))
	case err != nil:
		c.Error(apperrors.WrapError(err, apperrors.ErrCodeServiceUnavailable, "room directory unavailable", http.StatusServiceUnavailable))
	default:
		c.JSON(http.StatusOK, RoomResponse{Local: false, Record: record})
	}
}

type TokenRequest struct {
	UserName string `json:"userName"`
	RoomName string `json:"roomName"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *RoomHandler) IssueToken(c *gin.Context) {
	if h.tokens == nil {
		c.Error(apperrors.NewServiceUnavailableError("token issuing is disabled"))
		return
	}

	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	userName := strings.TrimSpace(req.UserName)
	if err := validation.ValidateDisplayName(userName); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}
	room := domain.NormalizeRoomName(req.RoomName)
	if room != "" {
		if err := validation.ValidateRoomName(string(room)); err != nil {
			c.Error(apperrors.NewInvalidInputError(err.Error()))
			return
		}
	}

	token, expiresAt, err := h.tokens.IssueJoinToken(userName, room)
	if err != nil {
		c.Error(apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to issue token", http.StatusInternalServerError))
		return
	}
	c.JSON(http.StatusCreated, TokenResponse{Token: token, ExpiresAt: expiresAt})
}
