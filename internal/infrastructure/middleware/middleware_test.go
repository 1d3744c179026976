package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"huddle/internal/core/services"
	apperrors "huddle/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRouter(t *testing.T, mw ...gin.HandlerFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zaptest.NewLogger(t).Sugar()))
	router.Use(mw...)
	return router
}

func decodeBody(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	return m
}

func TestErrorHandlerMiddleware(t *testing.T) {
	router := newTestRouter(t)
	router.GET("/app", func(c *gin.Context) {
		_ = c.Error(apperrors.NewNotFoundError("room").WithContext("room", "r1"))
	})
	router.GET("/plain", func(c *gin.Context) {
		_ = c.Error(errors.New("boom"))
	})
	router.GET("/busy", func(c *gin.Context) {
		_ = c.Error(apperrors.NewServiceUnavailableError("draining"))
	})

	w := get(router, "/app", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decodeBody(t, w.Body.Bytes())
	assert.Equal(t, "notFound", body["error"])
	assert.Equal(t, "room not found", body["message"])
	assert.Equal(t, map[string]any{"room": "r1"}, body["details"])
	assert.NotContains(t, body, "retryable")

	w = get(router, "/plain", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internalError", decodeBody(t, w.Body.Bytes())["error"])

	w = get(router, "/busy", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, true, decodeBody(t, w.Body.Bytes())["retryable"])
}

func TestRecoveryMiddleware(t *testing.T) {
	router := newTestRouter(t, RecoveryMiddleware(zaptest.NewLogger(t).Sugar()))
	router.GET("/panic", func(c *gin.Context) {
		panic("kaboom")
	})

	w := get(router, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internalError", decodeBody(t, w.Body.Bytes())["error"])
}

func TestRequestIDMiddleware(t *testing.T) {
	router := newTestRouter(t, RequestIDMiddleware(), TracingMiddleware())
	router.GET("/id", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := get(router, "/id", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	w = get(router, "/id", http.Header{RequestIDHeader: {"req-42"}})
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
}

func TestRoomTokenMiddleware(t *testing.T) {
	tokens := services.NewTokenService("secret", time.Minute, "huddle")
	router := newTestRouter(t)
	router.GET("/rooms/:name", RoomTokenMiddleware(tokens), func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.UserName)
	})

	scoped, _, err := tokens.IssueJoinToken("ann", "standup")
	require.NoError(t, err)
	unscoped, _, err := tokens.IssueJoinToken("bob", "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		auth   string
		status int
		body   string
	}{
		{"missing header", "/rooms/standup", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "/rooms/standup", "Basic " + scoped, http.StatusUnauthorized, ""},
		{"invalid token", "/rooms/standup", "Bearer nope", http.StatusUnauthorized, ""},
		{"other room", "/rooms/retro", "Bearer " + scoped, http.StatusUnauthorized, ""},
		{"matching room", "/rooms/standup", "Bearer " + scoped, http.StatusOK, "ann"},
		{"unscoped token", "/rooms/retro", "Bearer " + unscoped, http.StatusOK, "bob"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h http.Header
			if tt.auth != "" {
				h = http.Header{"Authorization": {tt.auth}}
			}
			w := get(router, tt.path, h)
			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestRoomTokenMiddleware_NilServiceAllows(t *testing.T) {
	router := newTestRouter(t)
	router.GET("/rooms/:name", RoomTokenMiddleware(nil), func(c *gin.Context) {
		_, ok := ClaimsFrom(c)
		assert.False(t, ok)
		c.Status(http.StatusOK)
	})
	assert.Equal(t, http.StatusOK, get(router, "/rooms/x", nil).Code)
}
