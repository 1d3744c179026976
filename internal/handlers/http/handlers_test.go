package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/services"
	"huddle/internal/infrastructure/middleware"
	"huddle/internal/infrastructure/monitoring"
	"huddle/internal/infrastructure/repositories/memory"
	"huddle/internal/testutils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(zaptest.NewLogger(t).Sugar()))
	return router
}

func do(router http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	router.ServeHTTP(w, req)
	return w
}

func TestRoomHandler_ListRooms(t *testing.T) {
	dir := memory.NewMemoryRoomDirectory()
	router := newRouter(t)
	NewRoomHandler(new(testutils.MockConferenceService), dir, nil).SetupRoutes(router, middleware.RoomTokenMiddleware(nil))

	w := do(router, http.MethodGet, "/api/v1/rooms", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"rooms":[],"count":0}`, w.Body.String())

	require.NoError(t, dir.Register(t.Context(), domain.RoomRecord{Name: "b", InstanceID: "i1"}))
	require.NoError(t, dir.Register(t.Context(), domain.RoomRecord{Name: "a", InstanceID: "i2"}))

	w = do(router, http.MethodGet, "/api/v1/rooms", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp RoomListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, domain.RoomName("a"), resp.Rooms[0].Name)
}

func TestRoomHandler_GetRoom(t *testing.T) {
	dir := memory.NewMemoryRoomDirectory()
	require.NoError(t, dir.Register(t.Context(), domain.RoomRecord{Name: "remote", InstanceID: "other"}))

	conf := new(testutils.MockConferenceService)
	conf.On("GetRoom", domain.RoomName("local")).Return(&domain.RoomInfo{
		Name:           "local",
		Clients:        []string{"ann"},
		ActiveSpeakers: []domain.ProducerID{"a1"},
	}, nil)
	conf.On("GetRoom", domain.RoomName("remote")).Return(nil, domain.ErrRoomNotFound)
	conf.On("GetRoom", domain.RoomName("gone")).Return(nil, domain.ErrRoomNotFound)
	conf.On("GetRoom", domain.RoomName("broken")).Return(nil, errors.New("boom"))

	router := newRouter(t)
	NewRoomHandler(conf, dir, nil).SetupRoutes(router, middleware.RoomTokenMiddleware(nil))

	w := do(router, http.MethodGet, "/api/v1/rooms/local", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp RoomResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Local)
	require.NotNil(t, resp.Room)
	assert.Equal(t, []string{"ann"}, resp.Room.Clients)

	w = do(router, http.MethodGet, "/api/v1/rooms/remote", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = RoomResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Local)
	require.NotNil(t, resp.Record)
	assert.Equal(t, "other", resp.Record.InstanceID)

	w = do(router, http.MethodGet, "/api/v1/rooms/gone", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"notFound"`)

	w = do(router, http.MethodGet, "/api/v1/rooms/broken", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRoomHandler_GetRoomRequiresToken(t *testing.T) {
	tokens := services.NewTokenService("secret", time.Minute, "huddle")
	conf := new(testutils.MockConferenceService)
	conf.On("GetRoom", domain.RoomName("r1")).Return(&domain.RoomInfo{Name: "r1"}, nil)

	router := newRouter(t)
	NewRoomHandler(conf, memory.NewMemoryRoomDirectory(), tokens).SetupRoutes(router, middleware.RoomTokenMiddleware(tokens))

	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodGet, "/api/v1/rooms/r1", "", nil).Code)

	token, _, err := tokens.IssueJoinToken("ann", "r1")
	require.NoError(t, err)
	w := do(router, http.MethodGet, "/api/v1/rooms/r1", "", http.Header{"Authorization": {"Bearer " + token}})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoomHandler_IssueToken(t *testing.T) {
	tokens := services.NewTokenService("secret", time.Minute, "huddle")
	router := newRouter(t)
	NewRoomHandler(new(testutils.MockConferenceService), memory.NewMemoryRoomDirectory(), tokens).
		SetupRoutes(router, middleware.RoomTokenMiddleware(tokens))

	w := do(router, http.MethodPost, "/api/v1/token", `{"userName":" ann ","roomName":"standup"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var resp TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.ExpiresAt.After(time.Now()))

	claims, err := tokens.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "ann", claims.UserName)
	assert.Equal(t, domain.RoomName("standup"), claims.Room)

	w = do(router, http.MethodPost, "/api/v1/token", `{"userName":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"invalidRequest"`)

	w = do(router, http.MethodPost, "/api/v1/token", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoomHandler_IssueTokenDisabled(t *testing.T) {
	router := newRouter(t)
	NewRoomHandler(new(testutils.MockConferenceService), memory.NewMemoryRoomDirectory(), nil).
		SetupRoutes(router, middleware.RoomTokenMiddleware(nil))

	w := do(router, http.MethodPost, "/api/v1/token", `{"userName":"ann"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHLSHandler(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "standup"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "standup", "index.m3u8"), []byte("#EXTM3U\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "standup", "seg0.ts"), []byte{0x47}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "standup", "audio-p1.sdp"), []byte("v=0"), 0o644))

	router := newRouter(t)
	NewHLSHandler(root).SetupRoutes(router, "/hls")

	w := do(router, http.MethodGet, "/hls/standup/index.m3u8", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "#EXTM3U\n", w.Body.String())
	assert.Equal(t, "application/vnd.apple.mpegurl", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	w = do(router, http.MethodGet, "/hls/standup/seg0.ts", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "video/mp2t", w.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/hls/standup/audio-p1.sdp", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/hls/standup/missing.ts", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/hls/other/index.m3u8", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/hls/standup/.hidden.ts", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodPut, "/hls/standup/index.m3u8", "x", nil).Code)
}

func TestHealthHandler(t *testing.T) {
	checker := monitoring.NewHealthChecker()
	var healthy atomic.Bool
	healthy.Store(true)
	checker.AddCheck("pool", func(context.Context) (bool, error) { return healthy.Load(), nil }, 0, time.Second)

	router := newRouter(t)
	NewHealthHandler(checker).SetupRoutes(router, "/health")

	w := do(router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status monitoring.HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["pool"])
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/ready", "", nil).Code)

	healthy.Store(false)
	assert.Equal(t, http.StatusServiceUnavailable, do(router, http.MethodGet, "/health", "", nil).Code)
	assert.JSONEq(t, `{"ready":false}`, do(router, http.MethodGet, "/ready", "", nil).Body.String())
}
