package http

import (
	"os"
	"path/filepath"
	"strings"

	"huddle/internal/core/domain"
	apperrors "huddle/pkg/errors"
	"huddle/pkg/validation"

	"github.com/gin-gonic/gin"
)

var hlsContentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".m4s":  "video/iso.segment",
	".mp4":  "video/mp4",
}

// HLSHandler serves packager output read-only from <root>/<room>/<file>.
type HLSHandler struct {
	root string
}

func NewHLSHandler(root string) *HLSHandler {
	return &HLSHandler{root: root}
}

func (h *HLSHandler) SetupRoutes(router gin.IRouter, publicPath string) {
	if publicPath == "" {
		publicPath = "/hls"
	}
	group := router.Group(publicPath)
	group.GET("/:room/:file", h.Serve)
	group.HEAD("/:room/:file", h.Serve)
}

func (h *HLSHandler) Serve(c *gin.Context) {
	room := domain.NormalizeRoomName(c.Param("room"))
	if err := validation.ValidateRoomName(string(room)); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	file := c.Param("file")
	if file != filepath.Base(file) || strings.HasPrefix(file, ".") {
		c.Error(apperrors.NewInvalidInputError("invalid file name"))
		return
	}
	contentType, ok := hlsContentTypes[strings.ToLower(filepath.Ext(file))]
	if !ok {
		c.Error(apperrors.NewNotFoundError("file"))
		return
	}

	path := filepath.Join(h.root, string(room), file)
	if !fileExists(path) {
		c.Error(apperrors.NewNotFoundError("file"))
		return
	}

	if strings.HasSuffix(file, ".m3u8") {
		c.Header("Cache-Control", "no-cache")
	}
	c.Header("Content-Type", contentType)
	c.File(path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
