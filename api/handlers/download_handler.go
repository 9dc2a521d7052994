package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/offline-go/internal/domain"
	"github.com/yourusername/offline-go/internal/plugin"
)

// DownloadHandler handles single and grouped download requests
type DownloadHandler struct {
	plugin *plugin.Plugin
	logger *zap.Logger
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(p *plugin.Plugin, logger *zap.Logger) *DownloadHandler {
	return &DownloadHandler{
		plugin: p,
		logger: logger,
	}
}

// RegionRequest describes one region to download
type RegionRequest struct {
	Name         string                     `json:"name"`
	Definition   domain.RegionDefinition    `json:"definition"`
	Metadata     json.RawMessage            `json:"metadata,omitempty"`
	Notification domain.NotificationOptions `json:"notification"`
}

func (r RegionRequest) download() domain.RegionDownload {
	return domain.NewRegionDownload(r.Name, r.Definition, []byte(r.Metadata), r.Notification)
}

// GroupRequest describes a grouped download
type GroupRequest struct {
	Members      []RegionRequest            `json:"members"`
	Notification domain.NotificationOptions `json:"notification"`
}

// AddDownload handles POST /api/v1/downloads
func (h *DownloadHandler) AddDownload(c *gin.Context) {
	var req RegionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	download := req.download()
	if err := h.plugin.StartDownload(download); err != nil {
		h.logger.Warn("Failed to start download", zap.String("key", download.Key), zap.Error(err))
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, download)
}

// ListDownloads handles GET /api/v1/downloads
func (h *DownloadHandler) ListDownloads(c *gin.Context) {
	c.JSON(http.StatusOK, h.plugin.ActiveDownloads())
}

// GetDownload handles GET /api/v1/downloads/:key
func (h *DownloadHandler) GetDownload(c *gin.Context) {
	download, ok := h.plugin.Download(c.Param("key"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "download not found"})
		return
	}

	c.JSON(http.StatusOK, download)
}

// CancelDownload handles POST /api/v1/downloads/:key/cancel
func (h *DownloadHandler) CancelDownload(c *gin.Context) {
	key := c.Param("key")

	download, err := h.plugin.CancelDownloadByKey(c.Request.Context(), key)
	if err != nil {
		h.logger.Warn("Failed to cancel download", zap.String("key", key), zap.Error(err))
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, download.WithState(domain.StateCancelled))
}

// StartGroup handles POST /api/v1/groups
func (h *DownloadHandler) StartGroup(c *gin.Context) {
	var req GroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	members := make([]domain.RegionDownload, 0, len(req.Members))
	for _, m := range req.Members {
		members = append(members, m.download())
	}
	group := domain.NewGroupDownload(members, req.Notification)

	if err := h.plugin.StartGroupedDownload(group); err != nil {
		h.logger.Warn("Failed to start grouped download", zap.String("group", group.Key), zap.Error(err))
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, group)
}

// GetGroup handles GET /api/v1/groups/current
func (h *DownloadHandler) GetGroup(c *gin.Context) {
	group, ok := h.plugin.ActiveGroup()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no grouped download in progress"})
		return
	}

	c.JSON(http.StatusOK, group)
}

// CancelGroup handles POST /api/v1/groups/current/cancel
func (h *DownloadHandler) CancelGroup(c *gin.Context) {
	if err := h.plugin.CancelGroupedDownload(c.Request.Context()); err != nil {
		h.logger.Warn("Failed to cancel grouped download", zap.Error(err))
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "grouped download cancelled"})
}
