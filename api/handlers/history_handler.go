package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/offline-go/internal/domain"
)

// HistoryHandler serves the download history
type HistoryHandler struct {
	repo   domain.DownloadRecordRepository
	logger *zap.Logger
}

// NewHistoryHandler creates a new history handler
func NewHistoryHandler(repo domain.DownloadRecordRepository, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{
		repo:   repo,
		logger: logger,
	}
}

// ListHistory handles GET /api/v1/history
func (h *HistoryHandler) ListHistory(c *gin.Context) {
	filters := make(map[string]interface{})

	if state := c.Query("state"); state != "" {
		filters["state"] = state
	}
	if groupKey := c.Query("group_key"); groupKey != "" {
		filters["group_key"] = groupKey
	}
	if groups := c.Query("groups"); groups != "" {
		isGroup, err := strconv.ParseBool(groups)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "groups must be a boolean"})
			return
		}
		filters["is_group"] = isGroup
	}

	records, err := h.repo.FindAll(filters)
	if err != nil {
		h.logger.Error("Failed to list history", zap.Error(err))
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, records)
}

// GetRecord handles GET /api/v1/history/:key
func (h *HistoryHandler) GetRecord(c *gin.Context) {
	record, err := h.repo.FindByKey(c.Param("key"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

// GetStats handles GET /api/v1/history/stats
func (h *HistoryHandler) GetStats(c *gin.Context) {
	stats, err := h.repo.GetStats()
	if err != nil {
		h.logger.Error("Failed to get stats", zap.Error(err))
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
