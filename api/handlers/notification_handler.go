package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/offline-go/internal/infrastructure"
)

// NotificationSource lists the notifications of downloads in progress
type NotificationSource interface {
	List() []infrastructure.Notification
	Get(id string) (infrastructure.Notification, bool)
}

// NotificationHandler serves download notifications and their previews
type NotificationHandler struct {
	source NotificationSource
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(source NotificationSource) *NotificationHandler {
	return &NotificationHandler{source: source}
}

// ListNotifications handles GET /api/v1/notifications
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, h.source.List())
}

// GetPreview handles GET /api/v1/notifications/:id/preview
func (h *NotificationHandler) GetPreview(c *gin.Context) {
	n, ok := h.source.Get(c.Param("id"))
	if !ok || !n.HasPreview {
		c.JSON(http.StatusNotFound, gin.H{"error": "preview not found"})
		return
	}

	c.Data(http.StatusOK, http.DetectContentType(n.Preview), n.Preview)
}
