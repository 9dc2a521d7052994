package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ActivityReporter reports whether downloads are in progress
type ActivityReporter interface {
	IsActive() bool
}

// HealthHandler handles health check requests
type HealthHandler struct {
	orchestrator ActivityReporter
	ping         func() error
}

// NewHealthHandler creates a new health handler. ping checks the storage
// backing the tile store.
func NewHealthHandler(orchestrator ActivityReporter, ping func() error) *HealthHandler {
	return &HealthHandler{
		orchestrator: orchestrator,
		ping:         ping,
	}
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Orchestrator struct {
		Active bool `json:"active"`
	} `json:"orchestrator"`
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	response := HealthResponse{
		Status:  "ok",
		Version: "1.0.0",
	}
	response.Orchestrator.Active = h.orchestrator.IsActive()

	c.JSON(http.StatusOK, response)
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.ping != nil {
		if err := h.ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"reason": err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
