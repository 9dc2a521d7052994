package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/offline-go/internal/infrastructure"
)

// RegionLister lists the regions stored by the tile backend
type RegionLister interface {
	ListRegions(ctx context.Context) ([]infrastructure.OfflineRegion, error)
}

// RegionHandler serves stored offline regions
type RegionHandler struct {
	regions RegionLister
	logger  *zap.Logger
}

// NewRegionHandler creates a new region handler
func NewRegionHandler(regions RegionLister, logger *zap.Logger) *RegionHandler {
	return &RegionHandler{regions: regions, logger: logger}
}

// ListRegions handles GET /api/v1/regions
func (h *RegionHandler) ListRegions(c *gin.Context) {
	regions, err := h.regions.ListRegions(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list regions", zap.Error(err))
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, regions)
}
