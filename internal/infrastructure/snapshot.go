package infrastructure

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/yourusername/offline-go/internal/domain"
)

// SnapshotRenderer renders a region preview from the tile that covers the
// centre of the region at its lowest zoom.
type SnapshotRenderer struct {
	fetcher *TileFetcher
	logger  *zap.Logger
}

// NewSnapshotRenderer creates a new snapshot renderer
func NewSnapshotRenderer(fetcher *TileFetcher, logger *zap.Logger) *SnapshotRenderer {
	return &SnapshotRenderer{fetcher: fetcher, logger: logger}
}

// RenderPreview implements domain.PreviewRenderer
func (s *SnapshotRenderer) RenderPreview(ctx context.Context, definition domain.RegionDefinition) ([]byte, error) {
	coord := CenterTile(definition.Bounds, int(math.Floor(definition.MinZoom)))
	url := TileURL(definition.StyleURL, coord, definition.PixelRatio)

	image, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to render preview: %w", err)
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("failed to render preview: no tile at %s", url)
	}

	s.logger.Debug("Preview rendered", zap.String("url", url), zap.Int("bytes", len(image)))
	return image, nil
}
