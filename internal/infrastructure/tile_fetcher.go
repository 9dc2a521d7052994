package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yourusername/offline-go/internal/domain"
)

// maxTileSize bounds the body read for a single tile
const maxTileSize = 8 << 20

// TileFetcher downloads single tiles over HTTP
type TileFetcher struct {
	client    *http.Client
	userAgent string
}

// NewTileFetcher creates a new tile fetcher
func NewTileFetcher(timeout time.Duration, userAgent string) *TileFetcher {
	return &TileFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Fetch downloads one tile. A tile the server does not have is returned
// empty without error.
func (f *TileFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &domain.RegionError{Reason: domain.ReasonOther, Message: err.Error()}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &domain.RegionError{Reason: domain.ReasonConnection, Message: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNoContent, resp.StatusCode == http.StatusNotFound:
		return []byte{}, nil
	case resp.StatusCode >= 500:
		return nil, &domain.RegionError{Reason: domain.ReasonServer, Message: fmt.Sprintf("%s: HTTP %d", url, resp.StatusCode)}
	default:
		return nil, &domain.RegionError{Reason: domain.ReasonOther, Message: fmt.Sprintf("%s: HTTP %d", url, resp.StatusCode)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTileSize))
	if err != nil {
		return nil, &domain.RegionError{Reason: domain.ReasonConnection, Message: err.Error()}
	}
	return data, nil
}

// asRegionError converts any fetch error into a RegionError value
func asRegionError(err error) domain.RegionError {
	var regionErr *domain.RegionError
	if errors.As(err, &regionErr) {
		return *regionErr
	}
	return domain.RegionError{Reason: domain.ReasonOther, Message: err.Error()}
}
