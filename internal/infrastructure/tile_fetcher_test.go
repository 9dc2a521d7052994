package infrastructure

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/offline-go/internal/domain"
)

func TestTileFetcher_Fetch(t *testing.T) {
	var userAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte("tile"))
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/empty":
			w.WriteHeader(http.StatusNoContent)
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer server.Close()

	fetcher := NewTileFetcher(time.Second, "offline-go-test")

	data, err := fetcher.Fetch(context.Background(), server.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, "tile", string(data))
	assert.Equal(t, "offline-go-test", userAgent)

	for _, path := range []string{"/missing", "/empty"} {
		data, err = fetcher.Fetch(context.Background(), server.URL+path)
		require.NoError(t, err, path)
		assert.Empty(t, data, path)
	}

	tests := []struct {
		path   string
		reason string
	}{
		{"/broken", domain.ReasonServer},
		{"/forbidden", domain.ReasonOther},
	}
	for _, tt := range tests {
		_, err = fetcher.Fetch(context.Background(), server.URL+tt.path)
		require.Error(t, err)
		assert.Equal(t, tt.reason, asRegionError(err).Reason, tt.path)
	}
}

func TestTileFetcher_ConnectionError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewTileFetcher(time.Second, "").Fetch(context.Background(), url+"/0/0/0")
	require.Error(t, err)
	assert.Equal(t, domain.ReasonConnection, asRegionError(err).Reason)
}

func TestAsRegionError_PlainError(t *testing.T) {
	regionErr := asRegionError(errors.New("boom"))
	assert.Equal(t, domain.ReasonOther, regionErr.Reason)
	assert.Equal(t, "boom", regionErr.Message)
}

func TestSnapshotRenderer(t *testing.T) {
	server := newTileServer(t)
	renderer := NewSnapshotRenderer(NewTileFetcher(time.Second, ""), zap.NewNop())

	definition := smallDefinition(server.template())
	definition.MinZoom = 1
	image, err := renderer.RenderPreview(context.Background(), definition)
	require.NoError(t, err)
	assert.Equal(t, "/1/1/0", string(image))

	server.fail("/1/1/0", -1)
	_, err = renderer.RenderPreview(context.Background(), definition)
	assert.Error(t, err)
}
