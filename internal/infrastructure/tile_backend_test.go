package infrastructure

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourusername/offline-go/internal/domain"
)

const waitTimeout = 5 * time.Second

// tileServer serves "z/x/y" as the tile body. Paths listed in failing answer
// with the given number of 500s before succeeding, or forever when negative.
type tileServer struct {
	*httptest.Server

	mu      sync.Mutex
	failing map[string]int
	hits    map[string]int
}

func newTileServer(t *testing.T) *tileServer {
	t.Helper()
	s := &tileServer{failing: make(map[string]int), hits: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		remaining, ok := s.failing[r.URL.Path]
		if ok && remaining != 0 {
			s.failing[r.URL.Path] = remaining - 1
		}
		s.mu.Unlock()

		if ok && remaining != 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, r.URL.Path)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *tileServer) fail(path string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[path] = times
}

func (s *tileServer) template() string {
	return s.URL + "/{z}/{x}/{y}"
}

// observerRecorder forwards region callbacks to channels
type observerRecorder struct {
	statuses chan domain.RegionStatus
	errors   chan domain.RegionError
	limits   chan int64
}

func newObserverRecorder() *observerRecorder {
	return &observerRecorder{
		statuses: make(chan domain.RegionStatus, 256),
		errors:   make(chan domain.RegionError, 256),
		limits:   make(chan int64, 4),
	}
}

func (o *observerRecorder) OnStatusChanged(status domain.RegionStatus) { o.statuses <- status }
func (o *observerRecorder) OnError(err domain.RegionError)             { o.errors <- err }
func (o *observerRecorder) OnTileCountLimitExceeded(limit int64)       { o.limits <- limit }

func (o *observerRecorder) waitComplete(t *testing.T) domain.RegionStatus {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case status := <-o.statuses:
			if status.Complete() {
				return status
			}
		case <-deadline:
			t.Fatal("region did not complete")
		}
	}
}

func newTestBackend(t *testing.T, config domain.BackendConfig) (*TileBackend, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	if config.RetryDelay == 0 {
		config.RetryDelay = 10 * time.Millisecond
	}
	backend, err := NewTileBackend(db, NewTileFetcher(time.Second, "offline-go-test"), config, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(backend.Close)
	return backend, db
}

func countTiles(t *testing.T, db *gorm.DB, regionID int64) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&OfflineTile{}).Where("region_id = ?", regionID).Count(&n).Error)
	return n
}

func TestTileBackend_DownloadsRegion(t *testing.T) {
	server := newTileServer(t)
	backend, db := newTestBackend(t, domain.BackendConfig{Concurrency: 2})

	region, err := backend.CreateRegion(context.Background(), smallDefinition(server.template()), []byte(`{"k":"v"}`))
	require.NoError(t, err)
	assert.NotZero(t, region.ID())

	observer := newObserverRecorder()
	region.SetObserver(observer)
	region.SetDownloadState(domain.RegionActive)

	status := observer.waitComplete(t)
	assert.Equal(t, int64(3), status.RequiredResourceCount)
	assert.Equal(t, int64(3), status.CompletedResourceCount)
	assert.Equal(t, int64(len("/0/0/0")*3), status.CompletedResourceSize)
	region.SetDownloadState(domain.RegionInactive)

	assert.Equal(t, int64(3), countTiles(t, db, region.ID()))
	data, err := backend.Tile(context.Background(), region.ID(), TileCoord{Z: 1, X: 1, Y: 0})
	require.NoError(t, err)
	assert.Equal(t, "/1/1/0", string(data))

	// Progress is persisted once the pass ends
	assert.Eventually(t, func() bool {
		regions, err := backend.ListRegions(context.Background())
		return err == nil && len(regions) == 1 &&
			regions[0].RequiredTiles == 3 && regions[0].CompletedTiles == 3
	}, waitTimeout, 10*time.Millisecond)
}

func TestTileBackend_CreateRegionInvalid(t *testing.T) {
	backend, _ := newTestBackend(t, domain.BackendConfig{})

	_, err := backend.CreateRegion(context.Background(), domain.RegionDefinition{}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidDefinition)
}

func TestTileBackend_RetriesFailedTile(t *testing.T) {
	server := newTileServer(t)
	server.fail("/2/2/1", 1)
	backend, _ := newTestBackend(t, domain.BackendConfig{Concurrency: 1, MaxRetries: 1})

	region, err := backend.CreateRegion(context.Background(), smallDefinition(server.template()), nil)
	require.NoError(t, err)
	observer := newObserverRecorder()
	region.SetObserver(observer)
	region.SetDownloadState(domain.RegionActive)

	observer.waitComplete(t)
	region.SetDownloadState(domain.RegionInactive)
	assert.Empty(t, observer.errors)
}

func TestTileBackend_ReportsErrorsAndKeepsRunning(t *testing.T) {
	server := newTileServer(t)
	server.fail("/2/2/1", 2)
	backend, _ := newTestBackend(t, domain.BackendConfig{Concurrency: 1})

	region, err := backend.CreateRegion(context.Background(), smallDefinition(server.template()), nil)
	require.NoError(t, err)
	observer := newObserverRecorder()
	region.SetObserver(observer)
	region.SetDownloadState(domain.RegionActive)

	select {
	case regionErr := <-observer.errors:
		assert.Equal(t, domain.ReasonServer, regionErr.Reason)
	case <-time.After(waitTimeout):
		t.Fatal("no error reported")
	}

	observer.waitComplete(t)
	region.SetDownloadState(domain.RegionInactive)
}

func TestTileBackend_TileLimit(t *testing.T) {
	server := newTileServer(t)
	backend, db := newTestBackend(t, domain.BackendConfig{Concurrency: 1})

	definition := smallDefinition(server.template())
	definition.TileLimit = 2
	region, err := backend.CreateRegion(context.Background(), definition, nil)
	require.NoError(t, err)
	observer := newObserverRecorder()
	region.SetObserver(observer)
	region.SetDownloadState(domain.RegionActive)

	select {
	case limit := <-observer.limits:
		assert.Equal(t, int64(2), limit)
	case <-time.After(waitTimeout):
		t.Fatal("limit not reported")
	}
	assert.Equal(t, int64(2), countTiles(t, db, region.ID()))
}

func TestTileBackend_DefaultTileLimit(t *testing.T) {
	server := newTileServer(t)
	backend, _ := newTestBackend(t, domain.BackendConfig{Concurrency: 1, DefaultTileLimit: 1})

	region, err := backend.CreateRegion(context.Background(), smallDefinition(server.template()), nil)
	require.NoError(t, err)
	observer := newObserverRecorder()
	region.SetObserver(observer)
	region.SetDownloadState(domain.RegionActive)

	select {
	case limit := <-observer.limits:
		assert.Equal(t, int64(1), limit)
	case <-time.After(waitTimeout):
		t.Fatal("limit not reported")
	}
}

func TestTileBackend_Delete(t *testing.T) {
	server := newTileServer(t)
	server.fail("/2/2/1", -1)
	backend, db := newTestBackend(t, domain.BackendConfig{Concurrency: 1})

	region, err := backend.CreateRegion(context.Background(), smallDefinition(server.template()), nil)
	require.NoError(t, err)
	observer := newObserverRecorder()
	region.SetObserver(observer)
	region.SetDownloadState(domain.RegionActive)

	select {
	case <-observer.errors:
	case <-time.After(waitTimeout):
		t.Fatal("no error reported")
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, region.Delete(ctx))

	assert.Zero(t, countTiles(t, db, region.ID()))
	regions, err := backend.ListRegions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, regions)

	// A deleted region cannot be restarted
	region.SetDownloadState(domain.RegionActive)
	_, err = backend.Tile(context.Background(), region.ID(), TileCoord{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTileBackend_ResumesStoredTiles(t *testing.T) {
	server := newTileServer(t)
	backend, _ := newTestBackend(t, domain.BackendConfig{Concurrency: 1})

	definition := smallDefinition(server.template())
	region, err := backend.CreateRegion(context.Background(), definition, nil)
	require.NoError(t, err)
	observer := newObserverRecorder()
	region.SetObserver(observer)
	region.SetDownloadState(domain.RegionActive)
	observer.waitComplete(t)
	region.SetDownloadState(domain.RegionInactive)

	// Let the first run exit before restarting
	time.Sleep(50 * time.Millisecond)

	server.mu.Lock()
	before := server.hits["/0/0/0"]
	server.mu.Unlock()

	region.SetDownloadState(domain.RegionActive)
	status := observer.waitComplete(t)
	region.SetDownloadState(domain.RegionInactive)
	assert.Equal(t, int64(3), status.CompletedResourceCount)

	server.mu.Lock()
	defer server.mu.Unlock()
	assert.Equal(t, before, server.hits["/0/0/0"])
}

func TestTileBackend_CloseStopsDownloads(t *testing.T) {
	server := newTileServer(t)
	server.fail("/2/2/1", -1)
	backend, db := newTestBackend(t, domain.BackendConfig{Concurrency: 1})

	region, err := backend.CreateRegion(context.Background(), smallDefinition(server.template()), nil)
	require.NoError(t, err)
	observer := newObserverRecorder()
	region.SetObserver(observer)
	region.SetDownloadState(domain.RegionActive)

	select {
	case <-observer.errors:
	case <-time.After(waitTimeout):
		t.Fatal("no error reported")
	}

	backend.Close()

	// Closing keeps stored data and refuses new loops
	assert.Equal(t, int64(2), countTiles(t, db, region.ID()))
	region.SetDownloadState(domain.RegionInactive)
	region.SetDownloadState(domain.RegionActive)
	backend.wg.Wait()
}
