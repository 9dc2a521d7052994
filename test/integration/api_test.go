//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/offline-go/api"
	"github.com/yourusername/offline-go/internal/app"
	"github.com/yourusername/offline-go/internal/domain"
	"github.com/yourusername/offline-go/internal/events"
	"github.com/yourusername/offline-go/internal/infrastructure"
	"github.com/yourusername/offline-go/internal/plugin"
	"github.com/yourusername/offline-go/pkg/logger"
)

const waitTimeout = 10 * time.Second

// setupTestServer wires the whole server against a local tile server.
// Tiles under /slow/ are held until the request is cancelled.
func setupTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()

	tiles := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Path) > 6 && r.URL.Path[:6] == "/slow/" {
			<-r.Context().Done()
			return
		}
		fmt.Fprint(w, r.URL.Path)
	}))
	t.Cleanup(tiles.Close)

	db, err := infrastructure.OpenDatabase(filepath.Join(dir, "offline.db"))
	require.NoError(t, err)

	config := domain.DefaultConfig()
	config.Backend.RetryDelay = 10 * time.Millisecond
	config.Backend.RequestTimeout = 5 * time.Second

	fetcher := infrastructure.NewTileFetcher(config.Backend.RequestTimeout, "offline-go-test")
	backend, err := infrastructure.NewTileBackend(db, fetcher, config.Backend, zap.NewNop())
	require.NoError(t, err)
	repo, err := infrastructure.NewSQLiteRecordRepository(db)
	require.NoError(t, err)

	multiLog, err := logger.NewMultiLogger(logger.MultiLoggerConfig{Level: "info", LogsDir: filepath.Join(dir, "logs")})
	require.NoError(t, err)

	dispatcher := events.NewDispatcher(zap.NewNop())
	orchestrator := app.NewOrchestrator(backend, dispatcher, zap.NewNop())
	presenter := infrastructure.NewPresenter(nil, true, zap.NewNop())
	orchestrator.SetPreviewRenderer(infrastructure.NewSnapshotRenderer(fetcher, zap.NewNop()), presenter)

	offline := plugin.New(orchestrator, zap.NewNop())
	dispatcher.Subscribe(offline.Handle)
	dispatcher.Subscribe(infrastructure.NewHistoryRecorder(repo, zap.NewNop()).Handle)
	dispatcher.Subscribe(presenter.Handle)
	dispatcher.Subscribe(app.NewEventLog(multiLog).Handle)

	router := api.SetupRouter(api.Dependencies{
		Plugin:        offline,
		Orchestrator:  orchestrator,
		History:       repo,
		Notifications: presenter,
		Regions:       backend,
		Events:        dispatcher,
		ErrorLog:      multiLog,
		LogsDir:       filepath.Join(dir, "logs"),
		Logger:        zap.NewNop(),
	})
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		server.Close()
		orchestrator.Shutdown()
		dispatcher.Close()
		backend.Close()
		multiLog.Close()
		infrastructure.CloseDatabase(db)
	})
	return server, tiles.URL
}

func region(name, styleURL string) map[string]interface{} {
	return map[string]interface{}{
		"name": name,
		"definition": map[string]interface{}{
			"bounds":    map[string]float64{"north": 1, "south": 0.1, "east": 1, "west": 0.1},
			"style_url": styleURL,
			"min_zoom":  0,
			"max_zoom":  2,
		},
		"notification": map[string]interface{}{"request_map_snapshot": true},
	}
}

func post(t *testing.T, url string, body interface{}, out interface{}) int {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func get(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func waitForState(t *testing.T, serverURL, key string, state domain.DownloadState) domain.DownloadRecord {
	t.Helper()
	var record domain.DownloadRecord
	require.Eventually(t, func() bool {
		record = domain.DownloadRecord{}
		return get(t, serverURL+"/api/v1/history/"+key, &record) == http.StatusOK && record.State == state
	}, waitTimeout, 20*time.Millisecond, "download %s never reached %s", key, state)
	return record
}

func TestAPI_SingleDownload(t *testing.T) {
	server, tilesURL := setupTestServer(t)

	var download domain.RegionDownload
	status := post(t, server.URL+"/api/v1/downloads", region("Paris", tilesURL+"/{z}/{x}/{y}"), &download)
	require.Equal(t, http.StatusAccepted, status)

	record := waitForState(t, server.URL, download.Key, domain.StateFinished)
	assert.Equal(t, 100, record.Progress)
	assert.NotZero(t, record.RegionID)
	assert.NotNil(t, record.FinishedAt)

	var regions []infrastructure.OfflineRegion
	require.Equal(t, http.StatusOK, get(t, server.URL+"/api/v1/regions", &regions))
	require.Len(t, regions, 1)
	assert.Equal(t, int64(3), regions[0].RequiredTiles)

	var active []domain.RegionDownload
	require.Equal(t, http.StatusOK, get(t, server.URL+"/api/v1/downloads", &active))
	assert.Empty(t, active)

	var logs struct {
		Entries []logger.LogEntry `json:"entries"`
	}
	require.Eventually(t, func() bool {
		return get(t, server.URL+"/api/v1/logs/orchestrator", &logs) == http.StatusOK && len(logs.Entries) > 0
	}, waitTimeout, 20*time.Millisecond)
}

func TestAPI_GroupedDownload(t *testing.T) {
	server, tilesURL := setupTestServer(t)

	body := map[string]interface{}{
		"members": []interface{}{
			region("a", tilesURL+"/{z}/{x}/{y}"),
			region("b", tilesURL+"/b/{z}/{x}/{y}"),
		},
	}
	var group domain.GroupDownload
	require.Equal(t, http.StatusAccepted, post(t, server.URL+"/api/v1/groups", body, &group))

	record := waitForState(t, server.URL, group.Key, domain.StateFinished)
	assert.True(t, record.IsGroup)
	assert.Equal(t, 100, record.Progress)

	var members []domain.DownloadRecord
	require.Equal(t, http.StatusOK, get(t, server.URL+"/api/v1/history?group_key="+group.Key, &members))
	assert.Len(t, members, 2)

	assert.Equal(t, http.StatusNotFound, get(t, server.URL+"/api/v1/groups/current", nil))
}

func TestAPI_CancelDownload(t *testing.T) {
	server, tilesURL := setupTestServer(t)

	var download domain.RegionDownload
	require.Equal(t, http.StatusAccepted, post(t, server.URL+"/api/v1/downloads", region("Slow", tilesURL+"/slow/{z}/{x}/{y}"), &download))

	// The key is only known to the plugin once the region exists
	require.Eventually(t, func() bool {
		return get(t, server.URL+"/api/v1/downloads/"+download.Key, nil) == http.StatusOK
	}, waitTimeout, 20*time.Millisecond)

	require.Equal(t, http.StatusOK, post(t, server.URL+"/api/v1/downloads/"+download.Key+"/cancel", nil, nil))
	waitForState(t, server.URL, download.Key, domain.StateCancelled)

	var regions []infrastructure.OfflineRegion
	require.Equal(t, http.StatusOK, get(t, server.URL+"/api/v1/regions", &regions))
	assert.Empty(t, regions)
}
