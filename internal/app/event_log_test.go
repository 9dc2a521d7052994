package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/offline-go/internal/domain"
	"github.com/yourusername/offline-go/pkg/logger"
)

func TestEventLog_WritesCategories(t *testing.T) {
	dir := t.TempDir()
	ml, err := logger.NewMultiLogger(logger.MultiLoggerConfig{Level: "info", LogsDir: dir})
	require.NoError(t, err)

	log := NewEventLog(ml)
	download := testDownload("berlin").WithID(4)
	log.Handle(domain.NewDownloadEvent(domain.EventStarted, download))
	log.Handle(domain.NewDownloadEvent(domain.EventError, download).
		WithError(domain.ReasonConnection, "connection reset"))

	group := domain.NewGroupDownload([]domain.RegionDownload{download}, domain.NotificationOptions{})
	log.Handle(domain.NewGroupEvent(domain.EventPartialSuccess, group).WithMember(download))
	require.NoError(t, ml.Close())

	reader := logger.NewLogReader(dir)
	lifecycle, err := reader.ReadLogs(logger.CategoryOrchestrator, time.Now(), 0)
	require.NoError(t, err)
	require.Len(t, lifecycle, 3)
	assert.Equal(t, "started", lifecycle[0].Message)
	assert.Equal(t, float64(4), lifecycle[0].Fields["region_id"])
	assert.Equal(t, "berlin", lifecycle[0].Fields["name"])
	assert.Equal(t, "partial_success", lifecycle[2].Message)
	assert.Equal(t, download.Key, lifecycle[2].Fields["member"])
	assert.Equal(t, true, lifecycle[2].Fields["group"])

	errs, err := reader.ReadLogs(logger.CategoryError, time.Now(), 0)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "connection reset", errs[0].Message)
	assert.Equal(t, domain.ReasonConnection, errs[0].Fields["reason"])
}
