package infrastructure

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/offline-go/internal/domain"
)

// HistoryRecorder keeps one download record per job and group up to date
// from orchestrator events.
type HistoryRecorder struct {
	repo   domain.DownloadRecordRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewHistoryRecorder creates a new history recorder
func NewHistoryRecorder(repo domain.DownloadRecordRepository, logger *zap.Logger) *HistoryRecorder {
	return &HistoryRecorder{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Handle is the dispatcher handler
func (h *HistoryRecorder) Handle(event domain.Event) {
	var records []*domain.DownloadRecord

	switch {
	case event.Download != nil:
		records = append(records, h.downloadRecord(event, *event.Download))
	case event.Group != nil:
		records = append(records, h.groupRecord(event, *event.Group))
		if event.Kind == domain.EventPartialSuccess && event.Member != nil {
			member := h.downloadRecord(event, *event.Member)
			member.GroupKey = event.Group.Key
			member.ErrorReason, member.ErrorMessage = "", ""
			records = append(records, member)
		}
	}

	for _, record := range records {
		if err := h.save(record); err != nil {
			h.logger.Error("Failed to save download record",
				zap.String("key", record.Key),
				zap.String("event", string(event.Kind)),
				zap.Error(err))
		}
	}
}

func (h *HistoryRecorder) downloadRecord(event domain.Event, download domain.RegionDownload) *domain.DownloadRecord {
	return &domain.DownloadRecord{
		Key:          download.Key,
		RegionID:     download.ID,
		Name:         download.DisplayName(),
		State:        download.State,
		Progress:     download.Progress,
		ErrorReason:  event.Reason,
		ErrorMessage: event.Message,
	}
}

func (h *HistoryRecorder) groupRecord(event domain.Event, group domain.GroupDownload) *domain.DownloadRecord {
	state := group.State
	// Rejected groups never leave idle
	if event.Kind == domain.EventError && state == domain.StateIdle {
		state = domain.StateErrored
	}

	name := group.Notification.Title
	if name == "" {
		name = fmt.Sprintf("Group of %d regions", group.Size())
	}

	return &domain.DownloadRecord{
		Key:          group.Key,
		IsGroup:      true,
		Name:         name,
		State:        state,
		Progress:     group.Progress,
		ErrorReason:  event.Reason,
		ErrorMessage: event.Message,
	}
}

// save merges the record into the stored one. Error details survive later
// non-error events. A record in a terminal state is final: a late Cancelled
// for a job that already finished leaves it untouched.
func (h *HistoryRecorder) save(record *domain.DownloadRecord) error {
	existing, err := h.repo.FindByKey(record.Key)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	if existing != nil {
		if existing.State.IsTerminal() {
			h.logger.Debug("Ignoring event for finished download record",
				zap.String("key", record.Key),
				zap.String("state", string(existing.State)),
				zap.String("new_state", string(record.State)))
			return nil
		}
		if record.ErrorReason == "" {
			record.ErrorReason = existing.ErrorReason
			record.ErrorMessage = existing.ErrorMessage
		}
		if record.RegionID == 0 {
			record.RegionID = existing.RegionID
		}
		if record.GroupKey == "" {
			record.GroupKey = existing.GroupKey
		}
		record.FinishedAt = existing.FinishedAt
	}

	if record.State.IsTerminal() && record.FinishedAt == nil {
		now := h.now()
		record.FinishedAt = &now
	}

	return h.repo.Save(record)
}
