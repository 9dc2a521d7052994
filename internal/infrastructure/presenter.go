package infrastructure

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/offline-go/internal/domain"
)

// GroupNotificationID is the fixed id of the grouped download notification
const GroupNotificationID = "group"

const (
	defaultCancelText   = "Cancel"
	defaultDownloadText = "Downloading"
	// maxEndedKeys bounds how many ended download keys are remembered
	maxEndedKeys = 1024
)

// Notification is the presentation model of one download in progress
type Notification struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	Group      bool      `json:"group"`
	Title      string    `json:"title"`
	Text       string    `json:"text"`
	CancelText string    `json:"cancel_text"`
	Progress   int       `json:"progress"`
	Reason     string    `json:"reason,omitempty"`
	Message    string    `json:"message,omitempty"`
	HasPreview bool      `json:"has_preview"`
	Preview    []byte    `json:"-"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Sender delivers a notification outside the process
type Sender interface {
	Send(title, message string) error
}

// Presenter keeps one notification per download in progress and mirrors
// lifecycle transitions to the desktop. It is also the preview sink.
type Presenter struct {
	sender    Sender
	snapshots bool
	logger    *zap.Logger

	mu       sync.RWMutex
	items    map[string]*Notification
	previews map[int64][]byte
	// ended holds keys of downloads that reached a terminal event, oldest first
	ended      map[string]struct{}
	endedOrder []string
}

// NewPresenter creates a new presenter. A nil sender disables desktop
// notifications.
func NewPresenter(sender Sender, snapshots bool, logger *zap.Logger) *Presenter {
	return &Presenter{
		sender:    sender,
		snapshots: snapshots,
		logger:    logger,
		items:     make(map[string]*Notification),
		previews:  make(map[int64][]byte),
		ended:     make(map[string]struct{}),
	}
}

func downloadNotificationID(download domain.RegionDownload) string {
	if download.HasID() {
		return "region-" + strconv.FormatInt(download.ID, 10)
	}
	return "download-" + download.Key
}

// Handle is the dispatcher handler
func (p *Presenter) Handle(event domain.Event) {
	var title, message string

	p.mu.Lock()
	switch {
	case event.Download != nil:
		title, message = p.handleDownloadLocked(event, *event.Download)
	case event.Group != nil:
		title, message = p.handleGroupLocked(event, *event.Group)
	}
	p.mu.Unlock()

	if title != "" && p.sender != nil {
		if err := p.sender.Send(title, message); err != nil {
			p.logger.Debug("Desktop notification failed", zap.Error(err))
		}
	}
}

// handleDownloadLocked returns the desktop notification to send, if any
func (p *Presenter) handleDownloadLocked(event domain.Event, download domain.RegionDownload) (string, string) {
	// Only the first terminal event of a download is shown
	if _, done := p.ended[download.Key]; done {
		return "", ""
	}

	id := downloadNotificationID(download)
	name := truncateString(download.DisplayName(), 40)

	switch event.Kind {
	case domain.EventStarted:
		n := p.upsertLocked(id, download.Key, false)
		n.Title = download.Notification.Title
		if n.Title == "" {
			n.Title = download.DisplayName()
		}
		n.Text = download.Notification.Text
		if n.Text == "" {
			n.Text = defaultDownloadText
		}
		n.CancelText = cancelText(download.Notification)
		if image, ok := p.previews[download.ID]; ok {
			n.Preview, n.HasPreview = image, true
		}
		return "Download Started", name

	case domain.EventProgress:
		n := p.upsertLocked(id, download.Key, false)
		n.Progress = event.Progress
		if n.Title == "" {
			n.Title = download.DisplayName()
		}

	case domain.EventError:
		if download.State == domain.StateErrored {
			p.endLocked(download.Key)
			return "Download Failed", fmt.Sprintf("%s: %s", name, event.Message)
		}
		n := p.upsertLocked(id, download.Key, false)
		n.Reason, n.Message = event.Reason, event.Message

	case domain.EventFinished:
		p.removeLocked(id, download.ID)
		p.endLocked(download.Key)
		return "Download Finished", name

	case domain.EventCancelled:
		p.removeLocked(id, download.ID)
		p.endLocked(download.Key)
		return "Download Cancelled", name
	}
	return "", ""
}

func (p *Presenter) endLocked(key string) {
	if _, ok := p.ended[key]; ok {
		return
	}
	p.ended[key] = struct{}{}
	p.endedOrder = append(p.endedOrder, key)
	if len(p.endedOrder) > maxEndedKeys {
		delete(p.ended, p.endedOrder[0])
		p.endedOrder = p.endedOrder[1:]
	}
}

func (p *Presenter) handleGroupLocked(event domain.Event, group domain.GroupDownload) (string, string) {
	existing, ok := p.items[GroupNotificationID]
	if event.Kind != domain.EventStarted && (!ok || existing.Key != group.Key) {
		// Errors for rejected groups do not touch the active notification
		if event.Kind == domain.EventError {
			return "Grouped Download Failed", event.Message
		}
		return "", ""
	}

	switch event.Kind {
	case domain.EventStarted:
		n := p.upsertLocked(GroupNotificationID, group.Key, true)
		n.Title = group.Notification.Title
		if n.Title == "" && group.Current != nil {
			n.Title = group.Current.DisplayName()
		}
		n.Text = group.Notification.Text
		if n.Text == "" {
			n.Text = fmt.Sprintf("%s %d regions", defaultDownloadText, group.Size())
		}
		n.CancelText = cancelText(group.Notification)
		return "Grouped Download Started", n.Text

	case domain.EventProgress:
		n := p.upsertLocked(GroupNotificationID, group.Key, true)
		n.Progress = event.Progress
		if group.Current != nil {
			n.Title = group.Current.DisplayName()
		}

	case domain.EventPartialSuccess:
		n := p.upsertLocked(GroupNotificationID, group.Key, true)
		n.Progress = group.Progress
		if event.Member != nil {
			n.Text = "Finished " + event.Member.DisplayName()
		}

	case domain.EventError:
		n := p.upsertLocked(GroupNotificationID, group.Key, true)
		n.Reason, n.Message = event.Reason, event.Message

	case domain.EventFinished:
		delete(p.items, GroupNotificationID)
		return "Grouped Download Finished", fmt.Sprintf("%d regions downloaded", group.Size())

	case domain.EventCancelled:
		delete(p.items, GroupNotificationID)
		return "Grouped Download Cancelled", ""
	}
	return "", ""
}

func cancelText(options domain.NotificationOptions) string {
	if options.CancelText != "" {
		return options.CancelText
	}
	return defaultCancelText
}

func (p *Presenter) upsertLocked(id, key string, group bool) *Notification {
	n, ok := p.items[id]
	if !ok {
		n = &Notification{ID: id, Key: key, Group: group}
		p.items[id] = n
	}
	n.UpdatedAt = time.Now()
	return n
}

func (p *Presenter) removeLocked(id string, regionID int64) {
	delete(p.items, id)
	delete(p.previews, regionID)
}

// ShowPreview attaches a rendered preview to the notification of a region
func (p *Presenter) ShowPreview(regionID int64, image []byte) {
	if !p.snapshots {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := "region-" + strconv.FormatInt(regionID, 10)
	if n, ok := p.items[id]; ok {
		n.Preview, n.HasPreview = image, true
		n.UpdatedAt = time.Now()
		return
	}
	// The Started event may not have been handled yet
	p.previews[regionID] = image
}

// List returns a copy of every notification ordered by id
func (p *Presenter) List() []Notification {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Notification, 0, len(p.items))
	for _, n := range p.items {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the notification with the given id
func (p *Presenter) Get(id string) (Notification, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n, ok := p.items[id]
	if !ok {
		return Notification{}, false
	}
	return *n, true
}
