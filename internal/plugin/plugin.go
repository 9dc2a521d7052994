package plugin

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/yourusername/offline-go/internal/domain"
)

// Orchestrator is the part of the download orchestrator the plugin drives
type Orchestrator interface {
	Submit(download domain.RegionDownload) error
	Cancel(ctx context.Context, download domain.RegionDownload) error
	StartGroup(group domain.GroupDownload) error
	CancelGroup(ctx context.Context, key string) error
}

// DownloadListener is notified about independent region downloads
type DownloadListener interface {
	OnCreate(download domain.RegionDownload)
	OnSuccess(download domain.RegionDownload)
	OnCancel(download domain.RegionDownload)
	OnError(download domain.RegionDownload, reason, message string)
	OnProgress(download domain.RegionDownload, percentage int)
}

// GroupListener is notified about grouped downloads
type GroupListener interface {
	OnSuccess(group domain.GroupDownload)
	OnCancel(group domain.GroupDownload)
	OnError(group domain.GroupDownload, reason, message string)
	OnProgress(group domain.GroupDownload)
	OnPartialSuccess(group domain.GroupDownload, member domain.RegionDownload)
}

// Plugin is the user-facing entry point for offline downloads. It keeps
// the list of downloads in progress, built from orchestrator events, and
// forwards changes to registered listeners.
type Plugin struct {
	orchestrator Orchestrator
	logger       *zap.Logger

	mu             sync.RWMutex
	downloads      []domain.RegionDownload
	group          *domain.GroupDownload
	listeners      []DownloadListener
	groupListeners []GroupListener
}

// New creates a new plugin
func New(orchestrator Orchestrator, logger *zap.Logger) *Plugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Plugin{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// StartDownload starts downloading a single region
func (p *Plugin) StartDownload(download domain.RegionDownload) error {
	return p.orchestrator.Submit(download)
}

// CancelDownload cancels a single region download
func (p *Plugin) CancelDownload(ctx context.Context, download domain.RegionDownload) error {
	return p.orchestrator.Cancel(ctx, download)
}

// CancelDownloadByKey cancels the download in progress with the given key
func (p *Plugin) CancelDownloadByKey(ctx context.Context, key string) (domain.RegionDownload, error) {
	download, ok := p.Download(key)
	if !ok {
		return domain.RegionDownload{}, fmt.Errorf("download %s: %w", key, domain.ErrNotFound)
	}
	return download, p.orchestrator.Cancel(ctx, download)
}

// StartGroupedDownload starts a grouped download
func (p *Plugin) StartGroupedDownload(group domain.GroupDownload) error {
	return p.orchestrator.StartGroup(group)
}

// CancelGroupedDownload cancels the grouped download in progress
func (p *Plugin) CancelGroupedDownload(ctx context.Context) error {
	return p.orchestrator.CancelGroup(ctx, "")
}

// ActiveDownloads returns the downloads in progress in start order
func (p *Plugin) ActiveDownloads() []domain.RegionDownload {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]domain.RegionDownload, len(p.downloads))
	copy(out, p.downloads)
	return out
}

// Download returns the download in progress with the given key
func (p *Plugin) Download(key string) (domain.RegionDownload, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, d := range p.downloads {
		if d.Key == key {
			return d, true
		}
	}
	return domain.RegionDownload{}, false
}

// ActiveGroup returns the grouped download in progress
func (p *Plugin) ActiveGroup() (domain.GroupDownload, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.group == nil {
		return domain.GroupDownload{}, false
	}
	return *p.group, true
}

// AddListener registers a listener for single region downloads
func (p *Plugin) AddListener(listener DownloadListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, listener)
}

// RemoveListener unregisters a listener added with AddListener
func (p *Plugin) RemoveListener(listener DownloadListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, l := range p.listeners {
		if l == listener {
			p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
			return
		}
	}
}

// AddGroupListener registers a listener for grouped downloads
func (p *Plugin) AddGroupListener(listener GroupListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.groupListeners = append(p.groupListeners, listener)
}

// RemoveGroupListener unregisters a listener added with AddGroupListener
func (p *Plugin) RemoveGroupListener(listener GroupListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, l := range p.groupListeners {
		if l == listener {
			p.groupListeners = append(p.groupListeners[:i:i], p.groupListeners[i+1:]...)
			return
		}
	}
}

// Handle is the dispatcher handler keeping the plugin state current
func (p *Plugin) Handle(event domain.Event) {
	p.logger.Debug("Plugin received event",
		zap.String("kind", string(event.Kind)),
		zap.String("key", event.Subject()))

	switch {
	case event.Download != nil:
		p.handleDownload(event, *event.Download)
	case event.Group != nil:
		p.handleGroup(event, *event.Group)
	}
}

func (p *Plugin) handleDownload(event domain.Event, download domain.RegionDownload) {
	p.mu.Lock()
	switch event.Kind {
	case domain.EventStarted:
		p.putLocked(download)
	case domain.EventProgress:
		p.putLocked(download)
	case domain.EventFinished, domain.EventCancelled:
		p.removeLocked(download.Key)
	}
	listeners := make([]DownloadListener, len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	for _, l := range listeners {
		switch event.Kind {
		case domain.EventStarted:
			l.OnCreate(download)
		case domain.EventProgress:
			l.OnProgress(download, event.Progress)
		case domain.EventFinished:
			l.OnSuccess(download)
		case domain.EventCancelled:
			l.OnCancel(download)
		case domain.EventError:
			l.OnError(download, event.Reason, event.Message)
		}
	}
}

// putLocked adds or replaces the download with the same key
func (p *Plugin) putLocked(download domain.RegionDownload) {
	for i, d := range p.downloads {
		if d.Key == download.Key {
			p.downloads[i] = download
			return
		}
	}
	p.downloads = append(p.downloads, download)
}

func (p *Plugin) removeLocked(key string) {
	for i, d := range p.downloads {
		if d.Key == key {
			p.downloads = append(p.downloads[:i:i], p.downloads[i+1:]...)
			return
		}
	}
}

func (p *Plugin) handleGroup(event domain.Event, group domain.GroupDownload) {
	p.mu.Lock()
	switch event.Kind {
	case domain.EventStarted, domain.EventProgress, domain.EventPartialSuccess:
		p.group = &group
	case domain.EventFinished, domain.EventCancelled:
		if p.group != nil && p.group.Key == group.Key {
			p.group = nil
		}
	}
	listeners := make([]GroupListener, len(p.groupListeners))
	copy(listeners, p.groupListeners)
	p.mu.Unlock()

	for _, l := range listeners {
		switch event.Kind {
		case domain.EventProgress:
			l.OnProgress(group)
		case domain.EventPartialSuccess:
			if event.Member != nil {
				l.OnPartialSuccess(group, *event.Member)
			}
		case domain.EventFinished:
			l.OnSuccess(group)
		case domain.EventCancelled:
			l.OnCancel(group)
		case domain.EventError:
			l.OnError(group, event.Reason, event.Message)
		}
	}
}
