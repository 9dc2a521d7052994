package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourusername/offline-go/internal/domain"
)

// Orchestrator drives offline region downloads against a backend and
// publishes their lifecycle events.
//
// All registry and group mutations happen under mu. Backend observers are
// gated on the registry so that nothing is published for a job once it has
// left it.
type Orchestrator struct {
	backend     domain.Backend
	events      domain.EventPublisher
	previews    domain.PreviewRenderer
	previewSink domain.PreviewSink
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	regions map[int64]*activeRegion
	pending int
	group   *activeGroup
	seq     uint64
	active  bool
	closed  bool
	idle    chan struct{}
}

// activeRegion is a registry entry for an independent region download
type activeRegion struct {
	download      domain.RegionDownload
	region        domain.Region
	lastPublished int
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(backend domain.Backend, events domain.EventPublisher, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		backend: backend,
		events:  events,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		regions: make(map[int64]*activeRegion),
		idle:    make(chan struct{}, 1),
	}
}

// SetPreviewRenderer enables preview snapshots for downloads that request one
func (o *Orchestrator) SetPreviewRenderer(renderer domain.PreviewRenderer, sink domain.PreviewSink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.previews = renderer
	o.previewSink = sink
}

// Submit starts an independent region download. It returns once the backend
// region creation has been requested; progress is reported through events.
func (o *Orchestrator) Submit(download domain.RegionDownload) error {
	if download.Key == "" {
		download.Key = uuid.New().String()
	}
	download.ID = 0
	download = download.WithState(domain.StatePending).WithProgress(0)

	if err := download.Definition.Validate(); err != nil {
		o.events.Publish(domain.NewDownloadEvent(domain.EventError, download.WithState(domain.StateErrored)).
			WithError(domain.ReasonInvalidDefinition, err.Error()))
		return err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return domain.ErrClosed
	}
	o.active = true
	o.pending++
	o.wg.Add(1)
	o.mu.Unlock()

	o.logger.Info("Region download submitted",
		zap.String("key", download.Key),
		zap.String("name", download.Name))

	go o.create(download)
	return nil
}

// create requests the backend region and registers it
func (o *Orchestrator) create(download domain.RegionDownload) {
	defer o.wg.Done()

	region, err := o.backend.CreateRegion(o.ctx, download.Definition, download.Metadata)

	o.mu.Lock()
	defer o.mu.Unlock()

	o.pending--
	if o.closed {
		return
	}

	if err != nil {
		o.logger.Error("Failed to create offline region",
			zap.String("key", download.Key),
			zap.Error(err))
		o.events.Publish(domain.NewDownloadEvent(domain.EventError, download.WithState(domain.StateErrored)).
			WithError(domain.ReasonCreateFailed, err.Error()))
		o.checkIdleLocked()
		return
	}

	download = download.WithID(region.ID()).WithState(domain.StateActive)
	o.regions[download.ID] = &activeRegion{
		download:      download,
		region:        region,
		lastPublished: -1,
	}

	o.logger.Info("Region download started",
		zap.Int64("region_id", download.ID),
		zap.String("key", download.Key),
		zap.String("name", download.Name))

	o.events.Publish(domain.NewDownloadEvent(domain.EventStarted, download))
	region.SetObserver(&regionObserver{o: o, id: download.ID, region: region})
	region.SetDownloadState(domain.RegionActive)

	if download.Notification.RequestMapSnapshot && o.previews != nil {
		o.wg.Add(1)
		go o.renderPreview(o.previews, download)
	}
}

// renderPreview is fire-and-forget: failures are only logged
func (o *Orchestrator) renderPreview(renderer domain.PreviewRenderer, download domain.RegionDownload) {
	defer o.wg.Done()

	image, err := renderer.RenderPreview(o.ctx, download.Definition)
	if err != nil {
		o.logger.Warn("Failed to render region preview",
			zap.Int64("region_id", download.ID),
			zap.Error(err))
		return
	}

	o.mu.Lock()
	_, registered := o.regions[download.ID]
	sink := o.previewSink
	o.mu.Unlock()

	if registered && sink != nil {
		sink.ShowPreview(download.ID, image)
	}
}

// Cancel stops a region download and deletes its backend data. A download
// without a registry entry only gets a Cancelled event.
func (o *Orchestrator) Cancel(ctx context.Context, download domain.RegionDownload) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return domain.ErrClosed
	}

	var entry *activeRegion
	if download.HasID() {
		entry = o.regions[download.ID]
	}
	if entry != nil {
		delete(o.regions, download.ID)
		entry.region.SetDownloadState(domain.RegionInactive)
		entry.region.SetObserver(nil)
		download = entry.download
	}
	o.mu.Unlock()

	download = download.WithState(domain.StateCancelled)

	if entry != nil {
		if err := entry.region.Delete(ctx); err != nil {
			o.logger.Warn("Failed to delete cancelled region",
				zap.Int64("region_id", download.ID),
				zap.Error(err))
			o.events.Publish(domain.NewDownloadEvent(domain.EventError, download).
				WithError(domain.ReasonDeleteFailed, err.Error()))
		}
	}

	o.logger.Info("Region download cancelled",
		zap.Int64("region_id", download.ID),
		zap.String("key", download.Key))
	o.events.Publish(domain.NewDownloadEvent(domain.EventCancelled, download))

	if entry != nil {
		o.mu.Lock()
		o.checkIdleLocked()
		o.mu.Unlock()
	}
	return nil
}

// ActiveDownloads returns the registered downloads ordered by region id
func (o *Orchestrator) ActiveDownloads() []domain.RegionDownload {
	o.mu.Lock()
	defer o.mu.Unlock()

	downloads := make([]domain.RegionDownload, 0, len(o.regions))
	for _, entry := range o.regions {
		downloads = append(downloads, entry.download)
	}
	sort.Slice(downloads, func(i, j int) bool { return downloads[i].ID < downloads[j].ID })
	return downloads
}

// Download returns the registered download with the given region id
func (o *Orchestrator) Download(id int64) (domain.RegionDownload, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.regions[id]
	if !ok {
		return domain.RegionDownload{}, fmt.Errorf("region %d: %w", id, domain.ErrNotFound)
	}
	return entry.download, nil
}

// IsActive reports whether any download is registered, being created, or grouped
func (o *Orchestrator) IsActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Idle receives a value each time the orchestrator runs out of work
func (o *Orchestrator) Idle() <-chan struct{} {
	return o.idle
}

// Shutdown releases every handle without deleting backend data or
// publishing events, then waits for background work to return.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	for _, entry := range o.regions {
		entry.region.SetObserver(nil)
	}
	o.regions = make(map[int64]*activeRegion)
	if o.group != nil && o.group.region != nil {
		o.group.region.SetObserver(nil)
	}
	o.group = nil
	o.active = false
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	o.logger.Info("Orchestrator shut down")
}

func (o *Orchestrator) checkIdleLocked() {
	if !o.active || len(o.regions) > 0 || o.pending > 0 || o.group != nil {
		return
	}
	o.active = false
	o.logger.Info("Orchestrator idle")
	select {
	case o.idle <- struct{}{}:
	default:
	}
}

// lookupLocked returns the registry entry only if it still belongs to region
func (o *Orchestrator) lookupLocked(id int64, region domain.Region) (*activeRegion, bool) {
	entry, ok := o.regions[id]
	if !ok || entry.region != region {
		return nil, false
	}
	return entry, true
}

func (o *Orchestrator) onRegionStatus(id int64, region domain.Region, status domain.RegionStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.lookupLocked(id, region)
	if !ok {
		return
	}

	p := percentage(status)
	entry.download = entry.download.WithProgress(p)
	if shouldPublish(p, entry.lastPublished) {
		entry.lastPublished = p
		o.logger.Debug("Region download progress",
			zap.Int64("region_id", id),
			zap.Int("progress", p))
		o.events.Publish(domain.NewDownloadEvent(domain.EventProgress, entry.download))
	}

	if status.Complete() {
		o.finishLocked(entry)
	}
}

// finishLocked is the only success path for an independent download
func (o *Orchestrator) finishLocked(entry *activeRegion) {
	finished := entry.download.WithState(domain.StateFinished)

	o.logger.Info("Region download finished",
		zap.Int64("region_id", finished.ID),
		zap.String("key", finished.Key))
	o.events.Publish(domain.NewDownloadEvent(domain.EventFinished, finished))

	entry.region.SetDownloadState(domain.RegionInactive)
	entry.region.SetObserver(nil)
	delete(o.regions, finished.ID)
	o.checkIdleLocked()
}

func (o *Orchestrator) onRegionError(id int64, region domain.Region, regionErr domain.RegionError) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.lookupLocked(id, region)
	if !ok {
		return
	}

	o.logger.Warn("Region download error",
		zap.Int64("region_id", id),
		zap.String("reason", regionErr.Reason),
		zap.String("message", regionErr.Message))
	o.events.Publish(domain.NewDownloadEvent(domain.EventError, entry.download).
		WithError(regionErr.Reason, regionErr.Message))
}

func (o *Orchestrator) onRegionLimitExceeded(id int64, region domain.Region, limit int64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.lookupLocked(id, region)
	if !ok {
		return
	}

	o.logger.Warn("Region tile count limit exceeded",
		zap.Int64("region_id", id),
		zap.Int64("limit", limit))
	o.events.Publish(domain.NewDownloadEvent(domain.EventError, entry.download).
		WithError(domain.ReasonLimitExceeded, limitMessage(limit)))
}

func limitMessage(limit int64) string {
	return fmt.Sprintf("Tile count limit exceeded: %d", limit)
}

// regionObserver forwards backend status for an independent download
type regionObserver struct {
	o      *Orchestrator
	id     int64
	region domain.Region
}

func (r *regionObserver) OnStatusChanged(status domain.RegionStatus) {
	r.o.onRegionStatus(r.id, r.region, status)
}

func (r *regionObserver) OnError(err domain.RegionError) {
	r.o.onRegionError(r.id, r.region, err)
}

func (r *regionObserver) OnTileCountLimitExceeded(limit int64) {
	r.o.onRegionLimitExceeded(r.id, r.region, limit)
}
