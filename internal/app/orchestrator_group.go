package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourusername/offline-go/internal/domain"
)

// activeGroup is the state of the single grouped download in flight
type activeGroup struct {
	// download is the last published snapshot
	download domain.GroupDownload
	// remaining holds the members not finished yet, head is the active one
	remaining []domain.RegionDownload
	member    domain.RegionDownload
	// region is nil while the active member is being created
	region domain.Region
	// launch identifies the current member launch, stale callbacks carry an older one
	launch        uint64
	progress      float64
	lastPublished int
}

// StartGroup starts a grouped download. Members download one at a time in
// list order. Only one group may be active at a time.
func (o *Orchestrator) StartGroup(group domain.GroupDownload) error {
	if group.Key == "" {
		group.Key = uuid.New().String()
	}

	if group.Size() == 0 {
		o.logger.Warn("Rejected empty grouped download", zap.String("group", group.Key))
		o.events.Publish(domain.NewGroupEvent(domain.EventError, group).
			WithError(domain.ReasonEmptyGroup, domain.ErrEmptyGroup.Error()))
		return domain.ErrEmptyGroup
	}

	for i, member := range group.Members {
		if err := member.Definition.Validate(); err != nil {
			err = fmt.Errorf("member %d (%s): %w", i, member.DisplayName(), err)
			o.events.Publish(domain.NewGroupEvent(domain.EventError, group).
				WithError(domain.ReasonInvalidDefinition, err.Error()))
			return err
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return domain.ErrClosed
	}

	if o.group != nil {
		o.logger.Warn("Rejected grouped download, another one is active",
			zap.String("group", group.Key),
			zap.String("active_group", o.group.download.Key))
		o.events.Publish(domain.NewGroupEvent(domain.EventError, group).
			WithError(domain.ReasonAlreadyActive, domain.ErrAlreadyActive.Error()))
		return domain.ErrAlreadyActive
	}

	remaining := make([]domain.RegionDownload, len(group.Members))
	copy(remaining, group.Members)

	first := remaining[0]
	snapshot := group.WithCurrent(&first).WithProgress(0).WithState(domain.StateActive)
	o.group = &activeGroup{
		download:      snapshot,
		remaining:     remaining,
		lastPublished: -1,
	}
	o.active = true

	o.logger.Info("Grouped download started",
		zap.String("group", snapshot.Key),
		zap.Int("members", snapshot.Size()))
	o.events.Publish(domain.NewGroupEvent(domain.EventStarted, snapshot))

	o.launchMemberLocked()
	return nil
}

// CancelGroup cancels the active grouped download. An empty key matches
// whichever group is active.
func (o *Orchestrator) CancelGroup(ctx context.Context, key string) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return domain.ErrClosed
	}

	g := o.group
	if g == nil || (key != "" && key != g.download.Key) {
		o.mu.Unlock()
		return fmt.Errorf("grouped download %q: %w", key, domain.ErrNotFound)
	}

	o.group = nil
	g.remaining = nil
	region := g.region
	if region != nil {
		region.SetObserver(nil)
		region.SetDownloadState(domain.RegionInactive)
	}
	snapshot := g.download.WithCurrent(nil).WithState(domain.StateCancelled)
	o.mu.Unlock()

	if region != nil {
		if err := region.Delete(ctx); err != nil {
			o.logger.Warn("Failed to delete region of cancelled group",
				zap.String("group", snapshot.Key),
				zap.Int64("region_id", region.ID()),
				zap.Error(err))
			o.events.Publish(domain.NewGroupEvent(domain.EventError, snapshot).
				WithError(domain.ReasonDeleteFailed, "Cannot delete region: "+err.Error()))
		}
	}

	o.logger.Info("Grouped download cancelled", zap.String("group", snapshot.Key))
	o.events.Publish(domain.NewGroupEvent(domain.EventCancelled, snapshot))

	o.mu.Lock()
	o.checkIdleLocked()
	o.mu.Unlock()
	return nil
}

// ActiveGroup returns the snapshot of the active grouped download
func (o *Orchestrator) ActiveGroup() (domain.GroupDownload, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.group == nil {
		return domain.GroupDownload{}, false
	}
	return o.group.download, true
}

// RemainingGroupMembers returns how many members of the active group have not
// finished, the active one included.
func (o *Orchestrator) RemainingGroupMembers() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.group == nil {
		return 0
	}
	return len(o.group.remaining)
}

// launchMemberLocked creates the backend region for the head of the queue
func (o *Orchestrator) launchMemberLocked() {
	g := o.group
	o.seq++
	g.launch = o.seq
	g.region = nil
	g.member = g.remaining[0].WithState(domain.StatePending).WithProgress(0)

	o.logger.Info("Launching grouped download member",
		zap.String("group", g.download.Key),
		zap.String("member", g.member.Key),
		zap.Int("remaining", len(g.remaining)))

	o.wg.Add(1)
	go o.createMember(g.launch, g.member)
}

func (o *Orchestrator) createMember(launch uint64, member domain.RegionDownload) {
	defer o.wg.Done()

	region, err := o.backend.CreateRegion(o.ctx, member.Definition, member.Metadata)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}

	g, ok := o.groupLocked(launch)
	if !ok {
		// The group was cancelled while the region was being created
		if err == nil {
			o.wg.Add(1)
			go o.discardRegion(region)
		}
		return
	}

	if err != nil {
		o.logger.Error("Failed to create region for grouped download",
			zap.String("group", g.download.Key),
			zap.String("member", member.Key),
			zap.Error(err))
		o.events.Publish(domain.NewGroupEvent(domain.EventError, g.download).
			WithError(domain.ReasonCreateFailed, err.Error()))
		return
	}

	g.member = member.WithID(region.ID()).WithState(domain.StateActive)
	g.region = region
	g.download = g.download.WithCurrent(&g.member)

	region.SetObserver(&groupObserver{o: o, launch: launch, region: region})
	region.SetDownloadState(domain.RegionActive)
}

func (o *Orchestrator) discardRegion(region domain.Region) {
	defer o.wg.Done()
	if err := region.Delete(context.Background()); err != nil {
		o.logger.Warn("Failed to discard region created for a cancelled group",
			zap.Int64("region_id", region.ID()),
			zap.Error(err))
	}
}

// groupLocked returns the active group only if launch is its current member launch
func (o *Orchestrator) groupLocked(launch uint64) (*activeGroup, bool) {
	if o.group == nil || o.group.launch != launch {
		return nil, false
	}
	return o.group, true
}

func (o *Orchestrator) onGroupStatus(launch uint64, region domain.Region, status domain.RegionStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()

	g, ok := o.groupLocked(launch)
	if !ok || g.region != region {
		return
	}

	memberPercentage := percentage(status)
	g.member = g.member.WithProgress(memberPercentage)

	total := g.download.Size()
	finished := total - len(g.remaining)
	aggregate := groupPercentage(memberPercentage, finished, total)
	if aggregate < g.progress {
		aggregate = g.progress
	}
	g.progress = aggregate

	p := int(aggregate)
	if shouldPublish(p, g.lastPublished) {
		g.lastPublished = p
		g.download = g.download.WithCurrent(&g.member).WithProgress(p)
		o.logger.Debug("Grouped download progress",
			zap.String("group", g.download.Key),
			zap.Int("member_progress", memberPercentage),
			zap.Int("progress", p))
		o.events.Publish(domain.NewGroupEvent(domain.EventProgress, g.download))
	}

	if status.Complete() {
		o.completeMemberLocked(g)
	}
}

// completeMemberLocked publishes the partial success and advances the queue
func (o *Orchestrator) completeMemberLocked(g *activeGroup) {
	completed := g.member.WithProgress(100).WithState(domain.StateFinished)

	o.logger.Info("Grouped download member finished",
		zap.String("group", g.download.Key),
		zap.String("member", completed.Key),
		zap.Int64("region_id", completed.ID))
	o.events.Publish(domain.NewGroupEvent(domain.EventPartialSuccess, g.download).WithMember(completed))

	g.region.SetDownloadState(domain.RegionInactive)
	g.region.SetObserver(nil)
	g.region = nil
	g.remaining = g.remaining[1:]

	if len(g.remaining) == 0 {
		final := g.download.WithCurrent(nil).WithProgress(100).WithState(domain.StateFinished)
		o.group = nil
		o.logger.Info("Grouped download finished", zap.String("group", final.Key))
		o.events.Publish(domain.NewGroupEvent(domain.EventFinished, final))
		o.checkIdleLocked()
		return
	}

	next := g.remaining[0]
	g.download = g.download.WithCurrent(&next)
	o.launchMemberLocked()
}

func (o *Orchestrator) onGroupError(launch uint64, region domain.Region, regionErr domain.RegionError) {
	o.mu.Lock()
	defer o.mu.Unlock()

	g, ok := o.groupLocked(launch)
	if !ok || g.region != region {
		return
	}

	o.logger.Warn("Grouped download error",
		zap.String("group", g.download.Key),
		zap.String("reason", regionErr.Reason),
		zap.String("message", regionErr.Message))
	o.events.Publish(domain.NewGroupEvent(domain.EventError, g.download).
		WithError(regionErr.Reason, regionErr.Message))
}

func (o *Orchestrator) onGroupLimitExceeded(launch uint64, region domain.Region, limit int64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	g, ok := o.groupLocked(launch)
	if !ok || g.region != region {
		return
	}

	o.logger.Warn("Grouped download tile count limit exceeded",
		zap.String("group", g.download.Key),
		zap.Int64("limit", limit))
	o.events.Publish(domain.NewGroupEvent(domain.EventError, g.download).
		WithError(domain.ReasonLimitExceeded, limitMessage(limit)))
}

// groupObserver routes a member's status through the grouped progress path
type groupObserver struct {
	o      *Orchestrator
	launch uint64
	region domain.Region
}

func (g *groupObserver) OnStatusChanged(status domain.RegionStatus) {
	g.o.onGroupStatus(g.launch, g.region, status)
}

func (g *groupObserver) OnError(err domain.RegionError) {
	g.o.onGroupError(g.launch, g.region, err)
}

func (g *groupObserver) OnTileCountLimitExceeded(limit int64) {
	g.o.onGroupLimitExceeded(g.launch, g.region, limit)
}
