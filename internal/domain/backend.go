package domain

import "context"

// RegionState is the activity state of a backend region
type RegionState int

const (
	RegionInactive RegionState = iota
	RegionActive
)

// RegionStatus is a progress report for one backend region
type RegionStatus struct {
	DownloadState          RegionState `json:"download_state"`
	CompletedResourceCount int64       `json:"completed_resource_count"`
	CompletedResourceSize  int64       `json:"completed_resource_size"`
	RequiredResourceCount  int64       `json:"required_resource_count"`
}

// Complete checks if every required resource has been downloaded.
// A negative required count means the total is not known yet.
func (s RegionStatus) Complete() bool {
	return s.RequiredResourceCount >= 0 && s.CompletedResourceCount >= s.RequiredResourceCount
}

// RegionObserver receives the status stream of one region. Calls for the
// same region never overlap.
type RegionObserver interface {
	OnStatusChanged(status RegionStatus)
	OnError(err RegionError)
	OnTileCountLimitExceeded(limit int64)
}

// Region is the download-control handle of a backend region.
//
// Implementations never invoke the observer synchronously from within
// SetObserver, SetDownloadState or Delete.
type Region interface {
	ID() int64
	// SetObserver attaches the status observer, nil detaches it
	SetObserver(observer RegionObserver)
	SetDownloadState(state RegionState)
	// Delete removes the region and everything downloaded for it
	Delete(ctx context.Context) error
}

// Backend creates storage-engine regions
type Backend interface {
	CreateRegion(ctx context.Context, definition RegionDefinition, metadata []byte) (Region, error)
}

// PreviewRenderer renders a small preview image of a region
type PreviewRenderer interface {
	RenderPreview(ctx context.Context, definition RegionDefinition) ([]byte, error)
}

// PreviewSink receives rendered previews keyed by backend region id
type PreviewSink interface {
	ShowPreview(regionID int64, image []byte)
}
