package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// DownloadState represents the lifecycle state of a region or grouped download
type DownloadState string

const (
	StateIdle      DownloadState = "idle"    // Group created, nothing launched yet
	StatePending   DownloadState = "pending" // Submitted, backend region not created yet
	StateActive    DownloadState = "active"
	StateFinished  DownloadState = "finished"
	StateCancelled DownloadState = "cancelled"
	StateErrored   DownloadState = "errored"
)

// IsTerminal checks if the state is a terminal state
func (s DownloadState) IsTerminal() bool {
	return s == StateFinished || s == StateCancelled || s == StateErrored
}

// LatLngBounds is a geographic bounding box in degrees
type LatLngBounds struct {
	North float64 `json:"north" mapstructure:"north"`
	South float64 `json:"south" mapstructure:"south"`
	East  float64 `json:"east" mapstructure:"east"`
	West  float64 `json:"west" mapstructure:"west"`
}

// Center returns the centre of the bounds
func (b LatLngBounds) Center() (lat, lng float64) {
	return (b.North + b.South) / 2, (b.East + b.West) / 2
}

// RegionDefinition describes what to download for one region
type RegionDefinition struct {
	Bounds LatLngBounds `json:"bounds"`
	// StyleURL is the tile source template, e.g. https://tile.example.com/{z}/{x}/{y}.png
	StyleURL   string  `json:"style_url"`
	MinZoom    float64 `json:"min_zoom"`
	MaxZoom    float64 `json:"max_zoom"`
	PixelRatio float64 `json:"pixel_ratio"`
	// TileLimit caps the number of tiles the backend may store for this region.
	// Zero means the backend default applies.
	TileLimit int64 `json:"tile_limit,omitempty"`
}

// Validate checks that the definition can be handed to a backend
func (d RegionDefinition) Validate() error {
	if d.StyleURL == "" {
		return fmt.Errorf("%w: style url is required", ErrInvalidDefinition)
	}
	b := d.Bounds
	if b.North < -90 || b.North > 90 || b.South < -90 || b.South > 90 {
		return fmt.Errorf("%w: latitude out of range", ErrInvalidDefinition)
	}
	if b.West < -180 || b.West > 180 || b.East < -180 || b.East > 180 {
		return fmt.Errorf("%w: longitude out of range", ErrInvalidDefinition)
	}
	if b.South > b.North {
		return fmt.Errorf("%w: south %.6f is north of %.6f", ErrInvalidDefinition, b.South, b.North)
	}
	if b.West > b.East {
		return fmt.Errorf("%w: west %.6f is east of %.6f", ErrInvalidDefinition, b.West, b.East)
	}
	if d.MinZoom < 0 || d.MaxZoom < d.MinZoom {
		return fmt.Errorf("%w: invalid zoom range [%v, %v]", ErrInvalidDefinition, d.MinZoom, d.MaxZoom)
	}
	if d.TileLimit < 0 {
		return fmt.Errorf("%w: tile limit cannot be negative", ErrInvalidDefinition)
	}
	return nil
}

// NotificationOptions configures how a download is presented to the user
type NotificationOptions struct {
	Title      string `json:"title,omitempty"`
	Text       string `json:"text,omitempty"`
	CancelText string `json:"cancel_text,omitempty"`
	// RequestMapSnapshot asks for a rendered preview of the region
	RequestMapSnapshot bool `json:"request_map_snapshot,omitempty"`
}

// RegionDownload is an immutable snapshot of one region download request.
// State changes produce a new value through the With* methods.
type RegionDownload struct {
	// Key is assigned on submission and never changes
	Key string `json:"key"`
	// ID is assigned by the backend once the region exists, zero until then
	ID           int64               `json:"id,omitempty"`
	Name         string              `json:"name"`
	Definition   RegionDefinition    `json:"definition"`
	Metadata     []byte              `json:"metadata,omitempty"`
	Notification NotificationOptions `json:"notification"`
	Progress     int                 `json:"progress"`
	State        DownloadState       `json:"state"`
}

// NewRegionDownload creates a new pending region download
func NewRegionDownload(name string, definition RegionDefinition, metadata []byte, notification NotificationOptions) RegionDownload {
	return RegionDownload{
		Key:          uuid.New().String(),
		Name:         name,
		Definition:   definition,
		Metadata:     metadata,
		Notification: notification,
		State:        StatePending,
	}
}

// HasID reports whether the backend region has been created
func (d RegionDownload) HasID() bool {
	return d.ID != 0
}

// WithID returns a copy carrying the backend region id
func (d RegionDownload) WithID(id int64) RegionDownload {
	d.ID = id
	return d
}

// WithProgress returns a copy with the given percentage
func (d RegionDownload) WithProgress(progress int) RegionDownload {
	d.Progress = progress
	return d
}

// WithState returns a copy in the given state
func (d RegionDownload) WithState(state DownloadState) RegionDownload {
	d.State = state
	return d
}

// DisplayName returns the name shown to users
func (d RegionDownload) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	if d.Notification.Title != "" {
		return d.Notification.Title
	}
	return d.Key
}
