package domain

import "github.com/google/uuid"

// GroupDownload is an immutable snapshot of an ordered batch of region
// downloads processed one at a time.
//
// Members is shared between snapshots of the same group and must never be
// mutated after NewGroupDownload.
type GroupDownload struct {
	Key          string              `json:"key"`
	Members      []RegionDownload    `json:"members"`
	Current      *RegionDownload     `json:"current,omitempty"`
	Progress     int                 `json:"progress"`
	Notification NotificationOptions `json:"notification"`
	State        DownloadState       `json:"state"`
}

// NewGroupDownload creates a new idle grouped download
func NewGroupDownload(members []RegionDownload, notification NotificationOptions) GroupDownload {
	owned := make([]RegionDownload, len(members))
	copy(owned, members)
	for i := range owned {
		if owned[i].Key == "" {
			owned[i].Key = uuid.New().String()
		}
		if owned[i].State == "" {
			owned[i].State = StatePending
		}
	}
	return GroupDownload{
		Key:          uuid.New().String(),
		Members:      owned,
		Notification: notification,
		State:        StateIdle,
	}
}

// WithCurrent returns a copy whose active member is the given snapshot.
// A nil member clears it.
func (g GroupDownload) WithCurrent(member *RegionDownload) GroupDownload {
	if member == nil {
		g.Current = nil
		return g
	}
	m := *member
	g.Current = &m
	return g
}

// WithProgress returns a copy with the given aggregate percentage
func (g GroupDownload) WithProgress(progress int) GroupDownload {
	g.Progress = progress
	return g
}

// WithState returns a copy in the given state
func (g GroupDownload) WithState(state DownloadState) GroupDownload {
	g.State = state
	return g
}

// Size returns the number of member regions
func (g GroupDownload) Size() int {
	return len(g.Members)
}
