package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies a lifecycle transition
type EventKind string

const (
	EventStarted        EventKind = "started"
	EventProgress       EventKind = "progress"
	EventPartialSuccess EventKind = "partial_success" // Group member finished
	EventFinished       EventKind = "finished"
	EventCancelled      EventKind = "cancelled"
	EventError          EventKind = "error"
)

// Event is a state change published by the orchestrator. Exactly one of
// Download or Group is set.
type Event struct {
	ID       string          `json:"id"`
	Kind     EventKind       `json:"kind"`
	Download *RegionDownload `json:"download,omitempty"`
	Group    *GroupDownload  `json:"group,omitempty"`
	// Member is the completed member for EventPartialSuccess
	Member   *RegionDownload `json:"member,omitempty"`
	Progress int             `json:"progress"`
	Reason   string          `json:"reason,omitempty"`
	Message  string          `json:"message,omitempty"`
	Time     time.Time       `json:"time"`
}

// NewDownloadEvent creates an event about a single region download
func NewDownloadEvent(kind EventKind, download RegionDownload) Event {
	return Event{
		ID:       uuid.New().String(),
		Kind:     kind,
		Download: &download,
		Progress: download.Progress,
		Time:     time.Now(),
	}
}

// NewGroupEvent creates an event about a grouped download
func NewGroupEvent(kind EventKind, group GroupDownload) Event {
	return Event{
		ID:       uuid.New().String(),
		Kind:     kind,
		Group:    &group,
		Progress: group.Progress,
		Time:     time.Now(),
	}
}

// WithError returns a copy carrying an error reason and message
func (e Event) WithError(reason, message string) Event {
	e.Reason = reason
	e.Message = message
	return e
}

// WithMember returns a copy carrying the member a partial success refers to
func (e Event) WithMember(member RegionDownload) Event {
	e.Member = &member
	return e
}

// IsGroup reports whether the event is about a grouped download
func (e Event) IsGroup() bool {
	return e.Group != nil
}

// Subject returns the key of the job or group the event is about
func (e Event) Subject() string {
	switch {
	case e.Group != nil:
		return e.Group.Key
	case e.Download != nil:
		return e.Download.Key
	default:
		return ""
	}
}

// EventPublisher receives orchestrator events. Publish must not block.
type EventPublisher interface {
	Publish(event Event)
}
