package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyGroup is returned when a grouped download has no members
	ErrEmptyGroup = errors.New("grouped download list is empty")

	// ErrAlreadyActive is returned when a grouped download is submitted while another one runs
	ErrAlreadyActive = errors.New("a grouped download is already active")

	// ErrInvalidDefinition is returned for region definitions a backend cannot use
	ErrInvalidDefinition = errors.New("invalid region definition")

	// ErrClosed is returned by an orchestrator that has been shut down
	ErrClosed = errors.New("orchestrator is shut down")

	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")
)

// Error reason codes carried by Error events
const (
	ReasonEmptyGroup        = "empty_group"
	ReasonAlreadyActive     = "already_active"
	ReasonInvalidDefinition = "invalid_definition"
	ReasonCreateFailed      = "create_failed"
	ReasonDeleteFailed      = "delete_failed"
	ReasonLimitExceeded     = "resource_limit_exceeded"
)

// Backend runtime reasons
const (
	ReasonConnection = "connection"
	ReasonServer     = "server"
	ReasonNotFound   = "not_found"
	ReasonOther      = "other"
)

// RegionError is a mid-download failure reported by a backend.
// It is not terminal: the download keeps running.
type RegionError struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (e *RegionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}
