package domain

import "time"

// DownloadRecord is the persisted history of a region or grouped download
type DownloadRecord struct {
	Key          string        `json:"key" gorm:"primaryKey"`
	RegionID     int64         `json:"region_id,omitempty" gorm:"index"`
	GroupKey     string        `json:"group_key,omitempty" gorm:"index"`
	IsGroup      bool          `json:"is_group"`
	Name         string        `json:"name"`
	State        DownloadState `json:"state" gorm:"not null;index"`
	Progress     int           `json:"progress"`
	ErrorReason  string        `json:"error_reason,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time     `json:"updated_at" gorm:"autoUpdateTime"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

// DownloadRecordRepository defines the interface for download history persistence
type DownloadRecordRepository interface {
	// Save inserts or updates a record by key
	Save(record *DownloadRecord) error

	// FindByKey finds a record by key
	FindByKey(key string) (*DownloadRecord, error)

	// FindAll finds all records with optional filters
	FindAll(filters map[string]interface{}) ([]*DownloadRecord, error)

	// GetStats returns download statistics
	GetStats() (*DownloadStats, error)
}

// DownloadStats represents download statistics
type DownloadStats struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Active    int64 `json:"active"`
	Finished  int64 `json:"finished"`
	Cancelled int64 `json:"cancelled"`
	Errored   int64 `json:"errored"`
}
