package infrastructure

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourusername/offline-go/internal/domain"
)

// recordFilterColumns are the columns FindAll accepts as filters
var recordFilterColumns = map[string]bool{
	"state":     true,
	"is_group":  true,
	"group_key": true,
	"region_id": true,
}

// SQLiteRecordRepository implements DownloadRecordRepository using SQLite
type SQLiteRecordRepository struct {
	db *gorm.DB
}

// NewSQLiteRecordRepository creates a new SQLite history repository
func NewSQLiteRecordRepository(db *gorm.DB) (*SQLiteRecordRepository, error) {
	if err := db.AutoMigrate(&domain.DownloadRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &SQLiteRecordRepository{db: db}, nil
}

// Save inserts the record or updates every column but created_at
func (r *SQLiteRecordRepository) Save(record *domain.DownloadRecord) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"region_id", "group_key", "is_group", "name", "state", "progress",
			"error_reason", "error_message", "updated_at", "finished_at",
		}),
	}).Create(record).Error
}

// FindByKey finds a record by key
func (r *SQLiteRecordRepository) FindByKey(key string) (*domain.DownloadRecord, error) {
	var record domain.DownloadRecord
	err := r.db.Where(&domain.DownloadRecord{Key: key}).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("download record %s: %w", key, domain.ErrNotFound)
		}
		return nil, err
	}
	return &record, nil
}

// FindAll finds all records with optional filters, newest first
func (r *SQLiteRecordRepository) FindAll(filters map[string]interface{}) ([]*domain.DownloadRecord, error) {
	var records []*domain.DownloadRecord
	query := r.db

	for key, value := range filters {
		if !recordFilterColumns[key] {
			return nil, fmt.Errorf("unsupported filter: %s", key)
		}
		query = query.Where(fmt.Sprintf("%s = ?", key), value)
	}

	err := query.Order("created_at DESC").Find(&records).Error
	return records, err
}

// GetStats returns download statistics
func (r *SQLiteRecordRepository) GetStats() (*domain.DownloadStats, error) {
	stats := &domain.DownloadStats{}

	if err := r.db.Model(&domain.DownloadRecord{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}

	stateCounts := []struct {
		State domain.DownloadState
		Count int64
	}{}

	if err := r.db.Model(&domain.DownloadRecord{}).
		Select("state, count(*) as count").
		Group("state").
		Scan(&stateCounts).Error; err != nil {
		return nil, err
	}

	for _, sc := range stateCounts {
		switch sc.State {
		case domain.StatePending, domain.StateIdle:
			stats.Pending += sc.Count
		case domain.StateActive:
			stats.Active = sc.Count
		case domain.StateFinished:
			stats.Finished = sc.Count
		case domain.StateCancelled:
			stats.Cancelled = sc.Count
		case domain.StateErrored:
			stats.Errored = sc.Count
		}
	}

	return stats, nil
}
