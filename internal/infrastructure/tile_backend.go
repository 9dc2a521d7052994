package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourusername/offline-go/internal/domain"
)

// minRetryDelay keeps a failing region from spinning
const minRetryDelay = 10 * time.Millisecond

// OfflineRegion is a stored offline region
type OfflineRegion struct {
	ID             int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	StyleURL       string    `json:"style_url" gorm:"not null"`
	North          float64   `json:"north"`
	South          float64   `json:"south"`
	East           float64   `json:"east"`
	West           float64   `json:"west"`
	MinZoom        float64   `json:"min_zoom"`
	MaxZoom        float64   `json:"max_zoom"`
	PixelRatio     float64   `json:"pixel_ratio"`
	TileLimit      int64     `json:"tile_limit"`
	Metadata       []byte    `json:"metadata,omitempty"`
	RequiredTiles  int64     `json:"required_tiles"`
	CompletedTiles int64     `json:"completed_tiles"`
	CompletedSize  int64     `json:"completed_size"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (OfflineRegion) TableName() string { return "offline_regions" }

// OfflineTile is one downloaded tile of a region
type OfflineTile struct {
	RegionID  int64 `gorm:"primaryKey;autoIncrement:false"`
	Z         int   `gorm:"primaryKey;autoIncrement:false"`
	X         int   `gorm:"primaryKey;autoIncrement:false"`
	Y         int   `gorm:"primaryKey;autoIncrement:false"`
	Data      []byte
	Size      int64
	CreatedAt time.Time
}

// TableName overrides the table name
func (OfflineTile) TableName() string { return "offline_tiles" }

// TileBackend is a download backend that fetches slippy-map tiles over
// HTTP and stores them in SQLite.
type TileBackend struct {
	db      *gorm.DB
	fetcher *TileFetcher
	config  domain.BackendConfig
	logger  *zap.Logger

	// ctx is the parent of every download loop, cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTileBackend creates a new tile backend
func NewTileBackend(db *gorm.DB, fetcher *TileFetcher, config domain.BackendConfig, logger *zap.Logger) (*TileBackend, error) {
	if err := db.AutoMigrate(&OfflineRegion{}, &OfflineTile{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TileBackend{
		db:      db,
		fetcher: fetcher,
		config:  config,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Close stops every download loop and waits for them to return. Stored
// regions and tiles are kept.
func (b *TileBackend) Close() {
	b.cancel()
	b.wg.Wait()
}

// CreateRegion stores a new region. Nothing is downloaded until the region
// is activated.
func (b *TileBackend) CreateRegion(ctx context.Context, definition domain.RegionDefinition, metadata []byte) (domain.Region, error) {
	if err := definition.Validate(); err != nil {
		return nil, err
	}

	limit := definition.TileLimit
	if limit == 0 {
		limit = b.config.DefaultTileLimit
	}

	row := &OfflineRegion{
		StyleURL:      definition.StyleURL,
		North:         definition.Bounds.North,
		South:         definition.Bounds.South,
		East:          definition.Bounds.East,
		West:          definition.Bounds.West,
		MinZoom:       definition.MinZoom,
		MaxZoom:       definition.MaxZoom,
		PixelRatio:    definition.PixelRatio,
		TileLimit:     limit,
		Metadata:      metadata,
		RequiredTiles: CountTiles(definition),
	}
	if err := b.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to create offline region: %w", err)
	}

	b.logger.Info("Offline region created",
		zap.Int64("region_id", row.ID),
		zap.Int64("required_tiles", row.RequiredTiles),
		zap.Int64("tile_limit", limit))

	return &tileRegion{
		backend:    b,
		id:         row.ID,
		definition: definition,
		required:   row.RequiredTiles,
		limit:      limit,
	}, nil
}

// ListRegions returns every stored region
func (b *TileBackend) ListRegions(ctx context.Context) ([]OfflineRegion, error) {
	var regions []OfflineRegion
	err := b.db.WithContext(ctx).Omit("metadata").Order("id ASC").Find(&regions).Error
	return regions, err
}

// storedTiles returns the tiles already downloaded for a region and their total size
func (b *TileBackend) storedTiles(ctx context.Context, regionID int64) (map[TileCoord]bool, int64, error) {
	var tiles []OfflineTile
	err := b.db.WithContext(ctx).
		Select("z", "x", "y", "size").
		Where("region_id = ?", regionID).
		Find(&tiles).Error
	if err != nil {
		return nil, 0, err
	}

	stored := make(map[TileCoord]bool, len(tiles))
	var size int64
	for _, t := range tiles {
		stored[TileCoord{Z: t.Z, X: t.X, Y: t.Y}] = true
		size += t.Size
	}
	return stored, size, nil
}

// saveTile stores a tile and reports whether it was new
func (b *TileBackend) saveTile(ctx context.Context, regionID int64, coord TileCoord, data []byte) (bool, error) {
	result := b.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&OfflineTile{
			RegionID: regionID,
			Z:        coord.Z,
			X:        coord.X,
			Y:        coord.Y,
			Data:     data,
			Size:     int64(len(data)),
		})
	return result.RowsAffected > 0, result.Error
}

func (b *TileBackend) saveProgress(regionID, completed, size int64) {
	err := b.db.Model(&OfflineRegion{}).
		Where("id = ?", regionID).
		Updates(map[string]interface{}{"completed_tiles": completed, "completed_size": size}).Error
	if err != nil {
		b.logger.Warn("Failed to save region progress", zap.Int64("region_id", regionID), zap.Error(err))
	}
}

func (b *TileBackend) deleteRegion(ctx context.Context, regionID int64) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("region_id = ?", regionID).Delete(&OfflineTile{}).Error; err != nil {
			return err
		}
		return tx.Delete(&OfflineRegion{}, regionID).Error
	})
}

// Tile returns a stored tile
func (b *TileBackend) Tile(ctx context.Context, regionID int64, coord TileCoord) ([]byte, error) {
	var tile OfflineTile
	err := b.db.WithContext(ctx).
		Where("region_id = ? AND z = ? AND x = ? AND y = ?", regionID, coord.Z, coord.X, coord.Y).
		First(&tile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("tile %d/%d/%d of region %d: %w", coord.Z, coord.X, coord.Y, regionID, domain.ErrNotFound)
		}
		return nil, err
	}
	return tile.Data, nil
}

func (b *TileBackend) retryDelay() time.Duration {
	if b.config.RetryDelay < minRetryDelay {
		return minRetryDelay
	}
	return b.config.RetryDelay
}

// tileRegion is the download-control handle of a stored region
type tileRegion struct {
	backend    *TileBackend
	id         int64
	definition domain.RegionDefinition
	required   int64
	limit      int64

	mu       sync.Mutex
	observer domain.RegionObserver
	cancel   context.CancelFunc
	done     chan struct{}
	deleted  bool
}

func (r *tileRegion) ID() int64 { return r.id }

func (r *tileRegion) SetObserver(observer domain.RegionObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = observer
}

// SetDownloadState starts or stops the download loop without waiting for it
func (r *tileRegion) SetDownloadState(state domain.RegionState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch state {
	case domain.RegionActive:
		if r.cancel != nil || r.deleted {
			return
		}
		if r.backend.ctx.Err() != nil {
			return
		}
		ctx, cancel := context.WithCancel(r.backend.ctx)
		r.cancel, r.done = cancel, make(chan struct{})
		r.backend.wg.Add(1)
		go r.run(ctx, r.done)
	case domain.RegionInactive:
		r.stopLocked()
	}
}

func (r *tileRegion) stopLocked() <-chan struct{} {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	done := r.done
	r.cancel, r.done = nil, nil
	return done
}

// Delete stops the download loop and removes the region with its tiles
func (r *tileRegion) Delete(ctx context.Context) error {
	r.mu.Lock()
	done := r.stopLocked()
	r.deleted = true
	r.observer = nil
	r.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := r.backend.deleteRegion(ctx, r.id); err != nil {
		return fmt.Errorf("failed to delete region %d: %w", r.id, err)
	}
	r.backend.logger.Info("Offline region deleted", zap.Int64("region_id", r.id))
	return nil
}

func (r *tileRegion) currentObserver() domain.RegionObserver {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.observer
}

func (r *tileRegion) reportStatus(status domain.RegionStatus) {
	if o := r.currentObserver(); o != nil {
		o.OnStatusChanged(status)
	}
}

func (r *tileRegion) reportError(err domain.RegionError) {
	if o := r.currentObserver(); o != nil {
		o.OnError(err)
	}
}

func (r *tileRegion) reportLimit(limit int64) {
	if o := r.currentObserver(); o != nil {
		o.OnTileCountLimitExceeded(limit)
	}
}

func (r *tileRegion) status(completed, size int64) domain.RegionStatus {
	return domain.RegionStatus{
		DownloadState:          domain.RegionActive,
		CompletedResourceCount: completed,
		CompletedResourceSize:  size,
		RequiredResourceCount:  r.required,
	}
}

// run downloads missing tiles in passes until the region is complete, the
// tile limit is reached or ctx is cancelled. All observer calls of a
// region happen on this goroutine.
func (r *tileRegion) run(ctx context.Context, done chan struct{}) {
	defer r.backend.wg.Done()
	defer close(done)

	for ctx.Err() == nil {
		stored, size, err := r.backend.storedTiles(ctx, r.id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.reportError(domain.RegionError{Reason: domain.ReasonOther, Message: err.Error()})
			if !sleepContext(ctx, r.backend.retryDelay()) {
				return
			}
			continue
		}

		completed := int64(len(stored))
		status := r.status(completed, size)
		r.reportStatus(status)
		if status.Complete() {
			return
		}
		if r.limit > 0 && completed >= r.limit {
			r.backend.logger.Warn("Tile count limit exceeded",
				zap.Int64("region_id", r.id),
				zap.Int64("limit", r.limit),
				zap.Int64("required_tiles", r.required))
			r.reportLimit(r.limit)
			return
		}

		fetched, failed := r.downloadPass(ctx, stored, completed, size)
		if ctx.Err() != nil {
			return
		}
		if failed == 0 && fetched == 0 {
			return
		}
		if failed > 0 && !sleepContext(ctx, r.backend.retryDelay()) {
			return
		}
	}
}

type tileResult struct {
	coord TileCoord
	data  []byte
	err   error
}

// downloadPass fetches every missing tile once, within the tile limit
func (r *tileRegion) downloadPass(ctx context.Context, stored map[TileCoord]bool, completed, size int64) (fetched, failed int) {
	allowed := int64(math.MaxInt64)
	if r.limit > 0 {
		allowed = r.limit - completed
	}

	results := make(chan tileResult)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.backend.config.Concurrency)

	go func() {
		var queued int64
		EachTile(r.definition, func(coord TileCoord) bool {
			if stored[coord] {
				return true
			}
			if queued >= allowed || gctx.Err() != nil {
				return false
			}
			queued++
			g.Go(func() error {
				data, err := r.fetch(gctx, coord)
				select {
				case results <- tileResult{coord: coord, data: data, err: err}:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
			return true
		})
		_ = g.Wait()
		close(results)
	}()

	for res := range results {
		if ctx.Err() != nil {
			continue
		}
		if res.err != nil {
			failed++
			r.reportError(asRegionError(res.err))
			continue
		}

		added, err := r.backend.saveTile(ctx, r.id, res.coord, res.data)
		if err != nil {
			if ctx.Err() == nil {
				failed++
				r.reportError(domain.RegionError{Reason: domain.ReasonOther, Message: err.Error()})
			}
			continue
		}
		if !added {
			continue
		}

		fetched++
		completed++
		size += int64(len(res.data))
		r.reportStatus(r.status(completed, size))
	}

	r.backend.saveProgress(r.id, completed, size)
	return fetched, failed
}

// fetch downloads one tile, retrying up to the configured number of times
func (r *tileRegion) fetch(ctx context.Context, coord TileCoord) ([]byte, error) {
	url := TileURL(r.definition.StyleURL, coord, r.definition.PixelRatio)

	var lastErr error
	for attempt := 0; attempt <= r.backend.config.MaxRetries; attempt++ {
		if attempt > 0 && !sleepContext(ctx, r.backend.retryDelay()) {
			return nil, ctx.Err()
		}
		data, err := r.backend.fetcher.Fetch(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
		r.backend.logger.Debug("Tile fetch failed",
			zap.Int64("region_id", r.id),
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, lastErr
}

// sleepContext waits for d and reports false if ctx ended first
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
