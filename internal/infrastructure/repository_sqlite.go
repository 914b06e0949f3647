package infrastructure

import (
	"errors"
	"fmt"

	"github.com/yourusername/wallcache-go/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLiteHistoryRepository implements HistoryRepository using SQLite
type SQLiteHistoryRepository struct {
	db *gorm.DB
}

// NewSQLiteHistoryRepository creates a new SQLite repository
func NewSQLiteHistoryRepository(dbPath string) (*SQLiteHistoryRepository, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Auto-migrate the schema for batches and their tasks
	if err := db.AutoMigrate(&domain.BatchRecord{}, &domain.TaskRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteHistoryRepository{db: db}, nil
}

// CreateBatch stores a batch and its tasks
func (r *SQLiteHistoryRepository) CreateBatch(batch *domain.BatchRecord) error {
	return r.db.Create(batch).Error
}

// FindBatch finds a batch by ID with tasks ordered by position
func (r *SQLiteHistoryRepository) FindBatch(id string) (*domain.BatchRecord, error) {
	var batch domain.BatchRecord
	err := r.db.Preload("Tasks", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).First(&batch, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &batch, nil
}

// ListBatches returns the most recent batches, newest first
func (r *SQLiteHistoryRepository) ListBatches(limit int) ([]*domain.BatchRecord, error) {
	var batches []*domain.BatchRecord
	query := r.db.Order("started_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&batches).Error
	return batches, err
}

// FindTasksByKey returns every recorded task for an entry key, most recent batch first
func (r *SQLiteHistoryRepository) FindTasksByKey(key string) ([]*domain.TaskRecord, error) {
	var tasks []*domain.TaskRecord
	err := r.db.
		Joins("JOIN batch_records ON batch_records.id = task_records.batch_id").
		Where("task_records.entry_key = ?", key).
		Order("batch_records.started_at DESC").
		Find(&tasks).Error
	return tasks, err
}

// GetStats returns aggregated history statistics
func (r *SQLiteHistoryRepository) GetStats() (*domain.HistoryStats, error) {
	stats := &domain.HistoryStats{}

	if err := r.db.Model(&domain.BatchRecord{}).Count(&stats.Batches).Error; err != nil {
		return nil, err
	}
	if err := r.db.Model(&domain.TaskRecord{}).Count(&stats.Tasks).Error; err != nil {
		return nil, err
	}

	// Get counts by status
	statusCounts := []struct {
		Status domain.TaskStatus
		Count  int64
	}{}

	if err := r.db.Model(&domain.TaskRecord{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&statusCounts).Error; err != nil {
		return nil, err
	}

	for _, sc := range statusCounts {
		switch sc.Status {
		case domain.StatusDownloaded:
			stats.Downloaded = sc.Count
		case domain.StatusSkipped:
			stats.Skipped = sc.Count
		case domain.StatusFailed:
			stats.Failed = sc.Count
		case domain.StatusCancelled:
			stats.Cancelled = sc.Count
		}
	}

	return stats, nil
}

// Close closes the database connection
func (r *SQLiteHistoryRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
