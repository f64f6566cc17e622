package infrastructure

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Guna-13/xikolo-android/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLiteCacheStore implements domain.CacheStore using SQLite
type SQLiteCacheStore struct {
	db *gorm.DB
}

// NewSQLiteCacheStore opens the store and applies pending schema migrations.
// A migration failure is returned before any cache read or write can happen.
func NewSQLiteCacheStore(dbPath string) (*SQLiteCacheStore, error) {
	return openSQLiteCacheStore(dbPath, Migrations)
}

func openSQLiteCacheStore(dbPath string, migrations []Migration) (*SQLiteCacheStore, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = dbPath + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database handle: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db, migrations); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &SQLiteCacheStore{db: db}, nil
}

// DB exposes the underlying handle to stores sharing the database
func (s *SQLiteCacheStore) DB() *gorm.DB {
	return s.db
}

// SchemaVersion returns the stored schema version
func (s *SQLiteCacheStore) SchemaVersion() (int, error) {
	return readSchemaVersion(s.db)
}

// Get returns the cached resource or nil when absent
func (s *SQLiteCacheStore) Get(resourceType, resourceID string) (*domain.Resource, error) {
	var resource domain.Resource
	err := s.db.First(&resource, "resource_type = ? AND resource_id = ?", resourceType, resourceID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &resource, nil
}

// Put stores the resource unless a fresher copy is already stored
func (s *SQLiteCacheStore) Put(resource *domain.Resource) (bool, error) {
	if resource.ResourceType == "" || resource.ResourceID == "" {
		return false, fmt.Errorf("resource identity is incomplete: %q/%q", resource.ResourceType, resource.ResourceID)
	}
	if resource.FetchedAt.IsZero() {
		resource.FetchedAt = time.Now()
	}

	applied := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var stored domain.Resource
		err := tx.First(&stored, "resource_type = ? AND resource_id = ?", resource.ResourceType, resource.ResourceID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		default:
			if !resource.NotOlderThan(&stored) {
				return nil
			}
		}

		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(resource).Error; err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to store resource %s/%s: %w", resource.ResourceType, resource.ResourceID, err)
	}
	return applied, nil
}

// Delete removes a cached resource
func (s *SQLiteCacheStore) Delete(resourceType, resourceID string) error {
	return s.db.Delete(&domain.Resource{}, "resource_type = ? AND resource_id = ?", resourceType, resourceID).Error
}

// PruneResources removes resources fetched before the cutoff
func (s *SQLiteCacheStore) PruneResources(olderThan time.Time) (int64, error) {
	result := s.db.Where("fetched_at < ?", olderThan).Delete(&domain.Resource{})
	return result.RowsAffected, result.Error
}

// GetDownload finds a download by key
func (s *SQLiteCacheStore) GetDownload(id string) (*domain.Download, error) {
	var download domain.Download
	err := s.db.First(&download, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &download, nil
}

// PutDownload creates or replaces a download record
func (s *SQLiteCacheStore) PutDownload(download *domain.Download) error {
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(download).Error
}

// DeleteDownload deletes a download by key
func (s *SQLiteCacheStore) DeleteDownload(id string) error {
	return s.db.Delete(&domain.Download{}, "id = ?", id).Error
}

// ListDownloads lists downloads matching the filter
func (s *SQLiteCacheStore) ListDownloads(filter domain.DownloadFilter) ([]*domain.Download, error) {
	var downloads []*domain.Download
	query := s.db
	if filter.CourseID != "" {
		query = query.Where("course_id = ?", filter.CourseID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	err := query.Order("created_at DESC").Find(&downloads).Error
	return downloads, err
}

// GetStats returns download statistics
func (s *SQLiteCacheStore) GetStats() (*domain.DownloadStats, error) {
	stats := &domain.DownloadStats{}

	statusCounts := []struct {
		Status domain.DownloadStatus
		Count  int64
	}{}

	if err := s.db.Model(&domain.Download{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&statusCounts).Error; err != nil {
		return nil, err
	}

	for _, sc := range statusCounts {
		stats.Total += sc.Count
		switch sc.Status {
		case domain.StatusQueued:
			stats.Queued = sc.Count
		case domain.StatusRunning:
			stats.Running = sc.Count
		case domain.StatusPaused:
			stats.Paused = sc.Count
		case domain.StatusCompleted:
			stats.Completed = sc.Count
		case domain.StatusFailed:
			stats.Failed = sc.Count
		}
	}

	return stats, nil
}

// Close closes the database connection
func (s *SQLiteCacheStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
