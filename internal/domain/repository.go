package domain

import "time"

// ResourceRepository persists last-known-good responses
type ResourceRepository interface {
	// Get returns the cached resource or nil when absent
	Get(resourceType, resourceID string) (*Resource, error)

	// Put stores the resource unless a fresher copy is already stored.
	// It reports whether the write was applied.
	Put(resource *Resource) (bool, error)

	// Delete removes a cached resource; deleting an absent one is not an error
	Delete(resourceType, resourceID string) error

	// PruneResources removes resources fetched before the cutoff
	PruneResources(olderThan time.Time) (int64, error)
}

// DownloadRepository defines the interface for download persistence
type DownloadRepository interface {
	// GetDownload finds a download by key or returns nil when absent
	GetDownload(id string) (*Download, error)

	// PutDownload creates or replaces a download record
	PutDownload(download *Download) error

	// DeleteDownload deletes a download by key; deleting an absent one is not an error
	DeleteDownload(id string) error

	// ListDownloads lists downloads matching the filter, newest first
	ListDownloads(filter DownloadFilter) ([]*Download, error)

	// GetStats returns download statistics
	GetStats() (*DownloadStats, error)
}

// CacheStore is the local store owning every persisted entity
type CacheStore interface {
	ResourceRepository
	DownloadRepository
	SchemaVersion() (int, error)
	Close() error
}
