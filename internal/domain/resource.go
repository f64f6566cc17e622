package domain

import "time"

// Resource is a cached remote entity identified by type and id
type Resource struct {
	ResourceType string    `json:"resource_type" gorm:"primaryKey"`
	ResourceID   string    `json:"resource_id" gorm:"primaryKey"`
	Payload      []byte    `json:"payload" gorm:"type:blob"`
	ETag         string    `json:"etag,omitempty"`
	Version      int64     `json:"version"`
	FetchedAt    time.Time `json:"fetched_at" gorm:"not null;index"`
}

// NotOlderThan reports whether r may replace stored under last-write-wins.
// Versions decide when both sides carry one; otherwise fetch times do.
func (r *Resource) NotOlderThan(stored *Resource) bool {
	if stored == nil {
		return true
	}
	if r.Version > 0 && stored.Version > 0 {
		return r.Version >= stored.Version
	}
	return !r.FetchedAt.Before(stored.FetchedAt)
}

// CachePolicy governs cache vs network precedence for a fetch
type CachePolicy string

const (
	PolicyCacheOnly        CachePolicy = "cache_only"
	PolicyCacheThenNetwork CachePolicy = "cache_then_network"
	PolicyNetworkOnly      CachePolicy = "network_only"
)

// ValidatePolicy checks if a cache policy is valid
func ValidatePolicy(policy CachePolicy) bool {
	return policy == PolicyCacheOnly || policy == PolicyCacheThenNetwork || policy == PolicyNetworkOnly
}

// UsesNetwork reports whether the policy may hit the network
func (p CachePolicy) UsesNetwork() bool {
	return p != PolicyCacheOnly
}
