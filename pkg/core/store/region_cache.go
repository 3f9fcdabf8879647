package store

import (
	"sync"

	"stock_research/pkg/models"
)

// RegionCache memoizes the last successful recommendation list per region
// for the lifetime of the process. Entries never expire; an empty list is
// never stored, so a failed or empty fetch is retried on the next request
// instead of being served forever.
//
// Slices handed to Put or returned by Get must be treated as read-only.
type RegionCache struct {
	mu      sync.RWMutex
	entries map[models.Region][]models.SectorRecommendation
}

// NewRegionCache creates an empty cache.
func NewRegionCache() *RegionCache {
	return &RegionCache{entries: make(map[models.Region][]models.SectorRecommendation)}
}

// Get returns the cached list for region, if any.
func (c *RegionCache) Get(region models.Region) ([]models.SectorRecommendation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sectors, ok := c.entries[region]
	return sectors, ok
}

// Put stores sectors for region and reports whether it did. Empty lists are
// ignored.
func (c *RegionCache) Put(region models.Region, sectors []models.SectorRecommendation) bool {
	if len(sectors) == 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[region] = sectors
	return true
}

// Len returns the number of cached regions.
func (c *RegionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Reset drops every entry. The research service never calls it; it exists
// for tests and operators.
func (c *RegionCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[models.Region][]models.SectorRecommendation)
}
