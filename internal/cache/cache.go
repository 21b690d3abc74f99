package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/lawble/courtsync/internal/database"
	"github.com/patrickmn/go-cache"
)

// SnapshotCache keeps hot case snapshots in memory so read paths and
// repeated polls avoid a storage round trip.
type SnapshotCache interface {
	Get(key string) (*database.CaseSnapshot, bool)
	Set(key string, value *database.CaseSnapshot) error
	Delete(key string)
	Clear()
	Stats() CacheStats
}

type CacheStats struct {
	Hits       int64     `json:"hits"`
	Misses     int64     `json:"misses"`
	Size       int       `json:"size"`
	LastAccess time.Time `json:"last_access"`
}

type snapshotCache struct {
	cache   *cache.Cache
	mu      sync.RWMutex
	stats   CacheStats
	maxSize int
}

func NewCache(maxSize int, ttl time.Duration) SnapshotCache {
	return &snapshotCache{
		cache:   cache.New(ttl, ttl*2),
		maxSize: maxSize,
		stats:   CacheStats{},
	}
}

func (c *snapshotCache) Get(key string) (*database.CaseSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.LastAccess = time.Now()

	if data, found := c.cache.Get(key); found {
		c.stats.Hits++
		if snap, ok := data.(*database.CaseSnapshot); ok {
			return snap, true
		}
	}

	c.stats.Misses++
	return nil, false
}

func (c *snapshotCache) Set(key string, value *database.CaseSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cache.ItemCount() >= c.maxSize {
		c.removeOldest()
	}

	c.cache.Set(key, value, cache.DefaultExpiration)
	return nil
}

func (c *snapshotCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Delete(key)
}

func (c *snapshotCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Flush()
	c.stats = CacheStats{}
}

func (c *snapshotCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	c.stats.Size = c.cache.ItemCount()
	return c.stats
}

func (c *snapshotCache) removeOldest() {
	items := c.cache.Items()
	if len(items) == 0 {
		return
	}

	var oldestKey string
	var oldestTime time.Time

	for key, item := range items {
		if oldestTime.IsZero() || item.Expiration < oldestTime.Unix() {
			oldestKey = key
			oldestTime = time.Unix(item.Expiration, 0)
		}
	}

	if oldestKey != "" {
		c.cache.Delete(oldestKey)
	}
}

// GenerateCacheKey builds the cache key for a case snapshot
func GenerateCacheKey(caseID string) string {
	return fmt.Sprintf("case:%s", caseID)
}
