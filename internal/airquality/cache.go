package airquality

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Default freshness windows.
const (
	CurrentFreshness  = 1 * time.Hour
	ForecastFreshness = 3 * time.Hour
)

// CacheConfig holds configuration for a freshness cache.
type CacheConfig struct {
	// Window is the maximum age of a value, measured from its observation
	// time, that may still be served (default: 1 hour).
	Window time.Duration

	// GridSize is the key resolution in degrees (default: 0.001, ~110m).
	// Puts for coordinates in the same grid cell overwrite each other.
	GridSize float64

	// Now is the clock (default: time.Now).
	Now func() time.Time
}

// CacheEntry is one stored value.
type CacheEntry[V any] struct {
	Key        string
	Coordinate Coordinate
	Value      V
	ObservedAt time.Time
	CachedAt   time.Time
}

// Cache stores the latest value per location and serves it while fresh.
// Lookups on different keys never contend; writes to one key are
// serialized by that key's lock.
type Cache[V any] struct {
	window   time.Duration
	gridSize float64
	now      func() time.Time

	slots sync.Map // key -> *cacheSlot[V]
}

type cacheSlot[V any] struct {
	mu    sync.RWMutex
	entry *CacheEntry[V]
	// removed is set once Sweep has unlinked the slot from the map.
	removed bool
}

func (s *cacheSlot[V]) load() *CacheEntry[V] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entry
}

// NewCache creates a new freshness cache.
func NewCache[V any](cfg CacheConfig) *Cache[V] {
	window := cfg.Window
	if window == 0 {
		window = CurrentFreshness
	}

	gridSize := cfg.GridSize
	if gridSize <= 0 {
		gridSize = 0.001
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Cache[V]{
		window:   window,
		gridSize: gridSize,
		now:      now,
	}
}

// Key returns the location key for c.
func (c *Cache[V]) Key(coord Coordinate) string {
	lat := math.Round(coord.Lat/c.gridSize) * c.gridSize
	lon := math.Round(coord.Lon/c.gridSize) * c.gridSize
	return fmt.Sprintf("%.4f:%.4f", lat, lon)
}

// Get returns the value stored nearest to coord within radiusKm that is
// still fresh. Expired entries are skipped but left in place.
func (c *Cache[V]) Get(coord Coordinate, radiusKm float64) (V, bool) {
	entry, ok := c.Lookup(coord, radiusKm)
	if !ok {
		var zero V
		return zero, false
	}
	return entry.Value, true
}

// Lookup is Get returning the whole entry.
func (c *Cache[V]) Lookup(coord Coordinate, radiusKm float64) (*CacheEntry[V], bool) {
	now := c.now()

	if slot, ok := c.slots.Load(c.Key(coord)); ok {
		if entry := slot.(*cacheSlot[V]).load(); entry != nil && c.fresh(entry, now) {
			return entry, true
		}
	}
	if radiusKm <= 0 {
		return nil, false
	}

	var (
		best     *CacheEntry[V]
		bestDist float64
	)
	c.slots.Range(func(_, value any) bool {
		entry := value.(*cacheSlot[V]).load()
		if entry == nil || !c.fresh(entry, now) {
			return true
		}
		d := HaversineKm(coord, entry.Coordinate)
		if d <= radiusKm && (best == nil || d < bestDist) {
			best, bestDist = entry, d
		}
		return true
	})

	return best, best != nil
}

// Put stores v for coord, replacing whatever was stored for that key.
func (c *Cache[V]) Put(coord Coordinate, v V, observedAt time.Time) {
	key := c.Key(coord)
	entry := &CacheEntry[V]{
		Key:        key,
		Coordinate: coord,
		Value:      v,
		ObservedAt: observedAt,
		CachedAt:   c.now(),
	}

	for {
		value, _ := c.slots.LoadOrStore(key, &cacheSlot[V]{})
		slot := value.(*cacheSlot[V])

		slot.mu.Lock()
		if !slot.removed {
			slot.entry = entry
			slot.mu.Unlock()
			return
		}
		// swept between LoadOrStore and Lock; retry with a fresh slot
		slot.mu.Unlock()
	}
}

// Sweep deletes entries observed more than maxAge ago and returns how many
// were removed.
func (c *Cache[V]) Sweep(maxAge time.Duration) int {
	cutoff := c.now().Add(-maxAge)
	removed := 0
	c.slots.Range(func(key, value any) bool {
		slot := value.(*cacheSlot[V])
		slot.mu.Lock()
		if !slot.removed && slot.entry != nil && slot.entry.ObservedAt.Before(cutoff) &&
			c.slots.CompareAndDelete(key, slot) {
			slot.removed = true
			removed++
		}
		slot.mu.Unlock()
		return true
	})
	return removed
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache[V]) Len() int {
	n := 0
	c.slots.Range(func(_, value any) bool {
		if value.(*cacheSlot[V]).load() != nil {
			n++
		}
		return true
	})
	return n
}

// CacheStats contains cache statistics.
type CacheStats struct {
	Entries      int
	FreshEntries int
	Window       time.Duration
}

// Stats returns cache statistics.
func (c *Cache[V]) Stats() CacheStats {
	now := c.now()
	stats := CacheStats{Window: c.window}
	c.slots.Range(func(_, value any) bool {
		entry := value.(*cacheSlot[V]).load()
		if entry == nil {
			return true
		}
		stats.Entries++
		if c.fresh(entry, now) {
			stats.FreshEntries++
		}
		return true
	})
	return stats
}

func (c *Cache[V]) fresh(entry *CacheEntry[V], now time.Time) bool {
	return now.Sub(entry.ObservedAt) <= c.window
}
