// Package cache implements the LRU-bounded tile cache (spec §4.1), keyed
// by (datasource, morton, offset) with a pluggable size measure.
//
// The LRU ordering primitive is github.com/hashicorp/golang-lru/v2's
// simplelru.LRU — present across the wider pack's manifests
// (NERVsystems/osmmcp, ethereum/go-ethereum, google/skia-buildbot,
// transparency-dev/trillian-tessera) as the standard way Go services
// layer bespoke eviction policy on top of get/promote/evict-oldest
// mechanics, exactly what TileCache needs: a canEvict predicate that
// pins currently-visible tiles, and a measure function that can value
// entries in megabytes or in entry count. simplelru has no notion of
// either by itself, so construction uses an effectively unbounded size
// (disabling its own automatic eviction) and TileCache drives eviction
// itself via shrinkToCapacity, the way the teacher's own hand-rolled
// caches (cog.TileCache, tile.DiskTileStore) track size explicitly
// alongside map storage.
package cache

import (
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/tilesetcore/visibletiles/internal/coretypes"
	"github.com/tilesetcore/visibletiles/internal/morton"
)

// ResourceComputationType selects how TileCache measures entries.
type ResourceComputationType int

const (
	// EstimationInMb measures tile.MemoryUsage() in megabytes.
	EstimationInMb ResourceComputationType = iota
	// NumberOfTiles measures every entry as exactly 1.
	NumberOfTiles
)

// MeasureFunc values a cached tile for capacity accounting.
type MeasureFunc func(coretypes.Tile) float64

// MeasureFor returns the standard measure function for mode.
func MeasureFor(mode ResourceComputationType) MeasureFunc {
	if mode == NumberOfTiles {
		return func(coretypes.Tile) float64 { return 1 }
	}
	return func(t coretypes.Tile) float64 { return float64(t.MemoryUsage()) / (1 << 20) }
}

// Key identifies a cache entry: the triple (datasource, morton, offset)
// spec §3 defines as the Cache Key.
type Key struct {
	DataSource string
	Morton     morton.Code
	Offset     morton.Offset
}

// KeyFor builds a Key for a tile key/offset pair on a named datasource.
func KeyFor(dataSourceName string, tileKey morton.TileKey, offset morton.Offset) Key {
	return Key{DataSource: dataSourceName, Morton: tileKey.MortonCode(), Offset: offset}
}

// EvictionCallback is invoked whenever a tile leaves the cache through
// eviction (not through an explicit Delete). Spec §4.1: "cancels the
// tile's in-flight loader ... and appends the tile to the pending-dispose
// queue."
type EvictionCallback func(tile coretypes.Tile)

// CanEvictFunc reports whether a cached tile is a candidate for
// eviction. The standard predicate is "!tile.IsVisible()".
type CanEvictFunc func(tile coretypes.Tile) bool

// unboundedSize is passed to simplelru so it never evicts on its own;
// TileCache drives all eviction decisions itself via shrinkToCapacity,
// evictAll and evictSelected.
const unboundedSize = math.MaxInt32

type entry struct {
	key  Key
	tile coretypes.Tile
}

// TileCache is an LRU-bounded store of tiles, soft-capped: elected
// (visible) tiles are pinned and can push the measured total above
// capacity for one frame; shrinkToCapacity reclaims space on the next.
type TileCache struct {
	mu       sync.Mutex
	backing  *lru.LRU[Key, *entry]
	measure  MeasureFunc
	mode     ResourceComputationType
	capacity float64
	total    float64
	onEvict  EvictionCallback
	canEvict CanEvictFunc
}

// New creates a TileCache with the given capacity (in the unit implied
// by mode) and eviction callback. canEvict defaults to "!tile.IsVisible()"
// when nil.
func New(capacity float64, mode ResourceComputationType, onEvict EvictionCallback, canEvict CanEvictFunc) *TileCache {
	if canEvict == nil {
		canEvict = func(t coretypes.Tile) bool { return !t.IsVisible() }
	}
	backing, _ := lru.NewLRU[Key, *entry](unboundedSize, nil)
	return &TileCache{
		backing:  backing,
		measure:  MeasureFor(mode),
		mode:     mode,
		capacity: capacity,
		onEvict:  onEvict,
		canEvict: canEvict,
	}
}

// Get returns the cached tile for key without promoting it to
// most-recently-used on a miss; on a hit it is promoted.
func (c *TileCache) Get(key Key) (coretypes.Tile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.backing.Get(key)
	if !ok {
		return nil, false
	}
	return e.tile, true
}

// Peek returns the cached tile for key without affecting LRU order.
func (c *TileCache) Peek(key Key) (coretypes.Tile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.backing.Peek(key)
	if !ok {
		return nil, false
	}
	return e.tile, true
}

// Set inserts tile under key, replacing any previous entry for the same
// key. It may push the measured total over capacity; shrinkToCapacity is
// responsible for reclaiming space.
func (c *TileCache) Set(key Key, tile coretypes.Tile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.backing.Peek(key); ok {
		c.total -= c.measure(old.tile)
	}
	c.backing.Add(key, &entry{key: key, tile: tile})
	c.total += c.measure(tile)
}

// Delete explicitly removes tile's entry. The eviction callback is NOT
// invoked (spec §4.1: "Explicit delete bypasses both [cancel and
// dispose-queue]").
func (c *TileCache) Delete(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

func (c *TileCache) removeLocked(key Key) (coretypes.Tile, bool) {
	e, ok := c.backing.Peek(key)
	if !ok {
		return nil, false
	}
	c.backing.Remove(key)
	c.total -= c.measure(e.tile)
	if c.total < 0 {
		c.total = 0
	}
	return e.tile, true
}

// ShrinkToCapacity evicts least-recently-used entries for which canEvict
// holds until the measured total is at or below capacity, or no
// evictable entry remains. Capacity is a soft bound: if every entry is
// pinned (not evictable), ShrinkToCapacity returns having evicted
// nothing, and the cache stays over capacity until the next frame.
func (c *TileCache) ShrinkToCapacity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shrinkLocked()
}

func (c *TileCache) shrinkLocked() {
	for c.total > c.capacity {
		keys := c.backing.Keys() // oldest (least-recently-used) first
		evictedAny := false
		for _, key := range keys {
			if c.total <= c.capacity {
				break
			}
			e, ok := c.backing.Peek(key)
			if !ok {
				continue
			}
			if !c.canEvict(e.tile) {
				continue
			}
			c.backing.Remove(key)
			c.total -= c.measure(e.tile)
			if c.onEvict != nil {
				c.onEvict(e.tile)
			}
			evictedAny = true
		}
		if !evictedAny {
			return
		}
	}
	if c.total < 0 {
		c.total = 0
	}
}

// EvictAll forcibly evicts every entry regardless of canEvict.
func (c *TileCache) EvictAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range c.backing.Keys() {
		e, ok := c.backing.Peek(key)
		if !ok {
			continue
		}
		c.backing.Remove(key)
		if c.onEvict != nil {
			c.onEvict(e.tile)
		}
	}
	c.total = 0
}

// EvictSelected forcibly evicts every entry for which predicate returns
// true, regardless of canEvict.
func (c *TileCache) EvictSelected(predicate func(coretypes.Tile) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range c.backing.Keys() {
		e, ok := c.backing.Peek(key)
		if !ok {
			continue
		}
		if !predicate(e.tile) {
			continue
		}
		c.backing.Remove(key)
		c.total -= c.measure(e.tile)
		if c.onEvict != nil {
			c.onEvict(e.tile)
		}
	}
	if c.total < 0 {
		c.total = 0
	}
}

// SetCapacity re-measures every existing entry under the new mode and
// sets the new capacity. Spec §4.1: "setCapacity(size, mode) —
// re-measures all entries."
func (c *TileCache) SetCapacity(capacity float64, mode ResourceComputationType) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.capacity = capacity
	c.mode = mode
	c.measure = MeasureFor(mode)

	var total float64
	for _, key := range c.backing.Keys() {
		e, ok := c.backing.Peek(key)
		if !ok {
			continue
		}
		total += c.measure(e.tile)
	}
	c.total = total
}

// ForEach calls cb for every cached tile, optionally filtered to one
// datasource name. Iteration order is LRU oldest-to-newest.
func (c *TileCache) ForEach(cb func(coretypes.Tile), dataSourceName string) {
	c.mu.Lock()
	keys := c.backing.Keys()
	tiles := make([]coretypes.Tile, 0, len(keys))
	for _, key := range keys {
		if dataSourceName != "" && key.DataSource != dataSourceName {
			continue
		}
		if e, ok := c.backing.Peek(key); ok {
			tiles = append(tiles, e.tile)
		}
	}
	c.mu.Unlock()

	for _, t := range tiles {
		cb(t)
	}
}

// Len returns the number of cached entries.
func (c *TileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backing.Len()
}

// TotalSize returns the current measured total, in the unit implied by
// the cache's mode.
func (c *TileCache) TotalSize() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}
