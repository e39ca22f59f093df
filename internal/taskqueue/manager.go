package taskqueue

import (
	"sync"

	"github.com/tilesetcore/visibletiles/internal/cache"
	"github.com/tilesetcore/visibletiles/internal/coretypes"
	"github.com/tilesetcore/visibletiles/internal/morton"
)

// Manager implements the tile lifecycle operations spec §4.7 names:
// getTile's cacheable/non-cacheable split, touch semantics,
// pending-dispose draining fed by the cache's eviction callback, and
// dirty-marking. It satisfies election.Resolver and
// election.DisposeDrainer.
type Manager struct {
	Cache *cache.TileCache
	Queue *Queue

	mu             sync.Mutex
	pendingDispose []coretypes.Tile
	frameVisible   map[string][]coretypes.Tile
	frameRendered  map[string][]coretypes.Tile
}

// NewManager builds a Manager over an existing cache and queue.
func NewManager(c *cache.TileCache, q *Queue) *Manager {
	return &Manager{Cache: c, Queue: q}
}

// OnEvict is registered as the cache's eviction callback (spec §4.1):
// cancel the tile's in-flight loader, then queue it for disposal.
func (m *Manager) OnEvict(tile coretypes.Tile) {
	if loader := tile.Loader(); loader != nil {
		loader.Cancel()
	}
	m.mu.Lock()
	m.pendingDispose = append(m.pendingDispose, tile)
	m.mu.Unlock()
}

// DrainPendingDispose disposes every tile the eviction callback queued
// since the last drain (spec §4.1: "the queue is drained when the frame
// completes"). Implements election.DisposeDrainer.
func (m *Manager) DrainPendingDispose() {
	m.mu.Lock()
	pending := m.pendingDispose
	m.pendingDispose = nil
	m.mu.Unlock()

	for _, tile := range pending {
		tile.Dispose()
	}
}

// GetTile implements election.Resolver and the public getTile operation
// (spec §4.7): non-cacheable datasources produce a fresh tile on every
// call; cacheable ones look up the cache first. A cache hit whose offset
// doesn't match the request is treated as a miss — refetched, and
// inserted under the same key, which replaces (and thereby evicts,
// bypassing the eviction callback) the stale entry, per the spec §9
// Open Question resolution recorded in DESIGN.md.
func (m *Manager) GetTile(dataSource coretypes.DataSource, key morton.TileKey, offset morton.Offset, frameNumber int) (coretypes.Tile, bool) {
	if !dataSource.Cacheable() {
		tile, ok := dataSource.GetTile(key, offset, true)
		if !ok {
			return nil, false
		}
		m.touch(tile, frameNumber)
		m.Queue.Submit(tile)
		return tile, true
	}

	cacheKey := cache.KeyFor(dataSource.Name(), key, offset)
	if tile, ok := m.Cache.Get(cacheKey); ok && tile.Offset() == offset {
		m.touch(tile, frameNumber)
		return tile, true
	}

	tile, ok := dataSource.GetTile(key, offset, true)
	if !ok {
		return nil, false
	}
	m.touch(tile, frameNumber)
	m.Cache.Set(cacheKey, tile)
	m.Queue.Submit(tile)
	return tile, true
}

func (m *Manager) touch(tile coretypes.Tile, frameNumber int) {
	tile.SetFrameNumLastRequested(frameNumber)
}

// SetFrameTiles records the current frame's visible and rendered tile
// lists for one datasource, so a later MarkTilesDirty call knows what
// to resubmit. The top-level VisibleTileSet calls this once per
// datasource after every election.Pipeline.Update.
func (m *Manager) SetFrameTiles(dataSourceName string, visible, rendered []coretypes.Tile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frameVisible == nil {
		m.frameVisible = make(map[string][]coretypes.Tile)
		m.frameRendered = make(map[string][]coretypes.Tile)
	}
	m.frameVisible[dataSourceName] = visible
	m.frameRendered[dataSourceName] = rendered
}

// MarkTilesDirty implements spec §4.7's markTilesDirty: resubmit a load
// task for every visible/rendered tile of dataSourceName matching
// filter (nil matches everything), then dispose every cache entry of
// that datasource not in the resulting retained set — explicitly,
// bypassing the eviction callback, per spec §4.7.
func (m *Manager) MarkTilesDirty(dataSourceName string, filter func(coretypes.Tile) bool) {
	m.mu.Lock()
	visible := m.frameVisible[dataSourceName]
	rendered := m.frameRendered[dataSourceName]
	m.mu.Unlock()

	retained := make(map[morton.CompositeID]bool)
	mark := func(tiles []coretypes.Tile) {
		for _, tile := range tiles {
			if filter != nil && !filter(tile) {
				continue
			}
			key := tile.UniqueKey()
			if retained[key] {
				continue // already resubmitted from the other list.
			}
			retained[key] = true
			m.Queue.Submit(tile)
		}
	}
	mark(visible)
	mark(rendered)

	m.DisposeMatching(dataSourceName, func(tile coretypes.Tile) bool {
		return !retained[tile.UniqueKey()]
	})
}

// DisposeMatching explicitly deletes and disposes every cached tile of
// dataSourceName (all datasources if empty) matching predicate (every
// entry if nil), bypassing the eviction callback. It backs both
// markTilesDirty's complement-of-retained pass and the top-level
// clearTileCache/removeDataSource operations (spec §4.7, §4.8).
func (m *Manager) DisposeMatching(dataSourceName string, predicate func(coretypes.Tile) bool) {
	var toDispose []coretypes.Tile
	var toDelete []cache.Key

	m.Cache.ForEach(func(tile coretypes.Tile) {
		if predicate != nil && !predicate(tile) {
			return
		}
		toDelete = append(toDelete, cache.KeyFor(tile.DataSource().Name(), tile.TileKey(), tile.Offset()))
		toDispose = append(toDispose, tile)
	}, dataSourceName)

	for _, key := range toDelete {
		m.Cache.Delete(key)
	}
	for _, tile := range toDispose {
		tile.Dispose()
	}
}
