// Package visibletiles is the Visible Tile Set core of a 3D map
// renderer (spec §1): it selects which quad-tree tiles should render
// each frame, caches them, substitutes loaded neighbours for tiles still
// loading, and bounds memory and per-frame work. VisibleTileSet is the
// single entry point wiring the Tile Cache, Frustum Intersector,
// Election Pipeline, Fallback Searcher and Lifecycle/Task Queue
// components together (spec §2).
package visibletiles

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/tilesetcore/visibletiles/internal/cache"
	"github.com/tilesetcore/visibletiles/internal/coretypes"
	"github.com/tilesetcore/visibletiles/internal/diagnostics"
	"github.com/tilesetcore/visibletiles/internal/election"
	"github.com/tilesetcore/visibletiles/internal/fallback"
	"github.com/tilesetcore/visibletiles/internal/morton"
	"github.com/tilesetcore/visibletiles/internal/taskqueue"
	"github.com/tilesetcore/visibletiles/internal/tiling"
)

// VisibleTileSet is the public engine component (spec §4.8 "Exposed").
// It owns one cache, one task queue and one election pipeline; datasources
// are registered via AddDataSource and removed via RemoveDataSource.
type VisibleTileSet struct {
	cache    *cache.TileCache
	queue    *taskqueue.Queue
	manager  *taskqueue.Manager
	fallback *fallback.Searcher
	pipeline *election.Pipeline
	logger   *logrus.Logger
	options  VisibleTileSetOptions

	dataSources map[string]coretypes.DataSource
	lastResult  election.Result
}

// New constructs a VisibleTileSet from opts, validating configuration
// per spec §7's InvalidConfiguration rule.
func New(opts VisibleTileSetOptions) (*VisibleTileSet, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Diagnostics
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	q := taskqueue.NewQueue()
	var m *taskqueue.Manager
	c := cache.New(opts.TileCacheSize, opts.ResourceComputationType, func(t coretypes.Tile) { m.OnEvict(t) }, nil)
	m = taskqueue.NewManager(c, q)

	fb := &fallback.Searcher{
		Cache:              c,
		SearchDistanceUp:   opts.QuadTreeSearchDistanceUp,
		SearchDistanceDown: opts.QuadTreeSearchDistanceDown,
	}

	pipeline := &election.Pipeline{
		Cache:                  c,
		Resolver:               m,
		Fallback:               fb,
		Disposer:               m,
		ClipPlanes:             opts.ClipPlanesEvaluator,
		MaxVisibleDataSource:   opts.MaxVisibleDataSourceTiles,
		MaxTilesPerFrame:       opts.MaxTilesPerFrame,
		ExtendedFrustumCulling: opts.ExtendedFrustumCulling,
		RequestFrame:           opts.RequestFrame,
		Logger:                 diagnostics.ElectionLogger(logger),
	}

	return &VisibleTileSet{
		cache:       c,
		queue:       q,
		manager:     m,
		fallback:    fb,
		pipeline:    pipeline,
		logger:      logger,
		options:     opts,
		dataSources: make(map[string]coretypes.DataSource),
	}, nil
}

// AddDataSource registers ds under its own Name(). Names must be unique
// (spec §3: "name (must be unique)").
func (v *VisibleTileSet) AddDataSource(ds coretypes.DataSource) {
	v.dataSources[ds.Name()] = ds
}

// RemoveDataSource unregisters a datasource and disposes its cached
// tiles (spec §4.7; §8 round-trip property "removeDataSource(d) followed
// by clearTileCache(d) is a no-op" — the cache is already empty for d by
// the time a caller could invoke clearTileCache).
func (v *VisibleTileSet) RemoveDataSource(name string) {
	delete(v.dataSources, name)
	v.manager.DisposeMatching(name, nil)
}

// UpdateRenderList is the public entry point (spec §2): one call per
// frame. It runs the full Election Pipeline across every registered
// datasource and records the frame's visible/rendered lists for the next
// MarkTilesDirty/GetRenderedTile calls.
func (v *VisibleTileSet) UpdateRenderList(
	camera coretypes.Camera,
	projection tiling.Projection,
	storageLevel int,
	cameraZoom float64,
	frameNumber int,
	elevationSource coretypes.ElevationRangeSource,
) (coretypes.ViewRanges, bool) {
	dataSources := make([]coretypes.DataSource, 0, len(v.dataSources))
	for _, ds := range v.dataSources {
		dataSources = append(dataSources, ds)
	}

	result := v.pipeline.Update(camera, projection, storageLevel, cameraZoom, dataSources, frameNumber, elevationSource)
	v.lastResult = result

	for name, list := range result.Lists {
		rendered := make([]coretypes.Tile, 0, len(list.RenderedTiles))
		for _, tile := range list.RenderedTiles {
			rendered = append(rendered, tile)
		}
		v.manager.SetFrameTiles(name, list.VisibleTiles, rendered)
	}
	return result.ViewRanges, result.ViewRangesChanged
}

// GetTile resolves a single tile outside the normal election path (spec
// §4.7's getTile, exposed directly).
func (v *VisibleTileSet) GetTile(ds coretypes.DataSource, key morton.TileKey, offset morton.Offset, frameNumber int) (coretypes.Tile, bool) {
	return v.manager.GetTile(ds, key, offset, frameNumber)
}

// GetCachedTile looks up the cache only, without resolving a miss (spec
// §4.8). Calling it for a non-cacheable datasource is an
// InvariantViolation (spec §7) and returns ErrNonCacheableLookup.
func (v *VisibleTileSet) GetCachedTile(dataSourceName string, key morton.TileKey, offset morton.Offset) (coretypes.Tile, bool, error) {
	if ds, ok := v.dataSources[dataSourceName]; ok && !ds.Cacheable() {
		return nil, false, ErrNonCacheableLookup
	}
	tile, found := v.cache.Get(cache.KeyFor(dataSourceName, key, offset))
	return tile, found, nil
}

// GetRenderedTile returns the tile occupying uniqueKey in the most
// recent frame's renderedTiles for dataSourceName, if any.
func (v *VisibleTileSet) GetRenderedTile(dataSourceName string, uniqueKey morton.CompositeID) (coretypes.Tile, bool) {
	list, ok := v.lastResult.Lists[dataSourceName]
	if !ok {
		return nil, false
	}
	tile, found := list.RenderedTiles[uniqueKey]
	return tile, found
}

// GetRenderedTileAtLocation is GetRenderedTile keyed by (tileKey, offset)
// instead of a precomputed CompositeID.
func (v *VisibleTileSet) GetRenderedTileAtLocation(dataSourceName string, key morton.TileKey, offset morton.Offset) (coretypes.Tile, bool) {
	return v.GetRenderedTile(dataSourceName, morton.KeyForTileKeyAndOffset(key, offset))
}

// ClearTileCache disposes every cached tile of dataSourceName (every
// datasource if empty) matching filter (every tile if nil), bypassing
// the eviction callback (spec §4.8).
func (v *VisibleTileSet) ClearTileCache(dataSourceName string, filter func(coretypes.Tile) bool) {
	v.manager.DisposeMatching(dataSourceName, filter)
}

// MarkTilesDirty resubmits load tasks for the target datasource's
// current visible/rendered tiles matching filter, then disposes whatever
// the cache holds for that datasource outside the resulting retained set
// (spec §4.7).
func (v *VisibleTileSet) MarkTilesDirty(dataSourceName string, filter func(coretypes.Tile) bool) {
	v.manager.MarkTilesDirty(dataSourceName, filter)
}

// ForEachVisibleTile iterates the most recent frame's visible tiles for
// dataSourceName.
func (v *VisibleTileSet) ForEachVisibleTile(dataSourceName string, fn func(coretypes.Tile)) {
	list, ok := v.lastResult.Lists[dataSourceName]
	if !ok {
		return
	}
	for _, tile := range list.VisibleTiles {
		fn(tile)
	}
}

// ForEachCachedTile iterates every cached tile, optionally filtered to
// one datasource name (empty string iterates all).
func (v *VisibleTileSet) ForEachCachedTile(dataSourceName string, fn func(coretypes.Tile)) {
	v.cache.ForEach(fn, dataSourceName)
}

// DisposePendingTiles drains the pending-dispose queue fed by cache
// eviction. Idempotent (spec §8: "disposePendingTiles called twice in a
// row behaves like once") since DrainPendingDispose empties its queue on
// every call.
func (v *VisibleTileSet) DisposePendingTiles() {
	v.manager.DrainPendingDispose()
}

// ResourceComputationType returns the cache's current accounting mode.
func (v *VisibleTileSet) ResourceComputationType() cache.ResourceComputationType {
	return v.options.ResourceComputationType
}

// SetResourceComputationType switches the cache's accounting mode,
// re-measuring every existing entry (spec §4.1, SPEC_FULL.md §12).
func (v *VisibleTileSet) SetResourceComputationType(mode cache.ResourceComputationType) {
	v.options.ResourceComputationType = mode
	v.cache.SetCapacity(v.options.TileCacheSize, mode)
}

// MaxTilesPerFrame returns the current per-frame admission bound.
func (v *VisibleTileSet) MaxTilesPerFrame() int {
	return v.pipeline.MaxTilesPerFrame
}

// SetMaxTilesPerFrame validates and applies a new admission bound (spec
// §7: InvalidConfiguration on a negative value).
func (v *VisibleTileSet) SetMaxTilesPerFrame(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: MaxTilesPerFrame must be >= 0, got %d", ErrInvalidConfiguration, n)
	}
	v.pipeline.MaxTilesPerFrame = n
	return nil
}

// RunTaskQueue dispatches pending load tasks with the given worker
// concurrency until ctx is cancelled. The core never awaits loads
// itself (spec §5); this is the background dispatcher a host process
// runs alongside the per-frame UpdateRenderList calls.
func (v *VisibleTileSet) RunTaskQueue(ctx context.Context, concurrency int) error {
	return v.queue.Run(ctx, concurrency)
}
