// Package election implements the per-frame Election Pipeline (spec
// §4.3): the heart of updateRenderList. It buckets datasources by tiling
// scheme, runs the Frustum Intersector once per bucket, then for each
// datasource sorts/caps/resolves/admits tiles and pulls in dependencies.
//
// Election depends only on the lower layers built before it
// (morton, tiling, coretypes, cache, frustum); the tile-resolution and
// fallback-substitution steps are capabilities it *consumes* through
// small interfaces (Resolver, Fallbacker, DisposeDrainer) rather than
// importing internal/taskqueue or internal/fallback directly — the same
// inversion the teacher uses for internal/tile.TileWriter, so the
// concrete pmtiles.Writer never has to be imported by the generator.
package election

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/tilesetcore/visibletiles/internal/cache"
	"github.com/tilesetcore/visibletiles/internal/coretypes"
	"github.com/tilesetcore/visibletiles/internal/frustum"
	"github.com/tilesetcore/visibletiles/internal/morton"
	"github.com/tilesetcore/visibletiles/internal/tiling"
)

// Resolver resolves a tile key to a Tile the way spec §4.7's getTile
// does: cache-aware for cacheable datasources, fresh-every-time
// otherwise. Implemented by the lifecycle/task-queue layer.
type Resolver interface {
	GetTile(dataSource coretypes.DataSource, key morton.TileKey, offset morton.Offset, frameNumber int) (coretypes.Tile, bool)
}

// Fallbacker resolves cache substitutes for tiles that are not ready
// (spec §4.6). Implemented by internal/fallback.
type Fallbacker interface {
	Resolve(dataSource coretypes.DataSource, visible []coretypes.Tile, frameNumber int) map[morton.CompositeID]coretypes.Tile
}

// DisposeDrainer drains the pending-dispose queue the cache's eviction
// callback feeds (spec §4.1, §4.3 step 10). Implemented by the
// lifecycle/task-queue layer.
type DisposeDrainer interface {
	DrainPendingDispose()
}

// DataSourceTileList is the per-frame, per-datasource output (spec §3
// "DataSourceTileList"). Rebuilt every frame.
type DataSourceTileList struct {
	ZoomLevel            int
	StorageLevel         int
	AllVisibleTileLoaded bool
	NumTilesLoading      int
	VisibleTiles         []coretypes.Tile
	RenderedTiles        map[morton.CompositeID]coretypes.Tile
}

// Pipeline runs the Election Pipeline across frames, holding the
// per-frame configuration and the previous frame's ViewRanges so
// viewRangesChanged can be computed.
type Pipeline struct {
	Cache                  *cache.TileCache
	Resolver               Resolver
	Fallback               Fallbacker
	Disposer               DisposeDrainer
	ClipPlanes             coretypes.ClipPlanesEvaluator
	MaxVisibleDataSource   int
	MaxTilesPerFrame       int
	ExtendedFrustumCulling bool
	RequestFrame           func()
	Logger                 *logrus.Entry

	lastViewRanges coretypes.ViewRanges
	haveViewRanges bool
	lastLists      map[string]*DataSourceTileList
}

// Result is updateRenderList's return value (spec §2).
type Result struct {
	ViewRanges        coretypes.ViewRanges
	ViewRangesChanged bool
	Lists             map[string]*DataSourceTileList // keyed by datasource name
}

// Update runs one frame of the Election Pipeline.
//
// cameraZoom is passed to each datasource's GetDataZoomLevel to pick its
// query level, and the Frustum Intersector is queried once per tiling
// scheme at the union of those levels. storageLevel does not choose any
// query level; it is only recorded as-is on every DataSourceTileList's
// StorageLevel.
func (p *Pipeline) Update(
	camera coretypes.Camera,
	projection tiling.Projection,
	storageLevel int,
	cameraZoom float64,
	dataSources []coretypes.DataSource,
	frameNumber int,
	elevationSource coretypes.ElevationRangeSource,
) Result {
	p.clearPriorVisibility()

	buckets := bucketByScheme(dataSources)
	allBoundingBoxesFinal := true
	lists := make(map[string]*DataSourceTileList, len(dataSources))
	suppressor := newOverlapSuppressor() // shared by every datasource, this frame only

	var extendRange *coretypes.ViewRanges
	if elevationSource != nil && p.haveViewRanges {
		extendRange = &p.lastViewRanges
	}

	for scheme, dsGroup := range buckets {
		levels := make(map[int]bool, len(dsGroup))
		levelOf := make(map[string]int, len(dsGroup))
		for _, ds := range dsGroup {
			lvl := ds.GetDataZoomLevel(cameraZoom)
			levels[lvl] = true
			levelOf[ds.Name()] = lvl
		}
		levelSlice := make([]int, 0, len(levels))
		for lvl := range levels {
			levelSlice = append(levelSlice, lvl)
		}

		intersection := frustum.Intersect(frustum.Query{
			Camera:          camera,
			Scheme:          scheme,
			Levels:          levelSlice,
			ElevationSource: elevationSource,
			ExtendRange:     extendRange,
			ExtendedCulling: p.ExtendedFrustumCulling,
			MaxOffset:       maxOffsetFor(scheme),
		})
		if !intersection.AllBoundingBoxesFinal {
			allBoundingBoxesFinal = false
		}

		for _, ds := range dsGroup {
			list := p.updateDataSource(ds, intersection.ByLevel[levelOf[ds.Name()]], storageLevel, levelOf[ds.Name()], frameNumber, suppressor)
			lists[ds.Name()] = list
		}
	}

	if !allBoundingBoxesFinal {
		// A provisional elevation lookup: report the frame as not fully
		// loaded and ask for another frame so it is recomputed.
		for _, list := range lists {
			list.AllVisibleTileLoaded = false
		}
		if p.RequestFrame != nil {
			p.RequestFrame()
		}
	}

	if p.Cache != nil {
		p.maintainCache(dataSources, lists)
	}
	if p.Disposer != nil {
		p.Disposer.DrainPendingDispose()
	}

	viewRanges, changed := p.updateClipPlanes(camera, projection, lists, allBoundingBoxesFinal)
	p.lastLists = lists
	return Result{ViewRanges: viewRanges, ViewRangesChanged: changed, Lists: lists}
}

// clearPriorVisibility resets isVisible on every tile elected by the
// previous call to Update, before this frame re-elects its own set (spec
// §3: "isVisible: true iff the tile was elected in the current frame").
// Without this, isVisible only ever goes true, so canEvict and isExpired
// (both !isVisible) stay permanently false.
func (p *Pipeline) clearPriorVisibility() {
	for _, list := range p.lastLists {
		for _, tile := range list.VisibleTiles {
			tile.SetVisible(false)
		}
	}
}

// maxOffsetFor returns how many wrap copies either side of the primary
// copy the Frustum Intersector should consider (spec Glossary "Offset":
// "longitudinal wrap copies for globe-crossing views"). Only spherical
// schemes are continuous across the antimeridian; planar schemes have a
// single copy.
func maxOffsetFor(scheme tiling.TilingScheme) morton.Offset {
	if scheme == nil || scheme.Projection() == nil {
		return 0
	}
	if scheme.Projection().Type() == tiling.ProjectionSpherical {
		return 1
	}
	return 0
}

func bucketByScheme(dataSources []coretypes.DataSource) map[tiling.TilingScheme][]coretypes.DataSource {
	buckets := make(map[tiling.TilingScheme][]coretypes.DataSource)
	for _, ds := range dataSources {
		scheme := ds.TilingScheme()
		buckets[scheme] = append(buckets[scheme], ds)
	}
	return buckets
}

func (p *Pipeline) updateDataSource(
	ds coretypes.DataSource,
	candidates []frustum.Candidate,
	storageLevel, zoomLevel int,
	frameNumber int,
	suppressor *overlapSuppressor,
) *DataSourceTileList {
	sortCandidates(candidates)
	if p.MaxVisibleDataSource > 0 && len(candidates) > p.MaxVisibleDataSource {
		candidates = candidates[:p.MaxVisibleDataSource]
	}

	list := &DataSourceTileList{
		ZoomLevel:            zoomLevel,
		StorageLevel:         storageLevel,
		AllVisibleTileLoaded: true,
		RenderedTiles:        make(map[morton.CompositeID]coretypes.Tile),
	}

	admission := &admissionController{max: p.MaxTilesPerFrame, requestFrame: p.RequestFrame}
	projType := tiling.ProjectionPlanar
	if ds.TilingScheme() != nil {
		projType = ds.TilingScheme().Projection().Type()
	}

	seenMorton := make(map[morton.Code]bool, len(candidates))
	for _, candidate := range candidates {
		tile, ok := p.resolve(ds, candidate.TileKey, candidate.Offset, frameNumber)
		if !ok {
			continue // NoTileAvailable: silently skipped, per spec §7.
		}
		p.admitTile(tile, ds, candidate, projType, frameNumber, suppressor, admission, list)
		seenMorton[candidate.TileKey.MortonCode()] = true
	}

	p.pullInDependencies(ds, list, seenMorton, frameNumber)
	p.populateRenderedTiles(ds, list, frameNumber)
	return list
}

func (p *Pipeline) resolve(ds coretypes.DataSource, key morton.TileKey, offset morton.Offset, frameNumber int) (coretypes.Tile, bool) {
	if p.Resolver == nil {
		return nil, false
	}
	return p.Resolver.GetTile(ds, key, offset, frameNumber)
}

func (p *Pipeline) admitTile(
	tile coretypes.Tile,
	ds coretypes.DataSource,
	candidate frustum.Candidate,
	projType tiling.ProjectionType,
	frameNumber int,
	suppressor *overlapSuppressor,
	admission *admissionController,
	list *DataSourceTileList,
) {
	list.VisibleTiles = append(list.VisibleTiles, tile)
	tile.SetVisible(true)
	list.AllVisibleTileLoaded = list.AllVisibleTileLoaded && tile.AllGeometryLoaded()
	if !tile.AllGeometryLoaded() {
		list.NumTilesLoading++
	}

	tile.SetVisibleArea(candidate.Area)
	tile.SetElevationRange(candidate.ElevationRange)

	if tile.HasGeometry() {
		suppressor.apply(tile, ds, projType)
		admission.apply(tile, frameNumber)
	}
}

// pullInDependencies is the single extra pass spec §4.3 step 8 and §8 S6
// require: dependencies are resolved once, never recursively.
func (p *Pipeline) pullInDependencies(ds coretypes.DataSource, list *DataSourceTileList, seenMorton map[morton.Code]bool, frameNumber int) {
	deps := make([]morton.TileKey, 0)
	for _, tile := range list.VisibleTiles {
		for _, dep := range tile.Dependencies() {
			if seenMorton[dep.MortonCode()] {
				continue
			}
			seenMorton[dep.MortonCode()] = true
			deps = append(deps, dep)
		}
	}
	for _, dep := range deps {
		tile, ok := p.resolve(ds, dep, 0, frameNumber)
		if !ok {
			continue
		}
		tile.SetVisible(true)
		list.VisibleTiles = append(list.VisibleTiles, tile)
	}
}

func (p *Pipeline) populateRenderedTiles(ds coretypes.DataSource, list *DataSourceTileList, frameNumber int) {
	for _, tile := range list.VisibleTiles {
		if tile.HasGeometry() && !tile.DelayRendering() && !tile.SkipRendering() {
			list.RenderedTiles[tile.UniqueKey()] = tile
		}
	}
	if p.Fallback == nil || !ds.AllowOverlappingTiles() {
		return
	}
	for key, tile := range p.Fallback.Resolve(ds, list.VisibleTiles, frameNumber) {
		if _, exact := list.RenderedTiles[key]; exact {
			continue // invariant 5: fallback never shadows an exact-level loaded tile.
		}
		list.RenderedTiles[key] = tile
	}
}

// maintainCache disposes cached, non-visible, not-yet-loaded tiles
// (spec §4.3 step 10), then shrinks the whole cache back toward
// capacity.
func (p *Pipeline) maintainCache(dataSources []coretypes.DataSource, lists map[string]*DataSourceTileList) {
	for _, ds := range dataSources {
		p.Cache.ForEach(func(tile coretypes.Tile) {
			if tile.IsVisible() || tile.HasGeometry() {
				return
			}
			tile.Dispose()
			p.Cache.Delete(cache.KeyFor(ds.Name(), tile.TileKey(), tile.Offset()))
		}, ds.Name())
	}
	p.Cache.ShrinkToCapacity()
}

// aggregateElevationSource answers every GetElevationRange call with one
// frame-wide min/max, fed by scanning renderedTiles' GeoBox (spec §4.3
// step 11: "scan every rendered tile's geoBox.{minAltitude,maxAltitude}").
type aggregateElevationSource struct {
	elevationRange coretypes.ElevationRange
	final          bool
}

func (a aggregateElevationSource) GetElevationRange(morton.TileKey) (coretypes.ElevationRange, bool) {
	return a.elevationRange, a.final
}

func (p *Pipeline) updateClipPlanes(
	camera coretypes.Camera,
	projection tiling.Projection,
	lists map[string]*DataSourceTileList,
	allBoundingBoxesFinal bool,
) (coretypes.ViewRanges, bool) {
	if p.ClipPlanes == nil {
		return coretypes.ViewRanges{}, false
	}

	agg := coretypes.ElevationRange{MinElevation: math.Inf(1), MaxElevation: math.Inf(-1)}
	any := false
	for _, list := range lists {
		for _, tile := range list.RenderedTiles {
			box := tile.GeoBox()
			agg = agg.Union(coretypes.ElevationRange{MinElevation: box.Min.Z, MaxElevation: box.Max.Z})
			any = true
		}
	}
	if !any {
		agg = coretypes.ElevationRange{}
	}

	viewRanges := p.ClipPlanes.EvaluateClipPlanes(camera, projection, aggregateElevationSource{elevationRange: agg, final: allBoundingBoxesFinal})

	changed := !p.haveViewRanges || !viewRanges.Equal(p.lastViewRanges)
	p.lastViewRanges = viewRanges
	p.haveViewRanges = true
	return viewRanges, changed
}

// sortCandidates orders by distance ascending, falling back to morton
// code on near-ties (spec §4.3 step 4, §8 invariant 5, scenario S1).
func sortCandidates(candidates []frustum.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if isNearTie(a.Distance, b.Distance) {
			return a.TileKey.MortonCode() < b.TileKey.MortonCode()
		}
		return a.Distance < b.Distance
	})
}

const tieEpsilon = 1e-6

func isNearTie(a, b float64) bool {
	return math.Abs(a-b) < (a+b)*tieEpsilon
}
