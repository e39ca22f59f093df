package election

import (
	"context"
	"testing"

	"github.com/tilesetcore/visibletiles/internal/coretypes"
	"github.com/tilesetcore/visibletiles/internal/frustum"
	"github.com/tilesetcore/visibletiles/internal/morton"
	"github.com/tilesetcore/visibletiles/internal/tiling"
)

// fakeTile is a minimal coretypes.Tile double shared by this package's
// tests. New tiles start with frameVis = -1 per the "new tile" sentinel
// documented on coretypes.Tile.FrameNumVisible.
type fakeTile struct {
	key          morton.TileKey
	dataSource   coretypes.DataSource
	hasGeometry  bool
	allLoaded    bool
	delayRender  bool
	skipRender   bool
	uniqueKey    morton.CompositeID
	visible      bool
	frameVis     int
	frameLastVis int
	numFramesVis int
	visibleArea  float64
	elevation    coretypes.ElevationRange
	deps         []morton.TileKey
	geoBox       tiling.Box3
}

func newFakeTile(key morton.TileKey, ds coretypes.DataSource) *fakeTile {
	return &fakeTile{
		key:        key,
		dataSource: ds,
		uniqueKey:  morton.KeyForTileKeyAndOffset(key, 0),
		frameVis:   -1,
	}
}

func (t *fakeTile) TileKey() morton.TileKey          { return t.key }
func (t *fakeTile) Offset() morton.Offset            { return 0 }
func (t *fakeTile) DataSource() coretypes.DataSource { return t.dataSource }
func (t *fakeTile) MemoryUsage() int64               { return 0 }
func (t *fakeTile) HasGeometry() bool                { return t.hasGeometry }
func (t *fakeTile) AllGeometryLoaded() bool          { return t.allLoaded }
func (t *fakeTile) DelayRendering() bool             { return t.delayRender }
func (t *fakeTile) SetDelayRendering(v bool)         { t.delayRender = v }
func (t *fakeTile) IsVisible() bool                  { return t.visible }
func (t *fakeTile) SetVisible(v bool)                { t.visible = v }
func (t *fakeTile) FrameNumLastRequested() int       { return 0 }
func (t *fakeTile) SetFrameNumLastRequested(int)     {}
func (t *fakeTile) FrameNumVisible() int             { return t.frameVis }
func (t *fakeTile) SetFrameNumVisible(v int)         { t.frameVis = v }
func (t *fakeTile) FrameNumLastVisible() int         { return t.frameLastVis }
func (t *fakeTile) SetFrameNumLastVisible(v int)     { t.frameLastVis = v }
func (t *fakeTile) NumFramesVisible() int            { return t.numFramesVis }
func (t *fakeTile) IncrementNumFramesVisible()       { t.numFramesVis++ }
func (t *fakeTile) VisibleArea() float64             { return t.visibleArea }
func (t *fakeTile) SetVisibleArea(v float64)         { t.visibleArea = v }
func (t *fakeTile) ElevationRange() coretypes.ElevationRange { return t.elevation }
func (t *fakeTile) SetElevationRange(r coretypes.ElevationRange) { t.elevation = r }
func (t *fakeTile) UniqueKey() morton.CompositeID    { return t.uniqueKey }
func (t *fakeTile) SetUniqueKey(id morton.CompositeID) { t.uniqueKey = id }
func (t *fakeTile) LevelOffset() int                 { return 0 }
func (t *fakeTile) SetLevelOffset(int)               {}
func (t *fakeTile) Dependencies() []morton.TileKey   { return t.deps }
func (t *fakeTile) SkipRendering() bool              { return t.skipRender }
func (t *fakeTile) SetSkipRendering(v bool)          { t.skipRender = v }
func (t *fakeTile) GeoBox() tiling.Box3              { return t.geoBox }
func (t *fakeTile) Dispose()                           {}
func (t *fakeTile) Load(ctx context.Context) error     { return nil }
func (t *fakeTile) Loader() coretypes.TileLoader       { return nil }

// TestSortCandidatesStableOnNearTie is scenario S1: near-equal distances
// fall back to morton order; a clear distance gap does not.
func TestSortCandidatesStableOnNearTie(t *testing.T) {
	near := []frustum.Candidate{
		{TileKey: morton.TileKey{Level: 3, Row: 0, Column: 11}, Distance: 1000.0005},
		{TileKey: morton.TileKey{Level: 3, Row: 0, Column: 7}, Distance: 1000.0},
	}
	sortCandidates(near)
	if near[0].TileKey.Column != 7 || near[1].TileKey.Column != 11 {
		t.Fatalf("near-tie sort = %v, want morton order [7, 11]", candidateColumns(near))
	}

	apart := []frustum.Candidate{
		{TileKey: morton.TileKey{Level: 3, Row: 0, Column: 11}, Distance: 1000.0},
		{TileKey: morton.TileKey{Level: 3, Row: 0, Column: 7}, Distance: 1000.1},
	}
	sortCandidates(apart)
	if apart[0].TileKey.Column != 11 || apart[1].TileKey.Column != 7 {
		t.Fatalf("distance-ordered sort = %v, want distance order [11, 7]", candidateColumns(apart))
	}
}

func candidateColumns(cs []frustum.Candidate) []int {
	out := make([]int, len(cs))
	for i, c := range cs {
		out[i] = c.TileKey.Column
	}
	return out
}

type fakeDataSource struct {
	name           string
	fullyCovering  bool
	background     bool
	allowOverlap   bool
}

func (d *fakeDataSource) Name() string                                  { return d.name }
func (d *fakeDataSource) Cacheable() bool                               { return true }
func (d *fakeDataSource) MinDataLevel() int                             { return 0 }
func (d *fakeDataSource) MaxDataLevel() int                             { return 20 }
func (d *fakeDataSource) GetDataZoomLevel(float64) int                  { return 3 }
func (d *fakeDataSource) TilingScheme() tiling.TilingScheme             { return tiling.NewWebMercatorScheme() }
func (d *fakeDataSource) GetTile(morton.TileKey, morton.Offset, bool) (coretypes.Tile, bool) {
	return nil, false
}
func (d *fakeDataSource) CanGetTile(int, morton.TileKey) bool { return true }
func (d *fakeDataSource) IsFullyCovering() bool               { return d.fullyCovering }
func (d *fakeDataSource) AllowOverlappingTiles() bool         { return d.allowOverlap }
func (d *fakeDataSource) IsBackground() bool                  { return d.background }

// TestOverlapSuppressionSkipsBackgroundIncumbent is scenario S3.
func TestOverlapSuppressionSkipsBackgroundIncumbent(t *testing.T) {
	background := &fakeDataSource{name: "background", fullyCovering: true, background: true}
	vector := &fakeDataSource{name: "vector", fullyCovering: true}

	key := morton.TileKey{Level: 5, Row: 2, Column: 2}
	backgroundTile := newFakeTile(key, background)
	vectorTile := newFakeTile(key, vector)
	vectorTile.uniqueKey = backgroundTile.uniqueKey // same cell

	s := newOverlapSuppressor()
	s.apply(backgroundTile, background, tiling.ProjectionPlanar)
	s.apply(vectorTile, vector, tiling.ProjectionPlanar)

	if !backgroundTile.SkipRendering() {
		t.Error("background incumbent should be skipped in favor of the covering vector tile")
	}
	if vectorTile.SkipRendering() {
		t.Error("vector tile should not be skipped")
	}
}

func TestOverlapSuppressionExemptsSphericalProjection(t *testing.T) {
	a := &fakeDataSource{name: "a", fullyCovering: true}
	b := &fakeDataSource{name: "b", fullyCovering: true}
	key := morton.TileKey{Level: 5, Row: 2, Column: 2}
	tileA := newFakeTile(key, a)
	tileB := newFakeTile(key, b)
	tileB.uniqueKey = tileA.uniqueKey

	s := newOverlapSuppressor()
	s.apply(tileA, a, tiling.ProjectionSpherical)
	s.apply(tileB, b, tiling.ProjectionSpherical)

	if tileA.SkipRendering() || tileB.SkipRendering() {
		t.Error("overlap suppression must not run on spherical projections")
	}
}

// TestFrameAdmissionBoundsNewTiles is scenario S4.
func TestFrameAdmissionBoundsNewTiles(t *testing.T) {
	ds := &fakeDataSource{name: "ds"}
	admission := &admissionController{max: 2}

	tiles := make([]*fakeTile, 4)
	for i := range tiles {
		tiles[i] = newFakeTile(morton.TileKey{Level: 3, Row: 0, Column: i}, ds)
		admission.apply(tiles[i], 10)
	}

	admitted := 0
	for _, tile := range tiles {
		if !tile.DelayRendering() {
			admitted++
			if tile.FrameNumVisible() != 10 {
				t.Errorf("admitted tile has frameNumVisible = %d, want 10", tile.FrameNumVisible())
			}
		}
	}
	if admitted != 2 {
		t.Fatalf("admitted %d of 4 new tiles with maxTilesPerFrame=2, want 2", admitted)
	}
}

func TestFrameAdmissionZeroDisablesBound(t *testing.T) {
	ds := &fakeDataSource{name: "ds"}
	admission := &admissionController{max: 0}

	for i := 0; i < 10; i++ {
		tile := newFakeTile(morton.TileKey{Level: 3, Row: 0, Column: i}, ds)
		admission.apply(tile, 1)
		if tile.DelayRendering() {
			t.Fatal("maxTilesPerFrame == 0 must never set delayRendering")
		}
	}
}

// TestDependencyPullInIsNonRecursive is scenario S6.
func TestDependencyPullInIsNonRecursive(t *testing.T) {
	ds := &fakeDataSource{name: "ds"}
	primary := newFakeTile(morton.TileKey{Level: 4, Row: 1, Column: 1}, ds)
	depKey := morton.TileKey{Level: 4, Row: 9, Column: 9}
	primary.deps = []morton.TileKey{depKey}

	depTile := newFakeTile(depKey, ds)
	depTile.deps = []morton.TileKey{{Level: 4, Row: 15, Column: 15}} // must not be followed

	p := &Pipeline{Resolver: stubResolver{tiles: map[morton.TileKey]coretypes.Tile{depKey: depTile}}}
	list := &DataSourceTileList{VisibleTiles: []coretypes.Tile{primary}}
	seen := map[morton.Code]bool{primary.key.MortonCode(): true}

	p.pullInDependencies(ds, list, seen, 1)

	if len(list.VisibleTiles) != 2 {
		t.Fatalf("VisibleTiles after dependency pull-in = %d, want 2", len(list.VisibleTiles))
	}
	if list.VisibleTiles[1] != coretypes.Tile(depTile) {
		t.Fatalf("dependency pull-in did not append the resolved dependency tile")
	}

	seenDeeper := morton.TileKey{Level: 4, Row: 15, Column: 15}.MortonCode()
	if seen[seenDeeper] {
		t.Error("dependency pull-in recursed into the dependency's own dependencies")
	}
}

// TestAdmitTileMarksTileVisible is spec §3 invariant 6: isVisible is true
// for exactly the tiles elected this frame.
func TestAdmitTileMarksTileVisible(t *testing.T) {
	ds := &fakeDataSource{name: "ds"}
	tile := newFakeTile(morton.TileKey{Level: 3, Row: 0, Column: 1}, ds)
	if tile.IsVisible() {
		t.Fatal("newly constructed tile must start non-visible")
	}

	p := &Pipeline{}
	list := &DataSourceTileList{RenderedTiles: make(map[morton.CompositeID]coretypes.Tile)}
	candidate := frustum.Candidate{TileKey: tile.key}
	p.admitTile(tile, ds, candidate, tiling.ProjectionPlanar, 1, newOverlapSuppressor(), &admissionController{}, list)

	if !tile.IsVisible() {
		t.Error("admitTile must set isVisible on every elected tile")
	}
}

// TestClearPriorVisibilityResetsDroppedTiles: a tile elected last frame
// but not re-elected this frame must have isVisible cleared, or it is
// pinned in the cache and exempt from task-queue expiry forever (spec
// §4.1 canEvict, §4.7 isExpired).
func TestClearPriorVisibilityResetsDroppedTiles(t *testing.T) {
	ds := &fakeDataSource{name: "ds"}
	dropped := newFakeTile(morton.TileKey{Level: 3, Row: 0, Column: 1}, ds)
	dropped.SetVisible(true)

	p := &Pipeline{lastLists: map[string]*DataSourceTileList{
		"ds": {VisibleTiles: []coretypes.Tile{dropped}},
	}}

	p.clearPriorVisibility()

	if dropped.IsVisible() {
		t.Error("clearPriorVisibility must reset isVisible on tiles the previous frame elected")
	}
}

func TestMaxOffsetForSchemeProjection(t *testing.T) {
	if got := maxOffsetFor(tiling.NewWebMercatorScheme()); got != 0 {
		t.Errorf("maxOffsetFor(planar scheme) = %d, want 0", got)
	}
	if got := maxOffsetFor(nil); got != 0 {
		t.Errorf("maxOffsetFor(nil) = %d, want 0", got)
	}
}

type stubResolver struct {
	tiles map[morton.TileKey]coretypes.Tile
}

func (s stubResolver) GetTile(_ coretypes.DataSource, key morton.TileKey, _ morton.Offset, _ int) (coretypes.Tile, bool) {
	tile, ok := s.tiles[key]
	return tile, ok
}
