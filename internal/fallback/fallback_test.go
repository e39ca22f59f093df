package fallback

import (
	"context"
	"testing"

	"github.com/tilesetcore/visibletiles/internal/cache"
	"github.com/tilesetcore/visibletiles/internal/coretypes"
	"github.com/tilesetcore/visibletiles/internal/morton"
	"github.com/tilesetcore/visibletiles/internal/tiling"
)

type stubTile struct {
	key         morton.TileKey
	ds          coretypes.DataSource
	hasGeometry bool
	delayRender bool
	uniqueKey   morton.CompositeID
	levelOffset int
}

func newStubTile(key morton.TileKey, ds coretypes.DataSource, ready bool) *stubTile {
	return &stubTile{key: key, ds: ds, hasGeometry: ready, uniqueKey: morton.KeyForTileKeyAndOffset(key, 0)}
}

func (t *stubTile) TileKey() morton.TileKey                      { return t.key }
func (t *stubTile) Offset() morton.Offset                        { return 0 }
func (t *stubTile) DataSource() coretypes.DataSource             { return t.ds }
func (t *stubTile) MemoryUsage() int64                           { return 0 }
func (t *stubTile) HasGeometry() bool                            { return t.hasGeometry }
func (t *stubTile) AllGeometryLoaded() bool                      { return t.hasGeometry }
func (t *stubTile) DelayRendering() bool                         { return t.delayRender }
func (t *stubTile) SetDelayRendering(v bool)                     { t.delayRender = v }
func (t *stubTile) IsVisible() bool                              { return true }
func (t *stubTile) SetVisible(bool)                              {}
func (t *stubTile) FrameNumLastRequested() int                   { return 0 }
func (t *stubTile) SetFrameNumLastRequested(int)                 {}
func (t *stubTile) FrameNumVisible() int                         { return -1 }
func (t *stubTile) SetFrameNumVisible(int)                       {}
func (t *stubTile) FrameNumLastVisible() int                     { return 0 }
func (t *stubTile) SetFrameNumLastVisible(int)                   {}
func (t *stubTile) NumFramesVisible() int                        { return 0 }
func (t *stubTile) IncrementNumFramesVisible()                   {}
func (t *stubTile) VisibleArea() float64                         { return 0 }
func (t *stubTile) SetVisibleArea(float64)                       {}
func (t *stubTile) ElevationRange() coretypes.ElevationRange     { return coretypes.ElevationRange{} }
func (t *stubTile) SetElevationRange(coretypes.ElevationRange)   {}
func (t *stubTile) UniqueKey() morton.CompositeID                { return t.uniqueKey }
func (t *stubTile) SetUniqueKey(id morton.CompositeID)           { t.uniqueKey = id }
func (t *stubTile) LevelOffset() int                             { return t.levelOffset }
func (t *stubTile) SetLevelOffset(v int)                         { t.levelOffset = v }
func (t *stubTile) Dependencies() []morton.TileKey                { return nil }
func (t *stubTile) SkipRendering() bool                          { return false }
func (t *stubTile) SetSkipRendering(bool)                        {}
func (t *stubTile) GeoBox() tiling.Box3                          { return tiling.Box3{} }
func (t *stubTile) Dispose()                                     {}
func (t *stubTile) Load(ctx context.Context) error               { return nil }
func (t *stubTile) Loader() coretypes.TileLoader                 { return nil }

type stubDataSource struct {
	name         string
	allowOverlap bool
	minLevel     int
	maxLevel     int
}

func (d *stubDataSource) Name() string                     { return d.name }
func (d *stubDataSource) Cacheable() bool                  { return true }
func (d *stubDataSource) MinDataLevel() int                { return d.minLevel }
func (d *stubDataSource) MaxDataLevel() int                { return d.maxLevel }
func (d *stubDataSource) GetDataZoomLevel(float64) int     { return 3 }
func (d *stubDataSource) TilingScheme() tiling.TilingScheme { return tiling.NewWebMercatorScheme() }
func (d *stubDataSource) GetTile(morton.TileKey, morton.Offset, bool) (coretypes.Tile, bool) {
	return nil, false
}
func (d *stubDataSource) CanGetTile(int, morton.TileKey) bool { return true }
func (d *stubDataSource) IsFullyCovering() bool               { return false }
func (d *stubDataSource) AllowOverlappingTiles() bool         { return d.allowOverlap }
func (d *stubDataSource) IsBackground() bool                  { return false }

// TestAncestorFallbackSubstitutesLoadedParent is scenario S2: a tile not
// yet loaded falls back to its loaded parent.
func TestAncestorFallbackSubstitutesLoadedParent(t *testing.T) {
	ds := &stubDataSource{name: "ds", allowOverlap: true, minLevel: 0, maxLevel: 10}
	c := cache.New(100, cache.NumberOfTiles, nil, nil)

	requested := morton.TileKey{Level: 4, Row: 1, Column: 1}
	parent := requested.Parent()
	parentTile := newStubTile(parent, ds, true)
	c.Set(cache.KeyFor(ds.Name(), parent, 0), parentTile)

	pending := newStubTile(requested, ds, false)

	s := &Searcher{Cache: c, SearchDistanceUp: 2, SearchDistanceDown: 0}
	result := s.Resolve(ds, []coretypes.Tile{pending}, 1)

	sub, ok := result[pending.UniqueKey()]
	if !ok {
		t.Fatal("expected a substitute for the pending tile")
	}
	if sub != coretypes.Tile(parentTile) {
		t.Fatalf("substitute = %v, want the cached parent tile", sub)
	}
	if sub.LevelOffset() != -1 {
		t.Errorf("levelOffset = %d, want -1 for a one-level-up ancestor", sub.LevelOffset())
	}
}

func TestDescendantFallbackFindsMultipleChildren(t *testing.T) {
	ds := &stubDataSource{name: "ds", allowOverlap: true, minLevel: 0, maxLevel: 10}
	c := cache.New(100, cache.NumberOfTiles, nil, nil)

	requested := morton.TileKey{Level: 4, Row: 1, Column: 1}
	children := requested.Children()
	var childTiles []*stubTile
	for _, child := range children {
		ct := newStubTile(child, ds, true)
		c.Set(cache.KeyFor(ds.Name(), child, 0), ct)
		childTiles = append(childTiles, ct)
	}

	pending := newStubTile(requested, ds, false)
	s := &Searcher{Cache: c, SearchDistanceUp: 0, SearchDistanceDown: 1}
	result := s.Resolve(ds, []coretypes.Tile{pending}, 1)

	if len(result) != len(children) {
		t.Fatalf("got %d substitutes, want %d (one per child)", len(result), len(children))
	}
	for _, ct := range childTiles {
		sub, ok := result[ct.UniqueKey()]
		if !ok {
			t.Errorf("missing substitute for child %v", ct.key)
			continue
		}
		if sub.LevelOffset() != 1 {
			t.Errorf("child levelOffset = %d, want 1", sub.LevelOffset())
		}
	}
}

func TestFallbackDisabledWhenOverlapNotAllowed(t *testing.T) {
	ds := &stubDataSource{name: "ds", allowOverlap: false, minLevel: 0, maxLevel: 10}
	c := cache.New(100, cache.NumberOfTiles, nil, nil)

	requested := morton.TileKey{Level: 4, Row: 1, Column: 1}
	c.Set(cache.KeyFor(ds.Name(), requested.Parent(), 0), newStubTile(requested.Parent(), ds, true))

	pending := newStubTile(requested, ds, false)
	s := &Searcher{Cache: c, SearchDistanceUp: 2, SearchDistanceDown: 2}
	result := s.Resolve(ds, []coretypes.Tile{pending}, 1)

	if len(result) != 0 {
		t.Fatalf("expected no substitutes when AllowOverlappingTiles is false, got %d", len(result))
	}
}

func TestAncestorSearchStopsAtMinDataLevel(t *testing.T) {
	ds := &stubDataSource{name: "ds", allowOverlap: true, minLevel: 3, maxLevel: 10}
	c := cache.New(100, cache.NumberOfTiles, nil, nil)

	// requested is level 4; minDataLevel is 3, so only one level up is reachable.
	requested := morton.TileKey{Level: 4, Row: 1, Column: 1}
	grandparent := requested.Parent().Parent()
	c.Set(cache.KeyFor(ds.Name(), grandparent, 0), newStubTile(grandparent, ds, true))

	pending := newStubTile(requested, ds, false)
	s := &Searcher{Cache: c, SearchDistanceUp: 5, SearchDistanceDown: 0}
	result := s.Resolve(ds, []coretypes.Tile{pending}, 1)

	if _, ok := result[pending.UniqueKey()]; ok {
		t.Fatal("ancestor search should not cross minDataLevel to find the grandparent")
	}
}
