package cache

import (
	"context"
	"testing"

	"github.com/tilesetcore/visibletiles/internal/coretypes"
	"github.com/tilesetcore/visibletiles/internal/morton"
	"github.com/tilesetcore/visibletiles/internal/tiling"
)

// testTile is a minimal coretypes.Tile implementation for cache tests.
type testTile struct {
	key     morton.TileKey
	offset  morton.Offset
	memory  int64
	visible bool

	disposed      bool
	hasGeometry   bool
	allLoaded     bool
	delayRender   bool
	uniqueKey     morton.CompositeID
	levelOffset   int
	elevation     coretypes.ElevationRange
	visibleArea   float64
	frameReq      int
	frameVis      int
	frameLastVis  int
	numFramesVis  int
	skipRendering bool
}

func (t *testTile) TileKey() morton.TileKey      { return t.key }
func (t *testTile) Offset() morton.Offset        { return t.offset }
func (t *testTile) DataSource() coretypes.DataSource { return nil }
func (t *testTile) MemoryUsage() int64           { return t.memory }
func (t *testTile) HasGeometry() bool            { return t.hasGeometry }
func (t *testTile) AllGeometryLoaded() bool      { return t.allLoaded }
func (t *testTile) DelayRendering() bool         { return t.delayRender }
func (t *testTile) SetDelayRendering(v bool)     { t.delayRender = v }
func (t *testTile) IsVisible() bool              { return t.visible }
func (t *testTile) SetVisible(v bool)            { t.visible = v }
func (t *testTile) FrameNumLastRequested() int   { return t.frameReq }
func (t *testTile) SetFrameNumLastRequested(v int) { t.frameReq = v }
func (t *testTile) FrameNumVisible() int         { return t.frameVis }
func (t *testTile) SetFrameNumVisible(v int)     { t.frameVis = v }
func (t *testTile) FrameNumLastVisible() int     { return t.frameLastVis }
func (t *testTile) SetFrameNumLastVisible(v int) { t.frameLastVis = v }
func (t *testTile) NumFramesVisible() int        { return t.numFramesVis }
func (t *testTile) IncrementNumFramesVisible()   { t.numFramesVis++ }
func (t *testTile) VisibleArea() float64         { return t.visibleArea }
func (t *testTile) SetVisibleArea(v float64)     { t.visibleArea = v }
func (t *testTile) ElevationRange() coretypes.ElevationRange { return t.elevation }
func (t *testTile) SetElevationRange(r coretypes.ElevationRange) { t.elevation = r }
func (t *testTile) UniqueKey() morton.CompositeID { return t.uniqueKey }
func (t *testTile) SetUniqueKey(id morton.CompositeID) { t.uniqueKey = id }
func (t *testTile) LevelOffset() int             { return t.levelOffset }
func (t *testTile) SetLevelOffset(v int)          { t.levelOffset = v }
func (t *testTile) Dependencies() []morton.TileKey { return nil }
func (t *testTile) SkipRendering() bool           { return t.skipRendering }
func (t *testTile) SetSkipRendering(v bool)        { t.skipRendering = v }
func (t *testTile) GeoBox() tiling.Box3            { return tiling.Box3{} }
func (t *testTile) Dispose()                       { t.disposed = true }
func (t *testTile) Load(ctx context.Context) error { return nil }
func (t *testTile) Loader() coretypes.TileLoader    { return nil }

func TestGetMissDoesNotPromote(t *testing.T) {
	c := New(10, NumberOfTiles, nil, nil)
	if _, ok := c.Get(Key{DataSource: "ds", Morton: 1}); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestSetThenGetHit(t *testing.T) {
	c := New(10, NumberOfTiles, nil, nil)
	tile := &testTile{key: morton.TileKey{Level: 1, Row: 0, Column: 0}, visible: true}
	key := KeyFor("ds", tile.key, 0)

	c.Set(key, tile)
	got, ok := c.Get(key)
	if !ok || got != tile {
		t.Fatalf("Get after Set = (%v, %v), want (%v, true)", got, ok, tile)
	}
}

func TestDeleteBypassesEvictionCallback(t *testing.T) {
	evicted := 0
	c := New(10, NumberOfTiles, func(coretypes.Tile) { evicted++ }, nil)
	tile := &testTile{key: morton.TileKey{Level: 1, Row: 0, Column: 0}}
	key := KeyFor("ds", tile.key, 0)

	c.Set(key, tile)
	c.Delete(key)

	if evicted != 0 {
		t.Fatalf("explicit Delete invoked the eviction callback %d times, want 0", evicted)
	}
	if _, ok := c.Get(key); ok {
		t.Fatal("tile still present after Delete")
	}
}

// TestShrinkToCapacityPinsVisibleTiles is scenario S5 from spec §8: with
// NumberOfTiles capacity 2 and three elected (visible) tiles, shrinking
// must not evict any of them; only once they stop being visible does
// shrink reclaim space.
func TestShrinkToCapacityPinsVisibleTiles(t *testing.T) {
	var evicted []morton.TileKey
	c := New(2, NumberOfTiles, func(tile coretypes.Tile) {
		evicted = append(evicted, tile.TileKey())
	}, nil)

	tiles := make([]*testTile, 3)
	for i := range tiles {
		tiles[i] = &testTile{key: morton.TileKey{Level: 1, Row: 0, Column: i}, visible: true}
		c.Set(KeyFor("ds", tiles[i].key, 0), tiles[i])
	}

	c.ShrinkToCapacity()
	if c.Len() != 3 {
		t.Fatalf("ShrinkToCapacity evicted a pinned (visible) tile: Len=%d, want 3", c.Len())
	}
	if len(evicted) != 0 {
		t.Fatalf("eviction callback fired for pinned tiles: %v", evicted)
	}

	// Next frame: these tiles are no longer visible. Shrink should now
	// evict the least-recently-used one, down to capacity.
	for _, tile := range tiles {
		tile.visible = false
	}
	c.ShrinkToCapacity()
	if c.Len() != 2 {
		t.Fatalf("ShrinkToCapacity after visibility cleared: Len=%d, want 2", c.Len())
	}
	if len(evicted) != 1 {
		t.Fatalf("expected exactly 1 eviction, got %d", len(evicted))
	}
}

func TestShrinkToCapacityIsIdempotentOnQuiescentCache(t *testing.T) {
	c := New(1, NumberOfTiles, nil, nil)
	for i := 0; i < 3; i++ {
		tile := &testTile{key: morton.TileKey{Level: 1, Row: 0, Column: i}}
		c.Set(KeyFor("ds", tile.key, 0), tile)
	}

	c.ShrinkToCapacity()
	firstLen := c.Len()
	c.ShrinkToCapacity()
	if c.Len() != firstLen {
		t.Fatalf("second ShrinkToCapacity changed size: %d -> %d", firstLen, c.Len())
	}
}

func TestSetCapacityRemeasuresExistingEntries(t *testing.T) {
	c := New(1000, EstimationInMb, nil, nil)
	tile := &testTile{key: morton.TileKey{Level: 1, Row: 0, Column: 0}, memory: 5 << 20}
	c.Set(KeyFor("ds", tile.key, 0), tile)

	if got := c.TotalSize(); got != 5 {
		t.Fatalf("TotalSize under EstimationInMb = %v, want 5", got)
	}

	c.SetCapacity(1, NumberOfTiles)
	if got := c.TotalSize(); got != 1 {
		t.Fatalf("TotalSize after SetCapacity(NumberOfTiles) = %v, want 1", got)
	}
}

func TestEvictAllIgnoresVisibility(t *testing.T) {
	c := New(10, NumberOfTiles, nil, nil)
	tile := &testTile{key: morton.TileKey{Level: 1, Row: 0, Column: 0}, visible: true}
	c.Set(KeyFor("ds", tile.key, 0), tile)

	c.EvictAll()
	if c.Len() != 0 {
		t.Fatalf("EvictAll left %d entries, want 0", c.Len())
	}
}

func TestForEachFiltersByDataSource(t *testing.T) {
	c := New(10, NumberOfTiles, nil, nil)
	a := &testTile{key: morton.TileKey{Level: 1, Row: 0, Column: 0}}
	b := &testTile{key: morton.TileKey{Level: 1, Row: 0, Column: 1}}
	c.Set(KeyFor("a", a.key, 0), a)
	c.Set(KeyFor("b", b.key, 0), b)

	var seen []morton.TileKey
	c.ForEach(func(tile coretypes.Tile) { seen = append(seen, tile.TileKey()) }, "a")

	if len(seen) != 1 || seen[0] != a.key {
		t.Fatalf("ForEach filtered by datasource = %v, want only %v", seen, a.key)
	}
}
