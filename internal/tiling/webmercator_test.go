package tiling

import (
	"testing"

	"github.com/tilesetcore/visibletiles/internal/morton"
)

func TestGetTileKeyRootCoversWholeWorld(t *testing.T) {
	scheme := NewWebMercatorScheme()

	key, ok := scheme.GetTileKey(Vector3{X: 0, Y: 0}, 0)
	if !ok {
		t.Fatal("expected level-0 tile to contain the origin")
	}
	if key != (morton.TileKey{Level: 0, Row: 0, Column: 0}) {
		t.Fatalf("GetTileKey(origin, 0) = %+v, want {0 0 0}", key)
	}
}

func TestTileBoundsRoundTripsGetTileKey(t *testing.T) {
	scheme := NewWebMercatorScheme()

	for level := 0; level <= 6; level++ {
		key, ok := scheme.GetTileKey(Vector3{X: 1234567, Y: -2345678}, level)
		if !ok {
			t.Fatalf("level %d: GetTileKey reported out of range", level)
		}
		bounds := scheme.TileBounds(key)
		if 1234567 < bounds.Min.X || 1234567 > bounds.Max.X {
			t.Errorf("level %d: X 1234567 outside returned bounds [%v, %v]", level, bounds.Min.X, bounds.Max.X)
		}
		if -2345678 < bounds.Min.Y || -2345678 > bounds.Max.Y {
			t.Errorf("level %d: Y -2345678 outside returned bounds [%v, %v]", level, bounds.Min.Y, bounds.Max.Y)
		}
	}
}

func TestGetTileKeyOutOfRange(t *testing.T) {
	scheme := NewWebMercatorScheme()
	if _, ok := scheme.GetTileKey(Vector3{X: originShift * 3, Y: 0}, 2); ok {
		t.Fatal("expected out-of-range world coordinate to be rejected")
	}
}

func TestSubTileKeysAreChildren(t *testing.T) {
	scheme := NewWebMercatorScheme()
	parent, _ := scheme.GetTileKey(Vector3{X: 0, Y: 0}, 3)
	children := scheme.GetSubTileKeys(parent)
	for _, c := range children {
		if c.Parent() != parent {
			t.Errorf("child %+v does not round-trip to parent %+v", c, parent)
		}
	}
}
