package tiling

import (
	"math"

	"github.com/tilesetcore/visibletiles/internal/morton"
)

// originShift is half of the Web Mercator world circumference in meters,
// i.e. coord.OriginShift in the teacher's coord package.
const originShift = 20037508.342789244

// WebMercatorProjection is a planar EPSG:3857-style projection: world
// coordinates are already projected meters, so ProjectPoint/ProjectBox
// are identity operations. Grounded in the teacher's coord.WebMercatorProj,
// adapted from a WGS84<->meters converter into the core's Projection
// capability (project-only, no inverse needed).
type WebMercatorProjection struct{}

func (WebMercatorProjection) Type() ProjectionType { return ProjectionPlanar }

func (WebMercatorProjection) ProjectPoint(world Vector3) Vector3 { return world }

func (WebMercatorProjection) ProjectBox(box Box3) Box3 { return box }

// WebMercatorScheme is a TilingScheme over the standard slippy-map
// pyramid, ported from the teacher's coord.LonLatToTile/TileBounds (which
// operate in WGS84 degrees) into projected Web Mercator meters, since the
// core's TilingScheme works in world/projected coordinates, not degrees.
type WebMercatorScheme struct {
	proj Projection
}

// NewWebMercatorScheme returns a WebMercatorScheme using WebMercatorProjection.
func NewWebMercatorScheme() *WebMercatorScheme {
	return &WebMercatorScheme{proj: WebMercatorProjection{}}
}

func (s *WebMercatorScheme) Projection() Projection { return s.proj }

// GetTileKey returns the tile containing the given projected meters at
// level, following the same floor-and-clamp logic as the teacher's
// LonLatToTile, just operating on meters instead of degrees.
func (s *WebMercatorScheme) GetTileKey(world Vector3, level int) (morton.TileKey, bool) {
	if level < 0 {
		return morton.TileKey{}, false
	}
	n := math.Exp2(float64(level))
	tileMeters := (2 * originShift) / n

	col := int(math.Floor((world.X + originShift) / tileMeters))
	row := int(math.Floor((originShift - world.Y) / tileMeters))

	maxIndex := int(n) - 1
	if col < 0 || col > maxIndex || row < 0 || row > maxIndex {
		return morton.TileKey{}, false
	}
	return morton.TileKey{Level: level, Row: row, Column: col}, true
}

func (s *WebMercatorScheme) GetSubTileKeys(key morton.TileKey) [4]morton.TileKey {
	return key.Children()
}

// TileBounds returns the projected-meters bounding box of a tile, ported
// from the teacher's TileBounds (which returns WGS84 degrees) by working
// directly in the linear Web Mercator meter space instead of converting
// through latitude.
func (s *WebMercatorScheme) TileBounds(key morton.TileKey) Box3 {
	n := math.Exp2(float64(key.Level))
	tileMeters := (2 * originShift) / n

	minX := float64(key.Column)*tileMeters - originShift
	maxX := minX + tileMeters
	maxY := originShift - float64(key.Row)*tileMeters
	minY := maxY - tileMeters

	return Box3{
		Min: Vector3{X: minX, Y: minY, Z: 0},
		Max: Vector3{X: maxX, Y: maxY, Z: 0},
	}
}
