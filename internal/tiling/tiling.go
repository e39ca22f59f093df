// Package tiling defines the Projection and TilingScheme capability
// interfaces the core consumes from its renderer host (spec §4.8), plus a
// Web Mercator implementation grounded in the teacher's coord package
// (coord.WebMercatorProj, coord.LonLatToTile, coord.TileBounds) so the
// core and its tests have a concrete scheme to run against without
// depending on any particular renderer.
package tiling

import (
	"github.com/tilesetcore/visibletiles/internal/morton"
)

// ProjectionType discriminates spherical (globe) projections from planar
// ones. Overlap suppression (spec §4.4) only applies on non-spherical
// projections, so this is the one place projection identity leaks past
// the capability interface.
type ProjectionType int

const (
	ProjectionPlanar ProjectionType = iota
	ProjectionSpherical
)

// Vector3 is a minimal 3D point/vector, enough for frustum and bounding
// box arithmetic; the core never needs a full linear-algebra stack.
type Vector3 struct {
	X, Y, Z float64
}

// Box3 is an axis-aligned bounding box in projected (world) space.
type Box3 struct {
	Min, Max Vector3
}

// Center returns the midpoint of the box.
func (b Box3) Center() Vector3 {
	return Vector3{
		X: (b.Min.X + b.Max.X) / 2,
		Y: (b.Min.Y + b.Max.Y) / 2,
		Z: (b.Min.Z + b.Max.Z) / 2,
	}
}

// Corners returns the 8 corners of the box.
func (b Box3) Corners() [8]Vector3 {
	return [8]Vector3{
		{b.Min.X, b.Min.Y, b.Min.Z}, {b.Max.X, b.Min.Y, b.Min.Z},
		{b.Min.X, b.Max.Y, b.Min.Z}, {b.Max.X, b.Max.Y, b.Min.Z},
		{b.Min.X, b.Min.Y, b.Max.Z}, {b.Max.X, b.Min.Y, b.Max.Z},
		{b.Min.X, b.Max.Y, b.Max.Z}, {b.Max.X, b.Max.Y, b.Max.Z},
	}
}

// Union returns the smallest box containing both b and other.
func (b Box3) Union(other Box3) Box3 {
	return Box3{
		Min: Vector3{min(b.Min.X, other.Min.X), min(b.Min.Y, other.Min.Y), min(b.Min.Z, other.Min.Z)},
		Max: Vector3{max(b.Max.X, other.Max.X), max(b.Max.Y, other.Max.Y), max(b.Max.Z, other.Max.Z)},
	}
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Projection converts between a renderer's world coordinates and the
// tiling scheme's projected space. The core only ever projects points and
// boxes; it never needs to invert the projection.
type Projection interface {
	Type() ProjectionType
	ProjectPoint(world Vector3) Vector3
	ProjectBox(box Box3) Box3
}

// TilingScheme maps projected world coordinates to quad-tree tile keys
// and back to world-space bounding boxes.
type TilingScheme interface {
	Projection() Projection

	// GetTileKey returns the tile key at level that contains worldCoords,
	// or ok=false if worldCoords falls outside the scheme's domain.
	GetTileKey(worldCoords Vector3, level int) (key morton.TileKey, ok bool)

	// GetSubTileKeys returns key's four quad-tree children.
	GetSubTileKeys(key morton.TileKey) [4]morton.TileKey

	// TileBounds returns the world-space bounding box of a tile, used for
	// frustum intersection tests and for aggregating elevation.
	TileBounds(key morton.TileKey) Box3
}

// WorldCoordinatesToTileKey is the package-level helper spec §4.8 lists
// as TileKeyUtils.worldCoordinatesToTileKey: a thin wrapper so callers
// that only have a scheme and a point don't need to know about the
// TilingScheme method name.
func WorldCoordinatesToTileKey(scheme TilingScheme, world Vector3, level int) (morton.TileKey, bool) {
	return scheme.GetTileKey(world, level)
}

// earthRadius is the WGS84 equatorial radius in meters. This package has
// no spherical projection and nothing here reads the constant.
const earthRadius = 6378137.0
