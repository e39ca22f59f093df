// Package coretypes holds the capability-typed contracts the engine sees
// for tiles and datasources (spec §3, §4.8, §9 "Polymorphism over
// tiles/datasources"). Every other internal package and the top-level
// VisibleTileSet import these interfaces instead of depending on each
// other directly, the same layering the teacher uses between its cog,
// coord and tile packages.
package coretypes

import (
	"context"

	"github.com/tilesetcore/visibletiles/internal/morton"
	"github.com/tilesetcore/visibletiles/internal/tiling"
)

// ElevationRange is the minimum/maximum elevation of a tile or a group of
// tiles, in the same units as the renderer's world coordinates.
type ElevationRange struct {
	MinElevation float64
	MaxElevation float64
}

// Union returns the range spanning both r and other.
func (r ElevationRange) Union(other ElevationRange) ElevationRange {
	return ElevationRange{
		MinElevation: minFloat(r.MinElevation, other.MinElevation),
		MaxElevation: maxFloat(r.MaxElevation, other.MaxElevation),
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// ViewRanges are the clip-plane distances computed for a frame (spec §6,
// GLOSSARY "View ranges").
type ViewRanges struct {
	Near, Far       float64
	Minimum, Maximum float64
}

// Equal does a field-wise compare, used to compute viewRangesChanged.
func (v ViewRanges) Equal(other ViewRanges) bool {
	return v.Near == other.Near && v.Far == other.Far &&
		v.Minimum == other.Minimum && v.Maximum == other.Maximum
}

// ElevationRangeSource supplies provisional or final elevation data for a
// tile key, used to both extend the camera frustum (spec §4.2) and to
// evaluate clip planes (spec §4.3 step 11).
type ElevationRangeSource interface {
	// GetElevationRange returns the elevation range for key and whether
	// the calculation is final. calculationFinal=false means the result
	// is provisional (e.g. terrain still loading) and the caller must
	// mark the frame for recomputation next frame.
	GetElevationRange(key morton.TileKey) (elevationRange ElevationRange, calculationFinal bool)
}

// ClipPlanesEvaluator computes near/far/min/max view ranges from the
// elevation of the tiles a frame rendered (spec §4.8).
type ClipPlanesEvaluator interface {
	EvaluateClipPlanes(camera Camera, projection tiling.Projection, elevationProvider ElevationRangeSource) ViewRanges
}

// Camera is the minimal camera contract the frustum intersector and the
// clip-planes evaluator need: a view/projection matrix pair plus the
// near/far distances currently baked into that projection.
//
// Rebuild lets the frustum intersector derive the "extended frustum" (spec
// §4.2): given new near/far distances it returns a Camera with its
// projection matrix recomputed accordingly. The core never constructs a
// projection matrix itself — fov, aspect and handedness are the
// renderer's concern — so this is a renderer-supplied function, not a
// method the core can implement generically.
type Camera struct {
	Position  tiling.Vector3
	ViewProj  Matrix4
	Near, Far float64
	Rebuild   func(near, far float64) Matrix4
}

// Extend returns a clone of c with near/far replaced by [near, far] and
// the projection matrix recomputed via Rebuild. If Rebuild is nil, c is
// returned unchanged (the caller falls back to the unextended frustum).
func (c Camera) Extend(near, far float64) Camera {
	if c.Rebuild == nil {
		return c
	}
	extended := c
	extended.Near, extended.Far = near, far
	extended.ViewProj = c.Rebuild(near, far)
	return extended
}

// Matrix4 is a 4x4 matrix stored in row-major order; the core only ever
// multiplies it against points and rebuilds it from near/far distances,
// never inverts or decomposes it, so a flat array is enough.
type Matrix4 [16]float64

// TileLoader exposes the two knobs the task queue needs from an
// in-flight or not-yet-started load: its priority (read at dispatch time,
// not at submission) and the ability to cancel it.
type TileLoader interface {
	Priority() float64
	Cancel()
}

// Tile is the capability set the core requires from a renderer's tile
// implementation (spec §3 "Tile (external entity...)"). It owns no
// rendering logic; the core only touches lifecycle state and metadata.
type Tile interface {
	TileKey() morton.TileKey
	Offset() morton.Offset
	DataSource() DataSource

	MemoryUsage() int64

	HasGeometry() bool
	AllGeometryLoaded() bool

	DelayRendering() bool
	SetDelayRendering(bool)

	IsVisible() bool
	SetVisible(bool)

	FrameNumLastRequested() int
	SetFrameNumLastRequested(int)
	// FrameNumVisible is negative until the tile is elected for the
	// first time; frame admission (spec §4.5) treats a negative value as
	// "new". Implementations must construct tiles with it set to -1.
	FrameNumVisible() int
	SetFrameNumVisible(int)
	FrameNumLastVisible() int
	SetFrameNumLastVisible(int)
	NumFramesVisible() int
	IncrementNumFramesVisible()

	VisibleArea() float64
	SetVisibleArea(float64)

	ElevationRange() ElevationRange
	SetElevationRange(ElevationRange)

	UniqueKey() morton.CompositeID
	SetUniqueKey(morton.CompositeID)

	// LevelOffset is positive when this tile stands in as a descendant
	// fallback, negative as an ancestor fallback, 0 for an exact match.
	LevelOffset() int
	SetLevelOffset(int)

	Dependencies() []morton.TileKey

	SkipRendering() bool
	SetSkipRendering(bool)

	GeoBox() tiling.Box3

	// Dispose releases all owned resources. Idempotent.
	Dispose()

	// Load begins or resumes fetching/decoding. The core never awaits
	// this directly; it is invoked by the task queue dispatcher.
	Load(ctx context.Context) error

	// Loader returns the in-flight loader for this tile, or nil if none
	// is outstanding.
	Loader() TileLoader
}

// DataSource is the capability set the core requires from a tile
// provider (spec §3 "DataSource (external)").
type DataSource interface {
	Name() string
	Cacheable() bool
	MinDataLevel() int
	MaxDataLevel() int
	GetDataZoomLevel(cameraZoom float64) int
	TilingScheme() tiling.TilingScheme

	// GetTile returns the tile at key, creating it lazily if needed.
	// touch indicates the caller intends to use the tile this frame.
	GetTile(key morton.TileKey, offset morton.Offset, touch bool) (Tile, bool)

	CanGetTile(level int, key morton.TileKey) bool
	IsFullyCovering() bool
	AllowOverlappingTiles() bool

	// IsBackground discriminates the one renderer-defined datasource
	// variant the core's overlap suppression needs to know about (spec
	// §9: "discriminated by a one-bit tag, not by runtime type identity").
	IsBackground() bool
}
