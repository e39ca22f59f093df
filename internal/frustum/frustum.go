// Package frustum computes the set of tile keys a camera frustum touches
// for a tiling scheme (spec §4.2, the Frustum Intersector). Nothing in
// the wider example pack implements 3D frustum math — the teacher works
// in raster/projection space, not camera space — so the plane extraction
// and box tests here are grounded in the standard Gribb/Hartmann technique
// rather than any pack file; everything else about this package's shape
// (small pure functions operating on the shared Vector3/Box3/Matrix4
// types, doc comments stating the invariant rather than the rationale)
// follows the teacher's internal/coord style.
package frustum

import (
	"math"

	"github.com/tilesetcore/visibletiles/internal/coretypes"
	"github.com/tilesetcore/visibletiles/internal/morton"
	"github.com/tilesetcore/visibletiles/internal/tiling"
)

// Plane is a plane in Hessian normal form: Normal.dot(p) + D >= 0 for
// points p on the frustum's inside.
type Plane struct {
	Normal tiling.Vector3
	D      float64
}

func (p Plane) distanceToPoint(v tiling.Vector3) float64 {
	return p.Normal.X*v.X + p.Normal.Y*v.Y + p.Normal.Z*v.Z + p.D
}

func (p Plane) normalize() Plane {
	length := math.Sqrt(p.Normal.X*p.Normal.X + p.Normal.Y*p.Normal.Y + p.Normal.Z*p.Normal.Z)
	if length == 0 {
		return p
	}
	return Plane{
		Normal: tiling.Vector3{X: p.Normal.X / length, Y: p.Normal.Y / length, Z: p.Normal.Z / length},
		D:      p.D / length,
	}
}

// Frustum is the six half-spaces of a camera's view volume, in the order
// left, right, bottom, top, near, far.
type Frustum struct {
	Planes [6]Plane
}

// FromMatrix extracts a Frustum from a row-major view-projection matrix
// using the standard Gribb/Hartmann plane extraction.
func FromMatrix(m coretypes.Matrix4) Frustum {
	row := func(i int) (float64, float64, float64, float64) {
		return m[i*4+0], m[i*4+1], m[i*4+2], m[i*4+3]
	}
	r0x, r0y, r0z, r0w := row(0)
	r1x, r1y, r1z, r1w := row(1)
	r2x, r2y, r2z, r2w := row(2)
	r3x, r3y, r3z, r3w := row(3)

	plane := func(ax, ay, az, aw float64) Plane {
		return Plane{Normal: tiling.Vector3{X: ax, Y: ay, Z: az}, D: aw}.normalize()
	}

	return Frustum{Planes: [6]Plane{
		plane(r3x+r0x, r3y+r0y, r3z+r0z, r3w+r0w), // left
		plane(r3x-r0x, r3y-r0y, r3z-r0z, r3w-r0w), // right
		plane(r3x+r1x, r3y+r1y, r3z+r1z, r3w+r1w), // bottom
		plane(r3x-r1x, r3y-r1y, r3z-r1z, r3w-r1w), // top
		plane(r3x+r2x, r3y+r2y, r3z+r2z, r3w+r2w), // near
		plane(r3x-r2x, r3y-r2y, r3z-r2z, r3w-r2w), // far
	}}
}

// IntersectsBox reports whether box lies at least partly inside every
// frustum plane (the standard AABB-vs-frustum test: for each plane, find
// the box's positive vertex and reject if it is entirely on the outside).
func (f Frustum) IntersectsBox(box tiling.Box3) bool {
	for _, p := range f.Planes {
		positive := tiling.Vector3{
			X: positiveCoord(p.Normal.X, box.Min.X, box.Max.X),
			Y: positiveCoord(p.Normal.Y, box.Min.Y, box.Max.Y),
			Z: positiveCoord(p.Normal.Z, box.Min.Z, box.Max.Z),
		}
		if p.distanceToPoint(positive) < 0 {
			return false
		}
	}
	return true
}

func positiveCoord(normal, min, max float64) float64 {
	if normal >= 0 {
		return max
	}
	return min
}

// ExtendedCulling tests box against f more conservatively than
// IntersectsBox: spec §4.2 "reject only when the frustum AABB lies
// entirely outside one of the tile-box planes". Concretely, for each of
// the box's own axis-aligned faces, treat the face's outward normal as a
// plane through that face and reject if every one of the frustum's 8
// corners lies strictly outside it. This eliminates the false positives
// naive AABB-vs-frustum produces when a large tile straddles a frustum
// plane but its bounding box still overlaps the frustum's own bounding
// volume.
func ExtendedCulling(f Frustum, box tiling.Box3) bool {
	corners := f.corners()
	for _, bp := range boxFacePlanes(box) {
		allOutside := true
		for _, c := range corners {
			if bp.distanceToPoint(c) <= 0 {
				allOutside = false
				break
			}
		}
		if allOutside {
			return false
		}
	}
	return true
}

// corners returns the 8 points where the frustum's near/far planes meet
// its left/right and top/bottom planes, each found by intersecting three
// planes via Cramer's rule.
func (f Frustum) corners() [8]tiling.Vector3 {
	left, right := f.Planes[0], f.Planes[1]
	bottom, top := f.Planes[2], f.Planes[3]
	near, far := f.Planes[4], f.Planes[5]

	return [8]tiling.Vector3{
		intersectPlanes(near, left, bottom),
		intersectPlanes(near, left, top),
		intersectPlanes(near, right, bottom),
		intersectPlanes(near, right, top),
		intersectPlanes(far, left, bottom),
		intersectPlanes(far, left, top),
		intersectPlanes(far, right, bottom),
		intersectPlanes(far, right, top),
	}
}

// intersectPlanes returns the point common to three planes, given in
// Hessian normal form (n.p + d = 0).
func intersectPlanes(a, b, c Plane) tiling.Vector3 {
	n1, n2, n3 := a.Normal, b.Normal, c.Normal
	bc := cross(n2, n3)
	ca := cross(n3, n1)
	ab := cross(n1, n2)

	denom := dot(n1, bc)
	if denom == 0 {
		return tiling.Vector3{}
	}

	p := add(add(scale(bc, -a.D), scale(ca, -b.D)), scale(ab, -c.D))
	return scale(p, 1/denom)
}

func cross(a, b tiling.Vector3) tiling.Vector3 {
	return tiling.Vector3{
		X: a.Y*b.Z - a.Z*b.Y,
		Y: a.Z*b.X - a.X*b.Z,
		Z: a.X*b.Y - a.Y*b.X,
	}
}

func dot(a, b tiling.Vector3) float64 {
	return a.X*b.X + a.Y*b.Y + a.Z*b.Z
}

func scale(a tiling.Vector3, s float64) tiling.Vector3 {
	return tiling.Vector3{X: a.X * s, Y: a.Y * s, Z: a.Z * s}
}

func add(a, b tiling.Vector3) tiling.Vector3 {
	return tiling.Vector3{X: a.X + b.X, Y: a.Y + b.Y, Z: a.Z + b.Z}
}

func boxFacePlanes(box tiling.Box3) [6]Plane {
	return [6]Plane{
		{Normal: tiling.Vector3{X: -1}, D: box.Min.X},
		{Normal: tiling.Vector3{X: 1}, D: -box.Max.X},
		{Normal: tiling.Vector3{Y: -1}, D: box.Min.Y},
		{Normal: tiling.Vector3{Y: 1}, D: -box.Max.Y},
		{Normal: tiling.Vector3{Z: -1}, D: box.Min.Z},
		{Normal: tiling.Vector3{Z: 1}, D: -box.Max.Z},
	}
}

// Candidate is one tile key the frustum touches, annotated per spec §4.2
// "Output per tile key".
type Candidate struct {
	TileKey        morton.TileKey
	Offset         morton.Offset
	Area           float64
	Distance       float64
	ElevationRange coretypes.ElevationRange
}

// Query groups the Frustum Intersector's inputs for one call: a camera, a
// tiling scheme, the levels to collect tiles at, an optional elevation
// source consulted for every candidate, an optional view range whose
// Minimum/Maximum extend the camera's near/far (ExtendRange), and the
// switch for the second-pass extended culling test (ExtendedCulling).
type Query struct {
	Camera          coretypes.Camera
	Scheme          tiling.TilingScheme
	Levels          []int
	ElevationSource coretypes.ElevationRangeSource
	ExtendRange     *coretypes.ViewRanges
	ExtendedCulling bool
	MaxOffset       morton.Offset
}

// Result is the Frustum Intersector's output: candidates grouped by
// level, plus whether every elevation lookup this pass returned a final
// (non-provisional) calculation.
type Result struct {
	ByLevel               map[int][]Candidate
	AllBoundingBoxesFinal bool
}

// ExtendNearFar clones camera with its near/far planes replaced by
// [near, far] and its projection matrix recomputed accordingly (spec
// §4.2 "the caller clones the camera and expands its near/far planes").
// The original camera is left untouched.
func ExtendNearFar(camera coretypes.Camera, near, far float64) coretypes.Camera {
	return camera.Extend(near, far)
}

// Intersect walks the tiling scheme's quad-tree from the root, descending
// only into nodes whose box survives the (possibly extended) frustum
// test, and emits a Candidate for every surviving node at a requested
// level.
func Intersect(q Query) Result {
	result := Result{ByLevel: make(map[int][]Candidate), AllBoundingBoxesFinal: true}

	camera := q.Camera
	if q.ExtendRange != nil {
		camera = ExtendNearFar(camera, q.ExtendRange.Minimum, q.ExtendRange.Maximum)
	}
	view := FromMatrix(camera.ViewProj)

	maxLevel := 0
	levelSet := make(map[int]bool, len(q.Levels))
	for _, lvl := range q.Levels {
		levelSet[lvl] = true
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}

	offsets := []morton.Offset{0}
	for o := morton.Offset(1); o <= q.MaxOffset; o++ {
		offsets = append(offsets, o, -o)
	}

	root := morton.TileKey{Level: 0, Row: 0, Column: 0}
	for _, offset := range offsets {
		walk(q.Scheme, view, camera, root, offset, maxLevel, levelSet, q.ElevationSource, q.ExtendedCulling, &result)
	}
	return result
}

func walk(
	scheme tiling.TilingScheme,
	view Frustum,
	camera coretypes.Camera,
	key morton.TileKey,
	offset morton.Offset,
	maxLevel int,
	levelSet map[int]bool,
	elevationSource coretypes.ElevationRangeSource,
	extendedCulling bool,
	result *Result,
) {
	box := scheme.TileBounds(key)
	if !view.IntersectsBox(box) {
		return
	}
	if extendedCulling && !ExtendedCulling(view, box) {
		return
	}

	if levelSet[key.Level] {
		elevationRange, final := lookupElevation(elevationSource, key)
		if !final {
			result.AllBoundingBoxesFinal = false
		}
		result.ByLevel[key.Level] = append(result.ByLevel[key.Level], Candidate{
			TileKey:        key,
			Offset:         offset,
			Area:           projectedArea(box, camera),
			Distance:       distanceToBox(box, camera.Position),
			ElevationRange: elevationRange,
		})
	}

	if key.Level >= maxLevel {
		return
	}
	for _, child := range key.Children() {
		walk(scheme, view, camera, child, offset, maxLevel, levelSet, elevationSource, extendedCulling, result)
	}
}

func lookupElevation(source coretypes.ElevationRangeSource, key morton.TileKey) (coretypes.ElevationRange, bool) {
	if source == nil {
		return coretypes.ElevationRange{}, true
	}
	return source.GetElevationRange(key)
}

func distanceToBox(box tiling.Box3, from tiling.Vector3) float64 {
	center := box.Center()
	dx, dy, dz := center.X-from.X, center.Y-from.Y, center.Z-from.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// projectedArea estimates the screen-space area of box as seen from
// camera: the box's world-space footprint scaled by inverse squared
// distance, the same falloff a perspective projection applies.
func projectedArea(box tiling.Box3, camera coretypes.Camera) float64 {
	dx := box.Max.X - box.Min.X
	dy := box.Max.Y - box.Min.Y
	footprint := dx * dy
	distance := distanceToBox(box, camera.Position)
	if distance < 1 {
		distance = 1
	}
	return footprint / (distance * distance)
}
