package visibletiles

import "errors"

// ErrInvalidConfiguration is returned by setters that validate their
// argument (spec §7 InvalidConfiguration), e.g. SetMaxTilesPerFrame on a
// negative value.
var ErrInvalidConfiguration = errors.New("visibletiles: invalid configuration")

// ErrNonCacheableLookup is returned by GetCachedTile when the requested
// datasource is not cacheable (spec §7 InvariantViolation — "getCachedTile
// on a non-cacheable datasource is an assertion"; Go has no assertions,
// so this surfaces as an error instead of a panic).
var ErrNonCacheableLookup = errors.New("visibletiles: GetCachedTile called on a non-cacheable datasource")

// NoTileAvailable, LoadFailure and BoundingBoxNotFinal are not errors
// (spec §7): a missing tile is silently skipped during election, a load
// failure surfaces only as a tile that never becomes AllGeometryLoaded,
// and a non-final bounding box sets AllVisibleTileLoaded to false on
// every datasource's list for that frame and calls RequestFrame for
// another frame. None of them are represented as a Go error value
// anywhere in this module.
