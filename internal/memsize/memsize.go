// Package memsize derives an automatic Tile Cache capacity from the
// host's physical RAM, the same headroom arithmetic the teacher used to
// decide when to spill tiles to disk (internal/tile/memlimit.go),
// repurposed here to size cache.TileCache instead.
package memsize

import "runtime"

// DefaultFraction is the share of total RAM the cache may claim when a
// caller asks for an automatic capacity (spec §6 leaves TileCacheSize a
// caller-supplied number; this is an opt-in convenience, not a default).
const DefaultFraction = 0.25

// AutoCacheCapacityMB returns a TileCacheSize (in megabytes, for use with
// cache.EstimationInMb) equal to fraction of total system RAM minus the
// current Go heap's overhead and a fixed headroom buffer. It returns 0,
// false if RAM detection fails or the computed capacity is unreasonably
// small, in which case the caller should fall back to an explicit size.
func AutoCacheCapacityMB(fraction float64) (float64, bool) {
	totalRAM, err := totalSystemRAM()
	if err != nil {
		return 0, false
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	overhead := m.Sys + 512*1024*1024

	limitBytes := int64(float64(totalRAM)*fraction) - int64(overhead)
	const minimumBytes = 64 * 1024 * 1024
	if limitBytes < minimumBytes {
		return 0, false
	}

	return float64(limitBytes) / (1024 * 1024), true
}
