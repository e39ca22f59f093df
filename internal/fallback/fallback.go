// Package fallback implements the Fallback Searcher (spec §4.6): for
// every elected tile that is not ready, walk the cache upward to a
// loaded ancestor or downward to loaded descendants, producing
// substitutes for renderedTiles.
//
// The level-bound clamping mirrors the teacher's internal/tile/zoom.go
// (AutoZoomRange clamps a computed range against a floor), and the
// parent/child walk reuses morton.TileKey.Parent/Children — the same
// arithmetic internal/coord's tile hierarchy uses, just exposed through
// the morton package instead of coord's own helpers.
package fallback

import (
	"github.com/tilesetcore/visibletiles/internal/cache"
	"github.com/tilesetcore/visibletiles/internal/coretypes"
	"github.com/tilesetcore/visibletiles/internal/morton"
)

// Searcher runs the up/down substitute search against a TileCache.
type Searcher struct {
	Cache             *cache.TileCache
	SearchDistanceUp   int
	SearchDistanceDown int
}

// Resolve finds substitutes for every tile in visible that is not ready
// (!hasGeometry || delayRendering), returning a map from the requested
// tile's uniqueKey to the found substitute (ancestors) plus, separately,
// one entry per descendant found (spec: "multiple descendants may
// substitute for one elected tile; they are not mutually exclusive" —
// keyed by the descendant's own uniqueKey so they don't collide).
func (s *Searcher) Resolve(dataSource coretypes.DataSource, visible []coretypes.Tile, frameNumber int) map[morton.CompositeID]coretypes.Tile {
	result := make(map[morton.CompositeID]coretypes.Tile)
	if !dataSource.AllowOverlappingTiles() {
		return result
	}

	upMemo := make(map[morton.TileKey]substitute, len(visible))
	baseUp := nonNegative(s.SearchDistanceUp)
	baseDown := nonNegative(s.SearchDistanceDown)

	for _, tile := range visible {
		if tile.HasGeometry() && !tile.DelayRendering() {
			continue // ready: no fallback needed.
		}
		key := tile.TileKey()
		maxUp := boundToDataLevels(baseUp, key.Level-dataSource.MinDataLevel())
		maxDown := boundToDataLevels(baseDown, dataSource.MaxDataLevel()-key.Level)

		if sub, ok := s.searchUp(dataSource.Name(), key, maxUp, upMemo); ok {
			sub.tile.SetLevelOffset(sub.levelOffset)
			result[tile.UniqueKey()] = sub.tile
		}

		for _, sub := range s.searchDown(dataSource.Name(), key, maxDown, 1) {
			sub.tile.SetLevelOffset(sub.levelOffset)
			result[sub.tile.UniqueKey()] = sub.tile
		}
	}
	return result
}

type substitute struct {
	tile        coretypes.Tile
	levelOffset int
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// boundToDataLevels clamps a search distance to how many levels remain
// before the datasource's min/maxDataLevel, as spec §4.6 requires ("both
// are clamped against the datasource's min/maxDataLevel").
func boundToDataLevels(distance, remainingLevels int) int {
	remainingLevels = nonNegative(remainingLevels)
	if distance > remainingLevels {
		return remainingLevels
	}
	return distance
}

// searchUp walks parent keys. Each visited parent's cache lookup is
// memoised per frame in upMemo (a nil tile meaning "not a loaded
// substitute"), so siblings sharing an ancestor chain don't repeat it
// (spec §4.6).
func (s *Searcher) searchUp(dataSourceName string, key morton.TileKey, maxUp int, memo map[morton.TileKey]substitute) (substitute, bool) {
	current := key
	for level := 1; level <= maxUp; level++ {
		parent := current.Parent()
		if parent == current {
			break // hit level 0, Parent is a no-op there.
		}
		visited, seen := memo[parent]
		if !seen {
			if tile, ok := s.Cache.Peek(cache.KeyFor(dataSourceName, parent, 0)); ok && tile.HasGeometry() && !tile.DelayRendering() {
				visited.tile = tile
			}
			memo[parent] = visited
		}
		if visited.tile != nil {
			return substitute{tile: visited.tile, levelOffset: -level}, true
		}
		current = parent
	}
	return substitute{}, false
}

// searchDown recurses through the tiling scheme's children up to the
// depth bound, collecting every loaded descendant found — descendants
// are independently additive, not mutually exclusive (spec §4.6, §9 Open
// Question: "ancestors preferred; descendants independently supplement").
func (s *Searcher) searchDown(dataSourceName string, key morton.TileKey, maxDown, depth int) []substitute {
	if depth > maxDown {
		return nil
	}

	var found []substitute
	for _, child := range key.Children() {
		if tile, ok := s.Cache.Peek(cache.KeyFor(dataSourceName, child, 0)); ok && tile.HasGeometry() && !tile.DelayRendering() {
			found = append(found, substitute{tile: tile, levelOffset: depth})
		}
		found = append(found, s.searchDown(dataSourceName, child, maxDown, depth+1)...)
	}
	return found
}
