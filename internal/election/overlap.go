package election

import (
	"github.com/tilesetcore/visibletiles/internal/coretypes"
	"github.com/tilesetcore/visibletiles/internal/morton"
	"github.com/tilesetcore/visibletiles/internal/tiling"
)

// overlapSuppressor implements spec §4.4: a per-frame map keyed by
// tile.uniqueKey tracking the tile currently claiming that cell among
// fully-covering datasources, so at most one of a background tile and a
// fully-covering vector tile renders per cell.
type overlapSuppressor struct {
	incumbents map[morton.CompositeID]coretypes.Tile
}

func newOverlapSuppressor() *overlapSuppressor {
	return &overlapSuppressor{incumbents: make(map[morton.CompositeID]coretypes.Tile)}
}

// apply resets tile.skipRendering on first visit, then sets it on the
// second datasource to claim the same uniqueKey this frame — preferring
// to keep the non-background tile (spec §8 scenario S3).
func (o *overlapSuppressor) apply(tile coretypes.Tile, ds coretypes.DataSource, projType tiling.ProjectionType) {
	if !ds.IsFullyCovering() {
		return
	}
	tile.SetSkipRendering(false)
	if projType == tiling.ProjectionSpherical {
		return
	}

	key := tile.UniqueKey()
	incumbent, claimed := o.incumbents[key]
	if !claimed {
		o.incumbents[key] = tile
		return
	}
	if incumbent.DataSource().IsBackground() {
		incumbent.SetSkipRendering(true)
		o.incumbents[key] = tile
		return
	}
	tile.SetSkipRendering(true)
}
