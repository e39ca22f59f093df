package visibletiles

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tilesetcore/visibletiles/internal/cache"
	"github.com/tilesetcore/visibletiles/internal/coretypes"
)

// VisibleTileSetOptions is the explicit configuration record spec §9
// calls for in place of a free-form option bag. It holds the fields spec
// §6 enumerates except the projection, which UpdateRenderList takes per
// frame, plus RequestFrame (called when the pipeline wants another frame)
// and the ambient Diagnostics sink (SPEC_FULL.md §10.1). There is no Clock field: frame numbers are caller-supplied
// (SPEC_FULL.md §10.5), so the options record carries no wall-clock
// dependency.
type VisibleTileSetOptions struct {
	TileCacheSize              float64
	ResourceComputationType    cache.ResourceComputationType
	MaxVisibleDataSourceTiles  int
	MaxTilesPerFrame           int
	QuadTreeSearchDistanceUp   int
	QuadTreeSearchDistanceDown int
	ExtendedFrustumCulling     bool
	ClipPlanesEvaluator        coretypes.ClipPlanesEvaluator
	RequestFrame               func()

	// Diagnostics is an optional sink (spec §9: "the core accepts an
	// optional diagnostics sink"). A nil value resolves to a discarding
	// logger so the core is silent by default.
	Diagnostics *logrus.Logger
}

// Validate checks the fields spec §7 calls out as InvalidConfiguration.
func (o VisibleTileSetOptions) Validate() error {
	if o.MaxTilesPerFrame < 0 {
		return fmt.Errorf("%w: MaxTilesPerFrame must be >= 0, got %d", ErrInvalidConfiguration, o.MaxTilesPerFrame)
	}
	if o.QuadTreeSearchDistanceUp < 0 {
		return fmt.Errorf("%w: QuadTreeSearchDistanceUp must be >= 0, got %d", ErrInvalidConfiguration, o.QuadTreeSearchDistanceUp)
	}
	if o.QuadTreeSearchDistanceDown < 0 {
		return fmt.Errorf("%w: QuadTreeSearchDistanceDown must be >= 0, got %d", ErrInvalidConfiguration, o.QuadTreeSearchDistanceDown)
	}
	return nil
}
