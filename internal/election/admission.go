package election

import "github.com/tilesetcore/visibletiles/internal/coretypes"

// admissionController implements spec §4.5: maxTilesPerFrame bounds how
// many newly-visible tiles may upload in one frame. A tile already
// visible last frame is always admitted, regardless of the running
// count, so a steady camera never starves tiles it is already showing.
type admissionController struct {
	max          int
	count        int
	requestFrame func()
}

// apply admits or delays tile for frameNumber, per spec §4.5 and §8
// scenario S4. When a tile is delayed, requestFrame (if set) is called
// to ask the render loop for another frame (spec's mapView.update()).
func (a *admissionController) apply(tile coretypes.Tile, frameNumber int) {
	isNew := tile.FrameNumVisible() < 0

	if a.max != 0 && isNew {
		a.count++
		if a.count > a.max && tile.FrameNumLastVisible() != frameNumber-1 {
			tile.SetDelayRendering(true)
			if a.requestFrame != nil {
				a.requestFrame()
			}
			return
		}
	}

	tile.SetDelayRendering(false)
	if isNew {
		tile.SetFrameNumVisible(frameNumber)
	}
	tile.SetFrameNumLastVisible(frameNumber)
	tile.IncrementNumFramesVisible()
}
