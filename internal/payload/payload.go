// Package payload provides a synthetic stand-in for a tile's real payload
// (meshes, textures, decoded buffers) — content the core treats as opaque
// per spec §1 ("a tile's payload is opaque to the core"). It exists only
// for the benchmark/demo harness and tests: something that produces a
// believable, non-constant memoryUsage without pulling vector or GL
// decoding into the core itself.
//
// Image generation is grounded in the teacher's raster pipeline
// (tile/downsample.go, tile/resample.go operate on *image.RGBA buffers);
// encoding reuses the teacher's one real third-party codec dependency,
// github.com/gen2brain/webp, so memoryUsage reflects a real compressed
// byte count instead of a made-up number.
package payload

import (
	"bytes"
	"image"
	"image/color"

	"github.com/gen2brain/webp"
)

// Synthetic is a stand-in tile payload: an encoded image plus the byte
// count the cache should charge for it. Nothing outside this package
// inspects Bytes; callers only ever read Size.
type Synthetic struct {
	Bytes []byte
	Size  int
}

// Generate procedurally renders a tileSize x tileSize image seeded by the
// tile's quad-tree position (so adjacent tiles differ, exercising the
// cache's per-entry size variance) and encodes it to WebP at the given
// quality.
//
// level/row/column seed a simple deterministic gradient+checker pattern;
// this is not meant to look like real terrain or imagery, only to vary
// compressibility (and therefore encoded size) across tiles the way real
// tile payloads do.
func Generate(level, row, column, tileSize int, quality float32) (Synthetic, error) {
	img := getRGBA(tileSize, tileSize)
	defer putRGBA(img)

	seed := uint32(level*7919 + row*104729 + column*15485863)
	for y := 0; y < tileSize; y++ {
		for x := 0; x < tileSize; x++ {
			r := uint8((seed >> 0) + uint32(x*3))
			g := uint8((seed >> 8) + uint32(y*3))
			b := uint8((seed >> 16) + uint32((x+y)*2))
			checker := uint8(0)
			if (x/16+y/16)%2 == 0 {
				checker = 24
			}
			img.Set(x, y, color.RGBA{R: r + checker, G: g + checker, B: b, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, webp.Options{Quality: quality}); err != nil {
		return Synthetic{}, err
	}

	return Synthetic{Bytes: buf.Bytes(), Size: buf.Len()}, nil
}
