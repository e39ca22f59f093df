package payload

import (
	"image"
	"sync"
)

// rgbaPoolKey identifies a pool by image dimensions.
type rgbaPoolKey struct {
	w, h int
}

// rgbaPools maps (width, height) -> *sync.Pool of *image.RGBA. A bench run
// generates many same-size tiles back to back, so pooling the backing
// buffer avoids re-allocating tileSize*tileSize*4 bytes per tile.
var rgbaPools sync.Map

func getRGBA(w, h int) *image.RGBA {
	key := rgbaPoolKey{w, h}
	if p, ok := rgbaPools.Load(key); ok {
		if v := p.(*sync.Pool).Get(); v != nil {
			img := v.(*image.RGBA)
			clear(img.Pix)
			return img
		}
	}
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func putRGBA(img *image.RGBA) {
	if img == nil {
		return
	}
	key := rgbaPoolKey{img.Rect.Dx(), img.Rect.Dy()}
	p, _ := rgbaPools.LoadOrStore(key, &sync.Pool{})
	p.(*sync.Pool).Put(img)
}
