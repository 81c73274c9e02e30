// collision_map provides the read-only color grid that the environment samples
// for collisions. A map is either decoded from a track image or rasterised from
// an ascii track, and is never mutated afterward, so a single map may be shared
// by any number of environments.
package collision_map

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/png"
	"os"
)

// ErrResourceLoad is returned when a map asset is missing or cannot be decoded.
var ErrResourceLoad = errors.New("map resource load failed")

// Map is a 2d color grid addressable by pixel coordinate.
type Map interface {
	// Bounds returns the pixel width and height of the map.
	Bounds() (width, height int)
	// SampleColor returns the color at pixel (px, py). The bool is false if the
	// coordinate lies outside the map, in which case the color is the zero value.
	SampleColor(px, py int) (color.RGBA, bool)
}

// ImageMap is a Map backed by an in-memory RGBA image whose origin is (0,0).
type ImageMap struct {
	img *image.RGBA
}

// NewImageMap copies src into an RGBA buffer anchored at the origin.
func NewImageMap(src image.Image) *ImageMap {
	b := src.Bounds()
	img := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(img, img.Bounds(), src, b.Min, draw.Src)
	return &ImageMap{img: img}
}

// Load decodes the image at path. Any failure is reported as ErrResourceLoad.
func Load(path string) (*ImageMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResourceLoad, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrResourceLoad, path, err)
	}
	return NewImageMap(img), nil
}

func (m *ImageMap) Bounds() (int, int) {
	b := m.img.Bounds()
	return b.Dx(), b.Dy()
}

func (m *ImageMap) SampleColor(px, py int) (color.RGBA, bool) {
	if !(image.Point{X: px, Y: py}).In(m.img.Bounds()) {
		return color.RGBA{}, false
	}
	return m.img.RGBAAt(px, py), true
}

// Image returns a copy of the map, e.g. as a background to draw frames on.
func (m *ImageMap) Image() *image.RGBA {
	cp := image.NewRGBA(m.img.Bounds())
	copy(cp.Pix, m.img.Pix)
	return cp
}

// Imager is implemented by maps that can provide a background image.
type Imager interface {
	Image() *image.RGBA
}
