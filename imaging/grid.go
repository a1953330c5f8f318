// Package imaging provides the in-memory pixel grid used by the retouch
// pipeline, the codec that moves grids in and out of encoded bytes, and the
// five enhancement filters applied by presets.
package imaging

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// Grid errors
var (
	ErrEmptyGrid   = errors.New("imaging: grid has zero width or height")
	ErrMalformed   = errors.New("imaging: grid pixel buffer does not match its dimensions")
	ErrOutOfBounds = errors.New("imaging: region is outside the grid")
)

// Channels is the number of color samples stored per pixel (R, G, B).
const Channels = 3

// Grid is a 2-D grid of 8-bit RGB samples.
//
// A Grid is immutable once a codec or filter has produced it: every filter
// returns a fresh Grid and never writes to its input. Pix is exported for
// cheap read access and must be treated as read-only by callers.
//
// Layout: row-major, 3 bytes per pixel (R, G, B), no padding between rows.
type Grid struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewGrid allocates a black grid of the given size.
func NewGrid(width, height int) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrEmptyGrid, width, height)
	}
	return &Grid{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*Channels),
	}, nil
}

// Validate reports whether the grid can be processed by a filter.
// Filters call it first so that a zero-sized or corrupt grid fails fast
// instead of producing undefined output.
func (g *Grid) Validate() error {
	if g == nil || g.Width <= 0 || g.Height <= 0 {
		return ErrEmptyGrid
	}
	if len(g.Pix) != g.Width*g.Height*Channels {
		return fmt.Errorf("%w: %dx%d with %d bytes", ErrMalformed, g.Width, g.Height, len(g.Pix))
	}
	return nil
}

// Bounds returns the grid rectangle anchored at the origin.
func (g *Grid) Bounds() image.Rectangle {
	return image.Rect(0, 0, g.Width, g.Height)
}

// offset returns the index of the first sample of pixel (x, y).
func (g *Grid) offset(x, y int) int {
	return (y*g.Width + x) * Channels
}

// At returns the RGB samples at (x, y).
func (g *Grid) At(x, y int) (r, gr, b uint8) {
	i := g.offset(x, y)
	return g.Pix[i], g.Pix[i+1], g.Pix[i+2]
}

// Equal reports whether both grids have the same size and identical samples.
func (g *Grid) Equal(other *Grid) bool {
	if g == nil || other == nil {
		return g == other
	}
	if g.Width != other.Width || g.Height != other.Height || len(g.Pix) != len(other.Pix) {
		return false
	}
	for i := range g.Pix {
		if g.Pix[i] != other.Pix[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	pix := make([]uint8, len(g.Pix))
	copy(pix, g.Pix)
	return &Grid{Width: g.Width, Height: g.Height, Pix: pix}
}

// Crop returns a copy of the rectangle (x, y, width, height).
func (g *Grid) Crop(x, y, width, height int) (*Grid, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	r := image.Rect(x, y, x+width, y+height)
	if r.Empty() || !r.In(g.Bounds()) {
		return nil, fmt.Errorf("%w: %v not in %v", ErrOutOfBounds, r, g.Bounds())
	}

	out, err := NewGrid(width, height)
	if err != nil {
		return nil, err
	}
	rowBytes := width * Channels
	for row := 0; row < height; row++ {
		src := g.offset(x, y+row)
		copy(out.Pix[row*rowBytes:(row+1)*rowBytes], g.Pix[src:src+rowBytes])
	}
	return out, nil
}

// FromImage converts any image.Image into a Grid.
//
// Alpha is dropped without premultiplying, the same way a color decode of a
// transparent PNG keeps the stored color values.
func FromImage(img image.Image) (*Grid, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrEmptyGrid, b.Dx(), b.Dy())
	}

	nrgba, ok := img.(*image.NRGBA)
	if !ok || nrgba.Rect.Min != (image.Point{}) {
		nrgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	}
	return fromNRGBA(nrgba), nil
}

// fromNRGBA copies the color samples of an origin-anchored NRGBA image.
func fromNRGBA(img *image.NRGBA) *Grid {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	g := &Grid{Width: w, Height: h, Pix: make([]uint8, w*h*Channels)}
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride:]
		dst := g.Pix[y*w*Channels:]
		for x := 0; x < w; x++ {
			dst[x*3] = src[x*4]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}
	return g
}

// ToNRGBA returns an opaque NRGBA image holding the grid samples.
func (g *Grid) ToNRGBA() *image.NRGBA {
	img := image.NewNRGBA(g.Bounds())
	for y := 0; y < g.Height; y++ {
		src := g.Pix[y*g.Width*Channels:]
		dst := img.Pix[y*img.Stride:]
		for x := 0; x < g.Width; x++ {
			dst[x*4] = src[x*3]
			dst[x*4+1] = src[x*3+1]
			dst[x*4+2] = src[x*3+2]
			dst[x*4+3] = 0xff
		}
	}
	return img
}
