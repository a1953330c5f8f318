package imaging

import (
	"context"
	"image"

	"github.com/disintegration/gift"
)

// Native is the pure-Go filter backend. It needs no cgo and is the default.
//
// The per-pixel passes (brightness/contrast and sharpen) run through gift,
// which parallelises over rows. Colour-space conversion goes through
// go-colorful. Denoise and bilateral smoothing are implemented here and
// split their rows across CPUs.
type Native struct{}

var _ Filters = (*Native)(nil)

// NewNative creates the native backend.
func NewNative() *Native {
	return &Native{}
}

// Name implements Filters.
func (n *Native) Name() string {
	return BackendNative
}

// brightnessLUT builds the 256-entry remap for BrightnessContrast.
// Computing the table in float64 once keeps every sample exact regardless
// of the float32 math gift does internally.
func brightnessLUT(brightness, contrast float64) [256]uint8 {
	var lut [256]uint8
	scale := (contrast + 127) / 127
	for i := range lut {
		lut[i] = clampRound(float64(i)*scale + brightness)
	}
	return lut
}

// BrightnessContrast implements Filters.
func (n *Native) BrightnessContrast(ctx context.Context, g *Grid, brightness, contrast float64) (*Grid, error) {
	if err := checkInput(ctx, g); err != nil {
		return nil, err
	}

	lut := brightnessLUT(brightness, contrast)
	remap := func(v float32) float32 {
		return float32(lut[int(v*255+0.5)]) / 255
	}
	filter := gift.New(gift.ColorFunc(func(r0, g0, b0, a0 float32) (r, g, b, a float32) {
		return remap(r0), remap(g0), remap(b0), a0
	}))
	return applyGift(filter, g), nil
}

// Sharpen implements Filters.
//
// gift repeats edge pixels, so the grid is first padded by one pixel with
// reflect101 and the border is cropped off after convolving.
func (n *Native) Sharpen(ctx context.Context, g *Grid) (*Grid, error) {
	if err := checkInput(ctx, g); err != nil {
		return nil, err
	}

	filter := gift.New(gift.Convolution(SharpenKernel[:], false, false, false, 0))
	return applyGift(filter, padReflect(g, 1)).Crop(1, 1, g.Width, g.Height)
}

// padReflect returns g grown by border pixels on every side, the new
// pixels mirrored with reflect101.
func padReflect(g *Grid, border int) *Grid {
	w, h := g.Width+2*border, g.Height+2*border
	out := &Grid{Width: w, Height: h, Pix: make([]uint8, w*h*Channels)}
	for y := 0; y < h; y++ {
		sy := reflect101(y-border, g.Height)
		for x := 0; x < w; x++ {
			i := out.offset(x, y)
			copy(out.Pix[i:i+Channels], g.Pix[g.offset(reflect101(x-border, g.Width), sy):])
		}
	}
	return out
}

// applyGift runs a gift filter chain over the grid and returns the result.
// None of the filters used here change the bounds.
func applyGift(filter *gift.GIFT, g *Grid) *Grid {
	src := g.ToNRGBA()
	dst := image.NewNRGBA(filter.Bounds(src.Bounds()))
	filter.Draw(dst, src)
	return fromNRGBA(dst)
}
