package imaging

import (
	"context"

	"github.com/lucasb-eyer/go-colorful"
)

// ColorExposureCorrect implements Filters.
//
// Pixels are converted to HSV, the value channel is quantised to 256 levels
// and histogram-equalised, and the result is converted back with the
// original hue and saturation.
func (n *Native) ColorExposureCorrect(ctx context.Context, g *Grid) (*Grid, error) {
	if err := checkInput(ctx, g); err != nil {
		return nil, err
	}

	size := g.Width * g.Height
	hues := make([]float64, size)
	sats := make([]float64, size)
	vals := make([]uint8, size)
	for i := 0; i < size; i++ {
		h, s, v := pixelColor(g.Pix[i*3:]).Hsv()
		hues[i], sats[i], vals[i] = h, s, clampRound(v*255)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lut := equalizeLUT(vals)

	out := &Grid{Width: g.Width, Height: g.Height, Pix: make([]uint8, len(g.Pix))}
	for i := 0; i < size; i++ {
		c := colorful.Hsv(hues[i], sats[i], float64(lut[vals[i]])/255)
		out.Pix[i*3], out.Pix[i*3+1], out.Pix[i*3+2] = c.Clamped().RGB255()
	}
	return out, nil
}

// pixelColor reads the RGB triple at the start of pix.
func pixelColor(pix []uint8) colorful.Color {
	return colorful.Color{
		R: float64(pix[0]) / 255,
		G: float64(pix[1]) / 255,
		B: float64(pix[2]) / 255,
	}
}

// equalizeLUT returns the histogram equalisation table for samples.
// The lowest occupied bin maps to 0 and the cumulative distribution of the
// remaining bins is stretched to 255. A single-valued channel maps to itself.
func equalizeLUT(samples []uint8) [256]uint8 {
	var hist [256]int
	for _, v := range samples {
		hist[v]++
	}

	var lut [256]uint8
	first := 0
	for first < 255 && hist[first] == 0 {
		first++
	}
	total := len(samples)
	if hist[first] == total {
		for i := range lut {
			lut[i] = uint8(first)
		}
		return lut
	}

	scale := 255.0 / float64(total-hist[first])
	sum := 0
	for i := first + 1; i < 256; i++ {
		sum += hist[i]
		lut[i] = clampRound(float64(sum) * scale)
	}
	return lut
}
