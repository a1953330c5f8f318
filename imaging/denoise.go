package imaging

import (
	"context"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// Denoise implements Filters.
//
// The grid is converted to 8-bit Lab (L scaled to [0,255], a and b offset
// by 128) and split into the lightness plane and the two colour planes.
// Each group is filtered with non-local means: every pixel becomes the
// weighted average of the pixels in its search window, weighted by how
// similar their template patches are. Lightness uses DenoiseLumaStrength
// and colour uses DenoiseChromaStrength, so colour noise can be removed
// without smearing detail in brightness.
func (n *Native) Denoise(ctx context.Context, g *Grid) (*Grid, error) {
	if err := checkInput(ctx, g); err != nil {
		return nil, err
	}

	size := g.Width * g.Height
	ls := make([]float64, size)
	as := make([]float64, size)
	bs := make([]float64, size)
	for i := 0; i < size; i++ {
		l, a, b := pixelColor(g.Pix[i*3:]).Lab()
		ls[i] = float64(clampRound(l * 255))
		as[i] = float64(clampRound(a*100 + 128))
		bs[i] = float64(clampRound(b*100 + 128))
	}

	light, err := nlMeans(ctx, [][]float64{ls}, g.Width, g.Height, DenoiseLumaStrength)
	if err != nil {
		return nil, err
	}
	chroma, err := nlMeans(ctx, [][]float64{as, bs}, g.Width, g.Height, DenoiseChromaStrength)
	if err != nil {
		return nil, err
	}

	out := &Grid{Width: g.Width, Height: g.Height, Pix: make([]uint8, len(g.Pix))}
	for i := 0; i < size; i++ {
		l := float64(clampRound(light[0][i])) / 255
		a := (float64(clampRound(chroma[0][i])) - 128) / 100
		b := (float64(clampRound(chroma[1][i])) - 128) / 100
		out.Pix[i*3], out.Pix[i*3+1], out.Pix[i*3+2] = colorful.Lab(l, a, b).Clamped().RGB255()
	}
	return out, nil
}

// nlMeans filters a group of planes that share patch weights.
//
// For each displacement in the search window the squared difference image
// is box-summed over the template window, which yields the patch distance
// of every pixel for that displacement in one pass. Borders are mirrored
// with reflect101. Output rows are split into bands that run concurrently.
// Planes hold whole numbers, so the box sums are exact and each pixel
// accumulates its displacements in the same order whatever the banding.
func nlMeans(ctx context.Context, planes [][]float64, width, height int, strength float64) ([][]float64, error) {
	const (
		t = DenoiseTemplateWindow / 2
		s = DenoiseSearchWindow / 2
	)
	pad := t + s
	pw, ph := width+2*pad, height+2*pad
	channels := len(planes)

	padded := make([][]float64, channels)
	for c, plane := range planes {
		p := make([]float64, pw*ph)
		for yy := 0; yy < ph; yy++ {
			sy := reflect101(yy-pad, height)
			for xx := 0; xx < pw; xx++ {
				p[yy*pw+xx] = plane[sy*width+reflect101(xx-pad, width)]
			}
		}
		padded[c] = p
	}

	size := width * height
	weightSum := make([]float64, size)
	valueSum := make([][]float64, channels)
	for c := range valueSum {
		valueSum[c] = make([]float64, size)
	}

	area := float64((2*t + 1) * (2*t + 1) * channels)
	h2 := strength * strength

	err := forEachBand(ctx, height, func(ctx context.Context, y0, y1 int) error {
		// Difference image for this band, including the template border.
		dw, dh := width+2*t, y1-y0+2*t
		diff := make([]float64, dw*dh)
		integral := make([]float64, (dw+1)*(dh+1))

		for dy := -s; dy <= s; dy++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			for dx := -s; dx <= s; dx++ {
				for yy := 0; yy < dh; yy++ {
					row := (y0 + yy + s) * pw
					shifted := (y0 + yy + s + dy) * pw
					for xx := 0; xx < dw; xx++ {
						var d float64
						for c := 0; c < channels; c++ {
							v := padded[c][row+xx+s] - padded[c][shifted+xx+s+dx]
							d += v * v
						}
						diff[yy*dw+xx] = d
					}
				}

				for yy := 0; yy < dh; yy++ {
					var rowSum float64
					for xx := 0; xx < dw; xx++ {
						rowSum += diff[yy*dw+xx]
						integral[(yy+1)*(dw+1)+xx+1] = integral[yy*(dw+1)+xx+1] + rowSum
					}
				}

				for yy := 0; yy < y1-y0; yy++ {
					for xx := 0; xx < width; xx++ {
						x0, by0 := xx, yy
						x1, by1 := xx+2*t+1, yy+2*t+1
						box := integral[by1*(dw+1)+x1] - integral[by0*(dw+1)+x1] -
							integral[by1*(dw+1)+x0] + integral[by0*(dw+1)+x0]
						w := math.Exp(-(box / area) / h2)

						i := (y0+yy)*width + xx
						weightSum[i] += w
						src := (y0+yy+pad+dy)*pw + xx + pad + dx
						for c := 0; c < channels; c++ {
							valueSum[c][i] += w * padded[c][src]
						}
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for c := range valueSum {
		for i := range valueSum[c] {
			valueSum[c][i] /= weightSum[i]
		}
	}
	return valueSum, nil
}
