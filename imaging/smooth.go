package imaging

import (
	"context"
	"math"
)

// SkinSmooth implements Filters.
//
// Bilateral filter over a circular neighbourhood of SmoothDiameter pixels.
// A neighbour's weight is the product of a spatial Gaussian and a range
// Gaussian over the summed absolute RGB difference, so flat areas blur while
// strong edges keep their contrast.
func (n *Native) SkinSmooth(ctx context.Context, g *Grid) (*Grid, error) {
	if err := checkInput(ctx, g); err != nil {
		return nil, err
	}

	radius := SmoothDiameter / 2
	spaceCoeff := -0.5 / (SmoothSigmaSpace * SmoothSigmaSpace)
	colorCoeff := -0.5 / (SmoothSigmaColor * SmoothSigmaColor)

	type tap struct {
		dx, dy int
		w      float64
	}
	var taps []tap
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			r2 := dx*dx + dy*dy
			if r2 > radius*radius {
				continue
			}
			taps = append(taps, tap{dx: dx, dy: dy, w: math.Exp(float64(r2) * spaceCoeff)})
		}
	}

	var colorWeight [3*255 + 1]float64
	for i := range colorWeight {
		colorWeight[i] = math.Exp(float64(i*i) * colorCoeff)
	}

	out := &Grid{Width: g.Width, Height: g.Height, Pix: make([]uint8, len(g.Pix))}
	err := forEachBand(ctx, g.Height, func(ctx context.Context, y0, y1 int) error {
		for y := y0; y < y1; y++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			for x := 0; x < g.Width; x++ {
				c := g.offset(x, y)
				r0, g0, b0 := int(g.Pix[c]), int(g.Pix[c+1]), int(g.Pix[c+2])

				var sumW, sumR, sumG, sumB float64
				for _, tp := range taps {
					q := g.offset(reflect101(x+tp.dx, g.Width), reflect101(y+tp.dy, g.Height))
					r, gg, b := int(g.Pix[q]), int(g.Pix[q+1]), int(g.Pix[q+2])
					w := tp.w * colorWeight[absInt(r-r0)+absInt(gg-g0)+absInt(b-b0)]
					sumW += w
					sumR += w * float64(r)
					sumG += w * float64(gg)
					sumB += w * float64(b)
				}
				out.Pix[c] = clampRound(sumR / sumW)
				out.Pix[c+1] = clampRound(sumG / sumW)
				out.Pix[c+2] = clampRound(sumB / sumW)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
