//go:build opencv && cgo

// OpenCV filter backend.
// Build with: CGO_ENABLED=1 go build -tags opencv
//
// Prerequisites:
//   OpenCV 4.x with the photo module installed where pkg-config can find it
//   (see https://gocv.io/getting-started/).

package imaging

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// OpenCV runs the five filters through gocv. Output is deterministic per
// OpenCV version but not byte-identical to the native backend.
type OpenCV struct{}

var _ Filters = (*OpenCV)(nil)

func newOpenCV() (Filters, error) {
	return &OpenCV{}, nil
}

// Name implements Filters.
func (o *OpenCV) Name() string {
	return BackendOpenCV
}

// BrightnessContrast implements Filters.
func (o *OpenCV) BrightnessContrast(ctx context.Context, g *Grid, brightness, contrast float64) (*Grid, error) {
	return o.run(ctx, g, func(src gocv.Mat, dst *gocv.Mat) error {
		src.ConvertToWithParams(dst, gocv.MatTypeCV8UC3, float32((contrast+127)/127), float32(brightness))
		return nil
	})
}

// Denoise implements Filters.
func (o *OpenCV) Denoise(ctx context.Context, g *Grid) (*Grid, error) {
	return o.run(ctx, g, func(src gocv.Mat, dst *gocv.Mat) error {
		gocv.FastNlMeansDenoisingColoredWithParams(src, dst,
			DenoiseLumaStrength, DenoiseChromaStrength, DenoiseTemplateWindow, DenoiseSearchWindow)
		return nil
	})
}

// ColorExposureCorrect implements Filters.
func (o *OpenCV) ColorExposureCorrect(ctx context.Context, g *Grid) (*Grid, error) {
	return o.run(ctx, g, func(src gocv.Mat, dst *gocv.Mat) error {
		hsv := gocv.NewMat()
		defer hsv.Close()
		gocv.CvtColor(src, &hsv, gocv.ColorBGRToHSV)

		channels := gocv.Split(hsv)
		defer func() {
			for _, c := range channels {
				c.Close()
			}
		}()
		if len(channels) != 3 {
			return fmt.Errorf("imaging: expected 3 HSV channels, got %d", len(channels))
		}
		gocv.EqualizeHist(channels[2], &channels[2])
		gocv.Merge(channels, &hsv)

		gocv.CvtColor(hsv, dst, gocv.ColorHSVToBGR)
		return nil
	})
}

// SkinSmooth implements Filters.
func (o *OpenCV) SkinSmooth(ctx context.Context, g *Grid) (*Grid, error) {
	return o.run(ctx, g, func(src gocv.Mat, dst *gocv.Mat) error {
		gocv.BilateralFilter(src, dst, SmoothDiameter, SmoothSigmaColor, SmoothSigmaSpace)
		return nil
	})
}

// Sharpen implements Filters.
func (o *OpenCV) Sharpen(ctx context.Context, g *Grid) (*Grid, error) {
	return o.run(ctx, g, func(src gocv.Mat, dst *gocv.Mat) error {
		kernel := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32F)
		defer kernel.Close()
		for i, v := range SharpenKernel {
			kernel.SetFloatAt(i/3, i%3, v)
		}
		gocv.Filter2D(src, dst, -1, kernel, image.Pt(-1, -1), 0, gocv.BorderDefault)
		return nil
	})
}

// run converts the grid to a BGR Mat, applies fn and converts back.
// OpenCV calls cannot be interrupted, so ctx is only checked around them.
func (o *OpenCV) run(ctx context.Context, g *Grid, fn func(src gocv.Mat, dst *gocv.Mat) error) (*Grid, error) {
	if err := checkInput(ctx, g); err != nil {
		return nil, err
	}

	bgr := make([]byte, len(g.Pix))
	for i := 0; i < len(g.Pix); i += 3 {
		bgr[i], bgr[i+1], bgr[i+2] = g.Pix[i+2], g.Pix[i+1], g.Pix[i]
	}
	src, err := gocv.NewMatFromBytes(g.Height, g.Width, gocv.MatTypeCV8UC3, bgr)
	if err != nil {
		return nil, fmt.Errorf("imaging: opencv mat: %w", err)
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	if err := fn(src, &dst); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if dst.Rows() != g.Height || dst.Cols() != g.Width || dst.Type() != gocv.MatTypeCV8UC3 {
		return nil, fmt.Errorf("%w: opencv returned %dx%d", ErrMalformed, dst.Cols(), dst.Rows())
	}

	data := dst.ToBytes()
	out := &Grid{Width: g.Width, Height: g.Height, Pix: make([]uint8, len(g.Pix))}
	for i := 0; i < len(out.Pix); i += 3 {
		out.Pix[i], out.Pix[i+1], out.Pix[i+2] = data[i+2], data[i+1], data[i]
	}
	return out, nil
}
