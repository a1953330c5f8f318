package imaging

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ErrBackendUnavailable is returned when a filter backend was requested that
// this binary was not built with.
var ErrBackendUnavailable = errors.New("imaging: filter backend not available in this build")

// Fixed filter parameters. Presets depend on these values staying put.
const (
	DefaultBrightness = 30
	DefaultContrast   = 0

	DenoiseLumaStrength   = 10
	DenoiseChromaStrength = 10
	DenoiseTemplateWindow = 7
	DenoiseSearchWindow   = 21

	SmoothDiameter   = 9
	SmoothSigmaColor = 75.0
	SmoothSigmaSpace = 75.0
)

// SharpenKernel is the 3x3 kernel applied per channel by Sharpen.
var SharpenKernel = [9]float32{
	0, -1, 0,
	-1, 5, -1,
	0, -1, 0,
}

// Filters is the set of five enhancement transforms.
//
// Every method consumes one Grid and returns a new one of identical size.
// Inputs are never modified. Implementations must be deterministic: the
// same input always yields byte-identical output. A zero-sized grid fails
// with ErrEmptyGrid. A cancelled ctx stops the work and returns ctx.Err().
type Filters interface {
	// BrightnessContrast remaps every sample with
	// out = clamp(round(in*scale + brightness)), scale = (contrast+127)/127.
	BrightnessContrast(ctx context.Context, g *Grid, brightness, contrast float64) (*Grid, error)
	// Denoise runs a non-local-means denoiser in Lab space that treats
	// lightness and colour separately.
	Denoise(ctx context.Context, g *Grid) (*Grid, error)
	// ColorExposureCorrect equalises the value channel in HSV space.
	ColorExposureCorrect(ctx context.Context, g *Grid) (*Grid, error)
	// SkinSmooth applies an edge-preserving bilateral filter.
	SkinSmooth(ctx context.Context, g *Grid) (*Grid, error)
	// Sharpen convolves each channel with SharpenKernel. Borders are
	// mirrored with reflect101.
	Sharpen(ctx context.Context, g *Grid) (*Grid, error)
	// Name identifies the backend in logs.
	Name() string
}

// Backend names accepted by NewFilters.
const (
	BackendNative = "native"
	BackendOpenCV = "opencv"
)

// NewFilters returns the filter implementation for the named backend.
// An empty name selects the native backend.
func NewFilters(backend string) (Filters, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendNative:
		return NewNative(), nil
	case BackendOpenCV:
		return newOpenCV()
	default:
		return nil, fmt.Errorf("imaging: unknown filter backend %q", backend)
	}
}

// clampRound converts a float sample to uint8 with rounding to nearest.
func clampRound(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// reflect101 maps an out-of-range index back into [0, n) by mirroring
// around the edge pixels without repeating them (gfedcb|abcdefgh|gfedcba).
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

// checkInput fails fast on a cancelled ctx or an unusable grid.
func checkInput(ctx context.Context, g *Grid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.Validate()
}

// forEachBand splits rows [0, height) into one band per CPU and runs fn on
// the bands concurrently. fn must only write rows inside its band.
func forEachBand(ctx context.Context, height int, fn func(ctx context.Context, y0, y1 int) error) error {
	workers := max(1, min(runtime.GOMAXPROCS(0), height))
	band := (height + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for y0 := 0; y0 < height; y0 += band {
		y1 := min(y0+band, height)
		g.Go(func() error {
			return fn(gctx, y0, y1)
		})
	}
	return g.Wait()
}
