package preset

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"easyretouch/enhance"
	"easyretouch/imaging"
	"easyretouch/logging"
)

// Enhancer is the remote enhancement the Neuro preset delegates to.
// Implementations return an error wrapping enhance.ErrUnavailable on any
// failure.
type Enhancer interface {
	Enhance(ctx context.Context, g *imaging.Grid) (*imaging.Grid, error)
}

// Params carries the tunable brightness/contrast step.
type Params struct {
	Brightness float64 `yaml:"brightness"`
	Contrast   float64 `yaml:"contrast"`
}

// DefaultParams reproduces the historical preset output: +30 brightness,
// unchanged contrast.
func DefaultParams() Params {
	return Params{Brightness: imaging.DefaultBrightness, Contrast: imaging.DefaultContrast}
}

// Config holds Pipeline settings.
type Config struct {
	// Workers bounds how many local presets run at once across all users.
	Workers int
	Params  Params
}

// DefaultConfig sizes the worker pool to the CPU count.
func DefaultConfig() Config {
	return Config{Workers: runtime.NumCPU(), Params: DefaultParams()}
}

// Step is one named filter application.
type Step struct {
	Name  string
	Apply func(f imaging.Filters, ctx context.Context, g *imaging.Grid) (*imaging.Grid, error)
}

// Pipeline runs presets over grids.
//
// Local presets are pure: the same preset and grid always produce the same
// output. They run under a weighted semaphore so a burst of requests cannot
// oversubscribe the CPU. The Neuro preset performs network I/O and does not
// take a worker slot, so a slow remote service never starves local work.
type Pipeline struct {
	filters  imaging.Filters
	enhancer Enhancer
	params   Params
	workers  *semaphore.Weighted
	logger   *logging.Logger
}

// NewPipeline creates a Pipeline. enhancer may be nil, in which case Neuro
// always fails with enhance.ErrUnavailable.
func NewPipeline(filters imaging.Filters, enhancer Enhancer, cfg Config, logger *logging.Logger) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Pipeline{
		filters:  filters,
		enhancer: enhancer,
		params:   cfg.Params,
		workers:  semaphore.NewWeighted(int64(cfg.Workers)),
		logger:   logger.Named("pipeline"),
	}
}

// Steps returns the ordered filter chain of a local preset, first step first.
// Neuro and unknown presets have no local steps.
func (p *Pipeline) Steps(preset Preset) []Step {
	brightness := Step{"brightness_contrast", func(f imaging.Filters, ctx context.Context, g *imaging.Grid) (*imaging.Grid, error) {
		return f.BrightnessContrast(ctx, g, p.params.Brightness, p.params.Contrast)
	}}
	denoise := Step{"denoise", imaging.Filters.Denoise}
	color := Step{"color_exposure", imaging.Filters.ColorExposureCorrect}
	smooth := Step{"skin_smooth", imaging.Filters.SkinSmooth}
	sharpen := Step{"sharpen", imaging.Filters.Sharpen}

	switch preset {
	case Light:
		return []Step{brightness, color}
	case Beauty:
		return []Step{smooth, denoise, sharpen}
	case Pro:
		// Order is fixed: brightness before colour, denoise before sharpen.
		return []Step{brightness, smooth, denoise, color, sharpen}
	default:
		return nil
	}
}

// Apply runs preset over g and returns a new grid. g is not modified.
//
// Local presets fail only for malformed grids. Neuro fails with an error
// wrapping enhance.ErrUnavailable. An undefined preset value is a
// programming error and returns ErrUnknownPreset.
func (p *Pipeline) Apply(ctx context.Context, preset Preset, g *imaging.Grid) (*imaging.Grid, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	switch {
	case preset == Neuro:
		return p.applyNeuro(ctx, g)
	case preset.Local():
		return p.applyLocal(ctx, preset, g)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownPreset, int(preset))
	}
}

func (p *Pipeline) applyLocal(ctx context.Context, preset Preset, g *imaging.Grid) (*imaging.Grid, error) {
	if err := p.workers.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.workers.Release(1)

	start := time.Now()
	out := g
	for _, step := range p.Steps(preset) {
		next, err := step.Apply(p.filters, ctx, out)
		if err != nil {
			return nil, fmt.Errorf("preset %s: step %s: %w", preset, step.Name, err)
		}
		out = next
	}

	fields := append([]zap.Field{
		logging.Preset(preset.String()),
		zap.String("backend", p.filters.Name()),
		logging.DurationMS(time.Since(start)),
	}, logging.Dimensions(g.Width, g.Height)...)
	p.logger.Debug("local preset applied", fields...)
	return out, nil
}

func (p *Pipeline) applyNeuro(ctx context.Context, g *imaging.Grid) (*imaging.Grid, error) {
	if p.enhancer == nil {
		return nil, fmt.Errorf("%w: no provider configured", enhance.ErrUnavailable)
	}
	return p.enhancer.Enhance(ctx, g)
}
