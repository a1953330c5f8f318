package enhance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"easyretouch/artifact"
	"easyretouch/imaging"
	"easyretouch/logging"
)

// Config controls timeouts and retries for remote enhancement.
type Config struct {
	// Timeout bounds a single attempt: upload, remote processing and
	// result download together.
	Timeout time.Duration
	// Retries is the number of extra attempts after the first failure.
	Retries int
	// Backoff is the pause before each retry.
	Backoff time.Duration
	// MaxResultBytes caps the size of a downloaded result.
	MaxResultBytes int64
	// MaxResultPixels caps the decoded result. Super-resolution output is
	// larger than its input.
	MaxResultPixels int64
}

// DefaultConfig returns a 60s timeout with one retry.
func DefaultConfig() Config {
	return Config{
		Timeout:         60 * time.Second,
		Retries:         1,
		Backoff:         2 * time.Second,
		MaxResultBytes:  DefaultMaxDownloadBytes,
		MaxResultPixels: 4 * imaging.DefaultMaxPixels,
	}
}

// Enhancer orchestrates one neural enhancement:
//
//  1. Encode the grid as PNG
//  2. Stage an artifact if the provider needs a file or URL
//  3. Submit to the provider
//  4. Download the result reference (or take inline bytes)
//  5. Decode into a new grid
//
// The staged artifact is released after every attempt, on success, failure,
// timeout or cancellation.
//
// Thread-Safety: Enhancer is safe for concurrent use.
type Enhancer struct {
	provider   Provider
	store      artifact.Store
	downloader *Downloader
	config     Config
	logger     *logging.Logger
}

// NewEnhancer creates an Enhancer.
//
// store may be nil when the provider's Requirement is artifact.None;
// otherwise it must support that requirement.
func NewEnhancer(provider Provider, store artifact.Store, downloader *Downloader, config Config, logger *logging.Logger) (*Enhancer, error) {
	if provider == nil {
		return nil, fmt.Errorf("enhance: provider cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("enhance: logger cannot be nil")
	}
	if req := provider.Requirement(); req != artifact.None {
		if store == nil {
			return nil, fmt.Errorf("enhance: provider %s needs an artifact store (%s)", provider.Name(), req)
		}
		if !store.Supports(req) {
			return nil, fmt.Errorf("%w: %s store cannot serve %s for provider %s",
				artifact.ErrUnsupported, store.Name(), req, provider.Name())
		}
	}
	if downloader == nil {
		downloader = NewDownloader(nil, config.MaxResultBytes)
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Retries < 0 {
		config.Retries = 0
	}

	return &Enhancer{
		provider:   provider,
		store:      store,
		downloader: downloader,
		config:     config,
		logger:     logger.Named("enhancer"),
	}, nil
}

// Provider returns the configured provider's name.
func (e *Enhancer) Provider() string {
	return e.provider.Name()
}

// Enhance returns the remotely enhanced version of g.
//
// Every failure wraps ErrUnavailable; the underlying cause is kept in the
// message for logs only.
func (e *Enhancer) Enhance(ctx context.Context, g *imaging.Grid) (*imaging.Grid, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	png, err := imaging.EncodePNG(g)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	log := e.logger.With(
		logging.CorrelationID(uuid.NewString()),
		zap.String("provider", e.provider.Name()))
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt <= e.config.Retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, e.config.Backoff); err != nil {
				lastErr = err
				break
			}
			log.Info("retrying neural enhancement", zap.Int("attempt", attempt+1))
		}

		out, err := e.attempt(ctx, png)
		if err == nil {
			log.Info("neural enhancement completed",
				zap.Int("attempts", attempt+1),
				logging.DurationMS(time.Since(start)))
			return out, nil
		}

		lastErr = err
		log.Warn("neural enhancement attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Bool("permanent", IsPermanent(err)),
			zap.Error(err))

		if IsPermanent(err) || ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// attempt runs one bounded remote call.
func (e *Enhancer) attempt(ctx context.Context, png []byte) (*imaging.Grid, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	var result Result
	submit := func(h *artifact.Handle) error {
		var err error
		result, err = e.provider.Submit(ctx, Input{PNG: png, Artifact: h})
		return err
	}

	var err error
	if e.provider.Requirement() == artifact.None {
		err = submit(nil)
	} else {
		err = artifact.Scope(ctx, e.store, png, "image/png", e.logger, submit)
	}
	if err != nil {
		return nil, err
	}
	if result.empty() {
		return nil, errors.New("provider returned no result")
	}

	data := result.Data
	if len(data) == 0 {
		data, _, err = e.downloader.DownloadBytes(ctx, result.URL)
		if err != nil {
			return nil, err
		}
	}

	out, err := imaging.DecodeLimited(data, e.config.MaxResultBytes, e.config.MaxResultPixels)
	if err != nil {
		// A provider that returns garbage will keep returning garbage.
		return nil, Permanent(err)
	}
	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
