package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"easyretouch/artifact"
	"easyretouch/core"
	"easyretouch/db"
	"easyretouch/enhance"
	"easyretouch/imaging"
	"easyretouch/logging"
	"easyretouch/preset"
	"easyretouch/quota"
	"easyretouch/retouch"
	"easyretouch/shutdown"
	"easyretouch/transport"
)

// limiterCleanupInterval is how often expired rate-limit windows are dropped.
const limiterCleanupInterval = 5 * time.Minute

// app holds the wired service.
type app struct {
	cfg    *core.Config
	logger *logging.Logger

	database *db.Database
	history  *db.HistoryRecorder
	gate     *quota.Gate
	sessions *retouch.Manager
	server   *transport.Server

	// local is set when artifacts are staged on disk.
	local *artifact.LocalStore
}

// newApp opens the database and builds every component from cfg. Nothing
// is started.
func newApp(ctx context.Context, cfg *core.Config, logger *logging.Logger) (_ *app, err error) {
	database, err := db.Open(ctx, db.DefaultConfig(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err != nil {
			_ = database.Close()
		}
	}()

	a := &app{cfg: cfg, logger: logger, database: database}

	a.gate = quota.NewGate(db.NewUserStore(database), quota.Config{MaxFree: cfg.MaxFreeRetouches}, logger)

	filters, err := imaging.NewFilters(cfg.FilterBackend)
	if err != nil {
		return nil, fmt.Errorf("filters: %w", err)
	}

	enhancer, err := a.newEnhancer(ctx)
	if err != nil {
		return nil, err
	}

	pipeline := preset.NewPipeline(filters, enhancer, preset.Config{
		Workers: cfg.MaxConcurrent,
		Params:  preset.Params{Brightness: cfg.Brightness, Contrast: cfg.Contrast},
	}, logger)

	a.history = db.NewHistoryRecorder(db.NewHistoryRepository(database), db.DefaultAsyncWriterConfig(), logger)

	a.sessions = retouch.NewManager(a.gate, pipeline, a.history, retouch.Config{
		IdleTimeout:    cfg.SessionIdleTimeout,
		SweepInterval:  cfg.SessionSweepInterval,
		MaxImageBytes:  cfg.MaxImageBytes,
		MaxImagePixels: cfg.MaxImagePixels,
		Provider:       cfg.NeuroProvider,
		SelectTimeout:  cfg.RetouchTimeout(),
	}, logger)

	srvCfg := transport.DefaultConfig()
	srvCfg.Addr = fmt.Sprintf(":%d", cfg.Port)
	srvCfg.AdminIDs = cfg.AdminIDs
	srvCfg.RateLimit = cfg.RateLimitPerMinute
	srvCfg.RateWindow = time.Minute
	srvCfg.MaxBodyBytes = cfg.MaxImageBytes
	srvCfg.WriteTimeout = cfg.HTTPWriteTimeout()

	a.server, err = transport.NewServer(a.sessions, a.gate, database, srvCfg, logger)
	if err != nil {
		a.history.Close(time.Second)
		return nil, err
	}
	return a, nil
}

// newEnhancer selects the neural provider and the artifact store it needs.
func (a *app) newEnhancer(ctx context.Context) (*enhance.Enhancer, error) {
	cfg := a.cfg
	client := core.GetHTTPClient(cfg, cfg.NeuroTimeout)

	var provider enhance.Provider
	switch cfg.NeuroProvider {
	case core.ProviderDeepAI:
		p, err := enhance.NewDeepAIProvider(enhance.DeepAIConfig{
			APIKey:     cfg.DeepAIAPIKey,
			URL:        cfg.DeepAIURL,
			ByURL:      cfg.DeepAIByURL,
			HTTPClient: client,
		})
		if err != nil {
			return nil, err
		}
		provider = p
	case core.ProviderOpenAI:
		p, err := enhance.NewOpenAIProvider(enhance.OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.OpenAIImageModel,
			HTTPClient: client,
		})
		if err != nil {
			return nil, err
		}
		provider = p
	default:
		provider = enhance.Disabled{}
	}

	var store artifact.Store
	if provider.Requirement() != artifact.None {
		switch cfg.ArtifactBackend {
		case core.ArtifactAzBlob:
			blob, err := artifact.NewBlobStore(artifact.BlobConfig{
				ConnectionString: cfg.AzureConnectionString,
				Container:        cfg.AzureContainer,
				URLTTL:           cfg.ArtifactURLTTL,
			}, a.logger)
			if err != nil {
				return nil, fmt.Errorf("artifact store: %w", err)
			}
			if err := blob.EnsureContainer(ctx); err != nil {
				return nil, fmt.Errorf("artifact store: %w", err)
			}
			store = blob
		default:
			local, err := artifact.NewLocalStore(cfg.ArtifactDir)
			if err != nil {
				return nil, fmt.Errorf("artifact store: %w", err)
			}
			a.local = local
			store = local
		}
	}

	econf := enhance.DefaultConfig()
	econf.Timeout = cfg.NeuroTimeout
	econf.Retries = cfg.NeuroRetries
	econf.Backoff = cfg.NeuroBackoff
	return enhance.NewEnhancer(provider, store, enhance.NewDownloader(client, econf.MaxResultBytes), econf, a.logger)
}

// registerShutdown hands every resource to the shutdown manager in the
// order they must be released.
func (a *app) registerShutdown(m *shutdown.Manager) {
	m.Register("http", 10, a.server.Shutdown)
	m.Register("sessions", 20, a.sessions.Shutdown)
	m.Register("history", 30, func(ctx context.Context) error {
		timeout := 10 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if !a.history.Close(timeout) {
			return errors.New("history writer did not drain")
		}
		return nil
	})
	m.Register("database", 40, shutdown.CloseFunc(a.database.Close))
	if a.local != nil {
		m.Register("artifacts", 40, shutdown.SweepArtifacts(a.logger, a.local))
	}
	m.Register("logger", 90, shutdown.SyncLogger(a.logger))
}

// serve runs the background loops and the HTTP server until ctx is
// cancelled or the server fails.
func (a *app) serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(a.server.Start)
	g.Go(func() error {
		a.sessions.Run(gctx)
		return nil
	})
	g.Go(func() error {
		cleanup := db.DefaultCleanupSchedulerConfig()
		if a.cfg.HistoryRetentionDays > 0 {
			cleanup.RetentionDays = a.cfg.HistoryRetentionDays
		}
		a.database.RunCleanupScheduler(gctx, cleanup, a.logger)
		return nil
	})
	a.server.Limiter().StartCleanupTicker(gctx, limiterCleanupInterval)

	a.logger.Info("easyretouch ready",
		zap.String("addr", a.server.Addr()),
		zap.String("neuro_provider", a.cfg.NeuroProvider),
		zap.String("filter_backend", a.cfg.FilterBackend),
		zap.String("max_image_size", a.cfg.MaxImageSize()),
		zap.Int("max_free_retouches", a.cfg.MaxFreeRetouches))

	return g.Wait()
}
