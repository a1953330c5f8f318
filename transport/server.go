// Package transport exposes the retouch conversation and the admin
// capability over HTTP.
//
// The bot gateway in front of this service authenticates chat users and
// forwards each message as a request carrying the user in the X-User-ID
// header. Every session entry point answers with the Outcome rendered as
// JSON, except a delivered retouch which is the JPEG itself.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"easyretouch/logging"
	"easyretouch/preset"
	"easyretouch/quota"
	"easyretouch/retouch"
)

// Sessions is the conversation surface. *retouch.Manager implements it.
type Sessions interface {
	Start(ctx context.Context, userID, sessionID string) retouch.Outcome
	ReceiveImage(ctx context.Context, userID string, data []byte) retouch.Outcome
	SelectPreset(ctx context.Context, userID string, p preset.Preset) retouch.Outcome
	Cancel(ctx context.Context, userID string) retouch.Outcome
}

// Admin is the privileged quota surface. *quota.Gate implements it.
type Admin interface {
	Report(ctx context.Context) (quota.Report, error)
	ExportCSV(ctx context.Context, w io.Writer) error
	SetPro(ctx context.Context, userID string, pro bool) (quota.UserRecord, error)
	ResetCount(ctx context.Context, userID string) (quota.UserRecord, error)
}

// Pinger reports backing store health. *db.Database implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config configures the Server.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// AdminIDs may call the /v1/admin endpoints.
	AdminIDs []string

	// RateLimit is the number of retouch requests one user may make per
	// RateWindow. Zero disables limiting.
	RateLimit  int
	RateWindow time.Duration

	// MaxBodyBytes bounds an uploaded image.
	MaxBodyBytes int64

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config listening on :8080 with 20 requests per
// user per minute.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		RateLimit:       20,
		RateWindow:      time.Minute,
		MaxBodyBytes:    20 << 20,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    120 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Server is the HTTP front of the retouch service.
type Server struct {
	sessions Sessions
	admin    Admin
	health   Pinger
	config   Config
	admins   map[string]struct{}
	limiter  *RateLimiter
	logger   *logging.Logger

	router     chi.Router
	httpServer *http.Server
}

// NewServer wires the routes. health may be nil, in which case /healthz
// always reports ok.
func NewServer(sessions Sessions, admin Admin, health Pinger, config Config, logger *logging.Logger) (*Server, error) {
	if sessions == nil {
		return nil, errors.New("transport: sessions is required")
	}
	if admin == nil {
		return nil, errors.New("transport: admin is required")
	}
	if logger == nil {
		return nil, errors.New("transport: logger is required")
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	s := &Server{
		sessions: sessions,
		admin:    admin,
		health:   health,
		config:   config,
		admins:   make(map[string]struct{}, len(config.AdminIDs)),
		limiter:  NewRateLimiter(config.RateLimit, config.RateWindow),
		logger:   logger.Named("http"),
	}
	for _, id := range config.AdminIDs {
		s.admins[id] = struct{}{}
	}

	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1/retouch", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Use(s.rateLimit)
		r.Post("/start", s.handleStart)
		r.Post("/image", s.handleImage)
		r.Post("/preset/{preset}", s.handlePreset)
		r.Post("/cancel", s.handleCancel)
	})

	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Use(s.requireAdmin)
		r.Get("/users", s.handleUsers)
		r.Get("/users.csv", s.handleUsersCSV)
		r.Post("/users/{id}/pro", s.handleSetPro(true))
		r.Delete("/users/{id}/pro", s.handleSetPro(false))
		r.Post("/users/{id}/reset", s.handleReset)
	})
	return r
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Use wraps the whole handler, outside the router's own middleware. Call
// it before Start.
func (s *Server) Use(mw func(http.Handler) http.Handler) {
	s.httpServer.Handler = mw(s.httpServer.Handler)
}

// Limiter exposes the rate limiter so the caller can schedule Cleanup.
func (s *Server) Limiter() *RateLimiter {
	return s.limiter
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown error: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
