package shutdown

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"easyretouch/core"
	"easyretouch/logging"
)

// Manager owns the root context and the shutdown sequence.
//
// Usage:
//
//	m := shutdown.NewManager(logger)
//	m.Register("database", 40, shutdown.CloseFunc(db.Close))
//	m.Start()
//	handler = m.Middleware(handler)
//	<-m.Context().Done()
//	err := m.Shutdown()
type Manager struct {
	logger   *logging.Logger
	timeout  time.Duration
	mu       sync.Mutex
	started  bool
	shutdown bool

	ctx    context.Context
	cancel context.CancelFunc

	tracker  *OperationTracker
	registry *ShutdownRegistry
	signals  *SignalCounter
	sigChan  chan os.Signal
	exit     func(code int)

	// received is the first signal, for the exit code.
	received os.Signal
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout bounds the whole sequence. Default 60 seconds.
func WithTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = timeout
	}
}

// WithExit replaces os.Exit for the forced exit on a second signal.
func WithExit(exit func(code int)) ManagerOption {
	return func(m *Manager) {
		m.exit = exit
	}
}

// NewManager creates a Manager. A second signal exits immediately with
// ExitCodeError.
func NewManager(logger *logging.Logger, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		logger:   logger.Named("shutdown"),
		timeout:  60 * time.Second,
		ctx:      ctx,
		cancel:   cancel,
		tracker:  NewOperationTracker(),
		registry: NewShutdownRegistry(),
		sigChan:  make(chan os.Signal, 1),
		exit:     os.Exit,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.signals = NewSignalCounter(2, func() {
		m.logger.Warn("received second signal, forcing immediate shutdown")
		m.exit(core.ExitCodeError)
	})
	return m
}

// Context is cancelled when shutdown begins.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Register adds a cleanup function; lower priorities run first.
func (m *Manager) Register(name string, priority int, fn core.ShutdownFunc) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("registered shutdown handler",
		zap.String("name", name),
		zap.Int("priority", priority))
}

// Start listens for SIGINT and SIGTERM. Safe to call more than once.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range m.sigChan {
			m.handleSignal(sig)
		}
	}()
}

func (m *Manager) handleSignal(sig os.Signal) {
	if m.signals.Increment() != 1 {
		return
	}
	m.mu.Lock()
	m.received = sig
	m.mu.Unlock()
	m.logger.Info("received shutdown signal, initiating graceful shutdown", zap.String("signal", sig.String()))
	m.cancel()
}

// Trigger begins shutdown without a signal, e.g. after a fatal server
// error.
func (m *Manager) Trigger() {
	m.cancel()
}

// ExitCode returns the process exit code matching how shutdown began.
func (m *Manager) ExitCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.received {
	case os.Interrupt:
		return core.ExitCodeSIGINT
	case syscall.SIGTERM:
		return core.ExitCodeSIGTERM
	default:
		return core.ExitCodeSuccess
	}
}

// Shutdown rejects new operations, waits for in-flight ones and runs the
// registered cleanup functions within the timeout. Later calls return nil.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	started := m.started
	m.mu.Unlock()

	m.cancel()
	start := time.Now()
	m.logger.Info("initiating graceful shutdown",
		zap.Duration("timeout", m.timeout),
		zap.Int("registered_handlers", m.registry.Count()))

	m.tracker.Close()
	if active := m.tracker.ActiveCount(); active > 0 {
		m.logger.Info("waiting for in-flight requests", zap.Int64("active_count", active))
	}
	if err := m.tracker.Wait(m.timeout); err != nil {
		m.logger.Warn("timeout waiting for in-flight requests",
			zap.Int64("remaining", m.tracker.ActiveCount()))
	}

	remaining := m.timeout - time.Since(start)
	if remaining < time.Second {
		remaining = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), remaining)
	defer cancel()

	var errs []error
	for _, res := range m.registry.Shutdown(ctx) {
		if res.Err != nil {
			m.logger.Error("cleanup failed", zap.String("name", res.Name), zap.Error(res.Err))
			errs = append(errs, res.Err)
			continue
		}
		m.logger.Debug("cleanup done", zap.String("name", res.Name), logging.DurationMS(res.Duration))
	}

	if started {
		signal.Stop(m.sigChan)
		close(m.sigChan)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	m.logger.Info("graceful shutdown completed", logging.DurationMS(time.Since(start)))
	return nil
}

// WrapOperation runs fn as a tracked operation. It returns
// ErrTrackerClosed without running fn once shutdown has begun.
func (m *Manager) WrapOperation(ctx context.Context, fn func(context.Context) error) error {
	if !m.tracker.Start() {
		return ErrTrackerClosed
	}
	defer m.tracker.Done()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// Middleware tracks every request so Shutdown waits for a retouch in
// progress. Requests arriving after shutdown began get 503.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := m.WrapOperation(r.Context(), func(context.Context) error {
			next.ServeHTTP(w, r)
			return nil
		})
		if errors.Is(err, ErrTrackerClosed) {
			w.Header().Set("Connection", "close")
			http.Error(w, `{"error": "shutting down"}`, http.StatusServiceUnavailable)
		}
	})
}

// ActiveOperations returns the count of currently in-flight operations.
func (m *Manager) ActiveOperations() int64 {
	return m.tracker.ActiveCount()
}

// IsShuttingDown returns true if shutdown has been initiated.
func (m *Manager) IsShuttingDown() bool {
	return m.tracker.IsClosed()
}

// RegisteredHandlers returns the handler names in execution order.
func (m *Manager) RegisteredHandlers() []string {
	return m.registry.Names()
}
