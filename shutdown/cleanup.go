package shutdown

import (
	"context"
	"errors"
	"syscall"

	"go.uber.org/zap"

	"easyretouch/core"
	"easyretouch/logging"
)

// Sweeper removes leftover files. *artifact.LocalStore implements it.
type Sweeper interface {
	Sweep() (int, error)
}

// SweepArtifacts removes artifacts a crashed or cancelled neural call left
// behind. Failures are logged, never returned, so they do not mask the
// errors of more important handlers.
func SweepArtifacts(logger *logging.Logger, s Sweeper) core.ShutdownFunc {
	return func(ctx context.Context) error {
		if ctx.Err() != nil {
			logger.Warn("shutdown deadline reached, skipping artifact sweep")
			return nil
		}
		n, err := s.Sweep()
		if err != nil {
			logger.Warn("artifact sweep failed", zap.Int("removed", n), zap.Error(err))
			return nil
		}
		if n > 0 {
			logger.Info("removed leftover artifacts", zap.Int("count", n))
		}
		return nil
	}
}

// SyncLogger flushes buffered log entries. Sync errors on terminals
// (EINVAL, ENOTTY) are expected and ignored.
func SyncLogger(logger *logging.Logger) core.ShutdownFunc {
	return func(ctx context.Context) error {
		err := logger.Sync()
		if err == nil || errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
			return nil
		}
		return err
	}
}

// CloseFunc adapts a plain Close method.
func CloseFunc(fn func() error) core.ShutdownFunc {
	return func(ctx context.Context) error {
		return fn()
	}
}
