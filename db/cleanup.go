package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"easyretouch/logging"
)

// DefaultRetentionDays is how long retouch history is kept.
const DefaultRetentionDays = 90

// CleanupResult describes one retention pass.
type CleanupResult struct {
	HistoryDeleted int64
	Duration       time.Duration
}

// CleanupHistory deletes history entries created before now minus
// retentionDays and compacts the file when anything was removed. Users are
// never deleted.
func (d *Database) CleanupHistory(ctx context.Context, retentionDays int, now time.Time) (CleanupResult, error) {
	start := time.Now()
	var result CleanupResult

	if retentionDays < 0 {
		return result, fmt.Errorf("retentionDays must be non-negative, got %d", retentionDays)
	}
	conn, err := d.conn()
	if err != nil {
		return result, err
	}

	cutoff := now.AddDate(0, 0, -retentionDays)
	res, err := conn.ExecContext(ctx, `DELETE FROM retouch_history WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return result, fmt.Errorf("failed to delete history: %w", err)
	}
	result.HistoryDeleted, err = res.RowsAffected()
	if err != nil {
		return result, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if result.HistoryDeleted > 0 {
		if _, err := conn.ExecContext(ctx, "VACUUM"); err != nil {
			result.Duration = time.Since(start)
			return result, fmt.Errorf("cleanup succeeded but VACUUM failed: %w", err)
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// CleanupSchedulerConfig holds configuration for the cleanup scheduler.
type CleanupSchedulerConfig struct {
	RetentionDays int
	Interval      time.Duration
}

// DefaultCleanupSchedulerConfig runs once a day with the default retention.
func DefaultCleanupSchedulerConfig() CleanupSchedulerConfig {
	return CleanupSchedulerConfig{
		RetentionDays: DefaultRetentionDays,
		Interval:      24 * time.Hour,
	}
}

// RunCleanupScheduler runs CleanupHistory immediately and then at every
// interval until ctx is cancelled. It blocks; run it on its own goroutine.
func (d *Database) RunCleanupScheduler(ctx context.Context, config CleanupSchedulerConfig, logger *logging.Logger) {
	log := logger.Named("cleanup")
	if config.Interval <= 0 {
		config.Interval = DefaultCleanupSchedulerConfig().Interval
	}

	run := func() {
		result, err := d.CleanupHistory(ctx, config.RetentionDays, time.Now())
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("history cleanup failed", zap.Error(err))
			}
			return
		}
		log.Info("history cleanup completed",
			zap.Int64("deleted", result.HistoryDeleted),
			logging.DurationMS(result.Duration))
	}

	run()
	ticker := time.NewTicker(config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
