package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"easyretouch/logging"
)

// HistoryStatus is the terminal outcome of a retouch session.
type HistoryStatus string

// History statuses.
const (
	StatusDelivered   HistoryStatus = "delivered"
	StatusFailed      HistoryStatus = "failed"
	StatusDenied      HistoryStatus = "denied"
	StatusBadImage    HistoryStatus = "bad_image"
	StatusNeuroDenied HistoryStatus = "neuro_denied"
	StatusExpired     HistoryStatus = "expired"
	StatusCancelled   HistoryStatus = "cancelled"
	StatusReplaced    HistoryStatus = "replaced"
)

// HistoryEntry is one row of retouch_history.
type HistoryEntry struct {
	ID           int64
	SessionID    string
	UserID       string
	Preset       string
	Status       HistoryStatus
	Provider     string
	DurationMS   int64
	ErrorMessage string
	CreatedAt    time.Time
}

// HistoryRepository reads and writes retouch_history.
type HistoryRepository struct {
	db *Database
}

// NewHistoryRepository creates a repository over d.
func NewHistoryRepository(d *Database) *HistoryRepository {
	return &HistoryRepository{db: d}
}

// Insert stores e and returns its id. A zero CreatedAt is set to now.
func (r *HistoryRepository) Insert(ctx context.Context, e HistoryEntry) (int64, error) {
	conn, err := r.db.conn()
	if err != nil {
		return 0, err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	res, err := conn.ExecContext(ctx, `
		INSERT INTO retouch_history (
			session_id, user_id, preset, status, provider,
			duration_ms, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.UserID, e.Preset, string(e.Status), e.Provider,
		e.DurationMS, e.ErrorMessage, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert history entry: %w", err)
	}
	return res.LastInsertId()
}

// ListByUser returns the newest limit entries for userID, newest first.
func (r *HistoryRepository) ListByUser(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	conn, err := r.db.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT id, session_id, user_id, preset, status, provider,
		       duration_ms, error_message, created_at
		FROM retouch_history
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e         HistoryEntry
			status    string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserID, &e.Preset, &status, &e.Provider,
			&e.DurationMS, &e.ErrorMessage, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.Status = HistoryStatus(status)
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByStatus returns per-status totals for entries created at or after
// since.
func (r *HistoryRepository) CountByStatus(ctx context.Context, since time.Time) (map[HistoryStatus]int64, error) {
	conn, err := r.db.conn()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM retouch_history WHERE created_at >= ? GROUP BY status`,
		since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to count history: %w", err)
	}
	defer rows.Close()

	out := make(map[HistoryStatus]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan history count: %w", err)
		}
		out[HistoryStatus(status)] = n
	}
	return out, rows.Err()
}

// HistoryRecorder queues history entries on an AsyncWriter. When the queue
// is full it falls back to a synchronous insert rather than losing the
// entry.
type HistoryRecorder struct {
	repo   *HistoryRepository
	writer *AsyncWriter[HistoryEntry]
	logger *logging.Logger
}

// NewHistoryRecorder creates and starts a recorder.
func NewHistoryRecorder(repo *HistoryRepository, config AsyncWriterConfig, logger *logging.Logger) *HistoryRecorder {
	log := logger.Named("history")
	h := &HistoryRecorder{repo: repo, logger: log}
	h.writer = NewAsyncWriter[HistoryEntry](
		func(ctx context.Context, e HistoryEntry) error {
			_, err := repo.Insert(ctx, e)
			return err
		},
		func(e HistoryEntry, err error) {
			log.Warn("failed to record history entry",
				logging.SessionID(e.SessionID),
				zap.String("status", string(e.Status)),
				zap.Error(err))
		},
		config,
	)
	h.writer.Start()
	return h
}

// Record queues e. It never blocks on the async path.
func (h *HistoryRecorder) Record(e HistoryEntry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if h.writer.Write(e) {
		return
	}
	if _, err := h.repo.Insert(context.Background(), e); err != nil {
		h.logger.Warn("failed to record history entry synchronously",
			logging.SessionID(e.SessionID),
			zap.Error(err))
	}
}

// Pending returns the number of queued entries.
func (h *HistoryRecorder) Pending() int {
	return h.writer.Pending()
}

// Close drains queued entries, waiting at most timeout.
func (h *HistoryRecorder) Close(timeout time.Duration) bool {
	return h.writer.StopWithTimeout(timeout)
}
