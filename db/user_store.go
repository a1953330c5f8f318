package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"easyretouch/quota"
)

// UserStore is the SQLite implementation of quota.Store.
type UserStore struct {
	db *Database
}

var _ quota.Store = (*UserStore)(nil)

// NewUserStore creates a UserStore over d.
func NewUserStore(d *Database) *UserStore {
	return &UserStore{db: d}
}

// Get implements quota.Store.
func (s *UserStore) Get(ctx context.Context, userID string) (quota.UserRecord, error) {
	conn, err := s.db.conn()
	if err != nil {
		return quota.UserRecord{}, err
	}

	var (
		rec                  quota.UserRecord
		isPro                int
		createdAt, updatedAt int64
	)
	err = conn.QueryRowContext(ctx,
		`SELECT user_id, retouch_count, is_pro, created_at, updated_at FROM users WHERE user_id = ?`,
		userID,
	).Scan(&rec.UserID, &rec.RetouchCount, &isPro, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return quota.UserRecord{}, quota.ErrNotFound
	}
	if err != nil {
		return quota.UserRecord{}, fmt.Errorf("failed to load user %s: %w", userID, err)
	}

	rec.IsPro = isPro != 0
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return rec, nil
}

// Put implements quota.Store with an upsert. created_at is kept from the
// first insert.
func (s *UserStore) Put(ctx context.Context, rec quota.UserRecord) error {
	conn, err := s.db.conn()
	if err != nil {
		return err
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO users (user_id, retouch_count, is_pro, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			retouch_count = excluded.retouch_count,
			is_pro        = excluded.is_pro,
			updated_at    = excluded.updated_at`,
		rec.UserID, rec.RetouchCount, boolToInt(rec.IsPro),
		rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save user %s: %w", rec.UserID, err)
	}
	return nil
}

// List implements quota.Store.
func (s *UserStore) List(ctx context.Context) ([]quota.UserRecord, error) {
	conn, err := s.db.conn()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT user_id, retouch_count, is_pro, created_at, updated_at FROM users ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []quota.UserRecord
	for rows.Next() {
		var (
			rec                  quota.UserRecord
			isPro                int
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&rec.UserID, &rec.RetouchCount, &isPro, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		rec.IsPro = isPro != 0
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
