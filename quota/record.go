// Package quota decides whether a user may start another retouch.
//
// Free users get a fixed number of completed retouches; Pro users are never
// limited. The package owns the UserRecord shape and talks to persistence
// through the narrow Store interface so the SQLite store and the in-memory
// store are interchangeable.
package quota

import (
	"context"
	"errors"
	"time"
)

// DefaultMaxFree is the number of free retouches a non-Pro user gets.
const DefaultMaxFree = 5

// Quota errors
var (
	// ErrDenied is returned by Reserve when the user has no retouches left.
	ErrDenied = errors.New("quota: retouch limit reached")
	// ErrPersistence wraps every failure of the backing Store. It is fatal
	// for the current request and never retried.
	ErrPersistence = errors.New("quota: persistence failure")
	// ErrNotFound is returned by Store.Get for an unknown user.
	ErrNotFound = errors.New("quota: user not found")
	// ErrInvalidUser is returned for an empty user id.
	ErrInvalidUser = errors.New("quota: empty user id")
)

// UserRecord is the persisted usage state of one user.
//
// Exactly one record exists per UserID. It is created lazily with a zero
// count and no Pro flag on first access and is never deleted.
type UserRecord struct {
	UserID       string    `json:"user_id" yaml:"user_id"`
	RetouchCount int       `json:"retouch_count" yaml:"retouch_count"`
	IsPro        bool      `json:"is_pro" yaml:"is_pro"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"updated_at"`
}

// NewUserRecord returns the default record for a user seen for the first time.
func NewUserRecord(userID string, now time.Time) UserRecord {
	return UserRecord{
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Store persists UserRecords. Implementations must be safe for concurrent
// use; Gate serialises access per user, so a Store only needs to make
// individual calls atomic.
type Store interface {
	// Get returns the record for userID or ErrNotFound.
	Get(ctx context.Context, userID string) (UserRecord, error)
	// Put inserts or replaces the record.
	Put(ctx context.Context, rec UserRecord) error
	// List returns every record ordered by UserID.
	List(ctx context.Context) ([]UserRecord, error)
}

// Decision is the result of an admission check.
type Decision int

const (
	// Denied means the user has used every free retouch and is not Pro.
	Denied Decision = iota
	// Allowed means the user may start a retouch.
	Allowed
)

// String returns the lower-case decision name.
func (d Decision) String() string {
	if d == Allowed {
		return "allowed"
	}
	return "denied"
}
