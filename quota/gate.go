package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"easyretouch/logging"
)

// Config holds QuotaGate settings.
type Config struct {
	// MaxFree is the number of completed retouches a non-Pro user may perform.
	MaxFree int
}

// DefaultConfig returns the production quota settings.
func DefaultConfig() Config {
	return Config{MaxFree: DefaultMaxFree}
}

// Gate is the QuotaGate. It admits retouch requests, counts completed ones
// and exposes the privileged mutations used by the admin surface.
//
// Every read-modify-write of a record runs under a per-user lock, so two
// requests for the same user are serialised while different users proceed
// in parallel. Gate performs no access control: callers of SetPro,
// ResetCount and Report are expected to have authorised the operator.
type Gate struct {
	store   Store
	maxFree int
	locks   *userLocks
	logger  *logging.Logger
	now     func() time.Time
}

// NewGate creates a Gate over store.
func NewGate(store Store, cfg Config, logger *logging.Logger) *Gate {
	if cfg.MaxFree < 0 {
		cfg.MaxFree = 0
	}
	return &Gate{
		store:   store,
		maxFree: cfg.MaxFree,
		locks:   newUserLocks(),
		logger:  logger.Named("quota"),
		now:     time.Now,
	}
}

// MaxFree returns the configured free allowance.
func (g *Gate) MaxFree() int {
	return g.maxFree
}

// decide is the admission rule: Pro users always pass, everyone else while
// below the free allowance.
func (g *Gate) decide(rec UserRecord) Decision {
	if rec.IsPro || rec.RetouchCount < g.maxFree {
		return Allowed
	}
	return Denied
}

// Admit reports whether userID may start a retouch. A Denied decision has
// no side effects beyond creating the record on first access.
func (g *Gate) Admit(ctx context.Context, userID string) (Decision, error) {
	unlock, err := g.lockUser(ctx, userID)
	if err != nil {
		return Denied, err
	}
	defer unlock()

	rec, err := g.load(ctx, userID)
	if err != nil {
		return Denied, err
	}
	return g.decide(rec), nil
}

// RecordSuccess increments userID's retouch count. The increment happens
// for Pro users too; once Pro, the count is informational.
func (g *Gate) RecordSuccess(ctx context.Context, userID string) error {
	unlock, err := g.lockUser(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	_, err = g.increment(ctx, userID)
	return err
}

// Reserve takes userID's lock, admits the user and hands the lock to the
// returned Reservation. Until the reservation is committed or released no
// other admission for the same user can run, which closes the window
// between admit and increment.
//
// Returns ErrDenied when the user is out of free retouches.
func (g *Gate) Reserve(ctx context.Context, userID string) (*Reservation, error) {
	unlock, err := g.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	rec, err := g.load(ctx, userID)
	if err != nil {
		unlock()
		return nil, err
	}
	if g.decide(rec) == Denied {
		unlock()
		return nil, fmt.Errorf("%w: user %s at %d/%d", ErrDenied, userID, rec.RetouchCount, g.maxFree)
	}

	return &Reservation{gate: g, userID: userID, record: rec, unlock: unlock}, nil
}

// Get returns userID's record, creating it if needed.
func (g *Gate) Get(ctx context.Context, userID string) (UserRecord, error) {
	unlock, err := g.lockUser(ctx, userID)
	if err != nil {
		return UserRecord{}, err
	}
	defer unlock()
	return g.load(ctx, userID)
}

// IsPro reports whether userID holds the Pro flag.
func (g *Gate) IsPro(ctx context.Context, userID string) (bool, error) {
	rec, err := g.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return rec.IsPro, nil
}

// SetPro grants or revokes Pro for userID.
func (g *Gate) SetPro(ctx context.Context, userID string, pro bool) (UserRecord, error) {
	return g.mutate(ctx, userID, func(rec *UserRecord) {
		rec.IsPro = pro
	})
}

// ResetCount sets userID's retouch count back to zero.
func (g *Gate) ResetCount(ctx context.Context, userID string) (UserRecord, error) {
	return g.mutate(ctx, userID, func(rec *UserRecord) {
		rec.RetouchCount = 0
	})
}

func (g *Gate) mutate(ctx context.Context, userID string, fn func(*UserRecord)) (UserRecord, error) {
	unlock, err := g.lockUser(ctx, userID)
	if err != nil {
		return UserRecord{}, err
	}
	defer unlock()

	rec, err := g.load(ctx, userID)
	if err != nil {
		return UserRecord{}, err
	}
	fn(&rec)
	rec.UpdatedAt = g.now()
	if err := g.save(ctx, rec); err != nil {
		return UserRecord{}, err
	}

	g.logger.Info("user record updated",
		zap.String("user_id", userID),
		zap.Bool("is_pro", rec.IsPro),
		zap.Int("retouch_count", rec.RetouchCount))
	return rec, nil
}

// increment must be called with userID's lock held.
func (g *Gate) increment(ctx context.Context, userID string) (UserRecord, error) {
	rec, err := g.load(ctx, userID)
	if err != nil {
		return UserRecord{}, err
	}
	rec.RetouchCount++
	rec.UpdatedAt = g.now()
	if err := g.save(ctx, rec); err != nil {
		return UserRecord{}, err
	}
	g.logger.Debug("retouch recorded",
		zap.String("user_id", userID),
		zap.Int("retouch_count", rec.RetouchCount))
	return rec, nil
}

// load fetches userID's record, creating the default record on first access.
// Must be called with userID's lock held.
func (g *Gate) load(ctx context.Context, userID string) (UserRecord, error) {
	rec, err := g.store.Get(ctx, userID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return UserRecord{}, fmt.Errorf("%w: get %s: %v", ErrPersistence, userID, err)
	}

	rec = NewUserRecord(userID, g.now())
	if err := g.save(ctx, rec); err != nil {
		return UserRecord{}, err
	}
	return rec, nil
}

func (g *Gate) save(ctx context.Context, rec UserRecord) error {
	if err := g.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrPersistence, rec.UserID, err)
	}
	return nil
}

func (g *Gate) lockUser(ctx context.Context, userID string) (func(), error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidUser
	}
	return g.locks.lock(ctx, userID)
}
