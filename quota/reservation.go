package quota

import (
	"context"
	"sync"
)

// Reservation holds a user's quota lock between admission and completion.
//
// Exactly one of Commit or Release takes effect; later calls are no-ops.
// Release is safe to defer right after a successful Reserve.
type Reservation struct {
	gate   *Gate
	userID string
	record UserRecord
	unlock func()

	once sync.Once
}

// Commit records a completed retouch and releases the lock.
func (r *Reservation) Commit(ctx context.Context) (UserRecord, error) {
	var (
		rec      UserRecord
		err      error
		consumed = true
	)
	r.once.Do(func() {
		consumed = false
		defer r.unlock()
		rec, err = r.gate.increment(ctx, r.userID)
	})
	if consumed {
		return r.record, nil
	}
	return rec, err
}

// Release gives the lock back without counting a retouch.
func (r *Reservation) Release() {
	r.once.Do(r.unlock)
}
