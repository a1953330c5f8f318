package shutdown

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"easyretouch/core"
)

type shutdownEntry struct {
	name     string
	fn       core.ShutdownFunc
	priority int // lower = earlier execution
}

// Result describes one executed shutdown function.
type Result struct {
	Name     string
	Duration time.Duration
	Err      error
}

// ShutdownRegistry holds the cleanup functions run at shutdown. Functions
// with equal priority run in registration order.
//
// Priorities used by the service:
//   - 10: stop accepting HTTP requests
//   - 20: release live retouch sessions
//   - 30: drain the history writer
//   - 40: close the database, sweep artifacts
//   - 90: flush the logger
type ShutdownRegistry struct {
	mu      sync.Mutex
	entries []shutdownEntry
	closed  bool
}

// NewShutdownRegistry creates an empty registry.
func NewShutdownRegistry() *ShutdownRegistry {
	return &ShutdownRegistry{}
}

// Register adds fn. Registration after Shutdown is a no-op.
func (r *ShutdownRegistry) Register(name string, priority int, fn core.ShutdownFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.entries = append(r.entries, shutdownEntry{name: name, fn: fn, priority: priority})
}

func (r *ShutdownRegistry) sorted() []shutdownEntry {
	out := make([]shutdownEntry, len(r.entries))
	copy(out, r.entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].priority < out[j].priority
	})
	return out
}

// Shutdown runs every function in priority order, continuing past
// failures, and returns one Result per function. Later calls return nil.
func (r *ShutdownRegistry) Shutdown(ctx context.Context) []Result {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := r.sorted()
	r.mu.Unlock()

	results := make([]Result, 0, len(entries))
	for _, entry := range entries {
		start := time.Now()
		err := entry.fn(ctx)
		if err != nil {
			err = fmt.Errorf("%s: %w", entry.name, err)
		}
		results = append(results, Result{Name: entry.name, Duration: time.Since(start), Err: err})
	}
	return results
}

// Names returns the registered names in execution order.
func (r *ShutdownRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.sorted()
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.name
	}
	return names
}

// Count returns the number of registered shutdown functions.
func (r *ShutdownRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
