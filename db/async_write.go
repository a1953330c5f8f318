package db

import (
	"context"
	"sync"
	"time"
)

// DefaultChannelCapacity is the default buffer size for async writes.
const DefaultChannelCapacity = 100

// DefaultDrainTimeout is the maximum time to wait for pending writes during shutdown.
const DefaultDrainTimeout = 30 * time.Second

// WriteHandler persists one queued item.
type WriteHandler[T any] func(ctx context.Context, item T) error

// ErrorHandler is told about items whose handler failed.
type ErrorHandler[T any] func(item T, err error)

// AsyncWriter queues items on a buffered channel and persists them on a
// background goroutine so callers never wait on the database.
//
// Items accepted by Write before Stop are always handed to the handler:
// Stop drains the buffer before returning.
type AsyncWriter[T any] struct {
	ch      chan T
	handler WriteHandler[T]
	onError ErrorHandler[T]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu orders Write against Stop: once stopped is set no new item can
	// enter the channel, so the drain sees everything.
	mu      sync.RWMutex
	started bool
	stopped bool
}

// AsyncWriterConfig holds configuration for the async writer.
type AsyncWriterConfig struct {
	ChannelCapacity int
	DrainTimeout    time.Duration
}

// DefaultAsyncWriterConfig returns the default configuration.
func DefaultAsyncWriterConfig() AsyncWriterConfig {
	return AsyncWriterConfig{
		ChannelCapacity: DefaultChannelCapacity,
		DrainTimeout:    DefaultDrainTimeout,
	}
}

// NewAsyncWriter creates a writer. onError may be nil.
func NewAsyncWriter[T any](handler WriteHandler[T], onError ErrorHandler[T], config AsyncWriterConfig) *AsyncWriter[T] {
	if config.ChannelCapacity <= 0 {
		config.ChannelCapacity = DefaultChannelCapacity
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AsyncWriter[T]{
		ch:      make(chan T, config.ChannelCapacity),
		handler: handler,
		onError: onError,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the background goroutine. Extra calls are no-ops.
func (w *AsyncWriter[T]) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.stopped {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.run()
}

func (w *AsyncWriter[T]) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case item := <-w.ch:
			w.handle(item)
		}
	}
}

func (w *AsyncWriter[T]) drain() {
	for {
		select {
		case item := <-w.ch:
			w.handle(item)
		default:
			return
		}
	}
}

func (w *AsyncWriter[T]) handle(item T) {
	// Handlers get a live context even while draining after Stop.
	if err := w.handler(context.WithoutCancel(w.ctx), item); err != nil && w.onError != nil {
		w.onError(item, err)
	}
}

// Write queues item without blocking. It returns false when the buffer is
// full or the writer has been stopped.
func (w *AsyncWriter[T]) Write(item T) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return false
	}
	select {
	case w.ch <- item:
		return true
	default:
		return false
	}
}

// Pending returns the number of queued items.
func (w *AsyncWriter[T]) Pending() int {
	return len(w.ch)
}

// IsStarted reports whether the background goroutine is running.
func (w *AsyncWriter[T]) IsStarted() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.started && !w.stopped
}

// StopWithTimeout stops accepting writes and waits up to timeout for the
// buffer to drain. Returns false if the drain did not finish in time.
func (w *AsyncWriter[T]) StopWithTimeout(timeout time.Duration) bool {
	w.mu.Lock()
	w.stopped = true
	started := w.started
	w.mu.Unlock()

	w.cancel()
	if !started {
		// Nothing is consuming; flush inline.
		w.drain()
		return true
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Stop stops the writer and waits for the drain with DefaultDrainTimeout.
func (w *AsyncWriter[T]) Stop() bool {
	return w.StopWithTimeout(DefaultDrainTimeout)
}
