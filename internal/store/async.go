package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrWriterClosed is returned by Enqueue after Close.
var ErrWriterClosed = errors.New("store: async writer closed")

// ErrQueueFull is returned by Enqueue when the backlog is at capacity.
var ErrQueueFull = errors.New("store: persistence queue full")

// AsyncWriter appends chat messages to a MessageStore from a single
// background worker so callers never wait on the database. Messages are
// written in enqueue order.
type AsyncWriter struct {
	store     MessageStore
	queue     chan ChatMessage
	timeout   time.Duration
	logger    *slog.Logger
	onFailure func(error)

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// AsyncWriterOption customizes an AsyncWriter.
type AsyncWriterOption func(*AsyncWriter)

// WithAppendTimeout bounds each Append call made by the worker.
func WithAppendTimeout(d time.Duration) AsyncWriterOption {
	return func(w *AsyncWriter) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithFailureHook registers a callback invoked for every failed or dropped write.
func WithFailureHook(fn func(error)) AsyncWriterOption {
	return func(w *AsyncWriter) { w.onFailure = fn }
}

// NewAsyncWriter starts a writer with a backlog of queueSize messages.
func NewAsyncWriter(store MessageStore, queueSize int, logger *slog.Logger, opts ...AsyncWriterOption) *AsyncWriter {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &AsyncWriter{
		store:   store,
		queue:   make(chan ChatMessage, queueSize),
		timeout: 5 * time.Second,
		logger:  logger,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.run()
	return w
}

// Enqueue schedules msg for persistence without blocking.
func (w *AsyncWriter) Enqueue(msg ChatMessage) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrWriterClosed
	}
	select {
	case w.queue <- msg:
		return nil
	default:
		w.fail(ErrQueueFull)
		return ErrQueueFull
	}
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	for msg := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err := w.store.Append(ctx, msg)
		cancel()
		if err != nil {
			w.logger.Error("failed to persist chat message", "room", msg.Room, "sender", msg.Sender, "error", err)
			w.fail(err)
		}
	}
}

func (w *AsyncWriter) fail(err error) {
	if w.onFailure != nil {
		w.onFailure(err)
	}
}

// Close stops accepting messages and waits for the backlog to drain or ctx
// to expire.
func (w *AsyncWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
