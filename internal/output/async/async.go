package async

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crimson-sun/doccat/internal/model"
	"github.com/crimson-sun/doccat/internal/output"
)

const (
	defaultBufferSize   = 1024
	defaultDrainTimeout = 5 * time.Second
)

// Option configures an Async wrapper.
type Option func(*Async)

// WithBufferSize sets the queue capacity. Default: 1024.
func WithBufferSize(n int) Option {
	return func(a *Async) { a.bufSize = n }
}

// WithOnError sets the callback for errors from the wrapped output.
// Default: slog warning.
func WithOnError(f func(error)) Option {
	return func(a *Async) { a.errFunc = f }
}

// WithDropOnFull drops predictions instead of blocking when the queue is full.
func WithDropOnFull() Option {
	return func(a *Async) { a.dropOnFull = true }
}

// WithDrainTimeout bounds how long Close waits for queued predictions.
func WithDrainTimeout(d time.Duration) Option {
	return func(a *Async) { a.drainTimeout = d }
}

// Async queues predictions on a buffered channel and writes them to the
// wrapped output from a single goroutine. Errors from the wrapped output go
// to errFunc, never back to the caller of Write.
type Async struct {
	inner        output.Output
	ch           chan model.Prediction
	done         chan struct{}
	errFunc      func(error)
	bufSize      int
	dropOnFull   bool
	drainTimeout time.Duration
	closeOnce    sync.Once
	dropped      atomic.Int64
}

// New starts the drain goroutine immediately.
func New(inner output.Output, opts ...Option) *Async {
	a := &Async{
		inner:        inner,
		bufSize:      defaultBufferSize,
		drainTimeout: defaultDrainTimeout,
		errFunc:      func(err error) { slog.Warn("async output write error", "error", err) },
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ch = make(chan model.Prediction, a.bufSize)
	a.done = make(chan struct{})
	go a.drain()
	return a
}

// Write enqueues p. It blocks while the queue is full unless WithDropOnFull
// is set, and returns ctx.Err() if ctx ends first.
func (a *Async) Write(ctx context.Context, p model.Prediction) error {
	if a.dropOnFull {
		select {
		case a.ch <- p:
		default:
			// Warn once; Close reports the total.
			if a.dropped.Add(1) == 1 {
				slog.Warn("async output queue full, dropping predictions", "capacity", a.bufSize)
			}
		}
		return nil
	}
	select {
	case a.ch <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting predictions, waits for the queue to drain (bounded by
// the drain timeout) and closes the wrapped output.
func (a *Async) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.ch)
		select {
		case <-a.done:
		case <-time.After(a.drainTimeout):
			slog.Warn("async output drain timed out", "pending", len(a.ch))
		}
		if n := a.dropped.Load(); n > 0 {
			slog.Warn("async output dropped predictions", "count", n)
		}
		err = a.inner.Close()
	})
	return err
}

// Dropped returns how many predictions WithDropOnFull discarded.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

func (a *Async) drain() {
	defer close(a.done)
	for p := range a.ch {
		if err := a.inner.Write(context.Background(), p); err != nil {
			a.errFunc(err)
		}
	}
}
