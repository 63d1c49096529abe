package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/logger"
)

const defaultWriterBuffer = 1024

// ErrWriterClosed is returned for writes submitted after Stop.
var ErrWriterClosed = errors.Newf("persistence writer is closed").
	Component("persistence").
	Category(errors.CategoryState).
	Build()

type writeRequest struct {
	ops  []Op
	done chan error // nil for fire-and-forget writes
}

// Writer applies durable writes on one goroutine, in submission order.
// Store mirrors submit without waiting; callers that need durability before
// they continue use Do.
type Writer struct {
	adapter *Adapter
	log     logger.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan writeRequest
	stopped chan struct{}
	started bool
}

// NewWriter creates a writer for a; it does nothing until Start.
func NewWriter(a *Adapter) *Writer {
	return &Writer{
		adapter: a,
		log:     logger.Global().Module("persistence").Module("writer"),
		queue:   make(chan writeRequest, defaultWriterBuffer),
		stopped: make(chan struct{}),
	}
}

// Start launches the writer goroutine.
func (w *Writer) Start(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if w.started {
		return nil
	}
	w.started = true
	go w.run()
	return nil
}

// Stop waits for every accepted write to be applied, then stops the goroutine.
func (w *Writer) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	started := w.started
	w.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Component("persistence").
			Category(errors.CategoryTimeout).
			Context("operation", "writer_stop").
			Build()
	}
}

// Submit queues ops without waiting. Failures are logged.
func (w *Writer) Submit(ops ...Op) {
	if err := w.enqueue(writeRequest{ops: ops}); err != nil {
		w.log.Warn("dropping write after close", logger.Int("ops", len(ops)))
	}
}

// Do queues ops and waits until they are durable.
func (w *Writer) Do(ctx context.Context, ops ...Op) error {
	req := writeRequest{ops: ops, done: make(chan error, 1)}
	if err := w.enqueue(req); err != nil {
		return err
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Component("persistence").
			Category(errors.CategoryTimeout).
			Context("operation", "write").
			Build()
	}
}

// Flush waits until every write submitted before the call is durable.
func (w *Writer) Flush(ctx context.Context) error {
	return w.Do(ctx)
}

func (w *Writer) enqueue(req writeRequest) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWriterClosed
	}
	w.queue <- req
	w.adapter.metrics.SetWriterQueueDepth(len(w.queue))
	return nil
}

func (w *Writer) run() {
	defer close(w.stopped)
	for req := range w.queue {
		var err error
		if len(req.ops) > 0 {
			start := time.Now()
			// detached from callers: a cancelled caller must not lose an accepted write
			err = w.adapter.Apply(context.Background(), req.ops)
			if err != nil {
				w.log.Error("durable write failed",
					logger.String("table", req.ops[0].Table),
					logger.Int("ops", len(req.ops)),
					logger.Duration("elapsed", time.Since(start)),
					logger.Error(err))
			}
		}
		if req.done != nil {
			req.done <- err
		}
		w.adapter.metrics.SetWriterQueueDepth(len(w.queue))
	}
}
