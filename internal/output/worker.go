package output

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/clock"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/resilience"
)

// ErrStopped is returned by Stop on a worker that was already stopped.
var ErrStopped = errors.New("output worker stopped")

// Handler consumes the batches of a Worker. All methods are called from the
// worker goroutine only.
type Handler[T any] interface {
	// Open establishes the connection. It is called before the first batch
	// and again after every failure.
	Open(ctx context.Context) error
	// Process handles one batch. A batch that failed is passed again
	// unchanged on retry.
	Process(ctx context.Context, batch []T) error
	// Flush is called whenever the queue runs empty.
	Flush(ctx context.Context) error
	// Close tears the connection down.
	Close() error
}

// Options configure a Worker.
type Options struct {
	Name        string
	QueueLength int
	BatchSize   int
	Backoff     resilience.Backoff
	// Breaker, if set, guards every Process call. While it is open batches
	// are lost without waiting out the backoff.
	Breaker *resilience.Breaker

	Clock   clock.Clock
	Metrics *monitoring.Metrics
	Logger  *zap.Logger
}

// Worker ships items submitted from any goroutine through a Handler on a
// single background goroutine. The queue is bounded and Submit never blocks;
// items that do not fit are dropped and counted.
type Worker[T any] struct {
	handler Handler[T]
	opts    Options
	clock   clock.Clock
	metrics *monitoring.Metrics
	log     *zap.Logger

	queue chan T

	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}
	done   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   atomic.Bool

	connected bool

	dropped atomic.Int64
	lost    atomic.Int64
	sent    atomic.Int64
	retries atomic.Int64
}

// NewWorker creates a stopped worker for h.
func NewWorker[T any](h Handler[T], opts Options) *Worker[T] {
	if opts.QueueLength <= 0 {
		opts.QueueLength = 64
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}
	if opts.Backoff.Attempts <= 0 {
		opts.Backoff = resilience.DefaultBackoff()
	}
	if opts.Name == "" {
		opts.Name = "output"
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker[T]{
		handler: h,
		opts:    opts,
		clock:   clock.OrReal(opts.Clock),
		metrics: opts.Metrics,
		log:     log.With(zap.String("worker", opts.Name)),
		queue:   make(chan T, opts.QueueLength),
		ctx:     ctx,
		cancel:  cancel,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the worker goroutine. Calling it again has no effect.
func (w *Worker[T]) Start() {
	w.startOnce.Do(func() {
		go w.run()
	})
}

// Submit queues item and reports whether it was accepted.
func (w *Worker[T]) Submit(item T) bool {
	if w.stopped.Load() {
		w.drop()
		return false
	}
	select {
	case w.queue <- item:
		return true
	default:
		w.drop()
		return false
	}
}

func (w *Worker[T]) drop() {
	n := w.dropped.Add(1)
	w.metrics.IncDropped()
	if n == 1 || n%1000 == 0 {
		w.log.Warn("output queue full, dropping item", zap.Int64("dropped", n))
	}
}

// Stop stops accepting items, ships what is queued and closes the handler.
// If ctx ends first, pending sends are abandoned and the rest is lost.
func (w *Worker[T]) Stop(ctx context.Context) error {
	err := ErrStopped
	w.stopOnce.Do(func() {
		err = nil
		w.stopped.Store(true)
		w.Start()
		close(w.stop)
	})
	if err != nil {
		return err
	}

	select {
	case <-w.done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-w.done
		return ctx.Err()
	}
}

// QueueLen returns the number of queued items.
func (w *Worker[T]) QueueLen() int { return len(w.queue) }

// Dropped returns the number of items rejected by Submit.
func (w *Worker[T]) Dropped() int64 { return w.dropped.Load() }

// Lost returns the number of items discarded after failed sends.
func (w *Worker[T]) Lost() int64 { return w.lost.Load() }

// Sent returns the number of items processed successfully.
func (w *Worker[T]) Sent() int64 { return w.sent.Load() }

// Retries returns the number of repeated send attempts.
func (w *Worker[T]) Retries() int64 { return w.retries.Load() }

func (w *Worker[T]) run() {
	defer close(w.done)
	defer w.disconnect()

	for {
		select {
		case <-w.stop:
			w.drain()
			return
		case item := <-w.queue:
			w.process(w.collect(item))
			if len(w.queue) == 0 {
				w.flush()
			}
		}
	}
}

// collect gathers item and whatever else is queued, up to BatchSize.
func (w *Worker[T]) collect(item T) []T {
	batch := make([]T, 1, w.opts.BatchSize)
	batch[0] = item
	for len(batch) < w.opts.BatchSize {
		select {
		case next := <-w.queue:
			batch = append(batch, next)
		default:
			return batch
		}
	}
	return batch
}

func (w *Worker[T]) drain() {
	for {
		select {
		case item := <-w.queue:
			w.process(w.collect(item))
		default:
			w.flush()
			return
		}
	}
}

func (w *Worker[T]) process(batch []T) {
	w.metrics.SetQueueDepth(len(w.queue))

	err := w.opts.Backoff.Retry(w.ctx, w.clock, func(int) error {
		if err := w.connect(); err != nil {
			return err
		}
		err := w.guard(func(ctx context.Context) error {
			return w.handler.Process(ctx, batch)
		})
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return resilience.Permanent(err)
		}
		if err != nil {
			w.disconnect()
		}
		return err
	}, func(attempt int, err error) {
		w.retries.Add(1)
		w.metrics.IncRetries()
		w.log.Debug("retrying batch",
			zap.Int("attempt", attempt),
			zap.Int("items", len(batch)),
			zap.Error(err))
	})

	if err != nil {
		w.lost.Add(int64(len(batch)))
		w.metrics.AddLost(len(batch))
		w.log.Warn("batch lost", zap.Int("items", len(batch)), zap.Error(err))
		return
	}
	w.sent.Add(int64(len(batch)))
	w.metrics.AddSent(len(batch))
}

func (w *Worker[T]) guard(fn func(ctx context.Context) error) error {
	if w.opts.Breaker == nil {
		return fn(w.ctx)
	}
	return w.opts.Breaker.Do(w.ctx, fn)
}

func (w *Worker[T]) connect() error {
	if w.connected {
		return nil
	}
	if err := w.handler.Open(w.ctx); err != nil {
		return err
	}
	w.connected = true
	return nil
}

func (w *Worker[T]) disconnect() {
	if !w.connected {
		return
	}
	w.connected = false
	if err := w.handler.Close(); err != nil {
		w.log.Debug("close output", zap.Error(err))
	}
}

func (w *Worker[T]) flush() {
	if !w.connected {
		return
	}
	start := time.Now()
	if err := w.handler.Flush(w.ctx); err != nil {
		w.log.Warn("flush failed, reconnecting", zap.Error(err))
		w.disconnect()
		return
	}
	if d := time.Since(start); d > time.Second {
		w.log.Debug("slow flush", zap.Duration("duration", d))
	}
}
