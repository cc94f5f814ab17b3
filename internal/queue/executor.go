// Package queue provides the single-consumer FIFO executor that decouples
// span producers from the slow, failure-prone network exporter.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kiseki/internal/model"
	"github.com/ashita-ai/kiseki/internal/telemetry"
)

// Executor states.
const (
	stateIdle = iota
	stateDraining
	stateClosed
)

// Handler processes one action. A non-nil error triggers the executor's
// bounded per-item retry; after the retries are spent the item is dropped
// via OnError and the worker moves on.
type Handler func(ctx context.Context, action model.Action) error

// Config configures an Executor.
type Config struct {
	// Workers is the number of consumer goroutines. The HTTP transport
	// requires exactly 1: its reconciliation state is owned by the single
	// worker's execution and carries no locks.
	Workers int

	// MaxRetries is the per-item retry budget (attempts = MaxRetries+1).
	MaxRetries int

	// RetryDelay computes the pause before retry attempt n (0-based).
	// Nil means a flat 200ms.
	RetryDelay func(attempt int) time.Duration

	// MaxCapacity bounds the queue; Enqueue drops (with a logged warning)
	// beyond it rather than blocking the producer.
	MaxCapacity int

	// OnError receives items that exhausted their retries. Optional.
	OnError func(action model.Action, err error)
}

// Executor is a FIFO work queue with per-item bounded retry. Producers never
// block: Enqueue appends and returns. Items are processed strictly in
// insertion order per worker.
type Executor struct {
	handler Handler
	cfg     Config
	logger  *slog.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	items []model.Action
	state int

	cancelWorkers context.CancelFunc
	done          chan struct{}
	dropped       atomic.Int64
	processed     atomic.Int64
}

// New creates an Executor. Call Start before enqueueing.
func New(handler Handler, cfg Config, logger *slog.Logger) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 10_000
	}
	if cfg.RetryDelay == nil {
		cfg.RetryDelay = func(int) time.Duration { return 200 * time.Millisecond }
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		handler: handler,
		cfg:     cfg,
		logger:  logger,
		done:    make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Start launches the worker goroutines and registers queue health gauges.
func (e *Executor) Start(ctx context.Context) {
	e.registerMetrics()

	workerCtx, cancel := context.WithCancel(ctx)
	e.cancelWorkers = cancel

	// Wake any worker parked in cond.Wait when the context dies, so
	// cancellation without Close does not leak goroutines.
	go func() {
		<-workerCtx.Done()
		e.mu.Lock()
		e.cond.Broadcast()
		e.mu.Unlock()
	}()

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.run(workerCtx)
		}()
	}
	go func() {
		wg.Wait()
		close(e.done)
	}()
}

// Enqueue appends an action. It never blocks; once the executor is draining
// or closed, or the queue is at capacity, the action is dropped with a log
// line instead of stalling the producer.
func (e *Executor) Enqueue(action model.Action) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stateIdle {
		e.dropped.Add(1)
		e.logger.Debug("queue: enqueue after close ignored", "action", action.Kind())
		return
	}
	if len(e.items) >= e.cfg.MaxCapacity {
		e.dropped.Add(1)
		e.logger.Warn("queue: at capacity, dropping action", "action", action.Kind(), "capacity", e.cfg.MaxCapacity)
		return
	}

	e.items = append(e.items, action)
	e.cond.Signal()
}

// run is the worker loop: pop the head, process with bounded retry, repeat.
// It exits when the queue is empty and draining, or when ctx is cancelled.
func (e *Executor) run(ctx context.Context) {
	for {
		e.mu.Lock()
		for len(e.items) == 0 && e.state == stateIdle && ctx.Err() == nil {
			e.cond.Wait()
		}
		if len(e.items) == 0 || ctx.Err() != nil {
			e.mu.Unlock()
			return
		}
		item := e.items[0]
		e.items = e.items[1:]
		e.mu.Unlock()

		e.process(ctx, item)
		e.processed.Add(1)
	}
}

// process runs the handler for one item with the configured retry budget.
// A failing item never stalls the queue: after the budget is spent it is
// handed to OnError and the loop moves on.
func (e *Executor) process(ctx context.Context, item model.Action) {
	var err error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(e.cfg.RetryDelay(attempt - 1)):
			}
			if ctx.Err() != nil {
				err = ctx.Err()
				break
			}
		}
		err = e.safeHandle(ctx, item)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			break
		}
	}

	e.logger.Error("queue: action failed after retries",
		"action", item.Kind(), "attempts", e.cfg.MaxRetries+1, "error", err)
	if e.cfg.OnError != nil {
		e.cfg.OnError(item, err)
	}
}

// safeHandle shields the worker loop from handler panics.
func (e *Executor) safeHandle(ctx context.Context, item model.Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: handler panic: %v", r)
		}
	}()
	return e.handler(ctx, item)
}

// Close stops intake and drains remaining items. Workers keep processing
// until the queue is empty; if ctx expires first, in-flight work is
// cancelled and the leftovers are logged. Enqueue after Close is a no-op.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.state != stateIdle {
		e.mu.Unlock()
		return nil
	}
	e.state = stateDraining
	e.cond.Broadcast()
	e.mu.Unlock()

	var err error
	select {
	case <-e.done:
	case <-ctx.Done():
		if e.cancelWorkers != nil {
			e.cancelWorkers()
		}
		// Wait for the workers to actually exit before reporting leftovers:
		// callers are allowed to touch single-worker-owned state once Close
		// returns, so returning with a worker still running would hand two
		// goroutines the same state.
		<-e.done
		remaining := e.Len()
		e.dropped.Add(int64(remaining))
		e.logger.Warn("queue: drain timed out, discarding remaining actions", "remaining", remaining)
		err = fmt.Errorf("queue: drain: %w", ctx.Err())
	}

	e.mu.Lock()
	e.state = stateClosed
	e.items = nil
	e.mu.Unlock()

	if e.cancelWorkers != nil {
		e.cancelWorkers()
	}
	return err
}

// Len returns the current number of queued actions.
func (e *Executor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.items)
}

// Dropped returns the total number of actions dropped (enqueue after close,
// capacity overflow, drain timeout). Non-zero means data loss.
func (e *Executor) Dropped() int64 {
	return e.dropped.Load()
}

// registerMetrics registers observable gauges for queue health. No-ops when
// self-telemetry is disabled.
func (e *Executor) registerMetrics() {
	meter := telemetry.Meter("kiseki/queue")

	_, _ = meter.Int64ObservableGauge("kiseki.queue.depth",
		metric.WithDescription("Current number of queued transport actions"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(e.Len()))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("kiseki.queue.dropped_total",
		metric.WithDescription("Total transport actions dropped without processing"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(e.Dropped())
			return nil
		}),
	)
}
