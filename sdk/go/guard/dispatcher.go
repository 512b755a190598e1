package guard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultWorkers is the number of goroutines delivering heartbeats.
	DefaultWorkers = 4
	// DefaultQueueSize bounds pending heartbeats; further reports are dropped.
	DefaultQueueSize = 64
	// DefaultReportTimeout bounds one delivery attempt.
	DefaultReportTimeout = 5 * time.Second
)

// Dispatcher delivers heartbeats in the background on a bounded worker pool
// and folds each outcome into the guard. Callers never wait on a delivery.
type Dispatcher struct {
	guard     *Guard
	transport Transport
	logger    *slog.Logger
	timeout   time.Duration

	queue chan Report
	wg    sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*dispatcherConfig)

type dispatcherConfig struct {
	workers   int
	queueSize int
	timeout   time.Duration
	logger    *slog.Logger
}

// WithWorkers sets the worker count.
func WithWorkers(n int) DispatcherOption {
	return func(c *dispatcherConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithQueueSize sets how many reports may wait for a worker.
func WithQueueSize(n int) DispatcherOption {
	return func(c *dispatcherConfig) {
		if n >= 0 {
			c.queueSize = n
		}
	}
}

// WithReportTimeout bounds each delivery.
func WithReportTimeout(d time.Duration) DispatcherOption {
	return func(c *dispatcherConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(c *dispatcherConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewDispatcher starts the worker pool. Close must be called to stop it.
func NewDispatcher(g *Guard, transport Transport, opts ...DispatcherOption) *Dispatcher {
	cfg := dispatcherConfig{
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,
		timeout:   DefaultReportTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = g.logger
	}
	d := &Dispatcher{
		guard:     g,
		transport: transport,
		logger:    cfg.logger,
		timeout:   cfg.timeout,
		queue:     make(chan Report, cfg.queueSize),
	}
	for i := 0; i < cfg.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Dispatch hands a report to the pool without blocking. It returns false when
// the report was dropped because the queue is full or the dispatcher closed.
func (d *Dispatcher) Dispatch(report Report) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- report:
		return true
	default:
		n := d.dropped.Add(1)
		d.logger.Warn("heartbeat queue full, report dropped",
			slog.String("agent_id", report.AgentID),
			slog.Int64("dropped_total", n))
		return false
	}
}

// Dropped returns how many reports were discarded.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Close stops accepting reports and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for report := range d.queue {
		d.deliver(report)
	}
}

func (d *Dispatcher) deliver(report Report) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("unexpected heartbeat error",
				slog.String("agent_id", report.AgentID),
				slog.Any("panic", rec))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	_, err := d.transport.SendHeartbeat(ctx, report)
	if err == nil {
		d.guard.ObserveReachable(false)
		return
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		d.guard.ObserveTransportFailure(err)
		return
	}
	switch apiErr.StatusCode {
	case http.StatusPaymentRequired:
		d.guard.ObserveReachable(true)
	default:
		d.logger.Warn("heartbeat not accepted",
			slog.String("agent_id", report.AgentID),
			slog.Int("status", apiErr.StatusCode),
			slog.String("code", apiErr.Code),
			slog.String("message", apiErr.Message))
	}
}
