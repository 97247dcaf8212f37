package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"geowatch/internal/types"
)

// Dispatcher defaults.
const (
	DefaultWorkers        = 8
	DefaultQueueDepth     = 1024
	DefaultAttemptTimeout = 8 * time.Second

	// writeBackTimeout bounds the notify-field update after an attempt.
	writeBackTimeout = 5 * time.Second
)

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	Workers        int
	QueueDepth     int
	AttemptTimeout time.Duration
}

// Dispatcher delivers alerts on a bounded worker pool. Each attempt runs once
// under a timeout and its outcome is written back through the AlertSink. The
// dispatcher never retries on its own.
type Dispatcher struct {
	channel types.NotificationChannel
	sink    types.AlertSink
	metrics types.MetricsRecorder
	logger  types.Logger
	clock   types.Clock
	timeout time.Duration

	queue chan *types.Alert
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var _ types.AlertDispatcher = (*Dispatcher)(nil)

// NewDispatcher starts cfg.Workers goroutines. metrics and clock may be nil.
func NewDispatcher(channel types.NotificationChannel, sink types.AlertSink, metrics types.MetricsRecorder, logger types.Logger, clock types.Clock, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if metrics == nil {
		metrics = types.NopMetrics{}
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	d := &Dispatcher{
		channel: channel,
		sink:    sink,
		metrics: metrics,
		logger:  logger,
		clock:   clock,
		timeout: cfg.AttemptTimeout,
		queue:   make(chan *types.Alert, cfg.QueueDepth),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// DispatchAsync enqueues the alert without blocking. When the queue is full or
// the dispatcher is closed the alert stays PENDING for the retry sweeper.
func (d *Dispatcher) DispatchAsync(a *types.Alert) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("Dispatcher closed, alert left pending", "alert_id", a.ID)
		return
	}
	select {
	case d.queue <- a:
	default:
		d.logger.Warn("Dispatch queue full, alert left pending", "alert_id", a.ID)
	}
}

// Dispatch performs one synchronous delivery attempt and records the result.
// It returns the delivery error, if any, joined with any write-back error,
// and ErrDispatcherClosed once Close has been called.
func (d *Dispatcher) Dispatch(ctx context.Context, a *types.Alert) error {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return ErrDispatcherClosed
	}
	return d.deliver(ctx, a)
}

// deliver runs one attempt. Workers call it directly so the queue drains
// after Close.
func (d *Dispatcher) deliver(ctx context.Context, a *types.Alert) error {
	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	start := time.Now()
	sendErr := d.channel.Send(attemptCtx, a)
	cancel()
	latency := time.Since(start)

	ok := sendErr == nil
	d.metrics.DeliveryAttempt(d.channel.Type(), ok, latency)

	now := d.clock.Now()
	update := types.NotifyUpdate{AttemptAt: now, RetryCount: a.NotifyRetryCount}
	if ok {
		update.Status = types.NotifySuccess
		update.SuccessAt = &now
	} else {
		update.Status = types.NotifyFailed
		update.RetryCount++
	}

	// The attempt context may have expired; write back on a fresh deadline.
	wbCtx, wbCancel := context.WithTimeout(context.WithoutCancel(ctx), writeBackTimeout)
	defer wbCancel()
	var wbErr error
	if err := d.sink.UpdateNotifyFields(wbCtx, a.ID, update); err != nil {
		wbErr = fmt.Errorf("update notify fields: %w", err)
		d.logger.Error("Notify status write-back failed", "alert_id", a.ID, "error", err)
	} else {
		a.NotifyStatus = update.Status
		a.NotifyRetryCount = update.RetryCount
		a.NotifySuccessAt = update.SuccessAt
		a.NotifyAttemptAt = &now
	}

	if !ok {
		d.logger.Warn("Notification delivery failed",
			"alert_id", a.ID,
			"level", string(a.Level),
			"retry_count", update.RetryCount,
			"error", sendErr,
		)
		return errors.Join(fmt.Errorf("deliver alert %s: %w", a.ID, sendErr), wbErr)
	}
	d.logger.Info("Notification delivered",
		"alert_id", a.ID,
		"channel", string(d.channel.Type()),
		"latency_ms", latency.Milliseconds(),
	)
	return wbErr
}

// Ping reports the channel's health when the channel can check it.
func (d *Dispatcher) Ping(ctx context.Context) error {
	if p, ok := d.channel.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close stops accepting alerts and waits for queued ones to finish.
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

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for a := range d.queue {
		d.run(a)
	}
}

func (d *Dispatcher) run(a *types.Alert) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("Panic in dispatch worker", "alert_id", a.ID, "panic", rec)
		}
	}()
	_ = d.deliver(context.Background(), a)
}
