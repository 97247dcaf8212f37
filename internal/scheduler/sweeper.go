// Package scheduler runs periodic background jobs. The retry sweeper is the
// external retry layer for alert delivery: the dispatcher never retries on
// its own, so FAILED alerts under the retry cap and PENDING alerts that were
// never attempted are re-dispatched here with exponential backoff.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"geowatch/internal/notifications/core"
	"geowatch/internal/types"
)

// RetrySweepJob names the sweep in job_locks and job_history.
const RetrySweepJob = "retry_sweep"

// RetryStore lists alerts eligible for another delivery attempt.
type RetryStore interface {
	ListRetryable(ctx context.Context, maxRetries int, stalePendingBefore time.Time, limit int) ([]*types.Alert, error)
}

// Redispatcher performs one delivery attempt (or hands the alert to the
// notify queue) and reports the outcome.
type Redispatcher interface {
	Dispatch(ctx context.Context, a *types.Alert) error
}

// LeaseStore grants a time-boxed exclusive lease across replicas.
type LeaseStore interface {
	Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID, workerID string) error
}

// JobRecorder records job runs.
type JobRecorder interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, counts map[string]int, runErr error) error
}

// SweeperConfig tunes the RetrySweeper.
type SweeperConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxRetries  int
	Concurrency int
	// StaleAfter is how old a never-attempted PENDING alert must be before
	// the sweeper treats it as dropped.
	StaleAfter time.Duration
	WorkerID   string
	Policy     core.RetryPolicy
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 2 * time.Minute
	}
	if c.Policy == (core.RetryPolicy{}) {
		c.Policy = core.AlertRetryPolicy
	}
	c.Policy.MaxAttempts = c.MaxRetries
	return c
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Skipped    bool // another replica holds the lease
	Scanned    int
	NotDue     int
	Dispatched int
	Failed     int
}

func (r SweepResult) counts() map[string]int {
	return map[string]int{
		"scanned":    r.Scanned,
		"not_due":    r.NotDue,
		"dispatched": r.Dispatched,
		"failed":     r.Failed,
	}
}

// RetrySweeper periodically re-dispatches alerts whose delivery failed.
type RetrySweeper struct {
	store      RetryStore
	dispatcher Redispatcher
	lease      LeaseStore
	history    JobRecorder
	logger     types.Logger
	clock      types.Clock
	cfg        SweeperConfig
}

// NewRetrySweeper creates a sweeper. lease and history may be nil, in which
// case every sweep runs and nothing is recorded.
func NewRetrySweeper(
	store RetryStore,
	dispatcher Redispatcher,
	lease LeaseStore,
	history JobRecorder,
	logger types.Logger,
	clock types.Clock,
	cfg SweeperConfig,
) *RetrySweeper {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &RetrySweeper{
		store:      store,
		dispatcher: dispatcher,
		lease:      lease,
		history:    history,
		logger:     logger,
		clock:      clock,
		cfg:        cfg.withDefaults(),
	}
}

// Run sweeps every Interval until ctx is done.
func (s *RetrySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Retry sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one pass. Individual dispatch failures are counted, not
// returned; only listing or lease failures return an error.
func (s *RetrySweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	if s.lease != nil {
		ok, err := s.lease.Acquire(ctx, RetrySweepJob, s.cfg.WorkerID, s.cfg.Interval)
		if err != nil {
			return res, err
		}
		if !ok {
			res.Skipped = true
			return res, nil
		}
		defer func() {
			if err := s.lease.Release(context.WithoutCancel(ctx), RetrySweepJob, s.cfg.WorkerID); err != nil {
				s.logger.Warn("Retry sweep lease release failed", "error", err)
			}
		}()
	}

	var runID int64
	if s.history != nil {
		id, err := s.history.Start(ctx, RetrySweepJob)
		if err != nil {
			s.logger.Warn("Retry sweep history start failed", "error", err)
		}
		runID = id
	}

	res, err := s.sweep(ctx)

	if s.history != nil && runID != 0 {
		if ferr := s.history.Finish(context.WithoutCancel(ctx), runID, res.counts(), err); ferr != nil {
			s.logger.Warn("Retry sweep history finish failed", "error", ferr)
		}
	}
	return res, err
}

func (s *RetrySweeper) sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.clock.Now()

	alerts, err := s.store.ListRetryable(ctx, s.cfg.MaxRetries, now.Add(-s.cfg.StaleAfter), s.cfg.BatchSize)
	if err != nil {
		return res, err
	}
	res.Scanned = len(alerts)

	var dispatched, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, a := range alerts {
		if !core.RetryDue(s.cfg.Policy, a.NotifyRetryCount, a.NotifyAttemptAt, now) {
			res.NotDue++
			continue
		}
		g.Go(func() error {
			if err := s.dispatcher.Dispatch(gctx, a); err != nil {
				failed.Add(1)
				s.logger.Warn("Alert redelivery failed",
					"alert_id", a.ID,
					"retry_count", a.NotifyRetryCount,
					"error", err,
				)
				return nil
			}
			dispatched.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res.Dispatched = int(dispatched.Load())
	res.Failed = int(failed.Load())
	if res.Scanned > 0 {
		s.logger.Info("Retry sweep complete",
			"scanned", res.Scanned,
			"dispatched", res.Dispatched,
			"failed", res.Failed,
			"not_due", res.NotDue,
		)
	}
	return res, nil
}
