package engine

import (
	"context"
	"hash/fnv"
	"sync"

	"geowatch/internal/types"
)

// Router defaults.
const (
	DefaultLanes      = 32
	DefaultLaneBuffer = 256
)

// ReportProcessor is implemented by Pipeline.
type ReportProcessor interface {
	ProcessReport(ctx context.Context, report types.LocationReport) (ReportResult, error)
}

type routedReport struct {
	ctx    context.Context
	report types.LocationReport
}

// Router serializes reports per subject. Each subject hashes to a fixed lane
// and each lane is drained by a single goroutine, so membership updates for
// one subject never race.
type Router struct {
	proc   ReportProcessor
	logger types.Logger
	lanes  []chan routedReport

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewRouter starts the lane goroutines.
func NewRouter(proc ReportProcessor, lanes, buffer int, logger types.Logger) *Router {
	if lanes <= 0 {
		lanes = DefaultLanes
	}
	if buffer < 0 {
		buffer = DefaultLaneBuffer
	}
	r := &Router{
		proc:   proc,
		logger: logger,
		lanes:  make([]chan routedReport, lanes),
	}
	for i := range r.lanes {
		ch := make(chan routedReport, buffer)
		r.lanes[i] = ch
		r.wg.Add(1)
		go r.drain(ch)
	}
	return r
}

// LaneFor returns the lane index for a subject (FNV-1a).
func (r *Router) LaneFor(subjectID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(subjectID))
	return int(h.Sum32() % uint32(len(r.lanes)))
}

// Submit enqueues a report on its subject's lane. It blocks while the lane is
// full until ctx is done. Request-scoped cancellation is stripped so the
// report is still processed after the caller returns.
func (r *Router) Submit(ctx context.Context, report types.LocationReport) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return types.ErrShuttingDown
	}
	item := routedReport{ctx: context.WithoutCancel(ctx), report: report}
	select {
	case r.lanes[r.LaneFor(report.SubjectID)] <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting reports and waits for every lane to drain.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, ch := range r.lanes {
		close(ch)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Router) drain(ch <-chan routedReport) {
	defer r.wg.Done()
	for item := range ch {
		r.process(item)
	}
}

func (r *Router) process(item routedReport) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Panic in router lane", "subject_id", item.report.SubjectID, "panic", rec)
		}
	}()
	if _, err := r.proc.ProcessReport(item.ctx, item.report); err != nil {
		r.logger.Warn("Report rejected", "subject_id", item.report.SubjectID, "error", err)
	}
}
