// Package engine turns location reports into deduplicated, persisted alerts.
//
// One report flows through: candidate fences (grid prefilter plus the fences
// the subject was last inside) -> Detector state machine -> Deduplicator ->
// Materialize -> AlertSink.Insert -> AlertDispatcher.DispatchAsync.
//
// Per-fence failures never abort the report, and per-report failures never
// abort a batch. Store and sink errors are logged and counted.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"geowatch/internal/fences"
	"geowatch/internal/geometry"
	"geowatch/internal/types"
)

// ErrInvalidReport is returned for reports that fail validation.
var ErrInvalidReport = errors.New("invalid location report")

// DefaultBatchConcurrency bounds parallel subjects in ProcessBatch.
const DefaultBatchConcurrency = 16

// FenceIndex is the subset of fences.Catalog the pipeline reads.
type FenceIndex interface {
	Candidates(ctx context.Context, p geometry.Point) ([]fences.Entry, error)
	Get(fenceID string) (fences.Entry, bool)
}

// Options tunes a Pipeline. Zero values use the package defaults.
type Options struct {
	MembershipTTL     time.Duration
	EnterExitCooldown time.Duration
	StayCooldown      time.Duration
	BatchConcurrency  int
}

// Pipeline wires the detection components together.
type Pipeline struct {
	fences     FenceIndex
	states     *MembershipStore
	detector   *Detector
	dedup      *Deduplicator
	sink       types.AlertSink
	dispatcher types.AlertDispatcher
	metrics    types.MetricsRecorder
	logger     types.Logger
	clock      types.Clock

	ttl         time.Duration
	concurrency int
}

// NewPipeline builds a pipeline. metrics and clock may be nil.
func NewPipeline(
	index FenceIndex,
	states *MembershipStore,
	dedup *Deduplicator,
	sink types.AlertSink,
	dispatcher types.AlertDispatcher,
	metrics types.MetricsRecorder,
	logger types.Logger,
	clock types.Clock,
	opts Options,
) *Pipeline {
	if metrics == nil {
		metrics = types.NopMetrics{}
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	ttl := opts.MembershipTTL
	if ttl <= 0 {
		ttl = DefaultMembershipTTL
	}
	conc := opts.BatchConcurrency
	if conc <= 0 {
		conc = DefaultBatchConcurrency
	}
	return &Pipeline{
		fences:      index,
		states:      states,
		detector:    NewDetector(states, ttl),
		dedup:       dedup,
		sink:        sink,
		dispatcher:  dispatcher,
		metrics:     metrics,
		logger:      logger,
		clock:       clock,
		ttl:         ttl,
		concurrency: conc,
	}
}

// ReportResult summarizes one ProcessReport call.
type ReportResult struct {
	Evaluated  int
	Skipped    int
	Suppressed int
	Events     []types.GeofenceEvent
	AlertIDs   []string
}

// ProcessReport evaluates one report against every candidate fence. It
// returns an error only when the report is invalid or no candidate set could
// be built.
func (p *Pipeline) ProcessReport(ctx context.Context, report types.LocationReport) (ReportResult, error) {
	var res ReportResult

	if err := report.Validate(); err != nil {
		p.metrics.ReportProcessed(types.OutcomeInvalid)
		return res, fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	if report.Timestamp.IsZero() {
		report.Timestamp = p.clock.Now()
	}
	log := p.logger.With("subject_id", report.SubjectID, "device_id", report.DeviceID)

	entries, presence, err := p.candidates(ctx, report, log)
	if err != nil {
		p.metrics.ReportProcessed(types.OutcomeFailed)
		return res, err
	}

	inside := make([]string, 0, len(presence))
	for _, e := range entries {
		t, err := p.detector.Evaluate(ctx, report, e.Fence, e.Geometry)
		if err != nil {
			// Fail open toward no event; keep the previous presence so a
			// later EXIT is still detected.
			log.Error("Membership evaluation skipped", "fence_id", e.Fence.ID, "error", err)
			res.Skipped++
			if presence[e.Fence.ID] {
				inside = append(inside, e.Fence.ID)
			}
			continue
		}
		res.Evaluated++
		if t.Inside {
			inside = append(inside, e.Fence.ID)
		}
		for _, ev := range t.Events {
			p.emit(ctx, ev, &res, log)
		}
	}

	if presenceChanged(presence, inside) {
		if err := p.states.SetPresence(ctx, report.SubjectID, inside, p.ttl); err != nil {
			log.Error("Presence update failed", "error", err)
		}
	}

	p.metrics.ReportProcessed(types.OutcomeOK)
	return res, nil
}

// candidates merges the spatial prefilter with the fences the subject was last
// inside, so EXIT fires even when the new position is far from the fence.
func (p *Pipeline) candidates(ctx context.Context, report types.LocationReport, log types.Logger) ([]fences.Entry, map[string]bool, error) {
	pt := geometry.Point{Lat: report.Lat, Lon: report.Lon}
	entries, err := p.fences.Candidates(ctx, pt)
	if err != nil {
		return nil, nil, fmt.Errorf("fence candidates: %w", err)
	}

	ids, err := p.states.Presence(ctx, report.SubjectID)
	if err != nil {
		log.Error("Presence lookup failed", "error", err)
	}
	presence := make(map[string]bool, len(ids))
	for _, id := range ids {
		presence[id] = true
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[e.Fence.ID] = true
	}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		e, ok := p.fences.Get(id)
		if !ok {
			// Fence was deleted or deactivated; drop it from presence.
			continue
		}
		entries = append(entries, e)
		seen[id] = true
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Fence.ID < entries[j].Fence.ID })
	return entries, presence, nil
}

// emit runs one event through dedup, materialization, persistence and
// dispatch.
func (p *Pipeline) emit(ctx context.Context, ev types.GeofenceEvent, res *ReportResult, log types.Logger) {
	p.metrics.EventDetected(ev.Kind)
	log = log.With("fence_id", ev.FenceID, "event_type", string(ev.Kind), "event_id", ev.EventID)

	admitted, err := p.dedup.Admit(ctx, ev.SubjectID, ev.FenceID, ev.Kind)
	if err != nil {
		log.Error("Dedup store unavailable, event suppressed", "error", err)
	}
	if !admitted {
		res.Suppressed++
		p.metrics.EventSuppressed(ev.Kind)
		return
	}
	res.Events = append(res.Events, ev)

	alert := Materialize(ev)
	id, err := p.sink.Insert(ctx, alert)
	if err != nil {
		log.Error("Alert insert failed, event lost", "error", err)
		return
	}
	alert.ID = id
	res.AlertIDs = append(res.AlertIDs, id)
	p.metrics.AlertCreated(alert.Level)

	log.Info("Alert created", "alert_id", id, "level", string(alert.Level))
	if p.dispatcher != nil {
		p.dispatcher.DispatchAsync(alert)
	}
}

func presenceChanged(before map[string]bool, after []string) bool {
	if len(before) != len(after) {
		return true
	}
	for _, id := range after {
		if !before[id] {
			return true
		}
	}
	return false
}

// ReportFailure identifies one report of a batch that could not be processed.
type ReportFailure struct {
	Index     int
	SubjectID string
	Err       error
}

// BatchResult summarizes ProcessBatch.
type BatchResult struct {
	Processed int
	Events    int
	Alerts    int
	Failures  []ReportFailure
}

// ProcessBatch groups reports by subject, orders each group by timestamp
// (stable, so equal timestamps keep arrival order) and processes subjects in
// parallel. Unstamped reports take the batch's receive time before ordering.
// A failure or panic on one report is recorded and does not stop the rest.
func (p *Pipeline) ProcessBatch(ctx context.Context, reports []types.LocationReport) BatchResult {
	now := p.clock.Now()
	reports = slices.Clone(reports)
	for i := range reports {
		if reports[i].Timestamp.IsZero() {
			reports[i].Timestamp = now
		}
	}

	groups := make(map[string][]int)
	order := make([]string, 0)
	for i, r := range reports {
		if _, ok := groups[r.SubjectID]; !ok {
			order = append(order, r.SubjectID)
		}
		groups[r.SubjectID] = append(groups[r.SubjectID], i)
	}

	type subjectResult struct {
		processed, events, alerts int
		failures                  []ReportFailure
	}
	results := make([]subjectResult, len(order))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for gi, subject := range order {
		idx := groups[subject]
		sort.SliceStable(idx, func(a, b int) bool {
			return reports[idx[a]].Timestamp.Before(reports[idx[b]].Timestamp)
		})
		g.Go(func() error {
			out := &results[gi]
			for _, i := range idx {
				if err := ctx.Err(); err != nil {
					out.failures = append(out.failures, ReportFailure{Index: i, SubjectID: subject, Err: err})
					continue
				}
				res, err := p.safeProcess(ctx, reports[i])
				if err != nil {
					out.failures = append(out.failures, ReportFailure{Index: i, SubjectID: subject, Err: err})
					continue
				}
				out.processed++
				out.events += len(res.Events)
				out.alerts += len(res.AlertIDs)
			}
			return nil
		})
	}
	_ = g.Wait()

	var br BatchResult
	for _, r := range results {
		br.Processed += r.processed
		br.Events += r.events
		br.Alerts += r.alerts
		br.Failures = append(br.Failures, r.failures...)
	}
	sort.Slice(br.Failures, func(i, j int) bool { return br.Failures[i].Index < br.Failures[j].Index })
	return br
}

func (p *Pipeline) safeProcess(ctx context.Context, r types.LocationReport) (res ReportResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.metrics.ReportProcessed(types.OutcomePanicked)
			p.logger.Error("Panic while processing report",
				"subject_id", r.SubjectID,
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return p.ProcessReport(ctx, r)
}
