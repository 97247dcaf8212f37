package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geowatch/internal/kv"
	"geowatch/internal/types"
)

func alertTypes(alerts []*types.Alert) []types.AlertType {
	out := make([]types.AlertType, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.Type)
	}
	return out
}

func TestPipeline_EnterExitExample(t *testing.T) {
	ctx := context.Background()
	h := newHarness(hkFence())

	res, err := h.pipeline.ProcessReport(ctx, report("s1", 22.500, 114.000, h.at(0)))
	require.NoError(t, err)
	require.Len(t, res.AlertIDs, 1)

	alerts := h.sink.snapshot()
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, types.AlertTypeEnter, a.Type)
	assert.Equal(t, types.LevelHigh, a.Level)
	assert.Equal(t, types.AlertStatusPending, a.Status)
	assert.Equal(t, types.NotifyPending, a.NotifyStatus)
	assert.Equal(t, "s1", a.SubjectID)
	assert.Equal(t, "dev-s1", a.DeviceID)
	assert.Equal(t, []string{"alert-1"}, h.dispatch.sent)

	// ~308 m east of the center.
	res, err = h.pipeline.ProcessReport(ctx, report("s1", 22.500, 114.003, h.at(time.Minute)))
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, types.EventExit, res.Events[0].Kind)
	assert.Equal(t, []types.AlertType{types.AlertTypeEnter, types.AlertTypeExit}, alertTypes(h.sink.snapshot()))
}

func TestPipeline_EnterCooldown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(hkFence())
	in := func(d time.Duration) ReportResult {
		res, err := h.pipeline.ProcessReport(ctx, report("s1", 22.5, 114.0, h.at(d)))
		require.NoError(t, err)
		return res
	}
	out := func(d time.Duration) ReportResult {
		res, err := h.pipeline.ProcessReport(ctx, report("s1", 22.5, 114.01, h.at(d)))
		require.NoError(t, err)
		return res
	}

	assert.Len(t, in(0).AlertIDs, 1)
	assert.Len(t, out(time.Minute).AlertIDs, 1)

	second := in(2 * time.Minute)
	assert.Empty(t, second.AlertIDs, "ENTER within cooldown is suppressed")
	assert.Equal(t, 1, second.Suppressed)

	out(6 * time.Minute)
	third := in(7 * time.Minute)
	assert.Len(t, third.AlertIDs, 1, "ENTER after cooldown creates a new alert")

	enters := 0
	for _, a := range h.sink.snapshot() {
		if a.Type == types.AlertTypeEnter {
			enters++
		}
	}
	assert.Equal(t, 2, enters)
}

func TestPipeline_ExitDetectedFarFromFence(t *testing.T) {
	ctx := context.Background()
	h := newHarness(hkFence())

	_, err := h.pipeline.ProcessReport(ctx, report("s1", 22.5, 114.0, h.at(0)))
	require.NoError(t, err)

	// New York is in a different grid cell; presence keeps the fence in play.
	res, err := h.pipeline.ProcessReport(ctx, report("s1", 40.7, -74.0, h.at(time.Hour)))
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, types.EventExit, res.Events[0].Kind)

	ids, err := NewMembershipStore(h.kv).Presence(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPipeline_StayTimeoutOnce(t *testing.T) {
	ctx := context.Background()
	f := hkFence()
	f.AlertOnStay = true
	f.DwellThresholdMinutes = 30
	h := newHarness(f)

	var stays int
	for m := 0; m <= 90; m += 5 {
		res, err := h.pipeline.ProcessReport(ctx, report("s1", 22.5, 114.0, h.at(time.Duration(m)*time.Minute)))
		require.NoError(t, err)
		for _, ev := range res.Events {
			if ev.Kind == types.EventStayTimeout {
				stays++
				assert.Equal(t, 30, m)
			}
		}
	}
	assert.Equal(t, 1, stays)
}

func TestPipeline_MembershipStoreDown(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: t0}
	mem := kv.NewMemoryStore(clock)
	h := newHarnessWithStore(clock, mem, &flakyStore{Store: mem, failPrefix: "membership:"}, hkFence())

	res, err := h.pipeline.ProcessReport(ctx, report("s1", 22.5, 114.0, t0))
	require.NoError(t, err, "store failure does not propagate")
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, res.Events)
	assert.Empty(t, h.sink.snapshot())
}

func TestPipeline_DedupStoreDownSuppresses(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: t0}
	mem := kv.NewMemoryStore(clock)
	h := newHarnessWithStore(clock, mem, &flakyStore{Store: mem, failPrefix: "dedup:"}, hkFence())

	res, err := h.pipeline.ProcessReport(ctx, report("s1", 22.5, 114.0, t0))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Suppressed)
	assert.Empty(t, h.sink.snapshot())
}

func TestPipeline_InsertFailureDoesNotStopSiblings(t *testing.T) {
	ctx := context.Background()
	second := hkFence()
	second.ID = "fence-hk-2"
	h := newHarness(hkFence(), second)
	h.sink.insertErr = errBoom

	res, err := h.pipeline.ProcessReport(ctx, report("s1", 22.5, 114.0, t0))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Evaluated)
	assert.Len(t, res.Events, 2)
	assert.Empty(t, res.AlertIDs)
	assert.Empty(t, h.dispatch.sent)
}

func TestPipeline_InvalidReport(t *testing.T) {
	h := newHarness(hkFence())

	_, err := h.pipeline.ProcessReport(context.Background(), report("s1", 91, 114.0, t0))
	assert.ErrorIs(t, err, ErrInvalidReport)

	_, err = h.pipeline.ProcessReport(context.Background(), report("", 22.5, 114.0, t0))
	assert.ErrorIs(t, err, ErrInvalidReport)
}

func TestPipeline_ZeroTimestampUsesClock(t *testing.T) {
	h := newHarness(hkFence())
	h.clock.Set(t0.Add(time.Hour))

	res, err := h.pipeline.ProcessReport(context.Background(), report("s1", 22.5, 114.0, time.Time{}))
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, t0.Add(time.Hour), res.Events[0].EventTime)
}

func TestPipeline_ProcessBatchOrdersBySubjectTimestamp(t *testing.T) {
	h := newHarness(hkFence())

	// Out of arrival order: the EXIT position arrives before the ENTER one.
	batch := []types.LocationReport{
		report("s1", 22.5, 114.01, t0.Add(2*time.Minute)),
		report("s1", 22.5, 114.0, t0.Add(time.Minute)),
	}
	res := h.pipeline.ProcessBatch(context.Background(), batch)

	assert.Equal(t, 2, res.Processed)
	assert.Empty(t, res.Failures)
	assert.Equal(t, 2, res.Events)
	assert.Equal(t, []types.AlertType{types.AlertTypeEnter, types.AlertTypeExit}, alertTypes(h.sink.snapshot()))
}

func TestPipeline_ProcessBatchStampsBeforeOrdering(t *testing.T) {
	h := newHarness(hkFence())
	h.clock.Set(t0.Add(time.Hour))

	// The unstamped EXIT position is received now, after the stamped ENTER.
	batch := []types.LocationReport{
		report("s1", 22.5, 114.01, time.Time{}),
		report("s1", 22.5, 114.0, t0.Add(30*time.Minute)),
	}
	res := h.pipeline.ProcessBatch(context.Background(), batch)

	assert.Equal(t, 2, res.Processed)
	assert.Empty(t, res.Failures)
	assert.Equal(t, []types.AlertType{types.AlertTypeEnter, types.AlertTypeExit}, alertTypes(h.sink.snapshot()))
	assert.True(t, batch[0].Timestamp.IsZero(), "caller's reports must not be modified")
}

func TestPipeline_ProcessBatchIsolatesFailures(t *testing.T) {
	h := newHarness(hkFence())
	h.sink.panicFor = "bad"

	batch := []types.LocationReport{
		report("good", 22.5, 114.0, t0),
		report("bad", 22.5, 114.0, t0),
		report("worse", 95, 114.0, t0),
		report("other", 22.5, 114.0, t0),
	}
	res := h.pipeline.ProcessBatch(context.Background(), batch)

	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 2, res.Alerts)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, 1, res.Failures[0].Index)
	assert.Equal(t, "bad", res.Failures[0].SubjectID)
	assert.Equal(t, 2, res.Failures[1].Index)
	assert.ErrorIs(t, res.Failures[1].Err, ErrInvalidReport)
}

func TestPipeline_ProcessBatchManySubjects(t *testing.T) {
	h := newHarness(hkFence())

	batch := make([]types.LocationReport, 0, 100)
	for i := 0; i < 50; i++ {
		s := fmt.Sprintf("s%02d", i)
		batch = append(batch,
			report(s, 22.5, 114.0, t0),
			report(s, 22.5, 114.0, t0.Add(time.Minute)),
		)
	}
	res := h.pipeline.ProcessBatch(context.Background(), batch)

	assert.Equal(t, 100, res.Processed)
	assert.Equal(t, 50, res.Alerts)
	assert.Len(t, h.sink.snapshot(), 50)
}

func TestPipeline_ProcessBatchCancelled(t *testing.T) {
	h := newHarness(hkFence())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.pipeline.ProcessBatch(ctx, []types.LocationReport{report("s1", 22.5, 114.0, t0)})
	assert.Zero(t, res.Processed)
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0].Err, context.Canceled)
}
