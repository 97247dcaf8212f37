package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"geowatch/internal/geometry"
	"geowatch/internal/types"
)

// Transition is the outcome of evaluating one report against one fence.
type Transition struct {
	WasInside bool
	Inside    bool
	Events    []types.GeofenceEvent
}

// Detector runs the per-(subject, fence) OUTSIDE/INSIDE state machine.
type Detector struct {
	states *MembershipStore
	ttl    time.Duration
	newID  func() string
}

// NewDetector creates a detector writing state back with the given TTL.
// A ttl <= 0 uses DefaultMembershipTTL.
func NewDetector(states *MembershipStore, ttl time.Duration) *Detector {
	if ttl <= 0 {
		ttl = DefaultMembershipTTL
	}
	return &Detector{
		states: states,
		ttl:    ttl,
		newID:  func() string { return "evt_" + uuid.New().String() },
	}
}

// Detect returns the events one report produces for one fence.
func (d *Detector) Detect(ctx context.Context, report types.LocationReport, fence types.Fence, geom geometry.Geometry) ([]types.GeofenceEvent, error) {
	t, err := d.Evaluate(ctx, report, fence, geom)
	if err != nil {
		return nil, err
	}
	return t.Events, nil
}

// Evaluate compares the stored membership with the current position, emits
// the enabled events and always writes the new state back. The report
// timestamp is the time basis for dwell. On any store error no events are
// returned.
func (d *Detector) Evaluate(ctx context.Context, report types.LocationReport, fence types.Fence, geom geometry.Geometry) (Transition, error) {
	now := report.Timestamp
	inside := geometry.Contains(geometry.Point{Lat: report.Lat, Lon: report.Lon}, geom)

	prev, err := d.states.Get(ctx, report.SubjectID, fence.ID)
	if err != nil {
		return Transition{}, err
	}
	wasInside := prev != nil && prev.Inside

	t := Transition{WasInside: wasInside, Inside: inside}
	next := types.MembershipState{Inside: inside}

	switch {
	case !wasInside && inside:
		entered := now
		next.EnteredAt = &entered
		if fence.AlertOnEnter {
			t.Events = append(t.Events, d.event(report, fence, types.EventEnter))
		}

	case wasInside && !inside:
		if fence.AlertOnExit {
			t.Events = append(t.Events, d.event(report, fence, types.EventExit))
		}

	case wasInside && inside:
		next.EnteredAt = prev.EnteredAt
		next.StayFired = prev.StayFired
		// A non-positive dwell threshold disables STAY_TIMEOUT for the fence.
		if fence.AlertOnStay && fence.DwellThresholdMinutes > 0 && !prev.StayFired {
			if next.EnteredAt == nil {
				backfill := now
				next.EnteredAt = &backfill
			}
			threshold := time.Duration(fence.DwellThresholdMinutes) * time.Minute
			if now.Sub(*next.EnteredAt) >= threshold {
				t.Events = append(t.Events, d.event(report, fence, types.EventStayTimeout))
				next.EnteredAt = nil
				next.StayFired = true
			}
		}
	}

	if err := d.states.Put(ctx, report.SubjectID, fence.ID, next, d.ttl); err != nil {
		return Transition{}, err
	}
	return t, nil
}

func (d *Detector) event(r types.LocationReport, f types.Fence, kind types.EventKind) types.GeofenceEvent {
	return types.GeofenceEvent{
		EventID:        d.newID(),
		FenceID:        f.ID,
		FenceName:      f.Name,
		OrganizationID: eventOrg(r, f),
		SubjectID:      r.SubjectID,
		DeviceID:       r.DeviceID,
		Kind:           kind,
		EventTime:      r.Timestamp,
		Location:       r.Location(),
		AlertLevel:     f.AlertLevel,
	}
}

// eventOrg prefers the fence owner over the reporting tenant.
func eventOrg(r types.LocationReport, f types.Fence) string {
	if f.OrganizationID != "" {
		return f.OrganizationID
	}
	return r.OrganizationID
}
