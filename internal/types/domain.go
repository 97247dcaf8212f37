package types

import (
	"time"
)

// Location represents a geographic coordinate in WGS84 degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Fence is a named geographic boundary with alert rules. Fences are owned by
// the fence-management collaborator; the engine only reads cached snapshots.
type Fence struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Name           string    `json:"name" db:"name"`
	Shape          ShapeKind `json:"shape" db:"shape"`

	// Circle parameters. Nil when not configured.
	CenterLat    *float64 `json:"center_lat,omitempty" db:"center_lat"`
	CenterLon    *float64 `json:"center_lon,omitempty" db:"center_lon"`
	RadiusMeters *float64 `json:"radius_meters,omitempty" db:"radius_meters"`

	// Boundary holds the textual rectangle/polygon encoding, e.g.
	// "POLYGON((114.0 22.5, 114.1 22.5, 114.1 22.6))".
	Boundary string `json:"boundary,omitempty" db:"boundary"`

	// Alert rules
	AlertOnEnter          bool       `json:"alert_on_enter" db:"alert_on_enter"`
	AlertOnExit           bool       `json:"alert_on_exit" db:"alert_on_exit"`
	AlertOnStay           bool       `json:"alert_on_stay" db:"alert_on_stay"`
	DwellThresholdMinutes int        `json:"dwell_threshold_minutes" db:"dwell_threshold_minutes"`
	AlertLevel            AlertLevel `json:"alert_level" db:"alert_level"`

	Active    bool      `json:"active" db:"active"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// LocationReport is a single position fix for a tracked subject. It is
// transient and never retained beyond one evaluation pass.
type LocationReport struct {
	SubjectID      string    `json:"subject_id" validate:"required,max=64"`
	DeviceID       string    `json:"device_id" validate:"required,max=64"`
	OrganizationID string    `json:"organization_id,omitempty" validate:"max=64"`
	Lat            float64   `json:"lat" validate:"latitude"`
	Lon            float64   `json:"lon" validate:"longitude"`
	Timestamp      time.Time `json:"timestamp"`
}

// Location returns the report position.
func (r LocationReport) Location() Location {
	return Location{Lat: r.Lat, Lon: r.Lon}
}

// MembershipState is the remembered inside/outside flag for one
// (subject, fence) pair.
//
// EnteredAt is non-nil iff Inside is true and no STAY_TIMEOUT has fired for
// the current dwell. StayFired records that the dwell alert already fired so
// the lazy EnteredAt backfill does not re-arm it before the subject exits.
type MembershipState struct {
	Inside    bool       `json:"inside"`
	EnteredAt *time.Time `json:"entered_at,omitempty"`
	StayFired bool       `json:"stay_fired,omitempty"`
}

// GeofenceEvent is an ephemeral detection result. It is promoted into an
// Alert or dropped by the deduplicator, never persisted directly.
type GeofenceEvent struct {
	EventID        string     `json:"event_id"`
	FenceID        string     `json:"fence_id"`
	FenceName      string     `json:"fence_name"`
	OrganizationID string     `json:"organization_id,omitempty"`
	SubjectID      string     `json:"subject_id"`
	DeviceID       string     `json:"device_id"`
	Kind           EventKind  `json:"kind"`
	EventTime      time.Time  `json:"event_time"`
	Location       Location   `json:"location"`
	AlertLevel     AlertLevel `json:"alert_level"`
}

// Alert is the persisted record of a geofence event.
type Alert struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id,omitempty" db:"organization_id"`
	FenceID        string `json:"fence_id" db:"fence_id"`
	FenceName      string `json:"fence_name,omitempty" db:"fence_name"`
	SubjectID      string `json:"subject_id" db:"subject_id"`
	DeviceID       string `json:"device_id" db:"device_id"`
	EventID        string `json:"event_id,omitempty" db:"event_id"`

	Type   AlertType   `json:"type" db:"type"`
	Level  AlertLevel  `json:"level" db:"level"`
	Status AlertStatus `json:"status" db:"status"`

	StartTime           time.Time `json:"start_time" db:"start_time"`
	EndTime             time.Time `json:"end_time" db:"end_time"`
	Lat                 float64   `json:"lat" db:"lat"`
	Lon                 float64   `json:"lon" db:"lon"`
	LocationDescription string    `json:"location_description" db:"location_description"`

	// Notification bookkeeping, mutated by the dispatcher.
	NotifyStatus     NotifyStatus `json:"notify_status" db:"notify_status"`
	NotifyRetryCount int          `json:"notify_retry_count" db:"notify_retry_count"`
	NotifySuccessAt  *time.Time   `json:"notify_success_at,omitempty" db:"notify_success_at"`
	NotifyAttemptAt  *time.Time   `json:"notify_attempt_at,omitempty" db:"notify_attempt_at"`

	// Handler metadata, owned by the case-management workflow.
	HandlerID  string     `json:"handler_id,omitempty" db:"handler_id"`
	HandledAt  *time.Time `json:"handled_at,omitempty" db:"handled_at"`
	HandleNote string     `json:"handle_note,omitempty" db:"handle_note"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NotifyUpdate carries the notification fields written back after a dispatch
// attempt.
type NotifyUpdate struct {
	Status     NotifyStatus
	RetryCount int
	SuccessAt  *time.Time
	AttemptAt  time.Time
}

// CountBucket is one group in a grouped count.
type CountBucket struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// FenceRank is one row of the hot-fence ranking.
type FenceRank struct {
	FenceID   string `json:"fence_id"`
	FenceName string `json:"fence_name,omitempty"`
	Count     int    `json:"count"`
}

// StatsQuery scopes a statistics request to a tenant and time range.
type StatsQuery struct {
	OrganizationID string
	From           time.Time
	To             time.Time
	TopN           int
}

// AlertStatistics is the read-side rollup over persisted alerts.
type AlertStatistics struct {
	OrganizationID string        `json:"organization_id,omitempty"`
	From           time.Time     `json:"from"`
	To             time.Time     `json:"to"`
	Total          int           `json:"total"`
	ByType         []CountBucket `json:"by_type"`
	ByLevel        []CountBucket `json:"by_level"`
	ByStatus       []CountBucket `json:"by_status"`

	// AvgHandlingSeconds is the mean of (handled_at - start_time) over
	// resolved alerts. Nil when no alert in range was resolved.
	AvgHandlingSeconds *float64    `json:"avg_handling_seconds,omitempty"`
	TopFences          []FenceRank `json:"top_fences"`
}
