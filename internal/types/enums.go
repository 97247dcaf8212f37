package types

// ShapeKind identifies the geometry variant of a Fence.
type ShapeKind string

const (
	ShapeCircle    ShapeKind = "CIRCLE"
	ShapeRectangle ShapeKind = "RECTANGLE"
	ShapePolygon   ShapeKind = "POLYGON"
)

// EventKind identifies the kind of geofence transition detected for a subject.
type EventKind string

const (
	EventEnter       EventKind = "ENTER"
	EventExit        EventKind = "EXIT"
	EventStayTimeout EventKind = "STAY_TIMEOUT"
)

// AllEventKinds lists every EventKind in emission order.
var AllEventKinds = []EventKind{EventEnter, EventExit, EventStayTimeout}

// AlertType mirrors EventKind one-to-one for persisted alerts.
type AlertType string

const (
	AlertTypeEnter       AlertType = "ENTER"
	AlertTypeExit        AlertType = "EXIT"
	AlertTypeStayTimeout AlertType = "STAY_TIMEOUT"
)

// AlertTypeFor maps an event kind to its alert type.
func AlertTypeFor(k EventKind) AlertType {
	return AlertType(k)
}

// AlertLevel is the severity configured on a fence and copied onto its alerts.
type AlertLevel string

const (
	LevelLow    AlertLevel = "LOW"
	LevelMedium AlertLevel = "MEDIUM"
	LevelHigh   AlertLevel = "HIGH"
)

// AlertStatus is the case-handling lifecycle of an alert. Only PENDING is set
// by the engine; RESOLVED and IGNORED are set by the handling workflow.
type AlertStatus string

const (
	AlertStatusPending  AlertStatus = "PENDING"
	AlertStatusResolved AlertStatus = "RESOLVED"
	AlertStatusIgnored  AlertStatus = "IGNORED"
)

// NotifyStatus is the outcome of the most recent notification attempt.
type NotifyStatus string

const (
	NotifyPending NotifyStatus = "PENDING"
	NotifySuccess NotifyStatus = "SUCCESS"
	NotifyFailed  NotifyStatus = "FAILED"
)

// ChannelType identifies a notification delivery channel implementation.
type ChannelType string

const (
	ChannelSimulated ChannelType = "simulated"
	ChannelWebhook   ChannelType = "webhook"
)
