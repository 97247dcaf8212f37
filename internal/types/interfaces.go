package types

import (
	"context"
	"time"
)

// Validator is implemented by entities to self-validate.
type Validator interface {
	Validate() error
}

// FenceSource is the read-only view of the fence-management collaborator.
type FenceSource interface {
	ListActive(ctx context.Context) ([]Fence, error)
	GetByID(ctx context.Context, id string) (*Fence, error)
}

// AlertSink persists materialized alerts and records notification outcomes.
type AlertSink interface {
	// Insert stores the alert and returns its assigned identifier.
	Insert(ctx context.Context, a *Alert) (string, error)

	// UpdateNotifyFields writes back the notification bookkeeping for one alert.
	UpdateNotifyFields(ctx context.Context, alertID string, u NotifyUpdate) error
}

// NotificationChannel delivers one alert to an external recipient.
// A nil return means the delivery was accepted.
type NotificationChannel interface {
	Type() ChannelType
	Send(ctx context.Context, a *Alert) error
}

// AlertDispatcher hands alerts off for asynchronous notification.
type AlertDispatcher interface {
	// DispatchAsync must not block the caller on delivery.
	DispatchAsync(a *Alert)
}

// MetricsRecorder captures engine and delivery counters. Implementations must
// be safe for concurrent use and must never fail the caller.
type MetricsRecorder interface {
	ReportProcessed(outcome string)
	EventDetected(kind EventKind)
	EventSuppressed(kind EventKind)
	AlertCreated(level AlertLevel)
	DeliveryAttempt(channel ChannelType, success bool, latency time.Duration)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Logger defines the structured logging interface used throughout the service.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// NopMetrics discards all metrics.
type NopMetrics struct{}

func (NopMetrics) ReportProcessed(string)                            {}
func (NopMetrics) EventDetected(EventKind)                           {}
func (NopMetrics) EventSuppressed(EventKind)                         {}
func (NopMetrics) AlertCreated(AlertLevel)                           {}
func (NopMetrics) DeliveryAttempt(ChannelType, bool, time.Duration) {}

var _ MetricsRecorder = NopMetrics{}
