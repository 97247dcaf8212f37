package types

import "time"

// LocationMessage is the SQS payload carrying one location report from a
// device gateway to the location worker.
type LocationMessage struct {
	SubjectID      string    `json:"subject_id"`
	DeviceID       string    `json:"device_id"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Lat            float64   `json:"lat"`
	Lon            float64   `json:"lon"`
	Timestamp      time.Time `json:"timestamp"`

	// Observability
	TraceID string `json:"trace_id,omitempty"`
}

// Report converts the transport envelope into a LocationReport.
func (m LocationMessage) Report() LocationReport {
	return LocationReport{
		SubjectID:      m.SubjectID,
		DeviceID:       m.DeviceID,
		OrganizationID: m.OrganizationID,
		Lat:            m.Lat,
		Lon:            m.Lon,
		Timestamp:      m.Timestamp,
	}
}

// DispatchMessage is the SQS payload requesting notification delivery for a
// persisted alert.
type DispatchMessage struct {
	AlertID        string `json:"alert_id"`
	OrganizationID string `json:"organization_id,omitempty"`

	// RetryCount carries the attempt number across the publish/consume cycle.
	// Incremented by the notify worker before re-publishing.
	RetryCount int `json:"retry_count"`

	TraceID string `json:"trace_id,omitempty"`
}
