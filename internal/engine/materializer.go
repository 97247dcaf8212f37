package engine

import (
	"fmt"

	"geowatch/internal/types"
)

// Materialize builds the PENDING alert for a surviving event. It has no side
// effects; the sink assigns the id on insert.
func Materialize(ev types.GeofenceEvent) *types.Alert {
	return &types.Alert{
		OrganizationID:      ev.OrganizationID,
		FenceID:             ev.FenceID,
		FenceName:           ev.FenceName,
		SubjectID:           ev.SubjectID,
		DeviceID:            ev.DeviceID,
		EventID:             ev.EventID,
		Type:                types.AlertTypeFor(ev.Kind),
		Level:               ev.AlertLevel,
		Status:              types.AlertStatusPending,
		StartTime:           ev.EventTime,
		EndTime:             ev.EventTime,
		Lat:                 ev.Location.Lat,
		Lon:                 ev.Location.Lon,
		LocationDescription: DescribeLocation(ev.Location),
		NotifyStatus:        types.NotifyPending,
		NotifyRetryCount:    0,
	}
}

// DescribeLocation renders "lat,lon" with six decimals.
func DescribeLocation(l types.Location) string {
	return fmt.Sprintf("%.6f,%.6f", l.Lat, l.Lon)
}
