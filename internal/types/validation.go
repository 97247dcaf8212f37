package types

import (
	"fmt"
	"net/url"
	"time"
)

// Validation constraint constants.
const (
	MinLat       = -90.0
	MaxLat       = 90.0
	MinLon       = -180.0
	MaxLon       = 180.0
	MaxBatchSize = 1000
	MaxTopN      = 100
	DefaultTopN  = 10

	// MaxStatsRange bounds a single statistics query.
	MaxStatsRange = 366 * 24 * time.Hour
)

// ValidateCoordinates checks that lat/lon are finite WGS84 degrees.
func ValidateCoordinates(lat, lon float64) error {
	if lat != lat || lat < MinLat || lat > MaxLat {
		return fmt.Errorf("%s: latitude %v outside [-90, 90]", ErrCodeValidationInvalidLat, lat)
	}
	if lon != lon || lon < MinLon || lon > MaxLon {
		return fmt.Errorf("%s: longitude %v outside [-180, 180]", ErrCodeValidationInvalidLon, lon)
	}
	return nil
}

// Validate checks the identity and coordinate fields of a report.
func (r LocationReport) Validate() error {
	if r.SubjectID == "" {
		return fmt.Errorf("%s: subject_id", ErrCodeValidationMissingField)
	}
	if r.DeviceID == "" {
		return fmt.Errorf("%s: device_id", ErrCodeValidationMissingField)
	}
	return ValidateCoordinates(r.Lat, r.Lon)
}

// ValidateTimeRange ensures to > from and the span stays under MaxStatsRange.
// Failures are validation_time_range_invalid AppErrors.
func ValidateTimeRange(from, to time.Time) error {
	if !to.After(from) {
		return NewAppError(ErrCodeValidationTimeRange, "from must be before to", nil)
	}
	if to.Sub(from) > MaxStatsRange {
		return NewAppError(ErrCodeValidationTimeRange, "time range exceeds one year", nil)
	}
	return nil
}

// ValidateWebhookURL checks that a URL is usable for webhook delivery.
func ValidateWebhookURL(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return fmt.Errorf("webhook URL must use http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("webhook URL has no host")
	}
	return nil
}
