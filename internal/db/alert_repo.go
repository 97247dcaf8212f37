package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"geowatch/internal/types"
)

// AlertRepository persists alerts and their notification bookkeeping. It is
// the engine's AlertSink and the data source for the retry sweeper and the
// handling workflow.
type AlertRepository struct {
	db    DBTX
	newID func() string
}

var _ types.AlertSink = (*AlertRepository)(nil)

// NewAlertRepository creates an AlertRepository.
func NewAlertRepository(db DBTX) *AlertRepository {
	return &AlertRepository{
		db:    db,
		newID: func() string { return "alert_" + uuid.NewString() },
	}
}

const alertColumns = `id, organization_id, fence_id, fence_name, subject_id, device_id, event_id,
	type, level, status, start_time, end_time, lat, lon, location_description,
	notify_status, notify_retry_count, notify_success_at, notify_attempt_at,
	handler_id, handled_at, handle_note, created_at`

func scanAlert(row pgx.Row) (*types.Alert, error) {
	var a types.Alert
	var orgID, fenceName, eventID, handlerID, note *string
	err := row.Scan(
		&a.ID,
		&orgID,
		&a.FenceID,
		&fenceName,
		&a.SubjectID,
		&a.DeviceID,
		&eventID,
		&a.Type,
		&a.Level,
		&a.Status,
		&a.StartTime,
		&a.EndTime,
		&a.Lat,
		&a.Lon,
		&a.LocationDescription,
		&a.NotifyStatus,
		&a.NotifyRetryCount,
		&a.NotifySuccessAt,
		&a.NotifyAttemptAt,
		&handlerID,
		&a.HandledAt,
		&note,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.OrganizationID = derefString(orgID)
	a.FenceName = derefString(fenceName)
	a.EventID = derefString(eventID)
	a.HandlerID = derefString(handlerID)
	a.HandleNote = derefString(note)
	return &a, nil
}

// Insert stores a and returns its ID. An empty a.ID is assigned here; a.ID and
// a.CreatedAt are updated in place.
func (r *AlertRepository) Insert(ctx context.Context, a *types.Alert) (string, error) {
	if a.ID == "" {
		a.ID = r.newID()
	}
	err := r.db.QueryRow(ctx,
		`INSERT INTO alerts (
			id, organization_id, fence_id, fence_name, subject_id, device_id, event_id,
			type, level, status, start_time, end_time, lat, lon, location_description,
			notify_status, notify_retry_count, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, NOW()
		)
		RETURNING created_at`,
		a.ID,
		nilIfEmpty(a.OrganizationID),
		a.FenceID,
		nilIfEmpty(a.FenceName),
		a.SubjectID,
		a.DeviceID,
		nilIfEmpty(a.EventID),
		string(a.Type),
		string(a.Level),
		string(a.Status),
		a.StartTime,
		a.EndTime,
		a.Lat,
		a.Lon,
		a.LocationDescription,
		string(a.NotifyStatus),
		a.NotifyRetryCount,
	).Scan(&a.CreatedAt)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to insert alert", err)
	}
	return a.ID, nil
}

// UpdateNotifyFields writes the outcome of one dispatch attempt.
func (r *AlertRepository) UpdateNotifyFields(ctx context.Context, alertID string, u types.NotifyUpdate) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE alerts
		 SET notify_status = $2, notify_retry_count = $3,
		     notify_success_at = COALESCE($4, notify_success_at), notify_attempt_at = $5
		 WHERE id = $1`,
		alertID,
		string(u.Status),
		u.RetryCount,
		u.SuccessAt,
		u.AttemptAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update alert notification", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAlert, "alert not found", types.ErrNotFound)
	}
	return nil
}

// GetByID loads one alert.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*types.Alert, error) {
	a, err := scanAlert(r.db.QueryRow(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAlert, "alert not found", types.ErrNotFound)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve alert", err)
	}
	return a, nil
}

// Resolve moves a PENDING alert to status (RESOLVED or IGNORED) and records
// who handled it. Handling an alert that is no longer PENDING is a conflict.
func (r *AlertRepository) Resolve(ctx context.Context, id string, status types.AlertStatus, handlerID, note string, at time.Time) (*types.Alert, error) {
	if status != types.AlertStatusResolved && status != types.AlertStatusIgnored {
		return nil, types.NewAppError(types.ErrCodeValidationAlertStatus, "status must be RESOLVED or IGNORED", nil)
	}
	a, err := scanAlert(r.db.QueryRow(ctx,
		`UPDATE alerts
		 SET status = $2, handler_id = $3, handle_note = $4, handled_at = $5
		 WHERE id = $1 AND status = 'PENDING'
		 RETURNING `+alertColumns,
		id,
		string(status),
		nilIfEmpty(handlerID),
		nilIfEmpty(note),
		at,
	))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to resolve alert", err)
	}

	// Either the alert does not exist or it was already handled.
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, types.NewAppError(types.ErrCodeConflictAlreadyHandled, "alert already handled", nil)
}

// ListRetryable returns alerts whose delivery should be attempted again:
// FAILED alerts under maxRetries, plus PENDING alerts created before
// stalePendingBefore (dropped from a full dispatch queue or a crashed worker).
// Oldest first.
func (r *AlertRepository) ListRetryable(ctx context.Context, maxRetries int, stalePendingBefore time.Time, limit int) ([]*types.Alert, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+alertColumns+`
		 FROM alerts
		 WHERE notify_retry_count < $1
		   AND (notify_status = 'FAILED'
		        OR (notify_status = 'PENDING' AND created_at < $2))
		 ORDER BY created_at
		 LIMIT $3`,
		maxRetries,
		stalePendingBefore,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list retryable alerts", err)
	}
	defer rows.Close()

	var out []*types.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan alert", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate alerts", err)
	}
	return out, nil
}
