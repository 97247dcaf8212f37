package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"geowatch/internal/types"
)

// FenceRepository reads fence definitions. Fence authoring belongs to another
// service; this repository never writes.
type FenceRepository struct {
	db DBTX
}

var _ types.FenceSource = (*FenceRepository)(nil)

// NewFenceRepository creates a FenceRepository.
func NewFenceRepository(db DBTX) *FenceRepository {
	return &FenceRepository{db: db}
}

const fenceColumns = `id, organization_id, name, shape,
	center_lat, center_lon, radius_meters, boundary,
	alert_on_enter, alert_on_exit, alert_on_stay, dwell_threshold_minutes,
	alert_level, active, updated_at`

func scanFence(row pgx.Row) (*types.Fence, error) {
	var f types.Fence
	var orgID, boundary *string
	var level *string
	err := row.Scan(
		&f.ID,
		&orgID,
		&f.Name,
		&f.Shape,
		&f.CenterLat,
		&f.CenterLon,
		&f.RadiusMeters,
		&boundary,
		&f.AlertOnEnter,
		&f.AlertOnExit,
		&f.AlertOnStay,
		&f.DwellThresholdMinutes,
		&level,
		&f.Active,
		&f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	f.OrganizationID = derefString(orgID)
	f.Boundary = derefString(boundary)
	f.AlertLevel = types.AlertLevel(derefString(level))
	return &f, nil
}

// ListActive returns every active fence ordered by ID.
func (r *FenceRepository) ListActive(ctx context.Context) ([]types.Fence, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+fenceColumns+`
		 FROM fences
		 WHERE active = TRUE AND deleted_at IS NULL
		 ORDER BY id`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list fences", err)
	}
	defer rows.Close()

	var out []types.Fence
	for rows.Next() {
		f, err := scanFence(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan fence", err)
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate fences", err)
	}
	return out, nil
}

// GetByID returns the fence regardless of its active flag so callers can tell
// a deactivated fence from a deleted one. Deleted fences return an AppError
// wrapping types.ErrNotFound.
func (r *FenceRepository) GetByID(ctx context.Context, id string) (*types.Fence, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+fenceColumns+`
		 FROM fences
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	f, err := scanFence(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundFence, "fence not found", types.ErrNotFound)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve fence", err)
	}
	return f, nil
}
