package db

import (
	"context"
	"fmt"

	"geowatch/internal/types"
)

// StatsDimension is a column alerts can be grouped by.
type StatsDimension string

const (
	DimensionType   StatsDimension = "type"
	DimensionLevel  StatsDimension = "level"
	DimensionStatus StatsDimension = "status"
)

// StatsRepository runs the read-only aggregate queries behind alert
// statistics. Every query is scoped by StatsQuery: an empty OrganizationID
// spans all tenants; the range is [From, To) on start_time.
type StatsRepository struct {
	db DBTX
}

// NewStatsRepository creates a StatsRepository.
func NewStatsRepository(db DBTX) *StatsRepository {
	return &StatsRepository{db: db}
}

const statsScope = `($1 = '' OR organization_id = $1) AND start_time >= $2 AND start_time < $3`

// Total counts alerts in scope.
func (r *StatsRepository) Total(ctx context.Context, q types.StatsQuery) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM alerts WHERE `+statsScope,
		q.OrganizationID, q.From, q.To,
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count alerts", err)
	}
	return n, nil
}

// CountBy groups alerts in scope by dim, largest group first.
func (r *StatsRepository) CountBy(ctx context.Context, q types.StatsQuery, dim StatsDimension) ([]types.CountBucket, error) {
	switch dim {
	case DimensionType, DimensionLevel, DimensionStatus:
	default:
		return nil, fmt.Errorf("stats: unknown dimension %q", dim)
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+string(dim)+`, COUNT(*) AS n
		 FROM alerts
		 WHERE `+statsScope+`
		 GROUP BY 1
		 ORDER BY n DESC, 1`,
		q.OrganizationID, q.From, q.To,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to group alerts by "+string(dim), err)
	}
	defer rows.Close()

	out := []types.CountBucket{}
	for rows.Next() {
		var b types.CountBucket
		if err := rows.Scan(&b.Key, &b.Count); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan alert group", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate alert groups", err)
	}
	return out, nil
}

// AvgHandlingSeconds is the mean of handled_at - start_time over RESOLVED
// alerts in scope. Nil when none were resolved.
func (r *StatsRepository) AvgHandlingSeconds(ctx context.Context, q types.StatsQuery) (*float64, error) {
	var avg *float64
	err := r.db.QueryRow(ctx,
		`SELECT AVG(EXTRACT(EPOCH FROM (handled_at - start_time)))::float8
		 FROM alerts
		 WHERE `+statsScope+` AND status = 'RESOLVED' AND handled_at IS NOT NULL`,
		q.OrganizationID, q.From, q.To,
	).Scan(&avg)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to average handling time", err)
	}
	return avg, nil
}

// TopFences ranks fences by alert count in scope. Ties break on fence ID.
func (r *StatsRepository) TopFences(ctx context.Context, q types.StatsQuery) ([]types.FenceRank, error) {
	limit := q.TopN
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.Query(ctx,
		`SELECT fence_id, COALESCE(MAX(fence_name), ''), COUNT(*) AS n
		 FROM alerts
		 WHERE `+statsScope+`
		 GROUP BY fence_id
		 ORDER BY n DESC, fence_id
		 LIMIT $4`,
		q.OrganizationID, q.From, q.To, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to rank fences", err)
	}
	defer rows.Close()

	out := []types.FenceRank{}
	for rows.Next() {
		var fr types.FenceRank
		if err := rows.Scan(&fr.FenceID, &fr.FenceName, &fr.Count); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan fence rank", err)
		}
		out = append(out, fr)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate fence ranks", err)
	}
	return out, nil
}
