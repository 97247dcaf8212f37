// Package stats computes read-side rollups over persisted alerts. Nothing is
// cached: each call reflects the store at query time.
package stats

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"geowatch/internal/db"
	"geowatch/internal/types"
)

// Reader is the query surface the aggregator needs. *db.StatsRepository
// implements it.
type Reader interface {
	Total(ctx context.Context, q types.StatsQuery) (int, error)
	CountBy(ctx context.Context, q types.StatsQuery, dim db.StatsDimension) ([]types.CountBucket, error)
	AvgHandlingSeconds(ctx context.Context, q types.StatsQuery) (*float64, error)
	TopFences(ctx context.Context, q types.StatsQuery) ([]types.FenceRank, error)
}

// Aggregator assembles AlertStatistics from independent queries run
// concurrently.
type Aggregator struct {
	reader Reader
}

// NewAggregator creates an Aggregator over reader.
func NewAggregator(reader Reader) *Aggregator {
	return &Aggregator{reader: reader}
}

// Summarize returns statistics for orgID (empty for all tenants) over
// [from, to). topN <= 0 selects types.DefaultTopN; values above
// types.MaxTopN are clamped. Any failing query fails the whole summary.
func (a *Aggregator) Summarize(ctx context.Context, orgID string, from, to time.Time, topN int) (*types.AlertStatistics, error) {
	if err := types.ValidateTimeRange(from, to); err != nil {
		return nil, err
	}
	switch {
	case topN <= 0:
		topN = types.DefaultTopN
	case topN > types.MaxTopN:
		topN = types.MaxTopN
	}

	q := types.StatsQuery{OrganizationID: orgID, From: from.UTC(), To: to.UTC(), TopN: topN}
	out := &types.AlertStatistics{OrganizationID: orgID, From: q.From, To: q.To}

	// Each goroutine writes a distinct field, so no lock is needed.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Total, err = a.reader.Total(gctx, q)
		return err
	})
	g.Go(func() (err error) {
		out.ByType, err = a.reader.CountBy(gctx, q, db.DimensionType)
		return err
	})
	g.Go(func() (err error) {
		out.ByLevel, err = a.reader.CountBy(gctx, q, db.DimensionLevel)
		return err
	})
	g.Go(func() (err error) {
		out.ByStatus, err = a.reader.CountBy(gctx, q, db.DimensionStatus)
		return err
	})
	g.Go(func() (err error) {
		out.AvgHandlingSeconds, err = a.reader.AvgHandlingSeconds(gctx, q)
		return err
	})
	g.Go(func() (err error) {
		out.TopFences, err = a.reader.TopFences(gctx, q)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
