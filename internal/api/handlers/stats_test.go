package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geowatch/internal/types"
)

type fakeSummarizer struct {
	org      string
	from, to time.Time
	top      int
	err      error
}

func (f *fakeSummarizer) Summarize(_ context.Context, org string, from, to time.Time, top int) (*types.AlertStatistics, error) {
	f.org, f.from, f.to, f.top = org, from, to, top
	if f.err != nil {
		return nil, f.err
	}
	return &types.AlertStatistics{OrganizationID: org, From: from, To: to, Total: 4}, nil
}

func TestStats_Defaults(t *testing.T) {
	s := &fakeSummarizer{}
	h := NewStatsHandler(s, discardLogger(), fixedClock{testNow})

	rec := serve(h.RegisterRoutes, withOrg(httptest.NewRequest(http.MethodGet, "/v1/stats", nil), "org-1"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "org-1", s.org)
	assert.Equal(t, testNow, s.to)
	assert.Equal(t, testNow.Add(-24*time.Hour), s.from)
	assert.Zero(t, s.top)

	var stats types.AlertStatistics
	decode(rec, &stats)
	assert.Equal(t, 4, stats.Total)
}

func TestStats_ExplicitRange(t *testing.T) {
	s := &fakeSummarizer{}
	h := NewStatsHandler(s, discardLogger(), fixedClock{testNow})

	rec := serve(h.RegisterRoutes, httptest.NewRequest(http.MethodGet,
		"/v1/stats?from=2026-02-01T00:00:00Z&to=2026-02-08T00:00:00%2B08:00&top=5", nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, s.org)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), s.from)
	assert.Equal(t, time.Date(2026, 2, 7, 16, 0, 0, 0, time.UTC), s.to)
	assert.Equal(t, 5, s.top)
}

func TestStats_BadParams(t *testing.T) {
	for _, q := range []string{"from=yesterday", "to=2026-13-01", "top=-1", "top=ten"} {
		t.Run(q, func(t *testing.T) {
			s := &fakeSummarizer{}
			h := NewStatsHandler(s, discardLogger(), fixedClock{testNow})
			rec := serve(h.RegisterRoutes, httptest.NewRequest(http.MethodGet, "/v1/stats?"+q, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.True(t, s.to.IsZero(), "summarizer should not be called")
		})
	}
}

func TestStats_RangeRejectedBeforeQuery(t *testing.T) {
	for _, q := range []string{
		"from=2026-03-02T00:00:00Z",
		"from=2024-01-01T00:00:00Z",
		"top=101",
	} {
		t.Run(q, func(t *testing.T) {
			s := &fakeSummarizer{}
			h := NewStatsHandler(s, discardLogger(), fixedClock{testNow})

			rec := serve(h.RegisterRoutes, httptest.NewRequest(http.MethodGet, "/v1/stats?"+q, nil))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.True(t, s.to.IsZero(), "summarizer should not be called")
		})
	}
}

func TestStats_SummarizerError(t *testing.T) {
	s := &fakeSummarizer{err: types.NewAppError(types.ErrCodeInternalDB, "failed to count alerts", nil)}
	h := NewStatsHandler(s, discardLogger(), fixedClock{testNow})

	rec := serve(h.RegisterRoutes, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, string(types.ErrCodeInternalDB), decode(rec, nil).Error.Code)
}
