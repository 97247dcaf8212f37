package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"geowatch/internal/core"
	"geowatch/internal/types"
)

// DefaultStatsWindow is the range used when the client omits from.
const DefaultStatsWindow = 24 * time.Hour

// StatsSummarizer computes alert statistics for a tenant and range.
type StatsSummarizer interface {
	Summarize(ctx context.Context, orgID string, from, to time.Time, topN int) (*types.AlertStatistics, error)
}

// StatsHandler serves alert statistics.
type StatsHandler struct {
	stats  StatsSummarizer
	logger *slog.Logger
	clock  types.Clock
}

// NewStatsHandler creates a StatsHandler. clock may be nil.
func NewStatsHandler(stats StatsSummarizer, l *slog.Logger, clock types.Clock) *StatsHandler {
	if l == nil {
		l = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &StatsHandler{stats: stats, logger: l, clock: clock}
}

// RegisterRoutes mounts GET /stats.
func (h *StatsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/stats", h.Get)
}

// Get handles GET /v1/stats?from=&to=&top=. from and to are RFC 3339; to
// defaults to now and from to 24h before to. The tenant comes from the
// X-Organization-Id header; without it the statistics span all tenants.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	to := h.clock.Now()
	if s := q.Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationTimeRange, "to must be RFC 3339", err))
			return
		}
		to = t
	}
	from := to.Add(-DefaultStatsWindow)
	if s := q.Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationTimeRange, "from must be RFC 3339", err))
			return
		}
		from = t
	}

	if err := types.ValidateTimeRange(from, to); err != nil {
		core.Error(w, r, err)
		return
	}

	top := 0
	if s := q.Get("top"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 || n > types.MaxTopN {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationBody,
				fmt.Sprintf("top must be an integer in [0, %d]", types.MaxTopN), err))
			return
		}
		top = n
	}

	stats, err := h.stats.Summarize(r.Context(), types.GetOrganizationID(r.Context()), from.UTC(), to.UTC(), top)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "stats query failed", "error", err)
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: stats})
}
