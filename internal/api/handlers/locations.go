// Package handlers contains the HTTP handlers of the GeoWatch API:
//   - location ingest, single (routed per subject) and batch (synchronous)
//   - alert statistics
//   - fence change notifications from the fence-management collaborator
//   - alert resolution
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"geowatch/internal/core"
	"geowatch/internal/engine"
	"geowatch/internal/types"
)

// ReportSubmitter hands one report to the per-subject lanes.
type ReportSubmitter interface {
	Submit(ctx context.Context, report types.LocationReport) error
}

// BatchProcessor evaluates a batch synchronously.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, reports []types.LocationReport) engine.BatchResult
}

// LocationHandler ingests location reports.
type LocationHandler struct {
	submitter    ReportSubmitter
	batch        BatchProcessor
	validator    *core.Validator
	logger       *slog.Logger
	clock        types.Clock
	maxBatch     int
	maxBodyBytes int64
}

// LocationHandlerConfig bounds batch ingest.
type LocationHandlerConfig struct {
	MaxBatchSize int
	MaxBodyBytes int64
}

// NewLocationHandler creates a LocationHandler. clock may be nil.
func NewLocationHandler(
	submitter ReportSubmitter,
	batch BatchProcessor,
	v *core.Validator,
	l *slog.Logger,
	clock types.Clock,
	cfg LocationHandlerConfig,
) *LocationHandler {
	if l == nil {
		l = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = types.MaxBatchSize
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	return &LocationHandler{
		submitter:    submitter,
		batch:        batch,
		validator:    v,
		logger:       l,
		clock:        clock,
		maxBatch:     cfg.MaxBatchSize,
		maxBodyBytes: cfg.MaxBodyBytes,
	}
}

// RegisterRoutes mounts the ingest routes.
func (h *LocationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/locations", func(r chi.Router) {
		r.Post("/", h.Ingest)
		r.Post("/batch", h.IngestBatch)
	})
}

// IngestResponse acknowledges a single report.
type IngestResponse struct {
	Accepted  bool   `json:"accepted"`
	SubjectID string `json:"subject_id"`
}

// BatchFailure reports one rejected report of a batch by position.
type BatchFailure struct {
	Index     int    `json:"index"`
	SubjectID string `json:"subject_id,omitempty"`
	Error     string `json:"error"`
}

// BatchResponse summarizes a processed batch.
type BatchResponse struct {
	Received  int            `json:"received"`
	Processed int            `json:"processed"`
	Events    int            `json:"events"`
	Alerts    int            `json:"alerts"`
	Failures  []BatchFailure `json:"failures"`
}

// Ingest handles POST /v1/locations. The report is validated, stamped and
// queued on its subject's lane; evaluation happens after the 202.
func (h *LocationHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var report types.LocationReport
	if err := core.DecodeJSON(w, r, &report); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(report); err != nil {
		core.Error(w, r, err)
		return
	}
	h.normalize(r.Context(), &report)

	if err := h.submitter.Submit(r.Context(), report); err != nil {
		core.Error(w, r, mapSubmitError(err))
		return
	}
	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: IngestResponse{Accepted: true, SubjectID: report.SubjectID}})
}

// IngestBatch handles POST /v1/locations/batch. The body is a JSON array,
// optionally gzip or zstd encoded. Reports are evaluated before responding;
// per-report failures produce 207 with the failing indexes.
func (h *LocationHandler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	body, err := decompressBody(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	defer body.Close()
	r.Body = body

	var reports []types.LocationReport
	if err := core.DecodeJSONLimit(w, r, &reports, h.maxBodyBytes); err != nil {
		core.Error(w, r, err)
		return
	}
	if len(reports) == 0 {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationBody, "batch must contain at least one report", nil))
		return
	}
	if len(reports) > h.maxBatch {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationBatchSize,
			fmt.Sprintf("batch exceeds %d reports", h.maxBatch), nil,
			map[string]any{"max": h.maxBatch, "received": len(reports)}))
		return
	}
	for i := range reports {
		h.normalize(r.Context(), &reports[i])
	}

	res := h.batch.ProcessBatch(r.Context(), reports)

	resp := BatchResponse{
		Received:  len(reports),
		Processed: res.Processed,
		Events:    res.Events,
		Alerts:    res.Alerts,
		Failures:  make([]BatchFailure, 0, len(res.Failures)),
	}
	for _, f := range res.Failures {
		resp.Failures = append(resp.Failures, BatchFailure{Index: f.Index, SubjectID: f.SubjectID, Error: f.Err.Error()})
	}

	status := http.StatusOK
	if len(resp.Failures) > 0 {
		status = http.StatusMultiStatus
		h.logger.WarnContext(r.Context(), "batch ingest partially failed",
			"received", resp.Received,
			"failed", len(resp.Failures),
		)
	}
	core.JSON(w, r, status, core.APIResponse{Data: resp})
}

// normalize fills the timestamp and tenant the client may omit.
func (h *LocationHandler) normalize(ctx context.Context, report *types.LocationReport) {
	if report.Timestamp.IsZero() {
		report.Timestamp = h.clock.Now()
	}
	if report.OrganizationID == "" {
		report.OrganizationID = types.GetOrganizationID(ctx)
	}
}

func mapSubmitError(err error) error {
	switch {
	case errors.Is(err, types.ErrShuttingDown):
		return types.NewAppError(types.ErrCodeUnavailableShuttingDown, "service is shutting down", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return types.NewAppError(types.ErrCodeUnavailableQueueFull, "ingest queue is full, retry later", err)
	default:
		return err
	}
}

// decompressBody wraps the request body according to Content-Encoding.
func decompressBody(r *http.Request) (io.ReadCloser, error) {
	switch enc := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding"))); enc {
	case "", "identity":
		return r.Body, nil
	case "gzip":
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeValidationBody, "invalid gzip body", err)
		}
		return zr, nil
	case "zstd":
		zr, err := zstd.NewReader(r.Body, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeValidationBody, "invalid zstd body", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationEncoding,
			"unsupported Content-Encoding", nil,
			map[string]any{"encoding": enc, "supported": []string{"gzip", "zstd"}})
	}
}
