package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-chi/chi/v5"

	"geowatch/internal/core"
	"geowatch/internal/types"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// serve routes req through a chi router with the org-scope middleware, the
// same way the API mounts handlers under /v1.
func serve(register func(chi.Router), req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Use(core.OrgScopeMiddleware)
	r.Route("/v1", register)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data  json.RawMessage  `json:"data"`
	Error core.ErrorDetail `json:"error"`
}

func decode(rec *httptest.ResponseRecorder, data any) envelope {
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	if data != nil && len(env.Data) > 0 {
		_ = json.Unmarshal(env.Data, data)
	}
	return env
}

func withOrg(req *http.Request, org string) *http.Request {
	req.Header.Set(core.OrganizationHeader, org)
	return req
}

var _ types.Clock = fixedClock{}
