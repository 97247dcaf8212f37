package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"geowatch/internal/kv"
	"geowatch/internal/types"
)

// IdempotencyHeader carries the client-chosen key for a POST.
const IdempotencyHeader = "Idempotency-Key"

const errCodeIdempotencyInProgress types.ErrorCode = "conflict_idempotency_in_progress"

// IdempotencyStatus is the lifecycle of a key.
type IdempotencyStatus string

const (
	IdempotencyProcessing IdempotencyStatus = "processing"
	IdempotencyCompleted  IdempotencyStatus = "completed"
)

// IdempotencyRecord is what is stored under a key.
type IdempotencyRecord struct {
	Status      IdempotencyStatus `json:"status"`
	StatusCode  int               `json:"status_code,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Body        []byte            `json:"body,omitempty"`
}

// IdempotencyStore tracks POST requests by key.
type IdempotencyStore interface {
	// Begin claims key. When claimed is false, existing describes the prior
	// request holding the key.
	Begin(ctx context.Context, key string) (claimed bool, existing *IdempotencyRecord, err error)
	// Complete stores the final response for replay.
	Complete(ctx context.Context, key string, rec IdempotencyRecord) error
	// Release forgets key so the client may retry.
	Release(ctx context.Context, key string) error
}

// KVIdempotencyStore keeps idempotency records in the TTL key-value store.
// A processing claim expires after ClaimTTL so a crashed request does not
// lock its key for the full retention period.
type KVIdempotencyStore struct {
	store     kv.Store
	ClaimTTL  time.Duration
	Retention time.Duration
}

// NewKVIdempotencyStore retains completed responses for 24h.
func NewKVIdempotencyStore(store kv.Store) *KVIdempotencyStore {
	return &KVIdempotencyStore{store: store, ClaimTTL: time.Minute, Retention: 24 * time.Hour}
}

func idempotencyKey(key string) string {
	return "idem:" + key
}

func (s *KVIdempotencyStore) Begin(ctx context.Context, key string) (bool, *IdempotencyRecord, error) {
	claim, _ := json.Marshal(IdempotencyRecord{Status: IdempotencyProcessing})
	ok, err := s.store.SetNX(ctx, idempotencyKey(key), claim, s.ClaimTTL)
	if err != nil {
		return false, nil, err
	}
	if ok {
		return true, nil, nil
	}

	raw, err := s.store.Get(ctx, idempotencyKey(key))
	if errors.Is(err, kv.ErrNotFound) {
		// Claim expired between SetNX and Get; report it as in progress
		// rather than racing a second claim.
		return false, &IdempotencyRecord{Status: IdempotencyProcessing}, nil
	}
	if err != nil {
		return false, nil, err
	}
	var rec IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return false, nil, err
	}
	return false, &rec, nil
}

func (s *KVIdempotencyStore) Complete(ctx context.Context, key string, rec IdempotencyRecord) error {
	rec.Status = IdempotencyCompleted
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, idempotencyKey(key), raw, s.Retention)
}

func (s *KVIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.store.Delete(ctx, idempotencyKey(key))
}

// ResponseCapturer buffers a handler's status, headers and body so the
// response can be stored before it is sent.
type ResponseCapturer struct {
	underlying http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	headers    http.Header
	written    bool
}

func newResponseCapturer(w http.ResponseWriter) *ResponseCapturer {
	return &ResponseCapturer{
		underlying: w,
		statusCode: http.StatusOK,
		headers:    make(http.Header),
	}
}

func (rc *ResponseCapturer) Header() http.Header { return rc.headers }

func (rc *ResponseCapturer) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
}

func (rc *ResponseCapturer) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.body.Write(b)
}

// Flush sends the captured response. Call once.
func (rc *ResponseCapturer) Flush() {
	for key, values := range rc.headers {
		for _, v := range values {
			rc.underlying.Header().Add(key, v)
		}
	}
	rc.underlying.WriteHeader(rc.statusCode)
	_, _ = rc.underlying.Write(rc.body.Bytes())
}

func (rc *ResponseCapturer) Unwrap() http.ResponseWriter { return rc.underlying }
func (rc *ResponseCapturer) StatusCode() int             { return rc.statusCode }
func (rc *ResponseCapturer) Body() []byte                { return rc.body.Bytes() }

// IdempotencyMiddleware processes a POST carrying an Idempotency-Key at most
// once per tenant and path. A completed key replays the stored response, a
// key still in flight gets 409, and a 5xx releases the key so the client can
// retry. Store failures fail open.
func (s *Server) IdempotencyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(IdempotencyHeader)
		if s.IdempotencyStore == nil || r.Method != http.MethodPost || header == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		key := types.GetOrganizationID(ctx) + ":" + r.URL.Path + ":" + header
		log := s.Logger.With(slog.String("idempotency_key", header), slog.String("path", r.URL.Path))

		claimed, existing, err := s.IdempotencyStore.Begin(ctx, key)
		if err != nil {
			log.Error("idempotency store begin failed", slog.String("error", err.Error()))
			next.ServeHTTP(w, r)
			return
		}

		if !claimed {
			if existing != nil && existing.Status == IdempotencyCompleted {
				log.Info("idempotency key replayed", slog.Int("cached_status", existing.StatusCode))
				ct := existing.ContentType
				if ct == "" {
					ct = "application/json"
				}
				w.Header().Set("Content-Type", ct)
				w.Header().Set("X-Idempotent-Replayed", "true")
				w.WriteHeader(existing.StatusCode)
				_, _ = w.Write(existing.Body)
				return
			}
			log.Warn("idempotency key in progress")
			Error(w, r, types.NewAppError(errCodeIdempotencyInProgress,
				"a request with this idempotency key is still being processed", nil))
			return
		}

		capturer := newResponseCapturer(w)
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					if err := s.IdempotencyStore.Release(context.WithoutCancel(ctx), key); err != nil {
						log.Error("idempotency store release failed", slog.String("error", err.Error()))
					}
					panic(rec)
				}
			}()
			next.ServeHTTP(capturer, r)
		}()

		// The response is final even if the client went away.
		storeCtx := context.WithoutCancel(ctx)
		if code := capturer.StatusCode(); code < 500 {
			rec := IdempotencyRecord{
				StatusCode:  code,
				ContentType: capturer.Header().Get("Content-Type"),
				Body:        capturer.Body(),
			}
			if err := s.IdempotencyStore.Complete(storeCtx, key, rec); err != nil {
				log.Error("idempotency store complete failed", slog.String("error", err.Error()))
			}
		} else if err := s.IdempotencyStore.Release(storeCtx, key); err != nil {
			log.Error("idempotency store release failed", slog.String("error", err.Error()))
		}

		capturer.Flush()
	})
}
