package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geowatch/internal/config"
	"geowatch/internal/external"
	"geowatch/internal/types"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...any)        {}
func (nopLogger) Error(string, ...any)       {}
func (nopLogger) Warn(string, ...any)        {}
func (l nopLogger) With(...any) types.Logger { return l }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var noSleep = external.WithSleepFunc(func(context.Context, time.Duration) error { return nil })

func testAlert() *types.Alert {
	return &types.Alert{
		ID:                  "alert-1",
		EventID:             "evt_1",
		FenceID:             "fence-hk",
		FenceName:           "Harbour",
		SubjectID:           "S1",
		DeviceID:            "D1",
		Type:                types.AlertTypeEnter,
		Level:               types.LevelHigh,
		Lat:                 22.5,
		Lon:                 114.0,
		LocationDescription: "22.500000,114.000000",
		StartTime:           time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		NotifyRetryCount:    2,
	}
}

func newChannel(t *testing.T, url string, mutate func(*config.WebhookConfig)) *Channel {
	t.Helper()
	cfg := config.WebhookConfig{URL: url, UserAgent: "GeoWatch-Test", Timeout: 2 * time.Second}
	if mutate != nil {
		mutate(&cfg)
	}
	ch, err := NewChannel(cfg, nopLogger{}, noSleep)
	require.NoError(t, err)
	return ch
}

func TestNewChannel_RequiresURL(t *testing.T) {
	_, err := NewChannel(config.WebhookConfig{}, nopLogger{})
	assert.Error(t, err)
}

func TestSend_PostsAlertPayload(t *testing.T) {
	var got Payload
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch := newChannel(t, srv.URL, func(c *config.WebhookConfig) { c.AuthToken = "tok-123" })
	require.NoError(t, ch.Send(context.Background(), testAlert()))

	assert.Equal(t, types.ChannelWebhook, ch.Type())
	assert.Equal(t, "alert-1", got.AlertID)
	assert.Equal(t, types.AlertTypeEnter, got.Type)
	assert.Equal(t, "22.500000,114.000000", got.Location)
	assert.Equal(t, 3, got.Attempt)
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "Bearer tok-123", headers.Get("Authorization"))
	assert.Equal(t, "alert-1", headers.Get("Idempotency-Key"))
	assert.Equal(t, "GeoWatch-Test", headers.Get("User-Agent"))
	assert.Empty(t, headers.Get(SignatureHeader))
}

func TestSend_SignsBodyWhenSecretConfigured(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 5, 0, time.UTC)
	var body []byte
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		sig = r.Header.Get(SignatureHeader)
	}))
	defer srv.Close()

	ch := newChannel(t, srv.URL, func(c *config.WebhookConfig) { c.SigningSecret = "whsec" })
	ch.SetClock(fixedClock{now})
	require.NoError(t, ch.Send(context.Background(), testAlert()))

	assert.True(t, Verify(body, sig, "whsec", time.Minute, now))
	assert.False(t, Verify(body, sig, "other", time.Minute, now))
}

func TestSend_NonSuccessStatusIsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		w.Write([]byte("endpoint retired"))
	}))
	defer srv.Close()

	err := newChannel(t, srv.URL, nil).Send(context.Background(), testAlert())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrChannelRejected)
	assert.Contains(t, err.Error(), "410")
	assert.Contains(t, err.Error(), "endpoint retired")
}

func TestSend_ServerErrorsRetriedThenFail(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := newChannel(t, srv.URL, nil).Send(context.Background(), testAlert())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamUnavailable, appErr.Code)
	assert.Equal(t, int32(1+external.DefaultRetryPolicy().MaxRetries), calls.Load())
}

func TestPing_FailsWhileBreakerOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := newChannel(t, srv.URL, nil)
	require.NoError(t, ch.Ping(context.Background()))

	trip := external.DefaultBreakerConfig("webhook").TripAfter
	for i := uint32(0); i < trip; i++ {
		_ = ch.Send(context.Background(), testAlert())
	}

	err := ch.Ping(context.Background())
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamUnavailable, appErr.Code)
}

func TestVerify_RejectsStaleAndMalformed(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	payload := []byte(`{"alert_id":"a"}`)
	header := Sign(payload, "k", now)

	assert.True(t, Verify(payload, header, "k", 0, now.Add(time.Hour)), "zero tolerance skips the age check")
	assert.False(t, Verify(payload, header, "k", time.Minute, now.Add(2*time.Minute)))
	assert.False(t, Verify([]byte(`{"alert_id":"b"}`), header, "k", time.Minute, now))
	assert.False(t, Verify(payload, "v1=abc", "k", 0, now))
	assert.False(t, Verify(payload, "t=notanumber,v1=abc", "k", 0, now))
}
