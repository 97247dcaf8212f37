// Package webhook delivers alerts as JSON POSTs to a single operator
// configured endpoint. Requests go through external.BaseClient, so transient
// upstream failures are retried briefly and a failing endpoint trips a
// circuit breaker instead of tying up dispatcher workers.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"geowatch/internal/config"
	"geowatch/internal/external"
	"geowatch/internal/types"
)

// maxResponseBodyRead bounds how much of an error response is kept.
const maxResponseBodyRead = 1024

// Payload is the JSON body POSTed for every alert.
type Payload struct {
	AlertID    string           `json:"alert_id"`
	EventID    string           `json:"event_id,omitempty"`
	Type       types.AlertType  `json:"type"`
	Level      types.AlertLevel `json:"level"`
	FenceID    string           `json:"fence_id"`
	FenceName  string           `json:"fence_name,omitempty"`
	SubjectID  string           `json:"subject_id"`
	DeviceID   string           `json:"device_id"`
	Lat        float64          `json:"lat"`
	Lon        float64          `json:"lon"`
	Location   string           `json:"location"`
	OccurredAt time.Time        `json:"occurred_at"`
	Attempt    int              `json:"attempt"`
}

// NewPayload builds the wire body for a.
func NewPayload(a *types.Alert) Payload {
	return Payload{
		AlertID:    a.ID,
		EventID:    a.EventID,
		Type:       a.Type,
		Level:      a.Level,
		FenceID:    a.FenceID,
		FenceName:  a.FenceName,
		SubjectID:  a.SubjectID,
		DeviceID:   a.DeviceID,
		Lat:        a.Lat,
		Lon:        a.Lon,
		Location:   a.LocationDescription,
		OccurredAt: a.StartTime,
		Attempt:    a.NotifyRetryCount + 1,
	}
}

// Channel implements types.NotificationChannel over HTTP.
type Channel struct {
	client *external.BaseClient
	url    string
	token  types.SecretString
	secret types.SecretString
	clock  types.Clock
}

var _ types.NotificationChannel = (*Channel)(nil)

// NewChannel builds a webhook channel from cfg. The URL is required.
func NewChannel(cfg config.WebhookConfig, logger types.Logger, opts ...external.BaseClientOption) (*Channel, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook channel: WEBHOOK_URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts = append([]external.BaseClientOption{external.WithLogger(logger)}, opts...)
	client := external.NewBaseClient(
		&http.Client{Timeout: timeout},
		external.DefaultBreakerConfig("webhook"),
		external.DefaultRetryPolicy(),
		cfg.UserAgent,
		opts...,
	)
	return &Channel{
		client: client,
		url:    cfg.URL,
		token:  cfg.AuthToken,
		secret: cfg.SigningSecret,
		clock:  types.RealClock{},
	}, nil
}

// SetClock overrides the clock used for signature timestamps.
func (c *Channel) SetClock(clock types.Clock) {
	c.clock = clock
}

func (c *Channel) Type() types.ChannelType { return types.ChannelWebhook }

// Ping fails while the endpoint's circuit breaker is open.
func (c *Channel) Ping(context.Context) error {
	if c.client.BreakerState() == gobreaker.StateOpen {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "webhook circuit breaker open", nil)
	}
	return nil
}

// Send POSTs the alert. Any 2xx is success. Other statuses return an error
// wrapping types.ErrChannelRejected; transport failures and an open breaker
// return the client's *types.AppError.
func (c *Channel) Send(ctx context.Context, a *types.Alert) error {
	body, err := json.Marshal(NewPayload(a))
	if err != nil {
		return fmt.Errorf("webhook: encode alert %s: %w", a.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", a.ID)
	if c.token.IsSet() {
		req.Header.Set("Authorization", "Bearer "+c.token.Unmask())
	}
	if c.secret.IsSet() {
		req.Header.Set(SignatureHeader, Sign(body, c.secret.Unmask(), c.clock.Now()))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver alert %s: %w", a.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodyRead))
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyRead))
	return fmt.Errorf("%w: webhook returned %d: %s", types.ErrChannelRejected, resp.StatusCode, bytes.TrimSpace(snippet))
}
