package types

import (
	"context"
	"testing"
)

func TestWithRequestID_GetRequestID(t *testing.T) {
	t.Run("round-trip", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "req-abc")
		if got := GetRequestID(ctx); got != "req-abc" {
			t.Errorf("GetRequestID() = %q, want %q", got, "req-abc")
		}
	})

	t.Run("missing returns empty", func(t *testing.T) {
		if got := GetRequestID(context.Background()); got != "" {
			t.Errorf("GetRequestID() = %q, want empty", got)
		}
	})
}

func TestWithOrganizationID_GetOrganizationID(t *testing.T) {
	ctx := WithOrganizationID(context.Background(), "org-1")
	if got := GetOrganizationID(ctx); got != "org-1" {
		t.Errorf("GetOrganizationID() = %q, want %q", got, "org-1")
	}
	if got := GetOrganizationID(context.Background()); got != "" {
		t.Errorf("GetOrganizationID() = %q, want empty", got)
	}
}

func TestContextValues_DoNotInterfere(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithOrganizationID(ctx, "org-1")

	if GetRequestID(ctx) != "req-1" {
		t.Error("request id lost")
	}
	if GetOrganizationID(ctx) != "org-1" {
		t.Error("organization id lost")
	}

	// A plain string key must not collide with the private key type.
	ctx = context.WithValue(ctx, "request_id", "collision") //nolint:staticcheck
	if GetRequestID(ctx) != "req-1" {
		t.Error("plain string key collided with private context key")
	}
}
