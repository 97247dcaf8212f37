package engine

import (
	"context"
	"fmt"
	"time"

	"geowatch/internal/kv"
	"geowatch/internal/types"
)

// Default cooldown windows per event kind.
const (
	DefaultEnterExitCooldown = 5 * time.Minute
	DefaultStayCooldown      = 30 * time.Minute
)

// Deduplicator drops repeats of the same (subject, fence, kind) inside a
// kind-specific cooldown. It is independent of membership state.
type Deduplicator struct {
	kv        kv.Store
	enterExit time.Duration
	stay      time.Duration
}

// NewDeduplicator creates a deduplicator. Non-positive windows use the defaults.
func NewDeduplicator(store kv.Store, enterExit, stay time.Duration) *Deduplicator {
	if enterExit <= 0 {
		enterExit = DefaultEnterExitCooldown
	}
	if stay <= 0 {
		stay = DefaultStayCooldown
	}
	return &Deduplicator{kv: store, enterExit: enterExit, stay: stay}
}

// Cooldown returns the suppression window for kind.
func (d *Deduplicator) Cooldown(kind types.EventKind) time.Duration {
	if kind == types.EventStayTimeout {
		return d.stay
	}
	return d.enterExit
}

func dedupKey(subjectID, fenceID string, kind types.EventKind) string {
	return "dedup:" + subjectID + ":" + fenceID + ":" + string(kind)
}

// ShouldSuppress reports whether an unexpired cooldown key exists.
func (d *Deduplicator) ShouldSuppress(ctx context.Context, subjectID, fenceID string, kind types.EventKind) (bool, error) {
	ok, err := d.kv.Exists(ctx, dedupKey(subjectID, fenceID, kind))
	if err != nil {
		return false, fmt.Errorf("dedup exists: %w", err)
	}
	return ok, nil
}

// MarkEmitted starts a fresh cooldown window.
func (d *Deduplicator) MarkEmitted(ctx context.Context, subjectID, fenceID string, kind types.EventKind) error {
	if err := d.kv.Set(ctx, dedupKey(subjectID, fenceID, kind), []byte("1"), d.Cooldown(kind)); err != nil {
		return fmt.Errorf("dedup set: %w", err)
	}
	return nil
}

// Admit combines ShouldSuppress and MarkEmitted into one set-if-absent. It
// returns true when the caller owns the emission.
func (d *Deduplicator) Admit(ctx context.Context, subjectID, fenceID string, kind types.EventKind) (bool, error) {
	ok, err := d.kv.SetNX(ctx, dedupKey(subjectID, fenceID, kind), []byte("1"), d.Cooldown(kind))
	if err != nil {
		return false, fmt.Errorf("dedup admit: %w", err)
	}
	return ok, nil
}
