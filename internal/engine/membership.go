package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"geowatch/internal/kv"
	"geowatch/internal/types"
)

// DefaultMembershipTTL bounds how long state for a silent subject is kept.
const DefaultMembershipTTL = 24 * time.Hour

// MembershipStore persists the inside/outside flag per (subject, fence) and
// the set of fences each subject is currently inside.
//
// Keys:
//
//	membership:{subjectID}:{fenceID} -> MembershipState JSON
//	presence:{subjectID}             -> sorted JSON array of fence ids
type MembershipStore struct {
	kv kv.Store
}

// NewMembershipStore wraps a kv.Store.
func NewMembershipStore(store kv.Store) *MembershipStore {
	return &MembershipStore{kv: store}
}

func membershipKey(subjectID, fenceID string) string {
	return "membership:" + subjectID + ":" + fenceID
}

func presenceKey(subjectID string) string {
	return "presence:" + subjectID
}

// Get returns the stored state, or nil when the pair has no state (first
// contact or expired).
func (m *MembershipStore) Get(ctx context.Context, subjectID, fenceID string) (*types.MembershipState, error) {
	raw, err := m.kv.Get(ctx, membershipKey(subjectID, fenceID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("membership get: %w", err)
	}
	var st types.MembershipState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("membership decode %s/%s: %w", subjectID, fenceID, err)
	}
	return &st, nil
}

// Put writes state and refreshes its TTL.
func (m *MembershipStore) Put(ctx context.Context, subjectID, fenceID string, st types.MembershipState, ttl time.Duration) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("membership encode: %w", err)
	}
	if err := m.kv.Set(ctx, membershipKey(subjectID, fenceID), raw, ttl); err != nil {
		return fmt.Errorf("membership put: %w", err)
	}
	return nil
}

// Presence returns the fence ids the subject was last seen inside.
func (m *MembershipStore) Presence(ctx context.Context, subjectID string) ([]string, error) {
	raw, err := m.kv.Get(ctx, presenceKey(subjectID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("presence get: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("presence decode %s: %w", subjectID, err)
	}
	return ids, nil
}

// SetPresence replaces the subject's inside set. An empty set deletes the key.
func (m *MembershipStore) SetPresence(ctx context.Context, subjectID string, fenceIDs []string, ttl time.Duration) error {
	if len(fenceIDs) == 0 {
		if err := m.kv.Delete(ctx, presenceKey(subjectID)); err != nil {
			return fmt.Errorf("presence delete: %w", err)
		}
		return nil
	}
	sorted := append([]string(nil), fenceIDs...)
	sort.Strings(sorted)
	raw, err := json.Marshal(sorted)
	if err != nil {
		return fmt.Errorf("presence encode: %w", err)
	}
	if err := m.kv.Set(ctx, presenceKey(subjectID), raw, ttl); err != nil {
		return fmt.Errorf("presence put: %w", err)
	}
	return nil
}
