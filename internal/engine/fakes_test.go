package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"geowatch/internal/fences"
	"geowatch/internal/kv"
	"geowatch/internal/types"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)      {}
func (nopLogger) Error(string, ...any)     {}
func (nopLogger) Warn(string, ...any)      {}
func (nopLogger) With(...any) types.Logger { return nopLogger{} }

// fakeSink stores alerts in memory and assigns sequential ids.
type fakeSink struct {
	mu        sync.Mutex
	alerts    []*types.Alert
	insertErr error
	panicFor  string
}

func (s *fakeSink) Insert(_ context.Context, a *types.Alert) (string, error) {
	if s.panicFor != "" && a.SubjectID == s.panicFor {
		panic("sink exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return "", s.insertErr
	}
	id := fmt.Sprintf("alert-%d", len(s.alerts)+1)
	cp := *a
	cp.ID = id
	s.alerts = append(s.alerts, &cp)
	return id, nil
}

func (s *fakeSink) UpdateNotifyFields(context.Context, string, types.NotifyUpdate) error {
	return nil
}

func (s *fakeSink) snapshot() []*types.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.Alert(nil), s.alerts...)
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []string
}

func (d *fakeDispatcher) DispatchAsync(a *types.Alert) {
	d.mu.Lock()
	d.sent = append(d.sent, a.ID)
	d.mu.Unlock()
}

type staticSource struct {
	fences []types.Fence
}

func (s staticSource) ListActive(context.Context) ([]types.Fence, error) {
	return s.fences, nil
}

func (s staticSource) GetByID(_ context.Context, id string) (*types.Fence, error) {
	for _, f := range s.fences {
		if f.ID == id {
			return &f, nil
		}
	}
	return nil, types.ErrNotFound
}

// flakyStore fails every operation whose key has the configured prefix.
type flakyStore struct {
	kv.Store
	failPrefix string
}

var errStoreDown = fmt.Errorf("%w: connection refused", kv.ErrUnavailable)

func (f *flakyStore) fail(key string) bool {
	return f.failPrefix != "" && len(key) >= len(f.failPrefix) && key[:len(f.failPrefix)] == f.failPrefix
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if f.fail(key) {
		return nil, errStoreDown
	}
	return f.Store.Get(ctx, key)
}

func (f *flakyStore) Set(ctx context.Context, key string, v []byte, ttl time.Duration) error {
	if f.fail(key) {
		return errStoreDown
	}
	return f.Store.Set(ctx, key, v, ttl)
}

func (f *flakyStore) SetNX(ctx context.Context, key string, v []byte, ttl time.Duration) (bool, error) {
	if f.fail(key) {
		return false, errStoreDown
	}
	return f.Store.SetNX(ctx, key, v, ttl)
}

func ptr(v float64) *float64 { return &v }

// hkFence is the circle at (114.000, 22.500) with radius 100 m.
func hkFence() types.Fence {
	return types.Fence{
		ID:           "fence-hk",
		Name:         "Harbour gate",
		Shape:        types.ShapeCircle,
		CenterLat:    ptr(22.5),
		CenterLon:    ptr(114.0),
		RadiusMeters: ptr(100),
		AlertOnEnter: true,
		AlertOnExit:  true,
		AlertLevel:   types.LevelHigh,
		Active:       true,
	}
}

func report(subject string, lat, lon float64, ts time.Time) types.LocationReport {
	return types.LocationReport{
		SubjectID: subject,
		DeviceID:  "dev-" + subject,
		Lat:       lat,
		Lon:       lon,
		Timestamp: ts,
	}
}

type harness struct {
	clock    *fakeClock
	store    *kv.MemoryStore
	kv       kv.Store
	catalog  *fences.Catalog
	sink     *fakeSink
	dispatch *fakeDispatcher
	pipeline *Pipeline
}

func newHarness(fs ...types.Fence) *harness {
	clock := &fakeClock{now: t0}
	mem := kv.NewMemoryStore(clock)
	return newHarnessWithStore(clock, mem, mem, fs...)
}

func newHarnessWithStore(clock *fakeClock, mem *kv.MemoryStore, store kv.Store, fs ...types.Fence) *harness {
	h := &harness{
		clock:    clock,
		store:    mem,
		kv:       store,
		catalog:  fences.NewCatalog(staticSource{fences: fs}, 0.05, nopLogger{}),
		sink:     &fakeSink{},
		dispatch: &fakeDispatcher{},
	}
	h.pipeline = NewPipeline(
		h.catalog,
		NewMembershipStore(store),
		NewDeduplicator(store, 0, 0),
		h.sink,
		h.dispatch,
		nil,
		nopLogger{},
		clock,
		Options{},
	)
	return h
}

// at moves the store clock and returns the same instant for report stamps.
func (h *harness) at(d time.Duration) time.Time {
	ts := t0.Add(d)
	h.clock.Set(ts)
	return ts
}

var errBoom = errors.New("boom")
