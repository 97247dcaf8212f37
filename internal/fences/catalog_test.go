package fences

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geowatch/internal/geometry"
	"geowatch/internal/types"
)

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Info(string, ...any)  {}
func (l *recordingLogger) Error(string, ...any) {}
func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}
func (l *recordingLogger) With(...any) types.Logger { return l }

type fakeSource struct {
	mu        sync.Mutex
	fences    map[string]types.Fence
	listErr   error
	listCalls int
}

func newFakeSource(fs ...types.Fence) *fakeSource {
	s := &fakeSource{fences: make(map[string]types.Fence)}
	for _, f := range fs {
		s.fences[f.ID] = f
	}
	return s
}

func (s *fakeSource) ListActive(context.Context) ([]types.Fence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]types.Fence, 0, len(s.fences))
	for _, f := range s.fences {
		if f.Active {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *fakeSource) GetByID(_ context.Context, id string) (*types.Fence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fences[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundFence, "fence not found", types.ErrNotFound)
	}
	return &f, nil
}

func (s *fakeSource) put(f types.Fence) {
	s.mu.Lock()
	s.fences[f.ID] = f
	s.mu.Unlock()
}

func ptr(v float64) *float64 { return &v }

func circle(id string, lat, lon, radius float64) types.Fence {
	return types.Fence{
		ID:           id,
		Name:         "fence " + id,
		Shape:        types.ShapeCircle,
		CenterLat:    ptr(lat),
		CenterLon:    ptr(lon),
		RadiusMeters: ptr(radius),
		AlertOnEnter: true,
		AlertLevel:   types.LevelMedium,
		Active:       true,
	}
}

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Fence.ID)
	}
	return out
}

func TestCatalog_CandidatesLoadsLazily(t *testing.T) {
	src := newFakeSource(
		circle("a", 22.5, 114.0, 100),
		circle("b", 40.0, -74.0, 100),
	)
	c := NewCatalog(src, 0.05, &recordingLogger{})

	got, err := c.Candidates(context.Background(), geometry.Point{Lat: 22.5, Lon: 114.0})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(got))
	assert.Equal(t, 1, src.listCalls)

	// Second call uses the cached snapshot.
	_, err = c.Candidates(context.Background(), geometry.Point{Lat: 40.0, Lon: -74.0})
	require.NoError(t, err)
	assert.Equal(t, 1, src.listCalls)
}

func TestCatalog_CandidatesAcrossCellBoundary(t *testing.T) {
	// Circle centered on a cell edge spans four cells.
	src := newFakeSource(circle("edge", 22.5, 114.05, 500))
	c := NewCatalog(src, 0.05, &recordingLogger{})
	require.NoError(t, c.Refresh(context.Background()))

	for _, p := range []geometry.Point{
		{Lat: 22.501, Lon: 114.049},
		{Lat: 22.501, Lon: 114.051},
		{Lat: 22.499, Lon: 114.049},
		{Lat: 22.499, Lon: 114.051},
	} {
		got, err := c.Candidates(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, []string{"edge"}, ids(got), "point %+v", p)
	}
}

func TestCatalog_CandidatesSuperset(t *testing.T) {
	// Every point a fence contains must be a candidate for that fence.
	fs := []types.Fence{
		circle("c1", 22.5, 114.0, 2000),
		{
			ID: "r1", Shape: types.ShapeRectangle, Active: true,
			Boundary: "113.9,22.45,114.12,22.58",
		},
		{
			ID: "p1", Shape: types.ShapePolygon, Active: true,
			Boundary: "POLYGON((113.95 22.40, 114.2 22.40, 114.2 22.7))",
		},
	}
	src := newFakeSource(fs...)
	c := NewCatalog(src, 0.01, &recordingLogger{})
	require.NoError(t, c.Refresh(context.Background()))

	for lat := 22.35; lat <= 22.75; lat += 0.013 {
		for lon := 113.85; lon <= 114.25; lon += 0.013 {
			p := geometry.Point{Lat: lat, Lon: lon}
			got, err := c.Candidates(context.Background(), p)
			require.NoError(t, err)
			cands := ids(got)
			for _, f := range fs {
				e, ok := c.Get(f.ID)
				require.True(t, ok)
				if e.Geometry.Contains(p) {
					assert.Contains(t, cands, f.ID, "point %+v", p)
				}
			}
		}
	}
}

func TestCatalog_MalformedFencesExcluded(t *testing.T) {
	bad := circle("bad", 22.5, 114.0, 100)
	bad.RadiusMeters = nil
	unknown := types.Fence{ID: "hex", Shape: "HEXAGON", Active: true}
	log := &recordingLogger{}

	c := NewCatalog(newFakeSource(circle("ok", 22.5, 114.0, 100), bad, unknown), 0.05, log)
	require.NoError(t, c.Refresh(context.Background()))

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("bad")
	assert.False(t, ok)
	assert.Len(t, log.warns, 2)
}

func TestCatalog_RefreshErrorKeepsSnapshot(t *testing.T) {
	src := newFakeSource(circle("a", 22.5, 114.0, 100))
	c := NewCatalog(src, 0.05, &recordingLogger{})
	require.NoError(t, c.Refresh(context.Background()))

	src.listErr = errors.New("connection reset")
	err := c.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestCatalog_OnFenceChanged(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource(circle("a", 22.5, 114.0, 100))
	c := NewCatalog(src, 0.05, &recordingLogger{})
	require.NoError(t, c.Refresh(ctx))

	// Moved fence is reindexed.
	src.put(circle("a", 40.0, -74.0, 100))
	require.NoError(t, c.OnFenceChanged(ctx, "a"))
	got, _ := c.Candidates(ctx, geometry.Point{Lat: 22.5, Lon: 114.0})
	assert.Empty(t, got)
	got, _ = c.Candidates(ctx, geometry.Point{Lat: 40.0, Lon: -74.0})
	assert.Equal(t, []string{"a"}, ids(got))

	// New fence is added.
	src.put(circle("b", 22.5, 114.0, 100))
	require.NoError(t, c.OnFenceChanged(ctx, "b"))
	assert.Equal(t, 2, c.Len())

	// Deactivated fence is evicted.
	inactive := circle("b", 22.5, 114.0, 100)
	inactive.Active = false
	src.put(inactive)
	require.NoError(t, c.OnFenceChanged(ctx, "b"))
	assert.Equal(t, 1, c.Len())

	// Unknown id is a no-op eviction, not an error.
	require.NoError(t, c.OnFenceChanged(ctx, "missing"))
	assert.Equal(t, 1, c.Len())
}

func TestCatalog_WideFenceAlwaysCandidate(t *testing.T) {
	src := newFakeSource(types.Fence{
		ID: "world", Shape: types.ShapeRectangle, Active: true,
		Boundary: "-180,-90,180,90",
	})
	c := NewCatalog(src, 0.05, &recordingLogger{})
	require.NoError(t, c.Refresh(context.Background()))

	for i := 0; i < 5; i++ {
		p := geometry.Point{Lat: float64(i*30 - 60), Lon: float64(i*60 - 120)}
		got, err := c.Candidates(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, []string{"world"}, ids(got), fmt.Sprintf("point %+v", p))
	}
}

func TestCatalog_ConcurrentReadsDuringRefresh(t *testing.T) {
	src := newFakeSource(circle("a", 22.5, 114.0, 100))
	c := NewCatalog(src, 0.05, &recordingLogger{})
	require.NoError(t, c.Refresh(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = c.Candidates(context.Background(), geometry.Point{Lat: 22.5, Lon: 114.0})
		}()
		go func() {
			defer wg.Done()
			_ = c.Refresh(context.Background())
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, c.Len())
}
