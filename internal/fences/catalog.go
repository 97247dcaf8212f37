// Package fences keeps a read-through cache of active fence definitions with
// their compiled geometry and a grid spatial index for candidate lookup.
package fences

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"geowatch/internal/geometry"
	"geowatch/internal/types"
)

// DefaultCellDegrees is the grid cell edge used when none is configured.
const DefaultCellDegrees = 0.05

// Entry is a fence snapshot together with its compiled geometry.
type Entry struct {
	Fence    types.Fence
	Geometry geometry.Geometry
}

// Catalog is safe for concurrent use. The first Candidates call loads the
// catalog if Refresh has not run yet.
type Catalog struct {
	source   types.FenceSource
	logger   types.Logger
	cellSize float64

	mu      sync.RWMutex
	entries map[string]Entry
	index   *grid
	loaded  bool
}

// NewCatalog creates an empty catalog over source. A cellSize <= 0 uses
// DefaultCellDegrees.
func NewCatalog(source types.FenceSource, cellSize float64, logger types.Logger) *Catalog {
	if cellSize <= 0 {
		cellSize = DefaultCellDegrees
	}
	return &Catalog{
		source:   source,
		logger:   logger,
		cellSize: cellSize,
		entries:  make(map[string]Entry),
		index:    newGrid(cellSize),
	}
}

// compile builds the geometry for f. Malformed fences are logged and skipped.
func (c *Catalog) compile(f types.Fence) (Entry, bool) {
	g, err := geometry.FromFence(&f)
	if err != nil {
		c.logger.Warn("Fence excluded from catalog",
			"fence_id", f.ID,
			"shape", string(f.Shape),
			"error", err,
		)
		return Entry{}, false
	}
	return Entry{Fence: f, Geometry: g}, true
}

// Refresh reloads every active fence from the source and swaps the index.
// On error the previous snapshot stays in place.
func (c *Catalog) Refresh(ctx context.Context) error {
	list, err := c.source.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("fences: list active: %w", err)
	}

	entries := make(map[string]Entry, len(list))
	for _, f := range list {
		if !f.Active {
			continue
		}
		if e, ok := c.compile(f); ok {
			entries[f.ID] = e
		}
	}
	index := buildIndex(entries, c.cellSize)

	c.mu.Lock()
	c.entries = entries
	c.index = index
	c.loaded = true
	c.mu.Unlock()

	c.logger.Info("Fence catalog refreshed", "fences", len(entries), "skipped", len(list)-len(entries))
	return nil
}

// OnFenceChanged reloads one fence. Deleted, inactive or malformed fences are
// evicted.
func (c *Catalog) OnFenceChanged(ctx context.Context, fenceID string) error {
	f, err := c.source.GetByID(ctx, fenceID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return fmt.Errorf("fences: get %s: %w", fenceID, err)
	}

	var (
		entry Entry
		keep  bool
	)
	if f != nil && f.Active {
		entry, keep = c.compile(*f)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make(map[string]Entry, len(c.entries)+1)
	for id, e := range c.entries {
		entries[id] = e
	}
	if keep {
		entries[fenceID] = entry
	} else {
		delete(entries, fenceID)
	}
	c.entries = entries
	c.index = buildIndex(entries, c.cellSize)
	return nil
}

// Candidates returns the fences whose bounding box may contain p, ordered by
// fence id.
func (c *Catalog) Candidates(ctx context.Context, p geometry.Point) ([]Entry, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := c.index.lookup(p)
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := c.entries[id]; ok {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fence.ID < out[j].Fence.ID })
	return out, nil
}

// Get returns the cached entry for fenceID.
func (c *Catalog) Get(fenceID string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[fenceID]
	return e, ok
}

// Len returns the number of indexed fences.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// RunRefresher calls Refresh every interval until ctx is done. Failures are
// logged and the previous snapshot is kept.
func (c *Catalog) RunRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Error("Fence catalog refresh failed", "error", err)
			}
		}
	}
}

func (c *Catalog) ensureLoaded(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}
	return c.Refresh(ctx)
}

func buildIndex(entries map[string]Entry, cellSize float64) *grid {
	g := newGrid(cellSize)
	for id, e := range entries {
		g.insert(id, e.Geometry.Bounds())
	}
	return g
}
