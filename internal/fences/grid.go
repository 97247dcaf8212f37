package fences

import (
	"math"

	"geowatch/internal/geometry"
)

// maxCellsPerFence caps how many grid cells one fence may occupy. Fences whose
// bounding box is larger are kept in a separate list checked for every point.
const maxCellsPerFence = 4096

type cell struct {
	x, y int32
}

// grid is a uniform lat/lon bucket index from cell to fence ids.
type grid struct {
	size  float64
	cells map[cell][]string
	wide  []string
}

func newGrid(size float64) *grid {
	return &grid{size: size, cells: make(map[cell][]string)}
}

func (g *grid) cellOf(p geometry.Point) cell {
	return cell{
		x: int32(math.Floor(p.Lon / g.size)),
		y: int32(math.Floor(p.Lat / g.size)),
	}
}

// insert adds id to every cell overlapped by box.
func (g *grid) insert(id string, box geometry.BBox) {
	lo := g.cellOf(geometry.Point{Lat: box.MinLat, Lon: box.MinLon})
	hi := g.cellOf(geometry.Point{Lat: box.MaxLat, Lon: box.MaxLon})
	n := (int64(hi.x) - int64(lo.x) + 1) * (int64(hi.y) - int64(lo.y) + 1)
	if n <= 0 || n > maxCellsPerFence {
		g.wide = append(g.wide, id)
		return
	}
	for x := lo.x; x <= hi.x; x++ {
		for y := lo.y; y <= hi.y; y++ {
			c := cell{x: x, y: y}
			g.cells[c] = append(g.cells[c], id)
		}
	}
}

// lookup returns the fence ids that may contain p. The slice must not be
// modified.
func (g *grid) lookup(p geometry.Point) []string {
	hit := g.cells[g.cellOf(p)]
	if len(g.wide) == 0 {
		return hit
	}
	out := make([]string, 0, len(hit)+len(g.wide))
	out = append(out, hit...)
	return append(out, g.wide...)
}
