// Package geometry answers point-in-fence questions for circle, rectangle and
// polygon fences. All functions are pure.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"geowatch/internal/types"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000.0

var (
	// ErrMalformedGeometry is returned when shape parameters are missing or unparsable.
	ErrMalformedGeometry = errors.New("malformed fence geometry")
	// ErrUnknownShape is returned for a shape kind this package does not know.
	ErrUnknownShape = errors.New("unknown fence shape")
)

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// BBox is an axis-aligned bounding box in degrees. Edges are inclusive.
type BBox struct {
	MinLat, MinLon float64
	MaxLat, MaxLon float64
}

// Contains reports whether p lies inside or on the edge of the box.
func (b BBox) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// Geometry is the closed set of fence shapes. Only types in this package
// implement it.
type Geometry interface {
	Contains(p Point) bool
	Bounds() BBox
	Kind() types.ShapeKind
	sealed()
}

// Contains reports whether p is inside g. A nil geometry never contains.
func Contains(p Point, g Geometry) bool {
	if g == nil {
		return false
	}
	return g.Contains(p)
}

// DistanceMeters returns the great-circle distance between a and b.
func DistanceMeters(a, b Point) float64 {
	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	deltaPhi := (b.Lat - a.Lat) * math.Pi / 180
	deltaLambda := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*
			math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c
}

// Circle is a center point and radius in meters.
type Circle struct {
	Center       Point
	RadiusMeters float64
}

// Contains is inclusive: a point exactly at the radius is inside.
func (c Circle) Contains(p Point) bool {
	return DistanceMeters(c.Center, p) <= c.RadiusMeters
}

// Bounds returns a conservative box around the circle. Near the poles, or
// when the circle crosses the antimeridian, longitude spans the full range.
func (c Circle) Bounds() BBox {
	dLat := (c.RadiusMeters / EarthRadiusMeters) * 180 / math.Pi
	b := BBox{
		MinLat: math.Max(c.Center.Lat-dLat, types.MinLat),
		MaxLat: math.Min(c.Center.Lat+dLat, types.MaxLat),
		MinLon: types.MinLon,
		MaxLon: types.MaxLon,
	}
	cosLat := math.Cos((math.Abs(c.Center.Lat) + dLat) * math.Pi / 180)
	if b.MaxLat >= types.MaxLat || b.MinLat <= types.MinLat || cosLat < 1e-6 {
		return b
	}
	dLon := dLat / cosLat
	if c.Center.Lon-dLon < types.MinLon || c.Center.Lon+dLon > types.MaxLon {
		return b
	}
	b.MinLon = c.Center.Lon - dLon
	b.MaxLon = c.Center.Lon + dLon
	return b
}

func (Circle) Kind() types.ShapeKind { return types.ShapeCircle }
func (Circle) sealed()               {}

// Rectangle is an axis-aligned longitude/latitude box.
type Rectangle struct {
	Box BBox
}

func (r Rectangle) Contains(p Point) bool { return r.Box.Contains(p) }
func (r Rectangle) Bounds() BBox          { return r.Box }
func (Rectangle) Kind() types.ShapeKind   { return types.ShapeRectangle }
func (Rectangle) sealed()                 {}

// Polygon is an outer ring plus optional holes. Rings are stored without the
// closing vertex.
type Polygon struct {
	Rings [][]Point
	box   BBox
}

// NewPolygon builds a polygon from rings, dropping any repeated closing vertex.
func NewPolygon(rings ...[]Point) Polygon {
	out := make([][]Point, 0, len(rings))
	for _, r := range rings {
		out = append(out, openRing(r))
	}
	p := Polygon{Rings: out}
	p.box = ringBounds(p.outer())
	return p
}

func (p Polygon) outer() []Point {
	if len(p.Rings) == 0 {
		return nil
	}
	return p.Rings[0]
}

// Contains uses ray casting with the even-odd rule across all rings. An outer
// ring with fewer than 3 distinct vertices never contains.
func (p Polygon) Contains(pt Point) bool {
	if distinctVertices(p.outer()) < 3 {
		return false
	}
	if !p.box.Contains(pt) {
		return false
	}
	inside := false
	for _, ring := range p.Rings {
		if crossings(ring, pt)%2 == 1 {
			inside = !inside
		}
	}
	return inside
}

func (p Polygon) Bounds() BBox        { return p.box }
func (Polygon) Kind() types.ShapeKind { return types.ShapePolygon }
func (Polygon) sealed()               {}

// crossings counts edges crossed by a ray cast from pt toward +longitude.
func crossings(ring []Point, pt Point) int {
	n := len(ring)
	count := 0
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if (a.Lat > pt.Lat) != (b.Lat > pt.Lat) {
			x := (b.Lon-a.Lon)*(pt.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lon
			if pt.Lon < x {
				count++
			}
		}
	}
	return count
}

func openRing(r []Point) []Point {
	if len(r) > 1 && r[0] == r[len(r)-1] {
		r = r[:len(r)-1]
	}
	out := make([]Point, len(r))
	copy(out, r)
	return out
}

func distinctVertices(r []Point) int {
	seen := make(map[Point]struct{}, len(r))
	for _, p := range r {
		seen[p] = struct{}{}
	}
	return len(seen)
}

func ringBounds(r []Point) BBox {
	if len(r) == 0 {
		return BBox{}
	}
	b := BBox{MinLat: r[0].Lat, MaxLat: r[0].Lat, MinLon: r[0].Lon, MaxLon: r[0].Lon}
	for _, p := range r[1:] {
		b.MinLat = math.Min(b.MinLat, p.Lat)
		b.MaxLat = math.Max(b.MaxLat, p.Lat)
		b.MinLon = math.Min(b.MinLon, p.Lon)
		b.MaxLon = math.Max(b.MaxLon, p.Lon)
	}
	return b
}

// FromFence compiles a fence's shape parameters into a Geometry.
func FromFence(f *types.Fence) (Geometry, error) {
	switch f.Shape {
	case types.ShapeCircle:
		if f.CenterLat == nil || f.CenterLon == nil || f.RadiusMeters == nil {
			return nil, fmt.Errorf("%w: circle %s missing center or radius", ErrMalformedGeometry, f.ID)
		}
		r := *f.RadiusMeters
		if math.IsNaN(r) || r < 0 {
			return nil, fmt.Errorf("%w: circle %s radius %v", ErrMalformedGeometry, f.ID, r)
		}
		if err := types.ValidateCoordinates(*f.CenterLat, *f.CenterLon); err != nil {
			return nil, fmt.Errorf("%w: circle %s center: %v", ErrMalformedGeometry, f.ID, err)
		}
		return Circle{Center: Point{Lat: *f.CenterLat, Lon: *f.CenterLon}, RadiusMeters: r}, nil

	case types.ShapeRectangle:
		box, err := ParseRectangle(f.Boundary)
		if err != nil {
			return nil, fmt.Errorf("rectangle %s: %w", f.ID, err)
		}
		return Rectangle{Box: box}, nil

	case types.ShapePolygon:
		rings, err := ParsePolygonWKT(f.Boundary)
		if err != nil {
			return nil, fmt.Errorf("polygon %s: %w", f.ID, err)
		}
		return NewPolygon(rings...), nil

	default:
		return nil, fmt.Errorf("%w: %q on fence %s", ErrUnknownShape, f.Shape, f.ID)
	}
}
