package geometry

import (
	"fmt"
	"strconv"
	"strings"

	"geowatch/internal/types"
)

// ParsePolygonWKT parses `POLYGON((lng lat, lng lat, ...))`. Additional rings
// in the same literal are returned after the outer ring and treated as holes.
// The keyword is case-insensitive and the closing vertex is optional.
func ParsePolygonWKT(s string) ([][]Point, error) {
	body := strings.TrimSpace(s)
	if len(body) < len("POLYGON") || !strings.EqualFold(body[:len("POLYGON")], "POLYGON") {
		return nil, fmt.Errorf("%w: missing POLYGON keyword", ErrMalformedGeometry)
	}
	body = strings.TrimSpace(body[len("POLYGON"):])
	if !strings.HasPrefix(body, "((") || !strings.HasSuffix(body, "))") {
		return nil, fmt.Errorf("%w: expected double parentheses", ErrMalformedGeometry)
	}
	body = body[1 : len(body)-1]

	var rings [][]Point
	for len(body) > 0 {
		body = strings.TrimLeft(body, " \t\r\n,")
		if body == "" {
			break
		}
		if body[0] != '(' {
			return nil, fmt.Errorf("%w: expected ring start", ErrMalformedGeometry)
		}
		end := strings.IndexByte(body, ')')
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated ring", ErrMalformedGeometry)
		}
		ring, err := parseCoordList(body[1:end])
		if err != nil {
			return nil, err
		}
		rings = append(rings, ring)
		body = body[end+1:]
	}
	if len(rings) == 0 {
		return nil, fmt.Errorf("%w: no rings", ErrMalformedGeometry)
	}
	return rings, nil
}

// ParseRectangle accepts either a WKT polygon (its vertex bounding box is
// used) or `minLng,minLat,maxLng,maxLat`.
func ParseRectangle(s string) (BBox, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return BBox{}, fmt.Errorf("%w: empty boundary", ErrMalformedGeometry)
	}
	if strings.HasPrefix(strings.ToUpper(trimmed), "POLYGON") {
		rings, err := ParsePolygonWKT(trimmed)
		if err != nil {
			return BBox{}, err
		}
		outer := openRing(rings[0])
		if len(outer) < 2 {
			return BBox{}, fmt.Errorf("%w: rectangle needs two corners", ErrMalformedGeometry)
		}
		return ringBounds(outer), nil
	}

	parts := strings.Split(trimmed, ",")
	if len(parts) != 4 {
		return BBox{}, fmt.Errorf("%w: expected minLng,minLat,maxLng,maxLat", ErrMalformedGeometry)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, fmt.Errorf("%w: %v", ErrMalformedGeometry, err)
		}
		vals[i] = v
	}
	a := Point{Lon: vals[0], Lat: vals[1]}
	b := Point{Lon: vals[2], Lat: vals[3]}
	for _, p := range []Point{a, b} {
		if err := types.ValidateCoordinates(p.Lat, p.Lon); err != nil {
			return BBox{}, fmt.Errorf("%w: %v", ErrMalformedGeometry, err)
		}
	}
	return ringBounds([]Point{a, b}), nil
}

// parseCoordList parses comma-separated "lng lat" pairs.
func parseCoordList(s string) ([]Point, error) {
	pairs := strings.Split(s, ",")
	out := make([]Point, 0, len(pairs))
	for _, pair := range pairs {
		fields := strings.Fields(pair)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: bad coordinate %q", ErrMalformedGeometry, strings.TrimSpace(pair))
		}
		lon, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedGeometry, err)
		}
		lat, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedGeometry, err)
		}
		if err := types.ValidateCoordinates(lat, lon); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedGeometry, err)
		}
		out = append(out, Point{Lat: lat, Lon: lon})
	}
	return out, nil
}

// FormatPolygonWKT renders a ring in the `POLYGON((lng lat, ...))` grammar,
// closing it if needed.
func FormatPolygonWKT(ring []Point) string {
	if len(ring) == 0 {
		return "POLYGON(())"
	}
	var sb strings.Builder
	sb.WriteString("POLYGON((")
	write := func(i int, p Point) {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.FormatFloat(p.Lon, 'f', -1, 64))
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatFloat(p.Lat, 'f', -1, 64))
	}
	for i, p := range ring {
		write(i, p)
	}
	if ring[0] != ring[len(ring)-1] {
		write(len(ring), ring[0])
	}
	sb.WriteString("))")
	return sb.String()
}
