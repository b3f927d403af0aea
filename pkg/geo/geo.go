// Package geo holds the plane geometry used by the geofence engine: the
// metric-to-pixel map transform, bounding boxes and the ray-casting
// point-in-polygon test.
package geo

import "math"

// Point is a position in map-pixel space unless stated otherwise.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Transform maps device-metric coordinates onto a map image. Image Y grows
// downward while physical Y grows upward, so Y is inverted.
type Transform struct {
	OriginX float64
	OriginY float64
	Scale   float64
}

// ToPixel converts a metric position into pixel space.
func (t Transform) ToPixel(x, y float64) Point {
	return Point{
		X: t.OriginX + x*t.Scale,
		Y: t.OriginY - y*t.Scale,
	}
}

// Bounds is an axis-aligned bounding box.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// Contains reports whether p lies in the box, edges included.
func (b Bounds) Contains(p Point) bool {
	return p.X >= b.MinX && p.X <= b.MaxX && p.Y >= b.MinY && p.Y <= b.MaxY
}

// Polygon is a closed ring; the last vertex connects back to the first.
type Polygon []Point

// Valid reports whether the polygon has enough vertices to enclose an area.
func (poly Polygon) Valid() bool {
	return len(poly) >= 3
}

// Bounds computes the polygon's bounding box.
func (poly Polygon) Bounds() Bounds {
	b := Bounds{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
	}
	for _, p := range poly {
		b.MinX = math.Min(b.MinX, p.X)
		b.MinY = math.Min(b.MinY, p.Y)
		b.MaxX = math.Max(b.MaxX, p.X)
		b.MaxY = math.Max(b.MaxY, p.Y)
	}
	return b
}

// Contains runs the odd-crossings test with a horizontal ray toward +X.
// Edges are half-open on Y so a vertex on the ray is counted once. Points on
// a right-hand edge resolve outside, points on a left-hand edge inside.
func (poly Polygon) Contains(p Point) bool {
	if !poly.Valid() {
		return false
	}
	inside := false
	for i, j := 0, len(poly)-1; i < len(poly); j, i = i, i+1 {
		pi, pj := poly[i], poly[j]
		if (pi.Y > p.Y) != (pj.Y > p.Y) &&
			p.X < (pj.X-pi.X)*(p.Y-pi.Y)/(pj.Y-pi.Y)+pi.X {
			inside = !inside
		}
	}
	return inside
}

// Fence pairs a polygon with its cached bounding box.
type Fence struct {
	Polygon Polygon
	Bounds  Bounds
}

// NewFence precomputes the bounding box for poly.
func NewFence(poly Polygon) Fence {
	return Fence{Polygon: poly, Bounds: poly.Bounds()}
}

// Contains rejects on the bounding box before running the full test.
func (f Fence) Contains(p Point) bool {
	if !f.Bounds.Contains(p) {
		return false
	}
	return f.Polygon.Contains(p)
}
