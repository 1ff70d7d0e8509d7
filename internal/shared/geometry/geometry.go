// Package geometry provides screen-space primitives shared across the backend.
//
// All coordinates are in panel units with the origin at the left edge of the
// display. Rects are axis-aligned; a zero Rect means the frame could not be
// resolved.
package geometry

// Point is a position on screen.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned frame.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Left returns the left edge of the rect.
func (r Rect) Left() float64 {
	return r.X
}

// Right returns the right edge of the rect.
func (r Rect) Right() float64 {
	return r.X + r.Width
}

// MidY returns the vertical center of the rect.
func (r Rect) MidY() float64 {
	return r.Y + r.Height/2
}

// Center returns the midpoint of the rect.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.MidY()}
}

// IsZero reports whether the rect carries no frame information.
func (r Rect) IsZero() bool {
	return r.X == 0 && r.Y == 0 && r.Width == 0 && r.Height == 0
}

// Overlaps reports whether two rects intersect horizontally.
func (r Rect) Overlaps(other Rect) bool {
	return r.Left() < other.Right() && other.Left() < r.Right()
}

// Display identifies a physical screen.
type Display struct {
	ID     string `json:"id"`
	Bounds Rect   `json:"bounds"`
}
