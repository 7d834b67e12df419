// Package geom holds the frame-pixel coordinate types shared by the
// timeline, tracking and persistence packages.
package geom

import "math"

// Point is a position in frame pixels. Y grows downwards.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p+q.
func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

// Sub returns p-q.
func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Region is an axis-aligned rectangle in frame pixels. Width and Height may
// be negative while a selection is being dragged; Normalize fixes that.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RegionAround returns a region of the given size centred on c.
func RegionAround(c Point, w, h float64) Region {
	return Region{X: c.X - w/2, Y: c.Y - h/2, Width: w, Height: h}
}

// Center returns the centre point of r.
func (r Region) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Area returns Width*Height, or 0 when either side is not positive.
func (r Region) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Empty reports whether r has no positive area.
func (r Region) Empty() bool { return r.Area() == 0 }

// Normalize flips negative extents so Width and Height are non-negative and
// the origin is the top-left corner.
func (r Region) Normalize() Region {
	if r.Width < 0 {
		r.X += r.Width
		r.Width = -r.Width
	}
	if r.Height < 0 {
		r.Y += r.Height
		r.Height = -r.Height
	}
	return r
}

// Pad grows r by p on every side.
func (r Region) Pad(p float64) Region {
	return Region{X: r.X - p, Y: r.Y - p, Width: r.Width + 2*p, Height: r.Height + 2*p}
}

// Intersect returns the overlap of r and s. The result is empty (zero size)
// when they do not overlap.
func (r Region) Intersect(s Region) Region {
	x0 := math.Max(r.X, s.X)
	y0 := math.Max(r.Y, s.Y)
	x1 := math.Min(r.X+r.Width, s.X+s.Width)
	y1 := math.Min(r.Y+r.Height, s.Y+s.Height)
	if x1 <= x0 || y1 <= y0 {
		return Region{}
	}
	return Region{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Frame returns the full-frame region for a w x h picture.
func Frame(w, h int) Region {
	return Region{Width: float64(w), Height: float64(h)}
}

// NearEdge reports whether p lies within margin pixels of any border of a
// w x h frame.
func NearEdge(p Point, w, h int, margin float64) bool {
	return p.X < margin || p.Y < margin ||
		p.X > float64(w)-margin || p.Y > float64(h)-margin
}
