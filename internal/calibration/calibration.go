// Package calibration maps frame pixels to physical coordinates.
package calibration

import (
	"fmt"

	"github.com/banshee-data/motionlab/internal/geom"
)

// AxisConfig selects the direction of the physical axes on screen. The
// numeric values are part of the project file format.
type AxisConfig int

const (
	XRightYUp AxisConfig = iota
	XRightYDown
	XLeftYUp
	XLeftYDown
)

func (a AxisConfig) String() string {
	switch a {
	case XRightYUp:
		return "x-right-y-up"
	case XRightYDown:
		return "x-right-y-down"
	case XLeftYUp:
		return "x-left-y-up"
	case XLeftYDown:
		return "x-left-y-down"
	default:
		return fmt.Sprintf("AxisConfig(%d)", int(a))
	}
}

// Valid reports whether a is one of the four known configurations.
func (a AxisConfig) Valid() bool { return a >= XRightYUp && a <= XLeftYDown }

// ParseAxisConfig parses the String form of an AxisConfig.
func ParseAxisConfig(s string) (AxisConfig, error) {
	for a := XRightYUp; a <= XLeftYDown; a++ {
		if a.String() == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown axis configuration %q", s)
}

// Direction returns the sign applied to pixel offsets along x and y. Pixel
// y grows downwards, so an upward physical axis flips it.
func (a AxisConfig) Direction() (dx, dy float64) {
	dx, dy = -1, -1
	if a == XRightYUp || a == XRightYDown {
		dx = 1
	}
	if a == XRightYDown || a == XLeftYDown {
		dy = 1
	}
	return dx, dy
}

// Calibration is the pixel-to-physical transform of a project: an origin,
// axis directions and a scale taken from two reference points a known
// distance apart.
type Calibration struct {
	Origin       geom.Point `json:"origin"`
	Axes         AxisConfig `json:"axes"`
	HasOrigin    bool       `json:"has_origin"`
	ScaleA       geom.Point `json:"scale_a"`
	ScaleB       geom.Point `json:"scale_b"`
	RealDistance float64    `json:"real_distance"`
	PxPerMeter   float64    `json:"px_per_meter"`
}

// Default returns an uncalibrated transform: physical output equals pixels.
func Default() Calibration {
	return Calibration{
		Axes:         XRightYUp,
		ScaleB:       geom.Point{X: 100},
		RealDistance: 1,
	}
}

// SetOrigin places the origin at p.
func (c *Calibration) SetOrigin(p geom.Point) {
	c.Origin = p
	c.HasOrigin = true
}

// SetScale records the reference points and the real distance between them
// and recomputes the pixels-per-meter factor.
func (c *Calibration) SetScale(a, b geom.Point, realDistance float64) {
	c.ScaleA = a
	c.ScaleB = b
	c.RealDistance = realDistance
	c.Recompute()
}

// Recompute derives PxPerMeter from the reference points. It is left
// unchanged when the real distance or the pixel distance is not positive.
func (c *Calibration) Recompute() {
	px := c.ScaleA.Dist(c.ScaleB)
	if c.RealDistance > 0 && px > 0 {
		c.PxPerMeter = px / c.RealDistance
	}
}

// Active reports whether ToPhysical transforms positions.
func (c Calibration) Active() bool {
	return c.HasOrigin && c.PxPerMeter > 0
}

// ToPhysical maps a pixel position to meters relative to the origin. Without
// an origin or scale the pixel position is returned unchanged.
func (c Calibration) ToPhysical(p geom.Point) geom.Point {
	if !c.Active() {
		return p
	}
	dx, dy := c.Axes.Direction()
	d := p.Sub(c.Origin)
	return geom.Point{
		X: d.X * dx / c.PxPerMeter,
		Y: d.Y * dy / c.PxPerMeter,
	}
}

// Unit returns the length unit of ToPhysical output.
func (c Calibration) Unit() string {
	if c.Active() {
		return "m"
	}
	return "px"
}
