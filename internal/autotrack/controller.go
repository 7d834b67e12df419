// Package autotrack drives a VisualTracker across video frames and turns its
// output into samples.
//
// The Controller never moves the playhead. After accepting a sample it sets
// NeedsAdvance; the host loop steps the timeline one frame and calls
// ClearAdvance before the next Update.
package autotrack

import (
	"image"
	"math"

	"github.com/banshee-data/motionlab/internal/geom"
	"github.com/banshee-data/motionlab/internal/media"
	"github.com/banshee-data/motionlab/internal/monitoring"
	"github.com/banshee-data/motionlab/internal/samples"
)

var logf = monitoring.Component("autotrack")

// State is the controller state.
type State int

const (
	Idle State = iota
	Selecting
	Initializing
	Ready
	Tracking
	Lost
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Selecting:
		return "SELECTING"
	case Initializing:
		return "INITIALIZING"
	case Ready:
		return "READY"
	case Tracking:
		return "TRACKING"
	case Lost:
		return "LOST"
	default:
		return "UNKNOWN"
	}
}

// Params are the geometric limits of selection and tracking, in pixels
// unless noted.
type Params struct {
	EdgeMargin     float64
	MaxJumpRatio   float64 // fraction of frame width
	MaxJumpFloor   float64
	MaxRecoveries  int
	Padding        float64
	MinSelection   float64
	MinRegion      float64
	ExpandedRegion float64
	RegionShift    float64
	EndEpsilon     float64 // seconds
}

// DefaultParams returns the standard limits.
func DefaultParams() Params {
	return Params{
		EdgeMargin:     10,
		MaxJumpRatio:   0.15,
		MaxJumpFloor:   150,
		MaxRecoveries:  3,
		Padding:        4,
		MinSelection:   5,
		MinRegion:      10,
		ExpandedRegion: 20,
		RegionShift:    5,
		EndEpsilon:     0.001,
	}
}

// MaxJump returns the largest centre displacement accepted between two
// consecutive frames of the given width outside recovery.
func (p Params) MaxJump(frameWidth int) float64 {
	return math.Max(p.MaxJumpRatio*float64(frameWidth), p.MaxJumpFloor)
}

// Playhead is the read-only view of the timeline the controller needs.
type Playhead interface {
	Loaded() bool
	Time() float64
	// AtLastFrame reports whether one more frame step would reach the end
	// of the stream, within eps seconds.
	AtLastFrame(eps float64) bool
	Frame() *media.Frame
	Info() media.StreamInfo
}

// SampleSink receives accepted positions.
type SampleSink interface {
	AddPoint(t float64, pos geom.Point) samples.Outcome
}

// Controller is the auto-tracking state machine. It is reusable: every path
// ends in a defined state and a new selection can start from IDLE, READY or
// LOST.
type Controller struct {
	params     Params
	newTracker Factory
	tracker    VisualTracker

	state        State
	region       geom.Region
	center       geom.Point
	velocity     geom.Point
	pendingInit  bool
	needsAdvance bool
	recoveries   int
}

// NewController returns an IDLE controller creating trackers with factory.
func NewController(factory Factory, params Params) *Controller {
	return &Controller{params: params, newTracker: factory}
}

// BeginSelection starts a drag at origin. It is ignored unless the
// controller is IDLE, READY or LOST.
func (c *Controller) BeginSelection(origin geom.Point) bool {
	switch c.state {
	case Idle, Ready, Lost:
	default:
		return false
	}
	c.region = geom.Region{X: origin.X, Y: origin.Y}
	c.pendingInit = false
	c.setState(Selecting)
	return true
}

// DragTo stretches the selection to the pointer position p.
func (c *Controller) DragTo(p geom.Point) {
	if c.state != Selecting {
		return
	}
	c.region.Width = p.X - c.region.X
	c.region.Height = p.Y - c.region.Y
}

// ReleaseSelection ends the drag. A selection at least MinSelection on both
// sides moves to INITIALIZING with a pending init; anything smaller is
// discarded.
func (c *Controller) ReleaseSelection() State {
	if c.state != Selecting {
		return c.state
	}
	r := c.region.Normalize()
	if r.Width >= c.params.MinSelection && r.Height >= c.params.MinSelection {
		c.region = r
		c.pendingInit = true
		c.setState(Initializing)
		return c.state
	}
	logf("selection %.0fx%.0f too small, discarded", r.Width, r.Height)
	c.region = geom.Region{}
	c.toIdle()
	return c.state
}

// ConfirmSelection initialises a tracker on the playhead's current frame
// for the pending selection. On success the controller is READY.
func (c *Controller) ConfirmSelection(ph Playhead) State {
	if c.state != Initializing {
		return c.state
	}
	c.pendingInit = false
	c.recoveries = 0

	img := currentImage(ph)
	if img == nil {
		logf("confirm: no frame")
		c.toIdle()
		return c.state
	}

	target := c.expand(c.region)
	box := c.clampToFrame(target.Pad(c.params.Padding), ph.Info())
	if box.Width <= 0 || box.Height <= 0 {
		logf("confirm: selection degenerates at frame edge")
		c.toIdle()
		return c.state
	}

	t, err := c.newTracker()
	if err != nil {
		logf("confirm: create tracker: %v", err)
		c.toIdle()
		return c.state
	}
	res := safeInit(t, img, box)
	if res.Kind != Ok {
		logf("confirm: init %s %s", res.Kind, res.Reason)
		closeTracker(t)
		c.toIdle()
		return c.state
	}

	c.replaceTracker(t)
	c.region = target
	c.center = target.Center()
	c.velocity = geom.Point{}
	c.setState(Ready)
	return c.state
}

// StartTracking moves READY or LOST to TRACKING.
func (c *Controller) StartTracking() bool {
	if c.state != Ready && c.state != Lost {
		return false
	}
	c.needsAdvance = false
	c.setState(Tracking)
	return true
}

// Stop returns to IDLE from any state.
func (c *Controller) Stop() {
	c.toIdle()
}

// Toggle stops tracking when TRACKING, otherwise tries to start it.
func (c *Controller) Toggle() {
	if c.state == Tracking {
		c.Stop()
		return
	}
	c.StartTracking()
}

// Cancel abandons a selection or tracking run.
func (c *Controller) Cancel() {
	c.toIdle()
}

// Update runs one tracking step on the playhead's current frame. Accepted
// positions go to sink at the playhead time.
func (c *Controller) Update(ph Playhead, sink SampleSink) {
	if c.state != Tracking || c.tracker == nil {
		return
	}
	img := currentImage(ph)
	if img == nil {
		return
	}
	info := ph.Info()

	res := safeUpdate(c.tracker, img)
	var box geom.Region
	switch res.Kind {
	case Ok:
		c.recoveries = 0
		box = res.Region
	case Failed:
		var ok bool
		if box, ok = c.recover(img, info); !ok {
			return
		}
	default:
		logf("update faulted: %s", res.Reason)
		c.toIdle()
		return
	}

	next := box.Center()
	if geom.NearEdge(next, info.Width, info.Height, c.params.EdgeMargin) {
		logf("target reached frame edge at (%.1f, %.1f)", next.X, next.Y)
		c.toIdle()
		return
	}

	if dist := next.Dist(c.center); dist > c.params.MaxJump(info.Width) && c.recoveries == 0 {
		logf("rejected jump of %.1fpx at t=%.4f", dist, ph.Time())
		c.needsAdvance = false
		return
	}

	c.velocity = next.Sub(c.center)
	c.center = next
	c.region = box
	sink.AddPoint(ph.Time(), c.center)

	if ph.AtLastFrame(c.params.EndEpsilon) {
		logf("last frame reached")
		c.toIdle()
		return
	}
	c.needsAdvance = true
}

// recover re-initialises a fresh tracker at the position predicted from the
// last velocity. It returns the predicted box when tracking can continue;
// otherwise the controller has already left TRACKING.
func (c *Controller) recover(img *image.RGBA, info media.StreamInfo) (geom.Region, bool) {
	if c.recoveries >= c.params.MaxRecoveries {
		c.toLost()
		return geom.Region{}, false
	}
	pred := geom.RegionAround(c.center.Add(c.velocity), c.region.Width, c.region.Height).
		Intersect(geom.Frame(info.Width, info.Height))
	if pred.Area() <= 0 {
		c.toLost()
		return geom.Region{}, false
	}

	t, err := c.newTracker()
	if err != nil {
		logf("recovery: create tracker: %v", err)
		c.toIdle()
		return geom.Region{}, false
	}
	switch res := safeInit(t, img, pred); res.Kind {
	case Ok:
	case Failed:
		closeTracker(t)
		c.toLost()
		return geom.Region{}, false
	default:
		logf("recovery: init faulted: %s", res.Reason)
		closeTracker(t)
		c.toIdle()
		return geom.Region{}, false
	}

	c.replaceTracker(t)
	c.recoveries++
	logf("recovered at predicted region (%d/%d)", c.recoveries, c.params.MaxRecoveries)
	return pred, true
}

// expand grows sides shorter than MinRegion to ExpandedRegion, shifting the
// origin back by RegionShift.
func (c *Controller) expand(r geom.Region) geom.Region {
	if r.Width < c.params.MinRegion {
		r.Width = c.params.ExpandedRegion
		r.X -= c.params.RegionShift
	}
	if r.Height < c.params.MinRegion {
		r.Height = c.params.ExpandedRegion
		r.Y -= c.params.RegionShift
	}
	return r
}

// clampToFrame pulls the origin inside the frame and trims the far sides so
// the box ends at least one pixel before the frame border.
func (c *Controller) clampToFrame(r geom.Region, info media.StreamInfo) geom.Region {
	if r.X < 0 {
		r.X = 0
	}
	if r.Y < 0 {
		r.Y = 0
	}
	if w := float64(info.Width); r.X+r.Width >= w {
		r.Width = w - r.X - 1
	}
	if h := float64(info.Height); r.Y+r.Height >= h {
		r.Height = h - r.Y - 1
	}
	return r
}

func (c *Controller) toIdle() {
	c.needsAdvance = false
	c.pendingInit = false
	c.releaseTracker()
	c.setState(Idle)
}

func (c *Controller) toLost() {
	c.needsAdvance = false
	c.setState(Lost)
}

func (c *Controller) setState(s State) {
	if c.state != s {
		logf("%s -> %s", c.state, s)
	}
	c.state = s
}

func (c *Controller) replaceTracker(t VisualTracker) {
	c.releaseTracker()
	c.tracker = t
}

func (c *Controller) releaseTracker() {
	if c.tracker != nil {
		closeTracker(c.tracker)
		c.tracker = nil
	}
}

func closeTracker(t VisualTracker) {
	defer func() {
		if r := recover(); r != nil {
			logf("tracker close panicked: %v", r)
		}
	}()
	if err := t.Close(); err != nil {
		logf("tracker close: %v", err)
	}
}

func currentImage(ph Playhead) *image.RGBA {
	if ph == nil || !ph.Loaded() {
		return nil
	}
	f := ph.Frame()
	if f == nil || f.Image == nil {
		return nil
	}
	return f.Image
}

// Free releases the tracker and returns to IDLE.
func (c *Controller) Free() {
	c.toIdle()
}

// ClearAdvance acknowledges an advance request.
func (c *Controller) ClearAdvance() { c.needsAdvance = false }

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Region returns the selection or last tracked region.
func (c *Controller) Region() geom.Region { return c.region }

// Center returns the last accepted target centre.
func (c *Controller) Center() geom.Point { return c.center }

// Velocity returns the last accepted centre displacement per frame.
func (c *Controller) Velocity() geom.Point { return c.velocity }

// Recoveries returns the number of consecutive recoveries.
func (c *Controller) Recoveries() int { return c.recoveries }

// PendingInit reports whether a released selection awaits ConfirmSelection.
func (c *Controller) PendingInit() bool { return c.pendingInit }

// NeedsAdvance reports whether the controller wants the next frame.
func (c *Controller) NeedsAdvance() bool { return c.needsAdvance }

// HasTracker reports whether a tracker instance is held.
func (c *Controller) HasTracker() bool { return c.tracker != nil }
