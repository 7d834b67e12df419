package testutil

import (
	"image"

	"github.com/banshee-data/motionlab/internal/autotrack"
	"github.com/banshee-data/motionlab/internal/geom"
)

// Step is one scripted tracker response. A non-empty Panic makes the
// tracker panic with that value instead of returning Result.
type Step struct {
	Result autotrack.Result
	Panic  string
}

// OkStep returns a step reporting region r.
func OkStep(r geom.Region) Step { return Step{Result: autotrack.OkResult(r)} }

// OkAt returns a step reporting a w x h region centred on (x, y).
func OkAt(x, y, w, h float64) Step {
	return OkStep(geom.RegionAround(geom.Point{X: x, Y: y}, w, h))
}

// FailStep returns a step reporting a lost target.
func FailStep() Step { return Step{Result: autotrack.FailedResult()} }

// FaultStep returns a step reporting an internal fault.
func FaultStep(reason string) Step { return Step{Result: autotrack.FaultedResult("%s", reason)} }

// PanicStep returns a step that panics.
func PanicStep(v string) Step { return Step{Panic: v} }

// TrackerScript feeds scripted results to every tracker its Factory creates,
// in call order across instances, and records how it was driven. An empty
// Inits queue answers Ok; an empty Updates queue answers Failed.
type TrackerScript struct {
	Inits   []Step
	Updates []Step

	FactoryErr error

	InitRegions []geom.Region
	UpdateCalls int
	Created     int
	Closed      int
}

// Factory returns an autotrack.Factory backed by the script.
func (s *TrackerScript) Factory() autotrack.Factory {
	return func() (autotrack.VisualTracker, error) {
		if s.FactoryErr != nil {
			return nil, s.FactoryErr
		}
		s.Created++
		return &scriptedTracker{script: s}, nil
	}
}

// Live returns the number of trackers created and not yet closed.
func (s *TrackerScript) Live() int { return s.Created - s.Closed }

type scriptedTracker struct {
	script *TrackerScript
	closed bool
}

func (t *scriptedTracker) Init(_ *image.RGBA, region geom.Region) autotrack.Result {
	s := t.script
	s.InitRegions = append(s.InitRegions, region)
	if len(s.Inits) == 0 {
		return autotrack.OkResult(region)
	}
	step := s.Inits[0]
	s.Inits = s.Inits[1:]
	if step.Panic != "" {
		panic(step.Panic)
	}
	return step.Result
}

func (t *scriptedTracker) Update(_ *image.RGBA) autotrack.Result {
	s := t.script
	s.UpdateCalls++
	if len(s.Updates) == 0 {
		return autotrack.FailedResult()
	}
	step := s.Updates[0]
	s.Updates = s.Updates[1:]
	if step.Panic != "" {
		panic(step.Panic)
	}
	return step.Result
}

func (t *scriptedTracker) Close() error {
	if !t.closed {
		t.closed = true
		t.script.Closed++
	}
	return nil
}
