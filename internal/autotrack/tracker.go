package autotrack

import (
	"fmt"
	"image"

	"github.com/banshee-data/motionlab/internal/geom"
)

// ResultKind classifies the outcome of a VisualTracker call.
type ResultKind int

const (
	// Ok means the tracker produced a region.
	Ok ResultKind = iota
	// Failed means the tracker lost the target on this frame.
	Failed
	// Faulted means the tracker broke internally and must not be reused.
	Faulted
)

func (k ResultKind) String() string {
	switch k {
	case Ok:
		return "ok"
	case Failed:
		return "failed"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("ResultKind(%d)", int(k))
	}
}

// Result is the outcome of VisualTracker.Init or Update. Region is set for
// Ok, Reason for Faulted.
type Result struct {
	Kind   ResultKind
	Region geom.Region
	Reason string
}

// OkResult returns a successful result carrying r.
func OkResult(r geom.Region) Result { return Result{Kind: Ok, Region: r} }

// FailedResult returns a tracking-lost result.
func FailedResult() Result { return Result{Kind: Failed} }

// FaultedResult returns an internal-fault result.
func FaultedResult(format string, args ...any) Result {
	return Result{Kind: Faulted, Reason: fmt.Sprintf(format, args...)}
}

// VisualTracker follows one image region from frame to frame. Regions are in
// frame pixels of the pictures passed in.
type VisualTracker interface {
	// Init starts tracking region on frame. The Region of the result is
	// ignored.
	Init(frame *image.RGBA, region geom.Region) Result
	// Update locates the target on the next frame.
	Update(frame *image.RGBA) Result
	// Close releases the tracker.
	Close() error
}

// Factory creates a fresh VisualTracker. Every selection and every recovery
// gets its own instance.
type Factory func() (VisualTracker, error)

// safeInit calls t.Init and converts a panic into a Faulted result.
func safeInit(t VisualTracker, frame *image.RGBA, region geom.Region) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = FaultedResult("init panicked: %v", r)
		}
	}()
	return t.Init(frame, region)
}

// safeUpdate calls t.Update and converts a panic into a Faulted result.
func safeUpdate(t VisualTracker, frame *image.RGBA) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = FaultedResult("update panicked: %v", r)
		}
	}()
	return t.Update(frame)
}
