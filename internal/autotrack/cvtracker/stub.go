//go:build !gocv

package cvtracker

import "github.com/banshee-data/motionlab/internal/autotrack"

// Available reports whether OpenCV tracking is compiled in.
const Available = false

// Factory returns a factory that always fails with ErrUnavailable.
func Factory(int) autotrack.Factory {
	return func() (autotrack.VisualTracker, error) {
		return nil, ErrUnavailable
	}
}
