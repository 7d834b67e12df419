// Package cvtracker adapts OpenCV's CSRT tracker to autotrack.VisualTracker.
//
// The OpenCV binding is only compiled with the gocv build tag; without it,
// Factory returns trackers that fail with ErrUnavailable.
package cvtracker

import (
	"errors"
	"image"

	"github.com/banshee-data/motionlab/internal/geom"
)

// ErrUnavailable is returned when the binary was built without OpenCV.
var ErrUnavailable = errors.New("cvtracker: built without OpenCV support (rebuild with -tags gocv)")

// DefaultProcessingWidth is the width frames are downscaled to before
// tracking. Narrower frames are tracked at full size.
const DefaultProcessingWidth = 800

// processingScale returns the factor mapping frame pixels to processing
// pixels.
func processingScale(width, processingWidth int) float64 {
	if processingWidth > 0 && width > processingWidth {
		return float64(processingWidth) / float64(width)
	}
	return 1
}

// toProcessing scales r into processing pixels, truncating to whole pixels.
func toProcessing(r geom.Region, scale float64) image.Rectangle {
	x := int(r.X * scale)
	y := int(r.Y * scale)
	return image.Rect(x, y, x+int(r.Width*scale), y+int(r.Height*scale))
}

// fromProcessing maps a processing-space rectangle back to frame pixels.
func fromProcessing(r image.Rectangle, scale float64) geom.Region {
	inv := 1 / scale
	return geom.Region{
		X:      float64(r.Min.X) * inv,
		Y:      float64(r.Min.Y) * inv,
		Width:  float64(r.Dx()) * inv,
		Height: float64(r.Dy()) * inv,
	}
}
