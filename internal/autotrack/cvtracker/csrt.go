//go:build gocv

package cvtracker

import (
	"image"

	"gocv.io/x/gocv"
	"gocv.io/x/gocv/contrib"

	"github.com/banshee-data/motionlab/internal/autotrack"
	"github.com/banshee-data/motionlab/internal/geom"
)

// Available reports whether OpenCV tracking is compiled in.
const Available = true

// Tracker wraps a CSRT tracker. Frames are blurred, downscaled to the
// processing width and contrast-equalised on the Lab lightness channel
// before every call.
type Tracker struct {
	processingWidth int
	scale           float64
	csrt            gocv.Tracker
	clahe           gocv.CLAHE
}

// New returns a CSRT tracker processing frames at most processingWidth wide.
func New(processingWidth int) (*Tracker, error) {
	if processingWidth <= 0 {
		processingWidth = DefaultProcessingWidth
	}
	return &Tracker{
		processingWidth: processingWidth,
		scale:           1,
		csrt:            contrib.NewTrackerCSRT(),
		clahe:           gocv.NewCLAHEWithParams(2.5, image.Pt(8, 8)),
	}, nil
}

// Factory returns an autotrack.Factory creating CSRT trackers.
func Factory(processingWidth int) autotrack.Factory {
	return func() (autotrack.VisualTracker, error) {
		return New(processingWidth)
	}
}

// Init starts tracking region on frame.
func (t *Tracker) Init(frame *image.RGBA, region geom.Region) autotrack.Result {
	mat, err := t.preprocess(frame)
	if err != nil {
		return autotrack.FaultedResult("preprocess: %v", err)
	}
	defer mat.Close()

	box := toProcessing(region, t.scale)
	if box.Empty() {
		return autotrack.FailedResult()
	}
	if !t.csrt.Init(mat, box) {
		return autotrack.FailedResult()
	}
	return autotrack.OkResult(region)
}

// Update locates the target on frame.
func (t *Tracker) Update(frame *image.RGBA) autotrack.Result {
	mat, err := t.preprocess(frame)
	if err != nil {
		return autotrack.FaultedResult("preprocess: %v", err)
	}
	defer mat.Close()

	box, ok := t.csrt.Update(mat)
	if !ok || box.Empty() {
		return autotrack.FailedResult()
	}
	return autotrack.OkResult(fromProcessing(box, t.scale))
}

// Close releases the OpenCV objects.
func (t *Tracker) Close() error {
	err := t.csrt.Close()
	if cerr := t.clahe.Close(); err == nil {
		err = cerr
	}
	return err
}

func (t *Tracker) preprocess(frame *image.RGBA) (gocv.Mat, error) {
	src, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer src.Close()

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(src, &blurred, image.Pt(3, 3), 0, 0, gocv.BorderDefault)

	t.scale = processingScale(blurred.Cols(), t.processingWidth)
	resized := gocv.NewMat()
	if t.scale < 1 {
		size := image.Pt(t.processingWidth, int(float64(blurred.Rows())*t.scale))
		gocv.Resize(blurred, &resized, size, 0, 0, gocv.InterpolationLinear)
	} else {
		blurred.CopyTo(&resized)
	}

	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(resized, &lab, gocv.ColorBGRToLab)

	planes := gocv.Split(lab)
	defer func() {
		for _, p := range planes {
			p.Close()
		}
	}()
	t.clahe.Apply(planes[0], &planes[0])
	gocv.Merge(planes, &lab)
	gocv.CvtColor(lab, &resized, gocv.ColorLabToBGR)

	return resized, nil
}
