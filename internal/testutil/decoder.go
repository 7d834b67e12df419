// Package testutil provides in-memory decoders and scripted trackers for
// tests of the timeline and tracking packages.
package testutil

import (
	"context"
	"image"
	"image/color"

	"github.com/banshee-data/motionlab/internal/media"
)

// SyntheticTicksPerSecond is the time base of SyntheticDecoder timestamps.
const SyntheticTicksPerSecond = 90000

// SyntheticDecoder is an in-memory media.Decoder over a GOP-structured
// stream. SeekApprox lands on the keyframe at or before the target, so
// callers must decode forward to reach an exact frame, like a real demuxer.
//
// Every picture encodes its frame number in pixel (0,0); see FrameNumber.
type SyntheticDecoder struct {
	Info media.StreamInfo
	// BaseTicks is the timestamp of the first frame.
	BaseTicks int64
	// GOP is the keyframe interval in frames.
	GOP int
	// ForeignEvery inserts a unit from another stream after every n frames.
	ForeignEvery int
	// NoPTS lists frame numbers delivered without a timestamp.
	NoPTS map[int]bool
	// Blank lists frame numbers delivered without a picture.
	Blank map[int]bool

	LoadErr   error
	SeekErr   error
	DecodeErr error

	// Counters for assertions.
	Decodes int
	Seeks   []int64
	Loads   int
	Unloads int

	units  []media.Frame
	pos    int
	loaded bool
}

// NewSyntheticDecoder describes a w x h stream of n frames at fps with a
// keyframe every gop frames.
func NewSyntheticDecoder(fps float64, n, gop, w, h int) *SyntheticDecoder {
	return &SyntheticDecoder{
		Info: media.StreamInfo{
			Width:       w,
			Height:      h,
			FPS:         fps,
			DurationSec: float64(n) / fps,
			FrameCount:  int64(n),
			CodecName:   "synthetic",
			PixelFormat: "rgba",
			TimeBase:    1.0 / SyntheticTicksPerSecond,
		},
		GOP: gop,
	}
}

// TicksPerFrame returns the timestamp spacing of consecutive frames.
func (d *SyntheticDecoder) TicksPerFrame() int64 {
	return int64(SyntheticTicksPerSecond / d.Info.FPS)
}

// Load builds the unit list. The path is ignored.
func (d *SyntheticDecoder) Load(_ context.Context, _ string) (media.StreamInfo, error) {
	d.Loads++
	if d.LoadErr != nil {
		return media.StreamInfo{}, d.LoadErr
	}

	n := int(d.Info.FrameCount)
	gop := d.GOP
	if gop <= 0 {
		gop = 1
	}
	d.units = d.units[:0]
	for i := 0; i < n; i++ {
		f := media.Frame{
			Stream: d.Info.StreamIndex,
			PTS:    d.BaseTicks + int64(i)*d.TicksPerFrame(),
			HasPTS: !d.NoPTS[i],
			Key:    i%gop == 0,
		}
		if !d.Blank[i] {
			f.Image = numberedImage(i, d.Info.Width, d.Info.Height)
		}
		d.units = append(d.units, f)
		if d.ForeignEvery > 0 && (i+1)%d.ForeignEvery == 0 {
			d.units = append(d.units, media.Frame{
				Stream: d.Info.StreamIndex + 1,
				PTS:    f.PTS,
				HasPTS: true,
				Image:  numberedImage(-1, 2, 2),
			})
		}
	}
	d.pos = 0
	d.loaded = true
	return d.Info, nil
}

// DecodeNext returns the next unit in presentation order.
func (d *SyntheticDecoder) DecodeNext() (*media.Frame, error) {
	if !d.loaded {
		return nil, media.ErrNotLoaded
	}
	if d.DecodeErr != nil {
		return nil, d.DecodeErr
	}
	if d.pos >= len(d.units) {
		return nil, media.ErrEndOfStream
	}
	d.Decodes++
	u := d.units[d.pos]
	d.pos++
	return &u, nil
}

// SeekApprox moves to the last keyframe of the active stream whose timestamp
// is not after ticks, or to the start.
func (d *SyntheticDecoder) SeekApprox(ticks int64) error {
	if !d.loaded {
		return media.ErrNotLoaded
	}
	d.Seeks = append(d.Seeks, ticks)
	if d.SeekErr != nil {
		return d.SeekErr
	}
	pos := 0
	for i, u := range d.units {
		if u.Stream != d.Info.StreamIndex || !u.Key {
			continue
		}
		if u.PTS > ticks {
			break
		}
		pos = i
	}
	d.pos = pos
	return nil
}

// Unload forgets the stream.
func (d *SyntheticDecoder) Unload() error {
	d.Unloads++
	d.loaded = false
	d.units = nil
	d.pos = 0
	return nil
}

func numberedImage(n, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	v := uint16(n + 1)
	img.SetRGBA(0, 0, color.RGBA{R: uint8(v >> 8), G: uint8(v), B: 0x5a, A: 0xff})
	return img
}

// FrameNumber recovers the frame number written by SyntheticDecoder, or -1.
func FrameNumber(img *image.RGBA) int {
	if img == nil || img.Bounds().Empty() {
		return -1
	}
	c := img.RGBAAt(0, 0)
	if c.B != 0x5a {
		return -1
	}
	return int(uint16(c.R)<<8|uint16(c.G)) - 1
}
