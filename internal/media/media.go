// Package media defines the decoding contract the timeline is built on and
// provides the ffmpeg-backed implementation of it.
//
// A Decoder only promises keyframe-granular seeking: SeekApprox lands at or
// before the requested timestamp and frames are then produced in
// presentation order by DecodeNext. Frame-accurate navigation is layered on
// top by the timeline package.
package media

import (
	"context"
	"errors"
	"image"
	"math"
)

var (
	// ErrEndOfStream is returned by DecodeNext when no more frames remain.
	ErrEndOfStream = errors.New("end of stream")
	// ErrNotLoaded is returned by operations on a decoder with no open media.
	ErrNotLoaded = errors.New("no media loaded")
	// ErrNoVideoStream is returned by Load when the resource has no video.
	ErrNoVideoStream = errors.New("no video stream")
)

// StreamInfo describes the active video stream of a loaded resource.
type StreamInfo struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FPS         float64 `json:"fps"`
	DurationSec float64 `json:"duration_sec"`
	FrameCount  int64   `json:"frame_count"`
	CodecName   string  `json:"codec_name"`
	PixelFormat string  `json:"pixel_format"`
	StreamIndex int     `json:"stream_index"`
	// TimeBase is the length of one timestamp tick in seconds.
	TimeBase float64 `json:"time_base"`
}

// FrameDelay returns 1/FPS, or 0 when the frame rate is unknown.
func (s StreamInfo) FrameDelay() float64 {
	if s.FPS <= 0 {
		return 0
	}
	return 1 / s.FPS
}

// SecondsToTicks converts a time in seconds to stream ticks, rounding down.
// A tick within 1e-6 of the next whole value is treated as that value.
func (s StreamInfo) SecondsToTicks(sec float64) int64 {
	if s.TimeBase <= 0 {
		return 0
	}
	return int64(math.Floor(sec/s.TimeBase + 1e-6))
}

// TicksToSeconds converts stream ticks to seconds.
func (s StreamInfo) TicksToSeconds(ticks int64) float64 {
	return float64(ticks) * s.TimeBase
}

// Frame is one decoded unit. Units that belong to another stream, or that
// carry no picture, are skipped by consumers.
type Frame struct {
	Image  *image.RGBA
	Stream int
	// PTS is the presentation timestamp in stream ticks, valid when HasPTS.
	PTS    int64
	HasPTS bool
	Key    bool
}

// Displayable reports whether f carries a picture for the given stream.
func (f *Frame) Displayable(stream int) bool {
	return f != nil && f.Stream == stream && f.Image != nil &&
		f.Image.Bounds().Dx() > 0 && f.Image.Bounds().Dy() > 0
}

// Seconds returns the raw presentation time of f, or -1 when unavailable.
func (f *Frame) Seconds(info StreamInfo) float64 {
	if f == nil || !f.HasPTS {
		return -1
	}
	return info.TicksToSeconds(f.PTS)
}

// Decoder is a coarse, keyframe-granular media source.
type Decoder interface {
	// Load opens the resource at path and returns its video stream metadata.
	Load(ctx context.Context, path string) (StreamInfo, error)
	// DecodeNext returns the next unit in presentation order, or
	// ErrEndOfStream.
	DecodeNext() (*Frame, error)
	// SeekApprox repositions the cursor at the nearest keyframe at or before
	// the timestamp, given in stream ticks.
	SeekApprox(ticks int64) error
	// Unload releases the resource. It is safe to call when nothing is loaded.
	Unload() error
}
