// Package timeline turns a keyframe-granular media.Decoder into a
// frame-accurate playhead.
//
// Every Seek restarts decoding at a keyframe at or before the target and
// decodes forward until the first frame whose time reaches
// target - frameDelay/2. NextFrame and PrevFrame are seeks by one frame delay,
// so stepping never accumulates error from the decoder's coarse positioning.
package timeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/motionlab/internal/media"
	"github.com/banshee-data/motionlab/internal/monitoring"
)

var logf = monitoring.Component("timeline")

var (
	// ErrNotLoaded is returned by navigation on a clock with no media.
	ErrNotLoaded = errors.New("timeline: no media loaded")
	// ErrNoFrame is returned by Seek when nothing could be decoded after the
	// decoder repositioned. The clock keeps its previous frame and time.
	ErrNoFrame = errors.New("timeline: no frame decoded")
)

// Options tunes seeking and playback.
type Options struct {
	// ScanLimit bounds the decode calls made by one Seek.
	ScanLimit int
	// SeekOverrun is how far past the duration a Seek target may reach.
	SeekOverrun float64
	// RewindThreshold: resuming play this close to the end restarts at 0.
	RewindThreshold float64
}

// DefaultOptions returns the standard seek and playback settings.
func DefaultOptions() Options {
	return Options{
		ScanLimit:       1000,
		SeekOverrun:     0.5,
		RewindThreshold: 0.05,
	}
}

// Clock owns the normalised media time of a loaded video. Time zero is the
// first decodable frame.
//
// Clock is not safe for concurrent use; it is driven from a single host loop.
type Clock struct {
	dec  media.Decoder
	opts Options

	info   media.StreamInfo
	loaded bool

	current     float64
	duration    float64
	baseOffset  float64
	playing     bool
	accumulator float64
	frame       *media.Frame
}

// New returns a Clock over dec. Zero option fields take their defaults.
func New(dec media.Decoder, opts Options) *Clock {
	def := DefaultOptions()
	if opts.ScanLimit <= 0 {
		opts.ScanLimit = def.ScanLimit
	}
	if opts.SeekOverrun <= 0 {
		opts.SeekOverrun = def.SeekOverrun
	}
	if opts.RewindThreshold <= 0 {
		opts.RewindThreshold = def.RewindThreshold
	}
	return &Clock{dec: dec, opts: opts}
}

// Load opens path, decodes the first frame and fixes the base time offset
// from its timestamp. Any previously loaded media is unloaded first.
func (c *Clock) Load(ctx context.Context, path string) error {
	if c.loaded {
		c.Unload()
	}

	info, err := c.dec.Load(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	if info.FPS <= 0 {
		_ = c.dec.Unload()
		return fmt.Errorf("failed to load %s: invalid frame rate %v", path, info.FPS)
	}

	c.info = info
	c.duration = info.DurationSec
	c.baseOffset = 0
	c.current = 0
	c.accumulator = 0
	c.playing = false
	c.frame = nil
	c.loaded = true

	f, err := c.nextDisplayable()
	if err != nil {
		logf("%s: no decodable first frame: %v", path, err)
		return nil
	}
	if raw := f.Seconds(info); raw >= 0 {
		c.baseOffset = raw
	}
	c.frame = f
	c.current = 0

	logf("loaded %s: %dx%d @ %.3f fps, %.3fs, base offset %.6fs",
		path, info.Width, info.Height, info.FPS, c.duration, c.baseOffset)
	return nil
}

// Unload releases the media and resets the clock.
func (c *Clock) Unload() {
	if !c.loaded {
		return
	}
	if err := c.dec.Unload(); err != nil {
		logf("unload: %v", err)
	}
	*c = Clock{dec: c.dec, opts: c.opts}
}

// Seek lands on the first frame whose relative time is at least
// target - frameDelay/2. The target is clamped to [0, duration+overrun].
//
// If the decoder cannot reposition, the clock is left exactly as it was and
// the error is returned. If the forward scan exhausts its budget the last
// decoded frame is accepted instead.
func (c *Clock) Seek(target float64) error {
	if !c.loaded {
		return ErrNotLoaded
	}

	if target < 0 {
		target = 0
	}
	if limit := c.duration + c.opts.SeekOverrun; target > limit {
		target = limit
	}

	ticks := c.info.SecondsToTicks(target + c.baseOffset)
	if err := c.dec.SeekApprox(ticks); err != nil {
		return fmt.Errorf("failed to seek to %.4fs: %w", target, err)
	}
	c.accumulator = 0

	threshold := target - c.FrameDelay()/2
	if threshold < 0 {
		threshold = -0.0001
	}

	var (
		best     *media.Frame
		bestTime float64
		prev     = c.current
	)
	for scanned := 0; scanned < c.opts.ScanLimit; scanned++ {
		f, err := c.dec.DecodeNext()
		if err != nil {
			if !errors.Is(err, media.ErrEndOfStream) {
				logf("seek %.4fs: decode: %v", target, err)
			}
			break
		}
		if !f.Displayable(c.info.StreamIndex) {
			continue
		}

		rel := c.relativeTime(f, prev)
		if rel >= threshold {
			c.commit(f, rel)
			return nil
		}
		best, bestTime, prev = f, rel, rel
	}

	if best == nil {
		return ErrNoFrame
	}
	logf("seek %.4fs: stopped short at %.4fs", target, bestTime)
	c.commit(best, bestTime)
	return nil
}

// NextFrame seeks one frame delay forward.
func (c *Clock) NextFrame() error {
	if !c.loaded {
		return ErrNotLoaded
	}
	return c.Seek(c.current + c.FrameDelay())
}

// PrevFrame seeks one frame delay back.
func (c *Clock) PrevFrame() error {
	if !c.loaded {
		return ErrNotLoaded
	}
	return c.Seek(c.current - c.FrameDelay())
}

// Tick advances playback by wallDelta seconds of wall-clock time, decoding
// one frame per whole frame delay accumulated. The remainder is carried so
// long-running playback does not drift. At the end of the stream playback
// stops with the time clamped to the duration.
func (c *Clock) Tick(wallDelta float64) error {
	if !c.loaded || !c.playing {
		return nil
	}

	fd := c.FrameDelay()
	c.accumulator += wallDelta
	for c.accumulator >= fd {
		f, err := c.nextDisplayable()
		if err != nil {
			c.playing = false
			c.accumulator = 0
			if errors.Is(err, media.ErrEndOfStream) {
				c.current = c.duration
				return nil
			}
			return fmt.Errorf("playback stopped: %w", err)
		}
		c.commit(f, c.relativeTime(f, c.current))
		c.accumulator -= fd
	}
	return nil
}

// TogglePlay flips the play state. Resuming at the end of the stream
// rewinds to the start first.
func (c *Clock) TogglePlay() error {
	if !c.loaded {
		return ErrNotLoaded
	}
	c.playing = !c.playing
	if c.playing && c.current >= c.duration-c.opts.RewindThreshold {
		return c.Seek(0)
	}
	return nil
}

// Pause stops playback.
func (c *Clock) Pause() { c.playing = false }

// Loaded reports whether media is open.
func (c *Clock) Loaded() bool { return c.loaded }

// Playing reports whether playback is running.
func (c *Clock) Playing() bool { return c.playing }

// Time returns the current media time in seconds.
func (c *Clock) Time() float64 { return c.current }

// Duration returns the media duration in seconds.
func (c *Clock) Duration() float64 { return c.duration }

// FPS returns the stream frame rate.
func (c *Clock) FPS() float64 { return c.info.FPS }

// FrameDelay returns 1/FPS.
func (c *Clock) FrameDelay() float64 { return c.info.FrameDelay() }

// BaseOffset returns the raw timestamp, in seconds, of the first frame.
func (c *Clock) BaseOffset() float64 { return c.baseOffset }

// Accumulator returns the unconsumed wall-clock time.
func (c *Clock) Accumulator() float64 { return c.accumulator }

// Info returns the stream metadata.
func (c *Clock) Info() media.StreamInfo { return c.info }

// Frame returns the frame currently displayed, or nil.
func (c *Clock) Frame() *media.Frame { return c.frame }

// FrameIndex returns the current time rounded to a frame number.
func (c *Clock) FrameIndex() int {
	return FrameIndexAt(c.current, c.info.FPS)
}

// FrameIndexAt rounds t to the nearest frame number at fps.
func FrameIndexAt(t, fps float64) int {
	return int(t*fps + 0.5)
}

// AtLastFrame reports whether stepping forward by one frame would reach the
// end of the stream, within eps seconds.
func (c *Clock) AtLastFrame(eps float64) bool {
	return c.current+c.FrameDelay() >= c.duration-eps
}

func (c *Clock) commit(f *media.Frame, rel float64) {
	if rel > c.duration && c.duration > 0 {
		rel = c.duration
	}
	c.frame = f
	c.current = rel
}

// relativeTime is the frame's time since the first frame. Frames without a
// timestamp are placed one frame delay after prev.
func (c *Clock) relativeTime(f *media.Frame, prev float64) float64 {
	raw := f.Seconds(c.info)
	if raw < 0 {
		return prev + c.FrameDelay()
	}
	rel := raw - c.baseOffset
	if rel < 0 {
		return 0
	}
	return rel
}

// nextDisplayable decodes until a picture of the active stream arrives.
func (c *Clock) nextDisplayable() (*media.Frame, error) {
	for i := 0; i < c.opts.ScanLimit; i++ {
		f, err := c.dec.DecodeNext()
		if err != nil {
			return nil, err
		}
		if f.Displayable(c.info.StreamIndex) {
			return f, nil
		}
	}
	return nil, fmt.Errorf("no displayable frame in %d units", c.opts.ScanLimit)
}
