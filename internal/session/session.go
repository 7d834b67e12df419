// Package session ties a timeline clock, a sample store and an auto-track
// controller into one editing session and runs the host loop over them.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/motionlab/internal/archive"
	"github.com/banshee-data/motionlab/internal/autotrack"
	"github.com/banshee-data/motionlab/internal/calibration"
	"github.com/banshee-data/motionlab/internal/config"
	"github.com/banshee-data/motionlab/internal/fsutil"
	"github.com/banshee-data/motionlab/internal/geom"
	"github.com/banshee-data/motionlab/internal/media"
	"github.com/banshee-data/motionlab/internal/monitoring"
	"github.com/banshee-data/motionlab/internal/project"
	"github.com/banshee-data/motionlab/internal/samples"
	"github.com/banshee-data/motionlab/internal/timeline"
	"github.com/banshee-data/motionlab/internal/timeutil"
)

var logf = monitoring.Component("session")

// ErrStalled reports that unattended tracking stopped making progress.
var ErrStalled = errors.New("tracking stalled")

// Session is one open video with its measurements.
type Session struct {
	ID          uuid.UUID
	VideoPath   string
	Clock       *timeline.Clock
	Store       *samples.Store
	Controller  *autotrack.Controller
	Calibration calibration.Calibration
	StartFrame  int
	AutoAdvance bool

	// Wall paces Run. FS backs project files.
	Wall timeutil.Clock
	FS   fsutil.FileSystem

	interval   time.Duration
	maxStalled int
}

// New returns an empty session decoding with dec and tracking with factory.
// A nil cfg uses the defaults.
func New(dec media.Decoder, factory autotrack.Factory, cfg *config.Config) *Session {
	if cfg == nil {
		cfg = config.Empty()
	}
	return &Session{
		ID:          uuid.New(),
		Clock:       timeline.New(dec, cfg.ClockOptions()),
		Store:       cfg.NewStore(),
		Controller:  autotrack.NewController(factory, cfg.TrackerParams()),
		Calibration: calibration.Default(),
		AutoAdvance: true,
		Wall:        timeutil.RealClock{},
		FS:          fsutil.OSFileSystem{},
		interval:    cfg.GetTickInterval(),
		maxStalled:  cfg.GetMaxStalledSteps(),
	}
}

// Close stops tracking and releases the media.
func (s *Session) Close() {
	s.Controller.Free()
	s.Clock.Unload()
}

// OpenVideo replaces the current video with path. Samples, calibration and
// the start frame are reset.
func (s *Session) OpenVideo(ctx context.Context, path string) error {
	s.Controller.Stop()
	s.Clock.Unload()
	s.VideoPath = ""

	if err := s.Clock.Load(ctx, path); err != nil {
		return err
	}
	s.ID = uuid.New()
	s.VideoPath = path
	s.Store.Clear()
	s.Calibration = calibration.Default()
	s.StartFrame = 0
	return nil
}

// Step runs one iteration of the host loop, wallDelta seconds after the
// previous one.
func (s *Session) Step(wallDelta float64) error {
	var errs []error
	if s.Clock.Playing() {
		if err := s.Clock.Tick(wallDelta); err != nil {
			errs = append(errs, err)
		}
	}

	if s.Controller.State() == autotrack.Tracking && s.Controller.NeedsAdvance() {
		err := s.Clock.NextFrame()
		s.Clock.Pause()
		s.Controller.ClearAdvance()
		if err != nil {
			errs = append(errs, fmt.Errorf("advance: %w", err))
		}
	}

	if s.Controller.PendingInit() {
		s.Controller.ConfirmSelection(s.Clock)
	}
	s.Controller.Update(s.Clock, s.Store)
	return errors.Join(errs...)
}

// Run steps the session on every tick of the wall clock until stop reports
// true or ctx is done. A zero tick interval steps back to back. Step errors
// are logged and do not end the loop.
func (s *Session) Run(ctx context.Context, stop func() bool) error {
	prev := s.Wall.Now()
	step := func(now time.Time) {
		delta := now.Sub(prev).Seconds()
		prev = now
		if err := s.Step(delta); err != nil {
			logf("step: %v", err)
		}
	}

	if s.interval <= 0 {
		for !stop() {
			if err := ctx.Err(); err != nil {
				return err
			}
			step(s.Wall.Now())
		}
		return nil
	}

	ticker := s.Wall.NewTicker(s.interval)
	defer ticker.Stop()
	for !stop() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			step(now)
		}
	}
	return nil
}

// RunTracking runs the host loop until the controller leaves TRACKING. If
// the playhead stays put and no sample is added for the configured number of
// consecutive steps, tracking is stopped and ErrStalled returned. A tracker
// whose every box is rejected as a jump, or a stream that ends short of its
// reported duration, would otherwise keep the loop running forever.
func (s *Session) RunTracking(ctx context.Context) error {
	lastT, lastN := s.Clock.Time(), s.Store.Len()
	stalled, steps := 0, 0
	err := s.Run(ctx, func() bool {
		if s.Controller.State() != autotrack.Tracking {
			return true
		}
		if steps > 0 {
			if t, n := s.Clock.Time(), s.Store.Len(); t == lastT && n == lastN {
				stalled++
			} else {
				stalled, lastT, lastN = 0, t, n
			}
		}
		steps++
		return stalled >= s.maxStalled
	})
	if err != nil {
		return err
	}
	if s.Controller.State() == autotrack.Tracking {
		s.Controller.Stop()
		logf("no progress in %d steps at %.4fs, tracking stopped", stalled, s.Clock.Time())
		return fmt.Errorf("%w: no progress in %d steps at %.4fs", ErrStalled, stalled, s.Clock.Time())
	}
	return nil
}

// PlacePoint records a manual measurement at the current time. Points before
// the start frame are ignored. With AutoAdvance the playhead then moves one
// frame forward and stays paused.
func (s *Session) PlacePoint(pos geom.Point) (samples.Outcome, bool) {
	if !s.Clock.Loaded() {
		return samples.Dropped, false
	}
	if timeline.FrameIndexAt(s.Clock.Time(), s.Clock.FPS()) < s.StartFrame {
		return samples.Dropped, false
	}

	out := s.Store.AddPoint(s.Clock.Time(), pos)
	if s.AutoAdvance {
		if err := s.Clock.NextFrame(); err != nil {
			logf("auto-advance: %v", err)
		}
		s.Clock.Pause()
	}
	return out, true
}

// MarkStartFrame makes the current frame the first one measured.
func (s *Session) MarkStartFrame() {
	s.StartFrame = s.Clock.FrameIndex()
}

// Project returns a snapshot of the session in project form.
func (s *Session) Project() *project.Project {
	return &project.Project{
		VideoPath:   s.VideoPath,
		Calibration: s.Calibration,
		StartFrame:  s.StartFrame,
		Samples:     s.Store.Samples(),
	}
}

// SaveProject writes the session to path.
func (s *Session) SaveProject(path string) error {
	return project.Save(s.FS, path, s.Project())
}

// LoadProject reads path and applies it. A file that does not parse leaves
// the session untouched. If the project names a video other than the open
// one it is opened first, and a failure to open it is returned without
// applying anything else.
func (s *Session) LoadProject(ctx context.Context, path string) error {
	p, err := project.Load(s.FS, path)
	if err != nil {
		return err
	}

	if p.VideoPath != "" && p.VideoPath != s.VideoPath {
		if err := s.OpenVideo(ctx, p.VideoPath); err != nil {
			return fmt.Errorf("project %s: %w", path, err)
		}
	}

	s.Controller.Stop()
	s.Store.Clear()
	for _, smp := range p.Samples {
		s.Store.AddPoint(smp.Time, smp.Pos)
	}
	s.Calibration = p.Calibration
	s.StartFrame = p.StartFrame
	logf("loaded %s: %d samples, start frame %d", path, s.Store.Len(), s.StartFrame)
	return nil
}

// Archived returns the session record and samples in archive form.
func (s *Session) Archived() (*archive.Session, []samples.Sample) {
	return &archive.Session{
		ID:          s.ID,
		VideoPath:   s.VideoPath,
		Calibration: s.Calibration,
		StartFrame:  s.StartFrame,
	}, s.Store.Samples()
}

// Restore replaces the session's measurements with an archived session. The
// video is not reopened.
func (s *Session) Restore(rec *archive.Session, ss []samples.Sample) {
	s.Controller.Stop()
	s.ID = rec.ID
	s.Calibration = rec.Calibration
	s.StartFrame = rec.StartFrame
	s.Store.Clear()
	for _, smp := range ss {
		s.Store.AddPoint(smp.Time, smp.Pos)
	}
}
