package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motionlab/internal/autotrack"
	"github.com/banshee-data/motionlab/internal/calibration"
	"github.com/banshee-data/motionlab/internal/config"
	"github.com/banshee-data/motionlab/internal/fsutil"
	"github.com/banshee-data/motionlab/internal/geom"
	"github.com/banshee-data/motionlab/internal/monitoring"
	"github.com/banshee-data/motionlab/internal/samples"
	"github.com/banshee-data/motionlab/internal/testutil"
	"github.com/banshee-data/motionlab/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

const eps = 1e-9

type fixture struct {
	s      *Session
	dec    *testutil.SyntheticDecoder
	script *testutil.TrackerScript
	fs     *fsutil.MemoryFileSystem
	wall   *timeutil.MockClock
}

// newFixture opens a 100 frame 25 fps 320x240 clip. tick is the host loop
// interval.
func newFixture(t *testing.T, tick string) *fixture {
	t.Helper()
	cfg := config.Empty()
	cfg.TickInterval = &tick
	return newFixtureWith(t, cfg, testutil.NewSyntheticDecoder(25, 100, 12, 320, 240))
}

func newFixtureWith(t *testing.T, cfg *config.Config, dec *testutil.SyntheticDecoder) *fixture {
	t.Helper()
	f := &fixture{
		dec:    dec,
		script: &testutil.TrackerScript{},
		fs:     fsutil.NewMemoryFileSystem(),
		wall:   timeutil.NewMockClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)),
	}
	f.s = New(f.dec, f.script.Factory(), cfg)
	f.s.FS = f.fs
	f.s.Wall = f.wall
	require.NoError(t, f.s.OpenVideo(context.Background(), "clip.mp4"))
	return f
}

func (f *fixture) selectTarget(t *testing.T) {
	t.Helper()
	c := f.s.Controller
	require.True(t, c.BeginSelection(geom.Point{X: 100, Y: 100}))
	c.DragTo(geom.Point{X: 140, Y: 140})
	require.Equal(t, autotrack.Initializing, c.ReleaseSelection())
}

func sampleTimes(st *samples.Store) []float64 {
	var out []float64
	for _, s := range st.Samples() {
		out = append(out, s.Time)
	}
	return out
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()
	s := New(testutil.NewSyntheticDecoder(25, 10, 5, 8, 8), (&testutil.TrackerScript{}).Factory(), nil)

	assert.NotEqual(t, "", s.ID.String())
	assert.Equal(t, samples.DefaultCapacity, s.Store.Cap())
	assert.Equal(t, calibration.Default(), s.Calibration)
	assert.True(t, s.AutoAdvance)
	assert.False(t, s.Clock.Loaded())
	assert.Equal(t, autotrack.Idle, s.Controller.State())
}

func TestStepConfirmsAndTracks(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "16ms")
	f.script.Updates = []testutil.Step{
		testutil.OkAt(124, 120, 40, 40),
		testutil.OkAt(128, 120, 40, 40),
		testutil.OkAt(132, 120, 40, 40),
	}

	f.selectTarget(t)
	require.NoError(t, f.s.Step(0))
	assert.Equal(t, autotrack.Ready, f.s.Controller.State())
	assert.Zero(t, f.s.Store.Len(), "confirming does not track")

	require.True(t, f.s.Controller.StartTracking())
	for i := 0; i < 3; i++ {
		require.NoError(t, f.s.Step(0))
	}

	assert.Equal(t, autotrack.Tracking, f.s.Controller.State())
	assert.InDelta(t, 0.08, f.s.Clock.Time(), eps)
	assert.False(t, f.s.Clock.Playing())

	times := sampleTimes(f.s.Store)
	require.Len(t, times, 3)
	assert.InDelta(t, 0.00, times[0], eps)
	assert.InDelta(t, 0.04, times[1], eps)
	assert.InDelta(t, 0.08, times[2], eps)
	assert.Equal(t, geom.Point{X: 132, Y: 120}, f.s.Store.At(2).Pos)
	assert.True(t, f.s.Controller.NeedsAdvance())
}

func TestStepAdvanceError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "16ms")
	f.script.Updates = []testutil.Step{
		testutil.OkAt(124, 120, 40, 40),
		testutil.OkAt(125, 120, 40, 40),
	}

	f.selectTarget(t)
	require.NoError(t, f.s.Step(0))
	require.True(t, f.s.Controller.StartTracking())
	require.NoError(t, f.s.Step(0))
	require.True(t, f.s.Controller.NeedsAdvance())

	f.dec.SeekErr = errors.New("demuxer gone")
	err := f.s.Step(0)
	require.Error(t, err)
	assert.ErrorContains(t, err, "advance")
	assert.Equal(t, 0.0, f.s.Clock.Time(), "failed seek keeps the playhead")
	assert.Equal(t, 1, f.s.Store.Len(), "same time updates the sample")
	assert.Equal(t, geom.Point{X: 125, Y: 120}, f.s.Store.At(0).Pos)
}

func TestStepPlays(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "16ms")

	require.NoError(t, f.s.Clock.TogglePlay())
	require.NoError(t, f.s.Step(0.1))
	assert.InDelta(t, 0.08, f.s.Clock.Time(), eps)
	assert.InDelta(t, 0.02, f.s.Clock.Accumulator(), 1e-6)
}

func TestPlacePoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "16ms")
	f.s.StartFrame = 2

	_, ok := f.s.PlacePoint(geom.Point{X: 1, Y: 2})
	assert.False(t, ok, "before the start frame")
	assert.Zero(t, f.s.Store.Len())

	require.NoError(t, f.s.Clock.Seek(0.08))
	out, ok := f.s.PlacePoint(geom.Point{X: 1, Y: 2})
	require.True(t, ok)
	assert.Equal(t, samples.Appended, out)
	assert.InDelta(t, 0.12, f.s.Clock.Time(), eps, "auto-advance moves one frame")
	assert.False(t, f.s.Clock.Playing())

	f.s.AutoAdvance = false
	require.NoError(t, f.s.Clock.Seek(0.08))
	out, ok = f.s.PlacePoint(geom.Point{X: 3, Y: 4})
	require.True(t, ok)
	assert.Equal(t, samples.Updated, out)
	assert.InDelta(t, 0.08, f.s.Clock.Time(), eps)
	assert.Equal(t, geom.Point{X: 3, Y: 4}, f.s.Store.At(0).Pos)
}

func TestPlacePointWithoutVideo(t *testing.T) {
	t.Parallel()
	s := New(testutil.NewSyntheticDecoder(25, 10, 5, 8, 8), (&testutil.TrackerScript{}).Factory(), nil)
	_, ok := s.PlacePoint(geom.Point{})
	assert.False(t, ok)
}

func TestMarkStartFrame(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "16ms")

	require.NoError(t, f.s.Clock.Seek(0.2))
	f.s.MarkStartFrame()
	assert.Equal(t, 5, f.s.StartFrame)
}

func TestOpenVideoResets(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "16ms")
	oldID := f.s.ID

	f.s.Calibration.SetOrigin(geom.Point{X: 5, Y: 5})
	f.s.StartFrame = 3
	f.s.Store.AddPoint(0.5, geom.Point{X: 1, Y: 1})

	require.NoError(t, f.s.OpenVideo(context.Background(), "other.mp4"))
	assert.Equal(t, "other.mp4", f.s.VideoPath)
	assert.Zero(t, f.s.Store.Len())
	assert.Equal(t, calibration.Default(), f.s.Calibration)
	assert.Zero(t, f.s.StartFrame)
	assert.NotEqual(t, oldID, f.s.ID)
	assert.Equal(t, 2, f.dec.Loads)
	assert.Equal(t, 1, f.dec.Unloads)
}

func TestOpenVideoFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "16ms")
	f.dec.LoadErr = errors.New("no such file")

	require.Error(t, f.s.OpenVideo(context.Background(), "missing.mp4"))
	assert.False(t, f.s.Clock.Loaded())
	assert.Empty(t, f.s.VideoPath)
}

func TestProjectRoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "16ms")

	f.s.Calibration.SetOrigin(geom.Point{X: 10, Y: 200})
	f.s.Calibration.SetScale(geom.Point{X: 0, Y: 0}, geom.Point{X: 100, Y: 0}, 0.5)
	f.s.StartFrame = 1
	f.s.Store.AddPoint(0.04, geom.Point{X: 11, Y: 190})
	f.s.Store.AddPoint(0.08, geom.Point{X: 12, Y: 180})

	require.NoError(t, f.s.SaveProject("/work/clip.lab"))
	assert.Equal(t, []string{"/work/clip.lab"}, f.fs.FilesUnder("/work"))

	want := f.s.Project()
	f.s.Store.Clear()
	f.s.Calibration = calibration.Default()
	f.s.StartFrame = 0

	require.NoError(t, f.s.LoadProject(context.Background(), "/work/clip.lab"))
	got := f.s.Project()
	assert.Equal(t, want.StartFrame, got.StartFrame)
	assert.Equal(t, want.Calibration.Origin, got.Calibration.Origin)
	assert.InDelta(t, want.Calibration.PxPerMeter, got.Calibration.PxPerMeter, 1e-3)
	require.Len(t, got.Samples, 2)
	assert.InDelta(t, 0.08, got.Samples[1].Time, 1e-6)
	assert.Equal(t, 1, f.dec.Loads, "same video is not reopened")
}

func TestLoadProjectBadFileLeavesSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "16ms")
	f.s.Store.AddPoint(0.5, geom.Point{X: 1, Y: 1})
	f.s.StartFrame = 4

	require.NoError(t, f.fs.WriteFile("/bad.lab", []byte("NOT_A_PROJECT\n"), 0o644))
	require.Error(t, f.s.LoadProject(context.Background(), "/bad.lab"))
	require.Error(t, f.s.LoadProject(context.Background(), "/missing.lab"))

	assert.Equal(t, 1, f.s.Store.Len())
	assert.Equal(t, 4, f.s.StartFrame)
	assert.Equal(t, "clip.mp4", f.s.VideoPath)
}

func TestLoadProjectOpensVideo(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "16ms")

	body := "MOTIONLAB_V1\nVIDEO|/clips/other.mp4\nPOINTS|1\nP|0.040000|3.000000|4.000000\n"
	require.NoError(t, f.fs.WriteFile("/p.lab", []byte(body), 0o644))
	require.NoError(t, f.s.LoadProject(context.Background(), "/p.lab"))

	assert.Equal(t, "/clips/other.mp4", f.s.VideoPath)
	assert.Equal(t, 2, f.dec.Loads)
	require.Equal(t, 1, f.s.Store.Len())
	assert.Equal(t, geom.Point{X: 3, Y: 4}, f.s.Store.At(0).Pos)
}

func TestArchivedAndRestore(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "16ms")
	f.s.StartFrame = 2
	f.s.Store.AddPoint(0.1, geom.Point{X: 1, Y: 2})

	rec, ss := f.s.Archived()
	assert.Equal(t, f.s.ID, rec.ID)
	assert.Equal(t, "clip.mp4", rec.VideoPath)
	require.Len(t, ss, 1)

	other := newFixture(t, "16ms")
	other.s.Restore(rec, ss)
	assert.Equal(t, rec.ID, other.s.ID)
	assert.Equal(t, 2, other.s.StartFrame)
	assert.Equal(t, ss, other.s.Store.Samples())
}

func TestRunBackToBack(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "0s")
	f.script.Updates = []testutil.Step{
		testutil.OkAt(124, 120, 40, 40),
		testutil.OkAt(128, 120, 40, 40),
	}
	f.selectTarget(t)
	require.NoError(t, f.s.Step(0))
	require.True(t, f.s.Controller.StartTracking())

	calls := 0
	err := f.s.Run(context.Background(), func() bool {
		calls++
		return calls > 2
	})
	require.NoError(t, err)
	assert.Equal(t, 2, f.s.Store.Len())
	assert.Equal(t, 0, f.wall.ActiveTickers())
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "0s")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.s.Run(ctx, func() bool { return false })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunOnTicker(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "40ms")
	require.NoError(t, f.s.Clock.TogglePlay())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- f.s.Run(ctx, func() bool { return f.s.Clock.Time() >= 0.12-eps })
	}()

	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			assert.Equal(t, 0, f.wall.ActiveTickers(), "ticker stopped on exit")
			return
		default:
		}
		f.wall.Advance(40 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}
}

// batchFixture steps back to back and gives up after stalled idle steps.
func batchFixture(t *testing.T, dec *testutil.SyntheticDecoder, stalled int) *fixture {
	t.Helper()
	cfg := config.Empty()
	noWait := "0s"
	cfg.TickInterval = &noWait
	cfg.MaxStalledSteps = &stalled
	return newFixtureWith(t, cfg, dec)
}

func TestRunTrackingUntilEdge(t *testing.T) {
	t.Parallel()
	f := batchFixture(t, testutil.NewSyntheticDecoder(25, 100, 12, 320, 240), 5)
	f.script.Updates = []testutil.Step{
		testutil.OkAt(150, 120, 40, 40),
		testutil.OkAt(200, 120, 40, 40),
		testutil.OkAt(250, 120, 40, 40),
		testutil.OkAt(315, 120, 40, 40),
	}
	f.selectTarget(t)
	require.NoError(t, f.s.Step(0))
	require.True(t, f.s.Controller.StartTracking())

	require.NoError(t, f.s.RunTracking(context.Background()))
	assert.Equal(t, autotrack.Idle, f.s.Controller.State())
	assert.InDeltaSlice(t, []float64{0, 0.04, 0.08}, sampleTimes(f.s.Store), 1e-9)
}

func TestRunTrackingStopsOnRejectedJumps(t *testing.T) {
	t.Parallel()
	f := batchFixture(t, testutil.NewSyntheticDecoder(25, 100, 12, 320, 240), 5)
	// Every box lands 170px from the target, past the 150px jump limit.
	for i := 0; i < 1000; i++ {
		f.script.Updates = append(f.script.Updates, testutil.OkAt(290, 120, 40, 40))
	}
	f.selectTarget(t)
	require.NoError(t, f.s.Step(0))
	require.True(t, f.s.Controller.StartTracking())

	err := f.s.RunTracking(context.Background())
	require.ErrorIs(t, err, ErrStalled)
	assert.Contains(t, err.Error(), "no progress in 5 steps")
	assert.Equal(t, autotrack.Idle, f.s.Controller.State())
	assert.Zero(t, f.s.Store.Len())
	assert.InDelta(t, 0, f.s.Clock.Time(), eps)
	assert.Equal(t, 5, f.script.UpdateCalls)
	assert.Zero(t, f.script.Live(), "tracker released")
}

func TestRunTrackingStopsWhenStreamEndsEarly(t *testing.T) {
	t.Parallel()
	// Ten frames, but the container claims two seconds.
	dec := testutil.NewSyntheticDecoder(25, 10, 5, 320, 240)
	dec.Info.DurationSec = 2
	f := batchFixture(t, dec, 4)
	for i := 1; i <= 40; i++ {
		f.script.Updates = append(f.script.Updates, testutil.OkAt(120+float64(i), 120, 40, 40))
	}
	f.selectTarget(t)
	require.NoError(t, f.s.Step(0))
	require.True(t, f.s.Controller.StartTracking())

	err := f.s.RunTracking(context.Background())
	require.ErrorIs(t, err, ErrStalled)
	assert.Equal(t, autotrack.Idle, f.s.Controller.State())
	assert.Equal(t, 10, f.s.Store.Len())
	assert.InDelta(t, 0.36, f.s.Clock.Time(), eps)
}

func TestRunTrackingCancelled(t *testing.T) {
	t.Parallel()
	f := batchFixture(t, testutil.NewSyntheticDecoder(25, 100, 12, 320, 240), 5)
	f.selectTarget(t)
	require.NoError(t, f.s.Step(0))
	require.True(t, f.s.Controller.StartTracking())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.s.RunTracking(ctx), context.Canceled)
	assert.Equal(t, autotrack.Tracking, f.s.Controller.State())
}
