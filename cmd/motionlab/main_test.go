package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motionlab/internal/autotrack"
	"github.com/banshee-data/motionlab/internal/config"
	"github.com/banshee-data/motionlab/internal/media/framelog"
	"github.com/banshee-data/motionlab/internal/monitoring"
	"github.com/banshee-data/motionlab/internal/project"
	"github.com/banshee-data/motionlab/internal/testutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), append([]string{"-env", ""}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// recordClip writes a 30 frame 25 fps 160x120 frame log and returns its path.
func recordClip(t *testing.T) string {
	t.Helper()
	dec := testutil.NewSyntheticDecoder(25, 30, 5, 160, 120)
	info, err := dec.Load(context.Background(), "synthetic")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "clip"+framelog.FileExtension)
	n, err := framelog.Capture(dec, info, "synthetic", path)
	require.NoError(t, err)
	require.EqualValues(t, 30, n)
	return path
}

// scriptTracker replaces the tracker factory for the duration of the test.
func scriptTracker(t *testing.T, script *testutil.TrackerScript) {
	t.Helper()
	saved := trackerFactory
	trackerFactory = func(int) autotrack.Factory { return script.Factory() }
	t.Cleanup(func() { trackerFactory = saved })
}

// trackClip tracks a target moving right 10px per frame until it reaches
// the frame edge and returns the project path.
func trackClip(t *testing.T, clip string) string {
	t.Helper()
	script := &testutil.TrackerScript{}
	for i := 1; i <= 8; i++ {
		script.Updates = append(script.Updates, testutil.OkAt(60+10*float64(i), 60+float64(i), 40, 40))
	}
	script.Updates = append(script.Updates, testutil.OkAt(155, 69, 40, 40))
	scriptTracker(t, script)

	out := filepath.Join(t.TempDir(), "clip"+project.Extension)
	code, stdout, stderr := runCmd(t, "track", "-x", "40", "-y", "40", "-w", "40", "-h", "40", "-o", out, clip)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "tracked 8 samples")
	assert.Contains(t, stdout, "stopped IDLE")
	assert.Contains(t, stdout, "(tracker finished)")
	assert.Zero(t, script.Live(), "tracker released")
	return out
}

func TestVersionAndHelp(t *testing.T) {
	code, stdout, _ := runCmd(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "motionlab dev")

	code, stdout, _ = runCmd(t, "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Commands:")
}

func TestUnknownAndMissingCommand(t *testing.T) {
	code, _, stderr := runCmd(t, "bogus")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown command: bogus")

	code, _, stderr = runCmd(t)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage:")
}

func TestBadConfigFails(t *testing.T) {
	code, _, stderr := runCmd(t, "-config", filepath.Join(t.TempDir(), "missing.yaml"), "probe", "x")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Error:")
}

func TestLoadConfigReadsEnvFile(t *testing.T) {
	_, had := os.LookupEnv(config.EnvFFmpeg)
	require.False(t, had, "test needs %s unset", config.EnvFFmpeg)
	t.Cleanup(func() { os.Unsetenv(config.EnvFFmpeg) })

	env := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(env, []byte(config.EnvFFmpeg+"=/opt/bin/ffmpeg\n"), 0o644))

	cfg, err := loadConfig(env, "")
	require.NoError(t, err)
	assert.Equal(t, "/opt/bin/ffmpeg", cfg.GetFFmpegPath())

	_, err = loadConfig(filepath.Join(t.TempDir(), "absent.env"), "")
	assert.NoError(t, err, "a missing env file is ignored")
}

func TestProbeFrameLog(t *testing.T) {
	clip := recordClip(t)

	code, stdout, stderr := runCmd(t, "probe", clip)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "size:      160x120")
	assert.Contains(t, stdout, "fps:       25.000")
	assert.Contains(t, stdout, "frames:    30")
}

func TestProbeNeedsInput(t *testing.T) {
	code, _, stderr := runCmd(t, "probe")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "expected one video argument")
}

func TestFrame(t *testing.T) {
	clip := recordClip(t)
	out := filepath.Join(t.TempDir(), "snap", "f7.png")

	code, stdout, stderr := runCmd(t, "frame", "-n", "7", "-width", "80", "-o", out, clip)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "frame 7 at 0.2800s")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}

func TestRecordFromFrameLog(t *testing.T) {
	clip := recordClip(t)
	out := filepath.Join(t.TempDir(), "copy"+framelog.FileExtension)

	code, stdout, stderr := runCmd(t, "record", "-o", out, clip)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "recorded 30 frames")

	r := framelog.NewReplayer()
	_, err := r.Load(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, 30, r.TotalFrames())
}

func TestTrackWritesProject(t *testing.T) {
	clip := recordClip(t)
	path := trackClip(t, clip)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	p, err := project.Read(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, clip, p.VideoPath)
	require.Len(t, p.Samples, 8)
	assert.InDelta(t, 0.28, p.Samples[7].Time, 1e-6)
	assert.Equal(t, 140.0, p.Samples[7].Pos.X)
}

func TestTrackRejectsTinySelection(t *testing.T) {
	clip := recordClip(t)
	scriptTracker(t, &testutil.TrackerScript{})

	code, _, stderr := runCmd(t, "track", "-x", "40", "-y", "40", "-w", "2", "-h", "2", clip)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "too small")
}

func TestTrackInitFailure(t *testing.T) {
	clip := recordClip(t)
	scriptTracker(t, &testutil.TrackerScript{Inits: []testutil.Step{testutil.FailStep()}})

	code, _, stderr := runCmd(t, "track", "-x", "40", "-y", "40", "-w", "40", "-h", "40", clip)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "could not be initialised")
}

func TestTrackStopsWhenStalled(t *testing.T) {
	clip := recordClip(t)
	script := &testutil.TrackerScript{}
	for i := 0; i < 100; i++ {
		script.Updates = append(script.Updates, testutil.OkAt(120, 60, 40, 40))
	}
	scriptTracker(t, script)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "batch.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("max_jump_floor_px: 20\nmax_stalled_steps: 3\n"), 0o644))

	out := filepath.Join(dir, "clip"+project.Extension)
	code, stdout, stderr := runCmd(t, "-config", cfgPath,
		"track", "-x", "40", "-y", "40", "-w", "40", "-h", "40", "-o", out, clip)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "tracked 0 samples")
	assert.Contains(t, stdout, "stopped IDLE at 0.0000s (tracking stalled: no progress in 3 steps")
	assert.Equal(t, 3, script.UpdateCalls)
	assert.Zero(t, script.Live(), "tracker released")
	assert.FileExists(t, out)
}

func TestExportAll(t *testing.T) {
	clip := recordClip(t)
	proj := trackClip(t, clip)
	dir := t.TempDir()

	code, stdout, stderr := runCmd(t, "export", "-format", "all", "-o", dir, proj)
	require.Equal(t, 0, code, stderr)

	for _, name := range []string{
		"export_clip.csv", "regressi_clip.txt", "clipboard_clip.tsv",
		"plot_clip_y-x.png", "chart_clip.html",
	} {
		assert.FileExists(t, filepath.Join(dir, name))
		assert.Contains(t, stdout, name)
	}

	csv, err := os.ReadFile(filepath.Join(dir, "export_clip.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csv)), "\n")
	assert.Len(t, lines, 9)
}

func TestExportFrenchCSV(t *testing.T) {
	clip := recordClip(t)
	proj := trackClip(t, clip)
	dir := t.TempDir()

	code, _, stderr := runCmd(t, "export", "-locale", "fr", "-o", dir, proj)
	require.Equal(t, 0, code, stderr)

	csv, err := os.ReadFile(filepath.Join(dir, "export_clip.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(csv), "Temps (s);"))
	assert.Contains(t, string(csv), "0,04;80;62")
}

func TestExportErrors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.lab")
	require.NoError(t, os.WriteFile(empty, []byte("MOTIONLAB_V1\nPOINTS|0\n"), 0o644))

	code, _, stderr := runCmd(t, "export", empty)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "no samples")

	code, _, stderr = runCmd(t, "export", "-format", "xls", empty)
	assert.Equal(t, 1, code)
	assert.NotEmpty(t, stderr)
}

func TestFit(t *testing.T) {
	clip := recordClip(t)
	proj := trackClip(t, clip)

	code, stdout, stderr := runCmd(t, "fit", proj)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "x-t")
	assert.Contains(t, stdout, "linear")

	code, stdout, stderr = runCmd(t, "fit", "-q", "x-t", proj)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, 1, strings.Count(stdout, "\n"))
	assert.Contains(t, stdout, "R² = 1.0000")
}

func TestArchiveLifecycle(t *testing.T) {
	clip := recordClip(t)
	proj := trackClip(t, clip)
	db := filepath.Join(t.TempDir(), "archive.db")

	code, stdout, stderr := runCmd(t, "archive", "-db", db, "import", proj)
	require.Equal(t, 0, code, stderr)
	fields := strings.Fields(stdout)
	require.NotEmpty(t, fields)
	id := fields[len(fields)-1]

	code, stdout, _ = runCmd(t, "archive", "-db", db, "list")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, id)
	assert.Contains(t, stdout, "8 samples")

	restored := filepath.Join(t.TempDir(), "restored.lab")
	code, _, stderr = runCmd(t, "archive", "-db", db, "-o", restored, "restore", id)
	require.Equal(t, 0, code, stderr)
	want, err := os.ReadFile(proj)
	require.NoError(t, err)
	got, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))

	code, stdout, _ = runCmd(t, "archive", "-db", db, "schema")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "schema version 2")

	code, stdout, stderr = runCmd(t, "archive", "-db", db, "force", "2")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "forced schema version 2")
	code, _, stderr = runCmd(t, "archive", "-db", db, "force", "9")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "version must be 1..2")
	code, stdout, _ = runCmd(t, "archive", "-db", db, "list")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, id)

	code, _, _ = runCmd(t, "archive", "-db", db, "delete", id)
	require.Equal(t, 0, code)
	code, _, stderr = runCmd(t, "archive", "-db", db, "delete", id)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "not found")
}
