package framelog

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motionlab/internal/media"
	"github.com/banshee-data/motionlab/internal/testutil"
)

func captureSynthetic(t *testing.T, n, gop int) (string, *testutil.SyntheticDecoder) {
	t.Helper()

	src := testutil.NewSyntheticDecoder(25, n, gop, 16, 12)
	src.ForeignEvery = 3
	info, err := src.Load(context.Background(), "clip.mp4")
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "clip"+FileExtension)
	written, err := Capture(src, info, "clip.mp4", dir)
	require.NoError(t, err)
	require.Equal(t, uint64(n), written)
	return dir, src
}

func TestCaptureAndReplay(t *testing.T) {
	t.Parallel()

	dir, src := captureSynthetic(t, ChunkSize+20, 10)

	r := NewReplayer()
	info, err := r.Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, src.Info, info)
	assert.Equal(t, ChunkSize+20, r.TotalFrames())
	assert.Equal(t, "clip.mp4", r.Header().Source)

	for i := 0; i < ChunkSize+20; i++ {
		f, err := r.DecodeNext()
		require.NoError(t, err)
		require.Equal(t, i, testutil.FrameNumber(f.Image))
		assert.Equal(t, int64(i)*src.TicksPerFrame(), f.PTS)
		assert.True(t, f.HasPTS)
		assert.Equal(t, i%10 == 0, f.Key)
	}
	_, err = r.DecodeNext()
	assert.ErrorIs(t, err, media.ErrEndOfStream)
	assert.NoError(t, r.Unload())
}

func TestReplayerSeekApprox(t *testing.T) {
	t.Parallel()

	dir, src := captureSynthetic(t, 40, 10)
	r := NewReplayer()
	_, err := r.Load(context.Background(), dir)
	require.NoError(t, err)

	// Frame 27 lies after the keyframe at 20.
	require.NoError(t, r.SeekApprox(27*src.TicksPerFrame()))
	f, err := r.DecodeNext()
	require.NoError(t, err)
	assert.Equal(t, 20, testutil.FrameNumber(f.Image))

	require.NoError(t, r.SeekApprox(-1))
	f, err = r.DecodeNext()
	require.NoError(t, err)
	assert.Equal(t, 0, testutil.FrameNumber(f.Image))
}

func TestReplayerNotLoaded(t *testing.T) {
	t.Parallel()

	r := NewReplayer()
	_, err := r.DecodeNext()
	assert.ErrorIs(t, err, media.ErrNotLoaded)
	assert.ErrorIs(t, r.SeekApprox(0), media.ErrNotLoaded)

	_, err = r.Load(context.Background(), t.TempDir())
	assert.Error(t, err)
}

func TestRecorderSkipsEmptyFrames(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec, err := NewRecorder(dir, "test", media.StreamInfo{Width: 4, Height: 4})
	require.NoError(t, err)

	require.NoError(t, rec.Record(nil))
	require.NoError(t, rec.Record(&media.Frame{}))
	require.NoError(t, rec.Record(&media.Frame{Image: image.NewRGBA(image.Rect(0, 0, 4, 4)), Key: true}))
	assert.Equal(t, uint64(1), rec.FrameCount())
	assert.Equal(t, dir, rec.Path())

	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())
	assert.Error(t, rec.Record(&media.Frame{Image: image.NewRGBA(image.Rect(0, 0, 4, 4))}))

	_, err = os.Stat(filepath.Join(dir, "index.bin"))
	assert.NoError(t, err)
}
