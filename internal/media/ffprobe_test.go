package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const probeJSON = `{
  "streams": [
    {"index": 0, "codec_type": "audio", "codec_name": "aac"},
    {
      "index": 1,
      "codec_type": "video",
      "codec_name": "h264",
      "pix_fmt": "yuv420p",
      "width": 1280,
      "height": 720,
      "avg_frame_rate": "30000/1001",
      "r_frame_rate": "30/1",
      "time_base": "1/30000",
      "duration": "10.010000",
      "nb_frames": "300"
    }
  ],
  "format": {"duration": "10.050000", "start_time": "0.066733"}
}`

func TestParseProbe(t *testing.T) {
	t.Parallel()

	res, err := parseProbe([]byte(probeJSON))
	require.NoError(t, err)

	info := res.Info
	assert.Equal(t, 1280, info.Width)
	assert.Equal(t, 720, info.Height)
	assert.Equal(t, 1, info.StreamIndex)
	assert.Equal(t, "h264", info.CodecName)
	assert.Equal(t, "yuv420p", info.PixelFormat)
	assert.InDelta(t, 29.97, info.FPS, 0.001)
	assert.InDelta(t, 10.01, info.DurationSec, 1e-9)
	assert.Equal(t, int64(300), info.FrameCount)
	assert.InDelta(t, 1.0/30000, info.TimeBase, 1e-12)
	assert.InDelta(t, 0.066733, res.StartTime, 1e-9)
}

func TestParseProbeFallbacks(t *testing.T) {
	t.Parallel()

	data := `{
  "streams": [{
    "index": 0, "codec_type": "video", "codec_name": "mjpeg", "pix_fmt": "yuvj420p",
    "width": 640, "height": 480,
    "avg_frame_rate": "0/0", "r_frame_rate": "25/1", "time_base": "1/25"
  }],
  "format": {"duration": "4.000000"}
}`
	res, err := parseProbe([]byte(data))
	require.NoError(t, err)
	assert.InDelta(t, 25.0, res.Info.FPS, 1e-9)
	assert.InDelta(t, 4.0, res.Info.DurationSec, 1e-9)
	assert.Equal(t, int64(100), res.Info.FrameCount)
}

func TestParseProbeErrors(t *testing.T) {
	t.Parallel()

	_, err := parseProbe([]byte(`{"streams":[{"codec_type":"audio"}]}`))
	assert.ErrorIs(t, err, ErrNoVideoStream)

	_, err = parseProbe([]byte(`not json`))
	assert.Error(t, err)

	_, err = parseProbe([]byte(`{"streams":[{"codec_type":"video","width":0,"height":0,"time_base":"1/25"}]}`))
	assert.Error(t, err)
}

func TestParsePacketIndex(t *testing.T) {
	t.Parallel()

	// Decode order with B-frames: I P B B
	data := "0,K__\n3000,___\n1000,___\n2000,___\n\n4000,K__\n"
	entries, err := parsePacketIndex([]byte(data))
	require.NoError(t, err)
	require.Len(t, entries, 5)

	for i, want := range []int64{0, 1000, 2000, 3000, 4000} {
		assert.Equal(t, want, entries[i].PTS)
		assert.True(t, entries[i].HasPTS)
	}
	assert.True(t, entries[0].Key)
	assert.False(t, entries[1].Key)
	assert.True(t, entries[4].Key)
}

func TestParsePacketIndexMissingPTS(t *testing.T) {
	t.Parallel()

	entries, err := parsePacketIndex([]byte("200,K_\nN/A,__\n100,__\n"))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(200), entries[0].PTS)
	assert.False(t, entries[1].HasPTS)

	_, err = parsePacketIndex([]byte("abc,K_\n"))
	assert.Error(t, err)
}

func TestKeyframeAtOrBefore(t *testing.T) {
	t.Parallel()

	entries := []packetEntry{
		{PTS: 0, HasPTS: true, Key: true},
		{PTS: 100, HasPTS: true},
		{PTS: 200, HasPTS: true},
		{PTS: 300, HasPTS: true, Key: true},
		{PTS: 400, HasPTS: true},
	}
	tests := []struct {
		ticks int64
		want  int
	}{
		{-50, 0},
		{0, 0},
		{250, 0},
		{300, 3},
		{10000, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, keyframeAtOrBefore(entries, tt.ticks), "ticks=%d", tt.ticks)
	}
}

func TestParseRational(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 29.97, parseRational("30000/1001"), 0.001)
	assert.Equal(t, 0.0, parseRational("0/0"))
	assert.Equal(t, 25.0, parseRational("25"))
	assert.Equal(t, 0.0, parseRational("x/y"))
}
