package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"

	"github.com/banshee-data/motionlab/internal/monitoring"
)

var ffLogf = monitoring.Component("ffmpeg")

// FFmpegDecoder decodes video by piping rgb24 frames out of an ffmpeg
// process. Seeking restarts the pipe at a keyframe taken from a packet index
// built with ffprobe, so positioning is keyframe-granular like a demuxer seek.
type FFmpegDecoder struct {
	FFmpegPath  string
	FFprobePath string

	ctx    context.Context
	cancel context.CancelFunc

	path      string
	info      StreamInfo
	startTime float64
	index     []packetEntry

	cmd    *exec.Cmd
	out    io.ReadCloser
	reader *bufio.Reader
	buf    []byte

	// cursor is the index position of the next frame the pipe will emit.
	cursor  int
	restart bool
	eof     bool
	loaded  bool
}

// NewFFmpegDecoder returns a decoder using the given binaries. Empty paths
// fall back to "ffmpeg" and "ffprobe" on PATH.
func NewFFmpegDecoder(ffmpegPath, ffprobePath string) *FFmpegDecoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegDecoder{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}
}

// Load probes path and builds the seek index. The context bounds the
// lifetime of every ffmpeg process started until Unload.
func (d *FFmpegDecoder) Load(ctx context.Context, path string) (StreamInfo, error) {
	if d.loaded {
		if err := d.Unload(); err != nil {
			return StreamInfo{}, err
		}
	}

	res, err := probe(ctx, d.FFprobePath, path)
	if err != nil {
		return StreamInfo{}, err
	}
	index, err := probePackets(ctx, d.FFprobePath, path)
	if err != nil {
		return StreamInfo{}, err
	}
	if len(index) == 0 {
		return StreamInfo{}, fmt.Errorf("no video packets in %s", path)
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.path = path
	d.info = res.Info
	d.startTime = res.StartTime
	d.index = index
	d.buf = make([]byte, res.Info.Width*res.Info.Height*3)
	d.cursor = 0
	d.restart = true
	d.eof = false
	d.loaded = true

	ffLogf("loaded %s: %dx%d %.3f fps %.3fs %s/%s, %d packets",
		path, d.info.Width, d.info.Height, d.info.FPS, d.info.DurationSec,
		d.info.CodecName, d.info.PixelFormat, len(index))
	return d.info, nil
}

// DecodeNext reads the next frame from the pipe.
func (d *FFmpegDecoder) DecodeNext() (*Frame, error) {
	if !d.loaded {
		return nil, ErrNotLoaded
	}
	if d.eof {
		return nil, ErrEndOfStream
	}
	if d.restart {
		if err := d.startPipe(); err != nil {
			return nil, err
		}
	}

	if _, err := io.ReadFull(d.reader, d.buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			d.stopPipe()
			d.eof = true
			return nil, ErrEndOfStream
		}
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}

	img, err := RGBFromRaw(d.buf, d.info.Width, d.info.Height)
	if err != nil {
		return nil, err
	}

	f := &Frame{Image: img, Stream: d.info.StreamIndex}
	if d.cursor < len(d.index) {
		e := d.index[d.cursor]
		f.PTS, f.HasPTS, f.Key = e.PTS, e.HasPTS, e.Key
	}
	d.cursor++
	return f, nil
}

// SeekApprox positions the decoder at the last keyframe at or before ticks.
// The pipe is restarted lazily on the next DecodeNext.
func (d *FFmpegDecoder) SeekApprox(ticks int64) error {
	if !d.loaded {
		return ErrNotLoaded
	}
	d.stopPipe()
	d.cursor = keyframeAtOrBefore(d.index, ticks)
	d.restart = true
	d.eof = false
	return nil
}

// Unload stops any running process and forgets the media.
func (d *FFmpegDecoder) Unload() error {
	if !d.loaded {
		return nil
	}
	d.stopPipe()
	d.cancel()
	d.loaded = false
	d.index = nil
	d.buf = nil
	return nil
}

// Info returns the metadata of the loaded stream.
func (d *FFmpegDecoder) Info() StreamInfo { return d.info }

func (d *FFmpegDecoder) startPipe() error {
	d.stopPipe()

	var ss float64
	if d.cursor < len(d.index) && d.index[d.cursor].HasPTS {
		ss = d.info.TicksToSeconds(d.index[d.cursor].PTS) - d.startTime
	}

	cmd := exec.CommandContext(d.ctx, d.FFmpegPath, ffmpegArgs(d.path, ss)...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open ffmpeg pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	d.cmd = cmd
	d.out = out
	d.reader = bufio.NewReaderSize(out, len(d.buf))
	d.restart = false
	return nil
}

func (d *FFmpegDecoder) stopPipe() {
	if d.cmd == nil {
		return
	}
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	_ = d.out.Close()
	if err := d.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			ffLogf("ffmpeg wait: %v", err)
		}
	}
	d.cmd = nil
	d.out = nil
	d.reader = nil
}

// ffmpegArgs builds the decode command. The start position is floored to
// whole microseconds and nudged back by one so the keyframe itself is never
// dropped by ffmpeg's accurate seek.
func ffmpegArgs(path string, startSec float64) []string {
	args := []string{"-v", "error", "-nostdin"}
	if startSec > 0 {
		us := math.Floor(startSec*1e6) - 1
		if us > 0 {
			args = append(args, "-ss", strconv.FormatFloat(us/1e6, 'f', 6, 64))
		}
	}
	args = append(args,
		"-i", path,
		"-map", "0:v:0",
		"-an", "-sn",
		"-fps_mode", "passthrough",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	)
	return args
}
