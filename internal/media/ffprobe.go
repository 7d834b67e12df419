package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// probeOutput mirrors the parts of `ffprobe -print_format json` we read.
type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration  string `json:"duration"`
		StartTime string `json:"start_time"`
	} `json:"format"`
}

type probeStream struct {
	Index        int    `json:"index"`
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	PixFmt       string `json:"pix_fmt"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	TimeBase     string `json:"time_base"`
	Duration     string `json:"duration"`
	NbFrames     string `json:"nb_frames"`
}

// probeResult is the decoded metadata plus the container start offset,
// which ffmpeg adds to every -ss position.
type probeResult struct {
	Info      StreamInfo
	StartTime float64
}

// packetEntry is one video packet of the seek index, in presentation order.
type packetEntry struct {
	PTS    int64
	HasPTS bool
	Key    bool
}

// probe runs ffprobe on path and returns the first video stream's metadata.
func probe(ctx context.Context, ffprobePath, path string) (probeResult, error) {
	if ffprobePath == "" {
		return probeResult{}, fmt.Errorf("ffprobe path is empty")
	}
	if path == "" {
		return probeResult{}, fmt.Errorf("video path is required")
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	out, err := exec.CommandContext(ctx, ffprobePath, args...).Output()
	if err != nil {
		return probeResult{}, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(out)
}

func parseProbe(data []byte) (probeResult, error) {
	var po probeOutput
	if err := json.Unmarshal(data, &po); err != nil {
		return probeResult{}, fmt.Errorf("failed to parse ffprobe JSON: %w", err)
	}

	var vs *probeStream
	for i := range po.Streams {
		if po.Streams[i].CodecType == "video" {
			vs = &po.Streams[i]
			break
		}
	}
	if vs == nil {
		return probeResult{}, ErrNoVideoStream
	}

	info := StreamInfo{
		Width:       vs.Width,
		Height:      vs.Height,
		CodecName:   vs.CodecName,
		PixelFormat: vs.PixFmt,
		StreamIndex: vs.Index,
		TimeBase:    parseRational(vs.TimeBase),
	}

	// avg_frame_rate is "0/0" for streams without a stable average.
	info.FPS = parseRational(vs.AvgFrameRate)
	if info.FPS <= 0 {
		info.FPS = parseRational(vs.RFrameRate)
	}

	info.DurationSec = parseFloat(vs.Duration)
	if info.DurationSec <= 0 {
		info.DurationSec = parseFloat(po.Format.Duration)
	}

	if n, err := strconv.ParseInt(vs.NbFrames, 10, 64); err == nil && n > 0 {
		info.FrameCount = n
	} else {
		info.FrameCount = int64(info.DurationSec * info.FPS)
	}

	if info.Width <= 0 || info.Height <= 0 {
		return probeResult{}, fmt.Errorf("video stream has invalid size %dx%d", info.Width, info.Height)
	}
	if info.TimeBase <= 0 {
		return probeResult{}, fmt.Errorf("video stream has invalid time base %q", vs.TimeBase)
	}

	return probeResult{Info: info, StartTime: parseFloat(po.Format.StartTime)}, nil
}

// probePackets lists the first video stream's packets with their keyframe
// flags, sorted into presentation order.
func probePackets(ctx context.Context, ffprobePath, path string) ([]packetEntry, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "packet=pts,flags",
		"-of", "csv=p=0",
		path,
	}
	out, err := exec.CommandContext(ctx, ffprobePath, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe packet scan failed: %w", err)
	}
	return parsePacketIndex(out)
}

// parsePacketIndex parses "pts,flags" lines and orders them by pts. When any
// packet lacks a pts the decode order is kept as is.
func parsePacketIndex(data []byte) ([]packetEntry, error) {
	var entries []packetEntry
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		ptsField, flags, _ := strings.Cut(line, ",")
		e := packetEntry{Key: strings.HasPrefix(flags, "K")}
		if pts, err := strconv.ParseInt(ptsField, 10, 64); err == nil {
			e.PTS = pts
			e.HasPTS = true
		} else if ptsField != "N/A" {
			return nil, fmt.Errorf("bad packet pts %q", ptsField)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	for _, e := range entries {
		if !e.HasPTS {
			return entries, nil
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].PTS < entries[j].PTS
	})
	return entries, nil
}

// keyframeAtOrBefore returns the position of the last keyframe whose pts is
// not after ticks, or 0 when there is none.
func keyframeAtOrBefore(entries []packetEntry, ticks int64) int {
	pos := 0
	for i, e := range entries {
		if !e.HasPTS {
			continue
		}
		if e.PTS > ticks {
			break
		}
		if e.Key {
			pos = i
		}
	}
	return pos
}

func parseRational(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return parseFloat(s)
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
