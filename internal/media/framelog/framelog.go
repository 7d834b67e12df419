// Package framelog records decoded video frames to a chunked on-disk log and
// replays them through the media.Decoder contract.
//
// Layout of a log directory:
//
//	header.json          LogHeader (stream metadata, frame count)
//	index.bin            fixed-size little-endian IndexEntry records
//	frames/chunk_NNNN.fl length-prefixed PNG payloads
package framelog

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/banshee-data/motionlab/internal/media"
)

// FileExtension is the conventional suffix for frame log directories.
const FileExtension = ".mlframes"

// ChunkSize is the number of frames per chunk file.
const ChunkSize = 250

// LogHeader contains metadata about a recorded log.
type LogHeader struct {
	Version     string           `json:"version"`
	CreatedNs   int64            `json:"created_ns"`
	Source      string           `json:"source"`
	TotalFrames uint64           `json:"total_frames"`
	Stream      media.StreamInfo `json:"stream"`
}

// IndexEntry is an entry in the seek index.
type IndexEntry struct {
	FrameID uint64
	PTS     int64
	Flags   uint32
	ChunkID uint32
	Offset  uint32
}

const (
	flagHasPTS uint32 = 1 << iota
	flagKey
)

func chunkPath(basePath string, chunkIdx int) string {
	return filepath.Join(basePath, "frames", fmt.Sprintf("chunk_%04d.fl", chunkIdx))
}

// Recorder writes decoded frames to a log directory.
type Recorder struct {
	basePath string

	header       LogHeader
	index        []IndexEntry
	currentChunk int
	chunkFile    *os.File
	chunkOffset  uint32

	frameCount uint64

	mu     sync.Mutex
	closed bool
}

// NewRecorder creates a Recorder writing to basePath. If basePath is empty,
// a timestamped directory is created in the system temp dir.
func NewRecorder(basePath, source string, info media.StreamInfo) (*Recorder, error) {
	if basePath == "" {
		basePath = filepath.Join(os.TempDir(), fmt.Sprintf("motionlab_%d%s", time.Now().Unix(), FileExtension))
	}

	if err := os.MkdirAll(filepath.Join(basePath, "frames"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &Recorder{
		basePath:     basePath,
		currentChunk: -1,
		index:        make([]IndexEntry, 0),
		header: LogHeader{
			Version:   "1.0",
			CreatedNs: time.Now().UnixNano(),
			Source:    source,
			Stream:    info,
		},
	}, nil
}

// Record appends a frame to the log. Frames without a picture are skipped.
func (r *Recorder) Record(frame *media.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recorder is closed")
	}
	if frame == nil || frame.Image == nil {
		return nil
	}

	chunkIdx := int(r.frameCount / ChunkSize)
	if chunkIdx != r.currentChunk {
		if err := r.rotateChunk(chunkIdx); err != nil {
			return err
		}
	}

	var payload bytes.Buffer
	if err := png.Encode(&payload, frame.Image); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(payload.Len()))
	if _, err := r.chunkFile.Write(lenBuf); err != nil {
		return fmt.Errorf("failed to write frame length: %w", err)
	}
	if _, err := r.chunkFile.Write(payload.Bytes()); err != nil {
		return fmt.Errorf("failed to write frame data: %w", err)
	}

	var flags uint32
	if frame.HasPTS {
		flags |= flagHasPTS
	}
	if frame.Key {
		flags |= flagKey
	}
	r.index = append(r.index, IndexEntry{
		FrameID: r.frameCount,
		PTS:     frame.PTS,
		Flags:   flags,
		ChunkID: uint32(chunkIdx),
		Offset:  r.chunkOffset,
	})

	r.chunkOffset += uint32(4 + payload.Len())
	r.frameCount++
	return nil
}

func (r *Recorder) rotateChunk(chunkIdx int) error {
	if r.chunkFile != nil {
		if err := r.chunkFile.Close(); err != nil {
			return err
		}
	}

	f, err := os.Create(chunkPath(r.basePath, chunkIdx))
	if err != nil {
		return fmt.Errorf("failed to create chunk file: %w", err)
	}

	r.chunkFile = f
	r.currentChunk = chunkIdx
	r.chunkOffset = 0
	return nil
}

// Close finalises the log and writes the header and index.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.chunkFile != nil {
		if err := r.chunkFile.Close(); err != nil {
			return fmt.Errorf("failed to close chunk: %w", err)
		}
	}

	r.header.TotalFrames = r.frameCount
	headerData, err := json.MarshalIndent(r.header, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := os.WriteFile(filepath.Join(r.basePath, "header.json"), headerData, 0644); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	indexFile, err := os.Create(filepath.Join(r.basePath, "index.bin"))
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer indexFile.Close()

	for _, entry := range r.index {
		if err := binary.Write(indexFile, binary.LittleEndian, entry); err != nil {
			return fmt.Errorf("failed to write index: %w", err)
		}
	}
	return nil
}

// Path returns the base path of the log.
func (r *Recorder) Path() string {
	return r.basePath
}

// FrameCount returns the number of frames recorded.
func (r *Recorder) FrameCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frameCount
}

// Replayer reads frames back from a log. It satisfies media.Decoder; seeking
// lands on the recorded keyframe at or before the target, like a demuxer.
type Replayer struct {
	basePath string
	header   LogHeader
	index    []IndexEntry

	currentFrame int
	currentChunk int
	chunkData    []byte
	loaded       bool

	mu sync.Mutex
}

var _ media.Decoder = (*Replayer)(nil)

// NewReplayer returns an unloaded Replayer; call Load with a log directory.
func NewReplayer() *Replayer {
	return &Replayer{currentChunk: -1}
}

// Load opens the log directory at basePath.
func (r *Replayer) Load(_ context.Context, basePath string) (media.StreamInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	headerData, err := os.ReadFile(filepath.Join(basePath, "header.json"))
	if err != nil {
		return media.StreamInfo{}, fmt.Errorf("failed to read header: %w", err)
	}
	var header LogHeader
	if err := json.Unmarshal(headerData, &header); err != nil {
		return media.StreamInfo{}, fmt.Errorf("failed to parse header: %w", err)
	}

	indexFile, err := os.Open(filepath.Join(basePath, "index.bin"))
	if err != nil {
		return media.StreamInfo{}, fmt.Errorf("failed to open index: %w", err)
	}
	defer indexFile.Close()

	index := make([]IndexEntry, 0, header.TotalFrames)
	for {
		var entry IndexEntry
		if err := binary.Read(indexFile, binary.LittleEndian, &entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return media.StreamInfo{}, fmt.Errorf("failed to read index: %w", err)
		}
		index = append(index, entry)
	}

	r.basePath = basePath
	r.header = header
	r.index = index
	r.currentFrame = 0
	r.currentChunk = -1
	r.chunkData = nil
	r.loaded = true
	return header.Stream, nil
}

// Header returns the log header.
func (r *Replayer) Header() LogHeader {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header
}

// TotalFrames returns the number of frames in the log.
func (r *Replayer) TotalFrames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.index)
}

// DecodeNext reads the current frame and advances.
func (r *Replayer) DecodeNext() (*media.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loaded {
		return nil, media.ErrNotLoaded
	}
	if r.currentFrame >= len(r.index) {
		return nil, media.ErrEndOfStream
	}

	entry := r.index[r.currentFrame]
	if int(entry.ChunkID) != r.currentChunk {
		if err := r.loadChunk(int(entry.ChunkID)); err != nil {
			return nil, err
		}
	}

	offset := entry.Offset
	if offset+4 > uint32(len(r.chunkData)) {
		return nil, fmt.Errorf("invalid frame offset")
	}
	frameLen := binary.LittleEndian.Uint32(r.chunkData[offset:])
	offset += 4
	if offset+frameLen > uint32(len(r.chunkData)) {
		return nil, fmt.Errorf("invalid frame length")
	}

	decoded, err := png.Decode(bytes.NewReader(r.chunkData[offset : offset+frameLen]))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame %d: %w", entry.FrameID, err)
	}

	r.currentFrame++
	return &media.Frame{
		Image:  toRGBA(decoded),
		Stream: r.header.Stream.StreamIndex,
		PTS:    entry.PTS,
		HasPTS: entry.Flags&flagHasPTS != 0,
		Key:    entry.Flags&flagKey != 0,
	}, nil
}

// SeekApprox moves to the last keyframe whose timestamp is not after ticks.
// Frames before the first keyframe are only reachable from the start.
func (r *Replayer) SeekApprox(ticks int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loaded {
		return media.ErrNotLoaded
	}

	pos := 0
	for i, e := range r.index {
		if e.Flags&flagHasPTS == 0 {
			continue
		}
		if e.PTS > ticks {
			break
		}
		if e.Flags&flagKey != 0 {
			pos = i
		}
	}
	r.currentFrame = pos
	return nil
}

// Unload forgets the log.
func (r *Replayer) Unload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.loaded = false
	r.index = nil
	r.chunkData = nil
	r.currentChunk = -1
	return nil
}

func (r *Replayer) loadChunk(chunkIdx int) error {
	data, err := os.ReadFile(chunkPath(r.basePath, chunkIdx))
	if err != nil {
		return fmt.Errorf("failed to read chunk: %w", err)
	}
	r.chunkData = data
	r.currentChunk = chunkIdx
	return nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Capture decodes every frame of dec into a new log at basePath and returns
// the number of frames written. dec must already be loaded.
func Capture(dec media.Decoder, info media.StreamInfo, source, basePath string) (uint64, error) {
	rec, err := NewRecorder(basePath, source, info)
	if err != nil {
		return 0, err
	}
	if err := dec.SeekApprox(0); err != nil {
		rec.Close()
		return 0, fmt.Errorf("failed to rewind source: %w", err)
	}
	for {
		f, err := dec.DecodeNext()
		if errors.Is(err, media.ErrEndOfStream) {
			break
		}
		if err != nil {
			rec.Close()
			return rec.FrameCount(), err
		}
		if !f.Displayable(info.StreamIndex) {
			continue
		}
		if err := rec.Record(f); err != nil {
			rec.Close()
			return rec.FrameCount(), err
		}
	}
	return rec.FrameCount(), rec.Close()
}
