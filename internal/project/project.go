// Package project reads and writes MotionLab project files: the video path,
// the calibration, the start frame and the measured samples, in the
// line-oriented MOTIONLAB_V1 text format.
package project

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/motionlab/internal/calibration"
	"github.com/banshee-data/motionlab/internal/fsutil"
	"github.com/banshee-data/motionlab/internal/geom"
	"github.com/banshee-data/motionlab/internal/monitoring"
	"github.com/banshee-data/motionlab/internal/samples"
)

const (
	// Header is the first line written to every project file.
	Header = "MOTIONLAB_V1"
	// Extension is the default project file extension.
	Extension = ".lab"

	headerPrefix = "MOTIONLAB"
	calibFields  = 10
	maxLineBytes = 1 << 20
)

var (
	// ErrBadHeader is returned when the first line is not a MotionLab header.
	ErrBadHeader = errors.New("project: not a MotionLab project file")
	// ErrTruncated is returned when sample lines are missing or malformed.
	ErrTruncated = errors.New("project: truncated or malformed sample data")
)

var logf = monitoring.Component("project")

// Project is the persisted state of a session.
type Project struct {
	VideoPath   string
	Calibration calibration.Calibration
	StartFrame  int
	Samples     []samples.Sample
}

// New returns an empty project for videoPath with default calibration.
func New(videoPath string) *Project {
	return &Project{VideoPath: videoPath, Calibration: calibration.Default()}
}

// DefaultName returns the project file name suggested for a video:
// the video's base name with the project extension.
func DefaultName(videoPath string) string {
	base := filepath.Base(videoPath)
	if videoPath == "" || base == "." || base == string(filepath.Separator) {
		return "project" + Extension
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + Extension
}

// Write encodes p to w.
func Write(w io.Writer, p *Project) error {
	bw := bufio.NewWriter(w)
	c := p.Calibration
	fmt.Fprintln(bw, Header)
	fmt.Fprintf(bw, "VIDEO|%s\n", p.VideoPath)
	fmt.Fprintf(bw, "CALIB|%f|%f|%f|%d|%f|%f|%f|%f|%f|%d\n",
		c.PxPerMeter, c.Origin.X, c.Origin.Y, int(c.Axes),
		c.ScaleA.X, c.ScaleA.Y, c.ScaleB.X, c.ScaleB.Y,
		c.RealDistance, p.StartFrame)
	fmt.Fprintf(bw, "POINTS|%d\n", len(p.Samples))
	for _, s := range p.Samples {
		fmt.Fprintf(bw, "P|%f|%f|%f\n", s.Time, s.Pos.X, s.Pos.Y)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write project: %w", err)
	}
	return nil
}

// Read decodes a project from r. On error the returned project is nil; no
// partially decoded state escapes.
func Read(r io.Reader) (*Project, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read project header: %w", err)
		}
		return nil, ErrBadHeader
	}
	if !strings.HasPrefix(sc.Text(), headerPrefix) {
		return nil, ErrBadHeader
	}

	p := New("")
	announced := -1
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch {
		case strings.HasPrefix(line, "VIDEO|"):
			p.VideoPath = strings.TrimPrefix(line, "VIDEO|")
		case strings.HasPrefix(line, "CALIB|"):
			parseCalib(strings.TrimPrefix(line, "CALIB|"), p)
		case strings.HasPrefix(line, "POINTS|"):
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "POINTS|")))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: bad point count %q", ErrTruncated, line)
			}
			announced = n
		case strings.HasPrefix(line, "P|"):
			s, err := parseSample(strings.TrimPrefix(line, "P|"))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
			}
			p.Samples = append(p.Samples, s)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read project: %w", err)
	}
	if announced > len(p.Samples) {
		return nil, fmt.Errorf("%w: %d of %d samples present", ErrTruncated, len(p.Samples), announced)
	}
	return p, nil
}

// parseCalib applies the fields of a CALIB record in order and stops at the
// first one that does not parse. Older files carry fewer fields.
func parseCalib(rest string, p *Project) {
	fields := strings.Split(rest, "|")
	c := &p.Calibration
	floats := []*float64{
		&c.PxPerMeter, &c.Origin.X, &c.Origin.Y, nil,
		&c.ScaleA.X, &c.ScaleA.Y, &c.ScaleB.X, &c.ScaleB.Y, &c.RealDistance, nil,
	}

	read := 0
	for i := 0; i < calibFields && i < len(fields); i++ {
		field := strings.TrimSpace(fields[i])
		var err error
		switch i {
		case 3:
			var v int
			if v, err = strconv.Atoi(field); err == nil {
				c.Axes = calibration.AxisConfig(v)
			}
		case 9:
			var v int
			if v, err = strconv.Atoi(field); err == nil {
				p.StartFrame = v
			}
		default:
			var v float64
			if v, err = strconv.ParseFloat(field, 64); err == nil {
				*floats[i] = v
			}
		}
		if err != nil {
			break
		}
		read++
	}
	c.HasOrigin = true

	switch {
	case read >= calibFields:
	case read >= 9:
		p.StartFrame = 0
	case read >= 4:
		def := calibration.Default()
		c.ScaleA = def.ScaleA
		c.ScaleB = def.ScaleB
		c.RealDistance = def.RealDistance
		p.StartFrame = 0
	}
	if !c.Axes.Valid() {
		logf("unknown axis configuration %d, using %s", int(c.Axes), calibration.XRightYUp)
		c.Axes = calibration.XRightYUp
	}
}

func parseSample(rest string) (samples.Sample, error) {
	fields := strings.Split(rest, "|")
	if len(fields) < 3 {
		return samples.Sample{}, fmt.Errorf("sample line %q has %d fields", rest, len(fields))
	}
	var v [3]float64
	for i := range v {
		f, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return samples.Sample{}, fmt.Errorf("sample line %q: %w", rest, err)
		}
		v[i] = f
	}
	return samples.Sample{Time: v[0], Pos: geom.Point{X: v[1], Y: v[2]}}, nil
}

// Save writes p to path, replacing any existing file.
func Save(fsys fsutil.FileSystem, path string, p *Project) error {
	var buf bytes.Buffer
	if err := Write(&buf, p); err != nil {
		return err
	}
	if err := fsutil.ReplaceFile(fsys, path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("save project %s: %w", path, err)
	}
	logf("saved %s: %d samples", path, len(p.Samples))
	return nil
}

// Load reads the project at path.
func Load(fsys fsutil.FileSystem, path string) (*Project, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open project %s: %w", path, err)
	}
	defer f.Close()

	p, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", path, err)
	}
	logf("loaded %s: %d samples, video %q", path, len(p.Samples), p.VideoPath)
	return p, nil
}
