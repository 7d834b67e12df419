package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/motionlab/internal/archive"
	"github.com/banshee-data/motionlab/internal/autotrack"
	"github.com/banshee-data/motionlab/internal/config"
	"github.com/banshee-data/motionlab/internal/export"
	"github.com/banshee-data/motionlab/internal/fsutil"
	"github.com/banshee-data/motionlab/internal/geom"
	"github.com/banshee-data/motionlab/internal/kinematics"
	"github.com/banshee-data/motionlab/internal/media"
	"github.com/banshee-data/motionlab/internal/media/framelog"
	"github.com/banshee-data/motionlab/internal/project"
	"github.com/banshee-data/motionlab/internal/session"
	"github.com/banshee-data/motionlab/internal/timeline"
	"github.com/banshee-data/motionlab/internal/version"
)

var osfs fsutil.FileSystem = fsutil.OSFileSystem{}

func printVersion(w io.Writer) {
	fmt.Fprintln(w, version.String())
}

// inputArg returns the single positional argument of fs.
func inputArg(fs *flag.FlagSet, what string) (string, error) {
	if fs.NArg() != 1 {
		return "", fmt.Errorf("expected one %s argument, got %d", what, fs.NArg())
	}
	return fs.Arg(0), nil
}

func handleProbe(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := inputArg(fs, "video")
	if err != nil {
		return err
	}

	dec := newDecoder(cfg, path)
	info, err := dec.Load(ctx, path)
	if err != nil {
		return err
	}
	defer dec.Unload()

	fmt.Fprintf(out, "file:      %s\n", path)
	fmt.Fprintf(out, "size:      %dx%d\n", info.Width, info.Height)
	fmt.Fprintf(out, "fps:       %.3f\n", info.FPS)
	fmt.Fprintf(out, "duration:  %.3fs\n", info.DurationSec)
	fmt.Fprintf(out, "frames:    %d\n", info.FrameCount)
	fmt.Fprintf(out, "codec:     %s (%s)\n", info.CodecName, info.PixelFormat)
	return nil
}

func handleFrame(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("frame", flag.ContinueOnError)
	at := fs.Float64("t", 0, "Time in seconds")
	index := fs.Int("n", -1, "Frame number (overrides -t)")
	output := fs.String("o", "", "Output PNG (default: <video>_<frame>.png)")
	width := fs.Int("width", 0, "Scale down to at most this width (0 keeps the size)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := inputArg(fs, "video")
	if err != nil {
		return err
	}

	clock := timeline.New(newDecoder(cfg, path), cfg.ClockOptions())
	if err := clock.Load(ctx, path); err != nil {
		return err
	}
	defer clock.Unload()

	target := *at
	if *index >= 0 {
		target = float64(*index) / clock.FPS()
	}
	if err := clock.Seek(target); err != nil {
		return err
	}
	f := clock.Frame()
	if f == nil || f.Image == nil {
		return fmt.Errorf("no frame at %.4fs", target)
	}

	name := *output
	if name == "" {
		name = fmt.Sprintf("%s_%05d.png", export.BaseName(path), clock.FrameIndex())
	}
	var buf bytes.Buffer
	if err := media.WritePNG(&buf, media.Thumbnail(f.Image, *width)); err != nil {
		return err
	}
	if err := fsutil.ReplaceFile(osfs, name, buf.Bytes(), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(out, "frame %d at %.4fs -> %s\n", clock.FrameIndex(), clock.Time(), name)
	return nil
}

func handleRecord(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("record", flag.ContinueOnError)
	output := fs.String("o", "", "Frame log directory (default: <video>"+framelog.FileExtension+")")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := inputArg(fs, "video")
	if err != nil {
		return err
	}
	dir := *output
	if dir == "" {
		dir = export.BaseName(path) + framelog.FileExtension
	}

	dec := newDecoder(cfg, path)
	info, err := dec.Load(ctx, path)
	if err != nil {
		return err
	}
	defer dec.Unload()

	n, err := framelog.Capture(dec, info, path, dir)
	if err != nil {
		return fmt.Errorf("recorded %d frames before failing: %w", n, err)
	}
	fmt.Fprintf(out, "recorded %d frames -> %s\n", n, dir)
	return nil
}

func handleTrack(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("track", flag.ContinueOnError)
	start := fs.Float64("t", 0, "Time of the frame the selection is made on")
	x := fs.Float64("x", 0, "Selection left edge in pixels")
	y := fs.Float64("y", 0, "Selection top edge in pixels")
	w := fs.Float64("w", 0, "Selection width in pixels")
	h := fs.Float64("h", 0, "Selection height in pixels")
	output := fs.String("o", "", "Project file (default: <video>"+project.Extension+")")
	dbPath := fs.String("archive", "", "Also store the session in this archive database")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := inputArg(fs, "video")
	if err != nil {
		return err
	}

	// Batch tracking steps back to back.
	batch := *cfg
	noWait := "0s"
	batch.TickInterval = &noWait

	s := session.New(newDecoder(cfg, path), trackerFactory(cfg.GetProcessingWidth()), &batch)
	defer s.Close()
	if err := s.OpenVideo(ctx, path); err != nil {
		return err
	}
	if *start > 0 {
		if err := s.Clock.Seek(*start); err != nil {
			return err
		}
	}

	c := s.Controller
	c.BeginSelection(geom.Point{X: *x, Y: *y})
	c.DragTo(geom.Point{X: *x + *w, Y: *y + *h})
	if c.ReleaseSelection() != autotrack.Initializing {
		return fmt.Errorf("selection %.0fx%.0f is too small", *w, *h)
	}
	if err := s.Step(0); err != nil {
		return err
	}
	if c.State() != autotrack.Ready {
		return errors.New("tracker could not be initialised on the selection")
	}
	c.StartTracking()

	began := time.Now()
	reason := "tracker finished"
	if err := s.RunTracking(ctx); err != nil {
		if !errors.Is(err, session.ErrStalled) {
			return err
		}
		reason = err.Error()
	}
	fmt.Fprintf(out, "tracked %d samples in %s, stopped %s at %.4fs (%s)\n",
		s.Store.Len(), time.Since(began).Round(time.Millisecond), c.State(), s.Clock.Time(), reason)

	name := *output
	if name == "" {
		name = project.DefaultName(path)
	}
	if err := s.SaveProject(name); err != nil {
		return err
	}
	fmt.Fprintf(out, "project -> %s\n", name)

	if *dbPath != "" {
		a, err := archive.Open(*dbPath)
		if err != nil {
			return err
		}
		defer a.Close()
		rec, ss := s.Archived()
		if err := a.SaveSession(ctx, rec, ss); err != nil {
			return err
		}
		fmt.Fprintf(out, "archived session %s\n", rec.ID)
	}
	return nil
}

// exporter renders one export format of a project.
type exporter struct {
	name  string
	write func(io.Writer) error
}

var exportFormats = []string{"csv", "regressi", "tsv", "png", "html"}

func handleExport(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	format := fs.String("format", "csv", "csv, regressi, tsv, png, html or all")
	dir := fs.String("o", "", "Output directory (default: next to the project)")
	locale := fs.String("locale", cfg.GetExportLocale(), "Decimal separator locale: en or fr")
	quantity := fs.String("q", kinematics.YofX.String(), "Quantity plotted by the png format")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := inputArg(fs, "project")
	if err != nil {
		return err
	}
	loc, err := export.ParseLocale(*locale)
	if err != nil {
		return err
	}
	q, err := kinematics.ParseQuantity(*quantity)
	if err != nil {
		return err
	}

	p, err := project.Load(osfs, path)
	if err != nil {
		return err
	}
	if len(p.Samples) == 0 {
		return export.ErrNoSamples
	}
	if *dir == "" {
		*dir = filepath.Dir(path)
	}

	all := projectExporters(p, loc, q)
	var selected []exporter
	switch *format {
	case "all":
		for _, f := range exportFormats {
			selected = append(selected, all[f])
		}
	default:
		e, ok := all[*format]
		if !ok {
			return fmt.Errorf("unknown export format %q", *format)
		}
		selected = []exporter{e}
	}

	g, _ := errgroup.WithContext(ctx)
	written := make([]string, len(selected))
	for i, e := range selected {
		g.Go(func() error {
			var buf bytes.Buffer
			if err := e.write(&buf); err != nil {
				return fmt.Errorf("%s: %w", e.name, err)
			}
			target := filepath.Join(*dir, e.name)
			if err := fsutil.ReplaceFile(osfs, target, buf.Bytes(), 0o644); err != nil {
				return err
			}
			written[i] = target
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sort.Strings(written)
	for _, name := range written {
		fmt.Fprintf(out, "wrote %s\n", name)
	}
	return nil
}

func projectExporters(p *project.Project, loc export.Locale, q kinematics.Quantity) map[string]exporter {
	rows := export.Rows(p.Samples, p.Calibration)
	unit := p.Calibration.Unit()
	base := export.BaseName(p.VideoPath)
	series := kinematics.NewSeries(p.Samples, p.Calibration, p.StartFrame)

	return map[string]exporter{
		"csv": {export.DefaultCSVName(p.VideoPath), func(w io.Writer) error {
			return export.WriteCSV(w, rows, unit, loc)
		}},
		"regressi": {export.DefaultRegressiName(p.VideoPath), func(w io.Writer) error {
			return export.WriteRegressi(w, p.VideoPath, rows)
		}},
		"tsv": {"clipboard_" + base + ".tsv", func(w io.Writer) error {
			return export.WriteTSV(w, rows, unit, loc)
		}},
		"png": {"plot_" + base + "_" + q.String() + ".png", func(w io.Writer) error {
			g, err := kinematics.Analyze(series, q)
			if err != nil {
				return err
			}
			return export.WritePlotPNG(w, g, unit)
		}},
		"html": {"chart_" + base + ".html", func(w io.Writer) error {
			var graphs []kinematics.Graph
			for _, q := range kinematics.Quantities() {
				if g, err := kinematics.Analyze(series, q); err == nil {
					graphs = append(graphs, g)
				}
			}
			return export.WriteChartHTML(w, base, unit, graphs)
		}},
	}
}

func handleFit(_ context.Context, _ *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("fit", flag.ContinueOnError)
	quantity := fs.String("q", "", "Only this quantity (default: all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := inputArg(fs, "project")
	if err != nil {
		return err
	}

	qs := kinematics.Quantities()
	if *quantity != "" {
		q, err := kinematics.ParseQuantity(*quantity)
		if err != nil {
			return err
		}
		qs = []kinematics.Quantity{q}
	}

	p, err := project.Load(osfs, path)
	if err != nil {
		return err
	}
	series := kinematics.NewSeries(p.Samples, p.Calibration, p.StartFrame)
	for _, q := range qs {
		g, err := kinematics.Analyze(series, q)
		if err != nil {
			fmt.Fprintf(out, "%-5s %v\n", q, err)
			continue
		}
		fmt.Fprintf(out, "%-5s %-9s %s  n=%d\n", q, g.Fit.Kind, g.Fit, len(g.X))
	}
	return nil
}

func handleArchive(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("archive", flag.ContinueOnError)
	dbPath := fs.String("db", "motionlab.db", "Archive database")
	output := fs.String("o", "", "Project written by restore (default: <video>"+project.Extension+")")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("expected one of: list, import, restore, delete, schema, force")
	}

	sub, rest := fs.Arg(0), fs.Args()[1:]
	open := archive.Open
	if sub == "force" {
		open = archive.OpenUnmigrated
	}
	a, err := open(*dbPath)
	if err != nil {
		return err
	}
	defer a.Close()

	arg := func(what string) (string, error) {
		if len(rest) != 1 {
			return "", fmt.Errorf("archive %s: expected one %s argument", sub, what)
		}
		return rest[0], nil
	}
	id := func() (uuid.UUID, error) {
		s, err := arg("session ID")
		if err != nil {
			return uuid.Nil, err
		}
		return uuid.Parse(s)
	}

	switch sub {
	case "list":
		list, err := a.ListSessions(ctx)
		if err != nil {
			return err
		}
		for _, s := range list {
			fmt.Fprintf(out, "%s  %s  %5d samples  %s\n",
				s.ID, s.CreatedAt.Format(time.RFC3339), s.SampleCount, s.VideoPath)
		}
		return nil

	case "import":
		path, err := arg("project")
		if err != nil {
			return err
		}
		p, err := project.Load(osfs, path)
		if err != nil {
			return err
		}
		rec := &archive.Session{VideoPath: p.VideoPath, Calibration: p.Calibration, StartFrame: p.StartFrame}
		if err := a.SaveSession(ctx, rec, p.Samples); err != nil {
			return err
		}
		fmt.Fprintf(out, "imported %s as %s\n", path, rec.ID)
		return nil

	case "restore":
		sid, err := id()
		if err != nil {
			return err
		}
		rec, err := a.GetSession(ctx, sid)
		if err != nil {
			return err
		}
		ss, err := a.LoadSamples(ctx, sid)
		if err != nil {
			return err
		}
		s := session.New(newDecoder(cfg, rec.VideoPath), trackerFactory(cfg.GetProcessingWidth()), cfg)
		s.Restore(rec, ss)
		s.VideoPath = rec.VideoPath
		name := *output
		if name == "" {
			name = project.DefaultName(rec.VideoPath)
		}
		if err := s.SaveProject(name); err != nil {
			return err
		}
		fmt.Fprintf(out, "restored %s -> %s\n", sid, name)
		return nil

	case "delete":
		sid, err := id()
		if err != nil {
			return err
		}
		if err := a.DeleteSession(ctx, sid); err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted %s\n", sid)
		return nil

	case "schema":
		v, dirty, err := a.MigrateVersion()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "schema version %d (latest %d, dirty %t)\n", v, archive.LatestVersion, dirty)
		return nil

	case "force":
		s, err := arg("version")
		if err != nil {
			return err
		}
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > archive.LatestVersion {
			return fmt.Errorf("archive force: version must be 1..%d, got %q", archive.LatestVersion, s)
		}
		if err := a.MigrateForce(v); err != nil {
			return err
		}
		fmt.Fprintf(out, "forced schema version %d\n", v)
		return nil

	default:
		return fmt.Errorf("unknown archive command %q", sub)
	}
}
