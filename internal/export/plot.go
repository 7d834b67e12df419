package export

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/motionlab/internal/kinematics"
)

// Axis labels per quantity, for a given length unit.
func axisLabels(q kinematics.Quantity, unit string) (x, y string) {
	switch q {
	case kinematics.YofX:
		return "x (" + unit + ")", "y (" + unit + ")"
	case kinematics.XofT:
		return "t (s)", "x (" + unit + ")"
	case kinematics.YofT:
		return "t (s)", "y (" + unit + ")"
	case kinematics.VXofT:
		return "t (s)", "vx (" + unit + "/s)"
	case kinematics.VYofT:
		return "t (s)", "vy (" + unit + "/s)"
	case kinematics.AXofT:
		return "t (s)", "ax (" + unit + "/s²)"
	default:
		return "t (s)", "ay (" + unit + "/s²)"
	}
}

// WritePlotPNG renders g as a scatter of the measured points with its best
// fit overlaid, encoded as PNG.
func WritePlotPNG(w io.Writer, g kinematics.Graph, unit string) error {
	if len(g.X) == 0 {
		return ErrNoSamples
	}

	p := plot.New()
	p.Title.Text = g.Quantity.String()
	p.X.Label.Text, p.Y.Label.Text = axisLabels(g.Quantity, unit)
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(g.X))
	for i := range g.X {
		pts[i] = plotter.XY{X: g.X[i], Y: g.Y[i]}
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("build scatter: %w", err)
	}
	scatter.GlyphStyle.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	scatter.GlyphStyle.Radius = vg.Points(2)
	p.Add(scatter)
	p.Legend.Add("measured", scatter)

	fit := plotter.NewFunction(g.Fit.Eval)
	fit.XMin, fit.XMax = minMax(g.X)
	fit.Samples = 200
	fit.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	fit.Width = vg.Points(1)
	p.Add(fit)
	p.Legend.Add(g.Fit.String(), fit)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(10*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write plot: %w", err)
	}
	return nil
}

func minMax(xs []float64) (lo, hi float64) {
	lo, hi = xs[0], xs[0]
	for _, x := range xs[1:] {
		lo = min(lo, x)
		hi = max(hi, x)
	}
	return lo, hi
}
