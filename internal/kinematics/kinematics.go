// Package kinematics derives velocities, accelerations and regression fits
// from calibrated sample series.
package kinematics

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/motionlab/internal/calibration"
	"github.com/banshee-data/motionlab/internal/geom"
	"github.com/banshee-data/motionlab/internal/samples"
)

// MinSamples is the smallest series Graph will plot.
const MinSamples = 5

const (
	minDt        = 1e-6
	degenerate   = 1e-9
	lowR2        = 0.15
	highR2       = 0.98
	positionGain = 0.02
	velocityGain = 0.08
	accelGain    = 0.20
)

var (
	// ErrTooFewSamples is returned when a series is too short to graph.
	ErrTooFewSamples = errors.New("kinematics: too few samples")
	// ErrEmptyRange is returned when the start frame leaves nothing to graph.
	ErrEmptyRange = errors.New("kinematics: empty graph range")
)

// Quantity selects what a graph shows.
type Quantity int

const (
	YofX Quantity = iota
	XofT
	YofT
	VXofT
	VYofT
	AXofT
	AYofT
)

var quantityNames = [...]string{"y-x", "x-t", "y-t", "vx-t", "vy-t", "ax-t", "ay-t"}

func (q Quantity) String() string {
	if q < 0 || int(q) >= len(quantityNames) {
		return fmt.Sprintf("Quantity(%d)", int(q))
	}
	return quantityNames[q]
}

// ParseQuantity parses the String form of a Quantity.
func ParseQuantity(s string) (Quantity, error) {
	for i, name := range quantityNames {
		if name == s {
			return Quantity(i), nil
		}
	}
	return 0, fmt.Errorf("unknown quantity %q", s)
}

// Quantities lists every graphable quantity.
func Quantities() []Quantity {
	out := make([]Quantity, len(quantityNames))
	for i := range out {
		out[i] = Quantity(i)
	}
	return out
}

// IsVelocity reports whether q plots a velocity component.
func (q Quantity) IsVelocity() bool { return q == VXofT || q == VYofT }

// IsAccel reports whether q plots an acceleration component.
func (q Quantity) IsAccel() bool { return q == AXofT || q == AYofT }

// Series is a time-ordered list of calibrated positions.
type Series struct {
	T     []float64
	Pos   []geom.Point
	Start int
}

// NewSeries sorts a copy of ss by time and converts each position with
// calib. start is the index of the first sample that belongs to the
// measurement.
func NewSeries(ss []samples.Sample, calib calibration.Calibration, start int) *Series {
	sorted := make([]samples.Sample, len(ss))
	copy(sorted, ss)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	s := &Series{
		T:     make([]float64, len(sorted)),
		Pos:   make([]geom.Point, len(sorted)),
		Start: max(start, 0),
	}
	for i, smp := range sorted {
		s.T[i] = smp.Time
		s.Pos[i] = calib.ToPhysical(smp.Pos)
	}
	return s
}

// Len returns the number of samples.
func (s *Series) Len() int { return len(s.T) }

func (s *Series) pos(i int) geom.Point {
	if i < 0 {
		i = 0
	}
	if i >= len(s.Pos) {
		i = len(s.Pos) - 1
	}
	return s.Pos[i]
}

// Velocity is the central-difference velocity at sample i. It is zero at
// or before the start sample, at the last sample and across a vanishing
// time step.
func (s *Series) Velocity(i int) geom.Point {
	n := s.Len()
	if i <= s.Start || i >= n-1 {
		return geom.Point{}
	}
	dt := s.T[i+1] - s.T[i-1]
	if math.Abs(dt) < minDt {
		return geom.Point{}
	}
	d := s.pos(i + 1).Sub(s.pos(i - 1))
	return geom.Point{X: d.X / dt, Y: d.Y / dt}
}

// Accel is the central difference of Velocity at sample i, with the same
// boundary rules.
func (s *Series) Accel(i int) geom.Point {
	n := s.Len()
	if i <= s.Start || i >= n-1 {
		return geom.Point{}
	}
	dt := s.T[i+1] - s.T[i-1]
	if math.Abs(dt) < minDt {
		return geom.Point{}
	}
	d := s.Velocity(i + 1).Sub(s.Velocity(i - 1))
	return geom.Point{X: d.X / dt, Y: d.Y / dt}
}

// Graph returns the points plotted for q. Velocity graphs drop one sample
// at each end of the measured range and acceleration graphs two.
func (s *Series) Graph(q Quantity) (xs, ys []float64, err error) {
	n := s.Len()
	if n < MinSamples {
		return nil, nil, fmt.Errorf("%w: %d < %d", ErrTooFewSamples, n, MinSamples)
	}
	lo, hi := s.Start, n
	switch {
	case q.IsVelocity():
		lo, hi = s.Start+1, n-1
	case q.IsAccel():
		lo, hi = s.Start+2, n-2
	}
	if lo >= hi {
		return nil, nil, ErrEmptyRange
	}

	xs = make([]float64, 0, hi-lo)
	ys = make([]float64, 0, hi-lo)
	for i := lo; i < hi; i++ {
		x, y := s.T[i], 0.0
		switch q {
		case YofX:
			x, y = s.Pos[i].X, s.Pos[i].Y
		case XofT:
			y = s.Pos[i].X
		case YofT:
			y = s.Pos[i].Y
		case VXofT:
			y = s.Velocity(i).X
		case VYofT:
			y = s.Velocity(i).Y
		case AXofT:
			y = s.Accel(i).X
		case AYofT:
			y = s.Accel(i).Y
		default:
			return nil, nil, fmt.Errorf("unknown quantity %d", int(q))
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	return xs, ys, nil
}

// FitKind is the model of a Fit.
type FitKind int

const (
	Linear FitKind = iota
	Quadratic
)

func (k FitKind) String() string {
	if k == Quadratic {
		return "quadratic"
	}
	return "linear"
}

// Fit is a least-squares polynomial fit. Linear fits are y = A·x + B;
// quadratic fits are y = A·x² + B·x + C.
type Fit struct {
	Kind    FitKind
	A, B, C float64
	R2      float64
}

// Eval evaluates the fitted model at x.
func (f Fit) Eval(x float64) float64 {
	if f.Kind == Linear {
		return f.A*x + f.B
	}
	return f.A*x*x + f.B*x + f.C
}

func (f Fit) String() string {
	if f.Kind == Linear {
		return fmt.Sprintf("y = %.4g·x + %.4g (R² = %.4f)", f.A, f.B, f.R2)
	}
	return fmt.Sprintf("y = %.4g·x² + %.4g·x + %.4g (R² = %.4f)", f.A, f.B, f.C, f.R2)
}

// RSquared is the coefficient of determination of f over the points. A
// flat series is explained perfectly.
func RSquared(xs, ys []float64, f Fit) float64 {
	mean := stat.Mean(ys, nil)
	var ssTot, ssRes float64
	for i, x := range xs {
		d := ys[i] - mean
		r := ys[i] - f.Eval(x)
		ssTot += d * d
		ssRes += r * r
	}
	if ssTot < degenerate {
		return 1
	}
	return 1 - ssRes/ssTot
}

// LinearFit fits a line. When the x values do not vary the zero fit with
// R² = 0 is returned.
func LinearFit(xs, ys []float64) Fit {
	n := float64(len(xs))
	if len(xs) < 2 || n*(n-1)*stat.Variance(xs, nil) < degenerate {
		return Fit{Kind: Linear}
	}
	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	f := Fit{Kind: Linear, A: slope, B: intercept}
	f.R2 = RSquared(xs, ys, f)
	return f
}

// QuadraticFit fits a parabola by least squares. A singular system gives the
// zero fit with R² = 0.
func QuadraticFit(xs, ys []float64) Fit {
	n := len(xs)
	if n < 3 {
		return Fit{Kind: Quadratic}
	}
	design := mat.NewDense(n, 3, nil)
	for i, x := range xs {
		design.Set(i, 0, x*x)
		design.Set(i, 1, x)
		design.Set(i, 2, 1)
	}
	var coef mat.VecDense
	if err := coef.SolveVec(design, mat.NewVecDense(n, append([]float64(nil), ys...))); err != nil {
		return Fit{Kind: Quadratic}
	}
	f := Fit{Kind: Quadratic, A: coef.AtVec(0), B: coef.AtVec(1), C: coef.AtVec(2)}
	if math.IsNaN(f.A) || math.IsNaN(f.B) || math.IsNaN(f.C) {
		return Fit{Kind: Quadratic}
	}
	f.R2 = RSquared(xs, ys, f)
	return f
}

// BestFit picks the model for q. A line is kept when it explains the data
// very badly or very well; otherwise a parabola must beat it by a margin
// that grows with the order of the derivative plotted.
func BestFit(q Quantity, xs, ys []float64) Fit {
	lin := LinearFit(xs, ys)
	if lin.R2 < lowR2 || lin.R2 > highR2 {
		return lin
	}
	gain := positionGain
	switch {
	case q.IsVelocity():
		gain = velocityGain
	case q.IsAccel():
		gain = accelGain
	}
	quad := QuadraticFit(xs, ys)
	if quad.R2 > lin.R2+gain {
		return quad
	}
	return lin
}

// Graph is a plotted quantity and its best fit.
type Graph struct {
	Quantity Quantity
	X, Y     []float64
	Fit      Fit
}

// Analyze computes the graph and best fit of q over s.
func Analyze(s *Series, q Quantity) (Graph, error) {
	xs, ys, err := s.Graph(q)
	if err != nil {
		return Graph{}, err
	}
	return Graph{Quantity: q, X: xs, Y: ys, Fit: BestFit(q, xs, ys)}, nil
}
