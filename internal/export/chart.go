package export

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/motionlab/internal/kinematics"
)

const fitSamples = 100

// WriteChartHTML renders one interactive chart per graph on a single page:
// measured points as a scatter, the best fit as a line.
func WriteChartHTML(w io.Writer, title, unit string, graphs []kinematics.Graph) error {
	page := components.NewPage()
	page.PageTitle = title

	added := 0
	for _, g := range graphs {
		if len(g.X) == 0 {
			continue
		}
		page.AddCharts(graphChart(g, unit))
		added++
	}
	if added == 0 {
		return ErrNoSamples
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render chart page: %w", err)
	}
	return nil
}

func graphChart(g kinematics.Graph, unit string) *charts.Scatter {
	xLabel, yLabel := axisLabels(g.Quantity, unit)

	data := make([]opts.ScatterData, len(g.X))
	for i := range g.X {
		data[i] = opts.ScatterData{Value: []interface{}{g.X[i], g.Y[i]}}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: g.Quantity.String(), Subtitle: g.Fit.String()}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: xLabel, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: yLabel, NameLocation: "middle", NameGap: 40}),
	)
	scatter.AddSeries("measured", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	lo, hi := minMax(g.X)
	fit := make([]opts.LineData, 0, fitSamples+1)
	for i := 0; i <= fitSamples; i++ {
		x := lo + (hi-lo)*float64(i)/fitSamples
		fit = append(fit, opts.LineData{Value: []interface{}{x, g.Fit.Eval(x)}})
	}
	line := charts.NewLine()
	line.AddSeries(g.Fit.Kind.String()+" fit", fit,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	scatter.Overlap(line)
	return scatter
}
