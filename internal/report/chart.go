package report

import (
	"fmt"
	"io"
	"math"

	"github.com/banshee-data/cvkalman/internal/pipeline"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot/plotter"
)

func scatterData(xys plotter.XYs) []opts.ScatterData {
	data := make([]opts.ScatterData, 0, len(xys))
	for _, xy := range xys {
		data = append(data, opts.ScatterData{Value: []interface{}{xy.X, xy.Y}})
	}
	return data
}

// RenderChart writes an HTML page with two charts: the x-y trajectories and,
// per step, the position error of the estimate against its 1-sigma bound.
func RenderChart(w io.Writer, records []pipeline.StepRecord) error {
	if len(records) == 0 {
		return ErrNoRecords
	}
	truth, meas, est := trajectories(records)

	track := charts.NewScatter()
	track.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Kalman run", Width: "900px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{Title: "Trajectory", Subtitle: fmt.Sprintf("steps=%d", len(records))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "x (m)", NameLocation: "middle", NameGap: 25, Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "y (m)", NameLocation: "middle", NameGap: 30, Type: "value"}),
	)
	track.AddSeries("measurement", scatterData(meas), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	track.AddSeries("truth", scatterData(truth), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	track.AddSeries("estimate", scatterData(est), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))

	steps := make([]int, 0, len(records))
	errs := make([]opts.LineData, 0, len(records))
	sigma := make([]opts.LineData, 0, len(records))
	for _, rec := range records {
		steps = append(steps, rec.Step)
		x, p := rec.Estimate.State, rec.Estimate.Covariance
		if x == nil || p == nil || len(rec.Truth) < 2 {
			errs = append(errs, opts.LineData{Value: nil})
			sigma = append(sigma, opts.LineData{Value: nil})
			continue
		}
		errs = append(errs, opts.LineData{Value: math.Hypot(x.AtVec(0)-rec.Truth[0], x.AtVec(1)-rec.Truth[1])})
		sigma = append(sigma, opts.LineData{Value: math.Sqrt(p.At(0, 0) + p.At(1, 1))})
	}

	errorChart := charts.NewLine()
	errorChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Position error"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "m", Type: "value"}),
	)
	errorChart.SetXAxis(steps).
		AddSeries("error", errs).
		AddSeries("1-sigma", sigma)

	page := components.NewPage()
	page.AddCharts(track, errorChart)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}
