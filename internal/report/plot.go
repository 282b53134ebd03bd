package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"path/filepath"
	"strings"

	"github.com/banshee-data/cvkalman/internal/fsutil"
	"github.com/banshee-data/cvkalman/internal/pipeline"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

var (
	truthColor       = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	measurementColor = color.RGBA{R: 127, G: 127, B: 127, A: 255}
	estimateColor    = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// ErrNoRecords is returned when there is nothing to draw.
var ErrNoRecords = errors.New("no records")

// trajectories splits records into truth, measurement and estimate XY series.
func trajectories(records []pipeline.StepRecord) (truth, meas, est plotter.XYs) {
	truth = make(plotter.XYs, 0, len(records))
	meas = make(plotter.XYs, 0, len(records))
	est = make(plotter.XYs, 0, len(records))
	for _, rec := range records {
		if len(rec.Truth) >= 2 {
			truth = append(truth, plotter.XY{X: rec.Truth[0], Y: rec.Truth[1]})
		}
		if len(rec.Measurement) >= 2 {
			meas = append(meas, plotter.XY{X: rec.Measurement[0], Y: rec.Measurement[1]})
		}
		if x := rec.Estimate.State; x != nil && x.Len() >= 2 {
			est = append(est, plotter.XY{X: x.AtVec(0), Y: x.AtVec(1)})
		}
	}
	return truth, meas, est
}

const plotSize = 8 * vg.Inch

// SavePlot draws the true track, the measurements and the estimated track in
// the x-y plane and writes it to path on fsys. The image format follows the
// file extension (.png, .svg, .pdf and the others gonum/plot supports); an
// unknown format fails before the file is created.
func SavePlot(fsys fsutil.FileSystem, path string, records []pipeline.StepRecord) error {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	wt, err := plotWriter(format, records)
	if err != nil {
		return err
	}
	return fsutil.WriteFile(fsys, path, func(w io.Writer) error {
		if _, err := wt.WriteTo(w); err != nil {
			return fmt.Errorf("write plot: %w", err)
		}
		return nil
	})
}

// WritePlot is SavePlot for an arbitrary writer; format is a gonum/plot
// format name such as "png" or "svg".
func WritePlot(w io.Writer, format string, records []pipeline.StepRecord) error {
	wt, err := plotWriter(format, records)
	if err != nil {
		return err
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write plot: %w", err)
	}
	return nil
}

func plotWriter(format string, records []pipeline.StepRecord) (io.WriterTo, error) {
	p, err := trackPlot(records)
	if err != nil {
		return nil, err
	}
	wt, err := p.WriterTo(plotSize, plotSize, format)
	if err != nil {
		return nil, fmt.Errorf("save plot: %w", err)
	}
	return wt, nil
}

func trackPlot(records []pipeline.StepRecord) (*plot.Plot, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	truth, meas, est := trajectories(records)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Constant-velocity track (%d steps)", len(records))
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"
	p.Add(plotter.NewGrid())

	scatter, err := plotter.NewScatter(meas)
	if err != nil {
		return nil, fmt.Errorf("measurement scatter: %w", err)
	}
	scatter.GlyphStyle.Color = measurementColor
	scatter.GlyphStyle.Radius = vg.Points(1.5)
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(scatter)
	p.Legend.Add("measurement", scatter)

	truthLine, err := plotter.NewLine(truth)
	if err != nil {
		return nil, fmt.Errorf("truth line: %w", err)
	}
	truthLine.Color = truthColor
	truthLine.Width = vg.Points(1.5)
	p.Add(truthLine)
	p.Legend.Add("truth", truthLine)

	estLine, err := plotter.NewLine(est)
	if err != nil {
		return nil, fmt.Errorf("estimate line: %w", err)
	}
	estLine.Color = estimateColor
	estLine.Width = vg.Points(1)
	estLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(estLine)
	p.Legend.Add("estimate", estLine)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p, nil
}
