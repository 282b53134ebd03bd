// Package report renders pipeline runs for people: CSV for spreadsheets and
// notebooks, a PNG trajectory plot and an interactive HTML chart.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/banshee-data/cvkalman/internal/pipeline"
)

var csvHeader = []string{
	"step", "time",
	"truth_px", "truth_py", "truth_vx", "truth_vy",
	"meas_x", "meas_y",
	"est_px", "est_py", "est_vx", "est_vy",
	"var_px", "var_py",
	"nis", "updated",
}

// WriteCSV writes one row per step with a header row.
func WriteCSV(w io.Writer, records []pipeline.StepRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	row := make([]string, 0, len(csvHeader))
	for _, rec := range records {
		row = row[:0]
		row = append(row, strconv.Itoa(rec.Step), formatFloat(rec.Time))
		row = appendFloats(row, rec.Truth, 4)
		row = appendFloats(row, rec.Measurement, 2)

		var state, variance []float64
		if x := rec.Estimate.State; x != nil {
			state = x.RawVector().Data
		}
		if p := rec.Estimate.Covariance; p != nil && p.SymmetricDim() >= 2 {
			variance = []float64{p.At(0, 0), p.At(1, 1)}
		}
		row = appendFloats(row, state, 4)
		row = appendFloats(row, variance, 2)
		row = append(row, formatFloat(rec.Estimate.NIS), strconv.FormatBool(rec.Estimate.Updated))

		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv step %d: %w", rec.Step, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// appendFloats appends exactly n cells, leaving missing values empty.
func appendFloats(row []string, vals []float64, n int) []string {
	for i := 0; i < n; i++ {
		if i < len(vals) {
			row = append(row, formatFloat(vals[i]))
		} else {
			row = append(row, "")
		}
	}
	return row
}
