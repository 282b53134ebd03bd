// Package consistency scores an estimator run against ground truth: position
// and velocity RMSE, normalised estimation error squared (NEES) and
// normalised innovation squared (NIS), with chi-square acceptance bounds.
package consistency

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Confidence is the two-sided probability mass inside the reported bounds.
const Confidence = 0.95

// Summary aggregates the per-step statistics of one run.
type Summary struct {
	Steps        int
	Updates      int
	NEESSamples  int // Steps whose covariance could be inverted
	PositionRMSE float64
	VelocityRMSE float64
	MeanNEES     float64
	MeanNIS      float64
	NEESBounds   [2]float64 // Acceptance interval for MeanNEES
	NISBounds    [2]float64 // Acceptance interval for MeanNIS
}

// NEESConsistent reports whether MeanNEES lies inside NEESBounds.
func (s Summary) NEESConsistent() bool {
	return s.NEESSamples > 0 && s.MeanNEES >= s.NEESBounds[0] && s.MeanNEES <= s.NEESBounds[1]
}

// NISConsistent reports whether MeanNIS lies inside NISBounds.
func (s Summary) NISConsistent() bool {
	return s.Updates > 0 && s.MeanNIS >= s.NISBounds[0] && s.MeanNIS <= s.NISBounds[1]
}

// Accumulator collects errors step by step. Positions are state indices
// [0, posDim) and velocities [posDim, 2·posDim).
type Accumulator struct {
	posDim  int
	stateN  int
	measN   int
	posSq   []float64
	velSq   []float64
	nees    []float64
	nis     []float64
	skipped int
}

// NewAccumulator returns an Accumulator for a state of length stateDim with
// posDim position components and a measurement of length measDim.
func NewAccumulator(stateDim, posDim, measDim int) *Accumulator {
	return &Accumulator{posDim: posDim, stateN: stateDim, measN: measDim}
}

// Add records one step. NEES is skipped (and counted) when the covariance
// cannot be inverted; nis is only recorded for updated steps.
func (a *Accumulator) Add(truth, est mat.Vector, cov mat.Symmetric, nis float64, updated bool) {
	var e mat.VecDense
	e.SubVec(est, truth)

	var p, v float64
	for i := 0; i < a.posDim; i++ {
		p += e.AtVec(i) * e.AtVec(i)
		if j := a.posDim + i; j < e.Len() {
			v += e.AtVec(j) * e.AtVec(j)
		}
	}
	a.posSq = append(a.posSq, p)
	a.velSq = append(a.velSq, v)

	var chol mat.Cholesky
	if chol.Factorize(cov) {
		var x mat.VecDense
		if err := chol.SolveVecTo(&x, &e); err == nil {
			a.nees = append(a.nees, mat.Dot(&e, &x))
		} else {
			a.skipped++
		}
	} else {
		a.skipped++
	}

	if updated {
		a.nis = append(a.nis, nis)
	}
}

// Skipped returns the number of steps whose covariance could not be
// inverted for NEES.
func (a *Accumulator) Skipped() int { return a.skipped }

// Summary computes the aggregate statistics.
func (a *Accumulator) Summary() Summary {
	s := Summary{
		Steps:       len(a.posSq),
		Updates:     len(a.nis),
		NEESSamples: len(a.nees),
	}
	if s.Steps > 0 {
		s.PositionRMSE = math.Sqrt(stat.Mean(a.posSq, nil))
		s.VelocityRMSE = math.Sqrt(stat.Mean(a.velSq, nil))
	}
	if s.NEESSamples > 0 {
		s.MeanNEES = stat.Mean(a.nees, nil)
		s.NEESBounds = MeanBounds(a.stateN, s.NEESSamples)
	}
	if s.Updates > 0 {
		s.MeanNIS = stat.Mean(a.nis, nil)
		s.NISBounds = MeanBounds(a.measN, s.Updates)
	}
	return s
}

// MeanBounds returns the Confidence interval of the time average of count
// independent chi-square(dof) samples: count·mean ~ chi-square(count·dof).
func MeanBounds(dof, count int) [2]float64 {
	if dof <= 0 || count <= 0 {
		return [2]float64{}
	}
	k := float64(dof * count)
	chi := distuv.ChiSquared{K: k}
	tail := (1 - Confidence) / 2
	return [2]float64{
		chi.Quantile(tail) / float64(count),
		chi.Quantile(1-tail) / float64(count),
	}
}
