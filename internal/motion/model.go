package motion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Constant-velocity model dimensions: state [px, py, vx, vy], measurement [px, py].
const (
	CVStateDim = 4
	CVMeasDim  = 2
	CVNoiseDim = 2
)

// NoiseModel selects how the filter's process-noise covariance Q is
// discretised from a white acceleration of variance σ².
type NoiseModel string

const (
	// DiscreteWhiteNoise treats the acceleration as constant over each
	// interval: Q = σ²·G·Gᵀ with G = [Ts²/2, Ts] per axis.
	DiscreteWhiteNoise NoiseModel = "discrete"
	// ContinuousWhiteNoise integrates a continuous white acceleration over
	// the interval: per axis σ²·[[Ts³/3, Ts²/2], [Ts²/2, Ts]].
	ContinuousWhiteNoise NoiseModel = "continuous"
)

// CVParams configures a constant-velocity Model.
type CVParams struct {
	SampleInterval       float64    // Ts (seconds)
	ProcessNoiseVariance float64    // σ² of the white acceleration
	MeasurementNoise     [2]float64 // R diagonal (x, y)
	NoiseModel           NoiseModel // Q discretisation; empty means DiscreteWhiteNoise
}

// Model holds the constant matrices of a linear Gaussian motion model.
type Model struct {
	f  *mat.Dense
	g  *mat.Dense
	h  *mat.Dense
	q  *mat.SymDense
	r  *mat.SymDense
	ts float64
}

// NewModel validates and copies an arbitrary linear model. F must be n×n,
// G n×k, H m×n, Q n×n and R m×m. G may be nil when the model has no
// explicit noise input.
func NewModel(f, g, h mat.Matrix, q, r mat.Symmetric, ts float64) (*Model, error) {
	if f == nil || h == nil || q == nil || r == nil {
		return nil, &ConfigurationError{Field: "model", Want: "F, H, Q and R", Got: "nil matrix"}
	}
	if ts < 0 || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return nil, &ConfigurationError{Field: "sample_interval", Want: ">= 0", Got: fmt.Sprint(ts)}
	}

	n, nc := f.Dims()
	if n == 0 || n != nc {
		return nil, shapeError("F", n, n, n, nc)
	}
	m, _ := h.Dims()
	if m == 0 {
		return nil, &ConfigurationError{Field: "H", Want: "at least one row", Got: "0 rows"}
	}
	if err := CheckDims("H", h, m, n); err != nil {
		return nil, err
	}
	if err := CheckDims("Q", q, n, n); err != nil {
		return nil, err
	}
	if err := CheckDims("R", r, m, m); err != nil {
		return nil, err
	}

	model := &Model{
		f:  mat.DenseCopyOf(f),
		h:  mat.DenseCopyOf(h),
		q:  copySym(q),
		r:  copySym(r),
		ts: ts,
	}
	if g != nil {
		gr, gc := g.Dims()
		if gr != n || gc == 0 {
			return nil, &ConfigurationError{Field: "G", Want: fmt.Sprintf("%dxk, k>0", n), Got: fmt.Sprintf("%dx%d", gr, gc)}
		}
		model.g = mat.DenseCopyOf(g)
	}
	return model, nil
}

// NewConstantVelocity builds the 2-D constant-velocity model:
//
//	F = [1 0 Ts 0; 0 1 0 Ts; 0 0 1 0; 0 0 0 1]
//	G = [Ts²/2 0; 0 Ts²/2; Ts 0; 0 Ts]
//	H = [1 0 0 0; 0 1 0 0]
//
// Ts = 0 is allowed and collapses F to the identity and G, Q to zero.
func NewConstantVelocity(p CVParams) (*Model, error) {
	ts := p.SampleInterval
	if ts < 0 || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return nil, &ConfigurationError{Field: "sample_interval", Want: ">= 0", Got: fmt.Sprint(ts)}
	}
	if p.ProcessNoiseVariance < 0 || math.IsNaN(p.ProcessNoiseVariance) {
		return nil, &ConfigurationError{Field: "process_noise_variance", Want: ">= 0", Got: fmt.Sprint(p.ProcessNoiseVariance)}
	}
	for i, v := range p.MeasurementNoise {
		if !(v > 0) || math.IsInf(v, 0) {
			return nil, &ConfigurationError{
				Field: fmt.Sprintf("measurement_noise[%d]", i),
				Want:  "> 0",
				Got:   fmt.Sprint(v),
			}
		}
	}

	f := mat.NewDense(CVStateDim, CVStateDim, []float64{
		1, 0, ts, 0,
		0, 1, 0, ts,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	half := ts * ts / 2
	g := mat.NewDense(CVStateDim, CVNoiseDim, []float64{
		half, 0,
		0, half,
		ts, 0,
		0, ts,
	})
	h := mat.NewDense(CVMeasDim, CVStateDim, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
	})

	q, err := cvProcessNoise(p.NoiseModel, ts, p.ProcessNoiseVariance)
	if err != nil {
		return nil, err
	}
	r := mat.NewSymDense(CVMeasDim, []float64{
		p.MeasurementNoise[0], 0,
		0, p.MeasurementNoise[1],
	})

	return &Model{f: f, g: g, h: h, q: q, r: r, ts: ts}, nil
}

// cvProcessNoise lays the per-axis 2×2 block onto the (position, velocity)
// index pairs (0, 2) for x and (1, 3) for y.
func cvProcessNoise(kind NoiseModel, ts, variance float64) (*mat.SymDense, error) {
	var pp, pv, vv float64
	switch kind {
	case DiscreteWhiteNoise, "":
		pp = ts * ts * ts * ts / 4
		pv = ts * ts * ts / 2
		vv = ts * ts
	case ContinuousWhiteNoise:
		pp = ts * ts * ts / 3
		pv = ts * ts / 2
		vv = ts
	default:
		return nil, &ConfigurationError{
			Field: "process_noise_model",
			Want:  fmt.Sprintf("%q or %q", DiscreteWhiteNoise, ContinuousWhiteNoise),
			Got:   fmt.Sprintf("%q", kind),
		}
	}

	q := mat.NewSymDense(CVStateDim, nil)
	for axis := 0; axis < 2; axis++ {
		p, v := axis, axis+2
		q.SetSym(p, p, variance*pp)
		q.SetSym(p, v, variance*pv)
		q.SetSym(v, v, variance*vv)
	}
	return q, nil
}

func copySym(s mat.Symmetric) *mat.SymDense {
	out := mat.NewSymDense(s.SymmetricDim(), nil)
	out.CopySym(s)
	return out
}

// StateDim returns n, the length of the state vector.
func (m *Model) StateDim() int {
	n, _ := m.f.Dims()
	return n
}

// MeasDim returns the length of the measurement vector.
func (m *Model) MeasDim() int {
	r, _ := m.h.Dims()
	return r
}

// NoiseDim returns the number of columns of G, or 0 without a noise input.
func (m *Model) NoiseDim() int {
	if m.g == nil {
		return 0
	}
	_, c := m.g.Dims()
	return c
}

// SampleInterval returns Ts.
func (m *Model) SampleInterval() float64 { return m.ts }

// F returns a copy of the state-transition matrix.
func (m *Model) F() *mat.Dense { return mat.DenseCopyOf(m.f) }

// G returns a copy of the noise-input matrix, or nil.
func (m *Model) G() *mat.Dense {
	if m.g == nil {
		return nil
	}
	return mat.DenseCopyOf(m.g)
}

// H returns a copy of the measurement matrix.
func (m *Model) H() *mat.Dense { return mat.DenseCopyOf(m.h) }

// Q returns a copy of the process-noise covariance used by the filter.
func (m *Model) Q() *mat.SymDense { return copySym(m.q) }

// R returns a copy of the measurement-noise covariance.
func (m *Model) R() *mat.SymDense { return copySym(m.r) }
