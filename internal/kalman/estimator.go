package kalman

import (
	"fmt"
	"math"

	"github.com/banshee-data/cvkalman/internal/motion"
	"gonum.org/v1/gonum/mat"
)

// DefaultConditionLimit is the largest condition number of the innovation
// covariance S accepted by an update.
const DefaultConditionLimit = 1e12

// Default prior: position unknown, velocity roughly known.
const (
	DefaultPositionVariance = 1000
	DefaultVelocityVariance = 1
)

// CovarianceForm selects the posterior covariance expression.
type CovarianceForm string

const (
	// StandardForm computes P ← (I − K·H)·P.
	StandardForm CovarianceForm = "standard"
	// JosephForm computes P ← (I − K·H)·P·(I − K·H)ᵀ + K·R·Kᵀ, which stays
	// positive semi-definite under round-off even for a suboptimal gain.
	JosephForm CovarianceForm = "joseph"
)

// Config tunes the numerical behaviour of an Estimator. The zero value
// selects DefaultConditionLimit and StandardForm.
type Config struct {
	ConditionLimit float64
	Form           CovarianceForm
}

// InitialCondition is the prior belief at step 0. A nil State means the zero
// vector; a nil Covariance means DiagonalCovariance with the defaults.
type InitialCondition struct {
	State      mat.Vector
	Covariance mat.Symmetric
}

// DiagonalCovariance returns diag(pos, pos, vel, vel) for the
// constant-velocity state [px, py, vx, vy].
func DiagonalCovariance(posVar, velVar float64) *mat.SymDense {
	p := mat.NewSymDense(motion.CVStateDim, nil)
	p.SetSym(0, 0, posVar)
	p.SetSym(1, 1, posVar)
	p.SetSym(2, 2, velVar)
	p.SetSym(3, 3, velVar)
	return p
}

// Estimate is a snapshot of the filter after one step. Every matrix is an
// independent copy.
type Estimate struct {
	Step            int
	State           *mat.VecDense // Posterior x (equals PriorState when !Updated)
	Covariance      *mat.SymDense // Posterior P (equals PriorCovariance when !Updated)
	PriorState      *mat.VecDense // x after predict
	PriorCovariance *mat.SymDense // P after predict
	Innovation      *mat.VecDense // y = z − H·x, nil when !Updated
	InnovationCov   *mat.SymDense // S = H·P·Hᵀ + R, nil when !Updated
	NIS             float64       // yᵀ·S⁻¹·y, 0 when !Updated
	Updated         bool
}

// Estimator is a linear Kalman filter with constant model matrices.
type Estimator struct {
	f, h  *mat.Dense
	q, r  *mat.SymDense
	x     *mat.VecDense
	p     *mat.SymDense
	k     *mat.Dense
	eye   *mat.DiagDense
	cfg   Config
	steps int
}

// New returns an Estimator with prior (x0, p0) and model matrices F, H, Q, R.
// Every shape is checked against len(x0) and the row count of H here, so a
// mismatched model fails at construction rather than on the first step.
func New(x0 mat.Vector, p0 mat.Symmetric, f, h mat.Matrix, q, r mat.Symmetric, cfg Config) (*Estimator, error) {
	if isNilVector(x0) || isNilSym(p0) || f == nil || h == nil || isNilSym(q) || isNilSym(r) {
		return nil, &motion.ConfigurationError{Field: "estimator", Want: "x0, P0, F, H, Q and R", Got: "nil argument"}
	}
	n := x0.Len()
	if n == 0 {
		return nil, &motion.ConfigurationError{Field: "x0", Want: "non-empty", Got: "length 0"}
	}
	m, _ := h.Dims()
	if m == 0 {
		return nil, &motion.ConfigurationError{Field: "H", Want: "at least one row", Got: "0 rows"}
	}
	checks := []struct {
		field      string
		mat        interface{ Dims() (int, int) }
		rows, cols int
	}{
		{"P0", p0, n, n},
		{"F", f, n, n},
		{"H", h, m, n},
		{"Q", q, n, n},
		{"R", r, m, m},
	}
	for _, c := range checks {
		if err := motion.CheckDims(c.field, c.mat, c.rows, c.cols); err != nil {
			return nil, err
		}
	}

	if cfg.ConditionLimit == 0 {
		cfg.ConditionLimit = DefaultConditionLimit
	}
	if cfg.ConditionLimit < 1 || math.IsNaN(cfg.ConditionLimit) {
		return nil, &motion.ConfigurationError{Field: "condition_limit", Want: ">= 1", Got: fmt.Sprint(cfg.ConditionLimit)}
	}
	switch cfg.Form {
	case "":
		cfg.Form = StandardForm
	case StandardForm, JosephForm:
	default:
		return nil, &motion.ConfigurationError{
			Field: "covariance_form",
			Want:  fmt.Sprintf("%q or %q", StandardForm, JosephForm),
			Got:   fmt.Sprintf("%q", cfg.Form),
		}
	}

	x := mat.NewVecDense(n, nil)
	x.CopyVec(x0)
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}

	return &Estimator{
		f:   mat.DenseCopyOf(f),
		h:   mat.DenseCopyOf(h),
		q:   cloneSym(q),
		r:   cloneSym(r),
		x:   x,
		p:   cloneSym(p0),
		eye: mat.NewDiagDense(n, ones),
		cfg: cfg,
	}, nil
}

// NewFromModel builds an Estimator over a shared motion model.
func NewFromModel(model *motion.Model, init InitialCondition, cfg Config) (*Estimator, error) {
	if model == nil {
		return nil, &motion.ConfigurationError{Field: "model", Want: "non-nil", Got: "nil"}
	}
	x0 := init.State
	if isNilVector(x0) {
		x0 = mat.NewVecDense(model.StateDim(), nil)
	}
	p0 := init.Covariance
	if isNilSym(p0) {
		if model.StateDim() != motion.CVStateDim {
			return nil, &motion.ConfigurationError{Field: "P0", Want: "explicit covariance for non-CV model", Got: "nil"}
		}
		p0 = DiagonalCovariance(DefaultPositionVariance, DefaultVelocityVariance)
	}
	return New(x0, p0, model.F(), model.H(), model.Q(), model.R(), cfg)
}

// Step consumes one measurement: predict, then update. If the update fails
// with a *NumericalError the prediction stands, the returned Estimate holds
// the prior with Updated=false, and the next Step may proceed normally.
// A nil measurement (typed or not) or one of the wrong length is rejected
// before anything changes.
func (e *Estimator) Step(z mat.Vector) (Estimate, error) {
	m, _ := e.h.Dims()
	if isNilVector(z) || z.Len() != m {
		got := "nil"
		if !isNilVector(z) {
			got = fmt.Sprintf("length %d", z.Len())
		}
		return Estimate{}, &motion.ConfigurationError{Field: "measurement", Want: fmt.Sprintf("length %d", m), Got: got}
	}

	est := e.predict()
	if err := e.update(z, &est); err != nil {
		est.State = est.PriorState
		est.Covariance = est.PriorCovariance
		return est.clone(), err
	}
	return est.clone(), nil
}

// isNilVector reports whether v is nil, including a typed nil *mat.VecDense.
func isNilVector(v mat.Vector) bool {
	switch v := v.(type) {
	case nil:
		return true
	case *mat.VecDense:
		return v == nil
	}
	return false
}

func isNilSym(s mat.Symmetric) bool {
	switch s := s.(type) {
	case nil:
		return true
	case *mat.SymDense:
		return s == nil
	}
	return false
}

// Coast runs a predict-only step for a time step without a measurement.
func (e *Estimator) Coast() Estimate {
	est := e.predict()
	est.State = est.PriorState
	est.Covariance = est.PriorCovariance
	return est.clone()
}

// predict applies x ← F·x and P ← F·P·Fᵀ + Q.
func (e *Estimator) predict() Estimate {
	var x mat.VecDense
	x.MulVec(e.f, e.x)
	e.x.CopyVec(&x)

	var fp, fpft mat.Dense
	fp.Mul(e.f, e.p)
	fpft.Mul(&fp, e.f.T())
	fpft.Add(&fpft, e.q)
	symmetrizeInto(e.p, &fpft)

	est := Estimate{
		Step:            e.steps,
		PriorState:      e.State(),
		PriorCovariance: e.Covariance(),
	}
	e.steps++
	return est
}

// update applies the measurement to the predicted estimate. x and P are only
// written once every check has passed, so a failed update leaves the prior.
func (e *Estimator) update(z mat.Vector, est *Estimate) error {
	step := est.Step

	var hx, y mat.VecDense
	hx.MulVec(e.h, e.x)
	y.SubVec(z, &hx)

	var pht, hpht mat.Dense
	pht.Mul(e.p, e.h.T())
	hpht.Mul(e.h, &pht)
	hpht.Add(&hpht, e.r)
	m, _ := hpht.Dims()
	s := mat.NewSymDense(m, nil)
	symmetrizeInto(s, &hpht)
	if !isFinite(s) {
		return &NumericalError{Step: step, Reason: "innovation covariance has non-finite entries"}
	}

	var chol mat.Cholesky
	if !chol.Factorize(s) {
		return &NumericalError{Step: step, Reason: "innovation covariance is not positive definite"}
	}
	cond := chol.Cond()
	if math.IsNaN(cond) || cond > e.cfg.ConditionLimit {
		return &NumericalError{Step: step, Cond: cond, Reason: "innovation covariance is ill-conditioned"}
	}
	var sInv mat.SymDense
	if err := chol.InverseTo(&sInv); err != nil {
		return &NumericalError{Step: step, Cond: cond, Reason: fmt.Sprintf("inverting innovation covariance: %v", err)}
	}

	// K = P·Hᵀ·S⁻¹
	var k mat.Dense
	k.Mul(&pht, &sInv)

	var ky, x mat.VecDense
	ky.MulVec(&k, &y)
	x.AddVec(e.x, &ky)

	var kh, ikh, p mat.Dense
	kh.Mul(&k, e.h)
	ikh.Sub(e.eye, &kh)
	p.Mul(&ikh, e.p)
	if e.cfg.Form == JosephForm {
		var ikhpikh, kr, krk mat.Dense
		ikhpikh.Mul(&p, ikh.T())
		kr.Mul(&k, e.r)
		krk.Mul(&kr, k.T())
		p.Add(&ikhpikh, &krk)
	}

	if !isFinite(&x) || !isFinite(&p) {
		return &NumericalError{Step: step, Cond: cond, Reason: "update produced non-finite state or covariance"}
	}

	e.x.CopyVec(&x)
	symmetrizeInto(e.p, &p)
	e.k = &k

	est.State = &x
	est.Covariance = e.p
	est.Innovation = &y
	est.InnovationCov = s
	est.NIS = mat.Inner(&y, &sInv, &y)
	est.Updated = true
	return nil
}

// State returns a copy of the current estimate x.
func (e *Estimator) State() *mat.VecDense {
	x := mat.NewVecDense(e.x.Len(), nil)
	x.CopyVec(e.x)
	return x
}

// Covariance returns a copy of the current covariance P.
func (e *Estimator) Covariance() *mat.SymDense {
	return cloneSym(e.p)
}

// Gain returns a copy of the Kalman gain from the last successful update,
// or nil before the first one.
func (e *Estimator) Gain() *mat.Dense {
	if e.k == nil {
		return nil
	}
	return mat.DenseCopyOf(e.k)
}

// StepCount returns the number of predict steps taken so far.
func (e *Estimator) StepCount() int { return e.steps }

// clone detaches an Estimate from the estimator's internal storage.
func (est Estimate) clone() Estimate {
	out := est
	out.State = cloneVec(est.State)
	out.Covariance = cloneSymOrNil(est.Covariance)
	out.PriorState = cloneVec(est.PriorState)
	out.PriorCovariance = cloneSymOrNil(est.PriorCovariance)
	out.Innovation = cloneVec(est.Innovation)
	out.InnovationCov = cloneSymOrNil(est.InnovationCov)
	return out
}

func cloneVec(v *mat.VecDense) *mat.VecDense {
	if v == nil {
		return nil
	}
	out := mat.NewVecDense(v.Len(), nil)
	out.CopyVec(v)
	return out
}

func cloneSym(s mat.Symmetric) *mat.SymDense {
	out := mat.NewSymDense(s.SymmetricDim(), nil)
	out.CopySym(s)
	return out
}

func cloneSymOrNil(s *mat.SymDense) *mat.SymDense {
	if s == nil {
		return nil
	}
	return cloneSym(s)
}

// symmetrizeInto writes (a + aᵀ)/2 into dst, removing round-off asymmetry.
func symmetrizeInto(dst *mat.SymDense, a mat.Matrix) {
	n := dst.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			dst.SetSym(i, j, (a.At(i, j)+a.At(j, i))/2)
		}
	}
}

func isFinite(a mat.Matrix) bool {
	r, c := a.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := a.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
