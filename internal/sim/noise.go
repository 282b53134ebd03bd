package sim

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

// psdTolerance is the relative slack allowed on negative eigenvalues before
// a covariance is rejected as not positive semi-definite.
const psdTolerance = 1e-12

// SamplingError reports noise parameters that cannot define a Gaussian.
type SamplingError struct {
	Reason string
}

func (e *SamplingError) Error() string {
	return "sampling error: " + e.Reason
}

// gaussian draws zero-mean samples with a fixed covariance. Positive-definite
// covariances go through distmv.Normal; positive semi-definite ones (for
// example a zero variance on one axis) use an eigen factor L = V·√Λ so that
// zero-variance draws stay well defined.
type gaussian struct {
	dim    int
	chol   *mat.Cholesky // non-nil when the covariance is positive definite
	factor *mat.Dense    // L with L·Lᵀ = Σ, used otherwise
}

func newGaussian(cov mat.Symmetric) (*gaussian, error) {
	n := cov.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			if v := cov.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &SamplingError{Reason: fmt.Sprintf("covariance entry (%d,%d) is %v", i, j, v)}
			}
		}
	}

	var chol mat.Cholesky
	if chol.Factorize(cov) {
		return &gaussian{dim: n, chol: &chol}, nil
	}

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return nil, &SamplingError{Reason: "eigen decomposition of covariance failed"}
	}
	vals := eig.Values(nil)
	maxAbs := 0.0
	for _, v := range vals {
		maxAbs = math.Max(maxAbs, math.Abs(v))
	}
	limit := -psdTolerance * math.Max(1, maxAbs)
	for i, v := range vals {
		if v < limit {
			return nil, &SamplingError{Reason: fmt.Sprintf("covariance is not positive semi-definite (eigenvalue %d = %g)", i, v)}
		}
		if v < 0 {
			vals[i] = 0
		}
	}

	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	sqrtVals := make([]float64, n)
	for i, v := range vals {
		sqrtVals[i] = math.Sqrt(v)
	}
	var factor mat.Dense
	factor.Mul(&vecs, mat.NewDiagDense(n, sqrtVals))
	return &gaussian{dim: n, factor: &factor}, nil
}

// sampler binds the distribution to a random source for one pass.
func (g *gaussian) sampler(src rand.Source) func() []float64 {
	if g.chol != nil {
		normal := distmv.NewNormalChol(make([]float64, g.dim), g.chol, src)
		return func() []float64 {
			return normal.Rand(nil)
		}
	}
	unit := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	return func() []float64 {
		z := make([]float64, g.dim)
		for i := range z {
			z[i] = unit.Rand()
		}
		out := mat.NewVecDense(g.dim, nil)
		out.MulVec(g.factor, mat.NewVecDense(g.dim, z))
		return out.RawVector().Data
	}
}

// newSource returns the deterministic PCG stream for a seed.
func newSource(seed uint64) rand.Source {
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}
