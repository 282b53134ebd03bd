// Package testutil provides shared test assertions for matrices produced by
// the estimator and the simulator.
package testutil

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// TB is the subset of testing.TB the assertions need. Tests pass *testing.T;
// the helpers' own tests pass a recorder.
type TB interface {
	Helper()
	Errorf(format string, args ...any)
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t TB, err error) {
	t.Helper()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// AssertSymmetric checks |a[i][j] - a[j][i]| <= tol for every pair.
func AssertSymmetric(t TB, a mat.Matrix, tol float64) bool {
	t.Helper()
	r, c := a.Dims()
	if r != c {
		t.Errorf("matrix is %dx%d, want square", r, c)
		return false
	}
	for i := 0; i < r; i++ {
		for j := i + 1; j < c; j++ {
			if d := math.Abs(a.At(i, j) - a.At(j, i)); d > tol {
				t.Errorf("matrix not symmetric at (%d,%d): %g vs %g", i, j, a.At(i, j), a.At(j, i))
				return false
			}
		}
	}
	return true
}

// AssertPSD checks that every eigenvalue of s is >= -eps.
func AssertPSD(t TB, s mat.Symmetric, eps float64) bool {
	t.Helper()
	var eig mat.EigenSym
	if !eig.Factorize(s, false) {
		t.Errorf("eigen decomposition failed")
		return false
	}
	for i, v := range eig.Values(nil) {
		if v < -eps {
			t.Errorf("eigenvalue %d = %g, want >= %g", i, v, -eps)
			return false
		}
	}
	return true
}

// AssertFinite checks that no entry of a is NaN or ±Inf.
func AssertFinite(t TB, a mat.Matrix) bool {
	t.Helper()
	r, c := a.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := a.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				t.Errorf("entry (%d,%d) is %v", i, j, v)
				return false
			}
		}
	}
	return true
}
