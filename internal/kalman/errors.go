package kalman

import "fmt"

// NumericalError reports an update that could not be computed, typically
// because the innovation covariance S is singular or too ill-conditioned to
// invert. The prediction for that step has already been applied; the caller
// can keep going with the prior.
type NumericalError struct {
	Step   int     // Zero-based step index
	Cond   float64 // Condition number of S when known, else 0
	Reason string
}

func (e *NumericalError) Error() string {
	if e.Cond > 0 {
		return fmt.Sprintf("numerical error at step %d: %s (cond=%.3g)", e.Step, e.Reason, e.Cond)
	}
	return fmt.Sprintf("numerical error at step %d: %s", e.Step, e.Reason)
}
