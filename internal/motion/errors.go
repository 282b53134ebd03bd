package motion

import "fmt"

// ConfigurationError reports a matrix shape or parameter that does not
// agree with the declared state/measurement dimensionality. It is raised at
// construction time, never during a run.
type ConfigurationError struct {
	Field string // Offending matrix or parameter, e.g. "F" or "sample_interval"
	Want  string // Expected shape or range
	Got   string // Actual shape or value
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: want %s, got %s", e.Field, e.Want, e.Got)
}

// shapeError builds a ConfigurationError for a matrix with the wrong dims.
func shapeError(field string, wantR, wantC, gotR, gotC int) *ConfigurationError {
	return &ConfigurationError{
		Field: field,
		Want:  fmt.Sprintf("%dx%d", wantR, wantC),
		Got:   fmt.Sprintf("%dx%d", gotR, gotC),
	}
}

// CheckDims returns a ConfigurationError if m is not rows×cols.
func CheckDims(field string, m interface{ Dims() (int, int) }, rows, cols int) error {
	r, c := m.Dims()
	if r != rows || c != cols {
		return shapeError(field, rows, cols, r, c)
	}
	return nil
}
