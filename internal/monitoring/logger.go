// Package monitoring holds the diagnostic log hook shared by the simulation
// and estimation packages.
package monitoring

import (
	"fmt"
	"log"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// RunLogf returns a logger that tags every message with a run identifier.
// The current Logf is looked up on each call, so a later SetLogger still
// takes effect.
func RunLogf(runID string) func(format string, v ...interface{}) {
	tag := fmt.Sprintf("[run %s] ", runID)
	return func(format string, v ...interface{}) {
		Logf(tag+format, v...)
	}
}
