package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// The tests below swap the package logger, so none of them run in parallel.

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("step %d skipped", 3)
	assert.Equal(t, []string{"step 3 skipped"}, got)

	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("muted %d", 1) })
	assert.Len(t, got, 1)
}

func TestLogf_Default(t *testing.T) {
	assert.NotNil(t, Logf)
}

func TestRunLogf(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	logf := RunLogf("abc")

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	logf("step %d: %s", 7, "singular")
	assert.Equal(t, []string{"[run abc] step 7: singular"}, got)
}
