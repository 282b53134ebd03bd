package main

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/cvkalman/internal/config"
	"github.com/banshee-data/cvkalman/internal/fsutil"
	"github.com/banshee-data/cvkalman/internal/runstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags_Defaults(t *testing.T) {
	t.Parallel()

	opts, err := parseFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Empty(t, opts.ConfigPath)
	assert.False(t, opts.ShowVersion)
	assert.Equal(t, config.RunConfig{}, opts.Overrides)
}

func TestParseFlags_Overrides(t *testing.T) {
	t.Parallel()

	opts, err := parseFlags([]string{
		"-steps", "25", "-ts", "0.5", "-q", "0", "-seed", "9", "-joseph",
		"-db", "runs.db", "-csv", "out.csv", "-plot", "out.png", "-html", "out.html",
	}, &bytes.Buffer{})
	require.NoError(t, err)

	o := opts.Overrides
	require.NotNil(t, o.Steps)
	assert.Equal(t, 25, *o.Steps)
	assert.Equal(t, 0.5, *o.SampleInterval)
	// An explicit zero is still an override.
	require.NotNil(t, o.ProcessNoiseVariance)
	assert.Zero(t, *o.ProcessNoiseVariance)
	assert.Equal(t, uint64(9), *o.Seed)
	assert.Equal(t, config.CovarianceFormJoseph, *o.CovarianceForm)
	assert.Nil(t, o.MeasurementNoiseX)

	assert.Equal(t, "runs.db", opts.DBPath)
	assert.Equal(t, "out.csv", opts.CSVPath)
	assert.Equal(t, "out.png", opts.PlotPath)
	assert.Equal(t, "out.html", opts.HTMLPath)
}

func TestParseFlags_Errors(t *testing.T) {
	t.Parallel()

	_, err := parseFlags([]string{"-steps", "many"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = parseFlags([]string{"extra"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = parseFlags([]string{"-units", "knots"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = parseFlags([]string{"-h"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, flag.ErrHelp)
}

func TestLoadConfig_Precedence(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("steps: 40\nseed: 3\n"), 0o644))

	opts, err := parseFlags([]string{"-config", path, "-seed", "11"}, &bytes.Buffer{})
	require.NoError(t, err)

	cfg, err := loadConfig(opts)
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.GetSteps())
	assert.Equal(t, uint64(11), cfg.GetSeed())
	assert.Equal(t, 0.1, cfg.GetSampleInterval())
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Parallel()

	opts, err := parseFlags([]string{"-ts", "-1"}, &bytes.Buffer{})
	require.NoError(t, err)
	_, err = loadConfig(opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sample_interval")

	_, err = loadConfig(Options{ConfigPath: filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)
}

func TestRun_WritesOutputs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "runs.db")
	opts, err := parseFlags([]string{
		"-steps", "30",
		"-db", dbPath,
		"-csv", "out/run.csv",
		"-plot", "out/run.png",
		"-html", "run.html",
		"-units", "kph",
	}, &bytes.Buffer{})
	require.NoError(t, err)

	fsys := fsutil.NewMemoryFileSystem()
	res, err := run(context.Background(), opts, fsys)
	require.NoError(t, err)
	assert.Len(t, res.Records, 30)

	assert.Equal(t, []string{"out/run.csv", "out/run.png", "run.html"}, fsys.Names())
	png, err := fsys.ReadFile("out/run.png")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
	csvData, err := fsys.ReadFile("out/run.csv")
	require.NoError(t, err)
	assert.Equal(t, 31, bytes.Count(csvData, []byte("\n")))

	store, err := runstore.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()
	stored, err := store.LoadRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Len(t, stored.Steps, 30)
	assert.Contains(t, stored.ConfigJSON, `"steps":30`)

	line := summaryLine(res, opts.SpeedUnits)
	assert.Contains(t, line, res.RunID.String())
	assert.Contains(t, line, "steps=30")
	assert.Contains(t, line, "km/h")
}

func TestRun_UnknownPlotFormat(t *testing.T) {
	t.Parallel()

	opts, err := parseFlags([]string{"-steps", "3", "-plot", "run.bogus"}, &bytes.Buffer{})
	require.NoError(t, err)
	fsys := fsutil.NewMemoryFileSystem()
	_, err = run(context.Background(), opts, fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plot")
	assert.Empty(t, fsys.Names())
}
