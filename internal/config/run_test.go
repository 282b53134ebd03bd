package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultRunConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultRunConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1000, cfg.GetSteps())
	assert.Equal(t, 0.1, cfg.GetSampleInterval())
	assert.Equal(t, 0.1, cfg.GetProcessNoiseVariance())
	assert.Equal(t, uint64(1), cfg.GetSeed())
	assert.Equal(t, [2]float64{1, 1}, cfg.GetMeasurementNoise())
	assert.Equal(t, 1000.0, cfg.GetInitialPositionVariance())
	assert.Equal(t, 1.0, cfg.GetInitialVelocityVariance())
	assert.Equal(t, 1e12, cfg.GetConditionLimit())
	assert.Equal(t, CovarianceFormStandard, cfg.GetCovarianceForm())
	assert.Equal(t, NoiseModelDiscrete, cfg.GetProcessNoiseModel())
	assert.Zero(t, cfg.GetDivergenceLimit())
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	t.Parallel()

	empty := &RunConfig{}
	def := DefaultRunConfig()
	require.NoError(t, empty.Validate())

	assert.Equal(t, def.GetSteps(), empty.GetSteps())
	assert.Equal(t, def.GetSampleInterval(), empty.GetSampleInterval())
	assert.Equal(t, def.GetProcessNoiseVariance(), empty.GetProcessNoiseVariance())
	assert.Equal(t, def.GetSeed(), empty.GetSeed())
	assert.Equal(t, def.GetMeasurementNoise(), empty.GetMeasurementNoise())
	assert.Equal(t, def.GetInitialPositionVariance(), empty.GetInitialPositionVariance())
	assert.Equal(t, def.GetInitialVelocityVariance(), empty.GetInitialVelocityVariance())
	assert.Equal(t, def.GetConditionLimit(), empty.GetConditionLimit())
	assert.Equal(t, def.GetCovarianceForm(), empty.GetCovarianceForm())
	assert.Equal(t, def.GetProcessNoiseModel(), empty.GetProcessNoiseModel())
	assert.Equal(t, def.GetDivergenceLimit(), empty.GetDivergenceLimit())
}

func TestDefaultsFileMatchesDefaultRunConfig(t *testing.T) {
	t.Parallel()

	cfg := MustLoadDefaultConfig()
	def := DefaultRunConfig()

	assert.Equal(t, def.GetSteps(), cfg.GetSteps())
	assert.Equal(t, def.GetSampleInterval(), cfg.GetSampleInterval())
	assert.Equal(t, def.GetProcessNoiseVariance(), cfg.GetProcessNoiseVariance())
	assert.Equal(t, def.GetSeed(), cfg.GetSeed())
	assert.Equal(t, def.GetMeasurementNoise(), cfg.GetMeasurementNoise())
	assert.Equal(t, def.GetInitialPositionVariance(), cfg.GetInitialPositionVariance())
	assert.Equal(t, def.GetInitialVelocityVariance(), cfg.GetInitialVelocityVariance())
	assert.Equal(t, def.GetConditionLimit(), cfg.GetConditionLimit())
	assert.Equal(t, def.GetCovarianceForm(), cfg.GetCovarianceForm())
	assert.Equal(t, def.GetProcessNoiseModel(), cfg.GetProcessNoiseModel())
	assert.Equal(t, def.GetDivergenceLimit(), cfg.GetDivergenceLimit())
}

func TestLoadRunConfig(t *testing.T) {
	t.Parallel()

	t.Run("partial json", func(t *testing.T) {
		t.Parallel()
		path := writeFile(t, "run.json", `{"steps": 50, "sample_interval": 0.5, "covariance_form": "joseph"}`)

		cfg, err := LoadRunConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 50, cfg.GetSteps())
		assert.Equal(t, 0.5, cfg.GetSampleInterval())
		assert.Equal(t, CovarianceFormJoseph, cfg.GetCovarianceForm())
		// Unset fields fall back.
		assert.Equal(t, uint64(1), cfg.GetSeed())
		assert.Equal(t, [2]float64{1, 1}, cfg.GetMeasurementNoise())
	})

	t.Run("yaml", func(t *testing.T) {
		t.Parallel()
		path := writeFile(t, "run.yaml", "steps: 20\nseed: 42\nmeasurement_noise_y: 4\nprocess_noise_model: continuous\n")

		cfg, err := LoadRunConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 20, cfg.GetSteps())
		assert.Equal(t, uint64(42), cfg.GetSeed())
		assert.Equal(t, [2]float64{1, 4}, cfg.GetMeasurementNoise())
		assert.Equal(t, NoiseModelContinuous, cfg.GetProcessNoiseModel())
	})

	t.Run("yml extension", func(t *testing.T) {
		t.Parallel()
		path := writeFile(t, "run.yml", "steps: 7\n")

		cfg, err := LoadRunConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.GetSteps())
	})

	t.Run("example yaml in repository", func(t *testing.T) {
		t.Parallel()
		cfg, err := LoadRunConfig("../../config/example.yaml")
		require.NoError(t, err)
		assert.Equal(t, CovarianceFormJoseph, cfg.GetCovarianceForm())
		assert.Equal(t, 500.0, cfg.GetDivergenceLimit())
	})
}

func TestLoadRunConfigErrors(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := LoadRunConfig(filepath.Join(t.TempDir(), "nope.json"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to stat")
	})

	t.Run("bad extension", func(t *testing.T) {
		t.Parallel()
		path := writeFile(t, "run.toml", "steps = 1")
		_, err := LoadRunConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "extension")
	})

	t.Run("invalid json", func(t *testing.T) {
		t.Parallel()
		path := writeFile(t, "run.json", `{"steps": `)
		_, err := LoadRunConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config json")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		t.Parallel()
		path := writeFile(t, "run.yaml", "steps: [1, 2\n")
		_, err := LoadRunConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config yaml")
	})

	t.Run("too large", func(t *testing.T) {
		t.Parallel()
		big := `{"covariance_form": "` + strings.Repeat("x", maxConfigFileSize) + `"}`
		path := writeFile(t, "big.json", big)
		_, err := LoadRunConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")
	})

	t.Run("fails validation", func(t *testing.T) {
		t.Parallel()
		path := writeFile(t, "run.json", `{"measurement_noise_x": 0}`)
		_, err := LoadRunConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "measurement_noise_x")
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     RunConfig
		wantErr string
	}{
		{"negative steps", RunConfig{Steps: ptrInt(-1)}, "steps"},
		{"negative sample interval", RunConfig{SampleInterval: ptrFloat64(-0.1)}, "sample_interval"},
		{"negative process noise", RunConfig{ProcessNoiseVariance: ptrFloat64(-1)}, "process_noise_variance"},
		{"zero measurement noise", RunConfig{MeasurementNoiseY: ptrFloat64(0)}, "measurement_noise_y"},
		{"negative prior", RunConfig{InitialVelocityVariance: ptrFloat64(-2)}, "initial_velocity_variance"},
		{"condition limit below one", RunConfig{ConditionLimit: ptrFloat64(0.5)}, "condition_limit"},
		{"unknown covariance form", RunConfig{CovarianceForm: ptrString("square-root")}, "covariance_form"},
		{"unknown noise model", RunConfig{ProcessNoiseModel: ptrString("singer")}, "process_noise_model"},
		{"negative divergence limit", RunConfig{DivergenceLimit: ptrFloat64(-1)}, "divergence_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()

	cfg := RunConfig{
		Steps:             ptrInt(-5),
		MeasurementNoiseX: ptrFloat64(-1),
		CovarianceForm:    ptrString("bogus"),
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 3)
}

func TestMerge(t *testing.T) {
	t.Parallel()

	base := DefaultRunConfig()
	merged := base.Merge(&RunConfig{Steps: ptrInt(10), CovarianceForm: ptrString(CovarianceFormJoseph)})

	assert.Equal(t, 10, merged.GetSteps())
	assert.Equal(t, CovarianceFormJoseph, merged.GetCovarianceForm())
	assert.Equal(t, base.GetSampleInterval(), merged.GetSampleInterval())
	// The receiver is untouched.
	assert.Equal(t, 1000, base.GetSteps())

	assert.Equal(t, base.GetSteps(), base.Merge(nil).GetSteps())
}
