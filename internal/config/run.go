package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical run defaults file.
const DefaultConfigPath = "config/defaults.json"

const maxConfigFileSize = 1 * 1024 * 1024 // 1MB

// Accepted values for the string-typed options.
const (
	CovarianceFormStandard = "standard"
	CovarianceFormJoseph   = "joseph"

	NoiseModelDiscrete   = "discrete"
	NoiseModelContinuous = "continuous"
)

// RunConfig holds the parameters of one simulate-and-estimate run. Every
// field is optional; the Get* accessors supply defaults for nil fields, so a
// partial file is safe.
type RunConfig struct {
	// Simulation
	Steps                *int     `json:"steps,omitempty" yaml:"steps,omitempty"`
	SampleInterval       *float64 `json:"sample_interval,omitempty" yaml:"sample_interval,omitempty"`
	ProcessNoiseVariance *float64 `json:"process_noise_variance,omitempty" yaml:"process_noise_variance,omitempty"`
	Seed                 *uint64  `json:"seed,omitempty" yaml:"seed,omitempty"`

	// Measurement noise covariance R (diagonal)
	MeasurementNoiseX *float64 `json:"measurement_noise_x,omitempty" yaml:"measurement_noise_x,omitempty"`
	MeasurementNoiseY *float64 `json:"measurement_noise_y,omitempty" yaml:"measurement_noise_y,omitempty"`

	// Filter prior P0 = diag(pos, pos, vel, vel)
	InitialPositionVariance *float64 `json:"initial_position_variance,omitempty" yaml:"initial_position_variance,omitempty"`
	InitialVelocityVariance *float64 `json:"initial_velocity_variance,omitempty" yaml:"initial_velocity_variance,omitempty"`

	// Filter numerics
	ConditionLimit    *float64 `json:"condition_limit,omitempty" yaml:"condition_limit,omitempty"`
	CovarianceForm    *string  `json:"covariance_form,omitempty" yaml:"covariance_form,omitempty"`
	ProcessNoiseModel *string  `json:"process_noise_model,omitempty" yaml:"process_noise_model,omitempty"`
	DivergenceLimit   *float64 `json:"divergence_limit,omitempty" yaml:"divergence_limit,omitempty"` // 0 disables
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }
func ptrString(v string) *string    { return &v }

// DefaultRunConfig returns a RunConfig with every field set to its default.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		Steps:                   ptrInt(1000),
		SampleInterval:          ptrFloat64(0.1),
		ProcessNoiseVariance:    ptrFloat64(0.1),
		Seed:                    ptrUint64(1),
		MeasurementNoiseX:       ptrFloat64(1),
		MeasurementNoiseY:       ptrFloat64(1),
		InitialPositionVariance: ptrFloat64(1000),
		InitialVelocityVariance: ptrFloat64(1),
		ConditionLimit:          ptrFloat64(1e12),
		CovarianceForm:          ptrString(CovarianceFormStandard),
		ProcessNoiseModel:       ptrString(NoiseModelDiscrete),
		DivergenceLimit:         ptrFloat64(0),
	}
}

// LoadRunConfig loads a RunConfig from a .json, .yaml or .yml file and
// validates it.
func LoadRunConfig(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &RunConfig{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", strings.TrimPrefix(ext, "."), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory or
// one of its parents. Panics if the file cannot be loaded; intended for tests
// and binaries run from inside the repository.
func MustLoadDefaultConfig() *RunConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/kfsim/ and deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadRunConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

// Merge returns a copy of c with every non-nil field of override applied.
func (c *RunConfig) Merge(override *RunConfig) *RunConfig {
	out := *c
	if override == nil {
		return &out
	}
	if override.Steps != nil {
		out.Steps = override.Steps
	}
	if override.SampleInterval != nil {
		out.SampleInterval = override.SampleInterval
	}
	if override.ProcessNoiseVariance != nil {
		out.ProcessNoiseVariance = override.ProcessNoiseVariance
	}
	if override.Seed != nil {
		out.Seed = override.Seed
	}
	if override.MeasurementNoiseX != nil {
		out.MeasurementNoiseX = override.MeasurementNoiseX
	}
	if override.MeasurementNoiseY != nil {
		out.MeasurementNoiseY = override.MeasurementNoiseY
	}
	if override.InitialPositionVariance != nil {
		out.InitialPositionVariance = override.InitialPositionVariance
	}
	if override.InitialVelocityVariance != nil {
		out.InitialVelocityVariance = override.InitialVelocityVariance
	}
	if override.ConditionLimit != nil {
		out.ConditionLimit = override.ConditionLimit
	}
	if override.CovarianceForm != nil {
		out.CovarianceForm = override.CovarianceForm
	}
	if override.ProcessNoiseModel != nil {
		out.ProcessNoiseModel = override.ProcessNoiseModel
	}
	if override.DivergenceLimit != nil {
		out.DivergenceLimit = override.DivergenceLimit
	}
	return &out
}

// Validate checks every set field and reports all problems at once.
func (c *RunConfig) Validate() error {
	var err error

	if c.Steps != nil && *c.Steps < 0 {
		err = multierr.Append(err, fmt.Errorf("steps must be non-negative, got %d", *c.Steps))
	}
	err = multierr.Append(err, checkNonNegative("sample_interval", c.SampleInterval))
	err = multierr.Append(err, checkNonNegative("process_noise_variance", c.ProcessNoiseVariance))
	err = multierr.Append(err, checkPositive("measurement_noise_x", c.MeasurementNoiseX))
	err = multierr.Append(err, checkPositive("measurement_noise_y", c.MeasurementNoiseY))
	err = multierr.Append(err, checkNonNegative("initial_position_variance", c.InitialPositionVariance))
	err = multierr.Append(err, checkNonNegative("initial_velocity_variance", c.InitialVelocityVariance))
	err = multierr.Append(err, checkNonNegative("divergence_limit", c.DivergenceLimit))

	if c.ConditionLimit != nil && !(*c.ConditionLimit >= 1) {
		err = multierr.Append(err, fmt.Errorf("condition_limit must be >= 1, got %g", *c.ConditionLimit))
	}
	if c.CovarianceForm != nil {
		switch *c.CovarianceForm {
		case CovarianceFormStandard, CovarianceFormJoseph:
		default:
			err = multierr.Append(err, fmt.Errorf("covariance_form must be %q or %q, got %q",
				CovarianceFormStandard, CovarianceFormJoseph, *c.CovarianceForm))
		}
	}
	if c.ProcessNoiseModel != nil {
		switch *c.ProcessNoiseModel {
		case NoiseModelDiscrete, NoiseModelContinuous:
		default:
			err = multierr.Append(err, fmt.Errorf("process_noise_model must be %q or %q, got %q",
				NoiseModelDiscrete, NoiseModelContinuous, *c.ProcessNoiseModel))
		}
	}

	return err
}

func checkNonNegative(name string, v *float64) error {
	if v == nil {
		return nil
	}
	if *v < 0 || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return fmt.Errorf("%s must be finite and non-negative, got %g", name, *v)
	}
	return nil
}

func checkPositive(name string, v *float64) error {
	if v == nil {
		return nil
	}
	if !(*v > 0) || math.IsInf(*v, 0) {
		return fmt.Errorf("%s must be finite and positive, got %g", name, *v)
	}
	return nil
}

// GetSteps returns the steps value or the default.
func (c *RunConfig) GetSteps() int {
	if c.Steps == nil {
		return 1000
	}
	return *c.Steps
}

// GetSampleInterval returns the sample interval Ts in seconds or the default.
func (c *RunConfig) GetSampleInterval() float64 {
	if c.SampleInterval == nil {
		return 0.1
	}
	return *c.SampleInterval
}

// GetProcessNoiseVariance returns σ² or the default.
func (c *RunConfig) GetProcessNoiseVariance() float64 {
	if c.ProcessNoiseVariance == nil {
		return 0.1
	}
	return *c.ProcessNoiseVariance
}

// GetSeed returns the random seed or the default.
func (c *RunConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 1
	}
	return *c.Seed
}

// GetMeasurementNoise returns the R diagonal (x, y) or the defaults.
func (c *RunConfig) GetMeasurementNoise() [2]float64 {
	r := [2]float64{1, 1}
	if c.MeasurementNoiseX != nil {
		r[0] = *c.MeasurementNoiseX
	}
	if c.MeasurementNoiseY != nil {
		r[1] = *c.MeasurementNoiseY
	}
	return r
}

// GetInitialPositionVariance returns the prior position variance or the default.
func (c *RunConfig) GetInitialPositionVariance() float64 {
	if c.InitialPositionVariance == nil {
		return 1000
	}
	return *c.InitialPositionVariance
}

// GetInitialVelocityVariance returns the prior velocity variance or the default.
func (c *RunConfig) GetInitialVelocityVariance() float64 {
	if c.InitialVelocityVariance == nil {
		return 1
	}
	return *c.InitialVelocityVariance
}

// GetConditionLimit returns the innovation covariance condition limit or the default.
func (c *RunConfig) GetConditionLimit() float64 {
	if c.ConditionLimit == nil {
		return 1e12
	}
	return *c.ConditionLimit
}

// GetCovarianceForm returns the covariance update form or the default.
func (c *RunConfig) GetCovarianceForm() string {
	if c.CovarianceForm == nil || *c.CovarianceForm == "" {
		return CovarianceFormStandard
	}
	return *c.CovarianceForm
}

// GetProcessNoiseModel returns the Q discretisation or the default.
func (c *RunConfig) GetProcessNoiseModel() string {
	if c.ProcessNoiseModel == nil || *c.ProcessNoiseModel == "" {
		return NoiseModelDiscrete
	}
	return *c.ProcessNoiseModel
}

// GetDivergenceLimit returns the position variance above which a run is
// abandoned, or 0 when the guard is off.
func (c *RunConfig) GetDivergenceLimit() float64 {
	if c.DivergenceLimit == nil {
		return 0
	}
	return *c.DivergenceLimit
}
