// Package pipeline drives one simulated run: it builds the motion model from
// a RunConfig, feeds every simulated measurement through the estimator
// exactly once, scores the result against ground truth and hands each step to
// the registered recorders.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/cvkalman/internal/config"
	"github.com/banshee-data/cvkalman/internal/consistency"
	"github.com/banshee-data/cvkalman/internal/kalman"
	"github.com/banshee-data/cvkalman/internal/monitoring"
	"github.com/banshee-data/cvkalman/internal/motion"
	"github.com/banshee-data/cvkalman/internal/sim"
	"github.com/banshee-data/cvkalman/internal/timeutil"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

// ErrDiverged is returned (wrapped with the step) when a posterior position
// variance exceeds the configured divergence limit.
var ErrDiverged = errors.New("estimator diverged")

// StepRecord is everything known about one time step.
type StepRecord struct {
	Step        int
	Time        float64
	Truth       []float64
	Measurement []float64
	Estimate    kalman.Estimate
}

// Recorder receives every StepRecord in order. A Recorder error aborts the run.
type Recorder interface {
	Record(StepRecord) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(StepRecord) error

// Record calls f(rec).
func (f RecorderFunc) Record(rec StepRecord) error { return f(rec) }

// Result is the outcome of a run. When Run returns an error after the loop
// has started, Result still holds the steps completed so far.
type Result struct {
	RunID   uuid.UUID
	Started time.Time
	Elapsed time.Duration
	Records []StepRecord
	Final   kalman.Estimate
	Skipped int // Steps whose update failed and kept the prediction
	Summary consistency.Summary
}

// Runner carries the collaborators of a run. The zero value uses the real
// clock and no recorders.
type Runner struct {
	Clock     timeutil.Clock
	Recorders []Recorder
}

// Run executes cfg with the real clock.
func Run(cfg *config.RunConfig, recorders ...Recorder) (*Result, error) {
	r := &Runner{Recorders: recorders}
	return r.Run(context.Background(), cfg)
}

// ModelParams maps a RunConfig onto constant-velocity model parameters.
func ModelParams(cfg *config.RunConfig) motion.CVParams {
	return motion.CVParams{
		SampleInterval:       cfg.GetSampleInterval(),
		ProcessNoiseVariance: cfg.GetProcessNoiseVariance(),
		MeasurementNoise:     cfg.GetMeasurementNoise(),
		NoiseModel:           motion.NoiseModel(cfg.GetProcessNoiseModel()),
	}
}

// EstimatorConfig maps a RunConfig onto estimator settings.
func EstimatorConfig(cfg *config.RunConfig) kalman.Config {
	return kalman.Config{
		ConditionLimit: cfg.GetConditionLimit(),
		Form:           kalman.CovarianceForm(cfg.GetCovarianceForm()),
	}
}

// InitialCondition returns the zero state with the configured diagonal prior.
func InitialCondition(cfg *config.RunConfig) kalman.InitialCondition {
	return kalman.InitialCondition{
		Covariance: kalman.DiagonalCovariance(cfg.GetInitialPositionVariance(), cfg.GetInitialVelocityVariance()),
	}
}

// Run builds the model, simulator and estimator for cfg and drives them to
// completion. A *kalman.NumericalError on a step is logged and counted, and
// the run continues from the prediction. Construction errors, recorder
// errors, divergence and context cancellation end the run.
func (r *Runner) Run(ctx context.Context, cfg *config.RunConfig) (*Result, error) {
	if cfg == nil {
		cfg = config.DefaultRunConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	clock := r.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	model, err := motion.NewConstantVelocity(ModelParams(cfg))
	if err != nil {
		return nil, fmt.Errorf("building model: %w", err)
	}
	est, err := kalman.NewFromModel(model, InitialCondition(cfg), EstimatorConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("building estimator: %w", err)
	}
	simulator, err := sim.New(model, sim.Config{
		Steps:                cfg.GetSteps(),
		ProcessNoiseVariance: cfg.GetProcessNoiseVariance(),
		Seed:                 cfg.GetSeed(),
	})
	if err != nil {
		return nil, fmt.Errorf("building simulator: %w", err)
	}

	res := &Result{
		RunID:   uuid.New(),
		Started: clock.Now(),
		Records: make([]StepRecord, 0, cfg.GetSteps()),
		Final: kalman.Estimate{
			State:      est.State(),
			Covariance: est.Covariance(),
		},
	}
	logf := monitoring.RunLogf(res.RunID.String())
	acc := consistency.NewAccumulator(model.StateDim(), motion.CVMeasDim, model.MeasDim())
	limit := cfg.GetDivergenceLimit()

	finish := func() {
		res.Summary = acc.Summary()
		res.Elapsed = clock.Since(res.Started)
	}

	for sample := range simulator.Samples() {
		if err := ctx.Err(); err != nil {
			finish()
			return res, err
		}

		e, err := est.Step(mat.NewVecDense(len(sample.Measurement), sample.Measurement))
		if err != nil {
			var numErr *kalman.NumericalError
			if !errors.As(err, &numErr) {
				finish()
				return res, fmt.Errorf("step %d: %w", sample.Step, err)
			}
			res.Skipped++
			logf("%v; keeping prediction", numErr)
		}

		rec := StepRecord{
			Step:        sample.Step,
			Time:        sample.Time,
			Truth:       sample.Truth,
			Measurement: sample.Measurement,
			Estimate:    e,
		}
		res.Records = append(res.Records, rec)
		res.Final = e
		acc.Add(mat.NewVecDense(len(sample.Truth), sample.Truth), e.State, e.Covariance, e.NIS, e.Updated)

		for _, recorder := range r.Recorders {
			if err := recorder.Record(rec); err != nil {
				finish()
				return res, fmt.Errorf("recording step %d: %w", sample.Step, err)
			}
		}

		if limit > 0 {
			for i := 0; i < motion.CVMeasDim; i++ {
				if v := e.Covariance.At(i, i); v > limit {
					finish()
					return res, fmt.Errorf("step %d: position variance %.3g exceeds %.3g: %w", sample.Step, v, limit, ErrDiverged)
				}
			}
		}
	}

	finish()
	return res, nil
}
