// Package sim generates ground-truth trajectories and noisy position
// measurements for a linear motion model.
package sim

import (
	"fmt"
	"iter"
	"math"
	"slices"

	"github.com/banshee-data/cvkalman/internal/motion"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// drivingGain scales the per-axis driving draws: w = N(0,1)·drivingGain·√σ².
const drivingGain = 10

// Config holds the run parameters that are not part of the motion model.
type Config struct {
	Steps                int     // Number of samples to generate (N)
	ProcessNoiseVariance float64 // σ² of the driving acceleration
	Seed                 uint64  // Random seed; equal seeds replay identically

	// DrivingInput maps the per-axis driving draws into the state. When nil,
	// a constant-velocity model gets DrivingInput(Ts) and any other model
	// uses its own G.
	DrivingInput mat.Matrix
}

// DrivingInput returns the simulator's noise-input matrix for the
// constant-velocity model, [[Ts²/2,0],[0,Ts²/2],[Ts/2,0],[0,Ts/2]].
//
// It is deliberately distinct from the model's G (Ts in the velocity rows)
// and so from the filter's Q = σ²·G·Gᵀ. Truth excitation follows this
// matrix; the filter keeps its own process model.
func DrivingInput(ts float64) *mat.Dense {
	half := ts * ts / 2
	return mat.NewDense(motion.CVStateDim, motion.CVNoiseDim, []float64{
		half, 0,
		0, half,
		ts / 2, 0,
		0, ts / 2,
	})
}

// Sample is one time step of the simulation. Truth and Measurement are
// freshly allocated for every sample and are not retained by the simulator.
type Sample struct {
	Step        int
	Time        float64   // Step * Ts
	Truth       []float64 // True state at this step, before the transition
	Measurement []float64 // H·Truth + v, v ~ N(0, R)
}

// Simulator produces a finite sequence of Samples. It keeps no mutable
// state between passes; each call to Samples starts again from the seed.
type Simulator struct {
	cfg          Config
	f, g, h      *mat.Dense
	ts           float64
	noise        *gaussian
	drivingScale float64
}

// New validates the noise parameters and returns a Simulator bound to model.
func New(model *motion.Model, cfg Config) (*Simulator, error) {
	if model == nil {
		return nil, &motion.ConfigurationError{Field: "model", Want: "non-nil", Got: "nil"}
	}
	if cfg.Steps < 0 {
		return nil, &motion.ConfigurationError{Field: "steps", Want: ">= 0", Got: fmt.Sprint(cfg.Steps)}
	}
	q := cfg.ProcessNoiseVariance
	if q < 0 || math.IsNaN(q) || math.IsInf(q, 0) {
		return nil, &SamplingError{Reason: fmt.Sprintf("process noise variance must be finite and >= 0, got %v", q)}
	}

	noise, err := newGaussian(model.R())
	if err != nil {
		return nil, fmt.Errorf("measurement noise: %w", err)
	}

	g, err := drivingInput(model, cfg.DrivingInput)
	if err != nil {
		return nil, err
	}

	return &Simulator{
		cfg:          cfg,
		f:            model.F(),
		g:            g,
		h:            model.H(),
		ts:           model.SampleInterval(),
		noise:        noise,
		drivingScale: drivingGain * math.Sqrt(q),
	}, nil
}

func drivingInput(model *motion.Model, custom mat.Matrix) (*mat.Dense, error) {
	if custom != nil {
		_, c := custom.Dims()
		if err := motion.CheckDims("driving_input", custom, model.StateDim(), c); err != nil {
			return nil, err
		}
		return mat.DenseCopyOf(custom), nil
	}
	if model.StateDim() == motion.CVStateDim && model.NoiseDim() == motion.CVNoiseDim {
		return DrivingInput(model.SampleInterval()), nil
	}
	return model.G(), nil
}

// Simulate is a shorthand for New followed by Samples. The sample interval
// comes from the model.
func Simulate(model *motion.Model, steps int, processNoiseVariance float64, seed uint64) (iter.Seq[Sample], error) {
	s, err := New(model, Config{Steps: steps, ProcessNoiseVariance: processNoiseVariance, Seed: seed})
	if err != nil {
		return nil, err
	}
	return s.Samples(), nil
}

// Steps returns N.
func (s *Simulator) Steps() int { return s.cfg.Steps }

// Samples returns a lazy sequence of N samples starting from the zero state.
func (s *Simulator) Samples() iter.Seq[Sample] {
	return func(yield func(Sample) bool) {
		src := newSource(s.cfg.Seed)
		measNoise := s.noise.sampler(src)
		driving := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

		n, _ := s.f.Dims()
		m, _ := s.h.Dims()
		noiseDim := 0
		if s.g != nil {
			_, noiseDim = s.g.Dims()
		}

		x := mat.NewVecDense(n, nil)
		z := mat.NewVecDense(m, nil)
		next := mat.NewVecDense(n, nil)
		for k := 0; k < s.cfg.Steps; k++ {
			// The measurement is taken from the state before it advances.
			z.MulVec(s.h, x)
			z.AddVec(z, mat.NewVecDense(m, measNoise()))

			sample := Sample{
				Step:        k,
				Time:        float64(k) * s.ts,
				Truth:       slices.Clone(x.RawVector().Data),
				Measurement: slices.Clone(z.RawVector().Data),
			}
			if !yield(sample) {
				return
			}

			// Driving noise is an ad-hoc 10·√σ²·N(0,1) per axis pushed through
			// the driving input, not the filter's G or Q.
			next.MulVec(s.f, x)
			if noiseDim > 0 {
				w := make([]float64, noiseDim)
				for i := range w {
					w[i] = driving.Rand() * s.drivingScale
				}
				var gw mat.VecDense
				gw.MulVec(s.g, mat.NewVecDense(noiseDim, w))
				next.AddVec(next, &gw)
			}
			x.CopyVec(next)
		}
	}
}

// Collect runs one full pass and returns every sample.
func (s *Simulator) Collect() []Sample {
	return slices.Collect(s.Samples())
}
