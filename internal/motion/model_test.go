package motion

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func defaultParams() CVParams {
	return CVParams{
		SampleInterval:       0.1,
		ProcessNoiseVariance: 0.1,
		MeasurementNoise:     [2]float64{1, 1},
	}
}

func TestNewConstantVelocity_Matrices(t *testing.T) {
	t.Parallel()

	m, err := NewConstantVelocity(CVParams{
		SampleInterval:       2,
		ProcessNoiseVariance: 1,
		MeasurementNoise:     [2]float64{1, 4},
	})
	require.NoError(t, err)

	assert.Equal(t, 4, m.StateDim())
	assert.Equal(t, 2, m.MeasDim())
	assert.Equal(t, 2, m.NoiseDim())
	assert.Equal(t, 2.0, m.SampleInterval())

	wantF := mat.NewDense(4, 4, []float64{
		1, 0, 2, 0,
		0, 1, 0, 2,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	assert.True(t, mat.Equal(wantF, m.F()))

	wantG := mat.NewDense(4, 2, []float64{2, 0, 0, 2, 2, 0, 0, 2})
	assert.True(t, mat.Equal(wantG, m.G()))

	wantH := mat.NewDense(2, 4, []float64{1, 0, 0, 0, 0, 1, 0, 0})
	assert.True(t, mat.Equal(wantH, m.H()))

	r := m.R()
	assert.Equal(t, 1.0, r.At(0, 0))
	assert.Equal(t, 4.0, r.At(1, 1))
	assert.Equal(t, 0.0, r.At(0, 1))
}

func TestProcessNoise_DiscreteMatchesGGt(t *testing.T) {
	t.Parallel()

	p := defaultParams()
	p.SampleInterval = 0.5
	p.ProcessNoiseVariance = 3
	m, err := NewConstantVelocity(p)
	require.NoError(t, err)

	g := m.G()
	var ggt mat.Dense
	ggt.Mul(g, g.T())
	ggt.Scale(3, &ggt)

	assert.True(t, mat.EqualApprox(&ggt, m.Q(), 1e-12))

	// Position/velocity cross terms live on (0,2) and (1,3) only.
	q := m.Q()
	assert.Equal(t, 0.0, q.At(0, 1))
	assert.Equal(t, 0.0, q.At(0, 3))
	assert.InDelta(t, 3*0.125/2, q.At(0, 2), 1e-12)
}

func TestProcessNoise_Continuous(t *testing.T) {
	t.Parallel()

	p := defaultParams()
	p.SampleInterval = 1
	p.ProcessNoiseVariance = 6
	p.NoiseModel = ContinuousWhiteNoise
	m, err := NewConstantVelocity(p)
	require.NoError(t, err)

	q := m.Q()
	assert.InDelta(t, 2.0, q.At(0, 0), 1e-12)
	assert.InDelta(t, 3.0, q.At(0, 2), 1e-12)
	assert.InDelta(t, 6.0, q.At(2, 2), 1e-12)
	assert.InDelta(t, 2.0, q.At(1, 1), 1e-12)
	assert.InDelta(t, 3.0, q.At(3, 1), 1e-12)
}

func TestNewConstantVelocity_ZeroIntervalIsIdentity(t *testing.T) {
	t.Parallel()

	p := defaultParams()
	p.SampleInterval = 0
	m, err := NewConstantVelocity(p)
	require.NoError(t, err)

	id := mat.NewDiagDense(4, []float64{1, 1, 1, 1})
	assert.True(t, mat.Equal(id, m.F()))
	assert.Equal(t, 0.0, mat.Norm(m.Q(), 1))
	assert.Equal(t, 0.0, mat.Norm(m.G(), 1))
}

func TestNewConstantVelocity_InvalidParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		mod   func(*CVParams)
		field string
	}{
		{"negative interval", func(p *CVParams) { p.SampleInterval = -1 }, "sample_interval"},
		{"negative process noise", func(p *CVParams) { p.ProcessNoiseVariance = -0.1 }, "process_noise_variance"},
		{"zero measurement noise", func(p *CVParams) { p.MeasurementNoise[1] = 0 }, "measurement_noise[1]"},
		{"unknown noise model", func(p *CVParams) { p.NoiseModel = "brownian" }, "process_noise_model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := defaultParams()
			tt.mod(&p)
			_, err := NewConstantVelocity(p)
			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestNewModel_ShapeChecks(t *testing.T) {
	t.Parallel()

	f := mat.NewDense(4, 4, nil)
	h := mat.NewDense(2, 4, nil)
	q := mat.NewSymDense(4, nil)
	r := mat.NewSymDense(2, []float64{1, 0, 0, 1})

	_, err := NewModel(f, nil, h, q, r, 0.1)
	require.NoError(t, err)

	tests := []struct {
		name  string
		f, h  mat.Matrix
		q, r  mat.Symmetric
		field string
	}{
		{"non-square F", mat.NewDense(4, 3, nil), h, q, r, "F"},
		{"H columns", f, mat.NewDense(2, 3, nil), q, r, "H"},
		{"Q size", f, h, mat.NewSymDense(3, nil), r, "Q"},
		{"R size", f, h, q, mat.NewSymDense(3, nil), "R"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewModel(tt.f, nil, tt.h, tt.q, tt.r, 0.1)
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestModel_AccessorsReturnCopies(t *testing.T) {
	t.Parallel()

	m, err := NewConstantVelocity(defaultParams())
	require.NoError(t, err)

	f := m.F()
	f.Set(0, 0, 42)
	r := m.R()
	r.SetSym(0, 0, 42)

	assert.Equal(t, 1.0, m.F().At(0, 0))
	assert.Equal(t, 1.0, m.R().At(0, 0))
}
