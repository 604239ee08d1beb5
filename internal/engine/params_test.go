package engine

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParamsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no LOs", func(c *Config) { c.LOs = 0 }},
		{"no items", func(c *Config) { c.Items = nil }},
		{"item without LO", func(c *Config) { c.Items[1].Relevance = []float64{0, 0, 0} }},
		{"uncovered LO", func(c *Config) { c.Items[2].Relevance = []float64{1, 0, 0} }},
		{"short relevance", func(c *Config) { c.Items[0].Relevance = []float64{1} }},
		{"negative relevance", func(c *Config) { c.Items[0].Relevance = []float64{1, -1, 0} }},
		{"NaN difficulty", func(c *Config) { c.Items[0].Difficulty = math.NaN() }},
		{"guess of one", func(c *Config) { c.Items[0].Guess = []float64{1, 0.1, 0.1} }},
		{"zero slip", func(c *Config) { c.Items[0].Slip = []float64{0, 0.1, 0.1} }},
		{"short transit", func(c *Config) { c.Items[0].Transit = []float64{0.1} }},
		{"prior of zero", func(c *Config) { c.Prior = []float64{0, 0.2, 0.2} }},
		{"mutual prerequisites", func(c *Config) { c.Prereq[1][0] = 0.5 }},
		{"self prerequisite", func(c *Config) { c.Prereq[2][2] = 1 }},
		{"prerequisite weight above one", func(c *Config) { c.Prereq[0][2] = 2 }},
		{"ragged prerequisites", func(c *Config) { c.Prereq[1] = []float64{0} }},
		{"epsilon too large", func(c *Config) { c.Epsilon = 0.7 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(AdditiveName)
			tt.mutate(&cfg)
			_, err := New(cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), err.Error())
		})
	}
}

func TestNewParamsStoresOdds(t *testing.T) {
	cfg := testConfig(AdditiveName)
	cfg.Items[0].Guess = []float64{0.2, 0.1, 0.1}
	cfg.Items[0].Transit = []float64{0, 0.1, 0.1}
	cfg.Prior = []float64{0.5, 0.2, 0.2}
	e := newTestEngine(t, cfg)
	p := e.Params()

	assert.InDelta(t, 0.25, p.Guess[0][0], tol)
	assert.InDelta(t, 1.0/9, p.Slip[0][0], tol)
	assert.Equal(t, 0.0, p.Transit[0][0])
	assert.InDelta(t, 1.0, p.Prior[0], tol)
	assert.InDelta(t, 0.25, p.Prior[1], tol)
	assert.Equal(t, 4, p.Items())
	assert.Equal(t, 3, p.LOs())
}

func TestNormalizeDifficulty(t *testing.T) {
	d := []float64{1, 3, 5, 2}
	normalizeDifficulty(d)
	assert.Equal(t, []float64{0, 0.5, 1, 0.25}, d)

	same := []float64{4, 4}
	normalizeDifficulty(same)
	assert.Equal(t, []float64{0.5, 0.5}, same)
}

func TestDeriveIsNeutralOffTag(t *testing.T) {
	e := newTestEngine(t, testConfig(AdditiveName))
	p := e.Params()

	// Item 0 only touches LO 0.
	for j := 1; j < 3; j++ {
		assert.Equal(t, 0.0, p.x0[0][j])
		assert.Equal(t, 0.0, p.k[0][j])
		assert.Equal(t, 1.0, p.x0Mult[0][j])
		assert.Equal(t, 1.0, p.x1Mult[0][j])
		assert.Equal(t, 0.0, p.trans[0][j])
		assert.Equal(t, 0.0, p.guessNegLog[0][j])
	}

	g, s := p.Guess[0][0], p.Slip[0][0]
	assert.InDelta(t, math.Log(s*(1+g)/(1+s)), p.x0[0][0], tol)
	assert.InDelta(t, -math.Log(g)-math.Log(s), p.k[0][0], tol)
	assert.InDelta(t, math.Exp(p.k[0][0]), p.x1Mult[0][0], 1e-6)
}

func TestWithEstimateValidates(t *testing.T) {
	e := newTestEngine(t, testConfig(AdditiveName))
	p := e.Params()
	good := &Estimate{
		Prior:   append([]float64(nil), p.Prior...),
		Guess:   cloneMatrix(p.Guess),
		Slip:    cloneMatrix(p.Slip),
		Transit: cloneMatrix(p.Transit),
	}
	next, err := p.withEstimate(good)
	require.NoError(t, err)
	assert.Equal(t, p.Version+1, next.Version)

	short := *good
	short.Guess = short.Guess[:2]
	_, err = p.withEstimate(&short)
	assert.True(t, errors.Is(err, ErrInvalidEstimate))

	bad := *good
	bad.Slip = cloneMatrix(p.Slip)
	bad.Slip[1][1] = math.NaN()
	_, err = p.withEstimate(&bad)
	assert.True(t, errors.Is(err, ErrInvalidEstimate))
}
