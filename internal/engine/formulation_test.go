package engine

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormulationByName(t *testing.T) {
	for _, name := range formulations {
		f, err := FormulationByName(name)
		require.NoError(t, err)
		assert.Equal(t, name, f.Name())
	}
	_, err := FormulationByName("")
	assert.True(t, errors.Is(err, ErrUnknownFormulation))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, name := range formulations {
		f, _ := FormulationByName(name)
		for _, o := range []float64{1e-8, 0.25, 1, 9, 1e8} {
			assert.InDelta(t, o, f.Decode(f.Encode(o)), o*1e-12, name)
			assert.InDelta(t, math.Log(o), f.LogOdds(f.Encode(o)), 1e-12, name)
		}
	}
}

// Both encodings must agree after converting to probability, including
// for fractional scores.
func TestFormulationsAgree(t *testing.T) {
	add := newTestEngine(t, testConfig(AdditiveName))
	mult := newTestEngine(t, testConfig(MultiplicativeName))

	steps := []struct {
		item  int
		score float64
	}{
		{0, 1}, {0, 0}, {1, 0.3}, {3, 1}, {2, 0}, {1, 1}, {1, 0.7}, {2, 1}, {0, 0.5},
	}
	for i, s := range steps {
		_, err := add.Update("u", s.item, s.score, t0)
		require.NoError(t, err)
		_, err = mult.Update("u", s.item, s.score, t0)
		require.NoError(t, err)

		pa, pm := add.Mastery("u"), mult.Mastery("u")
		for j := range pa {
			assert.InDelta(t, pa[j], pm[j], tol, "step %d lo %d", i, j)
		}
	}
}

func TestAdditiveUpdateMatchesFormula(t *testing.T) {
	e := newTestEngine(t, testConfig(AdditiveName))
	p := e.Params()
	m := []float64{math.Log(0.25), 0.5, -1}
	Additive{}.Update(m, p, 0, 1)

	g, s, tr := p.Guess[0][0], p.Slip[0][0], p.Transit[0][0]
	l := math.Log(0.25) + math.Log(s*(1+g)/(1+s)) - math.Log(g) - math.Log(s)
	want := math.Log(tr + (tr+1)*math.Exp(l))
	assert.InDelta(t, want, m[0], tol)
	// LOs the item does not touch are unchanged.
	assert.Equal(t, 0.5, m[1])
	assert.Equal(t, -1.0, m[2])
}

func TestMultiplicativeUpdateMatchesFormula(t *testing.T) {
	e := newTestEngine(t, testConfig(MultiplicativeName))
	p := e.Params()
	m := []float64{0.25, 2, 3}
	Multiplicative{}.Update(m, p, 0, 0)

	g, s, tr := p.Guess[0][0], p.Slip[0][0], p.Transit[0][0]
	l := 0.25 * s * (1 + g) / (1 + s)
	assert.InDelta(t, l+tr*(l+1), m[0], tol)
	assert.Equal(t, 2.0, m[1])
	assert.Equal(t, 3.0, m[2])
}

func TestUpdateClampsSaturation(t *testing.T) {
	cfg := testConfig(AdditiveName)
	cfg.Items[0].Transit = []float64{0, 0.1, 0.1}
	e := newTestEngine(t, cfg)
	p := e.Params()
	bound := -math.Log(p.Epsilon())

	m := []float64{math.Inf(1), 0, 0}
	Additive{}.Update(m, p, 0, 1)
	assert.Equal(t, bound, m[0])

	m = []float64{math.Inf(-1), 0, 0}
	Additive{}.Update(m, p, 0, 0)
	assert.Equal(t, -bound, m[0])

	m = []float64{0, 1, 1}
	Multiplicative{}.Update(m, p, 0, 0)
	assert.Equal(t, p.Epsilon(), m[0])

	m = []float64{math.Inf(1), 1, 1}
	Multiplicative{}.Update(m, p, 0, 1)
	assert.Equal(t, 1/p.Epsilon(), m[0])
}
