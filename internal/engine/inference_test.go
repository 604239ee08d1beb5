package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// singleLOConfig has one LO and n items tagged with it, guess and slip 0.1.
func singleLOConfig(n int) Config {
	cfg := Config{LOs: 1, Formulation: AdditiveName}
	for i := 0; i < n; i++ {
		cfg.Items = append(cfg.Items, ItemConfig{
			Relevance: []float64{1},
			Guess:     []float64{0.1},
			Slip:      []float64{0.1},
		})
	}
	return cfg
}

func column(m [][]float64, j int) []float64 {
	out := make([]float64, len(m))
	for i := range m {
		out[i] = m[i][j]
	}
	return out
}

func TestInfer(t *testing.T) {
	e := newTestEngine(t, singleLOConfig(4))
	tests := []struct {
		name        string
		correctness []float64
		want        []float64
	}{
		{"learned midway", []float64{0, 0, 1, 1}, []float64{0, 0, 1, 1}},
		{"known throughout", []float64{1, 1, 1, 1}, []float64{1, 1, 1, 1}},
		{"never learned", []float64{0, 0, 0, 0}, []float64{0, 0, 0, 0}},
		{"one slip", []float64{0, 1, 0, 1}, []float64{0, 0.5, 0.5, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Infer([]int{0, 1, 2, 3}, tt.correctness)
			require.NoError(t, err)
			require.Len(t, got, 4)
			assert.InDeltaSlice(t, tt.want, column(got, 0), tol)
		})
	}
}

func TestInferTiesAreAveraged(t *testing.T) {
	e := newTestEngine(t, singleLOConfig(2))
	// Known-then-slipped and guessed-then-unlearned cost the same.
	got, err := e.Infer([]int{0, 1}, []float64{1, 0})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, column(got, 0), tol)
}

func TestInferUntaggedLO(t *testing.T) {
	e := newTestEngine(t, testConfig(AdditiveName))
	// No attempt touches LO 2, so every split ties.
	got, err := e.Infer([]int{0, 3, 1}, []float64{1, 1, 0})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.25, 0.5, 0.75}, column(got, 2), tol)
	assert.InDeltaSlice(t, []float64{1, 1, 1}, column(got, 0), tol)
}

func TestInferValidates(t *testing.T) {
	e := newTestEngine(t, singleLOConfig(2))

	got, err := e.Infer(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = e.Infer([]int{0, 1}, []float64{1})
	assert.Error(t, err)

	_, err = e.Infer([]int{0, 5}, []float64{1, 0})
	assert.True(t, errors.Is(err, ErrUnknownItem))
}
