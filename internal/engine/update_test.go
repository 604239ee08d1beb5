package engine

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateFirstAttemptSideEffects(t *testing.T) {
	for _, form := range formulations {
		t.Run(form, func(t *testing.T) {
			cfg := testConfig(form)
			cfg.Items[3].Relevance = []float64{0.5, 0, 0}
			e := newTestEngine(t, cfg)

			_, err := e.Update("a", 3, 1, t0)
			require.NoError(t, err)
			st := e.Learner("a")
			assert.Equal(t, 3, st.LastSeen)
			assert.Equal(t, []float64{0.5, 0, 0}, st.Exposure)
			assert.Equal(t, Response{Score: 1, Time: t0}, st.History[3])
			assert.False(t, st.Pristine())

			// A repeat changes mastery but neither exposure nor the record.
			before := st.Mastery[0]
			_, err = e.Update("a", 3, 0, t0.Add(time.Hour))
			require.NoError(t, err)
			st = e.Learner("a")
			assert.NotEqual(t, before, st.Mastery[0])
			assert.Equal(t, []float64{0.5, 0, 0}, st.Exposure)
			assert.Equal(t, Response{Score: 1, Time: t0}, st.History[3])

			_, err = e.Update("a", 0, 1, t0.Add(2*time.Hour))
			require.NoError(t, err)
			st = e.Learner("a")
			assert.Equal(t, 0, st.LastSeen)
			assert.Equal(t, []float64{1.5, 0, 0}, st.Exposure)
			assert.Len(t, st.History, 2)
		})
	}
}

func TestUpdateRejectsBadInput(t *testing.T) {
	e := newTestEngine(t, testConfig(AdditiveName))
	for _, s := range []float64{-0.1, 1.5, math.NaN()} {
		_, err := e.Update("a", 0, s, t0)
		assert.True(t, errors.Is(err, ErrInvalidScore), "score %v", s)
	}
	for _, item := range []int{-1, 4} {
		_, err := e.Update("a", item, 1, t0)
		assert.True(t, errors.Is(err, ErrUnknownItem), "item %d", item)
		_, err = e.PredictCorrectness("a", item)
		assert.True(t, errors.Is(err, ErrUnknownItem), "item %d", item)
	}
}

// Without transit, evidence alone moves mastery: up on a correct answer,
// down on an incorrect one, and never for LOs the item does not touch.
func TestUpdateMonotonicity(t *testing.T) {
	for _, form := range formulations {
		t.Run(form, func(t *testing.T) {
			cfg := testConfig(form)
			for i := range cfg.Items {
				cfg.Items[i].Transit = []float64{0, 0, 0}
			}
			e := newTestEngine(t, cfg)

			prev := e.Mastery("a")
			for step, s := range []float64{1, 1, 0, 0.5, 0, 1, 0} {
				_, err := e.Update("a", 0, s, t0)
				require.NoError(t, err)
				cur := e.Mastery("a")
				switch {
				case s == 1:
					assert.GreaterOrEqual(t, cur[0], prev[0], "step %d", step)
				case s == 0:
					assert.LessOrEqual(t, cur[0], prev[0], "step %d", step)
				}
				assert.Equal(t, prev[1], cur[1])
				assert.Equal(t, prev[2], cur[2])
				prev = cur
			}
		})
	}
}

// With transit, a correct answer still leaves mastery at least as high as
// an incorrect one would.
func TestUpdateCorrectBeatsIncorrect(t *testing.T) {
	for _, form := range formulations {
		t.Run(form, func(t *testing.T) {
			e := newTestEngine(t, testConfig(form))
			for i := 0; i < 4; i++ {
				right, err := e.Update(fmt.Sprintf("right-%d", i), i, 1, t0)
				require.NoError(t, err)
				wrong, err := e.Update(fmt.Sprintf("wrong-%d", i), i, 0, t0)
				require.NoError(t, err)
				for j := range right {
					assert.GreaterOrEqual(t, right[j], wrong[j])
				}
			}
		})
	}
}

func TestPredictCorrectnessScenario(t *testing.T) {
	// guess, slip and transit odds 0.1; prior odds 0.25.
	p := probability(0.1)
	cfg := Config{
		LOs:   1,
		Items: []ItemConfig{{Relevance: []float64{1}, Guess: []float64{p}, Slip: []float64{p}, Transit: []float64{p}}},
		Prior: []float64{probability(0.25)},
	}
	for _, form := range formulations {
		t.Run(form, func(t *testing.T) {
			cfg.Formulation = form
			e := newTestEngine(t, cfg)

			_, err := e.Update("right", 0, 1, t0)
			require.NoError(t, err)
			_, err = e.Update("wrong", 0, 0, t0)
			require.NoError(t, err)

			pr, err := e.PredictCorrectness("right", 0)
			require.NoError(t, err)
			pw, err := e.PredictCorrectness("wrong", 0)
			require.NoError(t, err)
			assert.Greater(t, pr, pw)
			assert.InDelta(t, 0.6965761511216056, pr, 1e-9)
			assert.InDelta(t, 0.183430759927434, pw, 1e-9)
		})
	}
}

func TestPredictCorrectnessIdempotent(t *testing.T) {
	e := newTestEngine(t, testConfig(MultiplicativeName))
	_, err := e.Update("a", 0, 1, t0)
	require.NoError(t, err)
	first, err := e.PredictCorrectness("a", 3)
	require.NoError(t, err)
	second, err := e.PredictCorrectness("a", 3)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 0, e.Learner("a").LastSeen, "prediction must not touch state")
}

func TestPredictCorrectnessMultipliesOdds(t *testing.T) {
	cfg := testConfig(AdditiveName)
	cfg.Items = append(cfg.Items, ItemConfig{Relevance: []float64{1, 1, 0}})
	e := newTestEngine(t, cfg)

	single, err := e.PredictCorrectness("a", 0)
	require.NoError(t, err)
	double, err := e.PredictCorrectness("a", 4)
	require.NoError(t, err)
	o := odds(single)
	assert.InDelta(t, o*o/(1+o*o), double, tol)
}

func TestPredictCorrectnessDegenerate(t *testing.T) {
	e := newTestEngine(t, testConfig(AdditiveName))
	require.NoError(t, e.Restore([]LearnerState{{
		ID:       "nan",
		Mastery:  []float64{math.NaN(), 0, 0},
		Exposure: []float64{1, 0, 0},
		LastSeen: NoItem,
	}}))
	p, err := e.PredictCorrectness("nan", 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p)
}

func TestUpdateConcurrentSameLearner(t *testing.T) {
	cfg := testConfig(AdditiveName)
	for i := 0; i < 60; i++ {
		cfg.Items = append(cfg.Items, ItemConfig{Relevance: []float64{1, 1, 1}})
	}
	e := newTestEngine(t, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(item int) {
			defer wg.Done()
			_, err := e.Update("shared", item, 1, t0.Add(time.Duration(item)*time.Second))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	st := e.Learner("shared")
	assert.Len(t, st.History, 64)
	assert.Equal(t, 1, e.LearnerCount())
}
