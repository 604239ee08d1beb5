package engine

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshRePrimesPristineLearners(t *testing.T) {
	for _, form := range formulations {
		t.Run(form, func(t *testing.T) {
			cfg := testConfig(form)
			cfg.Estimation = &EstimateOptions{InformationThreshold: 1, RemoveDegeneracy: true}
			e := newTestEngine(t, cfg)

			e.Learner("fresh")
			engaged, err := e.Update("engaged", 0, 1, t0)
			require.NoError(t, err)

			est, err := e.Refresh()
			require.NoError(t, err)
			p := e.Params()
			assert.Equal(t, 1, p.Version)
			assert.Equal(t, est.Prior, p.Prior)
			assert.Equal(t, est.Guess, p.Guess)

			f := e.Formulation()
			fresh := e.Learner("fresh").Mastery
			for j, o := range p.Prior {
				assert.Equal(t, f.Encode(o), fresh[j])
			}
			assert.Equal(t, engaged, e.Learner("engaged").Mastery)

			late := e.Learner("late").Mastery
			assert.Equal(t, fresh, late)
			// LO 0 was known by the only learner who tried it.
			assert.Greater(t, f.LogOdds(late[0]), f.LogOdds(f.Encode(DefaultPrior/(1-DefaultPrior))))
		})
	}
}

func TestRefreshKeepsStructure(t *testing.T) {
	e := newTestEngine(t, testConfig(AdditiveName))
	before := e.Params()
	_, err := e.Refresh()
	require.NoError(t, err)
	after := e.Params()

	assert.Equal(t, before.Relevance, after.Relevance)
	assert.Equal(t, before.Module, after.Module)
	assert.Equal(t, before.Prereq, after.Prereq)
	assert.Equal(t, before.Difficulty, after.Difficulty)
	assert.Equal(t, 0, before.Version, "old snapshot is immutable")
}

func TestInstallRejectsInvalidEstimate(t *testing.T) {
	e := newTestEngine(t, testConfig(AdditiveName))
	est, err := e.Estimate(DefaultEstimateOptions())
	require.NoError(t, err)

	est.Transit = est.Transit[:1]
	err = e.Install(est)
	assert.True(t, errors.Is(err, ErrInvalidEstimate))
	assert.Equal(t, 0, e.Params().Version)
}

func TestRefreshConcurrentWithUpdates(t *testing.T) {
	cfg := testConfig(MultiplicativeName)
	cfg.Estimation = &EstimateOptions{InformationThreshold: 2, RemoveDegeneracy: true}
	e := newTestEngine(t, cfg)

	const learners, refreshes = 16, 10
	var wg sync.WaitGroup
	for l := 0; l < learners; l++ {
		wg.Add(1)
		go func(l int) {
			defer wg.Done()
			id := fmt.Sprintf("learner-%d", l)
			for k := 0; k < 4; k++ {
				item := (l + k) % 4
				_, err := e.Update(id, item, float64((l+k)%2), t0.Add(time.Duration(k)*time.Minute))
				assert.NoError(t, err)
				_, _, err = e.Recommend(id, AnyModule, false)
				assert.NoError(t, err)
			}
		}(l)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for r := 0; r < refreshes; r++ {
			_, err := e.Refresh()
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	assert.Equal(t, refreshes, e.Params().Version)
	assert.Equal(t, learners, e.LearnerCount())
	for _, st := range e.Learners() {
		assert.Len(t, st.History, 4)
		for j, v := range st.Mastery {
			assert.True(t, isFinite(v) && v > 0, "%s mastery[%d] = %g", st.ID, j, v)
		}
	}
}
