package tutor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/adaptengine/internal/config"
	"github.com/example/adaptengine/internal/database"
	"github.com/example/adaptengine/internal/engine"
	"github.com/example/adaptengine/pkg/models"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// seedCatalog stores two objectives, fractions before decimals, and three
// items: q1 on fractions and q2 on decimals in module 1, q3 on fractions
// in every module.
func seedCatalog(t *testing.T) {
	t.Helper()
	require.NoError(t, database.Connect(database.TypeSQLite, ":memory:"))
	t.Cleanup(func() { database.Close() })

	ctx := context.Background()
	catalog := database.NewCatalogRepository()
	fractions, _, err := catalog.GetOrCreateLearningObjective(ctx, "fractions")
	require.NoError(t, err)
	decimals, _, err := catalog.GetOrCreateLearningObjective(ctx, "decimals")
	require.NoError(t, err)
	_, _, err = catalog.GetOrCreateLearningObjective(ctx, "untagged")
	require.NoError(t, err)
	require.NoError(t, catalog.UpsertPrerequisite(ctx, models.Prerequisite{PrerequisiteID: fractions, LOID: decimals, Weight: 1}))

	for _, it := range []struct {
		id     string
		module int
		lo     int64
	}{
		{"q1", 1, fractions},
		{"q2", 1, decimals},
		{"q3", 0, fractions},
	} {
		item := &models.Item{ExternalID: it.id, Module: it.module}
		_, err := catalog.UpsertItem(ctx, item)
		require.NoError(t, err)
		require.NoError(t, catalog.UpsertItemTag(ctx, models.ItemTag{ItemID: item.ID, LOID: it.lo, Relevance: 1}))
	}
	// An item without tags is ignored.
	_, err = catalog.UpsertItem(ctx, &models.Item{ExternalID: "orphan"})
	require.NoError(t, err)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Estimation.InformationThreshold = 1
	return cfg
}

func load(t *testing.T) *Tutor {
	t.Helper()
	tu, err := Load(context.Background(), testConfig())
	require.NoError(t, err)
	return tu
}

func TestLoadEmptyCatalog(t *testing.T) {
	require.NoError(t, database.Connect(database.TypeSQLite, ":memory:"))
	t.Cleanup(func() { database.Close() })
	_, err := Load(context.Background(), testConfig())
	assert.True(t, errors.Is(err, ErrEmptyCatalog))
}

func TestLoadBuildsEngineFromCatalog(t *testing.T) {
	seedCatalog(t)
	tu := load(t)

	p := tu.Engine().Params()
	assert.Equal(t, 3, p.Items())
	assert.Equal(t, 2, p.LOs())
	assert.Equal(t, 1.0, p.Prereq[0][1])
	assert.Equal(t, []int{1, 1, 0}, p.Module)

	_, err := tu.Predict("alice", "orphan")
	assert.True(t, errors.Is(err, engine.ErrUnknownItem))
}

func TestRecordAndRecommend(t *testing.T) {
	seedCatalog(t)
	ctx := context.Background()
	tu := load(t)

	next, ok, err := tu.NextItem(ctx, "alice", 1, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "q1", next)

	mastery, err := tu.RecordAttempt(ctx, "alice", "q1", 1, t0)
	require.NoError(t, err)
	require.Len(t, mastery, 2)
	assert.Equal(t, "fractions", mastery[0].Objective)
	assert.Greater(t, mastery[0].Probability, engine.DefaultPrior)
	assert.InDelta(t, engine.DefaultPrior, mastery[1].Probability, 1e-9)
	assert.Equal(t, 1.0, mastery[0].Exposure)

	next, ok, err = tu.NextItem(ctx, "alice", 1, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "q3", next)

	alice, err := tu.Predict("alice", "q3")
	require.NoError(t, err)
	bob, err := tu.Predict("bob", "q3")
	require.NoError(t, err)
	assert.Greater(t, alice, bob)

	learner, err := database.NewLearnerRepository().GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	rows, err := database.NewMasteryRepository().GetByLearner(ctx, learner.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.InDelta(t, mastery[0].Probability, rows[0].Probability, 1e-12)
	require.NotNil(t, rows[0].LastSeenItem)
}

func TestRecordAttemptRejectsBadInput(t *testing.T) {
	seedCatalog(t)
	ctx := context.Background()
	tu := load(t)

	_, err := tu.RecordAttempt(ctx, "alice", "q1", 1.5, t0)
	assert.True(t, errors.Is(err, engine.ErrInvalidScore))
	_, err = tu.RecordAttempt(ctx, "alice", "nope", 1, t0)
	assert.True(t, errors.Is(err, engine.ErrUnknownItem))

	attempts, err := database.NewLearnerRepository().GetAttempts(ctx)
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestLoadReplaysAttempts(t *testing.T) {
	seedCatalog(t)
	ctx := context.Background()
	tu := load(t)

	for k, step := range []struct {
		learner, item string
		score         float64
	}{
		{"alice", "q1", 1}, {"bob", "q2", 0}, {"alice", "q2", 0.5}, {"alice", "q3", 1},
	} {
		_, err := tu.RecordAttempt(ctx, step.learner, step.item, step.score, t0.Add(time.Duration(k)*time.Minute))
		require.NoError(t, err)
	}
	tu.NextItem(ctx, "carol", 1, false)

	reloaded := load(t)
	assert.Equal(t, tu.Engine().Learners(), reloaded.Engine().Learners())
	assert.Equal(t, tu.Mastery("alice"), reloaded.Mastery("alice"))
	assert.Equal(t, 3, reloaded.Engine().LearnerCount())
}

func TestCalibratePersistsRun(t *testing.T) {
	seedCatalog(t)
	ctx := context.Background()
	tu := load(t)

	_, err := tu.RecordAttempt(ctx, "alice", "q1", 1, t0)
	require.NoError(t, err)
	tu.NextItem(ctx, "fresh", 1, false)

	run, err := tu.Calibrate(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, 1, run.Version)
	assert.Equal(t, 1, run.Learners)

	latest, err := database.NewCalibrationRepository().GetLatest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, run.ID, latest.ID)

	params, err := database.NewCalibrationRepository().GetParameters(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, params, 3)

	// The pristine learner moved to the estimated prior and was checkpointed.
	fresh := tu.Mastery("fresh")
	assert.Greater(t, fresh[0].Probability, 0.99)
	learner, err := database.NewLearnerRepository().GetOrCreate(ctx, "fresh")
	require.NoError(t, err)
	rows, err := database.NewMasteryRepository().GetByLearner(ctx, learner.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Greater(t, rows[0].Probability, 0.99)

	reloaded := load(t)
	assert.Equal(t, 1, reloaded.Engine().Params().Version)
	assert.InEpsilon(t, tu.Engine().Params().Prior[0], reloaded.Engine().Params().Prior[0], 1e-3)
	assert.InDelta(t, tu.Engine().Params().Slip[0][0], reloaded.Engine().Params().Slip[0][0], 1e-12)
}

func TestRankItemsBestFirst(t *testing.T) {
	seedCatalog(t)
	ctx := context.Background()
	tu := load(t)

	ranked, err := tu.RankItems(ctx, "alice", 1)
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, "q1", ranked[0].ItemID)
	for k := 1; k < len(ranked); k++ {
		assert.GreaterOrEqual(t, ranked[k-1].Score, ranked[k].Score)
	}

	_, err = tu.RecordAttempt(ctx, "alice", "q1", 1, t0)
	require.NoError(t, err)
	ranked, err = tu.RankItems(ctx, "alice", 1)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	next, _, err := tu.NextItem(ctx, "alice", 1, false)
	require.NoError(t, err)
	assert.Equal(t, next, ranked[0].ItemID)
}

func TestHistoryInTimeOrder(t *testing.T) {
	seedCatalog(t)
	ctx := context.Background()
	tu := load(t)

	_, err := tu.RecordAttempt(ctx, "alice", "q1", 1, t0.Add(time.Minute))
	require.NoError(t, err)
	_, err = tu.RecordAttempt(ctx, "alice", "q2", 0.5, t0)
	require.NoError(t, err)
	_, err = tu.RecordAttempt(ctx, "bob", "q3", 0, t0)
	require.NoError(t, err)

	history, err := tu.History(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "q2", history[0].ItemID)
	assert.Equal(t, 0.5, history[0].Score)
	assert.Equal(t, "q1", history[1].ItemID)
	assert.True(t, t0.Add(time.Minute).Equal(history[1].AttemptedAt))

	none, err := tu.History(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStoredMasteryMatchesCheckpoint(t *testing.T) {
	seedCatalog(t)
	ctx := context.Background()
	tu := load(t)

	live, err := tu.RecordAttempt(ctx, "alice", "q1", 1, t0)
	require.NoError(t, err)
	stored, err := tu.StoredMastery(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, stored, len(live))
	for j := range live {
		assert.Equal(t, live[j].Objective, stored[j].Objective)
		assert.InDelta(t, live[j].Probability, stored[j].Probability, 1e-12)
		assert.Equal(t, live[j].Exposure, stored[j].Exposure)
	}

	// Registered but never checkpointed.
	_, _, err = tu.NextItem(ctx, "carol", 1, false)
	require.NoError(t, err)
	stored, err = tu.StoredMastery(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, stored)

	stored, err = tu.StoredMastery(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

// Concurrent attempts of one learner at the same time replay in the order
// they were applied.
func TestRecordAttemptConcurrentReplaysIdentically(t *testing.T) {
	seedCatalog(t)
	ctx := context.Background()
	tu := load(t)

	items := []string{"q1", "q2", "q3"}
	var wg sync.WaitGroup
	for k := 0; k < 24; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			_, err := tu.RecordAttempt(ctx, "alice", items[k%3], float64(k%2), t0)
			assert.NoError(t, err)
		}(k)
	}
	wg.Wait()

	reloaded := load(t)
	assert.Equal(t, tu.Engine().Learners(), reloaded.Engine().Learners())
	assert.Equal(t, tu.Mastery("alice"), reloaded.Mastery("alice"))
}
