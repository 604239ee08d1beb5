// Package tutor connects the mastery engine to the item catalog and the
// attempt log in the database.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/adaptengine/internal/config"
	"github.com/example/adaptengine/internal/database"
	"github.com/example/adaptengine/internal/engine"
	"github.com/example/adaptengine/pkg/models"
)

// ErrEmptyCatalog is returned by Load when no item is tagged with a
// learning objective.
var ErrEmptyCatalog = errors.New("catalog has no tagged items")

// ObjectiveMastery is a learner's mastery probability on one objective
type ObjectiveMastery struct {
	Objective   string  `json:"objective"`
	Probability float64 `json:"probability"`
	Exposure    float64 `json:"exposure"`
}

// Tutor serves attempts, recommendations and calibration for one catalog
type Tutor struct {
	engine *engine.Engine

	catalog      *database.CatalogRepository
	learners     *database.LearnerRepository
	mastery      *database.MasteryRepository
	calibrations *database.CalibrationRepository

	items     []models.Item              // by engine index
	itemIndex map[string]int             // external id → engine index
	itemByID  map[int64]int              // database id → engine index
	los       []models.LearningObjective // by engine index

	mu         sync.Mutex
	learnerIDs map[string]int64       // external id → database id
	recording  map[string]*sync.Mutex // external id → attempt lock
}

// RankedItem is a recommendation candidate with its scaled terms
type RankedItem struct {
	ItemID          string  `json:"item_id"`
	Readiness       float64 `json:"readiness"`
	Demand          float64 `json:"demand"`
	Appropriateness float64 `json:"appropriateness"`
	Continuity      float64 `json:"continuity"`
	Score           float64 `json:"score"`
}

// AttemptRecord is a stored attempt with the item's external id
type AttemptRecord struct {
	ItemID      string    `json:"item_id"`
	Score       float64   `json:"score"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// Load builds the engine from the catalog, installs the latest calibration
// and replays every recorded attempt in time order.
func Load(ctx context.Context, cfg *config.Config) (*Tutor, error) {
	t := &Tutor{
		catalog:      database.NewCatalogRepository(),
		learners:     database.NewLearnerRepository(),
		mastery:      database.NewMasteryRepository(),
		calibrations: database.NewCalibrationRepository(),
		itemIndex:    make(map[string]int),
		itemByID:     make(map[int64]int),
		learnerIDs:   make(map[string]int64),
		recording:    make(map[string]*sync.Mutex),
	}

	engineCfg, err := t.buildConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	t.engine, err = engine.New(engineCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build engine: %w", err)
	}

	if err := t.installLatestCalibration(ctx); err != nil {
		return nil, err
	}
	if err := t.replay(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// buildConfig maps the catalog onto dense engine indices. Objectives
// without a tagged item and items without a tag are left out.
func (t *Tutor) buildConfig(ctx context.Context, cfg *config.Config) (engine.Config, error) {
	out := cfg.ModelConfig()

	los, err := t.catalog.GetLearningObjectives(ctx)
	if err != nil {
		return out, err
	}
	items, err := t.catalog.GetItems(ctx)
	if err != nil {
		return out, err
	}
	tags, err := t.catalog.GetItemTags(ctx)
	if err != nil {
		return out, err
	}
	prereqs, err := t.catalog.GetPrerequisites(ctx)
	if err != nil {
		return out, err
	}

	tagsByItem := make(map[int64][]models.ItemTag)
	tagged := make(map[int64]bool)
	for _, tag := range tags {
		if tag.Relevance > 0 {
			tagsByItem[tag.ItemID] = append(tagsByItem[tag.ItemID], tag)
			tagged[tag.LOID] = true
		}
	}

	loIndex := make(map[int64]int)
	for _, lo := range los {
		if !tagged[lo.ID] {
			log.Printf("Learning objective %q has no tagged items, skipping", lo.Name)
			continue
		}
		loIndex[lo.ID] = len(t.los)
		t.los = append(t.los, lo)
	}

	defaults := cfg.Engine.Defaults
	for _, item := range items {
		itemTags := tagsByItem[item.ID]
		if len(itemTags) == 0 {
			log.Printf("Item %q has no learning objective, skipping", item.ExternalID)
			continue
		}
		ic := engine.ItemConfig{
			Relevance:  make([]float64, len(t.los)),
			Difficulty: item.Difficulty,
			Module:     item.Module,
			Guess:      filled(len(t.los), defaults.Guess),
			Slip:       filled(len(t.los), defaults.Slip),
			Transit:    filled(len(t.los), defaults.Transit),
		}
		for _, tag := range itemTags {
			j := loIndex[tag.LOID]
			ic.Relevance[j] = tag.Relevance
			if tag.Guess != nil {
				ic.Guess[j] = *tag.Guess
			}
			if tag.Slip != nil {
				ic.Slip[j] = *tag.Slip
			}
			if tag.Transit != nil {
				ic.Transit[j] = *tag.Transit
			}
		}

		t.itemIndex[item.ExternalID] = len(t.items)
		t.itemByID[item.ID] = len(t.items)
		t.items = append(t.items, item)
		out.Items = append(out.Items, ic)
	}
	if len(out.Items) == 0 {
		return out, ErrEmptyCatalog
	}

	out.LOs = len(t.los)
	out.Prereq = make([][]float64, len(t.los))
	for j := range out.Prereq {
		out.Prereq[j] = make([]float64, len(t.los))
	}
	for _, p := range prereqs {
		from, okFrom := loIndex[p.PrerequisiteID]
		to, okTo := loIndex[p.LOID]
		if okFrom && okTo {
			out.Prereq[from][to] = p.Weight
		}
	}
	return out, nil
}

// installLatestCalibration applies the most recent stored calibration run.
// Cells the run does not cover keep their catalog values.
func (t *Tutor) installLatestCalibration(ctx context.Context) error {
	run, err := t.calibrations.GetLatest(ctx)
	if err != nil || run == nil {
		return err
	}
	params, err := t.calibrations.GetParameters(ctx, run.ID)
	if err != nil {
		return err
	}
	priors, err := t.calibrations.GetPriors(ctx, run.ID)
	if err != nil {
		return err
	}

	p := t.engine.Params()
	est := &engine.Estimate{
		Prior:   append([]float64(nil), p.Prior...),
		Guess:   cloneMatrix(p.Guess),
		Slip:    cloneMatrix(p.Slip),
		Transit: cloneMatrix(p.Transit),
	}
	loIndex := t.objectiveIndex()
	for _, cp := range params {
		i, okItem := t.itemByID[cp.ItemID]
		j, okLO := loIndex[cp.LOID]
		if !okItem || !okLO {
			continue
		}
		est.Guess[i][j] = odds(cp.Guess)
		est.Slip[i][j] = odds(cp.Slip)
		est.Transit[i][j] = odds(cp.Transit)
	}
	for _, cp := range priors {
		if j, ok := loIndex[cp.LOID]; ok {
			est.Prior[j] = odds(cp.Prior)
		}
	}

	if err := t.engine.Install(est); err != nil {
		log.Printf("Ignoring calibration %s: %v", run.ID, err)
		return nil
	}
	log.Printf("Loaded calibration %s from %s", run.ID, run.FinishedAt.Format(time.RFC3339))
	return nil
}

// replay registers every learner in creation order and feeds all attempts
// to the engine chronologically.
func (t *Tutor) replay(ctx context.Context) error {
	learners, err := t.learners.GetAll(ctx)
	if err != nil {
		return err
	}
	external := make(map[int64]string, len(learners))
	for _, l := range learners {
		external[l.ID] = l.ExternalID
		t.learnerIDs[l.ExternalID] = l.ID
		t.engine.Learner(l.ExternalID)
	}

	attempts, err := t.learners.GetAttempts(ctx)
	if err != nil {
		return err
	}
	replayed := 0
	for _, a := range attempts {
		i, ok := t.itemByID[a.ItemID]
		if !ok {
			continue
		}
		if _, err := t.engine.Update(external[a.LearnerID], i, a.Score, a.AttemptedAt); err != nil {
			return fmt.Errorf("failed to replay attempt %d: %w", a.ID, err)
		}
		replayed++
	}
	log.Printf("Loaded %d items, %d learning objectives, %d learners, replayed %d attempts",
		len(t.items), len(t.los), len(learners), replayed)
	return nil
}

// Engine returns the underlying engine
func (t *Tutor) Engine() *engine.Engine {
	return t.engine
}

// RecordAttempt stores an attempt and applies it to the learner's mastery.
// It returns the learner's mastery probabilities per objective. Attempts
// of one learner are stored and applied in the same order.
func (t *Tutor) RecordAttempt(ctx context.Context, learnerID, itemID string, score float64, at time.Time) ([]ObjectiveMastery, error) {
	if math.IsNaN(score) || score < 0 || score > 1 {
		return nil, fmt.Errorf("%w: %g", engine.ErrInvalidScore, score)
	}
	i, err := t.item(itemID)
	if err != nil {
		return nil, err
	}
	dbID, err := t.learner(ctx, learnerID)
	if err != nil {
		return nil, err
	}

	lock := t.recordLock(learnerID)
	lock.Lock()
	defer lock.Unlock()

	attempt := &models.Attempt{LearnerID: dbID, ItemID: t.items[i].ID, Score: score, AttemptedAt: at}
	if err := t.learners.CreateAttempt(ctx, attempt); err != nil {
		return nil, err
	}
	if _, err := t.engine.Update(learnerID, i, score, at); err != nil {
		return nil, err
	}

	st := t.engine.Learner(learnerID)
	if err := t.mastery.Upsert(ctx, t.masteryRows(dbID, st)); err != nil {
		return nil, err
	}
	return t.objectiveMastery(st), nil
}

// NextItem recommends the next item for a learner within module, or
// ok=false when nothing suitable is left.
func (t *Tutor) NextItem(ctx context.Context, learnerID string, module int, stopOnMastery bool) (itemID string, ok bool, err error) {
	if _, err := t.learner(ctx, learnerID); err != nil {
		return "", false, err
	}
	i, ok, err := t.engine.Recommend(learnerID, module, stopOnMastery)
	if err != nil || !ok {
		return "", false, err
	}
	return t.items[i].ExternalID, true, nil
}

// RankItems returns the recommendation candidates for a learner within
// module, best first.
func (t *Tutor) RankItems(ctx context.Context, learnerID string, module int) ([]RankedItem, error) {
	if _, err := t.learner(ctx, learnerID); err != nil {
		return nil, err
	}
	cands := t.engine.RankItems(learnerID, module)
	sort.SliceStable(cands, func(a, b int) bool { return cands[a].Score > cands[b].Score })

	out := make([]RankedItem, len(cands))
	for k, c := range cands {
		out[k] = RankedItem{
			ItemID:          t.items[c.Item].ExternalID,
			Readiness:       c.R,
			Demand:          c.D,
			Appropriateness: c.A,
			Continuity:      c.C,
			Score:           c.Score,
		}
	}
	return out, nil
}

// History returns a learner's stored attempts in time order. Unknown
// learners have no history.
func (t *Tutor) History(ctx context.Context, learnerID string) ([]AttemptRecord, error) {
	dbID, ok := t.knownLearner(learnerID)
	if !ok {
		return nil, nil
	}
	attempts, err := t.learners.GetAttemptsByLearner(ctx, dbID)
	if err != nil {
		return nil, err
	}
	out := make([]AttemptRecord, 0, len(attempts))
	for _, a := range attempts {
		i, ok := t.itemByID[a.ItemID]
		if !ok {
			continue
		}
		out = append(out, AttemptRecord{ItemID: t.items[i].ExternalID, Score: a.Score, AttemptedAt: a.AttemptedAt})
	}
	return out, nil
}

// StoredMastery returns a learner's last checkpointed mastery per
// objective. Unknown learners have none.
func (t *Tutor) StoredMastery(ctx context.Context, learnerID string) ([]ObjectiveMastery, error) {
	dbID, ok := t.knownLearner(learnerID)
	if !ok {
		return nil, nil
	}
	rows, err := t.mastery.GetByLearner(ctx, dbID)
	if err != nil {
		return nil, err
	}
	loIndex := t.objectiveIndex()
	out := make([]ObjectiveMastery, 0, len(rows))
	for _, row := range rows {
		j, ok := loIndex[row.LOID]
		if !ok {
			continue
		}
		out = append(out, ObjectiveMastery{
			Objective:   t.los[j].Name,
			Probability: row.Probability,
			Exposure:    row.Exposure,
		})
	}
	return out, nil
}

// Predict returns the probability that a learner answers an item correctly
func (t *Tutor) Predict(learnerID, itemID string) (float64, error) {
	i, err := t.item(itemID)
	if err != nil {
		return 0, err
	}
	return t.engine.PredictCorrectness(learnerID, i)
}

// Mastery returns a learner's mastery per objective
func (t *Tutor) Mastery(learnerID string) []ObjectiveMastery {
	return t.objectiveMastery(t.engine.Learner(learnerID))
}

// Calibrate re-estimates the item parameters from all learners, installs
// them and stores the run.
func (t *Tutor) Calibrate(ctx context.Context) (*models.CalibrationRun, error) {
	started := time.Now().UTC()
	est, err := t.engine.Refresh()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh parameters: %w", err)
	}

	run := &models.CalibrationRun{
		ID:              uuid.New().String(),
		Version:         est.BaseVersion + 1,
		Learners:        est.Learners,
		DegenerateGuess: est.DegenerateGuess,
		DegenerateSlip:  est.DegenerateSlip,
		StartedAt:       started,
	}

	p := t.engine.Params()
	var params []models.CalibratedParameter
	for i, item := range t.items {
		for j, lo := range t.los {
			if p.Relevance[i][j] <= 0 {
				continue
			}
			params = append(params, models.CalibratedParameter{
				RunID:   run.ID,
				ItemID:  item.ID,
				LOID:    lo.ID,
				Guess:   probability(est.Guess[i][j]),
				Slip:    probability(est.Slip[i][j]),
				Transit: probability(est.Transit[i][j]),
			})
		}
	}
	priors := make([]models.CalibratedPrior, len(t.los))
	for j, lo := range t.los {
		priors[j] = models.CalibratedPrior{RunID: run.ID, LOID: lo.ID, Prior: probability(est.Prior[j])}
	}

	run.FinishedAt = time.Now().UTC()
	if err := t.calibrations.Save(ctx, run, params, priors); err != nil {
		return nil, err
	}

	// Pristine learners moved to the new prior.
	if err := t.Checkpoint(ctx); err != nil {
		return nil, err
	}
	return run, nil
}

// Checkpoint stores the current mastery of every learner
func (t *Tutor) Checkpoint(ctx context.Context) error {
	var rows []models.Mastery
	for _, st := range t.engine.Learners() {
		dbID, err := t.learner(ctx, st.ID)
		if err != nil {
			return err
		}
		rows = append(rows, t.masteryRows(dbID, st)...)
	}
	return t.mastery.Upsert(ctx, rows)
}

// learner returns the database id of a learner, creating the learner on
// first use
func (t *Tutor) learner(ctx context.Context, externalID string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.learnerIDs[externalID]; ok {
		return id, nil
	}
	l, err := t.learners.GetOrCreate(ctx, externalID)
	if err != nil {
		return 0, err
	}
	t.learnerIDs[externalID] = l.ID
	return l.ID, nil
}

func (t *Tutor) knownLearner(externalID string) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.learnerIDs[externalID]
	return id, ok
}

func (t *Tutor) recordLock(externalID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.recording[externalID]
	if !ok {
		l = &sync.Mutex{}
		t.recording[externalID] = l
	}
	return l
}

func (t *Tutor) item(externalID string) (int, error) {
	i, ok := t.itemIndex[externalID]
	if !ok {
		return 0, fmt.Errorf("%w: %q", engine.ErrUnknownItem, externalID)
	}
	return i, nil
}

func (t *Tutor) objectiveIndex() map[int64]int {
	idx := make(map[int64]int, len(t.los))
	for j, lo := range t.los {
		idx[lo.ID] = j
	}
	return idx
}

func (t *Tutor) masteryRows(learnerID int64, st engine.LearnerState) []models.Mastery {
	form := t.engine.Formulation()
	now := time.Now().UTC()
	var lastSeen *int64
	if st.LastSeen != engine.NoItem {
		id := t.items[st.LastSeen].ID
		lastSeen = &id
	}
	rows := make([]models.Mastery, len(t.los))
	for j, lo := range t.los {
		rows[j] = models.Mastery{
			LearnerID:    learnerID,
			LOID:         lo.ID,
			Probability:  logistic(form.LogOdds(st.Mastery[j])),
			Exposure:     st.Exposure[j],
			LastSeenItem: lastSeen,
			UpdatedAt:    now,
		}
	}
	return rows
}

func (t *Tutor) objectiveMastery(st engine.LearnerState) []ObjectiveMastery {
	form := t.engine.Formulation()
	out := make([]ObjectiveMastery, len(t.los))
	for j, lo := range t.los {
		out[j] = ObjectiveMastery{
			Objective:   lo.Name,
			Probability: logistic(form.LogOdds(st.Mastery[j])),
			Exposure:    st.Exposure[j],
		}
	}
	return out
}

func filled(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func cloneMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

func odds(p float64) float64        { return p / (1 - p) }
func probability(o float64) float64 { return o / (1 + o) }
func logistic(l float64) float64    { return 1 / (1 + math.Exp(-l)) }
