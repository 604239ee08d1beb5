// Package engine implements a Bayesian Knowledge Tracing mastery model:
// online mastery updates, correctness prediction, next-item
// recommendation, latent knowledge inference over attempt histories, and
// batch re-estimation of the item parameters.
//
// Basic usage:
//
//	e, err := engine.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	e.Update("learner-1", 3, 1, time.Now())
//	item, ok, _ := e.Recommend("learner-1", engine.AnyModule, true)
//
// Updates for one learner are serialized by a per-learner lock; updates
// for distinct learners may run in parallel. Parameter reads always see a
// whole snapshot, since Refresh swaps snapshots atomically.
package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Engine owns the Parameter Store and the Learner State Store.
type Engine struct {
	form     Formulation
	params   atomic.Pointer[Params]
	learners *learnerStore

	refreshMu sync.Mutex

	masteryThreshold float64
	readinessSlack   float64
	weights          Weights
	estimation       EstimateOptions
}

// New builds an Engine from cfg. Zero-valued settings receive defaults;
// structurally invalid configuration returns an error wrapping
// ErrInvalidConfig.
func New(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	form, err := FormulationByName(cfg.Formulation)
	if err != nil {
		return nil, err
	}
	if !isFinite(*cfg.MasteryThreshold) {
		return nil, fmt.Errorf("%w: mastery threshold %g", ErrInvalidConfig, *cfg.MasteryThreshold)
	}
	p, err := newParams(cfg)
	if err != nil {
		return nil, err
	}
	estimation := *cfg.Estimation
	estimation.Learners = append([]string(nil), estimation.Learners...)
	e := &Engine{
		form:             form,
		learners:         newLearnerStore(),
		masteryThreshold: *cfg.MasteryThreshold,
		readinessSlack:   cfg.ReadinessSlack,
		weights:          cfg.Weights,
		estimation:       estimation,
	}
	e.params.Store(p)
	return e, nil
}

// Params returns the live parameter snapshot. It must not be modified.
func (e *Engine) Params() *Params { return e.params.Load() }

// Formulation returns the numeric encoding mastery is stored in.
func (e *Engine) Formulation() Formulation { return e.form }

// LearnerCount returns the number of registered learners.
func (e *Engine) LearnerCount() int { return e.learners.len() }

// initialMastery encodes the live prior. It is called under the learner
// store lock so that a learner created during Refresh sees either the old
// prior and gets re-primed, or the new one.
func (e *Engine) initialMastery() []float64 {
	p := e.params.Load()
	m := make([]float64, p.LOs())
	for j, o := range p.Prior {
		m[j] = e.form.Encode(o)
	}
	return m
}

func (e *Engine) acquire(id string) *learner {
	return e.learners.acquire(id, e.initialMastery)
}

// Learner returns a copy of the learner's state, registering the learner
// on first reference.
func (e *Engine) Learner(id string) LearnerState {
	l := e.acquire(id)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot()
}

// Learners returns a copy of every learner's state in index order.
func (e *Engine) Learners() []LearnerState {
	all := e.learners.all()
	out := make([]LearnerState, len(all))
	for i, l := range all {
		l.mu.Lock()
		out[i] = l.snapshot()
		l.mu.Unlock()
	}
	return out
}

// Restore registers learners from previously exported states. States
// without exposure must still be at the live prior.
func (e *Engine) Restore(states []LearnerState) error {
	return e.learners.restore(states, e.initialMastery(), e.params.Load().Items())
}

// Mastery returns the learner's mastery per LO as probabilities.
func (e *Engine) Mastery(id string) []float64 {
	l := e.acquire(id)
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]float64, len(l.mastery))
	for j, v := range l.mastery {
		out[j] = probability(e.form.Decode(v))
	}
	return out
}

// logOdds decodes a mastery vector into log-odds.
func (e *Engine) logOdds(mastery []float64) []float64 {
	out := make([]float64, len(mastery))
	for j, v := range mastery {
		out[j] = e.form.LogOdds(v)
	}
	return out
}
