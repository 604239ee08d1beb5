package engine

import (
	"fmt"
	"math"
	"time"
)

// Update applies one attempt of learner at item with a score in [0, 1]
// and returns the learner's new mastery vector in the engine's encoding.
//
// The first attempt at an item marks it seen, records the response, and
// adds the item's relevance to the learner's exposure. Later attempts at
// the same item change mastery only.
func (e *Engine) Update(learnerID string, item int, score float64, t time.Time) ([]float64, error) {
	if math.IsNaN(score) || score < 0 || score > 1 {
		return nil, fmt.Errorf("%w: %g", ErrInvalidScore, score)
	}
	if err := e.checkItem(item); err != nil {
		return nil, err
	}

	l := e.acquire(learnerID)
	l.mu.Lock()
	defer l.mu.Unlock()

	p := e.params.Load()
	e.form.Update(l.mastery, p, item, score)
	if !l.seen(item) {
		l.history[item] = Response{Score: score, Time: t}
		for j, r := range p.Relevance[item] {
			l.exposure[j] += r
		}
	}
	l.lastSeen = item

	return append([]float64(nil), l.mastery...), nil
}

// PredictCorrectness returns the probability that learner answers item
// correctly, treating the item's LOs as conditionally independent.
// Degenerate parameters yield 1.
func (e *Engine) PredictCorrectness(learnerID string, item int) (float64, error) {
	if err := e.checkItem(item); err != nil {
		return 0, err
	}
	l := e.acquire(learnerID)
	l.mu.Lock()
	mastery := append([]float64(nil), l.mastery...)
	l.mu.Unlock()

	p := e.params.Load()
	return predictCorrectness(p, e.form, mastery, item), nil
}

// predictCorrectness combines, per relevant LO, mastery odds o with guess
// odds g and slip odds s into the odds of a correct answer
//
//	(o(1+g) + g(1+s)) / (o*s*(1+g) + (1+s))
//
// and multiplies them across LOs.
func predictCorrectness(p *Params, form Formulation, mastery []float64, item int) float64 {
	total := 1.0
	for j, v := range mastery {
		if !p.relevant(item, j) {
			continue
		}
		o := form.Decode(v)
		g, s := p.Guess[item][j], p.Slip[item][j]
		total *= (o*(1+g) + g*(1+s)) / (o*s*(1+g) + (1 + s))
	}
	prob := total / (1 + total)
	if !isFinite(prob) {
		return 1
	}
	return prob
}

func (e *Engine) checkItem(item int) error {
	if item < 0 || item >= e.params.Load().Items() {
		return fmt.Errorf("%w: %d", ErrUnknownItem, item)
	}
	return nil
}
