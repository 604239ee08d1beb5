package engine

import "math"

// AnyModule disables module scoping in Recommend and RankItems.
const AnyModule = -1

// Candidate is one scored item considered by the recommender. R, D, A and
// C are the normalized readiness, demand, appropriateness and continuity
// terms; Score is their weighted sum.
type Candidate struct {
	Item  int     `json:"item"`
	R     float64 `json:"readiness"`
	D     float64 `json:"demand"`
	A     float64 `json:"appropriateness"`
	C     float64 `json:"continuity"`
	Score float64 `json:"score"`
}

// Recommend picks the next item for learner within module. Items tagged
// with module 0 are usable in every module. It returns ok=false when no
// unseen item is left, or when stopOnMastery is set and every LO touched
// by the remaining items is already mastered.
func (e *Engine) Recommend(learnerID string, module int, stopOnMastery bool) (item int, ok bool, err error) {
	cands, demand := e.rank(learnerID, module)
	if len(cands) == 0 {
		return NoItem, false, nil
	}
	if stopOnMastery && demand == 0 {
		return NoItem, false, nil
	}
	best := 0
	for i := 1; i < len(cands); i++ {
		if cands[i].Score > cands[best].Score {
			best = i
		}
	}
	return cands[best].Item, true, nil
}

// RankItems returns every candidate item for learner within module with
// its score terms, in item order.
func (e *Engine) RankItems(learnerID string, module int) []Candidate {
	cands, _ := e.rank(learnerID, module)
	return cands
}

// rank scores the unseen in-scope items and returns them with the raw
// demand summed over all of them.
func (e *Engine) rank(learnerID string, module int) ([]Candidate, float64) {
	l := e.acquire(learnerID)
	l.mu.Lock()
	mastery := e.logOdds(l.mastery)
	last := l.lastSeen
	seen := make(map[int]bool, len(l.history))
	for item := range l.history {
		seen[item] = true
	}
	l.mu.Unlock()

	p := e.params.Load()
	var cands []Candidate
	for i := 0; i < p.Items(); i++ {
		if seen[i] {
			continue
		}
		if module != AnyModule && p.Module[i] != module && p.Module[i] != 0 {
			continue
		}
		cands = append(cands, Candidate{Item: i})
	}
	if len(cands) == 0 {
		return nil, 0
	}

	nLOs := p.LOs()
	lStar := e.masteryThreshold

	// A LO is ready once its weighted prerequisites reach the threshold.
	deficit := make([]float64, nLOs)
	for j, v := range mastery {
		deficit[j] = math.Min(v-lStar, 0)
	}
	ready := make([]float64, nLOs)
	demand := make([]float64, nLOs)
	for j := 0; j < nLOs; j++ {
		var r float64
		for q := 0; q < nLOs; q++ {
			r += deficit[q] * p.Prereq[q][j]
		}
		ready[j] = math.Min(r+e.readinessSlack, 0)
		demand[j] = math.Max(lStar-mastery[j], 0)
	}

	var totalDemand float64
	for c := range cands {
		i := cands[c].Item
		rel := p.Relevance[i]
		var r, d, a, cont float64
		for j := 0; j < nLOs; j++ {
			r += rel[j] * ready[j]
			d += rel[j] * demand[j]
			a -= rel[j] * math.Abs(mastery[j]-p.difficultyLogit[i])
			if last != NoItem {
				cont += rel[j] * p.Relevance[last][j]
			}
		}
		cands[c].R, cands[c].D, cands[c].A, cands[c].C = r, d, a, cont
		totalDemand += d
	}

	scale(cands, func(c *Candidate) *float64 { return &c.R })
	scale(cands, func(c *Candidate) *float64 { return &c.D })
	scale(cands, func(c *Candidate) *float64 { return &c.A })
	scale(cands, func(c *Candidate) *float64 { return &c.C })

	w := e.weights
	for c := range cands {
		cands[c].Score = w.Readiness*cands[c].R + w.Demand*cands[c].D +
			w.Appropriateness*cands[c].A + w.Continuity*cands[c].C
	}
	return cands, totalDemand
}

// scale min-max normalizes one term across cands. A term with zero range
// is left as is.
func scale(cands []Candidate, field func(*Candidate) *float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for c := range cands {
		v := *field(&cands[c])
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if !(hi > lo) {
		return
	}
	for c := range cands {
		f := field(&cands[c])
		*f = (*f - lo) / (hi - lo)
	}
}
