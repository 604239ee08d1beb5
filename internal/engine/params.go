package engine

import (
	"fmt"
	"math"
)

// Params is an immutable snapshot of the item parameters and the LO
// structure. Guess, Slip, Transit and Prior are stored as odds p/(1-p).
// A Params value is never mutated after construction; Model Update builds
// a new one and swaps it in.
type Params struct {
	Version    int
	Relevance  [][]float64 // [item][lo] tagging strength
	Guess      [][]float64 // [item][lo] odds
	Slip       [][]float64 // [item][lo] odds
	Transit    [][]float64 // [item][lo] odds
	Difficulty []float64   // [item] normalized to [0, 1]
	Module     []int       // [item] 0 means any module
	Prereq     [][]float64 // [prerequisite lo][lo]
	Prior      []float64   // [lo] odds

	epsilon float64

	// Derived per item and LO. Neutral where the item is not relevant.
	x0              [][]float64 // log odds factor of an incorrect answer
	k               [][]float64 // log odds gap between correct and incorrect
	x0Mult          [][]float64 // exp(x0)
	x1Mult          [][]float64 // exp(k)
	trans           [][]float64 // transit odds, 0 where not relevant
	guessNegLog     [][]float64
	slipNegLog      [][]float64
	difficultyLogit []float64
}

// Items returns the number of items.
func (p *Params) Items() int { return len(p.Relevance) }

// LOs returns the number of learning objectives.
func (p *Params) LOs() int { return len(p.Prior) }

// Epsilon returns the probability floor used for clamping.
func (p *Params) Epsilon() float64 { return p.epsilon }

// relevant reports whether item is tagged with lo for online purposes.
func (p *Params) relevant(item, lo int) bool {
	return p.Relevance[item][lo] > 0
}

// newParams validates cfg and builds the initial snapshot.
// cfg must already carry defaults.
func newParams(cfg Config) (*Params, error) {
	if cfg.LOs <= 0 {
		return nil, fmt.Errorf("%w: at least one learning objective is required", ErrInvalidConfig)
	}
	if len(cfg.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrInvalidConfig)
	}
	if !(cfg.Epsilon > 0 && cfg.Epsilon < 0.5) {
		return nil, fmt.Errorf("%w: epsilon %g out of range (0, 0.5)", ErrInvalidConfig, cfg.Epsilon)
	}

	nItems, nLOs := len(cfg.Items), cfg.LOs
	p := &Params{
		Relevance:  newMatrix(nItems, nLOs),
		Guess:      newMatrix(nItems, nLOs),
		Slip:       newMatrix(nItems, nLOs),
		Transit:    newMatrix(nItems, nLOs),
		Difficulty: make([]float64, nItems),
		Module:     make([]int, nItems),
		Prereq:     newMatrix(nLOs, nLOs),
		Prior:      make([]float64, nLOs),
		epsilon:    cfg.Epsilon,
	}

	covered := make([]bool, nLOs)
	for i, item := range cfg.Items {
		if len(item.Relevance) != nLOs {
			return nil, fmt.Errorf("%w: item %d has %d relevance values, want %d",
				ErrInvalidConfig, i, len(item.Relevance), nLOs)
		}
		tagged := false
		for j, r := range item.Relevance {
			if math.IsNaN(r) || math.IsInf(r, 0) || r < 0 {
				return nil, fmt.Errorf("%w: item %d relevance[%d] = %g", ErrInvalidConfig, i, j, r)
			}
			p.Relevance[i][j] = r
			if r > 0 {
				tagged = true
				covered[j] = true
			}
		}
		if !tagged {
			return nil, fmt.Errorf("%w: item %d is not relevant to any learning objective", ErrInvalidConfig, i)
		}

		if err := fillOdds(p.Guess[i], item.Guess, cfg.DefaultGuess, false); err != nil {
			return nil, fmt.Errorf("%w: item %d guess: %v", ErrInvalidConfig, i, err)
		}
		if err := fillOdds(p.Slip[i], item.Slip, cfg.DefaultSlip, false); err != nil {
			return nil, fmt.Errorf("%w: item %d slip: %v", ErrInvalidConfig, i, err)
		}
		if err := fillOdds(p.Transit[i], item.Transit, cfg.DefaultTransit, true); err != nil {
			return nil, fmt.Errorf("%w: item %d transit: %v", ErrInvalidConfig, i, err)
		}

		if math.IsNaN(item.Difficulty) || math.IsInf(item.Difficulty, 0) {
			return nil, fmt.Errorf("%w: item %d difficulty = %g", ErrInvalidConfig, i, item.Difficulty)
		}
		p.Difficulty[i] = item.Difficulty
		p.Module[i] = item.Module
	}
	for j, ok := range covered {
		if !ok {
			return nil, fmt.Errorf("%w: learning objective %d is not covered by any item", ErrInvalidConfig, j)
		}
	}

	if err := fillOdds(p.Prior, cfg.Prior, cfg.DefaultPrior, false); err != nil {
		return nil, fmt.Errorf("%w: prior: %v", ErrInvalidConfig, err)
	}
	if err := fillPrereq(p.Prereq, cfg.Prereq); err != nil {
		return nil, err
	}

	normalizeDifficulty(p.Difficulty)
	p.derive()
	return p, nil
}

// fillOdds writes the odds of probs (or of def when probs is nil) into dst.
// Probabilities must lie in (0, 1); allowZero admits 0.
func fillOdds(dst, probs []float64, def float64, allowZero bool) error {
	if probs != nil && len(probs) != len(dst) {
		return fmt.Errorf("got %d values, want %d", len(probs), len(dst))
	}
	for j := range dst {
		v := def
		if probs != nil {
			v = probs[j]
		}
		low := v <= 0
		if allowZero {
			low = v < 0
		}
		if math.IsNaN(v) || low || v >= 1 {
			return fmt.Errorf("probability[%d] = %g out of range", j, v)
		}
		dst[j] = odds(v)
	}
	return nil
}

func fillPrereq(dst, src [][]float64) error {
	if src == nil {
		return nil
	}
	n := len(dst)
	if len(src) != n {
		return fmt.Errorf("%w: prerequisite matrix has %d rows, want %d", ErrInvalidConfig, len(src), n)
	}
	for p, row := range src {
		if len(row) != n {
			return fmt.Errorf("%w: prerequisite row %d has %d columns, want %d", ErrInvalidConfig, p, len(row), n)
		}
		for l, w := range row {
			if math.IsNaN(w) || w < 0 || w > 1 {
				return fmt.Errorf("%w: prerequisite weight [%d][%d] = %g", ErrInvalidConfig, p, l, w)
			}
			if p == l && w != 0 {
				return fmt.Errorf("%w: learning objective %d is its own prerequisite", ErrInvalidConfig, p)
			}
			dst[p][l] = w
		}
	}
	for p := 0; p < n; p++ {
		for l := p + 1; l < n; l++ {
			if dst[p][l] > 0 && dst[l][p] > 0 {
				return fmt.Errorf("%w: learning objectives %d and %d are prerequisites of each other",
					ErrInvalidConfig, p, l)
			}
		}
	}
	return nil
}

// normalizeDifficulty rescales d to [0, 1] in place. Equal values map to 0.5.
func normalizeDifficulty(d []float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range d {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	for i, v := range d {
		if hi > lo {
			d[i] = (v - lo) / (hi - lo)
		} else {
			d[i] = 0.5
		}
	}
}

// derive computes the per-item evidence terms from Guess, Slip and Transit.
//
// With guess odds g and slip odds s, an incorrect answer multiplies mastery
// odds by s(1+g)/(1+s) and a correct one by (1+g)/(g(1+s)); their ratio
// is 1/(gs).
func (p *Params) derive() {
	nItems, nLOs := p.Items(), p.LOs()
	p.x0 = newMatrix(nItems, nLOs)
	p.k = newMatrix(nItems, nLOs)
	p.x0Mult = newMatrix(nItems, nLOs)
	p.x1Mult = newMatrix(nItems, nLOs)
	p.trans = newMatrix(nItems, nLOs)
	p.guessNegLog = newMatrix(nItems, nLOs)
	p.slipNegLog = newMatrix(nItems, nLOs)
	p.difficultyLogit = make([]float64, nItems)

	for i := 0; i < nItems; i++ {
		for j := 0; j < nLOs; j++ {
			p.x0Mult[i][j] = 1
			p.x1Mult[i][j] = 1
			if !p.relevant(i, j) {
				continue
			}
			g, s := p.Guess[i][j], p.Slip[i][j]
			p.x0Mult[i][j] = s * (1 + g) / (1 + s)
			p.x1Mult[i][j] = 1 / (g * s)
			p.x0[i][j] = math.Log(p.x0Mult[i][j])
			p.k[i][j] = -math.Log(g) - math.Log(s)
			p.trans[i][j] = p.Transit[i][j]
			p.guessNegLog[i][j] = -math.Log(g)
			p.slipNegLog[i][j] = -math.Log(s)
		}
		p.difficultyLogit[i] = logit(clampProb(p.Difficulty[i], p.epsilon))
	}
}

// withEstimate returns a copy of p carrying the estimated guess, slip,
// transit and prior odds. Structure slices are shared; they are never
// written after construction.
func (p *Params) withEstimate(est *Estimate) (*Params, error) {
	nItems, nLOs := p.Items(), p.LOs()
	if len(est.Prior) != nLOs || !hasShape(est.Guess, nItems, nLOs) ||
		!hasShape(est.Slip, nItems, nLOs) || !hasShape(est.Transit, nItems, nLOs) {
		return nil, ErrInvalidEstimate
	}
	if !positiveOdds([][]float64{est.Prior}, false) || !positiveOdds(est.Guess, false) ||
		!positiveOdds(est.Slip, false) || !positiveOdds(est.Transit, true) {
		return nil, fmt.Errorf("%w: odds must be finite and positive", ErrInvalidEstimate)
	}
	next := &Params{
		Version:    p.Version + 1,
		Relevance:  p.Relevance,
		Guess:      cloneMatrix(est.Guess),
		Slip:       cloneMatrix(est.Slip),
		Transit:    cloneMatrix(est.Transit),
		Difficulty: p.Difficulty,
		Module:     p.Module,
		Prereq:     p.Prereq,
		Prior:      append([]float64(nil), est.Prior...),
		epsilon:    p.epsilon,
	}
	next.derive()
	return next, nil
}

func newMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	backing := make([]float64, rows*cols)
	for i := range m {
		m[i] = backing[i*cols : (i+1)*cols : (i+1)*cols]
	}
	return m
}

func positiveOdds(m [][]float64, allowZero bool) bool {
	for _, row := range m {
		for _, v := range row {
			if !isFinite(v) || v < 0 || (v == 0 && !allowZero) {
				return false
			}
		}
	}
	return true
}

func hasShape(m [][]float64, rows, cols int) bool {
	if len(m) != rows {
		return false
	}
	for _, row := range m {
		if len(row) != cols {
			return false
		}
	}
	return true
}

func cloneMatrix(src [][]float64) [][]float64 {
	if len(src) == 0 {
		return nil
	}
	dst := newMatrix(len(src), len(src[0]))
	for i := range src {
		copy(dst[i], src[i])
	}
	return dst
}

func odds(p float64) float64 { return p / (1 - p) }

func probability(o float64) float64 {
	if math.IsInf(o, 1) {
		return 1
	}
	return o / (1 + o)
}

func logit(p float64) float64 { return math.Log(p / (1 - p)) }

func clampProb(p, eps float64) float64 {
	return math.Min(math.Max(p, eps), 1-eps)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
