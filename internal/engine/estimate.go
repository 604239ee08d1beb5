package engine

import (
	"fmt"
	"math"
)

// Estimate is the result of batch re-estimation.
//
// Prior, Transit, Guess and Slip are odds and always finite: wherever the
// data was insufficient or degenerate, the live parameter value is kept.
// The Raw fields hold the clamped probability estimates with NaN marking
// "no estimate". A guess or slip with no observed guesses or slips has
// no estimate.
type Estimate struct {
	Prior   []float64   `json:"prior"`
	Transit [][]float64 `json:"transit"`
	Guess   [][]float64 `json:"guess"`
	Slip    [][]float64 `json:"slip"`

	RawPrior   []float64   `json:"-"`
	RawTransit [][]float64 `json:"-"`
	RawGuess   [][]float64 `json:"-"`
	RawSlip    [][]float64 `json:"-"`

	DegenerateGuess int `json:"degenerate_guess"`
	DegenerateSlip  int `json:"degenerate_slip"`
	Learners        int `json:"learners"`
	BaseVersion     int `json:"base_version"`
}

// accumulator holds numerator and denominator sums for one parameter.
type accumulator struct {
	num, den [][]float64
}

func newAccumulator(rows, cols int) accumulator {
	return accumulator{num: newMatrix(rows, cols), den: newMatrix(rows, cols)}
}

// ratio divides num by den, giving NaN where den is below threshold.
func (a accumulator) ratio(threshold float64) [][]float64 {
	out := newMatrix(len(a.num), len(a.num[0]))
	for i := range a.num {
		for j := range a.num[i] {
			den := a.den[i][j]
			if den < threshold || den == 0 {
				out[i][j] = math.NaN()
				continue
			}
			out[i][j] = a.num[i][j] / den
		}
	}
	return out
}

// eventRatio is ratio with NaN also where no event was observed. Guess
// and slip are never estimated as zero from an absence of errors.
func (a accumulator) eventRatio(threshold float64) [][]float64 {
	out := a.ratio(threshold)
	for i := range out {
		for j := range out[i] {
			if a.num[i][j] == 0 {
				out[i][j] = math.NaN()
			}
		}
	}
	return out
}

// Estimate re-estimates prior, transit, guess and slip from the learners'
// first attempts at each item. Learners with no attempts are skipped. The
// live parameters are only read; use Refresh or Install to apply the
// result.
func (e *Engine) Estimate(opts EstimateOptions) (*Estimate, error) {
	p := e.params.Load()
	nItems, nLOs := p.Items(), p.LOs()

	learners, err := e.trainingSet(opts.Learners)
	if err != nil {
		return nil, err
	}

	// Binary tagging for estimation purposes.
	mask := make([][]bool, nItems)
	guessNegLog := newMatrix(nItems, nLOs)
	slipNegLog := newMatrix(nItems, nLOs)
	for i := 0; i < nItems; i++ {
		mask[i] = make([]bool, nLOs)
		for j := 0; j < nLOs; j++ {
			if p.Relevance[i][j] > opts.RelevanceThreshold {
				mask[i][j] = true
				guessNegLog[i][j] = -math.Log(p.Guess[i][j])
				slipNegLog[i][j] = -math.Log(p.Slip[i][j])
			}
		}
	}

	prior := newAccumulator(1, nLOs)
	transit := newAccumulator(nItems, nLOs)
	guess := newAccumulator(nItems, nLOs)
	slip := newAccumulator(nItems, nLOs)

	used := 0
	for _, l := range learners {
		l.mu.Lock()
		items, scores := l.attempts()
		l.mu.Unlock()
		if len(items) == 0 {
			continue
		}
		used++

		know := infer(guessNegLog, slipNegLog, items, scores)

		first := items[0]
		for j := 0; j < nLOs; j++ {
			if mask[first][j] {
				prior.num[0][j] += know[0][j]
				prior.den[0][j]++
			}
		}
		for n := 1; n < len(items); n++ {
			prev := items[n-1]
			for j := 0; j < nLOs; j++ {
				if !mask[prev][j] {
					continue
				}
				unknown := 1 - know[n-1][j]
				transit.num[prev][j] += unknown * know[n][j]
				transit.den[prev][j] += unknown
			}
		}
		for n, item := range items {
			c := scores[n]
			for j := 0; j < nLOs; j++ {
				if !mask[item][j] {
					continue
				}
				k := know[n][j]
				guess.num[item][j] += (1 - k) * c
				guess.den[item][j] += 1 - k
				slip.num[item][j] += k * (1 - c)
				slip.den[item][j] += k
			}
		}
	}

	est := &Estimate{
		RawPrior:    prior.ratio(opts.InformationThreshold)[0],
		RawTransit:  transit.ratio(opts.InformationThreshold),
		RawGuess:    guess.eventRatio(opts.InformationThreshold),
		RawSlip:     slip.eventRatio(opts.InformationThreshold),
		Learners:    used,
		BaseVersion: p.Version,
	}
	if opts.RemoveDegeneracy {
		est.DegenerateGuess = dropDegenerate(est.RawGuess)
		est.DegenerateSlip = dropDegenerate(est.RawSlip)
	}

	eps := p.epsilon
	clampRow(est.RawPrior, eps)
	for _, m := range [][][]float64{est.RawTransit, est.RawGuess, est.RawSlip} {
		for _, row := range m {
			clampRow(row, eps)
		}
	}

	est.Prior = fallbackOdds([][]float64{est.RawPrior}, [][]float64{p.Prior})[0]
	est.Transit = fallbackOdds(est.RawTransit, p.Transit)
	est.Guess = fallbackOdds(est.RawGuess, p.Guess)
	est.Slip = fallbackOdds(est.RawSlip, p.Slip)
	return est, nil
}

// trainingSet resolves the learners to estimate from. An empty ids list
// selects every registered learner.
func (e *Engine) trainingSet(ids []string) ([]*learner, error) {
	if len(ids) == 0 {
		return e.learners.all(), nil
	}
	out := make([]*learner, 0, len(ids))
	for _, id := range ids {
		l := e.learners.lookup(id)
		if l == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownLearner, id)
		}
		out = append(out, l)
	}
	return out, nil
}

// dropDegenerate replaces estimates >= 0.5 with NaN and returns how many
// were dropped.
func dropDegenerate(m [][]float64) int {
	dropped := 0
	for _, row := range m {
		for j, v := range row {
			if v >= 0.5 {
				row[j] = math.NaN()
				dropped++
			}
		}
	}
	return dropped
}

// clampRow clamps probabilities to [eps, 1-eps], leaving NaN in place.
func clampRow(row []float64, eps float64) {
	for j, v := range row {
		if !math.IsNaN(v) {
			row[j] = clampProb(v, eps)
		}
	}
}

// fallbackOdds converts probabilities to odds, taking the live value
// wherever the result is not finite.
func fallbackOdds(probs, live [][]float64) [][]float64 {
	out := newMatrix(len(probs), len(probs[0]))
	for i, row := range probs {
		for j, v := range row {
			o := odds(v)
			if !isFinite(o) {
				o = live[i][j]
			}
			out[i][j] = o
		}
	}
	return out
}
