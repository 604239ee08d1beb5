package engine

import (
	"fmt"
	"math"
)

// tieTolerance is the relative distance within which two split costs are
// considered equal.
const tieTolerance = 1e-12

// Infer estimates, for a learner's chronologically ordered attempts, the
// latent mastery of each LO at each attempt. items and correctness must
// have equal length. Row i of the result holds, per LO, a value in [0, 1]:
// 1 when the LO is inferred to be mastered at attempt i, fractional when
// several acquisition points explain the answers equally well.
func (e *Engine) Infer(items []int, correctness []float64) ([][]float64, error) {
	if len(items) != len(correctness) {
		return nil, fmt.Errorf("engine: %d items but %d correctness values", len(items), len(correctness))
	}
	for _, item := range items {
		if err := e.checkItem(item); err != nil {
			return nil, err
		}
	}
	p := e.params.Load()
	return infer(p.guessNegLog, p.slipNegLog, items, correctness), nil
}

// infer picks, per LO, the split point n in 0..N that minimizes
//
//	z[n] = sum_{i<n} c_i*guess_i + sum_{i>=n} (1-c_i)*slip_i
//
// where guess and slip are negative log-odds. Attempts before the split
// are unmastered, so a correct answer there costs a guess; attempts from
// the split on are mastered, so a wrong answer costs a slip. n = 0 means
// known before the first attempt and n = N means never learned. Tied
// splits are averaged.
func infer(guessNegLog, slipNegLog [][]float64, items []int, correctness []float64) [][]float64 {
	n := len(items)
	if n == 0 {
		return nil
	}
	nLOs := len(guessNegLog[items[0]])
	out := newMatrix(n, nLOs)

	prefix := make([]float64, n+1) // guess cost of attempts before the split
	suffix := make([]float64, n+1) // slip cost of attempts from the split on
	z := make([]float64, n+1)
	for j := 0; j < nLOs; j++ {
		for s := 1; s <= n; s++ {
			i := s - 1
			prefix[s] = prefix[s-1] + correctness[i]*guessNegLog[items[i]][j]
		}
		suffix[n] = 0
		for s := n - 1; s >= 0; s-- {
			suffix[s] = suffix[s+1] + (1-correctness[s])*slipNegLog[items[s]][j]
		}
		best := math.Inf(1)
		for s := 0; s <= n; s++ {
			z[s] = prefix[s] + suffix[s]
			best = math.Min(best, z[s])
		}

		tol := tieTolerance * math.Max(1, math.Abs(best))
		ties := 0
		for s := 0; s <= n; s++ {
			if z[s]-best > tol {
				continue
			}
			ties++
			for i := s; i < n; i++ {
				out[i][j]++
			}
		}
		for i := 0; i < n; i++ {
			out[i][j] /= float64(ties)
		}
	}
	return out
}
