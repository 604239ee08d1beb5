package engine

import (
	"fmt"
	"math"
)

// Formulation names accepted by FormulationByName.
const (
	AdditiveName       = "additive"
	MultiplicativeName = "multiplicative"
)

// Formulation is a numeric encoding of mastery. Both implementations apply
// the same Bayesian update; they differ only in whether a learner's mastery
// is kept as log-odds or as odds.
type Formulation interface {
	Name() string
	// Encode converts odds into the stored representation.
	Encode(odds float64) float64
	// Decode converts a stored value back to odds.
	Decode(v float64) float64
	// LogOdds converts a stored value to log-odds.
	LogOdds(v float64) float64
	// Update applies one attempt at item with the given score to mastery
	// in place.
	Update(mastery []float64, p *Params, item int, score float64)
}

// FormulationByName returns the formulation registered under name.
func FormulationByName(name string) (Formulation, error) {
	switch name {
	case AdditiveName:
		return Additive{}, nil
	case MultiplicativeName:
		return Multiplicative{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormulation, name)
}

// Additive keeps mastery as log-odds. Evidence is added and transfer is
// applied through the odds domain:
//
//	L'  = L + x0 + score*k
//	L'' = log(t + (t+1)*exp(L'))
type Additive struct{}

func (Additive) Name() string { return AdditiveName }

func (Additive) Encode(odds float64) float64 { return math.Log(odds) }

func (Additive) Decode(v float64) float64 { return math.Exp(v) }

func (Additive) LogOdds(v float64) float64 { return v }

func (Additive) Update(mastery []float64, p *Params, item int, score float64) {
	bound := -math.Log(p.epsilon)
	x0, k, trans := p.x0[item], p.k[item], p.trans[item]
	for j := range mastery {
		l := mastery[j] + x0[j] + score*k[j]
		if t := trans[j]; t != 0 {
			l = math.Log(t + (t+1)*math.Exp(l))
		}
		switch {
		case math.IsInf(l, 1):
			l = bound
		case math.IsInf(l, -1):
			l = -bound
		}
		mastery[j] = l
	}
}

// Multiplicative keeps mastery as odds:
//
//	L'  = L * x0 * x1^score
//	L'' = L' + t*(L'+1)
//
// For score 0 or 1 this is L * (x0 + score*x0*(x1-1)); the power form
// keeps fractional scores identical to Additive.
type Multiplicative struct{}

func (Multiplicative) Name() string { return MultiplicativeName }

func (Multiplicative) Encode(odds float64) float64 { return odds }

func (Multiplicative) Decode(v float64) float64 { return v }

func (Multiplicative) LogOdds(v float64) float64 { return math.Log(v) }

func (Multiplicative) Update(mastery []float64, p *Params, item int, score float64) {
	eps := p.epsilon
	x0, x1, trans := p.x0Mult[item], p.x1Mult[item], p.trans[item]
	for j := range mastery {
		l := mastery[j] * x0[j]
		if score != 0 {
			l *= math.Pow(x1[j], score)
		}
		l += trans[j] * (l + 1)
		switch {
		case l == 0:
			l = eps
		case math.IsInf(l, 1):
			l = 1 / eps
		}
		mastery[j] = l
	}
}
