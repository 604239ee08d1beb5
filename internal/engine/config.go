package engine

// Default model settings. Probabilities, not odds.
const (
	DefaultEpsilon          = 1e-10
	DefaultMasteryThreshold = 2.2 // log-odds, roughly 0.9 probability
	DefaultGuess            = 0.1
	DefaultSlip             = 0.1
	DefaultTransit          = 0.1
	DefaultPrior            = 0.2

	DefaultInformationThreshold = 20
)

// ItemConfig describes one item at configuration time.
// Guess, Slip and Transit are per-LO probabilities; nil means the
// configured defaults for every LO.
type ItemConfig struct {
	Relevance  []float64 `json:"relevance"`
	Difficulty float64   `json:"difficulty"`
	Module     int       `json:"module"`
	Guess      []float64 `json:"guess,omitempty"`
	Slip       []float64 `json:"slip,omitempty"`
	Transit    []float64 `json:"transit,omitempty"`
}

// Weights are the coefficients of the four recommendation terms.
type Weights struct {
	Readiness       float64 `json:"readiness" mapstructure:"readiness"`
	Demand          float64 `json:"demand" mapstructure:"demand"`
	Appropriateness float64 `json:"appropriateness" mapstructure:"appropriateness"`
	Continuity      float64 `json:"continuity" mapstructure:"continuity"`
}

// EstimateOptions controls batch re-estimation.
type EstimateOptions struct {
	// Relevance above this value counts as tagging an item with an LO.
	RelevanceThreshold float64 `json:"relevance_threshold" mapstructure:"relevance_threshold"`
	// Denominators below this value are treated as no evidence.
	InformationThreshold float64 `json:"information_threshold" mapstructure:"information_threshold"`
	// Drop guess and slip estimates >= 0.5.
	RemoveDegeneracy bool `json:"remove_degeneracy" mapstructure:"remove_degeneracy"`
	// Learners restricts training to the given external ids. Empty means all.
	Learners []string `json:"learners,omitempty" mapstructure:"learners"`
}

// Config is the declarative description an Engine is built from.
type Config struct {
	LOs   int          `json:"los"`
	Items []ItemConfig `json:"items"`
	// Prereq[p][l] is the weight of LO p as a prerequisite of LO l.
	Prereq [][]float64 `json:"prereq,omitempty"`
	// Prior is the per-LO prior-knowledge probability; nil means DefaultPrior.
	Prior []float64 `json:"prior,omitempty"`

	Formulation string  `json:"formulation"` // "" → additive
	Epsilon     float64 `json:"epsilon"`     // zero → DefaultEpsilon
	// MasteryThreshold is L* in log-odds. Any finite value is allowed,
	// including zero and negative ones; nil means DefaultMasteryThreshold.
	MasteryThreshold *float64 `json:"mastery_threshold,omitempty"`
	ReadinessSlack   float64  `json:"readiness_slack"` // r*
	Weights          Weights  `json:"weights"`         // all zero → DefaultWeights

	DefaultGuess   float64 `json:"default_guess"`
	DefaultSlip    float64 `json:"default_slip"`
	DefaultTransit float64 `json:"default_transit"`
	DefaultPrior   float64 `json:"default_prior"`

	// Estimation is used as given when set; nil means
	// DefaultEstimateOptions.
	Estimation *EstimateOptions `json:"estimation,omitempty"`
}

// DefaultWeights returns the default recommendation weights.
func DefaultWeights() Weights {
	return Weights{
		Readiness:       5,
		Demand:          2,
		Appropriateness: 1,
		Continuity:      1,
	}
}

// DefaultEstimateOptions returns the default re-estimation options.
func DefaultEstimateOptions() EstimateOptions {
	return EstimateOptions{
		InformationThreshold: DefaultInformationThreshold,
		RemoveDegeneracy:     true,
	}
}

// DefaultConfig returns a Config with every model setting at its default.
// LOs, Items and Prereq are left empty.
func DefaultConfig() Config {
	threshold := DefaultMasteryThreshold
	estimation := DefaultEstimateOptions()
	return Config{
		Formulation:      AdditiveName,
		Epsilon:          DefaultEpsilon,
		MasteryThreshold: &threshold,
		Weights:          DefaultWeights(),
		DefaultGuess:     DefaultGuess,
		DefaultSlip:      DefaultSlip,
		DefaultTransit:   DefaultTransit,
		DefaultPrior:     DefaultPrior,
		Estimation:       &estimation,
	}
}

// withDefaults fills zero-valued and nil settings from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Formulation == "" {
		c.Formulation = d.Formulation
	}
	if c.Epsilon == 0 {
		c.Epsilon = d.Epsilon
	}
	if c.MasteryThreshold == nil {
		c.MasteryThreshold = d.MasteryThreshold
	}
	if c.Weights == (Weights{}) {
		c.Weights = d.Weights
	}
	if c.DefaultGuess == 0 {
		c.DefaultGuess = d.DefaultGuess
	}
	if c.DefaultSlip == 0 {
		c.DefaultSlip = d.DefaultSlip
	}
	if c.DefaultTransit == 0 {
		c.DefaultTransit = d.DefaultTransit
	}
	if c.DefaultPrior == 0 {
		c.DefaultPrior = d.DefaultPrior
	}
	if c.Estimation == nil {
		c.Estimation = d.Estimation
	}
	return c
}
