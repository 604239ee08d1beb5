package engine

import "errors"

// Sentinel errors for the engine package.
// Use errors.Is to check: errors.Is(err, engine.ErrUnknownItem)
var (
	ErrInvalidConfig      = errors.New("engine: invalid configuration")
	ErrUnknownFormulation = errors.New("engine: unknown formulation")
	ErrUnknownItem        = errors.New("engine: unknown item")
	ErrUnknownLearner     = errors.New("engine: unknown learner")
	ErrInvalidScore       = errors.New("engine: score out of range [0, 1]")
	ErrInvalidEstimate    = errors.New("engine: estimate does not fit the live parameters")
	ErrInvalidState       = errors.New("engine: inconsistent learner state")
)
