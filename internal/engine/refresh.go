package engine

import "log"

// Refresh re-estimates the item parameters with the configured estimation
// options and installs the result. Only one refresh runs at a time.
func (e *Engine) Refresh() (*Estimate, error) {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	est, err := e.Estimate(e.estimation)
	if err != nil {
		return nil, err
	}
	if err := e.install(est); err != nil {
		return nil, err
	}
	return est, nil
}

// Install applies a previously computed estimate, for example one loaded
// from storage.
func (e *Engine) Install(est *Estimate) error {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()
	return e.install(est)
}

// install swaps in a new parameter snapshot built from est, then moves
// every pristine learner to the new prior. Learners that have touched any
// LO keep their mastery.
func (e *Engine) install(est *Estimate) error {
	next, err := e.params.Load().withEstimate(est)
	if err != nil {
		return err
	}
	e.params.Store(next)

	primed := 0
	for _, l := range e.learners.all() {
		l.mu.Lock()
		if l.pristine() {
			for j, o := range next.Prior {
				l.mastery[j] = e.form.Encode(o)
			}
			primed++
		}
		l.mu.Unlock()
	}

	log.Printf("Installed parameters v%d (%d learners estimated, %d degenerate guess, %d degenerate slip, %d pristine learners re-primed)",
		next.Version, est.Learners, est.DegenerateGuess, est.DegenerateSlip, primed)
	return nil
}
