package models

import "time"

// CalibrationRun records one batch re-estimation of the item parameters
type CalibrationRun struct {
	ID              string    `json:"id" db:"id"`
	Version         int       `json:"version" db:"version"`
	Learners        int       `json:"learners" db:"learners"`
	DegenerateGuess int       `json:"degenerate_guess" db:"degenerate_guess"`
	DegenerateSlip  int       `json:"degenerate_slip" db:"degenerate_slip"`
	StartedAt       time.Time `json:"started_at" db:"started_at"`
	FinishedAt      time.Time `json:"finished_at" db:"finished_at"`
}

// CalibratedParameter holds the estimated probabilities for one item and
// learning objective
type CalibratedParameter struct {
	RunID   string  `json:"run_id" db:"run_id"`
	ItemID  int64   `json:"item_id" db:"item_id"`
	LOID    int64   `json:"lo_id" db:"lo_id"`
	Guess   float64 `json:"guess" db:"guess"`
	Slip    float64 `json:"slip" db:"slip"`
	Transit float64 `json:"transit" db:"transit"`
}

// CalibratedPrior holds the estimated prior-knowledge probability of one
// learning objective
type CalibratedPrior struct {
	RunID string  `json:"run_id" db:"run_id"`
	LOID  int64   `json:"lo_id" db:"lo_id"`
	Prior float64 `json:"prior" db:"prior"`
}
