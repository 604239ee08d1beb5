package models

import "time"

// LearningObjective is a skill or concept an item can exercise
type LearningObjective struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Item is an exercise a learner can attempt
type Item struct {
	ID         int64     `json:"id" db:"id"`
	ExternalID string    `json:"external_id" db:"external_id"` // Identifier used by importers and the CLI
	Name       string    `json:"name" db:"name"`
	Module     int       `json:"module" db:"module"` // 0 means usable in every module
	Difficulty float64   `json:"difficulty" db:"difficulty"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// ItemTag links an item to a learning objective. Guess, Slip and Transit
// are probabilities; nil falls back to the configured defaults.
type ItemTag struct {
	ItemID    int64    `json:"item_id" db:"item_id"`
	LOID      int64    `json:"lo_id" db:"lo_id"`
	Relevance float64  `json:"relevance" db:"relevance"`
	Guess     *float64 `json:"guess,omitempty" db:"guess"`
	Slip      *float64 `json:"slip,omitempty" db:"slip"`
	Transit   *float64 `json:"transit,omitempty" db:"transit"`
}

// Prerequisite says LO PrerequisiteID should be mastered before LO LOID
type Prerequisite struct {
	PrerequisiteID int64   `json:"prerequisite_id" db:"prerequisite_id"`
	LOID           int64   `json:"lo_id" db:"lo_id"`
	Weight         float64 `json:"weight" db:"weight"` // In [0, 1]
}
