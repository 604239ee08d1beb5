package models

import "time"

// Learner is a person whose mastery is tracked
type Learner struct {
	ID         int64     `json:"id" db:"id"`
	ExternalID string    `json:"external_id" db:"external_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Attempt is one scored answer. Attempts are never updated or deleted.
type Attempt struct {
	ID          int64     `json:"id" db:"id"`
	LearnerID   int64     `json:"learner_id" db:"learner_id"`
	ItemID      int64     `json:"item_id" db:"item_id"`
	Score       float64   `json:"score" db:"score"` // 0 wrong, 1 right, fractional for partial credit
	AttemptedAt time.Time `json:"attempted_at" db:"attempted_at"`
}

// Mastery is the checkpointed state of one learner on one learning objective
type Mastery struct {
	LearnerID    int64     `json:"learner_id" db:"learner_id"`
	LOID         int64     `json:"lo_id" db:"lo_id"`
	Probability  float64   `json:"probability" db:"probability"`
	Exposure     float64   `json:"exposure" db:"exposure"`
	LastSeenItem *int64    `json:"last_seen_item,omitempty" db:"last_seen_item"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
