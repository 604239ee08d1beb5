package database

import (
	"context"
	"fmt"
	"time"

	"github.com/example/adaptengine/pkg/models"
)

// LearnerRepository handles database operations for learners and their
// attempts
type LearnerRepository struct{}

// NewLearnerRepository creates a new repository instance
func NewLearnerRepository() *LearnerRepository {
	return &LearnerRepository{}
}

// GetOrCreate returns the learner with the given external id, creating it
// if needed
func (r *LearnerRepository) GetOrCreate(ctx context.Context, externalID string) (*models.Learner, error) {
	_, err := DB.ExecContext(ctx, DB.Rebind(
		"INSERT INTO learners (external_id, created_at) VALUES (?, ?) ON CONFLICT (external_id) DO NOTHING"),
		externalID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to create learner: %w", err)
	}

	var learner models.Learner
	err = DB.GetContext(ctx, &learner, DB.Rebind(
		"SELECT id, external_id, created_at FROM learners WHERE external_id = ?"), externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get learner: %w", err)
	}
	return &learner, nil
}

// GetAll returns all learners in creation order
func (r *LearnerRepository) GetAll(ctx context.Context) ([]models.Learner, error) {
	var learners []models.Learner
	err := DB.SelectContext(ctx, &learners, "SELECT id, external_id, created_at FROM learners ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to get learners: %w", err)
	}
	return learners, nil
}

// CreateAttempt appends an attempt and sets its id
func (r *LearnerRepository) CreateAttempt(ctx context.Context, a *models.Attempt) error {
	err := DB.QueryRowxContext(ctx, DB.Rebind(`
		INSERT INTO attempts (learner_id, item_id, score, attempted_at)
		VALUES (?, ?, ?, ?) RETURNING id`),
		a.LearnerID, a.ItemID, a.Score, a.AttemptedAt.UTC(),
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to create attempt: %w", err)
	}
	return nil
}

// GetAttempts returns every attempt in chronological order
func (r *LearnerRepository) GetAttempts(ctx context.Context) ([]models.Attempt, error) {
	var attempts []models.Attempt
	err := DB.SelectContext(ctx, &attempts,
		"SELECT id, learner_id, item_id, score, attempted_at FROM attempts ORDER BY attempted_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to get attempts: %w", err)
	}
	return attempts, nil
}

// GetAttemptsByLearner returns a learner's attempts in chronological order
func (r *LearnerRepository) GetAttemptsByLearner(ctx context.Context, learnerID int64) ([]models.Attempt, error) {
	var attempts []models.Attempt
	err := DB.SelectContext(ctx, &attempts, DB.Rebind(`
		SELECT id, learner_id, item_id, score, attempted_at FROM attempts
		WHERE learner_id = ? ORDER BY attempted_at, id`), learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get learner attempts: %w", err)
	}
	return attempts, nil
}
