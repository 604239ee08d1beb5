package database

import (
	"context"
	"fmt"

	"github.com/example/adaptengine/pkg/models"
)

// MasteryRepository stores checkpoints of learner mastery
type MasteryRepository struct{}

// NewMasteryRepository creates a new repository instance
func NewMasteryRepository() *MasteryRepository {
	return &MasteryRepository{}
}

// Upsert writes the rows in one transaction
func (r *MasteryRepository) Upsert(ctx context.Context, rows []models.Mastery) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO mastery (learner_id, lo_id, probability, exposure, last_seen_item, updated_at)
			VALUES (:learner_id, :lo_id, :probability, :exposure, :last_seen_item, :updated_at)
			ON CONFLICT (learner_id, lo_id) DO UPDATE SET
				probability = excluded.probability,
				exposure = excluded.exposure,
				last_seen_item = excluded.last_seen_item,
				updated_at = excluded.updated_at`, row)
		if err != nil {
			return fmt.Errorf("failed to save mastery: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mastery: %w", err)
	}
	return nil
}

// GetByLearner returns the checkpointed mastery of a learner
func (r *MasteryRepository) GetByLearner(ctx context.Context, learnerID int64) ([]models.Mastery, error) {
	var rows []models.Mastery
	err := DB.SelectContext(ctx, &rows, DB.Rebind(`
		SELECT learner_id, lo_id, probability, exposure, last_seen_item, updated_at
		FROM mastery WHERE learner_id = ? ORDER BY lo_id`), learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get mastery: %w", err)
	}
	return rows, nil
}
