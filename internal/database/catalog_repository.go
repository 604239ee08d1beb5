package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/adaptengine/pkg/models"
)

// CatalogRepository handles learning objectives, items, their tags and
// the prerequisite graph
type CatalogRepository struct{}

// NewCatalogRepository creates a new repository instance
func NewCatalogRepository() *CatalogRepository {
	return &CatalogRepository{}
}

// GetLearningObjectives returns all learning objectives in creation order
func (r *CatalogRepository) GetLearningObjectives(ctx context.Context) ([]models.LearningObjective, error) {
	var los []models.LearningObjective
	err := DB.SelectContext(ctx, &los, "SELECT id, name, created_at FROM learning_objectives ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to get learning objectives: %w", err)
	}
	return los, nil
}

// GetOrCreateLearningObjective returns the id of the named learning
// objective, creating it if needed
func (r *CatalogRepository) GetOrCreateLearningObjective(ctx context.Context, name string) (id int64, created bool, err error) {
	err = DB.GetContext(ctx, &id, DB.Rebind("SELECT id FROM learning_objectives WHERE name = ?"), name)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("failed to get learning objective: %w", err)
	}

	err = DB.QueryRowxContext(ctx,
		DB.Rebind("INSERT INTO learning_objectives (name, created_at) VALUES (?, ?) RETURNING id"),
		name, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create learning objective: %w", err)
	}
	return id, true, nil
}

// GetItems returns all items in creation order
func (r *CatalogRepository) GetItems(ctx context.Context) ([]models.Item, error) {
	var items []models.Item
	err := DB.SelectContext(ctx, &items,
		"SELECT id, external_id, name, module, difficulty, created_at, updated_at FROM items ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to get items: %w", err)
	}
	return items, nil
}

// GetItemByExternalID returns the item or nil if it does not exist
func (r *CatalogRepository) GetItemByExternalID(ctx context.Context, externalID string) (*models.Item, error) {
	var item models.Item
	err := DB.GetContext(ctx, &item, DB.Rebind(
		"SELECT id, external_id, name, module, difficulty, created_at, updated_at FROM items WHERE external_id = ?"),
		externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item by external id: %w", err)
	}
	return &item, nil
}

// UpsertItem inserts the item or updates the one with the same external id.
// item.ID is set either way.
func (r *CatalogRepository) UpsertItem(ctx context.Context, item *models.Item) (created bool, err error) {
	existing, err := r.GetItemByExternalID(ctx, item.ExternalID)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()

	if existing == nil {
		err = DB.QueryRowxContext(ctx, DB.Rebind(`
			INSERT INTO items (external_id, name, module, difficulty, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
			item.ExternalID, item.Name, item.Module, item.Difficulty, now, now,
		).Scan(&item.ID)
		if err != nil {
			return false, fmt.Errorf("failed to create item: %w", err)
		}
		item.CreatedAt, item.UpdatedAt = now, now
		return true, nil
	}

	_, err = DB.ExecContext(ctx, DB.Rebind(
		"UPDATE items SET name = ?, module = ?, difficulty = ?, updated_at = ? WHERE id = ?"),
		item.Name, item.Module, item.Difficulty, now, existing.ID)
	if err != nil {
		return false, fmt.Errorf("failed to update item: %w", err)
	}
	item.ID = existing.ID
	item.CreatedAt, item.UpdatedAt = existing.CreatedAt, now
	return false, nil
}

// GetItemTags returns every item-to-objective tag
func (r *CatalogRepository) GetItemTags(ctx context.Context) ([]models.ItemTag, error) {
	var tags []models.ItemTag
	err := DB.SelectContext(ctx, &tags,
		"SELECT item_id, lo_id, relevance, guess, slip, transit FROM item_tags ORDER BY item_id, lo_id")
	if err != nil {
		return nil, fmt.Errorf("failed to get item tags: %w", err)
	}
	return tags, nil
}

// UpsertItemTag inserts or replaces the tag of an item on an objective
func (r *CatalogRepository) UpsertItemTag(ctx context.Context, tag models.ItemTag) error {
	_, err := DB.NamedExecContext(ctx, `
		INSERT INTO item_tags (item_id, lo_id, relevance, guess, slip, transit)
		VALUES (:item_id, :lo_id, :relevance, :guess, :slip, :transit)
		ON CONFLICT (item_id, lo_id) DO UPDATE SET
			relevance = excluded.relevance,
			guess = excluded.guess,
			slip = excluded.slip,
			transit = excluded.transit`, tag)
	if err != nil {
		return fmt.Errorf("failed to save item tag: %w", err)
	}
	return nil
}

// GetPrerequisites returns every prerequisite edge
func (r *CatalogRepository) GetPrerequisites(ctx context.Context) ([]models.Prerequisite, error) {
	var prereqs []models.Prerequisite
	err := DB.SelectContext(ctx, &prereqs,
		"SELECT prerequisite_id, lo_id, weight FROM prerequisites ORDER BY prerequisite_id, lo_id")
	if err != nil {
		return nil, fmt.Errorf("failed to get prerequisites: %w", err)
	}
	return prereqs, nil
}

// UpsertPrerequisite inserts or replaces a prerequisite edge
func (r *CatalogRepository) UpsertPrerequisite(ctx context.Context, p models.Prerequisite) error {
	_, err := DB.NamedExecContext(ctx, `
		INSERT INTO prerequisites (prerequisite_id, lo_id, weight)
		VALUES (:prerequisite_id, :lo_id, :weight)
		ON CONFLICT (prerequisite_id, lo_id) DO UPDATE SET weight = excluded.weight`, p)
	if err != nil {
		return fmt.Errorf("failed to save prerequisite: %w", err)
	}
	return nil
}
