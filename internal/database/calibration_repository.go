package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/adaptengine/pkg/models"
)

// CalibrationRepository stores the results of parameter re-estimation
type CalibrationRepository struct{}

// NewCalibrationRepository creates a new repository instance
func NewCalibrationRepository() *CalibrationRepository {
	return &CalibrationRepository{}
}

// Save writes a run with its parameters and priors in one transaction
func (r *CalibrationRepository) Save(ctx context.Context, run *models.CalibrationRun,
	params []models.CalibratedParameter, priors []models.CalibratedPrior) error {
	tx, err := DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO calibration_runs (id, version, learners, degenerate_guess, degenerate_slip, started_at, finished_at)
		VALUES (:id, :version, :learners, :degenerate_guess, :degenerate_slip, :started_at, :finished_at)`, run)
	if err != nil {
		return fmt.Errorf("failed to save calibration run: %w", err)
	}
	for _, p := range params {
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO calibrated_parameters (run_id, item_id, lo_id, guess, slip, transit)
			VALUES (:run_id, :item_id, :lo_id, :guess, :slip, :transit)`, p)
		if err != nil {
			return fmt.Errorf("failed to save calibrated parameter: %w", err)
		}
	}
	for _, p := range priors {
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO calibrated_priors (run_id, lo_id, prior) VALUES (:run_id, :lo_id, :prior)`, p)
		if err != nil {
			return fmt.Errorf("failed to save calibrated prior: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit calibration run: %w", err)
	}
	return nil
}

// GetLatest returns the most recently finished run, or nil if there is none
func (r *CalibrationRepository) GetLatest(ctx context.Context) (*models.CalibrationRun, error) {
	var run models.CalibrationRun
	err := DB.GetContext(ctx, &run, `
		SELECT id, version, learners, degenerate_guess, degenerate_slip, started_at, finished_at
		FROM calibration_runs ORDER BY finished_at DESC, version DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest calibration run: %w", err)
	}
	return &run, nil
}

// GetParameters returns the parameters estimated by a run
func (r *CalibrationRepository) GetParameters(ctx context.Context, runID string) ([]models.CalibratedParameter, error) {
	var params []models.CalibratedParameter
	err := DB.SelectContext(ctx, &params, DB.Rebind(`
		SELECT run_id, item_id, lo_id, guess, slip, transit FROM calibrated_parameters
		WHERE run_id = ? ORDER BY item_id, lo_id`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get calibrated parameters: %w", err)
	}
	return params, nil
}

// GetPriors returns the priors estimated by a run
func (r *CalibrationRepository) GetPriors(ctx context.Context, runID string) ([]models.CalibratedPrior, error) {
	var priors []models.CalibratedPrior
	err := DB.SelectContext(ctx, &priors, DB.Rebind(
		"SELECT run_id, lo_id, prior FROM calibrated_priors WHERE run_id = ? ORDER BY lo_id"), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get calibrated priors: %w", err)
	}
	return priors, nil
}
