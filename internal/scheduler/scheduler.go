package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/example/adaptengine/pkg/models"
)

// Scheduler runs periodic calibration and mastery checkpoints
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   Service
	config    Config
	ctx       context.Context
}

// Service is the work the scheduler triggers
type Service interface {
	Calibrate(ctx context.Context) (*models.CalibrationRun, error)
	Checkpoint(ctx context.Context) error
}

// Config holds the job intervals. A zero interval disables the job.
type Config struct {
	CalibrationInterval time.Duration
	CheckpointInterval  time.Duration
}

// New creates a new scheduler instance
func New(service Service, config Config) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		service:   service,
		config:    config,
		ctx:       context.Background(),
	}
}

// Start registers the jobs and runs them in the background until Stop is
// called. Jobs wait for their first interval before running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	if s.config.CalibrationInterval > 0 {
		if _, err := s.scheduler.Every(s.config.CalibrationInterval).WaitForSchedule().Do(s.runCalibration); err != nil {
			return fmt.Errorf("failed to schedule calibration: %w", err)
		}
	}
	if s.config.CheckpointInterval > 0 {
		if _, err := s.scheduler.Every(s.config.CheckpointInterval).WaitForSchedule().Do(s.runCheckpoint); err != nil {
			return fmt.Errorf("failed to schedule checkpoint: %w", err)
		}
	}

	// Start the scheduler in a non-blocking manner
	s.scheduler.StartAsync()
	return nil
}

// Stop terminates all scheduled tasks
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

// Jobs returns the number of registered jobs
func (s *Scheduler) Jobs() int {
	return len(s.scheduler.Jobs())
}

// runCalibration re-estimates the model parameters
func (s *Scheduler) runCalibration() {
	if s.ctx.Err() != nil {
		return
	}
	run, err := s.service.Calibrate(s.ctx)
	if err != nil {
		log.Printf("Error running calibration: %v", err)
		return
	}
	log.Printf("Calibration %s finished: version %d from %d learners", run.ID, run.Version, run.Learners)
}

// runCheckpoint persists the mastery of every learner
func (s *Scheduler) runCheckpoint() {
	if s.ctx.Err() != nil {
		return
	}
	if err := s.service.Checkpoint(s.ctx); err != nil {
		log.Printf("Error writing mastery checkpoint: %v", err)
	}
}
