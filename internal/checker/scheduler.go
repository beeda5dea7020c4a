package checker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"foxden/internal/logging"
	"foxden/internal/storage"
)

// Scheduler runs periodic reachability checks over every stored
// descriptor.
type Scheduler struct {
	scheduler gocron.Scheduler
	checker   *Checker
	store     storage.Storage
	interval  time.Duration
	running   bool
}

// NewScheduler creates a scheduler that re-checks all descriptors every
// interval.
func NewScheduler(checker *Checker, store storage.Storage, interval time.Duration) (*Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{
		scheduler: scheduler,
		checker:   checker,
		store:     store,
		interval:  interval,
	}, nil
}

// Start begins the periodic checks and runs one sweep immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			s.sweep(ctx)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create check job: %w", err)
	}

	s.scheduler.Start()
	s.running = true

	go s.sweep(ctx)
	return nil
}

// Stop shuts the scheduler down.
func (s *Scheduler) Stop() error {
	if !s.running {
		return fmt.Errorf("scheduler is not running")
	}
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	s.running = false
	return nil
}

// IsRunning reports whether the scheduler is active.
func (s *Scheduler) IsRunning() bool {
	return s.running
}

func (s *Scheduler) sweep(ctx context.Context) {
	log := logging.WithComponent("checker")

	descriptors, err := s.store.ListDescriptors(ctx, storage.DescriptorFilter{})
	if err != nil {
		log.Warn().Err(err).Msg("could not list descriptors for periodic check")
		return
	}
	if len(descriptors) == 0 {
		return
	}

	batch := s.checker.CheckBatch(ctx, descriptors, nil)
	log.Info().
		Int("checked", batch.Checked).
		Int("alive", batch.Succeeded).
		Int("dead", batch.Failed).
		Dur("took", batch.Duration).
		Msg("periodic check sweep done")
}
