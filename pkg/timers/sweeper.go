// Package timers runs the periodic sweeps: firing due timer records so
// suspended instances resume, and releasing expired form lock leases.
package timers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nivio/flowd/pkg/engine"
	"github.com/nivio/flowd/pkg/forms"
	"github.com/nivio/flowd/pkg/persistence"
)

const (
	// DefaultTimerInterval is how often due timer records are swept.
	DefaultTimerInterval = 10 * time.Second

	// DefaultLockInterval is how often expired form locks are released.
	DefaultLockInterval = time.Minute
)

// Sweeper schedules the periodic maintenance jobs. Timer firing is
// idempotent in the engine, so overlapping or replayed sweeps are safe.
type Sweeper struct {
	cron        *cron.Cron
	engine      *engine.Engine
	forms       *forms.Service
	persistence persistence.Persistence
	logger      *slog.Logger

	timerInterval time.Duration
	lockInterval  time.Duration
}

func NewSweeper(
	eng *engine.Engine,
	formService *forms.Service,
	store persistence.Persistence,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		cron:          cron.New(),
		engine:        eng,
		forms:         formService,
		persistence:   store,
		logger:        logger.With("module", "timers"),
		timerInterval: DefaultTimerInterval,
		lockInterval:  DefaultLockInterval,
	}
}

// Start registers the sweep jobs and starts the scheduler.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.timerInterval), func() {
		if _, err := s.SweepTimers(ctx); err != nil {
			s.logger.ErrorContext(ctx, "Timer sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule timer sweep: %w", err)
	}

	_, err = s.cron.AddFunc(fmt.Sprintf("@every %s", s.lockInterval), func() {
		released, err := s.forms.CleanExpiredLocks(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Lock sweep failed", "error", err)

			return
		}

		if released > 0 {
			s.logger.InfoContext(ctx, "Released expired form locks", "count", released)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule lock sweep: %w", err)
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Sweeper started",
		"timer_interval", s.timerInterval, "lock_interval", s.lockInterval)

	return nil
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// SweepTimers fires every due timer record and resumes the owning
// instances. Each fired record is marked so a crashed sweep never fires
// it twice.
func (s *Sweeper) SweepTimers(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	due, err := s.persistence.Timers().Due(ctx, now)
	if err != nil {
		return 0, err
	}

	fired := 0

	for _, timer := range due {
		if err := s.persistence.Timers().MarkFired(ctx, timer.ID, now); err != nil {
			s.logger.ErrorContext(ctx, "Failed to mark timer fired",
				"timer_id", timer.ID, "error", err)

			continue
		}

		if err := s.engine.FireTimer(ctx, timer); err != nil {
			s.logger.ErrorContext(ctx, "Failed to fire timer",
				"timer_id", timer.ID, "instance_id", timer.InstanceID, "error", err)

			continue
		}

		fired++
	}

	if fired > 0 {
		s.logger.InfoContext(ctx, "Fired due timers", "count", fired)
	}

	return fired, nil
}
