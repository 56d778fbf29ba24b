package file

import (
	"context"
	"sort"
	"time"

	"github.com/nivio/flowd/pkg/models"
	"github.com/nivio/flowd/pkg/persistence"
)

// TimerRepository handles durable timer file operations.
type TimerRepository struct {
	store *store
}

func (r *TimerRepository) Save(_ context.Context, timer *models.TimerRecord) error {
	return r.store.write(timer.ID, timer)
}

// Due returns timers whose due time has passed and that have not fired yet.
func (r *TimerRepository) Due(_ context.Context, now time.Time) ([]*models.TimerRecord, error) {
	ids, err := r.store.ids()
	if err != nil {
		return nil, err
	}

	due := make([]*models.TimerRecord, 0)

	for _, id := range ids {
		var timer models.TimerRecord

		found, err := r.store.read(id, &timer)
		if err != nil {
			return nil, err
		}

		if found && timer.FiredAt == nil && !timer.DueAt.After(now) {
			due = append(due, &timer)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].DueAt.Before(due[j].DueAt)
	})

	return due, nil
}

func (r *TimerRepository) MarkFired(_ context.Context, id string, firedAt time.Time) error {
	var timer models.TimerRecord

	found, err := r.store.read(id, &timer)
	if err != nil {
		return err
	}

	if !found {
		return persistence.NewEntityError("MarkFired", "timer", id, persistence.ErrTimerNotFound)
	}

	timer.FiredAt = &firedAt

	return r.store.write(id, &timer)
}
