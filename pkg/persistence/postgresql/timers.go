package postgresql

import (
	"context"
	"database/sql"
	"time"

	"github.com/nivio/flowd/pkg/models"
	"github.com/nivio/flowd/pkg/persistence"
)

// TimerRepository handles durable timer database operations.
type TimerRepository struct {
	db *sql.DB
}

func (r *TimerRepository) Save(ctx context.Context, timer *models.TimerRecord) error {
	query := `
		INSERT INTO timers (id, instance_id, node_id, due_at, fired_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET fired_at = EXCLUDED.fired_at
	`

	_, err := r.db.ExecContext(ctx, query,
		timer.ID, timer.InstanceID, timer.NodeID, timer.DueAt, timer.FiredAt, timer.CreatedAt,
	)
	if err != nil {
		return persistence.NewEntityError("Save", "timer", timer.ID, err)
	}

	return nil
}

func (r *TimerRepository) Due(ctx context.Context, now time.Time) ([]*models.TimerRecord, error) {
	query := `
		SELECT id, instance_id, node_id, due_at, fired_at, created_at
		FROM timers
		WHERE fired_at IS NULL AND due_at <= $1
		ORDER BY due_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, persistence.NewEntityError("Due", "timer", "", err)
	}
	defer func() { _ = rows.Close() }()

	timers := make([]*models.TimerRecord, 0)

	for rows.Next() {
		var timer models.TimerRecord

		err := rows.Scan(&timer.ID, &timer.InstanceID, &timer.NodeID, &timer.DueAt, &timer.FiredAt, &timer.CreatedAt)
		if err != nil {
			return nil, persistence.NewEntityError("Due", "timer", "", err)
		}

		timers = append(timers, &timer)
	}

	return timers, rows.Err()
}

func (r *TimerRepository) MarkFired(ctx context.Context, id string, firedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, "UPDATE timers SET fired_at = $2 WHERE id = $1 AND fired_at IS NULL", id, firedAt)
	if err != nil {
		return persistence.NewEntityError("MarkFired", "timer", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewEntityError("MarkFired", "timer", id, err)
	}

	if affected == 0 {
		return persistence.NewEntityError("MarkFired", "timer", id, persistence.ErrTimerNotFound)
	}

	return nil
}
