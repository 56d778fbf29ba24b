package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/nivio/flowd/pkg/models"
	"github.com/nivio/flowd/pkg/persistence"
)

// SubscriptionRepository handles subscription database operations.
type SubscriptionRepository struct {
	db *sql.DB
}

func (r *SubscriptionRepository) Save(ctx context.Context, sub *models.Subscription) error {
	// The (user_id, instance_id) unique constraint makes re-subscription a
	// no-op rather than an error.
	query := `
		INSERT INTO subscriptions (id, user_id, instance_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, instance_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query, sub.ID, sub.UserID, sub.InstanceID, sub.CreatedAt)
	if err != nil {
		return persistence.NewEntityError("Save", "subscription", sub.ID, err)
	}

	return nil
}

func (r *SubscriptionRepository) Get(ctx context.Context, userID, instanceID string) (*models.Subscription, error) {
	query := `
		SELECT id, user_id, instance_id, created_at
		FROM subscriptions
		WHERE user_id = $1 AND instance_id = $2
	`

	var sub models.Subscription

	err := r.db.QueryRowContext(ctx, query, userID, instanceID).
		Scan(&sub.ID, &sub.UserID, &sub.InstanceID, &sub.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewEntityError("Get", "subscription", userID+"_"+instanceID, persistence.ErrSubscriptionNotFound)
	}

	if err != nil {
		return nil, persistence.NewEntityError("Get", "subscription", userID+"_"+instanceID, err)
	}

	return &sub, nil
}

func (r *SubscriptionRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.Subscription, error) {
	return r.list(ctx, "instance_id", instanceID)
}

func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]*models.Subscription, error) {
	return r.list(ctx, "user_id", userID)
}

func (r *SubscriptionRepository) Delete(ctx context.Context, userID, instanceID string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM subscriptions WHERE user_id = $1 AND instance_id = $2", userID, instanceID)
	if err != nil {
		return persistence.NewEntityError("Delete", "subscription", userID+"_"+instanceID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewEntityError("Delete", "subscription", userID+"_"+instanceID, err)
	}

	if affected == 0 {
		return persistence.NewEntityError("Delete", "subscription", userID+"_"+instanceID, persistence.ErrSubscriptionNotFound)
	}

	return nil
}

func (r *SubscriptionRepository) list(ctx context.Context, column, value string) ([]*models.Subscription, error) {
	query := `
		SELECT id, user_id, instance_id, created_at
		FROM subscriptions
		WHERE ` + column + ` = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, value)
	if err != nil {
		return nil, persistence.NewEntityError("List", "subscription", value, err)
	}
	defer func() { _ = rows.Close() }()

	subs := make([]*models.Subscription, 0)

	for rows.Next() {
		var sub models.Subscription

		err := rows.Scan(&sub.ID, &sub.UserID, &sub.InstanceID, &sub.CreatedAt)
		if err != nil {
			return nil, persistence.NewEntityError("List", "subscription", value, err)
		}

		subs = append(subs, &sub)
	}

	return subs, rows.Err()
}
