package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nivio/flowd/pkg/models"
	"github.com/nivio/flowd/pkg/persistence"
)

// NotificationRepository handles notification database operations.
type NotificationRepository struct {
	db *sql.DB
}

func (r *NotificationRepository) Save(ctx context.Context, notification *models.Notification) error {
	data, err := jsonbValue(notification.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal notification data: %w", err)
	}

	query := `
		INSERT INTO notifications (id, user_id, category, title, message, data, read, read_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			read = EXCLUDED.read,
			read_at = EXCLUDED.read_at
	`

	_, err = r.db.ExecContext(ctx, query,
		notification.ID, notification.UserID, notification.Category, notification.Title,
		notification.Message, data, notification.Read, notification.ReadAt, notification.CreatedAt,
	)
	if err != nil {
		return persistence.NewEntityError("Save", "notification", notification.ID, err)
	}

	return nil
}

func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	query := `
		SELECT id, user_id, category, title, message, data, read, read_at, created_at
		FROM notifications
		WHERE id = $1
	`

	notification, err := scanNotification(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewEntityError("GetByID", "notification", id, persistence.ErrNotificationNotFound)
	}

	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "notification", id, err)
	}

	return notification, nil
}

func (r *NotificationRepository) List(ctx context.Context, filter persistence.NotificationFilter) ([]*models.Notification, error) {
	// Broadcast rows (empty user_id) are visible to every user.
	query := `
		SELECT id, user_id, category, title, message, data, read, read_at, created_at
		FROM notifications
		WHERE ($1 = '' OR user_id = $1 OR user_id = '')
		  AND (NOT $2 OR read = FALSE)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, query, filter.UserID, filter.UnreadOnly, limit, filter.Offset)
	if err != nil {
		return nil, persistence.NewEntityError("List", "notification", "", err)
	}
	defer func() { _ = rows.Close() }()

	notifications := make([]*models.Notification, 0)

	for rows.Next() {
		notification, err := scanNotification(rows)
		if err != nil {
			return nil, persistence.NewEntityError("List", "notification", "", err)
		}

		notifications = append(notifications, notification)
	}

	return notifications, rows.Err()
}

func (r *NotificationRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM notifications WHERE id = $1", id)
	if err != nil {
		return persistence.NewEntityError("Delete", "notification", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewEntityError("Delete", "notification", id, err)
	}

	if affected == 0 {
		return persistence.NewEntityError("Delete", "notification", id, persistence.ErrNotificationNotFound)
	}

	return nil
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var notification models.Notification

	var data []byte

	err := row.Scan(
		&notification.ID, &notification.UserID, &notification.Category, &notification.Title,
		&notification.Message, &data, &notification.Read, &notification.ReadAt, &notification.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := jsonbScan(data, &notification.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification data: %w", err)
	}

	return &notification, nil
}
