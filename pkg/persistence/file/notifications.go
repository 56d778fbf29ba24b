package file

import (
	"context"
	"sort"

	"github.com/nivio/flowd/pkg/models"
	"github.com/nivio/flowd/pkg/persistence"
)

// NotificationRepository handles notification file operations.
type NotificationRepository struct {
	store *store
}

func (r *NotificationRepository) Save(_ context.Context, notification *models.Notification) error {
	return r.store.write(notification.ID, notification)
}

func (r *NotificationRepository) GetByID(_ context.Context, id string) (*models.Notification, error) {
	var notification models.Notification

	found, err := r.store.read(id, &notification)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.NewEntityError("GetByID", "notification", id, persistence.ErrNotificationNotFound)
	}

	return &notification, nil
}

func (r *NotificationRepository) List(ctx context.Context, filter persistence.NotificationFilter) ([]*models.Notification, error) {
	ids, err := r.store.ids()
	if err != nil {
		return nil, err
	}

	notifications := make([]*models.Notification, 0, len(ids))

	for _, id := range ids {
		notification, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		// A user sees their own notifications plus broadcasts.
		if filter.UserID != "" && notification.UserID != "" && notification.UserID != filter.UserID {
			continue
		}

		if filter.UnreadOnly && notification.Read {
			continue
		}

		notifications = append(notifications, notification)
	}

	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
	})

	return paginate(notifications, filter.Offset, filter.Limit), nil
}

func (r *NotificationRepository) Delete(_ context.Context, id string) error {
	found, err := r.store.remove(id)
	if err != nil {
		return err
	}

	if !found {
		return persistence.NewEntityError("Delete", "notification", id, persistence.ErrNotificationNotFound)
	}

	return nil
}
