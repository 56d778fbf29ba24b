package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nivio/flowd/pkg/eventbus"
	"github.com/nivio/flowd/pkg/events"
	"github.com/nivio/flowd/pkg/models"
	"github.com/nivio/flowd/pkg/persistence"
)

// Notification categories used across the engine and the form service.
const (
	CategoryTaskAssigned  = "task_assigned"
	CategoryTaskCompleted = "task_completed"
	CategoryFormDraft     = "form_draft_saved"
	CategoryFormSubmitted = "form_submitted"
	CategoryWorkflow      = "workflow"
)

// Service creates notification records, publishes the matching event and
// pushes the payload to any open channels for the recipient.
type Service struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	hub         *Hub
	logger      *slog.Logger
}

func NewService(
	persistence persistence.Persistence,
	publisher eventbus.EventPublisher,
	hub *Hub,
	logger *slog.Logger,
) *Service {
	return &Service{
		persistence: persistence,
		publisher:   publisher,
		hub:         hub,
		logger:      logger.With("module", "notify"),
	}
}

// Hub exposes the push channel registry for transport handlers.
func (s *Service) Hub() *Hub {
	return s.hub
}

// Create persists a notification and delivers it. An empty userID
// addresses every connected user. Event publication and push delivery are
// best effort: the persisted row is the durable record.
func (s *Service) Create(
	ctx context.Context,
	userID, category, title, message string,
	data map[string]any,
) (*models.Notification, error) {
	notification := &models.Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Category:  category,
		Title:     title,
		Message:   message,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.persistence.Notifications().Save(ctx, notification); err != nil {
		return nil, err
	}

	event := events.NotificationCreated{
		BaseEvent:      events.NewBaseEvent(events.NotificationCreatedEvent, instanceID(data)),
		NotificationID: notification.ID,
		UserID:         userID,
		Category:       category,
		Title:          title,
		Message:        message,
		Data:           data,
	}
	if err := s.publisher.Publish(ctx, userID, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish notification event",
			"notification_id", notification.ID, "error", err)
	}

	if userID == "" {
		s.hub.Broadcast(notification)
	} else {
		s.hub.SendToUser(userID, notification)
	}

	return notification, nil
}

// NotifySubscribers creates one notification per user subscribed to the
// instance.
func (s *Service) NotifySubscribers(
	ctx context.Context,
	instanceID, category, title, message string,
	data map[string]any,
) error {
	subscriptions, err := s.persistence.Subscriptions().ListByInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	for _, subscription := range subscriptions {
		if _, err := s.Create(ctx, subscription.UserID, category, title, message, data); err != nil {
			s.logger.ErrorContext(ctx, "Failed to notify subscriber",
				"instance_id", instanceID, "user_id", subscription.UserID, "error", err)
		}
	}

	return nil
}

// List returns notifications visible to the user, broadcasts included.
func (s *Service) List(ctx context.Context, filter persistence.NotificationFilter) ([]*models.Notification, error) {
	return s.persistence.Notifications().List(ctx, filter)
}

// MarkRead marks the notification read. Only the recipient may mark it.
func (s *Service) MarkRead(ctx context.Context, id, userID string) (*models.Notification, error) {
	notification, err := s.persistence.Notifications().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if notification.UserID != "" && notification.UserID != userID {
		return nil, persistence.ErrNotificationNotFound
	}

	if notification.Read {
		return notification, nil
	}

	now := time.Now().UTC()
	notification.Read = true
	notification.ReadAt = &now

	if err := s.persistence.Notifications().Save(ctx, notification); err != nil {
		return nil, err
	}

	return notification, nil
}

// Delete removes the notification. Only the recipient may delete it;
// broadcast notifications are deletable by anyone.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	notification, err := s.persistence.Notifications().GetByID(ctx, id)
	if err != nil {
		return err
	}

	if notification.UserID != "" && notification.UserID != userID {
		return persistence.ErrNotificationNotFound
	}

	return s.persistence.Notifications().Delete(ctx, id)
}

// Subscribe registers the user for updates on the instance. Subscribing
// twice is a no-op.
func (s *Service) Subscribe(ctx context.Context, userID, instanceID string) (*models.Subscription, error) {
	subscription := &models.Subscription{
		ID:         uuid.New().String(),
		UserID:     userID,
		InstanceID: instanceID,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.persistence.Subscriptions().Save(ctx, subscription); err != nil {
		return nil, err
	}

	return subscription, nil
}

// Unsubscribe removes the user's subscription to the instance.
func (s *Service) Unsubscribe(ctx context.Context, userID, instanceID string) error {
	return s.persistence.Subscriptions().Delete(ctx, userID, instanceID)
}

// ListSubscriptions returns the user's subscriptions.
func (s *Service) ListSubscriptions(ctx context.Context, userID string) ([]*models.Subscription, error) {
	return s.persistence.Subscriptions().ListByUser(ctx, userID)
}

func instanceID(data map[string]any) string {
	id, _ := data["instance_id"].(string)

	return id
}
