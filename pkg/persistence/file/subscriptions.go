package file

import (
	"context"

	"github.com/nivio/flowd/pkg/models"
	"github.com/nivio/flowd/pkg/persistence"
)

// SubscriptionRepository handles subscription file operations. Documents
// are keyed by "userID_instanceID" so the (user, instance) pair stays
// unique by construction.
type SubscriptionRepository struct {
	store *store
}

func subscriptionKey(userID, instanceID string) string {
	return userID + "_" + instanceID
}

func (r *SubscriptionRepository) Save(_ context.Context, sub *models.Subscription) error {
	return r.store.write(subscriptionKey(sub.UserID, sub.InstanceID), sub)
}

func (r *SubscriptionRepository) Get(_ context.Context, userID, instanceID string) (*models.Subscription, error) {
	var sub models.Subscription

	found, err := r.store.read(subscriptionKey(userID, instanceID), &sub)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.NewEntityError("Get", "subscription", subscriptionKey(userID, instanceID), persistence.ErrSubscriptionNotFound)
	}

	return &sub, nil
}

func (r *SubscriptionRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.Subscription, error) {
	return r.list(ctx, func(sub *models.Subscription) bool {
		return sub.InstanceID == instanceID
	})
}

func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]*models.Subscription, error) {
	return r.list(ctx, func(sub *models.Subscription) bool {
		return sub.UserID == userID
	})
}

func (r *SubscriptionRepository) Delete(_ context.Context, userID, instanceID string) error {
	found, err := r.store.remove(subscriptionKey(userID, instanceID))
	if err != nil {
		return err
	}

	if !found {
		return persistence.NewEntityError("Delete", "subscription", subscriptionKey(userID, instanceID), persistence.ErrSubscriptionNotFound)
	}

	return nil
}

func (r *SubscriptionRepository) list(_ context.Context, match func(*models.Subscription) bool) ([]*models.Subscription, error) {
	ids, err := r.store.ids()
	if err != nil {
		return nil, err
	}

	subs := make([]*models.Subscription, 0)

	for _, id := range ids {
		var sub models.Subscription

		found, err := r.store.read(id, &sub)
		if err != nil {
			return nil, err
		}

		if found && match(&sub) {
			subs = append(subs, &sub)
		}
	}

	return subs, nil
}
