package notify

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nivio/flowd/pkg/eventbus"
	"github.com/nivio/flowd/pkg/events"
	"github.com/nivio/flowd/pkg/persistence"
	"github.com/nivio/flowd/pkg/persistence/file"
)

type publisherStub struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *publisherStub) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func newTestNotify(t *testing.T) (*Service, persistence.Persistence, *publisherStub) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	publisher := &publisherStub{}
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	return NewService(store, publisher, NewHub(logger), logger), store, publisher
}

func TestCreatePersistsPublishesAndPushes(t *testing.T) {
	t.Parallel()

	service, store, publisher := newTestNotify(t)
	channel := service.Hub().Register("u1")

	notification, err := service.Create(context.Background(), "u1", "task_assigned",
		"New task", "You have work to do", map[string]any{"instance_id": "i1"})
	require.NoError(t, err)
	require.NotEmpty(t, notification.ID)

	stored, err := store.Notifications().GetByID(context.Background(), notification.ID)
	require.NoError(t, err)
	assert.Equal(t, "task_assigned", stored.Category)
	assert.False(t, stored.Read)

	require.Len(t, publisher.events, 1)
	created, ok := publisher.events[0].(events.NotificationCreated)
	require.True(t, ok)
	assert.Equal(t, notification.ID, created.NotificationID)
	assert.Equal(t, "i1", created.InstanceID)

	select {
	case payload := <-channel.Events():
		assert.Contains(t, string(payload), notification.ID)
	default:
		t.Fatal("expected a pushed event")
	}
}

func TestCreateBroadcastWithEmptyUser(t *testing.T) {
	t.Parallel()

	service, _, _ := newTestNotify(t)
	first := service.Hub().Register("u1")
	second := service.Hub().Register("u2")

	_, err := service.Create(context.Background(), "", "workflow", "Maintenance", "Downtime tonight", nil)
	require.NoError(t, err)

	assert.Len(t, first.Events(), 1)
	assert.Len(t, second.Events(), 1)

	// Broadcast rows are visible in every user's listing.
	list, err := service.List(context.Background(), persistence.NotificationFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMarkReadOwnership(t *testing.T) {
	t.Parallel()

	service, _, _ := newTestNotify(t)

	notification, err := service.Create(context.Background(), "u1", "workflow", "Done", "", nil)
	require.NoError(t, err)

	_, err = service.MarkRead(context.Background(), notification.ID, "intruder")
	assert.ErrorIs(t, err, persistence.ErrNotificationNotFound)

	read, err := service.MarkRead(context.Background(), notification.ID, "u1")
	require.NoError(t, err)
	assert.True(t, read.Read)
	require.NotNil(t, read.ReadAt)

	// Marking twice keeps the original read timestamp.
	again, err := service.MarkRead(context.Background(), notification.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, read.ReadAt.Unix(), again.ReadAt.Unix())
}

func TestDeleteOwnership(t *testing.T) {
	t.Parallel()

	service, store, _ := newTestNotify(t)
	ctx := context.Background()

	notification, err := service.Create(ctx, "u1", "workflow", "Done", "", nil)
	require.NoError(t, err)

	err = service.Delete(ctx, notification.ID, "intruder")
	assert.ErrorIs(t, err, persistence.ErrNotificationNotFound)

	_, err = store.Notifications().GetByID(ctx, notification.ID)
	require.NoError(t, err)

	require.NoError(t, service.Delete(ctx, notification.ID, "u1"))

	_, err = store.Notifications().GetByID(ctx, notification.ID)
	assert.ErrorIs(t, err, persistence.ErrNotificationNotFound)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	t.Parallel()

	service, _, _ := newTestNotify(t)
	ctx := context.Background()

	_, err := service.Subscribe(ctx, "u1", "i1")
	require.NoError(t, err)
	_, err = service.Subscribe(ctx, "u1", "i1")
	require.NoError(t, err)

	subscriptions, err := service.ListSubscriptions(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, subscriptions, 1)

	require.NoError(t, service.Unsubscribe(ctx, "u1", "i1"))

	subscriptions, err = service.ListSubscriptions(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, subscriptions)
}

func TestNotifySubscribersFanout(t *testing.T) {
	t.Parallel()

	service, store, _ := newTestNotify(t)
	ctx := context.Background()

	_, err := service.Subscribe(ctx, "u1", "i1")
	require.NoError(t, err)
	_, err = service.Subscribe(ctx, "u2", "i1")
	require.NoError(t, err)
	_, err = service.Subscribe(ctx, "u3", "other-instance")
	require.NoError(t, err)

	require.NoError(t, service.NotifySubscribers(ctx, "i1", "workflow", "Progress", "Node done", nil))

	forU1, err := store.Notifications().List(ctx, persistence.NotificationFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, forU1, 1)

	forU3, err := store.Notifications().List(ctx, persistence.NotificationFilter{UserID: "u3"})
	require.NoError(t, err)
	assert.Empty(t, forU3)
}
