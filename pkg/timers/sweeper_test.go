package timers

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nivio/flowd/pkg/engine"
	"github.com/nivio/flowd/pkg/eventbus"
	"github.com/nivio/flowd/pkg/forms"
	"github.com/nivio/flowd/pkg/models"
	"github.com/nivio/flowd/pkg/persistence"
	"github.com/nivio/flowd/pkg/persistence/file"
)

type publisherStub struct{}

func (publisherStub) Publish(context.Context, string, eventbus.Event) error { return nil }

type notifierStub struct{}

func (notifierStub) Create(_ context.Context, userID string, _ string, _ string, _ string, _ map[string]any) (*models.Notification, error) {
	return &models.Notification{UserID: userID}, nil
}

func (notifierStub) NotifySubscribers(context.Context, string, string, string, string, map[string]any) error {
	return nil
}

func newTestSweeper(t *testing.T) (*Sweeper, persistence.Persistence, *engine.Engine) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	eng := engine.New(store, publisherStub{}, notifierStub{}, logger)
	formService := forms.NewService(store, notifierStub{}, logger)

	return NewSweeper(eng, formService, store, logger), store, eng
}

func TestSweepTimersResumesDueInstances(t *testing.T) {
	t.Parallel()

	sweeper, store, eng := newTestSweeper(t)
	ctx := context.Background()

	def := &models.WorkflowDefinition{
		ID:     "wf",
		Name:   "wf",
		Active: true,
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeTypeStart},
			{ID: "wait", Type: models.NodeTypeTimer, Data: models.NodeData{
				Config: map[string]any{"delay": 0},
			}},
			{ID: "end", Type: models.NodeTypeEnd},
		},
		Edges: []models.Edge{
			{ID: "e1", Source: "start", Target: "wait"},
			{ID: "e2", Source: "wait", Target: "end"},
		},
	}
	require.NoError(t, store.Definitions().Save(ctx, def))

	instance, err := eng.Start(ctx, "wf", nil, "u1")
	require.NoError(t, err)
	require.Equal(t, models.InstanceStatusRunning, instance.Status)

	fired, err := sweeper.SweepTimers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	current, err := store.Instances().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, current.Status)

	// A fired record never fires again.
	fired, err = sweeper.SweepTimers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, fired)
}

func TestSweepTimersIgnoresFutureRecords(t *testing.T) {
	t.Parallel()

	sweeper, store, _ := newTestSweeper(t)
	ctx := context.Background()

	require.NoError(t, store.Timers().Save(ctx, &models.TimerRecord{
		ID:         "t-future",
		InstanceID: "i1",
		NodeID:     "wait",
		DueAt:      time.Now().UTC().Add(time.Hour),
		CreatedAt:  time.Now().UTC(),
	}))

	fired, err := sweeper.SweepTimers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, fired)
}
