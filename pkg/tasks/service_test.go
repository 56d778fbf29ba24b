package tasks

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nivio/flowd/pkg/engine"
	"github.com/nivio/flowd/pkg/eventbus"
	"github.com/nivio/flowd/pkg/models"
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

type notifierStub struct{}

func (notifierStub) Create(_ context.Context, userID, category, _, _ string, _ map[string]any) (*models.Notification, error) {
	return &models.Notification{UserID: userID, Category: category}, nil
}

func (notifierStub) NotifySubscribers(context.Context, string, string, string, string, map[string]any) error {
	return nil
}

func newTestService(t *testing.T) (*Service, persistence.Persistence) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	publisher := &publisherStub{}
	notifier := notifierStub{}
	eng := engine.New(store, publisher, notifier, logger)

	return NewService(store, eng, publisher, notifier, logger), store
}

func seedTask(t *testing.T, store persistence.Persistence, task *models.Task) *models.Task {
	t.Helper()

	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	require.NoError(t, store.Tasks().Save(context.Background(), task))

	return task
}

func TestCompleteRejectsNonAssignee(t *testing.T) {
	t.Parallel()

	service, store := newTestService(t)
	seedTask(t, store, &models.Task{
		ID:         "t1",
		InstanceID: "i1",
		Type:       models.TaskTypeTask,
		AssignedTo: "u1",
		Status:     models.TaskStatusPending,
	})

	_, err := service.Complete(context.Background(), "t1", "intruder", "", nil)
	assert.ErrorIs(t, err, engine.ErrInvalidState)
}

func TestCompleteAllowsCoAssignee(t *testing.T) {
	t.Parallel()

	service, store := newTestService(t)

	def := &models.WorkflowDefinition{
		ID:     "wf",
		Name:   "wf",
		Active: true,
		Nodes: []models.Node{
			{ID: "work", Type: models.NodeTypeTask},
			{ID: "end", Type: models.NodeTypeEnd},
		},
		Edges: []models.Edge{{ID: "e1", Source: "work", Target: "end"}},
	}
	require.NoError(t, store.Definitions().Save(context.Background(), def))

	instance := &models.WorkflowInstance{
		ID:            "i1",
		DefinitionID:  "wf",
		Status:        models.InstanceStatusRunning,
		CurrentNodeID: "work",
		StartedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.Instances().Save(context.Background(), instance))

	seedTask(t, store, &models.Task{
		ID:         "t1",
		InstanceID: "i1",
		NodeID:     "work",
		Type:       models.TaskTypeTask,
		AssignedTo: "u1",
		Assignees:  []string{"u2"},
		Status:     models.TaskStatusPending,
	})

	task, err := service.Complete(context.Background(), "t1", "u2", "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)

	current, err := store.Instances().GetByID(context.Background(), "i1")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, current.Status)
}

func TestCompleteRejectsTerminalTask(t *testing.T) {
	t.Parallel()

	service, store := newTestService(t)
	seedTask(t, store, &models.Task{
		ID:         "t1",
		InstanceID: "i1",
		Type:       models.TaskTypeTask,
		AssignedTo: "u1",
		Status:     models.TaskStatusCompleted,
	})

	_, err := service.Complete(context.Background(), "t1", "u1", "", nil)
	assert.ErrorIs(t, err, engine.ErrInvalidState)
}

func TestReassignPendingOnly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  models.TaskStatus
		wantErr bool
	}{
		{name: "pending task reassigns", status: models.TaskStatusPending, wantErr: false},
		{name: "in-progress task refuses", status: models.TaskStatusInProgress, wantErr: true},
		{name: "completed task refuses", status: models.TaskStatusCompleted, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			service, store := newTestService(t)
			seedTask(t, store, &models.Task{
				ID:         "t1",
				InstanceID: "i1",
				Type:       models.TaskTypeTask,
				AssignedTo: "u1",
				Status:     tt.status,
			})

			task, err := service.Reassign(context.Background(), "t1", "u2", "admin")
			if tt.wantErr {
				assert.ErrorIs(t, err, engine.ErrInvalidState)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, "u2", task.AssignedTo)
		})
	}
}

func TestListByAssigneeMatchesCoAssignees(t *testing.T) {
	t.Parallel()

	service, store := newTestService(t)
	seedTask(t, store, &models.Task{
		ID: "t1", InstanceID: "i1", Type: models.TaskTypeTask,
		AssignedTo: "u1", Status: models.TaskStatusPending,
	})
	seedTask(t, store, &models.Task{
		ID: "t2", InstanceID: "i1", Type: models.TaskTypeForm,
		AssignedTo: "other", Assignees: []string{"u1"}, Status: models.TaskStatusPending,
	})
	seedTask(t, store, &models.Task{
		ID: "t3", InstanceID: "i1", Type: models.TaskTypeTask,
		AssignedTo: "stranger", Status: models.TaskStatusPending,
	})

	tasks, err := service.ListByAssignee(context.Background(), "u1", nil, nil)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	formType := models.TaskTypeForm
	tasks, err = service.ListByAssignee(context.Background(), "u1", nil, &formType)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t2", tasks[0].ID)
}

func TestStatsByAssignee(t *testing.T) {
	t.Parallel()

	service, store := newTestService(t)
	past := time.Now().UTC().Add(-time.Hour)

	seedTask(t, store, &models.Task{
		ID: "t1", InstanceID: "i1", Type: models.TaskTypeTask,
		AssignedTo: "u1", Status: models.TaskStatusPending, DueDate: &past,
	})
	seedTask(t, store, &models.Task{
		ID: "t2", InstanceID: "i1", Type: models.TaskTypeTask,
		AssignedTo: "u1", Status: models.TaskStatusPending,
	})
	seedTask(t, store, &models.Task{
		ID: "t3", InstanceID: "i1", Type: models.TaskTypeTask,
		AssignedTo: "u1", Status: models.TaskStatusCompleted,
	})
	seedTask(t, store, &models.Task{
		ID: "t4", InstanceID: "i1", Type: models.TaskTypeTask,
		AssignedTo: "someone-else", Status: models.TaskStatusPending,
	})

	stats, err := service.StatsByAssignee(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Overdue)
}

func TestSetStatusOverride(t *testing.T) {
	t.Parallel()

	service, store := newTestService(t)
	seedTask(t, store, &models.Task{
		ID: "t1", InstanceID: "i1", Type: models.TaskTypeTask,
		AssignedTo: "u1", Status: models.TaskStatusPending,
	})

	task, err := service.SetStatus(context.Background(), "t1", models.TaskStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, task.Status)
	assert.NotNil(t, task.CompletedAt)
}
