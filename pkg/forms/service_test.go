package forms

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nivio/flowd/pkg/models"
	"github.com/nivio/flowd/pkg/persistence"
	"github.com/nivio/flowd/pkg/persistence/file"
)

type notifierRecorder struct {
	mu         sync.Mutex
	recipients []string
}

func (n *notifierRecorder) Create(_ context.Context, userID, category, _, _ string, _ map[string]any) (*models.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.recipients = append(n.recipients, userID+":"+category)

	return &models.Notification{UserID: userID}, nil
}

func (n *notifierRecorder) NotifySubscribers(context.Context, string, string, string, string, map[string]any) error {
	return nil
}

func newTestService(t *testing.T) (*Service, persistence.Persistence, *notifierRecorder) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	notifier := &notifierRecorder{}
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	return NewService(store, notifier, logger), store, notifier
}

func seedFormTask(t *testing.T, store persistence.Persistence, mutate func(*models.Task)) *models.Task {
	t.Helper()

	task := &models.Task{
		ID:         "t1",
		InstanceID: "i1",
		NodeID:     "review",
		Type:       models.TaskTypeForm,
		Title:      "Review form",
		AssignedTo: "u1",
		Assignees:  []string{"u2"},
		Status:     models.TaskStatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	if mutate != nil {
		mutate(task)
	}

	require.NoError(t, store.Tasks().Save(context.Background(), task))

	return task
}

func TestLockGrantsLease(t *testing.T) {
	t.Parallel()

	service, store, _ := newTestService(t)
	seedFormTask(t, store, nil)

	task, err := service.Lock(context.Background(), "t1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", task.LockedBy)
	require.NotNil(t, task.LockedAt)
}

func TestLockConflictWithinLease(t *testing.T) {
	t.Parallel()

	service, store, _ := newTestService(t)
	seedFormTask(t, store, nil)

	_, err := service.Lock(context.Background(), "t1", "u1")
	require.NoError(t, err)

	_, err = service.Lock(context.Background(), "t1", "u2")
	assert.ErrorIs(t, err, ErrLockConflict)

	// Re-locking your own lease refreshes it.
	_, err = service.Lock(context.Background(), "t1", "u1")
	assert.NoError(t, err)
}

func TestLockReclaimsExpiredLease(t *testing.T) {
	t.Parallel()

	service, store, _ := newTestService(t)
	stale := time.Now().UTC().Add(-LeaseDuration - time.Minute)
	seedFormTask(t, store, func(task *models.Task) {
		task.LockedBy = "u1"
		task.LockedAt = &stale
	})

	task, err := service.Lock(context.Background(), "t1", "u2")
	require.NoError(t, err)
	assert.Equal(t, "u2", task.LockedBy)
}

func TestLockRejectsNonAssignee(t *testing.T) {
	t.Parallel()

	service, store, _ := newTestService(t)
	seedFormTask(t, store, nil)

	_, err := service.Lock(context.Background(), "t1", "stranger")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestUnlock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		caller  string
		force   bool
		wantErr error
	}{
		{name: "owner releases", caller: "u1"},
		{name: "non-owner refused", caller: "u2", wantErr: ErrForbidden},
		{name: "force overrides ownership", caller: "u2", force: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			service, store, _ := newTestService(t)
			now := time.Now().UTC()
			seedFormTask(t, store, func(task *models.Task) {
				task.LockedBy = "u1"
				task.LockedAt = &now
			})

			err := service.Unlock(context.Background(), "t1", tt.caller, tt.force)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)

			task, err := store.Tasks().GetByID(context.Background(), "t1")
			require.NoError(t, err)
			assert.Empty(t, task.LockedBy)
			assert.Nil(t, task.LockedAt)
		})
	}
}

func TestCanEdit(t *testing.T) {
	t.Parallel()

	liveLock := time.Now().UTC().Add(-time.Minute)
	expiredLock := time.Now().UTC().Add(-LeaseDuration - time.Minute)

	tests := []struct {
		name    string
		mutate  func(*models.Task)
		caller  string
		allowed bool
	}{
		{name: "assignee of unlocked task", caller: "u1", allowed: true},
		{name: "co-assignee of unlocked task", caller: "u2", allowed: true},
		{name: "non-assignee", caller: "stranger", allowed: false},
		{
			name:    "terminal task",
			mutate:  func(task *models.Task) { task.Status = models.TaskStatusCompleted },
			caller:  "u1",
			allowed: false,
		},
		{
			name: "live lease held by someone else",
			mutate: func(task *models.Task) {
				task.LockedBy = "u2"
				task.LockedAt = &liveLock
			},
			caller:  "u1",
			allowed: false,
		},
		{
			name: "expired lease held by someone else",
			mutate: func(task *models.Task) {
				task.LockedBy = "u2"
				task.LockedAt = &expiredLock
			},
			caller:  "u1",
			allowed: true,
		},
		{
			name: "own live lease",
			mutate: func(task *models.Task) {
				task.LockedBy = "u1"
				task.LockedAt = &liveLock
			},
			caller:  "u1",
			allowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			service, store, _ := newTestService(t)
			seedFormTask(t, store, tt.mutate)

			decision, err := service.CanEdit(context.Background(), "t1", tt.caller)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, decision.Allowed)

			if !tt.allowed {
				assert.NotEmpty(t, decision.Reason)
			}
		})
	}
}

func TestSaveDraftFiltersUnauthorizedFields(t *testing.T) {
	t.Parallel()

	service, store, _ := newTestService(t)
	seedFormTask(t, store, func(task *models.Task) {
		task.FormSchema = &models.FormSchema{Fields: []models.FormField{
			{Name: "amount"},
			{Name: "managerNote", Editors: []string{"u2"}},
		}}
		task.FormData = map[string]any{"amount": 10, "untouched": "old"}
	})

	task, err := service.SaveDraft(context.Background(), "t1", "u1", map[string]any{
		"amount":      42,
		"managerNote": "sneaky",
		"unknown":     "dropped",
	}, 50)
	require.NoError(t, err)

	assert.Equal(t, 42, task.FormData["amount"])
	assert.NotContains(t, task.FormData, "managerNote", "unauthorized field is dropped, not rejected")
	assert.NotContains(t, task.FormData, "unknown")
	assert.Equal(t, "old", task.FormData["untouched"], "unrelated saved fields survive the merge")
	assert.Equal(t, 50, task.FormProgress)
}

func TestSaveDraftReleasesLeaseAndNotifies(t *testing.T) {
	t.Parallel()

	service, store, notifier := newTestService(t)
	seedFormTask(t, store, nil)

	require.NoError(t, store.Instances().Save(context.Background(), &models.WorkflowInstance{
		ID:        "i1",
		Status:    models.InstanceStatusRunning,
		StartedBy: "creator",
		StartedAt: time.Now().UTC(),
	}))

	_, err := service.Lock(context.Background(), "t1", "u1")
	require.NoError(t, err)

	task, err := service.SaveDraft(context.Background(), "t1", "u1", map[string]any{"amount": 1}, 30)
	require.NoError(t, err)

	assert.Empty(t, task.LockedBy, "lease is released on every successful save")
	assert.Nil(t, task.LockedAt)
	assert.Contains(t, notifier.recipients, "u2:form_draft_saved")
	assert.Contains(t, notifier.recipients, "creator:form_draft_saved")
	assert.NotContains(t, notifier.recipients, "u1:form_draft_saved")
}

func TestSaveDraftFullProgressStartsTask(t *testing.T) {
	t.Parallel()

	service, store, _ := newTestService(t)
	seedFormTask(t, store, nil)

	task, err := service.SaveDraft(context.Background(), "t1", "u1", map[string]any{"amount": 1}, 100)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, task.Status)
}

func TestSaveDraftDeniedWhileLocked(t *testing.T) {
	t.Parallel()

	service, store, _ := newTestService(t)
	now := time.Now().UTC()
	seedFormTask(t, store, func(task *models.Task) {
		task.LockedBy = "u2"
		task.LockedAt = &now
	})

	_, err := service.SaveDraft(context.Background(), "t1", "u1", map[string]any{"amount": 1}, 10)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSubmitReplacesDataAndCompletes(t *testing.T) {
	t.Parallel()

	service, store, notifier := newTestService(t)
	now := time.Now().UTC()
	seedFormTask(t, store, func(task *models.Task) {
		task.FormData = map[string]any{"stale": true}
		task.LockedBy = "u1"
		task.LockedAt = &now
	})

	task, err := service.Submit(context.Background(), "t1", "u1", map[string]any{"amount": 7})
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	assert.Equal(t, 100, task.FormProgress)
	assert.Equal(t, "u1", task.SubmittedBy)
	assert.Empty(t, task.LockedBy)
	assert.NotContains(t, task.FormData, "stale", "submission replaces the draft wholesale")
	assert.Equal(t, 7, task.FormData["amount"])
	assert.Contains(t, notifier.recipients, "u2:form_submitted")
}

func TestSubmitValidatesJSONSchema(t *testing.T) {
	t.Parallel()

	service, store, _ := newTestService(t)
	seedFormTask(t, store, func(task *models.Task) {
		task.FormSchema = &models.FormSchema{JSONSchema: map[string]any{
			"type":     "object",
			"required": []any{"amount"},
			"properties": map[string]any{
				"amount": map[string]any{"type": "number"},
			},
		}}
	})

	_, err := service.Submit(context.Background(), "t1", "u1", map[string]any{"other": 1})
	assert.ErrorIs(t, err, ErrValidation)

	task, err := service.Submit(context.Background(), "t1", "u1", map[string]any{"amount": 12.5})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
}

func TestCleanExpiredLocks(t *testing.T) {
	t.Parallel()

	service, store, _ := newTestService(t)
	fresh := time.Now().UTC().Add(-time.Minute)
	stale := time.Now().UTC().Add(-LeaseDuration - time.Minute)

	seedFormTask(t, store, func(task *models.Task) {
		task.ID = "fresh"
		task.LockedBy = "u1"
		task.LockedAt = &fresh
	})
	seedFormTask(t, store, func(task *models.Task) {
		task.ID = "stale"
		task.LockedBy = "u2"
		task.LockedAt = &stale
	})

	released, err := service.CleanExpiredLocks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	kept, err := store.Tasks().GetByID(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, "u1", kept.LockedBy)

	cleaned, err := store.Tasks().GetByID(context.Background(), "stale")
	require.NoError(t, err)
	assert.Empty(t, cleaned.LockedBy)

	// Idempotent.
	released, err = service.CleanExpiredLocks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, released)
}
