package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nivio/flowd/pkg/engine"
	"github.com/nivio/flowd/pkg/eventbus"
	"github.com/nivio/flowd/pkg/forms"
	"github.com/nivio/flowd/pkg/models"
	"github.com/nivio/flowd/pkg/notify"
	"github.com/nivio/flowd/pkg/persistence"
	"github.com/nivio/flowd/pkg/persistence/file"
	"github.com/nivio/flowd/pkg/tasks"
	"github.com/nivio/flowd/pkg/web"
)

type publisherStub struct{}

func (publisherStub) Publish(context.Context, string, eventbus.Event) error { return nil }

func setupTestApp(t *testing.T) (*fiber.App, persistence.Persistence) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	publisher := publisherStub{}
	notifyService := notify.NewService(store, publisher, notify.NewHub(logger), logger)
	eng := engine.New(store, publisher, notifyService, logger)
	taskService := tasks.NewService(store, eng, publisher, notifyService, logger)
	formService := forms.NewService(store, notifyService, logger)
	validate := validator.New(validator.WithRequiredStructEnabled())

	handlers := web.NewAPIHandlers(store, eng, taskService, formService, notifyService, validate, logger)

	return web.NewApp(handlers, nil), store
}

func postJSON(t *testing.T, app *fiber.App, path string, payload any) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func patchJSON(t *testing.T, app *fiber.App, path string, payload any) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPatch, path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded T
	require.NoError(t, json.Unmarshal(raw, &decoded))

	return decoded
}

func seedDefinition(t *testing.T, store persistence.Persistence, active bool) *models.WorkflowDefinition {
	t.Helper()

	def := &models.WorkflowDefinition{
		ID:     "wf-1",
		Name:   "Expense approval",
		Active: active,
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeTypeStart},
			{ID: "review", Type: models.NodeTypeForm, Data: models.NodeData{
				Label:  "Review expense",
				Config: map[string]any{"assignedTo": "u1"},
			}},
			{ID: "end", Type: models.NodeTypeEnd},
		},
		Edges: []models.Edge{
			{ID: "e1", Source: "start", Target: "review"},
			{ID: "e2", Source: "review", Target: "end"},
		},
		CreatedAt: time.Now().UTC(),
	}

	require.NoError(t, store.Definitions().Save(context.Background(), def))

	return def
}

func TestCreateDefinition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		body           any
		expectedStatus int
	}{
		{
			name: "valid definition",
			body: web.CreateDefinitionRequest{
				Name:      "Onboarding",
				CreatedBy: "admin",
				Nodes: []models.Node{
					{ID: "start", Type: models.NodeTypeStart},
					{ID: "end", Type: models.NodeTypeEnd},
				},
				Edges: []models.Edge{{ID: "e1", Source: "start", Target: "end"}},
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "missing required fields",
			body:           map[string]any{"name": "x"},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)

			resp := postJSON(t, app, "/workflows", tt.body)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusCreated {
				def := decodeBody[models.WorkflowDefinition](t, resp)
				assert.NotEmpty(t, def.ID)
				assert.False(t, def.Active, "definitions start inactive")
				assert.Equal(t, 1, def.Version)
			}
		})
	}
}

func TestActivateThenStartInstance(t *testing.T) {
	t.Parallel()

	app, store := setupTestApp(t)
	seedDefinition(t, store, false)

	// Starting an inactive definition is refused.
	resp := postJSON(t, app, "/workflows/wf-1/start", web.StartInstanceRequest{StartedBy: "u1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	req := httptest.NewRequest(http.MethodPost, "/workflows/wf-1/activate", nil)
	activateResp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, activateResp.StatusCode)

	resp = postJSON(t, app, "/workflows/wf-1/start", web.StartInstanceRequest{
		StartedBy: "u1",
		Data:      map[string]any{"amount": 40},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	instance := decodeBody[models.WorkflowInstance](t, resp)
	assert.Equal(t, models.InstanceStatusRunning, instance.Status)
	assert.Equal(t, "review", instance.CurrentNodeID)
}

func TestStartUnknownDefinitionReturns404(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := postJSON(t, app, "/workflows/nope/start", web.StartInstanceRequest{StartedBy: "u1"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTaskCompletionFlow(t *testing.T) {
	t.Parallel()

	app, store := setupTestApp(t)
	seedDefinition(t, store, true)

	resp := postJSON(t, app, "/workflows/wf-1/start", web.StartInstanceRequest{StartedBy: "creator"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	instance := decodeBody[models.WorkflowInstance](t, resp)

	req := httptest.NewRequest(http.MethodGet, "/tasks/?assigned_to=u1", nil)
	listResp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	list := decodeBody[[]models.Task](t, listResp)
	require.Len(t, list, 1)

	// A stranger cannot complete the task.
	resp = postJSON(t, app, "/tasks/"+list[0].ID+"/complete", web.CompleteTaskRequest{UserID: "intruder"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = postJSON(t, app, "/tasks/"+list[0].ID+"/complete", web.CompleteTaskRequest{UserID: "u1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	current, err := store.Instances().GetByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, current.Status)
}

func TestFormLockEndpoints(t *testing.T) {
	t.Parallel()

	app, store := setupTestApp(t)
	seedDefinition(t, store, true)

	resp := postJSON(t, app, "/workflows/wf-1/start", web.StartInstanceRequest{StartedBy: "creator"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	tasksResp, err := app.Test(httptest.NewRequest(http.MethodGet, "/tasks/?assigned_to=u1", nil))
	require.NoError(t, err)
	list := decodeBody[[]models.Task](t, tasksResp)
	require.Len(t, list, 1)
	taskID := list[0].ID

	resp = postJSON(t, app, "/tasks/"+taskID+"/form/lock", web.LockRequest{UserID: "u1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// A second user hits the lease.
	resp = postJSON(t, app, "/tasks/"+taskID+"/form/lock", web.LockRequest{UserID: "u2"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "u2 is not an assignee")

	canEditResp, err := app.Test(httptest.NewRequest(http.MethodGet,
		"/tasks/"+taskID+"/form/can-edit?user_id=u1", nil))
	require.NoError(t, err)

	decision := decodeBody[forms.EditDecision](t, canEditResp)
	assert.True(t, decision.Allowed)

	// Draft save releases the lease and records progress.
	body, err := json.Marshal(web.SaveDraftRequest{
		UserID:   "u1",
		FormData: map[string]any{"amount": 12},
		Progress: 40,
	})
	require.NoError(t, err)

	draftReq := httptest.NewRequest(http.MethodPut, "/tasks/"+taskID+"/form/draft", bytes.NewBuffer(body))
	draftReq.Header.Set("Content-Type", "application/json")
	draftResp, err := app.Test(draftReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, draftResp.StatusCode)

	saved := decodeBody[models.Task](t, draftResp)
	assert.Empty(t, saved.LockedBy)
	assert.Equal(t, 40, saved.FormProgress)
}

func TestSubmitFormDrivesCompletion(t *testing.T) {
	t.Parallel()

	app, store := setupTestApp(t)
	seedDefinition(t, store, true)

	resp := postJSON(t, app, "/workflows/wf-1/start", web.StartInstanceRequest{StartedBy: "creator"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	instance := decodeBody[models.WorkflowInstance](t, resp)

	tasksResp, err := app.Test(httptest.NewRequest(http.MethodGet, "/tasks/?assigned_to=u1", nil))
	require.NoError(t, err)
	list := decodeBody[[]models.Task](t, tasksResp)
	require.Len(t, list, 1)

	resp = postJSON(t, app, "/tasks/"+list[0].ID+"/form/submit", web.SubmitFormRequest{
		UserID:   "u1",
		FormData: map[string]any{"amount": 99},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	task := decodeBody[models.Task](t, resp)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	assert.Equal(t, 100, task.FormProgress)

	reread, err := store.Tasks().GetByID(context.Background(), list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, reread.Status)
	assert.Equal(t, 100, reread.FormProgress)
	assert.NotNil(t, reread.CompletedAt)
	assert.Empty(t, reread.LockedBy)
	assert.Nil(t, reread.LockedAt)

	current, err := store.Instances().GetByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, current.Status,
		"submission plus completion path advances the graph")
}

func TestNotificationAndSubscriptionEndpoints(t *testing.T) {
	t.Parallel()

	app, store := setupTestApp(t)
	seedDefinition(t, store, true)

	resp := postJSON(t, app, "/workflows/wf-1/start", web.StartInstanceRequest{StartedBy: "creator"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	instance := decodeBody[models.WorkflowInstance](t, resp)

	resp = postJSON(t, app, "/instances/"+instance.ID+"/subscribe", web.SubscribeRequest{UserID: "watcher"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	subs, err := store.Subscriptions().ListByInstance(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	// The assignee notification from task creation is listable.
	listResp, err := app.Test(httptest.NewRequest(http.MethodGet, "/notifications/?user_id=u1", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	notifications := decodeBody[[]models.Notification](t, listResp)
	require.NotEmpty(t, notifications)

	resp = postJSON(t, app, "/notifications/"+notifications[0].ID+"/read", web.SubscribeRequest{UserID: "u1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	read := decodeBody[models.Notification](t, resp)
	assert.True(t, read.Read)

	unreadResp, err := app.Test(httptest.NewRequest(http.MethodGet,
		"/notifications/?user_id=u1&unread=true", nil))
	require.NoError(t, err)

	unread := decodeBody[[]models.Notification](t, unreadResp)
	assert.Empty(t, unread)
}

func TestCancelInstanceEndpoint(t *testing.T) {
	t.Parallel()

	app, store := setupTestApp(t)
	seedDefinition(t, store, true)

	resp := postJSON(t, app, "/workflows/wf-1/start", web.StartInstanceRequest{StartedBy: "creator"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	instance := decodeBody[models.WorkflowInstance](t, resp)

	resp = postJSON(t, app, "/instances/"+instance.ID+"/cancel", web.CancelInstanceRequest{UserID: "admin"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancelled := decodeBody[models.WorkflowInstance](t, resp)
	assert.Equal(t, models.InstanceStatusCancelled, cancelled.Status)
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUpdateDefinitionGraphLockedWhileActive(t *testing.T) {
	t.Parallel()

	app, store := setupTestApp(t)
	seedDefinition(t, store, true)

	resp := postJSON(t, app, "/workflows/wf-1/start", web.StartInstanceRequest{StartedBy: "creator"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	instance := decodeBody[models.WorkflowInstance](t, resp)
	require.Equal(t, "review", instance.CurrentNodeID)

	// Dropping the node the instance is suspended at must be rejected;
	// otherwise the next resume would treat the graph as exhausted.
	resp = patchJSON(t, app, "/workflows/wf-1", web.UpdateDefinitionRequest{
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeTypeStart},
			{ID: "end", Type: models.NodeTypeEnd},
		},
		Edges: []models.Edge{{ID: "e1", Source: "start", Target: "end"}},
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	definition, err := store.Definitions().GetByID(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Len(t, definition.Nodes, 3, "graph is untouched")

	current, err := store.Instances().GetByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRunning, current.Status)
	assert.Equal(t, "review", current.CurrentNodeID)

	// Metadata edits stay allowed on an active definition.
	name := "Expense approval v2"
	resp = patchJSON(t, app, "/workflows/wf-1", web.UpdateDefinitionRequest{Name: &name})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	renamed := decodeBody[models.WorkflowDefinition](t, resp)
	assert.Equal(t, name, renamed.Name)
	assert.Len(t, renamed.Nodes, 3)

	// Deactivating unlocks the graph.
	resp = postJSON(t, app, "/workflows/wf-1/deactivate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = patchJSON(t, app, "/workflows/wf-1", web.UpdateDefinitionRequest{
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeTypeStart},
			{ID: "end", Type: models.NodeTypeEnd},
		},
		Edges: []models.Edge{{ID: "e1", Source: "start", Target: "end"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	updated := decodeBody[models.WorkflowDefinition](t, resp)
	assert.Len(t, updated.Nodes, 2)
}

func TestDeleteNotificationRequiresRecipient(t *testing.T) {
	t.Parallel()

	app, store := setupTestApp(t)
	seedDefinition(t, store, true)

	resp := postJSON(t, app, "/workflows/wf-1/start", web.StartInstanceRequest{StartedBy: "creator"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Task creation leaves an assignee notification for u1.
	listResp, err := app.Test(httptest.NewRequest(http.MethodGet, "/notifications/?user_id=u1", nil))
	require.NoError(t, err)
	notifications := decodeBody[[]models.Notification](t, listResp)
	require.NotEmpty(t, notifications)

	target := notifications[0].ID

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/notifications/"+target, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "user_id is required")

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/notifications/"+target+"?user_id=intruder", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err = store.Notifications().GetByID(context.Background(), target)
	require.NoError(t, err, "notification survives a foreign delete")

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/notifications/"+target+"?user_id=u1", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
