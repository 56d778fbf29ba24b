package web

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/nivio/flowd/pkg/engine"
	"github.com/nivio/flowd/pkg/forms"
	"github.com/nivio/flowd/pkg/models"
	"github.com/nivio/flowd/pkg/notify"
	"github.com/nivio/flowd/pkg/persistence"
	"github.com/nivio/flowd/pkg/tasks"
)

type APIHandlers struct {
	persistence persistence.Persistence
	engine      *engine.Engine
	tasks       *tasks.Service
	forms       *forms.Service
	notify      *notify.Service
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewAPIHandlers(
	store persistence.Persistence,
	eng *engine.Engine,
	taskService *tasks.Service,
	formService *forms.Service,
	notifyService *notify.Service,
	validate *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		persistence: store,
		engine:      eng,
		tasks:       taskService,
		forms:       formService,
		notify:      notifyService,
		validator:   validate,
		logger:      logger.With("module", "web"),
	}
}

// Workflow definitions

func (h *APIHandlers) GetDefinitions(c fiber.Ctx) error {
	definitions, err := h.persistence.Definitions().List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definitions)
}

func (h *APIHandlers) CreateDefinition(c fiber.Ctx) error {
	var req CreateDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	now := time.Now().UTC()
	definition := &models.WorkflowDefinition{
		ID:            uuid.New().String(),
		Name:          req.Name,
		Description:   req.Description,
		Version:       1,
		Nodes:         req.Nodes,
		Edges:         req.Edges,
		CreatedBy:     req.CreatedBy,
		AllowedUsers:  req.AllowedUsers,
		AllowedGroups: req.AllowedGroups,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := h.persistence.Definitions().Save(c.Context(), definition); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(definition)
}

func (h *APIHandlers) GetDefinition(c fiber.Ctx) error {
	definition, err := h.persistence.Definitions().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) UpdateDefinition(c fiber.Ctx) error {
	var req UpdateDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	definition, err := h.persistence.Definitions().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if req.Name != nil {
		definition.Name = *req.Name
	}

	if req.Description != nil {
		definition.Description = *req.Description
	}

	if req.Nodes != nil || req.Edges != nil {
		// The graph of a published definition is immutable; running
		// instances hold node pointers into it. Deactivate first.
		if definition.Active {
			return handleServiceError(c, fmt.Errorf(
				"%w: definition %s is active, deactivate before editing the graph",
				engine.ErrInvalidState, definition.ID))
		}

		if req.Nodes != nil {
			definition.Nodes = req.Nodes
		}

		if req.Edges != nil {
			definition.Edges = req.Edges
		}

		definition.Version++
	}

	definition.UpdatedAt = time.Now().UTC()

	if err := h.persistence.Definitions().Save(c.Context(), definition); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) DeleteDefinition(c fiber.Ctx) error {
	if err := h.persistence.Definitions().Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ActivateDefinition(c fiber.Ctx) error {
	return h.setDefinitionActive(c, true)
}

func (h *APIHandlers) DeactivateDefinition(c fiber.Ctx) error {
	return h.setDefinitionActive(c, false)
}

func (h *APIHandlers) setDefinitionActive(c fiber.Ctx, active bool) error {
	definition, err := h.persistence.Definitions().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	definition.Active = active
	definition.UpdatedAt = time.Now().UTC()

	if err := h.persistence.Definitions().Save(c.Context(), definition); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

// Workflow instances

func (h *APIHandlers) StartInstance(c fiber.Ctx) error {
	var req StartInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.engine.Start(c.Context(), c.Params("id"), req.Data, req.StartedBy)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(instance)
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	instance, err := h.persistence.Instances().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) ListInstances(c fiber.Ctx) error {
	filter := persistence.InstanceFilter{
		DefinitionID: c.Query("definition_id"),
		StartedBy:    c.Query("started_by"),
		Limit:        queryInt(c, "limit"),
		Offset:       queryInt(c, "offset"),
	}

	if raw := c.Query("status"); raw != "" {
		status := models.InstanceStatus(raw)
		filter.Status = &status
	}

	instances, err := h.persistence.Instances().List(c.Context(), filter)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instances)
}

func (h *APIHandlers) CancelInstance(c fiber.Ctx) error {
	var req CancelInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.engine.Cancel(c.Context(), c.Params("id"), req.UserID); err != nil {
		return handleServiceError(c, err)
	}

	instance, err := h.persistence.Instances().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) GetInstanceHistory(c fiber.Ctx) error {
	entries, err := h.persistence.History().ListByInstance(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(entries)
}

// Tasks

func (h *APIHandlers) ListTasks(c fiber.Ctx) error {
	filter := persistence.TaskFilter{
		InstanceID: c.Query("instance_id"),
		AssignedTo: c.Query("assigned_to"),
		Limit:      queryInt(c, "limit"),
		Offset:     queryInt(c, "offset"),
	}

	if raw := c.Query("status"); raw != "" {
		status := models.TaskStatus(raw)
		filter.Status = &status
	}

	if raw := c.Query("type"); raw != "" {
		taskType := models.TaskType(raw)
		filter.Type = &taskType
	}

	list, err := h.tasks.List(c.Context(), filter)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(list)
}

func (h *APIHandlers) GetTask(c fiber.Ctx) error {
	task, err := h.tasks.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(task)
}

func (h *APIHandlers) CompleteTask(c fiber.Ctx) error {
	var req CompleteTaskRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	task, err := h.tasks.Complete(c.Context(), c.Params("id"), req.UserID, req.Decision, req.TaskData)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(task)
}

func (h *APIHandlers) ReassignTask(c fiber.Ctx) error {
	var req ReassignTaskRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	task, err := h.tasks.Reassign(c.Context(), c.Params("id"), req.ToUserID, req.ReassignedBy)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(task)
}

func (h *APIHandlers) TaskStats(c fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return badRequest(c, "user_id query parameter is required")
	}

	stats, err := h.tasks.StatsByAssignee(c.Context(), userID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stats)
}

// Forms

func (h *APIHandlers) LockForm(c fiber.Ctx) error {
	var req LockRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	task, err := h.forms.Lock(c.Context(), c.Params("id"), req.UserID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(task)
}

func (h *APIHandlers) UnlockForm(c fiber.Ctx) error {
	var req LockRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.forms.Unlock(c.Context(), c.Params("id"), req.UserID, req.Force); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CanEditForm(c fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return badRequest(c, "user_id query parameter is required")
	}

	decision, err := h.forms.CanEdit(c.Context(), c.Params("id"), userID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(decision)
}

func (h *APIHandlers) EditableFields(c fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return badRequest(c, "user_id query parameter is required")
	}

	fields, err := h.forms.EditableFields(c.Context(), c.Params("id"), userID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"fields": fields})
}

func (h *APIHandlers) SaveDraft(c fiber.Ctx) error {
	var req SaveDraftRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	task, err := h.forms.SaveDraft(c.Context(), c.Params("id"), req.UserID, req.FormData, req.Progress)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(task)
}

// SubmitForm finalizes the form and then drives the completion path so
// the engine folds the result and resumes the graph.
func (h *APIHandlers) SubmitForm(c fiber.Ctx) error {
	var req SubmitFormRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if _, err := h.forms.Submit(c.Context(), c.Params("id"), req.UserID, req.FormData); err != nil {
		return handleServiceError(c, err)
	}

	task, err := h.engine.CompleteTask(c.Context(), c.Params("id"), req.UserID, "", nil)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(task)
}

// Notifications

func (h *APIHandlers) ListNotifications(c fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return badRequest(c, "user_id query parameter is required")
	}

	list, err := h.notify.List(c.Context(), persistence.NotificationFilter{
		UserID:     userID,
		UnreadOnly: c.Query("unread") == "true",
		Limit:      queryInt(c, "limit"),
		Offset:     queryInt(c, "offset"),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(list)
}

func (h *APIHandlers) MarkNotificationRead(c fiber.Ctx) error {
	var req SubscribeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	notification, err := h.notify.MarkRead(c.Context(), c.Params("id"), req.UserID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(notification)
}

func (h *APIHandlers) DeleteNotification(c fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return badRequest(c, "user_id query parameter is required")
	}

	if err := h.notify.Delete(c.Context(), c.Params("id"), userID); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Subscriptions

func (h *APIHandlers) Subscribe(c fiber.Ctx) error {
	var req SubscribeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	subscription, err := h.notify.Subscribe(c.Context(), req.UserID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(subscription)
}

func (h *APIHandlers) Unsubscribe(c fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return badRequest(c, "user_id query parameter is required")
	}

	if err := h.notify.Unsubscribe(c.Context(), userID, c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Health

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{"status": "healthy"})
}

func queryInt(c fiber.Ctx, name string) int {
	raw := c.Query(name)
	if raw == "" {
		return 0
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0
	}

	return value
}
