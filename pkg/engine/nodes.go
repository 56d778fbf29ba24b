package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nivio/flowd/pkg/events"
	"github.com/nivio/flowd/pkg/models"
	"github.com/nivio/flowd/pkg/otelhelper"
)

// Task data keys carrying approval aggregation state between the node
// handler and the completion path.
const (
	taskDataApprovers     = "approvers"
	taskDataApprovalType  = "approvalType"
	taskDataApproverIndex = "approverIndex"
)

// nodeOutcome is the result of executing one node. advance=false suspends
// the walk at the current node; advance=true with an empty nextNodeID
// means the graph is exhausted.
type nodeOutcome struct {
	advance    bool
	nextNodeID string
}

func suspend() nodeOutcome {
	return nodeOutcome{advance: false}
}

func advanceTo(nodeID string) nodeOutcome {
	return nodeOutcome{advance: true, nextNodeID: nodeID}
}

// executeNode dispatches on node type. An error return is fatal for the
// instance.
func (e *Engine) executeNode(
	ctx context.Context,
	definition *models.WorkflowDefinition,
	instance *models.WorkflowInstance,
	node *models.Node,
) (nodeOutcome, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.execute_node",
		attribute.String(otelhelper.InstanceIDKey, instance.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
	)
	defer span.End()

	outcome, err := e.dispatchNode(ctx, definition, instance, node)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return outcome, err
}

func (e *Engine) dispatchNode(
	ctx context.Context,
	definition *models.WorkflowDefinition,
	instance *models.WorkflowInstance,
	node *models.Node,
) (nodeOutcome, error) {
	e.logger.InfoContext(ctx, "Executing node",
		"instance_id", instance.ID, "node_id", node.ID, "node_type", node.Type)

	e.appendHistory(ctx, instance.ID, node.ID, historyNodeStarted, "", map[string]any{
		"node_type": string(node.Type),
	})

	e.publish(ctx, instance.ID, events.WorkflowNodeStarted{
		BaseEvent: events.NewBaseEvent(events.WorkflowNodeStartedEvent, instance.ID),
		NodeID:    node.ID,
		NodeType:  node.Type,
		Label:     node.Data.Label,
	})

	e.notifySubscribers(ctx, instance.ID, "workflow", "Node started", taskTitle(node))

	switch node.Type {
	case models.NodeTypeStart:
		return e.advance(definition, node), nil
	case models.NodeTypeVariable:
		return e.executeVariable(ctx, definition, instance, node)
	case models.NodeTypeForm, models.NodeTypeTask:
		return e.executeHuman(ctx, instance, node)
	case models.NodeTypeApproval:
		return e.executeApproval(ctx, instance, node)
	case models.NodeTypeCondition:
		return e.executeCondition(ctx, definition, instance, node)
	case models.NodeTypeTimer:
		return e.executeTimer(ctx, instance, node)
	case models.NodeTypeNotification, models.NodeTypeEmail, models.NodeTypeSMS:
		return e.executeMessage(ctx, definition, instance, node)
	case models.NodeTypeEnd:
		return suspend(), e.completeInstance(ctx, instance)
	default:
		e.logger.WarnContext(ctx, "Unrecognized node type, advancing",
			"instance_id", instance.ID, "node_id", node.ID, "node_type", node.Type)

		return e.advance(definition, node), nil
	}
}

// advance follows the first outgoing edge in declaration order. No edge
// means graph exhaustion.
func (e *Engine) advance(definition *models.WorkflowDefinition, node *models.Node) nodeOutcome {
	edge := definition.OutgoingEdge(node.ID, "")
	if edge == nil {
		return advanceTo("")
	}

	return advanceTo(edge.Target)
}

func (e *Engine) executeVariable(
	ctx context.Context,
	definition *models.WorkflowDefinition,
	instance *models.WorkflowInstance,
	node *models.Node,
) (nodeOutcome, error) {
	payload := node.Data.Config
	if variables, ok := payload["variables"].(map[string]any); ok {
		payload = variables
	}

	if instance.Data == nil {
		instance.Data = make(map[string]any)
	}

	for key, value := range payload {
		instance.Data[key] = value
	}

	if err := e.persistence.Instances().Save(ctx, instance); err != nil {
		return suspend(), err
	}

	return e.advance(definition, node), nil
}

// executeHuman creates one task per resolved assignee and suspends until
// every created task reaches a terminal status.
func (e *Engine) executeHuman(
	ctx context.Context,
	instance *models.WorkflowInstance,
	node *models.Node,
) (nodeOutcome, error) {
	var config models.HumanNodeConfig
	if err := models.DecodeConfig(node.Data.Config, &config); err != nil {
		return suspend(), fmt.Errorf("decode %s node config: %w", node.Type, err)
	}

	assignees := models.NormalizeAssignees(config.AssignedTo)
	if len(assignees) == 0 {
		return suspend(), fmt.Errorf("%w: node %s", ErrMissingAssignees, node.ID)
	}

	taskType := models.TaskTypeTask
	if node.Type == models.NodeTypeForm {
		taskType = models.TaskTypeForm
	}

	var schema *models.FormSchema
	if len(config.FormFields) > 0 || len(config.JSONSchema) > 0 {
		schema = &models.FormSchema{Fields: config.FormFields, JSONSchema: config.JSONSchema}
	}

	for _, assignee := range assignees {
		task := &models.Task{
			ID:          uuid.New().String(),
			InstanceID:  instance.ID,
			NodeID:      node.ID,
			Type:        taskType,
			Title:       taskTitle(node),
			Description: config.Instructions,
			AssignedTo:  assignee,
			Status:      models.TaskStatusPending,
			Priority:    config.Priority,
			DueDate:     parseDueDate(config.DueDate),
			FormSchema:  schema,
			CreatedAt:   time.Now().UTC(),
			UpdatedAt:   time.Now().UTC(),
		}

		if err := e.createTask(ctx, instance, task); err != nil {
			return suspend(), err
		}
	}

	return suspend(), nil
}

// executeApproval resolves the approver list and the aggregation mode.
// Sequential mode creates one task for the first approver and carries the
// full list plus the current index in task data; parallel mode creates one
// task per approver up front.
func (e *Engine) executeApproval(
	ctx context.Context,
	instance *models.WorkflowInstance,
	node *models.Node,
) (nodeOutcome, error) {
	var config models.ApprovalNodeConfig
	if err := models.DecodeConfig(node.Data.Config, &config); err != nil {
		return suspend(), fmt.Errorf("decode approval node config: %w", err)
	}

	approvers := models.NormalizeAssignees(config.Approvers)
	if len(approvers) == 0 {
		return suspend(), fmt.Errorf("%w: node %s", ErrMissingAssignees, node.ID)
	}

	mode := config.ApprovalType
	if mode != models.ApprovalTypeParallel {
		mode = models.ApprovalTypeSequential
	}

	if mode == models.ApprovalTypeSequential {
		task := e.approvalTask(instance, node, approvers[0], config.Priority, map[string]any{
			taskDataApprovers:     approvers,
			taskDataApprovalType:  mode,
			taskDataApproverIndex: 0,
		})

		return suspend(), e.createTask(ctx, instance, task)
	}

	for _, approver := range approvers {
		task := e.approvalTask(instance, node, approver, config.Priority, map[string]any{
			taskDataApprovalType: mode,
		})

		if err := e.createTask(ctx, instance, task); err != nil {
			return suspend(), err
		}
	}

	return suspend(), nil
}

func (e *Engine) approvalTask(
	instance *models.WorkflowInstance,
	node *models.Node,
	approver, priority string,
	taskData map[string]any,
) *models.Task {
	return &models.Task{
		ID:         uuid.New().String(),
		InstanceID: instance.ID,
		NodeID:     node.ID,
		Type:       models.TaskTypeApproval,
		Title:      taskTitle(node),
		AssignedTo: approver,
		Status:     models.TaskStatusPending,
		Priority:   priority,
		TaskData:   taskData,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
}

// executeCondition evaluates the predicate and routes along the edge whose
// label matches the result, falling back to an edge labeled "default".
// Absence of any match is fatal.
func (e *Engine) executeCondition(
	ctx context.Context,
	definition *models.WorkflowDefinition,
	instance *models.WorkflowInstance,
	node *models.Node,
) (nodeOutcome, error) {
	var config models.ConditionNodeConfig
	if err := models.DecodeConfig(node.Data.Config, &config); err != nil {
		return suspend(), fmt.Errorf("decode condition node config: %w", err)
	}

	result := config.Condition.Evaluate(instance.Data)

	e.logger.InfoContext(ctx, "Condition evaluated",
		"instance_id", instance.ID, "node_id", node.ID,
		"field", config.Condition.Field, "result", result)

	edge := definition.OutgoingEdge(node.ID, result)
	if edge == nil {
		edge = definition.OutgoingEdge(node.ID, models.EdgeLabelDefault)
	}

	if edge == nil {
		return suspend(), fmt.Errorf("%w: node %s, result %q", ErrRouting, node.ID, result)
	}

	return advanceTo(edge.Target), nil
}

// executeTimer persists a due-time record and suspends. The periodic
// timer sweep resumes the instance once the due time has passed, so the
// schedule survives a process restart.
func (e *Engine) executeTimer(
	ctx context.Context,
	instance *models.WorkflowInstance,
	node *models.Node,
) (nodeOutcome, error) {
	var config models.TimerNodeConfig
	if err := models.DecodeConfig(node.Data.Config, &config); err != nil {
		return suspend(), fmt.Errorf("decode timer node config: %w", err)
	}

	dueAt := time.Now().UTC().Add(time.Duration(config.Delay) * time.Millisecond)

	timer := &models.TimerRecord{
		ID:         uuid.New().String(),
		InstanceID: instance.ID,
		NodeID:     node.ID,
		DueAt:      dueAt,
		CreatedAt:  time.Now().UTC(),
	}

	if err := e.persistence.Timers().Save(ctx, timer); err != nil {
		return suspend(), err
	}

	e.appendHistory(ctx, instance.ID, node.ID, historyTimerScheduled, "", map[string]any{
		"timer_id": timer.ID,
		"due_at":   dueAt,
		"delay_ms": config.Delay,
	})

	e.logger.InfoContext(ctx, "Timer scheduled",
		"instance_id", instance.ID, "node_id", node.ID, "due_at", dueAt)

	return suspend(), nil
}

// FireTimer advances an instance past a due timer node. Idempotent: a
// timer whose instance already moved on, or is no longer running, is
// dropped without effect.
func (e *Engine) FireTimer(ctx context.Context, timer *models.TimerRecord) error {
	release := e.locks.acquire(timer.InstanceID)
	defer release()

	instance, err := e.persistence.Instances().GetByID(ctx, timer.InstanceID)
	if err != nil {
		return err
	}

	if instance.Status != models.InstanceStatusRunning || instance.CurrentNodeID != timer.NodeID {
		e.logger.InfoContext(ctx, "Dropping stale timer",
			"timer_id", timer.ID, "instance_id", timer.InstanceID,
			"status", instance.Status, "current_node", instance.CurrentNodeID)

		return nil
	}

	definition, err := e.persistence.Definitions().GetByID(ctx, instance.DefinitionID)
	if err != nil {
		return err
	}

	node := definition.NodeByID(timer.NodeID)
	if node == nil {
		return e.completeInstance(ctx, instance)
	}

	e.appendHistory(ctx, instance.ID, node.ID, historyTimerFired, "", map[string]any{
		"timer_id": timer.ID,
	})

	e.publish(ctx, instance.ID, events.WorkflowNodeCompleted{
		BaseEvent: events.NewBaseEvent(events.WorkflowNodeCompletedEvent, instance.ID),
		NodeID:    node.ID,
		NodeType:  node.Type,
	})

	e.appendHistory(ctx, instance.ID, node.ID, historyNodeCompleted, "", nil)

	outcome := e.advance(definition, node)
	if outcome.nextNodeID == "" {
		return e.completeInstance(ctx, instance)
	}

	instance.CurrentNodeID = outcome.nextNodeID
	if err := e.persistence.Instances().Save(ctx, instance); err != nil {
		return err
	}

	return e.resumeLocked(ctx, instance.ID)
}

// executeMessage creates a notification per configured recipient and
// advances. Email and sms nodes share the in-app delivery path; the
// category records the intended channel.
func (e *Engine) executeMessage(
	ctx context.Context,
	definition *models.WorkflowDefinition,
	instance *models.WorkflowInstance,
	node *models.Node,
) (nodeOutcome, error) {
	var config models.MessageNodeConfig
	if err := models.DecodeConfig(node.Data.Config, &config); err != nil {
		return suspend(), fmt.Errorf("decode %s node config: %w", node.Type, err)
	}

	recipients := models.NormalizeAssignees(config.Recipients)

	title := config.Title
	if title == "" {
		title = taskTitle(node)
	}

	for _, recipient := range recipients {
		_, err := e.notifier.Create(ctx, recipient, string(node.Type), title, config.Message, map[string]any{
			"instance_id": instance.ID,
			"node_id":     node.ID,
		})
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to create notification",
				"instance_id", instance.ID, "node_id", node.ID,
				"recipient", recipient, "error", err)
		}
	}

	return e.advance(definition, node), nil
}

// createTask persists the task, records it and notifies the assignee.
func (e *Engine) createTask(ctx context.Context, instance *models.WorkflowInstance, task *models.Task) error {
	if err := e.persistence.Tasks().Save(ctx, task); err != nil {
		return err
	}

	e.appendHistory(ctx, instance.ID, task.NodeID, historyTaskCreated, task.AssignedTo, map[string]any{
		"task_id":   task.ID,
		"task_type": string(task.Type),
	})

	e.publish(ctx, instance.ID, events.TaskCreated{
		BaseEvent:  events.NewBaseEvent(events.TaskCreatedEvent, instance.ID),
		TaskID:     task.ID,
		NodeID:     task.NodeID,
		TaskType:   task.Type,
		AssignedTo: task.AssignedTo,
		Title:      task.Title,
	})

	_, err := e.notifier.Create(ctx, task.AssignedTo, "task_assigned", task.Title,
		fmt.Sprintf("You have been assigned a new %s task", task.Type), map[string]any{
			"instance_id": instance.ID,
			"task_id":     task.ID,
		})
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to notify assignee",
			"task_id", task.ID, "assignee", task.AssignedTo, "error", err)
	}

	e.logger.InfoContext(ctx, "Task created",
		"instance_id", instance.ID, "task_id", task.ID,
		"task_type", task.Type, "assigned_to", task.AssignedTo)

	return nil
}

func taskTitle(node *models.Node) string {
	if node.Data.Label != "" {
		return node.Data.Label
	}

	return node.ID
}

func parseDueDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}

	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}

	parsed = parsed.UTC()

	return &parsed
}
