package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/nivio/flowd/pkg/events"
	"github.com/nivio/flowd/pkg/models"
	"github.com/nivio/flowd/pkg/persistence"
)

// CompleteTask folds the human's decision and data into the task, mirrors
// the result into the instance data bag, applies the approval aggregation
// rule and, once the originating node is fully satisfied, resumes the
// walk from that node.
func (e *Engine) CompleteTask(
	ctx context.Context,
	taskID, userID, decision string,
	taskData map[string]any,
) (*models.Task, error) {
	task, err := e.persistence.Tasks().GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	release := e.locks.acquire(task.InstanceID)
	defer release()

	// Reload under the instance lock; a concurrent completion may have
	// moved it to a terminal status.
	task, err = e.persistence.Tasks().GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	// CompletedAt records that the result has been folded into the
	// instance. A folded or cancelled task cannot complete again; a
	// submitted form (status completed, not yet folded) still can.
	if task.CompletedAt != nil || task.Status == models.TaskStatusCancelled {
		return nil, fmt.Errorf("%w: task %s is %s", ErrInvalidState, taskID, task.Status)
	}

	now := time.Now().UTC()
	task.Decision = decision
	task.Status = models.TaskStatusCompleted

	if decision == models.DecisionRejected {
		task.Status = models.TaskStatusRejected
	}

	if len(taskData) > 0 {
		if task.TaskData == nil {
			task.TaskData = make(map[string]any)
		}

		for key, value := range taskData {
			task.TaskData[key] = value
		}
	}

	task.CompletedAt = &now
	task.UpdatedAt = now

	if err := e.persistence.Tasks().Save(ctx, task); err != nil {
		return nil, err
	}

	instance, err := e.persistence.Instances().GetByID(ctx, task.InstanceID)
	if err != nil {
		return nil, err
	}

	if instance.Data == nil {
		instance.Data = make(map[string]any)
	}

	result := map[string]any{
		"completed_by": userID,
		"completed_at": now,
	}
	if decision != "" {
		result["decision"] = decision
	}

	if len(task.FormData) > 0 {
		result["form_data"] = task.FormData
	}

	if len(taskData) > 0 {
		result["task_data"] = taskData
	}

	instance.Data[task.NodeID] = result

	if err := e.persistence.Instances().Save(ctx, instance); err != nil {
		return nil, err
	}

	e.appendHistory(ctx, instance.ID, task.NodeID, historyTaskCompleted, userID, map[string]any{
		"task_id":  task.ID,
		"decision": decision,
	})

	e.publish(ctx, instance.ID, events.TaskCompleted{
		BaseEvent:   events.NewBaseEvent(events.TaskCompletedEvent, instance.ID),
		TaskID:      task.ID,
		NodeID:      task.NodeID,
		CompletedBy: userID,
		Decision:    decision,
	})

	e.notifySubscribers(ctx, instance.ID, "task_completed", "Task completed",
		fmt.Sprintf("%s completed task %q", userID, task.Title))

	e.logger.InfoContext(ctx, "Task completed",
		"instance_id", instance.ID, "task_id", task.ID,
		"completed_by", userID, "decision", decision)

	satisfied, err := e.nodeSatisfied(ctx, instance, task)
	if err != nil {
		return nil, err
	}

	if !satisfied {
		return task, nil
	}

	if err := e.advancePast(ctx, instance, task.NodeID); err != nil {
		return nil, err
	}

	return task, nil
}

// nodeSatisfied applies the aggregation rule for the task's originating
// node. For sequential approvals an intermediate completion spawns the
// next approver's task instead of satisfying the node.
func (e *Engine) nodeSatisfied(
	ctx context.Context,
	instance *models.WorkflowInstance,
	task *models.Task,
) (bool, error) {
	if task.Type == models.TaskTypeApproval && approvalMode(task) == models.ApprovalTypeSequential {
		return e.sequentialSatisfied(ctx, instance, task)
	}

	// Parallel approvals and multi-assignee human nodes are satisfied once
	// no open task shares the node context.
	open, err := e.openTaskCount(ctx, instance.ID, task.NodeID)
	if err != nil {
		return false, err
	}

	return open == 0, nil
}

func (e *Engine) sequentialSatisfied(
	ctx context.Context,
	instance *models.WorkflowInstance,
	task *models.Task,
) (bool, error) {
	approvers := models.NormalizeAssignees(task.TaskData[taskDataApprovers])
	index := intFromTaskData(task.TaskData[taskDataApproverIndex])

	if task.Status == models.TaskStatusRejected {
		// Rejection does not branch differently; recorded and the chain
		// continues. Flagged for product clarification.
		e.logger.WarnContext(ctx, "Sequential approval rejected, continuing chain",
			"instance_id", instance.ID, "task_id", task.ID, "approver_index", index)
	}

	next := index + 1
	if next >= len(approvers) {
		return true, nil
	}

	nextTask := e.approvalTask(instance, &models.Node{ID: task.NodeID, Data: models.NodeData{Label: task.Title}},
		approvers[next], task.Priority, map[string]any{
			taskDataApprovers:     approvers,
			taskDataApprovalType:  models.ApprovalTypeSequential,
			taskDataApproverIndex: next,
		})

	if err := e.createTask(ctx, instance, nextTask); err != nil {
		return false, err
	}

	return false, nil
}

// advancePast moves a running instance off the satisfied node and resumes
// the walk. A stale call, where the instance already moved on or
// terminated, is a no-op.
func (e *Engine) advancePast(ctx context.Context, instance *models.WorkflowInstance, nodeID string) error {
	if instance.Status != models.InstanceStatusRunning || instance.CurrentNodeID != nodeID {
		return nil
	}

	definition, err := e.persistence.Definitions().GetByID(ctx, instance.DefinitionID)
	if err != nil {
		return err
	}

	node := definition.NodeByID(nodeID)
	if node == nil {
		return e.completeInstance(ctx, instance)
	}

	e.publish(ctx, instance.ID, events.WorkflowNodeCompleted{
		BaseEvent: events.NewBaseEvent(events.WorkflowNodeCompletedEvent, instance.ID),
		NodeID:    node.ID,
		NodeType:  node.Type,
	})

	e.appendHistory(ctx, instance.ID, node.ID, historyNodeCompleted, "", nil)

	e.notifySubscribers(ctx, instance.ID, "workflow", "Node completed", taskTitle(node))

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

func (e *Engine) openTaskCount(ctx context.Context, instanceID, nodeID string) (int, error) {
	open := 0

	for _, status := range []models.TaskStatus{models.TaskStatusPending, models.TaskStatusInProgress} {
		count, err := e.persistence.Tasks().Count(ctx, persistence.TaskFilter{
			InstanceID: instanceID,
			NodeID:     nodeID,
			Status:     &status,
		})
		if err != nil {
			return 0, err
		}

		open += count
	}

	return open, nil
}

func approvalMode(task *models.Task) string {
	mode, _ := task.TaskData[taskDataApprovalType].(string)
	if mode != models.ApprovalTypeParallel {
		return models.ApprovalTypeSequential
	}

	return mode
}

// intFromTaskData reads a numeric task data value. Values round-tripped
// through JSON arrive as float64.
func intFromTaskData(value any) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
