package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowDefinition_StartNode(t *testing.T) {
	t.Parallel()

	def := &WorkflowDefinition{
		Nodes: []Node{
			{ID: "n1", Type: NodeTypeVariable},
			{ID: "n2", Type: NodeTypeStart},
			{ID: "n3", Type: NodeTypeEnd},
		},
	}

	start := def.StartNode()
	require.NotNil(t, start)
	assert.Equal(t, "n2", start.ID)

	empty := &WorkflowDefinition{}
	assert.Nil(t, empty.StartNode())
}

func TestWorkflowDefinition_OutgoingEdge(t *testing.T) {
	t.Parallel()

	def := &WorkflowDefinition{
		Edges: []Edge{
			{ID: "e1", Source: "cond", Target: "approve", Label: "true"},
			{ID: "e2", Source: "cond", Target: "reject", Label: "false"},
			{ID: "e3", Source: "cond", Target: "review", Label: "default"},
			{ID: "e4", Source: "start", Target: "cond"},
		},
	}

	edge := def.OutgoingEdge("cond", "false")
	require.NotNil(t, edge)
	assert.Equal(t, "reject", edge.Target)

	// Empty label matches the first outgoing edge in declaration order.
	edge = def.OutgoingEdge("cond", "")
	require.NotNil(t, edge)
	assert.Equal(t, "approve", edge.Target)

	assert.Nil(t, def.OutgoingEdge("missing", ""))
}

func TestTask_IsAssignee(t *testing.T) {
	t.Parallel()

	task := &Task{AssignedTo: "alice", Assignees: []string{"bob", "carol"}}

	assert.True(t, task.IsAssignee("alice"))
	assert.True(t, task.IsAssignee("carol"))
	assert.False(t, task.IsAssignee("mallory"))
}

func TestTask_IsOverdue(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.True(t, (&Task{Status: TaskStatusPending, DueDate: &past}).IsOverdue(now))
	assert.False(t, (&Task{Status: TaskStatusPending, DueDate: &future}).IsOverdue(now))
	assert.False(t, (&Task{Status: TaskStatusCompleted, DueDate: &past}).IsOverdue(now))
	assert.False(t, (&Task{Status: TaskStatusPending}).IsOverdue(now))
}

func TestFormSchema_EditableFields(t *testing.T) {
	t.Parallel()

	schema := &FormSchema{Fields: []FormField{
		{Name: "name"},
		{Name: "salary", Editors: []string{"hr"}},
		{Name: "notes", Editors: []string{"hr", "manager"}},
	}}

	assert.Equal(t, []string{"name", "salary", "notes"}, schema.EditableFields("hr"))
	assert.Equal(t, []string{"name", "notes"}, schema.EditableFields("manager"))
	assert.Equal(t, []string{"name"}, schema.EditableFields("alice"))

	assert.True(t, schema.FieldEditable("name", "anyone"))
	assert.False(t, schema.FieldEditable("salary", "alice"))
	assert.False(t, schema.FieldEditable("unknown", "hr"))
}

func TestStatusTerminality(t *testing.T) {
	t.Parallel()

	assert.True(t, InstanceStatusCompleted.IsTerminal())
	assert.True(t, InstanceStatusFailed.IsTerminal())
	assert.True(t, InstanceStatusCancelled.IsTerminal())
	assert.False(t, InstanceStatusRunning.IsTerminal())
	assert.False(t, InstanceStatusPending.IsTerminal())

	assert.True(t, TaskStatusCompleted.IsTerminal())
	assert.True(t, TaskStatusRejected.IsTerminal())
	assert.False(t, TaskStatusInProgress.IsTerminal())

	assert.True(t, TaskStatusPending.IsCompletable())
	assert.True(t, TaskStatusInProgress.IsCompletable())
	assert.False(t, TaskStatusCancelled.IsCompletable())
}
