package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBaseEvent(t *testing.T) {
	t.Parallel()

	base := NewBaseEvent(WorkflowStartedEvent, "inst-1")

	require.NotEmpty(t, base.ID)
	assert.Equal(t, WorkflowStartedEvent, base.Type)
	assert.Equal(t, "inst-1", base.InstanceID)
	assert.False(t, base.Timestamp.IsZero())
	assert.NotNil(t, base.Metadata)

	other := NewBaseEvent(WorkflowStartedEvent, "inst-1")
	assert.NotEqual(t, base.ID, other.ID)
}

func TestEventTypes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, WorkflowCompletedEvent, WorkflowCompleted{}.GetType())
	assert.Equal(t, TaskCreatedEvent, TaskCreated{}.GetType())
	assert.Equal(t, TaskReassignedEvent, TaskReassigned{}.GetType())
	assert.Equal(t, NotificationCreatedEvent, NotificationCreated{}.GetType())
}
