package engine

import "errors"

var (
	// ErrDefinitionInactive is returned by Start when the definition is
	// disabled.
	ErrDefinitionInactive = errors.New("workflow definition is inactive")

	// ErrNoStartNode is returned by Start when the definition graph has no
	// start node.
	ErrNoStartNode = errors.New("workflow definition has no start node")

	// ErrRouting is the fatal routing failure: a condition node evaluated
	// to a label with no matching outgoing edge and no default edge.
	ErrRouting = errors.New("no matching outgoing edge")

	// ErrMissingAssignees is returned when a human node resolves to an
	// empty assignee list.
	ErrMissingAssignees = errors.New("node configuration has no assignees")

	// ErrInvalidState is returned when an operation is not permitted in
	// the entity's current status.
	ErrInvalidState = errors.New("operation not valid in current status")
)
