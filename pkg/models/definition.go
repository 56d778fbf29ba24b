// Package models defines the core domain models for workflow orchestration.
package models

import "time"

// NodeType identifies the behavior of a workflow node. The set is closed:
// the engine dispatches on it exhaustively and treats anything else as a
// forward-compatible pass-through.
type NodeType string

const (
	NodeTypeStart        NodeType = "start"
	NodeTypeVariable     NodeType = "variable"
	NodeTypeForm         NodeType = "form"
	NodeTypeTask         NodeType = "task"
	NodeTypeApproval     NodeType = "approval"
	NodeTypeCondition    NodeType = "condition"
	NodeTypeTimer        NodeType = "timer"
	NodeTypeNotification NodeType = "notification"
	NodeTypeEmail        NodeType = "email"
	NodeTypeSMS          NodeType = "sms"
	NodeTypeEnd          NodeType = "end"
)

// EdgeLabelDefault is the fallback label consulted when conditional routing
// finds no edge matching the evaluation result.
const EdgeLabelDefault = "default"

// NodeData carries the display label and the type-specific configuration
// payload of a node.
type NodeData struct {
	Label  string         `json:"label"`
	Config map[string]any `json:"config,omitempty"`
}

// Node is a single step in a workflow graph.
type Node struct {
	ID   string   `json:"id"   validate:"required"`
	Type NodeType `json:"type" validate:"required"`
	Data NodeData `json:"data"`
}

// Edge is a directed connection between two nodes. The optional label is
// used for conditional routing.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
	Label  string `json:"label,omitempty"`
}

// WorkflowDefinition is an immutable-once-published workflow graph plus
// metadata.
type WorkflowDefinition struct {
	ID            string    `json:"id"`
	Name          string    `json:"name" validate:"required,min=3"`
	Description   string    `json:"description"`
	Version       int       `json:"version"`
	Active        bool      `json:"active"`
	Nodes         []Node    `json:"nodes"`
	Edges         []Edge    `json:"edges"`
	CreatedBy     string    `json:"created_by"`
	AllowedUsers  []string  `json:"allowed_users,omitempty"`
	AllowedGroups []string  `json:"allowed_groups,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// StartNode returns the node with type start, or nil if the graph has none.
func (d *WorkflowDefinition) StartNode() *Node {
	for i := range d.Nodes {
		if d.Nodes[i].Type == NodeTypeStart {
			return &d.Nodes[i]
		}
	}

	return nil
}

// NodeByID returns the node with the given id, or nil.
func (d *WorkflowDefinition) NodeByID(id string) *Node {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}

	return nil
}

// OutgoingEdges returns the edges leaving the given node in declaration
// order. Edge selection among multiple unlabeled edges is first-match-wins.
func (d *WorkflowDefinition) OutgoingEdges(nodeID string) []Edge {
	edges := make([]Edge, 0)

	for _, e := range d.Edges {
		if e.Source == nodeID {
			edges = append(edges, e)
		}
	}

	return edges
}

// OutgoingEdge returns the first edge leaving the node whose label equals
// the given label (an empty label matches any edge), or nil.
func (d *WorkflowDefinition) OutgoingEdge(nodeID, label string) *Edge {
	for i := range d.Edges {
		if d.Edges[i].Source != nodeID {
			continue
		}

		if label == "" || d.Edges[i].Label == label {
			return &d.Edges[i]
		}
	}

	return nil
}
