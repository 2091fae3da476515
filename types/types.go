package types

// WorkflowStatus is the lifecycle status of a workflow definition.
type WorkflowStatus string

const (
	StatusDraft    WorkflowStatus = "draft"
	StatusActive   WorkflowStatus = "active"
	StatusInactive WorkflowStatus = "inactive"
	StatusArchived WorkflowStatus = "archived"
)

// ConnectionType describes how a connection is taken.
type ConnectionType string

const (
	ConnectionSequence    ConnectionType = "sequence"
	ConnectionConditional ConnectionType = "conditional"
	ConnectionDefault     ConnectionType = "default"
)

// WorkflowDefinition defines the static graph of a workflow.
// Nodes and connections reference each other by id only.
type WorkflowDefinition struct {
	ID          string               `json:"id"`
	Name        string               `json:"name" validate:"required"`
	Code        string               `json:"code,omitempty"`
	Description string               `json:"description,omitempty"`
	Version     int                  `json:"version" validate:"gte=0"`
	Status      WorkflowStatus       `json:"status,omitempty" validate:"omitempty,oneof=draft active inactive archived"`
	Nodes       []WorkflowNode       `json:"nodes"`
	Connections []WorkflowConnection `json:"connections"`
	CreatedAt   int64                `json:"createdAt,omitempty"`
	UpdatedAt   int64                `json:"updatedAt,omitempty"`
}

// WorkflowConnection is a directed edge between two nodes.
type WorkflowConnection struct {
	ID           string         `json:"id"`
	Type         ConnectionType `json:"type,omitempty"`
	Name         string         `json:"name,omitempty"`
	SourceNodeID string         `json:"sourceNodeId"`
	TargetNodeID string         `json:"targetNodeId"`
	Condition    string         `json:"condition,omitempty"`
}

// Position is the editor canvas location of a node.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
