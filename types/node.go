package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownNodeType is returned when a node document names a type outside the closed set.
var ErrUnknownNodeType = errors.New("unknown node type")

// NodeType identifies the variant of a workflow node.
type NodeType string

const (
	NodeTypeStart        NodeType = "start"
	NodeTypeEnd          NodeType = "end"
	NodeTypeTask         NodeType = "task"
	NodeTypeApproval     NodeType = "approval"
	NodeTypeCondition    NodeType = "condition"
	NodeTypeScript       NodeType = "script"
	NodeTypeNotification NodeType = "notification"
)

// NodeTypes lists every supported node type.
var NodeTypes = []NodeType{
	NodeTypeStart,
	NodeTypeEnd,
	NodeTypeTask,
	NodeTypeApproval,
	NodeTypeCondition,
	NodeTypeScript,
	NodeTypeNotification,
}

// NodeConfig is the type-specific payload of a node. The set of implementations
// is closed: StartConfig, EndConfig, TaskConfig, ApprovalConfig, ConditionConfig,
// ScriptConfig and NotificationConfig.
type NodeConfig interface {
	NodeType() NodeType
	isNodeConfig()
}

// BaseConfig holds settings shared by every node type.
type BaseConfig struct {
	Timeout        int    `json:"timeout,omitempty"` // seconds
	RetryOnFailure bool   `json:"retryOnFailure,omitempty"`
	MaxRetries     int    `json:"maxRetries,omitempty"`
	OnTimeout      string `json:"onTimeout,omitempty"` // "skip", "fail" or "escalate"
}

// StartConfig configures the single entry node.
type StartConfig struct {
	BaseConfig
}

// EndConfig configures a terminal node.
type EndConfig struct {
	BaseConfig
}

// TaskConfig configures a human task.
type TaskConfig struct {
	BaseConfig
	AssigneeType       string   `json:"assigneeType"` // "user", "role", "group" or "expression"
	Assignees          []int64  `json:"assignees,omitempty"`
	AssigneeRole       string   `json:"assigneeRole,omitempty"`
	AssigneeGroup      string   `json:"assigneeGroup,omitempty"`
	AssigneeExpression string   `json:"assigneeExpression,omitempty"`
	FormFields         []string `json:"formFields,omitempty"`
	RequiredFields     []string `json:"requiredFields,omitempty"`
	AutoComplete       bool     `json:"autoComplete,omitempty"`
}

// ApprovalConfig configures an approval step.
type ApprovalConfig struct {
	BaseConfig
	Approvers        []int64 `json:"approvers"`
	ApprovalType     string  `json:"approvalType,omitempty"` // "any", "all" or "majority"
	MinimumApprovals int     `json:"minimumApprovals,omitempty"`
	AllowReject      bool    `json:"allowReject,omitempty"`
	AllowDelegate    bool    `json:"allowDelegate,omitempty"`
	RejectAction     string  `json:"rejectAction,omitempty"` // "end", "return" or "custom"
	ReturnToNode     string  `json:"returnToNode,omitempty"`
}

// Condition is one branch of a condition node.
type Condition struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	Expression   string `json:"expression"`
	TargetNodeID string `json:"targetNodeId"`
}

// ConditionConfig configures a branching node. Conditions are evaluated in order.
type ConditionConfig struct {
	BaseConfig
	Conditions          []Condition `json:"conditions"`
	DefaultTargetNodeID string      `json:"defaultTargetNodeId,omitempty"`
}

// ScriptConfig configures an automated script step.
type ScriptConfig struct {
	BaseConfig
	Language        string   `json:"language,omitempty"`
	Script          string   `json:"script"`
	InputVariables  []string `json:"inputVariables,omitempty"`
	OutputVariables []string `json:"outputVariables,omitempty"`
}

// Recipient addresses a notification. Value is a name, an expression or a list of user ids.
type Recipient struct {
	Type  string `json:"type"` // "user", "role" or "expression"
	Value any    `json:"value"`
}

// NotificationConfig configures a notification step.
type NotificationConfig struct {
	BaseConfig
	NotificationType string      `json:"notificationType,omitempty"` // "email", "sms", "push" or "webhook"
	Recipients       []Recipient `json:"recipients"`
	Template         string      `json:"template,omitempty"`
	Subject          string      `json:"subject,omitempty"`
	Priority         string      `json:"priority,omitempty"`
}

func (StartConfig) NodeType() NodeType        { return NodeTypeStart }
func (EndConfig) NodeType() NodeType          { return NodeTypeEnd }
func (TaskConfig) NodeType() NodeType         { return NodeTypeTask }
func (ApprovalConfig) NodeType() NodeType     { return NodeTypeApproval }
func (ConditionConfig) NodeType() NodeType    { return NodeTypeCondition }
func (ScriptConfig) NodeType() NodeType       { return NodeTypeScript }
func (NotificationConfig) NodeType() NodeType { return NodeTypeNotification }

func (StartConfig) isNodeConfig()        {}
func (EndConfig) isNodeConfig()          {}
func (TaskConfig) isNodeConfig()         {}
func (ApprovalConfig) isNodeConfig()     {}
func (ConditionConfig) isNodeConfig()    {}
func (ScriptConfig) isNodeConfig()       {}
func (NotificationConfig) isNodeConfig() {}

// WorkflowNode is a typed step in a workflow. Its type is carried by Config.
type WorkflowNode struct {
	ID          string
	Name        string
	Description string
	Position    Position
	Config      NodeConfig
}

// NewNode builds a node from its id, name and type-specific config.
func NewNode(id, name string, cfg NodeConfig) WorkflowNode {
	return WorkflowNode{ID: id, Name: name, Config: cfg}
}

// Type returns the node type, or "" if the node has no config.
func (n WorkflowNode) Type() NodeType {
	if n.Config == nil {
		return ""
	}
	return n.Config.NodeType()
}

type nodeDocument struct {
	ID          string          `json:"id"`
	Type        NodeType        `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Position    Position        `json:"position"`
	Config      json.RawMessage `json:"config,omitempty"`
}

// MarshalJSON writes the node with its type alongside the config payload.
func (n WorkflowNode) MarshalJSON() ([]byte, error) {
	doc := nodeDocument{
		ID:          n.ID,
		Type:        n.Type(),
		Name:        n.Name,
		Description: n.Description,
		Position:    n.Position,
	}
	if n.Config != nil {
		cfg, err := json.Marshal(n.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal config of node %s: %w", n.ID, err)
		}
		doc.Config = cfg
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes the config payload into the variant named by "type".
func (n *WorkflowNode) UnmarshalJSON(data []byte) error {
	var doc nodeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	cfg, err := decodeConfig(doc.Type, doc.Config)
	if err != nil {
		return fmt.Errorf("node %s: %w", doc.ID, err)
	}
	*n = WorkflowNode{
		ID:          doc.ID,
		Name:        doc.Name,
		Description: doc.Description,
		Position:    doc.Position,
		Config:      cfg,
	}
	return nil
}

func decodeConfig(t NodeType, data json.RawMessage) (NodeConfig, error) {
	switch t {
	case NodeTypeStart:
		return decodeInto[StartConfig](data)
	case NodeTypeEnd:
		return decodeInto[EndConfig](data)
	case NodeTypeTask:
		return decodeInto[TaskConfig](data)
	case NodeTypeApproval:
		return decodeInto[ApprovalConfig](data)
	case NodeTypeCondition:
		return decodeInto[ConditionConfig](data)
	case NodeTypeScript:
		return decodeInto[ScriptConfig](data)
	case NodeTypeNotification:
		return decodeInto[NotificationConfig](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, t)
	}
}

func decodeInto[T NodeConfig](data json.RawMessage) (NodeConfig, error) {
	var cfg T
	if len(data) == 0 || string(data) == "null" {
		return cfg, nil
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
