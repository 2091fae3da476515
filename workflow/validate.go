package workflow

import (
	"fmt"
	"strings"

	"github.com/songzhibin97/itsm-workflow/types"
)

// index gives id lookups over a definition. Built once per call; the
// definition itself is never modified.
type index struct {
	nodes    map[string]types.WorkflowNode
	incoming map[string]int
	outgoing map[string]int
}

func newIndex(def *types.WorkflowDefinition) *index {
	idx := &index{
		nodes:    make(map[string]types.WorkflowNode, len(def.Nodes)),
		incoming: make(map[string]int, len(def.Nodes)),
		outgoing: make(map[string]int, len(def.Nodes)),
	}
	for _, node := range def.Nodes {
		if _, exists := idx.nodes[node.ID]; !exists {
			idx.nodes[node.ID] = node
		}
	}
	for _, conn := range def.Connections {
		idx.outgoing[conn.SourceNodeID]++
		idx.incoming[conn.TargetNodeID]++
	}
	return idx
}

// Validate checks a workflow definition and collects every error and warning.
// It never returns an error for data problems; everything is reported in the result.
func Validate(def *types.WorkflowDefinition) types.ValidationResult {
	result := types.NewValidationResult()

	if def == nil {
		result.AddError(types.ValidationIssue{
			Code:    types.CodeNilDefinition,
			Message: "workflow definition is nil",
		})
		return result
	}

	if len(def.Nodes) == 0 {
		result.AddError(types.ValidationIssue{
			Code:    types.CodeEmptyWorkflow,
			Message: "workflow must contain at least one node",
		})
		return result
	}

	idx := newIndex(def)

	validateStartNode(def.Nodes, &result)
	validateEndNode(def.Nodes, &result)
	validateUniqueIDs(def, &result)

	for _, node := range def.Nodes {
		validateNode(node, idx, &result)
	}

	for _, conn := range def.Connections {
		validateConnection(conn, idx, &result)
	}

	for _, w := range DetectOrphans(def) {
		result.AddWarning(w)
	}
	for _, w := range DetectCycles(def) {
		result.AddWarning(w)
	}

	return result
}

func validateStartNode(nodes []types.WorkflowNode, result *types.ValidationResult) {
	count := countType(nodes, types.NodeTypeStart)
	switch {
	case count == 0:
		result.AddError(types.ValidationIssue{
			Code:    types.CodeMissingStartNode,
			Message: "workflow must contain exactly one start node",
		})
	case count > 1:
		result.AddError(types.ValidationIssue{
			Code:    types.CodeMultipleStartNodes,
			Message: "only one start node is allowed",
		})
	}
}

func validateEndNode(nodes []types.WorkflowNode, result *types.ValidationResult) {
	if countType(nodes, types.NodeTypeEnd) == 0 {
		result.AddWarning(types.ValidationIssue{
			Code:    types.CodeMissingEndNode,
			Message: "workflow should contain at least one end node",
		})
	}
}

func countType(nodes []types.WorkflowNode, t types.NodeType) int {
	count := 0
	for _, node := range nodes {
		if node.Type() == t {
			count++
		}
	}
	return count
}

func validateUniqueIDs(def *types.WorkflowDefinition, result *types.ValidationResult) {
	seenNodes := make(map[string]bool, len(def.Nodes))
	for _, node := range def.Nodes {
		if seenNodes[node.ID] {
			result.AddError(types.ValidationIssue{
				Code:    types.CodeDuplicateNodeID,
				Message: fmt.Sprintf("duplicate node id %q", node.ID),
				NodeID:  node.ID,
				Field:   "id",
			})
		}
		seenNodes[node.ID] = true
	}

	seenConns := make(map[string]bool, len(def.Connections))
	for _, conn := range def.Connections {
		if seenConns[conn.ID] {
			result.AddError(types.ValidationIssue{
				Code:         types.CodeDuplicateConnectionID,
				Message:      fmt.Sprintf("duplicate connection id %q", conn.ID),
				ConnectionID: conn.ID,
				Field:        "id",
			})
		}
		seenConns[conn.ID] = true
	}
}

func validateNode(node types.WorkflowNode, idx *index, result *types.ValidationResult) {
	if strings.TrimSpace(node.Name) == "" {
		result.AddError(types.ValidationIssue{
			Code:    types.CodeEmptyName,
			Message: "node name must not be empty",
			NodeID:  node.ID,
			Field:   "name",
		})
	}

	switch cfg := node.Config.(type) {
	case types.StartConfig, types.EndConfig:
	case types.TaskConfig:
		if strings.TrimSpace(cfg.AssigneeType) == "" {
			missingConfig(node, "assigneeType", "task node must specify an assignee type", result)
		}
	case types.ApprovalConfig:
		if len(cfg.Approvers) == 0 {
			missingConfig(node, "approvers", "approval node must specify at least one approver", result)
		}
	case types.ConditionConfig:
		validateConditionNode(node, cfg, idx, result)
	case types.ScriptConfig:
		if strings.TrimSpace(cfg.Script) == "" {
			missingConfig(node, "script", "script node must contain a script", result)
		}
	case types.NotificationConfig:
		if len(cfg.Recipients) == 0 {
			missingConfig(node, "recipients", "notification node must specify at least one recipient", result)
		}
	case nil:
		result.AddError(types.ValidationIssue{
			Code:    types.CodeUnknownNodeType,
			Message: "node has no type",
			NodeID:  node.ID,
			Field:   "type",
		})
	default:
		result.AddError(types.ValidationIssue{
			Code:    types.CodeUnknownNodeType,
			Message: fmt.Sprintf("unsupported node config %T", cfg),
			NodeID:  node.ID,
			Field:   "type",
		})
	}
}

func validateConditionNode(node types.WorkflowNode, cfg types.ConditionConfig, idx *index, result *types.ValidationResult) {
	if len(cfg.Conditions) == 0 {
		missingConfig(node, "conditions", "condition node must define at least one condition", result)
	}
	for i, cond := range cfg.Conditions {
		if strings.TrimSpace(cond.Expression) == "" {
			missingConfig(node, "conditions", fmt.Sprintf("condition %d of node %q has an empty expression", i+1, node.Name), result)
		}
		if _, ok := idx.nodes[cond.TargetNodeID]; !ok {
			result.AddWarning(types.ValidationIssue{
				Code:    types.CodeDanglingConditionTarget,
				Message: fmt.Sprintf("condition %d of node %q targets unknown node %q", i+1, node.Name, cond.TargetNodeID),
				NodeID:  node.ID,
				Field:   "conditions",
			})
		}
	}
	if cfg.DefaultTargetNodeID != "" {
		if _, ok := idx.nodes[cfg.DefaultTargetNodeID]; !ok {
			result.AddWarning(types.ValidationIssue{
				Code:    types.CodeDanglingConditionTarget,
				Message: fmt.Sprintf("default target %q of node %q does not exist", cfg.DefaultTargetNodeID, node.Name),
				NodeID:  node.ID,
				Field:   "defaultTargetNodeId",
			})
		}
	}
}

func missingConfig(node types.WorkflowNode, field, message string, result *types.ValidationResult) {
	result.AddError(types.ValidationIssue{
		Code:    types.CodeMissingConfig,
		Message: message,
		NodeID:  node.ID,
		Field:   field,
	})
}

func validateConnection(conn types.WorkflowConnection, idx *index, result *types.ValidationResult) {
	source, hasSource := idx.nodes[conn.SourceNodeID]
	target, hasTarget := idx.nodes[conn.TargetNodeID]

	if !hasSource {
		result.AddError(types.ValidationIssue{
			Code:         types.CodeDanglingSource,
			Message:      fmt.Sprintf("source node %q of connection %q does not exist", conn.SourceNodeID, conn.ID),
			ConnectionID: conn.ID,
			Field:        "sourceNodeId",
		})
	}
	if !hasTarget {
		result.AddError(types.ValidationIssue{
			Code:         types.CodeDanglingTarget,
			Message:      fmt.Sprintf("target node %q of connection %q does not exist", conn.TargetNodeID, conn.ID),
			ConnectionID: conn.ID,
			Field:        "targetNodeId",
		})
	}

	if hasTarget && target.Type() == types.NodeTypeStart {
		result.AddError(types.ValidationIssue{
			Code:         types.CodeStartHasInput,
			Message:      "start node cannot have an input connection",
			ConnectionID: conn.ID,
		})
	}
	if hasSource && source.Type() == types.NodeTypeEnd {
		result.AddError(types.ValidationIssue{
			Code:         types.CodeEndHasOutput,
			Message:      "end node cannot have an output connection",
			ConnectionID: conn.ID,
		})
	}
}
