package workflow

import (
	"fmt"

	"github.com/songzhibin97/itsm-workflow/types"
)

// DetectOrphans warns about every intermediate node that lacks an incoming
// or an outgoing connection. Start and end nodes are skipped.
func DetectOrphans(def *types.WorkflowDefinition) []types.ValidationIssue {
	if def == nil {
		return nil
	}
	idx := newIndex(def)

	var warnings []types.ValidationIssue
	for _, node := range def.Nodes {
		if node.Type() == types.NodeTypeStart || node.Type() == types.NodeTypeEnd {
			continue
		}
		if idx.incoming[node.ID] == 0 || idx.outgoing[node.ID] == 0 {
			warnings = append(warnings, types.ValidationIssue{
				Type:    types.SeverityWarning,
				Code:    types.CodeOrphanNode,
				Message: fmt.Sprintf("node %q may be orphaned: it has no input or no output connection", node.Name),
				NodeID:  node.ID,
			})
		}
	}
	return warnings
}

// DetectCycles runs a depth-first search over the connection graph and
// reports a single warning when any back edge is found. O(V+E).
func DetectCycles(def *types.WorkflowDefinition) []types.ValidationIssue {
	if def == nil {
		return nil
	}

	graph := make(map[string][]string, len(def.Nodes))
	for _, conn := range def.Connections {
		graph[conn.SourceNodeID] = append(graph[conn.SourceNodeID], conn.TargetNodeID)
	}

	visited := make(map[string]bool, len(def.Nodes))
	recursionStack := make(map[string]bool, len(def.Nodes))

	var hasCycle func(nodeID string) bool
	hasCycle = func(nodeID string) bool {
		visited[nodeID] = true
		recursionStack[nodeID] = true

		for _, neighbor := range graph[nodeID] {
			if !visited[neighbor] {
				if hasCycle(neighbor) {
					return true
				}
			} else if recursionStack[neighbor] {
				return true
			}
		}

		recursionStack[nodeID] = false
		return false
	}

	for _, node := range def.Nodes {
		if visited[node.ID] {
			continue
		}
		if hasCycle(node.ID) {
			return []types.ValidationIssue{{
				Type:    types.SeverityWarning,
				Code:    types.CodeCycleDetected,
				Message: "workflow may contain an intentional or unintentional cycle",
			}}
		}
	}
	return nil
}
