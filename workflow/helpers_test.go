package workflow

import (
	"github.com/songzhibin97/itsm-workflow/types"
)

func conn(id, source, target string) types.WorkflowConnection {
	return types.WorkflowConnection{ID: id, Type: types.ConnectionSequence, SourceNodeID: source, TargetNodeID: target}
}

func start(id string) types.WorkflowNode { return types.NewNode(id, "Start "+id, types.StartConfig{}) }
func end(id string) types.WorkflowNode   { return types.NewNode(id, "End "+id, types.EndConfig{}) }
func task(id string) types.WorkflowNode {
	return types.NewNode(id, "Task "+id, types.TaskConfig{AssigneeType: "user", Assignees: []int64{7}})
}

// linearDefinition is S -> T -> E.
func linearDefinition() *types.WorkflowDefinition {
	return &types.WorkflowDefinition{
		ID:    "linear",
		Name:  "Linear",
		Nodes: []types.WorkflowNode{start("S"), task("T"), end("E")},
		Connections: []types.WorkflowConnection{
			conn("c1", "S", "T"),
			conn("c2", "T", "E"),
		},
	}
}

// branchDefinition routes C to N1 when x > 10 and to N2 otherwise.
func branchDefinition(defaultTarget string) *types.WorkflowDefinition {
	return &types.WorkflowDefinition{
		ID:   "branch",
		Name: "Branch",
		Nodes: []types.WorkflowNode{
			start("S"),
			types.NewNode("C", "Check", types.ConditionConfig{
				Conditions: []types.Condition{
					{ID: "gt", Expression: "x > 10", TargetNodeID: "N1"},
					{ID: "fallback", Expression: "true", TargetNodeID: "N2"},
				},
				DefaultTargetNodeID: defaultTarget,
			}),
			task("N1"),
			task("N2"),
			end("E"),
		},
		Connections: []types.WorkflowConnection{
			conn("c1", "S", "C"),
			conn("c2", "C", "N1"),
			conn("c3", "C", "N2"),
			conn("c4", "N1", "E"),
			conn("c5", "N2", "E"),
		},
	}
}

func codes(issues []types.ValidationIssue) []string {
	out := make([]string, 0, len(issues))
	for _, issue := range issues {
		out = append(out, issue.Code)
	}
	return out
}
