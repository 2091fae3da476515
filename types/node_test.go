package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowNode_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    NodeConfig
		wantErr error
	}{
		{
			name:  "Start without config",
			input: `{"id":"s","type":"start","name":"Start"}`,
			want:  StartConfig{},
		},
		{
			name:  "Task with assignee type",
			input: `{"id":"t","type":"task","name":"Triage","config":{"assigneeType":"role","assigneeRole":"l1","timeout":60}}`,
			want:  TaskConfig{BaseConfig: BaseConfig{Timeout: 60}, AssigneeType: "role", AssigneeRole: "l1"},
		},
		{
			name:  "Condition with default target",
			input: `{"id":"c","type":"condition","name":"Priority","config":{"conditions":[{"id":"c1","expression":"priority == 'high'","targetNodeId":"n1"}],"defaultTargetNodeId":"n2"}}`,
			want: ConditionConfig{
				Conditions:          []Condition{{ID: "c1", Expression: "priority == 'high'", TargetNodeID: "n1"}},
				DefaultTargetNodeID: "n2",
			},
		},
		{
			name:    "Unknown type",
			input:   `{"id":"x","type":"timer","name":"Wait"}`,
			wantErr: ErrUnknownNodeType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n WorkflowNode
			err := json.Unmarshal([]byte(tt.input), &n)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.Config)
			assert.Equal(t, tt.want.NodeType(), n.Type())
		})
	}
}

func TestWorkflowNode_MarshalJSON(t *testing.T) {
	n := NewNode("a", "Approve", ApprovalConfig{Approvers: []int64{7}, ApprovalType: "any"})

	data, err := json.Marshal(n)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "approval", doc["type"])
	assert.Equal(t, "Approve", doc["name"])
	cfg, ok := doc["config"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "any", cfg["approvalType"])

	var back WorkflowNode
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, n, back)
}

func TestWorkflowNode_TypeWithoutConfig(t *testing.T) {
	assert.Equal(t, NodeType(""), WorkflowNode{ID: "x"}.Type())
}

func TestValidationResult(t *testing.T) {
	r := NewValidationResult()
	assert.True(t, r.IsValid)

	r.AddWarning(ValidationIssue{Code: CodeMissingEndNode, Message: "w"})
	assert.True(t, r.IsValid)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Type)

	r.AddError(ValidationIssue{Code: CodeEmptyName, NodeID: "n", Field: "name"})
	assert.False(t, r.IsValid)
	assert.Equal(t, SeverityError, r.Errors[0].Type)
	assert.True(t, r.HasCode(CodeEmptyName))
	assert.True(t, r.HasCode(CodeMissingEndNode))
	assert.False(t, r.HasCode(CodeCycleDetected))
}
