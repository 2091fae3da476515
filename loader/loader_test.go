package loader

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/songzhibin97/itsm-workflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const linearJSON = `{
  "id": "linear",
  "name": "Linear",
  "nodes": [
    {"id": "S", "type": "start", "name": "Start"},
    {"id": "T", "type": "task", "name": "Work", "config": {"assigneeType": "role", "assigneeRole": "l1"}},
    {"id": "E", "type": "end", "name": "End"}
  ],
  "connections": [
    {"id": "c1", "sourceNodeId": "S", "targetNodeId": "T"},
    {"id": "c2", "sourceNodeId": "T", "targetNodeId": "E"}
  ]
}`

func TestDecode_JSON(t *testing.T) {
	def, err := Decode(strings.NewReader(linearJSON), FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, "linear", def.ID)
	require.Len(t, def.Nodes, 3)
	assert.Equal(t, types.NodeTypeStart, def.Nodes[0].Type())
	cfg, ok := def.Nodes[1].Config.(types.TaskConfig)
	require.True(t, ok)
	assert.Equal(t, "l1", cfg.AssigneeRole)
	require.Len(t, def.Connections, 2)
	assert.Equal(t, "T", def.Connections[1].SourceNodeID)
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		format  Format
		wantErr error
		wantMsg string
	}{
		{
			name:    "malformed json",
			doc:     `{"name": `,
			format:  FormatJSON,
			wantErr: ErrInvalidDocument,
		},
		{
			name:    "malformed yaml",
			doc:     "name: [unclosed",
			format:  FormatYAML,
			wantErr: ErrInvalidDocument,
		},
		{
			name:    "not an object",
			doc:     `[1, 2, 3]`,
			format:  FormatJSON,
			wantErr: ErrInvalidDocument,
		},
		{
			name:    "missing nodes",
			doc:     `{"name": "x"}`,
			format:  FormatJSON,
			wantErr: ErrInvalidDocument,
			wantMsg: "nodes",
		},
		{
			name:    "unknown node type",
			doc:     `{"name": "x", "nodes": [{"id": "a", "type": "timer"}]}`,
			format:  FormatJSON,
			wantErr: ErrInvalidDocument,
			wantMsg: "/nodes/0/type",
		},
		{
			name:    "connection without target",
			doc:     `{"name": "x", "nodes": [], "connections": [{"id": "c", "sourceNodeId": "a"}]}`,
			format:  FormatJSON,
			wantErr: ErrInvalidDocument,
			wantMsg: "targetNodeId",
		},
		{
			name:    "bad status",
			doc:     "name: x\nstatus: published\nnodes: []\n",
			format:  FormatYAML,
			wantErr: ErrInvalidDocument,
			wantMsg: "/status",
		},
		{
			name:    "unsupported format",
			doc:     `{}`,
			format:  Format("toml"),
			wantErr: ErrUnsupportedFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.doc), tt.format)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestLoadFile_YAML(t *testing.T) {
	def, err := LoadFile(filepath.Join("testdata", "change.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "change-request", def.ID)
	assert.Equal(t, types.StatusDraft, def.Status)
	assert.Equal(t, 1, def.Version)
	require.Len(t, def.Nodes, 5)

	cond, ok := def.Nodes[1].Config.(types.ConditionConfig)
	require.True(t, ok)
	require.Len(t, cond.Conditions, 1)
	assert.Equal(t, "risk_score >= 7", cond.Conditions[0].Expression)
	assert.Equal(t, "implement", cond.DefaultTargetNodeID)

	approval, ok := def.Nodes[2].Config.(types.ApprovalConfig)
	require.True(t, ok)
	assert.Equal(t, []int64{101, 102}, approval.Approvers)

	assert.Equal(t, types.ConnectionDefault, def.Connections[2].Type)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join("testdata", "bad_type.json"))
	assert.ErrorIs(t, err, ErrInvalidDocument)
	assert.Contains(t, err.Error(), "bad_type.json")

	_, err = LoadFile(filepath.Join("testdata", "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadFile("workflow.xml")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoadVariables(t *testing.T) {
	vars, err := LoadVariables(filepath.Join("testdata", "vars.yaml"))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"risk_score": 8, "priority": "high"}, vars)

	path := filepath.Join(t.TempDir(), "vars.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"x": 20, "vip": true}`), 0o600))
	vars, err = LoadVariables(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"x": float64(20), "vip": true}, vars)
}

func TestDecodeVariables(t *testing.T) {
	vars, err := DecodeVariables([]byte(""), FormatYAML)
	require.NoError(t, err)
	assert.Empty(t, vars)
	assert.NotNil(t, vars)

	_, err = DecodeVariables([]byte(`[1,2]`), FormatJSON)
	assert.ErrorIs(t, err, ErrInvalidDocument)

	_, err = DecodeVariables([]byte(`x = 1`), Format("toml"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]Format{
		"a.json":     FormatJSON,
		"a.JSON":     FormatJSON,
		"dir/a.yaml": FormatYAML,
		"a.yml":      FormatYAML,
	}
	for path, want := range tests {
		got, err := FormatFromPath(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}

	_, err := FormatFromPath("a.txt")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestSchemaNodeTypesMatchNodeTypes(t *testing.T) {
	var schema struct {
		Defs struct {
			Node struct {
				Properties struct {
					Type struct {
						Enum []types.NodeType `json:"enum"`
					} `json:"type"`
				} `json:"properties"`
			} `json:"node"`
		} `json:"$defs"`
	}
	require.NoError(t, json.Unmarshal([]byte(workflowSchemaJSON), &schema))
	assert.ElementsMatch(t, types.NodeTypes, schema.Defs.Node.Properties.Type.Enum)

	for _, nodeType := range types.NodeTypes {
		doc := `{"name": "One node", "nodes": [{"id": "n", "type": "` + string(nodeType) + `", "name": "N"}]}`
		def, err := Decode(strings.NewReader(doc), FormatJSON)
		require.NoError(t, err, nodeType)
		assert.Equal(t, nodeType, def.Nodes[0].Type())
	}
}
