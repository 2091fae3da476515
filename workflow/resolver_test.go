package workflow

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/songzhibin97/itsm-workflow/rules"
	"github.com/songzhibin97/itsm-workflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindNextNodes_Linear(t *testing.T) {
	def := linearDefinition()

	assert.Equal(t, []string{"T"}, FindNextNodes("S", def, map[string]interface{}{}))
	assert.Equal(t, []string{"E"}, FindNextNodes("T", def, nil))
	assert.Equal(t, []string{}, FindNextNodes("E", def, nil))
	assert.Equal(t, []string{}, FindNextNodes("unknown", def, nil))
	assert.Equal(t, []string{}, FindNextNodes("S", nil, nil))
}

func TestFindNextNodes_Condition(t *testing.T) {
	evaluators := map[string]rules.Evaluator{
		"expr": rules.NewExprEvaluator(),
		"cel":  rules.NewCELEvaluator(),
	}

	tests := []struct {
		name string
		vars map[string]interface{}
		want []string
	}{
		{name: "first matches", vars: map[string]interface{}{"x": 20}, want: []string{"N1"}},
		{name: "falls through", vars: map[string]interface{}{"x": 5}, want: []string{"N2"}},
		{name: "unbound variable", vars: map[string]interface{}{}, want: []string{"N2"}},
		{name: "wrong type", vars: map[string]interface{}{"x": "twenty"}, want: []string{"N2"}},
	}

	for evName, ev := range evaluators {
		for _, tt := range tests {
			t.Run(evName+"/"+tt.name, func(t *testing.T) {
				r := NewResolver(ev, nil)
				assert.Equal(t, tt.want, r.FindNextNodes("C", branchDefinition(""), tt.vars))
			})
		}
	}
}

func TestFindNextNodes_DefaultTarget(t *testing.T) {
	def := branchDefinition("N2")
	cfg := def.Nodes[1].Config.(types.ConditionConfig)
	cfg.Conditions = []types.Condition{{ID: "gt", Expression: "x > 10", TargetNodeID: "N1"}}
	def.Nodes[1].Config = cfg

	assert.Equal(t, []string{"N1"}, FindNextNodes("C", def, map[string]interface{}{"x": 11}))
	assert.Equal(t, []string{"N2"}, FindNextNodes("C", def, map[string]interface{}{"x": 1}))

	cfg.DefaultTargetNodeID = ""
	def.Nodes[1].Config = cfg
	assert.Equal(t, []string{}, FindNextNodes("C", def, map[string]interface{}{"x": 1}))
}

func TestFindNextNodes_ConditionWithoutConnections(t *testing.T) {
	def := branchDefinition("N2")
	def.Connections = def.Connections[:1] // only S -> C

	assert.Equal(t, []string{}, FindNextNodes("C", def, map[string]interface{}{"x": 20}))
}

func TestFindNextNodes_FanOut(t *testing.T) {
	def := &types.WorkflowDefinition{
		Nodes: []types.WorkflowNode{start("S"), task("A"), task("B"), end("E")},
		Connections: []types.WorkflowConnection{
			conn("1", "S", "B"),
			conn("2", "S", "A"),
			conn("3", "A", "E"),
			conn("4", "B", "E"),
		},
	}
	assert.Equal(t, []string{"B", "A"}, FindNextNodes("S", def, nil))
}

func TestFindNextNodes_MalformedExpressions(t *testing.T) {
	def := branchDefinition("")
	cfg := def.Nodes[1].Config.(types.ConditionConfig)
	cfg.Conditions = append([]types.Condition{
		{ID: "syntax", Expression: "x >>> (", TargetNodeID: "N1"},
		{ID: "number", Expression: "x + 1", TargetNodeID: "N1"},
		{ID: "blank", Expression: "", TargetNodeID: "N1"},
	}, cfg.Conditions...)
	def.Nodes[1].Config = cfg

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := NewResolver(rules.NewExprEvaluator(), logger)

	// "x > 10" is now fourth and matches before the "true" fallback.
	assert.Equal(t, []string{"N1"}, r.FindNextNodes("C", def, map[string]interface{}{"x": 20}))
	assert.Contains(t, buf.String(), "condition evaluation failed")
}

func TestFindNextNodes_NumericResultIsNoMatch(t *testing.T) {
	evaluators := map[string]rules.Evaluator{
		"expr": rules.NewExprEvaluator(),
		"cel":  rules.NewCELEvaluator(),
	}

	for evName, ev := range evaluators {
		for _, expression := range []string{"x + 1", "x"} {
			t.Run(evName+"/"+expression, func(t *testing.T) {
				def := branchDefinition("N2")
				cfg := def.Nodes[1].Config.(types.ConditionConfig)
				cfg.Conditions = []types.Condition{{ID: "number", Expression: expression, TargetNodeID: "N1"}}
				def.Nodes[1].Config = cfg

				got := NewResolver(ev, nil).FindNextNodes("C", def, map[string]interface{}{"x": 5})
				assert.Equal(t, []string{"N2"}, got, "a non-boolean value is not a match")
			})
		}
	}
}

type panickingEvaluator struct{}

func (panickingEvaluator) Evaluate(string, map[string]interface{}) (bool, error) {
	panic("evaluator bug")
}

type erroringEvaluator struct{}

func (erroringEvaluator) Evaluate(string, map[string]interface{}) (bool, error) {
	return true, errors.New("broken")
}

func TestFindNextNodes_EvaluatorFailures(t *testing.T) {
	assert.NotPanics(t, func() {
		got := NewResolver(panickingEvaluator{}, nil).FindNextNodes("C", branchDefinition("N2"), nil)
		assert.Equal(t, []string{"N2"}, got)
	})

	got := NewResolver(erroringEvaluator{}, nil).FindNextNodes("C", branchDefinition(""), nil)
	assert.Equal(t, []string{}, got, "an error must count as no match even when the result is true")
}

func TestFindNextNodes_DoesNotMutateVariables(t *testing.T) {
	vars := map[string]interface{}{"x": 20}
	FindNextNodes("C", branchDefinition(""), vars)
	assert.Equal(t, map[string]interface{}{"x": 20}, vars)
}

func TestWalk(t *testing.T) {
	r := NewResolver(nil, nil)

	t.Run("linear", func(t *testing.T) {
		steps, err := r.Walk(linearDefinition(), nil, 0)
		require.NoError(t, err)
		require.Len(t, steps, 3)
		assert.Equal(t, Step{NodeID: "S", NodeType: types.NodeTypeStart, Next: []string{"T"}}, steps[0])
		assert.Equal(t, Step{NodeID: "T", NodeType: types.NodeTypeTask, Next: []string{"E"}}, steps[1])
		assert.Equal(t, Step{NodeID: "E", NodeType: types.NodeTypeEnd, Next: []string{}}, steps[2])
	})

	t.Run("branch", func(t *testing.T) {
		steps, err := r.Walk(branchDefinition(""), map[string]interface{}{"x": 5}, 0)
		require.NoError(t, err)
		var visited []string
		for _, s := range steps {
			visited = append(visited, s.NodeID)
		}
		assert.Equal(t, []string{"S", "C", "N2", "E"}, visited)
	})

	t.Run("fan in visits once", func(t *testing.T) {
		def := &types.WorkflowDefinition{
			Nodes: []types.WorkflowNode{start("S"), task("A"), task("B"), end("E")},
			Connections: []types.WorkflowConnection{
				conn("1", "S", "A"), conn("2", "S", "B"),
				conn("3", "A", "E"), conn("4", "B", "E"),
			},
		}
		steps, err := r.Walk(def, nil, 0)
		require.NoError(t, err)
		require.Len(t, steps, 4)
		assert.Equal(t, "E", steps[3].NodeID)
	})

	t.Run("cycle exhausts budget", func(t *testing.T) {
		def := &types.WorkflowDefinition{
			Nodes: []types.WorkflowNode{start("S"), task("A"), task("B")},
			Connections: []types.WorkflowConnection{
				conn("1", "S", "A"), conn("2", "A", "B"), conn("3", "B", "A"),
			},
		}
		steps, err := r.Walk(def, nil, 10)
		assert.ErrorIs(t, err, ErrMaxStepsExceeded)
		assert.Len(t, steps, 10)
	})

	t.Run("no start", func(t *testing.T) {
		_, err := r.Walk(&types.WorkflowDefinition{Nodes: []types.WorkflowNode{task("A")}}, nil, 0)
		assert.ErrorIs(t, err, ErrNoStartNode)

		_, err = r.Walk(nil, nil, 0)
		assert.ErrorIs(t, err, ErrNoStartNode)
	})
}
