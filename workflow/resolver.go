package workflow

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/songzhibin97/itsm-workflow/rules"
	"github.com/songzhibin97/itsm-workflow/types"
)

// DefaultMaxSteps bounds Walk so that cyclic definitions terminate.
const DefaultMaxSteps = 100

var (
	// ErrNoStartNode is returned by Walk for definitions without a start node.
	ErrNoStartNode = errors.New("workflow has no start node")
	// ErrMaxStepsExceeded is returned by Walk when the step budget runs out.
	ErrMaxStepsExceeded = errors.New("maximum number of steps exceeded")
)

// Resolver computes successor nodes. Condition expressions go through its Evaluator.
type Resolver struct {
	evaluator rules.Evaluator
	logger    *slog.Logger
}

// NewResolver creates a Resolver. A nil evaluator falls back to rules.ExprEvaluator,
// a nil logger discards output.
func NewResolver(evaluator rules.Evaluator, logger *slog.Logger) *Resolver {
	if evaluator == nil {
		evaluator = rules.NewExprEvaluator()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{evaluator: evaluator, logger: logger}
}

// FindNextNodes resolves the successors of currentNodeID with a fresh expr evaluator.
func FindNextNodes(currentNodeID string, def *types.WorkflowDefinition, variables map[string]interface{}) []string {
	return NewResolver(nil, nil).FindNextNodes(currentNodeID, def, variables)
}

// FindNextNodes returns the ids of the nodes that follow currentNodeID.
// A node without outgoing connections yields an empty list. A condition node
// yields the target of its first matching condition, else its default target.
// Every other node yields all of its outgoing targets in connection order.
func (r *Resolver) FindNextNodes(currentNodeID string, def *types.WorkflowDefinition, variables map[string]interface{}) []string {
	next := []string{}
	if def == nil {
		return next
	}

	var targets []string
	for _, conn := range def.Connections {
		if conn.SourceNodeID == currentNodeID {
			targets = append(targets, conn.TargetNodeID)
		}
	}
	if len(targets) == 0 {
		return next
	}

	node, ok := findNode(def, currentNodeID)
	if ok {
		if cfg, isCondition := node.Config.(types.ConditionConfig); isCondition {
			return r.evaluateConditions(node.ID, cfg, variables)
		}
	}

	return append(next, targets...)
}

func (r *Resolver) evaluateConditions(nodeID string, cfg types.ConditionConfig, variables map[string]interface{}) []string {
	env := make(map[string]interface{}, len(variables))
	for k, v := range variables {
		env[k] = v
	}

	for _, cond := range cfg.Conditions {
		if r.matches(nodeID, cond, env) {
			return []string{cond.TargetNodeID}
		}
	}

	if cfg.DefaultTargetNodeID != "" {
		return []string{cfg.DefaultTargetNodeID}
	}
	return []string{}
}

// matches evaluates one condition; any failure counts as no match.
func (r *Resolver) matches(nodeID string, cond types.Condition, env map[string]interface{}) (matched bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("condition evaluation panicked",
				"node_id", nodeID, "condition_id", cond.ID, "panic", fmt.Sprint(rec))
			matched = false
		}
	}()

	ok, err := r.evaluator.Evaluate(cond.Expression, env)
	if err != nil {
		r.logger.Debug("condition evaluation failed",
			"node_id", nodeID, "condition_id", cond.ID, "expression", cond.Expression, "error", err)
		return false
	}
	return ok
}

// Step is one visited node of a Walk.
type Step struct {
	NodeID   string         `json:"nodeId"`
	NodeType types.NodeType `json:"nodeType"`
	Next     []string       `json:"next"`
}

// Walk follows the resolver from the start node breadth-first and returns the
// visited steps in order. A node already waiting in the queue is not queued twice,
// so parallel branches meeting at one node visit it once. Walk stops when no
// successors remain, or fails with ErrMaxStepsExceeded after maxSteps steps.
func (r *Resolver) Walk(def *types.WorkflowDefinition, variables map[string]interface{}, maxSteps int) ([]Step, error) {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	if def == nil {
		return nil, ErrNoStartNode
	}

	startID := ""
	for _, node := range def.Nodes {
		if node.Type() == types.NodeTypeStart {
			startID = node.ID
			break
		}
	}
	if startID == "" {
		return nil, ErrNoStartNode
	}

	trace := []Step{}
	queue := []string{startID}
	pending := map[string]bool{startID: true}

	for len(queue) > 0 {
		if len(trace) >= maxSteps {
			return trace, fmt.Errorf("%w: %d", ErrMaxStepsExceeded, maxSteps)
		}

		id := queue[0]
		queue = queue[1:]
		pending[id] = false

		step := Step{NodeID: id, Next: r.FindNextNodes(id, def, variables)}
		if node, ok := findNode(def, id); ok {
			step.NodeType = node.Type()
		}
		trace = append(trace, step)

		for _, nextID := range step.Next {
			if pending[nextID] {
				continue
			}
			pending[nextID] = true
			queue = append(queue, nextID)
		}
	}
	return trace, nil
}

// findNode finds a node by ID in the workflow.
func findNode(def *types.WorkflowDefinition, nodeID string) (types.WorkflowNode, bool) {
	for _, node := range def.Nodes {
		if node.ID == nodeID {
			return node, true
		}
	}
	return types.WorkflowNode{}, false
}
