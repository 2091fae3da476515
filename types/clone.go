package types

import "slices"

// Clone returns a deep copy of the definition. Stores and caches hold clones
// so callers cannot edit a stored graph behind the validator's back.
func (d WorkflowDefinition) Clone() WorkflowDefinition {
	out := d
	if d.Nodes != nil {
		out.Nodes = make([]WorkflowNode, len(d.Nodes))
		for i, node := range d.Nodes {
			out.Nodes[i] = node.Clone()
		}
	}
	out.Connections = slices.Clone(d.Connections)
	return out
}

// Clone returns a deep copy of the node and its config.
func (n WorkflowNode) Clone() WorkflowNode {
	out := n
	out.Config = cloneConfig(n.Config)
	return out
}

func cloneConfig(cfg NodeConfig) NodeConfig {
	switch c := cfg.(type) {
	case TaskConfig:
		c.Assignees = slices.Clone(c.Assignees)
		c.FormFields = slices.Clone(c.FormFields)
		c.RequiredFields = slices.Clone(c.RequiredFields)
		return c
	case ApprovalConfig:
		c.Approvers = slices.Clone(c.Approvers)
		return c
	case ConditionConfig:
		c.Conditions = slices.Clone(c.Conditions)
		return c
	case ScriptConfig:
		c.InputVariables = slices.Clone(c.InputVariables)
		c.OutputVariables = slices.Clone(c.OutputVariables)
		return c
	case NotificationConfig:
		if c.Recipients != nil {
			recipients := make([]Recipient, len(c.Recipients))
			for i, r := range c.Recipients {
				recipients[i] = Recipient{Type: r.Type, Value: cloneValue(r.Value)}
			}
			c.Recipients = recipients
		}
		return c
	default:
		// start, end and nil configs hold no reference types
		return cfg
	}
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []int64:
		return slices.Clone(val)
	case []string:
		return slices.Clone(val)
	default:
		return v
	}
}
