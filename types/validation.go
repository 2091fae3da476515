package types

// Severity tells whether an issue blocks activation.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue codes reported by the validator.
const (
	CodeNilDefinition           = "nil_definition"
	CodeEmptyWorkflow           = "empty_workflow"
	CodeMissingStartNode        = "missing_start_node"
	CodeMultipleStartNodes      = "multiple_start_nodes"
	CodeMissingEndNode          = "missing_end_node"
	CodeDuplicateNodeID         = "duplicate_node_id"
	CodeDuplicateConnectionID   = "duplicate_connection_id"
	CodeEmptyName               = "empty_name"
	CodeUnknownNodeType         = "unknown_node_type"
	CodeMissingConfig           = "missing_config"
	CodeDanglingConditionTarget = "dangling_condition_target"
	CodeDanglingSource          = "dangling_source"
	CodeDanglingTarget          = "dangling_target"
	CodeStartHasInput           = "start_has_input"
	CodeEndHasOutput            = "end_has_output"
	CodeOrphanNode              = "orphan_node"
	CodeCycleDetected           = "cycle_detected"
)

// ValidationIssue is a single finding, optionally bound to a node, connection or field.
type ValidationIssue struct {
	Type         Severity `json:"type"`
	Code         string   `json:"code"`
	Message      string   `json:"message"`
	NodeID       string   `json:"nodeId,omitempty"`
	ConnectionID string   `json:"connectionId,omitempty"`
	Field        string   `json:"field,omitempty"`
}

// ValidationResult aggregates the findings of one validation run.
// IsValid is true iff Errors is empty.
type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

// NewValidationResult returns an empty, valid result.
func NewValidationResult() ValidationResult {
	return ValidationResult{
		IsValid:  true,
		Errors:   []ValidationIssue{},
		Warnings: []ValidationIssue{},
	}
}

// AddError appends an error-severity issue and marks the result invalid.
func (r *ValidationResult) AddError(issue ValidationIssue) {
	issue.Type = SeverityError
	r.Errors = append(r.Errors, issue)
	r.IsValid = false
}

// AddWarning appends a warning-severity issue.
func (r *ValidationResult) AddWarning(issue ValidationIssue) {
	issue.Type = SeverityWarning
	r.Warnings = append(r.Warnings, issue)
}

// HasCode reports whether any error or warning carries code.
func (r ValidationResult) HasCode(code string) bool {
	for _, issue := range r.Errors {
		if issue.Code == code {
			return true
		}
	}
	for _, issue := range r.Warnings {
		if issue.Code == code {
			return true
		}
	}
	return false
}
