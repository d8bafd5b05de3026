package models

// ExecutionContext carries the state threaded through one execution's action
// nodes: the trigger payload plus the results of already-finished nodes.
type ExecutionContext struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
	NodeResults map[string]any `json:"node_results,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
