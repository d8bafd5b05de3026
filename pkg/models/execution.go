package models

import (
	"time"
)

// ExecutionStatus is the terminal/overall state of one workflow firing.
type ExecutionStatus string

const (
	ExecutionStatusPending         ExecutionStatus = "pending"
	ExecutionStatusRunning         ExecutionStatus = "running"
	ExecutionStatusSucceeded       ExecutionStatus = "succeeded"
	ExecutionStatusFailed          ExecutionStatus = "failed"
	ExecutionStatusPartiallyFailed ExecutionStatus = "partially_failed"
)

// NodeStatus is the state of one node within an execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusSucceeded NodeStatus = "succeeded"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// NodeTraceEntry records the outcome of one node in an execution trace.
type NodeTraceEntry struct {
	NodeID    string     `json:"node_id"`
	Status    NodeStatus `json:"status"`
	Attempts  int        `json:"attempts"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// ExecutionTrace is the sole durable record of what one workflow firing did.
// The coordinator appends a node entry transition for every state change;
// failures land here, never in a dropped log line.
type ExecutionTrace struct {
	ID             string            `json:"id"`
	WorkflowID     string            `json:"workflow_id"`
	TriggerEventID string            `json:"trigger_event_id"`
	Status         ExecutionStatus   `json:"status"`
	Nodes          []*NodeTraceEntry `json:"nodes"`
	StartedAt      time.Time         `json:"started_at"`
	EndedAt        *time.Time        `json:"ended_at,omitempty"`
}

// NodeEntry returns the trace entry for a node, creating it on first access.
func (t *ExecutionTrace) NodeEntry(nodeID string) *NodeTraceEntry {
	for _, entry := range t.Nodes {
		if entry.NodeID == nodeID {
			return entry
		}
	}

	entry := &NodeTraceEntry{NodeID: nodeID, Status: NodeStatusPending}
	t.Nodes = append(t.Nodes, entry)

	return entry
}
