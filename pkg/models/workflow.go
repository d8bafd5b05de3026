// Package models defines the core domain models for the automation engine.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Workflow is a trigger plus a graph of action nodes, owned by one
// organization. Inactive workflows are excluded from trigger matching
// entirely; deletion is soft so execution traces stay inspectable under the
// retention policy.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"        validate:"required,min=3"`
	Description string         `json:"description"`
	Nodes       []*Node        `json:"nodes"`
	Active      bool           `json:"active"`
	Policy      *ExecutionPolicy `json:"policy,omitempty"`
	Owner       string         `json:"owner"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
}

var (
	ErrNoTriggerNode        = errors.New("workflow must have exactly one trigger node")
	ErrMultipleTriggerNodes = errors.New("workflow has more than one trigger node")
	ErrDuplicateNodeID      = errors.New("workflow node IDs must be unique")
	ErrDependencyCycle      = errors.New("workflow dependencies form a cycle")
)

// TriggerNode returns the workflow's single trigger node.
func (w *Workflow) TriggerNode() (*Node, error) {
	var trigger *Node

	for _, node := range w.Nodes {
		if !node.IsTriggerNode() {
			continue
		}

		if trigger != nil {
			return nil, ErrMultipleTriggerNodes
		}

		trigger = node
	}

	if trigger == nil {
		return nil, ErrNoTriggerNode
	}

	return trigger, nil
}

// ActionNodes returns the workflow's action nodes in definition order.
func (w *Workflow) ActionNodes() []*Node {
	actions := make([]*Node, 0, len(w.Nodes))

	for _, node := range w.Nodes {
		if node.IsActionNode() {
			actions = append(actions, node)
		}
	}

	return actions
}

// ValidateGraph checks the structural invariants: exactly one trigger node,
// unique node IDs, depends_on only on action nodes and only referencing
// existing action nodes, no trigger listed as a dependency, no cycles.
func (w *Workflow) ValidateGraph() error {
	if _, err := w.TriggerNode(); err != nil {
		return err
	}

	byID := make(map[string]*Node, len(w.Nodes))

	for _, node := range w.Nodes {
		if _, dup := byID[node.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateNodeID, node.ID)
		}

		byID[node.ID] = node
	}

	for _, node := range w.Nodes {
		if node.IsTriggerNode() && len(node.DependsOn) > 0 {
			return fmt.Errorf("trigger node %q cannot declare dependencies", node.ID)
		}

		for _, dep := range node.DependsOn {
			target, ok := byID[dep]
			if !ok {
				return fmt.Errorf("node %q depends on unknown node %q", node.ID, dep)
			}

			if target.IsTriggerNode() {
				return fmt.Errorf("node %q cannot depend on the trigger node", node.ID)
			}
		}
	}

	return w.checkAcyclic(byID)
}

// checkAcyclic walks depends_on edges depth-first; revisiting a node still on
// the current path means a cycle. Every dep is known to exist by now.
func (w *Workflow) checkAcyclic(byID map[string]*Node) error {
	const (
		visiting = 1
		done     = 2
	)

	state := make(map[string]int, len(w.Nodes))

	var visit func(node *Node) error
	visit = func(node *Node) error {
		switch state[node.ID] {
		case visiting:
			return fmt.Errorf("%w: through node %q", ErrDependencyCycle, node.ID)
		case done:
			return nil
		}

		state[node.ID] = visiting

		for _, dep := range node.DependsOn {
			if err := visit(byID[dep]); err != nil {
				return err
			}
		}

		state[node.ID] = done

		return nil
	}

	for _, node := range w.Nodes {
		if err := visit(node); err != nil {
			return err
		}
	}

	return nil
}

// ExecutionPolicy carries the per-workflow retry and concurrency knobs. Zero
// values fall back to the engine defaults via Normalized.
type ExecutionPolicy struct {
	MaxAttempts             int           `json:"max_attempts,omitempty"              validate:"omitempty,min=1,max=10"`
	BackoffBase             time.Duration `json:"backoff_base,omitempty"`
	BackoffCap              time.Duration `json:"backoff_cap,omitempty"`
	NodeTimeout             time.Duration `json:"node_timeout,omitempty"`
	NodeConcurrency         int           `json:"node_concurrency,omitempty"          validate:"omitempty,min=1,max=32"`
	MaxConcurrentExecutions int           `json:"max_concurrent_executions,omitempty" validate:"omitempty,min=1,max=100"`
}

// Engine defaults, applied when a workflow does not override them.
const (
	DefaultMaxAttempts             = 3
	DefaultBackoffBase             = 1 * time.Second
	DefaultBackoffCap              = 30 * time.Second
	DefaultNodeTimeout             = 30 * time.Second
	DefaultNodeConcurrency         = 4
	DefaultMaxConcurrentExecutions = 10
)

// Normalized returns a policy with every unset field replaced by its default.
func (p *ExecutionPolicy) Normalized() ExecutionPolicy {
	out := ExecutionPolicy{
		MaxAttempts:             DefaultMaxAttempts,
		BackoffBase:             DefaultBackoffBase,
		BackoffCap:              DefaultBackoffCap,
		NodeTimeout:             DefaultNodeTimeout,
		NodeConcurrency:         DefaultNodeConcurrency,
		MaxConcurrentExecutions: DefaultMaxConcurrentExecutions,
	}

	if p == nil {
		return out
	}

	if p.MaxAttempts > 0 {
		out.MaxAttempts = p.MaxAttempts
	}

	if p.BackoffBase > 0 {
		out.BackoffBase = p.BackoffBase
	}

	if p.BackoffCap > 0 {
		out.BackoffCap = p.BackoffCap
	}

	if p.NodeTimeout > 0 {
		out.NodeTimeout = p.NodeTimeout
	}

	if p.NodeConcurrency > 0 {
		out.NodeConcurrency = p.NodeConcurrency
	}

	if p.MaxConcurrentExecutions > 0 {
		out.MaxConcurrentExecutions = p.MaxConcurrentExecutions
	}

	return out
}
