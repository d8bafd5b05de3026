// Package workflow runs workflow executions: it resolves the node graph,
// schedules action nodes with bounded concurrency, applies the retry policy
// and records every transition in the execution trace.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atlas-fitness/automations/pkg/actions"
	"github.com/atlas-fitness/automations/pkg/events"
	"github.com/atlas-fitness/automations/pkg/eventbus"
	"github.com/atlas-fitness/automations/pkg/models"
	"github.com/atlas-fitness/automations/pkg/persistence"
	"github.com/atlas-fitness/automations/pkg/services"
	"github.com/google/uuid"
)

// Coordinator executes workflows in response to admitted trigger events. One
// coordinator serves many workflows; executions of the same workflow share a
// concurrency slot pool and queue when it is exhausted.
type Coordinator struct {
	persistence persistence.Persistence
	actions     *actions.Registry
	publisher   eventbus.EventPublisher
	logger      *slog.Logger

	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewCoordinator(
	persistence persistence.Persistence,
	actionRegistry *actions.Registry,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		persistence: persistence,
		actions:     actionRegistry,
		publisher:   publisher,
		logger:      logger.With("module", "coordinator"),
		slots:       make(map[string]chan struct{}),
	}
}

// Execute runs one execution to completion and returns its trace. The trace
// is the only durable record of the run; it is saved on every node
// transition so a crash leaves behind the furthest state reached.
func (c *Coordinator) Execute(ctx context.Context, trigger events.TriggerEvent) (*models.ExecutionTrace, error) {
	workflow, err := c.persistence.WorkflowRepository().ByID(ctx, trigger.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch workflow %s: %w", trigger.WorkflowID, err)
	}

	if !workflow.Active || workflow.DeletedAt != nil {
		return nil, services.ErrWorkflowInactive
	}

	policy := workflow.Policy.Normalized()

	release, err := c.acquireSlot(ctx, workflow.ID, policy.MaxConcurrentExecutions)
	if err != nil {
		return nil, err
	}
	defer release()

	return c.run(ctx, workflow, policy, trigger)
}

// acquireSlot blocks until the workflow has a free execution slot. Queued
// executions wait in FIFO-ish channel order; context cancellation abandons
// the wait.
func (c *Coordinator) acquireSlot(ctx context.Context, workflowID string, limit int) (func(), error) {
	c.mu.Lock()

	slots, found := c.slots[workflowID]
	if !found || cap(slots) != limit {
		slots = make(chan struct{}, limit)
		c.slots[workflowID] = slots
	}
	c.mu.Unlock()

	select {
	case slots <- struct{}{}:
		return func() { <-slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type nodeResult struct {
	nodeID   string
	attempts int
	output   any
	err      error
}

func (c *Coordinator) run(
	ctx context.Context,
	workflow *models.Workflow,
	policy models.ExecutionPolicy,
	trigger events.TriggerEvent,
) (*models.ExecutionTrace, error) {
	logger := c.logger.With("workflow_id", workflow.ID, "trigger_event_id", trigger.ID)

	trace := &models.ExecutionTrace{
		ID:             "exec-" + uuid.New().String(),
		WorkflowID:     workflow.ID,
		TriggerEventID: trigger.ID,
		Status:         models.ExecutionStatusRunning,
		StartedAt:      time.Now().UTC(),
	}

	logger = logger.With("execution_id", trace.ID)
	logger.InfoContext(ctx, "Starting workflow execution")

	actionNodes := workflow.ActionNodes()
	nodesByID := make(map[string]*models.Node, len(actionNodes))

	for _, node := range actionNodes {
		nodesByID[node.ID] = node
		trace.NodeEntry(node.ID).Status = models.NodeStatusPending
	}

	c.saveTrace(ctx, trace, logger)
	c.publish(ctx, trace.ID, events.WorkflowExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.WorkflowExecutionStartedEvent),
		ExecutionID: trace.ID,
		WorkflowID:  workflow.ID,
	})

	statuses := make(map[string]models.NodeStatus, len(actionNodes))
	for _, node := range actionNodes {
		statuses[node.ID] = models.NodeStatusPending
	}

	nodeResults := make(map[string]any)
	workers := make(chan struct{}, policy.NodeConcurrency)
	results := make(chan nodeResult)
	running := 0

	for {
		progressed := c.propagateSkips(ctx, trace, nodesByID, statuses, logger)

		for _, node := range actionNodes {
			if statuses[node.ID] != models.NodeStatusPending || !depsSucceeded(node, statuses) {
				continue
			}

			statuses[node.ID] = models.NodeStatusRunning
			running++
			progressed = true

			entry := trace.NodeEntry(node.ID)
			entry.Status = models.NodeStatusRunning
			now := time.Now().UTC()
			entry.StartedAt = &now

			executionCtx := models.ExecutionContext{
				ID:          trace.ID,
				WorkflowID:  workflow.ID,
				TriggerData: trigger.Payload,
				NodeResults: copyResults(nodeResults),
			}

			go func(node *models.Node) {
				workers <- struct{}{}
				defer func() { <-workers }()

				results <- c.runNode(ctx, node, policy, executionCtx, logger)
			}(node)
		}

		if running == 0 {
			if !progressed {
				break
			}

			continue
		}

		result := <-results
		running--

		entry := trace.NodeEntry(result.nodeID)
		entry.Attempts = result.attempts
		now := time.Now().UTC()
		entry.EndedAt = &now

		if result.err != nil {
			statuses[result.nodeID] = models.NodeStatusFailed
			entry.Status = models.NodeStatusFailed
			entry.Error = result.err.Error()

			logger.WarnContext(ctx, "Node execution failed",
				"node_id", result.nodeID, "attempts", result.attempts, "error", result.err)

			c.publish(ctx, trace.ID, events.NodeExecutionFailed{
				BaseEvent:   events.NewBaseEvent(events.NodeExecutionFailedEvent),
				ExecutionID: trace.ID,
				WorkflowID:  workflow.ID,
				NodeID:      result.nodeID,
				Attempts:    result.attempts,
				Error:       result.err.Error(),
			})
		} else {
			statuses[result.nodeID] = models.NodeStatusSucceeded
			entry.Status = models.NodeStatusSucceeded
			nodeResults[result.nodeID] = result.output

			c.publish(ctx, trace.ID, events.NodeExecutionFinished{
				BaseEvent:   events.NewBaseEvent(events.NodeExecutionFinishedEvent),
				ExecutionID: trace.ID,
				WorkflowID:  workflow.ID,
				NodeID:      result.nodeID,
				Status:      models.NodeStatusSucceeded,
				Attempts:    result.attempts,
			})
		}

		c.saveTrace(ctx, trace, logger)
	}

	trace.Status = deriveStatus(statuses)
	ended := time.Now().UTC()
	trace.EndedAt = &ended

	c.saveTrace(ctx, trace, logger)
	c.publish(ctx, trace.ID, events.WorkflowExecutionCompleted{
		BaseEvent:   events.NewBaseEvent(events.WorkflowExecutionCompletedEvent),
		ExecutionID: trace.ID,
		WorkflowID:  workflow.ID,
		Status:      trace.Status,
		Duration:    ended.Sub(trace.StartedAt),
	})

	logger.InfoContext(ctx, "Workflow execution finished",
		"status", trace.Status, "duration", ended.Sub(trace.StartedAt).String())

	return trace, nil
}

// propagateSkips marks pending nodes whose dependencies failed or were
// skipped. Skips cascade until a fixpoint.
func (c *Coordinator) propagateSkips(
	ctx context.Context,
	trace *models.ExecutionTrace,
	nodesByID map[string]*models.Node,
	statuses map[string]models.NodeStatus,
	logger *slog.Logger,
) bool {
	progressed := false

	for changed := true; changed; {
		changed = false

		for nodeID, status := range statuses {
			if status != models.NodeStatusPending {
				continue
			}

			for _, dep := range nodesByID[nodeID].DependsOn {
				if statuses[dep] == models.NodeStatusFailed || statuses[dep] == models.NodeStatusSkipped {
					statuses[nodeID] = models.NodeStatusSkipped
					trace.NodeEntry(nodeID).Status = models.NodeStatusSkipped
					changed = true
					progressed = true

					logger.InfoContext(ctx, "Skipping node, dependency did not succeed",
						"node_id", nodeID, "dependency", dep)

					break
				}
			}
		}
	}

	if progressed {
		c.saveTrace(ctx, trace, logger)
	}

	return progressed
}

// runNode executes one node with the retry policy: up to MaxAttempts, each
// attempt bounded by NodeTimeout, exponential backoff between attempts.
func (c *Coordinator) runNode(
	ctx context.Context,
	node *models.Node,
	policy models.ExecutionPolicy,
	executionCtx models.ExecutionContext,
	logger *slog.Logger,
) nodeResult {
	logger = logger.With("node_id", node.ID, "action_type", node.ActionType)

	action, err := c.actions.Create(node.ActionType, node.Config)
	if err != nil {
		return nodeResult{nodeID: node.ID, attempts: 0, err: err}
	}

	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoffDelay(policy, attempt)
			logger.InfoContext(ctx, "Retrying node", "attempt", attempt, "delay", delay.String())

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nodeResult{nodeID: node.ID, attempts: attempt - 1, err: ctx.Err()}
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, policy.NodeTimeout)
		output, err := action.Execute(attemptCtx, executionCtx, logger)
		cancel()

		if err == nil {
			return nodeResult{nodeID: node.ID, attempts: attempt, output: output}
		}

		lastErr = err
	}

	return nodeResult{
		nodeID:   node.ID,
		attempts: policy.MaxAttempts,
		err:      fmt.Errorf("%w after %d attempts: %w", services.ErrActionExecutionFailed, policy.MaxAttempts, lastErr),
	}
}

// backoffDelay doubles the base per attempt already made, capped.
func backoffDelay(policy models.ExecutionPolicy, attempt int) time.Duration {
	delay := policy.BackoffBase << (attempt - 2)
	if delay > policy.BackoffCap || delay <= 0 {
		delay = policy.BackoffCap
	}

	return delay
}

// deriveStatus folds node outcomes into the execution status: succeeded when
// every node succeeded, failed when none did, partially_failed otherwise. A
// workflow with no action nodes has nothing it could have done, so the run is
// failed, not vacuously succeeded.
func deriveStatus(statuses map[string]models.NodeStatus) models.ExecutionStatus {
	if len(statuses) == 0 {
		return models.ExecutionStatusFailed
	}

	succeeded, finished := 0, 0

	for _, status := range statuses {
		finished++

		if status == models.NodeStatusSucceeded {
			succeeded++
		}
	}

	switch {
	case succeeded == finished:
		return models.ExecutionStatusSucceeded
	case succeeded == 0:
		return models.ExecutionStatusFailed
	default:
		return models.ExecutionStatusPartiallyFailed
	}
}

func depsSucceeded(node *models.Node, statuses map[string]models.NodeStatus) bool {
	for _, dep := range node.DependsOn {
		if statuses[dep] != models.NodeStatusSucceeded {
			return false
		}
	}

	return true
}

func copyResults(results map[string]any) map[string]any {
	copied := make(map[string]any, len(results))
	for nodeID, output := range results {
		copied[nodeID] = output
	}

	return copied
}

func (c *Coordinator) saveTrace(ctx context.Context, trace *models.ExecutionTrace, logger *slog.Logger) {
	if err := c.persistence.TraceRepository().Save(ctx, trace); err != nil {
		logger.ErrorContext(ctx, "Failed to save execution trace", "error", err)
	}
}

func (c *Coordinator) publish(ctx context.Context, key string, event eventbus.Event) {
	if c.publisher == nil {
		return
	}

	if err := c.publisher.Publish(ctx, key, event); err != nil {
		c.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
