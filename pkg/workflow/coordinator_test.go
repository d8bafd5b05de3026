package workflow

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atlas-fitness/automations/pkg/actions"
	"github.com/atlas-fitness/automations/pkg/events"
	"github.com/atlas-fitness/automations/pkg/models"
	"github.com/atlas-fitness/automations/pkg/persistence/file"
	"github.com/atlas-fitness/automations/pkg/protocol"
	"github.com/atlas-fitness/automations/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedFactory builds actions whose behavior is driven by the test.
type scriptedFactory struct {
	id  string
	run func(ctx context.Context, executionCtx models.ExecutionContext) (any, error)
}

func (f *scriptedFactory) ID() string { return f.id }

func (f *scriptedFactory) Create(_ map[string]any) (protocol.Action, error) {
	return &scriptedAction{run: f.run}, nil
}

type scriptedAction struct {
	run func(ctx context.Context, executionCtx models.ExecutionContext) (any, error)
}

func (a *scriptedAction) Execute(ctx context.Context, executionCtx models.ExecutionContext, _ *slog.Logger) (any, error) {
	return a.run(ctx, executionCtx)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fastPolicy keeps retries and backoff snappy for tests.
func fastPolicy() *models.ExecutionPolicy {
	return &models.ExecutionPolicy{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
		NodeTimeout: time.Second,
	}
}

func setup(t *testing.T, workflow *models.Workflow, factories ...protocol.ActionFactory) (*Coordinator, *file.Persistence) {
	t.Helper()

	fp := file.NewPersistence(t.TempDir())
	require.NoError(t, fp.WorkflowRepository().Save(context.Background(), workflow))

	registry := actions.NewRegistry()
	for _, factory := range factories {
		registry.Register(factory)
	}

	return NewCoordinator(fp, registry, nil, testLogger()), fp
}

func triggerFor(workflow *models.Workflow, payload map[string]any) events.TriggerEvent {
	return events.NewTriggerEvent(
		workflow.ID, "trigger", models.TriggerTypeWebhook, events.TriggerSourceWebhook, payload)
}

func TestExecute_LinearChain(t *testing.T) {
	workflow := &models.Workflow{
		ID:     "wf-1",
		Name:   "Linear",
		Active: true,
		Policy: fastPolicy(),
		Nodes: []*models.Node{
			{ID: "trigger", Kind: models.NodeKindTrigger, TriggerType: models.TriggerTypeWebhook},
			{ID: "a", Kind: models.NodeKindAction, ActionType: "first"},
			{ID: "b", Kind: models.NodeKindAction, ActionType: "second", DependsOn: []string{"a"}},
		},
	}

	var sawUpstream any

	coordinator, fp := setup(t, workflow,
		&scriptedFactory{id: "first", run: func(_ context.Context, _ models.ExecutionContext) (any, error) {
			return map[string]any{"score": 7}, nil
		}},
		&scriptedFactory{id: "second", run: func(_ context.Context, executionCtx models.ExecutionContext) (any, error) {
			sawUpstream = executionCtx.NodeResults["a"]

			return "done", nil
		}},
	)

	trace, err := coordinator.Execute(context.Background(), triggerFor(workflow, map[string]any{"lead": "l-1"}))
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSucceeded, trace.Status)
	assert.Equal(t, map[string]any{"score": 7}, sawUpstream, "downstream node sees upstream result")
	assert.NotNil(t, trace.EndedAt)

	// The trace is durably stored.
	stored, err := fp.TraceRepository().ByID(context.Background(), trace.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSucceeded, stored.Status)
	assert.Equal(t, models.NodeStatusSucceeded, stored.NodeEntry("a").Status)
	assert.Equal(t, models.NodeStatusSucceeded, stored.NodeEntry("b").Status)
}

func TestExecute_FailureSkipsDependents(t *testing.T) {
	// a succeeds, b fails, c depends on b and must be skipped, d is
	// independent and succeeds. Overall: partially_failed.
	workflow := &models.Workflow{
		ID:     "wf-2",
		Name:   "Branches",
		Active: true,
		Policy: fastPolicy(),
		Nodes: []*models.Node{
			{ID: "trigger", Kind: models.NodeKindTrigger, TriggerType: models.TriggerTypeWebhook},
			{ID: "a", Kind: models.NodeKindAction, ActionType: "ok"},
			{ID: "b", Kind: models.NodeKindAction, ActionType: "boom", DependsOn: []string{"a"}},
			{ID: "c", Kind: models.NodeKindAction, ActionType: "ok", DependsOn: []string{"b"}},
			{ID: "d", Kind: models.NodeKindAction, ActionType: "ok"},
		},
	}

	coordinator, _ := setup(t, workflow,
		&scriptedFactory{id: "ok", run: func(_ context.Context, _ models.ExecutionContext) (any, error) {
			return "ok", nil
		}},
		&scriptedFactory{id: "boom", run: func(_ context.Context, _ models.ExecutionContext) (any, error) {
			return nil, errors.New("downstream system unavailable")
		}},
	)

	trace, err := coordinator.Execute(context.Background(), triggerFor(workflow, nil))
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusPartiallyFailed, trace.Status)
	assert.Equal(t, models.NodeStatusSucceeded, trace.NodeEntry("a").Status)
	assert.Equal(t, models.NodeStatusFailed, trace.NodeEntry("b").Status)
	assert.Equal(t, models.NodeStatusSkipped, trace.NodeEntry("c").Status)
	assert.Equal(t, models.NodeStatusSucceeded, trace.NodeEntry("d").Status)
	assert.Contains(t, trace.NodeEntry("b").Error, "downstream system unavailable")
	assert.Equal(t, 3, trace.NodeEntry("b").Attempts, "failed node exhausted its attempts")
	assert.Zero(t, trace.NodeEntry("c").Attempts, "skipped node never ran")
}

func TestExecute_AllNodesFail(t *testing.T) {
	workflow := &models.Workflow{
		ID:     "wf-3",
		Name:   "Doomed",
		Active: true,
		Policy: fastPolicy(),
		Nodes: []*models.Node{
			{ID: "trigger", Kind: models.NodeKindTrigger, TriggerType: models.TriggerTypeWebhook},
			{ID: "a", Kind: models.NodeKindAction, ActionType: "boom"},
		},
	}

	coordinator, _ := setup(t, workflow,
		&scriptedFactory{id: "boom", run: func(_ context.Context, _ models.ExecutionContext) (any, error) {
			return nil, errors.New("nope")
		}},
	)

	trace, err := coordinator.Execute(context.Background(), triggerFor(workflow, nil))
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, trace.Status)
	assert.Contains(t, trace.NodeEntry("a").Error, "nope")
}

func TestExecute_TriggerOnlyWorkflowFails(t *testing.T) {
	workflow := &models.Workflow{
		ID:     "wf-9",
		Name:   "Just a trigger",
		Active: true,
		Policy: fastPolicy(),
		Nodes: []*models.Node{
			{ID: "trigger", Kind: models.NodeKindTrigger, TriggerType: models.TriggerTypeWebhook},
		},
	}

	coordinator, _ := setup(t, workflow)

	trace, err := coordinator.Execute(context.Background(), triggerFor(workflow, nil))
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, trace.Status, "no action nodes means nothing ran")
	assert.NotNil(t, trace.EndedAt)
}

func TestExecute_RetrySucceedsEventually(t *testing.T) {
	workflow := &models.Workflow{
		ID:     "wf-4",
		Name:   "Flaky",
		Active: true,
		Policy: fastPolicy(),
		Nodes: []*models.Node{
			{ID: "trigger", Kind: models.NodeKindTrigger, TriggerType: models.TriggerTypeWebhook},
			{ID: "a", Kind: models.NodeKindAction, ActionType: "flaky"},
		},
	}

	var calls atomic.Int32

	coordinator, _ := setup(t, workflow,
		&scriptedFactory{id: "flaky", run: func(_ context.Context, _ models.ExecutionContext) (any, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("transient")
			}

			return "ok", nil
		}},
	)

	trace, err := coordinator.Execute(context.Background(), triggerFor(workflow, nil))
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSucceeded, trace.Status)
	assert.Equal(t, 3, trace.NodeEntry("a").Attempts)
}

func TestExecute_AttemptTimeout(t *testing.T) {
	workflow := &models.Workflow{
		ID:     "wf-5",
		Name:   "Slow",
		Active: true,
		Policy: &models.ExecutionPolicy{
			MaxAttempts: 1,
			BackoffBase: time.Millisecond,
			BackoffCap:  time.Millisecond,
			NodeTimeout: 30 * time.Millisecond,
		},
		Nodes: []*models.Node{
			{ID: "trigger", Kind: models.NodeKindTrigger, TriggerType: models.TriggerTypeWebhook},
			{ID: "a", Kind: models.NodeKindAction, ActionType: "slow"},
		},
	}

	coordinator, _ := setup(t, workflow,
		&scriptedFactory{id: "slow", run: func(ctx context.Context, _ models.ExecutionContext) (any, error) {
			select {
			case <-time.After(time.Second):
				return "too late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}},
	)

	trace, err := coordinator.Execute(context.Background(), triggerFor(workflow, nil))
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, trace.Status)
	assert.Contains(t, trace.NodeEntry("a").Error, "context deadline exceeded")
}

func TestExecute_InactiveWorkflow(t *testing.T) {
	workflow := &models.Workflow{
		ID:     "wf-6",
		Name:   "Off",
		Active: false,
		Nodes: []*models.Node{
			{ID: "trigger", Kind: models.NodeKindTrigger, TriggerType: models.TriggerTypeWebhook},
			{ID: "a", Kind: models.NodeKindAction, ActionType: "ok"},
		},
	}

	coordinator, _ := setup(t, workflow)

	_, err := coordinator.Execute(context.Background(), triggerFor(workflow, nil))
	assert.ErrorIs(t, err, services.ErrWorkflowInactive)
}

func TestExecute_PerWorkflowConcurrencyLimit(t *testing.T) {
	workflow := &models.Workflow{
		ID:     "wf-7",
		Name:   "Serialized",
		Active: true,
		Policy: &models.ExecutionPolicy{
			MaxAttempts:             1,
			BackoffBase:             time.Millisecond,
			BackoffCap:              time.Millisecond,
			NodeTimeout:             time.Second,
			MaxConcurrentExecutions: 1,
		},
		Nodes: []*models.Node{
			{ID: "trigger", Kind: models.NodeKindTrigger, TriggerType: models.TriggerTypeWebhook},
			{ID: "a", Kind: models.NodeKindAction, ActionType: "observe"},
		},
	}

	var inFlight, maxInFlight atomic.Int32

	coordinator, _ := setup(t, workflow,
		&scriptedFactory{id: "observe", run: func(_ context.Context, _ models.ExecutionContext) (any, error) {
			current := inFlight.Add(1)
			defer inFlight.Add(-1)

			for {
				observed := maxInFlight.Load()
				if current <= observed || maxInFlight.CompareAndSwap(observed, current) {
					break
				}
			}

			time.Sleep(20 * time.Millisecond)

			return "ok", nil
		}},
	)

	var wg sync.WaitGroup

	for range 4 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := coordinator.Execute(context.Background(), triggerFor(workflow, nil))
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load(), "executions of one workflow are serialized at limit 1")
}

func TestExecute_BoundedNodeConcurrency(t *testing.T) {
	nodes := []*models.Node{
		{ID: "trigger", Kind: models.NodeKindTrigger, TriggerType: models.TriggerTypeWebhook},
	}
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		nodes = append(nodes, &models.Node{ID: id, Kind: models.NodeKindAction, ActionType: "observe"})
	}

	workflow := &models.Workflow{
		ID:     "wf-8",
		Name:   "Fanout",
		Active: true,
		Policy: &models.ExecutionPolicy{
			MaxAttempts:     1,
			BackoffBase:     time.Millisecond,
			BackoffCap:      time.Millisecond,
			NodeTimeout:     time.Second,
			NodeConcurrency: 2,
		},
		Nodes: nodes,
	}

	var inFlight, maxInFlight atomic.Int32

	coordinator, _ := setup(t, workflow,
		&scriptedFactory{id: "observe", run: func(_ context.Context, _ models.ExecutionContext) (any, error) {
			current := inFlight.Add(1)
			defer inFlight.Add(-1)

			for {
				observed := maxInFlight.Load()
				if current <= observed || maxInFlight.CompareAndSwap(observed, current) {
					break
				}
			}

			time.Sleep(10 * time.Millisecond)

			return "ok", nil
		}},
	)

	trace, err := coordinator.Execute(context.Background(), triggerFor(workflow, nil))
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSucceeded, trace.Status)
	assert.LessOrEqual(t, maxInFlight.Load(), int32(2), "at most two nodes run at once")
}
