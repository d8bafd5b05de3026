package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWorkflow() *Workflow {
	return &Workflow{
		ID:     "wf-1",
		Name:   "New lead welcome",
		Active: true,
		Nodes: []*Node{
			{ID: "trigger", Kind: NodeKindTrigger, TriggerType: TriggerTypeNewLead},
			{ID: "a", Kind: NodeKindAction, ActionType: "log"},
			{ID: "b", Kind: NodeKindAction, ActionType: "log", DependsOn: []string{"a"}},
		},
	}
}

func TestWorkflow_TriggerNode(t *testing.T) {
	workflow := testWorkflow()

	trigger, err := workflow.TriggerNode()
	require.NoError(t, err)
	assert.Equal(t, "trigger", trigger.ID)
}

func TestWorkflow_TriggerNodeMissing(t *testing.T) {
	workflow := testWorkflow()
	workflow.Nodes = workflow.Nodes[1:]

	_, err := workflow.TriggerNode()
	assert.ErrorIs(t, err, ErrNoTriggerNode)
}

func TestWorkflow_TriggerNodeDuplicated(t *testing.T) {
	workflow := testWorkflow()
	workflow.Nodes = append(workflow.Nodes, &Node{
		ID: "trigger-2", Kind: NodeKindTrigger, TriggerType: TriggerTypeNewLead,
	})

	_, err := workflow.TriggerNode()
	assert.ErrorIs(t, err, ErrMultipleTriggerNodes)
}

func TestWorkflow_ValidateGraph(t *testing.T) {
	assert.NoError(t, testWorkflow().ValidateGraph())
}

func TestWorkflow_ValidateGraphUnknownDependency(t *testing.T) {
	workflow := testWorkflow()
	workflow.Nodes[2].DependsOn = []string{"ghost"}

	err := workflow.ValidateGraph()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node")
}

func TestWorkflow_ValidateGraphDuplicateID(t *testing.T) {
	workflow := testWorkflow()
	workflow.Nodes = append(workflow.Nodes, &Node{ID: "a", Kind: NodeKindAction, ActionType: "log"})

	assert.ErrorIs(t, workflow.ValidateGraph(), ErrDuplicateNodeID)
}

func TestWorkflow_ValidateGraphDependencyOnTrigger(t *testing.T) {
	workflow := testWorkflow()
	workflow.Nodes[1].DependsOn = []string{"trigger"}

	assert.Error(t, workflow.ValidateGraph())
}

func TestWorkflow_ValidateGraphCycle(t *testing.T) {
	workflow := testWorkflow()
	workflow.Nodes[1].DependsOn = []string{"b"}

	assert.ErrorIs(t, workflow.ValidateGraph(), ErrDependencyCycle)
}

func TestWorkflow_ValidateGraphSelfDependency(t *testing.T) {
	workflow := testWorkflow()
	workflow.Nodes[1].DependsOn = []string{"a"}

	assert.ErrorIs(t, workflow.ValidateGraph(), ErrDependencyCycle)
}

func TestWorkflow_ValidateGraphLongerCycle(t *testing.T) {
	workflow := testWorkflow()
	workflow.Nodes = append(workflow.Nodes, &Node{
		ID: "c", Kind: NodeKindAction, ActionType: "log", DependsOn: []string{"b"},
	})
	workflow.Nodes[1].DependsOn = []string{"c"}

	assert.ErrorIs(t, workflow.ValidateGraph(), ErrDependencyCycle)
}

func TestWorkflow_ValidateGraphDiamondIsNotACycle(t *testing.T) {
	workflow := testWorkflow()
	workflow.Nodes = append(workflow.Nodes,
		&Node{ID: "c", Kind: NodeKindAction, ActionType: "log", DependsOn: []string{"a"}},
		&Node{ID: "d", Kind: NodeKindAction, ActionType: "log", DependsOn: []string{"b", "c"}},
	)

	assert.NoError(t, workflow.ValidateGraph())
}

func TestExecutionPolicy_Normalized(t *testing.T) {
	var policy *ExecutionPolicy

	normalized := policy.Normalized()
	assert.Equal(t, DefaultMaxAttempts, normalized.MaxAttempts)
	assert.Equal(t, DefaultBackoffBase, normalized.BackoffBase)
	assert.Equal(t, DefaultNodeConcurrency, normalized.NodeConcurrency)
	assert.Equal(t, DefaultMaxConcurrentExecutions, normalized.MaxConcurrentExecutions)

	custom := &ExecutionPolicy{MaxAttempts: 5, NodeTimeout: 10 * time.Second}
	normalized = custom.Normalized()
	assert.Equal(t, 5, normalized.MaxAttempts)
	assert.Equal(t, 10*time.Second, normalized.NodeTimeout)
	assert.Equal(t, DefaultBackoffCap, normalized.BackoffCap)
}

func TestIssuedSecret_RevealOnce(t *testing.T) {
	issued := NewIssuedSecret("sec-1", "whsec_abcd1234", "1234")

	plaintext, err := issued.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "whsec_abcd1234", plaintext)

	_, err = issued.Reveal()
	assert.ErrorIs(t, err, ErrSecretAlreadyRevealed)
}

func TestSchedule_Watermark(t *testing.T) {
	schedule, err := NewSchedule("sch-1", "wf-1", "trigger", "*/5 * * * *")
	require.NoError(t, err)

	assert.True(t, schedule.NextDueAt.After(time.Now().UTC().Add(-time.Second)))
	assert.False(t, schedule.IsDue(time.Now().UTC()))

	// Move the watermark into the past and confirm due + advance semantics.
	schedule.NextDueAt = time.Now().UTC().Add(-time.Minute)
	assert.True(t, schedule.IsDue(time.Now().UTC()))

	require.NoError(t, schedule.Advance(time.Now().UTC()))
	assert.False(t, schedule.IsDue(time.Now().UTC()))
}

func TestSchedule_Validate(t *testing.T) {
	schedule := &Schedule{ID: "sch-1", WorkflowID: "wf-1", TriggerNodeID: "trigger", CronExpression: "0 9 * * *"}
	assert.NoError(t, schedule.Validate())

	schedule.CronExpression = ""
	assert.ErrorIs(t, schedule.Validate(), ErrInvalidSchedule)
}

func TestExecutionTrace_NodeEntry(t *testing.T) {
	trace := &ExecutionTrace{ID: "exec-1", WorkflowID: "wf-1"}

	entry := trace.NodeEntry("a")
	entry.Status = NodeStatusRunning

	again := trace.NodeEntry("a")
	assert.Same(t, entry, again)
	assert.Equal(t, NodeStatusRunning, again.Status)
	assert.Len(t, trace.Nodes, 1)
}
