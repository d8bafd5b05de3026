package file

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-fitness/automations/pkg/models"
	"github.com/atlas-fitness/automations/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowRepository_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	fp := NewPersistence(t.TempDir())

	workflow := &models.Workflow{
		ID:     "wf-1",
		Name:   "Lead follow-up",
		Active: true,
		Nodes: []*models.Node{
			{ID: "trigger", Kind: models.NodeKindTrigger, TriggerType: models.TriggerTypeNewLead},
		},
	}

	require.NoError(t, fp.WorkflowRepository().Save(ctx, workflow))

	loaded, err := fp.WorkflowRepository().ByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Lead follow-up", loaded.Name)
	assert.False(t, loaded.CreatedAt.IsZero())

	all, err := fp.WorkflowRepository().All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestWorkflowRepository_NotFound(t *testing.T) {
	fp := NewPersistence(t.TempDir())

	_, err := fp.WorkflowRepository().ByID(context.Background(), "ghost")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_SoftDelete(t *testing.T) {
	ctx := context.Background()
	fp := NewPersistence(t.TempDir())

	workflow := &models.Workflow{ID: "wf-1", Name: "Lead follow-up", Active: true}
	require.NoError(t, fp.WorkflowRepository().Save(ctx, workflow))
	require.NoError(t, fp.WorkflowRepository().Delete(ctx, "wf-1"))

	// Soft-deleted workflows stay loadable by ID but vanish from listings.
	loaded, err := fp.WorkflowRepository().ByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.NotNil(t, loaded.DeletedAt)
	assert.False(t, loaded.Active)

	all, err := fp.WorkflowRepository().All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSecretRepository_ScopedByTrigger(t *testing.T) {
	ctx := context.Background()
	fp := NewPersistence(t.TempDir())

	require.NoError(t, fp.SecretRepository().Save(ctx, &models.Secret{
		ID: "sec-1", TriggerID: "trigger-a", Status: models.SecretStatusActive,
	}))
	require.NoError(t, fp.SecretRepository().Save(ctx, &models.Secret{
		ID: "sec-2", TriggerID: "trigger-b", Status: models.SecretStatusActive,
	}))

	secrets, err := fp.SecretRepository().ByTriggerID(ctx, "trigger-a")
	require.NoError(t, err)
	require.Len(t, secrets, 1)
	assert.Equal(t, "sec-1", secrets[0].ID)
}

func TestScheduleRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fp := NewPersistence(t.TempDir())

	schedule, err := models.NewSchedule("sch-1", "wf-1", "trigger", "0 9 * * *")
	require.NoError(t, err)
	require.NoError(t, fp.ScheduleRepository().Save(ctx, schedule))

	all, err := fp.ScheduleRepository().All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "0 9 * * *", all[0].CronExpression)

	require.NoError(t, fp.ScheduleRepository().Delete(ctx, "sch-1"))
	assert.ErrorIs(t, fp.ScheduleRepository().Delete(ctx, "sch-1"), persistence.ErrScheduleNotFound)
}

func TestTraceRepository_ByWorkflow(t *testing.T) {
	ctx := context.Background()
	fp := NewPersistence(t.TempDir())

	first := &models.ExecutionTrace{
		ID: "exec-1", WorkflowID: "wf-1",
		Status: models.ExecutionStatusSucceeded, StartedAt: time.Now().UTC().Add(-time.Minute),
	}
	second := &models.ExecutionTrace{
		ID: "exec-2", WorkflowID: "wf-1",
		Status: models.ExecutionStatusFailed, StartedAt: time.Now().UTC(),
	}
	other := &models.ExecutionTrace{ID: "exec-3", WorkflowID: "wf-2", StartedAt: time.Now().UTC()}

	for _, trace := range []*models.ExecutionTrace{second, first, other} {
		require.NoError(t, fp.TraceRepository().Save(ctx, trace))
	}

	traces, err := fp.TraceRepository().ByWorkflowID(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, traces, 2)
	assert.Equal(t, "exec-1", traces[0].ID, "traces come back oldest first")

	_, err = fp.TraceRepository().ByID(ctx, "ghost")
	assert.True(t, persistence.IsTraceNotFound(err))
}
