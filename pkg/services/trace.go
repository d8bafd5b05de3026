package services

import (
	"context"

	"github.com/atlas-fitness/automations/pkg/models"
	"github.com/atlas-fitness/automations/pkg/persistence"
)

// ErrTraceNotFound is re-exported so API handlers depend on services only.
var ErrTraceNotFound = persistence.ErrTraceNotFound

// Trace exposes execution traces, the engine's only durable execution record.
type Trace struct {
	persistence persistence.Persistence
}

func NewTrace(persistence persistence.Persistence) *Trace {
	return &Trace{persistence: persistence}
}

// FetchByID returns one execution trace.
func (t *Trace) FetchByID(ctx context.Context, id string) (*models.ExecutionTrace, error) {
	return t.persistence.TraceRepository().ByID(ctx, id)
}

// ListByWorkflow returns a workflow's traces oldest first.
func (t *Trace) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.ExecutionTrace, error) {
	return t.persistence.TraceRepository().ByWorkflowID(ctx, workflowID)
}
