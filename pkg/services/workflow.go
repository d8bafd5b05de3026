package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atlas-fitness/automations/pkg/models"
	"github.com/atlas-fitness/automations/pkg/persistence"
	"github.com/google/uuid"
)

// ErrWorkflowNotFound is re-exported so API handlers depend on services only.
var ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

// Workflow provides the management operations on workflow definitions.
type Workflow struct {
	persistence persistence.Persistence
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence) *Workflow {
	return &Workflow{
		persistence: persistence,
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := w.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	Limit  int `validate:"omitempty,min=1,max=100"`
	Offset int `validate:"min=0"`

	OwnerID string
	Active  *bool
}

// ListWorkflowsResponse contains the result of listing workflows.
type ListWorkflowsResponse struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int                `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}

// ListWorkflows retrieves workflows with filtering and pagination. Soft
// deleted workflows never appear.
func (w *Workflow) ListWorkflows(ctx context.Context, req ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	if req.Limit > 100 {
		req.Limit = 100
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	all, err := w.persistence.WorkflowRepository().All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	filtered := make([]*models.Workflow, 0, len(all))

	for _, workflow := range all {
		if req.OwnerID != "" && workflow.Owner != req.OwnerID {
			continue
		}

		if req.Active != nil && workflow.Active != *req.Active {
			continue
		}

		filtered = append(filtered, workflow)
	}

	total := len(filtered)

	start := req.Offset
	if start > total {
		start = total
	}

	end := start + req.Limit
	if end > total {
		end = total
	}

	return &ListWorkflowsResponse{
		Workflows:   filtered[start:end],
		TotalCount:  total,
		HasNextPage: end < total,
	}, nil
}

// FetchByID retrieves a workflow by its ID. Soft deleted workflows are gone
// as far as callers are concerned.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowRepository().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow.DeletedAt != nil {
		return nil, ErrWorkflowNotFound
	}

	return workflow, nil
}

// Create validates and stores a new workflow. The node graph and the trigger
// configuration are checked up front so a broken definition never reaches
// registration.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if err := w.validate(workflow); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	workflow.ID = uuid.New().String()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return workflow, nil
}

// Update replaces an existing workflow definition.
func (w *Workflow) Update(ctx context.Context, workflowID string, workflow *models.Workflow) (*models.Workflow, error) {
	if err := w.validate(workflow); err != nil {
		return nil, err
	}

	existing, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	workflow.ID = workflowID
	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = time.Now().UTC()

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return workflow, nil
}

// SetActive flips the activation flag. Deactivation is what detaches a
// workflow from its triggers; callers re-sync the trigger registry after.
func (w *Workflow) SetActive(ctx context.Context, workflowID string, active bool) (*models.Workflow, error) {
	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Active == active {
		return workflow, nil
	}

	workflow.Active = active
	workflow.UpdatedAt = time.Now().UTC()

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	return workflow, nil
}

// Delete soft deletes a workflow by its ID. Deleting an already deleted
// workflow reports not found.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	if _, err := w.FetchByID(ctx, workflowID); err != nil {
		return err
	}

	return w.persistence.WorkflowRepository().Delete(ctx, workflowID)
}

func (w *Workflow) validate(workflow *models.Workflow) error {
	if workflow == nil {
		return ErrWorkflowNil
	}

	if strings.TrimSpace(workflow.Name) == "" {
		return ErrWorkflowNameRequired
	}

	if err := workflow.ValidateGraph(); err != nil {
		return NewValidationError("validateWorkflow", "INVALID_GRAPH", err.Error(), ErrInvalidRequest)
	}

	trigger, err := workflow.TriggerNode()
	if err != nil {
		return NewValidationError("validateWorkflow", "INVALID_TRIGGER", err.Error(), ErrInvalidRequest)
	}

	if _, err := models.ParseTriggerConfig(trigger); err != nil {
		return NewValidationError("validateWorkflow", "INVALID_TRIGGER_CONFIG", err.Error(), ErrInvalidRequest)
	}

	return nil
}
