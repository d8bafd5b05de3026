// Package web provides the REST API for workflow management: CRUD,
// activation, and execution trace lookup.
package web

import "github.com/atlas-fitness/automations/pkg/models"

// CreateWorkflowRequest is the body for creating a workflow. The node graph is
// part of the definition and validated as a whole.
type CreateWorkflowRequest struct {
	Name        string                  `json:"name"              validate:"required,min=3"`
	Description string                  `json:"description"`
	Owner       string                  `json:"owner"             validate:"required"`
	Nodes       []*models.Node          `json:"nodes"             validate:"required,min=1"`
	Policy      *models.ExecutionPolicy `json:"policy,omitempty"`
}

// UpdateWorkflowRequest supports partial updates. Absent fields keep their
// current values.
type UpdateWorkflowRequest struct {
	Name        *string                 `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string                 `json:"description,omitempty"`
	Nodes       []*models.Node          `json:"nodes,omitempty"`
	Policy      *models.ExecutionPolicy `json:"policy,omitempty"`
}
