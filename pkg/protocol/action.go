// Package protocol defines the contracts between the engine and the pieces it
// coordinates: actions, event dispatch and the external CRM collaborators.
package protocol

import (
	"context"
	"log/slog"

	"github.com/atlas-fitness/automations/pkg/models"
)

// Action is one unit of work inside a workflow execution. Implementations may
// perform arbitrary I/O; the coordinator bounds each attempt with a timeout
// via the context.
type Action interface {
	Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error)
}

// ActionFactory builds an action from a node's config map.
type ActionFactory interface {
	Create(config map[string]any) (Action, error)
	ID() string
}
