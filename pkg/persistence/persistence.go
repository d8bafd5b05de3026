// Package persistence provides the storage abstraction for workflow
// definitions, signing secrets, schedules and execution traces.
package persistence

import (
	"context"

	"github.com/atlas-fitness/automations/pkg/models"
)

// WorkflowRepository stores workflow definitions. The builder UI owns writes;
// the engine mostly reads. Deletes are soft: the definition keeps its
// DeletedAt stamp so trace retention can cascade later.
type WorkflowRepository interface {
	All(ctx context.Context) ([]*models.Workflow, error)
	ByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

// SecretRepository stores hashed signing secrets per trigger.
type SecretRepository interface {
	ByTriggerID(ctx context.Context, triggerID string) ([]*models.Secret, error)
	Retiring(ctx context.Context) ([]*models.Secret, error)
	Save(ctx context.Context, secret *models.Secret) error
}

// DeliveryRepository stores the webhook delivery log, newest first.
type DeliveryRepository interface {
	ByTriggerID(ctx context.Context, triggerID string, limit int) ([]*models.Delivery, error)
	Save(ctx context.Context, delivery *models.Delivery) error
}

// ScheduleRepository stores schedule watermark entries for the poller.
type ScheduleRepository interface {
	All(ctx context.Context) ([]*models.Schedule, error)
	Save(ctx context.Context, schedule *models.Schedule) error
	Delete(ctx context.Context, id string) error
}

// TraceRepository stores execution traces, the sole durable record of what a
// workflow firing did.
type TraceRepository interface {
	ByID(ctx context.Context, id string) (*models.ExecutionTrace, error)
	ByWorkflowID(ctx context.Context, workflowID string) ([]*models.ExecutionTrace, error)
	Save(ctx context.Context, trace *models.ExecutionTrace) error
}

// Persistence aggregates the engine's repositories behind one connection.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	SecretRepository() SecretRepository
	ScheduleRepository() ScheduleRepository
	TraceRepository() TraceRepository
	DeliveryRepository() DeliveryRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
