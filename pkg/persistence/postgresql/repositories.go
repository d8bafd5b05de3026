package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atlas-fitness/automations/pkg/models"
	"github.com/atlas-fitness/automations/pkg/persistence"
)

type workflowRepository struct {
	db *sql.DB
}

func (r *workflowRepository) All(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT document FROM workflows WHERE deleted_at IS NULL ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow

	for rows.Next() {
		workflow := &models.Workflow{}
		if err := scanDocument(rows, workflow); err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	return workflows, rows.Err()
}

func (r *workflowRepository) ByID(ctx context.Context, id string) (*models.Workflow, error) {
	workflow := &models.Workflow{}

	err := queryDocument(ctx, r.db,
		"SELECT document FROM workflows WHERE id = $1", id, workflow)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrWorkflowNotFound
	}

	if err != nil {
		return nil, err
	}

	return workflow, nil
}

func (r *workflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = time.Now().UTC()
	}

	workflow.UpdatedAt = time.Now().UTC()

	document, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("failed to encode workflow %s: %w", workflow.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflows (id, active, deleted_at, document, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE
		SET active = $2, deleted_at = $3, document = $4, updated_at = NOW()`,
		workflow.ID, workflow.Active, workflow.DeletedAt, document)
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", workflow.ID, err)
	}

	return nil
}

func (r *workflowRepository) Delete(ctx context.Context, id string) error {
	workflow, err := r.ByID(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	workflow.DeletedAt = &now
	workflow.Active = false

	return r.Save(ctx, workflow)
}

type secretRepository struct {
	db *sql.DB
}

func (r *secretRepository) ByTriggerID(ctx context.Context, triggerID string) ([]*models.Secret, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT document FROM trigger_secrets WHERE trigger_id = $1 ORDER BY id", triggerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query secrets for trigger %s: %w", triggerID, err)
	}
	defer rows.Close()

	secrets := make([]*models.Secret, 0)

	for rows.Next() {
		secret := &models.Secret{}
		if err := scanDocument(rows, secret); err != nil {
			return nil, err
		}

		secrets = append(secrets, secret)
	}

	return secrets, rows.Err()
}

func (r *secretRepository) Retiring(ctx context.Context) ([]*models.Secret, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT document FROM trigger_secrets WHERE status = $1 ORDER BY id",
		models.SecretStatusRetiring)
	if err != nil {
		return nil, fmt.Errorf("failed to query retiring secrets: %w", err)
	}
	defer rows.Close()

	secrets := make([]*models.Secret, 0)

	for rows.Next() {
		secret := &models.Secret{}
		if err := scanDocument(rows, secret); err != nil {
			return nil, err
		}

		secrets = append(secrets, secret)
	}

	return secrets, rows.Err()
}

func (r *secretRepository) Save(ctx context.Context, secret *models.Secret) error {
	document, err := json.Marshal(secret)
	if err != nil {
		return fmt.Errorf("failed to encode secret %s: %w", secret.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO trigger_secrets (id, trigger_id, status, document, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE
		SET status = $3, document = $4, updated_at = NOW()`,
		secret.ID, secret.TriggerID, secret.Status, document)
	if err != nil {
		return fmt.Errorf("failed to save secret %s: %w", secret.ID, err)
	}

	return nil
}

type scheduleRepository struct {
	db *sql.DB
}

func (r *scheduleRepository) All(ctx context.Context) ([]*models.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT document FROM schedules ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	schedules := make([]*models.Schedule, 0)

	for rows.Next() {
		schedule := &models.Schedule{}
		if err := scanDocument(rows, schedule); err != nil {
			return nil, err
		}

		schedules = append(schedules, schedule)
	}

	return schedules, rows.Err()
}

func (r *scheduleRepository) Save(ctx context.Context, schedule *models.Schedule) error {
	document, err := json.Marshal(schedule)
	if err != nil {
		return fmt.Errorf("failed to encode schedule %s: %w", schedule.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO schedules (id, workflow_id, next_due_at, active, document, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE
		SET next_due_at = $3, active = $4, document = $5, updated_at = NOW()`,
		schedule.ID, schedule.WorkflowID, schedule.NextDueAt, schedule.Active, document)
	if err != nil {
		return fmt.Errorf("failed to save schedule %s: %w", schedule.ID, err)
	}

	return nil
}

func (r *scheduleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM schedules WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return persistence.ErrScheduleNotFound
	}

	return nil
}

type traceRepository struct {
	db *sql.DB
}

func (r *traceRepository) ByID(ctx context.Context, id string) (*models.ExecutionTrace, error) {
	trace := &models.ExecutionTrace{}

	err := queryDocument(ctx, r.db,
		"SELECT document FROM execution_traces WHERE id = $1", id, trace)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrTraceNotFound
	}

	if err != nil {
		return nil, err
	}

	return trace, nil
}

func (r *traceRepository) ByWorkflowID(ctx context.Context, workflowID string) ([]*models.ExecutionTrace, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT document FROM execution_traces WHERE workflow_id = $1 ORDER BY started_at", workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query traces for workflow %s: %w", workflowID, err)
	}
	defer rows.Close()

	traces := make([]*models.ExecutionTrace, 0)

	for rows.Next() {
		trace := &models.ExecutionTrace{}
		if err := scanDocument(rows, trace); err != nil {
			return nil, err
		}

		traces = append(traces, trace)
	}

	return traces, rows.Err()
}

func (r *traceRepository) Save(ctx context.Context, trace *models.ExecutionTrace) error {
	document, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("failed to encode trace %s: %w", trace.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO execution_traces (id, workflow_id, started_at, document, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE
		SET document = $4, updated_at = NOW()`,
		trace.ID, trace.WorkflowID, trace.StartedAt, document)
	if err != nil {
		return fmt.Errorf("failed to save trace %s: %w", trace.ID, err)
	}

	return nil
}

type deliveryRepository struct {
	db *sql.DB
}

func (r *deliveryRepository) ByTriggerID(ctx context.Context, triggerID string, limit int) ([]*models.Delivery, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT document FROM deliveries WHERE trigger_id = $1 ORDER BY received_at DESC LIMIT $2",
		triggerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries for trigger %s: %w", triggerID, err)
	}
	defer rows.Close()

	deliveries := make([]*models.Delivery, 0)

	for rows.Next() {
		delivery := &models.Delivery{}
		if err := scanDocument(rows, delivery); err != nil {
			return nil, err
		}

		deliveries = append(deliveries, delivery)
	}

	return deliveries, rows.Err()
}

func (r *deliveryRepository) Save(ctx context.Context, delivery *models.Delivery) error {
	document, err := json.Marshal(delivery)
	if err != nil {
		return fmt.Errorf("failed to encode delivery %s: %w", delivery.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO deliveries (id, trigger_id, received_at, document)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		delivery.ID, delivery.TriggerID, delivery.ReceivedAt, document)
	if err != nil {
		return fmt.Errorf("failed to save delivery %s: %w", delivery.ID, err)
	}

	return nil
}

func scanDocument(rows *sql.Rows, target any) error {
	var document []byte
	if err := rows.Scan(&document); err != nil {
		return fmt.Errorf("failed to scan document: %w", err)
	}

	return json.Unmarshal(document, target)
}

func queryDocument(ctx context.Context, db *sql.DB, query, id string, target any) error {
	var document []byte
	if err := db.QueryRowContext(ctx, query, id).Scan(&document); err != nil {
		return err
	}

	return json.Unmarshal(document, target)
}
