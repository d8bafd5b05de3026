// Package file provides file-based persistence for local development and
// tests. Each entity is one JSON document under the root directory.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atlas-fitness/automations/pkg/models"
	"github.com/atlas-fitness/automations/pkg/persistence"
)

// Persistence implements persistence.Persistence on the file system.
type Persistence struct {
	root string
	mu   sync.RWMutex
}

// NewPersistence creates a file persistence rooted at the given directory.
// Accepts either a plain path or a file:// URL.
func NewPersistence(root string) *Persistence {
	return &Persistence{root: strings.TrimPrefix(root, "file://")}
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return &workflowRepository{fp: fp}
}

func (fp *Persistence) SecretRepository() persistence.SecretRepository {
	return &secretRepository{fp: fp}
}

func (fp *Persistence) ScheduleRepository() persistence.ScheduleRepository {
	return &scheduleRepository{fp: fp}
}

func (fp *Persistence) TraceRepository() persistence.TraceRepository {
	return &traceRepository{fp: fp}
}

func (fp *Persistence) DeliveryRepository() persistence.DeliveryRepository {
	return &deliveryRepository{fp: fp}
}

func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// write serializes an entity to <root>/<kind>/<id>.json.
func (fp *Persistence) write(kind, id string, entity any) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	dir := filepath.Join(fp.root, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	data, err := json.MarshalIndent(entity, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", kind, id, err)
	}

	return os.WriteFile(filepath.Join(dir, id+".json"), data, 0o600)
}

// read loads <root>/<kind>/<id>.json into target; notFound is returned when
// the file does not exist.
func (fp *Persistence) read(kind, id string, target any, notFound error) error {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(fp.root, kind, id+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return notFound
		}

		return fmt.Errorf("failed to read %s %s: %w", kind, id, err)
	}

	return json.Unmarshal(data, target)
}

// ids lists the entity IDs stored under <root>/<kind>.
func (fp *Persistence) ids(kind string) ([]string, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	if _, err := os.Stat(filepath.Join(fp.root, kind)); os.IsNotExist(err) {
		return nil, nil
	}

	files, err := fs.Glob(os.DirFS(filepath.Join(fp.root, kind)), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s files: %w", kind, err)
	}

	ids := make([]string, 0, len(files))
	for _, file := range files {
		ids = append(ids, strings.TrimSuffix(file, ".json"))
	}

	sort.Strings(ids)

	return ids, nil
}

func (fp *Persistence) remove(kind, id string, notFound error) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	err := os.Remove(filepath.Join(fp.root, kind, id+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return notFound
	}

	return err
}

type workflowRepository struct {
	fp *Persistence
}

func (r *workflowRepository) All(ctx context.Context) ([]*models.Workflow, error) {
	ids, err := r.fp.ids("workflows")
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := r.ByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if workflow.DeletedAt == nil {
			workflows = append(workflows, workflow)
		}
	}

	return workflows, nil
}

func (r *workflowRepository) ByID(_ context.Context, id string) (*models.Workflow, error) {
	workflow := &models.Workflow{}
	if err := r.fp.read("workflows", id, workflow, persistence.ErrWorkflowNotFound); err != nil {
		return nil, err
	}

	return workflow, nil
}

func (r *workflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = time.Now().UTC()
	}

	workflow.UpdatedAt = time.Now().UTC()

	return r.fp.write("workflows", workflow.ID, workflow)
}

// Delete soft-deletes: the definition stays on disk with a DeletedAt stamp so
// trace retention can cascade later.
func (r *workflowRepository) Delete(ctx context.Context, id string) error {
	workflow, err := r.ByID(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	workflow.DeletedAt = &now
	workflow.Active = false

	return r.fp.write("workflows", id, workflow)
}

type secretRepository struct {
	fp *Persistence
}

func (r *secretRepository) ByTriggerID(_ context.Context, triggerID string) ([]*models.Secret, error) {
	ids, err := r.fp.ids("secrets")
	if err != nil {
		return nil, err
	}

	secrets := make([]*models.Secret, 0)

	for _, id := range ids {
		secret := &models.Secret{}
		if err := r.fp.read("secrets", id, secret, persistence.ErrSecretNotFound); err != nil {
			return nil, err
		}

		if secret.TriggerID == triggerID {
			secrets = append(secrets, secret)
		}
	}

	return secrets, nil
}

func (r *secretRepository) Retiring(_ context.Context) ([]*models.Secret, error) {
	ids, err := r.fp.ids("secrets")
	if err != nil {
		return nil, err
	}

	secrets := make([]*models.Secret, 0)

	for _, id := range ids {
		secret := &models.Secret{}
		if err := r.fp.read("secrets", id, secret, persistence.ErrSecretNotFound); err != nil {
			return nil, err
		}

		if secret.Status == models.SecretStatusRetiring {
			secrets = append(secrets, secret)
		}
	}

	return secrets, nil
}

func (r *secretRepository) Save(_ context.Context, secret *models.Secret) error {
	return r.fp.write("secrets", secret.ID, secret)
}

type scheduleRepository struct {
	fp *Persistence
}

func (r *scheduleRepository) All(_ context.Context) ([]*models.Schedule, error) {
	ids, err := r.fp.ids("schedules")
	if err != nil {
		return nil, err
	}

	schedules := make([]*models.Schedule, 0, len(ids))

	for _, id := range ids {
		schedule := &models.Schedule{}
		if err := r.fp.read("schedules", id, schedule, persistence.ErrScheduleNotFound); err != nil {
			return nil, err
		}

		schedules = append(schedules, schedule)
	}

	return schedules, nil
}

func (r *scheduleRepository) Save(_ context.Context, schedule *models.Schedule) error {
	return r.fp.write("schedules", schedule.ID, schedule)
}

func (r *scheduleRepository) Delete(_ context.Context, id string) error {
	return r.fp.remove("schedules", id, persistence.ErrScheduleNotFound)
}

type traceRepository struct {
	fp *Persistence
}

func (r *traceRepository) ByID(_ context.Context, id string) (*models.ExecutionTrace, error) {
	trace := &models.ExecutionTrace{}
	if err := r.fp.read("traces", id, trace, persistence.ErrTraceNotFound); err != nil {
		return nil, err
	}

	return trace, nil
}

func (r *traceRepository) ByWorkflowID(ctx context.Context, workflowID string) ([]*models.ExecutionTrace, error) {
	ids, err := r.fp.ids("traces")
	if err != nil {
		return nil, err
	}

	traces := make([]*models.ExecutionTrace, 0)

	for _, id := range ids {
		trace, err := r.ByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if trace.WorkflowID == workflowID {
			traces = append(traces, trace)
		}
	}

	sort.Slice(traces, func(i, j int) bool {
		return traces[i].StartedAt.Before(traces[j].StartedAt)
	})

	return traces, nil
}

func (r *traceRepository) Save(_ context.Context, trace *models.ExecutionTrace) error {
	return r.fp.write("traces", trace.ID, trace)
}

type deliveryRepository struct {
	fp *Persistence
}

func (r *deliveryRepository) ByTriggerID(_ context.Context, triggerID string, limit int) ([]*models.Delivery, error) {
	ids, err := r.fp.ids("deliveries")
	if err != nil {
		return nil, err
	}

	deliveries := make([]*models.Delivery, 0)

	for _, id := range ids {
		delivery := &models.Delivery{}
		if err := r.fp.read("deliveries", id, delivery, persistence.ErrDeliveryNotFound); err != nil {
			return nil, err
		}

		if delivery.TriggerID == triggerID {
			deliveries = append(deliveries, delivery)
		}
	}

	sort.Slice(deliveries, func(i, j int) bool {
		return deliveries[i].ReceivedAt.After(deliveries[j].ReceivedAt)
	})

	if limit > 0 && len(deliveries) > limit {
		deliveries = deliveries[:limit]
	}

	return deliveries, nil
}

func (r *deliveryRepository) Save(_ context.Context, delivery *models.Delivery) error {
	return r.fp.write("deliveries", delivery.ID, delivery)
}
