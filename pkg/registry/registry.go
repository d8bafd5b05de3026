// Package registry keeps the in-memory index of live trigger registrations.
// The gateway and the domain event consumers read from an immutable snapshot,
// so lookups on the hot path never take a lock against registration churn.
package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/atlas-fitness/automations/pkg/models"
)

// Registration binds one workflow trigger node to its parsed configuration.
type Registration struct {
	WorkflowID string
	NodeID     string
	Type       models.TriggerType
	Config     models.TriggerConfig
}

// Webhook returns the typed webhook config, or false for other trigger kinds.
func (r *Registration) Webhook() (*models.WebhookTriggerConfig, bool) {
	config, ok := r.Config.(*models.WebhookTriggerConfig)

	return config, ok
}

// snapshot is the immutable index readers hold. Rebuilt wholesale on every
// registration change.
type snapshot struct {
	webhooks map[string]*Registration               // workflowID/nodeID
	forms    map[string][]*Registration             // formID
	domain   map[models.TriggerType][]*Registration // new_lead, client_checkin
}

func emptySnapshot() *snapshot {
	return &snapshot{
		webhooks: make(map[string]*Registration),
		forms:    make(map[string][]*Registration),
		domain:   make(map[models.TriggerType][]*Registration),
	}
}

// Registry indexes trigger registrations by the dimensions each intake path
// matches on. Writers serialize on mu; readers load the current snapshot.
type Registry struct {
	logger *slog.Logger

	mu        sync.Mutex
	workflows map[string]*Registration
	current   atomic.Pointer[snapshot]
}

func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{
		logger:    logger.With("module", "registry"),
		workflows: make(map[string]*Registration),
	}
	r.current.Store(emptySnapshot())

	return r
}

// Register indexes the workflow's trigger node. Inactive and soft-deleted
// workflows are dropped from the index instead; a workflow with an invalid or
// unknown trigger config fails registration and is left unindexed.
func (r *Registry) Register(workflow *models.Workflow) error {
	if !workflow.Active || workflow.DeletedAt != nil {
		r.Unregister(workflow.ID)

		return nil
	}

	trigger, err := workflow.TriggerNode()
	if err != nil {
		return fmt.Errorf("workflow %s has no registrable trigger: %w", workflow.ID, err)
	}

	config, err := models.ParseTriggerConfig(trigger)
	if err != nil {
		return err
	}

	registration := &Registration{
		WorkflowID: workflow.ID,
		NodeID:     trigger.ID,
		Type:       config.TriggerType(),
		Config:     config,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.workflows[workflow.ID] = registration
	r.rebuild()

	r.logger.Info("Registered trigger",
		"workflow_id", workflow.ID, "node_id", trigger.ID, "trigger_type", config.TriggerType())

	return nil
}

// Unregister drops the workflow's registration.
func (r *Registry) Unregister(workflowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, found := r.workflows[workflowID]; !found {
		return
	}

	delete(r.workflows, workflowID)
	r.rebuild()

	r.logger.Info("Unregistered trigger", "workflow_id", workflowID)
}

// Sync replaces the whole index with the given workflows, used at startup and
// on full reloads. Workflows that fail registration are logged and skipped.
func (r *Registry) Sync(workflows []*models.Workflow) {
	r.mu.Lock()
	r.workflows = make(map[string]*Registration)
	r.current.Store(emptySnapshot())
	r.mu.Unlock()

	for _, workflow := range workflows {
		if err := r.Register(workflow); err != nil {
			r.logger.Warn("Skipping workflow during sync", "workflow_id", workflow.ID, "error", err)
		}
	}
}

// MatchWebhook resolves the registration addressed by a webhook URL.
func (r *Registry) MatchWebhook(workflowID, nodeID string) (*Registration, bool) {
	registration, found := r.current.Load().webhooks[webhookKey(workflowID, nodeID)]

	return registration, found
}

// MatchForm returns every form_submitted registration watching the form.
func (r *Registry) MatchForm(formID string) []*Registration {
	return r.current.Load().forms[formID]
}

// MatchDomain returns the new_lead or client_checkin registrations whose
// filters all match the event payload. A registration without filters matches
// every event of its type.
func (r *Registry) MatchDomain(triggerType models.TriggerType, payload map[string]any) []*Registration {
	candidates := r.current.Load().domain[triggerType]

	matched := make([]*Registration, 0, len(candidates))

	for _, registration := range candidates {
		if filtersMatch(filtersOf(registration.Config), payload) {
			matched = append(matched, registration)
		}
	}

	return matched
}

// rebuild recomputes the snapshot from r.workflows. Called with mu held.
func (r *Registry) rebuild() {
	next := emptySnapshot()

	for _, registration := range r.workflows {
		switch config := registration.Config.(type) {
		case *models.WebhookTriggerConfig:
			next.webhooks[webhookKey(registration.WorkflowID, registration.NodeID)] = registration
		case *models.FormSubmittedTriggerConfig:
			for _, formID := range config.FormIDs {
				next.forms[formID] = append(next.forms[formID], registration)
			}
		case *models.NewLeadTriggerConfig, *models.ClientCheckinTriggerConfig:
			next.domain[registration.Type] = append(next.domain[registration.Type], registration)
		}
	}

	r.current.Store(next)
}

func webhookKey(workflowID, nodeID string) string {
	return workflowID + "/" + nodeID
}

func filtersOf(config models.TriggerConfig) map[string]any {
	switch typed := config.(type) {
	case *models.NewLeadTriggerConfig:
		return typed.Filters
	case *models.ClientCheckinTriggerConfig:
		return typed.Filters
	default:
		return nil
	}
}

func filtersMatch(filters map[string]any, payload map[string]any) bool {
	for key, want := range filters {
		got, present := payload[key]
		if !present || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}

	return true
}
