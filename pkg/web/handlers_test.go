package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/atlas-fitness/automations/pkg/models"
	"github.com/atlas-fitness/automations/pkg/persistence"
	"github.com/atlas-fitness/automations/pkg/persistence/file"
	"github.com/atlas-fitness/automations/pkg/registry"
	"github.com/atlas-fitness/automations/pkg/secrets"
	"github.com/atlas-fitness/automations/pkg/services"
	"github.com/atlas-fitness/automations/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	app         *fiber.App
	persistence persistence.Persistence
	registry    *registry.Registry
}

func setupTestApp(t *testing.T) *testEnv {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	reg := registry.NewRegistry(logger)

	handlers := web.NewAPIHandlers(
		services.NewWorkflow(p),
		services.NewTrace(p),
		secrets.NewManager(p.SecretRepository(), logger),
		p.DeliveryRepository(),
		validator.New(validator.WithRequiredStructEnabled()),
		reg,
	)

	app := fiber.New()

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/activate", handlers.ActivateWorkflow)
	w.Post("/:id/deactivate", handlers.DeactivateWorkflow)
	w.Get("/:id/traces", handlers.GetWorkflowTraces)
	w.Get("/:id/nodes/:nodeId/deliveries", handlers.GetTriggerDeliveries)
	w.Post("/:id/nodes/:nodeId/rotate-secret", handlers.RotateTriggerSecret)

	app.Get("/traces/:id", handlers.GetTrace)
	app.Get("/health", handlers.HealthCheck)

	return &testEnv{app: app, persistence: p, registry: reg}
}

func scheduleNodes() []*models.Node {
	return []*models.Node{
		{
			ID:          "every-morning",
			Kind:        models.NodeKindTrigger,
			TriggerType: models.TriggerTypeSchedule,
			Config:      map[string]any{"cron": "0 9 * * *"},
		},
		{ID: "greet", Kind: models.NodeKindAction, ActionType: "log"},
	}
}

func webhookNodes() []*models.Node {
	return []*models.Node{
		{
			ID:          "intake",
			Kind:        models.NodeKindTrigger,
			TriggerType: models.TriggerTypeWebhook,
			Config: map[string]any{
				"verify":        map[string]any{"tolerance_seconds": 300},
				"content_types": []any{"application/json"},
				"active":        true,
			},
		},
		{ID: "notify", Kind: models.NodeKindAction, ActionType: "log"},
	}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeWorkflow(t *testing.T, resp *http.Response) models.Workflow {
	t.Helper()

	defer resp.Body.Close()

	var workflow models.Workflow
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&workflow))

	return workflow
}

func (e *testEnv) createWorkflow(t *testing.T, nodes []*models.Node) models.Workflow {
	t.Helper()

	resp := e.request(t, http.MethodPost, "/workflows", web.CreateWorkflowRequest{
		Name:  "Morning check-in nudge",
		Owner: "studio-17",
		Nodes: nodes,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	return decodeWorkflow(t, resp)
}

func TestCreateWorkflow(t *testing.T) {
	env := setupTestApp(t)

	created := env.createWorkflow(t, scheduleNodes())
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Morning check-in nudge", created.Name)
	assert.False(t, created.CreatedAt.IsZero())
}

func TestCreateWorkflow_ValidationFailures(t *testing.T) {
	env := setupTestApp(t)

	// Missing name.
	resp := env.request(t, http.MethodPost, "/workflows", web.CreateWorkflowRequest{
		Owner: "studio-17",
		Nodes: scheduleNodes(),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// No trigger node in the graph.
	resp = env.request(t, http.MethodPost, "/workflows", web.CreateWorkflowRequest{
		Name:  "No trigger",
		Owner: "studio-17",
		Nodes: []*models.Node{{ID: "only", Kind: models.NodeKindAction, ActionType: "log"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Webhook tolerance outside the allowed range.
	nodes := webhookNodes()
	nodes[0].Config["verify"] = map[string]any{"tolerance_seconds": 5}
	resp = env.request(t, http.MethodPost, "/workflows", web.CreateWorkflowRequest{
		Name:  "Bad tolerance",
		Owner: "studio-17",
		Nodes: nodes,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Dependency cycle between action nodes.
	cyclic := scheduleNodes()
	cyclic[1].DependsOn = []string{"greet"}
	resp = env.request(t, http.MethodPost, "/workflows", web.CreateWorkflowRequest{
		Name:  "Cyclic",
		Owner: "studio-17",
		Nodes: cyclic,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Malformed JSON body.
	req := httptest.NewRequest(http.MethodPost, "/workflows", bytes.NewReader([]byte(`{"name": `)))
	req.Header.Set("Content-Type", "application/json")
	raw, err := env.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestGetWorkflow(t *testing.T) {
	env := setupTestApp(t)
	created := env.createWorkflow(t, scheduleNodes())

	resp := env.request(t, http.MethodGet, "/workflows/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created.ID, decodeWorkflow(t, resp).ID)

	resp = env.request(t, http.MethodGet, "/workflows/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListWorkflows(t *testing.T) {
	env := setupTestApp(t)
	env.createWorkflow(t, scheduleNodes())
	env.createWorkflow(t, webhookNodes())

	resp := env.request(t, http.MethodGet, "/workflows?limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	defer resp.Body.Close()

	var payload struct {
		Workflows   []models.Workflow `json:"workflows"`
		TotalCount  int               `json:"total_count"`
		HasNextPage bool              `json:"has_next_page"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Len(t, payload.Workflows, 1)
	assert.Equal(t, 2, payload.TotalCount)
	assert.True(t, payload.HasNextPage)
}

func TestUpdateWorkflow(t *testing.T) {
	env := setupTestApp(t)
	created := env.createWorkflow(t, scheduleNodes())

	name := "Evening check-in nudge"
	resp := env.request(t, http.MethodPatch, "/workflows/"+created.ID, web.UpdateWorkflowRequest{Name: &name})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, name, decodeWorkflow(t, resp).Name)

	resp = env.request(t, http.MethodPatch, "/workflows/nope", web.UpdateWorkflowRequest{Name: &name})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestActivateWorkflow_UpdatesTriggerIndex(t *testing.T) {
	env := setupTestApp(t)
	created := env.createWorkflow(t, webhookNodes())

	_, found := env.registry.MatchWebhook(created.ID, "intake")
	require.False(t, found, "inactive workflow must not be routable")

	resp := env.request(t, http.MethodPost, "/workflows/"+created.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeWorkflow(t, resp).Active)

	_, found = env.registry.MatchWebhook(created.ID, "intake")
	assert.True(t, found)

	resp = env.request(t, http.MethodPost, "/workflows/"+created.ID+"/deactivate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, found = env.registry.MatchWebhook(created.ID, "intake")
	assert.False(t, found)
}

func TestDeleteWorkflow(t *testing.T) {
	env := setupTestApp(t)
	created := env.createWorkflow(t, scheduleNodes())

	resp := env.request(t, http.MethodDelete, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.request(t, http.MethodGet, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.request(t, http.MethodDelete, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTraces(t *testing.T) {
	env := setupTestApp(t)
	created := env.createWorkflow(t, scheduleNodes())

	trace := &models.ExecutionTrace{
		ID:         "exec-1",
		WorkflowID: created.ID,
		Status:     models.ExecutionStatusSucceeded,
		Nodes: []*models.NodeTraceEntry{
			{NodeID: "greet", Status: models.NodeStatusSucceeded, Attempts: 1},
		},
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, env.persistence.TraceRepository().Save(context.Background(), trace))

	resp := env.request(t, http.MethodGet, "/workflows/"+created.ID+"/traces", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listing struct {
		Traces     []models.ExecutionTrace `json:"traces"`
		TotalCount int                     `json:"total_count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	resp.Body.Close()
	require.Equal(t, 1, listing.TotalCount)
	assert.Equal(t, "exec-1", listing.Traces[0].ID)

	resp = env.request(t, http.MethodGet, "/traces/exec-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched models.ExecutionTrace
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fetched))
	resp.Body.Close()
	assert.Equal(t, models.ExecutionStatusSucceeded, fetched.Status)

	resp = env.request(t, http.MethodGet, "/traces/exec-404", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTriggerDeliveries(t *testing.T) {
	env := setupTestApp(t)
	created := env.createWorkflow(t, webhookNodes())

	require.NoError(t, env.persistence.DeliveryRepository().Save(context.Background(), &models.Delivery{
		ID:         "d-1",
		TriggerID:  created.ID + "/intake",
		WorkflowID: created.ID,
		NodeID:     "intake",
		Outcome:    models.DeliveryRejected,
		Code:       "SIGNATURE_INVALID",
		HTTPStatus: http.StatusUnauthorized,
		ReceivedAt: time.Now().UTC(),
	}))

	resp := env.request(t, http.MethodGet, "/workflows/"+created.ID+"/nodes/intake/deliveries", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listing struct {
		Deliveries []models.Delivery `json:"deliveries"`
		TotalCount int               `json:"total_count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	resp.Body.Close()
	require.Equal(t, 1, listing.TotalCount)
	assert.Equal(t, "SIGNATURE_INVALID", listing.Deliveries[0].Code)

	// Action nodes have no delivery log.
	resp = env.request(t, http.MethodGet, "/workflows/"+created.ID+"/nodes/notify/deliveries", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.request(t, http.MethodGet, "/workflows/nope/nodes/intake/deliveries", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRotateTriggerSecret(t *testing.T) {
	env := setupTestApp(t)
	created := env.createWorkflow(t, webhookNodes())

	resp := env.request(t, http.MethodPost, "/workflows/"+created.ID+"/nodes/intake/rotate-secret", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var issued struct {
		SecretID     string `json:"secret_id"`
		Last4        string `json:"last4"`
		Secret       string `json:"secret"`
		GraceSeconds int    `json:"grace_seconds"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&issued))
	resp.Body.Close()
	assert.NotEmpty(t, issued.SecretID)
	assert.NotEmpty(t, issued.Secret)
	assert.Equal(t, issued.Secret[len(issued.Secret)-4:], issued.Last4)
	assert.Equal(t, 600, issued.GraceSeconds, "grace is twice the 300s tolerance")

	// Rotating again issues a fresh secret.
	resp = env.request(t, http.MethodPost, "/workflows/"+created.ID+"/nodes/intake/rotate-secret", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, http.MethodPost, "/workflows/"+created.ID+"/nodes/notify/rotate-secret", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthCheck(t *testing.T) {
	env := setupTestApp(t)

	resp := env.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
