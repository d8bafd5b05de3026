package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/atlas-fitness/automations/pkg/models"
	"github.com/atlas-fitness/automations/pkg/persistence"
	"github.com/atlas-fitness/automations/pkg/registry"
	"github.com/atlas-fitness/automations/pkg/secrets"
	"github.com/atlas-fitness/automations/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	workflowService *services.Workflow
	traceService    *services.Trace
	secrets         *secrets.Manager
	deliveries      persistence.DeliveryRepository
	validator       *validator.Validate
	registry        *registry.Registry
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	traceService *services.Trace,
	secretManager *secrets.Manager,
	deliveries persistence.DeliveryRepository,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		traceService:    traceService,
		secrets:         secretManager,
		deliveries:      deliveries,
		validator:       validator,
		registry:        registry,
	}
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req, err := h.parseListWorkflowsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.workflowService.ListWorkflows(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":     result.Workflows,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
	})
}

func (h *APIHandlers) parseListWorkflowsRequest(c fiber.Ctx) (*services.ListWorkflowsRequest, error) {
	req := &services.ListWorkflowsRequest{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		req.Offset = offset
	}

	req.OwnerID = c.Query("owner_id")

	if activeStr := c.Query("active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			return nil, err
		}

		req.Active = &active
	}

	return req, nil
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflowService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow := &models.Workflow{
		Name:        req.Name,
		Description: req.Description,
		Owner:       req.Owner,
		Nodes:       req.Nodes,
		Policy:      req.Policy,
	}

	created, err := h.workflowService.Create(c.Context(), workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.workflowService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}

	if req.Description != nil {
		existing.Description = *req.Description
	}

	if req.Nodes != nil {
		existing.Nodes = req.Nodes
	}

	if req.Policy != nil {
		existing.Policy = req.Policy
	}

	updated, err := h.workflowService.Update(c.Context(), id, existing)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	return h.setActive(c, true)
}

func (h *APIHandlers) DeactivateWorkflow(c fiber.Ctx) error {
	return h.setActive(c, false)
}

func (h *APIHandlers) setActive(c fiber.Ctx, active bool) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	updated, err := h.workflowService.SetActive(c.Context(), id, active)
	if err != nil {
		return handleServiceError(c, err)
	}

	// The trigger index follows activation state immediately.
	if err := h.registry.Register(updated); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if err := h.workflowService.Delete(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	h.registry.Unregister(id)

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetWorkflowTraces(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	traces, err := h.traceService.ListByWorkflow(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"traces": traces, "total_count": len(traces)})
}

func (h *APIHandlers) GetTrace(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Trace ID is required")
	}

	trace, err := h.traceService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(trace)
}

// webhookTriggerNode resolves the {id}/{nodeId} pair to a webhook trigger
// node, or a nil node when the workflow has no such trigger.
func (h *APIHandlers) webhookTriggerNode(c fiber.Ctx) (*models.Workflow, *models.Node, error) {
	workflow, err := h.workflowService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return nil, nil, err
	}

	nodeID := c.Params("nodeId")
	for _, node := range workflow.Nodes {
		if node.ID == nodeID && node.Kind == models.NodeKindTrigger && node.TriggerType == models.TriggerTypeWebhook {
			return workflow, node, nil
		}
	}

	return workflow, nil, nil
}

func (h *APIHandlers) GetTriggerDeliveries(c fiber.Ctx) error {
	workflow, node, err := h.webhookTriggerNode(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	if node == nil {
		return notFound(c, "Webhook trigger not found")
	}

	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit: "+limitStr)
		}
	}

	deliveries, err := h.deliveries.ByTriggerID(c.Context(), workflow.ID+"/"+node.ID, limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"deliveries": deliveries, "total_count": len(deliveries)})
}

func (h *APIHandlers) RotateTriggerSecret(c fiber.Ctx) error {
	workflow, node, err := h.webhookTriggerNode(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	if node == nil {
		return notFound(c, "Webhook trigger not found")
	}

	config, err := models.ParseTriggerConfig(node)
	if err != nil {
		return badRequest(c, "Invalid trigger configuration: "+err.Error())
	}

	webhook, ok := config.(*models.WebhookTriggerConfig)
	if !ok {
		return notFound(c, "Webhook trigger not found")
	}

	grace := secrets.GraceWindow(time.Duration(webhook.Verify.ToleranceSeconds) * time.Second)

	issued, err := h.secrets.Rotate(c.Context(), workflow.ID+"/"+node.ID, grace)
	if err != nil {
		return handleServiceError(c, err)
	}

	plaintext, err := issued.Reveal()
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"secret_id":     issued.SecretID,
		"last4":         issued.Last4,
		"secret":        plaintext,
		"grace_seconds": int(grace.Seconds()),
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
