package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/atlas-fitness/automations/pkg/events"
	"github.com/atlas-fitness/automations/pkg/models"
	"github.com/atlas-fitness/automations/pkg/otelhelper"
	"github.com/atlas-fitness/automations/pkg/registry"
	"github.com/atlas-fitness/automations/pkg/secrets"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

// handleWebhook runs the admission pipeline. The check order is part of the
// endpoint's contract; changing it changes which defect a bad request is
// reported as.
func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("workflowID")
	nodeID := r.PathValue("nodeID")

	logger := g.logger.With("workflow_id", workflowID, "node_id", nodeID, "remote_addr", r.RemoteAddr)

	ctx, span := otelhelper.StartSpan(r.Context(), g.tracer, "gateway.admit",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.TriggerNodeKey, nodeID),
	)
	defer span.End()

	registration, found := g.registry.MatchWebhook(workflowID, nodeID)
	if !found {
		logger.Warn("Webhook request for unknown endpoint")
		g.writeError(w, http.StatusNotFound, "WEBHOOK_NOT_FOUND", "Webhook not found")

		return
	}

	config, ok := registration.Webhook()
	if !ok || !config.Active {
		g.writeError(w, http.StatusNotFound, "WEBHOOK_NOT_FOUND", "Webhook not found")

		return
	}

	// From here on the delivery hit a real endpoint, so every outcome lands in
	// the delivery log.
	reject := func(statusCode int, code, message string) {
		span.SetAttributes(attribute.String(otelhelper.AdmissionKey, code))
		g.recordDelivery(ctx, registration, r.RemoteAddr, statusCode, code, "")
		g.writeError(w, statusCode, code, message)
	}

	if config.Paused {
		reject(http.StatusLocked, "TRIGGER_PAUSED", "Trigger is paused")

		return
	}

	contentType := r.Header.Get("Content-Type")
	if !config.AcceptsContentType(contentType) {
		reject(http.StatusUnsupportedMediaType, "UNSUPPORTED_CONTENT_TYPE",
			fmt.Sprintf("Content type %q is not accepted by this trigger", contentType))

		return
	}

	if !config.AllowsIP(clientIP(r)) {
		logger.Warn("Webhook request from disallowed address")
		reject(http.StatusForbidden, "IP_NOT_ALLOWED", "Source address not allowed")

		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		reject(http.StatusUnprocessableEntity, "MALFORMED_PAYLOAD", "Error reading request body")

		return
	}

	timestamp := r.Header.Get(config.TimestampHeader())
	if !g.timestampFresh(timestamp, config.Verify.ToleranceSeconds) {
		reject(http.StatusUnauthorized, "TIMESTAMP_OUT_OF_TOLERANCE",
			"Timestamp header missing or outside tolerance")

		return
	}

	triggerID := registration.WorkflowID + "/" + registration.NodeID

	signature := r.Header.Get(config.SignatureHeader())
	if err := g.secrets.Verify(ctx, triggerID, signature, timestamp, body); err != nil {
		logger.Warn("Webhook signature rejected", "error", err)
		reject(http.StatusUnauthorized, "SIGNATURE_INVALID", "Signature verification failed")

		return
	}

	claimedKey := ""

	if config.Dedupe != nil {
		key := r.Header.Get(config.DedupeHeader())
		if key == "" {
			// No idempotency header: fall back to the body digest so exact
			// replays are still caught.
			digest := sha256.Sum256(body)
			key = hex.EncodeToString(digest[:])
		}

		admitted, err := g.dedupe.AdmitOnce(ctx, triggerID, key, config.Dedupe.WindowSeconds)
		if err != nil {
			logger.Error("Dedupe store unavailable", "error", err)
			otelhelper.SetError(span, err)
			reject(http.StatusInternalServerError, "DEDUPE_UNAVAILABLE", "Error processing webhook")

			return
		}

		if !admitted {
			reject(http.StatusConflict, "DUPLICATE_DELIVERY", "Delivery already processed")

			return
		}

		claimedKey = key
	}

	payload, err := parsePayload(contentType, body)
	if err != nil {
		reject(http.StatusUnprocessableEntity, "MALFORMED_PAYLOAD", err.Error())

		return
	}

	if len(config.JSONSchema) > 0 {
		if err := validateJSONSchema(payload, config.JSONSchema); err != nil {
			reject(http.StatusUnprocessableEntity, "MALFORMED_PAYLOAD",
				fmt.Sprintf("Schema validation failed: %v", err))

			return
		}
	}

	event := events.NewTriggerEvent(
		registration.WorkflowID,
		registration.NodeID,
		models.TriggerTypeWebhook,
		events.TriggerSourceWebhook,
		payload,
	)

	if err := g.dispatcher.Dispatch(ctx, event); err != nil {
		logger.Error("Failed to dispatch trigger event", "error", err)
		otelhelper.SetError(span, err)

		// The delivery was never processed, so give the dedupe claim back
		// and let the sender retry with the same key.
		if claimedKey != "" {
			if releaseErr := g.dedupe.Release(ctx, triggerID, claimedKey); releaseErr != nil {
				logger.Error("Failed to release dedupe claim", "error", releaseErr)
			}
		}

		reject(http.StatusInternalServerError, "DISPATCH_FAILED", "Error processing webhook")

		return
	}

	logger.Info("Webhook admitted", "trigger_event_id", event.ID)

	span.SetAttributes(attribute.String(otelhelper.TriggerEventKey, event.ID))
	g.recordDelivery(ctx, registration, r.RemoteAddr, http.StatusAccepted, "", event.ID)

	g.writeJSON(w, http.StatusAccepted, map[string]any{
		"status":           "accepted",
		"trigger_event_id": event.ID,
	})
}

// recordDelivery appends one admission outcome to the delivery log. Failures
// are logged, never surfaced: the log is an observability aid, not part of the
// admission contract.
func (g *Gateway) recordDelivery(
	ctx context.Context,
	registration *registry.Registration,
	remoteAddr string,
	statusCode int,
	code, eventID string,
) {
	if g.deliveries == nil {
		return
	}

	outcome := models.DeliveryRejected
	if statusCode == http.StatusAccepted {
		outcome = models.DeliveryAccepted
	}

	delivery := &models.Delivery{
		ID:             uuid.New().String(),
		TriggerID:      registration.WorkflowID + "/" + registration.NodeID,
		WorkflowID:     registration.WorkflowID,
		NodeID:         registration.NodeID,
		Outcome:        outcome,
		Code:           code,
		HTTPStatus:     statusCode,
		TriggerEventID: eventID,
		RemoteAddr:     remoteAddr,
		ReceivedAt:     g.now().UTC(),
	}

	if err := g.deliveries.Save(ctx, delivery); err != nil {
		g.logger.Error("Failed to record delivery", "trigger_id", delivery.TriggerID, "error", err)
	}
}

// handleRotateSecret replaces the trigger's signing secret. The previous one
// keeps verifying until its grace window ends. The plaintext in the response
// is the only time it is ever shown.
func (g *Gateway) handleRotateSecret(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("workflowID")
	nodeID := r.PathValue("nodeID")

	registration, found := g.registry.MatchWebhook(workflowID, nodeID)
	if !found {
		g.writeError(w, http.StatusNotFound, "WEBHOOK_NOT_FOUND", "Webhook not found")

		return
	}

	config, ok := registration.Webhook()
	if !ok {
		g.writeError(w, http.StatusNotFound, "WEBHOOK_NOT_FOUND", "Webhook not found")

		return
	}

	triggerID := registration.WorkflowID + "/" + registration.NodeID
	grace := secrets.GraceWindow(time.Duration(config.Verify.ToleranceSeconds) * time.Second)

	issued, err := g.secrets.Rotate(r.Context(), triggerID, grace)
	if err != nil {
		g.logger.Error("Failed to rotate secret", "trigger_id", triggerID, "error", err)
		g.writeError(w, http.StatusInternalServerError, "ROTATION_FAILED", "Error rotating secret")

		return
	}

	plaintext, err := issued.Reveal()
	if err != nil {
		g.writeError(w, http.StatusInternalServerError, "ROTATION_FAILED", "Error rotating secret")

		return
	}

	g.writeJSON(w, http.StatusCreated, map[string]any{
		"secret_id":     issued.SecretID,
		"last4":         issued.Last4,
		"secret":        plaintext,
		"grace_seconds": int(grace.Seconds()),
	})
}

// timestampFresh checks the signed timestamp against the tolerance window in
// both directions, so neither replays nor future-dated requests pass.
func (g *Gateway) timestampFresh(raw string, toleranceSeconds int) bool {
	if raw == "" {
		return false
	}

	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}

	skew := g.now().UTC().Unix() - ts
	if skew < 0 {
		skew = -skew
	}

	return skew <= int64(toleranceSeconds)
}

func clientIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	return net.ParseIP(host)
}

func parsePayload(contentType string, body []byte) (map[string]any, error) {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(mediaType, ";"); idx >= 0 {
		mediaType = strings.TrimSpace(mediaType[:idx])
	}

	switch mediaType {
	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("invalid form payload: %w", err)
		}

		payload := make(map[string]any, len(values))
		for key := range values {
			payload[key] = values.Get(key)
		}

		return payload, nil
	default:
		if len(body) == 0 {
			return map[string]any{}, nil
		}

		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, errors.New("invalid JSON in request body")
		}

		return payload, nil
	}
}

func validateJSONSchema(payload map[string]any, schema map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(payload),
	)
	if err != nil {
		return err
	}

	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}

		return errors.New(strings.Join(descriptions, "; "))
	}

	return nil
}
