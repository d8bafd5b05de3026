package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"
)

// TriggerType enumerates the closed set of supported trigger kinds. An
// unrecognized type is rejected at registration time, never at dispatch.
type TriggerType string

const (
	TriggerTypeWebhook       TriggerType = "webhook"
	TriggerTypeFormSubmitted TriggerType = "form_submitted"
	TriggerTypeSchedule      TriggerType = "schedule"
	TriggerTypeNewLead       TriggerType = "new_lead"
	TriggerTypeClientCheckin TriggerType = "client_checkin"
)

var (
	ErrUnknownTriggerType = errors.New("unknown trigger type")

	ErrToleranceOutOfRange = errors.New("tolerance_seconds must be between 30 and 600")
	ErrWindowOutOfRange    = errors.New("window_seconds must be between 60 and 3600")
	ErrNoContentTypes      = errors.New("at least one content type is required")
	ErrNoFormIDs           = errors.New("form_submitted trigger requires at least one form ID")
)

// Default webhook verification headers, overridable per trigger.
const (
	DefaultSignatureHeader = "X-Atlas-Signature"
	DefaultTimestampHeader = "X-Atlas-Timestamp"
	DefaultDedupeHeader    = "X-Request-ID"
	SignatureAlgorithm     = "hmac-sha256"
)

// TriggerConfig is the tagged union decoded from a trigger node's config map.
type TriggerConfig interface {
	TriggerType() TriggerType
	Validate() error
}

// VerifySettings describes how webhook signatures are checked.
type VerifySettings struct {
	Algorithm        string `json:"algorithm,omitempty"`
	SignatureHeader  string `json:"signature_header,omitempty"`
	TimestampHeader  string `json:"timestamp_header,omitempty"`
	ToleranceSeconds int    `json:"tolerance_seconds"`
}

// DedupeSettings enables idempotency-key rejection of replayed deliveries.
// When absent from the config, the gateway skips the dedupe store entirely.
type DedupeSettings struct {
	Header        string `json:"header,omitempty"`
	WindowSeconds int    `json:"window_seconds"`
}

// WebhookTriggerConfig configures an HTTP intake endpoint. The endpoint path
// itself is derived from workflow and node IDs, never stored. The full secret
// is held by the secret manager; only its ID and display suffix live here.
type WebhookTriggerConfig struct {
	SecretID     string          `json:"secret_id"`
	SecretLast4  string          `json:"secret_last4,omitempty"`
	Verify       VerifySettings  `json:"verify"`
	ContentTypes []string        `json:"content_types"`
	IPAllowlist  []string        `json:"ip_allowlist,omitempty"`
	Dedupe       *DedupeSettings `json:"dedupe,omitempty"`
	JSONSchema   map[string]any  `json:"json_schema,omitempty"`
	Paused       bool            `json:"paused"`
	Active       bool            `json:"active"`
}

func (c *WebhookTriggerConfig) TriggerType() TriggerType { return TriggerTypeWebhook }

func (c *WebhookTriggerConfig) Validate() error {
	if c.Verify.Algorithm != "" && c.Verify.Algorithm != SignatureAlgorithm {
		return fmt.Errorf("unsupported signature algorithm %q", c.Verify.Algorithm)
	}

	if c.Verify.ToleranceSeconds < 30 || c.Verify.ToleranceSeconds > 600 {
		return ErrToleranceOutOfRange
	}

	if len(c.ContentTypes) == 0 {
		return ErrNoContentTypes
	}

	if c.Dedupe != nil {
		if c.Dedupe.WindowSeconds < 60 || c.Dedupe.WindowSeconds > 3600 {
			return ErrWindowOutOfRange
		}
	}

	for _, entry := range c.IPAllowlist {
		if err := validateAllowlistEntry(entry); err != nil {
			return err
		}
	}

	return nil
}

// SignatureHeader returns the configured header or the Atlas default.
func (c *WebhookTriggerConfig) SignatureHeader() string {
	if c.Verify.SignatureHeader != "" {
		return c.Verify.SignatureHeader
	}

	return DefaultSignatureHeader
}

// TimestampHeader returns the configured header or the Atlas default.
func (c *WebhookTriggerConfig) TimestampHeader() string {
	if c.Verify.TimestampHeader != "" {
		return c.Verify.TimestampHeader
	}

	return DefaultTimestampHeader
}

// DedupeHeader returns the configured idempotency header or the default.
func (c *WebhookTriggerConfig) DedupeHeader() string {
	if c.Dedupe != nil && c.Dedupe.Header != "" {
		return c.Dedupe.Header
	}

	return DefaultDedupeHeader
}

// AcceptsContentType reports whether the request content type (with or
// without parameters like charset) is configured for this trigger.
func (c *WebhookTriggerConfig) AcceptsContentType(contentType string) bool {
	mediaType := strings.TrimSpace(strings.ToLower(contentType))
	if idx := strings.Index(mediaType, ";"); idx >= 0 {
		mediaType = strings.TrimSpace(mediaType[:idx])
	}

	for _, accepted := range c.ContentTypes {
		if strings.EqualFold(strings.TrimSpace(accepted), mediaType) {
			return true
		}
	}

	return false
}

// AllowsIP reports whether the source address passes the allowlist. An empty
// allowlist admits every source.
func (c *WebhookTriggerConfig) AllowsIP(addr net.IP) bool {
	if len(c.IPAllowlist) == 0 {
		return true
	}

	for _, entry := range c.IPAllowlist {
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err == nil && network.Contains(addr) {
				return true
			}

			continue
		}

		if ip := net.ParseIP(entry); ip != nil && ip.Equal(addr) {
			return true
		}
	}

	return false
}

func validateAllowlistEntry(entry string) error {
	if strings.Contains(entry, "/") {
		if _, _, err := net.ParseCIDR(entry); err != nil {
			return fmt.Errorf("invalid CIDR %q in ip_allowlist: %w", entry, err)
		}

		return nil
	}

	if net.ParseIP(entry) == nil {
		return fmt.Errorf("invalid IP %q in ip_allowlist", entry)
	}

	return nil
}

// FormSubmittedTriggerConfig fires when one of the watched forms is submitted.
type FormSubmittedTriggerConfig struct {
	FormIDs []string `json:"form_ids"`
}

func (c *FormSubmittedTriggerConfig) TriggerType() TriggerType { return TriggerTypeFormSubmitted }

func (c *FormSubmittedTriggerConfig) Validate() error {
	if len(c.FormIDs) == 0 {
		return ErrNoFormIDs
	}

	return nil
}

// WatchesForm reports whether the trigger watches the given form.
func (c *FormSubmittedTriggerConfig) WatchesForm(formID string) bool {
	for _, id := range c.FormIDs {
		if id == formID {
			return true
		}
	}

	return false
}

// ScheduleTriggerConfig fires on a cron cadence (standard 5-field format).
type ScheduleTriggerConfig struct {
	Cron string `json:"cron"`
}

func (c *ScheduleTriggerConfig) TriggerType() TriggerType { return TriggerTypeSchedule }

func (c *ScheduleTriggerConfig) Validate() error {
	if c.Cron == "" {
		return errors.New("schedule trigger requires a cron expression")
	}

	if _, err := cron.ParseStandard(c.Cron); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", c.Cron, err)
	}

	return nil
}

// NewLeadTriggerConfig fires on every new_lead domain event, optionally
// narrowed by equality filters on the event payload.
type NewLeadTriggerConfig struct {
	Filters map[string]any `json:"filters,omitempty"`
}

func (c *NewLeadTriggerConfig) TriggerType() TriggerType { return TriggerTypeNewLead }

func (c *NewLeadTriggerConfig) Validate() error { return nil }

// ClientCheckinTriggerConfig fires on every client_checkin domain event,
// optionally narrowed by equality filters on the event payload.
type ClientCheckinTriggerConfig struct {
	Filters map[string]any `json:"filters,omitempty"`
}

func (c *ClientCheckinTriggerConfig) TriggerType() TriggerType { return TriggerTypeClientCheckin }

func (c *ClientCheckinTriggerConfig) Validate() error { return nil }

// ParseTriggerConfig decodes and validates a trigger node's config map into
// its typed variant. Unknown trigger types are a configuration error.
func ParseTriggerConfig(node *Node) (TriggerConfig, error) {
	if !node.IsTriggerNode() {
		return nil, fmt.Errorf("node %q is not a trigger node", node.ID)
	}

	var config TriggerConfig

	switch node.TriggerType {
	case TriggerTypeWebhook:
		config = &WebhookTriggerConfig{}
	case TriggerTypeFormSubmitted:
		config = &FormSubmittedTriggerConfig{}
	case TriggerTypeSchedule:
		config = &ScheduleTriggerConfig{}
	case TriggerTypeNewLead:
		config = &NewLeadTriggerConfig{}
	case TriggerTypeClientCheckin:
		config = &ClientCheckinTriggerConfig{}
	default:
		return nil, fmt.Errorf("%w: %q on node %q", ErrUnknownTriggerType, node.TriggerType, node.ID)
	}

	raw, err := json.Marshal(node.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config for node %q: %w", node.ID, err)
	}

	if err := json.Unmarshal(raw, config); err != nil {
		return nil, fmt.Errorf("failed to decode %s config for node %q: %w", node.TriggerType, node.ID, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s config for node %q: %w", node.TriggerType, node.ID, err)
	}

	return config, nil
}
