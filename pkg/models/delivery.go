package models

import "time"

// DeliveryOutcome is the terminal result of one webhook delivery attempt.
type DeliveryOutcome string

const (
	DeliveryAccepted DeliveryOutcome = "accepted"
	DeliveryRejected DeliveryOutcome = "rejected"
)

// Delivery is the per-request admission record surfaced in the builder's
// delivery log. One row per webhook request that reached a known endpoint,
// accepted or not.
type Delivery struct {
	ID             string          `json:"id"`
	TriggerID      string          `json:"trigger_id"`
	WorkflowID     string          `json:"workflow_id"`
	NodeID         string          `json:"node_id"`
	Outcome        DeliveryOutcome `json:"outcome"`
	Code           string          `json:"code,omitempty"`
	HTTPStatus     int             `json:"http_status"`
	TriggerEventID string          `json:"trigger_event_id,omitempty"`
	RemoteAddr     string          `json:"remote_addr,omitempty"`
	ReceivedAt     time.Time       `json:"received_at"`
}
