// Package events defines the event types flowing between the gateway,
// scheduler, registry and workers.
package events

import (
	"time"

	"github.com/atlas-fitness/automations/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Kafka topics.
const Topic = "atlas.automations.events"             // Engine lifecycle events
const DomainTopic = "atlas.automations.domain"       // CRM/booking domain events
const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Engine lifecycle events.
	WorkflowTriggeredEvent          EventType = "workflow.triggered"
	WorkflowExecutionStartedEvent   EventType = "workflow.execution.started"
	WorkflowExecutionCompletedEvent EventType = "workflow.execution.completed"
	NodeExecutionFinishedEvent      EventType = "node.execution.finished"
	NodeExecutionFailedEvent        EventType = "node.execution.failed"

	// Domain events emitted by the CRM/booking collaborators.
	NewLeadEvent       EventType = "lead.created"
	ClientCheckinEvent EventType = "client.checkin"
	FormSubmittedEvent EventType = "form.submitted"
)

// TriggerSource identifies which intake path produced a trigger event.
type TriggerSource string

const (
	TriggerSourceWebhook  TriggerSource = "webhook"
	TriggerSourceSchedule TriggerSource = "schedule"
	TriggerSourceDomain   TriggerSource = "domain"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

// Event is implemented by everything published on the bus.
type Event interface {
	GetType() EventType
}

// TriggerEvent is one admitted firing, constructed per admission and consumed
// by the execution coordinator. It is ephemeral: nothing beyond the execution
// trace persists it.
type TriggerEvent struct {
	ID            string             `json:"id"`
	WorkflowID    string             `json:"workflow_id"`
	TriggerNodeID string             `json:"trigger_node_id"`
	TriggerType   models.TriggerType `json:"trigger_type"`
	Source        TriggerSource      `json:"source"`
	Payload       map[string]any     `json:"payload"`
	ReceivedAt    time.Time          `json:"received_at"`
}

// NewTriggerEvent builds a trigger event for one admitted firing.
func NewTriggerEvent(workflowID, triggerNodeID string, triggerType models.TriggerType, source TriggerSource, payload map[string]any) TriggerEvent {
	return TriggerEvent{
		ID:            uuid.New().String(),
		WorkflowID:    workflowID,
		TriggerNodeID: triggerNodeID,
		TriggerType:   triggerType,
		Source:        source,
		Payload:       payload,
		ReceivedAt:    time.Now().UTC(),
	}
}

// WorkflowTriggered is published by the gateway/scheduler once a trigger event
// has matched a workflow; workers consume it and start an execution.
type WorkflowTriggered struct {
	BaseEvent

	WorkflowID   string       `json:"workflow_id"`
	TriggerEvent TriggerEvent `json:"trigger_event"`
}

func (w WorkflowTriggered) GetType() EventType {
	return WorkflowTriggeredEvent
}

type WorkflowExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
}

func (w WorkflowExecutionStarted) GetType() EventType {
	return WorkflowExecutionStartedEvent
}

type WorkflowExecutionCompleted struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      models.ExecutionStatus `json:"status"`
	Duration    time.Duration          `json:"duration"`
}

func (w WorkflowExecutionCompleted) GetType() EventType {
	return WorkflowExecutionCompletedEvent
}

type NodeExecutionFinished struct {
	BaseEvent

	ExecutionID string            `json:"execution_id"`
	WorkflowID  string            `json:"workflow_id"`
	NodeID      string            `json:"node_id"`
	Status      models.NodeStatus `json:"status"`
	Attempts    int               `json:"attempts"`
}

func (n NodeExecutionFinished) GetType() EventType {
	return NodeExecutionFinishedEvent
}

type NodeExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	NodeID      string `json:"node_id"`
	Attempts    int    `json:"attempts"`
	Error       string `json:"error"`
}

func (n NodeExecutionFailed) GetType() EventType {
	return NodeExecutionFailedEvent
}
