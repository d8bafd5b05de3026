// Package dispatch connects the intake paths to the event bus: admitted
// trigger events become workflow.triggered messages, and domain events from
// the rest of the platform are matched against the trigger registry.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/atlas-fitness/automations/pkg/events"
	"github.com/atlas-fitness/automations/pkg/eventbus"
	"github.com/atlas-fitness/automations/pkg/protocol"
)

// BusDispatcher publishes admitted trigger events as workflow.triggered
// messages, keyed by workflow so one workflow's firings stay ordered.
type BusDispatcher struct {
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewBusDispatcher(publisher eventbus.EventPublisher, logger *slog.Logger) *BusDispatcher {
	return &BusDispatcher{
		publisher: publisher,
		logger:    logger.With("module", "dispatcher"),
	}
}

func (d *BusDispatcher) Dispatch(ctx context.Context, event events.TriggerEvent) error {
	d.logger.InfoContext(ctx, "Dispatching trigger event",
		"trigger_event_id", event.ID, "workflow_id", event.WorkflowID,
		"trigger_type", event.TriggerType, "source", event.Source)

	return d.publisher.Publish(ctx, event.WorkflowID, events.WorkflowTriggered{
		BaseEvent:    events.NewBaseEvent(events.WorkflowTriggeredEvent),
		WorkflowID:   event.WorkflowID,
		TriggerEvent: event,
	})
}

// BusEmitter publishes domain events onto the bus. It is what the CRM and
// booking collaborators hold as their protocol.DomainEmitter.
type BusEmitter struct {
	publisher eventbus.EventPublisher
}

func NewBusEmitter(publisher eventbus.EventPublisher) *BusEmitter {
	return &BusEmitter{publisher: publisher}
}

func (e *BusEmitter) Emit(ctx context.Context, event events.DomainEvent) error {
	return e.publisher.Publish(ctx, string(event.Type), event)
}

var (
	_ protocol.Dispatcher    = (*BusDispatcher)(nil)
	_ protocol.DomainEmitter = (*BusEmitter)(nil)
)
