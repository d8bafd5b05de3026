package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/atlas-fitness/automations/pkg/events"
	"github.com/atlas-fitness/automations/pkg/eventbus"
	"github.com/atlas-fitness/automations/pkg/models"
	"github.com/atlas-fitness/automations/pkg/protocol"
	"github.com/atlas-fitness/automations/pkg/registry"
)

// DomainConsumer turns domain events (lead.created, client.checkin,
// form.submitted) into trigger events for every matching registration. Domain
// events come from trusted in-process collaborators, so the webhook admission
// checks do not apply here.
type DomainConsumer struct {
	registry   *registry.Registry
	dispatcher protocol.Dispatcher
	bus        eventbus.EventBus
	logger     *slog.Logger
}

func NewDomainConsumer(
	reg *registry.Registry,
	dispatcher protocol.Dispatcher,
	bus eventbus.EventBus,
	logger *slog.Logger,
) *DomainConsumer {
	return &DomainConsumer{
		registry:   reg,
		dispatcher: dispatcher,
		bus:        bus,
		logger:     logger.With("module", "domain_consumer"),
	}
}

// Start registers the handlers and begins consuming until ctx is cancelled.
func (c *DomainConsumer) Start(ctx context.Context) error {
	for _, eventType := range []events.EventType{
		events.NewLeadEvent,
		events.ClientCheckinEvent,
		events.FormSubmittedEvent,
	} {
		if err := c.bus.Handle(eventType, c.handle); err != nil {
			return err
		}
	}

	return c.bus.Subscribe(ctx)
}

func (c *DomainConsumer) handle(ctx context.Context, event any) error {
	domainEvent, ok := event.(*events.DomainEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	var matched []*registry.Registration

	switch domainEvent.Type {
	case events.NewLeadEvent:
		matched = c.registry.MatchDomain(models.TriggerTypeNewLead, domainEvent.Payload)
	case events.ClientCheckinEvent:
		matched = c.registry.MatchDomain(models.TriggerTypeClientCheckin, domainEvent.Payload)
	case events.FormSubmittedEvent:
		matched = c.registry.MatchForm(domainEvent.FormID)
	default:
		return fmt.Errorf("unexpected domain event type %q", domainEvent.Type)
	}

	if len(matched) == 0 {
		return nil
	}

	payload := domainEvent.Payload
	if domainEvent.FormID != "" {
		payload = withFormID(payload, domainEvent.FormID)
	}

	for _, registration := range matched {
		trigger := events.NewTriggerEvent(
			registration.WorkflowID,
			registration.NodeID,
			registration.Type,
			events.TriggerSourceDomain,
			payload,
		)

		if err := c.dispatcher.Dispatch(ctx, trigger); err != nil {
			return fmt.Errorf("failed to dispatch %s for workflow %s: %w",
				domainEvent.Type, registration.WorkflowID, err)
		}
	}

	c.logger.InfoContext(ctx, "Matched domain event",
		"event_type", domainEvent.Type, "matched", len(matched))

	return nil
}

func withFormID(payload map[string]any, formID string) map[string]any {
	enriched := make(map[string]any, len(payload)+1)
	for key, value := range payload {
		enriched[key] = value
	}

	enriched["form_id"] = formID

	return enriched
}
