package protocol

import (
	"context"

	"github.com/atlas-fitness/automations/pkg/events"
)

// Dispatcher receives fully admitted trigger events. The gateway, scheduler
// and domain-event consumer all hand off through this interface so the three
// intake paths converge on one execution contract.
type Dispatcher interface {
	Dispatch(ctx context.Context, event events.TriggerEvent) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, event events.TriggerEvent) error

func (f DispatcherFunc) Dispatch(ctx context.Context, event events.TriggerEvent) error {
	return f(ctx, event)
}

// CRMClient is the injected view onto the rest of the application. The engine
// never embeds CRM data shapes; anything an action needs to read or write
// about leads, clients or forms goes through here.
type CRMClient interface {
	// FormExists reports whether a builder form ID is known.
	FormExists(ctx context.Context, formID string) (bool, error)

	// RecordNote attaches a note to a lead or client record.
	RecordNote(ctx context.Context, subjectID, note string) error
}

// DomainEmitter is the sink collaborators use to hand domain events
// (lead.created, client.checkin, form.submitted) to the engine.
type DomainEmitter interface {
	Emit(ctx context.Context, event events.DomainEvent) error
}
