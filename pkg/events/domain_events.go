package events

// DomainEvent is an internal business event emitted by the CRM/booking
// collaborators (lead.created, client.checkin, form.submitted). Domain events
// reach the registry through the same dispatch pipeline as webhooks; the
// gateway-only admission checks (signature, dedupe, allowlist) do not apply
// because the emitters are trusted in-process collaborators.
type DomainEvent struct {
	BaseEvent

	FormID  string         `json:"form_id,omitempty"` // Set for form.submitted only
	Payload map[string]any `json:"payload"`
}

func (d DomainEvent) GetType() EventType {
	return d.Type
}

// NewLead builds a lead.created domain event.
func NewLead(payload map[string]any) DomainEvent {
	return DomainEvent{BaseEvent: NewBaseEvent(NewLeadEvent), Payload: payload}
}

// NewClientCheckin builds a client.checkin domain event.
func NewClientCheckin(payload map[string]any) DomainEvent {
	return DomainEvent{BaseEvent: NewBaseEvent(ClientCheckinEvent), Payload: payload}
}

// NewFormSubmitted builds a form.submitted domain event for one form.
func NewFormSubmitted(formID string, payload map[string]any) DomainEvent {
	return DomainEvent{BaseEvent: NewBaseEvent(FormSubmittedEvent), FormID: formID, Payload: payload}
}
