package telemetry

import "time"

// Event types emitted by the claim engine.
const (
	EventOTPIssued            = "otp.issued"
	EventOTPVerified          = "otp.verified"
	EventOTPDeliveryFailed    = "otp.delivery_failed"
	EventClaimInitiated       = "claim.initiated"
	EventClaimFinalized       = "claim.finalized"
	EventClaimExpired         = "claim.expired"
	EventSessionStarted       = "session.started"
	EventSessionEnded         = "session.ended"
	EventInvalidationRecorded = "invalidation.recorded"
	EventSweepCompleted       = "sweep.completed"
	EventAuditPersistFailed   = "audit.persist_failed"
	EventInvalidationFailed   = "invalidation.dispatch_failed"
)

// Event is a domain telemetry event. It carries identifiers only, never contact details or codes.
type Event struct {
	Type       string            `json:"type"`
	BuilderID  string            `json:"builderId,omitempty"`
	ClaimID    string            `json:"claimId,omitempty"`
	SessionID  string            `json:"sessionId,omitempty"`
	Source     string            `json:"source,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// NewEvent returns an event of the given type stamped with the current UTC time.
func NewEvent(eventType, source string) *Event {
	return &Event{Type: eventType, Source: source, Timestamp: time.Now().UTC()}
}

// With sets an attribute and returns e for chaining.
func (e *Event) With(key, value string) *Event {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}
