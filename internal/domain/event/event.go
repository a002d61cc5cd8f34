package event

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a "transition occurred" domain event handed to the
// notification dispatcher. Delivery is best-effort and happens outside the
// transition's atomic boundary.
type Event struct {
	ID            string         `json:"id"`
	Type          Type           `json:"type"`
	EntityType    string         `json:"entity_type"`
	EntityID      string         `json:"entity_id"`
	CorrelationID string         `json:"correlation_id"`
	Payload       map[string]any `json:"payload"`
	Timestamp     time.Time      `json:"timestamp"`
}

// New creates a domain event with an auto-generated id, linked to the
// originating request's correlation id
func New(eventType Type, entityType, entityID, correlationID string, payload map[string]any) *Event {
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		EntityType:    entityType,
		EntityID:      entityID,
		CorrelationID: correlationID,
		Payload:       payload,
		Timestamp:     time.Now(),
	}
}

// WithPayload returns a copy of the event with an added payload entry
func (e *Event) WithPayload(key string, value any) *Event {
	newPayload := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	clone := *e
	clone.Payload = newPayload
	return &clone
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadBool retrieves a bool value from the payload
func (e *Event) GetPayloadBool(key string) bool {
	if val, ok := e.Payload[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}
