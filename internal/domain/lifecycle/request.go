package lifecycle

import "time"

// TransitionRequest asks the engine to move one entity to a new state.
// FromStateExpected, when set, is the client's expected current state and is
// used for optimistic-concurrency detection; the authoritative check happens
// again inside the execute transaction.
type TransitionRequest struct {
	EntityType        string         `json:"entity_type"`
	EntityID          string         `json:"entity_id"`
	OrganizationID    string         `json:"organization_id"`
	FromStateExpected State          `json:"from_state_expected,omitempty"`
	ToState           State          `json:"to_state"`
	ActorID           string         `json:"actor_id"`
	Notes             string         `json:"notes,omitempty"`
	Payload           map[string]any `json:"payload,omitempty"`
}

// TransitionRecord is one immutable row of an entity's audit history.
// Ordering by OccurredAt then insertion sequence defines the authoritative
// history; records are never updated or deleted.
type TransitionRecord struct {
	Seq        int64     `json:"seq"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	FromState  State     `json:"from_state"`
	ToState    State     `json:"to_state"`
	ActorID    string    `json:"actor_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Notes      string    `json:"notes,omitempty"`
}

// TransitionOutcome is the result of a completed transition, also the payload
// recorded on the terminal checkpoint and replayed on duplicate submission.
type TransitionOutcome struct {
	CorrelationID string         `json:"correlation_id"`
	EntityType    string         `json:"entity_type"`
	EntityID      string         `json:"entity_id"`
	FromState     State          `json:"from_state"`
	ToState       State          `json:"to_state"`
	DerivedFields map[string]any `json:"derived_fields,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
	CompletedAt   time.Time      `json:"completed_at"`
	Replayed      bool           `json:"replayed,omitempty"`
}

// Checkpoint is one durably recorded completion marker for an orchestrator
// step, keyed by the caller-supplied correlation id. Checkpoints for a single
// correlation id are strictly ordered and never mutated retroactively.
type Checkpoint struct {
	CorrelationID string         `json:"correlation_id"`
	Step          Step           `json:"step"`
	Seq           int64          `json:"seq"`
	Payload       map[string]any `json:"payload,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
