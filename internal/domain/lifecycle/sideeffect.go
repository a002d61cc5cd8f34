package lifecycle

import "time"

// SideEffectRule declaratively maps a transition on one entity type to a
// status mutation on linked entities. Compute is a pure function of the
// source entity after its transition: it returns the absolute target status
// for each linked entity, never an increment, so applying the same source
// transition twice yields the same linked state.
type SideEffectRule struct {
	// LinkedType is the entity type of the linked entities to update
	LinkedType string

	// Compute returns the target status for a linked entity given the source
	// entity's post-transition snapshot. Returning false skips the update.
	Compute func(source Entity, linked Entity) (State, bool)
}

// DerivedFunc computes status-specific derived fields written alongside the
// new status inside the execute transaction (closed-at timestamps, cure-period
// deadlines computed from entity severity).
type DerivedFunc func(now time.Time, e Entity, req TransitionRequest) map[string]any

// EffectFailure records a linked-entity update that could not be applied.
// Propagation is best-effort; failures never roll back the primary
// transition and are retried by the reconciliation worker.
type EffectFailure struct {
	ID            int64     `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	Source        Ref       `json:"source"`
	Target        Ref       `json:"target"`
	TargetState   State     `json:"target_state"`
	Reason        string    `json:"reason"`
	OccurredAt    time.Time `json:"occurred_at"`
	ResolvedAt    time.Time `json:"resolved_at,omitzero"`
}
