package event

// Type identifies the type of domain event
type Type string

const (
	TypeTransitionCompleted Type = "transition.completed"
	TypeTransitionFailed    Type = "transition.failed"
	TypeEffectApplied       Type = "effect.applied"
	TypeEffectFailed        Type = "effect.propagation_failed"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeTransitionCompleted,
		TypeTransitionFailed,
		TypeEffectApplied,
		TypeEffectFailed:
		return true
	default:
		return false
	}
}
