package lifecycle

import "context"

// Reader gives precondition guards read access to the current entity's
// related rows without exposing any write path.
type Reader interface {
	// Get loads an entity by type and id
	Get(ctx context.Context, entityType, entityID string) (*Entity, error)

	// ListLinked returns the entities of linkedType linked to the given entity
	ListLinked(ctx context.Context, entityType, entityID, linkedType string) ([]*Entity, error)
}

// EvalContext carries everything a precondition may inspect
type EvalContext struct {
	Entity  *Entity
	Request TransitionRequest
	Reader  Reader
}

// Verdict is a precondition's decision. A non-empty ResolvedState coerces the
// caller's requested target to the outcome implied by the business data (for
// example a vote tally overriding APPROVED/DENIED); the coerced state must
// still be a legal destination in the transition table.
type Verdict struct {
	Allowed       bool
	Detail        string
	ResolvedState State
}

// Allow accepts the transition as requested
func Allow() Verdict {
	return Verdict{Allowed: true}
}

// AllowAs accepts the transition but coerces the target state
func AllowAs(state State, detail string) Verdict {
	return Verdict{Allowed: true, ResolvedState: state, Detail: detail}
}

// Deny rejects the transition with a remediation detail
func Deny(detail string) Verdict {
	return Verdict{Allowed: false, Detail: detail}
}

// PreconditionFunc is a pure, side-effect-free guard evaluated before a
// transition is accepted. It may issue reads through the EvalContext but
// holds no write lock while doing so.
type PreconditionFunc func(ctx context.Context, ec *EvalContext) (Verdict, error)
