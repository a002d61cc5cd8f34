package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownEntity is returned when the entity id cannot be found
	ErrUnknownEntity = errors.New("entity not found")

	// ErrUnknownEntityType is returned when no transition table is registered
	// for the requested entity type
	ErrUnknownEntityType = errors.New("entity type not registered")

	// ErrInvalidTransition is returned when the requested transition is not
	// present in the entity type's table
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrPreconditionFailed is returned when a business guard rejects the
	// transition
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrConcurrentModification is returned when the entity's state changed
	// between validation and execution, or no longer matches the caller's
	// expected state. Expected under contention; the caller should re-fetch
	// and resubmit.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// Rejection is a structured validation or execution refusal. It wraps one of
// the sentinel errors above so callers can branch with errors.Is.
type Rejection struct {
	Reason error
	From   State
	To     State
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail != "" {
		return fmt.Sprintf("%v: %s", r.Reason, r.Detail)
	}
	if r.From != "" || r.To != "" {
		return fmt.Sprintf("%v: %s -> %s", r.Reason, r.From, r.To)
	}
	return r.Reason.Error()
}

func (r *Rejection) Unwrap() error {
	return r.Reason
}

// NewRejection builds a Rejection wrapping the given sentinel reason
func NewRejection(reason error, from, to State, detail string) *Rejection {
	return &Rejection{Reason: reason, From: from, To: to, Detail: detail}
}

// IsRejection reports whether err is a structured rejection, as opposed to an
// infrastructure failure that may be retried under the same correlation id.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}
