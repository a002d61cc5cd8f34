package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/steadyrow/caseflow/internal/application/port"
	"github.com/steadyrow/caseflow/internal/domain/lifecycle"
)

// Validation is the result of a successful validate step: the entity snapshot
// validated against and the resolved target state (which may differ from the
// request when a precondition coerced it).
type Validation struct {
	Entity *lifecycle.Entity
	From   lifecycle.State
	To     lifecycle.State
}

// Validator checks a transition request against the registered table and
// precondition guards. It holds no write lock; the authoritative state check
// is repeated inside the execute transaction.
type Validator struct {
	registry *Registry
	entities port.EntityStore
	logger   *zap.Logger
}

// NewValidator creates a validator over the given registry and entity store
func NewValidator(registry *Registry, entities port.EntityStore, logger *zap.Logger) *Validator {
	return &Validator{
		registry: registry,
		entities: entities,
		logger:   logger,
	}
}

// Validate returns a Validation when the transition is acceptable, a
// lifecycle.Rejection when it is refused, or a plain error on infrastructure
// failure. Precondition failures are terminal for the request: no state
// change, no history entry, no side effects.
func (v *Validator) Validate(ctx context.Context, req lifecycle.TransitionRequest) (*Validation, error) {
	table, err := v.registry.Table(req.EntityType)
	if err != nil {
		return nil, err
	}

	e, err := v.entities.Get(ctx, req.EntityType, req.EntityID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrUnknownEntity) {
			return nil, lifecycle.NewRejection(lifecycle.ErrUnknownEntity, "", req.ToState,
				fmt.Sprintf("%s/%s", req.EntityType, req.EntityID))
		}
		return nil, err
	}

	// Compare-only check against the caller's expected state. This is not a
	// lock; the execute transaction re-checks atomically.
	if req.FromStateExpected != "" && e.Status != req.FromStateExpected {
		v.logger.Debug("expected state mismatch at validation",
			zap.String("entity_type", req.EntityType),
			zap.String("entity_id", req.EntityID),
			zap.String("expected", req.FromStateExpected.String()),
			zap.String("actual", e.Status.String()))
		return nil, lifecycle.NewRejection(lifecycle.ErrConcurrentModification, e.Status, req.ToState,
			fmt.Sprintf("expected current state %s, found %s", req.FromStateExpected, e.Status))
	}

	if !table.Allows(e.Status, req.ToState) {
		return nil, lifecycle.NewRejection(lifecycle.ErrInvalidTransition, e.Status, req.ToState, "")
	}

	resolved := req.ToState
	ec := &lifecycle.EvalContext{Entity: e, Request: req, Reader: v.entities}
	for _, guard := range v.registry.Preconditions(req.EntityType, req.ToState) {
		verdict, err := guard(ctx, ec)
		if err != nil {
			return nil, err
		}
		if !verdict.Allowed {
			return nil, lifecycle.NewRejection(lifecycle.ErrPreconditionFailed, e.Status, req.ToState, verdict.Detail)
		}
		if verdict.ResolvedState != "" && verdict.ResolvedState != resolved {
			// A guard coerced the target to the outcome implied by the
			// business data. The coerced state must still be legal.
			if !table.Allows(e.Status, verdict.ResolvedState) {
				return nil, lifecycle.NewRejection(lifecycle.ErrInvalidTransition, e.Status, verdict.ResolvedState,
					fmt.Sprintf("coerced from %s: %s", req.ToState, verdict.Detail))
			}
			v.logger.Info("target state coerced by precondition",
				zap.String("entity_type", req.EntityType),
				zap.String("entity_id", req.EntityID),
				zap.String("requested", req.ToState.String()),
				zap.String("resolved", verdict.ResolvedState.String()),
				zap.String("detail", verdict.Detail))
			resolved = verdict.ResolvedState
		}
	}

	return &Validation{Entity: e, From: e.Status, To: resolved}, nil
}
